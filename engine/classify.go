package engine

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/hupe1980/genloop/core"
	"github.com/hupe1980/genloop/model"
	"github.com/hupe1980/genloop/tool"
)

// User-facing messages per error kind.
const (
	msgConfiguration = "The service is misconfigured. Please contact the administrator."
	msgRateLimited   = "Too many requests. Please wait a moment and try again."
	msgBlocked       = "The request was refused by the content policy. Please rephrase it and try again."
	msgTimeout       = "The request timed out. Please try again."
	msgModel         = "Image generation failed. Please try again later."
	msgToolServer    = "The tool server is not configured."
	msgCancelled     = "The request was cancelled."
)

// Classify maps err onto the caller-facing taxonomy. An error that is already
// a *core.Error is returned as is, so classification happens exactly once.
// Provider errors are judged by their structured signals first (category,
// HTTP status, provider status) and by message content only as a fallback.
func Classify(err error) *core.Error {
	if err == nil {
		return nil
	}

	var classified *core.Error
	if errors.As(err, &classified) {
		return classified
	}

	if errors.Is(err, tool.ErrUnavailable) {
		return core.NewError(core.KindToolServerUnavailable, msgToolServer, err)
	}

	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		if kind, ok := kindOfAPIError(apiErr); ok {
			return core.NewError(kind, message(kind), err)
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return core.NewError(core.KindTimeout, msgTimeout, err)
	case errors.Is(err, context.Canceled):
		return core.NewError(core.KindModel, msgCancelled, err)
	}

	kind := kindOfMessage(err.Error())
	return core.NewError(kind, message(kind), err)
}

func kindOfAPIError(e *model.APIError) (core.Kind, bool) {
	switch e.Category {
	case model.CategoryRateLimited:
		return core.KindRateLimited, true
	case model.CategoryBlocked:
		return core.KindContentBlocked, true
	case model.CategoryTimeout:
		return core.KindTimeout, true
	case model.CategoryAuth:
		return core.KindAuth, true
	}

	switch e.StatusCode {
	case http.StatusTooManyRequests:
		return core.KindRateLimited, true
	case http.StatusUnauthorized, http.StatusForbidden:
		return core.KindAuth, true
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return core.KindTimeout, true
	}

	switch strings.ToUpper(e.Status) {
	case "RESOURCE_EXHAUSTED":
		return core.KindRateLimited, true
	case "SAFETY", "PROHIBITED_CONTENT", "BLOCKLIST", "IMAGE_SAFETY":
		return core.KindContentBlocked, true
	case "DEADLINE_EXCEEDED":
		return core.KindTimeout, true
	case "PERMISSION_DENIED", "UNAUTHENTICATED":
		return core.KindAuth, true
	}
	return "", false
}

// kindOfMessage applies the substring signals used when a failure carries no
// structured status.
func kindOfMessage(msg string) core.Kind {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "429") || strings.Contains(lower, "rate limit") || strings.Contains(lower, "quota"):
		return core.KindRateLimited
	case strings.Contains(lower, "safety") || strings.Contains(lower, "blocked"):
		return core.KindContentBlocked
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline"):
		return core.KindTimeout
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(lower, "api key"):
		return core.KindAuth
	default:
		return core.KindModel
	}
}

func message(kind core.Kind) string {
	switch kind {
	case core.KindRateLimited:
		return msgRateLimited
	case core.KindContentBlocked:
		return msgBlocked
	case core.KindTimeout:
		return msgTimeout
	case core.KindAuth, core.KindConfiguration:
		return msgConfiguration
	case core.KindToolServerUnavailable:
		return msgToolServer
	default:
		return msgModel
	}
}
