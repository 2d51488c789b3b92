package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/hupe1980/genloop/core"
	"github.com/hupe1980/genloop/engine"
	"github.com/hupe1980/genloop/session"
)

// Kinds reported by the transport itself, next to core.Kind values.
const (
	kindNotFound     = "not_found"
	kindUnauthorized = "unauthorized"
	kindTooLarge     = "request_too_large"
)

type errorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind"`
	Details string `json:"details,omitempty"`
}

// statusFor maps a failure onto the HTTP status and body sent to the client.
func statusFor(err error) (int, errorResponse) {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorResponse{Error: "unauthorized", Kind: kindUnauthorized}
	case errors.Is(err, session.ErrSelectionNotFound):
		return http.StatusNotFound, errorResponse{Error: err.Error(), Kind: kindNotFound}
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge, errorResponse{
			Error: fmt.Sprintf("request body exceeds %d bytes", maxBytesErr.Limit),
			Kind:  kindTooLarge,
		}
	}

	ce := engine.Classify(err)
	body := errorResponse{Error: ce.Message, Kind: string(ce.Kind), Details: ce.Detail}

	switch ce.Kind {
	case core.KindValidation, core.KindContentBlocked:
		return http.StatusBadRequest, body
	case core.KindRateLimited:
		return http.StatusTooManyRequests, body
	case core.KindTimeout:
		return http.StatusGatewayTimeout, body
	default:
		return http.StatusInternalServerError, body
	}
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, body := statusFor(err)
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSONBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return core.ValidationErrorf("request body is required")
	}

	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return core.ValidationErrorf("request body is required")
		}
		return &core.Error{Kind: core.KindValidation, Message: "request body could not be parsed", Detail: err.Error(), Err: err}
	}

	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return core.ValidationErrorf("request body must contain exactly one JSON object")
	}
	return nil
}
