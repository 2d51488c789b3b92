package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/genloop/core"
	"github.com/hupe1980/genloop/model"
	"github.com/hupe1980/genloop/tool"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want core.Kind
	}{
		{"category rate limited", &model.APIError{Category: model.CategoryRateLimited}, core.KindRateLimited},
		{"category blocked", &model.APIError{Category: model.CategoryBlocked}, core.KindContentBlocked},
		{"status 403", &model.APIError{StatusCode: 403}, core.KindAuth},
		{"status 504", fmt.Errorf("generate: %w", &model.APIError{StatusCode: 504}), core.KindTimeout},
		{"provider status", &model.APIError{Status: "RESOURCE_EXHAUSTED"}, core.KindRateLimited},
		{"unknown api error falls back to message", &model.APIError{Message: "finish_reason: SAFETY"}, core.KindContentBlocked},
		{"deadline", context.DeadlineExceeded, core.KindTimeout},
		{"quota message", errors.New("Quota exceeded for project"), core.KindRateLimited},
		{"api key message", errors.New("API key not valid"), core.KindAuth},
		{"timeout message", errors.New("upstream timeout"), core.KindTimeout},
		{"tool server", fmt.Errorf("dial: %w", tool.ErrUnavailable), core.KindToolServerUnavailable},
		{"other", errors.New("boom"), core.KindModel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.Equal(t, tt.want, got.Kind)
			assert.NotEmpty(t, got.Message)
			assert.Equal(t, tt.err.Error(), got.Detail)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestClassify_Idempotent(t *testing.T) {
	first := Classify(errors.New("429 Too Many Requests"))
	assert.Same(t, first, Classify(first))
	assert.Same(t, first, Classify(fmt.Errorf("wrapped: %w", first)))
	assert.Nil(t, Classify(nil))
}

func TestClassify_AuthReportsConfiguration(t *testing.T) {
	got := Classify(&model.APIError{StatusCode: 401})
	assert.Equal(t, core.KindAuth, got.Kind)
	assert.Equal(t, msgConfiguration, got.Message)
}
