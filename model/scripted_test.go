package model

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/genloop/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptedModel_ReplaysInOrder(t *testing.T) {
	boom := errors.New("boom")
	m := NewScriptedModel(Reply(core.TextPart{Text: "one"}), Fail(boom))

	resp, err := m.Generate(context.Background(), Request{Contents: []core.Content{core.NewTextContent(core.RoleUser, "hi")}})
	require.NoError(t, err)
	assert.Equal(t, core.TextPart{Text: "one"}, resp.Content.Parts[0])

	_, err = m.Generate(context.Background(), Request{})
	assert.ErrorIs(t, err, boom)

	_, err = m.Generate(context.Background(), Request{})
	assert.Error(t, err)
	assert.Equal(t, 3, m.Calls())
}

func TestScriptedModel_FallbackAndRecordedRequests(t *testing.T) {
	m := NewScriptedModel().WithFallback(func(req Request) (*Response, error) {
		return Reply(core.TextPart{Text: req.SystemInstruction}).Response, nil
	})
	resp, err := m.Generate(context.Background(), Request{SystemInstruction: "sys"})
	require.NoError(t, err)
	assert.Equal(t, core.TextPart{Text: "sys"}, resp.Content.Parts[0])
	assert.Equal(t, "sys", m.Requests()[0].SystemInstruction)
}

func TestScriptedModel_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewScriptedModel(Reply(core.TextPart{Text: "x"})).Generate(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAPIError_Message(t *testing.T) {
	err := &APIError{Provider: "gemini", StatusCode: 429, Status: "RESOURCE_EXHAUSTED", Message: "quota"}
	assert.Equal(t, "gemini api error 429 RESOURCE_EXHAUSTED: quota", err.Error())

	cause := errors.New("socket closed")
	wrapped := &APIError{Provider: "openai", Err: cause}
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, "openai api error: socket closed", wrapped.Error())
}
