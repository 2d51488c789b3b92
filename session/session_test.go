package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/genloop/core"
	"github.com/hupe1980/genloop/model"
)

func text(s string) core.Part { return core.TextPart{Text: s} }

func TestSession_SendAppendsBothTurns(t *testing.T) {
	m := model.NewScriptedModel(model.Reply(text("hello back")))
	s := New(m, nil, func(o *Options) {
		o.Instruction = "You are {{.name}}."
		o.InstructionVars = map[string]any{"name": "an illustrator"}
	})

	resp, err := s.Send(context.Background(), text("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello back", resp.Content.Parts[0].(core.TextPart).Text)

	history := s.History()
	require.Len(t, history, 2)
	assert.Equal(t, core.RoleUser, history[0].Role)
	assert.Equal(t, core.RoleModel, history[1].Role)

	reqs := m.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "You are an illustrator.", reqs[0].SystemInstruction)
	assert.Len(t, reqs[0].Contents, 1)
}

func TestSession_RollsBackOnModelError(t *testing.T) {
	prior := core.History{
		core.NewTextContent(core.RoleUser, "earlier"),
		core.NewTextContent(core.RoleModel, "sure"),
	}
	m := model.NewScriptedModel(model.Fail(errors.New("quota exceeded")))
	s := New(m, prior)

	_, err := s.Send(context.Background(), text("again"))
	require.Error(t, err)
	assert.Equal(t, prior, s.History())
}

func TestSession_RejectsEmptyModelTurn(t *testing.T) {
	m := model.NewScriptedModel(model.Reply(core.TextPart{Text: "thinking", Thought: true}))
	s := New(m, nil)

	_, err := s.Send(context.Background(), text("hi"))
	assert.ErrorIs(t, err, core.ErrEmptyModelTurn)
	assert.Empty(t, s.History())
}

func TestSession_RejectsEmptyUserTurn(t *testing.T) {
	m := model.NewScriptedModel()
	s := New(m, nil)

	_, err := s.Send(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 0, m.Calls())
}

func TestSession_WindowsPriorHistoryOnly(t *testing.T) {
	var prior core.History
	for i := 0; i < 5; i++ {
		prior = append(prior, core.NewTextContent(core.RoleUser, "q"), core.NewTextContent(core.RoleModel, "a"))
	}
	call := core.FunctionCallPart{FunctionCall: core.FunctionCall{Name: "search", Args: map[string]any{}}}
	m := model.NewScriptedModel(
		model.Reply(call),
		model.Reply(call),
		model.Reply(text("done")),
	)
	s := New(m, prior, func(o *Options) { o.MaxHistoryTurns = 2 })

	_, err := s.Send(context.Background(), text("new ask"))
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = s.Send(context.Background(), core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{Name: "search"}})
		require.NoError(t, err)
	}

	reqs := m.Requests()
	require.Len(t, reqs, 3)
	assert.Len(t, reqs[0].Contents, 3, "two prior turns plus the new ask")
	assert.Len(t, reqs[2].Contents, 7, "run turns are never windowed")
	assert.Len(t, s.History(), 16)
}

func TestSession_Timeout(t *testing.T) {
	m := model.NewScriptedModel().WithFallback(func(model.Request) (*model.Response, error) {
		return nil, context.DeadlineExceeded
	})
	s := New(m, nil, func(o *Options) { o.Timeout = time.Millisecond })

	_, err := s.Send(context.Background(), text("slow"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, s.History())
}

func TestSession_AttachToLatestUserTurn(t *testing.T) {
	call := core.FunctionCallPart{FunctionCall: core.FunctionCall{Name: "search", Args: map[string]any{}}}
	m := model.NewScriptedModel(model.Reply(call), model.Reply(text("ok")))
	s := New(m, nil)

	assert.False(t, s.AttachToLatestUserTurn(text("nowhere")))

	_, err := s.Send(context.Background(), text("draw a cat"))
	require.NoError(t, err)
	_, err = s.Send(context.Background(), core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{Name: "search"}})
	require.NoError(t, err)

	ref := core.FilePart{URI: "https://img.example/cat.png", MimeType: "image/png"}
	require.True(t, s.AttachToLatestUserTurn(ref))

	history := s.History()
	require.Len(t, history, 4)
	assert.Equal(t, []core.Part{text("draw a cat"), ref}, history[0].Parts)
	assert.Len(t, history[2].Parts, 1, "tool result turn is untouched")
}

func TestFlavors(t *testing.T) {
	m := model.NewScriptedModel(model.Reply(text("a")), model.Reply(text("b")))
	tools := []model.ToolDefinition{model.NewFunctionDefinition("search", "find", nil)}

	toolSession := NewToolSession(m, nil, tools)
	_, err := toolSession.Send(context.Background(), text("x"))
	require.NoError(t, err)

	genSession := NewGenerationSession(m, nil, func(o *Options) { o.Tools = tools })
	_, err = genSession.Send(context.Background(), text("y"))
	require.NoError(t, err)

	reqs := m.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, tools, reqs[0].Tools)
	assert.Empty(t, reqs[0].ResponseModalities)
	assert.Nil(t, reqs[0].ImageConfig)

	assert.Empty(t, reqs[1].Tools)
	assert.Equal(t, []string{model.ModalityText, model.ModalityImage}, reqs[1].ResponseModalities)
	assert.Equal(t, &model.ImageConfig{AspectRatio: "16:9", ImageSize: "1K"}, reqs[1].ImageConfig)
}
