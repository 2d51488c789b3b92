package flow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/genloop/core"
	"github.com/hupe1980/genloop/model"
	"github.com/hupe1980/genloop/session"
	"github.com/hupe1980/genloop/tool"
)

func imageItem(data, mime string) map[string]any {
	return map[string]any{"type": "image", "data": data, "mimeType": mime}
}

func TestSelection_DecideFlattensCandidates(t *testing.T) {
	m := model.NewScriptedModel(model.Reply(callPart("c1", "by_tag"), callPart("c2", "by_color"), callPart("c3", "down")))
	exec := tool.ExecutorFunc(func(_ context.Context, name string, _ map[string]any) (map[string]any, error) {
		switch name {
		case "by_tag":
			return map[string]any{"content": []any{imageItem("QQ==", "image/png"), imageItem("Qg==", "")}}, nil
		case "by_color":
			return map[string]any{"contents": []any{
				map[string]any{"type": "text", "text": "one match"},
				map[string]any{"type": "image", "data": "Qw==", "mime_type": "image/webp"},
			}}, nil
		default:
			return nil, &tool.ToolError{Tool: name, Message: "unreachable", Code: tool.CodeRetriesExhausted}
		}
	})

	sel := NewSelection(NewDispatcher(exec), nil)
	d, err := sel.Decide(context.Background(), session.New(m, nil), "a red fox")
	require.NoError(t, err)
	assert.True(t, d.ToolsRequested)
	assert.Len(t, d.Outcomes, 3)
	assert.Equal(t, []core.Image{
		{MimeType: "image/png", Data: "QQ=="},
		{MimeType: "image/jpeg", Data: "Qg=="},
		{MimeType: "image/webp", Data: "Qw=="},
	}, d.Candidates)
}

func TestSelection_DecideWithoutToolCalls(t *testing.T) {
	m := model.NewScriptedModel(model.Reply(core.TextPart{Text: "no lookup needed"}))
	d, err := NewSelection(NewDispatcher(nil), nil).Decide(context.Background(), session.New(m, nil), "a square")
	require.NoError(t, err)
	assert.False(t, d.ToolsRequested)
	assert.NotNil(t, d.Candidates)
	assert.Empty(t, d.Candidates)
}

func TestSelection_GenerateWithEmptySelection(t *testing.T) {
	m := model.NewScriptedModel(model.Reply(
		core.TextPart{Text: "here it is", Signature: core.Signature("sig")},
		core.InlineDataPart{MimeType: "image/png", Data: "aW1n"},
	))
	sess := session.NewGenerationSession(m, nil)

	res, err := NewSelection(NewDispatcher(nil), nil).Generate(context.Background(), sess, "a fox", nil)
	require.NoError(t, err)
	assert.Equal(t, "here it is", res.Text)
	assert.Equal(t, core.Signature("sig"), res.TextSignature)
	require.Len(t, res.Images, 1)

	reqs := m.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, []core.Part{core.TextPart{Text: "a fox"}}, reqs[0].Contents[0].Parts)
}

func TestSelection_GenerateDecodesDataURLs(t *testing.T) {
	m := model.NewScriptedModel(model.Reply(core.TextPart{Text: "ok"}))
	sess := session.NewGenerationSession(m, nil)

	_, err := NewSelection(NewDispatcher(nil), nil).Generate(context.Background(), sess, "a fox", []core.Image{
		{MimeType: "image/jpeg", Data: "data:image/png;base64,aGk="},
	})
	require.NoError(t, err)
	assert.Equal(t, []core.Part{
		core.TextPart{Text: "a fox"},
		core.InlineDataPart{MimeType: "image/png", Data: "aGk="},
	}, m.Requests()[0].Contents[0].Parts)
}

func TestSelection_GenerateRejectsBadImage(t *testing.T) {
	m := model.NewScriptedModel()
	_, err := NewSelection(NewDispatcher(nil), nil).Generate(context.Background(), session.NewGenerationSession(m, nil), "a fox", []core.Image{
		{MimeType: "image/png", Data: "not base64!"},
	})
	assert.Equal(t, core.KindValidation, core.KindOf(err))
	assert.Equal(t, 0, m.Calls())
}
