package parser

import (
	"testing"

	"github.com/hupe1980/genloop/core"
	"github.com/hupe1980/genloop/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func response(parts ...core.Part) *model.Response {
	return &model.Response{Content: core.Content{Role: core.RoleModel, Parts: parts}}
}

func call(name string, args map[string]any) core.Part {
	return core.FunctionCallPart{FunctionCall: core.FunctionCall{Name: name, Args: args}}
}

func TestParse_JoinsAndTrimsText(t *testing.T) {
	got := Parse(response(core.TextPart{Text: "  A"}, core.TextPart{Text: "B  "}))
	assert.Equal(t, "A\nB", got.Text)
	assert.Empty(t, got.Images)
	assert.NotNil(t, got.Images)
}

func TestParse_ImagesAndSignatures(t *testing.T) {
	got := Parse(response(
		core.TextPart{Text: "thinking", Thought: true, Signature: core.Signature("t0")},
		core.TextPart{Text: "first", Signature: core.Signature("t1")},
		core.InlineDataPart{MimeType: "image/png", Data: "AAA", Signature: core.Signature("i1")},
		core.TextPart{Text: "second", Signature: core.Signature("t2")},
		core.TextPart{Text: "unsigned"},
		core.InlineDataPart{MimeType: "image/jpeg", Data: "BBB"},
		call("ignored", nil),
	))

	assert.Equal(t, "first\nsecond\nunsigned", got.Text)
	assert.Equal(t, core.Signature("t2"), got.TextSignature)
	require.Len(t, got.Images, 2)
	assert.Equal(t, core.Image{MimeType: "image/png", Data: "AAA", Signature: core.Signature("i1")}, got.Images[0])
	assert.Equal(t, core.Image{MimeType: "image/jpeg", Data: "BBB"}, got.Images[1])
}

func TestParse_SkipsSignatureOnlyText(t *testing.T) {
	got := Parse(response(
		core.TextPart{Text: "A", Signature: core.Signature("sA")},
		core.TextPart{Signature: core.Signature("sig-only")},
		core.TextPart{Text: "B"},
	))
	assert.Equal(t, "A\nB", got.Text)
	assert.Equal(t, core.Signature("sA"), got.TextSignature)
}

func TestParse_Nil(t *testing.T) {
	got := Parse(nil)
	assert.Equal(t, "", got.Text)
	assert.Empty(t, got.Images)
}

func TestToolCalls(t *testing.T) {
	resp := response(
		core.TextPart{Text: "let me look"},
		call("search", map[string]any{"q": "cats"}),
		core.InlineDataPart{MimeType: "image/png", Data: "AAA"},
		call("fetch", nil),
	)

	assert.True(t, HasToolCalls(resp))
	calls := ExtractToolCalls(resp)
	require.Len(t, calls, 2)
	assert.Equal(t, "search", calls[0].Name)
	assert.Equal(t, map[string]any{"q": "cats"}, calls[0].Args)
	assert.Equal(t, "fetch", calls[1].Name)
	assert.Equal(t, map[string]any{}, calls[1].Args)
}

func TestToolCalls_None(t *testing.T) {
	resp := response(core.TextPart{Text: "done"})
	assert.False(t, HasToolCalls(resp))
	assert.Empty(t, ExtractToolCalls(resp))
	assert.False(t, HasToolCalls(nil))
}
