package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContent_ValidateModelTurn(t *testing.T) {
	tests := []struct {
		name    string
		content Content
		wantErr bool
	}{
		{"text", NewTextContent(RoleModel, "hi"), false},
		{"image only", Content{Role: RoleModel, Parts: []Part{InlineDataPart{MimeType: "image/png", Data: "AA=="}}}, false},
		{"function call", Content{Role: RoleModel, Parts: []Part{FunctionCallPart{FunctionCall: FunctionCall{Name: "f"}}}}, false},
		{"empty", Content{Role: RoleModel}, true},
		{"blank text with signature", Content{Role: RoleModel, Parts: []Part{TextPart{Signature: Signature("sig")}}}, true},
		{"thought only", Content{Role: RoleModel, Parts: []Part{TextPart{Text: "hmm", Thought: true}}}, true},
		{"unknown role", Content{Role: "assistant", Parts: []Part{TextPart{Text: "x"}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.content.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
	assert.ErrorIs(t, Content{Role: RoleModel}.Validate(), ErrEmptyModelTurn)
}

func TestContent_FunctionAccessors(t *testing.T) {
	c := Content{Role: RoleModel, Parts: []Part{
		TextPart{Text: "a"},
		FunctionCallPart{FunctionCall: FunctionCall{Name: "one"}},
		FunctionCallPart{FunctionCall: FunctionCall{Name: "two"}},
	}}
	calls := c.FunctionCalls()
	assert.Len(t, calls, 2)
	assert.Equal(t, "one", calls[0].Name)
	assert.Equal(t, "two", calls[1].Name)
	assert.False(t, c.IsToolResult())

	r := NewUserContent(FunctionResponsePart{FunctionResponse: FunctionResponse{Name: "one"}})
	assert.True(t, r.IsToolResult())
	assert.Len(t, r.FunctionResponses(), 1)
}

func TestContent_CloneDoesNotAlias(t *testing.T) {
	orig := NewUserContent(TextPart{Text: "a"})
	clone := orig.Clone()
	clone.Parts = append(clone.Parts, TextPart{Text: "b"})
	clone.Parts[0] = TextPart{Text: "changed"}
	assert.Len(t, orig.Parts, 1)
	assert.Equal(t, TextPart{Text: "a"}, orig.Parts[0])
}
