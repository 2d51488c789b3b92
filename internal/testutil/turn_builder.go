package testutil

import (
	"github.com/hupe1980/genloop/core"
	"github.com/hupe1980/genloop/model"
)

// TurnBuilder provides a fluent helper for constructing turns in tests.
// Example:
//
//	turn := NewTurnBuilder().Text("a cat").Call("search", map[string]any{"q": "cat"}).Model()
//
// Chain only the parts you need.
type TurnBuilder struct {
	parts []core.Part
}

// NewTurnBuilder creates an empty builder.
func NewTurnBuilder() *TurnBuilder { return &TurnBuilder{} }

// Text appends a text part (chainable).
func (b *TurnBuilder) Text(t string) *TurnBuilder {
	b.parts = append(b.parts, core.TextPart{Text: t})
	return b
}

// SignedText appends a text part carrying a continuation token (chainable).
func (b *TurnBuilder) SignedText(t, sig string) *TurnBuilder {
	b.parts = append(b.parts, core.TextPart{Text: t, Signature: core.Signature(sig)})
	return b
}

// Image appends an inline image part (chainable).
func (b *TurnBuilder) Image(mime, data string) *TurnBuilder {
	b.parts = append(b.parts, core.InlineDataPart{MimeType: mime, Data: data})
	return b
}

// Call appends a function call part (chainable).
func (b *TurnBuilder) Call(name string, args map[string]any) *TurnBuilder {
	b.parts = append(b.parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{Name: name, Args: args}})
	return b
}

// Result appends a successful function response part (chainable).
func (b *TurnBuilder) Result(name string, resp map[string]any) *TurnBuilder {
	b.parts = append(b.parts, core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{Name: name, Response: resp}})
	return b
}

// Parts returns the accumulated parts.
func (b *TurnBuilder) Parts() []core.Part {
	return append([]core.Part(nil), b.parts...)
}

// User returns the parts as a user turn.
func (b *TurnBuilder) User() core.Content {
	return core.Content{Role: core.RoleUser, Parts: b.Parts()}
}

// Model returns the parts as a model turn.
func (b *TurnBuilder) Model() core.Content {
	return core.Content{Role: core.RoleModel, Parts: b.Parts()}
}

// Reply returns the parts as a scripted model step.
func (b *TurnBuilder) Reply() model.Step {
	return model.Reply(b.Parts()...)
}

// Exchange builds a completed user/model text exchange for seeding history.
func Exchange(user, answer string) core.History {
	return core.History{
		core.NewTextContent(core.RoleUser, user),
		core.NewTextContent(core.RoleModel, answer),
	}
}
