package core

import (
	"errors"
	"fmt"
)

// Conversation roles. Tool results travel in user turns.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// ErrEmptyModelTurn is returned when a model turn carries no informative part.
var ErrEmptyModelTurn = errors.New("model turn has no text, data or function call parts")

// Content holds role + ordered parts. It is one conversation turn.
type Content struct {
	Role  string `json:"role"`  // RoleUser or RoleModel
	Parts []Part `json:"parts"` // Ordered heterogeneous parts
}

// NewUserContent builds a user turn from the given parts.
func NewUserContent(parts ...Part) Content {
	return Content{Role: RoleUser, Parts: parts}
}

// NewTextContent builds a single-text turn for the given role.
func NewTextContent(role, text string) Content {
	return Content{Role: role, Parts: []Part{TextPart{Text: text}}}
}

// FunctionCalls returns all function call parts in encounter order.
func (c Content) FunctionCalls() []FunctionCall {
	var calls []FunctionCall
	for _, p := range c.Parts {
		if fc, ok := p.(FunctionCallPart); ok {
			calls = append(calls, fc.FunctionCall)
		}
	}
	return calls
}

// FunctionResponses returns all function response parts in encounter order.
func (c Content) FunctionResponses() []FunctionResponse {
	var responses []FunctionResponse
	for _, p := range c.Parts {
		if fr, ok := p.(FunctionResponsePart); ok {
			responses = append(responses, fr.FunctionResponse)
		}
	}
	return responses
}

// IsToolResult reports whether the turn carries function responses.
func (c Content) IsToolResult() bool {
	for _, p := range c.Parts {
		if _, ok := p.(FunctionResponsePart); ok {
			return true
		}
	}
	return false
}

// Clone copies the part slice so appends on the clone never alias the original.
func (c Content) Clone() Content {
	parts := make([]Part, len(c.Parts))
	copy(parts, c.Parts)
	return Content{Role: c.Role, Parts: parts}
}

// Validate checks role and, for model turns, that at least one informative
// part is present.
func (c Content) Validate() error {
	switch c.Role {
	case RoleUser:
		if len(c.Parts) == 0 {
			return fmt.Errorf("user turn has no parts")
		}
		return nil
	case RoleModel:
		for _, p := range c.Parts {
			switch part := p.(type) {
			case TextPart:
				if part.Text != "" && !part.Thought {
					return nil
				}
			case InlineDataPart, FilePart, FunctionCallPart:
				return nil
			}
		}
		return ErrEmptyModelTurn
	default:
		return fmt.Errorf("unknown role %q", c.Role)
	}
}
