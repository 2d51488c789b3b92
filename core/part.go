package core

// Part represents a polymorphic segment of role-based content. Concrete part
// types implement the unexported isPart marker enabling a closed set.
type Part interface{ isPart() }

// Signature is an opaque continuation token attached by the model to a part it
// generated. It is never inspected; it must be replayed verbatim with the part
// it arrived on or the provider rejects the continued conversation.
type Signature []byte

// IsZero reports whether no token is present.
func (s Signature) IsZero() bool { return len(s) == 0 }

// TextPart is a plain text content segment.
type TextPart struct {
	Text      string    // Plain UTF-8 text
	Thought   bool      // Set when the provider marks the text as reasoning output
	Signature Signature // Optional continuation token
}

// isPart implements the Part interface for TextPart.
func (TextPart) isPart() {}

// InlineDataPart is binary content carried inline as base64 (images, mostly).
type InlineDataPart struct {
	MimeType  string    // e.g. image/png
	Data      string    // Base64 (standard encoding, no data: prefix)
	Signature Signature // Optional continuation token
}

// isPart implements the Part interface for InlineDataPart.
func (InlineDataPart) isPart() {}

// FilePart references remote binary content by URI.
type FilePart struct {
	URI      string
	MimeType string
}

// isPart implements the Part interface for FilePart.
func (FilePart) isPart() {}

// FunctionCall describes a tool/function invocation request. Providers without
// native call ids leave ID empty; ordering within a turn is the correlation key.
type FunctionCall struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Args      map[string]any `json:"args,omitempty"`
	Signature Signature      `json:"signature,omitempty"`
}

// FunctionCallPart wraps a FunctionCall as a content part.
type FunctionCallPart struct {
	FunctionCall FunctionCall
}

// isPart implements the Part interface for FunctionCallPart.
func (FunctionCallPart) isPart() {}

// FunctionResponse describes the outcome of a function call.
type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`       // Matches originating FunctionCall ID
	Name     string         `json:"name"`               // Function name
	Response map[string]any `json:"response,omitempty"` // Successful result
	Error    string         `json:"error,omitempty"`    // Populated on failure
}

// FunctionResponsePart wraps a FunctionResponse as a content part.
type FunctionResponsePart struct {
	FunctionResponse FunctionResponse
}

// isPart implements the Part interface for FunctionResponsePart.
func (FunctionResponsePart) isPart() {}
