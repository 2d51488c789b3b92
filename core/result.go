package core

import "time"

// Image is a generated or fetched image.
type Image struct {
	MimeType  string    `json:"mimeType"`
	Data      string    `json:"data"` // Base64
	Signature Signature `json:"thoughtSignature,omitempty"`
}

// ParsedResult is the terminal artifact of an orchestration run.
type ParsedResult struct {
	Text          string    `json:"text"`
	Images        []Image   `json:"images"`
	TextSignature Signature `json:"textThoughtSignature,omitempty"`
}

// Outcome is the result of one dispatched tool call. Exactly one of Result or
// Error is meaningful, selected by Success.
type Outcome struct {
	ID      string
	Name    string
	Success bool
	Result  map[string]any
	Error   string
}

// Response converts the outcome into the function response part sent back to
// the model.
func (o Outcome) Response() FunctionResponsePart {
	fr := FunctionResponse{ID: o.ID, Name: o.Name}
	if o.Success {
		fr.Response = o.Result
	} else {
		fr.Error = o.Error
	}
	return FunctionResponsePart{FunctionResponse: fr}
}

// PendingSelection is a paused two-phase request awaiting a human choice among
// fetched reference images. History is the conversation as it was before the
// request; it does not contain the provisional user turn.
type PendingSelection struct {
	ID         string    `json:"id"`
	Message    string    `json:"message"`
	History    History   `json:"-"`
	Candidates []Image   `json:"candidates"`
	CreatedAt  time.Time `json:"created_at"`
}
