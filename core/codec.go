package core

import (
	"encoding/json"
	"fmt"
)

// wirePart is the tagged JSON shape of a Part. Exactly one of the variant
// fields must be set. Field names follow the camelCase convention used by
// browser clients that store Gemini-style history.
type wirePart struct {
	Text             *string               `json:"text,omitempty"`
	Thought          bool                  `json:"thought,omitempty"`
	InlineData       *wireBlob             `json:"inlineData,omitempty"`
	FileData         *wireFile             `json:"fileData,omitempty"`
	FunctionCall     *wireFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *wireFunctionResponse `json:"functionResponse,omitempty"`
	ThoughtSignature Signature             `json:"thoughtSignature,omitempty"`
}

type wireBlob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type wireFile struct {
	FileURI  string `json:"fileUri"`
	MimeType string `json:"mimeType,omitempty"`
}

type wireFunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type wireFunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
	Error    string         `json:"error,omitempty"`
}

type wireContent struct {
	Role  string            `json:"role"`
	Parts []json.RawMessage `json:"parts"`
}

// MarshalJSON encodes the turn with tagged part objects.
func (c Content) MarshalJSON() ([]byte, error) {
	parts := make([]wirePart, 0, len(c.Parts))
	for i, p := range c.Parts {
		wp, err := encodePart(p)
		if err != nil {
			return nil, &UnrecognizedPartError{Index: i, Detail: err.Error()}
		}
		parts = append(parts, wp)
	}
	return json.Marshal(struct {
		Role  string     `json:"role"`
		Parts []wirePart `json:"parts"`
	}{Role: c.Role, Parts: parts})
}

// UnmarshalJSON decodes a turn, failing with *UnrecognizedPartError on any
// part that does not match exactly one known variant.
func (c *Content) UnmarshalJSON(data []byte) error {
	var wc wireContent
	if err := json.Unmarshal(data, &wc); err != nil {
		return err
	}
	parts := make([]Part, 0, len(wc.Parts))
	for i, raw := range wc.Parts {
		var wp wirePart
		if err := json.Unmarshal(raw, &wp); err != nil {
			return &UnrecognizedPartError{Index: i, Detail: err.Error()}
		}
		p, err := decodePart(wp)
		if err != nil {
			return &UnrecognizedPartError{Index: i, Detail: err.Error()}
		}
		parts = append(parts, p)
	}
	c.Role = wc.Role
	c.Parts = parts
	return nil
}

func encodePart(p Part) (wirePart, error) {
	switch part := p.(type) {
	case TextPart:
		text := part.Text
		return wirePart{Text: &text, Thought: part.Thought, ThoughtSignature: part.Signature}, nil
	case InlineDataPart:
		return wirePart{InlineData: &wireBlob{MimeType: part.MimeType, Data: part.Data}, ThoughtSignature: part.Signature}, nil
	case FilePart:
		return wirePart{FileData: &wireFile{FileURI: part.URI, MimeType: part.MimeType}}, nil
	case FunctionCallPart:
		fc := part.FunctionCall
		return wirePart{
			FunctionCall:     &wireFunctionCall{ID: fc.ID, Name: fc.Name, Args: fc.Args},
			ThoughtSignature: fc.Signature,
		}, nil
	case FunctionResponsePart:
		fr := part.FunctionResponse
		return wirePart{FunctionResponse: &wireFunctionResponse{ID: fr.ID, Name: fr.Name, Response: fr.Response, Error: fr.Error}}, nil
	default:
		return wirePart{}, fmt.Errorf("unsupported part type %T", p)
	}
}

func decodePart(wp wirePart) (Part, error) {
	set := 0
	for _, present := range []bool{wp.Text != nil, wp.InlineData != nil, wp.FileData != nil, wp.FunctionCall != nil, wp.FunctionResponse != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("expected exactly one part variant, found %d", set)
	}
	switch {
	case wp.Text != nil:
		return TextPart{Text: *wp.Text, Thought: wp.Thought, Signature: wp.ThoughtSignature}, nil
	case wp.InlineData != nil:
		if wp.InlineData.MimeType == "" || wp.InlineData.Data == "" {
			return nil, fmt.Errorf("inlineData requires mimeType and data")
		}
		return InlineDataPart{MimeType: wp.InlineData.MimeType, Data: wp.InlineData.Data, Signature: wp.ThoughtSignature}, nil
	case wp.FileData != nil:
		if wp.FileData.FileURI == "" {
			return nil, fmt.Errorf("fileData requires fileUri")
		}
		return FilePart{URI: wp.FileData.FileURI, MimeType: wp.FileData.MimeType}, nil
	case wp.FunctionCall != nil:
		if wp.FunctionCall.Name == "" {
			return nil, fmt.Errorf("functionCall requires name")
		}
		return FunctionCallPart{FunctionCall: FunctionCall{
			ID:        wp.FunctionCall.ID,
			Name:      wp.FunctionCall.Name,
			Args:      wp.FunctionCall.Args,
			Signature: wp.ThoughtSignature,
		}}, nil
	default:
		fr := wp.FunctionResponse
		return FunctionResponsePart{FunctionResponse: FunctionResponse{ID: fr.ID, Name: fr.Name, Response: fr.Response, Error: fr.Error}}, nil
	}
}
