// Package parser normalizes model responses into deliverable results and
// tool-call requests.
//
// Tool-call parts and deliverable content are interpreted separately:
// HasToolCalls and ExtractToolCalls look only at function call parts while
// Parse looks only at text and inline data parts.
package parser

import (
	"strings"

	"github.com/hupe1980/genloop/core"
	"github.com/hupe1980/genloop/model"
)

// Parse converts a model response into a ParsedResult. Non-empty, non-thought
// text parts are joined by newlines and trimmed. Empty parts that only carry a
// signature stay in history and are ignored here. Inline data parts become images, each
// keeping its own signature. The signature of the last signed text part is
// kept as the text signature.
func Parse(resp *model.Response) core.ParsedResult {
	result := core.ParsedResult{Images: []core.Image{}}
	if resp == nil {
		return result
	}

	var texts []string
	for _, p := range resp.Content.Parts {
		switch part := p.(type) {
		case core.TextPart:
			if part.Thought || part.Text == "" {
				continue
			}
			texts = append(texts, part.Text)
			if !part.Signature.IsZero() {
				result.TextSignature = part.Signature
			}
		case core.InlineDataPart:
			result.Images = append(result.Images, core.Image{
				MimeType:  part.MimeType,
				Data:      part.Data,
				Signature: part.Signature,
			})
		}
	}

	result.Text = strings.TrimSpace(strings.Join(texts, "\n"))
	return result
}

// HasToolCalls reports whether the response requests at least one tool call.
func HasToolCalls(resp *model.Response) bool {
	if resp == nil {
		return false
	}
	for _, p := range resp.Content.Parts {
		if _, ok := p.(core.FunctionCallPart); ok {
			return true
		}
	}
	return false
}

// ExtractToolCalls returns the requested tool calls in response order. Calls
// without arguments get an empty argument map.
func ExtractToolCalls(resp *model.Response) []core.FunctionCall {
	if resp == nil {
		return nil
	}
	calls := resp.Content.FunctionCalls()
	for i := range calls {
		if calls[i].Args == nil {
			calls[i].Args = map[string]any{}
		}
	}
	return calls
}
