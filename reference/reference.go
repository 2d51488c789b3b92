// Package reference lifts binary references embedded in tool results into
// first-class content parts.
//
// Two shapes are recognized. Image content items returned by a tool server
// ({"type":"image","data":...,"mimeType":...}) become inline data parts. Text
// content may additionally carry fenced marker blocks:
//
//	```json
//	{"binary_ref": {"uri": "https://example.com/a.png", "mime_type": "image/png"}}
//	```
//
// The fence language tag is optional. The value of binary_ref is either one
// reference object or an array of them. A reference carries a uri (becomes a
// FilePart) or base64 data (becomes an InlineDataPart); mime_type defaults to
// image/jpeg. Blocks that are not valid JSON, lack the key or carry no usable
// reference are counted as malformed and otherwise ignored.
package reference

import (
	"encoding/base64"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/hupe1980/genloop/core"
)

// MarkerKey is the JSON key identifying a reference block.
const MarkerKey = "binary_ref"

// DefaultMimeType is assumed when a reference or image item names none.
const DefaultMimeType = "image/jpeg"

var fencePattern = regexp.MustCompile("(?s)```[A-Za-z0-9_-]*[ \t]*\r?\n(.*?)```")

type marker struct {
	URI      string `json:"uri"`
	Data     string `json:"data"`
	MimeType string `json:"mime_type"`
}

// Extract scans text for fenced reference blocks. Fenced blocks without the
// marker key are not references and are skipped silently; blocks that mention
// the key but cannot be decoded increase malformed.
func Extract(text string) (parts []core.Part, malformed int) {
	for _, m := range fencePattern.FindAllStringSubmatch(text, -1) {
		body := strings.TrimSpace(m[1])
		if !strings.Contains(body, `"`+MarkerKey+`"`) {
			continue
		}

		var block map[string]json.RawMessage
		if err := json.Unmarshal([]byte(body), &block); err != nil {
			malformed++
			continue
		}
		raw, ok := block[MarkerKey]
		if !ok {
			malformed++
			continue
		}

		refs, err := decodeMarkers(raw)
		if err != nil {
			malformed++
			continue
		}

		lifted := 0
		for _, ref := range refs {
			if p, ok := ref.part(); ok {
				parts = append(parts, p)
				lifted++
			}
		}
		if lifted == 0 {
			malformed++
		}
	}
	return parts, malformed
}

func decodeMarkers(raw json.RawMessage) ([]marker, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var refs []marker
		if err := json.Unmarshal(raw, &refs); err != nil {
			return nil, err
		}
		return refs, nil
	}
	var ref marker
	if err := json.Unmarshal(raw, &ref); err != nil {
		return nil, err
	}
	return []marker{ref}, nil
}

func (m marker) part() (core.Part, bool) {
	mime := m.MimeType
	if mime == "" {
		mime = DefaultMimeType
	}
	switch {
	case m.URI != "":
		return core.FilePart{URI: m.URI, MimeType: mime}, true
	case m.Data != "":
		img, ok := DecodeImage(mime, m.Data)
		if !ok {
			return nil, false
		}
		return core.InlineDataPart{MimeType: img.MimeType, Data: img.Data}, true
	default:
		return nil, false
	}
}

// DecodeImage normalizes a transport-encoded image. A data URL prefix
// ("data:image/png;base64,") is stripped and its media type wins over mime.
// The payload must be valid standard base64.
func DecodeImage(mime, data string) (core.Image, bool) {
	if strings.HasPrefix(data, "data:") {
		if i := strings.Index(data, ","); i >= 0 {
			header := strings.TrimPrefix(data[:i], "data:")
			if mt, _, _ := strings.Cut(header, ";"); mt != "" {
				mime = mt
			}
			data = data[i+1:]
		}
	}
	if mime == "" {
		mime = DefaultMimeType
	}
	data = strings.TrimSpace(data)
	if data == "" {
		return core.Image{}, false
	}
	if _, err := base64.StdEncoding.DecodeString(data); err != nil {
		return core.Image{}, false
	}
	return core.Image{MimeType: mime, Data: data}, true
}

// Images returns the image content items of a tool result in item order.
func Images(result map[string]any) []core.Image {
	var images []core.Image
	for _, item := range contentItems(result) {
		if item["type"] != "image" {
			continue
		}
		data, _ := item["data"].(string)
		if data == "" {
			continue
		}
		mime, _ := item["mimeType"].(string)
		if mime == "" {
			mime, _ = item["mime_type"].(string)
		}
		if mime == "" {
			mime = DefaultMimeType
		}
		images = append(images, core.Image{MimeType: mime, Data: data})
	}
	return images
}

// Lift returns every binary reference carried by a tool result: image items
// first, then fenced references found in its text items. malformed counts
// reference blocks that could not be decoded.
func Lift(result map[string]any) (parts []core.Part, malformed int) {
	for _, img := range Images(result) {
		parts = append(parts, core.InlineDataPart{MimeType: img.MimeType, Data: img.Data})
	}
	for _, item := range contentItems(result) {
		if item["type"] != "text" {
			continue
		}
		text, _ := item["text"].(string)
		found, bad := Extract(text)
		parts = append(parts, found...)
		malformed += bad
	}
	return parts, malformed
}

// contentItems returns the content array of a tool result. Both "content" and
// "contents" are accepted, as are typed and untyped slices.
func contentItems(result map[string]any) []map[string]any {
	raw, ok := result["content"]
	if !ok {
		raw = result["contents"]
	}
	switch items := raw.(type) {
	case []map[string]any:
		return items
	case []any:
		out := make([]map[string]any, 0, len(items))
		for _, it := range items {
			if m, ok := it.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}
