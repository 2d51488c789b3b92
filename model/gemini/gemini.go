// Package gemini provides an implementation of model.Model on top of the
// Google Gen AI SDK. It is the default backend: it supports function calling,
// image output and thought signatures.
package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"github.com/hupe1980/genloop/core"
	"github.com/hupe1980/genloop/model"
)

// DefaultModel is the image-capable model used when none is configured.
const DefaultModel = "gemini-3-pro-image-preview"

// Options configure the Gemini model adapter.
type Options struct {
	Model  string
	APIKey string
}

// Model wraps the Gen AI Models service behind the generic model.Model interface.
type Model struct {
	client *genai.Client
	opts   Options
}

// NewModel creates a new Gemini model using the Gemini API backend.
func NewModel(ctx context.Context, optFns ...func(o *Options)) (*Model, error) {
	opts := Options{Model: DefaultModel}
	for _, fn := range optFns {
		fn(&opts)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &Model{client: client, opts: opts}, nil
}

// NewModelFromClient creates a new Gemini model from an existing client.
func NewModelFromClient(client *genai.Client, optFns ...func(o *Options)) *Model {
	opts := Options{Model: DefaultModel}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Generate sends one generateContent call and converts the first candidate.
func (m *Model) Generate(ctx context.Context, req model.Request) (*model.Response, error) {
	contents, err := toContents(req.Contents)
	if err != nil {
		return nil, err
	}

	resp, err := m.client.Models.GenerateContent(ctx, m.opts.Model, contents, buildConfig(req))
	if err != nil {
		return nil, wrapError(err)
	}

	return fromResponse(resp)
}

// Info returns metadata describing this Gemini model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      "gemini",
		SupportsTools: true,
		SupportsImage: true,
	}
}

func buildConfig(req model.Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: req.ResponseModalities,
	}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemInstruction}}}
	}
	if req.ImageConfig != nil {
		cfg.ImageConfig = &genai.ImageConfig{
			AspectRatio: req.ImageConfig.AspectRatio,
			ImageSize:   req.ImageConfig.ImageSize,
		}
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decl := &genai.FunctionDeclaration{
				Name:        t.Function.Name,
				Description: t.Function.Description,
			}
			if t.Function.Parameters != nil {
				decl.ParametersJsonSchema = t.Function.Parameters
			}
			decls = append(decls, decl)
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return cfg
}

func toContents(history []core.Content) ([]*genai.Content, error) {
	out := make([]*genai.Content, 0, len(history))
	for i, c := range history {
		parts := make([]*genai.Part, 0, len(c.Parts))
		for _, p := range c.Parts {
			gp, err := toPart(p)
			if err != nil {
				return nil, fmt.Errorf("turn %d: %w", i, err)
			}
			parts = append(parts, gp)
		}
		role := genai.RoleUser
		if c.Role == core.RoleModel {
			role = genai.RoleModel
		}
		out = append(out, &genai.Content{Role: role, Parts: parts})
	}
	return out, nil
}

func toPart(p core.Part) (*genai.Part, error) {
	switch part := p.(type) {
	case core.TextPart:
		return &genai.Part{Text: part.Text, Thought: part.Thought, ThoughtSignature: part.Signature}, nil
	case core.InlineDataPart:
		data, err := base64.StdEncoding.DecodeString(part.Data)
		if err != nil {
			return nil, fmt.Errorf("inline %s data is not valid base64: %w", part.MimeType, err)
		}
		return &genai.Part{
			InlineData:       &genai.Blob{MIMEType: part.MimeType, Data: data},
			ThoughtSignature: part.Signature,
		}, nil
	case core.FilePart:
		return &genai.Part{FileData: &genai.FileData{FileURI: part.URI, MIMEType: part.MimeType}}, nil
	case core.FunctionCallPart:
		fc := part.FunctionCall
		return &genai.Part{
			FunctionCall:     &genai.FunctionCall{ID: fc.ID, Name: fc.Name, Args: fc.Args},
			ThoughtSignature: fc.Signature,
		}, nil
	case core.FunctionResponsePart:
		fr := part.FunctionResponse
		response := fr.Response
		if fr.Error != "" {
			response = map[string]any{"error": fr.Error}
		}
		return &genai.Part{FunctionResponse: &genai.FunctionResponse{ID: fr.ID, Name: fr.Name, Response: response}}, nil
	default:
		return nil, fmt.Errorf("unsupported part type %T", p)
	}
}

// isBlocked reports whether a candidate ended without usable content for
// policy reasons.
func isBlocked(reason genai.FinishReason) bool {
	switch reason {
	case "SAFETY", "PROHIBITED_CONTENT", "BLOCKLIST", "SPII", "RECITATION",
		"IMAGE_SAFETY", "IMAGE_PROHIBITED_CONTENT":
		return true
	default:
		return false
	}
}

func fromResponse(resp *genai.GenerateContentResponse) (*model.Response, error) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, &model.APIError{
			Provider: "gemini",
			Status:   string(resp.PromptFeedback.BlockReason),
			Category: model.CategoryBlocked,
			Message:  "prompt blocked: " + resp.PromptFeedback.BlockReasonMessage,
		}
	}
	if len(resp.Candidates) == 0 {
		return nil, &model.APIError{Provider: "gemini", Message: "no candidates returned"}
	}

	cand := resp.Candidates[0]
	if isBlocked(cand.FinishReason) {
		return nil, &model.APIError{
			Provider: "gemini",
			Status:   string(cand.FinishReason),
			Category: model.CategoryBlocked,
			Message:  "response blocked by safety settings",
		}
	}

	var parts []core.Part
	if cand.Content != nil {
		for i, gp := range cand.Content.Parts {
			p, ok, err := fromPart(i, gp)
			if err != nil {
				return nil, &model.APIError{Provider: "gemini", Err: err}
			}
			if ok {
				parts = append(parts, p)
			}
		}
	}

	out := &model.Response{
		ID:           resp.ResponseID,
		Content:      core.Content{Role: core.RoleModel, Parts: parts},
		FinishReason: string(cand.FinishReason),
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = &model.TokenUsage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

// fromPart converts one model-produced part. Variants the engine cannot
// replay are rejected; a part with no payload at all is skipped.
func fromPart(i int, gp *genai.Part) (core.Part, bool, error) {
	if gp == nil {
		return nil, false, nil
	}
	switch {
	case gp.FunctionCall != nil:
		return core.FunctionCallPart{FunctionCall: core.FunctionCall{
			ID:        gp.FunctionCall.ID,
			Name:      gp.FunctionCall.Name,
			Args:      gp.FunctionCall.Args,
			Signature: gp.ThoughtSignature,
		}}, true, nil
	case gp.InlineData != nil:
		return core.InlineDataPart{
			MimeType:  gp.InlineData.MIMEType,
			Data:      base64.StdEncoding.EncodeToString(gp.InlineData.Data),
			Signature: gp.ThoughtSignature,
		}, true, nil
	case gp.FileData != nil:
		return core.FilePart{URI: gp.FileData.FileURI, MimeType: gp.FileData.MIMEType}, true, nil
	case gp.FunctionResponse != nil:
		return nil, false, &core.UnrecognizedPartError{Index: i, Detail: "function response in model output"}
	case gp.ExecutableCode != nil, gp.CodeExecutionResult != nil:
		return nil, false, &core.UnrecognizedPartError{Index: i, Detail: "code execution part"}
	case gp.Text != "" || len(gp.ThoughtSignature) > 0:
		return core.TextPart{Text: gp.Text, Thought: gp.Thought, Signature: gp.ThoughtSignature}, true, nil
	default:
		return nil, false, nil
	}
}

func wrapError(err error) error {
	apiErr := &model.APIError{Provider: "gemini", Err: err}

	var gerr genai.APIError
	var gerrPtr *genai.APIError
	switch {
	case errors.As(err, &gerr):
		apiErr.StatusCode, apiErr.Status, apiErr.Message = gerr.Code, gerr.Status, gerr.Message
	case errors.As(err, &gerrPtr):
		apiErr.StatusCode, apiErr.Status, apiErr.Message = gerrPtr.Code, gerrPtr.Status, gerrPtr.Message
	}

	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED":
		apiErr.Category = model.CategoryRateLimited
	case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden ||
		apiErr.Status == "PERMISSION_DENIED" || apiErr.Status == "UNAUTHENTICATED":
		apiErr.Category = model.CategoryAuth
	case apiErr.StatusCode == http.StatusGatewayTimeout || apiErr.Status == "DEADLINE_EXCEEDED" ||
		errors.Is(err, context.DeadlineExceeded):
		apiErr.Category = model.CategoryTimeout
	}
	return apiErr
}
