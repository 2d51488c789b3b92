// Package openai provides an implementation of model.Model using the OpenAI
// Chat Completions API (including function/tool calling and image input). It
// adapts genloop's normalized Request/Response structures into the SDK's
// message format and back.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/genloop/core"
	"github.com/hupe1980/genloop/model"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Options configure the OpenAI model adapter.
// Fields mirror a subset of Chat Completion parameters intentionally kept
// minimal; extend via functional options without breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	APIKey              string
}

// Model wraps the OpenAI Chat Completions API behind the generic model.Model interface.
type Model struct {
	client *openai.Client
	opts   Options
}

func defaultOptions() Options {
	return Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
}

// NewModel creates a new OpenAI model using the official client
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := openai.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new OpenAI model from an existing client
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Generate adapts OpenAI Chat Completions (with function/tool calling) into a
// model.Response.
func (m *Model) Generate(ctx context.Context, req model.Request) (*model.Response, error) {
	messages, err := buildMessages(req)
	if err != nil {
		return nil, err
	}
	params := m.buildParams(req, messages)

	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, wrapError(err)
	}
	return fromCompletion(resp)
}

// fromCompletion converts the first choice of a completion. A content filter
// stop or a refusal is reported as a blocked response.
func fromCompletion(resp *openai.ChatCompletion) (*model.Response, error) {
	if len(resp.Choices) == 0 {
		return nil, &model.APIError{Provider: "openai", Message: "no choices returned"}
	}

	ch0 := resp.Choices[0]
	if ch0.FinishReason == "content_filter" {
		return nil, &model.APIError{
			Provider: "openai",
			Status:   ch0.FinishReason,
			Category: model.CategoryBlocked,
			Message:  "response blocked by content filter",
		}
	}
	if ch0.Message.Refusal != "" {
		return nil, &model.APIError{
			Provider: "openai",
			Status:   "refusal",
			Category: model.CategoryBlocked,
			Message:  ch0.Message.Refusal,
		}
	}

	parts := make([]core.Part, 0, len(ch0.Message.ToolCalls)+1)
	if ch0.Message.Content != "" {
		parts = append(parts, core.TextPart{Text: ch0.Message.Content})
	}
	for _, tc := range ch0.Message.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, &model.APIError{
					Provider: "openai",
					Message:  fmt.Sprintf("tool call %q has malformed arguments", tc.Function.Name),
					Err:      err,
				}
			}
		}
		parts = append(parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		}})
	}

	return &model.Response{
		ID:           resp.ID,
		Content:      core.Content{Role: core.RoleModel, Parts: parts},
		FinishReason: ch0.FinishReason,
		Usage: &model.TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// buildMessages converts normalized contents into OpenAI chat messages. Tool
// result turns become tool messages; responses without an id inherit the id
// of the call at the same position in the preceding model turn.
func buildMessages(req model.Request) ([]openai.ChatCompletionMessageParamUnion, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.SystemInstruction != "" {
		messages = append(messages, openai.SystemMessage(req.SystemInstruction))
	}

	var pendingIDs []string
	for turn, c := range req.Contents {
		switch {
		case c.Role == core.RoleModel:
			msg, ids := assistantMessage(turn, c)
			pendingIDs = ids
			messages = append(messages, msg)
		case c.IsToolResult():
			for i, fr := range c.FunctionResponses() {
				id := fr.ID
				if id == "" && i < len(pendingIDs) {
					id = pendingIDs[i]
				}
				body, err := responseBody(fr)
				if err != nil {
					return nil, err
				}
				messages = append(messages, openai.ToolMessage(body, id))
			}
			pendingIDs = nil
		default:
			messages = append(messages, userMessage(c))
		}
	}
	return messages, nil
}

func userMessage(c core.Content) openai.ChatCompletionMessageParamUnion {
	var parts []openai.ChatCompletionContentPartUnionParam
	for _, p := range c.Parts {
		switch part := p.(type) {
		case core.TextPart:
			if part.Text != "" && !part.Thought {
				parts = append(parts, openai.TextContentPart(part.Text))
			}
		case core.InlineDataPart:
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: "data:" + part.MimeType + ";base64," + part.Data,
			}))
		case core.FilePart:
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: part.URI,
			}))
		}
	}
	return openai.UserMessage(parts)
}

func assistantMessage(turn int, c core.Content) (openai.ChatCompletionMessageParamUnion, []string) {
	var text strings.Builder
	var toolCalls []openai.ChatCompletionMessageToolCallParam
	var ids []string
	for _, p := range c.Parts {
		switch part := p.(type) {
		case core.TextPart:
			if !part.Thought {
				text.WriteString(part.Text)
			}
		case core.FunctionCallPart:
			fc := part.FunctionCall
			id := fc.ID
			if id == "" {
				id = fmt.Sprintf("call_%d_%d", turn, len(ids))
			}
			args, _ := json.Marshal(fc.Args)
			if fc.Args == nil {
				args = []byte("{}")
			}
			toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
				ID:   id,
				Type: "function",
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      fc.Name,
					Arguments: string(args),
				},
			})
			ids = append(ids, id)
		}
	}
	if len(toolCalls) == 0 {
		return openai.AssistantMessage(text.String()), nil
	}
	msg := &openai.ChatCompletionAssistantMessageParam{
		Role:      "assistant",
		ToolCalls: toolCalls,
	}
	if text.Len() > 0 {
		msg.Content.OfString = openai.String(text.String())
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: msg}, ids
}

func responseBody(fr core.FunctionResponse) (string, error) {
	payload := fr.Response
	if fr.Error != "" {
		payload = map[string]any{"error": fr.Error}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode response of %q: %w", fr.Name, err)
	}
	return string(b), nil
}

// buildParams assembles the OpenAI request parameters including tool definitions.
func (m *Model) buildParams(
	req model.Request,
	messages []openai.ChatCompletionMessageParamUnion,
) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               m.opts.Model,
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
	}
	if len(req.Tools) == 0 {
		return params
	}
	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, tdef := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tdef.Function.Name,
				Description: openai.String(tdef.Function.Description),
				Parameters:  tdef.Function.Parameters,
			},
		}
	}
	params.Tools = tools
	return params
}

func wrapError(err error) error {
	apiErr := &model.APIError{Provider: "openai", Err: err}

	var oerr *openai.Error
	if errors.As(err, &oerr) {
		apiErr.StatusCode = oerr.StatusCode
		apiErr.Category = categorize(oerr.StatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		apiErr.Category = model.CategoryTimeout
	}
	return apiErr
}

func categorize(status int) model.Category {
	switch status {
	case 429:
		return model.CategoryRateLimited
	case 401, 403:
		return model.CategoryAuth
	case 408, 504:
		return model.CategoryTimeout
	default:
		return model.CategoryUnknown
	}
}

// Info returns metadata describing this OpenAI model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      "openai",
		SupportsTools: true,
	}
}
