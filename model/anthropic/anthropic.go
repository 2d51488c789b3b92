// Package anthropic provides a model wrapper for the Anthropic Claude API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/hupe1980/genloop/core"
	"github.com/hupe1980/genloop/model"
)

// Options configures the Anthropic model adapter (temperature, model id,
// max tokens, API key). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_7SonnetLatest,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// NewModel creates a new Anthropic model using the official client
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Model{
		client: &client,
		opts:   opts,
	}
}

// NewModelFromClient creates a new Anthropic model from an existing client
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Model{
		client: client,
		opts:   opts,
	}
}

// Generate adapts the Anthropic Messages API (with tool calling) into a
// model.Response.
func (m *Model) Generate(ctx context.Context, req model.Request) (*model.Response, error) {
	messages, err := buildMessages(req.Contents)
	if err != nil {
		return nil, err
	}

	params := anthropic.MessageNewParams{
		Model:       m.opts.Model,
		Messages:    messages,
		MaxTokens:   m.opts.MaxTokens,
		Temperature: anthropic.Float(m.opts.Temperature),
	}

	if req.SystemInstruction != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemInstruction}}
	}

	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapError(err)
	}

	return fromMessage(resp)
}

// fromMessage converts a Messages API response. A refusal stop is reported as
// a blocked response.
func fromMessage(resp *anthropic.Message) (*model.Response, error) {
	if resp.StopReason == "refusal" {
		return nil, &model.APIError{
			Provider: "anthropic",
			Status:   string(resp.StopReason),
			Category: model.CategoryBlocked,
			Message:  "model refused to answer",
		}
	}

	parts, err := convertBlocks(resp.Content)
	if err != nil {
		return nil, err
	}

	finishReason := "stop"
	if resp.StopReason != "" {
		finishReason = string(resp.StopReason)
	}

	return &model.Response{
		ID:           resp.ID,
		Content:      core.Content{Role: core.RoleModel, Parts: parts},
		FinishReason: finishReason,
		Usage: &model.TokenUsage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}, nil
}

// convertBlocks maps response blocks onto core parts. Unknown block types are
// rejected rather than dropped.
func convertBlocks(blocks []anthropic.ContentBlockUnion) ([]core.Part, error) {
	var parts []core.Part
	for i, block := range blocks {
		switch block.Type {
		case "text":
			if text := block.AsText().Text; text != "" {
				parts = append(parts, core.TextPart{Text: text})
			}
		case "thinking":
			th := block.AsThinking()
			parts = append(parts, core.TextPart{
				Text:      th.Thinking,
				Thought:   true,
				Signature: core.Signature(th.Signature),
			})
		case "tool_use":
			toolBlock := block.AsToolUse()
			args := map[string]any{}
			if raw, err := json.Marshal(toolBlock.Input); err == nil && len(raw) > 0 && string(raw) != "null" {
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, &model.APIError{
						Provider: "anthropic",
						Message:  fmt.Sprintf("tool call %q has malformed input", toolBlock.Name),
						Err:      err,
					}
				}
			}
			parts = append(parts, core.FunctionCallPart{
				FunctionCall: core.FunctionCall{
					ID:   toolBlock.ID,
					Name: toolBlock.Name,
					Args: args,
				},
			})
		default:
			return nil, &model.APIError{
				Provider: "anthropic",
				Err:      &core.UnrecognizedPartError{Index: i, Detail: "block type " + block.Type},
			}
		}
	}
	return parts, nil
}

// buildMessages converts genloop contents to Anthropic message format. Tool
// result turns become user messages carrying tool_result blocks.
func buildMessages(contents []core.Content) ([]anthropic.MessageParam, error) {
	var messages []anthropic.MessageParam
	var pendingIDs []string

	for turn, c := range contents {
		switch {
		case c.Role == core.RoleModel:
			content, ids := buildAssistantContent(turn, c.Parts)
			pendingIDs = ids
			if len(content) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(content...))
			}
		case c.IsToolResult():
			content, err := buildToolResults(c, pendingIDs)
			if err != nil {
				return nil, err
			}
			pendingIDs = nil
			messages = append(messages, anthropic.NewUserMessage(content...))
		default:
			content := buildUserContent(c.Parts)
			if len(content) > 0 {
				messages = append(messages, anthropic.NewUserMessage(content...))
			}
		}
	}

	return messages, nil
}

// buildUserContent builds content for user messages
func buildUserContent(parts []core.Part) []anthropic.ContentBlockParamUnion {
	var content []anthropic.ContentBlockParamUnion

	for _, p := range parts {
		switch part := p.(type) {
		case core.TextPart:
			if part.Text != "" && !part.Thought {
				content = append(content, anthropic.NewTextBlock(part.Text))
			}
		case core.InlineDataPart:
			content = append(content, anthropic.NewImageBlockBase64(part.MimeType, part.Data))
		case core.FilePart:
			content = append(content, anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: part.URI}))
		}
	}

	return content
}

// buildAssistantContent builds content for assistant messages. Thinking
// blocks are replayed with their signature.
func buildAssistantContent(turn int, parts []core.Part) ([]anthropic.ContentBlockParamUnion, []string) {
	var content []anthropic.ContentBlockParamUnion
	var toolCallIDs []string

	for _, p := range parts {
		switch part := p.(type) {
		case core.TextPart:
			switch {
			case part.Thought && !part.Signature.IsZero():
				content = append(content, anthropic.NewThinkingBlock(string(part.Signature), part.Text))
			case part.Text != "" && !part.Thought:
				content = append(content, anthropic.NewTextBlock(part.Text))
			}
		case core.FunctionCallPart:
			id := part.FunctionCall.ID
			if id == "" {
				id = fmt.Sprintf("toolu_%d_%d", turn, len(toolCallIDs))
			}
			input := part.FunctionCall.Args
			if input == nil {
				input = map[string]any{}
			}
			content = append(content, anthropic.NewToolUseBlock(id, input, part.FunctionCall.Name))
			toolCallIDs = append(toolCallIDs, id)
		}
	}

	return content, toolCallIDs
}

func buildToolResults(c core.Content, pendingIDs []string) ([]anthropic.ContentBlockParamUnion, error) {
	var content []anthropic.ContentBlockParamUnion
	for i, fr := range c.FunctionResponses() {
		id := fr.ID
		if id == "" && i < len(pendingIDs) {
			id = pendingIDs[i]
		}
		if fr.Error != "" {
			content = append(content, anthropic.NewToolResultBlock(id, fr.Error, true))
			continue
		}
		b, err := json.Marshal(fr.Response)
		if err != nil {
			return nil, fmt.Errorf("encode response of %q: %w", fr.Name, err)
		}
		content = append(content, anthropic.NewToolResultBlock(id, string(b), false))
	}
	return content, nil
}

// buildTools converts tool definitions to Anthropic tool format
func buildTools(tools []model.ToolDefinition) []anthropic.ToolUnionParam {
	anthropicTools := make([]anthropic.ToolUnionParam, len(tools))

	for i, tool := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}

		if params := tool.Function.Parameters; params != nil {
			if properties, exists := params["properties"]; exists {
				inputSchema.Properties = properties
			}
			switch required := params["required"].(type) {
			case []string:
				inputSchema.Required = required
			case []any:
				for _, r := range required {
					if s, ok := r.(string); ok {
						inputSchema.Required = append(inputSchema.Required, s)
					}
				}
			}
		}

		anthropicTools[i] = anthropic.ToolUnionParamOfTool(inputSchema, tool.Function.Name)
		if tool.Function.Description != "" && anthropicTools[i].OfTool != nil {
			anthropicTools[i].OfTool.Description = anthropic.String(tool.Function.Description)
		}
	}

	return anthropicTools
}

func wrapError(err error) error {
	apiErr := &model.APIError{Provider: "anthropic", Err: err}

	var aerr *anthropic.Error
	if errors.As(err, &aerr) {
		apiErr.StatusCode = aerr.StatusCode
		switch aerr.StatusCode {
		case 429, 529:
			apiErr.Category = model.CategoryRateLimited
		case 401, 403:
			apiErr.Category = model.CategoryAuth
		case 408, 504:
			apiErr.Category = model.CategoryTimeout
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		apiErr.Category = model.CategoryTimeout
	}
	return apiErr
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          string(m.opts.Model),
		Provider:      "anthropic",
		SupportsTools: true,
		SupportsImage: false,
	}
}
