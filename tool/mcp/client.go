// Package mcp executes tool calls against a remote Model Context Protocol
// server.
//
// Every attempt opens a fresh session over SSE or streamable HTTP,
// authenticates with a bearer token, calls the tool under the per-attempt
// timeout of the retry policy and closes the session before returning or
// retrying. Sessions are never pooled.
package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hupe1980/genloop/logging"
	"github.com/hupe1980/genloop/model"
	"github.com/hupe1980/genloop/tool"
)

// Transport kinds.
const (
	TransportSSE        = "sse"
	TransportStreamable = "streamable"
)

// Options configure a Client.
type Options struct {
	Endpoint   string
	Token      string
	Transport  string // TransportSSE (default) or TransportStreamable
	Policy     tool.RetryPolicy
	HTTPClient *http.Client // Base client; the bearer header is added on top
	Logger     logging.Logger
	Name       string // Client implementation name announced to the server
	Version    string
}

// transportBuilder is overridden in tests to stub the transport factory.
var transportBuilder = buildTransport

// Client is a tool.Executor backed by a remote MCP server.
type Client struct {
	impl *mcpsdk.Client
	opts Options
}

var _ tool.Executor = (*Client)(nil)

// New creates a Client. It fails with tool.ErrUnavailable when the endpoint
// or the token is missing.
func New(optFns ...func(o *Options)) (*Client, error) {
	opts := Options{
		Transport: TransportSSE,
		Policy:    tool.DefaultRetryPolicy(),
		Logger:    logging.NoOpLogger{},
		Name:      "genloop",
		Version:   "1.0.0",
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if strings.TrimSpace(opts.Endpoint) == "" || opts.Token == "" {
		return nil, fmt.Errorf("%w: endpoint and token are required", tool.ErrUnavailable)
	}
	switch opts.Transport {
	case TransportSSE, TransportStreamable:
	default:
		return nil, fmt.Errorf("mcp: unsupported transport %q", opts.Transport)
	}

	impl := mcpsdk.NewClient(&mcpsdk.Implementation{Name: opts.Name, Version: opts.Version}, nil)
	return &Client{impl: impl, opts: opts}, nil
}

// Call implements tool.Executor with retry, backoff and per-attempt timeout.
func (c *Client) Call(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	return tool.Retry(ctx, name, c.opts.Policy, c.opts.Logger, func(ctx context.Context) (map[string]any, error) {
		return c.callOnce(ctx, name, args)
	})
}

func (c *Client) callOnce(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	session, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			c.opts.Logger.Debug("tool.mcp.close_failed", "tool", name, "error", cerr.Error())
		}
	}()

	if args == nil {
		args = map[string]any{}
	}
	res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("call %q: %w", name, err)
	}

	result := resultMap(res)
	if res.IsError {
		return nil, &tool.ToolError{
			Tool:    name,
			Message: errorText(res),
			Code:    tool.CodeToolFailed,
			Details: result,
		}
	}

	c.opts.Logger.Debug("tool.mcp.call_succeeded", "tool", name)
	return result, nil
}

// ListTools returns the declarations the server advertises, in server order.
func (c *Client) ListTools(ctx context.Context) ([]model.ToolDefinition, error) {
	if c.opts.Policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Policy.AttemptTimeout)
		defer cancel()
	}

	session, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	var defs []model.ToolDefinition
	for t, err := range session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("list tools: %w", err)
		}
		params, err := schemaMap(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", t.Name, err)
		}
		defs = append(defs, model.NewFunctionDefinition(t.Name, t.Description, params))
	}
	return defs, nil
}

func (c *Client) connect(ctx context.Context) (*mcpsdk.ClientSession, error) {
	transport, err := transportBuilder(c.opts)
	if err != nil {
		return nil, tool.Permanent(fmt.Errorf("build transport: %w", err))
	}
	session, err := c.impl.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", c.opts.Endpoint, err)
	}
	return session, nil
}

func buildTransport(opts Options) (mcpsdk.Transport, error) {
	httpClient := &http.Client{Transport: &bearerTransport{token: opts.Token}}
	if opts.HTTPClient != nil {
		cp := *opts.HTTPClient
		cp.Transport = &bearerTransport{token: opts.Token, base: opts.HTTPClient.Transport}
		httpClient = &cp
	}

	switch opts.Transport {
	case TransportStreamable:
		return &mcpsdk.StreamableClientTransport{Endpoint: opts.Endpoint, HTTPClient: httpClient}, nil
	default:
		return &mcpsdk.SSEClientTransport{Endpoint: opts.Endpoint, HTTPClient: httpClient}, nil
	}
}

// bearerTransport sets the Authorization header on every request, including
// the long-lived SSE stream.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (b *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := b.base
	if base == nil {
		base = http.DefaultTransport
	}
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+b.token)
	return base.RoundTrip(r)
}

// resultMap converts a call result into the generic mapping handed to the
// model: {"content": [...], "isError": bool, "structuredContent": ...}.
// Binary payloads are base64 encoded.
func resultMap(res *mcpsdk.CallToolResult) map[string]any {
	items := make([]any, 0, len(res.Content))
	for _, c := range res.Content {
		switch v := c.(type) {
		case *mcpsdk.TextContent:
			items = append(items, map[string]any{"type": "text", "text": v.Text})
		case *mcpsdk.ImageContent:
			items = append(items, map[string]any{
				"type":     "image",
				"data":     base64.StdEncoding.EncodeToString(v.Data),
				"mimeType": v.MIMEType,
			})
		case *mcpsdk.AudioContent:
			items = append(items, map[string]any{
				"type":     "audio",
				"data":     base64.StdEncoding.EncodeToString(v.Data),
				"mimeType": v.MIMEType,
			})
		case *mcpsdk.ResourceLink:
			items = append(items, map[string]any{
				"type":     "resource_link",
				"uri":      v.URI,
				"name":     v.Name,
				"mimeType": v.MIMEType,
			})
		case *mcpsdk.EmbeddedResource:
			item := map[string]any{"type": "resource"}
			if r := v.Resource; r != nil {
				item["uri"] = r.URI
				item["mimeType"] = r.MIMEType
				if r.Text != "" {
					item["text"] = r.Text
				}
				if len(r.Blob) > 0 {
					item["blob"] = base64.StdEncoding.EncodeToString(r.Blob)
				}
			}
			items = append(items, item)
		}
	}

	out := map[string]any{"content": items, "isError": res.IsError}
	if res.StructuredContent != nil {
		out["structuredContent"] = res.StructuredContent
	}
	return out
}

func errorText(res *mcpsdk.CallToolResult) string {
	var texts []string
	for _, c := range res.Content {
		if t, ok := c.(*mcpsdk.TextContent); ok && t.Text != "" {
			texts = append(texts, t.Text)
		}
	}
	if len(texts) == 0 {
		return "tool reported an error"
	}
	return strings.Join(texts, "\n")
}

func schemaMap(schema any) (map[string]any, error) {
	switch s := schema.(type) {
	case nil:
		return map[string]any{"type": "object"}, nil
	case map[string]any:
		return s, nil
	default:
		b, err := json.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("encode input schema: %w", err)
		}
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("decode input schema: %w", err)
		}
		return m, nil
	}
}
