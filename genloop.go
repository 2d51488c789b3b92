// Package genloop provides a high-level façade over the orchestration engine
// and the services it needs (language model backend, remote tool client,
// pending selection store and logging). Most applications interact with this
// package by:
//  1. Loading a config.Config (config.Load) and creating a Genloop via New
//  2. Answering chat requests with Run, and in selection mode completing
//     paused requests with Resume or abandoning them with Cancel
//  3. Optionally exposing everything over HTTP via Server
//
// The façade delegates orchestration to engine.Engine while keeping setup
// concise. Every service built from configuration can be overridden through
// Options, which is how tests inject a scripted model or a local tool
// registry.
package genloop

import (
	"context"
	"fmt"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/genloop/config"
	"github.com/hupe1980/genloop/core"
	"github.com/hupe1980/genloop/engine"
	"github.com/hupe1980/genloop/logging"
	"github.com/hupe1980/genloop/model"
	"github.com/hupe1980/genloop/model/anthropic"
	"github.com/hupe1980/genloop/model/gemini"
	"github.com/hupe1980/genloop/model/openai"
	"github.com/hupe1980/genloop/server"
	"github.com/hupe1980/genloop/session"
	"github.com/hupe1980/genloop/tool"
	"github.com/hupe1980/genloop/tool/mcp"
)

// DiscoveryTimeout bounds the tool listing performed by New.
const DiscoveryTimeout = 30 * time.Second

// Options configures the Genloop instance. Unset services are built from the
// configuration passed to New.
type Options struct {
	// Model overrides the backend selected by config.Model.
	Model model.Model

	// Tools overrides the MCP client. Declarations should accompany it;
	// they are not discovered for custom executors.
	Tools        tool.Executor
	Declarations []model.ToolDefinition

	// Callbacks receive engine lifecycle notifications.
	Callbacks *engine.CallbackManager

	// Logger defaults to one built from config.Log.
	Logger logging.Logger
}

// Genloop aggregates the engine and the services around it.
type Genloop struct {
	cfg    config.Config
	engine *engine.Engine
	mcp    *mcp.Client // nil without a tool server or with a custom executor
	store  *session.PendingStore
	logger logging.Logger
}

// New validates cfg and wires the engine. When a tool server is configured
// its tools are listed once; a failed listing is logged and leaves the tool
// session without declarations.
func New(ctx context.Context, cfg config.Config, optFns ...func(o *Options)) (*Genloop, error) {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := cfg.Validate(func(o *config.ValidateOptions) {
		o.SkipModel = opts.Model != nil
	}); err != nil {
		return nil, err
	}

	if opts.Logger == nil {
		logCfg, err := cfg.LoggingConfig()
		if err != nil {
			return nil, err
		}
		if opts.Logger, err = logging.New(logCfg); err != nil {
			return nil, err
		}
	}

	g := &Genloop{
		cfg:    cfg,
		logger: opts.Logger,
		store: session.NewPendingStore(func(o *session.PendingStoreOptions) {
			o.TTL = cfg.Server.SelectionTTL
		}),
	}

	if opts.Model == nil {
		m, err := NewModel(ctx, cfg.Model)
		if err != nil {
			return nil, err
		}
		opts.Model = m
	}

	if opts.Tools == nil && cfg.MCPEnabled() {
		client, err := NewToolClient(cfg.MCP, opts.Logger)
		if err != nil {
			return nil, err
		}
		g.mcp = client
		opts.Tools = client
		opts.Declarations = g.discover(ctx)
	}

	g.engine = engine.New(func(o *engine.Options) {
		o.Config = EngineConfig(cfg)
		o.Model = opts.Model
		o.Tools = opts.Tools
		o.Declarations = opts.Declarations
		o.Callbacks = opts.Callbacks
		o.Logger = opts.Logger
	})

	g.logger.Info("genloop.ready",
		"mode", string(g.engine.Mode()),
		"model", opts.Model.Info().Name,
		"provider", opts.Model.Info().Provider,
		"tools", len(opts.Declarations),
		"tool_server", opts.Tools != nil,
	)
	return g, nil
}

func (g *Genloop) discover(ctx context.Context) []model.ToolDefinition {
	ctx, cancel := context.WithTimeout(ctx, DiscoveryTimeout)
	defer cancel()

	defs, err := g.mcp.ListTools(ctx)
	if err != nil {
		g.logger.Warn("genloop.tools.discovery_failed", "error", err.Error())
		return nil
	}
	return defs
}

// NewModel builds the language model backend selected by cfg.Provider.
func NewModel(ctx context.Context, cfg config.ModelConfig) (model.Model, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return gemini.NewModel(ctx, func(o *gemini.Options) {
			o.APIKey = cfg.APIKey
			if cfg.Name != "" {
				o.Model = cfg.Name
			}
		})
	case config.ProviderOpenAI:
		return openai.NewModel(func(o *openai.Options) {
			o.APIKey = cfg.APIKey
			if cfg.Name != "" {
				o.Model = cfg.Name
			}
		}), nil
	case config.ProviderAnthropic:
		return anthropic.NewModel(func(o *anthropic.Options) {
			o.APIKey = cfg.APIKey
			if cfg.Name != "" {
				o.Model = anthropicsdk.Model(cfg.Name)
			}
		}), nil
	default:
		return nil, &core.Error{
			Kind:    core.KindConfiguration,
			Message: "invalid configuration",
			Detail:  fmt.Sprintf("unknown model provider %q", cfg.Provider),
		}
	}
}

// NewToolClient builds the MCP client described by cfg.
func NewToolClient(cfg config.MCPConfig, logger logging.Logger) (*mcp.Client, error) {
	return mcp.New(func(o *mcp.Options) {
		o.Endpoint = cfg.URL
		o.Token = cfg.Token
		if cfg.Transport != "" {
			o.Transport = cfg.Transport
		}
		o.Policy.MaxAttempts = cfg.MaxAttempts
		o.Policy.InitialBackoff = cfg.InitialBackoff
		o.Policy.AttemptTimeout = cfg.AttemptTimeout
		o.Logger = logger
	})
}

// EngineConfig converts the engine section of cfg.
func EngineConfig(cfg config.Config) engine.Config {
	ec := engine.DefaultConfig
	ec.Mode = engine.Mode(cfg.Engine.Mode)
	ec.MaxConcurrentRuns = cfg.Engine.MaxConcurrentRuns
	ec.MaxToolRounds = cfg.Engine.MaxToolRounds
	ec.MaxParallelTools = cfg.Engine.MaxParallelTools
	ec.MaxHistoryTurns = cfg.Engine.MaxHistoryTurns
	ec.ModelTimeout = cfg.Model.Timeout
	if cfg.Engine.AspectRatio != "" {
		ec.AspectRatio = cfg.Engine.AspectRatio
	}
	if cfg.Engine.ImageSize != "" {
		ec.ImageSize = cfg.Engine.ImageSize
	}
	if cfg.Engine.ToolInstruction != "" {
		ec.ToolInstruction = cfg.Engine.ToolInstruction
	}
	if cfg.Engine.GenerationInstruction != "" {
		ec.GenerationInstruction = cfg.Engine.GenerationInstruction
	}
	return ec
}

// Engine returns the underlying engine.
func (g *Genloop) Engine() *engine.Engine { return g.engine }

// Logger returns the logger shared by all services.
func (g *Genloop) Logger() logging.Logger { return g.logger }

// Run answers one chat request. See engine.Engine.Run.
func (g *Genloop) Run(ctx context.Context, req engine.RunRequest) (*engine.Result, error) {
	return g.engine.Run(ctx, req)
}

// Resume completes a paused selection. See engine.Engine.Resume.
func (g *Genloop) Resume(ctx context.Context, req engine.ResumeRequest) (*engine.Result, error) {
	return g.engine.Resume(ctx, req)
}

// Cancel abandons a paused selection and returns the prior history.
func (g *Genloop) Cancel(p core.PendingSelection) core.History {
	return g.engine.Cancel(p)
}

// ListTools lists the tools offered by the configured tool server.
func (g *Genloop) ListTools(ctx context.Context) ([]model.ToolDefinition, error) {
	if g.mcp == nil {
		return nil, fmt.Errorf("list tools: %w", tool.ErrUnavailable)
	}
	return g.mcp.ListTools(ctx)
}

// Server returns an HTTP server for this instance, configured from the
// server section of the configuration.
func (g *Genloop) Server(optFns ...func(o *server.Options)) *server.Server {
	return server.New(g.engine, append([]func(o *server.Options){func(o *server.Options) {
		o.AuthToken = g.cfg.Server.AuthToken
		o.MaxBodyBytes = g.cfg.Server.MaxBodyBytes
		o.Store = g.store
		o.Logger = g.logger
	}}, optFns...)...)
}
