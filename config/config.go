// Package config loads genloop settings from defaults, an optional YAML file
// and the environment, in that order of precedence (environment wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/genloop/core"
	"github.com/hupe1980/genloop/logging"
)

// Supported model providers.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// ModelConfig selects and authenticates the language model.
type ModelConfig struct {
	Provider string        `yaml:"provider"`
	Name     string        `yaml:"name,omitempty"`
	APIKey   string        `yaml:"api_key,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
}

// MCPConfig locates the remote tool server. Tools are unavailable unless
// both URL and Token are set.
type MCPConfig struct {
	URL            string        `yaml:"url,omitempty"`
	Token          string        `yaml:"token,omitempty"`
	Transport      string        `yaml:"transport,omitempty"` // sse or streamable
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// EngineConfig tunes orchestration.
type EngineConfig struct {
	Mode                  string `yaml:"mode"` // iterative or selection
	MaxConcurrentRuns     int    `yaml:"max_concurrent_runs"`
	MaxToolRounds         int    `yaml:"max_tool_rounds"`
	MaxParallelTools      int    `yaml:"max_parallel_tools"`
	MaxHistoryTurns       int    `yaml:"max_history_turns"`
	AspectRatio           string `yaml:"aspect_ratio"`
	ImageSize             string `yaml:"image_size"`
	ToolInstruction       string `yaml:"tool_instruction,omitempty"`
	GenerationInstruction string `yaml:"generation_instruction,omitempty"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	AuthToken    string        `yaml:"auth_token,omitempty"`
	SelectionTTL time.Duration `yaml:"selection_ttl"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"` // json, text or tint
	NoColor bool   `yaml:"no_color,omitempty"`
}

// Config is the complete runtime configuration.
type Config struct {
	Model  ModelConfig  `yaml:"model"`
	MCP    MCPConfig    `yaml:"mcp"`
	Engine EngineConfig `yaml:"engine"`
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Model: ModelConfig{Provider: ProviderGemini},
		MCP: MCPConfig{
			Transport:      "sse",
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			AttemptTimeout: 30 * time.Second,
		},
		Engine: EngineConfig{
			Mode:              "iterative",
			MaxConcurrentRuns: 10,
			MaxToolRounds:     core.MaxToolRounds,
			MaxHistoryTurns:   20,
			AspectRatio:       "16:9",
			ImageSize:         "1K",
		},
		Server: ServerConfig{
			Addr:         ":8080",
			SelectionTTL: 30 * time.Minute,
			MaxBodyBytes: 32 << 20,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and environment overrides. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		data = []byte(expandEnvVars(string(data)))
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays environment variables. MCP_AUTH_TOKEN falls back to
// AUTH_PASSWORD, which deployments historically shared with the tool server.
func applyEnv(cfg *Config) error {
	setString(&cfg.Model.Provider, "GENLOOP_MODEL_PROVIDER")
	switch cfg.Model.Provider {
	case ProviderGemini:
		setString(&cfg.Model.APIKey, "GEMINI_API_KEY")
		setString(&cfg.Model.Name, "GEMINI_MODEL")
	case ProviderOpenAI:
		setString(&cfg.Model.APIKey, "OPENAI_API_KEY")
	case ProviderAnthropic:
		setString(&cfg.Model.APIKey, "ANTHROPIC_API_KEY")
	}
	setString(&cfg.Model.Name, "GENLOOP_MODEL")

	setString(&cfg.MCP.URL, "MCP_SERVER_URL")
	if cfg.MCP.Token == "" {
		setString(&cfg.MCP.Token, "AUTH_PASSWORD")
	}
	setString(&cfg.MCP.Token, "MCP_AUTH_TOKEN")
	setString(&cfg.MCP.Transport, "GENLOOP_MCP_TRANSPORT")

	setString(&cfg.Engine.Mode, "GENLOOP_MODE")
	setString(&cfg.Server.Addr, "GENLOOP_ADDR")
	setString(&cfg.Server.AuthToken, "GENLOOP_AUTH_TOKEN")
	setString(&cfg.Log.Level, "GENLOOP_LOG_LEVEL")
	setString(&cfg.Log.Format, "GENLOOP_LOG_FORMAT")

	if err := setInt(&cfg.Engine.MaxConcurrentRuns, "GENLOOP_MAX_CONCURRENT_RUNS"); err != nil {
		return err
	}
	if err := setInt(&cfg.Engine.MaxToolRounds, "GENLOOP_MAX_TOOL_ROUNDS"); err != nil {
		return err
	}
	return setDuration(&cfg.Model.Timeout, "GENLOOP_MODEL_TIMEOUT")
}

// MCPEnabled reports whether a tool server is configured.
func (c *Config) MCPEnabled() bool {
	return c.MCP.URL != "" && c.MCP.Token != ""
}

// LoggingConfig converts the log section for logging.New.
func (c *Config) LoggingConfig() (logging.Config, error) {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return logging.Config{}, err
	}
	return logging.Config{
		Level:   level,
		Format:  c.Log.Format,
		Output:  os.Stderr,
		NoColor: c.Log.NoColor,
	}, nil
}

// ValidateOptions narrows what Validate checks.
type ValidateOptions struct {
	// SkipModel leaves the model section unchecked, for callers that supply
	// their own model.Model.
	SkipModel bool
}

// Validate reports every configuration problem at once.
func (c *Config) Validate(optFns ...func(o *ValidateOptions)) error {
	var opts ValidateOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	var errs []error

	if !opts.SkipModel {
		switch c.Model.Provider {
		case ProviderGemini:
			if c.Model.APIKey == "" {
				errs = append(errs, errors.New("model.api_key (GEMINI_API_KEY) is required for the gemini provider"))
			}
		case ProviderOpenAI, ProviderAnthropic:
			// The SDK clients fall back to their own environment variables.
		default:
			errs = append(errs, fmt.Errorf("unknown model provider %q", c.Model.Provider))
		}
	}

	switch c.MCP.Transport {
	case "", "sse", "streamable":
	default:
		errs = append(errs, fmt.Errorf("unknown mcp transport %q", c.MCP.Transport))
	}
	if c.MCP.MaxAttempts < 1 {
		errs = append(errs, errors.New("mcp.max_attempts must be at least 1"))
	}

	switch c.Engine.Mode {
	case "iterative", "selection":
	default:
		errs = append(errs, fmt.Errorf("unknown engine mode %q", c.Engine.Mode))
	}
	if c.Engine.MaxConcurrentRuns < 0 || c.Engine.MaxToolRounds < 0 ||
		c.Engine.MaxParallelTools < 0 || c.Engine.MaxHistoryTurns < 0 {
		errs = append(errs, errors.New("engine limits must not be negative"))
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text", "tint":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}

	if len(errs) == 0 {
		return nil
	}
	return &core.Error{Kind: core.KindConfiguration, Message: "invalid configuration", Detail: errors.Join(errs...).Error(), Err: errors.Join(errs...)}
}

// expandEnvVars expands ${VAR} references in the raw config file.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
