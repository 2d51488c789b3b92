package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/genloop/core"
	"github.com/hupe1980/genloop/internal/util"
	"github.com/hupe1980/genloop/logging"
	"github.com/hupe1980/genloop/model"
)

// DefaultMaxHistoryTurns bounds how many prior turns are replayed to the model.
const DefaultMaxHistoryTurns = 20

// Generation defaults for the image-producing flavor.
const (
	DefaultAspectRatio = "16:9"
	DefaultImageSize   = "1K"
)

// Options configures a Session.
type Options struct {
	// Instruction is the system instruction. It may contain text/template
	// actions rendered against InstructionVars.
	Instruction     string
	InstructionVars map[string]any

	Tools              []model.ToolDefinition
	ResponseModalities []string
	ImageConfig        *model.ImageConfig

	// MaxHistoryTurns caps the prior history replayed per call. Turns added
	// during the session are always sent. Zero or less disables the cap.
	MaxHistoryTurns int

	// Timeout bounds each model call. Zero means no timeout beyond ctx.
	Timeout time.Duration

	Logger logging.Logger
}

// Session is the conversation state of one run. It is safe for use by a
// single flow; concurrent Send calls are serialized.
type Session struct {
	model   model.Model
	opts    Options
	mu      sync.Mutex
	history core.History
	seeded  int // number of turns that came from prior history
}

// New creates a session over a copy of prior.
func New(m model.Model, prior core.History, optFns ...func(o *Options)) *Session {
	opts := Options{
		MaxHistoryTurns: DefaultMaxHistoryTurns,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	history := prior.Clone()
	return &Session{
		model:   m,
		opts:    opts,
		history: history,
		seeded:  len(history),
	}
}

// NewToolSession creates the tool-capable flavor: tool declarations are sent
// and output modalities are left to the model.
func NewToolSession(m model.Model, prior core.History, tools []model.ToolDefinition, optFns ...func(o *Options)) *Session {
	return New(m, prior, append([]func(o *Options){func(o *Options) {
		o.Tools = tools
	}}, optFns...)...)
}

// NewGenerationSession creates the generation-only flavor: text and image
// output with a fixed image policy and no tool declarations.
func NewGenerationSession(m model.Model, prior core.History, optFns ...func(o *Options)) *Session {
	s := New(m, prior, append([]func(o *Options){func(o *Options) {
		o.ResponseModalities = []string{model.ModalityText, model.ModalityImage}
		o.ImageConfig = &model.ImageConfig{AspectRatio: DefaultAspectRatio, ImageSize: DefaultImageSize}
	}}, optFns...)...)
	s.opts.Tools = nil
	return s
}

// Send appends a user turn built from parts, calls the model and appends the
// returned model turn. On any failure the provisional user turn is removed and
// history is left as it was before the call.
func (s *Session) Send(ctx context.Context, parts ...core.Part) (*model.Response, error) {
	turn := core.NewUserContent(parts...)
	if err := turn.Validate(); err != nil {
		return nil, fmt.Errorf("invalid user turn: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.buildRequest(turn)
	if err != nil {
		return nil, err
	}

	s.history = append(s.history, turn)

	callCtx := ctx
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := s.model.Generate(callCtx, req)
	if err != nil {
		s.rollback()
		s.opts.Logger.Warn("session.send.error", "model", s.model.Info().Name, "error", err.Error())
		return nil, err
	}
	if resp == nil {
		s.rollback()
		return nil, fmt.Errorf("model %s returned no response", s.model.Info().Name)
	}
	if err := resp.Content.Validate(); err != nil {
		s.rollback()
		return nil, &model.APIError{Provider: s.model.Info().Provider, Message: "unusable model turn", Err: err}
	}

	s.history = append(s.history, resp.Content.Clone())
	s.opts.Logger.Debug("session.send.success",
		"model", s.model.Info().Name,
		"turns", len(s.history),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

// History returns a copy of the conversation so far.
func (s *Session) History() core.History {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Clone()
}

// AttachToLatestUserTurn appends parts to the nearest user turn that is not a
// tool-result turn. It reports false when there is no such turn.
func (s *Session) AttachToLatestUserTurn(parts ...core.Part) bool {
	if len(parts) == 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.history.LatestUserTurn()
	if i < 0 {
		return false
	}
	turn := s.history[i].Clone()
	turn.Parts = append(turn.Parts, parts...)
	s.history[i] = turn
	return true
}

// Tools returns the declarations sent with every call.
func (s *Session) Tools() []model.ToolDefinition { return s.opts.Tools }

func (s *Session) buildRequest(turn core.Content) (model.Request, error) {
	instruction, err := util.RenderInstruction(s.opts.Instruction, s.opts.InstructionVars)
	if err != nil {
		return model.Request{}, fmt.Errorf("render system instruction: %w", err)
	}

	prior := s.history[:s.seeded].Window(s.opts.MaxHistoryTurns)
	contents := make([]core.Content, 0, len(prior)+len(s.history)-s.seeded+1)
	contents = append(contents, prior...)
	contents = append(contents, s.history[s.seeded:]...)
	contents = append(contents, turn)

	return model.Request{
		SystemInstruction:  instruction,
		Contents:           contents,
		Tools:              s.opts.Tools,
		ResponseModalities: s.opts.ResponseModalities,
		ImageConfig:        s.opts.ImageConfig,
	}, nil
}

func (s *Session) rollback() {
	s.history = s.history[:len(s.history)-1]
}
