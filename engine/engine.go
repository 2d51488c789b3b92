package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/genloop/core"
	"github.com/hupe1980/genloop/flow"
	"github.com/hupe1980/genloop/logging"
	"github.com/hupe1980/genloop/model"
	"github.com/hupe1980/genloop/session"
	"github.com/hupe1980/genloop/tool"
)

// Mode selects the orchestration pattern used by Run.
type Mode string

const (
	// ModeIterative keeps dispatching tool calls in one session until the
	// model produces a final answer.
	ModeIterative Mode = "iterative"

	// ModeSelection runs one lookup round, pauses with the image candidates
	// and generates once a human has picked a subset.
	ModeSelection Mode = "selection"
)

// Default system instructions for the two session flavors.
const (
	DefaultToolInstruction = "You create 16:9 thumbnail images for the user's request. " +
		"Use the available tools to look up reference images when the request names " +
		"specific characters, cards or objects you need to depict accurately."
	DefaultGenerationInstruction = "You create 16:9 thumbnail images for the user's request. " +
		"Use any attached images as visual references."
)

// Config defines tuning parameters for the Engine's operational behavior.
//
// Example:
//
//	cfg := engine.DefaultConfig
//	cfg.Mode = engine.ModeSelection
//	cfg.MaxConcurrentRuns = 4
type Config struct {
	// Mode selects the orchestration pattern. Defaults to ModeIterative.
	Mode Mode

	// MaxConcurrentRuns limits the number of runs executing at once. Callers
	// beyond the limit wait until a slot frees up or their context ends.
	// Set to 0 for unlimited.
	MaxConcurrentRuns int

	// MaxToolRounds caps dispatch rounds in iterative mode.
	MaxToolRounds int

	// MaxParallelTools caps concurrent tool calls within one round.
	// 0 means one goroutine per call.
	MaxParallelTools int

	// MaxHistoryTurns bounds the prior history replayed to the model.
	MaxHistoryTurns int

	// ModelTimeout bounds each model call. 0 disables the timeout.
	ModelTimeout time.Duration

	ToolInstruction       string
	GenerationInstruction string

	// Image policy for the generation session.
	AspectRatio string
	ImageSize   string
}

// DefaultConfig provides default configuration values.
var DefaultConfig = Config{
	Mode:                  ModeIterative,
	MaxConcurrentRuns:     10,
	MaxToolRounds:         core.MaxToolRounds,
	MaxHistoryTurns:       session.DefaultMaxHistoryTurns,
	ToolInstruction:       DefaultToolInstruction,
	GenerationInstruction: DefaultGenerationInstruction,
	AspectRatio:           session.DefaultAspectRatio,
	ImageSize:             session.DefaultImageSize,
}

// Options configures an Engine instance using the functional options pattern.
type Options struct {
	// Config contains operational parameters. Defaults to DefaultConfig.
	Config Config

	// Model is the language model endpoint. Required; Run and Resume fail
	// with a configuration error without it.
	Model model.Model

	// Tools executes tool calls. Nil means no tool server is configured and
	// every requested call is answered with an error outcome.
	Tools tool.Executor

	// Declarations are the tool schemas offered to the tool-capable session.
	Declarations []model.ToolDefinition

	// Callbacks receive lifecycle notifications. Optional.
	Callbacks *CallbackManager

	// Logger provides structured logging. Defaults to a no-op logger.
	Logger logging.Logger
}

// RunRequest is the input of Run.
type RunRequest struct {
	Message string
	History core.History

	// SelectedImages, when non-nil, are reference images chosen up front.
	// In selection mode they skip the lookup phase entirely; an empty
	// non-nil slice means "generate from text only".
	SelectedImages []core.Image
}

// ResumeRequest completes a paused selection.
type ResumeRequest struct {
	Message string
	History core.History
	Images  []core.Image
}

// Result is the outcome of Run or Resume. Exactly one of Final and Pending
// is set.
type Result struct {
	RunID   string                 `json:"run_id"`
	Final   *core.ParsedResult     `json:"final,omitempty"`
	Pending *core.PendingSelection `json:"pending,omitempty"`

	// History is the conversation after the run. For a pending result it is
	// the prior history unchanged.
	History core.History `json:"-"`

	Rounds     int  `json:"rounds"`
	CapReached bool `json:"cap_reached,omitempty"`
}

// Engine orchestrates runs against one model and one tool executor. It holds
// no per-conversation state and is safe for concurrent use.
type Engine struct {
	model        model.Model
	tools        tool.Executor
	declarations []model.ToolDefinition
	callbacks    *CallbackManager
	logger       logging.Logger
	config       Config

	sem chan struct{} // nil when unlimited

	activeMu sync.Mutex
	active   map[string]time.Time // run id -> start
}

// New creates an Engine.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config: DefaultConfig,
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Callbacks == nil {
		opts.Callbacks = NewCallbackManager()
	}
	if opts.Config.Mode == "" {
		opts.Config.Mode = ModeIterative
	}

	e := &Engine{
		model:        opts.Model,
		tools:        opts.Tools,
		declarations: opts.Declarations,
		callbacks:    opts.Callbacks,
		logger:       opts.Logger,
		config:       opts.Config,
		active:       make(map[string]time.Time),
	}
	if opts.Config.MaxConcurrentRuns > 0 {
		e.sem = make(chan struct{}, opts.Config.MaxConcurrentRuns)
	}
	return e
}

// Mode returns the configured orchestration pattern.
func (e *Engine) Mode() Mode { return e.config.Mode }

// ActiveRuns returns the number of runs currently executing.
func (e *Engine) ActiveRuns() int {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	return len(e.active)
}

// Run answers req.Message. In iterative mode the result is always final. In
// selection mode it is pending unless SelectedImages was supplied or the
// model asked for no lookup.
func (e *Engine) Run(ctx context.Context, req RunRequest) (*Result, error) {
	message, err := normalizeMessage(req.Message)
	if err != nil {
		return nil, err
	}
	req.Message = message
	images, err := normalizeImages(req.SelectedImages)
	if err != nil {
		return nil, err
	}
	if err := e.checkConfigured(); err != nil {
		return nil, err
	}

	return e.execute(ctx, "run", req.Message, func(ctx context.Context, runID string, logger logging.Logger) (*Result, error) {
		switch {
		case e.config.Mode == ModeSelection && req.SelectedImages != nil:
			return e.generate(ctx, runID, logger, req.Message, req.History, images)
		case e.config.Mode == ModeSelection:
			return e.decide(ctx, runID, logger, req.Message, req.History)
		default:
			return e.iterate(ctx, runID, logger, req.Message, req.History, images)
		}
	})
}

// Resume completes a paused selection with the images a human picked. An
// empty selection is valid and generates from text only.
func (e *Engine) Resume(ctx context.Context, req ResumeRequest) (*Result, error) {
	message, err := normalizeMessage(req.Message)
	if err != nil {
		return nil, err
	}
	req.Message = message
	images, err := normalizeImages(req.Images)
	if err != nil {
		return nil, err
	}
	if err := e.checkConfigured(); err != nil {
		return nil, err
	}

	return e.execute(ctx, "resume", req.Message, func(ctx context.Context, runID string, logger logging.Logger) (*Result, error) {
		return e.generate(ctx, runID, logger, req.Message, req.History, images)
	})
}

// Cancel abandons a paused selection and returns the history as if the
// request had never been made.
func (e *Engine) Cancel(p core.PendingSelection) core.History {
	e.logger.Info("engine.selection.cancelled", "selection_id", p.ID, "candidates", len(p.Candidates))
	_ = e.callbacks.ExecuteCallbacks(context.Background(), CallbackOnCancel, &CallbackContext{
		RunID:   p.ID,
		Mode:    e.config.Mode,
		Message: p.Message,
		Pending: &p,
	})
	return p.History.Clone()
}

type runFunc func(ctx context.Context, runID string, logger logging.Logger) (*Result, error)

func (e *Engine) execute(ctx context.Context, op, message string, fn runFunc) (*Result, error) {
	release, err := e.acquire(ctx)
	if err != nil {
		return nil, Classify(err)
	}
	defer release()

	runID := core.NewID()
	logger := logging.With(e.logger, "run_id", runID)
	start := time.Now()

	e.track(runID, start)
	defer e.untrack(runID)

	cbCtx := &CallbackContext{RunID: runID, Mode: e.config.Mode, Operation: op, Message: message}
	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackBeforeRun, cbCtx); err != nil {
		return nil, Classify(err)
	}

	logger.Info("engine.run.start", "op", op, "mode", string(e.config.Mode))

	res, err := fn(ctx, runID, logger)
	if err != nil {
		classified := Classify(err)
		logger.Error("engine.run.failed",
			"op", op,
			"kind", string(classified.Kind),
			"error", classified.Detail,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		cbCtx.Err = classified
		_ = e.callbacks.ExecuteCallbacks(ctx, CallbackOnError, cbCtx)
		return nil, classified
	}

	res.RunID = runID
	cbCtx.Result = res
	if res.Pending != nil {
		cbCtx.Pending = res.Pending
		_ = e.callbacks.ExecuteCallbacks(ctx, CallbackOnPending, cbCtx)
	}
	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackAfterRun, cbCtx); err != nil {
		return nil, Classify(err)
	}

	logger.Info("engine.run.completed",
		"op", op,
		"pending", res.Pending != nil,
		"rounds", res.Rounds,
		"cap_reached", res.CapReached,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (e *Engine) iterate(ctx context.Context, _ string, logger logging.Logger, message string, history core.History, images []core.Image) (*Result, error) {
	parts, err := flow.SelectionParts(message, images)
	if err != nil {
		return nil, err
	}

	sess := session.NewToolSession(e.model, history, e.declarations, e.sessionOptions(logger, e.config.ToolInstruction))
	loop := flow.NewToolLoop(e.dispatcher(logger), func(o *flow.ToolLoopOptions) {
		o.MaxRounds = e.config.MaxToolRounds
		o.Logger = logger
	})

	out, err := loop.Run(ctx, sess, parts...)
	if err != nil {
		return nil, err
	}

	final := out.Result
	return &Result{
		Final:      &final,
		History:    sess.History(),
		Rounds:     len(out.Rounds),
		CapReached: out.CapReached,
	}, nil
}

func (e *Engine) decide(ctx context.Context, runID string, logger logging.Logger, message string, history core.History) (*Result, error) {
	sess := session.NewToolSession(e.model, history, e.declarations, e.sessionOptions(logger, e.config.ToolInstruction))

	decision, err := flow.NewSelection(e.dispatcher(logger), logger).Decide(ctx, sess, message)
	if err != nil {
		return nil, err
	}
	if !decision.ToolsRequested {
		return e.generate(ctx, runID, logger, message, history, nil)
	}

	pending := &core.PendingSelection{
		ID:         core.NewID(),
		Message:    message,
		History:    history.Clone(),
		Candidates: decision.Candidates,
		CreatedAt:  time.Now().UTC(),
	}
	return &Result{Pending: pending, History: history.Clone(), Rounds: 1}, nil
}

func (e *Engine) generate(ctx context.Context, _ string, logger logging.Logger, message string, history core.History, images []core.Image) (*Result, error) {
	sess := session.NewGenerationSession(e.model, history, e.sessionOptions(logger, e.config.GenerationInstruction), func(o *session.Options) {
		o.ImageConfig = &model.ImageConfig{AspectRatio: e.config.AspectRatio, ImageSize: e.config.ImageSize}
	})

	res, err := flow.NewSelection(e.dispatcher(logger), logger).Generate(ctx, sess, message, images)
	if err != nil {
		return nil, err
	}
	return &Result{Final: &res, History: sess.History()}, nil
}

func (e *Engine) dispatcher(logger logging.Logger) *flow.Dispatcher {
	return flow.NewDispatcher(e.tools, func(o *flow.DispatcherOptions) {
		o.MaxParallel = e.config.MaxParallelTools
		o.Declarations = e.declarations
		o.Logger = logger
	})
}

func (e *Engine) sessionOptions(logger logging.Logger, instruction string) func(o *session.Options) {
	return func(o *session.Options) {
		o.Instruction = instruction
		o.MaxHistoryTurns = e.config.MaxHistoryTurns
		o.Timeout = e.config.ModelTimeout
		o.Logger = logger
	}
}

func (e *Engine) checkConfigured() error {
	if e.model == nil {
		return &core.Error{Kind: core.KindConfiguration, Message: msgConfiguration, Detail: "no language model configured"}
	}
	return nil
}

func (e *Engine) acquire(ctx context.Context) (func(), error) {
	if e.sem == nil {
		return func() {}, nil
	}
	select {
	case e.sem <- struct{}{}:
		return func() { <-e.sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) track(runID string, start time.Time) {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	e.active[runID] = start
}

func (e *Engine) untrack(runID string) {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	delete(e.active, runID)
}

// normalizeMessage trims surrounding whitespace; the trimmed text is what the
// model sees and what a pending selection records.
func normalizeMessage(message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", core.ValidationErrorf("message is required")
	}
	return message, nil
}

// normalizeImages decodes transport encodings up front so malformed input is
// rejected before any remote call. A nil slice stays nil.
func normalizeImages(images []core.Image) ([]core.Image, error) {
	if images == nil {
		return nil, nil
	}
	parts, err := flow.SelectionParts("", images)
	if err != nil {
		return nil, err
	}
	out := make([]core.Image, 0, len(images))
	for _, p := range parts[1:] {
		inline := p.(core.InlineDataPart)
		out = append(out, core.Image{MimeType: inline.MimeType, Data: inline.Data})
	}
	return out, nil
}
