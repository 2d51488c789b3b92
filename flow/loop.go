package flow

import (
	"context"

	"github.com/hupe1980/genloop/core"
	"github.com/hupe1980/genloop/logging"
	"github.com/hupe1980/genloop/parser"
	"github.com/hupe1980/genloop/reference"
	"github.com/hupe1980/genloop/session"
)

// LiftedDataPlaceholder replaces inline image data in tool results once the
// image has been spliced into the user turn as a part of its own.
const LiftedDataPlaceholder = "[image attached to the user turn]"

// ToolLoopOptions configures a ToolLoop.
type ToolLoopOptions struct {
	// MaxRounds caps the number of dispatch rounds. Zero means
	// core.MaxToolRounds; a negative value disables the cap.
	MaxRounds int
	Logger    logging.Logger
}

// Round records one dispatch round.
type Round struct {
	Calls    []core.FunctionCall
	Outcomes []core.Outcome
	Lifted   int // Reference parts spliced into the user turn
}

// LoopResult is the outcome of a ToolLoop run.
type LoopResult struct {
	Result     core.ParsedResult
	Rounds     []Round
	CapReached bool
}

// ToolLoop is the iterative single-session orchestration pattern.
type ToolLoop struct {
	dispatcher *Dispatcher
	opts       ToolLoopOptions
}

// NewToolLoop creates a loop that dispatches through d.
func NewToolLoop(d *Dispatcher, optFns ...func(o *ToolLoopOptions)) *ToolLoop {
	opts := ToolLoopOptions{MaxRounds: core.MaxToolRounds, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxRounds == 0 {
		opts.MaxRounds = core.MaxToolRounds
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &ToolLoop{dispatcher: d, opts: opts}
}

// Run sends parts as the user's turn and loops until the model stops asking
// for tools or the round cap is hit. Only model errors are returned; reaching
// the cap degrades to a best-effort parse of the last response.
func (l *ToolLoop) Run(ctx context.Context, sess *session.Session, parts ...core.Part) (*LoopResult, error) {
	resp, err := sess.Send(ctx, parts...)
	if err != nil {
		return nil, err
	}

	limit := l.opts.MaxRounds
	if limit < 0 {
		limit = 0
	}
	budget := core.NewRoundBudget(limit)
	out := &LoopResult{}

	for parser.HasToolCalls(resp) {
		if !budget.Take() {
			out.CapReached = true
			l.opts.Logger.Warn("flow.tool.round_cap", "rounds", budget.Count(), "max", l.opts.MaxRounds)
			break
		}

		calls := parser.ExtractToolCalls(resp)
		l.opts.Logger.Info("flow.tool.round", "round", budget.Count(), "calls", len(calls))

		outcomes := l.dispatcher.Dispatch(ctx, calls)

		var lifted []core.Part
		responses := make([]core.Part, 0, len(outcomes))
		for _, o := range outcomes {
			if o.Success {
				refs, malformed := reference.Lift(o.Result)
				if malformed > 0 {
					l.opts.Logger.Warn("flow.tool.malformed_reference", "tool", o.Name, "count", malformed)
				}
				if len(refs) > 0 {
					lifted = append(lifted, refs...)
					o.Result = redactImageData(o.Result)
				}
			}
			responses = append(responses, o.Response())
		}

		if len(lifted) > 0 && !sess.AttachToLatestUserTurn(lifted...) {
			l.opts.Logger.Warn("flow.tool.no_user_turn", "dropped", len(lifted))
		}

		out.Rounds = append(out.Rounds, Round{Calls: calls, Outcomes: outcomes, Lifted: len(lifted)})

		resp, err = sess.Send(ctx, responses...)
		if err != nil {
			return nil, err
		}
	}

	out.Result = parser.Parse(resp)
	return out, nil
}

// redactImageData returns a copy of result whose image content items no
// longer carry their base64 payload. It looks at the same array the
// reference lifter reads: "content", or "contents" when "content" is absent.
func redactImageData(result map[string]any) map[string]any {
	key := "content"
	if _, ok := result[key]; !ok {
		key = "contents"
	}

	var items []any
	switch raw := result[key].(type) {
	case []any:
		items = raw
	case []map[string]any:
		items = make([]any, len(raw))
		for i, m := range raw {
			items[i] = m
		}
	default:
		return result
	}

	redacted := make(map[string]any, len(result))
	for k, v := range result {
		redacted[k] = v
	}

	copied := make([]any, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok || m["type"] != "image" {
			copied[i] = item
			continue
		}
		c := make(map[string]any, len(m))
		for k, v := range m {
			c[k] = v
		}
		c["data"] = LiftedDataPlaceholder
		copied[i] = c
	}
	redacted[key] = copied
	return redacted
}
