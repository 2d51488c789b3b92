package flow

import (
	"context"

	"github.com/hupe1980/genloop/core"
	"github.com/hupe1980/genloop/logging"
	"github.com/hupe1980/genloop/parser"
	"github.com/hupe1980/genloop/reference"
	"github.com/hupe1980/genloop/session"
)

// Decision is the outcome of the lookup phase.
type Decision struct {
	// ToolsRequested is false when the model asked for no lookup; the caller
	// should go straight to generation without candidates.
	ToolsRequested bool
	Calls          []core.FunctionCall
	Outcomes       []core.Outcome
	// Candidates holds every image returned by the lookup, in call order
	// then item order.
	Candidates []core.Image
}

// Selection is the two-phase human-in-the-loop pattern.
type Selection struct {
	dispatcher *Dispatcher
	logger     logging.Logger
}

// NewSelection creates a selection flow dispatching through d.
func NewSelection(d *Dispatcher, logger logging.Logger) *Selection {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Selection{dispatcher: d, logger: logger}
}

// Decide sends message to the decision session and runs its tool calls once.
// Failed calls are logged and contribute no candidates.
func (s *Selection) Decide(ctx context.Context, sess *session.Session, message string) (*Decision, error) {
	resp, err := sess.Send(ctx, core.TextPart{Text: message})
	if err != nil {
		return nil, err
	}

	if !parser.HasToolCalls(resp) {
		s.logger.Info("flow.selection.no_lookup")
		return &Decision{Candidates: []core.Image{}}, nil
	}

	calls := parser.ExtractToolCalls(resp)
	outcomes := s.dispatcher.Dispatch(ctx, calls)

	d := &Decision{
		ToolsRequested: true,
		Calls:          calls,
		Outcomes:       outcomes,
		Candidates:     []core.Image{},
	}
	for _, o := range outcomes {
		if !o.Success {
			s.logger.Warn("flow.selection.tool_failed", "tool", o.Name, "error", o.Error)
			continue
		}
		d.Candidates = append(d.Candidates, reference.Images(o.Result)...)
	}

	s.logger.Info("flow.selection.candidates", "calls", len(calls), "candidates", len(d.Candidates))
	return d, nil
}

// Generate sends message plus the chosen images to the generation session and
// parses the answer. An empty selection generates from text only. Images are
// decoded from their transport encoding first; an undecodable image is a
// validation error and no model call is made.
func (s *Selection) Generate(ctx context.Context, sess *session.Session, message string, images []core.Image) (core.ParsedResult, error) {
	parts, err := SelectionParts(message, images)
	if err != nil {
		return core.ParsedResult{}, err
	}

	resp, err := sess.Send(ctx, parts...)
	if err != nil {
		return core.ParsedResult{}, err
	}
	return parser.Parse(resp), nil
}

// SelectionParts builds the user turn for generation: the message text
// followed by one inline part per image.
func SelectionParts(message string, images []core.Image) ([]core.Part, error) {
	parts := make([]core.Part, 0, len(images)+1)
	parts = append(parts, core.TextPart{Text: message})
	for i, img := range images {
		decoded, ok := reference.DecodeImage(img.MimeType, img.Data)
		if !ok {
			return nil, core.ValidationErrorf("selected image %d is not valid base64 image data", i)
		}
		parts = append(parts, core.InlineDataPart{MimeType: decoded.MimeType, Data: decoded.Data})
	}
	return parts, nil
}
