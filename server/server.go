package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hupe1980/genloop/core"
	"github.com/hupe1980/genloop/engine"
	"github.com/hupe1980/genloop/logging"
	"github.com/hupe1980/genloop/session"
)

// Defaults applied when Options leave a field zero.
const (
	DefaultMaxBodyBytes    int64 = 32 << 20
	DefaultShutdownTimeout       = 10 * time.Second
)

// Response types of the chat endpoint.
const (
	TypeFinal      = "final"
	TypeMCPResults = "mcp_results"
)

// Options configures a Server.
type Options struct {
	// AuthToken guards the mutating routes. Empty disables the gate.
	AuthToken string

	// MaxBodyBytes bounds request bodies. History and images travel in the
	// body, so the default is generous.
	MaxBodyBytes int64

	// Store keeps paused selections between the two phases. Defaults to a
	// fresh in-memory store.
	Store *session.PendingStore

	ShutdownTimeout time.Duration

	Logger logging.Logger
}

// Server serves one Engine over HTTP.
type Server struct {
	engine  *engine.Engine
	store   *session.PendingStore
	opts    Options
	handler http.Handler
}

// New creates a Server for e.
func New(e *engine.Engine, optFns ...func(o *Options)) *Server {
	opts := Options{
		MaxBodyBytes:    DefaultMaxBodyBytes,
		ShutdownTimeout: DefaultShutdownTimeout,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Store == nil {
		opts.Store = session.NewPendingStore()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}

	s := &Server{engine: e, store: opts.Store, opts: opts}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler including request logging.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	reject := func(w http.ResponseWriter, _ *http.Request, err error) {
		writeMappedError(w, err)
	}
	guarded := chain(
		BearerGate(s.opts.AuthToken, reject),
		limitBody(s.opts.MaxBodyBytes),
	)

	mux := http.NewServeMux()
	mux.Handle("POST /api/chat", guarded(http.HandlerFunc(s.handleChat)))
	mux.Handle("POST /api/selections/{id}/resume", guarded(http.HandlerFunc(s.handleResume)))
	mux.Handle("POST /api/selections/{id}/cancel", guarded(http.HandlerFunc(s.handleCancel)))
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	return requestLogging(s.opts.Logger)(mux)
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully within the configured timeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.opts.Logger.Info("server.listen", "addr", addr, "mode", string(s.engine.Mode()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	if errors.Is(err, context.DeadlineExceeded) {
		s.opts.Logger.Warn("server.shutdown.timeout")
		if closeErr := srv.Close(); closeErr != nil {
			return fmt.Errorf("shutdown timeout and forced close failed: %w", errors.Join(err, closeErr))
		}
		return nil
	}
	return err
}

type chatRequest struct {
	Message        string       `json:"message"`
	History        core.History `json:"history"`
	SelectedImages []core.Image `json:"selectedImages"`
}

type finalResponse struct {
	Type          string         `json:"type"`
	RunID         string         `json:"runId"`
	Text          string         `json:"text"`
	Images        []core.Image   `json:"images"`
	TextSignature core.Signature `json:"textThoughtSignature,omitempty"`
	History       core.History   `json:"history"`
	Rounds        int            `json:"rounds"`
	CapReached    bool           `json:"capReached,omitempty"`
}

type selectionResponse struct {
	Type        string       `json:"type"`
	RunID       string       `json:"runId"`
	SelectionID string       `json:"selectionId"`
	Images      []core.Image `json:"images"`
	ExpiresAt   time.Time    `json:"expiresAt,omitzero"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeMappedError(w, err)
		return
	}

	res, err := s.engine.Run(r.Context(), engine.RunRequest{
		Message:        req.Message,
		History:        req.History,
		SelectedImages: req.SelectedImages,
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}

	if res.Pending != nil {
		s.store.Put(*res.Pending)
		writeJSON(w, http.StatusOK, selectionResponse{
			Type:        TypeMCPResults,
			RunID:       res.RunID,
			SelectionID: res.Pending.ID,
			Images:      res.Pending.Candidates,
			ExpiresAt:   s.store.ExpiresAt(*res.Pending),
		})
		return
	}
	writeJSON(w, http.StatusOK, final(res))
}

type resumeRequest struct {
	// Indices pick candidates of the paused selection. When absent, Images
	// carries the chosen images directly.
	Indices []int        `json:"indices"`
	Images  []core.Image `json:"images"`
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeMappedError(w, err)
		return
	}

	pending, err := s.store.Take(r.PathValue("id"))
	if err != nil {
		writeMappedError(w, err)
		return
	}

	images, err := chosenImages(pending, req)
	if err != nil {
		s.store.Put(pending)
		writeMappedError(w, err)
		return
	}

	res, err := s.engine.Resume(r.Context(), engine.ResumeRequest{
		Message: pending.Message,
		History: pending.History,
		Images:  images,
	})
	if err != nil {
		// The choice can be retried after a transient failure.
		s.store.Put(pending)
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, final(res))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	pending, err := s.store.Take(r.PathValue("id"))
	if err != nil {
		writeMappedError(w, err)
		return
	}
	history := s.engine.Cancel(pending)
	if history == nil {
		history = core.History{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"mode":              string(s.engine.Mode()),
		"activeRuns":        s.engine.ActiveRuns(),
		"pendingSelections": s.store.Len(),
	})
}

func chosenImages(p core.PendingSelection, req resumeRequest) ([]core.Image, error) {
	if req.Indices == nil {
		if req.Images == nil {
			return []core.Image{}, nil
		}
		return req.Images, nil
	}
	images := make([]core.Image, 0, len(req.Indices))
	for _, i := range req.Indices {
		if i < 0 || i >= len(p.Candidates) {
			return nil, core.ValidationErrorf("candidate index %d out of range [0,%d)", i, len(p.Candidates))
		}
		images = append(images, p.Candidates[i])
	}
	return images, nil
}

func final(res *engine.Result) finalResponse {
	out := finalResponse{
		Type:       TypeFinal,
		RunID:      res.RunID,
		History:    res.History,
		Rounds:     res.Rounds,
		CapReached: res.CapReached,
		Images:     []core.Image{},
	}
	if res.Final != nil {
		out.Text = res.Final.Text
		out.TextSignature = res.Final.TextSignature
		if res.Final.Images != nil {
			out.Images = res.Final.Images
		}
	}
	if out.History == nil {
		out.History = core.History{}
	}
	return out
}
