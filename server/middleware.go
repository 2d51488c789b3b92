package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/hupe1980/genloop/logging"
)

const (
	headerAuthorization = "Authorization"
	bearerPrefix        = "Bearer "
)

// ErrUnauthorized is reported when the bearer token is missing or wrong.
var ErrUnauthorized = errors.New("missing or invalid bearer token")

type middleware func(http.Handler) http.Handler

func chain(middlewares ...middleware) middleware {
	return func(next http.Handler) http.Handler {
		wrapped := next
		for i := len(middlewares) - 1; i >= 0; i-- {
			wrapped = middlewares[i](wrapped)
		}
		return wrapped
	}
}

// BearerGate rejects requests whose Authorization header does not carry
// token. An empty token disables the gate.
func BearerGate(token string, reject func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	expected := strings.TrimSpace(token)
	if expected == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	want := []byte(bearerPrefix + expected)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(strings.TrimSpace(r.Header.Get(headerAuthorization)))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				reject(w, r, ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func limitBody(maxBytes int64) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxBytes > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogging(logger logging.Logger) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusCapturingWriter{ResponseWriter: w}

			next.ServeHTTP(sw, r)

			args := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.statusCode(),
				"bytes", sw.bytes,
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if id := r.PathValue("id"); id != "" {
				args = append(args, "selection_id", id)
			}
			if sw.statusCode() >= http.StatusInternalServerError {
				logger.Warn("server.http.request", args...)
				return
			}
			logger.Info("server.http.request", args...)
		})
	}
}

type statusCapturingWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusCapturingWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusCapturingWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

func (w *statusCapturingWriter) statusCode() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}
