// Package server exposes the engine over HTTP.
//
// Routes:
//
//	POST /api/chat                         run one chat request
//	POST /api/selections/{id}/resume       generate from a paused selection
//	POST /api/selections/{id}/cancel       abandon a paused selection
//	GET  /healthz                          liveness and load
//
// Mutating routes sit behind an optional bearer token gate and a request
// body limit. Failures are answered with {error, kind, details}.
package server
