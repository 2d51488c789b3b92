// Package engine exposes the orchestration core as two operations: Run, which
// answers a user message (or pauses for a human selection), and Resume, which
// completes a paused selection.
//
// The Engine validates input before any remote call, checks that a model is
// configured, bounds the number of simultaneous runs, assigns every run a
// uuid and classifies failures exactly once into *core.Error. Lifecycle
// callbacks (before/after run, on error, on pending) allow instrumentation
// without touching the flow code.
//
// Example:
//
//	eng := engine.New(func(o *engine.Options) {
//	    o.Model = gemini.NewModelFromClient(client)
//	    o.Tools = mcpClient
//	    o.Declarations = declarations
//	})
//	res, err := eng.Run(ctx, engine.RunRequest{Message: "a red fox, neon style"})
package engine
