package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/genloop/core"
)

// Step is one scripted model turn: either a response or an error.
type Step struct {
	Response *Response
	Err      error
}

// Reply builds a Step answering with a model turn made of parts.
func Reply(parts ...core.Part) Step {
	return Step{Response: &Response{
		Content:      core.Content{Role: core.RoleModel, Parts: parts},
		FinishReason: "STOP",
	}}
}

// Fail builds a Step failing with err.
func Fail(err error) Step { return Step{Err: err} }

// ScriptedModel is a lightweight in‑memory Model useful for tests & examples.
// It replays its steps in order and records every request it receives.
type ScriptedModel struct {
	info     Info
	mu       sync.Mutex
	steps    []Step
	next     int
	fallback func(req Request) (*Response, error)
	requests []Request
}

// NewScriptedModel constructs a ScriptedModel replaying steps.
func NewScriptedModel(steps ...Step) *ScriptedModel {
	return &ScriptedModel{
		info:  Info{Name: "scripted", Provider: "scripted", SupportsTools: true, SupportsImage: true},
		steps: steps,
	}
}

// WithFallback sets a generator consulted once the script is exhausted.
func (m *ScriptedModel) WithFallback(fn func(req Request) (*Response, error)) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = fn
	return m
}

// Generate implements Model.
func (m *ScriptedModel) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	req.Contents = core.History(req.Contents).Clone()
	m.requests = append(m.requests, req)
	if m.next < len(m.steps) {
		step := m.steps[m.next]
		m.next++
		m.mu.Unlock()
		return step.Response, step.Err
	}
	fallback := m.fallback
	m.mu.Unlock()

	if fallback != nil {
		return fallback(req)
	}
	return nil, fmt.Errorf("scripted model exhausted after %d steps", len(m.steps))
}

// Requests returns the requests received so far.
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Calls returns the number of Generate calls received so far.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Info implements Model interface.
func (m *ScriptedModel) Info() Info { return m.info }
