// Package model defines the provider‑agnostic abstractions and concrete
// helpers for interacting with language models inside genloop.
//
// Core goals:
//   - One blocking Generate call per conversation turn
//   - Normalize tool / function declarations (ToolDefinition)
//   - Carry generation policy (modalities, image aspect/size) as plain data
//   - Surface provider failures as *APIError so callers can classify them
//   - Facilitate lightweight scripting for tests (ScriptedModel)
//
// Providers (Gemini, OpenAI, Anthropic) implement the Model interface from
// this package so higher layers remain decoupled from vendor SDKs.
package model
