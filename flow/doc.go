// Package flow drives a model through the tool calling protocol.
//
// Two orchestration patterns share one Dispatcher:
//
//   - ToolLoop sends the user's message to a tool-capable session and keeps
//     dispatching requested tool calls until the model answers without any,
//     bounded by a round budget. Binary references found in tool results are
//     spliced into the latest user turn.
//   - Selection runs a single lookup round, surfaces every image returned by
//     the tools as a candidate and pauses. Generation resumes with whatever
//     subset a human picked, which may be empty.
//
// Model errors abort a run. Tool errors never do: each failed call becomes an
// error outcome in its slot and the round continues.
package flow
