// Package session holds the conversation state of a single orchestration run.
//
// A Session owns an ordered history of turns and sends the next turn to a
// model.Model with its full configuration (system instruction, tool
// declarations, response modalities, image policy). Two flavors are
// provided: NewToolSession declares tools and leaves output modalities
// unconstrained, NewGenerationSession requests text and image output and
// declares no tools. The flavors never share configuration.
//
// PendingStore keeps paused two-phase selections between the candidate
// lookup and the human choice. It is volatile and process local; swap it for
// a durable backend in the wiring layer if selections must survive restarts.
package session
