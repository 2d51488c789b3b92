package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func toolResult(name string) Content {
	return NewUserContent(FunctionResponsePart{FunctionResponse: FunctionResponse{Name: name}})
}

func toolCall(name string) Content {
	return Content{Role: RoleModel, Parts: []Part{FunctionCallPart{FunctionCall: FunctionCall{Name: name}}}}
}

func TestHistory_WindowKeepsRecentTurns(t *testing.T) {
	h := History{
		NewTextContent(RoleUser, "1"),
		NewTextContent(RoleModel, "2"),
		NewTextContent(RoleUser, "3"),
		NewTextContent(RoleModel, "4"),
	}
	w := h.Window(2)
	assert.Len(t, w, 2)
	assert.Equal(t, NewTextContent(RoleUser, "3"), w[0])

	assert.Len(t, h.Window(0), 4)
	assert.Len(t, h.Window(10), 4)
}

func TestHistory_WindowNeverStartsWithOrphanedToolResult(t *testing.T) {
	h := History{
		NewTextContent(RoleUser, "ask"),
		toolCall("search"),
		toolResult("search"),
		NewTextContent(RoleModel, "answer"),
		NewTextContent(RoleUser, "next"),
		NewTextContent(RoleModel, "done"),
	}
	// A cut at index 2 would start with the tool result; the window advances
	// past it and the following model turn to the next genuine user turn.
	w := h.Window(4)
	assert.Len(t, w, 2)
	assert.Equal(t, NewTextContent(RoleUser, "next"), w[0])
}

func TestHistory_LatestUserTurnSkipsToolResults(t *testing.T) {
	h := History{
		NewTextContent(RoleUser, "ask"),
		toolCall("search"),
		toolResult("search"),
	}
	assert.Equal(t, 0, h.LatestUserTurn())
	assert.Equal(t, -1, History{toolResult("x")}.LatestUserTurn())
}

func TestHistory_Clone(t *testing.T) {
	h := History{NewTextContent(RoleUser, "a")}
	c := h.Clone()
	c[0].Parts[0] = TextPart{Text: "b"}
	assert.Equal(t, TextPart{Text: "a"}, h[0].Parts[0])
	assert.Nil(t, History(nil).Clone())
}
