package core

// History is an ordered sequence of turns, oldest first.
type History []Content

// Clone returns a copy whose turns can be mutated independently.
func (h History) Clone() History {
	if h == nil {
		return nil
	}
	out := make(History, len(h))
	for i, c := range h {
		out[i] = c.Clone()
	}
	return out
}

// Window returns the most recent max turns. The window start is advanced to
// the first user turn that is not a tool result so a function call is never
// sent without the model turn that requested it. max <= 0 disables the cap.
func (h History) Window(max int) History {
	if max <= 0 || len(h) <= max {
		return h
	}
	start := len(h) - max
	for start < len(h) && (h[start].Role != RoleUser || h[start].IsToolResult()) {
		start++
	}
	return h[start:]
}

// LatestUserTurn returns the index of the nearest user turn that is not a
// tool-result turn, searching backwards, or -1.
func (h History) LatestUserTurn() int {
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].Role == RoleUser && !h[i].IsToolResult() {
			return i
		}
	}
	return -1
}
