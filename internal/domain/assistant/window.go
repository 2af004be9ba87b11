package assistant

import "sync"

// Window is a bounded ring buffer of conversation turns. Growth is capped at
// construction; appending past capacity evicts the oldest turn. This keeps
// per-conversation memory fixed instead of pruning history after the fact.
type Window struct {
	mu    sync.Mutex
	turns []Turn
	head  int
	size  int
}

// NewWindow creates a window holding at most max turns. Values below 1 fall
// back to 1.
func NewWindow(max int) *Window {
	if max < 1 {
		max = 1
	}
	return &Window{turns: make([]Turn, max)}
}

// Append records a turn, evicting the oldest when full.
func (w *Window) Append(t Turn) {
	w.mu.Lock()
	defer w.mu.Unlock()

	pos := (w.head + w.size) % len(w.turns)
	w.turns[pos] = t
	if w.size < len(w.turns) {
		w.size++
	} else {
		w.head = (w.head + 1) % len(w.turns)
	}
}

// Turns returns the retained turns, oldest first.
func (w *Window) Turns() []Turn {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]Turn, 0, w.size)
	for i := range w.size {
		out = append(out, w.turns[(w.head+i)%len(w.turns)])
	}
	return out
}

// Messages flattens the retained turns into a message list, oldest first.
func (w *Window) Messages() []Message {
	turns := w.Turns()
	var out []Message
	for i := range turns {
		out = append(out, turns[i].Messages...)
	}
	return out
}

// Len returns the number of retained turns.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}
