// Package voice defines the streaming session state machine and wire events.
package voice

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Status is a voice session lifecycle state.
type Status string

// Session states. Finished and Error are terminal; a new session requires a
// fresh instance.
const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusStreaming    Status = "streaming"
	StatusStopping     Status = "stopping"
	StatusFinished     Status = "finished"
	StatusError        Status = "error"
)

// ErrInvalidTransition indicates a state change the machine does not allow.
var ErrInvalidTransition = errors.New("invalid session state transition")

// transitions lists the allowed next states for each state. Error is
// reachable from every non-terminal state and is added in CanTransition.
var transitions = map[Status][]Status{
	StatusDisconnected: {StatusConnecting},
	StatusConnecting:   {StatusStreaming, StatusStopping},
	StatusStreaming:    {StatusStopping},
	StatusStopping:     {StatusFinished},
	StatusFinished:     {},
	StatusError:        {},
}

// Terminal reports whether s is an absorbing state.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusError
}

// CanTransition reports whether from → to is a legal state change.
func CanTransition(from, to Status) bool {
	if to == StatusError {
		return !from.Terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Session describes one streaming session. The session manager owns the
// instance exclusively for its lifetime; transport resources are attached
// only while status is connecting, streaming, or stopping.
type Session struct {
	ID        string     `json:"id"`
	OrgID     string     `json:"org_id"`
	Principal string     `json:"principal_id"`
	Status    Status     `json:"status"`
	Transport string     `json:"transport"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// EventKind discriminates inbound wire events.
type EventKind string

// Wire event kinds. Any other type value is dropped by the decoder.
const (
	EventPartialTranscript EventKind = "partial_transcript"
	EventFinalTranscript   EventKind = "final_transcript"
	EventAssistantToken    EventKind = "assistant_token"
	EventDone              EventKind = "done"
)

// Event is one decoded inbound frame from the streaming transport.
type Event struct {
	Kind EventKind `json:"type"`
	Text string    `json:"text,omitempty"`
}

// ErrUnknownEvent indicates a frame whose type discriminator is not one of
// the four wire kinds. Callers drop such frames rather than failing.
var ErrUnknownEvent = errors.New("unknown event kind")

// DecodeEvent parses a JSON text frame into an Event. Malformed JSON and
// unknown discriminators return an error so the transport loop can drop the
// frame without dying.
func DecodeEvent(frame []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(frame, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	switch ev.Kind {
	case EventPartialTranscript, EventFinalTranscript, EventAssistantToken, EventDone:
		return ev, nil
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Kind)
	}
}

// EncodeDone renders the final done signal sent during graceful teardown.
func EncodeDone() []byte {
	b, _ := json.Marshal(Event{Kind: EventDone})
	return b
}
