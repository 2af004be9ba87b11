// Package voicetransport defines the streaming transport port for voice
// sessions and the backend registry.
package voicetransport

import (
	"context"
	"time"

	"github.com/scholaris/scholaris/internal/domain/voice"
)

// Credential is an ephemeral token for opening a streaming channel.
type Credential struct {
	Token     string
	Endpoint  string
	ExpiresAt time.Time
}

// CredentialIssuer resolves a short-lived transport credential for a session.
// Production wires an external issuer; tests use a static one.
type CredentialIssuer interface {
	Issue(ctx context.Context, orgID, sessionID string) (Credential, error)
}

// Channel is one open bidirectional streaming channel. SendAudio pushes a
// binary chunk; Events yields decoded inbound frames in transport order.
// The channel is owned by a single session for its lifetime.
type Channel interface {
	// SendAudio writes one binary audio chunk to the remote side.
	SendAudio(ctx context.Context, chunk []byte) error

	// SendDone writes the final done signal during graceful teardown.
	SendDone(ctx context.Context) error

	// Events returns the inbound event stream. The channel is closed when
	// the transport ends; malformed frames are dropped before this point.
	Events() <-chan voice.Event

	// Close tears the channel down. Safe to call more than once.
	Close(ctx context.Context) error
}

// Backend opens streaming channels for one runtime environment. Selection
// happens once at session construction; the state machine never branches on
// platform.
type Backend interface {
	// Name returns the unique identifier for this backend (e.g. "websocket", "nats").
	Name() string

	// Open dials the streaming endpoint with the given credential.
	Open(ctx context.Context, cred Credential, sessionID string) (Channel, error)
}

// AudioSource supplies captured audio to a session. Open acquires the
// capture device; Read returns the next fixed-cadence chunk; Close releases
// the device tracks.
type AudioSource interface {
	Open(ctx context.Context) error
	Read(ctx context.Context) ([]byte, error)
	Close() error
}
