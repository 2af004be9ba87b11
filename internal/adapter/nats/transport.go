package nats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/scholaris/scholaris/internal/domain/voice"
	"github.com/scholaris/scholaris/internal/port/voicetransport"
)

func init() {
	voicetransport.Register("nats", func(config map[string]string) (voicetransport.Backend, error) {
		url := config["url"]
		if url == "" {
			url = nats.DefaultURL
		}
		return &Transport{url: url}, nil
	})
}

// Transport implements voicetransport.Backend over core NATS subjects.
// Audio chunks publish to voice.audio.<session>; inbound events arrive on
// voice.events.<session>.
type Transport struct {
	url string
}

// Name returns the backend identifier.
func (t *Transport) Name() string { return "nats" }

// Open connects to NATS and subscribes to the session's event subject.
// The credential endpoint, when set, overrides the configured URL.
func (t *Transport) Open(ctx context.Context, cred voicetransport.Credential, sessionID string) (voicetransport.Channel, error) {
	url := t.url
	if cred.Endpoint != "" {
		url = cred.Endpoint
	}

	opts := []nats.Option{}
	if cred.Token != "" {
		opts = append(opts, nats.Token(cred.Token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats voice connect: %w", err)
	}

	ch := &natsChannel{
		nc:           nc,
		audioSubject: "voice.audio." + sessionID,
		sessionID:    sessionID,
		events:       make(chan voice.Event, 32),
	}

	sub, err := nc.Subscribe("voice.events."+sessionID, ch.onEvent)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats voice subscribe: %w", err)
	}
	ch.sub = sub

	return ch, nil
}

type natsChannel struct {
	nc           *nats.Conn
	sub          *nats.Subscription
	audioSubject string
	sessionID    string
	events       chan voice.Event

	closeOnce sync.Once
}

func (c *natsChannel) onEvent(msg *nats.Msg) {
	ev, err := voice.DecodeEvent(msg.Data)
	if err != nil {
		slog.Debug("dropping voice frame", "session_id", c.sessionID, "error", err)
		return
	}
	select {
	case c.events <- ev:
	default:
		slog.Warn("voice event buffer full, dropping", "session_id", c.sessionID)
	}
}

func (c *natsChannel) SendAudio(_ context.Context, chunk []byte) error {
	if err := c.nc.Publish(c.audioSubject, chunk); err != nil {
		return fmt.Errorf("send audio chunk: %w", err)
	}
	return nil
}

func (c *natsChannel) SendDone(_ context.Context) error {
	if err := c.nc.Publish(c.audioSubject, voice.EncodeDone()); err != nil {
		return fmt.Errorf("send done: %w", err)
	}
	return nil
}

func (c *natsChannel) Events() <-chan voice.Event {
	return c.events
}

// Close tears the channel down. Safe to call more than once.
func (c *natsChannel) Close(_ context.Context) error {
	c.closeOnce.Do(func() {
		_ = c.sub.Unsubscribe()
		c.nc.Close()
		close(c.events)
	})
	return nil
}
