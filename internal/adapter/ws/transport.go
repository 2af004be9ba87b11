package ws

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/scholaris/scholaris/internal/domain/voice"
	"github.com/scholaris/scholaris/internal/port/voicetransport"
)

func init() {
	voicetransport.Register("websocket", func(_ map[string]string) (voicetransport.Backend, error) {
		return &Transport{}, nil
	})
}

// Transport implements voicetransport.Backend over a WebSocket connection.
// Audio chunks go out as binary frames; inbound events arrive as JSON text
// frames.
type Transport struct{}

// Name returns the backend identifier.
func (t *Transport) Name() string { return "websocket" }

// Open dials the streaming endpoint with the credential as a bearer token.
func (t *Transport) Open(ctx context.Context, cred voicetransport.Credential, sessionID string) (voicetransport.Channel, error) {
	hdr := http.Header{}
	if cred.Token != "" {
		hdr.Set("Authorization", "Bearer "+cred.Token)
	}
	hdr.Set("X-Session-ID", sessionID)

	c, _, err := websocket.Dial(ctx, cred.Endpoint, &websocket.DialOptions{
		HTTPHeader: hdr,
	})
	if err != nil {
		return nil, fmt.Errorf("dial voice endpoint: %w", err)
	}
	// Audio chunks can be large.
	c.SetReadLimit(1 << 20)

	readCtx, cancel := context.WithCancel(context.Background())
	ch := &channel{
		ws:        c,
		sessionID: sessionID,
		events:    make(chan voice.Event, 32),
		cancel:    cancel,
	}
	go ch.readLoop(readCtx)

	return ch, nil
}

// channel is one open WebSocket voice channel.
type channel struct {
	ws        *websocket.Conn
	sessionID string
	events    chan voice.Event
	cancel    context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

func (c *channel) SendAudio(ctx context.Context, chunk []byte) error {
	if err := c.ws.Write(ctx, websocket.MessageBinary, chunk); err != nil {
		return fmt.Errorf("send audio chunk: %w", err)
	}
	return nil
}

func (c *channel) SendDone(ctx context.Context) error {
	if err := c.ws.Write(ctx, websocket.MessageText, voice.EncodeDone()); err != nil {
		return fmt.Errorf("send done: %w", err)
	}
	return nil
}

func (c *channel) Events() <-chan voice.Event {
	return c.events
}

// Close tears the channel down. Safe to call more than once.
func (c *channel) Close(_ context.Context) error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.closeErr = c.ws.Close(websocket.StatusNormalClosure, "")
	})
	return c.closeErr
}

// readLoop decodes inbound text frames into events. Malformed or unknown
// frames are dropped; binary frames are ignored. The events channel closes
// when the connection ends.
func (c *channel) readLoop(ctx context.Context) {
	defer close(c.events)

	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		ev, err := voice.DecodeEvent(data)
		if err != nil {
			slog.Debug("dropping voice frame", "session_id", c.sessionID, "error", err)
			continue
		}

		select {
		case c.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}
