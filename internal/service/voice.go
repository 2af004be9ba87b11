package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/scholaris/scholaris/internal/adapter/otel"
	"github.com/scholaris/scholaris/internal/config"
	"github.com/scholaris/scholaris/internal/domain"
	"github.com/scholaris/scholaris/internal/domain/quota"
	"github.com/scholaris/scholaris/internal/domain/voice"
	"github.com/scholaris/scholaris/internal/port/broadcast"
	"github.com/scholaris/scholaris/internal/port/voicetransport"
)

// ErrSourceClosed indicates a push to an audio source that already ended.
var ErrSourceClosed = errors.New("audio source closed")

// usageRecorder is the slice of the quota service the voice manager needs.
type usageRecorder interface {
	RecordUsage(ctx context.Context, rec UsageRecord) (*quota.Allocation, error)
}

// StatusCallback observes every session state transition.
type StatusCallback func(s voice.Session)

// VoiceService manages streaming voice sessions. Each session owns its
// transport channel and audio source exclusively; all teardown paths run
// under singleflight so concurrent stops share one teardown.
type VoiceService struct {
	usage   usageRecorder
	bcast   broadcast.Broadcaster
	issuer  voicetransport.CredentialIssuer
	metrics *otel.Metrics
	cfg     config.Voice

	onStatus StatusCallback

	mu       sync.Mutex
	sessions map[string]*voiceSession
	stops    singleflight.Group
}

// voiceSession bundles one session's state with its live resources.
type voiceSession struct {
	mu      sync.Mutex
	state   voice.Session
	channel voicetransport.Channel
	source  *PushSource
	cancel  context.CancelFunc // stops the pump and event loops
	doneCh  chan struct{}      // closed when the remote acks done
	endedCh chan struct{}      // closed when the event loop exits
}

// NewVoiceService creates a voice session manager. issuer may be nil, in
// which case sessions use a static credential pointing at cfg.Endpoint.
func NewVoiceService(usage usageRecorder, bcast broadcast.Broadcaster, issuer voicetransport.CredentialIssuer, metrics *otel.Metrics, cfg config.Voice) *VoiceService {
	return &VoiceService{
		usage:    usage,
		bcast:    bcast,
		issuer:   issuer,
		metrics:  metrics,
		cfg:      cfg,
		sessions: make(map[string]*voiceSession),
	}
}

// OnStatus registers a callback invoked on every state transition. Must be
// set before the first Start.
func (v *VoiceService) OnStatus(cb StatusCallback) { v.onStatus = cb }

// Start opens a new streaming session for a principal. Quota is consumed
// before any resource is acquired; a partial failure while connecting leaves
// the session in the error state with no channel or source attached.
func (v *VoiceService) Start(ctx context.Context, orgID, principalID string) (*voice.Session, error) {
	if v.usage != nil {
		_, err := v.usage.RecordUsage(ctx, UsageRecord{
			ScopeType: quota.ScopePrincipal,
			ScopeID:   principalID,
			Feature:   quota.FeatureVoice,
			Amount:    1,
			Metadata:  map[string]string{"org_id": orgID},
		})
		if err != nil {
			return nil, fmt.Errorf("voice quota: %w", err)
		}
	}

	sess := &voiceSession{
		state: voice.Session{
			ID:        uuid.NewString(),
			OrgID:     orgID,
			Principal: principalID,
			Status:    voice.StatusDisconnected,
			Transport: v.cfg.Transport,
			StartedAt: time.Now().UTC(),
		},
		doneCh:  make(chan struct{}),
		endedCh: make(chan struct{}),
	}

	v.mu.Lock()
	v.sessions[sess.state.ID] = sess
	v.mu.Unlock()

	v.transition(sess, voice.StatusConnecting, "")

	cred, err := v.credential(ctx, orgID, sess.state.ID)
	if err != nil {
		v.transition(sess, voice.StatusError, fmt.Sprintf("credential: %v", err))
		close(sess.endedCh)
		return nil, fmt.Errorf("issue credential: %w", err)
	}

	backend, err := voicetransport.New(v.cfg.Transport, map[string]string{"url": v.cfg.Endpoint})
	if err != nil {
		v.transition(sess, voice.StatusError, err.Error())
		close(sess.endedCh)
		return nil, err
	}

	ch, err := backend.Open(ctx, cred, sess.state.ID)
	if err != nil {
		v.transition(sess, voice.StatusError, fmt.Sprintf("open channel: %v", err))
		close(sess.endedCh)
		return nil, fmt.Errorf("open channel: %w", err)
	}

	source := NewPushSource()
	if err := source.Open(ctx); err != nil {
		// Channel was opened but the source failed; release the channel so
		// nothing lingers on an error session.
		closeCtx, cancel := context.WithTimeout(context.Background(), v.cfg.StopTimeout)
		_ = ch.Close(closeCtx)
		cancel()
		v.transition(sess, voice.StatusError, fmt.Sprintf("open source: %v", err))
		close(sess.endedCh)
		return nil, fmt.Errorf("open audio source: %w", err)
	}

	pumpCtx, pumpCancel := context.WithCancel(context.Background())
	sess.mu.Lock()
	sess.channel = ch
	sess.source = source
	sess.cancel = pumpCancel
	sess.mu.Unlock()

	v.transition(sess, voice.StatusStreaming, "")
	if v.metrics != nil {
		v.metrics.VoiceSessions.Add(ctx, 1)
	}

	go v.pumpAudio(pumpCtx, sess, source, ch)
	go v.consumeEvents(sess, ch)

	snapshot := v.snapshot(sess)
	return &snapshot, nil
}

func (v *VoiceService) credential(ctx context.Context, orgID, sessionID string) (voicetransport.Credential, error) {
	if v.issuer == nil || v.cfg.TokenURL == "" {
		return voicetransport.Credential{Endpoint: v.cfg.Endpoint}, nil
	}
	return v.issuer.Issue(ctx, orgID, sessionID)
}

// pumpAudio forwards source chunks to the channel at a fixed cadence.
func (v *VoiceService) pumpAudio(ctx context.Context, sess *voiceSession, source *PushSource, ch voicetransport.Channel) {
	// The live resources are passed in from Start while they are still
	// locals; teardown nils the session fields after it releases them, so
	// re-reading them here could race with a fast stop.
	ticker := time.NewTicker(v.cfg.ChunkInterval)
	defer ticker.Stop()

	for {
		chunk, err := source.Read(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
				slog.Warn("audio source read failed", "session_id", sess.state.ID, "error", err)
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := ch.SendAudio(ctx, chunk); err != nil {
			if ctx.Err() == nil {
				slog.Warn("send audio failed", "session_id", sess.state.ID, "error", err)
			}
			return
		}
	}
}

// consumeEvents relays inbound transport frames to connected clients and
// watches for the done ack. A channel that dies mid-stream moves the session
// to error.
func (v *VoiceService) consumeEvents(sess *voiceSession, ch voicetransport.Channel) {
	defer close(sess.endedCh)

	for ev := range ch.Events() {
		switch ev.Kind {
		case voice.EventDone:
			select {
			case <-sess.doneCh:
			default:
				close(sess.doneCh)
			}
			return
		case voice.EventPartialTranscript, voice.EventFinalTranscript, voice.EventAssistantToken:
			if v.bcast != nil {
				v.bcast.BroadcastEventToOrg(context.Background(), sess.state.OrgID, "voice.event", map[string]any{
					"session_id": sess.state.ID,
					"type":       ev.Kind,
					"text":       ev.Text,
				})
			}
		}
	}

	// Transport ended without a done ack. If nobody initiated a stop, the
	// remote side dropped us.
	sess.mu.Lock()
	streaming := sess.state.Status == voice.StatusStreaming
	sess.mu.Unlock()
	if streaming {
		go func() {
			_, _, _ = v.stops.Do(sess.state.ID, func() (any, error) {
				return nil, v.teardown(sess, false, "transport closed")
			})
		}()
	}
}

// Stop gracefully ends a session: stop the pump, send the done signal, wait
// briefly for the remote ack, then release resources. Idempotent; concurrent
// stops share a single teardown. Safe no-op on a terminal session.
func (v *VoiceService) Stop(ctx context.Context, sessionID string) error {
	sess, err := v.session(sessionID)
	if err != nil {
		return err
	}
	_, err, _ = v.stops.Do(sessionID, func() (any, error) {
		return nil, v.teardown(sess, true, "")
	})
	return err
}

// Cancel ends a session immediately, skipping the done handshake. Idempotent
// and safe on terminal sessions.
func (v *VoiceService) Cancel(ctx context.Context, sessionID string) error {
	sess, err := v.session(sessionID)
	if err != nil {
		return err
	}
	_, err, _ = v.stops.Do(sessionID, func() (any, error) {
		return nil, v.teardown(sess, false, "")
	})
	return err
}

// teardown is the single teardown path. graceful controls the done
// handshake; reason, when non-empty, marks the session as errored instead of
// finished.
func (v *VoiceService) teardown(sess *voiceSession, graceful bool, reason string) error {
	sess.mu.Lock()
	if sess.state.Status.Terminal() {
		sess.mu.Unlock()
		return nil
	}
	ch := sess.channel
	source := sess.source
	cancel := sess.cancel
	sess.mu.Unlock()

	v.transition(sess, voice.StatusStopping, "")

	if cancel != nil {
		cancel()
	}
	if source != nil {
		_ = source.Close()
	}

	if ch != nil {
		if graceful {
			sendCtx, sendCancel := context.WithTimeout(context.Background(), v.cfg.StopTimeout)
			if err := ch.SendDone(sendCtx); err != nil {
				slog.Warn("send done failed", "session_id", sess.state.ID, "error", err)
			}
			sendCancel()

			select {
			case <-sess.doneCh:
			case <-sess.endedCh:
			case <-time.After(v.cfg.DoneGrace):
				slog.Warn("done ack timed out", "session_id", sess.state.ID)
			}
		}

		closeCtx, closeCancel := context.WithTimeout(context.Background(), v.cfg.StopTimeout)
		if err := ch.Close(closeCtx); err != nil {
			slog.Warn("channel close failed", "session_id", sess.state.ID, "error", err)
		}
		closeCancel()
	}

	// The channel and source are released; drop the references so a finished
	// session holds no live resources while it waits out retention.
	sess.mu.Lock()
	sess.channel = nil
	sess.source = nil
	sess.cancel = nil
	sess.mu.Unlock()

	if reason != "" {
		v.transition(sess, voice.StatusError, reason)
	} else {
		v.transition(sess, voice.StatusFinished, "")
	}
	return nil
}

// PushAudio feeds one captured audio chunk into a streaming session.
func (v *VoiceService) PushAudio(sessionID string, chunk []byte) error {
	sess, err := v.session(sessionID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	streaming := sess.state.Status == voice.StatusStreaming
	source := sess.source
	sess.mu.Unlock()
	if !streaming || source == nil {
		return fmt.Errorf("session %s is not streaming", sessionID)
	}
	return source.Push(chunk)
}

// Status returns a snapshot of a session's state.
func (v *VoiceService) Status(sessionID string) (*voice.Session, error) {
	sess, err := v.session(sessionID)
	if err != nil {
		return nil, err
	}
	snap := v.snapshot(sess)
	return &snap, nil
}

// Sessions returns snapshots of all sessions for one organization.
func (v *VoiceService) Sessions(orgID string) []voice.Session {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []voice.Session
	for _, sess := range v.sessions {
		sess.mu.Lock()
		if sess.state.OrgID == orgID {
			out = append(out, sess.state)
		}
		sess.mu.Unlock()
	}
	return out
}

func (v *VoiceService) session(id string) (*voiceSession, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	sess, ok := v.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	return sess, nil
}

func (v *VoiceService) snapshot(sess *voiceSession) voice.Session {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.state
}

// transition applies a state change, records the end time on terminal
// states, and notifies observers. Illegal transitions are logged and
// dropped; they indicate a bug, not a recoverable condition.
func (v *VoiceService) transition(sess *voiceSession, to voice.Status, lastError string) {
	sess.mu.Lock()
	from := sess.state.Status
	if !voice.CanTransition(from, to) {
		sess.mu.Unlock()
		slog.Error("illegal session transition", "session_id", sess.state.ID, "from", from, "to", to)
		return
	}
	sess.state.Status = to
	if lastError != "" {
		sess.state.LastError = lastError
	}
	if to.Terminal() {
		now := time.Now().UTC()
		sess.state.EndedAt = &now
	}
	snap := sess.state
	sess.mu.Unlock()

	if to.Terminal() {
		v.scheduleEvict(snap.ID)
	}

	slog.Info("voice session transition", "session_id", snap.ID, "from", from, "to", to)
	if v.onStatus != nil {
		v.onStatus(snap)
	}
	if v.bcast != nil {
		v.bcast.BroadcastEventToOrg(context.Background(), snap.OrgID, "voice.status", map[string]any{
			"session_id": snap.ID,
			"status":     snap.Status,
			"error":      snap.LastError,
		})
	}
}

// scheduleEvict drops a terminal session from the index after the retention
// window, so late status polls still resolve but the map does not grow with
// every session ever started.
func (v *VoiceService) scheduleEvict(sessionID string) {
	retention := v.cfg.Retention
	if retention <= 0 {
		retention = time.Minute
	}
	time.AfterFunc(retention, func() {
		v.mu.Lock()
		delete(v.sessions, sessionID)
		v.mu.Unlock()
	})
}

// PushSource is an AudioSource fed by the HTTP surface: clients POST chunks,
// the session pump reads them at its own cadence.
type PushSource struct {
	ch        chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

// NewPushSource creates an empty push source with a small buffer.
func NewPushSource() *PushSource {
	return &PushSource{
		ch:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

// Open acquires the source. A push source has nothing to acquire.
func (p *PushSource) Open(ctx context.Context) error { return nil }

// Push enqueues one chunk. Blocks when the buffer is full so producers see
// backpressure instead of silent drops.
func (p *PushSource) Push(chunk []byte) error {
	select {
	case <-p.closed:
		return ErrSourceClosed
	default:
	}
	select {
	case p.ch <- chunk:
		return nil
	case <-p.closed:
		return ErrSourceClosed
	}
}

// Read returns the next chunk, io.EOF once the source is closed and drained.
func (p *PushSource) Read(ctx context.Context) ([]byte, error) {
	select {
	case chunk := <-p.ch:
		return chunk, nil
	default:
	}
	select {
	case chunk := <-p.ch:
		return chunk, nil
	case <-p.closed:
		// Drain what was pushed before close.
		select {
		case chunk := <-p.ch:
			return chunk, nil
		default:
			return nil, io.EOF
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close ends the source. Safe to call more than once.
func (p *PushSource) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}
