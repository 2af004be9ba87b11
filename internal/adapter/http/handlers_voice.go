package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/scholaris/scholaris/internal/domain"
	"github.com/scholaris/scholaris/internal/domain/quota"
	"github.com/scholaris/scholaris/internal/middleware"
	"github.com/scholaris/scholaris/internal/service"
)

// maxAudioChunkSize bounds a single pushed audio chunk.
const maxAudioChunkSize = 256 << 10 // 256 KB

// StartVoiceSession opens a new streaming session for the caller.
// POST /api/v1/voice/sessions
func (h *Handlers) StartVoiceSession(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.OrgIDFromContext(r.Context())
	principalID := middleware.PrincipalIDFromContext(r.Context())
	if !requireField(w, principalID, "principal") {
		return
	}

	sess, err := h.Voice.Start(r.Context(), orgID, principalID)
	if err != nil {
		if errors.Is(err, quota.ErrExceeded) || errors.Is(err, domain.ErrNotFound) {
			writeDomainError(w, err, "no voice allocation for principal")
			return
		}
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// ListVoiceSessions returns the caller organization's sessions.
// GET /api/v1/voice/sessions
func (h *Handlers) ListVoiceSessions(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.OrgIDFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"sessions": h.Voice.Sessions(orgID)})
}

// VoiceSessionStatus returns one session's state.
// GET /api/v1/voice/sessions/{id}
func (h *Handlers) VoiceSessionStatus(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Voice.Status(urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// PushVoiceAudio feeds one binary audio chunk into a streaming session.
// POST /api/v1/voice/sessions/{id}/audio
func (h *Handlers) PushVoiceAudio(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")

	chunk, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAudioChunkSize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "audio chunk too large")
		return
	}
	if len(chunk) == 0 {
		writeError(w, http.StatusBadRequest, "empty audio chunk")
		return
	}

	if err := h.Voice.PushAudio(id, chunk); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "session not found")
		case errors.Is(err, service.ErrSourceClosed):
			writeError(w, http.StatusConflict, "session is no longer accepting audio")
		default:
			writeError(w, http.StatusConflict, err.Error())
		}
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// StopVoiceSession ends a session gracefully.
// POST /api/v1/voice/sessions/{id}/stop
func (h *Handlers) StopVoiceSession(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.Voice.Stop(r.Context(), id); err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	sess, err := h.Voice.Status(id)
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// CancelVoiceSession ends a session immediately, skipping the done handshake.
// POST /api/v1/voice/sessions/{id}/cancel
func (h *Handlers) CancelVoiceSession(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.Voice.Cancel(r.Context(), id); err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	sess, err := h.Voice.Status(id)
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
