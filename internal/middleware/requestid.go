// Package middleware provides HTTP middleware for Scholaris.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/scholaris/scholaris/internal/logger"
)

const headerRequestID = "X-Request-ID"

// RequestID tags every request with an ID for log correlation. An incoming
// X-Request-ID is kept so IDs survive proxy hops; otherwise a fresh UUID is
// minted, matching the IDs used for sessions and turns. The ID lands in the
// context and on the response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}
