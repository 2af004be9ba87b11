// Package broadcast defines the port for broadcasting real-time events to connected clients.
package broadcast

import "context"

// Broadcaster sends real-time events to connected clients.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to all connected clients.
	BroadcastEvent(ctx context.Context, eventType string, payload any)

	// BroadcastEventToOrg sends a typed event only to clients of one organization.
	BroadcastEventToOrg(ctx context.Context, orgID, eventType string, payload any)
}
