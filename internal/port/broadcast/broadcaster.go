// Package broadcast defines the port for pushing real-time events to connected dashboards.
package broadcast

import "context"

// Event types pushed to dashboard clients.
const (
	// EventFederation is a federation event emitted by this node.
	EventFederation = "federation.local"
	// EventPeerFederation is a federation event received from another triad.
	EventPeerFederation = "federation.peer"
)

// Broadcaster sends real-time events to all connected clients.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to all connected clients.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
