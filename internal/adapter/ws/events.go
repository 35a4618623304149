package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/dereadi/thermal-memory/internal/domain/memory"
	"github.com/dereadi/thermal-memory/internal/port/broadcast"
)

var _ broadcast.Broadcaster = (*Hub)(nil)

// BroadcastEvent marshals a typed event and broadcasts it. Federation
// events only reach clients subscribed to their source triad or to all.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "marshal ws event payload", "type", eventType, "error", err)
		return
	}

	var source string
	if ev, ok := payload.(memory.FederationEvent); ok {
		source = ev.SourceTriad
	}
	h.broadcast(ctx, Message{Type: eventType, Payload: json.RawMessage(data)}, source)
}
