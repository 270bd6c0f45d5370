package app

import (
	"log/slog"

	"github.com/PoliTwit1984/kentrivia/internal/domain"
)

// Broadcaster delivers events to a room or a single connection.
// Delivery is best effort: a connection that cannot keep up is closed and
// recovers through the rejoin snapshot.
type Broadcaster struct {
	registry *Registry
	rooms    *Rooms
	logger   *slog.Logger
}

func NewBroadcaster(registry *Registry, rooms *Rooms, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{registry: registry, rooms: rooms, logger: logger}
}

// ToRoom sends to every member of pin at call time and returns the number delivered.
func (b *Broadcaster) ToRoom(pin, eventType string, payload any) int {
	delivered := 0
	for _, connID := range b.rooms.Members(pin) {
		if b.ToConnection(connID, eventType, payload) {
			delivered++
		}
	}
	return delivered
}

// ToConnection sends to exactly one connection.
func (b *Broadcaster) ToConnection(connID, eventType string, payload any) bool {
	entry, ok := b.registry.Lookup(connID)
	if !ok {
		return false
	}
	if entry.Conn.Send(domain.Event{Type: eventType, Payload: payload}) {
		return true
	}
	b.logger.Warn("outbound queue full, closing connection", "conn_id", connID, "event", eventType)
	entry.Conn.Close()
	return false
}
