package app

import (
	"sort"
	"sync"
	"time"

	"github.com/PoliTwit1984/kentrivia/internal/domain"
)

// Conn is the transport handle the core talks to.
// Send must not block: it enqueues and reports false when the connection cannot take more.
type Conn interface {
	ID() string
	Send(ev domain.Event) bool
	Ping() error
	ForceReconnect()
	Close()
}

// ConnectionEntry is the registry's view of one live connection.
type ConnectionEntry struct {
	ID            string
	Conn          Conn
	Pin           string
	Role          domain.Role
	ParticipantID string
	ConnectedAt   time.Time
	LastSeen      time.Time
	// ForcedAt is set once the monitor has asked the transport to reconnect.
	ForcedAt time.Time
}

// Bound reports whether the connection has joined a session.
func (e ConnectionEntry) Bound() bool {
	return e.Pin != ""
}

type identity struct {
	pin string
	id  string
}

// Registry maps live connections to their bound identity and liveness.
// It is process-wide; room membership is updated inside the same critical section.
type Registry struct {
	mu      sync.RWMutex
	rooms   *Rooms
	now     func() time.Time
	entries map[string]*ConnectionEntry
	bound   map[identity]string
}

func NewRegistry(rooms *Rooms, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		rooms:   rooms,
		now:     now,
		entries: make(map[string]*ConnectionEntry),
		bound:   make(map[identity]string),
	}
}

// Register records a freshly opened connection.
func (r *Registry) Register(conn Conn) (ConnectionEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := conn.ID()
	if _, exists := r.entries[id]; exists {
		return ConnectionEntry{}, domain.ErrDuplicateConnection
	}
	now := r.now()
	entry := &ConnectionEntry{ID: id, Conn: conn, ConnectedAt: now, LastSeen: now}
	r.entries[id] = entry
	return *entry, nil
}

// Unregister drops the entry and its room membership.
func (r *Registry) Unregister(connID string) (ConnectionEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[connID]
	if !ok {
		return ConnectionEntry{}, false
	}
	delete(r.entries, connID)
	r.detachLocked(entry)
	return *entry, true
}

// Lookup returns a copy of the entry for connID.
func (r *Registry) Lookup(connID string) (ConnectionEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[connID]
	if !ok {
		return ConnectionEntry{}, false
	}
	return *entry, true
}

// Touch refreshes liveness and clears any pending forced reconnect.
func (r *Registry) Touch(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[connID]
	if !ok {
		return false
	}
	entry.LastSeen = r.now()
	entry.ForcedAt = time.Time{}
	return true
}

// MarkForced records that a reconnect was requested for connID.
func (r *Registry) MarkForced(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[connID]; ok {
		entry.ForcedAt = r.now()
	}
}

// Bind attaches an identity to connID and joins the pin's room.
// A connection already holding the identity is detached from it and its id returned,
// and connID leaves any room it was in before.
func (r *Registry) Bind(connID, pin string, role domain.Role, participantID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[connID]
	if !ok {
		return "", domain.ErrUnknownConnection
	}
	key := identity{pin: pin, id: participantID}

	if entry.Pin == pin && entry.ParticipantID == participantID {
		entry.Role = role
		return "", nil
	}
	if err := r.rooms.Join(pin, connID); err != nil {
		return "", err
	}
	if entry.Pin != "" && entry.Pin != pin {
		r.rooms.Leave(entry.Pin, connID)
	}
	r.unbindLocked(entry)

	displaced := ""
	if prevID, held := r.bound[key]; held && prevID != connID {
		if prev, live := r.entries[prevID]; live {
			r.detachLocked(prev)
			displaced = prevID
		}
	}
	entry.Pin = pin
	entry.Role = role
	entry.ParticipantID = participantID
	r.bound[key] = connID
	return displaced, nil
}

// BoundTo returns the connection currently holding the identity.
func (r *Registry) BoundTo(pin, participantID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connID, ok := r.bound[identity{pin: pin, id: participantID}]
	return connID, ok
}

// ConnectionFor returns the live connection of a participant, if any.
func (r *Registry) ConnectionFor(pin, participantID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connID, ok := r.bound[identity{pin: pin, id: participantID}]
	if !ok {
		return nil, false
	}
	entry, ok := r.entries[connID]
	if !ok {
		return nil, false
	}
	return entry.Conn, true
}

// Snapshot copies every entry, oldest connection first.
func (r *Registry) Snapshot() []ConnectionEntry {
	r.mu.RLock()
	out := make([]ConnectionEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, *entry)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnectedAt.Before(out[j].ConnectedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) detachLocked(entry *ConnectionEntry) {
	if entry.Pin != "" {
		r.rooms.Leave(entry.Pin, entry.ID)
	}
	r.unbindLocked(entry)
	entry.Pin = ""
	entry.Role = ""
	entry.ParticipantID = ""
}

func (r *Registry) unbindLocked(entry *ConnectionEntry) {
	if entry.Pin == "" {
		return
	}
	key := identity{pin: entry.Pin, id: entry.ParticipantID}
	if r.bound[key] == entry.ID {
		delete(r.bound, key)
	}
}
