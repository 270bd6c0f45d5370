package app

import (
	"hash/fnv"
	"sync"

	"github.com/PoliTwit1984/kentrivia/internal/domain"
)

const roomShards = 32

// Rooms tracks which connections are joined to each session pin.
// Pins are striped over shards so writers of one pin serialize on a single
// shard lock while other pins proceed independently.
type Rooms struct {
	shards [roomShards]roomShard
}

type roomShard struct {
	mu      sync.Mutex
	open    map[string]struct{}
	members map[string]map[string]struct{}
}

func NewRooms() *Rooms {
	r := &Rooms{}
	for i := range r.shards {
		r.shards[i].open = make(map[string]struct{})
		r.shards[i].members = make(map[string]map[string]struct{})
	}
	return r
}

func (r *Rooms) shard(pin string) *roomShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(pin))
	return &r.shards[h.Sum32()%roomShards]
}

// Open marks a pin as joinable.
func (r *Rooms) Open(pin string) {
	s := r.shard(pin)
	s.mu.Lock()
	s.open[pin] = struct{}{}
	s.mu.Unlock()
}

// Close makes a pin unjoinable and drops its members.
func (r *Rooms) Close(pin string) {
	s := r.shard(pin)
	s.mu.Lock()
	delete(s.open, pin)
	delete(s.members, pin)
	s.mu.Unlock()
}

// Join adds a connection to the room for pin.
func (r *Rooms) Join(pin, connID string) error {
	s := r.shard(pin)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.open[pin]; !ok {
		return domain.ErrSessionNotFound
	}
	set, ok := s.members[pin]
	if !ok {
		set = make(map[string]struct{})
		s.members[pin] = set
	}
	set[connID] = struct{}{}
	return nil
}

// Leave removes a connection; the last leave drops the pin's member set.
func (r *Rooms) Leave(pin, connID string) {
	s := r.shard(pin)
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.members[pin]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(s.members, pin)
	}
}

// Members returns the connection ids joined to pin at call time.
func (r *Rooms) Members(pin string) []string {
	s := r.shard(pin)
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.members[pin]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// Count returns how many connections are joined to pin.
func (r *Rooms) Count(pin string) int {
	s := r.shard(pin)
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members[pin])
}

func (r *Rooms) hasMemberSet(pin string) bool {
	s := r.shard(pin)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members[pin]
	return ok
}
