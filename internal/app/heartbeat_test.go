package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/PoliTwit1984/kentrivia/internal/domain"
)

func TestMonitorPingsThenForcesThenExpires(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	rooms := NewRooms()
	rooms.Open("123456")
	registry := NewRegistry(rooms, clock)
	conn := &stubConn{id: "c1"}
	_, err := registry.Register(conn)
	require.NoError(t, err)
	_, err = registry.Bind("c1", "123456", domain.RolePlayer, "p1")
	require.NoError(t, err)

	monitor := NewMonitor(registry, time.Second, 3, nil, WithClock(clock))
	require.Equal(t, 3*time.Second, monitor.Timeout())

	monitor.Sweep()
	pings, forced, _ := conn.snapshot()
	require.Equal(t, 1, pings)
	require.Zero(t, forced)

	now = now.Add(4 * time.Second)
	monitor.Sweep()
	_, forced, _ = conn.snapshot()
	require.Equal(t, 1, forced)
	entry, ok := registry.Lookup("c1")
	require.True(t, ok)
	require.Equal(t, "p1", entry.ParticipantID, "forced reconnect keeps the identity")

	now = now.Add(time.Second)
	monitor.Sweep()
	_, forced, _ = conn.snapshot()
	require.Equal(t, 1, forced, "reconnect is requested once")

	now = now.Add(3 * time.Second)
	monitor.Sweep()
	_, _, closed := conn.snapshot()
	require.True(t, closed)
	_, ok = registry.Lookup("c1")
	require.False(t, ok)
	require.Zero(t, rooms.Count("123456"))
}

func TestMonitorTouchedConnectionStaysHealthy(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	registry := NewRegistry(NewRooms(), clock)
	conn := &stubConn{id: "c1"}
	_, err := registry.Register(conn)
	require.NoError(t, err)
	monitor := NewMonitor(registry, time.Second, 3, nil, WithClock(clock))

	for i := 0; i < 10; i++ {
		now = now.Add(2 * time.Second)
		registry.Touch("c1")
		monitor.Sweep()
	}
	pings, forced, closed := conn.snapshot()
	require.Equal(t, 10, pings)
	require.Zero(t, forced)
	require.False(t, closed)
}

func TestMonitorRunStopsWithContext(t *testing.T) {
	registry := NewRegistry(NewRooms(), nil)
	conn := &stubConn{id: "c1"}
	_, err := registry.Register(conn)
	require.NoError(t, err)
	monitor := NewMonitor(registry, 10*time.Millisecond, 3, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- monitor.Run(ctx) }()

	require.Eventually(t, func() bool {
		pings, _, _ := conn.snapshot()
		return pings >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestBroadcasterClosesFullConnection(t *testing.T) {
	rooms := NewRooms()
	rooms.Open("123456")
	registry := NewRegistry(rooms, nil)
	ok := &stubConn{id: "ok"}
	slow := &stubConn{id: "slow", full: true}
	for _, c := range []*stubConn{ok, slow} {
		_, err := registry.Register(c)
		require.NoError(t, err)
		_, err = registry.Bind(c.id, "123456", domain.RolePlayer, c.id)
		require.NoError(t, err)
	}

	out := NewBroadcaster(registry, rooms, nil)
	require.Equal(t, 1, out.ToRoom("123456", domain.EventPong, nil))
	_, _, closed := slow.snapshot()
	require.True(t, closed)
	require.False(t, out.ToConnection("missing", domain.EventPong, nil))
}
