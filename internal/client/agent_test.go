package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/PoliTwit1984/kentrivia/internal/app"
	"github.com/PoliTwit1984/kentrivia/internal/domain"
	"github.com/PoliTwit1984/kentrivia/internal/infra/memory"
	transport "github.com/PoliTwit1984/kentrivia/internal/transport/http"
)

func TestAgentGivesUpAfterMaxAttempts(t *testing.T) {
	var dials atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	var states []State
	var mu sync.Mutex
	agent := New(Config{
		URL:             wsURL(server.URL),
		Join:            domain.JoinRequest{Pin: "123456", Nickname: "Alice"},
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxAttempts:     5,
		OnState: func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	})

	err := agent.Run(context.Background())
	require.ErrorIs(t, err, ErrUnableToConnect)
	require.Equal(t, StateFailed, agent.State())
	require.EqualValues(t, 5, dials.Load())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []State{StateConnecting, StateFailed}, states)
}

func TestAgentRejectedJoinIsTerminal(t *testing.T) {
	server, _, _ := newSessionServer(t)

	agent := New(Config{
		URL:             wsURL(server.URL),
		Join:            domain.JoinRequest{Pin: "000000", Nickname: "Alice"},
		InitialInterval: time.Millisecond,
	})
	err := agent.Run(context.Background())
	require.ErrorIs(t, err, ErrUnableToConnect)
	require.Contains(t, err.Error(), "session_not_found")
	require.Equal(t, StateFailed, agent.State())
}

func TestAgentRejoinsAfterForcedReconnect(t *testing.T) {
	server, coord, pin := newSessionServer(t)

	var joins atomic.Int32
	var rejoined atomic.Bool
	agent := New(Config{
		URL:             wsURL(server.URL),
		Join:            domain.JoinRequest{Pin: pin, Nickname: "Alice"},
		InitialInterval: time.Millisecond,
		OnEvent: func(ev domain.InboundEvent) {
			if ev.Type != domain.EventJoined {
				return
			}
			joins.Add(1)
			if strings.Contains(string(ev.Payload), `"is_rejoin":true`) {
				rejoined.Store(true)
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agent.Run(ctx) }()

	require.Eventually(t, func() bool { return agent.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)
	first := agent.ParticipantID()
	require.NotEmpty(t, first)

	conn, ok := coord.Registry().ConnectionFor(pin, first)
	require.True(t, ok)
	conn.ForceReconnect()

	require.Eventually(t, func() bool { return rejoined.Load() }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, first, agent.ParticipantID(), "identity survives the reconnect")
	require.EqualValues(t, 2, joins.Load())
	require.Eventually(t, func() bool { return agent.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)

	snap, err := coord.Snapshot(context.Background(), pin)
	require.NoError(t, err)
	require.Len(t, snap.Leaderboard, 1, "rejoin must not create a second participant")

	require.NoError(t, agent.Send(domain.EventPing, nil))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not stop")
	}
	require.Equal(t, StateClosed, agent.State())
	require.ErrorIs(t, agent.Send(domain.EventPing, nil), ErrNotConnected)
}

func TestAgentGivesUpWhenEveryJoinDropsAtOnce(t *testing.T) {
	var dials atomic.Int32
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.WriteJSON(domain.Event{Type: domain.EventJoined, Payload: domain.JoinAck{ParticipantID: "p1", Role: domain.RolePlayer}})
	}))
	defer server.Close()

	agent := New(Config{
		URL:             wsURL(server.URL),
		Join:            domain.JoinRequest{Pin: "123456", Nickname: "Alice"},
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxAttempts:     3,
		StableAfter:     time.Minute,
	})

	done := make(chan error, 1)
	go func() { done <- agent.Run(context.Background()) }()
	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrUnableToConnect)
	case <-time.After(5 * time.Second):
		t.Fatal("agent kept reconnecting to a server that drops every session")
	}
	require.Equal(t, StateFailed, agent.State())
	require.EqualValues(t, 3, dials.Load())
}

func TestSendWithoutConnection(t *testing.T) {
	agent := New(Config{URL: "ws://127.0.0.1:1/ws"})
	require.True(t, errors.Is(agent.Send(domain.EventPing, nil), ErrNotConnected))
}

func newSessionServer(t *testing.T) (*httptest.Server, *app.Coordinator, string) {
	t.Helper()
	coord := app.NewCoordinator(memory.NewStore(), app.Options{LiveDelay: 10 * time.Millisecond})
	session, err := coord.CreateSession(context.Background(), "Reconnect drill", []domain.Question{
		{ID: "q1", Content: "What is 2 + 2?", CorrectAnswer: "4", IncorrectAnswers: []string{"3", "5"}},
	})
	require.NoError(t, err)
	router := transport.NewRouter(transport.NewAPI(coord, nil, 0, nil), transport.NewWSHandler(coord, 0, nil))
	server := httptest.NewServer(router)
	t.Cleanup(func() {
		server.Close()
		coord.Close()
	})
	return server, coord, session.Pin
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
}
