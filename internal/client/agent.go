package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/PoliTwit1984/kentrivia/internal/domain"
)

// State is the agent's connection state as shown to the user.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
	StateClosed       State = "closed"
)

var (
	// ErrUnableToConnect is terminal: the agent gave up and will not retry on its own.
	ErrUnableToConnect = errors.New("unable to connect")
	// ErrNotConnected is returned by Send while no transport is up.
	ErrNotConnected = errors.New("not connected")
)

const (
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 5 * time.Second
	DefaultMaxAttempts     = 5
	// DefaultStableAfter is how long a connection must stay up before its drop
	// starts a fresh retry budget.
	DefaultStableAfter = 5 * time.Second
	joinTimeout        = 10 * time.Second
)

// Config describes where to connect and which identity to claim.
type Config struct {
	URL  string
	Join domain.JoinRequest

	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxAttempts     int
	StableAfter     time.Duration

	Dialer  *websocket.Dialer
	Logger  *slog.Logger
	OnEvent func(domain.InboundEvent)
	OnState func(State)
}

// Agent keeps one websocket attached to a session identity across transport loss.
type Agent struct {
	cfg    Config
	logger *slog.Logger

	mu            sync.Mutex
	state         State
	conn          *websocket.Conn
	participantID string
	token         string
	joined        bool

	writeMu sync.Mutex
}

// joinRejected is a refusal by the server that retrying will not fix.
type joinRejected struct {
	payload domain.ErrorPayload
}

func (e *joinRejected) Error() string {
	return fmt.Sprintf("join rejected: %s: %s", e.payload.Code, e.payload.Message)
}

func New(cfg Config) *Agent {
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = DefaultInitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = DefaultMaxInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.StableAfter <= 0 {
		cfg.StableAfter = DefaultStableAfter
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Agent{
		cfg:           cfg,
		logger:        cfg.Logger,
		state:         StateClosed,
		participantID: cfg.Join.ParticipantID,
		token:         cfg.Join.Token,
	}
}

func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// ParticipantID is the identity learned from the last joined ack.
func (a *Agent) ParticipantID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.participantID
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	changed := a.state != s
	a.state = s
	a.mu.Unlock()
	if changed {
		a.logger.Debug("agent state", "state", s)
		if a.cfg.OnState != nil {
			a.cfg.OnState(s)
		}
	}
}

func (a *Agent) newBackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = a.cfg.InitialInterval
	exp.MaxInterval = a.cfg.MaxInterval
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithMaxRetries(exp, uint64(a.cfg.MaxAttempts-1))
}

// Run connects, joins and keeps the session attached until ctx is done.
// It returns ErrUnableToConnect once MaxAttempts consecutive attempts fail. An attempt
// whose connection drops before StableAfter still counts against the budget.
func (a *Agent) Run(ctx context.Context) error {
	b := a.newBackOff()
	a.setState(StateConnecting)
	for {
		conn, err := a.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				a.setState(StateClosed)
				return nil
			}
			var rejected *joinRejected
			if errors.As(err, &rejected) {
				a.setState(StateFailed)
				return fmt.Errorf("%w: %v", ErrUnableToConnect, err)
			}
			wait := b.NextBackOff()
			if wait == backoff.Stop {
				a.logger.Error("giving up on connection", "attempts", a.cfg.MaxAttempts, "error", err)
				a.setState(StateFailed)
				return fmt.Errorf("%w after %d attempts: %v", ErrUnableToConnect, a.cfg.MaxAttempts, err)
			}
			a.logger.Warn("connect failed, retrying", "in", wait, "error", err)
			if !sleep(ctx, wait) {
				a.setState(StateClosed)
				return nil
			}
			continue
		}

		a.setState(StateConnected)
		connectedAt := time.Now()
		forced := a.serve(ctx, conn)
		if ctx.Err() != nil {
			a.setState(StateClosed)
			return nil
		}
		if time.Since(connectedAt) >= a.cfg.StableAfter {
			b.Reset()
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			a.logger.Error("giving up after repeated drops", "attempts", a.cfg.MaxAttempts)
			a.setState(StateFailed)
			return fmt.Errorf("%w after %d attempts: connection kept dropping", ErrUnableToConnect, a.cfg.MaxAttempts)
		}
		if forced {
			a.logger.Info("server requested reconnect")
			wait = 0
		} else {
			a.logger.Warn("connection lost, reconnecting", "in", wait)
		}
		a.setState(StateReconnecting)
		if !sleep(ctx, wait) {
			a.setState(StateClosed)
			return nil
		}
	}
}

// sleep waits d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Send writes one event on the current connection.
func (a *Agent) Send(eventType string, payload any) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return a.write(conn, domain.Event{Type: eventType, Payload: payload})
}

func (a *Agent) write(conn *websocket.Conn, ev domain.Event) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return conn.WriteJSON(ev)
}

func (a *Agent) joinRequest() domain.JoinRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	req := a.cfg.Join
	if a.joined {
		req.Rejoin = true
		if req.Role != domain.RoleHost {
			req.ParticipantID = a.participantID
			req.Token = a.token
		}
	}
	return req
}

// connect dials and waits for the joined ack.
func (a *Agent) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := a.cfg.Dialer.DialContext(ctx, a.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	if err := a.write(conn, domain.Event{Type: domain.EventJoin, Payload: a.joinRequest()}); err != nil {
		conn.Close()
		return nil, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(joinTimeout))
	for {
		ev, err := readEvent(conn)
		if err != nil {
			conn.Close()
			return nil, err
		}
		switch ev.Type {
		case domain.EventJoined:
			var ack domain.JoinAck
			if err := json.Unmarshal(ev.Payload, &ack); err != nil {
				conn.Close()
				return nil, err
			}
			_ = conn.SetReadDeadline(time.Time{})
			a.mu.Lock()
			a.conn = conn
			a.joined = true
			a.participantID = ack.ParticipantID
			if ack.RejoinToken != "" {
				a.token = ack.RejoinToken
			}
			a.mu.Unlock()
			a.dispatch(ev)
			return conn, nil
		case domain.EventError:
			var payload domain.ErrorPayload
			_ = json.Unmarshal(ev.Payload, &payload)
			conn.Close()
			if payload.Code == "transient_io" {
				return nil, errors.New(payload.Message)
			}
			return nil, &joinRejected{payload: payload}
		default:
			a.dispatch(ev)
		}
	}
}

// serve forwards events until the transport drops and reports whether the server asked for it.
func (a *Agent) serve(ctx context.Context, conn *websocket.Conn) bool {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-stop:
		}
	}()
	defer func() {
		a.mu.Lock()
		if a.conn == conn {
			a.conn = nil
		}
		a.mu.Unlock()
		conn.Close()
	}()

	forced := false
	for {
		ev, err := readEvent(conn)
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseServiceRestart {
				forced = true
			}
			return forced
		}
		if ev.Type == domain.EventForcedReconnect {
			forced = true
			return forced
		}
		a.dispatch(ev)
	}
}

func (a *Agent) dispatch(ev domain.InboundEvent) {
	if a.cfg.OnEvent != nil {
		a.cfg.OnEvent(ev)
	}
}

func readEvent(conn *websocket.Conn) (domain.InboundEvent, error) {
	var ev domain.InboundEvent
	_, data, err := conn.ReadMessage()
	if err != nil {
		return ev, err
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, err
	}
	return ev, nil
}
