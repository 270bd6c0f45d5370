package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/PoliTwit1984/kentrivia/internal/domain"
)

// Store persists sessions and everything hanging off them.
// RecordAnswer must insert the record and update the participant atomically and
// fail with domain.ErrDuplicateSubmission when the (participant, question) pair exists.
type Store interface {
	NextPin(ctx context.Context) (string, error)
	CreateSession(ctx context.Context, session domain.Session, questions []domain.Question) error
	GetSession(ctx context.Context, pin string) (domain.Session, error)
	UpdateSession(ctx context.Context, session domain.Session) error
	ListQuestions(ctx context.Context, pin string) ([]domain.Question, error)
	CreateParticipant(ctx context.Context, p domain.Participant) error
	UpdateParticipant(ctx context.Context, p domain.Participant) error
	ListParticipants(ctx context.Context, pin string) ([]domain.Participant, error)
	RecordAnswer(ctx context.Context, rec domain.AnswerRecord, p domain.Participant) error
	ListAnswers(ctx context.Context, pin string) ([]domain.AnswerRecord, error)
}

// QuestionSource supplies a batch of questions for a category at authoring time.
type QuestionSource interface {
	FetchQuestions(ctx context.Context, category string, amount int) ([]domain.Question, error)
}

const (
	DefaultLiveDelay = 2 * time.Second
	minTitle         = 3
	maxTitle         = 64
)

// Options tunes a Coordinator. Zero values select defaults.
type Options struct {
	LiveDelay time.Duration
	QueueSize int
	Logger    *slog.Logger
	Clock     func() time.Time
}

// Coordinator is the entry point transports use. It owns the process-wide registry and
// rooms and one actor per loaded session pin.
type Coordinator struct {
	store     Store
	registry  *Registry
	rooms     *Rooms
	out       *Broadcaster
	logger    *slog.Logger
	now       func() time.Time
	liveDelay time.Duration
	queueSize int

	mu     sync.Mutex
	actors map[string]*sessionActor
	loads  singleflight.Group
}

func NewCoordinator(store Store, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.LiveDelay <= 0 {
		opts.LiveDelay = DefaultLiveDelay
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	rooms := NewRooms()
	registry := NewRegistry(rooms, opts.Clock)
	return &Coordinator{
		store:     store,
		registry:  registry,
		rooms:     rooms,
		out:       NewBroadcaster(registry, rooms, opts.Logger),
		logger:    opts.Logger,
		now:       opts.Clock,
		liveDelay: opts.LiveDelay,
		queueSize: opts.QueueSize,
		actors:    make(map[string]*sessionActor),
	}
}

// Registry exposes the connection registry, for the heartbeat monitor.
func (c *Coordinator) Registry() *Registry { return c.registry }

// Rooms exposes room membership.
func (c *Coordinator) Rooms() *Rooms { return c.rooms }

// NewMonitor builds a heartbeat monitor whose expired connections go through Disconnect.
func (c *Coordinator) NewMonitor(interval time.Duration, factor int, opts ...MonitorOption) *Monitor {
	opts = append([]MonitorOption{
		WithClock(c.now),
		WithExpire(func(connID string) { c.Disconnect(context.Background(), connID) }),
	}, opts...)
	return NewMonitor(c.registry, interval, factor, c.logger, opts...)
}

// Connect registers a newly opened transport connection.
func (c *Coordinator) Connect(conn Conn) error {
	if _, err := c.registry.Register(conn); err != nil {
		return err
	}
	c.logger.Debug("connection registered", "conn_id", conn.ID())
	return nil
}

// Disconnect drops the connection and tells its room.
func (c *Coordinator) Disconnect(ctx context.Context, connID string) {
	entry, ok := c.registry.Unregister(connID)
	if !ok {
		return
	}
	c.logger.Debug("connection unregistered", "conn_id", connID, "pin", entry.Pin)
	if !entry.Bound() {
		return
	}
	a, ok := c.loaded(entry.Pin)
	if !ok {
		return
	}
	if err := a.do(ctx, func(ctx context.Context) error { return a.left(ctx, entry) }); err != nil && !errors.Is(err, errActorStopped) {
		c.logger.Warn("membership update after disconnect failed", "pin", entry.Pin, "error", err)
	}
}

// Touch records liveness for connID.
func (c *Coordinator) Touch(connID string) bool {
	return c.registry.Touch(connID)
}

// Join binds connID to a host or player identity in req.Pin.
func (c *Coordinator) Join(ctx context.Context, connID string, req domain.JoinRequest) (domain.JoinAck, error) {
	if req.Pin == "" {
		return domain.JoinAck{}, fmt.Errorf("%w: pin is required", domain.ErrInvalidPayload)
	}
	if req.Role == "" {
		req.Role = domain.RolePlayer
	}
	if req.Role != domain.RoleHost && req.Role != domain.RolePlayer {
		return domain.JoinAck{}, fmt.Errorf("%w: unknown role %q", domain.ErrInvalidPayload, req.Role)
	}
	var ack domain.JoinAck
	err := c.withActor(ctx, req.Pin, func(a *sessionActor) error {
		return a.do(ctx, func(ctx context.Context) error {
			var err error
			ack, err = a.join(ctx, connID, req)
			return err
		})
	})
	return ack, err
}

// Start moves the caller's session from lobby to active.
func (c *Coordinator) Start(ctx context.Context, connID, pin string) error {
	pin, err := c.boundPin(connID, pin)
	if err != nil {
		return err
	}
	return c.withActor(ctx, pin, func(a *sessionActor) error {
		return a.do(ctx, func(ctx context.Context) error { return a.start(ctx, connID) })
	})
}

// Advance shows the next question, or completes the session after the last one.
func (c *Coordinator) Advance(ctx context.Context, connID, pin string) error {
	pin, err := c.boundPin(connID, pin)
	if err != nil {
		return err
	}
	return c.withActor(ctx, pin, func(a *sessionActor) error {
		return a.do(ctx, func(ctx context.Context) error { return a.advance(ctx, connID) })
	})
}

// Submit scores an answer from the caller's player identity.
func (c *Coordinator) Submit(ctx context.Context, connID string, req domain.SubmitRequest) (domain.AnswerResult, error) {
	pin, err := c.boundPin(connID, "")
	if err != nil {
		return domain.AnswerResult{}, err
	}
	var result domain.AnswerResult
	err = c.withActor(ctx, pin, func(a *sessionActor) error {
		return a.do(ctx, func(ctx context.Context) error {
			var err error
			result, err = a.submit(ctx, connID, req)
			return err
		})
	})
	return result, err
}

// Reveal ends the current question and publishes its answers.
func (c *Coordinator) Reveal(ctx context.Context, connID string, req domain.RevealRequest) (domain.QuestionEndedPayload, error) {
	pin, err := c.boundPin(connID, req.Pin)
	if err != nil {
		return domain.QuestionEndedPayload{}, err
	}
	var payload domain.QuestionEndedPayload
	err = c.withActor(ctx, pin, func(a *sessionActor) error {
		return a.do(ctx, func(ctx context.Context) error {
			var err error
			payload, err = a.reveal(ctx, connID, req.QuestionID)
			return err
		})
	})
	return payload, err
}

// Leaderboard broadcasts and returns the ordered scoreboard.
func (c *Coordinator) Leaderboard(ctx context.Context, connID, pin string) ([]domain.LeaderboardEntry, error) {
	pin, err := c.boundPin(connID, pin)
	if err != nil {
		return nil, err
	}
	var board []domain.LeaderboardEntry
	err = c.withActor(ctx, pin, func(a *sessionActor) error {
		return a.do(ctx, func(ctx context.Context) error {
			var err error
			board, err = a.publishLeaderboard(ctx, connID)
			return err
		})
	})
	return board, err
}

// End completes the session on the host's request.
func (c *Coordinator) End(ctx context.Context, connID, pin string) error {
	pin, err := c.boundPin(connID, pin)
	if err != nil {
		return err
	}
	return c.withActor(ctx, pin, func(a *sessionActor) error {
		return a.do(ctx, func(ctx context.Context) error { return a.end(ctx, connID) })
	})
}

// Snapshot returns the public state of a session.
func (c *Coordinator) Snapshot(ctx context.Context, pin string) (domain.SnapshotPayload, error) {
	var snap domain.SnapshotPayload
	err := c.withActor(ctx, pin, func(a *sessionActor) error {
		return a.do(ctx, func(context.Context) error {
			snap = a.snapshot()
			return nil
		})
	})
	return snap, err
}

// CreateSession authors a new session in the lobby and returns it with its host id.
func (c *Coordinator) CreateSession(ctx context.Context, title string, questions []domain.Question) (domain.Session, error) {
	title = strings.TrimSpace(title)
	if n := len([]rune(title)); n < minTitle || n > maxTitle {
		return domain.Session{}, fmt.Errorf("%w: title must be %d-%d characters", domain.ErrInvalidPayload, minTitle, maxTitle)
	}
	if len(questions) == 0 {
		return domain.Session{}, fmt.Errorf("%w: at least one question is required", domain.ErrInvalidPayload)
	}
	authored := make([]domain.Question, 0, len(questions))
	for i, q := range questions {
		if strings.TrimSpace(q.Content) == "" || q.CorrectAnswer == "" {
			return domain.Session{}, fmt.Errorf("%w: question %d needs content and a correct answer", domain.ErrInvalidPayload, i)
		}
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		q.Position = i
		authored = append(authored, q.Normalized())
	}

	pin, err := c.store.NextPin(ctx)
	if err != nil {
		return domain.Session{}, err
	}
	session := domain.NewSession(pin, title, uuid.NewString(), c.now())
	if err := c.store.CreateSession(ctx, session, authored); err != nil {
		return domain.Session{}, err
	}
	c.logger.Info("session created", "pin", pin, "questions", len(authored))
	return session, nil
}

// Registration is a participant issued ahead of its first connection, with the
// token it must present to join as that participant.
type Registration struct {
	Participant domain.Participant
	Token       string
}

// RegisterPlayer issues a participant identity for pin while it is in the lobby.
func (c *Coordinator) RegisterPlayer(ctx context.Context, pin, nickname string) (Registration, error) {
	var reg Registration
	err := c.withActor(ctx, pin, func(a *sessionActor) error {
		return a.do(ctx, func(ctx context.Context) error {
			p, err := a.register(ctx, nickname)
			if err != nil {
				return err
			}
			reg = Registration{Participant: p, Token: a.rejoinToken(p.ID)}
			return nil
		})
	})
	return reg, err
}

// Stats builds the accuracy report of pin for whoever holds its host id.
func (c *Coordinator) Stats(ctx context.Context, pin, hostID string) (domain.StatsPayload, error) {
	var report domain.StatsPayload
	err := c.withActor(ctx, pin, func(a *sessionActor) error {
		return a.do(ctx, func(context.Context) error {
			var err error
			report, err = a.stats(hostID)
			return err
		})
	})
	return report, err
}

// Close stops every session actor.
func (c *Coordinator) Close() {
	c.mu.Lock()
	actors := make([]*sessionActor, 0, len(c.actors))
	for _, a := range c.actors {
		actors = append(actors, a)
	}
	c.mu.Unlock()
	for _, a := range actors {
		a.stop()
	}
}

// boundPin resolves the session a connection acts on; an explicit pin must match its binding.
func (c *Coordinator) boundPin(connID, pin string) (string, error) {
	entry, ok := c.registry.Lookup(connID)
	if !ok {
		return "", domain.ErrUnknownConnection
	}
	if !entry.Bound() {
		return "", domain.ErrUnauthorized
	}
	if pin != "" && pin != entry.Pin {
		return "", domain.ErrUnauthorized
	}
	return entry.Pin, nil
}

// withActor runs fn against the pin's actor, retrying once if the actor stopped underneath it.
func (c *Coordinator) withActor(ctx context.Context, pin string, fn func(*sessionActor) error) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var a *sessionActor
		a, err = c.actor(ctx, pin)
		if err != nil {
			return err
		}
		err = fn(a)
		if !errors.Is(err, errActorStopped) {
			return err
		}
	}
	return domain.Transient("session actor", err)
}

func (c *Coordinator) loaded(pin string) (*sessionActor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.actors[pin]
	return a, ok
}

func (c *Coordinator) actor(ctx context.Context, pin string) (*sessionActor, error) {
	if a, ok := c.loaded(pin); ok {
		return a, nil
	}
	v, err, _ := c.loads.Do(pin, func() (interface{}, error) {
		if a, ok := c.loaded(pin); ok {
			return a, nil
		}
		a, err := loadActor(ctx, pin, actorConfig{
			store:     c.store,
			registry:  c.registry,
			rooms:     c.rooms,
			out:       c.out,
			logger:    c.logger,
			now:       c.now,
			liveDelay: c.liveDelay,
			queueSize: c.queueSize,
			onStop:    c.forget,
		})
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.actors[pin] = a
		c.mu.Unlock()
		c.logger.Debug("session actor loaded", "pin", pin, "phase", a.session.Phase)
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*sessionActor), nil
}

func (c *Coordinator) forget(a *sessionActor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.actors[a.pin] == a {
		delete(c.actors, a.pin)
	}
}
