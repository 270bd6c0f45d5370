package app

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/PoliTwit1984/kentrivia/internal/domain"
)

var errActorStopped = errors.New("session actor stopped")

const (
	minNickname = 2
	maxNickname = 20

	// hostSeat is the identity a host connection is bound and listed under.
	// The host id itself is a credential and never leaves the create response.
	hostSeat = "host"
)

type command struct {
	ctx   context.Context
	run   func(ctx context.Context) error
	reply chan error
}

// sessionActor owns one pin. Every mutation of its state runs on the loop goroutine,
// so events for the same pin never interleave while a storage call is in flight.
type sessionActor struct {
	pin       string
	store     Store
	registry  *Registry
	rooms     *Rooms
	out       *Broadcaster
	logger    *slog.Logger
	now       func() time.Time
	liveDelay time.Duration
	onStop    func(*sessionActor)

	inbox chan command
	quit  chan struct{}
	done  chan struct{}

	session      domain.Session
	questions    []domain.Question
	participants map[string]domain.Participant
	answers      map[string]map[string]domain.AnswerRecord
	joinSeq      int
	liveTimer    *time.Timer
}

type actorConfig struct {
	store     Store
	registry  *Registry
	rooms     *Rooms
	out       *Broadcaster
	logger    *slog.Logger
	now       func() time.Time
	liveDelay time.Duration
	queueSize int
	onStop    func(*sessionActor)
}

// loadActor rebuilds a session's state from the store and starts its loop.
func loadActor(ctx context.Context, pin string, cfg actorConfig) (*sessionActor, error) {
	session, err := cfg.store.GetSession(ctx, pin)
	if err != nil {
		return nil, err
	}
	questions, err := cfg.store.ListQuestions(ctx, pin)
	if err != nil {
		return nil, err
	}
	participants, err := cfg.store.ListParticipants(ctx, pin)
	if err != nil {
		return nil, err
	}
	records, err := cfg.store.ListAnswers(ctx, pin)
	if err != nil {
		return nil, err
	}

	a := &sessionActor{
		pin:          pin,
		store:        cfg.store,
		registry:     cfg.registry,
		rooms:        cfg.rooms,
		out:          cfg.out,
		logger:       cfg.logger.With("pin", pin),
		now:          cfg.now,
		liveDelay:    cfg.liveDelay,
		onStop:       cfg.onStop,
		inbox:        make(chan command, cfg.queueSize),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		session:      session,
		questions:    make([]domain.Question, 0, len(questions)),
		participants: make(map[string]domain.Participant, len(participants)),
		answers:      make(map[string]map[string]domain.AnswerRecord),
	}
	sort.SliceStable(questions, func(i, j int) bool { return questions[i].Position < questions[j].Position })
	for _, q := range questions {
		a.questions = append(a.questions, q.Normalized())
	}
	for _, p := range participants {
		a.participants[p.ID] = p
		if p.JoinOrder >= a.joinSeq {
			a.joinSeq = p.JoinOrder + 1
		}
	}
	for _, rec := range records {
		a.recordLocal(rec)
	}

	a.rooms.Open(pin)
	if a.session.Phase == domain.PhasePreparing {
		a.armLive(a.session.CurrentQuestionIndex)
	}
	go a.loop()
	return a, nil
}

func (a *sessionActor) loop() {
	defer close(a.done)
	for {
		select {
		case <-a.quit:
			a.teardown()
			return
		case cmd := <-a.inbox:
			var err error
			if err = cmd.ctx.Err(); err == nil {
				err = cmd.run(cmd.ctx)
			}
			if cmd.reply != nil {
				cmd.reply <- err
			}
			if a.session.Phase == domain.PhaseCompleted && a.rooms.Count(a.pin) == 0 {
				a.teardown()
				return
			}
		}
	}
}

// do runs fn on the actor and waits for its result.
// Once queued the command's own outcome is reported: the loop skips it if ctx
// expired first, and a mutation that already committed is never reported as failed.
func (a *sessionActor) do(ctx context.Context, fn func(ctx context.Context) error) error {
	reply := make(chan error, 1)
	select {
	case a.inbox <- command{ctx: ctx, run: fn, reply: reply}:
	case <-a.done:
		return errActorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-a.done:
		// the loop replies before it stops, so a completed command is never reported as lost
		select {
		case err := <-reply:
			return err
		default:
			return errActorStopped
		}
	}
}

// post queues fn without waiting, for timer callbacks.
func (a *sessionActor) post(fn func(ctx context.Context) error) {
	select {
	case a.inbox <- command{ctx: context.Background(), run: fn}:
	case <-a.done:
	}
}

func (a *sessionActor) stop() {
	select {
	case <-a.quit:
	default:
		close(a.quit)
	}
	<-a.done
}

func (a *sessionActor) teardown() {
	a.stopLiveTimer()
	a.rooms.Close(a.pin)
	if a.onStop != nil {
		a.onStop(a)
	}
	a.logger.Info("session actor stopped", "phase", a.session.Phase)
}

func (a *sessionActor) recordLocal(rec domain.AnswerRecord) {
	byParticipant, ok := a.answers[rec.QuestionID]
	if !ok {
		byParticipant = make(map[string]domain.AnswerRecord)
		a.answers[rec.QuestionID] = byParticipant
	}
	byParticipant[rec.ParticipantID] = rec
}

func (a *sessionActor) currentQuestion() (domain.Question, bool) {
	idx := a.session.CurrentQuestionIndex
	if idx < 0 || idx >= len(a.questions) {
		return domain.Question{}, false
	}
	return a.questions[idx], true
}

// commitSession persists next and only then makes it the in-memory state.
func (a *sessionActor) commitSession(ctx context.Context, next domain.Session) error {
	if err := a.store.UpdateSession(ctx, next); err != nil {
		a.logger.Error("persist session failed", "phase", next.Phase, "error", err)
		return err
	}
	a.session = next
	return nil
}

func (a *sessionActor) commitParticipant(ctx context.Context, p domain.Participant, created bool) error {
	var err error
	if created {
		err = a.store.CreateParticipant(ctx, p)
	} else {
		err = a.store.UpdateParticipant(ctx, p)
	}
	if err != nil {
		a.logger.Error("persist participant failed", "participant_id", p.ID, "error", err)
		return err
	}
	a.participants[p.ID] = p
	return nil
}

// caller resolves connID to its binding in this session.
func (a *sessionActor) caller(connID string) (ConnectionEntry, error) {
	entry, ok := a.registry.Lookup(connID)
	if !ok {
		return ConnectionEntry{}, domain.ErrUnknownConnection
	}
	if entry.Pin != a.pin {
		return ConnectionEntry{}, domain.ErrUnauthorized
	}
	return entry, nil
}

func (a *sessionActor) host(connID string) (ConnectionEntry, error) {
	entry, err := a.caller(connID)
	if err != nil {
		return entry, err
	}
	if entry.Role != domain.RoleHost || entry.ParticipantID != hostSeat {
		return entry, domain.ErrUnauthorized
	}
	return entry, nil
}

func (a *sessionActor) isHostID(hostID string) bool {
	return hostID != "" && subtle.ConstantTimeCompare([]byte(hostID), []byte(a.session.HostID)) == 1
}

// rejoinToken proves ownership of a participant id. It is derived from the host
// id so it survives a restart without being stored.
func (a *sessionActor) rejoinToken(participantID string) string {
	mac := hmac.New(sha256.New, []byte(a.session.HostID))
	mac.Write([]byte(a.pin + ":" + participantID))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *sessionActor) validToken(participantID, token string) bool {
	if token == "" {
		return false
	}
	return hmac.Equal([]byte(token), []byte(a.rejoinToken(participantID)))
}

func validNickname(nickname string) (string, error) {
	nickname = strings.TrimSpace(nickname)
	if n := len([]rune(nickname)); n < minNickname || n > maxNickname {
		return "", fmt.Errorf("%w: nickname must be %d-%d characters", domain.ErrInvalidPayload, minNickname, maxNickname)
	}
	return nickname, nil
}

func (a *sessionActor) newParticipant(nickname string) domain.Participant {
	p := domain.Participant{
		ID:        uuid.NewString(),
		Pin:       a.pin,
		Nickname:  nickname,
		JoinOrder: a.joinSeq,
		JoinedAt:  a.now(),
	}
	return p
}

// register creates a player ahead of their first connection.
func (a *sessionActor) register(ctx context.Context, nickname string) (domain.Participant, error) {
	nickname, err := validNickname(nickname)
	if err != nil {
		return domain.Participant{}, err
	}
	if a.session.Phase != domain.PhaseLobby {
		return domain.Participant{}, domain.ErrInvalidState
	}
	p := a.newParticipant(nickname)
	if err := a.commitParticipant(ctx, p, true); err != nil {
		return domain.Participant{}, err
	}
	a.joinSeq++
	a.logger.Info("player registered", "participant_id", p.ID, "nickname", p.Nickname)
	return p, nil
}

// join binds connID to a host or player identity of this session.
func (a *sessionActor) join(ctx context.Context, connID string, req domain.JoinRequest) (domain.JoinAck, error) {
	if _, ok := a.registry.Lookup(connID); !ok {
		return domain.JoinAck{}, domain.ErrUnknownConnection
	}

	if req.Role == domain.RoleHost {
		if !a.isHostID(req.HostID) {
			return domain.JoinAck{}, domain.ErrUnauthorized
		}
		if err := a.claim(connID, hostSeat, req.Rejoin); err != nil {
			return domain.JoinAck{}, err
		}
		if _, err := a.registry.Bind(connID, a.pin, domain.RoleHost, hostSeat); err != nil {
			return domain.JoinAck{}, err
		}
		ack := domain.JoinAck{ParticipantID: hostSeat, Role: domain.RoleHost, IsReady: true, IsRejoin: req.Rejoin}
		a.logger.Info("host joined", "conn_id", connID, "rejoin", req.Rejoin)
		a.welcome(connID, ack)
		a.broadcastMembership()
		return ack, nil
	}

	var (
		p       domain.Participant
		created bool
	)
	switch {
	case req.ParticipantID != "":
		if !a.validToken(req.ParticipantID, req.Token) {
			return domain.JoinAck{}, domain.ErrUnauthorized
		}
		existing, ok := a.participants[req.ParticipantID]
		if !ok {
			return domain.JoinAck{}, domain.ErrParticipantNotFound
		}
		p = existing
	case req.Rejoin:
		return domain.JoinAck{}, fmt.Errorf("%w: rejoin requires participant_id", domain.ErrInvalidPayload)
	default:
		nickname, err := validNickname(req.Nickname)
		if err != nil {
			return domain.JoinAck{}, err
		}
		if a.session.Phase != domain.PhaseLobby {
			return domain.JoinAck{}, domain.ErrInvalidState
		}
		p = a.newParticipant(nickname)
		created = true
	}

	if err := a.claim(connID, p.ID, req.Rejoin); err != nil {
		return domain.JoinAck{}, err
	}

	turnedReady := !req.Rejoin && !p.Ready
	if created || turnedReady {
		next := p
		if turnedReady {
			next.Ready = true
		}
		if err := a.commitParticipant(ctx, next, created); err != nil {
			return domain.JoinAck{}, err
		}
		if created {
			a.joinSeq++
		}
		p = next
	}

	displaced, err := a.registry.Bind(connID, a.pin, domain.RolePlayer, p.ID)
	if err != nil {
		return domain.JoinAck{}, err
	}
	if displaced != "" {
		a.logger.Info("identity moved to new connection", "participant_id", p.ID, "from", displaced, "to", connID)
	}

	ack := domain.JoinAck{
		ParticipantID: p.ID,
		RejoinToken:   a.rejoinToken(p.ID),
		Role:          domain.RolePlayer,
		Nickname:      p.Nickname,
		Score:         p.Score,
		Streak:        p.Streak,
		IsReady:       p.Ready,
		IsRejoin:      req.Rejoin,
	}
	a.logger.Info("player joined", "conn_id", connID, "participant_id", p.ID, "rejoin", req.Rejoin)
	a.welcome(connID, ack)
	a.broadcastMembership()
	if turnedReady {
		a.out.ToRoom(a.pin, domain.EventPlayerReady, domain.PlayerReadyPayload{ParticipantID: p.ID, Nickname: p.Nickname})
		if a.session.Phase == domain.PhaseLobby && a.allReady() {
			a.out.ToRoom(a.pin, domain.EventAllReady, a.membership())
		}
	}
	return ack, nil
}

// claim rejects a fresh join for an identity that another live connection holds.
// A rejoin may displace the holder; callers have already checked its credential.
func (a *sessionActor) claim(connID, participantID string, rejoin bool) error {
	holder, ok := a.registry.BoundTo(a.pin, participantID)
	if !ok || holder == connID || rejoin {
		return nil
	}
	return domain.ErrIdentityConflict
}

// welcome acks the join and resynchronises the connection with the room's clock.
func (a *sessionActor) welcome(connID string, ack domain.JoinAck) {
	a.out.ToConnection(connID, domain.EventJoined, ack)
	a.out.ToConnection(connID, domain.EventSessionSnapshot, a.snapshot())
	q, ok := a.currentQuestion()
	if !ok {
		return
	}
	switch a.session.Phase {
	case domain.PhasePreparing:
		a.out.ToConnection(connID, domain.EventQuestionPreparing, a.questionPayload(q))
	case domain.PhaseLive:
		a.out.ToConnection(connID, domain.EventQuestionLive, a.questionPayload(q))
	}
}

func (a *sessionActor) allReady() bool {
	if len(a.participants) == 0 {
		return false
	}
	for _, p := range a.participants {
		if !p.Ready {
			return false
		}
	}
	return true
}

// membership lists the identities connected to the room, host first then join order.
func (a *sessionActor) membership() domain.MembershipPayload {
	seen := make(map[string]struct{})
	roster := make([]domain.ConnectedParticipant, 0)
	for _, connID := range a.rooms.Members(a.pin) {
		entry, ok := a.registry.Lookup(connID)
		if !ok || entry.Pin != a.pin {
			continue
		}
		if _, dup := seen[entry.ParticipantID]; dup {
			continue
		}
		seen[entry.ParticipantID] = struct{}{}
		line := domain.ConnectedParticipant{ParticipantID: entry.ParticipantID, Role: entry.Role}
		if entry.Role == domain.RoleHost {
			line.IsReady = true
		} else if p, ok := a.participants[entry.ParticipantID]; ok {
			line.Nickname = p.Nickname
			line.Score = p.Score
			line.IsReady = p.Ready
		}
		roster = append(roster, line)
	}
	sort.SliceStable(roster, func(i, j int) bool {
		if roster[i].Role != roster[j].Role {
			return roster[i].Role == domain.RoleHost
		}
		return a.participants[roster[i].ParticipantID].JoinOrder < a.participants[roster[j].ParticipantID].JoinOrder
	})
	return domain.MembershipPayload{ConnectedParticipants: roster}
}

func (a *sessionActor) broadcastMembership() {
	a.out.ToRoom(a.pin, domain.EventMembershipChanged, a.membership())
}

// left announces the roster after a connection of this session went away.
func (a *sessionActor) left(_ context.Context, entry ConnectionEntry) error {
	if entry.Role == domain.RoleHost {
		a.logger.Warn("host disconnected", "conn_id", entry.ID, "phase", a.session.Phase)
	}
	a.broadcastMembership()
	return nil
}

func (a *sessionActor) leaderboard() []domain.LeaderboardEntry {
	players := make([]domain.Participant, 0, len(a.participants))
	for _, p := range a.participants {
		players = append(players, p)
	}
	return domain.Leaderboard(players)
}

func (a *sessionActor) snapshot() domain.SnapshotPayload {
	return domain.SnapshotPayload{
		Pin:                      a.pin,
		Title:                    a.session.Title,
		Phase:                    a.session.Phase,
		CurrentQuestionIndex:     a.session.CurrentQuestionIndex,
		Total:                    len(a.questions),
		CurrentQuestionStartedAt: a.session.CurrentQuestionStartedAt,
		Leaderboard:              a.leaderboard(),
	}
}

func (a *sessionActor) questionPayload(q domain.Question) domain.QuestionPayload {
	payload := domain.QuestionPayload{
		Question: q.Public(),
		Total:    len(a.questions),
		Index:    a.session.CurrentQuestionIndex,
	}
	if a.session.CurrentQuestionStartedAt != nil {
		payload.StartedAt = *a.session.CurrentQuestionStartedAt
	}
	return payload
}

func (a *sessionActor) startedPayload() domain.SessionStartedPayload {
	payload := domain.SessionStartedPayload{
		TotalQuestions:       len(a.questions),
		CurrentQuestionIndex: a.session.CurrentQuestionIndex,
	}
	if a.session.StartedAt != nil {
		payload.StartedAt = *a.session.StartedAt
	}
	return payload
}

// start moves lobby -> active. Repeats after the session left the lobby are acknowledged, not applied.
func (a *sessionActor) start(ctx context.Context, connID string) error {
	if _, err := a.host(connID); err != nil {
		return err
	}
	switch a.session.Phase {
	case domain.PhaseCompleted:
		return domain.ErrInvalidState
	case domain.PhaseLobby:
	default:
		a.out.ToConnection(connID, domain.EventSessionStarted, a.startedPayload())
		return nil
	}

	now := a.now()
	next := a.session
	next.Phase = domain.PhaseActive
	next.CurrentQuestionIndex = -1
	next.StartedAt = &now
	if err := a.commitSession(ctx, next); err != nil {
		return err
	}
	a.logger.Info("session started", "questions", len(a.questions), "players", len(a.participants))
	a.out.ToRoom(a.pin, domain.EventSessionStarted, a.startedPayload())
	return nil
}

// advance opens the next question in preparing and arms the switch to live.
// Past the last question the index is left alone and the session completes.
func (a *sessionActor) advance(ctx context.Context, connID string) error {
	if _, err := a.host(connID); err != nil {
		return err
	}
	if a.session.Phase != domain.PhaseActive && a.session.Phase != domain.PhaseEnded {
		return domain.ErrInvalidState
	}

	idx := a.session.CurrentQuestionIndex + 1
	if idx >= len(a.questions) {
		if err := a.complete(ctx); err != nil {
			return err
		}
		return domain.ErrNoMoreQuestions
	}

	now := a.now()
	next := a.session
	next.Phase = domain.PhasePreparing
	next.CurrentQuestionIndex = idx
	next.CurrentQuestionStartedAt = &now
	if err := a.commitSession(ctx, next); err != nil {
		return err
	}
	a.armLive(idx)
	a.logger.Info("question preparing", "index", idx)
	a.out.ToRoom(a.pin, domain.EventQuestionPreparing, a.questionPayload(a.questions[idx]))
	return nil
}

func (a *sessionActor) armLive(idx int) {
	a.stopLiveTimer()
	a.liveTimer = time.AfterFunc(a.liveDelay, func() {
		a.post(func(ctx context.Context) error { return a.goLive(ctx, idx) })
	})
}

func (a *sessionActor) stopLiveTimer() {
	if a.liveTimer != nil {
		a.liveTimer.Stop()
		a.liveTimer = nil
	}
}

// goLive opens the answer window for question idx if it is still the one preparing.
func (a *sessionActor) goLive(ctx context.Context, idx int) error {
	if a.session.Phase != domain.PhasePreparing || a.session.CurrentQuestionIndex != idx {
		return nil
	}
	next := a.session
	next.Phase = domain.PhaseLive
	if err := a.commitSession(ctx, next); err != nil {
		a.armLive(idx)
		return err
	}
	a.liveTimer = nil
	q := a.questions[idx]
	a.logger.Info("question live", "index", idx, "question_id", q.ID)
	a.out.ToRoom(a.pin, domain.EventQuestionLive, a.questionPayload(q))
	return nil
}

// submit scores a player's single answer to the live question.
func (a *sessionActor) submit(ctx context.Context, connID string, req domain.SubmitRequest) (domain.AnswerResult, error) {
	entry, err := a.caller(connID)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	if entry.Role != domain.RolePlayer {
		return domain.AnswerResult{}, domain.ErrUnauthorized
	}
	p, ok := a.participants[entry.ParticipantID]
	if !ok {
		return domain.AnswerResult{}, domain.ErrParticipantNotFound
	}
	if a.session.Phase != domain.PhaseLive {
		return domain.AnswerResult{}, domain.ErrInvalidState
	}
	q, ok := a.currentQuestion()
	if !ok || req.QuestionID != q.ID {
		return domain.AnswerResult{}, domain.ErrQuestionNotFound
	}
	if _, dup := a.answers[q.ID][p.ID]; dup {
		return domain.AnswerResult{}, domain.ErrDuplicateSubmission
	}

	responseTime := req.ResponseTime
	if responseTime < 0 {
		responseTime = 0
	}
	outcome := Score(q, req.Answer, responseTime)
	rec := domain.AnswerRecord{
		Pin:           a.pin,
		ParticipantID: p.ID,
		QuestionID:    q.ID,
		Answer:        req.Answer,
		Correct:       outcome.Correct,
		ResponseTime:  responseTime,
		Points:        outcome.Points,
		SubmittedAt:   a.now(),
	}
	updated := outcome.Apply(p)
	if err := a.store.RecordAnswer(ctx, rec, updated); err != nil {
		if !errors.Is(err, domain.ErrDuplicateSubmission) {
			a.logger.Error("record answer failed", "participant_id", p.ID, "question_id", q.ID, "error", err)
		}
		return domain.AnswerResult{}, err
	}
	a.recordLocal(rec)
	a.participants[p.ID] = updated

	result := domain.AnswerResult{
		QuestionID:    q.ID,
		IsCorrect:     outcome.Correct,
		CorrectAnswer: q.CorrectAnswer,
		PointsAwarded: outcome.Points,
		NewScore:      updated.Score,
		NewStreak:     updated.Streak,
	}
	a.logger.Debug("answer recorded", "participant_id", p.ID, "correct", outcome.Correct, "points", outcome.Points)
	a.out.ToConnection(connID, domain.EventAnswerResult, result)
	a.out.ToRoom(a.pin, domain.EventAnswerBroadcast, domain.AnswerBroadcast{
		ParticipantID: p.ID,
		Nickname:      p.Nickname,
		IsCorrect:     outcome.Correct,
		PointsAwarded: outcome.Points,
		NewScore:      updated.Score,
		NewStreak:     updated.Streak,
	})
	return result, nil
}

// reveal closes the answer window and publishes every record for the question.
func (a *sessionActor) reveal(ctx context.Context, connID string, questionID string) (domain.QuestionEndedPayload, error) {
	if _, err := a.host(connID); err != nil {
		return domain.QuestionEndedPayload{}, err
	}
	if a.session.Phase != domain.PhaseLive && a.session.Phase != domain.PhasePreparing {
		return domain.QuestionEndedPayload{}, domain.ErrInvalidState
	}
	q, ok := a.currentQuestion()
	if !ok || (questionID != "" && questionID != q.ID) {
		return domain.QuestionEndedPayload{}, domain.ErrQuestionNotFound
	}

	next := a.session
	next.Phase = domain.PhaseEnded
	if err := a.commitSession(ctx, next); err != nil {
		return domain.QuestionEndedPayload{}, err
	}
	a.stopLiveTimer()

	payload := domain.QuestionEndedPayload{
		QuestionID:    q.ID,
		CorrectAnswer: q.CorrectAnswer,
		Answers:       a.revealed(q.ID),
	}
	a.logger.Info("question ended", "index", a.session.CurrentQuestionIndex, "answers", len(payload.Answers))
	a.out.ToRoom(a.pin, domain.EventQuestionEnded, payload)
	return payload, nil
}

func (a *sessionActor) revealed(questionID string) []domain.RevealedAnswer {
	records := make([]domain.AnswerRecord, 0, len(a.answers[questionID]))
	for _, rec := range a.answers[questionID] {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].SubmittedAt.Equal(records[j].SubmittedAt) {
			return records[i].SubmittedAt.Before(records[j].SubmittedAt)
		}
		return records[i].ParticipantID < records[j].ParticipantID
	})
	out := make([]domain.RevealedAnswer, 0, len(records))
	for _, rec := range records {
		out = append(out, domain.RevealedAnswer{
			ParticipantID: rec.ParticipantID,
			Nickname:      a.participants[rec.ParticipantID].Nickname,
			Answer:        rec.Answer,
			IsCorrect:     rec.Correct,
			PointsAwarded: rec.Points,
			ResponseTime:  rec.ResponseTime,
		})
	}
	return out
}

// publishLeaderboard pushes the ordered scoreboard to the room.
func (a *sessionActor) publishLeaderboard(_ context.Context, connID string) ([]domain.LeaderboardEntry, error) {
	if _, err := a.host(connID); err != nil {
		return nil, err
	}
	board := a.leaderboard()
	a.out.ToRoom(a.pin, domain.EventLeaderboardUpdate, domain.LeaderboardPayload{Leaderboard: board})
	return board, nil
}

// end completes the session on the host's request.
func (a *sessionActor) end(ctx context.Context, connID string) error {
	if _, err := a.host(connID); err != nil {
		return err
	}
	switch a.session.Phase {
	case domain.PhaseCompleted:
		return nil
	case domain.PhaseActive, domain.PhaseEnded:
		return a.complete(ctx)
	default:
		return domain.ErrInvalidState
	}
}

func (a *sessionActor) complete(ctx context.Context) error {
	now := a.now()
	next := a.session
	next.Phase = domain.PhaseCompleted
	next.EndedAt = &now
	if err := a.commitSession(ctx, next); err != nil {
		return err
	}
	a.stopLiveTimer()
	board := a.leaderboard()
	a.logger.Info("session completed", "players", len(board))
	a.out.ToRoom(a.pin, domain.EventSessionCompleted, domain.SessionCompletedPayload{EndedAt: now, Leaderboard: board})
	return nil
}

// stats reports per-player and per-question accuracy to a caller holding the host id.
func (a *sessionActor) stats(hostID string) (domain.StatsPayload, error) {
	if !a.isHostID(hostID) {
		return domain.StatsPayload{}, domain.ErrUnauthorized
	}
	total := len(a.questions)

	players := make([]domain.Participant, 0, len(a.participants))
	for _, p := range a.participants {
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool { return players[i].JoinOrder < players[j].JoinOrder })

	correctBy := make(map[string]int, len(players))
	for _, byParticipant := range a.answers {
		for id, rec := range byParticipant {
			if rec.Correct {
				correctBy[id]++
			}
		}
	}

	report := domain.StatsPayload{
		Game: domain.GameStats{
			Title:          a.session.Title,
			StartedAt:      a.session.StartedAt,
			EndedAt:        a.session.EndedAt,
			TotalPlayers:   len(players),
			TotalQuestions: total,
		},
		Players:   make([]domain.PlayerStats, 0, len(players)),
		Questions: make([]domain.QuestionStats, 0, total),
	}
	for _, p := range players {
		report.Players = append(report.Players, domain.PlayerStats{
			ParticipantID:  p.ID,
			Nickname:       p.Nickname,
			Score:          p.Score,
			CorrectAnswers: correctBy[p.ID],
			Accuracy:       percent(correctBy[p.ID], total),
		})
	}
	for _, q := range a.questions {
		correct := 0
		for _, rec := range a.answers[q.ID] {
			if rec.Correct {
				correct++
			}
		}
		answered := len(a.answers[q.ID])
		report.Questions = append(report.Questions, domain.QuestionStats{
			QuestionID:     q.ID,
			Content:        q.Content,
			CorrectAnswer:  q.CorrectAnswer,
			TotalAnswers:   answered,
			CorrectAnswers: correct,
			Accuracy:       percent(correct, answered),
		})
	}
	return report, nil
}

// percent is part/whole*100 rounded to one decimal, zero for an empty whole.
func percent(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return math.Round(float64(part)/float64(whole)*1000) / 10
}
