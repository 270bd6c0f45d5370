package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/PoliTwit1984/kentrivia/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Store persists sessions in Redis so a restarted coordinator can rebuild its actors.
// Layout per pin:
//
//	SET  trivia:pin:{pin}                   reservation marker (SETNX)
//	SET  trivia:session:{pin}               session JSON
//	SET  trivia:session:{pin}:questions     ordered question JSON array
//	HSET trivia:session:{pin}:participants  {participantID} participant JSON
//	HSET trivia:session:{pin}:answers       {participantID}:{questionID} answer JSON
type Store struct {
	client *redis.Client
	ttl    time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{
		client: client,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Both scripts return -1 when the session is gone and -2 for an unknown participant.
var updateParticipantScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('HEXISTS', KEYS[2], ARGV[1]) == 0 then return -2 end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
return 1
`)

// recordAnswerScript writes the answer and the rescored participant in one step.
// Returns 0 when the answer key already exists.
var recordAnswerScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('HEXISTS', KEYS[3], ARGV[3]) == 0 then return -2 end
if redis.call('HSETNX', KEYS[2], ARGV[1], ARGV[2]) == 0 then return 0 end
redis.call('HSET', KEYS[3], ARGV[3], ARGV[4])
local ttl = tonumber(ARGV[5])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[2], ttl)
  redis.call('PEXPIRE', KEYS[3], ttl)
end
return 1
`)

func (s *Store) NextPin(ctx context.Context) (string, error) {
	for i := 0; i < domain.PinAttempts; i++ {
		s.mu.Lock()
		pin := domain.RandomPin(s.rnd)
		s.mu.Unlock()

		ok, err := s.client.SetNX(ctx, pinKey(pin), time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
		if err != nil {
			return "", domain.Transient("reserve pin", err)
		}
		if ok {
			return pin, nil
		}
	}
	return "", fmt.Errorf("next pin: %w", domain.ErrTransientIO)
}

func (s *Store) CreateSession(ctx context.Context, session domain.Session, questions []domain.Question) error {
	sessionData, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	questionData, err := json.Marshal(questions)
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, pinKey(session.Pin), session.CreatedAt.UTC().Format(time.RFC3339), s.ttl)
		pipe.Set(ctx, sessionKey(session.Pin), sessionData, s.ttl)
		pipe.Set(ctx, questionsKey(session.Pin), questionData, s.ttl)
		return nil
	})
	if err != nil {
		return domain.Transient("create session", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, pin string) (domain.Session, error) {
	raw, err := s.client.Get(ctx, sessionKey(pin)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, domain.Transient("get session", err)
	}
	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshal session %s: %w", pin, err)
	}
	return session, nil
}

func (s *Store) UpdateSession(ctx context.Context, session domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ok, err := s.client.SetXX(ctx, sessionKey(session.Pin), data, s.ttl).Result()
	if err != nil {
		return domain.Transient("update session", err)
	}
	if !ok {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *Store) ListQuestions(ctx context.Context, pin string) ([]domain.Question, error) {
	raw, err := s.client.Get(ctx, questionsKey(pin)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, domain.Transient("list questions", err)
	}
	var questions []domain.Question
	if err := json.Unmarshal(raw, &questions); err != nil {
		return nil, fmt.Errorf("unmarshal questions %s: %w", pin, err)
	}
	return questions, nil
}

func (s *Store) CreateParticipant(ctx context.Context, p domain.Participant) error {
	if err := s.requireSession(ctx, p.Pin); err != nil {
		return err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal participant: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, participantsKey(p.Pin), p.ID, data)
		if s.ttl > 0 {
			pipe.Expire(ctx, participantsKey(p.Pin), s.ttl)
		}
		return nil
	})
	if err != nil {
		return domain.Transient("create participant", err)
	}
	return nil
}

func (s *Store) UpdateParticipant(ctx context.Context, p domain.Participant) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal participant: %w", err)
	}
	res, err := updateParticipantScript.Run(ctx, s.client,
		[]string{sessionKey(p.Pin), participantsKey(p.Pin)},
		p.ID, data,
	).Int()
	if err != nil {
		return domain.Transient("update participant", err)
	}
	return scriptResult(res)
}

func (s *Store) ListParticipants(ctx context.Context, pin string) ([]domain.Participant, error) {
	if err := s.requireSession(ctx, pin); err != nil {
		return nil, err
	}
	values, err := s.client.HVals(ctx, participantsKey(pin)).Result()
	if err != nil {
		return nil, domain.Transient("list participants", err)
	}
	out := make([]domain.Participant, 0, len(values))
	for _, v := range values {
		var p domain.Participant
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			return nil, fmt.Errorf("unmarshal participant: %w", err)
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinOrder < out[j].JoinOrder })
	return out, nil
}

func (s *Store) RecordAnswer(ctx context.Context, rec domain.AnswerRecord, p domain.Participant) error {
	recData, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}
	pData, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal participant: %w", err)
	}
	res, err := recordAnswerScript.Run(ctx, s.client,
		[]string{sessionKey(rec.Pin), answersKey(rec.Pin), participantsKey(rec.Pin)},
		answerField(rec.ParticipantID, rec.QuestionID), recData, p.ID, pData, s.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return domain.Transient("record answer", err)
	}
	if res == 0 {
		return domain.ErrDuplicateSubmission
	}
	return scriptResult(res)
}

func (s *Store) ListAnswers(ctx context.Context, pin string) ([]domain.AnswerRecord, error) {
	if err := s.requireSession(ctx, pin); err != nil {
		return nil, err
	}
	values, err := s.client.HVals(ctx, answersKey(pin)).Result()
	if err != nil {
		return nil, domain.Transient("list answers", err)
	}
	out := make([]domain.AnswerRecord, 0, len(values))
	for _, v := range values {
		var rec domain.AnswerRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal answer: %w", err)
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

func (s *Store) requireSession(ctx context.Context, pin string) error {
	n, err := s.client.Exists(ctx, sessionKey(pin)).Result()
	if err != nil {
		return domain.Transient("session exists", err)
	}
	if n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func scriptResult(res int) error {
	switch res {
	case -1:
		return domain.ErrSessionNotFound
	case -2:
		return domain.ErrParticipantNotFound
	default:
		return nil
	}
}

func pinKey(pin string) string          { return "trivia:pin:" + pin }
func sessionKey(pin string) string      { return "trivia:session:" + pin }
func questionsKey(pin string) string    { return sessionKey(pin) + ":questions" }
func participantsKey(pin string) string { return sessionKey(pin) + ":participants" }
func answersKey(pin string) string      { return sessionKey(pin) + ":answers" }

func answerField(participantID, questionID string) string {
	return participantID + ":" + questionID
}
