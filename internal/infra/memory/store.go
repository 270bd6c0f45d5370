package memory

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/PoliTwit1984/kentrivia/internal/domain"
)

// Store keeps sessions, participants and answers in process memory.
type Store struct {
	mu           sync.RWMutex
	rnd          *rand.Rand
	pins         map[string]struct{}
	sessions     map[string]domain.Session
	questions    map[string][]domain.Question
	participants map[string]map[string]domain.Participant
	answers      map[string]map[answerKey]domain.AnswerRecord
}

type answerKey struct {
	participantID string
	questionID    string
}

func NewStore() *Store {
	return &Store{
		rnd:          rand.New(rand.NewSource(time.Now().UnixNano())),
		pins:         make(map[string]struct{}),
		sessions:     make(map[string]domain.Session),
		questions:    make(map[string][]domain.Question),
		participants: make(map[string]map[string]domain.Participant),
		answers:      make(map[string]map[answerKey]domain.AnswerRecord),
	}
}

// NextPin reserves an unused pin.
func (s *Store) NextPin(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < domain.PinAttempts; i++ {
		pin := domain.RandomPin(s.rnd)
		if _, taken := s.pins[pin]; taken {
			continue
		}
		s.pins[pin] = struct{}{}
		return pin, nil
	}
	return "", fmt.Errorf("next pin: %w", domain.ErrTransientIO)
}

func (s *Store) CreateSession(_ context.Context, session domain.Session, questions []domain.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins[session.Pin] = struct{}{}
	s.sessions[session.Pin] = session
	s.questions[session.Pin] = append([]domain.Question(nil), questions...)
	s.participants[session.Pin] = make(map[string]domain.Participant)
	s.answers[session.Pin] = make(map[answerKey]domain.AnswerRecord)
	return nil
}

func (s *Store) GetSession(_ context.Context, pin string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[pin]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *Store) UpdateSession(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.Pin]; !ok {
		return domain.ErrSessionNotFound
	}
	s.sessions[session.Pin] = session
	return nil
}

func (s *Store) ListQuestions(_ context.Context, pin string) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[pin]; !ok {
		return nil, domain.ErrSessionNotFound
	}
	return append([]domain.Question(nil), s.questions[pin]...), nil
}

func (s *Store) CreateParticipant(_ context.Context, p domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.participants[p.Pin]
	if !ok {
		return domain.ErrSessionNotFound
	}
	set[p.ID] = p
	return nil
}

func (s *Store) UpdateParticipant(_ context.Context, p domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.participants[p.Pin]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if _, ok := set[p.ID]; !ok {
		return domain.ErrParticipantNotFound
	}
	set[p.ID] = p
	return nil
}

func (s *Store) ListParticipants(_ context.Context, pin string) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.participants[pin]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	out := make([]domain.Participant, 0, len(set))
	for _, p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinOrder < out[j].JoinOrder })
	return out, nil
}

// RecordAnswer stores the record and the updated participant together.
func (s *Store) RecordAnswer(_ context.Context, rec domain.AnswerRecord, p domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, ok := s.answers[rec.Pin]
	if !ok {
		return domain.ErrSessionNotFound
	}
	key := answerKey{participantID: rec.ParticipantID, questionID: rec.QuestionID}
	if _, dup := records[key]; dup {
		return domain.ErrDuplicateSubmission
	}
	set := s.participants[rec.Pin]
	if _, ok := set[p.ID]; !ok {
		return domain.ErrParticipantNotFound
	}
	records[key] = rec
	set[p.ID] = p
	return nil
}

func (s *Store) ListAnswers(_ context.Context, pin string) ([]domain.AnswerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records, ok := s.answers[pin]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	out := make([]domain.AnswerRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}
