package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/PoliTwit1984/kentrivia/internal/domain"
)

// Store is the durable session store. Question ids are only unique within a
// session, so every table is keyed by pin first.
type Store struct {
	pool *pgxpool.Pool

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool: pool,
		rnd:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Store) NextPin(ctx context.Context) (string, error) {
	for i := 0; i < domain.PinAttempts; i++ {
		s.mu.Lock()
		pin := domain.RandomPin(s.rnd)
		s.mu.Unlock()

		tag, err := s.pool.Exec(ctx, `INSERT INTO trivia_pins (pin) VALUES ($1) ON CONFLICT DO NOTHING`, pin)
		if err != nil {
			return "", domain.Transient("reserve pin", err)
		}
		if tag.RowsAffected() == 1 {
			return pin, nil
		}
	}
	return "", fmt.Errorf("next pin: %w", domain.ErrTransientIO)
}

func (s *Store) CreateSession(ctx context.Context, session domain.Session, questions []domain.Question) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Transient("begin create session", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `INSERT INTO trivia_pins (pin) VALUES ($1) ON CONFLICT DO NOTHING`, session.Pin); err != nil {
		return domain.Transient("reserve pin", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO trivia_sessions
			(pin, title, host_id, phase, current_question_index, current_question_started_at, started_at, ended_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		session.Pin, session.Title, session.HostID, string(session.Phase), session.CurrentQuestionIndex,
		session.CurrentQuestionStartedAt, session.StartedAt, session.EndedAt, session.CreatedAt,
	)
	if err != nil {
		return domain.Transient("insert session", err)
	}

	for _, q := range questions {
		incorrect, err := json.Marshal(q.IncorrectAnswers)
		if err != nil {
			return fmt.Errorf("marshal incorrect answers: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO trivia_questions
				(pin, id, position, content, correct_answer, incorrect_answers, time_limit, points)
			VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8)`,
			session.Pin, q.ID, q.Position, q.Content, q.CorrectAnswer, string(incorrect), q.TimeLimit, q.Points,
		)
		if err != nil {
			return domain.Transient("insert question", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Transient("commit create session", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, pin string) (domain.Session, error) {
	var (
		session domain.Session
		phase   string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT pin, title, host_id, phase, current_question_index, current_question_started_at, started_at, ended_at, created_at
		FROM trivia_sessions WHERE pin = $1`, pin,
	).Scan(
		&session.Pin, &session.Title, &session.HostID, &phase, &session.CurrentQuestionIndex,
		&session.CurrentQuestionStartedAt, &session.StartedAt, &session.EndedAt, &session.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, domain.Transient("get session", err)
	}
	session.Phase = domain.Phase(phase)
	return session, nil
}

func (s *Store) UpdateSession(ctx context.Context, session domain.Session) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE trivia_sessions SET
			phase = $2, current_question_index = $3, current_question_started_at = $4,
			started_at = $5, ended_at = $6
		WHERE pin = $1`,
		session.Pin, string(session.Phase), session.CurrentQuestionIndex,
		session.CurrentQuestionStartedAt, session.StartedAt, session.EndedAt,
	)
	if err != nil {
		return domain.Transient("update session", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *Store) ListQuestions(ctx context.Context, pin string) ([]domain.Question, error) {
	if err := s.requireSession(ctx, pin); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, position, content, correct_answer, incorrect_answers, time_limit, points
		FROM trivia_questions WHERE pin = $1 ORDER BY position`, pin)
	if err != nil {
		return nil, domain.Transient("list questions", err)
	}
	defer rows.Close()

	var questions []domain.Question
	for rows.Next() {
		var (
			q         domain.Question
			incorrect []byte
		)
		if err := rows.Scan(&q.ID, &q.Position, &q.Content, &q.CorrectAnswer, &incorrect, &q.TimeLimit, &q.Points); err != nil {
			return nil, domain.Transient("scan question", err)
		}
		if err := json.Unmarshal(incorrect, &q.IncorrectAnswers); err != nil {
			return nil, fmt.Errorf("unmarshal incorrect answers: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Transient("list questions", err)
	}
	return questions, nil
}

func (s *Store) CreateParticipant(ctx context.Context, p domain.Participant) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO trivia_participants (pin, id, nickname, score, streak, ready, join_order, joined_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8
		WHERE EXISTS (SELECT 1 FROM trivia_sessions WHERE pin = $1)`,
		p.Pin, p.ID, p.Nickname, p.Score, p.Streak, p.Ready, p.JoinOrder, p.JoinedAt,
	)
	if err != nil {
		return domain.Transient("create participant", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *Store) UpdateParticipant(ctx context.Context, p domain.Participant) error {
	return updateParticipant(ctx, s.pool, p)
}

func (s *Store) ListParticipants(ctx context.Context, pin string) ([]domain.Participant, error) {
	if err := s.requireSession(ctx, pin); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, pin, nickname, score, streak, ready, join_order, joined_at
		FROM trivia_participants WHERE pin = $1 ORDER BY join_order`, pin)
	if err != nil {
		return nil, domain.Transient("list participants", err)
	}
	defer rows.Close()

	var out []domain.Participant
	for rows.Next() {
		var p domain.Participant
		if err := rows.Scan(&p.ID, &p.Pin, &p.Nickname, &p.Score, &p.Streak, &p.Ready, &p.JoinOrder, &p.JoinedAt); err != nil {
			return nil, domain.Transient("scan participant", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Transient("list participants", err)
	}
	return out, nil
}

// RecordAnswer inserts the answer and the rescored participant in one transaction.
// The primary key on (pin, participant_id, question_id) rejects a second submission.
func (s *Store) RecordAnswer(ctx context.Context, rec domain.AnswerRecord, p domain.Participant) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Transient("begin record answer", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var known bool
	err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM trivia_participants WHERE pin = $1 AND id = $2)`,
		rec.Pin, rec.ParticipantID).Scan(&known)
	if err != nil {
		return domain.Transient("check participant", err)
	}
	if !known {
		return domain.ErrParticipantNotFound
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO trivia_answers
			(pin, participant_id, question_id, answer, correct, response_time, points, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING`,
		rec.Pin, rec.ParticipantID, rec.QuestionID, rec.Answer, rec.Correct, rec.ResponseTime, rec.Points, rec.SubmittedAt,
	)
	if err != nil {
		return domain.Transient("insert answer", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateSubmission
	}
	if err := updateParticipant(ctx, tx, p); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Transient("commit answer", err)
	}
	return nil
}

func (s *Store) ListAnswers(ctx context.Context, pin string) ([]domain.AnswerRecord, error) {
	if err := s.requireSession(ctx, pin); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT pin, participant_id, question_id, answer, correct, response_time, points, submitted_at
		FROM trivia_answers WHERE pin = $1 ORDER BY submitted_at`, pin)
	if err != nil {
		return nil, domain.Transient("list answers", err)
	}
	defer rows.Close()

	var out []domain.AnswerRecord
	for rows.Next() {
		var rec domain.AnswerRecord
		if err := rows.Scan(&rec.Pin, &rec.ParticipantID, &rec.QuestionID, &rec.Answer, &rec.Correct,
			&rec.ResponseTime, &rec.Points, &rec.SubmittedAt); err != nil {
			return nil, domain.Transient("scan answer", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Transient("list answers", err)
	}
	return out, nil
}

func (s *Store) requireSession(ctx context.Context, pin string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM trivia_sessions WHERE pin = $1)`, pin).Scan(&exists); err != nil {
		return domain.Transient("session exists", err)
	}
	if !exists {
		return domain.ErrSessionNotFound
	}
	return nil
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func updateParticipant(ctx context.Context, db execer, p domain.Participant) error {
	tag, err := db.Exec(ctx, `
		UPDATE trivia_participants SET nickname = $3, score = $4, streak = $5, ready = $6
		WHERE pin = $1 AND id = $2`,
		p.Pin, p.ID, p.Nickname, p.Score, p.Streak, p.Ready,
	)
	if err != nil {
		return domain.Transient("update participant", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrParticipantNotFound
	}
	return nil
}
