package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/PoliTwit1984/kentrivia/internal/domain"
)

// QuestionBank loads authored questions stored as JSONB rows grouped by category.
type QuestionBank struct {
	pool *pgxpool.Pool
}

func NewQuestionBank(pool *pgxpool.Pool) *QuestionBank {
	return &QuestionBank{pool: pool}
}

// FetchQuestions returns up to amount questions of a category; amount <= 0 means all.
func (b *QuestionBank) FetchQuestions(ctx context.Context, category string, amount int) ([]domain.Question, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT data FROM trivia_question_bank
		WHERE category = $1
		ORDER BY id
		LIMIT NULLIF($2::int, 0)`, category, amount)
	if err != nil {
		return nil, domain.Transient("load questions", err)
	}
	defer rows.Close()

	var questions []domain.Question
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, domain.Transient("scan question", err)
		}
		var q domain.Question
		if err := json.Unmarshal(raw, &q); err != nil {
			return nil, fmt.Errorf("unmarshal question: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Transient("load questions", err)
	}
	if len(questions) == 0 {
		return nil, domain.ErrQuestionNotFound
	}
	return questions, nil
}

// SaveQuestion upserts one question into the bank.
func (b *QuestionBank) SaveQuestion(ctx context.Context, category string, q domain.Question) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal question: %w", err)
	}
	_, err = b.pool.Exec(ctx, `
		INSERT INTO trivia_question_bank (id, category, data) VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (id) DO UPDATE SET category = EXCLUDED.category, data = EXCLUDED.data`,
		q.ID, category, string(data))
	if err != nil {
		return domain.Transient("save question", err)
	}
	return nil
}
