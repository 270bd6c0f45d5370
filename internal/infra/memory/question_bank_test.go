package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/PoliTwit1984/kentrivia/internal/app"
	"github.com/PoliTwit1984/kentrivia/internal/domain"
)

func TestCachedQuestionSourceCaches(t *testing.T) {
	source := &countingSource{QuestionSource: NewStaticQuestionBank(sampleBank())}
	cached := NewCachedQuestionSource(source, time.Minute)

	if _, err := cached.FetchQuestions(context.Background(), "science", 2); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if source.count() != 1 {
		t.Fatalf("expected source once, got %d", source.count())
	}

	questions, err := cached.FetchQuestions(context.Background(), "science", 2)
	if err != nil {
		t.Fatalf("fetch 2: %v", err)
	}
	if source.count() != 1 {
		t.Fatalf("expected cache hit, source calls %d", source.count())
	}
	if len(questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(questions))
	}
}

func TestCachedQuestionSourceExpires(t *testing.T) {
	source := &countingSource{QuestionSource: NewStaticQuestionBank(sampleBank())}
	cached := NewCachedQuestionSource(source, time.Minute)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	cached.clock = func() time.Time { return now }

	if _, err := cached.FetchQuestions(context.Background(), "science", 1); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := cached.FetchQuestions(context.Background(), "science", 1); err != nil {
		t.Fatalf("fetch after expiry: %v", err)
	}
	if source.count() != 2 {
		t.Fatalf("expected reload after ttl, source calls %d", source.count())
	}
}

func TestCachedQuestionSourceCollapsesConcurrentMisses(t *testing.T) {
	release := make(chan struct{})
	source := &countingSource{QuestionSource: NewStaticQuestionBank(sampleBank()), gate: release}
	cached := NewCachedQuestionSource(source, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cached.FetchQuestions(context.Background(), "science", 2); err != nil {
				t.Errorf("fetch: %v", err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if source.count() != 1 {
		t.Fatalf("expected a single upstream call, got %d", source.count())
	}
}

func TestStaticQuestionBankUnknownCategory(t *testing.T) {
	bank := NewStaticQuestionBank(sampleBank())
	if _, err := bank.FetchQuestions(context.Background(), "history", 5); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected question not found, got %v", err)
	}
	questions, err := bank.FetchQuestions(context.Background(), "science", 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(questions) != 2 {
		t.Fatalf("expected amount capped at 2, got %d", len(questions))
	}
}

type countingSource struct {
	app.QuestionSource
	gate  chan struct{}
	mu    sync.Mutex
	calls int
}

func (s *countingSource) FetchQuestions(ctx context.Context, category string, amount int) ([]domain.Question, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.gate != nil {
		<-s.gate
	}
	return s.QuestionSource.FetchQuestions(ctx, category, amount)
}

func (s *countingSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func sampleBank() map[string][]domain.Question {
	return map[string][]domain.Question{
		"science": {
			{ID: "q1", Content: "What is H2O?", CorrectAnswer: "Water", IncorrectAnswers: []string{"Salt", "Air", "Fire"}},
			{ID: "q2", Content: "Closest planet to the sun?", CorrectAnswer: "Mercury", IncorrectAnswers: []string{"Venus", "Mars", "Earth"}},
		},
	}
}
