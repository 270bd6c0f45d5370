package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/PoliTwit1984/kentrivia/internal/domain"
	"github.com/PoliTwit1984/kentrivia/internal/infra/memory"
)

func TestQuestionCacheCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	source := &countingSource{
		StaticQuestionBank: memory.NewStaticQuestionBank(map[string][]domain.Question{
			"math": sampleQuestions(),
		}),
	}
	cache := NewQuestionCache(client, source, time.Minute)

	first, err := cache.FetchQuestions(context.Background(), "math", 2)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if source.calls != 1 {
		t.Fatalf("expected source called once, got %d", source.calls)
	}
	if !mr.Exists("trivia:questions:math:2") {
		t.Fatalf("expected batch cached in redis")
	}

	// Second call should hit cache, source not incremented.
	second, _ := cache.FetchQuestions(context.Background(), "math", 2)
	if source.calls != 1 {
		t.Fatalf("expected cache hit, source calls=%d", source.calls)
	}
	if len(second) != len(first) || second[0].CorrectAnswer != "4" {
		t.Fatalf("cached batch differs: %+v", second)
	}
}

func TestQuestionCacheDoesNotCacheMisses(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewQuestionCache(client, memory.NewStaticQuestionBank(nil), time.Minute)

	if _, err := cache.FetchQuestions(context.Background(), "history", 5); err == nil {
		t.Fatalf("expected unknown category to fail")
	}
	if mr.Exists("trivia:questions:history:5") {
		t.Fatalf("miss must not be cached")
	}
}

type countingSource struct {
	*memory.StaticQuestionBank
	calls int
}

func (s *countingSource) FetchQuestions(ctx context.Context, category string, amount int) ([]domain.Question, error) {
	s.calls++
	return s.StaticQuestionBank.FetchQuestions(ctx, category, amount)
}

func sampleQuestions() []domain.Question {
	return []domain.Question{
		{ID: "q1", Content: "What is 2 + 2?", CorrectAnswer: "4", IncorrectAnswers: []string{"3", "5"}},
		{ID: "q2", Content: "What is 3 * 3?", CorrectAnswer: "9", IncorrectAnswers: []string{"6", "12"}},
	}
}
