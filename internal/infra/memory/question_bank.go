package memory

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/PoliTwit1984/kentrivia/internal/app"
	"github.com/PoliTwit1984/kentrivia/internal/domain"
	"golang.org/x/sync/singleflight"
)

// StaticQuestionBank serves questions from an in-memory map keyed by category (useful for tests/demos).
type StaticQuestionBank struct {
	categories map[string][]domain.Question
}

func NewStaticQuestionBank(categories map[string][]domain.Question) *StaticQuestionBank {
	return &StaticQuestionBank{categories: categories}
}

func (b *StaticQuestionBank) FetchQuestions(_ context.Context, category string, amount int) ([]domain.Question, error) {
	questions, ok := b.categories[category]
	if !ok || len(questions) == 0 {
		return nil, domain.ErrQuestionNotFound
	}
	if amount <= 0 || amount > len(questions) {
		amount = len(questions)
	}
	return append([]domain.Question(nil), questions[:amount]...), nil
}

// CachedQuestionSource caches batches per (category, amount) with TTL to avoid repeated upstream hits.
type CachedQuestionSource struct {
	source app.QuestionSource
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	rnd   *rand.Rand
	cache map[string]cachedBatch
}

type cachedBatch struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewCachedQuestionSource(source app.QuestionSource, ttl time.Duration) *CachedQuestionSource {
	return &CachedQuestionSource{
		source: source,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedBatch),
	}
}

func (c *CachedQuestionSource) FetchQuestions(ctx context.Context, category string, amount int) ([]domain.Question, error) {
	key := category + ":" + strconv.Itoa(amount)
	if batch, ok := c.lookup(key); ok {
		return batch, nil
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		if batch, ok := c.lookup(key); ok {
			return batch, nil
		}
		questions, err := c.source.FetchQuestions(ctx, category, amount)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", category, err)
		}

		c.mu.Lock()
		c.cache[key] = cachedBatch{
			questions: questions,
			expiresAt: c.clock().Add(c.ttlWithJitter()),
		}
		c.mu.Unlock()
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]domain.Question(nil), result.([]domain.Question)...), nil
}

func (c *CachedQuestionSource) lookup(key string) ([]domain.Question, bool) {
	now := c.clock()
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[key]
	if !ok || !entry.expiresAt.After(now) {
		return nil, false
	}
	return append([]domain.Question(nil), entry.questions...), true
}

// ttlWithJitter adds up to 10% so entries filled together do not expire together.
// Called with c.mu held.
func (c *CachedQuestionSource) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
