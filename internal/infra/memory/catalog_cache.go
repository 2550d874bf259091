package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"legalia-progress-service/internal/app"
	"golang.org/x/sync/singleflight"
)

// CatalogCache decorates a ProgressRepository with a TTL cache for
// authoritative question counts, which are read on every submission but
// change rarely.
type CatalogCache struct {
	app.ProgressRepository

	ttl   time.Duration
	clock func() time.Time
	sf    singleflight.Group
	rnd   *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedCount
}

type cachedCount struct {
	count     int
	expiresAt time.Time
}

// NewCatalogCache wraps inner; only QuestionCount is cached.
func NewCatalogCache(inner app.ProgressRepository, ttl time.Duration) *CatalogCache {
	return &CatalogCache{
		ProgressRepository: inner,
		ttl:                ttl,
		clock:              time.Now,
		rnd:                rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:              make(map[string]cachedCount),
	}
}

func (c *CatalogCache) QuestionCount(ctx context.Context, quizID string) (int, error) {
	now := c.clock()

	c.mu.RLock()
	if entry, ok := c.cache[quizID]; ok && entry.expiresAt.After(now) {
		c.mu.RUnlock()
		return entry.count, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.sf.Do(quizID, func() (interface{}, error) {
		now := c.clock()
		c.mu.RLock()
		if entry, ok := c.cache[quizID]; ok && entry.expiresAt.After(now) {
			c.mu.RUnlock()
			return entry.count, nil
		}
		c.mu.RUnlock()

		count, err := c.ProgressRepository.QuestionCount(ctx, quizID)
		if err != nil {
			return 0, err
		}

		c.mu.Lock()
		c.cache[quizID] = cachedCount{
			count:     count,
			expiresAt: now.Add(c.ttlWithJitter()),
		}
		c.mu.Unlock()
		return count, nil
	})
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

func (c *CatalogCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
