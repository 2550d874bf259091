package redis

import (
	"context"
	"math/rand"
	"strconv"
	"time"

	"legalia-progress-service/internal/app"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// CatalogCache decorates a ProgressRepository with a Redis cache for
// authoritative question counts, shared across service instances.
// Counts are stored as: SET quiz:{quizID}:questions {count} EX ttl
type CatalogCache struct {
	app.ProgressRepository

	client *redis.Client
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

// NewCatalogCache wraps inner; only QuestionCount is cached.
func NewCatalogCache(client *redis.Client, inner app.ProgressRepository, ttl time.Duration) *CatalogCache {
	return &CatalogCache{
		ProgressRepository: inner,
		client:             client,
		ttl:                ttl,
		rnd:                rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *CatalogCache) QuestionCount(ctx context.Context, quizID string) (int, error) {
	key := c.key(quizID)
	if raw, err := c.client.Get(ctx, key).Result(); err == nil {
		if count, convErr := strconv.Atoi(raw); convErr == nil {
			return count, nil
		}
	}

	result, err, _ := c.sf.Do(quizID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if raw, err := c.client.Get(ctx, key).Result(); err == nil {
			if count, convErr := strconv.Atoi(raw); convErr == nil {
				return count, nil
			}
		}

		count, err := c.ProgressRepository.QuestionCount(ctx, quizID)
		if err != nil {
			return 0, err
		}
		_ = c.client.Set(ctx, key, strconv.Itoa(count), c.ttlWithJitter()).Err()
		return count, nil
	})
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

func (c *CatalogCache) key(quizID string) string {
	return "quiz:" + quizID + ":questions"
}

func (c *CatalogCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
