package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"legalia-progress-service/internal/idempotency"
	"github.com/redis/go-redis/v9"
)

// Ledger stores idempotency records in Redis so deduplication survives a
// process restart. Records live under idem:{key} as JSON with a TTL; the
// TTL is the only expiry mechanism, Redis purges for us.
type Ledger struct {
	client *redis.Client
}

// NewLedger wraps a Redis client.
func NewLedger(client *redis.Client) *Ledger {
	return &Ledger{client: client}
}

func (l *Ledger) Get(ctx context.Context, key string) (idempotency.Record, bool, error) {
	raw, err := l.client.Get(ctx, l.key(key)).Bytes()
	if err == redis.Nil {
		return idempotency.Record{}, false, nil
	}
	if err != nil {
		return idempotency.Record{}, false, fmt.Errorf("ledger get: %w", err)
	}
	var record idempotency.Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return idempotency.Record{}, false, fmt.Errorf("ledger decode: %w", err)
	}
	return record, true, nil
}

func (l *Ledger) Begin(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	raw, err := json.Marshal(idempotency.Record{
		Key:       key,
		Status:    idempotency.StatusPending,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return false, err
	}

	claimed, err := l.client.SetNX(ctx, l.key(key), raw, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("ledger begin: %w", err)
	}
	if claimed {
		return true, nil
	}

	// A failed record does not block retries: overwrite it. Two retries
	// racing here may both run the operation, which the orchestrator
	// tolerates because it re-derives truth from persisted state.
	record, found, err := l.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if found && record.Status == idempotency.StatusFailed {
		if err := l.client.Set(ctx, l.key(key), raw, ttl).Err(); err != nil {
			return false, fmt.Errorf("ledger reclaim: %w", err)
		}
		return true, nil
	}
	return false, nil
}

func (l *Ledger) Complete(ctx context.Context, key string, result []byte) error {
	record, found, err := l.Get(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		// The record expired mid-operation; nothing to update.
		return nil
	}
	record.Status = idempotency.StatusCompleted
	record.Result = result
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := l.client.Set(ctx, l.key(key), raw, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("ledger complete: %w", err)
	}
	return nil
}

func (l *Ledger) Fail(ctx context.Context, key string) error {
	record, found, err := l.Get(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	record.Status = idempotency.StatusFailed
	record.Result = nil
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := l.client.Set(ctx, l.key(key), raw, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("ledger fail: %w", err)
	}
	return nil
}

func (l *Ledger) key(key string) string {
	return "idem:" + key
}
