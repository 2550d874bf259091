// Package idempotency deduplicates concurrent or retried invocations of
// the same logical operation. Concurrent in-process callers with one key
// share a single execution; a TTL-bounded ledger replays completed
// results to later callers, including ones in a restarted process when
// the ledger is durable.
package idempotency

import (
	"context"
	"sync"
	"time"
)

// Status is the lifecycle state of a ledger record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Record is one keyed operation in the ledger.
type Record struct {
	Key       string    `json:"key"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	Result    []byte    `json:"result,omitempty"`
}

// Ledger stores operation records with a TTL. Implementations must make
// Begin atomic: only one caller may claim a key that has no live pending
// or completed record. Failed and expired records are claimable.
type Ledger interface {
	// Get returns the live record for key, if any. Expired records are
	// treated as absent.
	Get(ctx context.Context, key string) (Record, bool, error)
	// Begin claims key with a pending record. It returns false when a
	// live pending or completed record already holds the key.
	Begin(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Complete stores the result under key, keeping the original expiry.
	Complete(ctx context.Context, key string, result []byte) error
	// Fail marks the record failed so a new call may retry immediately.
	Fail(ctx context.Context, key string) error
}

const (
	// DefaultTTL bounds how long any record, terminal or stuck, blocks
	// reuse of its key.
	DefaultTTL = 60 * time.Second
	// defaultPollInterval is how often a caller re-checks a pending
	// record owned by another process.
	defaultPollInterval = 100 * time.Millisecond
)

// Guard coalesces same-key executions. It is process-local; durability
// across restarts comes from the injected Ledger, not from the guard.
type Guard struct {
	ledger       Ledger
	ttl          time.Duration
	pollInterval time.Duration

	mu       sync.Mutex
	inflight map[string]*call
}

type call struct {
	done   chan struct{}
	result []byte
	err    error
}

// Option configures a Guard.
type Option func(*Guard)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(g *Guard) { g.ttl = ttl }
}

// WithPollInterval overrides the pending-record re-check interval.
func WithPollInterval(interval time.Duration) Option {
	return func(g *Guard) { g.pollInterval = interval }
}

// NewGuard builds a Guard around the given ledger.
func NewGuard(ledger Ledger, opts ...Option) *Guard {
	g := &Guard{
		ledger:       ledger,
		ttl:          DefaultTTL,
		pollInterval: defaultPollInterval,
		inflight:     make(map[string]*call),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Do runs op at most once per key per TTL window. The second return value
// reports whether the result was replayed from the ledger instead of
// produced by this invocation chain. Concurrent callers sharing a key all
// receive the first execution's result and error.
//
// Failures are not cached: op's error is propagated, the ledger record is
// marked failed, and the next call with the same key runs op again.
func (g *Guard) Do(ctx context.Context, key string, op func(ctx context.Context) ([]byte, error)) ([]byte, bool, error) {
	for {
		g.mu.Lock()
		if c, ok := g.inflight[key]; ok {
			g.mu.Unlock()
			select {
			case <-c.done:
				return c.result, false, c.err
			case <-ctx.Done():
				return nil, false, ctx.Err()
			}
		}

		record, found, err := g.ledger.Get(ctx, key)
		if err != nil {
			g.mu.Unlock()
			return nil, false, err
		}
		if found && record.Status == StatusCompleted {
			g.mu.Unlock()
			return record.Result, true, nil
		}
		if found && record.Status == StatusPending {
			// Another process owns the key. Back off and re-check; the
			// record's TTL bounds the wait, so a crashed holder cannot
			// wedge the key forever.
			g.mu.Unlock()
			select {
			case <-time.After(g.pollInterval):
				continue
			case <-ctx.Done():
				return nil, false, ctx.Err()
			}
		}

		claimed, err := g.ledger.Begin(ctx, key, g.ttl)
		if err != nil {
			g.mu.Unlock()
			return nil, false, err
		}
		if !claimed {
			// Lost the claim race to another process; loop back to find
			// the winner's record.
			g.mu.Unlock()
			continue
		}

		c := &call{done: make(chan struct{})}
		g.inflight[key] = c
		g.mu.Unlock()

		c.result, c.err = op(ctx)
		if c.err != nil {
			_ = g.ledger.Fail(ctx, key)
		} else {
			// The operation already succeeded; a lost cache write only
			// costs replay protection for this key.
			_ = g.ledger.Complete(ctx, key, c.result)
		}

		g.mu.Lock()
		delete(g.inflight, key)
		g.mu.Unlock()
		close(c.done)

		return c.result, false, c.err
	}
}
