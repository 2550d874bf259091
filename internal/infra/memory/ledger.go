package memory

import (
	"context"
	"sync"
	"time"

	"legalia-progress-service/internal/idempotency"
)

// Ledger is an in-memory idempotency.Ledger. It is process-local, so it
// rebuilds empty on restart; pair it with the redis ledger when replay
// protection must survive the process.
type Ledger struct {
	clock func() time.Time

	mu      sync.Mutex
	records map[string]ledgerEntry
}

type ledgerEntry struct {
	record    idempotency.Record
	expiresAt time.Time
}

// NewLedger builds an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		clock:   time.Now,
		records: make(map[string]ledgerEntry),
	}
}

// NewLedgerWithClock is test-only for deterministic expiry.
func NewLedgerWithClock(clock func() time.Time) *Ledger {
	l := NewLedger()
	l.clock = clock
	return l
}

func (l *Ledger) Get(_ context.Context, key string) (idempotency.Record, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.liveLocked(key)
	if !ok {
		return idempotency.Record{}, false, nil
	}
	return entry.record, true, nil
}

func (l *Ledger) Begin(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.liveLocked(key); ok && entry.record.Status != idempotency.StatusFailed {
		return false, nil
	}
	now := l.clock()
	l.records[key] = ledgerEntry{
		record: idempotency.Record{
			Key:       key,
			Status:    idempotency.StatusPending,
			CreatedAt: now,
		},
		expiresAt: now.Add(ttl),
	}
	return true, nil
}

func (l *Ledger) Complete(_ context.Context, key string, result []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.liveLocked(key)
	if !ok {
		return nil
	}
	entry.record.Status = idempotency.StatusCompleted
	entry.record.Result = result
	l.records[key] = entry
	return nil
}

func (l *Ledger) Fail(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.liveLocked(key)
	if !ok {
		return nil
	}
	entry.record.Status = idempotency.StatusFailed
	entry.record.Result = nil
	l.records[key] = entry
	return nil
}

// liveLocked returns the record for key, purging it first when expired.
func (l *Ledger) liveLocked(key string) (ledgerEntry, bool) {
	entry, ok := l.records[key]
	if !ok {
		return ledgerEntry{}, false
	}
	if !entry.expiresAt.After(l.clock()) {
		delete(l.records, key)
		return ledgerEntry{}, false
	}
	return entry, true
}
