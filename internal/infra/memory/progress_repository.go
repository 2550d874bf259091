package memory

import (
	"context"
	"sync"

	"legalia-progress-service/internal/domain"
)

// ProgressRepository is an in-memory app.ProgressRepository, useful for
// tests and demos. Per-key writes are atomic under one mutex, matching
// the single-row upsert guarantee the orchestrator expects from real
// storage.
type ProgressRepository struct {
	questionCounts map[string]int

	mu       sync.RWMutex
	progress map[progressKey]domain.ProgressRecord
	streaks  map[string]domain.StreakState
}

type progressKey struct {
	userID string
	quizID string
}

// NewProgressRepository seeds the quiz catalog with authoritative
// question counts.
func NewProgressRepository(questionCounts map[string]int) *ProgressRepository {
	counts := make(map[string]int, len(questionCounts))
	for quizID, n := range questionCounts {
		counts[quizID] = n
	}
	return &ProgressRepository{
		questionCounts: counts,
		progress:       make(map[progressKey]domain.ProgressRecord),
		streaks:        make(map[string]domain.StreakState),
	}
}

func (r *ProgressRepository) QuestionCount(_ context.Context, quizID string) (int, error) {
	if n, ok := r.questionCounts[quizID]; ok {
		return n, nil
	}
	return 0, domain.ErrQuizNotFound
}

func (r *ProgressRepository) GetProgress(_ context.Context, userID, quizID string) (*domain.ProgressRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if record, ok := r.progress[progressKey{userID, quizID}]; ok {
		copied := record
		return &copied, nil
	}
	return nil, nil
}

func (r *ProgressRepository) UpsertProgress(_ context.Context, userID, quizID string, record domain.ProgressRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress[progressKey{userID, quizID}] = record
	return nil
}

func (r *ProgressRepository) GetStreak(_ context.Context, userID string) (*domain.StreakState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if state, ok := r.streaks[userID]; ok {
		copied := state
		return &copied, nil
	}
	return nil, nil
}

func (r *ProgressRepository) UpsertStreak(_ context.Context, userID string, state domain.StreakState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streaks[userID] = state
	return nil
}
