package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"legalia-progress-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Store implements app.ProgressRepository on Postgres. Both upserts are
// single-row ON CONFLICT statements, which is the atomicity the
// orchestrator's concurrency model relies on.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps a connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) QuestionCount(ctx context.Context, quizID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT question_count FROM quizzes WHERE id=$1`, quizID).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrQuizNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("load question count: %w", err)
	}
	return count, nil
}

func (s *Store) GetProgress(ctx context.Context, userID, quizID string) (*domain.ProgressRecord, error) {
	var (
		record      domain.ProgressRecord
		completedAt *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT best_percentage, completed, completed_at, updated_at
		   FROM user_progress WHERE user_id=$1 AND quiz_id=$2`,
		userID, quizID).Scan(&record.BestPercentage, &record.Completed, &completedAt, &record.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	if completedAt != nil {
		date := civilDateOfDay(*completedAt)
		record.CompletedAt = &date
	}
	return &record, nil
}

func (s *Store) UpsertProgress(ctx context.Context, userID, quizID string, record domain.ProgressRecord) error {
	var completedAt *time.Time
	if record.CompletedAt != nil {
		day := record.CompletedAt.Midnight(time.UTC)
		completedAt = &day
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_progress (user_id, quiz_id, best_percentage, completed, completed_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, quiz_id) DO UPDATE SET
		   best_percentage=EXCLUDED.best_percentage,
		   completed=EXCLUDED.completed,
		   completed_at=EXCLUDED.completed_at,
		   updated_at=EXCLUDED.updated_at`,
		userID, quizID, record.BestPercentage, record.Completed, completedAt, record.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert progress: %w", err)
	}
	return nil
}

func (s *Store) GetStreak(ctx context.Context, userID string) (*domain.StreakState, error) {
	var (
		state      domain.StreakState
		lastActive time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT current_streak_days, longest_streak_days, last_active_date
		   FROM user_streaks WHERE user_id=$1`,
		userID).Scan(&state.CurrentStreakDays, &state.LongestStreakDays, &lastActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load streak: %w", err)
	}
	state.LastActiveDate = civilDateOfDay(lastActive)
	return &state, nil
}

func (s *Store) UpsertStreak(ctx context.Context, userID string, state domain.StreakState) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_streaks (user_id, current_streak_days, longest_streak_days, last_active_date)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE SET
		   current_streak_days=EXCLUDED.current_streak_days,
		   longest_streak_days=EXCLUDED.longest_streak_days,
		   last_active_date=EXCLUDED.last_active_date`,
		userID, state.CurrentStreakDays, state.LongestStreakDays, state.LastActiveDate.Midnight(time.UTC))
	if err != nil {
		return fmt.Errorf("upsert streak: %w", err)
	}
	return nil
}

// civilDateOfDay reads a DATE column value back into a CivilDate. The
// driver hands DATE values over as midnight timestamps.
func civilDateOfDay(t time.Time) domain.CivilDate {
	y, m, d := t.Date()
	return domain.NewCivilDate(y, m, d)
}
