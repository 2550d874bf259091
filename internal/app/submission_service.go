package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"legalia-progress-service/internal/calendar"
	"legalia-progress-service/internal/domain"
	"legalia-progress-service/internal/idempotency"
	"legalia-progress-service/internal/scoring"
)

// ProgressRepository abstracts the persistence collaborator (in-memory,
// Postgres, etc). GetProgress and GetStreak return nil without error when
// the user has no record yet.
type ProgressRepository interface {
	// QuestionCount returns the authoritative number of questions for a
	// quiz, or domain.ErrQuizNotFound.
	QuestionCount(ctx context.Context, quizID string) (int, error)
	GetProgress(ctx context.Context, userID, quizID string) (*domain.ProgressRecord, error)
	UpsertProgress(ctx context.Context, userID, quizID string, record domain.ProgressRecord) error
	GetStreak(ctx context.Context, userID string) (*domain.StreakState, error)
	UpsertStreak(ctx context.Context, userID string, state domain.StreakState) error
}

// EventSink receives operational events the orchestrator will not fail a
// submission over.
type EventSink interface {
	StreakWriteFailed(userID string, err error)
}

type logEventSink struct{}

func (logEventSink) StreakWriteFailed(userID string, err error) {
	log.Printf("streak write failed for user %s: %v", userID, err)
}

const (
	// MaxQuestionsPerQuiz caps client-submitted question counts as a
	// defense against malformed payloads.
	MaxQuestionsPerQuiz = 50
	// DefaultRateLimitWindow is the minimum gap between persisted writes
	// for one (user, quiz) pair.
	DefaultRateLimitWindow = 30 * time.Second
)

// SubmissionService turns finished quiz attempts into durable progress:
// it scores, deduplicates, applies best-score-wins, and advances the
// streak at most once per civil day.
type SubmissionService struct {
	repo            ProgressRepository
	guard           *idempotency.Guard
	cal             *calendar.Service
	feed            *ProgressFeed
	events          EventSink
	clock           func() time.Time
	rateLimitWindow time.Duration
}

// SubmissionOption configures a SubmissionService.
type SubmissionOption func(*SubmissionService)

// WithClock injects a deterministic clock for tests.
func WithClock(clock func() time.Time) SubmissionOption {
	return func(s *SubmissionService) { s.clock = clock }
}

// WithRateLimitWindow overrides DefaultRateLimitWindow.
func WithRateLimitWindow(window time.Duration) SubmissionOption {
	return func(s *SubmissionService) { s.rateLimitWindow = window }
}

// WithEventSink overrides the default log-based sink.
func WithEventSink(sink EventSink) SubmissionOption {
	return func(s *SubmissionService) { s.events = sink }
}

// WithProgressFeed publishes accepted submissions to a feed.
func WithProgressFeed(feed *ProgressFeed) SubmissionOption {
	return func(s *SubmissionService) { s.feed = feed }
}

// NewSubmissionService wires the orchestrator. guard and cal are required;
// the guard owns deduplication, cal owns all calendar decisions.
func NewSubmissionService(repo ProgressRepository, guard *idempotency.Guard, cal *calendar.Service, opts ...SubmissionOption) *SubmissionService {
	s := &SubmissionService{
		repo:            repo,
		guard:           guard,
		cal:             cal,
		events:          logEventSink{},
		clock:           time.Now,
		rateLimitWindow: DefaultRateLimitWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitQuizAttempt validates and scores an attempt, persists it when it
// improves on the stored best, and advances the user's streak for the
// first qualifying completion of the civil day.
//
// Errors: domain.ErrInvalidAttempt for out-of-range counts,
// domain.ErrQuizNotFound for an unknown quiz, domain.ErrTooFrequent when
// the previous write is newer than the rate-limit window. Repository
// errors propagate unmodified.
func (s *SubmissionService) SubmitQuizAttempt(ctx context.Context, userID, quizID string, correctAnswers, totalQuestions int, elapsedSeconds float64) (domain.SubmissionResult, error) {
	if totalQuestions <= 0 || totalQuestions > MaxQuestionsPerQuiz {
		return domain.SubmissionResult{}, fmt.Errorf("%w: totalQuestions %d outside (0, %d]", domain.ErrInvalidAttempt, totalQuestions, MaxQuestionsPerQuiz)
	}
	if correctAnswers < 0 || correctAnswers > totalQuestions {
		return domain.SubmissionResult{}, fmt.Errorf("%w: correctAnswers %d outside [0, %d]", domain.ErrInvalidAttempt, correctAnswers, totalQuestions)
	}

	// The server-known question count always wins over the client's.
	authoritative, err := s.repo.QuestionCount(ctx, quizID)
	if err != nil {
		return domain.SubmissionResult{}, err
	}
	if totalQuestions != authoritative {
		totalQuestions = authoritative
		if correctAnswers > totalQuestions {
			correctAnswers = totalQuestions
		}
	}

	key := submissionKey(userID, quizID, correctAnswers, totalQuestions)
	raw, _, err := s.guard.Do(ctx, key, func(ctx context.Context) ([]byte, error) {
		result, err := s.execute(ctx, userID, quizID, correctAnswers, totalQuestions, elapsedSeconds)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	})
	if err != nil {
		return domain.SubmissionResult{}, err
	}

	var result domain.SubmissionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return domain.SubmissionResult{}, fmt.Errorf("decode submission result: %w", err)
	}
	return result, nil
}

// execute is the deduplicated read-compare-write sequence. Everything it
// trusts is re-read from the repository, never from caches.
func (s *SubmissionService) execute(ctx context.Context, userID, quizID string, correctAnswers, totalQuestions int, elapsedSeconds float64) (domain.SubmissionResult, error) {
	now := s.clock()

	existing, err := s.repo.GetProgress(ctx, userID, quizID)
	if err != nil {
		return domain.SubmissionResult{}, err
	}
	streak, err := s.repo.GetStreak(ctx, userID)
	if err != nil {
		return domain.SubmissionResult{}, err
	}

	currentStreakDays := 0
	var lastActive *domain.CivilDate
	if streak != nil {
		currentStreakDays = streak.CurrentStreakDays
		lastActive = &streak.LastActiveDate
	}

	score, err := scoring.ScoreQuiz(domain.AttemptInput{
		CorrectAnswers:    correctAnswers,
		TotalQuestions:    totalQuestions,
		ElapsedSeconds:    elapsedSeconds,
		CurrentStreakDays: currentStreakDays,
	})
	if err != nil {
		return domain.SubmissionResult{}, err
	}

	result := domain.SubmissionResult{
		UserID:     userID,
		QuizID:     quizID,
		Percentage: score.Percentage,
		XPAwarded:  score.XPAwarded,
		Completed:  score.IsCompleted,
		Bonuses:    score.Bonuses,
		Streak:     streak,
	}

	if existing != nil {
		result.PreviousPercentage = existing.BestPercentage

		// Ties and regressions keep the stored best and write nothing.
		if score.Percentage <= existing.BestPercentage {
			result.Percentage = existing.BestPercentage
			result.XPAwarded = 0
			result.Bonuses = domain.Bonuses{}
			result.Completed = existing.Completed
			result.WasImprovement = false
			return result, nil
		}
		if now.Sub(existing.UpdatedAt) < s.rateLimitWindow {
			return domain.SubmissionResult{}, fmt.Errorf("%w: last write %s ago", domain.ErrTooFrequent, now.Sub(existing.UpdatedAt).Round(time.Second))
		}
	}
	result.WasImprovement = true

	record := domain.ProgressRecord{
		BestPercentage: score.Percentage,
		Completed:      score.IsCompleted,
		UpdatedAt:      now,
	}
	if existing != nil {
		// Completed is sticky: a later accepted write never reverts it.
		record.Completed = record.Completed || existing.Completed
		record.CompletedAt = existing.CompletedAt
	}
	if record.Completed && record.CompletedAt == nil {
		today := s.cal.CivilDateOf(now)
		record.CompletedAt = &today
	}
	result.Completed = record.Completed

	if err := s.repo.UpsertProgress(ctx, userID, quizID, record); err != nil {
		return domain.SubmissionResult{}, err
	}

	// Streak bookkeeping is best-effort relative to score truth: the
	// progress write above is never rolled back.
	if score.IsCompleted {
		result.Streak = s.advanceStreak(ctx, userID, streak, lastActive, currentStreakDays, now)
	}

	if s.feed != nil {
		s.feed.Publish(userID, result)
	}
	return result, nil
}

// advanceStreak applies the calendar decision and persists it when it
// changes anything. Same-day repeats skip the write entirely.
func (s *SubmissionService) advanceStreak(ctx context.Context, userID string, prior *domain.StreakState, lastActive *domain.CivilDate, currentStreakDays int, now time.Time) *domain.StreakState {
	transition := s.cal.StreakTransition(lastActive, currentStreakDays, now)
	if !transition.ShouldIncrement && !transition.ShouldReset {
		return prior
	}

	next := domain.StreakState{
		CurrentStreakDays: transition.NewStreakDays,
		LongestStreakDays: transition.NewStreakDays,
		LastActiveDate:    transition.Today,
	}
	if prior != nil && prior.LongestStreakDays > next.LongestStreakDays {
		next.LongestStreakDays = prior.LongestStreakDays
	}

	if err := s.repo.UpsertStreak(ctx, userID, next); err != nil {
		s.events.StreakWriteFailed(userID, err)
		return prior
	}
	return &next
}

// GetLevelProgress maps cumulative XP onto the level curve.
func (s *SubmissionService) GetLevelProgress(totalXP int) (domain.LevelProgress, error) {
	return scoring.LevelFromXP(totalXP)
}

// submissionKey fingerprints the answer signature so identical retries
// collide and different submissions never do.
func submissionKey(userID, quizID string, correctAnswers, totalQuestions int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%d", userID, quizID, correctAnswers, totalQuestions)))
	return "submit:" + userID + ":" + quizID + ":" + hex.EncodeToString(sum[:8])
}
