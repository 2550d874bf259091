package app_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"legalia-progress-service/internal/app"
	"legalia-progress-service/internal/calendar"
	"legalia-progress-service/internal/domain"
	"legalia-progress-service/internal/idempotency"
	"legalia-progress-service/internal/infra/memory"
)

var chisinau = calendar.MustNewService("")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, time.July, 10, 12, 0, 0, 0, chisinau.Location())}
}

// countingRepo tracks writes so tests can assert dedup behavior.
type countingRepo struct {
	app.ProgressRepository
	progressWrites int32
	streakWrites   int32
}

func (r *countingRepo) UpsertProgress(ctx context.Context, userID, quizID string, record domain.ProgressRecord) error {
	atomic.AddInt32(&r.progressWrites, 1)
	return r.ProgressRepository.UpsertProgress(ctx, userID, quizID, record)
}

func (r *countingRepo) UpsertStreak(ctx context.Context, userID string, state domain.StreakState) error {
	atomic.AddInt32(&r.streakWrites, 1)
	return r.ProgressRepository.UpsertStreak(ctx, userID, state)
}

func newTestService(t *testing.T, clock *testClock) (*app.SubmissionService, *countingRepo) {
	t.Helper()
	repo := &countingRepo{
		ProgressRepository: memory.NewProgressRepository(map[string]int{
			"constitutional-law-1": 10,
			"civil-law-1":          8,
		}),
	}
	guard := idempotency.NewGuard(memory.NewLedgerWithClock(clock.Now))
	service := app.NewSubmissionService(repo, guard, chisinau, app.WithClock(clock.Now))
	return service, repo
}

func TestSubmitRejectsInvalidCounts(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, newTestClock())

	cases := []struct {
		name    string
		correct int
		total   int
	}{
		{"zero total", 5, 0},
		{"total above cap", 5, 51},
		{"negative correct", -1, 10},
		{"correct above total", 11, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := service.SubmitQuizAttempt(ctx, "u1", "constitutional-law-1", tc.correct, tc.total, 120)
			if !errors.Is(err, domain.ErrInvalidAttempt) {
				t.Fatalf("expected ErrInvalidAttempt, got %v", err)
			}
		})
	}
}

func TestSubmitUnknownQuiz(t *testing.T) {
	service, _ := newTestService(t, newTestClock())
	_, err := service.SubmitQuizAttempt(context.Background(), "u1", "no-such-quiz", 5, 10, 120)
	if !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected ErrQuizNotFound, got %v", err)
	}
}

func TestSubmitFirstAttemptEndToEnd(t *testing.T) {
	ctx := context.Background()
	service, repo := newTestService(t, newTestClock())

	// 7/10 in 300s: exactly the completion threshold, no bonuses (avg is
	// exactly 30s/question).
	result, err := service.SubmitQuizAttempt(ctx, "u1", "constitutional-law-1", 7, 10, 300)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Percentage != 70 || !result.Completed || result.XPAwarded != 15 {
		t.Fatalf("expected 70%% completed with base XP, got %+v", result)
	}
	if !result.WasImprovement || result.PreviousPercentage != 0 {
		t.Fatalf("first attempt must count as improvement, got %+v", result)
	}
	if result.Streak == nil || result.Streak.CurrentStreakDays != 1 {
		t.Fatalf("first completion must start the streak, got %+v", result.Streak)
	}
	if repo.progressWrites != 1 || repo.streakWrites != 1 {
		t.Fatalf("expected one progress and one streak write, got %d/%d", repo.progressWrites, repo.streakWrites)
	}
}

func TestSubmitClampsToAuthoritativeQuestionCount(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, newTestClock())

	// The client claims 20 questions and 20 correct; the catalog knows the
	// quiz has 10. Server truth wins: this scores as 10/10.
	result, err := service.SubmitQuizAttempt(ctx, "u1", "constitutional-law-1", 20, 20, 200)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Percentage != 100 {
		t.Fatalf("expected clamped perfect score, got %+v", result)
	}
	if result.Bonuses.Perfect != 5 || result.Bonuses.Speed != 3 {
		t.Fatalf("expected perfect and speed bonuses on clamped score, got %+v", result.Bonuses)
	}
}

func TestSubmitConcurrentDuplicatesWriteOnce(t *testing.T) {
	ctx := context.Background()
	service, repo := newTestService(t, newTestClock())

	const callers = 12
	results := make([]domain.SubmissionResult, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = service.SubmitQuizAttempt(ctx, "u1", "constitutional-law-1", 8, 10, 120)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if !reflect.DeepEqual(results[i], results[0]) {
			t.Fatalf("caller %d got a different result: %+v vs %+v", i, results[i], results[0])
		}
	}
	if got := atomic.LoadInt32(&repo.progressWrites); got != 1 {
		t.Fatalf("expected exactly one progress write, got %d", got)
	}
}

func TestSubmitLowerScoreKeepsStoredBest(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	service, repo := newTestService(t, clock)

	if _, err := service.SubmitQuizAttempt(ctx, "u1", "constitutional-law-1", 9, 10, 120); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	clock.Advance(time.Minute)

	result, err := service.SubmitQuizAttempt(ctx, "u1", "constitutional-law-1", 6, 10, 120)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if result.WasImprovement {
		t.Fatalf("lower score must not be an improvement: %+v", result)
	}
	if result.Percentage != 90 || result.PreviousPercentage != 90 {
		t.Fatalf("expected stored best 90%%, got %+v", result)
	}
	if result.XPAwarded != 0 {
		t.Fatalf("no-improvement must not award XP, got %+v", result)
	}
	if got := atomic.LoadInt32(&repo.progressWrites); got != 1 {
		t.Fatalf("no-improvement must not write, got %d writes", got)
	}
}

func TestSubmitTieIsNoOp(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	service, repo := newTestService(t, clock)

	if _, err := service.SubmitQuizAttempt(ctx, "u1", "civil-law-1", 6, 8, 120); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	clock.Advance(time.Minute)

	// Same counts produce the same idempotency key, so advance past the
	// ledger TTL to reach the compare step instead of a cached replay.
	clock.Advance(idempotency.DefaultTTL)

	result, err := service.SubmitQuizAttempt(ctx, "u1", "civil-law-1", 6, 8, 90)
	if err != nil {
		t.Fatalf("tie submit: %v", err)
	}
	if result.WasImprovement {
		t.Fatalf("tie must not be an improvement: %+v", result)
	}
	if got := atomic.LoadInt32(&repo.progressWrites); got != 1 {
		t.Fatalf("tie must not write, got %d writes", got)
	}
}

func TestSubmitImprovementInsideRateWindowIsTooFrequent(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	service, repo := newTestService(t, clock)

	if _, err := service.SubmitQuizAttempt(ctx, "u1", "constitutional-law-1", 7, 10, 120); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	clock.Advance(10 * time.Second)

	_, err := service.SubmitQuizAttempt(ctx, "u1", "constitutional-law-1", 9, 10, 120)
	if !errors.Is(err, domain.ErrTooFrequent) {
		t.Fatalf("expected ErrTooFrequent, got %v", err)
	}
	if got := atomic.LoadInt32(&repo.progressWrites); got != 1 {
		t.Fatalf("rate-limited submit must not write, got %d writes", got)
	}

	// Outside the window the same improvement goes through.
	clock.Advance(time.Minute)
	result, err := service.SubmitQuizAttempt(ctx, "u1", "constitutional-law-1", 9, 10, 120)
	if err != nil {
		t.Fatalf("retry after window: %v", err)
	}
	if !result.WasImprovement || result.Percentage != 90 {
		t.Fatalf("expected accepted improvement, got %+v", result)
	}
}

func TestSubmitIncompleteAttemptDoesNotTouchStreak(t *testing.T) {
	ctx := context.Background()
	service, repo := newTestService(t, newTestClock())

	result, err := service.SubmitQuizAttempt(ctx, "u1", "constitutional-law-1", 5, 10, 120)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Completed || result.XPAwarded != 0 {
		t.Fatalf("expected incomplete attempt, got %+v", result)
	}
	if result.Streak != nil {
		t.Fatalf("incomplete attempt must not create a streak, got %+v", result.Streak)
	}
	if got := atomic.LoadInt32(&repo.streakWrites); got != 0 {
		t.Fatalf("expected no streak writes, got %d", got)
	}
}

func TestSubmitSecondQuizSameDaySkipsStreakWrite(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	service, repo := newTestService(t, clock)

	if _, err := service.SubmitQuizAttempt(ctx, "u1", "constitutional-law-1", 8, 10, 120); err != nil {
		t.Fatalf("first quiz: %v", err)
	}
	clock.Advance(time.Hour)

	result, err := service.SubmitQuizAttempt(ctx, "u1", "civil-law-1", 7, 8, 120)
	if err != nil {
		t.Fatalf("second quiz: %v", err)
	}
	if result.Streak == nil || result.Streak.CurrentStreakDays != 1 {
		t.Fatalf("streak must stay at 1 within the same civil day, got %+v", result.Streak)
	}
	if got := atomic.LoadInt32(&repo.streakWrites); got != 1 {
		t.Fatalf("same-day no-op must skip the streak write, got %d writes", got)
	}
}

func TestSubmitNextDayIncrementsStreak(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	service, _ := newTestService(t, clock)

	if _, err := service.SubmitQuizAttempt(ctx, "u1", "constitutional-law-1", 8, 10, 120); err != nil {
		t.Fatalf("day one: %v", err)
	}
	clock.Advance(24 * time.Hour)

	result, err := service.SubmitQuizAttempt(ctx, "u1", "civil-law-1", 7, 8, 120)
	if err != nil {
		t.Fatalf("day two: %v", err)
	}
	if result.Streak == nil || result.Streak.CurrentStreakDays != 2 || result.Streak.LongestStreakDays != 2 {
		t.Fatalf("expected streak of 2, got %+v", result.Streak)
	}
}

func TestSubmitGapResetsStreakButKeepsLongest(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	service, _ := newTestService(t, clock)

	if _, err := service.SubmitQuizAttempt(ctx, "u1", "constitutional-law-1", 8, 10, 120); err != nil {
		t.Fatalf("day one: %v", err)
	}
	clock.Advance(24 * time.Hour)
	if _, err := service.SubmitQuizAttempt(ctx, "u1", "civil-law-1", 7, 8, 120); err != nil {
		t.Fatalf("day two: %v", err)
	}

	clock.Advance(4 * 24 * time.Hour)
	result, err := service.SubmitQuizAttempt(ctx, "u1", "constitutional-law-1", 10, 10, 120)
	if err != nil {
		t.Fatalf("after gap: %v", err)
	}
	if result.Streak == nil || result.Streak.CurrentStreakDays != 1 {
		t.Fatalf("gap must reset the streak to 1, got %+v", result.Streak)
	}
	if result.Streak.LongestStreakDays != 2 {
		t.Fatalf("longest streak must survive the reset, got %+v", result.Streak)
	}
}

type failingStreakRepo struct {
	app.ProgressRepository
}

func (r *failingStreakRepo) UpsertStreak(context.Context, string, domain.StreakState) error {
	return errors.New("streak store down")
}

type capturingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *capturingSink) StreakWriteFailed(userID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, userID)
}

func TestStreakWriteFailureDoesNotFailSubmission(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	repo := &failingStreakRepo{
		ProgressRepository: memory.NewProgressRepository(map[string]int{"constitutional-law-1": 10}),
	}
	sink := &capturingSink{}
	service := app.NewSubmissionService(repo,
		idempotency.NewGuard(memory.NewLedgerWithClock(clock.Now)),
		chisinau,
		app.WithClock(clock.Now),
		app.WithEventSink(sink))

	result, err := service.SubmitQuizAttempt(ctx, "u1", "constitutional-law-1", 8, 10, 120)
	if err != nil {
		t.Fatalf("streak failure must not fail the submission: %v", err)
	}
	if !result.WasImprovement || result.Percentage != 80 {
		t.Fatalf("progress result must be intact, got %+v", result)
	}
	if result.Streak != nil {
		t.Fatalf("unpersisted streak must not be reported as current, got %+v", result.Streak)
	}
	if len(sink.events) != 1 || sink.events[0] != "u1" {
		t.Fatalf("expected one surfaced streak failure, got %v", sink.events)
	}
}

func TestSubmitPublishesToProgressFeed(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	repo := memory.NewProgressRepository(map[string]int{"constitutional-law-1": 10})
	feed := app.NewProgressFeed()
	service := app.NewSubmissionService(repo,
		idempotency.NewGuard(memory.NewLedgerWithClock(clock.Now)),
		chisinau,
		app.WithClock(clock.Now),
		app.WithProgressFeed(feed))

	updates, cancel := feed.Subscribe("u1")
	defer cancel()

	if _, err := service.SubmitQuizAttempt(ctx, "u1", "constitutional-law-1", 8, 10, 120); err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case update := <-updates:
		if update.Percentage != 80 || !update.WasImprovement {
			t.Fatalf("unexpected feed update: %+v", update)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a feed update")
	}
}

func TestGetLevelProgress(t *testing.T) {
	service, _ := newTestService(t, newTestClock())
	progress, err := service.GetLevelProgress(60)
	if err != nil {
		t.Fatalf("level progress: %v", err)
	}
	want := domain.LevelProgress{Level: 2, XPIntoLevel: 10, XPToNextLevel: 70, TotalXP: 60, PercentInLevel: 14}
	if progress != want {
		t.Fatalf("expected %+v, got %+v", want, progress)
	}
}
