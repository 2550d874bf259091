// Package scoring converts raw quiz attempts into point awards and maps
// cumulative XP onto the level curve. Everything here is pure: no clock,
// no I/O, identical inputs always produce identical outputs.
package scoring

import (
	"fmt"
	"math"

	"legalia-progress-service/internal/domain"
)

const (
	// CompletionThreshold is the minimum percentage that counts as a
	// completed quiz. Completion gates all rewards.
	CompletionThreshold = 70

	// BaseXP is awarded for any completed attempt.
	BaseXP = 15
	// PerfectBonus is added for a flawless attempt.
	PerfectBonus = 5
	// SpeedBonus is added when the average time per question stays under
	// SpeedCutoffSeconds.
	SpeedBonus         = 3
	SpeedCutoffSeconds = 30.0
)

// Streak bonus tiers. Exactly one tier applies, the highest threshold met.
const (
	streakTierYearDays  = 365
	streakTierYearXP    = 20
	streakTierMonthDays = 30
	streakTierMonthXP   = 10
	streakTierWeekDays  = 7
	streakTierWeekXP    = 5
)

// Level curve: advancing from level n to n+1 costs 50 + (n-1)*20 XP.
const (
	levelBaseCost = 50
	levelCostStep = 20
)

// ScoreQuiz scores a finished attempt. It returns domain.ErrInvalidAttempt
// when the answer counts are out of range.
func ScoreQuiz(input domain.AttemptInput) (domain.ScoreResult, error) {
	if input.TotalQuestions <= 0 {
		return domain.ScoreResult{}, fmt.Errorf("%w: totalQuestions must be positive, got %d", domain.ErrInvalidAttempt, input.TotalQuestions)
	}
	if input.CorrectAnswers < 0 {
		return domain.ScoreResult{}, fmt.Errorf("%w: correctAnswers must not be negative, got %d", domain.ErrInvalidAttempt, input.CorrectAnswers)
	}
	if input.CorrectAnswers > input.TotalQuestions {
		return domain.ScoreResult{}, fmt.Errorf("%w: correctAnswers %d exceeds totalQuestions %d", domain.ErrInvalidAttempt, input.CorrectAnswers, input.TotalQuestions)
	}

	percentage := int(math.Round(100 * float64(input.CorrectAnswers) / float64(input.TotalQuestions)))
	result := domain.ScoreResult{
		Percentage:  percentage,
		IsCompleted: percentage >= CompletionThreshold,
	}
	if !result.IsCompleted {
		return result, nil
	}

	if percentage == 100 {
		result.Bonuses.Perfect = PerfectBonus
	}
	// An elapsed time of exactly 0 means the timer data is missing or
	// unreliable, not that the user was infinitely fast.
	avgSeconds := input.ElapsedSeconds / float64(input.TotalQuestions)
	if avgSeconds > 0 && avgSeconds < SpeedCutoffSeconds {
		result.Bonuses.Speed = SpeedBonus
	}
	result.Bonuses.Streak = streakBonus(input.CurrentStreakDays)

	result.XPAwarded = BaseXP + result.Bonuses.Perfect + result.Bonuses.Speed + result.Bonuses.Streak
	return result, nil
}

// streakBonus picks the single highest tier the streak qualifies for.
func streakBonus(streakDays int) int {
	switch {
	case streakDays >= streakTierYearDays:
		return streakTierYearXP
	case streakDays >= streakTierMonthDays:
		return streakTierMonthXP
	case streakDays >= streakTierWeekDays:
		return streakTierWeekXP
	default:
		return 0
	}
}

// MaxAttemptXP is the theoretical maximum a single attempt can award.
func MaxAttemptXP() int {
	return BaseXP + PerfectBonus + SpeedBonus + streakTierYearXP
}

// LevelFromXP locates a cumulative XP total on the level curve. It returns
// domain.ErrInvalidAttempt when totalXP is negative.
func LevelFromXP(totalXP int) (domain.LevelProgress, error) {
	if totalXP < 0 {
		return domain.LevelProgress{}, fmt.Errorf("%w: totalXP must not be negative, got %d", domain.ErrInvalidAttempt, totalXP)
	}

	level := 1
	remaining := totalXP
	requirement := levelBaseCost
	for remaining >= requirement {
		remaining -= requirement
		level++
		requirement = levelBaseCost + (level-1)*levelCostStep
	}

	return domain.LevelProgress{
		Level:          level,
		XPIntoLevel:    remaining,
		XPToNextLevel:  requirement,
		TotalXP:        totalXP,
		PercentInLevel: int(math.Round(100 * float64(remaining) / float64(requirement))),
	}, nil
}

// AuditedAttempt is one historical attempt as seen by the XP auditor.
type AuditedAttempt struct {
	Percentage int
	XPAwarded  int
}

// AuditReport summarizes an offline XP audit.
type AuditReport struct {
	IsValid    bool
	TotalXP    int
	Violations []string
}

// ValidateAwardedXP audits a user's attempt history for impossible awards.
// It is a pure auditor for regression tests and offline checks, never a
// gate on the submission path.
func ValidateAwardedXP(attempts []AuditedAttempt) AuditReport {
	report := AuditReport{IsValid: true}
	for i, attempt := range attempts {
		if attempt.XPAwarded < 0 {
			report.Violations = append(report.Violations, fmt.Sprintf("attempt %d: negative XP %d", i, attempt.XPAwarded))
		}
		if attempt.Percentage < CompletionThreshold && attempt.XPAwarded > 0 {
			report.Violations = append(report.Violations, fmt.Sprintf("attempt %d: %d XP awarded below completion threshold (%d%%)", i, attempt.XPAwarded, attempt.Percentage))
		}
		if attempt.XPAwarded > MaxAttemptXP() {
			report.Violations = append(report.Violations, fmt.Sprintf("attempt %d: %d XP exceeds per-attempt maximum %d", i, attempt.XPAwarded, MaxAttemptXP()))
		}
		report.TotalXP += attempt.XPAwarded
	}
	report.IsValid = len(report.Violations) == 0
	return report
}
