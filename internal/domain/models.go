package domain

import (
	"fmt"
	"time"
)

// CivilDate is a calendar date in the service's fixed civil timezone,
// independent of any instant's time-of-day.
type CivilDate struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
	Day   int        `json:"day"`
}

// NewCivilDate builds a CivilDate from its parts.
func NewCivilDate(year int, month time.Month, day int) CivilDate {
	return CivilDate{Year: year, Month: month, Day: day}
}

// String renders the date as ISO-8601 (yyyy-mm-dd).
func (d CivilDate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// IsZero reports whether d is the zero value.
func (d CivilDate) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// Midnight returns the instant at 00:00:00 of d in loc.
func (d CivilDate) Midnight(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// ParseCivilDate parses the yyyy-mm-dd form produced by String.
func ParseCivilDate(raw string) (CivilDate, error) {
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return CivilDate{}, fmt.Errorf("parse civil date %q: %w", raw, err)
	}
	y, m, day := t.Date()
	return CivilDate{Year: y, Month: m, Day: day}, nil
}

// AttemptInput is the raw material for scoring a finished quiz. It is
// built per submission and never persisted.
type AttemptInput struct {
	CorrectAnswers    int
	TotalQuestions    int
	ElapsedSeconds    float64
	CurrentStreakDays int
}

// Bonuses itemizes the XP bonuses included in an award.
type Bonuses struct {
	Perfect int `json:"perfect"`
	Speed   int `json:"speed"`
	Streak  int `json:"streak"`
}

// ScoreResult is the deterministic outcome of scoring one attempt.
type ScoreResult struct {
	Percentage  int     `json:"percentage"`
	IsCompleted bool    `json:"isCompleted"`
	XPAwarded   int     `json:"xpAwarded"`
	Bonuses     Bonuses `json:"bonuses"`
}

// LevelProgress locates a cumulative XP total inside the level curve.
type LevelProgress struct {
	Level          int `json:"level"`
	XPIntoLevel    int `json:"xpIntoLevel"`
	XPToNextLevel  int `json:"xpToNextLevel"`
	TotalXP        int `json:"totalXP"`
	PercentInLevel int `json:"percentInLevel"`
}

// StreakState is the per-user daily-activity streak.
// Invariant: LongestStreakDays >= CurrentStreakDays.
type StreakState struct {
	CurrentStreakDays int       `json:"currentStreakDays"`
	LongestStreakDays int       `json:"longestStreakDays"`
	LastActiveDate    CivilDate `json:"lastActiveDate"`
}

// ProgressRecord is the per-(user, quiz) best result.
// Invariants: BestPercentage never decreases across writes; once Completed
// is true it never reverts.
type ProgressRecord struct {
	BestPercentage int        `json:"bestPercentage"`
	Completed      bool       `json:"completed"`
	CompletedAt    *CivilDate `json:"completedAt,omitempty"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// SubmissionResult is what a caller gets back from a quiz submission.
// WasImprovement=false means the stored best was kept and nothing was
// written; PreviousPercentage then carries that stored best.
type SubmissionResult struct {
	UserID             string       `json:"userId"`
	QuizID             string       `json:"quizId"`
	Percentage         int          `json:"percentage"`
	XPAwarded          int          `json:"xpAwarded"`
	Completed          bool         `json:"completed"`
	WasImprovement     bool         `json:"wasImprovement"`
	PreviousPercentage int          `json:"previousPercentage"`
	Bonuses            Bonuses      `json:"bonuses"`
	Streak             *StreakState `json:"streak,omitempty"`
}
