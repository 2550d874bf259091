// Package calendar does civil-date arithmetic in one fixed timezone so
// that streaks behave the same no matter what locale or DST rules the
// device reports. Weeks start on Monday.
package calendar

import (
	"fmt"
	"time"

	"legalia-progress-service/internal/domain"
)

// DefaultTimezone is the civil timezone the app counts days in.
const DefaultTimezone = "Europe/Chisinau"

// Service normalizes instants into the fixed civil timezone and derives
// streak transitions. All methods are pure; "now" is always an argument.
type Service struct {
	loc *time.Location
}

// NewService loads the named timezone. An empty name selects
// DefaultTimezone.
func NewService(timezone string) (*Service, error) {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	return &Service{loc: loc}, nil
}

// MustNewService is for wiring code and tests where the zone name is a
// known constant.
func MustNewService(timezone string) *Service {
	s, err := NewService(timezone)
	if err != nil {
		panic(err)
	}
	return s
}

// Location exposes the fixed civil timezone.
func (s *Service) Location() *time.Location {
	return s.loc
}

// CivilDateOf maps an instant to its calendar date in the fixed timezone,
// discarding time-of-day.
func (s *Service) CivilDateOf(instant time.Time) domain.CivilDate {
	y, m, d := instant.In(s.loc).Date()
	return domain.NewCivilDate(y, m, d)
}

// StartOfWeek returns Monday 00:00:00 of the week containing instant.
func (s *Service) StartOfWeek(instant time.Time) time.Time {
	local := instant.In(s.loc)
	// time.Weekday numbers Sunday as 0; shift so Monday is 0.
	offset := (int(local.Weekday()) + 6) % 7
	y, m, d := local.AddDate(0, 0, -offset).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.loc)
}

// EndOfWeek returns Sunday 23:59:59.999 of the week containing instant.
func (s *Service) EndOfWeek(instant time.Time) time.Time {
	return s.StartOfWeek(instant).AddDate(0, 0, 7).Add(-time.Millisecond)
}

// DaysBetween returns the absolute civil-day distance between two
// instants. It is symmetric in its arguments.
func (s *Service) DaysBetween(a, b time.Time) int {
	diff := s.dayNumber(b) - s.dayNumber(a)
	if diff < 0 {
		diff = -diff
	}
	return diff
}

// IsSameCivilDay reports whether two instants fall on the same calendar
// date in the fixed timezone.
func (s *Service) IsSameCivilDay(a, b time.Time) bool {
	return s.CivilDateOf(a) == s.CivilDateOf(b)
}

// AreConsecutiveCivilDays reports whether later falls exactly one civil
// day after earlier. Order matters: same-day, reversed, and gaps larger
// than one day are all false.
func (s *Service) AreConsecutiveCivilDays(earlier, later time.Time) bool {
	return s.dayNumber(later)-s.dayNumber(earlier) == 1
}

// dayNumber counts civil days since the Unix epoch date, so that day
// distance is plain integer subtraction immune to DST-induced 23/25 hour
// days.
func (s *Service) dayNumber(instant time.Time) int {
	date := s.CivilDateOf(instant)
	// Midnights in UTC are exactly 24h apart, which LoadLocation zones
	// cannot guarantee.
	return int(date.Midnight(time.UTC).Unix() / 86400)
}

// StreakTransition is the decision derived from stored streak state and
// the current instant.
type StreakTransition struct {
	NewStreakDays   int
	ShouldReset     bool
	ShouldIncrement bool
	LastActiveDate  domain.CivilDate
	Today           domain.CivilDate
}

// StreakTransition decides how a qualifying activity at "now" changes a
// streak. lastActive is nil for a user with no prior activity. The
// function is pure and re-derivable from stored state alone.
func (s *Service) StreakTransition(lastActive *domain.CivilDate, currentStreakDays int, now time.Time) StreakTransition {
	today := s.CivilDateOf(now)

	if lastActive == nil {
		return StreakTransition{
			NewStreakDays:   1,
			ShouldIncrement: true,
			LastActiveDate:  today,
			Today:           today,
		}
	}

	transition := StreakTransition{
		LastActiveDate: *lastActive,
		Today:          today,
	}
	lastMidnight := lastActive.Midnight(s.loc)
	switch {
	case *lastActive == today:
		// Already counted today; idempotent no-op.
		transition.NewStreakDays = currentStreakDays
	case s.AreConsecutiveCivilDays(lastMidnight, now):
		transition.NewStreakDays = currentStreakDays + 1
		transition.ShouldIncrement = true
	default:
		transition.NewStreakDays = 1
		transition.ShouldReset = true
	}
	return transition
}
