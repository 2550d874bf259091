package domain

import "errors"

var (
	// ErrInvalidAttempt is returned for malformed or out-of-range attempt
	// data; such submissions are never persisted.
	ErrInvalidAttempt = errors.New("invalid quiz attempt")
	// ErrQuizNotFound indicates the referenced quiz is unknown to the catalog.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrTooFrequent is returned when a submission arrives inside the
	// per-(user, quiz) rate-limit window. The attempt may be retried later.
	ErrTooFrequent = errors.New("submission too frequent")
)
