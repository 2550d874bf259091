package app

import (
	"sync"

	"legalia-progress-service/internal/domain"
)

// ProgressFeed fans accepted submission results out to per-user
// subscribers (the mobile client's live progress view).
type ProgressFeed struct {
	mu          sync.Mutex
	subscribers map[string]map[chan domain.SubmissionResult]struct{}
}

// NewProgressFeed builds an empty feed.
func NewProgressFeed() *ProgressFeed {
	return &ProgressFeed{
		subscribers: make(map[string]map[chan domain.SubmissionResult]struct{}),
	}
}

// Subscribe returns a channel of the user's submission results. The
// caller must invoke the returned cancel function to avoid leaks.
func (f *ProgressFeed) Subscribe(userID string) (<-chan domain.SubmissionResult, func()) {
	ch := make(chan domain.SubmissionResult, 8)

	f.mu.Lock()
	set, ok := f.subscribers[userID]
	if !ok {
		set = make(map[chan domain.SubmissionResult]struct{})
		f.subscribers[userID] = set
	}
	set[ch] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if set, ok := f.subscribers[userID]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(f.subscribers, userID)
			}
		}
		f.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers a result to every subscriber of userID. Slow
// subscribers lose their oldest undelivered update instead of blocking
// the submission path.
func (f *ProgressFeed) Publish(userID string, result domain.SubmissionResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subscribers[userID] {
		select {
		case ch <- result:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- result
		}
	}
}
