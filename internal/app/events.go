package app

import (
	"sync"

	"paidquiz-service/internal/domain"
)

// Feed fans submission lifecycle events out to operator dashboards.
// Broadcasts never block: a slow subscriber loses its oldest event instead
// of stalling the state machine.
type Feed struct {
	mu          sync.Mutex
	subscribers map[string]map[chan domain.SubmissionEvent]struct{}
}

func NewFeed() *Feed {
	return &Feed{subscribers: make(map[string]map[chan domain.SubmissionEvent]struct{})}
}

// Subscribe returns a channel of events for one test. The caller must invoke
// the returned cancel function to avoid leaks.
func (f *Feed) Subscribe(testID string) (<-chan domain.SubmissionEvent, func()) {
	ch := make(chan domain.SubmissionEvent, 8)

	f.mu.Lock()
	subs, ok := f.subscribers[testID]
	if !ok {
		subs = make(map[chan domain.SubmissionEvent]struct{})
		f.subscribers[testID] = subs
	}
	subs[ch] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if subs, ok := f.subscribers[testID]; ok {
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}
			if len(subs) == 0 {
				delete(f.subscribers, testID)
			}
		}
		f.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber of the event's test.
func (f *Feed) Publish(ev domain.SubmissionEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subscribers[ev.TestID] {
		select {
		case ch <- ev:
		default:
			// Drop the stale head so the latest event always lands.
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
	}
}
