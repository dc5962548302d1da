package bulk

import (
	"context"
	"sync"
)

// RevisionTracker follows the backend queue revision announced on the push
// channel so a command can wait for the state change it caused.
type RevisionTracker struct {
	mu      sync.Mutex
	rev     uint64
	changed chan struct{}
}

// NewRevisionTracker creates a tracker at revision 0
func NewRevisionTracker() *RevisionTracker {
	return &RevisionTracker{changed: make(chan struct{})}
}

// Observe records rev if it is newer than the last one seen
func (t *RevisionTracker) Observe(rev uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rev <= t.rev {
		return
	}
	t.rev = rev
	close(t.changed)
	t.changed = make(chan struct{})
}

// Latest returns the newest revision seen
func (t *RevisionTracker) Latest() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rev
}

// Wait blocks until a revision newer than after is observed. It returns
// false when ctx ends first.
func (t *RevisionTracker) Wait(ctx context.Context, after uint64) bool {
	for {
		t.mu.Lock()
		rev, ch := t.rev, t.changed
		t.mu.Unlock()
		if rev > after {
			return true
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return false
		}
	}
}
