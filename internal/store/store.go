package store

import (
	"sync"
	"time"

	domainerrors "github.com/listenupapp/bookstream/internal/errors"
)

// ErrNotFound matches the error returned for unknown book ids.
var ErrNotFound = domainerrors.NotFound("book not found")

// NotFound returns the error for an unknown book id. It matches ErrNotFound.
func NotFound(bookID string) error {
	return domainerrors.NotFoundf("book %s not found", bookID)
}

// Clock hands out strictly increasing UTC timestamps so UpdatedAt never goes
// backwards, even when the wall clock does.
type Clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

// NewClock creates a clock reading from now. A nil now uses time.Now.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Now returns the current time, nudged forward if needed to stay after the
// previous reading.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC()
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}

// Observe moves the clock past t, used when records are loaded from disk.
func (c *Clock) Observe(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.last) {
		c.last = t.UTC()
	}
}
