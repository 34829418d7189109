package api

import (
	"sync"
	"time"
)

type attempt struct {
	at     time.Time
	failed bool
}

// slidingWindowCounter tracks timestamped attempts per key over a trailing
// window. Attempts are appended in arrival order, so pruning only ever trims
// the head of a key's list. Safe for concurrent use.
type slidingWindowCounter struct {
	mu       sync.Mutex
	attempts map[string][]attempt
}

func newSlidingWindowCounter() *slidingWindowCounter {
	return &slidingWindowCounter{attempts: make(map[string][]attempt)}
}

// record appends an attempt for key. The outcome is unknown at admission
// time, so attempts start out as not failed.
func (c *slidingWindowCounter) record(key string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts[key] = append(c.attempts[key], attempt{at: now})
}

// count returns the number of attempts for key within (now-window, now],
// pruning older entries as a side effect.
func (c *slidingWindowCounter) count(key string, now time.Time, window time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pruneLocked(key, now.Add(-window)))
}

// remaining returns how many attempts are left before limit is reached.
func (c *slidingWindowCounter) remaining(key string, now time.Time, window time.Duration, limit int) int {
	n := c.count(key, now, window)
	if n >= limit {
		return 0
	}
	return limit - n
}

// countFailed returns how many attempts within the window are marked failed.
// Unlike count it never prunes: callers pass the failure window here, which
// can be narrower than the key's admission window, and pruning with it would
// erase attempts that still count toward admission.
func (c *slidingWindowCounter) countFailed(key string, now time.Time, window time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := now.Add(-window)
	failed := 0
	for _, a := range c.attempts[key] {
		if a.failed && a.at.After(cutoff) {
			failed++
		}
	}
	return failed
}

// markLastFailed flags the most recently recorded attempt for key as failed
// and reports whether there was an attempt to mark.
func (c *slidingWindowCounter) markLastFailed(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.attempts[key]
	if len(list) == 0 {
		return false
	}
	list[len(list)-1].failed = true
	return true
}

// size returns the number of distinct tracked keys.
func (c *slidingWindowCounter) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.attempts)
}

// evictIdle removes every key whose newest attempt is older than the window
// and returns how many keys were dropped.
func (c *slidingWindowCounter) evictIdle(now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, list := range c.attempts {
		if len(list) == 0 || !list[len(list)-1].at.After(cutoff) {
			delete(c.attempts, key)
			removed++
		}
	}
	return removed
}

// pruneLocked drops attempts at or before cutoff and returns the surviving
// slice. Caller must hold mu.
func (c *slidingWindowCounter) pruneLocked(key string, cutoff time.Time) []attempt {
	list, ok := c.attempts[key]
	if !ok {
		return nil
	}
	i := 0
	for i < len(list) && !list[i].at.After(cutoff) {
		i++
	}
	switch {
	case i == 0:
		return list
	case i == len(list):
		delete(c.attempts, key)
		return nil
	}
	kept := make([]attempt, len(list)-i)
	copy(kept, list[i:])
	c.attempts[key] = kept
	return kept
}
