package pyramid

import (
	"sync"
	"time"
)

type absentEntry struct {
	tries      int
	lastMarked time.Time
}

// AbsentList tracks tile addresses whose retrieval keeps failing. After
// maxTries failed attempts an address is reported absent until the recheck
// interval elapses, so unreachable tiles neither block other tiles nor
// hammer the source.
type AbsentList struct {
	mu       sync.Mutex
	maxTries int
	interval time.Duration
	entries  map[Address]*absentEntry
}

// NewAbsentList builds an absent list; non-positive arguments fall back to
// the package defaults.
func NewAbsentList(maxTries int, interval time.Duration) *AbsentList {
	if maxTries <= 0 {
		maxTries = DefaultMaxAbsentTries
	}
	if interval <= 0 {
		interval = DefaultAbsentCheckIntervalMs * time.Millisecond
	}
	return &AbsentList{
		maxTries: maxTries,
		interval: interval,
		entries:  make(map[Address]*absentEntry),
	}
}

// MarkAbsent records one failed attempt for the address.
func (al *AbsentList) MarkAbsent(a Address) {
	al.mu.Lock()
	defer al.mu.Unlock()

	e := al.entries[a]
	if e == nil {
		e = &absentEntry{}
		al.entries[a] = e
	}
	e.tries++
	e.lastMarked = time.Now()
}

// IsAbsent reports whether the address has exhausted its attempts. Once the
// recheck interval has passed the entry is dropped and retrieval may be tried
// again.
func (al *AbsentList) IsAbsent(a Address) bool {
	al.mu.Lock()
	defer al.mu.Unlock()

	e := al.entries[a]
	if e == nil {
		return false
	}
	if time.Since(e.lastMarked) > al.interval {
		delete(al.entries, a)
		return false
	}
	return e.tries >= al.maxTries
}

// Unmark clears the address after a successful retrieval.
func (al *AbsentList) Unmark(a Address) {
	al.mu.Lock()
	defer al.mu.Unlock()
	delete(al.entries, a)
}

// MaxTries returns the configured attempt bound.
func (al *AbsentList) MaxTries() int { return al.maxTries }
