// Package faults records recent per-user sync failures so they can be
// surfaced through the status endpoint without blocking later syncs. The
// store sits behind an interface so a durable backend can be swapped in.
package faults

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Failure is one recorded sync error.
type Failure struct {
	ID        string    `json:"id"`
	Section   string    `json:"section"`
	Operation string    `json:"operation"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// Log stores recent failures keyed by user.
type Log interface {
	// Record appends a failure for the user, stamping ID and At.
	Record(userID string, f Failure)

	// Recent returns the user's failures at or after the cutoff, oldest
	// first.
	Recent(userID string, since time.Time) []Failure
}

// MemoryLog is a size-bounded, TTL-evicting in-memory Log. Entries are lost
// on restart; the status endpoint documents the window as best-effort.
type MemoryLog struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxPerUser int
	entries    map[string][]Failure
	now        func() time.Time
}

// NewMemoryLog builds a log keeping at most maxPerUser entries per user for
// at most ttl.
func NewMemoryLog(ttl time.Duration, maxPerUser int) *MemoryLog {
	return &MemoryLog{
		ttl:        ttl,
		maxPerUser: maxPerUser,
		entries:    make(map[string][]Failure),
		now:        time.Now,
	}
}

func (l *MemoryLog) Record(userID string, f Failure) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f.ID = uuid.NewString()
	f.At = l.now().UTC()

	kept := l.prune(l.entries[userID])
	kept = append(kept, f)
	if len(kept) > l.maxPerUser {
		kept = kept[len(kept)-l.maxPerUser:]
	}
	l.entries[userID] = kept
}

func (l *MemoryLog) Recent(userID string, since time.Time) []Failure {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.prune(l.entries[userID])
	l.entries[userID] = kept

	var out []Failure
	for _, f := range kept {
		if !f.At.Before(since) {
			out = append(out, f)
		}
	}
	return out
}

func (l *MemoryLog) prune(fs []Failure) []Failure {
	cutoff := l.now().Add(-l.ttl)
	i := 0
	for i < len(fs) && fs[i].At.Before(cutoff) {
		i++
	}
	return fs[i:]
}
