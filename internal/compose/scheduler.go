package compose

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCheckInterval is how often an active space is checked for idleness.
const DefaultCheckInterval = 5 * time.Minute

// IdleCheck inspects one space and reports whether it was destroyed.
type IdleCheck func(ctx context.Context, id uuid.UUID) bool

// IdleScheduler runs a recurring IdleCheck per composition space ID.
// Entries are keyed by ID; the check looks the space up rather than
// holding on to it.
type IdleScheduler struct {
	ctx      context.Context
	interval time.Duration
	check    IdleCheck

	mu      sync.Mutex
	entries map[uuid.UUID]*idleEntry
}

type idleEntry struct {
	timer *time.Timer
}

// NewIdleScheduler creates a scheduler that calls check every interval
// for each scheduled ID. ctx is passed to every check.
func NewIdleScheduler(ctx context.Context, interval time.Duration, check IdleCheck) *IdleScheduler {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	return &IdleScheduler{
		ctx:      ctx,
		interval: interval,
		check:    check,
		entries:  make(map[uuid.UUID]*idleEntry),
	}
}

// Schedule arms the recurring check for id. Scheduling an ID that is
// already armed does nothing.
func (s *IdleScheduler) Schedule(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; ok {
		return
	}
	e := &idleEntry{}
	e.timer = time.AfterFunc(s.interval, func() { s.tick(id, e) })
	s.entries[id] = e
}

// tick runs the check unless the entry was cancelled or replaced in the
// meantime, then re-arms the entry if the space survived.
func (s *IdleScheduler) tick(id uuid.UUID, e *idleEntry) {
	if !s.owns(id, e) {
		return
	}
	if s.check(s.ctx, id) {
		s.remove(id, e)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries[id] == e {
		e.timer.Reset(s.interval)
	}
}

func (s *IdleScheduler) owns(id uuid.UUID, e *idleEntry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[id] == e
}

func (s *IdleScheduler) remove(id uuid.UUID, e *idleEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries[id] == e {
		delete(s.entries, id)
	}
}

// Cancel stops the check for id and reports whether one was armed.
func (s *IdleScheduler) Cancel(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.entries, id)
	return true
}

// CancelAll stops every check.
func (s *IdleScheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, id)
	}
}

// Scheduled reports whether a check is armed for id.
func (s *IdleScheduler) Scheduled(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

// Len returns the number of armed checks.
func (s *IdleScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
