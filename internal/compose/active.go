package compose

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jarrod-lowe/jmap-service-compose/internal/ids"
	"github.com/jarrod-lowe/jmap-service-compose/internal/message"
)

// ActiveSpace is the in-session state of a composition space: when it was
// last used, the messages it derives from and the messages to delete once
// it goes away.
type ActiveSpace struct {
	id           uuid.UUID
	lastAccessed atomic.Int64

	mu          sync.Mutex
	replyFor    *ids.MailPath
	forwardsFor []ids.MailPath
	editFor     *ids.MailPath
	cleanup     []ids.MailPath
}

func newActiveSpace(id uuid.UUID, now time.Time) *ActiveSpace {
	s := &ActiveSpace{id: id}
	s.lastAccessed.Store(now.UnixNano())
	return s
}

// ID returns the composition space ID.
func (s *ActiveSpace) ID() uuid.UUID {
	return s.id
}

// Touch records an access at now.
func (s *ActiveSpace) Touch(now time.Time) {
	s.lastAccessed.Store(now.UnixNano())
}

// LastAccessed returns the time of the latest access.
func (s *ActiveSpace) LastAccessed() time.Time {
	return time.Unix(0, s.lastAccessed.Load())
}

// IdleFor returns how long the space has been unused at now.
func (s *ActiveSpace) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastAccessed())
}

// SetReferences records the messages the space was derived from.
func (s *ActiveSpace) SetReferences(meta message.Meta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replyFor = meta.ReplyFor
	s.forwardsFor = slices.Clone(meta.ForwardsFor)
	s.editFor = meta.EditFor
}

// References returns the reply, forward and edit references.
func (s *ActiveSpace) References() (replyFor *ids.MailPath, forwardsFor []ids.MailPath, editFor *ids.MailPath) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replyFor, slices.Clone(s.forwardsFor), s.editFor
}

// QueueCleanup adds messages to delete when the space is destroyed.
func (s *ActiveSpace) QueueCleanup(paths ...ids.MailPath) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanup = append(s.cleanup, paths...)
}

// PendingCleanup returns the queued messages without draining them.
func (s *ActiveSpace) PendingCleanup() []ids.MailPath {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.cleanup)
}

func (s *ActiveSpace) drainCleanup() []ids.MailPath {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := s.cleanup
	s.cleanup = nil
	return paths
}
