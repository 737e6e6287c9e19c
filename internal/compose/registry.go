package compose

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jarrod-lowe/jmap-service-libs/logging"

	"github.com/jarrod-lowe/jmap-service-compose/internal/mailaccess"
)

var logger = logging.New()

// DefaultIdleTimeout is how long an active space may go unused before the
// idle check destroys it.
const DefaultIdleTimeout = 10 * time.Minute

// Registry holds the active composition spaces of one session.
//
// A space moves from absent to active (MarkActive arms its idle check),
// optionally to inactive (MarkInactive cancels the check), and finally to
// destroyed, after which it is absent again.
type Registry struct {
	connector   mailaccess.Connector
	idleTimeout time.Duration
	now         func() time.Time
	scheduler   *IdleScheduler

	mu     sync.Mutex
	spaces map[uuid.UUID]*ActiveSpace
}

// RegistryOption configures a Registry.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	idleTimeout   time.Duration
	checkInterval time.Duration
	now           func() time.Time
}

// WithIdleTimeout sets the idle timeout.
func WithIdleTimeout(d time.Duration) RegistryOption {
	return func(c *registryConfig) { c.idleTimeout = d }
}

// WithCheckInterval sets the interval of the idle check.
func WithCheckInterval(d time.Duration) RegistryOption {
	return func(c *registryConfig) { c.checkInterval = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) RegistryOption {
	return func(c *registryConfig) { c.now = now }
}

// NewRegistry creates an empty registry. connector is used to delete the
// queued messages of destroyed spaces.
func NewRegistry(connector mailaccess.Connector, opts ...RegistryOption) *Registry {
	cfg := registryConfig{
		idleTimeout:   DefaultIdleTimeout,
		checkInterval: DefaultCheckInterval,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	r := &Registry{
		connector:   connector,
		idleTimeout: cfg.idleTimeout,
		now:         cfg.now,
		spaces:      make(map[uuid.UUID]*ActiveSpace),
	}
	r.scheduler = NewIdleScheduler(context.Background(), cfg.checkInterval, func(ctx context.Context, id uuid.UUID) bool {
		return r.CheckIdle(ctx, id, r.now())
	})
	return r
}

// Get returns the space for id, inserting a new one if absent. Concurrent
// callers for the same id all receive the same instance.
func (r *Registry) Get(id uuid.UUID) *ActiveSpace {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.spaces[id]; ok {
		return s
	}
	s := newActiveSpace(id, r.now())
	r.spaces[id] = s
	return s
}

// Lookup returns the space for id without creating it.
func (r *Registry) Lookup(id uuid.UUID) (*ActiveSpace, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.spaces[id]
	return s, ok
}

// Len returns the number of registered spaces.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.spaces)
}

// MarkActive touches the space and arms its idle check.
func (r *Registry) MarkActive(id uuid.UUID) *ActiveSpace {
	s := r.Get(id)
	s.Touch(r.now())
	r.scheduler.Schedule(id)
	return s
}

// MarkInactive cancels the idle check of the space. The space stays
// registered.
func (r *Registry) MarkInactive(id uuid.UUID) {
	r.scheduler.Cancel(id)
}

// IsActive reports whether the idle check of the space is armed.
func (r *Registry) IsActive(id uuid.UUID) bool {
	return r.scheduler.Scheduled(id)
}

// CheckIdle destroys the space when it has been idle longer than the idle
// timeout at now, and reports whether it did.
func (r *Registry) CheckIdle(ctx context.Context, id uuid.UUID, now time.Time) bool {
	s, ok := r.Lookup(id)
	if !ok {
		return true
	}
	if s.IdleFor(now) <= r.idleTimeout {
		return false
	}
	logger.InfoContext(ctx, "Destroying idle composition space",
		slog.String("space_id", id.String()),
		slog.Duration("idle", s.IdleFor(now)),
	)
	r.Destroy(ctx, id)
	return true
}

// Destroy removes the space, cancels its idle check and deletes its
// queued messages. Cleanup failures are logged, never returned. It
// reports whether the space was registered.
func (r *Registry) Destroy(ctx context.Context, id uuid.UUID) bool {
	r.mu.Lock()
	s, ok := r.spaces[id]
	delete(r.spaces, id)
	r.mu.Unlock()

	r.scheduler.Cancel(id)
	if !ok {
		return false
	}
	r.cleanup(ctx, s)
	return true
}

// Close destroys every space. It is called when the session ends.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	spaces := r.spaces
	r.spaces = make(map[uuid.UUID]*ActiveSpace)
	r.mu.Unlock()

	r.scheduler.CancelAll()
	for _, s := range spaces {
		r.cleanup(ctx, s)
	}
}
