// Package session tracks logged-in sessions. Each session owns the
// registry of composition spaces in use during it.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jarrod-lowe/jmap-service-libs/logging"

	"github.com/jarrod-lowe/jmap-service-compose/internal/attachment"
	"github.com/jarrod-lowe/jmap-service-compose/internal/compose"
	"github.com/jarrod-lowe/jmap-service-compose/internal/ids"
	"github.com/jarrod-lowe/jmap-service-compose/internal/mailaccess"
)

var logger = logging.New()

// ErrNotFound is returned for unknown or ended sessions.
var ErrNotFound = errors.New("session not found")

// Defaults for Config fields left zero.
const (
	DefaultTimeout       = 30 * time.Minute
	DefaultSweepInterval = time.Minute
	DefaultSpaceMaxIdle  = 7 * 24 * time.Hour
)

// Config tunes session handling.
type Config struct {
	// Timeout ends sessions unused for longer.
	Timeout time.Duration
	// SpaceMaxIdle expires stored composition spaces not modified for
	// longer. It is applied when a session starts.
	SpaceMaxIdle     time.Duration
	RegistryOptions  []compose.RegistryOption
	SpaceIdleTimeout time.Duration
	SpaceCheckEvery  time.Duration
}

type entry struct {
	sess     *compose.Session
	lastUsed atomic.Int64
}

// Manager owns the live sessions.
type Manager struct {
	store       compose.StorageService
	attachments attachment.Resolver
	connector   mailaccess.Connector
	cfg         Config
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewManager creates a Manager.
func NewManager(store compose.StorageService, attachments attachment.Resolver, connector mailaccess.Connector, cfg Config) *Manager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.SpaceMaxIdle <= 0 {
		cfg.SpaceMaxIdle = DefaultSpaceMaxIdle
	}
	return &Manager{
		store:       store,
		attachments: attachments,
		connector:   connector,
		cfg:         cfg,
		now:         time.Now,
		sessions:    make(map[string]*entry),
	}
}

func (m *Manager) registryOptions() []compose.RegistryOption {
	opts := append([]compose.RegistryOption{}, m.cfg.RegistryOptions...)
	if m.cfg.SpaceIdleTimeout > 0 {
		opts = append(opts, compose.WithIdleTimeout(m.cfg.SpaceIdleTimeout))
	}
	if m.cfg.SpaceCheckEvery > 0 {
		opts = append(opts, compose.WithCheckInterval(m.cfg.SpaceCheckEvery))
	}
	return opts
}

// Start opens a session for accountID. Stale composition spaces of the
// account and attachments nothing refers to are removed first; failures
// there are logged and do not stop the session from starting.
func (m *Manager) Start(ctx context.Context, accountID string) *compose.Session {
	m.expire(ctx, accountID)

	id := ids.UnformattedString(uuid.New())
	e := &entry{sess: compose.NewSession(id, accountID, m.connector, m.registryOptions()...)}
	e.lastUsed.Store(m.now().UnixNano())

	m.mu.Lock()
	m.sessions[id] = e
	m.mu.Unlock()

	logger.InfoContext(ctx, "Session started",
		slog.String("account_id", accountID),
		slog.String("session_id", id),
	)
	return e.sess
}

func (m *Manager) expire(ctx context.Context, accountID string) {
	expired, err := m.store.DeleteExpiredCompositionSpaces(ctx, accountID, m.cfg.SpaceMaxIdle)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to delete expired composition spaces",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()),
		)
	} else if len(expired) > 0 {
		logger.InfoContext(ctx, "Deleted expired composition spaces",
			slog.String("account_id", accountID),
			slog.Int("count", len(expired)),
		)
	}

	spaces, err := m.store.GetCompositionSpaces(ctx, accountID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to list composition spaces",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()),
		)
		return
	}
	live := make(map[uuid.UUID]bool, len(spaces))
	for _, s := range spaces {
		live[s.ID] = true
	}

	storage, err := m.attachments.StorageFor(ctx, accountID)
	if err != nil {
		logger.ErrorContext(ctx, "No attachment storage for account",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()),
		)
		return
	}
	n, err := storage.DeleteUnreferencedAttachments(ctx, accountID, live)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to delete unreferenced attachments",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()),
		)
		return
	}
	if n > 0 {
		logger.InfoContext(ctx, "Deleted unreferenced attachments",
			slog.String("account_id", accountID),
			slog.Int("count", n),
		)
	}
}

// Get returns the session and records its use.
func (m *Manager) Get(id string) (*compose.Session, error) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	e.lastUsed.Store(m.now().UnixNano())
	return e.sess, nil
}

// End closes the session and destroys its composition space state.
func (m *Manager) End(ctx context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	e.sess.Registry.Close(ctx)
	logger.InfoContext(ctx, "Session ended",
		slog.String("account_id", e.sess.AccountID),
		slog.String("session_id", id),
	)
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep ends every session unused for longer than the timeout and
// returns how many it ended.
func (m *Manager) Sweep(ctx context.Context) int {
	cutoff := m.now().Add(-m.cfg.Timeout).UnixNano()

	m.mu.Lock()
	var stale []string
	for id, e := range m.sessions {
		if e.lastUsed.Load() < cutoff {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	ended := 0
	for _, id := range stale {
		if m.End(ctx, id) == nil {
			ended++
		}
	}
	return ended
}

// Run sweeps every interval until ctx is done, then ends all sessions.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Close(context.WithoutCancel(ctx))
			return
		case <-t.C:
			if n := m.Sweep(ctx); n > 0 {
				logger.InfoContext(ctx, "Ended idle sessions", slog.Int("count", n))
			}
		}
	}
}

// Close ends every session.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	all := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		all = append(all, id)
	}
	m.mu.Unlock()
	for _, id := range all {
		m.End(ctx, id)
	}
}
