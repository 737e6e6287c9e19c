package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jarrod-lowe/jmap-service-compose/internal/attachment"
	"github.com/jarrod-lowe/jmap-service-compose/internal/compose"
	"github.com/jarrod-lowe/jmap-service-compose/internal/ids"
	"github.com/jarrod-lowe/jmap-service-compose/internal/mailaccess"
)

// mockStore implements compose.StorageService; only the calls made by
// Manager do anything.
type mockStore struct {
	compose.StorageService
	deleteExpiredFunc func(ctx context.Context, accountID string, maxIdle time.Duration) ([]uuid.UUID, error)
	listFunc          func(ctx context.Context, accountID string) ([]compose.Space, error)
}

func (m *mockStore) DeleteExpiredCompositionSpaces(ctx context.Context, accountID string, maxIdle time.Duration) ([]uuid.UUID, error) {
	if m.deleteExpiredFunc != nil {
		return m.deleteExpiredFunc(ctx, accountID, maxIdle)
	}
	return nil, nil
}

func (m *mockStore) GetCompositionSpaces(ctx context.Context, accountID string) ([]compose.Space, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, accountID)
	}
	return nil, nil
}

// mockStorage implements attachment.Storage; only unreferenced cleanup is
// used.
type mockStorage struct {
	attachment.Storage
	unreferencedFunc func(ctx context.Context, accountID string, live map[uuid.UUID]bool) (int, error)
}

func (m *mockStorage) DeleteUnreferencedAttachments(ctx context.Context, accountID string, live map[uuid.UUID]bool) (int, error) {
	if m.unreferencedFunc != nil {
		return m.unreferencedFunc(ctx, accountID, live)
	}
	return 0, nil
}

type recordingConnector struct {
	mu      sync.Mutex
	deleted []ids.MailPath
}

func (c *recordingConnector) Connect(ctx context.Context, mailAccountID int) (mailaccess.Connection, error) {
	return &recordingConnection{connector: c}, nil
}

type recordingConnection struct {
	mailaccess.Connection
	connector *recordingConnector
}

func (c *recordingConnection) DeleteMessage(ctx context.Context, path ids.MailPath) error {
	c.connector.mu.Lock()
	defer c.connector.mu.Unlock()
	c.connector.deleted = append(c.connector.deleted, path)
	return nil
}

func (c *recordingConnection) Close() error { return nil }

func newTestManager(store *mockStore, storage *mockStorage, connector mailaccess.Connector) *Manager {
	return NewManager(store, &attachment.CapabilityResolver{Default: storage}, connector, Config{
		Timeout: 30 * time.Minute,
	})
}

func TestManager_StartCleansUpAccount(t *testing.T) {
	live := uuid.New()
	var gotMaxIdle time.Duration
	var gotLive map[uuid.UUID]bool
	store := &mockStore{
		deleteExpiredFunc: func(ctx context.Context, accountID string, maxIdle time.Duration) ([]uuid.UUID, error) {
			gotMaxIdle = maxIdle
			return []uuid.UUID{uuid.New()}, nil
		},
		listFunc: func(ctx context.Context, accountID string) ([]compose.Space, error) {
			return []compose.Space{{ID: live, AccountID: accountID}}, nil
		},
	}
	storage := &mockStorage{
		unreferencedFunc: func(ctx context.Context, accountID string, l map[uuid.UUID]bool) (int, error) {
			gotLive = l
			return 2, nil
		},
	}
	m := newTestManager(store, storage, &recordingConnector{})

	sess := m.Start(context.Background(), "account-1")
	defer m.Close(context.Background())

	if sess.AccountID != "account-1" || sess.ID == "" {
		t.Errorf("session = %+v", sess)
	}
	if gotMaxIdle != DefaultSpaceMaxIdle {
		t.Errorf("maxIdle = %v, want %v", gotMaxIdle, DefaultSpaceMaxIdle)
	}
	if len(gotLive) != 1 || !gotLive[live] {
		t.Errorf("live set = %v, want only %s", gotLive, live)
	}
}

func TestManager_StartToleratesCleanupFailures(t *testing.T) {
	listed := false
	store := &mockStore{
		deleteExpiredFunc: func(ctx context.Context, accountID string, maxIdle time.Duration) ([]uuid.UUID, error) {
			return nil, errors.New("table unavailable")
		},
		listFunc: func(ctx context.Context, accountID string) ([]compose.Space, error) {
			listed = true
			return nil, errors.New("table unavailable")
		},
	}
	storage := &mockStorage{
		unreferencedFunc: func(ctx context.Context, accountID string, live map[uuid.UUID]bool) (int, error) {
			t.Error("unreferenced cleanup must not run without the live set")
			return 0, nil
		},
	}
	m := newTestManager(store, storage, &recordingConnector{})

	sess := m.Start(context.Background(), "account-1")
	defer m.Close(context.Background())

	if !listed {
		t.Error("expected spaces to be listed after the expiry failure")
	}
	if _, err := m.Get(sess.ID); err != nil {
		t.Errorf("Get failed: %v", err)
	}
}

func TestManager_GetAndEnd(t *testing.T) {
	m := newTestManager(&mockStore{}, &mockStorage{}, &recordingConnector{})
	sess := m.Start(context.Background(), "account-1")

	got, err := m.Get(sess.ID)
	if err != nil || got != sess {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if err := m.End(context.Background(), sess.ID); err != nil {
		t.Fatalf("End failed: %v", err)
	}
	if _, err := m.Get(sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after End: %v, want ErrNotFound", err)
	}
	if err := m.End(context.Background(), sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second End: %v, want ErrNotFound", err)
	}
}

func TestManager_EndRunsSpaceCleanup(t *testing.T) {
	connector := &recordingConnector{}
	m := newTestManager(&mockStore{}, &mockStorage{}, connector)
	sess := m.Start(context.Background(), "account-1")

	path := ids.MailPath{AccountID: 1, Folder: "Drafts", MailID: "9"}
	sess.Registry.MarkActive(uuid.New()).QueueCleanup(path)

	if err := m.End(context.Background(), sess.ID); err != nil {
		t.Fatalf("End failed: %v", err)
	}
	if len(connector.deleted) != 1 || connector.deleted[0] != path {
		t.Errorf("deleted = %v, want [%v]", connector.deleted, path)
	}
	if sess.Registry.Len() != 0 {
		t.Error("expected registry to be emptied")
	}
}

func TestManager_Sweep(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m := newTestManager(&mockStore{}, &mockStorage{}, &recordingConnector{})
	m.now = func() time.Time { return now }

	idle := m.Start(context.Background(), "account-1")
	now = now.Add(20 * time.Minute)
	busy := m.Start(context.Background(), "account-2")
	now = now.Add(11 * time.Minute)

	if n := m.Sweep(context.Background()); n != 1 {
		t.Fatalf("swept %d sessions, want 1", n)
	}
	if _, err := m.Get(idle.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("idle session still present: %v", err)
	}
	if _, err := m.Get(busy.ID); err != nil {
		t.Errorf("busy session gone: %v", err)
	}
	m.Close(context.Background())
}

func TestManager_RunEndsSessionsOnCancel(t *testing.T) {
	m := newTestManager(&mockStore{}, &mockStorage{}, &recordingConnector{})
	m.Start(context.Background(), "account-1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, time.Hour)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if m.Len() != 0 {
		t.Errorf("sessions = %d, want 0", m.Len())
	}
}
