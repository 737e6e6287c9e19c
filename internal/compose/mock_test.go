package compose

import (
	"context"
	"errors"
	"sync"

	"github.com/jarrod-lowe/jmap-service-compose/internal/ids"
	"github.com/jarrod-lowe/jmap-service-compose/internal/mailaccess"
)

// mockConnection implements mailaccess.Connection for testing.
type mockConnection struct {
	accountID     int
	deleteFunc    func(ctx context.Context, path ids.MailPath) error
	fetchFunc     func(ctx context.Context, path ids.MailPath) ([]byte, error)
	appendFunc    func(ctx context.Context, folder string, raw []byte) (ids.MailPath, error)
	folderExists  func(ctx context.Context, folder string) (bool, error)
	mu            sync.Mutex
	deleted       []ids.MailPath
	closed        bool
	closeErr      error
	deleteAttempt int
}

func (m *mockConnection) DeleteMessage(ctx context.Context, path ids.MailPath) error {
	m.mu.Lock()
	m.deleteAttempt++
	m.mu.Unlock()
	if m.deleteFunc != nil {
		if err := m.deleteFunc(ctx, path); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.deleted = append(m.deleted, path)
	m.mu.Unlock()
	return nil
}

func (m *mockConnection) FetchRaw(ctx context.Context, path ids.MailPath) ([]byte, error) {
	if m.fetchFunc != nil {
		return m.fetchFunc(ctx, path)
	}
	return nil, mailaccess.ErrMessageNotFound
}

func (m *mockConnection) AppendDraft(ctx context.Context, folder string, raw []byte) (ids.MailPath, error) {
	if m.appendFunc != nil {
		return m.appendFunc(ctx, folder, raw)
	}
	return ids.MailPath{AccountID: m.accountID, Folder: folder, MailID: "1"}, nil
}

func (m *mockConnection) FolderExists(ctx context.Context, folder string) (bool, error) {
	if m.folderExists != nil {
		return m.folderExists(ctx, folder)
	}
	return true, nil
}

func (m *mockConnection) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.closeErr
}

// mockConnector hands out one mockConnection per Connect call.
type mockConnector struct {
	mu          sync.Mutex
	connectFunc func(ctx context.Context, mailAccountID int) (*mockConnection, error)
	opened      []*mockConnection
}

func (m *mockConnector) Connect(ctx context.Context, mailAccountID int) (mailaccess.Connection, error) {
	var conn *mockConnection
	if m.connectFunc != nil {
		c, err := m.connectFunc(ctx, mailAccountID)
		if err != nil {
			return nil, err
		}
		conn = c
	} else {
		conn = &mockConnection{accountID: mailAccountID}
	}
	m.mu.Lock()
	m.opened = append(m.opened, conn)
	m.mu.Unlock()
	return conn, nil
}

func (m *mockConnector) connections() []*mockConnection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*mockConnection(nil), m.opened...)
}

var errDeleteFailed = errors.New("delete failed")
