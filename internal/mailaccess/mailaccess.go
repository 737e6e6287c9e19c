// Package mailaccess reaches the user's mail accounts: deleting cleaned-up
// messages, fetching originals for replies and forwards, and storing
// drafts.
package mailaccess

import (
	"context"
	"errors"

	"github.com/jarrod-lowe/jmap-service-compose/internal/ids"
)

// Error types for mail access.
var (
	ErrMessageNotFound = errors.New("message not found")
	ErrFolderNotFound  = errors.New("folder not found")
	ErrUnknownAccount  = errors.New("unknown mail account")
)

// Connector opens connections to a user's mail accounts.
type Connector interface {
	Connect(ctx context.Context, mailAccountID int) (Connection, error)
}

// Connection is an open session with one mail account.
type Connection interface {
	// DeleteMessage permanently removes the message at path.
	DeleteMessage(ctx context.Context, path ids.MailPath) error
	// FetchRaw returns the full RFC 5322 source of the message at path.
	FetchRaw(ctx context.Context, path ids.MailPath) ([]byte, error)
	// AppendDraft stores raw in folder flagged as a draft and returns its path.
	AppendDraft(ctx context.Context, folder string, raw []byte) (ids.MailPath, error)
	// FolderExists reports whether folder exists.
	FolderExists(ctx context.Context, folder string) (bool, error)
	Close() error
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, mailAccountID int) (Connection, error)

// Connect calls f.
func (f ConnectorFunc) Connect(ctx context.Context, mailAccountID int) (Connection, error) {
	return f(ctx, mailAccountID)
}
