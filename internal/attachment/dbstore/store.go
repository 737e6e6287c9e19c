// Package dbstore keeps attachments, content included, in a SQLite database.
package dbstore

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/jarrod-lowe/jmap-service-compose/internal/attachment"
)

// Store implements attachment.Storage on SQLite.
type Store struct {
	db *sqlx.DB
}

var _ attachment.Storage = (*Store)(nil)

// Open opens (or creates) the database at path and applies pending
// migrations. ":memory:" gives a private in-memory database.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount > 0 {
		if err := s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// Type implements attachment.Storage.
func (s *Store) Type() attachment.StorageType {
	return attachment.StorageTypeDB
}

// row mirrors compose_attachment without the content column.
type row struct {
	ID          string `db:"id"`
	AccountID   string `db:"account_id"`
	SpaceID     string `db:"space_id"`
	Name        string `db:"name"`
	Size        int64  `db:"size"`
	MimeType    string `db:"mime_type"`
	ContentID   string `db:"content_id"`
	Disposition string `db:"disposition"`
	Origin      string `db:"origin"`
	CreatedAt   int64  `db:"created_at"`
}

const selectColumns = `id, account_id, space_id, name, size, mime_type, content_id, disposition, origin, created_at`

func (s *Store) toAttachment(r row) (attachment.Attachment, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return attachment.Attachment{}, fmt.Errorf("parsing attachment id %q: %w", r.ID, err)
	}
	spaceID, err := uuid.Parse(r.SpaceID)
	if err != nil {
		return attachment.Attachment{}, fmt.Errorf("parsing space id %q: %w", r.SpaceID, err)
	}
	accountID := r.AccountID
	return attachment.Attachment{
		ID:                 id,
		CompositionSpaceID: spaceID,
		Storage:            attachment.StorageReference{Identifier: r.ID, Type: attachment.StorageTypeDB},
		Name:               r.Name,
		Size:               r.Size,
		MimeType:           r.MimeType,
		ContentID:          attachment.ContentID(r.ContentID),
		Disposition:        attachment.Disposition(r.Disposition),
		Origin:             attachment.Origin(r.Origin),
		CreatedAt:          time.UnixMilli(r.CreatedAt).UTC(),
		Data: attachment.DataProviderFunc(func(ctx context.Context) (io.ReadCloser, error) {
			return s.openContent(ctx, accountID, id)
		}),
	}, nil
}

func (s *Store) openContent(ctx context.Context, accountID string, id uuid.UUID) (io.ReadCloser, error) {
	var content []byte
	err := s.db.GetContext(ctx, &content,
		"SELECT content FROM compose_attachment WHERE account_id = ? AND id = ?",
		accountID, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, attachment.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading attachment content %s: %w", id, err)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

// GetAttachment implements attachment.Storage.
func (s *Store) GetAttachment(ctx context.Context, accountID string, id uuid.UUID) (*attachment.Attachment, error) {
	var r row
	err := s.db.GetContext(ctx, &r,
		"SELECT "+selectColumns+" FROM compose_attachment WHERE account_id = ? AND id = ?",
		accountID, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, attachment.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying attachment %s: %w", id, err)
	}
	a, err := s.toAttachment(r)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAttachmentsByCompositionSpace implements attachment.Storage.
func (s *Store) GetAttachmentsByCompositionSpace(ctx context.Context, accountID string, spaceID uuid.UUID) ([]attachment.Attachment, error) {
	var rows []row
	err := s.db.SelectContext(ctx, &rows,
		"SELECT "+selectColumns+" FROM compose_attachment WHERE account_id = ? AND space_id = ? ORDER BY created_at, id",
		accountID, spaceID.String())
	if err != nil {
		return nil, fmt.Errorf("querying attachments of space %s: %w", spaceID, err)
	}

	out := make([]attachment.Attachment, 0, len(rows))
	for _, r := range rows {
		a, err := s.toAttachment(r)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// SaveAttachment implements attachment.Storage. The content is read fully,
// so the stored size is always known.
func (s *Store) SaveAttachment(ctx context.Context, accountID string, data io.Reader, desc attachment.Description) (*attachment.Attachment, error) {
	desc = desc.Normalize()
	content, err := io.ReadAll(data)
	if err != nil {
		return nil, fmt.Errorf("reading attachment content: %w", err)
	}

	r := row{
		ID:          uuid.New().String(),
		AccountID:   accountID,
		SpaceID:     desc.CompositionSpaceID.String(),
		Name:        desc.Name,
		Size:        int64(len(content)),
		MimeType:    desc.MimeType,
		ContentID:   string(desc.ContentID),
		Disposition: string(desc.Disposition),
		Origin:      string(desc.Origin),
		CreatedAt:   time.Now().UnixMilli(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO compose_attachment (
			id, account_id, space_id, name, size, mime_type,
			content_id, disposition, origin, created_at, content
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.AccountID, r.SpaceID, r.Name, r.Size, r.MimeType,
		r.ContentID, r.Disposition, r.Origin, r.CreatedAt, content,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting attachment: %w", err)
	}

	a, err := s.toAttachment(r)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// DeleteAttachment implements attachment.Storage.
func (s *Store) DeleteAttachment(ctx context.Context, accountID string, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM compose_attachment WHERE account_id = ? AND id = ?",
		accountID, id.String())
	if err != nil {
		return fmt.Errorf("deleting attachment %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return attachment.ErrNotFound
	}
	return nil
}

// DeleteAttachments implements attachment.Storage. Unknown IDs are ignored.
func (s *Store) DeleteAttachments(ctx context.Context, accountID string, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}
	query, args, err := sqlx.In(
		"DELETE FROM compose_attachment WHERE account_id = ? AND id IN (?)",
		accountID, strIDs)
	if err != nil {
		return fmt.Errorf("building delete query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("deleting attachments: %w", err)
	}
	return nil
}

// DeleteAttachmentsByCompositionSpace implements attachment.Storage.
func (s *Store) DeleteAttachmentsByCompositionSpace(ctx context.Context, accountID string, spaceID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM compose_attachment WHERE account_id = ? AND space_id = ?",
		accountID, spaceID.String())
	if err != nil {
		return fmt.Errorf("deleting attachments of space %s: %w", spaceID, err)
	}
	return nil
}

// GetSizeOfAttachmentsByCompositionSpace implements attachment.Storage.
func (s *Store) GetSizeOfAttachmentsByCompositionSpace(ctx context.Context, accountID string, spaceID uuid.UUID) (*attachment.SizeReturner, error) {
	var total int64
	err := s.db.GetContext(ctx, &total,
		"SELECT COALESCE(SUM(size), 0) FROM compose_attachment WHERE account_id = ? AND space_id = ?",
		accountID, spaceID.String())
	if err != nil {
		return nil, fmt.Errorf("summing attachment sizes of space %s: %w", spaceID, err)
	}
	return attachment.NewSizeReturner(total, nil), nil
}

// DeleteUnreferencedAttachments implements attachment.Storage.
func (s *Store) DeleteUnreferencedAttachments(ctx context.Context, accountID string, live map[uuid.UUID]bool) (int, error) {
	var spaceIDs []string
	err := s.db.SelectContext(ctx, &spaceIDs,
		"SELECT DISTINCT space_id FROM compose_attachment WHERE account_id = ?", accountID)
	if err != nil {
		return 0, fmt.Errorf("listing attachment spaces: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	removed := 0
	for _, sid := range spaceIDs {
		if u, err := uuid.Parse(sid); err == nil && live[u] {
			continue
		}
		result, err := tx.ExecContext(ctx,
			"DELETE FROM compose_attachment WHERE account_id = ? AND space_id = ?", accountID, sid)
		if err != nil {
			return 0, fmt.Errorf("deleting attachments of space %s: %w", sid, err)
		}
		n, _ := result.RowsAffected()
		removed += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing: %w", err)
	}
	return removed, nil
}
