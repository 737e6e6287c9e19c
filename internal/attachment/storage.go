package attachment

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"
)

// Error types for storage operations.
var (
	ErrNotFound           = errors.New("attachment not found")
	ErrStorageUnavailable = errors.New("attachment storage unavailable")
	ErrLinkUnsupported    = errors.New("attachment storage cannot link existing content")
)

// Storage persists attachments. Every operation is scoped to an account.
type Storage interface {
	// Type returns the storage type tag written into storage references.
	Type() StorageType

	GetAttachment(ctx context.Context, accountID string, id uuid.UUID) (*Attachment, error)
	GetAttachmentsByCompositionSpace(ctx context.Context, accountID string, spaceID uuid.UUID) ([]Attachment, error)
	SaveAttachment(ctx context.Context, accountID string, data io.Reader, desc Description) (*Attachment, error)
	DeleteAttachment(ctx context.Context, accountID string, id uuid.UUID) error
	DeleteAttachments(ctx context.Context, accountID string, ids []uuid.UUID) error
	DeleteAttachmentsByCompositionSpace(ctx context.Context, accountID string, spaceID uuid.UUID) error
	GetSizeOfAttachmentsByCompositionSpace(ctx context.Context, accountID string, spaceID uuid.UUID) (*SizeReturner, error)

	// DeleteUnreferencedAttachments removes attachments whose composition
	// space is not in live and returns how many were removed.
	DeleteUnreferencedAttachments(ctx context.Context, accountID string, live map[uuid.UUID]bool) (int, error)
}

// Linker is implemented by storage that can record an attachment backed by
// content it does not own, such as an existing blob. ref names that content
// in the storage's own terms. desc.Size may be UnknownSize.
type Linker interface {
	LinkAttachment(ctx context.Context, accountID, ref string, desc Description) (*Attachment, error)
}
