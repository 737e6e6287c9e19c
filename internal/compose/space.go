// Package compose manages composition spaces: server-side drafts that live
// from opening until they are sent, saved or closed.
package compose

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jarrod-lowe/jmap-service-compose/internal/ids"
	"github.com/jarrod-lowe/jmap-service-compose/internal/message"
)

// ServiceID qualifies the identifiers handed out by this service.
const ServiceID = ids.DefaultServiceID

// Space is a stored composition space.
type Space struct {
	ID           uuid.UUID
	AccountID    string
	ClientToken  ids.ClientToken
	Message      message.Message
	CreatedAt    time.Time
	LastModified int64 // milliseconds since epoch
}

// PublicID is the encoded identifier of the space.
func (s *Space) PublicID() ids.CompositionSpaceID {
	return ids.CompositionSpaceID{ID: ids.New(ServiceID, s.ID)}
}

// SpaceUpdate changes a stored space. A non-zero LastModified must match
// the stored value or the update fails with a concurrent update error.
type SpaceUpdate struct {
	ID           uuid.UUID
	Description  message.Description
	ClientToken  *ids.ClientToken
	LastModified int64
}

// StorageService persists composition spaces. Implementations report
// missing spaces with composeerr.NoSuchCompositionSpace, lost updates with
// composeerr.ConcurrentUpdate and a full account with
// composeerr.MaxSpacesReached.
type StorageService interface {
	OpenCompositionSpace(ctx context.Context, accountID string, space Space) (*Space, error)
	GetCompositionSpace(ctx context.Context, accountID string, id uuid.UUID) (*Space, error)
	GetCompositionSpaces(ctx context.Context, accountID string) ([]Space, error)
	UpdateCompositionSpace(ctx context.Context, accountID string, update SpaceUpdate) (*Space, error)
	// CloseCompositionSpace deletes a space and reports whether it existed.
	CloseCompositionSpace(ctx context.Context, accountID string, id uuid.UUID) (bool, error)
	// DeleteExpiredCompositionSpaces deletes spaces not modified within
	// maxIdle and returns their IDs.
	DeleteExpiredCompositionSpaces(ctx context.Context, accountID string, maxIdle time.Duration) ([]uuid.UUID, error)
}
