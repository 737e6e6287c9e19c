package attachment

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStorage is an in-memory Storage for tests.
type memStorage struct {
	mu          sync.Mutex
	attachments map[uuid.UUID]Attachment
	content     map[uuid.UUID][]byte
	deleteErr   error
	deleted     []uuid.UUID
}

func newMemStorage() *memStorage {
	return &memStorage{
		attachments: make(map[uuid.UUID]Attachment),
		content:     make(map[uuid.UUID][]byte),
	}
}

func (m *memStorage) Type() StorageType { return StorageTypeDB }

func (m *memStorage) GetAttachment(ctx context.Context, accountID string, id uuid.UUID) (*Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attachments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (m *memStorage) GetAttachmentsByCompositionSpace(ctx context.Context, accountID string, spaceID uuid.UUID) ([]Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Attachment
	for _, a := range m.attachments {
		if a.CompositionSpaceID == spaceID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStorage) SaveAttachment(ctx context.Context, accountID string, data io.Reader, desc Description) (*Attachment, error) {
	b, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}
	desc = desc.Normalize()
	id := uuid.New()
	a := Attachment{
		ID:                 id,
		CompositionSpaceID: desc.CompositionSpaceID,
		Storage:            StorageReference{Identifier: id.String(), Type: StorageTypeDB},
		Name:               desc.Name,
		Size:               int64(len(b)),
		MimeType:           desc.MimeType,
		Disposition:        desc.Disposition,
		Origin:             desc.Origin,
		CreatedAt:          time.Now(),
		Data: DataProviderFunc(func(ctx context.Context) (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(b)), nil
		}),
	}
	m.mu.Lock()
	m.attachments[id] = a
	m.content[id] = b
	m.mu.Unlock()
	return &a, nil
}

func (m *memStorage) DeleteAttachment(ctx context.Context, accountID string, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, id)
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.attachments, id)
	delete(m.content, id)
	return nil
}

func (m *memStorage) DeleteAttachments(ctx context.Context, accountID string, ids []uuid.UUID) error {
	for _, id := range ids {
		if err := m.DeleteAttachment(ctx, accountID, id); err != nil {
			return err
		}
	}
	return nil
}

func (m *memStorage) DeleteAttachmentsByCompositionSpace(ctx context.Context, accountID string, spaceID uuid.UUID) error {
	list, _ := m.GetAttachmentsByCompositionSpace(ctx, accountID, spaceID)
	for _, a := range list {
		if err := m.DeleteAttachment(ctx, accountID, a.ID); err != nil {
			return err
		}
	}
	return nil
}

func (m *memStorage) GetSizeOfAttachmentsByCompositionSpace(ctx context.Context, accountID string, spaceID uuid.UUID) (*SizeReturner, error) {
	list, err := m.GetAttachmentsByCompositionSpace(ctx, accountID, spaceID)
	if err != nil {
		return nil, err
	}
	return SizeOf(list), nil
}

func (m *memStorage) DeleteUnreferencedAttachments(ctx context.Context, accountID string, live map[uuid.UUID]bool) (int, error) {
	m.mu.Lock()
	var stale []uuid.UUID
	for id, a := range m.attachments {
		if !live[a.CompositionSpaceID] {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()
	return len(stale), m.DeleteAttachments(ctx, accountID, stale)
}
