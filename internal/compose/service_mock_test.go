package compose

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jarrod-lowe/jmap-service-compose/internal/attachment"
	"github.com/jarrod-lowe/jmap-service-compose/internal/composeerr"
	"github.com/jarrod-lowe/jmap-service-compose/internal/message"
	"github.com/jarrod-lowe/jmap-service-compose/internal/transport"
)

// memSpaces is an in-memory StorageService.
type memSpaces struct {
	mu         sync.Mutex
	spaces     map[uuid.UUID]Space
	openErr    error
	updates    int
	clock      int64
	beforeOpen func()
}

func newMemSpaces() *memSpaces {
	return &memSpaces{spaces: make(map[uuid.UUID]Space)}
}

func (m *memSpaces) tick() int64 {
	m.clock++
	return m.clock
}

func (m *memSpaces) OpenCompositionSpace(ctx context.Context, accountID string, space Space) (*Space, error) {
	if m.beforeOpen != nil {
		m.beforeOpen()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return nil, m.openErr
	}
	space.AccountID = accountID
	space.LastModified = m.tick()
	m.spaces[space.ID] = space
	return &space, nil
}

func (m *memSpaces) GetCompositionSpace(ctx context.Context, accountID string, id uuid.UUID) (*Space, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.spaces[id]
	if !ok || s.AccountID != accountID {
		return nil, composeerr.NoSuchCompositionSpace.New(id.String())
	}
	return &s, nil
}

func (m *memSpaces) GetCompositionSpaces(ctx context.Context, accountID string) ([]Space, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Space
	for _, s := range m.spaces {
		if s.AccountID == accountID {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b Space) int { return int(a.LastModified - b.LastModified) })
	return out, nil
}

func (m *memSpaces) UpdateCompositionSpace(ctx context.Context, accountID string, update SpaceUpdate) (*Space, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.spaces[update.ID]
	if !ok || s.AccountID != accountID {
		return nil, composeerr.NoSuchCompositionSpace.New(update.ID.String())
	}
	if update.LastModified != 0 && update.LastModified != s.LastModified {
		return nil, composeerr.ConcurrentUpdate.New(update.ID.String())
	}
	m.updates++
	s.Message = message.Apply(s.Message, update.Description)
	if update.ClientToken != nil {
		s.ClientToken = *update.ClientToken
	}
	s.LastModified = m.tick()
	m.spaces[update.ID] = s
	return &s, nil
}

func (m *memSpaces) CloseCompositionSpace(ctx context.Context, accountID string, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.spaces[id]
	if !ok || s.AccountID != accountID {
		return false, nil
	}
	delete(m.spaces, id)
	return true, nil
}

func (m *memSpaces) DeleteExpiredCompositionSpaces(ctx context.Context, accountID string, maxIdle time.Duration) ([]uuid.UUID, error) {
	return nil, nil
}

func (m *memSpaces) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.spaces)
}

// memAttachments is an in-memory attachment.Storage that keeps insertion
// order.
type memAttachments struct {
	mu      sync.Mutex
	items   []attachment.Attachment
	saveErr error
}

func (m *memAttachments) Type() attachment.StorageType { return attachment.StorageTypeDB }

func (m *memAttachments) GetAttachment(ctx context.Context, accountID string, id uuid.UUID) (*attachment.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.items {
		if a.ID == id {
			return &a, nil
		}
	}
	return nil, attachment.ErrNotFound
}

func (m *memAttachments) GetAttachmentsByCompositionSpace(ctx context.Context, accountID string, spaceID uuid.UUID) ([]attachment.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []attachment.Attachment
	for _, a := range m.items {
		if a.CompositionSpaceID == spaceID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memAttachments) SaveAttachment(ctx context.Context, accountID string, data io.Reader, desc attachment.Description) (*attachment.Attachment, error) {
	if m.saveErr != nil {
		return nil, m.saveErr
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}
	desc = desc.Normalize()
	a := attachment.Attachment{
		ID:                 uuid.New(),
		CompositionSpaceID: desc.CompositionSpaceID,
		Name:               desc.Name,
		Size:               int64(len(b)),
		MimeType:           desc.MimeType,
		ContentID:          desc.ContentID,
		Disposition:        desc.Disposition,
		Origin:             desc.Origin,
		Data: attachment.DataProviderFunc(func(ctx context.Context) (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(b)), nil
		}),
	}
	m.mu.Lock()
	m.items = append(m.items, a)
	m.mu.Unlock()
	return &a, nil
}

func (m *memAttachments) DeleteAttachment(ctx context.Context, accountID string, id uuid.UUID) error {
	return m.DeleteAttachments(ctx, accountID, []uuid.UUID{id})
}

func (m *memAttachments) DeleteAttachments(ctx context.Context, accountID string, ids []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = slices.DeleteFunc(m.items, func(a attachment.Attachment) bool {
		return slices.Contains(ids, a.ID)
	})
	return nil
}

func (m *memAttachments) DeleteAttachmentsByCompositionSpace(ctx context.Context, accountID string, spaceID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = slices.DeleteFunc(m.items, func(a attachment.Attachment) bool {
		return a.CompositionSpaceID == spaceID
	})
	return nil
}

func (m *memAttachments) GetSizeOfAttachmentsByCompositionSpace(ctx context.Context, accountID string, spaceID uuid.UUID) (*attachment.SizeReturner, error) {
	list, err := m.GetAttachmentsByCompositionSpace(ctx, accountID, spaceID)
	if err != nil {
		return nil, err
	}
	return attachment.SizeOf(list), nil
}

func (m *memAttachments) DeleteUnreferencedAttachments(ctx context.Context, accountID string, live map[uuid.UUID]bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	before := len(m.items)
	m.items = slices.DeleteFunc(m.items, func(a attachment.Attachment) bool {
		return !live[a.CompositionSpaceID]
	})
	return before - len(m.items), nil
}

func (m *memAttachments) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// mockSender records sent messages.
type mockSender struct {
	mu       sync.Mutex
	sendFunc func(ctx context.Context, built *transport.Built) error
	sent     []*transport.Built
}

func (m *mockSender) Send(ctx context.Context, built *transport.Built) error {
	if m.sendFunc != nil {
		if err := m.sendFunc(ctx, built); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.sent = append(m.sent, built)
	m.mu.Unlock()
	return nil
}

// mockKeyChecker implements KeyChecker.
type mockKeyChecker struct {
	checkFunc func(ctx context.Context, accountID string, security message.Security, recipients []message.Address) error
}

func (m *mockKeyChecker) CheckKeys(ctx context.Context, accountID string, security message.Security, recipients []message.Address) error {
	if m.checkFunc != nil {
		return m.checkFunc(ctx, accountID, security, recipients)
	}
	return nil
}

var (
	errSendFailed = errors.New("send failed")
	errSaveFailed = errors.New("save failed")
)

// linkingAttachments adds blob linking to memAttachments. Linked attachments
// have an unknown size and read their content from blobs.
type linkingAttachments struct {
	*memAttachments
	blobs map[string]string
}

func (m *linkingAttachments) LinkAttachment(ctx context.Context, accountID, ref string, desc attachment.Description) (*attachment.Attachment, error) {
	desc = desc.Normalize()
	a := attachment.Attachment{
		ID:                 uuid.New(),
		CompositionSpaceID: desc.CompositionSpaceID,
		Name:               desc.Name,
		Size:               attachment.UnknownSize,
		MimeType:           desc.MimeType,
		Disposition:        desc.Disposition,
		Origin:             desc.Origin,
		Data: attachment.DataProviderFunc(func(ctx context.Context) (io.ReadCloser, error) {
			content, ok := m.blobs[ref]
			if !ok {
				return nil, attachment.ErrNotFound
			}
			return io.NopCloser(bytes.NewReader([]byte(content))), nil
		}),
	}
	m.mu.Lock()
	m.items = append(m.items, a)
	m.mu.Unlock()
	return &a, nil
}
