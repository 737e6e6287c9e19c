package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/jarrod-lowe/jmap-service-compose/internal/composeerr"
)

func TestSave_WithinQuota(t *testing.T) {
	store := newMemStorage()
	spaceID := uuid.New()

	a, err := Save(context.Background(), store, "acc-1", strings.NewReader("hello"),
		Description{CompositionSpaceID: spaceID, Name: "a.txt"}, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Size != 5 {
		t.Errorf("Size = %d, want 5", a.Size)
	}
	if _, err := store.GetAttachment(context.Background(), "acc-1", a.ID); err != nil {
		t.Errorf("saved attachment not found: %v", err)
	}
}

func TestSave_OverQuotaCompensates(t *testing.T) {
	store := newMemStorage()
	spaceID := uuid.New()
	ctx := context.Background()

	if _, err := Save(ctx, store, "acc-1", strings.NewReader(strings.Repeat("x", 60)),
		Description{CompositionSpaceID: spaceID, Name: "first.bin"}, 100); err != nil {
		t.Fatalf("first save: %v", err)
	}

	_, err := Save(ctx, store, "acc-1", strings.NewReader(strings.Repeat("y", 60)),
		Description{CompositionSpaceID: spaceID, Name: "second.bin"}, 100)
	if !errors.Is(err, composeerr.MaxMessageSizeExceeded) {
		t.Fatalf("error = %v, want MaxMessageSizeExceeded", err)
	}

	if len(store.deleted) != 1 {
		t.Fatalf("deleted = %d attachments, want 1", len(store.deleted))
	}
	if _, err := store.GetAttachment(ctx, "acc-1", store.deleted[0]); !errors.Is(err, ErrNotFound) {
		t.Errorf("lookup after compensation = %v, want ErrNotFound", err)
	}
	remaining, _ := store.GetAttachmentsByCompositionSpace(ctx, "acc-1", spaceID)
	if len(remaining) != 1 || remaining[0].Name != "first.bin" {
		t.Errorf("remaining = %+v, want only first.bin", remaining)
	}
}

func TestSave_NoLimit(t *testing.T) {
	store := newMemStorage()
	_, err := Save(context.Background(), store, "acc-1", strings.NewReader(strings.Repeat("z", 1000)),
		Description{CompositionSpaceID: uuid.New()}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSave_CompensationFailureStillReportsQuota(t *testing.T) {
	store := newMemStorage()
	store.deleteErr = errors.New("delete failed")
	spaceID := uuid.New()

	if _, err := Save(context.Background(), store, "acc-1", strings.NewReader("ab"),
		Description{CompositionSpaceID: spaceID}, 3); err != nil {
		t.Fatalf("first save: %v", err)
	}
	_, err := Save(context.Background(), store, "acc-1", strings.NewReader("cd"),
		Description{CompositionSpaceID: spaceID}, 3)
	if !errors.Is(err, composeerr.MaxMessageSizeExceeded) {
		t.Fatalf("error = %v, want MaxMessageSizeExceeded", err)
	}
}

// endless yields 'x' forever and counts what was read.
type endless struct {
	read int64
}

func (e *endless) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'x'
	}
	e.read += int64(len(p))
	return len(p), nil
}

func TestSave_StopsReadingPastLimit(t *testing.T) {
	store := newMemStorage()
	src := &endless{}

	_, err := Save(context.Background(), store, "acc-1", src,
		Description{CompositionSpaceID: uuid.New(), Size: UnknownSize}, 1024)
	if !errors.Is(err, composeerr.MaxMessageSizeExceeded) {
		t.Fatalf("error = %v, want MaxMessageSizeExceeded", err)
	}
	if src.read > 1025 {
		t.Errorf("read %d bytes, want at most 1025", src.read)
	}
	if len(store.attachments) != 0 {
		t.Errorf("stored %d attachments, want 0", len(store.attachments))
	}
}

func TestSave_DeclaredSizeOverLimit(t *testing.T) {
	store := newMemStorage()
	src := &endless{}

	_, err := Save(context.Background(), store, "acc-1", src,
		Description{CompositionSpaceID: uuid.New(), Size: 5000}, 1024)
	if !errors.Is(err, composeerr.MaxMessageSizeExceeded) {
		t.Fatalf("error = %v, want MaxMessageSizeExceeded", err)
	}
	if src.read != 0 {
		t.Errorf("read %d bytes, want 0", src.read)
	}
}

func TestSave_RequestBodyLimitIsQuotaError(t *testing.T) {
	store := newMemStorage()
	body := http.MaxBytesReader(httptest.NewRecorder(), io.NopCloser(strings.NewReader("0123456789")), 4)

	_, err := Save(context.Background(), store, "acc-1", body,
		Description{CompositionSpaceID: uuid.New()}, 100)
	if !errors.Is(err, composeerr.MaxMessageSizeExceeded) {
		t.Fatalf("error = %v, want MaxMessageSizeExceeded", err)
	}
}

// linkingStorage is a memStorage whose linked attachments have unknown
// size and read their content from blobs.
type linkingStorage struct {
	*memStorage
	blobs map[string]string
}

func (l *linkingStorage) LinkAttachment(ctx context.Context, accountID, ref string, desc Description) (*Attachment, error) {
	desc = desc.Normalize()
	a := Attachment{
		ID:                 uuid.New(),
		CompositionSpaceID: desc.CompositionSpaceID,
		Name:               desc.Name,
		Size:               desc.Size,
		Data: DataProviderFunc(func(context.Context) (io.ReadCloser, error) {
			content, ok := l.blobs[ref]
			if !ok {
				return nil, ErrNotFound
			}
			return io.NopCloser(strings.NewReader(content)), nil
		}),
	}
	l.mu.Lock()
	l.attachments[a.ID] = a
	l.mu.Unlock()
	return &a, nil
}

func TestLink(t *testing.T) {
	tests := []struct {
		name    string
		ref     string
		wantErr error
	}{
		{name: "within quota", ref: "small"},
		{name: "over quota", ref: "large", wantErr: composeerr.MaxMessageSizeExceeded},
		{name: "missing blob", ref: "gone", wantErr: ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &linkingStorage{
				memStorage: newMemStorage(),
				blobs:      map[string]string{"small": "abc", "large": strings.Repeat("x", 200)},
			}
			spaceID := uuid.New()

			a, err := Link(context.Background(), store, "acc-1", tt.ref,
				Description{CompositionSpaceID: spaceID, Size: UnknownSize}, 100)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				if len(store.attachments) != 0 {
					t.Errorf("stored %d attachments, want 0", len(store.attachments))
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if a.SizeKnown() {
				t.Errorf("size = %d, want unknown", a.Size)
			}
		})
	}
}

func TestLink_Unsupported(t *testing.T) {
	_, err := Link(context.Background(), newMemStorage(), "acc-1", "blob", Description{}, 100)
	if !errors.Is(err, ErrLinkUnsupported) {
		t.Fatalf("error = %v, want ErrLinkUnsupported", err)
	}
}

// opaqueStorage flattens save errors the way an upload client does.
type opaqueStorage struct {
	*memStorage
}

func (o *opaqueStorage) SaveAttachment(ctx context.Context, accountID string, data io.Reader, desc Description) (*Attachment, error) {
	a, err := o.memStorage.SaveAttachment(ctx, accountID, data, desc)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %v", err)
	}
	return a, nil
}

func TestSave_LimitDetectedThroughFlattenedError(t *testing.T) {
	store := &opaqueStorage{memStorage: newMemStorage()}

	_, err := Save(context.Background(), store, "acc-1", &endless{},
		Description{CompositionSpaceID: uuid.New(), Size: UnknownSize}, 64)
	if !errors.Is(err, composeerr.MaxMessageSizeExceeded) {
		t.Fatalf("error = %v, want MaxMessageSizeExceeded", err)
	}
}
