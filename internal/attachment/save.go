package attachment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/jarrod-lowe/jmap-service-libs/logging"

	"github.com/jarrod-lowe/jmap-service-compose/internal/composeerr"
)

var logger = logging.New()

// errContentTooLarge is returned by a boundedReader once its content runs
// past the limit.
var errContentTooLarge = errors.New("attachment content exceeds limit")

// Save stores an attachment and then enforces maxMailSize (ignored when not
// positive) against the composition space's new total. When the total is
// over the limit the attachment just saved is deleted again before
// MaxMessageSizeExceeded is returned. Content longer than maxMailSize is
// never read past the limit.
func Save(ctx context.Context, storage Storage, accountID string, data io.Reader, desc Description, maxMailSize int64) (*Attachment, error) {
	bounded := &boundedReader{r: data, n: maxMailSize}
	if maxMailSize > 0 {
		if desc.Size > maxMailSize {
			return nil, composeerr.MaxMessageSizeExceeded.New(maxMailSize)
		}
		data = bounded
	}
	saved, err := storage.SaveAttachment(ctx, accountID, data, desc)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if bounded.overflow != nil || errors.As(err, &tooLarge) {
			return nil, composeerr.MaxMessageSizeExceeded.Wrap(err, maxMailSize)
		}
		return nil, err
	}
	if maxMailSize <= 0 {
		return saved, nil
	}
	return enforceQuota(ctx, storage, accountID, saved, maxMailSize)
}

// Link records an attachment backed by existing content named by ref and
// enforces maxMailSize like Save. Content of unknown size is read to learn
// the space's total, so a missing ref fails with ErrNotFound here rather
// than at transport. Storage that is not a Linker yields
// ErrLinkUnsupported.
func Link(ctx context.Context, storage Storage, accountID, ref string, desc Description, maxMailSize int64) (*Attachment, error) {
	linker, ok := storage.(Linker)
	if !ok {
		return nil, ErrLinkUnsupported
	}
	if maxMailSize > 0 && desc.Size > maxMailSize {
		return nil, composeerr.MaxMessageSizeExceeded.New(maxMailSize)
	}
	linked, err := linker.LinkAttachment(ctx, accountID, ref, desc)
	if err != nil {
		return nil, err
	}
	if maxMailSize <= 0 {
		return linked, nil
	}
	return enforceQuota(ctx, storage, accountID, linked, maxMailSize)
}

// enforceQuota removes a just stored attachment again when its space's
// total is over maxMailSize.
func enforceQuota(ctx context.Context, storage Storage, accountID string, a *Attachment, maxMailSize int64) (*Attachment, error) {
	sizes, err := storage.GetSizeOfAttachmentsByCompositionSpace(ctx, accountID, a.CompositionSpaceID)
	if err != nil {
		compensate(ctx, storage, accountID, a)
		return nil, err
	}
	total, err := sizes.TotalSize(ctx)
	if err != nil {
		compensate(ctx, storage, accountID, a)
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, composeerr.IOError.Wrap(err, "computing composition space size")
	}
	if total > maxMailSize {
		compensate(ctx, storage, accountID, a)
		return nil, composeerr.MaxMessageSizeExceeded.New(maxMailSize)
	}
	return a, nil
}

// compensate deletes an attachment that must not survive a failed save.
func compensate(ctx context.Context, storage Storage, accountID string, a *Attachment) {
	if err := storage.DeleteAttachment(ctx, accountID, a.ID); err != nil {
		logger.ErrorContext(ctx, "Failed to delete attachment after rejected save",
			slog.String("account_id", accountID),
			slog.String("attachment_id", a.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// boundedReader passes through at most n bytes and fails with
// errContentTooLarge when more follow. overflow holds the error that ended
// the read early.
type boundedReader struct {
	r        io.Reader
	n        int64
	overflow error
}

func (b *boundedReader) Read(p []byte) (int, error) {
	if b.n <= 0 {
		var next [1]byte
		n, err := b.r.Read(next[:])
		if n > 0 {
			b.overflow = errContentTooLarge
			return 0, b.overflow
		}
		return 0, b.check(err)
	}
	if int64(len(p)) > b.n {
		p = p[:b.n]
	}
	n, err := b.r.Read(p)
	b.n -= int64(n)
	return n, b.check(err)
}

func (b *boundedReader) check(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		b.overflow = err
	}
	return err
}
