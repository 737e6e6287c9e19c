package attachment

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"
)

// maxConcurrentSizeReads bounds how many deferred providers are read at once.
const maxConcurrentSizeReads = 4

// SizeReturner aggregates attachment sizes: a known total plus providers whose
// size is only learned by reading their content.
type SizeReturner struct {
	known    int64
	deferred []DataProvider
}

// NewSizeReturner creates a SizeReturner.
func NewSizeReturner(known int64, deferred []DataProvider) *SizeReturner {
	return &SizeReturner{known: known, deferred: deferred}
}

// SizeOf builds a SizeReturner from attachment records: known sizes are
// summed, unknown ones are deferred to their data providers.
func SizeOf(attachments []Attachment) *SizeReturner {
	var known int64
	var deferred []DataProvider
	for i := range attachments {
		a := &attachments[i]
		if a.SizeKnown() {
			known += a.Size
			continue
		}
		deferred = append(deferred, a.Data)
	}
	return NewSizeReturner(known, deferred)
}

// KnownSize returns the sum of the sizes known without reading content.
func (s *SizeReturner) KnownSize() int64 {
	return s.known
}

// HasDeferred reports whether TotalSize has to read content.
func (s *SizeReturner) HasDeferred() bool {
	return len(s.deferred) > 0
}

// TotalSize returns the authoritative total. Every deferred provider is read
// to the end, so the cost is proportional to their combined content.
func (s *SizeReturner) TotalSize(ctx context.Context) (int64, error) {
	if len(s.deferred) == 0 {
		return s.known, nil
	}

	counts := make([]int64, len(s.deferred))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSizeReads)
	for i, provider := range s.deferred {
		g.Go(func() error {
			n, err := countProvider(gctx, provider)
			if err != nil {
				return err
			}
			counts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	total := s.known
	for _, n := range counts {
		total += n
	}
	return total, nil
}

func countProvider(ctx context.Context, provider DataProvider) (int64, error) {
	if provider == nil {
		return 0, fmt.Errorf("attachment of unknown size has no data provider")
	}
	rc, err := provider.Open(ctx)
	if err != nil {
		return 0, fmt.Errorf("opening attachment data: %w", err)
	}
	defer rc.Close()

	n, err := io.Copy(io.Discard, rc)
	if err != nil {
		return 0, fmt.Errorf("reading attachment data: %w", err)
	}
	return n, nil
}
