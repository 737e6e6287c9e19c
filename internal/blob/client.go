// Package blob talks to the core blob API: streaming downloads, deletes and
// presigned uploads.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"go.opentelemetry.io/otel/trace"
)

// Error types for blob operations.
var (
	ErrBlobNotFound     = errors.New("blob not found")
	ErrForbidden        = errors.New("forbidden")
	ErrServerFail       = errors.New("server error")
	ErrInvalidArguments = errors.New("invalid arguments")
	ErrInvalidResponse  = errors.New("invalid response")
)

// HTTPDoer abstracts HTTP client operations for dependency inversion.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client reads and deletes blobs over HTTP.
type Client struct {
	baseURL    string
	httpClient HTTPDoer
	maxRetries int
	baseDelay  time.Duration
	sleepFunc  func(time.Duration)
}

// NewClient creates a Client with default retry settings.
func NewClient(baseURL string, httpClient HTTPDoer) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		maxRetries: 2,
		baseDelay:  100 * time.Millisecond,
		sleepFunc:  time.Sleep,
	}
}

func (c *Client) downloadURL(accountID, blobID string) string {
	return c.baseURL + "/download-iam/" + url.PathEscape(accountID) + "/" + url.PathEscape(blobID)
}

func (c *Client) deleteURL(accountID, blobID string) string {
	return c.baseURL + "/delete-iam/" + url.PathEscape(accountID) + "/" + url.PathEscape(blobID)
}

// Stream opens a blob for reading. The caller closes the returned body.
// Transport errors and 5xx responses are retried with exponential backoff.
func (c *Client) Stream(ctx context.Context, accountID, blobID string) (io.ReadCloser, error) {
	ctx, span := tracing.Tracer("jmap-blob-client").Start(ctx, "blob.Stream",
		trace.WithAttributes(tracing.AccountID(accountID)))
	defer span.End()

	resp, err := c.doWithRetry(ctx, http.MethodGet, c.downloadURL(accountID, blobID))
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return resp.Body, nil
}

// Fetch reads a whole blob into memory.
func (c *Client) Fetch(ctx context.Context, accountID, blobID string) ([]byte, error) {
	body, err := c.Stream(ctx, accountID, blobID)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

// Delete removes a blob. A blob that is already gone is not an error.
func (c *Client) Delete(ctx context.Context, accountID, blobID string) error {
	ctx, span := tracing.Tracer("jmap-blob-client").Start(ctx, "blob.Delete",
		trace.WithAttributes(tracing.AccountID(accountID)))
	defer span.End()

	resp, err := c.doWithRetry(ctx, http.MethodDelete, c.deleteURL(accountID, blobID))
	if errors.Is(err, ErrBlobNotFound) {
		return nil
	}
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}
	resp.Body.Close()
	return nil
}

// doWithRetry returns a response with a 2xx status whose body is still open.
func (c *Client) doWithRetry(ctx context.Context, method, target string) (*http.Response, error) {
	maxAttempts := c.maxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if attempt > 0 && c.sleepFunc != nil && c.baseDelay > 0 {
			c.sleepFunc(c.baseDelay * time.Duration(1<<(attempt-1)))
		}

		req, err := http.NewRequestWithContext(ctx, method, target, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrServerFail, err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			resp.Body.Close()
			return nil, ErrBlobNotFound
		case resp.StatusCode == http.StatusForbidden:
			resp.Body.Close()
			return nil, ErrForbidden
		case resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = fmt.Errorf("%w: status %d", ErrServerFail, resp.StatusCode)
			continue
		case resp.StatusCode >= 300:
			resp.Body.Close()
			return nil, fmt.Errorf("%w: status %d", ErrInvalidArguments, resp.StatusCode)
		}
		return resp, nil
	}

	return nil, lastErr
}
