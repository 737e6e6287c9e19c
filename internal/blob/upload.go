package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"go.opentelemetry.io/otel/trace"
)

// Uploader stores attachment content as blobs in two steps: Blob/allocate
// returns a blob ID and a presigned URL, then the body is PUT to that URL.
type Uploader struct {
	baseURL      string
	signedClient HTTPDoer // SigV4-signed, for the allocate call
	plainClient  HTTPDoer // unsigned, for the presigned PUT
}

// NewUploader creates an Uploader.
func NewUploader(baseURL string, signedClient, plainClient HTTPDoer) *Uploader {
	return &Uploader{
		baseURL:      baseURL,
		signedClient: signedClient,
		plainClient:  plainClient,
	}
}

type jmapRequest struct {
	Using       []string `json:"using"`
	MethodCalls []any    `json:"methodCalls"`
}

type allocateCreated struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type sizeCounter struct {
	reader io.Reader
	n      int64
}

func (sc *sizeCounter) Read(p []byte) (int, error) {
	n, err := sc.reader.Read(p)
	sc.n += int64(n)
	return n, err
}

// Upload stores body as a new blob and returns its ID and the number of
// bytes sent.
func (c *Uploader) Upload(ctx context.Context, accountID, contentType string, body io.Reader) (string, int64, error) {
	tracer := tracing.Tracer("jmap-blob-client")
	ctx, span := tracer.Start(ctx, "blob.Upload",
		trace.WithAttributes(
			tracing.AccountID(accountID),
			tracing.ContentType(contentType),
		))
	defer span.End()

	blobID, presignedURL, err := c.allocate(ctx, accountID, contentType)
	if err != nil {
		tracing.RecordError(span, err)
		return "", 0, err
	}

	sc := &sizeCounter{reader: body}
	if err := c.putToPresignedURL(ctx, presignedURL, contentType, sc); err != nil {
		tracing.RecordError(span, err)
		return "", 0, err
	}

	return blobID, sc.n, nil
}

// allocate reserves a blob ID and returns it with the URL to PUT the content to.
func (c *Uploader) allocate(ctx context.Context, accountID, contentType string) (string, string, error) {
	reqBody := jmapRequest{
		Using: []string{"https://jmap.rrod.net/extensions/upload-put"},
		MethodCalls: []any{
			[]any{
				"Blob/allocate",
				map[string]any{
					"accountId": accountID,
					"create": map[string]any{
						"c0": map[string]any{
							"type": contentType,
							"size": 0,
						},
					},
				},
				"c0",
			},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}

	url := c.baseURL + "/jmap-iam/" + accountID
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.signedClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrServerFail, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", "", fmt.Errorf("%w: allocate returned status %d", ErrServerFail, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return "", "", fmt.Errorf("%w: allocate returned status %d", ErrInvalidArguments, resp.StatusCode)
	}

	var jmapResp struct {
		MethodResponses []json.RawMessage `json:"methodResponses"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jmapResp); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	if len(jmapResp.MethodResponses) == 0 {
		return "", "", fmt.Errorf("%w: empty methodResponses", ErrInvalidResponse)
	}

	var tuple []json.RawMessage
	if err := json.Unmarshal(jmapResp.MethodResponses[0], &tuple); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if len(tuple) < 2 {
		return "", "", fmt.Errorf("%w: method response tuple too short", ErrInvalidResponse)
	}

	var methodName string
	if err := json.Unmarshal(tuple[0], &methodName); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	if methodName == "error" {
		return "", "", fmt.Errorf("%w: Blob/allocate returned JMAP error", ErrServerFail)
	}

	var allocateResp struct {
		Created    map[string]allocateCreated `json:"created"`
		NotCreated map[string]any             `json:"notCreated"`
	}
	if err := json.Unmarshal(tuple[1], &allocateResp); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	if nc, ok := allocateResp.NotCreated["c0"]; ok {
		return "", "", fmt.Errorf("%w: Blob/allocate notCreated: %v", ErrServerFail, nc)
	}

	created, ok := allocateResp.Created["c0"]
	if !ok {
		return "", "", fmt.Errorf("%w: no 'c0' in created", ErrInvalidResponse)
	}

	return created.ID, created.URL, nil
}

func (c *Uploader) putToPresignedURL(ctx context.Context, presignedURL, contentType string, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, presignedURL, body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.plainClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServerFail, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: presigned PUT returned status %d", ErrServerFail, resp.StatusCode)
	}

	return nil
}
