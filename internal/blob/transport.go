package blob

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

// DefaultSigningService is the SigV4 service name of the blob API gateway.
const DefaultSigningService = "execute-api"

// emptyPayloadHash is the SHA-256 of an empty body.
const emptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// SigV4Option configures a SigV4Transport.
type SigV4Option func(*SigV4Transport)

// WithSigningService overrides DefaultSigningService.
func WithSigningService(service string) SigV4Option {
	return func(t *SigV4Transport) {
		t.service = service
	}
}

// SigV4Transport signs blob API requests with AWS SigV4 before handing them
// to the wrapped transport. Attachment content goes to presigned URLs
// through a plain client, so signed bodies stay small.
type SigV4Transport struct {
	wrapped     http.RoundTripper
	credentials aws.CredentialsProvider
	region      string
	service     string
	signer      *v4.Signer
	now         func() time.Time
}

// NewSigV4Transport creates a SigV4Transport for region.
func NewSigV4Transport(wrapped http.RoundTripper, credentials aws.CredentialsProvider, region string, opts ...SigV4Option) *SigV4Transport {
	t := &SigV4Transport{
		wrapped:     wrapped,
		credentials: credentials,
		region:      region,
		service:     DefaultSigningService,
		signer:      v4.NewSigner(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RoundTrip implements http.RoundTripper. The caller's request is never
// modified.
func (t *SigV4Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	creds, err := t.credentials.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("retrieving signing credentials: %w", err)
	}

	signed := req.Clone(ctx)
	hash, err := payloadHash(signed)
	if err != nil {
		return nil, err
	}
	if err := t.signer.SignHTTP(ctx, creds, signed, hash, t.service, t.region, t.now()); err != nil {
		return nil, fmt.Errorf("signing request: %w", err)
	}
	return t.wrapped.RoundTrip(signed)
}

// payloadHash hashes the body of req and leaves a fresh, unread body in
// its place. A GetBody func is preferred so the original body of a
// retried request is not consumed.
func payloadHash(req *http.Request) (string, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return emptyPayloadHash, nil
	}

	body := req.Body
	if req.GetBody != nil {
		fresh, err := req.GetBody()
		if err != nil {
			return "", fmt.Errorf("rewinding request body: %w", err)
		}
		body = fresh
	}
	data, err := io.ReadAll(body)
	body.Close()
	if err != nil {
		return "", fmt.Errorf("reading request body: %w", err)
	}

	sum := sha256.Sum256(data)
	req.Body = io.NopCloser(bytes.NewReader(data))
	req.ContentLength = int64(len(data))
	return hex.EncodeToString(sum[:]), nil
}
