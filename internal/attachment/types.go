// Package attachment models mail attachments held by composition spaces and
// the storage abstraction they are saved to.
package attachment

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UnknownSize marks an attachment whose size is only known after reading it.
const UnknownSize int64 = -1

// Disposition tells whether an attachment is shown inline or as a file.
type Disposition string

const (
	// DispositionAttachment is a regular file attachment.
	DispositionAttachment Disposition = "attachment"
	// DispositionInline is referenced from the message body by Content-ID.
	DispositionInline Disposition = "inline"
)

// ParseDisposition maps s to a Disposition, defaulting to attachment.
func ParseDisposition(s string) Disposition {
	if strings.EqualFold(s, string(DispositionInline)) {
		return DispositionInline
	}
	return DispositionAttachment
}

// Origin records where an attachment's content came from.
type Origin string

const (
	OriginUpload  Origin = "upload"
	OriginMail    Origin = "mail"
	OriginDrive   Origin = "drive"
	OriginContact Origin = "contact"
	OriginVCard   Origin = "vcard"
)

// ParseOrigin maps s to an Origin, defaulting to upload.
func ParseOrigin(s string) Origin {
	switch o := Origin(strings.ToLower(s)); o {
	case OriginMail, OriginDrive, OriginContact, OriginVCard:
		return o
	}
	return OriginUpload
}

// ContentID is a Content-ID without the enclosing angle brackets.
type ContentID string

// ParseContentID strips surrounding whitespace and angle brackets.
func ParseContentID(s string) ContentID {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")
	return ContentID(s)
}

// Header renders the value for a Content-ID header.
func (c ContentID) Header() string {
	if c == "" {
		return ""
	}
	return "<" + string(c) + ">"
}

// StorageType tags the backend holding an attachment's content.
type StorageType string

const (
	// StorageTypeDB keeps content in the relational attachment store.
	StorageTypeDB StorageType = "db"
	// StorageTypeBlob keeps content in the blob service.
	StorageTypeBlob StorageType = "blob"
)

// StorageReference locates attachment content within a backend.
type StorageReference struct {
	Identifier string            `json:"identifier"`
	Type       StorageType       `json:"type"`
	Arguments  map[string]string `json:"arguments,omitempty"`
}

// DataProvider opens an attachment's content.
type DataProvider interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// DataProviderFunc adapts a function to DataProvider.
type DataProviderFunc func(ctx context.Context) (io.ReadCloser, error)

// Open calls f.
func (f DataProviderFunc) Open(ctx context.Context) (io.ReadCloser, error) {
	return f(ctx)
}

// Attachment is an immutable attachment record.
type Attachment struct {
	ID                 uuid.UUID        `json:"id"`
	CompositionSpaceID uuid.UUID        `json:"compositionSpaceId"`
	Storage            StorageReference `json:"storage"`
	Name               string           `json:"name"`
	Size               int64            `json:"size"`
	MimeType           string           `json:"mimeType"`
	ContentID          ContentID        `json:"contentId,omitempty"`
	Disposition        Disposition      `json:"disposition"`
	Origin             Origin           `json:"origin"`
	CreatedAt          time.Time        `json:"createdAt"`
	Data               DataProvider     `json:"-"`
}

// SizeKnown reports whether Size is authoritative.
func (a *Attachment) SizeKnown() bool {
	return a.Size >= 0
}

// Description describes an attachment that is about to be saved.
type Description struct {
	CompositionSpaceID uuid.UUID
	Name               string
	MimeType           string
	ContentID          ContentID
	Disposition        Disposition
	Origin             Origin
	// Size is UnknownSize when the caller cannot tell up front.
	Size int64
}

// DefaultMimeType is used when a description leaves MimeType empty.
const DefaultMimeType = "application/octet-stream"

// Normalize fills in defaults.
func (d Description) Normalize() Description {
	if d.MimeType == "" {
		d.MimeType = DefaultMimeType
	}
	if d.Disposition == "" {
		d.Disposition = DispositionAttachment
	}
	if d.Origin == "" {
		d.Origin = OriginUpload
	}
	d.Name = NormalizeName(d.Name)
	return d
}
