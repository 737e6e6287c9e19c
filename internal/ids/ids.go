// Package ids provides the identifier and small value types shared by the
// composition service: service-qualified UUID identifiers, client tokens and
// mail paths.
package ids

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DefaultServiceID is assumed when an encoded identifier carries no service prefix.
const DefaultServiceID = "rdb"

// Delimiter separates the encoded service identifier from the encoded UUID.
const Delimiter = '.'

// ErrInvalidID is returned when an encoded identifier cannot be decoded.
var ErrInvalidID = errors.New("invalid identifier")

// ID is a UUID qualified by the identifier of the service that owns it.
type ID struct {
	ServiceID string
	UUID      uuid.UUID
}

// New creates an ID. An empty service identifier selects DefaultServiceID.
func New(serviceID string, u uuid.UUID) ID {
	if serviceID == "" {
		serviceID = DefaultServiceID
	}
	return ID{ServiceID: serviceID, UUID: u}
}

// String encodes the ID as qp(serviceID) "." qp(hex(uuid)).
func (id ID) String() string {
	serviceID := id.ServiceID
	if serviceID == "" {
		serviceID = DefaultServiceID
	}
	return escape(serviceID) + string(Delimiter) + escape(UnformattedString(id.UUID))
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Parse decodes an encoded identifier. The composite is split on the first
// delimiter; without a delimiter the whole string is the UUID and the
// default service identifier applies.
func Parse(s string) (ID, error) {
	if s == "" {
		return ID{}, fmt.Errorf("%w: empty identifier", ErrInvalidID)
	}

	serviceID := DefaultServiceID
	encodedUUID := s
	if pos := strings.IndexByte(s, Delimiter); pos >= 0 {
		var err error
		serviceID, err = unescape(s[:pos])
		if err != nil {
			return ID{}, err
		}
		if serviceID == "" {
			serviceID = DefaultServiceID
		}
		encodedUUID = s[pos+1:]
	}

	raw, err := unescape(encodedUUID)
	if err != nil {
		return ID{}, err
	}
	u, err := uuid.Parse(raw)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	return ID{ServiceID: serviceID, UUID: u}, nil
}

// ParseIfValid is the lenient variant of Parse.
func ParseIfValid(s string) (ID, bool) {
	id, err := Parse(s)
	if err != nil {
		return ID{}, false
	}
	return id, true
}

// UnformattedString renders a UUID as 32 hex characters without dashes.
func UnformattedString(u uuid.UUID) string {
	return hex.EncodeToString(u[:])
}

// CompositionSpaceID identifies a composition space across the HTTP boundary.
type CompositionSpaceID struct {
	ID
}

// NewCompositionSpaceID wraps a UUID for the given service.
func NewCompositionSpaceID(serviceID string, u uuid.UUID) CompositionSpaceID {
	return CompositionSpaceID{ID: New(serviceID, u)}
}

// ParseCompositionSpaceID decodes an encoded composition space identifier.
func ParseCompositionSpaceID(s string) (CompositionSpaceID, error) {
	id, err := Parse(s)
	if err != nil {
		return CompositionSpaceID{}, err
	}
	return CompositionSpaceID{ID: id}, nil
}

// AttachmentID identifies an attachment across the HTTP boundary.
type AttachmentID struct {
	ID
}

// NewAttachmentID wraps a UUID for the given service.
func NewAttachmentID(serviceID string, u uuid.UUID) AttachmentID {
	return AttachmentID{ID: New(serviceID, u)}
}

// ParseAttachmentID decodes an encoded attachment identifier.
func ParseAttachmentID(s string) (AttachmentID, error) {
	id, err := Parse(s)
	if err != nil {
		return AttachmentID{}, err
	}
	return AttachmentID{ID: id}, nil
}
