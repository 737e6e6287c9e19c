package message

import (
	"fmt"
	"strings"

	"github.com/emersion/go-message/mail"
)

// Address is a mailbox with an optional display name.
type Address struct {
	Personal string `json:"personal,omitempty"`
	Address  string `json:"address"`
}

// IsZero reports whether a is empty.
func (a Address) IsZero() bool {
	return a.Address == "" && a.Personal == ""
}

// String renders a in RFC 5322 form, encoding the display name if needed.
func (a Address) String() string {
	if a.IsZero() {
		return ""
	}
	return (&mail.Address{Name: a.Personal, Address: a.Address}).String()
}

// ParseAddress parses a single RFC 5322 address.
func ParseAddress(s string) (Address, error) {
	parsed, err := mail.ParseAddress(strings.TrimSpace(s))
	if err != nil {
		return Address{}, fmt.Errorf("parsing address %q: %w", s, err)
	}
	return Address{Personal: parsed.Name, Address: parsed.Address}, nil
}

// ParseAddressList parses a comma separated address list. An empty string
// yields an empty list.
func ParseAddressList(s string) ([]Address, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parsed, err := mail.ParseAddressList(s)
	if err != nil {
		return nil, fmt.Errorf("parsing address list: %w", err)
	}
	out := make([]Address, len(parsed))
	for i, p := range parsed {
		out[i] = Address{Personal: p.Name, Address: p.Address}
	}
	return out, nil
}

// FormatAddressList renders addrs as a header value.
func FormatAddressList(addrs []Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if !a.IsZero() {
			parts = append(parts, a.String())
		}
	}
	return strings.Join(parts, ", ")
}
