package ids

import (
	"crypto/rand"
	"fmt"
)

// ClientTokenLength is the length of a valid client token.
const ClientTokenLength = 16

const tokenAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// ClientToken is an opaque caller-supplied value used to detect conflicting
// edits of the same composition space.
type ClientToken string

// NoClientToken represents an absent client token.
const NoClientToken ClientToken = ""

// NewClientToken generates a random client token.
func NewClientToken() ClientToken {
	var raw [ClientTokenLength]byte
	if _, err := rand.Read(raw[:]); err != nil {
		panic(fmt.Sprintf("generating client token: %v", err))
	}
	out := make([]byte, ClientTokenLength)
	for i, b := range raw {
		out[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return ClientToken(out)
}

// ParseClientToken validates s. An empty string yields NoClientToken.
func ParseClientToken(s string) (ClientToken, error) {
	if s == "" {
		return NoClientToken, nil
	}
	if len(s) != ClientTokenLength {
		return NoClientToken, fmt.Errorf("%w: client token must be %d characters", ErrInvalidID, ClientTokenLength)
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			return NoClientToken, fmt.Errorf("%w: client token contains %q", ErrInvalidID, c)
		}
	}
	return ClientToken(s), nil
}

// IsPresent reports whether the token carries a value.
func (t ClientToken) IsPresent() bool {
	return t != NoClientToken
}

// Matches reports whether t is compatible with the stored token. An absent
// token on either side never conflicts.
func (t ClientToken) Matches(stored ClientToken) bool {
	if !t.IsPresent() || !stored.IsPresent() {
		return true
	}
	return t == stored
}

func (t ClientToken) String() string {
	return string(t)
}
