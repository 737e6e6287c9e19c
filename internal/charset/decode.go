// Package charset decodes mail content declared in arbitrary character
// sets to UTF-8.
package charset

import (
	"bytes"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

// Install registers Reader as go-message's charset hook so parsed headers
// and bodies in legacy charsets come out as UTF-8.
func Install() {
	message.CharsetReader = Reader
}

// Reader has the signature of go-message's CharsetReader hook.
func Reader(label string, input io.Reader) (io.Reader, error) {
	r, _, err := DecodeReader(input, label)
	return r, err
}

// DecodeReader converts r from label to UTF-8. The flag reports content
// that had to be salvaged: unknown charsets pass the raw bytes through and
// invalid UTF-8 is reread as Latin-1. An empty label means US-ASCII.
func DecodeReader(r io.Reader, label string) (io.Reader, bool, error) {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" {
		label = "us-ascii"
	}

	enc, utf8Compatible, err := lookup(label)
	switch {
	case err != nil:
		content, readErr := io.ReadAll(r)
		if readErr != nil {
			return nil, false, readErr
		}
		return bytes.NewReader(content), true, nil
	case utf8Compatible:
		return validateUTF8(r)
	default:
		return transform.NewReader(r, enc.NewDecoder()), false, nil
	}
}

// DecodeString is DecodeReader for a string, dropping the salvage flag.
func DecodeString(s, label string) string {
	r, _, err := DecodeReader(strings.NewReader(s), label)
	if err != nil {
		return s
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return s
	}
	return string(out)
}

func lookup(label string) (encoding.Encoding, bool, error) {
	switch label {
	case "utf-8", "utf8", "ascii", "us-ascii":
		return nil, true, nil
	case "latin1", "latin-1":
		return charmap.ISO8859_1, false, nil
	}

	enc, err := ianaindex.IANA.Encoding(label)
	if err != nil {
		return nil, false, err
	}
	if enc == nil {
		return nil, true, nil
	}
	return enc, false, nil
}

func validateUTF8(r io.Reader) (io.Reader, bool, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, false, err
	}
	if utf8.Valid(content) {
		return bytes.NewReader(content), false, nil
	}

	decoded, _, err := transform.Bytes(charmap.ISO8859_1.NewDecoder(), content)
	if err != nil {
		decoded = content
	}
	return bytes.NewReader(decoded), true, nil
}
