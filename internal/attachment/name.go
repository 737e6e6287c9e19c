package attachment

import (
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeName NFC-normalizes a file name and strips any directory part a
// browser may have sent along.
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	if name == "." || name == "/" {
		return ""
	}
	return norm.NFC.String(name)
}
