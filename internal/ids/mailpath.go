package ids

import (
	"fmt"
	"strconv"
	"strings"
)

// mailPathPrefix precedes the account number of a mail path.
const mailPathPrefix = "default"

// MailPath locates a message: account, folder and the folder-local mail ID.
type MailPath struct {
	AccountID int
	Folder    string
	MailID    string
}

// String renders the path as default<account>/<folder>/<mailId>.
func (p MailPath) String() string {
	return mailPathPrefix + strconv.Itoa(p.AccountID) + "/" + p.Folder + "/" + p.MailID
}

// MarshalText implements encoding.TextMarshaler.
func (p MailPath) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *MailPath) UnmarshalText(text []byte) error {
	parsed, err := ParseMailPath(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParseMailPath parses the form produced by MailPath.String. Folders may
// contain '/'; the mail ID is everything after the last separator.
func ParseMailPath(s string) (MailPath, error) {
	if !strings.HasPrefix(s, mailPathPrefix) {
		return MailPath{}, fmt.Errorf("%w: mail path %q lacks %q prefix", ErrInvalidID, s, mailPathPrefix)
	}
	rest := s[len(mailPathPrefix):]

	first := strings.IndexByte(rest, '/')
	last := strings.LastIndexByte(rest, '/')
	if first <= 0 || last == first || last == len(rest)-1 {
		return MailPath{}, fmt.Errorf("%w: malformed mail path %q", ErrInvalidID, s)
	}

	accountID, err := strconv.Atoi(rest[:first])
	if err != nil || accountID < 0 {
		return MailPath{}, fmt.Errorf("%w: bad account in mail path %q", ErrInvalidID, s)
	}

	return MailPath{
		AccountID: accountID,
		Folder:    rest[first+1 : last],
		MailID:    rest[last+1:],
	}, nil
}
