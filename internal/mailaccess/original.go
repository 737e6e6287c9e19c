package mailaccess

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/jarrod-lowe/jmap-service-compose/internal/charset"
	"github.com/jarrod-lowe/jmap-service-compose/internal/ids"
)

func init() {
	charset.Install()
}

// Part is a non-body part of an original message.
type Part struct {
	Name      string
	MimeType  string
	ContentID string
	Inline    bool
	Data      []byte
}

// Original is a parsed message referenced by a reply, forward or edit.
type Original struct {
	Path       ids.MailPath
	MessageID  string
	InReplyTo  []string
	References []string
	Subject    string
	From       []*mail.Address
	To         []*mail.Address
	Cc         []*mail.Address
	Bcc        []*mail.Address
	ReplyTo    []*mail.Address
	Date       time.Time
	// Priority is the raw X-Priority header.
	Priority string
	Text     string
	HTML     string
	Parts    []Part
	Raw      []byte
}

// ReadOriginal fetches and parses the message at path.
func ReadOriginal(ctx context.Context, conn Connection, path ids.MailPath) (*Original, error) {
	raw, err := conn.FetchRaw(ctx, path)
	if err != nil {
		return nil, err
	}
	return ParseOriginal(path, raw)
}

// ParseOriginal parses raw as the message at path. Unparseable header
// fields are left empty rather than failing the whole message.
func ParseOriginal(path ids.MailPath, raw []byte) (*Original, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && mr == nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	defer mr.Close()

	h := mr.Header
	o := &Original{Path: path, Raw: raw}
	o.MessageID, _ = h.MessageID()
	o.InReplyTo, _ = h.MsgIDList("In-Reply-To")
	o.References, _ = h.MsgIDList("References")
	o.Subject, _ = h.Subject()
	o.From, _ = h.AddressList("From")
	o.To, _ = h.AddressList("To")
	o.Cc, _ = h.AddressList("Cc")
	o.Bcc, _ = h.AddressList("Bcc")
	o.ReplyTo, _ = h.AddressList("Reply-To")
	o.Date, _ = h.Date()
	o.Priority = h.Get("X-Priority")

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading parts of %s: %w", path, err)
		}
		if err := o.addPart(p); err != nil {
			return nil, fmt.Errorf("reading parts of %s: %w", path, err)
		}
	}
	return o, nil
}

func (o *Original) addPart(p *mail.Part) error {
	body, err := io.ReadAll(p.Body)
	if err != nil {
		return err
	}

	switch h := p.Header.(type) {
	case *mail.InlineHeader:
		mediaType, _, _ := h.ContentType()
		cid := strings.Trim(h.Get("Content-Id"), "<> ")
		switch {
		case mediaType == "text/plain" && o.Text == "" && cid == "":
			o.Text = string(body)
		case mediaType == "text/html" && o.HTML == "" && cid == "":
			o.HTML = string(body)
		default:
			o.Parts = append(o.Parts, Part{
				Name:      partName(h.Get("Content-Type"), ""),
				MimeType:  mediaType,
				ContentID: cid,
				Inline:    true,
				Data:      body,
			})
		}
	case *mail.AttachmentHeader:
		mediaType, _, _ := h.ContentType()
		filename, _ := h.Filename()
		o.Parts = append(o.Parts, Part{
			Name:      partName(h.Get("Content-Type"), filename),
			MimeType:  mediaType,
			ContentID: strings.Trim(h.Get("Content-Id"), "<> "),
			Data:      body,
		})
	}
	return nil
}

// partName prefers the disposition filename over the Content-Type name.
func partName(contentType, filename string) string {
	if filename != "" {
		return filename
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return params["name"]
}
