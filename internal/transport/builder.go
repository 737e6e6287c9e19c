// Package transport renders composed messages as RFC 5322 and delivers
// them over SMTP.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"net/textproto"
	"slices"
	"strings"
	"time"

	gomessage "github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/jarrod-lowe/jmap-service-compose/internal/attachment"
	"github.com/jarrod-lowe/jmap-service-compose/internal/htmlstrip"
	"github.com/jarrod-lowe/jmap-service-compose/internal/message"
)

// reservedHeaders cannot be overridden by a message's custom headers.
var reservedHeaders = map[string]bool{
	"Content-Type":              true,
	"Content-Transfer-Encoding": true,
	"Mime-Version":              true,
	"Message-Id":                true,
	"Date":                      true,
	"From":                      true,
	"Sender":                    true,
	"To":                        true,
	"Cc":                        true,
	"Bcc":                       true,
	"Subject":                   true,
}

// Options adjusts how a message is rendered.
type Options struct {
	// Draft keeps Bcc in the headers.
	Draft bool
}

// Envelope is the SMTP envelope of a built message.
type Envelope struct {
	From       string
	Recipients []string
}

// Built is a rendered message.
type Built struct {
	MessageID string
	Raw       []byte
	Envelope  Envelope
}

// Builder renders message snapshots.
type Builder struct {
	domain string
	now    func() time.Time
}

// NewBuilder creates a Builder generating Message-IDs in domain.
func NewBuilder(domain string) *Builder {
	if domain == "" {
		domain = "localhost"
	}
	return &Builder{domain: domain, now: time.Now}
}

// Build renders m with its attachments. Threading headers such as
// In-Reply-To travel in the message's custom headers.
func (b *Builder) Build(ctx context.Context, m message.Message, opts Options) (*Built, error) {
	messageID := strings.ReplaceAll(uuid.NewString(), "-", "") + "@" + b.domain

	var h mail.Header
	h.Set("MIME-Version", "1.0")
	h.SetDate(b.now())
	h.SetMessageID(messageID)
	h.SetSubject(m.Subject)
	setAddresses(&h, "From", []message.Address{m.From})
	setAddresses(&h, "Sender", []message.Address{m.Sender})
	setAddresses(&h, "Reply-To", []message.Address{m.ReplyTo})
	setAddresses(&h, "To", m.To)
	setAddresses(&h, "Cc", m.Cc)
	if opts.Draft {
		setAddresses(&h, "Bcc", m.Bcc)
	}
	if m.Priority != message.PriorityNormal && m.Priority != 0 {
		h.Set("X-Priority", priorityHeader(m.Priority))
	}
	if m.RequestReadReceipt && !m.From.IsZero() {
		h.Set("Disposition-Notification-To", m.From.String())
	}
	for _, k := range slices.Sorted(maps.Keys(m.CustomHeaders)) {
		if !reservedHeaders[textproto.CanonicalMIMEHeaderKey(k)] {
			h.Set(k, m.CustomHeaders[k])
		}
	}

	var inline, files []attachment.Attachment
	for _, a := range m.Attachments {
		if a.Disposition == attachment.DispositionInline && a.ContentID != "" && m.ContentType.IsHTML() {
			inline = append(inline, a)
		} else {
			files = append(files, a)
		}
	}

	var buf bytes.Buffer
	root := &part{}
	body := bodyPart(m, inline)
	if len(files) > 0 {
		root.mediaType = "multipart/mixed"
		root.children = append([]*part{body}, attachmentParts(files)...)
	} else {
		root = body
	}
	if err := root.write(ctx, &buf, h.Header); err != nil {
		return nil, fmt.Errorf("rendering message: %w", err)
	}

	return &Built{
		MessageID: messageID,
		Raw:       buf.Bytes(),
		Envelope:  envelope(m),
	}, nil
}

func setAddresses(h *mail.Header, key string, addrs []message.Address) {
	var list []*mail.Address
	for _, a := range addrs {
		if a.Address != "" {
			list = append(list, &mail.Address{Name: a.Personal, Address: a.Address})
		}
	}
	if len(list) > 0 {
		h.SetAddressList(key, list)
	}
}

func priorityHeader(p message.Priority) string {
	switch p {
	case message.PriorityHigh:
		return "1 (Highest)"
	case message.PriorityLow:
		return "5 (Lowest)"
	}
	return "3 (Normal)"
}

// envelope uses the From address as sender and every distinct To, Cc and
// Bcc address as recipient.
func envelope(m message.Message) Envelope {
	env := Envelope{From: m.From.Address}
	if env.From == "" {
		env.From = m.Sender.Address
	}
	seen := make(map[string]bool)
	for _, list := range [][]message.Address{m.To, m.Cc, m.Bcc} {
		for _, a := range list {
			key := strings.ToLower(a.Address)
			if a.Address == "" || seen[key] {
				continue
			}
			seen[key] = true
			env.Recipients = append(env.Recipients, a.Address)
		}
	}
	return env
}

// part is a node of the MIME tree. Leaves carry text or an attachment.
type part struct {
	mediaType string
	params    map[string]string
	header    func(h *gomessage.Header)
	text      string
	data      attachment.DataProvider
	children  []*part
}

func textPart(mediaType, text string) *part {
	return &part{
		mediaType: mediaType,
		params:    map[string]string{"charset": "utf-8"},
		header: func(h *gomessage.Header) {
			h.Set("Content-Transfer-Encoding", "quoted-printable")
		},
		text: text,
	}
}

// bodyPart renders the message text. HTML gets a generated plain-text
// alternative and, with inline images, a multipart/related wrapper.
func bodyPart(m message.Message, inline []attachment.Attachment) *part {
	if !m.ContentType.IsHTML() {
		return textPart("text/plain", m.Content)
	}

	html := textPart("text/html", m.Content)
	if len(inline) > 0 {
		html = &part{
			mediaType: "multipart/related",
			children:  append([]*part{html}, attachmentParts(inline)...),
		}
	}
	return &part{
		mediaType: "multipart/alternative",
		children:  []*part{textPart("text/plain", htmlstrip.String(m.Content)), html},
	}
}

func attachmentParts(list []attachment.Attachment) []*part {
	out := make([]*part, len(list))
	for i, a := range list {
		var params, disposition map[string]string
		if a.Name != "" {
			params = map[string]string{"name": a.Name}
			disposition = map[string]string{"filename": a.Name}
		}
		out[i] = &part{
			mediaType: a.MimeType,
			params:    params,
			header: func(h *gomessage.Header) {
				h.SetContentDisposition(string(a.Disposition), disposition)
				if a.ContentID != "" {
					h.Set("Content-ID", a.ContentID.Header())
				}
				h.Set("Content-Transfer-Encoding", "base64")
			},
			data: a.Data,
		}
	}
	return out
}

func (p *part) write(ctx context.Context, w io.Writer, h gomessage.Header) error {
	p.prepare(&h)
	mw, err := gomessage.CreateWriter(w, h)
	if err != nil {
		return err
	}
	if err := p.writeBody(ctx, mw); err != nil {
		_ = mw.Close()
		return err
	}
	return mw.Close()
}

func (p *part) writeBody(ctx context.Context, mw *gomessage.Writer) error {
	switch {
	case len(p.children) > 0:
		for _, child := range p.children {
			var ch gomessage.Header
			child.prepare(&ch)
			cw, err := mw.CreatePart(ch)
			if err != nil {
				return err
			}
			if err := child.writeBody(ctx, cw); err != nil {
				_ = cw.Close()
				return err
			}
			if err := cw.Close(); err != nil {
				return err
			}
		}
		return nil
	case p.data != nil:
		rc, err := p.data.Open(ctx)
		if err != nil {
			return fmt.Errorf("opening attachment content: %w", err)
		}
		defer rc.Close()
		_, err = io.Copy(mw, rc)
		return err
	default:
		_, err := io.WriteString(mw, p.text)
		return err
	}
}

func (p *part) prepare(h *gomessage.Header) {
	h.SetContentType(p.mediaType, p.params)
	if p.header != nil {
		p.header(h)
	}
}
