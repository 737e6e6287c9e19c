package compose

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/jarrod-lowe/jmap-service-compose/internal/attachment"
	"github.com/jarrod-lowe/jmap-service-compose/internal/composeerr"
	"github.com/jarrod-lowe/jmap-service-compose/internal/htmlstrip"
	"github.com/jarrod-lowe/jmap-service-compose/internal/ids"
	"github.com/jarrod-lowe/jmap-service-compose/internal/mailaccess"
	"github.com/jarrod-lowe/jmap-service-compose/internal/message"
)

const quoteDateLayout = "Mon, 2 Jan 2006 15:04"

// pendingAttachment is an attachment taken from an original message that
// is saved once the new space has an ID.
type pendingAttachment struct {
	data []byte
	desc attachment.Description
}

// draft is the starting point of a new composition space.
type draft struct {
	description message.Description
	attachments []pendingAttachment
}

// derive builds the draft for a reply, forward or edit.
func (s *Service) derive(ctx context.Context, sess *Session, p OpenParams) (*draft, error) {
	switch {
	case p.Type.IsReply():
		originals, err := s.readOriginals(ctx, sess, []ids.MailPath{*p.ReplyFor})
		if err != nil {
			return nil, err
		}
		return replyDraft(originals[0], p.Type == message.MetaTypeReplyAll), nil
	case p.Type == message.MetaTypeForwardInline:
		originals, err := s.readOriginals(ctx, sess, p.ForwardsFor)
		if err != nil {
			return nil, err
		}
		return forwardInlineDraft(originals), nil
	case p.Type == message.MetaTypeForwardAttachment:
		originals, err := s.readOriginals(ctx, sess, p.ForwardsFor)
		if err != nil {
			return nil, err
		}
		return forwardAttachmentDraft(originals), nil
	case p.EditFor != nil:
		originals, err := s.readOriginals(ctx, sess, []ids.MailPath{*p.EditFor})
		if err != nil {
			return nil, err
		}
		return copyDraft(originals[0]), nil
	}
	return &draft{}, nil
}

// readOriginals fetches the messages at paths, opening one connection per
// mail account.
func (s *Service) readOriginals(ctx context.Context, sess *Session, paths []ids.MailPath) ([]*mailaccess.Original, error) {
	conns := make(map[int]mailaccess.Connection)
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	out := make([]*mailaccess.Original, 0, len(paths))
	for _, path := range paths {
		conn, ok := conns[path.AccountID]
		if !ok {
			var err error
			conn, err = sess.Connector.Connect(ctx, path.AccountID)
			if err != nil {
				return nil, originalErr(err, path)
			}
			conns[path.AccountID] = conn
		}
		o, err := mailaccess.ReadOriginal(ctx, conn, path)
		if err != nil {
			return nil, originalErr(err, path)
		}
		out = append(out, o)
	}
	return out, nil
}

func originalErr(err error, path ids.MailPath) error {
	switch {
	case errors.Is(err, mailaccess.ErrMessageNotFound),
		errors.Is(err, mailaccess.ErrFolderNotFound),
		errors.Is(err, mailaccess.ErrUnknownAccount):
		return composeerr.InvalidIdentifier.Wrap(err, path.String())
	}
	return composeerr.IOError.Wrap(err, fmt.Sprintf("reading %s: %v", path, err))
}

func replyDraft(o *mailaccess.Original, all bool) *draft {
	to := o.ReplyTo
	if len(to) == 0 {
		to = o.From
	}
	d := message.Description{
		To:            message.Some(addresses(to)),
		Subject:       message.Some(prefixSubject("Re: ", o.Subject)),
		Content:       message.Some(quote(o)),
		CustomHeaders: message.Some(threadHeaders(o)),
	}
	if all {
		seen := make(map[string]bool)
		for _, a := range to {
			seen[strings.ToLower(a.Address)] = true
		}
		var cc []message.Address
		for _, a := range append(append([]*mail.Address{}, o.To...), o.Cc...) {
			key := strings.ToLower(a.Address)
			if seen[key] {
				continue
			}
			seen[key] = true
			cc = append(cc, message.Address{Personal: a.Name, Address: a.Address})
		}
		if len(cc) > 0 {
			d.Cc = message.Some(cc)
		}
	}
	return &draft{description: d}
}

func forwardInlineDraft(originals []*mailaccess.Original) *draft {
	var b strings.Builder
	var pending []pendingAttachment
	for i, o := range originals {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("\n-------- Original Message --------\n")
		writeHeaderLine(&b, "Subject", o.Subject)
		if !o.Date.IsZero() {
			writeHeaderLine(&b, "Date", o.Date.Format(quoteDateLayout))
		}
		writeHeaderLine(&b, "From", formatList(o.From))
		writeHeaderLine(&b, "To", formatList(o.To))
		writeHeaderLine(&b, "Cc", formatList(o.Cc))
		b.WriteString("\n")
		b.WriteString(bodyText(o))
		pending = append(pending, partAttachments(o)...)
	}
	return &draft{
		description: message.Description{
			Subject: message.Some(prefixSubject("Fwd: ", originals[0].Subject)),
			Content: message.Some(b.String()),
		},
		attachments: pending,
	}
}

func forwardAttachmentDraft(originals []*mailaccess.Original) *draft {
	pending := make([]pendingAttachment, 0, len(originals))
	for _, o := range originals {
		name := o.Subject
		if name == "" {
			name = "message"
		}
		pending = append(pending, pendingAttachment{
			data: o.Raw,
			desc: attachment.Description{
				Name:        name + ".eml",
				MimeType:    "message/rfc822",
				Disposition: attachment.DispositionAttachment,
				Origin:      attachment.OriginMail,
				Size:        int64(len(o.Raw)),
			},
		})
	}
	return &draft{
		description: message.Description{
			Subject: message.Some(prefixSubject("Fwd: ", originals[0].Subject)),
		},
		attachments: pending,
	}
}

// copyDraft reproduces an original for edit, copy and resend.
func copyDraft(o *mailaccess.Original) *draft {
	d := message.Description{
		To:       message.Some(addresses(o.To)),
		Cc:       message.Some(addresses(o.Cc)),
		Bcc:      message.Some(addresses(o.Bcc)),
		Subject:  message.Some(o.Subject),
		Priority: message.Some(message.ParsePriority(o.Priority)),
	}
	if len(o.From) > 0 {
		d.From = message.Some(address(o.From[0]))
	}
	if len(o.ReplyTo) > 0 {
		d.ReplyTo = message.Some(address(o.ReplyTo[0]))
	}
	if o.HTML != "" {
		d.Content = message.Some(o.HTML)
		d.ContentType = message.Some(message.ContentTypeHTML)
	} else {
		d.Content = message.Some(o.Text)
	}
	headers := make(map[string]string)
	if len(o.InReplyTo) > 0 {
		headers["In-Reply-To"] = msgIDList(o.InReplyTo)
	}
	if len(o.References) > 0 {
		headers["References"] = msgIDList(o.References)
	}
	if len(headers) > 0 {
		d.CustomHeaders = message.Some(headers)
	}
	return &draft{description: d, attachments: partAttachments(o)}
}

func partAttachments(o *mailaccess.Original) []pendingAttachment {
	out := make([]pendingAttachment, 0, len(o.Parts))
	for _, p := range o.Parts {
		disposition := attachment.DispositionAttachment
		if p.Inline {
			disposition = attachment.DispositionInline
		}
		out = append(out, pendingAttachment{
			data: p.Data,
			desc: attachment.Description{
				Name:        p.Name,
				MimeType:    p.MimeType,
				ContentID:   attachment.ParseContentID(p.ContentID),
				Disposition: disposition,
				Origin:      attachment.OriginMail,
				Size:        int64(len(p.Data)),
			},
		})
	}
	return out
}

// quote renders the reply body: an attribution line followed by the
// original text with every line prefixed by "> ".
func quote(o *mailaccess.Original) string {
	var b strings.Builder
	b.WriteString("\n\n")
	from := formatList(o.From)
	switch {
	case !o.Date.IsZero() && from != "":
		fmt.Fprintf(&b, "On %s, %s wrote:\n", o.Date.Format(quoteDateLayout), from)
	case from != "":
		fmt.Fprintf(&b, "%s wrote:\n", from)
	}
	sc := bufio.NewScanner(strings.NewReader(bodyText(o)))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" || strings.HasPrefix(line, ">") {
			b.WriteString(">" + line + "\n")
		} else {
			b.WriteString("> " + line + "\n")
		}
	}
	return b.String()
}

// bodyText prefers the text part and falls back to the HTML part as text.
func bodyText(o *mailaccess.Original) string {
	if o.Text != "" {
		return o.Text
	}
	if o.HTML != "" {
		return htmlstrip.String(o.HTML)
	}
	return ""
}

func threadHeaders(o *mailaccess.Original) map[string]string {
	headers := make(map[string]string)
	if o.MessageID == "" {
		return headers
	}
	headers["In-Reply-To"] = "<" + o.MessageID + ">"
	refs := o.References
	if len(refs) == 0 && len(o.InReplyTo) == 1 {
		refs = o.InReplyTo
	}
	headers["References"] = msgIDList(append(append([]string{}, refs...), o.MessageID))
	return headers
}

func msgIDList(list []string) string {
	out := make([]string, len(list))
	for i, id := range list {
		out[i] = "<" + id + ">"
	}
	return strings.Join(out, " ")
}

// prefixSubject adds prefix unless subject already starts with it.
func prefixSubject(prefix, subject string) string {
	if strings.HasPrefix(strings.ToLower(subject), strings.ToLower(prefix)) {
		return subject
	}
	return prefix + subject
}

func writeHeaderLine(b *strings.Builder, name, value string) {
	if value != "" {
		fmt.Fprintf(b, "%s: %s\n", name, value)
	}
}

func address(a *mail.Address) message.Address {
	return message.Address{Personal: a.Name, Address: a.Address}
}

func addresses(list []*mail.Address) []message.Address {
	if len(list) == 0 {
		return nil
	}
	out := make([]message.Address, len(list))
	for i, a := range list {
		out[i] = address(a)
	}
	return out
}

func formatList(list []*mail.Address) string {
	return message.FormatAddressList(addresses(list))
}
