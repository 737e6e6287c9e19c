// Package message holds the immutable message snapshot of a composition
// space and the patch type used to change it.
package message

import (
	"maps"
	"slices"

	"github.com/jarrod-lowe/jmap-service-compose/internal/attachment"
)

// Message is an immutable snapshot. Values built by NewMessage and Apply
// own their slices and maps; callers must not modify them.
type Message struct {
	From                  Address                 `json:"from,omitzero"`
	Sender                Address                 `json:"sender,omitzero"`
	ReplyTo               Address                 `json:"replyTo,omitzero"`
	To                    []Address               `json:"to,omitempty"`
	Cc                    []Address               `json:"cc,omitempty"`
	Bcc                   []Address               `json:"bcc,omitempty"`
	Subject               string                  `json:"subject,omitempty"`
	Content               string                  `json:"content,omitempty"`
	ContentType           ContentType             `json:"contentType"`
	RequestReadReceipt    bool                    `json:"requestReadReceipt"`
	SharedAttachmentsInfo SharedAttachmentsInfo   `json:"sharedAttachmentsInfo"`
	Attachments           []attachment.Attachment `json:"attachments,omitempty"`
	Meta                  Meta                    `json:"meta"`
	Security              Security                `json:"security"`
	Priority              Priority                `json:"priority"`
	ContentEncrypted      bool                    `json:"contentEncrypted"`
	CustomHeaders         map[string]string       `json:"customHeaders,omitempty"`
}

// NewMessage builds a snapshot from the touched fields of d. Untouched
// fields get their defaults: normal priority, text/plain content, shared
// attachments and security disabled, meta type "new".
func NewMessage(d Description) Message {
	return Apply(Message{
		ContentType:           ContentTypeText,
		SharedAttachmentsInfo: SharedAttachmentsDisabled,
		Meta:                  NewMeta(),
		Security:              SecurityDisabled,
		Priority:              PriorityNormal,
	}, d)
}

// Apply returns a copy of m with every touched field of d replaced.
func Apply(m Message, d Description) Message {
	out := m.clone()
	if v, ok := d.From.Get(); ok {
		out.From = v
	}
	if v, ok := d.Sender.Get(); ok {
		out.Sender = v
	}
	if v, ok := d.ReplyTo.Get(); ok {
		out.ReplyTo = v
	}
	if v, ok := d.To.Get(); ok {
		out.To = slices.Clone(v)
	}
	if v, ok := d.Cc.Get(); ok {
		out.Cc = slices.Clone(v)
	}
	if v, ok := d.Bcc.Get(); ok {
		out.Bcc = slices.Clone(v)
	}
	if v, ok := d.Subject.Get(); ok {
		out.Subject = v
	}
	if v, ok := d.Content.Get(); ok {
		out.Content = v
	}
	if v, ok := d.ContentType.Get(); ok {
		out.ContentType = v.orDefault()
	}
	if v, ok := d.RequestReadReceipt.Get(); ok {
		out.RequestReadReceipt = v
	}
	if v, ok := d.SharedAttachmentsInfo.Get(); ok {
		out.SharedAttachmentsInfo = v
	}
	if v, ok := d.Attachments.Get(); ok {
		out.Attachments = slices.Clone(v)
	}
	if v, ok := d.Meta.Get(); ok {
		if v.Type == "" {
			v.Type = MetaTypeNew
		}
		out.Meta = v.clone()
	}
	if v, ok := d.Security.Get(); ok {
		out.Security = v
	}
	if v, ok := d.Priority.Get(); ok {
		out.Priority = v.orDefault()
	}
	if v, ok := d.ContentEncrypted.Get(); ok {
		out.ContentEncrypted = v
	}
	if v, ok := d.CustomHeaders.Get(); ok {
		out.CustomHeaders = maps.Clone(v)
	}
	return out
}

func (m Message) clone() Message {
	m.To = slices.Clone(m.To)
	m.Cc = slices.Clone(m.Cc)
	m.Bcc = slices.Clone(m.Bcc)
	m.Attachments = slices.Clone(m.Attachments)
	m.Meta = m.Meta.clone()
	m.CustomHeaders = maps.Clone(m.CustomHeaders)
	return m
}

// Description returns a patch with every field of m touched.
func (m Message) Description() Description {
	c := m.clone()
	return Description{
		From:                  Some(c.From),
		Sender:                Some(c.Sender),
		ReplyTo:               Some(c.ReplyTo),
		To:                    Some(c.To),
		Cc:                    Some(c.Cc),
		Bcc:                   Some(c.Bcc),
		Subject:               Some(c.Subject),
		Content:               Some(c.Content),
		ContentType:           Some(c.ContentType),
		RequestReadReceipt:    Some(c.RequestReadReceipt),
		SharedAttachmentsInfo: Some(c.SharedAttachmentsInfo),
		Attachments:           Some(c.Attachments),
		Meta:                  Some(c.Meta),
		Security:              Some(c.Security),
		Priority:              Some(c.Priority),
		ContentEncrypted:      Some(c.ContentEncrypted),
		CustomHeaders:         Some(c.CustomHeaders),
	}
}

// AttachmentIDs lists the IDs of the message's attachments in order.
func (m Message) AttachmentIDs() []string {
	out := make([]string, len(m.Attachments))
	for i, a := range m.Attachments {
		out[i] = a.ID.String()
	}
	return out
}
