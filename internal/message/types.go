package message

import (
	"slices"
	"strings"
	"time"

	"github.com/jarrod-lowe/jmap-service-compose/internal/ids"
)

// Priority is the X-Priority level of a message.
type Priority int

const (
	PriorityHigh   Priority = 1
	PriorityNormal Priority = 3
	PriorityLow    Priority = 5
)

// ParsePriority maps a level name or X-Priority number to a Priority.
func ParsePriority(s string) Priority {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "1", "2":
		return PriorityHigh
	case "low", "4", "5":
		return PriorityLow
	}
	return PriorityNormal
}

// orDefault maps the zero Priority to PriorityNormal.
func (p Priority) orDefault() Priority {
	if p == 0 {
		return PriorityNormal
	}
	return p
}

// String returns the lower-case level name.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	}
	return "normal"
}

// ContentType is the body type of a message.
type ContentType string

const (
	ContentTypeText        ContentType = "text/plain"
	ContentTypeHTML        ContentType = "text/html"
	ContentTypeAlternative ContentType = "multipart/alternative"
)

// ParseContentType maps s to a ContentType, defaulting to text/plain.
func ParseContentType(s string) ContentType {
	switch ct := ContentType(strings.ToLower(strings.TrimSpace(s))); ct {
	case ContentTypeHTML, ContentTypeAlternative:
		return ct
	}
	return ContentTypeText
}

// orDefault maps the empty ContentType to ContentTypeText.
func (c ContentType) orDefault() ContentType {
	if c == "" {
		return ContentTypeText
	}
	return c
}

// IsHTML reports whether the content is HTML.
func (c ContentType) IsHTML() bool {
	return c == ContentTypeHTML || c == ContentTypeAlternative
}

// MetaType tells how a composition space came to be.
type MetaType string

const (
	MetaTypeNew               MetaType = "new"
	MetaTypeReply             MetaType = "reply"
	MetaTypeReplyAll          MetaType = "reply-all"
	MetaTypeForwardInline     MetaType = "forward-inline"
	MetaTypeForwardAttachment MetaType = "forward-attachment"
	MetaTypeEdit              MetaType = "edit"
	MetaTypeCopy              MetaType = "copy"
	MetaTypeResend            MetaType = "resend"
)

// ParseMetaType maps s to a MetaType, reporting false for unknown values.
func ParseMetaType(s string) (MetaType, bool) {
	switch t := MetaType(strings.ToLower(strings.TrimSpace(s))); t {
	case MetaTypeNew, MetaTypeReply, MetaTypeReplyAll, MetaTypeForwardInline,
		MetaTypeForwardAttachment, MetaTypeEdit, MetaTypeCopy, MetaTypeResend:
		return t, true
	}
	return "", false
}

// IsReply reports whether t answers an existing message.
func (t MetaType) IsReply() bool {
	return t == MetaTypeReply || t == MetaTypeReplyAll
}

// IsForward reports whether t forwards existing messages.
func (t MetaType) IsForward() bool {
	return t == MetaTypeForwardInline || t == MetaTypeForwardAttachment
}

// Meta links a message to the messages it was derived from.
type Meta struct {
	Type        MetaType       `json:"type"`
	Date        time.Time      `json:"date,omitzero"`
	ReplyFor    *ids.MailPath  `json:"replyFor,omitempty"`
	ForwardsFor []ids.MailPath `json:"forwardsFor,omitempty"`
	EditFor     *ids.MailPath  `json:"editFor,omitempty"`
}

// NewMeta is the meta data of a message written from scratch.
func NewMeta() Meta {
	return Meta{Type: MetaTypeNew}
}

// Equal compares two Meta values.
func (m Meta) Equal(o Meta) bool {
	return m.Type == o.Type &&
		m.Date.Equal(o.Date) &&
		pathPtrEqual(m.ReplyFor, o.ReplyFor) &&
		pathPtrEqual(m.EditFor, o.EditFor) &&
		slices.Equal(m.ForwardsFor, o.ForwardsFor)
}

func (m Meta) clone() Meta {
	if m.ReplyFor != nil {
		p := *m.ReplyFor
		m.ReplyFor = &p
	}
	if m.EditFor != nil {
		p := *m.EditFor
		m.EditFor = &p
	}
	m.ForwardsFor = slices.Clone(m.ForwardsFor)
	return m
}

func pathPtrEqual(a, b *ids.MailPath) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Security holds the encryption and signing preferences of a message.
type Security struct {
	Encrypt   bool   `json:"encrypt"`
	PGPInline bool   `json:"pgpInline"`
	Sign      bool   `json:"sign"`
	Language  string `json:"language,omitempty"`
	Message   string `json:"message,omitempty"`
	PIN       string `json:"pin,omitempty"`
}

// SecurityDisabled neither encrypts nor signs.
var SecurityDisabled = Security{}

// IsDisabled reports whether s requests neither encryption nor signing.
func (s Security) IsDisabled() bool {
	return !s.Encrypt && !s.Sign
}

// SharedAttachmentsInfo configures delivering attachments as links.
type SharedAttachmentsInfo struct {
	Enabled    bool      `json:"enabled"`
	Language   string    `json:"language,omitempty"`
	AutoDelete bool      `json:"autoDelete"`
	Expiry     time.Time `json:"expiry,omitzero"`
	Password   string    `json:"password,omitempty"`
}

// SharedAttachmentsDisabled embeds attachments in the message.
var SharedAttachmentsDisabled = SharedAttachmentsInfo{}

// Equal compares two SharedAttachmentsInfo values.
func (s SharedAttachmentsInfo) Equal(o SharedAttachmentsInfo) bool {
	return s.Enabled == o.Enabled &&
		s.Language == o.Language &&
		s.AutoDelete == o.AutoDelete &&
		s.Expiry.Equal(o.Expiry) &&
		s.Password == o.Password
}
