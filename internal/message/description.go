package message

import (
	"maps"
	"slices"

	"github.com/jarrod-lowe/jmap-service-compose/internal/attachment"
)

// Field names a settable message field.
type Field string

const (
	FieldFrom                  Field = "from"
	FieldSender                Field = "sender"
	FieldReplyTo               Field = "replyTo"
	FieldTo                    Field = "to"
	FieldCc                    Field = "cc"
	FieldBcc                   Field = "bcc"
	FieldSubject               Field = "subject"
	FieldContent               Field = "content"
	FieldContentType           Field = "contentType"
	FieldRequestReadReceipt    Field = "requestReadReceipt"
	FieldSharedAttachmentsInfo Field = "sharedAttachmentsInfo"
	FieldAttachments           Field = "attachments"
	FieldMeta                  Field = "meta"
	FieldSecurity              Field = "security"
	FieldPriority              Field = "priority"
	FieldContentEncrypted      Field = "contentEncrypted"
	FieldCustomHeaders         Field = "customHeaders"
)

// Description is a partial update of a Message. Only touched fields are
// applied. Assign Some(v) to set a field and Removed[T]() to clear it; both
// touch the field. Value() on an untouched field returns the zero value,
// so check IsSet first.
type Description struct {
	From                  Option[Address]                 `json:"from,omitzero"`
	Sender                Option[Address]                 `json:"sender,omitzero"`
	ReplyTo               Option[Address]                 `json:"replyTo,omitzero"`
	To                    Option[[]Address]               `json:"to,omitzero"`
	Cc                    Option[[]Address]               `json:"cc,omitzero"`
	Bcc                   Option[[]Address]               `json:"bcc,omitzero"`
	Subject               Option[string]                  `json:"subject,omitzero"`
	Content               Option[string]                  `json:"content,omitzero"`
	ContentType           Option[ContentType]             `json:"contentType,omitzero"`
	RequestReadReceipt    Option[bool]                    `json:"requestReadReceipt,omitzero"`
	SharedAttachmentsInfo Option[SharedAttachmentsInfo]   `json:"sharedAttachmentsInfo,omitzero"`
	Attachments           Option[[]attachment.Attachment] `json:"-"`
	Meta                  Option[Meta]                    `json:"meta,omitzero"`
	Security              Option[Security]                `json:"security,omitzero"`
	Priority              Option[Priority]                `json:"priority,omitzero"`
	ContentEncrypted      Option[bool]                    `json:"contentEncrypted,omitzero"`
	CustomHeaders         Option[map[string]string]       `json:"customHeaders,omitzero"`
}

// Fields lists the touched fields in declaration order.
func (d Description) Fields() []Field {
	var out []Field
	add := func(set bool, f Field) {
		if set {
			out = append(out, f)
		}
	}
	add(d.From.IsSet(), FieldFrom)
	add(d.Sender.IsSet(), FieldSender)
	add(d.ReplyTo.IsSet(), FieldReplyTo)
	add(d.To.IsSet(), FieldTo)
	add(d.Cc.IsSet(), FieldCc)
	add(d.Bcc.IsSet(), FieldBcc)
	add(d.Subject.IsSet(), FieldSubject)
	add(d.Content.IsSet(), FieldContent)
	add(d.ContentType.IsSet(), FieldContentType)
	add(d.RequestReadReceipt.IsSet(), FieldRequestReadReceipt)
	add(d.SharedAttachmentsInfo.IsSet(), FieldSharedAttachmentsInfo)
	add(d.Attachments.IsSet(), FieldAttachments)
	add(d.Meta.IsSet(), FieldMeta)
	add(d.Security.IsSet(), FieldSecurity)
	add(d.Priority.IsSet(), FieldPriority)
	add(d.ContentEncrypted.IsSet(), FieldContentEncrypted)
	add(d.CustomHeaders.IsSet(), FieldCustomHeaders)
	return out
}

// IsEmpty reports whether no field is touched.
func (d Description) IsEmpty() bool {
	return len(d.Fields()) == 0
}

// SeemsEqual reports whether applying other on top of d would change
// nothing. The comparison is directional: only the fields touched in other
// are compared, against d's values whether or not d touched them. So
// a.SeemsEqual(b) and b.SeemsEqual(a) can differ. Priority and content
// type are compared after the defaults Apply fills in for zero values.
func (d Description) SeemsEqual(other Description) bool {
	if other.From.IsSet() && d.From.Value() != other.From.Value() {
		return false
	}
	if other.Sender.IsSet() && d.Sender.Value() != other.Sender.Value() {
		return false
	}
	if other.ReplyTo.IsSet() && d.ReplyTo.Value() != other.ReplyTo.Value() {
		return false
	}
	if other.To.IsSet() && !slices.Equal(d.To.Value(), other.To.Value()) {
		return false
	}
	if other.Cc.IsSet() && !slices.Equal(d.Cc.Value(), other.Cc.Value()) {
		return false
	}
	if other.Bcc.IsSet() && !slices.Equal(d.Bcc.Value(), other.Bcc.Value()) {
		return false
	}
	if other.Subject.IsSet() && d.Subject.Value() != other.Subject.Value() {
		return false
	}
	if other.Content.IsSet() && d.Content.Value() != other.Content.Value() {
		return false
	}
	if other.ContentType.IsSet() && d.ContentType.Value().orDefault() != other.ContentType.Value().orDefault() {
		return false
	}
	if other.RequestReadReceipt.IsSet() && d.RequestReadReceipt.Value() != other.RequestReadReceipt.Value() {
		return false
	}
	if other.SharedAttachmentsInfo.IsSet() && !d.SharedAttachmentsInfo.Value().Equal(other.SharedAttachmentsInfo.Value()) {
		return false
	}
	if other.Attachments.IsSet() && !sameAttachments(d.Attachments.Value(), other.Attachments.Value()) {
		return false
	}
	if other.Meta.IsSet() && !d.Meta.Value().Equal(other.Meta.Value()) {
		return false
	}
	if other.Security.IsSet() && d.Security.Value() != other.Security.Value() {
		return false
	}
	if other.Priority.IsSet() && d.Priority.Value().orDefault() != other.Priority.Value().orDefault() {
		return false
	}
	if other.ContentEncrypted.IsSet() && d.ContentEncrypted.Value() != other.ContentEncrypted.Value() {
		return false
	}
	if other.CustomHeaders.IsSet() && !maps.Equal(d.CustomHeaders.Value(), other.CustomHeaders.Value()) {
		return false
	}
	return true
}

// sameAttachments compares attachment lists by ID and order.
func sameAttachments(a, b []attachment.Attachment) bool {
	return slices.EqualFunc(a, b, func(x, y attachment.Attachment) bool {
		return x.ID == y.ID
	})
}
