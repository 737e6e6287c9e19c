package message

import (
	"testing"

	"github.com/jarrod-lowe/jmap-service-compose/internal/ids"
)

func TestNewMessage_Defaults(t *testing.T) {
	m := NewMessage(Description{Subject: Some("Hi")})

	if m.Priority != PriorityNormal {
		t.Errorf("Priority = %v, want normal", m.Priority)
	}
	if m.SharedAttachmentsInfo.Enabled {
		t.Error("shared attachments should be disabled")
	}
	if !m.Security.IsDisabled() {
		t.Error("security should be disabled")
	}
	if m.Meta.Type != MetaTypeNew {
		t.Errorf("Meta.Type = %q, want new", m.Meta.Type)
	}
	if m.ContentType != ContentTypeText {
		t.Errorf("ContentType = %q", m.ContentType)
	}
	if m.Subject != "Hi" {
		t.Errorf("Subject = %q", m.Subject)
	}
}

func TestNewMessage_RemovedPriorityFallsBackToNormal(t *testing.T) {
	m := NewMessage(Description{Priority: Removed[Priority]()})
	if m.Priority != PriorityNormal {
		t.Errorf("Priority = %v, want normal", m.Priority)
	}
}

func TestApply_OnlyTouchedFields(t *testing.T) {
	orig := NewMessage(Description{
		Subject: Some("Original"),
		To:      Some([]Address{{Address: "a@example.com"}}),
		Content: Some("body"),
	})

	updated := Apply(orig, Description{
		Subject: Some("Changed"),
		Content: Removed[string](),
	})

	if updated.Subject != "Changed" {
		t.Errorf("Subject = %q", updated.Subject)
	}
	if updated.Content != "" {
		t.Errorf("Content = %q, want removed", updated.Content)
	}
	if len(updated.To) != 1 || updated.To[0].Address != "a@example.com" {
		t.Errorf("To = %v, want kept", updated.To)
	}
	if orig.Subject != "Original" || orig.Content != "body" {
		t.Error("Apply must not modify the original snapshot")
	}
}

func TestApply_DoesNotAliasSlices(t *testing.T) {
	to := []Address{{Address: "a@example.com"}}
	m := NewMessage(Description{To: Some(to)})
	to[0].Address = "changed@example.com"

	if m.To[0].Address != "a@example.com" {
		t.Error("snapshot shares its slice with the patch")
	}

	path := ids.MailPath{AccountID: 1, Folder: "INBOX", MailID: "7"}
	meta := Meta{Type: MetaTypeForwardInline, ForwardsFor: []ids.MailPath{path}}
	m2 := NewMessage(Description{Meta: Some(meta)})
	meta.ForwardsFor[0].MailID = "8"
	if m2.Meta.ForwardsFor[0].MailID != "7" {
		t.Error("snapshot shares meta slice with the patch")
	}
}

func TestMessage_DescriptionRoundTrip(t *testing.T) {
	m := NewMessage(Description{
		From:          Some(Address{Personal: "Me", Address: "me@example.com"}),
		Subject:       Some("Round trip"),
		Priority:      Some(PriorityHigh),
		CustomHeaders: Some(map[string]string{"X-Test": "1"}),
	})

	d := m.Description()
	if len(d.Fields()) != 17 {
		t.Errorf("touched fields = %d, want all 17", len(d.Fields()))
	}
	back := NewMessage(d)
	if !back.Description().SeemsEqual(d) {
		t.Error("snapshot rebuilt from its description differs")
	}
}

func TestParsePriority(t *testing.T) {
	tests := map[string]Priority{
		"high": PriorityHigh, "1": PriorityHigh, "LOW": PriorityLow, "5": PriorityLow,
		"normal": PriorityNormal, "": PriorityNormal, "3": PriorityNormal,
	}
	for in, want := range tests {
		if got := ParsePriority(in); got != want {
			t.Errorf("ParsePriority(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseMetaType(t *testing.T) {
	if mt, ok := ParseMetaType("Forward-Attachment"); !ok || mt != MetaTypeForwardAttachment || !mt.IsForward() {
		t.Errorf("ParseMetaType = %q, %v", mt, ok)
	}
	if _, ok := ParseMetaType("bogus"); ok {
		t.Error("unknown meta type should not parse")
	}
}
