package mailaccess

import (
	"strings"
	"testing"

	"github.com/jarrod-lowe/jmap-service-compose/internal/ids"
)

const multipartOriginal = "From: =?iso-8859-1?q?J=FCrgen?= <juergen@example.com>\r\n" +
	"To: alice@example.com, Bob <bob@example.com>\r\n" +
	"Cc: carol@example.com\r\n" +
	"Reply-To: list@example.com\r\n" +
	"Subject: Quarterly numbers\r\n" +
	"Date: Tue, 06 Oct 2026 09:30:00 +0200\r\n" +
	"Message-ID: <orig-1@example.com>\r\n" +
	"References: <root@example.com>\r\n" +
	"In-Reply-To: <root@example.com>\r\n" +
	"X-Priority: 1 (Highest)\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=outer\r\n" +
	"\r\n" +
	"--outer\r\n" +
	"Content-Type: multipart/alternative; boundary=inner\r\n" +
	"\r\n" +
	"--inner\r\n" +
	"Content-Type: text/plain; charset=iso-8859-1\r\n" +
	"Content-Transfer-Encoding: quoted-printable\r\n" +
	"\r\n" +
	"Gr=FC=DFe\r\n" +
	"--inner\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>Grüße</p>\r\n" +
	"--inner--\r\n" +
	"--outer\r\n" +
	"Content-Type: application/pdf; name=report.pdf\r\n" +
	"Content-Disposition: attachment; filename=report.pdf\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"JVBERi0=\r\n" +
	"--outer--\r\n"

func TestParseOriginal(t *testing.T) {
	path := ids.MailPath{AccountID: 0, Folder: "INBOX", MailID: "12"}
	o, err := ParseOriginal(path, []byte(multipartOriginal))
	if err != nil {
		t.Fatalf("ParseOriginal failed: %v", err)
	}

	if o.Path != path {
		t.Errorf("Path = %v", o.Path)
	}
	if o.MessageID != "orig-1@example.com" {
		t.Errorf("MessageID = %q", o.MessageID)
	}
	if len(o.References) != 1 || o.References[0] != "root@example.com" {
		t.Errorf("References = %v", o.References)
	}
	if len(o.From) != 1 || o.From[0].Name != "Jürgen" {
		t.Errorf("From = %v", o.From)
	}
	if len(o.To) != 2 || len(o.Cc) != 1 || len(o.ReplyTo) != 1 {
		t.Errorf("To = %v Cc = %v ReplyTo = %v", o.To, o.Cc, o.ReplyTo)
	}
	if o.Date.IsZero() {
		t.Error("Date not parsed")
	}
	if !strings.HasPrefix(o.Priority, "1") {
		t.Errorf("Priority = %q", o.Priority)
	}
	if strings.TrimSpace(o.Text) != "Grüße" {
		t.Errorf("Text = %q", o.Text)
	}
	if !strings.Contains(o.HTML, "<p>Grüße</p>") {
		t.Errorf("HTML = %q", o.HTML)
	}
	if len(o.Parts) != 1 {
		t.Fatalf("Parts = %d, want 1", len(o.Parts))
	}
	part := o.Parts[0]
	if part.Name != "report.pdf" || part.MimeType != "application/pdf" || part.Inline {
		t.Errorf("part = %+v", part)
	}
	if string(part.Data) != "%PDF-" {
		t.Errorf("part data = %q", part.Data)
	}
}

func TestParseOriginal_SinglePart(t *testing.T) {
	raw := "Subject: Hi\r\nContent-Type: text/html\r\n\r\n<b>hi</b>"
	o, err := ParseOriginal(ids.MailPath{Folder: "INBOX", MailID: "1"}, []byte(raw))
	if err != nil {
		t.Fatalf("ParseOriginal failed: %v", err)
	}
	if o.HTML != "<b>hi</b>" || o.Text != "" {
		t.Errorf("HTML = %q Text = %q", o.HTML, o.Text)
	}
}

func TestParseOriginal_InlineImageIsPart(t *testing.T) {
	raw := "Subject: Logo\r\n" +
		"Content-Type: multipart/related; boundary=b\r\n" +
		"\r\n" +
		"--b\r\n" +
		"Content-Type: text/html\r\n" +
		"\r\n" +
		"<img src=\"cid:logo@x\">\r\n" +
		"--b\r\n" +
		"Content-Type: image/png; name=logo.png\r\n" +
		"Content-ID: <logo@x>\r\n" +
		"Content-Disposition: inline\r\n" +
		"\r\n" +
		"PNG\r\n" +
		"--b--\r\n"
	o, err := ParseOriginal(ids.MailPath{Folder: "INBOX", MailID: "1"}, []byte(raw))
	if err != nil {
		t.Fatalf("ParseOriginal failed: %v", err)
	}
	if len(o.Parts) != 1 {
		t.Fatalf("Parts = %d, want 1", len(o.Parts))
	}
	if p := o.Parts[0]; !p.Inline || p.ContentID != "logo@x" || p.Name != "logo.png" {
		t.Errorf("part = %+v", p)
	}
}
