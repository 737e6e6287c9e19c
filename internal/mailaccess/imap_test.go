package mailaccess

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"

	"github.com/jarrod-lowe/jmap-service-compose/internal/ids"
)

const (
	testUser = "alice"
	testPass = "wonderland"
)

type staticPasswords map[int]string

func (p staticPasswords) Password(_ context.Context, account Account) (string, error) {
	pw, ok := p[account.ID]
	if !ok {
		return "", errors.New("no password")
	}
	return pw, nil
}

// newTestServer starts an in-memory IMAP server with INBOX and Drafts.
func newTestServer(t *testing.T) string {
	t.Helper()

	mem := imapmemserver.New()
	user := imapmemserver.NewUser(testUser, testPass)
	if err := user.Create("INBOX", nil); err != nil {
		t.Fatal(err)
	}
	if err := user.Create("Drafts", nil); err != nil {
		t.Fatal(err)
	}
	mem.AddUser(user)

	srv := imapserver.New(&imapserver.Options{
		NewSession: func(_ *imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return mem.NewSession(), nil, nil
		},
		InsecureAuth: true,
		Caps: imap.CapSet{
			imap.CapIMAP4rev1: {},
		},
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	return ln.Addr().String()
}

func newTestConnector(t *testing.T, password string) *IMAPConnector {
	t.Helper()
	addr := newTestServer(t)
	return NewIMAPConnector([]Account{{
		ID:       1,
		Addr:     addr,
		Username: testUser,
		Security: SecurityNone,
	}}, staticPasswords{1: password}, nil)
}

var testDraft = []byte("From: Alice <alice@example.com>\r\n" +
	"To: Bob <bob@example.com>\r\n" +
	"Subject: Draft\r\n" +
	"Message-ID: <draft-1@example.com>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Hello Bob\r\n")

func TestIMAPConnection_DraftLifecycle(t *testing.T) {
	ctx := context.Background()
	connector := newTestConnector(t, testPass)

	conn, err := connector.Connect(ctx, 1)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Close()

	path, err := conn.AppendDraft(ctx, "", testDraft)
	if err != nil {
		t.Fatalf("AppendDraft failed: %v", err)
	}
	if path.AccountID != 1 || path.Folder != "Drafts" || path.MailID == "" {
		t.Errorf("path = %+v", path)
	}

	raw, err := conn.FetchRaw(ctx, path)
	if err != nil {
		t.Fatalf("FetchRaw failed: %v", err)
	}
	if !bytes.Equal(raw, testDraft) {
		t.Errorf("raw = %q, want %q", raw, testDraft)
	}

	original, err := ReadOriginal(ctx, conn, path)
	if err != nil {
		t.Fatalf("ReadOriginal failed: %v", err)
	}
	if original.Subject != "Draft" || original.MessageID != "draft-1@example.com" {
		t.Errorf("original = %+v", original)
	}

	if err := conn.DeleteMessage(ctx, path); err != nil {
		t.Fatalf("DeleteMessage failed: %v", err)
	}
	if _, err := conn.FetchRaw(ctx, path); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("FetchRaw after delete err = %v, want ErrMessageNotFound", err)
	}
}

func TestIMAPConnection_AppendTwiceGetsDistinctUIDs(t *testing.T) {
	ctx := context.Background()
	conn, err := newTestConnector(t, testPass).Connect(ctx, 1)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Close()

	first, err := conn.AppendDraft(ctx, "INBOX", testDraft)
	if err != nil {
		t.Fatalf("AppendDraft failed: %v", err)
	}
	second, err := conn.AppendDraft(ctx, "INBOX", testDraft)
	if err != nil {
		t.Fatalf("AppendDraft failed: %v", err)
	}
	if first == second {
		t.Errorf("both drafts got path %s", first)
	}
}

func TestIMAPConnection_FolderExists(t *testing.T) {
	ctx := context.Background()
	conn, err := newTestConnector(t, testPass).Connect(ctx, 1)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Close()

	tests := []struct {
		folder string
		want   bool
	}{
		{"Drafts", true},
		{"INBOX", true},
		{"Shared Attachments", false},
	}
	for _, tt := range tests {
		got, err := conn.FolderExists(ctx, tt.folder)
		if err != nil {
			t.Fatalf("FolderExists(%q) failed: %v", tt.folder, err)
		}
		if got != tt.want {
			t.Errorf("FolderExists(%q) = %v, want %v", tt.folder, got, tt.want)
		}
	}
}

func TestIMAPConnection_Errors(t *testing.T) {
	ctx := context.Background()
	conn, err := newTestConnector(t, testPass).Connect(ctx, 1)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Close()

	missingFolder := ids.MailPath{AccountID: 1, Folder: "Nope", MailID: "1"}
	if _, err := conn.FetchRaw(ctx, missingFolder); !errors.Is(err, ErrFolderNotFound) {
		t.Errorf("missing folder err = %v, want ErrFolderNotFound", err)
	}

	badID := ids.MailPath{AccountID: 1, Folder: "INBOX", MailID: "abc"}
	if _, err := conn.FetchRaw(ctx, badID); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("bad mail id err = %v, want ErrMessageNotFound", err)
	}

	otherAccount := ids.MailPath{AccountID: 7, Folder: "INBOX", MailID: "1"}
	if err := conn.DeleteMessage(ctx, otherAccount); !errors.Is(err, ErrUnknownAccount) {
		t.Errorf("other account err = %v, want ErrUnknownAccount", err)
	}
}

func TestIMAPConnector_ConnectErrors(t *testing.T) {
	ctx := context.Background()

	connector := newTestConnector(t, "wrong")
	if _, err := connector.Connect(ctx, 1); err == nil {
		t.Error("expected login failure")
	}
	if _, err := connector.Connect(ctx, 9); !errors.Is(err, ErrUnknownAccount) {
		t.Errorf("unknown account err = %v, want ErrUnknownAccount", err)
	}
}

func TestNewIMAPConnector_DefaultsDraftsFolder(t *testing.T) {
	c := NewIMAPConnector([]Account{{ID: 0}, {ID: 1, DraftsFolder: "Entwürfe"}}, staticPasswords{}, nil)

	a, _ := c.Account(0)
	if a.DraftsFolder != "Drafts" {
		t.Errorf("DraftsFolder = %q, want Drafts", a.DraftsFolder)
	}
	b, _ := c.Account(1)
	if b.DraftsFolder != "Entwürfe" {
		t.Errorf("DraftsFolder = %q, want Entwürfe", b.DraftsFolder)
	}
}
