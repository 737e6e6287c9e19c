package mailaccess

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/jarrod-lowe/jmap-service-compose/internal/ids"
)

// Security selects how the IMAP connection is protected.
type Security string

const (
	SecurityTLS      Security = "tls"
	SecurityStartTLS Security = "starttls"
	SecurityNone     Security = "none"
)

// Account holds the IMAP settings of one mail account.
type Account struct {
	ID       int
	Addr     string
	Username string
	Security Security
	// DraftsFolder receives saved drafts when the caller names no folder.
	DraftsFolder string
}

// PasswordSource yields the login secret of a mail account.
type PasswordSource interface {
	Password(ctx context.Context, account Account) (string, error)
}

// IMAPConnector opens IMAP connections for a fixed set of accounts.
type IMAPConnector struct {
	accounts  map[int]Account
	passwords PasswordSource
	tlsConfig *tls.Config
	now       func() time.Time
}

var _ Connector = (*IMAPConnector)(nil)

// NewIMAPConnector creates a connector for accounts.
func NewIMAPConnector(accounts []Account, passwords PasswordSource, tlsConfig *tls.Config) *IMAPConnector {
	byID := make(map[int]Account, len(accounts))
	for _, a := range accounts {
		if a.DraftsFolder == "" {
			a.DraftsFolder = "Drafts"
		}
		byID[a.ID] = a
	}
	return &IMAPConnector{
		accounts:  byID,
		passwords: passwords,
		tlsConfig: tlsConfig,
		now:       time.Now,
	}
}

// Account returns the settings of mail account id.
func (c *IMAPConnector) Account(id int) (Account, bool) {
	a, ok := c.accounts[id]
	return a, ok
}

// Connect dials and logs in to mail account mailAccountID.
func (c *IMAPConnector) Connect(ctx context.Context, mailAccountID int) (Connection, error) {
	account, ok := c.accounts[mailAccountID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAccount, mailAccountID)
	}
	password, err := c.passwords.Password(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("reading password for mail account %d: %w", mailAccountID, err)
	}

	opts := &imapclient.Options{TLSConfig: c.tlsConfig}
	var client *imapclient.Client
	switch account.Security {
	case SecurityNone:
		client, err = imapclient.DialInsecure(account.Addr, opts)
	case SecurityStartTLS:
		client, err = imapclient.DialStartTLS(account.Addr, opts)
	default:
		client, err = imapclient.DialTLS(account.Addr, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", account.Addr, err)
	}

	if err := client.Login(account.Username, password).Wait(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("IMAP login for mail account %d: %w", mailAccountID, err)
	}

	return &imapConnection{
		account: account,
		client:  client,
		now:     c.now,
	}, nil
}

// imapConnection is a logged-in IMAP session.
type imapConnection struct {
	account  Account
	client   *imapclient.Client
	selected string
	readOnly bool
	now      func() time.Time
}

func (c *imapConnection) selectFolder(folder string, readOnly bool) error {
	if c.selected == folder && (readOnly || !c.readOnly) {
		return nil
	}
	if _, err := c.client.Select(folder, &imap.SelectOptions{ReadOnly: readOnly}).Wait(); err != nil {
		c.selected = ""
		var imapErr *imap.Error
		if errors.As(err, &imapErr) && imapErr.Type == imap.StatusResponseTypeNo {
			return fmt.Errorf("%w: %s", ErrFolderNotFound, folder)
		}
		return fmt.Errorf("selecting %s: %w", folder, err)
	}
	c.selected = folder
	c.readOnly = readOnly
	return nil
}

func parseUID(path ids.MailPath) (imap.UID, error) {
	n, err := strconv.ParseUint(path.MailID, 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%w: %s", ErrMessageNotFound, path)
	}
	return imap.UID(n), nil
}

func (c *imapConnection) checkAccount(path ids.MailPath) error {
	if path.AccountID != c.account.ID {
		return fmt.Errorf("%w: path %s on connection to account %d", ErrUnknownAccount, path, c.account.ID)
	}
	return nil
}

// DeleteMessage flags the message deleted and expunges it.
func (c *imapConnection) DeleteMessage(_ context.Context, path ids.MailPath) error {
	if err := c.checkAccount(path); err != nil {
		return err
	}
	uid, err := parseUID(path)
	if err != nil {
		return err
	}
	if err := c.selectFolder(path.Folder, false); err != nil {
		return err
	}

	uidSet := imap.UIDSetNum(uid)
	err = c.client.Store(uidSet, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}, nil).Close()
	if err != nil {
		return fmt.Errorf("flagging %s deleted: %w", path, err)
	}

	if c.client.Caps().Has(imap.CapUIDPlus) {
		err = c.client.UIDExpunge(uidSet).Close()
	} else {
		err = c.client.Expunge().Close()
	}
	if err != nil {
		return fmt.Errorf("expunging %s: %w", path, err)
	}
	return nil
}

// FetchRaw returns the full source without setting \Seen.
func (c *imapConnection) FetchRaw(_ context.Context, path ids.MailPath) ([]byte, error) {
	if err := c.checkAccount(path); err != nil {
		return nil, err
	}
	uid, err := parseUID(path)
	if err != nil {
		return nil, err
	}
	if err := c.selectFolder(path.Folder, true); err != nil {
		return nil, err
	}

	section := &imap.FetchItemBodySection{Peek: true}
	msgs, err := c.client.Fetch(imap.UIDSetNum(uid), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", path, err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, path)
	}
	raw := msgs[0].FindBodySection(section)
	if raw == nil {
		return nil, fmt.Errorf("%w: %s has no body", ErrMessageNotFound, path)
	}
	return raw, nil
}

// AppendDraft stores raw with \Draft and \Seen. Servers without UIDPLUS
// get the UID predicted from UIDNEXT.
func (c *imapConnection) AppendDraft(_ context.Context, folder string, raw []byte) (ids.MailPath, error) {
	if folder == "" {
		folder = c.account.DraftsFolder
	}

	var predicted imap.UID
	if !c.client.Caps().Has(imap.CapUIDPlus) {
		status, err := c.client.Status(folder, &imap.StatusOptions{UIDNext: true}).Wait()
		if err != nil {
			return ids.MailPath{}, fmt.Errorf("%w: %s", ErrFolderNotFound, folder)
		}
		predicted = status.UIDNext
	}

	cmd := c.client.Append(folder, int64(len(raw)), &imap.AppendOptions{
		Flags: []imap.Flag{imap.FlagDraft, imap.FlagSeen},
		Time:  c.now(),
	})
	if _, err := cmd.Write(raw); err != nil {
		_ = cmd.Close()
		return ids.MailPath{}, fmt.Errorf("writing draft to %s: %w", folder, err)
	}
	if err := cmd.Close(); err != nil {
		return ids.MailPath{}, fmt.Errorf("appending draft to %s: %w", folder, err)
	}
	data, err := cmd.Wait()
	if err != nil {
		return ids.MailPath{}, fmt.Errorf("appending draft to %s: %w", folder, err)
	}

	uid := predicted
	if data != nil && data.UID != 0 {
		uid = data.UID
	}
	if uid == 0 {
		return ids.MailPath{}, fmt.Errorf("server did not report the UID of the draft in %s", folder)
	}
	return ids.MailPath{
		AccountID: c.account.ID,
		Folder:    folder,
		MailID:    strconv.FormatUint(uint64(uid), 10),
	}, nil
}

// FolderExists lists folder by exact name.
func (c *imapConnection) FolderExists(_ context.Context, folder string) (bool, error) {
	boxes, err := c.client.List("", folder, nil).Collect()
	if err != nil {
		return false, fmt.Errorf("listing %s: %w", folder, err)
	}
	for _, box := range boxes {
		if box.Mailbox == folder && !hasAttr(box.Attrs, imap.MailboxAttrNonExistent) {
			return true, nil
		}
	}
	return false, nil
}

func hasAttr(attrs []imap.MailboxAttr, want imap.MailboxAttr) bool {
	for _, a := range attrs {
		if a == want {
			return true
		}
	}
	return false
}

// Close logs out and closes the socket.
func (c *imapConnection) Close() error {
	if err := c.client.Logout().Wait(); err != nil {
		_ = c.client.Close()
		return err
	}
	_ = c.client.Close()
	return nil
}
