package compose

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/jarrod-lowe/jmap-service-compose/internal/composeerr"
	"github.com/jarrod-lowe/jmap-service-compose/internal/message"
)

// validate checks the message a patch would produce. Folder and key checks
// only run when d touches the fields they depend on.
func (s *Service) validate(ctx context.Context, sess *Session, m message.Message, d message.Description) error {
	if err := s.checkLimits(m); err != nil {
		return err
	}
	if d.SharedAttachmentsInfo.IsSet() && m.SharedAttachmentsInfo.Enabled {
		if err := s.checkSharedFolder(ctx, sess); err != nil {
			return err
		}
	}
	if d.Security.IsSet() || d.To.IsSet() || d.Cc.IsSet() || d.Bcc.IsSet() {
		if err := s.checkKeys(ctx, sess, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) checkLimits(m message.Message) error {
	if limit := s.limits.MaxSubjectLength; limit > 0 && utf8.RuneCountInString(m.Subject) > limit {
		return composeerr.FieldTooLong.New(string(message.FieldSubject), limit)
	}
	if limit := s.limits.MaxContentLength; limit > 0 && len(m.Content) > limit {
		return composeerr.FieldTooLong.New(string(message.FieldContent), limit)
	}
	if limit := s.limits.MaxHeaderLength; limit > 0 {
		for name, value := range m.CustomHeaders {
			if len(name)+len(value)+2 > limit {
				return composeerr.FieldTooLong.New(name, limit)
			}
		}
	}
	return nil
}

func (s *Service) checkSharedFolder(ctx context.Context, sess *Session) error {
	if s.sharedFolder == "" {
		return composeerr.MissingSharedAttachmentsFolder.New()
	}
	conn, err := sess.Connector.Connect(ctx, s.draftAccount)
	if err != nil {
		return composeerr.IOError.Wrap(err, fmt.Sprintf("connecting to mail account %d: %v", s.draftAccount, err))
	}
	defer conn.Close()

	ok, err := conn.FolderExists(ctx, s.sharedFolder)
	if err != nil {
		return composeerr.IOError.Wrap(err, err.Error())
	}
	if !ok {
		return composeerr.InconsistentSharedAttachmentsFolder.New(s.sharedFolder)
	}
	return nil
}

func (s *Service) checkKeys(ctx context.Context, sess *Session, m message.Message) error {
	if m.Security.IsDisabled() {
		return nil
	}
	if s.keys == nil {
		return composeerr.NoKeyStorage.New()
	}
	recipients := make([]message.Address, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	recipients = append(recipients, m.To...)
	recipients = append(recipients, m.Cc...)
	recipients = append(recipients, m.Bcc...)
	return s.keys.CheckKeys(ctx, sess.AccountID, m.Security, recipients)
}
