package compose

import (
	"bytes"
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"

	"github.com/jarrod-lowe/jmap-service-compose/internal/attachment"
	"github.com/jarrod-lowe/jmap-service-compose/internal/composeerr"
	"github.com/jarrod-lowe/jmap-service-compose/internal/ids"
	"github.com/jarrod-lowe/jmap-service-compose/internal/message"
)

// OpenParams describes a new composition space.
type OpenParams struct {
	Type        message.MetaType
	ReplyFor    *ids.MailPath
	ForwardsFor []ids.MailPath
	EditFor     *ids.MailPath
	// Description is applied on top of whatever the space derives from
	// the referenced messages. Its Attachments are ignored.
	Description message.Description
	ClientToken ids.ClientToken
}

func (p *OpenParams) check() error {
	if p.Type == "" {
		p.Type = message.MetaTypeNew
	}
	switch {
	case p.Type.IsReply() && p.ReplyFor == nil:
		return composeerr.NoReplyFor.New()
	case p.Type.IsForward() && len(p.ForwardsFor) == 0:
		return composeerr.NoForwardFor.New()
	case p.Type == message.MetaTypeEdit && p.EditFor == nil:
		return composeerr.InvalidIdentifier.New("editFor")
	}
	return nil
}

// Open creates a composition space. Reply, forward, edit, copy and resend
// spaces start from the referenced messages.
func (s *Service) Open(ctx context.Context, sess *Session, p OpenParams) (*Space, error) {
	ctx, span := s.startSpan(ctx, "Open", sess)
	defer span.End()

	space, err := s.open(ctx, sess, p)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return space, nil
}

func (s *Service) open(ctx context.Context, sess *Session, p OpenParams) (*Space, error) {
	if err := p.check(); err != nil {
		return nil, err
	}

	d, err := s.derive(ctx, sess, p)
	if err != nil {
		return nil, err
	}

	meta := message.Meta{
		Type:        p.Type,
		Date:        s.now().UTC(),
		ReplyFor:    p.ReplyFor,
		ForwardsFor: p.ForwardsFor,
	}
	if p.Type == message.MetaTypeEdit {
		meta.EditFor = p.EditFor
	}
	overrides := p.Description
	overrides.Attachments = message.Option[[]attachment.Attachment]{}
	m := message.Apply(message.NewMessage(d.description), overrides)
	m = message.Apply(m, message.Description{Meta: message.Some(meta)})

	if err := s.validate(ctx, sess, m, m.Description()); err != nil {
		return nil, err
	}

	// The space record must exist before its derived attachments do.
	id := uuid.New()
	created, err := s.store.OpenCompositionSpace(ctx, sess.AccountID, Space{
		ID:          id,
		AccountID:   sess.AccountID,
		ClientToken: p.ClientToken,
		Message:     m,
		CreatedAt:   s.now().UTC(),
	})
	if err != nil {
		return nil, storeErr(err)
	}

	saved, err := s.saveDerived(ctx, sess, id, d.attachments)
	if err != nil {
		s.discardSpace(ctx, sess, id)
		return nil, err
	}
	created.Message = message.Apply(created.Message, message.Description{Attachments: message.Some(saved)})

	sess.Registry.MarkActive(id).SetReferences(created.Message.Meta)
	return created, nil
}

// saveDerived stores the attachments taken from original messages. If one
// fails the ones already saved are removed again.
func (s *Service) saveDerived(ctx context.Context, sess *Session, id uuid.UUID, pending []pendingAttachment) ([]attachment.Attachment, error) {
	if len(pending) == 0 {
		return nil, nil
	}
	storage, err := s.storage(ctx, sess)
	if err != nil {
		return nil, err
	}
	saved := make([]attachment.Attachment, 0, len(pending))
	for _, pa := range pending {
		desc := pa.desc
		desc.CompositionSpaceID = id
		a, err := attachment.Save(ctx, storage, sess.AccountID, bytes.NewReader(pa.data), desc, s.limits.MaxMailSize)
		if err != nil {
			s.dropAttachments(ctx, sess, id)
			return nil, attachmentErr(err, id, uuid.Nil)
		}
		saved = append(saved, *a)
	}
	return saved, nil
}

// discardSpace removes a space whose derived attachments could not be
// saved.
func (s *Service) discardSpace(ctx context.Context, sess *Session, id uuid.UUID) {
	if _, err := s.store.CloseCompositionSpace(ctx, sess.AccountID, id); err != nil {
		logger.ErrorContext(ctx, "Failed to close composition space",
			slog.String("space_id", id.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) dropAttachments(ctx context.Context, sess *Session, id uuid.UUID) {
	storage, err := s.storage(ctx, sess)
	if err != nil {
		return
	}
	if err := storage.DeleteAttachmentsByCompositionSpace(ctx, sess.AccountID, id); err != nil {
		logger.ErrorContext(ctx, "Failed to delete attachments of composition space",
			slog.String("space_id", id.String()),
			slog.String("error", err.Error()),
		)
	}
}
