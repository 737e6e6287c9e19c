package compose

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jarrod-lowe/jmap-service-compose/internal/attachment"
	"github.com/jarrod-lowe/jmap-service-compose/internal/composeerr"
	"github.com/jarrod-lowe/jmap-service-compose/internal/ids"
	"github.com/jarrod-lowe/jmap-service-compose/internal/message"
	"github.com/jarrod-lowe/jmap-service-compose/internal/transport"
)

// DefaultDraftsFolder receives saved drafts unless WithDrafts names another.
const DefaultDraftsFolder = "Drafts"

// Transport sends the space's message and closes the space. The message
// the space edits is deleted once the space is destroyed. It returns the
// Message-ID of the sent message.
func (s *Service) Transport(ctx context.Context, sess *Session, id uuid.UUID, token ids.ClientToken) (string, error) {
	ctx, span := s.startSpan(ctx, "Transport", sess)
	defer span.End()

	space, built, err := s.render(ctx, sess, id, token, transport.Options{})
	if err != nil {
		tracing.RecordError(span, err)
		return "", err
	}
	if err := s.sender.Send(ctx, built); err != nil {
		tracing.RecordError(span, err)
		return "", composeerr.TransportFailed.Wrap(err, err.Error())
	}
	span.SetAttributes(attribute.Int("compose.size", len(built.Raw)))

	logger.InfoContext(ctx, "Message sent",
		slog.String("account_id", sess.AccountID),
		slog.String("space_id", id.String()),
		slog.String("message_id", built.MessageID),
	)

	if editFor := space.Message.Meta.EditFor; editFor != nil {
		sess.Registry.Get(id).QueueCleanup(*editFor)
	}
	if err := s.discard(ctx, sess, id); err != nil {
		logger.ErrorContext(ctx, "Failed to close composition space after sending",
			slog.String("space_id", id.String()),
			slog.String("error", err.Error()),
		)
	}
	return built.MessageID, nil
}

// SaveDraft stores the space's message in the drafts folder and returns
// its path. The previously saved draft of the space is queued for
// deletion. With closeAfter the space is closed, otherwise it goes on
// editing the new draft.
func (s *Service) SaveDraft(ctx context.Context, sess *Session, id uuid.UUID, token ids.ClientToken, closeAfter bool) (ids.MailPath, error) {
	ctx, span := s.startSpan(ctx, "SaveDraft", sess)
	defer span.End()

	path, err := s.saveDraft(ctx, sess, id, token, closeAfter)
	if err != nil {
		tracing.RecordError(span, err)
		return ids.MailPath{}, err
	}
	return path, nil
}

func (s *Service) saveDraft(ctx context.Context, sess *Session, id uuid.UUID, token ids.ClientToken, closeAfter bool) (ids.MailPath, error) {
	space, built, err := s.render(ctx, sess, id, token, transport.Options{Draft: true})
	if err != nil {
		return ids.MailPath{}, err
	}

	conn, err := sess.Connector.Connect(ctx, s.draftAccount)
	if err != nil {
		return ids.MailPath{}, composeerr.IOError.Wrap(err, err.Error())
	}
	path, err := conn.AppendDraft(ctx, s.draftsFolder, built.Raw)
	if cerr := conn.Close(); cerr != nil {
		logger.ErrorContext(ctx, "Failed to close mail connection",
			slog.Int("mail_account", s.draftAccount),
			slog.String("error", cerr.Error()),
		)
	}
	if err != nil {
		return ids.MailPath{}, composeerr.IOError.Wrap(err, err.Error())
	}

	meta := space.Message.Meta
	if meta.EditFor != nil {
		sess.Registry.Get(id).QueueCleanup(*meta.EditFor)
	}

	if closeAfter {
		if err := s.discard(ctx, sess, id); err != nil {
			return ids.MailPath{}, err
		}
		return path, nil
	}

	meta.EditFor = &path
	updated, err := s.store.UpdateCompositionSpace(ctx, sess.AccountID, SpaceUpdate{
		ID:          id,
		Description: message.Description{Meta: message.Some(meta)},
	})
	if err != nil {
		return ids.MailPath{}, storeErr(err)
	}
	sess.Registry.MarkActive(id).SetReferences(updated.Message.Meta)
	return path, nil
}

// render loads the space, checks it can be sent and builds the message.
func (s *Service) render(ctx context.Context, sess *Session, id uuid.UUID, token ids.ClientToken, opts transport.Options) (*Space, *transport.Built, error) {
	space, err := s.load(ctx, sess, id)
	if err != nil {
		return nil, nil, err
	}
	if err := checkToken(space, token); err != nil {
		return nil, nil, err
	}
	m := space.Message
	if err := s.checkLimits(m); err != nil {
		return nil, nil, err
	}
	if !opts.Draft {
		if err := s.checkKeys(ctx, sess, m); err != nil {
			return nil, nil, err
		}
	}
	if err := s.checkSize(ctx, m); err != nil {
		return nil, nil, err
	}

	built, err := s.builder.Build(ctx, m, opts)
	if err != nil {
		return nil, nil, attachmentErr(err, id, uuid.Nil)
	}
	return space, built, nil
}

func (s *Service) checkSize(ctx context.Context, m message.Message) error {
	limit := s.limits.MaxMailSize
	if limit <= 0 {
		return nil
	}
	total, err := attachment.SizeOf(m.Attachments).TotalSize(ctx)
	if err != nil {
		return composeerr.IOError.Wrap(err, "computing message size")
	}
	if total+int64(len(m.Content)) > limit {
		return composeerr.MaxMessageSizeExceeded.New(limit)
	}
	return nil
}
