package compose

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"

	"github.com/jarrod-lowe/jmap-service-compose/internal/attachment"
	"github.com/jarrod-lowe/jmap-service-compose/internal/composeerr"
	"github.com/jarrod-lowe/jmap-service-compose/internal/ids"
)

// AddAttachment stores data as a new attachment of the space. The
// attachment is rejected and removed again if it pushes the space over the
// mail size limit.
func (s *Service) AddAttachment(ctx context.Context, sess *Session, spaceID uuid.UUID, token ids.ClientToken, data io.Reader, desc attachment.Description) (*attachment.Attachment, error) {
	ctx, span := s.startSpan(ctx, "AddAttachment", sess)
	defer span.End()

	space, err := s.store.GetCompositionSpace(ctx, sess.AccountID, spaceID)
	if err != nil {
		return nil, storeErr(err)
	}
	if err := checkToken(space, token); err != nil {
		return nil, err
	}
	storage, err := s.storage(ctx, sess)
	if err != nil {
		return nil, err
	}

	desc.CompositionSpaceID = spaceID
	a, err := attachment.Save(ctx, storage, sess.AccountID, data, desc, s.limits.MaxMailSize)
	if err != nil {
		return nil, attachmentErr(err, spaceID, uuid.Nil)
	}
	sess.Registry.MarkActive(spaceID)
	return a, nil
}

// LinkAttachment adds an attachment backed by existing content, such as a
// blob already held by the blob service, without copying it. The size may
// be unknown, in which case the content is read to check the mail size
// limit. Origin defaults to drive.
func (s *Service) LinkAttachment(ctx context.Context, sess *Session, spaceID uuid.UUID, token ids.ClientToken, ref string, desc attachment.Description) (*attachment.Attachment, error) {
	ctx, span := s.startSpan(ctx, "LinkAttachment", sess)
	defer span.End()

	a, err := s.linkAttachment(ctx, sess, spaceID, token, ref, desc)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return a, nil
}

func (s *Service) linkAttachment(ctx context.Context, sess *Session, spaceID uuid.UUID, token ids.ClientToken, ref string, desc attachment.Description) (*attachment.Attachment, error) {
	if ref == "" {
		return nil, composeerr.InvalidIdentifier.New(ref)
	}
	space, err := s.store.GetCompositionSpace(ctx, sess.AccountID, spaceID)
	if err != nil {
		return nil, storeErr(err)
	}
	if err := checkToken(space, token); err != nil {
		return nil, err
	}
	storage, err := s.storage(ctx, sess)
	if err != nil {
		return nil, err
	}

	desc.CompositionSpaceID = spaceID
	if desc.Origin == "" {
		desc.Origin = attachment.OriginDrive
	}
	a, err := attachment.Link(ctx, storage, sess.AccountID, ref, desc, s.limits.MaxMailSize)
	switch {
	case errors.Is(err, attachment.ErrLinkUnsupported), errors.Is(err, attachment.ErrNotFound):
		return nil, composeerr.NoSuchAttachmentResource.Wrap(err, ref)
	case err != nil:
		return nil, attachmentErr(err, spaceID, uuid.Nil)
	}
	sess.Registry.MarkActive(spaceID)
	return a, nil
}

// GetAttachment returns an attachment of the space.
func (s *Service) GetAttachment(ctx context.Context, sess *Session, spaceID, attachmentID uuid.UUID) (*attachment.Attachment, error) {
	if _, err := s.store.GetCompositionSpace(ctx, sess.AccountID, spaceID); err != nil {
		return nil, storeErr(err)
	}
	storage, err := s.storage(ctx, sess)
	if err != nil {
		return nil, err
	}
	a, err := storage.GetAttachment(ctx, sess.AccountID, attachmentID)
	if err != nil {
		return nil, attachmentErr(err, spaceID, attachmentID)
	}
	if a.CompositionSpaceID != spaceID {
		return nil, composeerr.NoSuchAttachmentInCompositionSpace.New(
			ids.NewAttachmentID(ServiceID, attachmentID).String(),
			ids.NewCompositionSpaceID(ServiceID, spaceID).String())
	}
	return a, nil
}

// OpenAttachment returns an attachment of the space with its content. The
// caller closes the reader.
func (s *Service) OpenAttachment(ctx context.Context, sess *Session, spaceID, attachmentID uuid.UUID) (*attachment.Attachment, io.ReadCloser, error) {
	a, err := s.GetAttachment(ctx, sess, spaceID, attachmentID)
	if err != nil {
		return nil, nil, err
	}
	if a.Data == nil {
		return nil, nil, composeerr.NoSuchAttachmentResource.New(attachmentID.String())
	}
	rc, err := a.Data.Open(ctx)
	if err != nil {
		return nil, nil, attachmentErr(err, spaceID, attachmentID)
	}
	return a, rc, nil
}

// DeleteAttachment removes an attachment from the space.
func (s *Service) DeleteAttachment(ctx context.Context, sess *Session, spaceID, attachmentID uuid.UUID, token ids.ClientToken) error {
	space, err := s.store.GetCompositionSpace(ctx, sess.AccountID, spaceID)
	if err != nil {
		return storeErr(err)
	}
	if err := checkToken(space, token); err != nil {
		return err
	}
	if _, err := s.GetAttachment(ctx, sess, spaceID, attachmentID); err != nil {
		return err
	}
	storage, err := s.storage(ctx, sess)
	if err != nil {
		return err
	}
	if err := storage.DeleteAttachment(ctx, sess.AccountID, attachmentID); err != nil {
		return attachmentErr(err, spaceID, attachmentID)
	}
	sess.Registry.MarkActive(spaceID)
	return nil
}
