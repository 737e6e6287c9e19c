package compose

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"go.opentelemetry.io/otel/trace"

	"github.com/jarrod-lowe/jmap-service-compose/internal/attachment"
	"github.com/jarrod-lowe/jmap-service-compose/internal/composeerr"
	"github.com/jarrod-lowe/jmap-service-compose/internal/ids"
	"github.com/jarrod-lowe/jmap-service-compose/internal/mailaccess"
	"github.com/jarrod-lowe/jmap-service-compose/internal/message"
	"github.com/jarrod-lowe/jmap-service-compose/internal/transport"
)

const tracerName = "jmap-compose"

// Session is the per-login context of the service.
type Session struct {
	ID        string
	AccountID string
	Registry  *Registry
	Connector mailaccess.Connector
}

// NewSession creates a session with its own registry.
func NewSession(id, accountID string, connector mailaccess.Connector, opts ...RegistryOption) *Session {
	return &Session{
		ID:        id,
		AccountID: accountID,
		Registry:  NewRegistry(connector, opts...),
		Connector: connector,
	}
}

// KeyChecker verifies that the keys needed to encrypt or sign a message
// exist. It returns a composeerr.MissingKey error when one is absent.
type KeyChecker interface {
	CheckKeys(ctx context.Context, accountID string, security message.Security, recipients []message.Address) error
}

// MessageBuilder renders a message for sending or saving.
type MessageBuilder interface {
	Build(ctx context.Context, m message.Message, opts transport.Options) (*transport.Built, error)
}

// Limits bounds the size of message fields. Zero disables a limit.
type Limits struct {
	MaxMailSize      int64
	MaxSubjectLength int
	MaxContentLength int
	MaxHeaderLength  int
}

// DefaultLimits are used when the service is created without WithLimits.
var DefaultLimits = Limits{
	MaxMailSize:      25 << 20,
	MaxSubjectLength: 998,
	MaxContentLength: 10 << 20,
	MaxHeaderLength:  998,
}

// Service implements the composition space operations.
type Service struct {
	store        StorageService
	attachments  attachment.Resolver
	builder      MessageBuilder
	sender       transport.Sender
	keys         KeyChecker
	limits       Limits
	draftAccount int
	draftsFolder string
	sharedFolder string
	now          func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithKeyChecker enables encryption and signing.
func WithKeyChecker(k KeyChecker) ServiceOption {
	return func(s *Service) { s.keys = k }
}

// WithLimits replaces DefaultLimits.
func WithLimits(l Limits) ServiceOption {
	return func(s *Service) { s.limits = l }
}

// WithDrafts sets the mail account and folder drafts are saved to. An
// empty folder keeps DefaultDraftsFolder.
func WithDrafts(mailAccountID int, folder string) ServiceOption {
	return func(s *Service) {
		s.draftAccount = mailAccountID
		if folder != "" {
			s.draftsFolder = folder
		}
	}
}

// WithSharedAttachmentsFolder names the folder shared attachments are
// published from.
func WithSharedAttachmentsFolder(folder string) ServiceOption {
	return func(s *Service) { s.sharedFolder = folder }
}

// NewService creates a Service.
func NewService(store StorageService, attachments attachment.Resolver, builder MessageBuilder, sender transport.Sender, opts ...ServiceOption) *Service {
	s := &Service{
		store:        store,
		attachments:  attachments,
		builder:      builder,
		sender:       sender,
		limits:       DefaultLimits,
		draftsFolder: DefaultDraftsFolder,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) startSpan(ctx context.Context, name string, sess *Session) (context.Context, trace.Span) {
	return tracing.Tracer(tracerName).Start(ctx, name,
		trace.WithAttributes(tracing.AccountID(sess.AccountID)))
}

// Get returns a space with its attachments and marks it active.
func (s *Service) Get(ctx context.Context, sess *Session, id uuid.UUID) (*Space, error) {
	space, err := s.load(ctx, sess, id)
	if err != nil {
		return nil, err
	}
	sess.Registry.MarkActive(id).SetReferences(space.Message.Meta)
	return space, nil
}

// List returns every open space of the account.
func (s *Service) List(ctx context.Context, sess *Session) ([]Space, error) {
	spaces, err := s.store.GetCompositionSpaces(ctx, sess.AccountID)
	if err != nil {
		return nil, storeErr(err)
	}
	storage, err := s.storage(ctx, sess)
	if err != nil {
		return nil, err
	}
	for i := range spaces {
		if err := hydrate(ctx, storage, sess.AccountID, &spaces[i]); err != nil {
			return nil, err
		}
	}
	return spaces, nil
}

// Update applies d to the space. Attachments can only be dropped through
// d; adding them goes through AddAttachment. lastModified, when non-zero,
// must match the stored value.
func (s *Service) Update(ctx context.Context, sess *Session, id uuid.UUID, d message.Description, token ids.ClientToken, lastModified int64) (*Space, error) {
	space, err := s.load(ctx, sess, id)
	if err != nil {
		return nil, err
	}
	if err := checkToken(space, token); err != nil {
		return nil, err
	}

	var removed []uuid.UUID
	if keep, ok := d.Attachments.Get(); ok {
		removed, err = removedAttachments(space, keep)
		if err != nil {
			return nil, err
		}
		d.Attachments = message.Option[[]attachment.Attachment]{}
	}

	updated := message.Apply(space.Message, d)
	if err := s.validate(ctx, sess, updated, d); err != nil {
		return nil, err
	}

	if len(removed) == 0 && space.Message.Description().SeemsEqual(d) {
		sess.Registry.MarkActive(id)
		return space, nil
	}

	result := space
	if !d.IsEmpty() {
		result, err = s.store.UpdateCompositionSpace(ctx, sess.AccountID, SpaceUpdate{
			ID:           id,
			Description:  d,
			LastModified: lastModified,
		})
		if err != nil {
			return nil, storeErr(err)
		}
	}

	storage, err := s.storage(ctx, sess)
	if err != nil {
		return nil, err
	}
	if len(removed) > 0 {
		if err := storage.DeleteAttachments(ctx, sess.AccountID, removed); err != nil {
			return nil, attachmentErr(err, id, uuid.Nil)
		}
	}
	if err := hydrate(ctx, storage, sess.AccountID, result); err != nil {
		return nil, err
	}

	active := sess.Registry.MarkActive(id)
	if d.Meta.IsSet() {
		active.SetReferences(result.Message.Meta)
	}
	return result, nil
}

// removedAttachments lists the attachments of space missing from keep.
// keep may only name attachments the space already has.
func removedAttachments(space *Space, keep []attachment.Attachment) ([]uuid.UUID, error) {
	current := make(map[uuid.UUID]bool, len(space.Message.Attachments))
	for _, a := range space.Message.Attachments {
		current[a.ID] = true
	}
	kept := make(map[uuid.UUID]bool, len(keep))
	for _, a := range keep {
		if !current[a.ID] {
			return nil, composeerr.NoSuchAttachmentInCompositionSpace.New(
				ids.NewAttachmentID(ServiceID, a.ID).String(), space.PublicID().String())
		}
		kept[a.ID] = true
	}
	var removed []uuid.UUID
	for _, a := range space.Message.Attachments {
		if !kept[a.ID] {
			removed = append(removed, a.ID)
		}
	}
	return removed, nil
}

// Close deletes the space and its attachments and destroys its session
// state, which deletes the messages queued for cleanup.
func (s *Service) Close(ctx context.Context, sess *Session, id uuid.UUID, token ids.ClientToken) error {
	space, err := s.store.GetCompositionSpace(ctx, sess.AccountID, id)
	if err != nil {
		return storeErr(err)
	}
	if err := checkToken(space, token); err != nil {
		return err
	}
	return s.discard(ctx, sess, id)
}

// discard removes a space everywhere. Only the storage delete can fail it.
func (s *Service) discard(ctx context.Context, sess *Session, id uuid.UUID) error {
	if _, err := s.store.CloseCompositionSpace(ctx, sess.AccountID, id); err != nil {
		return storeErr(err)
	}
	s.dropAttachments(ctx, sess, id)
	sess.Registry.Destroy(ctx, id)
	return nil
}

func (s *Service) storage(ctx context.Context, sess *Session) (attachment.Storage, error) {
	storage, err := s.attachments.StorageFor(ctx, sess.AccountID)
	if err != nil {
		return nil, composeerr.FileStorageUnavailable.Wrap(err, err.Error())
	}
	return storage, nil
}

// load reads a space and rehydrates its attachments.
func (s *Service) load(ctx context.Context, sess *Session, id uuid.UUID) (*Space, error) {
	space, err := s.store.GetCompositionSpace(ctx, sess.AccountID, id)
	if err != nil {
		return nil, storeErr(err)
	}
	storage, err := s.storage(ctx, sess)
	if err != nil {
		return nil, err
	}
	if err := hydrate(ctx, storage, sess.AccountID, space); err != nil {
		return nil, err
	}
	return space, nil
}

func hydrate(ctx context.Context, storage attachment.Storage, accountID string, space *Space) error {
	list, err := storage.GetAttachmentsByCompositionSpace(ctx, accountID, space.ID)
	if err != nil {
		return attachmentErr(err, space.ID, uuid.Nil)
	}
	space.Message = message.Apply(space.Message, message.Description{Attachments: message.Some(list)})
	return nil
}

func checkToken(space *Space, token ids.ClientToken) error {
	if !token.Matches(space.ClientToken) {
		return composeerr.ClientTokenMismatch.New(space.PublicID().String())
	}
	return nil
}

// storeErr keeps typed errors and reports everything else as I/O errors.
func storeErr(err error) error {
	if _, ok := composeerr.CodeOf(err); ok {
		return err
	}
	return composeerr.IOError.Wrap(err, err.Error())
}

// attachmentErr maps attachment storage errors. attachmentID may be
// uuid.Nil when no single attachment is involved.
func attachmentErr(err error, spaceID, attachmentID uuid.UUID) error {
	if _, ok := composeerr.CodeOf(err); ok {
		return err
	}
	switch {
	case errors.Is(err, attachment.ErrNotFound) && attachmentID != uuid.Nil:
		return composeerr.NoSuchAttachmentInCompositionSpace.New(
			ids.NewAttachmentID(ServiceID, attachmentID).String(),
			ids.NewCompositionSpaceID(ServiceID, spaceID).String())
	case errors.Is(err, attachment.ErrNotFound):
		return composeerr.NoSuchAttachmentResource.New(err.Error())
	case errors.Is(err, attachment.ErrStorageUnavailable):
		return composeerr.FileStorageUnavailable.Wrap(err, err.Error())
	}
	return composeerr.IOError.Wrap(err, fmt.Sprintf("attachment storage: %v", err))
}
