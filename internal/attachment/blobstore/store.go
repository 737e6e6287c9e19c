// Package blobstore keeps attachment metadata in DynamoDB and content in
// the blob service.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/jarrod-lowe/jmap-service-libs/logging"

	"github.com/jarrod-lowe/jmap-service-compose/internal/attachment"
	"github.com/jarrod-lowe/jmap-service-compose/internal/attachmentdelete"
	"github.com/jarrod-lowe/jmap-service-compose/internal/blob"
	"github.com/jarrod-lowe/jmap-service-compose/internal/dynamo"
)

var logger = logging.New()

// attachmentIDPrefix prefixes the LSI sort key used to find an attachment
// by ID alone.
const attachmentIDPrefix = "ATTID#"

// DynamoDBClient defines the interface for DynamoDB operations.
type DynamoDBClient interface {
	PutItem(ctx context.Context, input *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, input *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, input *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Uploader stores content as a new blob.
type Uploader interface {
	Upload(ctx context.Context, accountID, contentType string, body io.Reader) (string, int64, error)
}

// Streamer reads blob content.
type Streamer interface {
	Stream(ctx context.Context, accountID, blobID string) (io.ReadCloser, error)
}

// Store implements attachment.Storage on DynamoDB and the blob service.
type Store struct {
	client    DynamoDBClient
	tableName string
	uploader  Uploader
	streamer  Streamer
	deleter   attachmentdelete.Publisher
	now       func() time.Time
}

var (
	_ attachment.Storage = (*Store)(nil)
	_ attachment.Linker  = (*Store)(nil)
)

// NewStore creates a Store. deleter may be nil, in which case removed
// blobs are left for the blob service's own garbage collection.
func NewStore(client DynamoDBClient, tableName string, uploader Uploader, streamer Streamer, deleter attachmentdelete.Publisher) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		uploader:  uploader,
		streamer:  streamer,
		deleter:   deleter,
		now:       time.Now,
	}
}

// Type implements attachment.Storage.
func (s *Store) Type() attachment.StorageType {
	return attachment.StorageTypeBlob
}

// item is the DynamoDB record of one attachment.
type item struct {
	AccountID   string
	ID          uuid.UUID
	SpaceID     uuid.UUID
	BlobID      string
	Owned       bool
	Name        string
	Size        int64
	MimeType    string
	ContentID   string
	Disposition string
	Origin      string
	CreatedAt   time.Time
}

func sortKey(spaceID, id uuid.UUID) string {
	return dynamo.PrefixAttachment + spaceID.String() + "#" + id.String()
}

func (it *item) marshal() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamo.AttrPK:      &types.AttributeValueMemberS{Value: dynamo.AccountPK(it.AccountID)},
		dynamo.AttrSK:      &types.AttributeValueMemberS{Value: sortKey(it.SpaceID, it.ID)},
		dynamo.AttrLSI1SK:  &types.AttributeValueMemberS{Value: attachmentIDPrefix + it.ID.String()},
		"attachmentId":     &types.AttributeValueMemberS{Value: it.ID.String()},
		"spaceId":          &types.AttributeValueMemberS{Value: it.SpaceID.String()},
		"blobId":           &types.AttributeValueMemberS{Value: it.BlobID},
		"owned":            &types.AttributeValueMemberBOOL{Value: it.Owned},
		"name":             &types.AttributeValueMemberS{Value: it.Name},
		"size":             &types.AttributeValueMemberN{Value: strconv.FormatInt(it.Size, 10)},
		"mimeType":         &types.AttributeValueMemberS{Value: it.MimeType},
		"contentId":        &types.AttributeValueMemberS{Value: it.ContentID},
		"disposition":      &types.AttributeValueMemberS{Value: it.Disposition},
		"origin":           &types.AttributeValueMemberS{Value: it.Origin},
		"createdAt":        &types.AttributeValueMemberS{Value: it.CreatedAt.UTC().Format(time.RFC3339Nano)},
	}
}

func unmarshalItem(av map[string]types.AttributeValue) (*item, error) {
	str := func(name string) string {
		if v, ok := av[name].(*types.AttributeValueMemberS); ok {
			return v.Value
		}
		return ""
	}

	it := &item{
		BlobID:      str("blobId"),
		Name:        str("name"),
		MimeType:    str("mimeType"),
		ContentID:   str("contentId"),
		Disposition: str("disposition"),
		Origin:      str("origin"),
		Size:        attachment.UnknownSize,
	}
	if acc, ok := dynamo.AccountFromPK(str(dynamo.AttrPK)); ok {
		it.AccountID = acc
	}
	var err error
	if it.ID, err = uuid.Parse(str("attachmentId")); err != nil {
		return nil, fmt.Errorf("corrupt attachment id: %w", err)
	}
	if it.SpaceID, err = uuid.Parse(str("spaceId")); err != nil {
		return nil, fmt.Errorf("corrupt space id: %w", err)
	}
	if v, ok := av["owned"].(*types.AttributeValueMemberBOOL); ok {
		it.Owned = v.Value
	}
	if v, ok := av["size"].(*types.AttributeValueMemberN); ok {
		if n, err := strconv.ParseInt(v.Value, 10, 64); err == nil {
			it.Size = n
		}
	}
	it.CreatedAt, _ = time.Parse(time.RFC3339Nano, str("createdAt"))
	return it, nil
}

func (s *Store) toAttachment(it *item) attachment.Attachment {
	accountID, blobID := it.AccountID, it.BlobID
	return attachment.Attachment{
		ID:                 it.ID,
		CompositionSpaceID: it.SpaceID,
		Storage: attachment.StorageReference{
			Identifier: it.BlobID,
			Type:       attachment.StorageTypeBlob,
			Arguments:  map[string]string{"owned": strconv.FormatBool(it.Owned)},
		},
		Name:        it.Name,
		Size:        it.Size,
		MimeType:    it.MimeType,
		ContentID:   attachment.ContentID(it.ContentID),
		Disposition: attachment.Disposition(it.Disposition),
		Origin:      attachment.Origin(it.Origin),
		CreatedAt:   it.CreatedAt,
		Data: attachment.DataProviderFunc(func(ctx context.Context) (io.ReadCloser, error) {
			rc, err := s.streamer.Stream(ctx, accountID, blobID)
			if errors.Is(err, blob.ErrBlobNotFound) {
				return nil, attachment.ErrNotFound
			}
			return rc, err
		}),
	}
}

// SaveAttachment uploads the content as a new blob and records it.
func (s *Store) SaveAttachment(ctx context.Context, accountID string, data io.Reader, desc attachment.Description) (*attachment.Attachment, error) {
	desc = desc.Normalize()
	blobID, size, err := s.uploader.Upload(ctx, accountID, desc.MimeType, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", attachment.ErrStorageUnavailable, err)
	}
	return s.record(ctx, accountID, blobID, true, size, desc)
}

// LinkAttachment records an attachment whose content is an existing blob
// the store does not own. desc.Size may be attachment.UnknownSize, in
// which case size totals read the blob.
func (s *Store) LinkAttachment(ctx context.Context, accountID, blobID string, desc attachment.Description) (*attachment.Attachment, error) {
	desc = desc.Normalize()
	return s.record(ctx, accountID, blobID, false, desc.Size, desc)
}

func (s *Store) record(ctx context.Context, accountID, blobID string, owned bool, size int64, desc attachment.Description) (*attachment.Attachment, error) {
	it := &item{
		AccountID:   accountID,
		ID:          uuid.New(),
		SpaceID:     desc.CompositionSpaceID,
		BlobID:      blobID,
		Owned:       owned,
		Name:        desc.Name,
		Size:        size,
		MimeType:    desc.MimeType,
		ContentID:   string(desc.ContentID),
		Disposition: string(desc.Disposition),
		Origin:      string(desc.Origin),
		CreatedAt:   s.now().UTC(),
	}
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                it.marshal(),
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err != nil {
		if owned {
			s.publishDeletions(ctx, accountID, []string{blobID})
		}
		return nil, fmt.Errorf("recording attachment: %w", err)
	}
	a := s.toAttachment(it)
	return &a, nil
}

func (s *Store) findItem(ctx context.Context, accountID string, id uuid.UUID) (*item, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String(dynamo.IndexLSI1),
		KeyConditionExpression: aws.String("pk = :pk AND lsi1sk = :lsi"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":  &types.AttributeValueMemberS{Value: dynamo.AccountPK(accountID)},
			":lsi": &types.AttributeValueMemberS{Value: attachmentIDPrefix + id.String()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("querying attachment %s: %w", id, err)
	}
	if len(out.Items) == 0 {
		return nil, attachment.ErrNotFound
	}
	return unmarshalItem(out.Items[0])
}

func (s *Store) queryItems(ctx context.Context, accountID, prefix string) ([]*item, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("pk = :pk AND begins_with(sk, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: dynamo.AccountPK(accountID)},
			":prefix": &types.AttributeValueMemberS{Value: prefix},
		},
	}

	var items []*item
	for {
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("querying attachments: %w", err)
		}
		for _, av := range out.Items {
			it, err := unmarshalItem(av)
			if err != nil {
				return nil, err
			}
			items = append(items, it)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// GetAttachment implements attachment.Storage.
func (s *Store) GetAttachment(ctx context.Context, accountID string, id uuid.UUID) (*attachment.Attachment, error) {
	it, err := s.findItem(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	a := s.toAttachment(it)
	return &a, nil
}

// GetAttachmentsByCompositionSpace implements attachment.Storage.
func (s *Store) GetAttachmentsByCompositionSpace(ctx context.Context, accountID string, spaceID uuid.UUID) ([]attachment.Attachment, error) {
	items, err := s.queryItems(ctx, accountID, dynamo.PrefixAttachment+spaceID.String()+"#")
	if err != nil {
		return nil, err
	}
	out := make([]attachment.Attachment, len(items))
	for i, it := range items {
		out[i] = s.toAttachment(it)
	}
	return out, nil
}

// GetSizeOfAttachmentsByCompositionSpace implements attachment.Storage.
// Linked attachments of unknown size are deferred to their blobs.
func (s *Store) GetSizeOfAttachmentsByCompositionSpace(ctx context.Context, accountID string, spaceID uuid.UUID) (*attachment.SizeReturner, error) {
	list, err := s.GetAttachmentsByCompositionSpace(ctx, accountID, spaceID)
	if err != nil {
		return nil, err
	}
	return attachment.SizeOf(list), nil
}

// DeleteAttachment implements attachment.Storage.
func (s *Store) DeleteAttachment(ctx context.Context, accountID string, id uuid.UUID) error {
	it, err := s.findItem(ctx, accountID, id)
	if err != nil {
		return err
	}
	return s.deleteItems(ctx, accountID, []*item{it})
}

// DeleteAttachments implements attachment.Storage. Unknown IDs are ignored.
func (s *Store) DeleteAttachments(ctx context.Context, accountID string, ids []uuid.UUID) error {
	var items []*item
	for _, id := range ids {
		it, err := s.findItem(ctx, accountID, id)
		if errors.Is(err, attachment.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		items = append(items, it)
	}
	return s.deleteItems(ctx, accountID, items)
}

// DeleteAttachmentsByCompositionSpace implements attachment.Storage.
func (s *Store) DeleteAttachmentsByCompositionSpace(ctx context.Context, accountID string, spaceID uuid.UUID) error {
	items, err := s.queryItems(ctx, accountID, dynamo.PrefixAttachment+spaceID.String()+"#")
	if err != nil {
		return err
	}
	return s.deleteItems(ctx, accountID, items)
}

// DeleteUnreferencedAttachments implements attachment.Storage.
func (s *Store) DeleteUnreferencedAttachments(ctx context.Context, accountID string, live map[uuid.UUID]bool) (int, error) {
	items, err := s.queryItems(ctx, accountID, dynamo.PrefixAttachment)
	if err != nil {
		return 0, err
	}
	var stale []*item
	for _, it := range items {
		if !live[it.SpaceID] {
			stale = append(stale, it)
		}
	}
	if err := s.deleteItems(ctx, accountID, stale); err != nil {
		return 0, err
	}
	return len(stale), nil
}

// deleteItems removes the records and queues the owned blobs for deletion.
func (s *Store) deleteItems(ctx context.Context, accountID string, items []*item) error {
	var blobIDs []string
	var firstErr error
	for _, it := range items {
		_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.tableName),
			Key: map[string]types.AttributeValue{
				dynamo.AttrPK: &types.AttributeValueMemberS{Value: dynamo.AccountPK(accountID)},
				dynamo.AttrSK: &types.AttributeValueMemberS{Value: sortKey(it.SpaceID, it.ID)},
			},
		})
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("deleting attachment %s: %w", it.ID, err)
			}
			continue
		}
		if it.Owned && it.BlobID != "" {
			blobIDs = append(blobIDs, it.BlobID)
		}
	}
	s.publishDeletions(ctx, accountID, blobIDs)
	return firstErr
}

func (s *Store) publishDeletions(ctx context.Context, accountID string, blobIDs []string) {
	if s.deleter == nil || len(blobIDs) == 0 {
		return
	}
	if err := s.deleter.PublishAttachmentDeletions(ctx, accountID, blobIDs); err != nil {
		logger.ErrorContext(ctx, "Failed to queue blob deletions",
			slog.String("account_id", accountID),
			slog.String("blob_ids", strings.Join(blobIDs, ",")),
			slog.String("error", err.Error()),
		)
	}
}
