// Package spacestore keeps composition spaces in DynamoDB.
package spacestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jarrod-lowe/jmap-service-compose/internal/compose"
	"github.com/jarrod-lowe/jmap-service-compose/internal/composeerr"
	"github.com/jarrod-lowe/jmap-service-compose/internal/dynamo"
	"github.com/jarrod-lowe/jmap-service-compose/internal/ids"
	"github.com/jarrod-lowe/jmap-service-compose/internal/message"
)

// DefaultMaxSpaces is the number of open composition spaces allowed per
// account.
const DefaultMaxSpaces = 20

// DefaultTTL is how long an untouched space survives before DynamoDB TTL
// removes it.
const DefaultTTL = 7 * 24 * time.Hour

// DynamoDBClient defines the interface for DynamoDB operations.
type DynamoDBClient interface {
	GetItem(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, input *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, input *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, input *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Store implements compose.StorageService.
type Store struct {
	client    DynamoDBClient
	tableName string
	maxSpaces int
	ttl       time.Duration
	now       func() time.Time
}

var _ compose.StorageService = (*Store)(nil)

// NewStore creates a Store. maxSpaces <= 0 selects DefaultMaxSpaces and
// ttl <= 0 selects DefaultTTL.
func NewStore(client DynamoDBClient, tableName string, maxSpaces int, ttl time.Duration) *Store {
	if maxSpaces <= 0 {
		maxSpaces = DefaultMaxSpaces
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		client:    client,
		tableName: tableName,
		maxSpaces: maxSpaces,
		ttl:       ttl,
		now:       time.Now,
	}
}

func spaceKey(accountID string, id uuid.UUID) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamo.AttrPK: &types.AttributeValueMemberS{Value: dynamo.AccountPK(accountID)},
		dynamo.AttrSK: &types.AttributeValueMemberS{Value: dynamo.PrefixSpace + id.String()},
	}
}

// OpenCompositionSpace stores a new space. The account limit is checked
// before writing, so concurrent opens may overshoot it by a few.
func (s *Store) OpenCompositionSpace(ctx context.Context, accountID string, space compose.Space) (*compose.Space, error) {
	count, err := s.countSpaces(ctx, accountID)
	if err != nil {
		return nil, composeerr.Unexpected.Wrap(err, err.Error())
	}
	if count >= s.maxSpaces {
		return nil, composeerr.MaxSpacesReached.New(s.maxSpaces)
	}

	now := s.now()
	if space.ID == uuid.Nil {
		space.ID = uuid.New()
	}
	space.AccountID = accountID
	space.CreatedAt = now.UTC()
	space.LastModified = now.UnixMilli()

	item, err := s.marshalSpace(&space)
	if err != nil {
		return nil, composeerr.Unexpected.Wrap(err, err.Error())
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err != nil {
		return nil, composeerr.Unexpected.Wrap(err, err.Error())
	}
	return &space, nil
}

func (s *Store) countSpaces(ctx context.Context, accountID string) (int, error) {
	total := 0
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("pk = :pk AND begins_with(sk, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: dynamo.AccountPK(accountID)},
				":prefix": &types.AttributeValueMemberS{Value: dynamo.PrefixSpace},
			},
			Select:            types.SelectCount,
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return 0, fmt.Errorf("counting composition spaces: %w", err)
		}
		total += int(out.Count)
		if len(out.LastEvaluatedKey) == 0 {
			return total, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// GetCompositionSpace loads one space.
func (s *Store) GetCompositionSpace(ctx context.Context, accountID string, id uuid.UUID) (*compose.Space, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            spaceKey(accountID, id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, composeerr.Unexpected.Wrap(err, err.Error())
	}
	if out.Item == nil {
		return nil, composeerr.NoSuchCompositionSpace.New(id.String())
	}
	return unmarshalSpace(out.Item)
}

// GetCompositionSpaces loads every space of the account.
func (s *Store) GetCompositionSpaces(ctx context.Context, accountID string) ([]compose.Space, error) {
	items, err := s.querySpaces(ctx, accountID, nil)
	if err != nil {
		return nil, composeerr.Unexpected.Wrap(err, err.Error())
	}
	spaces := make([]compose.Space, 0, len(items))
	for _, item := range items {
		sp, err := unmarshalSpace(item)
		if err != nil {
			return nil, err
		}
		spaces = append(spaces, *sp)
	}
	return spaces, nil
}

func (s *Store) querySpaces(ctx context.Context, accountID string, olderThan *int64) ([]map[string]types.AttributeValue, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("pk = :pk AND begins_with(sk, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: dynamo.AccountPK(accountID)},
			":prefix": &types.AttributeValueMemberS{Value: dynamo.PrefixSpace},
		},
	}
	if olderThan != nil {
		input.FilterExpression = aws.String("lastModified < :cutoff")
		input.ExpressionAttributeValues[":cutoff"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(*olderThan, 10)}
	}

	var items []map[string]types.AttributeValue
	for {
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("querying composition spaces: %w", err)
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// UpdateCompositionSpace applies the update's description to the stored
// message. The write is conditional on the lastModified value read (or the
// one given in the update), so a lost race yields ConcurrentUpdate.
func (s *Store) UpdateCompositionSpace(ctx context.Context, accountID string, update compose.SpaceUpdate) (*compose.Space, error) {
	current, err := s.GetCompositionSpace(ctx, accountID, update.ID)
	if err != nil {
		return nil, err
	}

	expected := current.LastModified
	if update.LastModified != 0 {
		if update.LastModified != current.LastModified {
			return nil, composeerr.ConcurrentUpdate.New(update.ID.String())
		}
		expected = update.LastModified
	}

	next := *current
	next.Message = message.Apply(current.Message, update.Description)
	if update.ClientToken != nil {
		next.ClientToken = *update.ClientToken
	}
	next.LastModified = max(s.now().UnixMilli(), expected+1)

	item, err := s.marshalSpace(&next)
	if err != nil {
		return nil, composeerr.Unexpected.Wrap(err, err.Error())
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(pk) AND lastModified = :expected"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, composeerr.ConcurrentUpdate.New(update.ID.String())
		}
		return nil, composeerr.Unexpected.Wrap(err, err.Error())
	}
	return &next, nil
}

// CloseCompositionSpace deletes a space.
func (s *Store) CloseCompositionSpace(ctx context.Context, accountID string, id uuid.UUID) (bool, error) {
	out, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(s.tableName),
		Key:          spaceKey(accountID, id),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return false, composeerr.Unexpected.Wrap(err, err.Error())
	}
	return len(out.Attributes) > 0, nil
}

// DeleteExpiredCompositionSpaces deletes the spaces not modified within
// maxIdle. Spaces that vanish concurrently are skipped.
func (s *Store) DeleteExpiredCompositionSpaces(ctx context.Context, accountID string, maxIdle time.Duration) ([]uuid.UUID, error) {
	cutoff := s.now().Add(-maxIdle).UnixMilli()
	items, err := s.querySpaces(ctx, accountID, &cutoff)
	if err != nil {
		return nil, composeerr.Unexpected.Wrap(err, err.Error())
	}

	var deleted []uuid.UUID
	for _, item := range items {
		sp, err := unmarshalSpace(item)
		if err != nil {
			return deleted, err
		}
		_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:           aws.String(s.tableName),
			Key:                 spaceKey(accountID, sp.ID),
			ConditionExpression: aws.String("lastModified = :seen"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":seen": &types.AttributeValueMemberN{Value: strconv.FormatInt(sp.LastModified, 10)},
			},
		})
		if err != nil {
			var ccf *types.ConditionalCheckFailedException
			if errors.As(err, &ccf) {
				continue
			}
			return deleted, composeerr.Unexpected.Wrap(err, err.Error())
		}
		deleted = append(deleted, sp.ID)
	}
	return deleted, nil
}

func (s *Store) marshalSpace(sp *compose.Space) (map[string]types.AttributeValue, error) {
	msg := sp.Message
	msg.Attachments = nil
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshaling message: %w", err)
	}

	expires := time.UnixMilli(sp.LastModified).Add(s.ttl).Unix()
	item := spaceKey(sp.AccountID, sp.ID)
	item["spaceId"] = &types.AttributeValueMemberS{Value: sp.ID.String()}
	item["accountId"] = &types.AttributeValueMemberS{Value: sp.AccountID}
	item["message"] = &types.AttributeValueMemberS{Value: string(body)}
	item["createdAt"] = &types.AttributeValueMemberS{Value: sp.CreatedAt.UTC().Format(time.RFC3339Nano)}
	item["lastModified"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(sp.LastModified, 10)}
	item[dynamo.AttrTTL] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expires, 10)}
	if sp.ClientToken.IsPresent() {
		item["clientToken"] = &types.AttributeValueMemberS{Value: sp.ClientToken.String()}
	}
	return item, nil
}

func unmarshalSpace(item map[string]types.AttributeValue) (*compose.Space, error) {
	sp := &compose.Space{}

	if v, ok := item["spaceId"].(*types.AttributeValueMemberS); ok {
		id, err := uuid.Parse(v.Value)
		if err != nil {
			return nil, composeerr.Unexpected.Wrap(err, "corrupt space id "+v.Value)
		}
		sp.ID = id
	}
	if v, ok := item["accountId"].(*types.AttributeValueMemberS); ok {
		sp.AccountID = v.Value
	}
	if v, ok := item["clientToken"].(*types.AttributeValueMemberS); ok {
		sp.ClientToken = ids.ClientToken(v.Value)
	}
	if v, ok := item["createdAt"].(*types.AttributeValueMemberS); ok {
		sp.CreatedAt, _ = time.Parse(time.RFC3339Nano, v.Value)
	}
	if v, ok := item["lastModified"].(*types.AttributeValueMemberN); ok {
		sp.LastModified, _ = strconv.ParseInt(v.Value, 10, 64)
	}
	if v, ok := item["message"].(*types.AttributeValueMemberS); ok {
		if err := json.Unmarshal([]byte(v.Value), &sp.Message); err != nil {
			return nil, composeerr.Unexpected.Wrap(err, "corrupt message of space "+sp.ID.String())
		}
	}
	return sp, nil
}
