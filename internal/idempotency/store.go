package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-storefront-orderflow/internal/apperr"
	"github.com/imrishuroy/go-storefront-orderflow/internal/aws"
)

const DefaultTTL = 48 * time.Hour

var (
	// ErrConditionFailed indicates a conditional write failed (e.g., attribute_not_exists)
	ErrConditionFailed = errors.New("conditional check failed")
	// ErrKeyReused means a key was presented again with a different request body.
	ErrKeyReused = errors.New("idempotency key reused with a different request")
)

// Store encapsulates idempotency operations against DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration
	nowFunc   func() time.Time
}

// NewStore returns a configured Store. A zero ttlWindow uses DefaultTTL.
func NewStore(client aws.DynamoDBAPI, tableName string, ttlWindow time.Duration) *Store {
	if ttlWindow <= 0 {
		ttlWindow = DefaultTTL
	}
	return &Store{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

// Begin claims key for a new checkout. It returns (nil, nil) when the caller
// now owns the key. When the key is already held it returns the existing
// record: Done records carry the response to replay, in-progress ones mean a
// duplicate is still running. A FAILED record may be claimed again.
func (s *Store) Begin(ctx context.Context, key, requestHash string) (*Record, error) {
	const op = "idempotency.Begin"
	now := s.nowFunc().UTC()
	rec := Record{
		IdempotencyKey: key,
		Status:         StatusInProgress,
		RequestHash:    requestHash,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(s.ttlWindow).Unix(),
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, apperr.E(apperr.KindInternal, op, fmt.Errorf("marshal record: %w", err))
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:                sdkaws.String(s.tableName),
		Item:                     item,
		ConditionExpression:      sdkaws.String("attribute_not_exists(idempotency_key) OR #s = :failed"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":failed": &types.AttributeValueMemberS{Value: StatusFailed},
		},
	})
	if err == nil {
		return nil, nil
	}
	if !isConditionFailed(err) {
		return nil, apperr.E(apperr.KindUnavailable, op, fmt.Errorf("put item: %w", err))
	}

	existing, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		// expired and removed between the two calls
		return nil, apperr.E(apperr.KindConflict, op, ErrConditionFailed)
	}
	if requestHash != "" && existing.RequestHash != "" && existing.RequestHash != requestHash {
		return nil, apperr.E(apperr.KindConflict, op, ErrKeyReused)
	}
	return existing, nil
}

// Get retrieves an idempotency record by key. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, key string) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      sdkaws.String(s.tableName),
		Key:            keyOf(key),
		ConsistentRead: sdkaws.Bool(true),
	})
	if err != nil {
		return nil, apperr.E(apperr.KindUnavailable, "idempotency.Get", fmt.Errorf("get item: %w", err))
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, apperr.E(apperr.KindInternal, "idempotency.Get", fmt.Errorf("unmarshal item: %w", err))
	}
	return &rec, nil
}

// Complete stores the response of a finished checkout for replay.
func (s *Store) Complete(ctx context.Context, key string, resp Response) error {
	return s.finish(ctx, "idempotency.Complete",
		"SET #s = :next, order_id = :oid, guest_token = :gt, response_body = :rb, response_status = :rs, updated_at = :ua",
		key, map[string]types.AttributeValue{
			":next": &types.AttributeValueMemberS{Value: StatusDone},
			":oid":  &types.AttributeValueMemberS{Value: resp.OrderID},
			":gt":   &types.AttributeValueMemberS{Value: resp.GuestToken},
			":rb":   &types.AttributeValueMemberS{Value: resp.Body},
			":rs":   &types.AttributeValueMemberN{Value: strconv.Itoa(resp.Status)},
		})
}

// Fail releases the key so a retry with the same key can run again.
func (s *Store) Fail(ctx context.Context, key, note string) error {
	return s.finish(ctx, "idempotency.Fail",
		"SET #s = :next, note = :n, updated_at = :ua",
		key, map[string]types.AttributeValue{
			":next": &types.AttributeValueMemberS{Value: StatusFailed},
			":n":    &types.AttributeValueMemberS{Value: note},
		})
}

// finish moves an IN_PROGRESS record to its final state.
func (s *Store) finish(ctx context.Context, op, update, key string, values map[string]types.AttributeValue) error {
	values[":ua"] = &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339)}
	values[":inprogress"] = &types.AttributeValueMemberS{Value: StatusInProgress}

	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 sdkaws.String(s.tableName),
		Key:                       keyOf(key),
		UpdateExpression:          sdkaws.String(update),
		ConditionExpression:       sdkaws.String("#s = :inprogress"),
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return apperr.E(apperr.KindConflict, op, ErrConditionFailed)
		}
		return apperr.E(apperr.KindUnavailable, op, fmt.Errorf("update item: %w", err))
	}
	return nil
}

func keyOf(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"idempotency_key": &types.AttributeValueMemberS{Value: key},
	}
}

func isConditionFailed(err error) bool {
	var sc smithy.APIError
	return errors.As(err, &sc) && sc.ErrorCode() == "ConditionalCheckFailedException"
}
