package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-storefront-orderflow/internal/apperr"
	"github.com/imrishuroy/go-storefront-orderflow/internal/aws"
)

// ErrNotFound is returned when no account exists for a user id.
var ErrNotFound = errors.New("account not found")

// Store reads and updates account records in the users table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore returns an accounts Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Get fetches an account by user id.
func (s *Store) Get(ctx context.Context, userID string) (*Account, error) {
	const op = "accounts.Get"
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, apperr.E(apperr.KindUnavailable, op, fmt.Errorf("get item: %w", err))
	}
	if len(out.Item) == 0 {
		return nil, apperr.E(apperr.KindNotFound, op, fmt.Errorf("%w: %s", ErrNotFound, userID))
	}
	var a Account
	if err := attributevalue.UnmarshalMap(out.Item, &a); err != nil {
		return nil, apperr.E(apperr.KindInternal, op, fmt.Errorf("unmarshal account: %w", err))
	}
	return &a, nil
}

// PlayerIDs scans every account and returns the push handles that are set.
// Accounts without a handle are skipped.
func (s *Store) PlayerIDs(ctx context.Context) ([]string, error) {
	const op = "accounts.PlayerIDs"
	var (
		ids   []string
		start map[string]types.AttributeValue
	)
	for {
		out, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:            &s.tableName,
			ProjectionExpression: sdkaws.String("user_id, onesignal_player_id"),
			ExclusiveStartKey:    start,
		})
		if err != nil {
			return nil, apperr.E(apperr.KindUnavailable, op, fmt.Errorf("scan: %w", err))
		}
		var page []Account
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, apperr.E(apperr.KindInternal, op, fmt.Errorf("unmarshal accounts: %w", err))
		}
		for _, a := range page {
			if id := strings.TrimSpace(a.PlayerID); id != "" {
				ids = append(ids, id)
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return ids, nil
		}
		start = out.LastEvaluatedKey
	}
}

// SetPlayerID records the push handle of a user's current device.
func (s *Store) SetPlayerID(ctx context.Context, userID, playerID string) error {
	const op = "accounts.SetPlayerID"
	if strings.TrimSpace(playerID) == "" {
		return apperr.Validation(op, "player id is required")
	}
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
		UpdateExpression:    sdkaws.String("SET onesignal_player_id = :p, player_updated_at = :ua"),
		ConditionExpression: sdkaws.String("attribute_exists(user_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":p":  &types.AttributeValueMemberS{Value: playerID},
			":ua": &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return apperr.E(apperr.KindNotFound, op, fmt.Errorf("%w: %s", ErrNotFound, userID))
		}
		return apperr.E(apperr.KindUnavailable, op, fmt.Errorf("update item: %w", err))
	}
	return nil
}
