package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-storefront-orderflow/internal/accounts"
	"github.com/imrishuroy/go-storefront-orderflow/internal/apperr"
	"github.com/imrishuroy/go-storefront-orderflow/internal/aws"
	"github.com/imrishuroy/go-storefront-orderflow/internal/logger"
	"github.com/imrishuroy/go-storefront-orderflow/internal/status"
)

const (
	DefaultLimit = 50

	userIDIndex    = "user_id-index"
	userEmailIndex = "user_email-index"
	statusIndex    = "status-index"
)

var (
	// ErrNotFound is returned when no order exists for an id.
	ErrNotFound = errors.New("order not found")
	// ErrDuplicateID means the minted id was already taken; the order was not written.
	ErrDuplicateID = errors.New("order id already exists")
)

// IDSource mints order ids.
type IDSource interface {
	NewOrderID(ctx context.Context, now time.Time) (string, error)
}

// AccountLookup resolves a user id to an account.
type AccountLookup interface {
	Get(ctx context.Context, userID string) (*accounts.Account, error)
}

// GuestIndex tracks order ids per guest device.
type GuestIndex interface {
	List(ctx context.Context, token string) []string
	Add(ctx context.Context, token, orderID string) error
}

// Config groups the dependencies of a Store.
type Config struct {
	Client          aws.DynamoDBAPI
	OrdersTable     string
	UserOrdersTable string
	IDs             IDSource
	Accounts        AccountLookup
	Guests          GuestIndex
	Feed            *Feed
	DefaultLimit    int
	Logger          logrus.FieldLogger
}

// Store encapsulates operations on the orders table and its secondary indexes.
type Store struct {
	client          aws.DynamoDBAPI
	tableName       string
	userOrdersTable string
	ids             IDSource
	accounts        AccountLookup
	guests          GuestIndex
	feed            *Feed
	defaultLimit    int
	log             logrus.FieldLogger
	nowFunc         func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(cfg Config) *Store {
	s := &Store{
		client:          cfg.Client,
		tableName:       cfg.OrdersTable,
		userOrdersTable: cfg.UserOrdersTable,
		ids:             cfg.IDs,
		accounts:        cfg.Accounts,
		guests:          cfg.Guests,
		feed:            cfg.Feed,
		defaultLimit:    cfg.DefaultLimit,
		log:             logger.OrDiscard(cfg.Logger),
		nowFunc:         time.Now,
	}
	if s.defaultLimit <= 0 {
		s.defaultLimit = DefaultLimit
	}
	if s.feed == nil {
		s.feed = NewFeed()
	}
	return s
}

// Feed exposes the store's change feed.
func (s *Store) Feed() *Feed { return s.feed }

// Create mints an id, persists the order and records it in the owner's index.
// Index writes are best effort: the order record is the source of truth.
func (s *Store) Create(ctx context.Context, in CreateInput) (*Order, error) {
	const op = "orders.Create"
	now := s.nowFunc()

	id, err := s.ids.NewOrderID(ctx, now)
	if err != nil {
		return nil, err
	}

	order := Order{
		OrderID:              id,
		Status:               status.Processing,
		CustomerName:         orNA(in.CustomerName),
		PhoneNumber:          orNA(in.PhoneNumber),
		Address:              orNA(in.Address),
		DeliveryLocation:     orNA(in.DeliveryLocation),
		DeliveryNote:         orNA(in.DeliveryNote),
		OutsideDhakaLocation: orNA(in.OutsideDhakaLocation),
		PaymentNumber:        orNA(in.PaymentNumber),
		TransactionID:        orNA(in.TransactionID),
		CartItems:            in.CartItems,
		SubTotal:             in.SubTotal,
		DeliveryFee:          in.DeliveryFee,
		TotalAmount:          in.TotalAmount,
		OrderDate:            now.UTC().Format(dateLayout),
		UserID:               strings.TrimSpace(in.UserID),
		UserEmail:            strings.TrimSpace(in.UserEmail),
		PlayerID:             strings.TrimSpace(in.PlayerID),
	}
	if order.CartItems == nil {
		order.CartItems = []LineItem{}
	}
	if order.IsGuest() {
		order.UserID = GuestUserID
		order.UserEmail = ""
	}

	item, err := attributevalue.MarshalMap(order)
	if err != nil {
		return nil, apperr.E(apperr.KindInternal, op, fmt.Errorf("marshal order: %w", err))
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: sdkaws.String("attribute_not_exists(order_id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, apperr.E(apperr.KindConflict, op, fmt.Errorf("%w: %s", ErrDuplicateID, id))
		}
		return nil, apperr.E(apperr.KindUnavailable, op, fmt.Errorf("put item: %w", err))
	}

	log := s.log.WithFields(logrus.Fields{"order_id": id, "user_id": order.UserID})
	if order.IsGuest() {
		if s.guests != nil && in.GuestToken != "" {
			if err := s.guests.Add(ctx, in.GuestToken, id); err != nil {
				log.WithError(err).Warn("guest index not updated")
			}
		}
	} else if err := s.markUserOrder(ctx, order.UserID, id, now); err != nil {
		log.WithError(err).Warn("user order index not updated")
	}

	log.Info("order created")
	s.feed.Publish(Event{Kind: EventCreated, Order: order})
	return &order, nil
}

func (s *Store) markUserOrder(ctx context.Context, userID, orderID string, now time.Time) error {
	_, err := s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.userOrdersTable,
		Item: map[string]types.AttributeValue{
			"user_id":    &types.AttributeValueMemberS{Value: userID},
			"order_id":   &types.AttributeValueMemberS{Value: orderID},
			"placed":     &types.AttributeValueMemberBOOL{Value: true},
			"created_at": &types.AttributeValueMemberS{Value: now.UTC().Format(dateLayout)},
		},
	})
	if err != nil {
		return fmt.Errorf("put user order marker: %w", err)
	}
	return nil
}

// Get fetches an order by id.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	const op = "orders.Get"
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
	})
	if err != nil {
		return nil, apperr.E(apperr.KindUnavailable, op, fmt.Errorf("get item: %w", err))
	}
	if len(out.Item) == 0 {
		return nil, apperr.E(apperr.KindNotFound, op, fmt.Errorf("%w: %s", ErrNotFound, orderID))
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, apperr.E(apperr.KindInternal, op, fmt.Errorf("unmarshal order: %w", err))
	}
	return &o, nil
}

// ListByUser returns a user's orders, newest first. Orders written before
// user ids were recorded carry only the account email, so both indexes are
// read and merged.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	const op = "orders.ListByUser"
	userID = strings.TrimSpace(userID)
	if userID == "" || userID == GuestUserID {
		return []Order{}, nil
	}

	byID, err := s.queryIndex(ctx, userIDIndex, "user_id", userID)
	if err != nil {
		return nil, apperr.E(apperr.KindUnavailable, op, err)
	}

	var legacy []Order
	if s.accounts != nil {
		acct, err := s.accounts.Get(ctx, userID)
		switch {
		case apperr.Is(err, apperr.KindNotFound):
			s.log.WithField("user_id", userID).Debug("no account record, skipping email lookup")
		case err != nil:
			return nil, err
		case acct.Email != "":
			legacy, err = s.queryIndex(ctx, userEmailIndex, "user_email", acct.Email)
			if err != nil {
				return nil, apperr.E(apperr.KindUnavailable, op, err)
			}
		}
	}

	seen := make(map[string]struct{}, len(byID)+len(legacy))
	merged := make([]Order, 0, len(byID)+len(legacy))
	for _, o := range byID {
		seen[o.OrderID] = struct{}{}
		merged = append(merged, o)
	}
	for _, o := range legacy {
		if _, dup := seen[o.OrderID]; dup {
			continue
		}
		// an email match never pulls in an order owned by someone else
		if o.UserID != "" && o.UserID != userID {
			continue
		}
		seen[o.OrderID] = struct{}{}
		merged = append(merged, o)
	}
	sortNewestFirst(merged)
	return merged, nil
}

// GuestOrders returns the order ids recorded for a guest device. It never fails.
func (s *Store) GuestOrders(ctx context.Context, token string) []string {
	if s.guests == nil {
		return []string{}
	}
	return s.guests.List(ctx, token)
}

// UpdateStatus sets a new status and stamps status_updated_at. Any status may
// follow any other; admins are allowed to move orders backwards.
func (s *Store) UpdateStatus(ctx context.Context, orderID, newStatus string) (*Order, error) {
	const op = "orders.UpdateStatus"
	st, err := status.Parse(newStatus)
	if err != nil {
		return nil, err
	}

	now := s.nowFunc()
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:         sdkaws.String("SET #s = :s, status_updated_at = :ua"),
		ConditionExpression:      sdkaws.String("attribute_exists(order_id)"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s":  &types.AttributeValueMemberS{Value: string(st)},
			":ua": &types.AttributeValueMemberS{Value: now.UTC().Format(dateLayout)},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, apperr.E(apperr.KindNotFound, op, fmt.Errorf("%w: %s", ErrNotFound, orderID))
		}
		return nil, apperr.E(apperr.KindUnavailable, op, fmt.Errorf("update item: %w", err))
	}

	var o Order
	if err := attributevalue.UnmarshalMap(out.Attributes, &o); err != nil {
		return nil, apperr.E(apperr.KindInternal, op, fmt.Errorf("unmarshal order: %w", err))
	}
	s.log.WithFields(logrus.Fields{"order_id": orderID, "status": st}).Info("order status updated")
	s.feed.Publish(Event{Kind: EventStatusChanged, Order: o})
	return &o, nil
}

// List returns the most recent orders, at most limit (DefaultLimit when <= 0).
func (s *Store) List(ctx context.Context, limit int) ([]Order, error) {
	const op = "orders.List"
	var (
		all   []Order
		start map[string]types.AttributeValue
	)
	for {
		out, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:         &s.tableName,
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, apperr.E(apperr.KindUnavailable, op, fmt.Errorf("scan: %w", err))
		}
		var page []Order
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, apperr.E(apperr.KindInternal, op, fmt.Errorf("unmarshal orders: %w", err))
		}
		all = append(all, page...)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		start = out.LastEvaluatedKey
	}
	return s.newest(all, limit), nil
}

// ListByStatus returns the most recent orders in a status, at most limit.
func (s *Store) ListByStatus(ctx context.Context, st string, limit int) ([]Order, error) {
	const op = "orders.ListByStatus"
	parsed, err := status.Parse(st)
	if err != nil {
		return nil, err
	}
	found, err := s.queryIndex(ctx, statusIndex, "status", string(parsed))
	if err != nil {
		return nil, apperr.E(apperr.KindUnavailable, op, err)
	}
	return s.newest(found, limit), nil
}

// newest sorts then truncates, so the result is the N most recent rather than the first N read.
func (s *Store) newest(list []Order, limit int) []Order {
	if limit <= 0 {
		limit = s.defaultLimit
	}
	if list == nil {
		list = []Order{}
	}
	sortNewestFirst(list)
	if len(list) > limit {
		list = list[:limit]
	}
	return list
}

func (s *Store) queryIndex(ctx context.Context, index, attr, value string) ([]Order, error) {
	var (
		found []Order
		start map[string]types.AttributeValue
	)
	for {
		out, err := s.client.Query(ctx, &dyn.QueryInput{
			TableName:                &s.tableName,
			IndexName:                sdkaws.String(index),
			KeyConditionExpression:   sdkaws.String("#k = :v"),
			ExpressionAttributeNames: map[string]string{"#k": attr},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":v": &types.AttributeValueMemberS{Value: value},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", index, err)
		}
		var page []Order
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal orders: %w", err)
		}
		found = append(found, page...)
		if len(out.LastEvaluatedKey) == 0 {
			return found, nil
		}
		start = out.LastEvaluatedKey
	}
}

// sortNewestFirst orders by orderDate descending. Ties keep no particular order.
func sortNewestFirst(list []Order) {
	sort.Slice(list, func(i, j int) bool {
		return parseDate(list[i].OrderDate).After(parseDate(list[j].OrderDate))
	})
}

func parseDate(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
