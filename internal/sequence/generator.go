package sequence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-storefront-orderflow/internal/apperr"
	"github.com/imrishuroy/go-storefront-orderflow/internal/aws"
	"github.com/imrishuroy/go-storefront-orderflow/internal/logger"
)

// ErrContention means the counter could not be advanced within the retry budget.
var ErrContention = errors.New("order counter contention")

const (
	dateLayout         = "2006-01-02"
	defaultMaxAttempts = 25
)

// Generator hands out per-day order numbers from a DynamoDB counter table.
// Each day has one item {counter_date, value}; advancing it is a
// read followed by a conditional put that only succeeds if nobody else
// advanced it in between.
type Generator struct {
	client      aws.DynamoDBAPI
	tableName   string
	maxAttempts int
	loc         *time.Location
	log         logrus.FieldLogger
}

// Option configures a Generator.
type Option func(*Generator)

// WithMaxAttempts bounds the compare-and-swap retries per call.
func WithMaxAttempts(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// WithLocation sets the timezone that decides which calendar day a timestamp belongs to.
func WithLocation(loc *time.Location) Option {
	return func(g *Generator) {
		if loc != nil {
			g.loc = loc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(g *Generator) { g.log = l }
}

// NewGenerator returns a Generator over tableName.
func NewGenerator(client aws.DynamoDBAPI, tableName string, opts ...Option) *Generator {
	g := &Generator{
		client:      client,
		tableName:   tableName,
		maxAttempts: defaultMaxAttempts,
		loc:         time.UTC,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = logger.OrDiscard(g.log)
	return g
}

// DateKey is the counter key for date in the generator's timezone.
func (g *Generator) DateKey(date time.Time) string {
	return date.In(g.loc).Format(dateLayout)
}

// Next returns the next 1-based number for date's calendar day.
func (g *Generator) Next(ctx context.Context, date time.Time) (int, error) {
	const op = "sequence.Next"
	key := g.DateKey(date)

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, apperr.E(apperr.KindUnavailable, op, err)
		}

		current, exists, err := g.read(ctx, key)
		if err != nil {
			return 0, apperr.E(apperr.KindUnavailable, op, err)
		}

		next := current + 1
		err = g.swap(ctx, key, current, next, exists)
		if err == nil {
			return next, nil
		}
		var ccf *types.ConditionalCheckFailedException
		if !errors.As(err, &ccf) {
			return 0, apperr.E(apperr.KindUnavailable, op, err)
		}
		g.log.WithFields(logrus.Fields{"counter_date": key, "attempt": attempt}).Debug("counter moved, retrying")
	}

	g.log.WithField("counter_date", key).Warn("counter retry budget exhausted")
	return 0, apperr.E(apperr.KindUnavailable, op, fmt.Errorf("%w: %s after %d attempts", ErrContention, key, g.maxAttempts))
}

// NewOrderID mints a fresh order id for now.
func (g *Generator) NewOrderID(ctx context.Context, now time.Time) (string, error) {
	local := now.In(g.loc)
	seq, err := g.Next(ctx, local)
	if err != nil {
		return "", err
	}
	return FormatOrderID(local, seq), nil
}

func (g *Generator) read(ctx context.Context, key string) (int, bool, error) {
	out, err := g.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &g.tableName,
		Key: map[string]types.AttributeValue{
			"counter_date": &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: sdkaws.Bool(true),
	})
	if err != nil {
		return 0, false, fmt.Errorf("get counter: %w", err)
	}
	if len(out.Item) == 0 {
		return 0, false, nil
	}
	n, ok := out.Item["value"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, false, fmt.Errorf("counter %s has no numeric value", key)
	}
	v, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, false, fmt.Errorf("parse counter %s: %w", key, err)
	}
	return v, true, nil
}

func (g *Generator) swap(ctx context.Context, key string, current, next int, exists bool) error {
	input := &dyn.PutItemInput{
		TableName: &g.tableName,
		Item: map[string]types.AttributeValue{
			"counter_date": &types.AttributeValueMemberS{Value: key},
			"value":        &types.AttributeValueMemberN{Value: strconv.Itoa(next)},
		},
	}
	if exists {
		input.ConditionExpression = sdkaws.String("#v = :expected")
		input.ExpressionAttributeNames = map[string]string{"#v": "value"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.Itoa(current)},
		}
	} else {
		input.ConditionExpression = sdkaws.String("attribute_not_exists(counter_date)")
	}

	_, err := g.client.PutItem(ctx, input)
	return err
}

// FormatOrderID renders YY DD M NNN: two-digit year, zero-padded day,
// month without padding, and the sequence padded to at least three digits.
// The field order is fixed for compatibility with ids already issued.
func FormatOrderID(date time.Time, seq int) string {
	return fmt.Sprintf("%02d%02d%d%03d", date.Year()%100, date.Day(), int(date.Month()), seq)
}
