package jobs

import (
	"context"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-storefront-orderflow/internal/logger"
	"github.com/imrishuroy/go-storefront-orderflow/internal/notify"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
)

// OrderGetter loads an order by id.
type OrderGetter interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
}

// Notifier sends the notifications a job asks for.
type Notifier interface {
	NotifyStatusChange(ctx context.Context, order orders.Order) notify.Outcome
	NotifyNewOrder(ctx context.Context, order orders.Order) notify.Outcome
}

// Processor turns notification jobs into provider calls.
type Processor struct {
	orders   OrderGetter
	notifier Notifier
	log      logrus.FieldLogger
}

func NewProcessor(orders OrderGetter, notifier Notifier, log logrus.FieldLogger) *Processor {
	return &Processor{orders: orders, notifier: notifier, log: logger.OrDiscard(log)}
}

// Process handles one job. Only a failure to load the order fails the job;
// dispatch failures are logged and the job is considered done.
func (p *Processor) Process(ctx context.Context, msg Message) error {
	log := p.log.WithFields(logrus.Fields{
		"order_id":       msg.OrderID,
		"type":           msg.Type,
		"correlation_id": msg.CorrelationID,
	})

	order, err := p.orders.Get(ctx, msg.OrderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", msg.OrderID, err)
	}

	var out notify.Outcome
	switch msg.Type {
	case TypeOrderCreated:
		out = p.notifier.NotifyNewOrder(ctx, *order)
	case TypeStatusChanged:
		out = p.notifier.NotifyStatusChange(ctx, *order)
	default:
		return fmt.Errorf("unknown job type %q", msg.Type)
	}

	switch {
	case out.Err != nil:
		log.WithError(out.Err).Warn("notification not delivered")
	case out.Skipped:
		log.Debug("notification skipped")
	default:
		log.WithField("notification_id", out.NotificationID).Info("job processed")
	}
	return nil
}

// HandleSQS processes a batch and reports the records that should be retried.
func (p *Processor) HandleSQS(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		msg, err := Decode(rec.Body)
		if err == nil {
			err = p.Process(ctx, msg)
		}
		if err != nil {
			p.log.WithError(err).WithField("message_id", rec.MessageId).Error("job failed")
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}
