package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-storefront-orderflow/internal/logger"
)

// Enqueuer schedules notification jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg Message) error
}

// QueuePublisher sends a raw body to a queue.
type QueuePublisher interface {
	Publish(ctx context.Context, body string, attributes map[string]string) (string, error)
}

// SQSEnqueuer publishes jobs to the notifications queue.
type SQSEnqueuer struct {
	pub QueuePublisher
	log logrus.FieldLogger
}

func NewSQSEnqueuer(pub QueuePublisher, log logrus.FieldLogger) *SQSEnqueuer {
	return &SQSEnqueuer{pub: pub, log: logger.OrDiscard(log)}
}

func (e *SQSEnqueuer) Enqueue(ctx context.Context, msg Message) error {
	if msg.CorrelationID == "" {
		msg.CorrelationID = uuid.NewString()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	id, err := e.pub.Publish(ctx, string(body), map[string]string{
		"type":           string(msg.Type),
		"correlation_id": msg.CorrelationID,
	})
	if err != nil {
		return fmt.Errorf("enqueue %s for order %s: %w", msg.Type, msg.OrderID, err)
	}
	e.log.WithFields(logrus.Fields{
		"order_id":       msg.OrderID,
		"type":           msg.Type,
		"correlation_id": msg.CorrelationID,
		"message_id":     id,
	}).Info("job enqueued")
	return nil
}

// Inline runs jobs in-process, for deployments without a queue.
type Inline struct {
	proc *Processor
}

func NewInline(proc *Processor) *Inline {
	return &Inline{proc: proc}
}

func (i *Inline) Enqueue(ctx context.Context, msg Message) error {
	if msg.CorrelationID == "" {
		msg.CorrelationID = uuid.NewString()
	}
	return i.proc.Process(ctx, msg)
}
