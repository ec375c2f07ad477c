package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-storefront-orderflow/internal/apperr"
	"github.com/imrishuroy/go-storefront-orderflow/internal/logger"
	"github.com/imrishuroy/go-storefront-orderflow/internal/onesignal"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
	"github.com/imrishuroy/go-storefront-orderflow/internal/status"
)

const DefaultAdminSegment = "Admins"

// Sender submits a notification to the push provider.
type Sender interface {
	Send(ctx context.Context, n onesignal.Notification) (*onesignal.Response, error)
}

// Counter records a metric. A nil Counter disables metrics.
type Counter interface {
	Count(ctx context.Context, name string, value float64, dims map[string]string) error
}

// Outcome reports what happened to a single dispatch.
type Outcome struct {
	Skipped        bool
	Delivered      bool
	NotificationID string
	Err            error
}

// Config groups the dependencies of a Dispatcher.
type Config struct {
	Sender       Sender
	Metrics      Counter
	StoreBaseURL string
	Icon         string
	AdminSegment string
	Logger       logrus.FieldLogger
}

// Dispatcher sends one-to-one status notifications and admin alerts.
type Dispatcher struct {
	sender       Sender
	metrics      Counter
	storeBaseURL string
	icon         string
	adminSegment string
	log          logrus.FieldLogger
}

// NewDispatcher returns a Dispatcher; with a nil Sender every notification is skipped.
func NewDispatcher(cfg Config) *Dispatcher {
	seg := cfg.AdminSegment
	if seg == "" {
		seg = DefaultAdminSegment
	}
	return &Dispatcher{
		sender:       cfg.Sender,
		metrics:      cfg.Metrics,
		storeBaseURL: cfg.StoreBaseURL,
		icon:         cfg.Icon,
		adminSegment: seg,
		log:          logger.OrDiscard(cfg.Logger),
	}
}

// TrackingURL is the customer-facing page for an order.
func (d *Dispatcher) TrackingURL(orderID string) string {
	return fmt.Sprintf("%s/track-order?id=%s", d.storeBaseURL, orderID)
}

// NotifyStatusChange tells the order's owner about its current status.
// Orders without a recipient handle are skipped without contacting the provider.
func (d *Dispatcher) NotifyStatusChange(ctx context.Context, order orders.Order) Outcome {
	log := d.log.WithFields(logrus.Fields{"order_id": order.OrderID, "status": order.Status})
	if order.PlayerID == "" {
		log.Debug("no recipient handle, skipping status notification")
		d.count(ctx, "StatusNotificationSkipped")
		return Outcome{Skipped: true}
	}

	info := status.Lookup(string(order.Status))
	n := onesignal.Notification{
		IncludePlayerIDs: []string{order.PlayerID},
		Headings:         map[string]string{"en": info.Title},
		Contents:         map[string]string{"en": info.Message},
		URL:              d.TrackingURL(order.OrderID),
		ChromeWebIcon:    d.icon,
		Data: map[string]string{
			"orderId": order.OrderID,
			"status":  string(order.Status),
		},
	}
	return d.send(ctx, log, "StatusNotification", "notify.NotifyStatusChange", n)
}

// NotifyNewOrder alerts the admin segment that an order was placed.
func (d *Dispatcher) NotifyNewOrder(ctx context.Context, order orders.Order) Outcome {
	log := d.log.WithField("order_id", order.OrderID)
	n := onesignal.Notification{
		IncludedSegments: []string{d.adminSegment},
		Headings:         map[string]string{"en": "New order received"},
		Contents: map[string]string{
			"en": fmt.Sprintf("Order #%s from %s: %.2f", order.OrderID, order.CustomerName, order.TotalAmount),
		},
		URL:           d.TrackingURL(order.OrderID),
		ChromeWebIcon: d.icon,
		Data:          map[string]string{"orderId": order.OrderID, "type": "new_order"},
	}
	return d.send(ctx, log, "AdminNotification", "notify.NotifyNewOrder", n)
}

func (d *Dispatcher) send(ctx context.Context, log logrus.FieldLogger, metric, op string, n onesignal.Notification) Outcome {
	if d.sender == nil {
		d.count(ctx, metric+"Skipped")
		return Outcome{Skipped: true}
	}

	res, err := d.sender.Send(ctx, n)
	if err != nil {
		var partial *onesignal.PartialError
		if errors.As(err, &partial) {
			log.WithError(err).Warn("notification accepted with recipient errors")
			d.count(ctx, metric+"Partial")
			return Outcome{Delivered: true, NotificationID: partial.Response.ID, Err: apperr.E(apperr.KindPartial, op, err)}
		}
		log.WithError(err).Error("notification failed")
		d.count(ctx, metric+"Failed")
		return Outcome{Err: apperr.E(kindFor(err), op, err)}
	}

	log.WithField("notification_id", res.ID).Info("notification sent")
	d.count(ctx, metric+"Sent")
	return Outcome{Delivered: true, NotificationID: res.ID}
}

func (d *Dispatcher) count(ctx context.Context, name string) {
	if d.metrics == nil {
		return
	}
	if err := d.metrics.Count(ctx, name, 1, nil); err != nil {
		d.log.WithError(err).WithField("metric", name).Warn("failed to record metric")
	}
}

// kindFor classifies a provider error for callers.
func kindFor(err error) apperr.Kind {
	if errors.Is(err, onesignal.ErrTransport) {
		return apperr.KindUnavailable
	}
	return apperr.KindInternal
}
