package broadcast

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-storefront-orderflow/internal/apperr"
	"github.com/imrishuroy/go-storefront-orderflow/internal/logger"
	"github.com/imrishuroy/go-storefront-orderflow/internal/onesignal"
)

// Kind names a broadcast template, or KindCustom for caller-supplied copy.
type Kind string

const (
	KindPromotion  Kind = "promotion"
	KindNewArrival Kind = "new_arrival"
	KindDiscount   Kind = "discount"
	KindCustom     Kind = "custom"
)

// TargetKind selects how a broadcast's recipients are resolved.
type TargetKind string

const (
	TargetAll      TargetKind = "all"
	TargetActive   TargetKind = "active"
	TargetInactive TargetKind = "inactive"
	TargetUsers    TargetKind = "users"
)

const (
	SubscribedSegment        = "Subscribed Users"
	DefaultActivityThreshold = "30"
	customTitle              = "Message from the store"
)

var (
	// ErrNoRecipients means explicit targeting resolved to zero handles.
	ErrNoRecipients  = errors.New("no recipients with a push handle")
	ErrEmptyCustom   = errors.New("custom broadcasts require text")
	ErrUnknownKind   = errors.New("unknown broadcast kind")
	ErrUnknownTarget = errors.New("unknown broadcast target")
	ErrDisabled      = errors.New("push notifications are not configured")
)

type template struct {
	Title   string
	Message string
}

var templates = map[Kind]template{
	KindPromotion: {
		Title:   "Special promotion",
		Message: "Don't miss our latest offers. Shop now and save!",
	},
	KindNewArrival: {
		Title:   "New arrivals",
		Message: "Fresh products just landed in the store. Take a look!",
	},
	KindDiscount: {
		Title:   "Discount alert",
		Message: "Selected products are now on discount for a limited time.",
	},
}

// Kinds returns the supported broadcast kinds.
func Kinds() []Kind {
	return []Kind{KindPromotion, KindNewArrival, KindDiscount, KindCustom}
}

// Target selects the audience of a broadcast.
type Target struct {
	Kind      TargetKind
	PlayerIDs []string
}

// Request is one admin broadcast; CustomText is read only for KindCustom.
type Request struct {
	Kind       Kind
	CustomText string
	Target     Target
}

// Result reports the provider notification id and recipient count.
type Result struct {
	NotificationID string `json:"notificationId"`
	Recipients     int    `json:"recipients"`
}

// Sender submits a notification to the push provider.
type Sender interface {
	Send(ctx context.Context, n onesignal.Notification) (*onesignal.Response, error)
}

// Directory enumerates every recipient handle on file.
type Directory interface {
	PlayerIDs(ctx context.Context) ([]string, error)
}

// Counter records a metric. A nil Counter disables metrics.
type Counter interface {
	Count(ctx context.Context, name string, value float64, dims map[string]string) error
}

// Config holds the Broadcaster dependencies. Sender may be nil.
type Config struct {
	Sender            Sender
	Directory         Directory
	Metrics           Counter
	StoreBaseURL      string
	Icon              string
	ActivityThreshold string
	Logger            logrus.FieldLogger
}

// Broadcaster sends templated notifications to a segment, a filter or a list of handles.
type Broadcaster struct {
	sender    Sender
	directory Directory
	metrics   Counter
	url       string
	icon      string
	threshold string
	log       logrus.FieldLogger
}

// NewBroadcaster returns a Broadcaster; a nil Sender makes every send fail with ErrDisabled.
func NewBroadcaster(cfg Config) *Broadcaster {
	threshold := cfg.ActivityThreshold
	if threshold == "" {
		threshold = DefaultActivityThreshold
	}
	return &Broadcaster{
		sender:    cfg.Sender,
		directory: cfg.Directory,
		metrics:   cfg.Metrics,
		url:       cfg.StoreBaseURL,
		icon:      cfg.Icon,
		threshold: threshold,
		log:       logger.OrDiscard(cfg.Logger),
	}
}

// Broadcast validates req, resolves its audience and sends one notification.
func (b *Broadcaster) Broadcast(ctx context.Context, req Request) (*Result, error) {
	const op = "broadcast.Broadcast"

	tpl, err := messageFor(req)
	if err != nil {
		return nil, apperr.E(apperr.KindValidation, op, err)
	}

	n := onesignal.Notification{
		Headings:      map[string]string{"en": tpl.Title},
		Contents:      map[string]string{"en": tpl.Message},
		URL:           b.url,
		ChromeWebIcon: b.icon,
		Data:          map[string]string{"type": string(req.Kind)},
	}
	if err := b.audience(ctx, req.Target, &n); err != nil {
		return nil, err
	}

	if b.sender == nil {
		return nil, apperr.E(apperr.KindUnavailable, op, ErrDisabled)
	}

	log := b.log.WithFields(logrus.Fields{"kind": req.Kind, "target": req.Target.Kind})
	res, err := b.sender.Send(ctx, n)
	if err != nil {
		var partial *onesignal.PartialError
		switch {
		case errors.As(err, &partial):
			log.WithError(err).Warn("broadcast accepted with recipient errors")
			b.count(ctx, "BroadcastPartial", 1, req)
			return &Result{NotificationID: partial.Response.ID, Recipients: partial.Response.Recipients},
				apperr.E(apperr.KindPartial, op, err)
		case errors.Is(err, onesignal.ErrTransport):
			log.WithError(err).Error("broadcast provider unreachable")
			b.count(ctx, "BroadcastFailed", 1, req)
			return nil, apperr.E(apperr.KindUnavailable, op, err)
		default:
			log.WithError(err).Error("broadcast rejected")
			b.count(ctx, "BroadcastFailed", 1, req)
			return nil, apperr.E(apperr.KindInternal, op, err)
		}
	}

	log.WithFields(logrus.Fields{"notification_id": res.ID, "recipients": res.Recipients}).Info("broadcast sent")
	b.count(ctx, "BroadcastRecipients", float64(res.Recipients), req)
	return &Result{NotificationID: res.ID, Recipients: res.Recipients}, nil
}

func messageFor(req Request) (template, error) {
	if req.Kind == KindCustom {
		text := strings.TrimSpace(req.CustomText)
		if text == "" {
			return template{}, ErrEmptyCustom
		}
		return template{Title: customTitle, Message: text}, nil
	}
	tpl, ok := templates[req.Kind]
	if !ok {
		return template{}, ErrUnknownKind
	}
	return tpl, nil
}

func (b *Broadcaster) audience(ctx context.Context, t Target, n *onesignal.Notification) error {
	const op = "broadcast.audience"
	switch t.Kind {
	case TargetAll, "":
		n.IncludedSegments = []string{SubscribedSegment}
	case TargetActive:
		n.Filters = []onesignal.Filter{{Field: "last_session", Relation: "<", Value: b.threshold}}
	case TargetInactive:
		n.Filters = []onesignal.Filter{{Field: "last_session", Relation: ">", Value: b.threshold}}
	case TargetUsers:
		ids := compact(t.PlayerIDs)
		if len(ids) == 0 {
			if b.directory == nil {
				return apperr.E(apperr.KindValidation, op, ErrNoRecipients)
			}
			all, err := b.directory.PlayerIDs(ctx)
			if err != nil {
				return apperr.E(apperr.KindOf(err), op, err)
			}
			ids = compact(all)
		}
		if len(ids) == 0 {
			return apperr.E(apperr.KindValidation, op, ErrNoRecipients)
		}
		n.IncludePlayerIDs = ids
	default:
		return apperr.E(apperr.KindValidation, op, ErrUnknownTarget)
	}
	return nil
}

func compact(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (b *Broadcaster) count(ctx context.Context, name string, value float64, req Request) {
	if b.metrics == nil {
		return
	}
	dims := map[string]string{"Kind": string(req.Kind), "Target": string(req.Target.Kind)}
	if err := b.metrics.Count(ctx, name, value, dims); err != nil {
		b.log.WithError(err).WithField("metric", name).Warn("failed to record metric")
	}
}
