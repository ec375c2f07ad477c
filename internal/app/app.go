// Package app wires configuration into the stores and services shared by
// the API and worker binaries.
package app

import (
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-storefront-orderflow/internal/accounts"
	"github.com/imrishuroy/go-storefront-orderflow/internal/aws"
	"github.com/imrishuroy/go-storefront-orderflow/internal/broadcast"
	"github.com/imrishuroy/go-storefront-orderflow/internal/config"
	"github.com/imrishuroy/go-storefront-orderflow/internal/guest"
	"github.com/imrishuroy/go-storefront-orderflow/internal/handlers"
	"github.com/imrishuroy/go-storefront-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-storefront-orderflow/internal/jobs"
	"github.com/imrishuroy/go-storefront-orderflow/internal/notify"
	"github.com/imrishuroy/go-storefront-orderflow/internal/onesignal"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
	"github.com/imrishuroy/go-storefront-orderflow/internal/sequence"
)

const guestIndexTTL = 90 * 24 * time.Hour

// App holds the wired services.
type App struct {
	Config      *config.Config
	Log         *logrus.Logger
	Orders      *orders.Store
	Accounts    *accounts.Store
	Dispatcher  *notify.Dispatcher
	Broadcaster *broadcast.Broadcaster
	Processor   *jobs.Processor
	Jobs        jobs.Enqueuer
	Idempotency *idempotency.Store

	redis *redis.Client
}

// New builds every service from cfg and the AWS clients.
func New(cfg *config.Config, clients *aws.AWSClients, log *logrus.Logger) *App {
	a := &App{Config: cfg, Log: log}

	a.Accounts = accounts.NewStore(clients.DynamoDB, cfg.UsersTable)

	var kv guest.KV
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		kv = guest.NewRedisKV(a.redis)
	} else {
		log.Warn("REDIS_ADDR not set, guest order index is kept in memory")
		kv = guest.NewMemoryKV()
	}

	a.Orders = orders.NewStore(orders.Config{
		Client:          clients.DynamoDB,
		OrdersTable:     cfg.OrdersTable,
		UserOrdersTable: cfg.UserOrdersTable,
		IDs: sequence.NewGenerator(clients.DynamoDB, cfg.CountersTable,
			sequence.WithMaxAttempts(cfg.CounterMaxAttempts),
			sequence.WithLocation(cfg.Location()),
			sequence.WithLogger(log),
		),
		Accounts:     a.Accounts,
		Guests:       guest.NewIndex(kv, guestIndexTTL, log),
		Feed:         orders.NewFeed(),
		DefaultLimit: cfg.DefaultListLimit,
		Logger:       log,
	})

	var sender *onesignal.Client
	if cfg.NotificationsEnabled() {
		sender = onesignal.NewClient(cfg.OneSignalAppID, cfg.OneSignalAPIKey,
			onesignal.WithBaseURL(cfg.OneSignalBaseURL),
			onesignal.WithHTTPClient(&http.Client{Timeout: cfg.HTTPClientTimeout}),
		)
	} else {
		log.Warn("OneSignal credentials not set, push notifications are disabled")
	}
	metrics := aws.NewMetrics(clients.CloudWatch, cfg.MetricsNamespace)

	dispatcherCfg := notify.Config{
		Metrics:      metrics,
		StoreBaseURL: cfg.StoreBaseURL,
		Icon:         cfg.NotificationIcon,
		AdminSegment: cfg.AdminSegment,
		Logger:       log,
	}
	broadcastCfg := broadcast.Config{
		Directory:         a.Accounts,
		Metrics:           metrics,
		StoreBaseURL:      cfg.StoreBaseURL,
		Icon:              cfg.NotificationIcon,
		ActivityThreshold: cfg.ActivityThreshold,
		Logger:            log,
	}
	// a typed nil would defeat the nil-sender checks
	if sender != nil {
		dispatcherCfg.Sender = sender
		broadcastCfg.Sender = sender
	}
	a.Dispatcher = notify.NewDispatcher(dispatcherCfg)
	a.Broadcaster = broadcast.NewBroadcaster(broadcastCfg)

	a.Processor = jobs.NewProcessor(a.Orders, a.Dispatcher, log)
	if cfg.QueueURL != "" {
		a.Jobs = jobs.NewSQSEnqueuer(aws.NewPublisher(clients.SQS, cfg.QueueURL), log)
	} else {
		log.Info("NOTIFICATIONS_QUEUE_URL not set, notifications run inline")
		a.Jobs = jobs.NewInline(a.Processor)
	}

	if cfg.IdempotencyTable != "" {
		a.Idempotency = idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL)
	}
	return a
}

// Handler returns the HTTP handler over the wired services.
func (a *App) Handler() *handlers.Handler {
	hc := handlers.Config{
		Orders:       a.Orders,
		Players:      a.Accounts,
		Broadcaster:  a.Broadcaster,
		Jobs:         a.Jobs,
		Feed:         a.Orders.Feed(),
		DefaultLimit: a.Config.DefaultListLimit,
		Logger:       a.Log,
	}
	if a.Idempotency != nil {
		hc.Idempotency = a.Idempotency
	}
	return handlers.New(hc)
}

// Close releases connections held by the app.
func (a *App) Close() error {
	if a.redis != nil {
		return a.redis.Close()
	}
	return nil
}
