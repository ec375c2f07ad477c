package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-storefront-orderflow/internal/broadcast"
	"github.com/imrishuroy/go-storefront-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-storefront-orderflow/internal/jobs"
	"github.com/imrishuroy/go-storefront-orderflow/internal/logger"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
	"github.com/imrishuroy/go-storefront-orderflow/internal/validation"
)

const (
	GuestTokenHeader     = "X-Guest-Token"
	IdempotencyKeyHeader = "Idempotency-Key"
)

// OrderService is the order store as seen by the HTTP layer.
type OrderService interface {
	Create(ctx context.Context, in orders.CreateInput) (*orders.Order, error)
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	ListByUser(ctx context.Context, userID string) ([]orders.Order, error)
	GuestOrders(ctx context.Context, token string) []string
	UpdateStatus(ctx context.Context, orderID, newStatus string) (*orders.Order, error)
	List(ctx context.Context, limit int) ([]orders.Order, error)
	ListByStatus(ctx context.Context, st string, limit int) ([]orders.Order, error)
}

// PlayerRegistry records push handles on accounts.
type PlayerRegistry interface {
	SetPlayerID(ctx context.Context, userID, playerID string) error
}

// Broadcaster sends bulk notifications.
type Broadcaster interface {
	Broadcast(ctx context.Context, req broadcast.Request) (*broadcast.Result, error)
}

// Idempotency guards checkout against client retries.
type Idempotency interface {
	Begin(ctx context.Context, key, requestHash string) (*idempotency.Record, error)
	Complete(ctx context.Context, key string, resp idempotency.Response) error
	Fail(ctx context.Context, key, note string) error
}

// Config groups dependencies for the API. Idempotency and Jobs are optional.
type Config struct {
	Orders       OrderService
	Players      PlayerRegistry
	Broadcaster  Broadcaster
	Idempotency  Idempotency
	Jobs         jobs.Enqueuer
	Feed         *orders.Feed
	DefaultLimit int
	Heartbeat    time.Duration
	Logger       logrus.FieldLogger
}

// Handler serves the storefront and admin order API.
type Handler struct {
	orders       OrderService
	players      PlayerRegistry
	broadcaster  Broadcaster
	idem         Idempotency
	jobs         jobs.Enqueuer
	feed         *orders.Feed
	defaultLimit int
	heartbeat    time.Duration
	v            *validatorv10.Validate
	log          logrus.FieldLogger
}

func New(cfg Config) *Handler {
	limit := cfg.DefaultLimit
	if limit <= 0 {
		limit = orders.DefaultLimit
	}
	hb := cfg.Heartbeat
	if hb <= 0 {
		hb = 15 * time.Second
	}
	return &Handler{
		orders:       cfg.Orders,
		players:      cfg.Players,
		broadcaster:  cfg.Broadcaster,
		idem:         cfg.Idempotency,
		jobs:         cfg.Jobs,
		feed:         cfg.Feed,
		defaultLimit: limit,
		heartbeat:    hb,
		v:            validation.New(),
		log:          logger.OrDiscard(cfg.Logger),
	}
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	h.Register(r)
	return r
}

// Register attaches the order routes to r.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/orders", h.createOrder)
	r.GET("/orders/:id", h.getOrder)
	r.GET("/guest/orders", h.guestOrders)
	r.GET("/users/:id/orders", h.userOrders)
	r.PUT("/users/:id/player", h.setPlayer)

	admin := r.Group("/admin")
	admin.GET("/orders", h.listOrders)
	admin.PATCH("/orders/:id/status", h.updateStatus)
	admin.GET("/orders/events", h.orderEvents)
	admin.POST("/broadcasts", h.broadcast)
}

func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request served")
	}
}
