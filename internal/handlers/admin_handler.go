package handlers

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-storefront-orderflow/internal/apperr"
	"github.com/imrishuroy/go-storefront-orderflow/internal/jobs"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
	"github.com/imrishuroy/go-storefront-orderflow/internal/validation"
)

func (h *Handler) listOrders(c *gin.Context) {
	ctx := c.Request.Context()

	limit := h.defaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(c, apperr.Validation("handlers.listOrders", "limit must be a positive integer"))
			return
		}
		limit = n
	}

	var (
		list []orders.Order
		err  error
	)
	if st := strings.TrimSpace(c.Query("status")); st != "" {
		list, err = h.orders.ListByStatus(ctx, st, limit)
	} else {
		list, err = h.orders.List(ctx, limit)
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list})
}

// updateStatus commits the new status, then queues the customer notification.
func (h *Handler) updateStatus(c *gin.Context) {
	ctx := c.Request.Context()

	var req validation.UpdateStatusRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		return
	}

	order, err := h.orders.UpdateStatus(ctx, c.Param("id"), req.Status)
	if err != nil {
		h.writeError(c, err)
		return
	}

	queued := h.enqueue(ctx, jobs.TypeStatusChanged, order.OrderID, c.GetHeader("X-Request-Id"))
	c.JSON(http.StatusOK, gin.H{"order": order, "notificationQueued": queued})
}

func (h *Handler) broadcast(c *gin.Context) {
	var req validation.BroadcastRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		return
	}

	res, err := h.broadcaster.Broadcast(c.Request.Context(), req.Request())
	if err != nil {
		if apperr.Is(err, apperr.KindPartial) && res != nil {
			c.JSON(http.StatusMultiStatus, gin.H{"result": res, "error": string(apperr.KindPartial), "message": err.Error()})
			return
		}
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res})
}

// orderEvents streams the order feed as server-sent events: one snapshot,
// then every create and status change until the client disconnects.
func (h *Handler) orderEvents(c *gin.Context) {
	ctx := c.Request.Context()

	events := make(chan orders.Event, 64)
	unsubscribe := h.feed.Subscribe(func(e orders.Event) {
		select {
		case events <- e:
		default:
			h.log.WithField("order_id", e.Order.OrderID).Warn("event stream lagging, dropping event")
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("snapshot", h.feed.Snapshot())

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case e := <-events:
			c.SSEvent(string(e.Kind), e.Order)
			return true
		case <-ticker.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			return true
		}
	})
}
