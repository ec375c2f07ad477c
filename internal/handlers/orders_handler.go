package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/imrishuroy/go-storefront-orderflow/internal/apperr"
	"github.com/imrishuroy/go-storefront-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-storefront-orderflow/internal/jobs"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
	"github.com/imrishuroy/go-storefront-orderflow/internal/validation"
)

func (h *Handler) createOrder(c *gin.Context) {
	ctx := c.Request.Context()

	var req validation.CreateOrderRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		// BindAndValidate already wrote a 400
		return
	}

	// token is the guest device token; empty for account orders.
	var token string
	if req.UserID == "" || req.UserID == orders.GuestUserID {
		token = strings.TrimSpace(c.GetHeader(GuestTokenHeader))
		if token == "" {
			token = uuid.NewString()
		}
	}

	key := strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader))
	if key != "" && h.idem != nil {
		rec, err := h.idem.Begin(ctx, key, requestHash(req))
		if err != nil {
			h.writeError(c, err)
			return
		}
		if rec.Done() {
			if rec.GuestToken != "" {
				c.Header(GuestTokenHeader, rec.GuestToken)
			}
			c.Header("Idempotent-Replayed", "true")
			c.Data(rec.ResponseStatus, "application/json; charset=utf-8", []byte(rec.ResponseBody))
			return
		}
		if rec != nil {
			c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress"})
			return
		}
	}

	order, err := h.orders.Create(ctx, req.Input(token))
	if err != nil {
		if key != "" && h.idem != nil {
			if ferr := h.idem.Fail(ctx, key, err.Error()); ferr != nil {
				h.log.WithError(ferr).WithField("idempotency_key", key).Warn("failed to release idempotency key")
			}
		}
		h.writeError(c, err)
		return
	}

	h.enqueue(ctx, jobs.TypeOrderCreated, order.OrderID, c.GetHeader("X-Request-Id"))

	body, err := json.Marshal(order)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if key != "" && h.idem != nil {
		resp := idempotency.Response{OrderID: order.OrderID, GuestToken: token, Body: string(body), Status: http.StatusCreated}
		if err := h.idem.Complete(ctx, key, resp); err != nil {
			h.log.WithError(err).WithField("idempotency_key", key).Warn("failed to store checkout response")
		}
	}

	if token != "" {
		c.Header(GuestTokenHeader, token)
	}
	c.Header("Location", fmt.Sprintf("/orders/%s", order.OrderID))
	c.Data(http.StatusCreated, "application/json; charset=utf-8", body)
}

func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// guestOrders returns the orders recorded for the device token. Ids whose
// order has since disappeared are skipped.
func (h *Handler) guestOrders(c *gin.Context) {
	ctx := c.Request.Context()
	token := strings.TrimSpace(c.GetHeader(GuestTokenHeader))
	if token == "" {
		h.writeError(c, apperr.Validation("handlers.guestOrders", "missing %s header", GuestTokenHeader))
		return
	}

	ids := h.orders.GuestOrders(ctx, token)
	out := make([]orders.Order, 0, len(ids))
	for _, id := range ids {
		o, err := h.orders.Get(ctx, id)
		if errors.Is(err, orders.ErrNotFound) {
			continue
		}
		if err != nil {
			h.writeError(c, err)
			return
		}
		out = append(out, *o)
	}
	c.JSON(http.StatusOK, gin.H{"orders": out})
}

func (h *Handler) userOrders(c *gin.Context) {
	list, err := h.orders.ListByUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list})
}

func (h *Handler) setPlayer(c *gin.Context) {
	var req validation.PlayerRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		return
	}
	if err := h.players.SetPlayerID(c.Request.Context(), c.Param("id"), req.PlayerID); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// enqueue schedules a notification job. The order change is already
// committed, so a failure here is only logged.
func (h *Handler) enqueue(ctx context.Context, typ jobs.Type, orderID, correlationID string) bool {
	if h.jobs == nil {
		return false
	}
	err := h.jobs.Enqueue(ctx, jobs.Message{Type: typ, OrderID: orderID, CorrelationID: correlationID})
	if err != nil {
		h.log.WithError(err).WithField("order_id", orderID).Error("failed to enqueue notification")
		return false
	}
	return true
}

func requestHash(req validation.CreateOrderRequest) string {
	b, _ := json.Marshal(req)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
