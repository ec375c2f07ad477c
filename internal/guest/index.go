package guest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-storefront-orderflow/internal/logger"
)

const keyPrefix = "guest_orders:"

// Index keeps the "my orders" list of a guest device, keyed by the
// opaque token the storefront keeps in local storage. The value is a
// JSON-encoded list of order ids.
type Index struct {
	kv  KV
	ttl time.Duration
	log logrus.FieldLogger
}

// NewIndex returns an Index over kv. A zero ttl keeps lists forever.
func NewIndex(kv KV, ttl time.Duration, log logrus.FieldLogger) *Index {
	return &Index{kv: kv, ttl: ttl, log: logger.OrDiscard(log)}
}

// List returns the order ids recorded for token. Missing, unreadable or
// corrupt data yields an empty list, never an error.
func (i *Index) List(ctx context.Context, token string) []string {
	token = strings.TrimSpace(token)
	if token == "" {
		return []string{}
	}
	raw, ok, err := i.kv.Get(ctx, keyPrefix+token)
	if err != nil {
		i.log.WithError(err).Warn("guest index read failed")
		return []string{}
	}
	if !ok {
		return []string{}
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		i.log.WithError(err).Warn("guest index is not a JSON list")
		return []string{}
	}
	if ids == nil {
		return []string{}
	}
	return ids
}

// Add appends orderID to token's list unless it is already there.
func (i *Index) Add(ctx context.Context, token, orderID string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("guest token is required")
	}
	ids := i.List(ctx, token)
	for _, id := range ids {
		if id == orderID {
			return nil
		}
	}
	ids = append(ids, orderID)

	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshal guest index: %w", err)
	}
	if err := i.kv.Set(ctx, keyPrefix+token, string(raw), i.ttl); err != nil {
		return fmt.Errorf("write guest index: %w", err)
	}
	return nil
}
