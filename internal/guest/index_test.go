package guest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenKV struct{}

func (brokenKV) Get(ctx context.Context, key string) (string, bool, error) {
	return "", false, errors.New("redis: connection refused")
}

func (brokenKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return errors.New("redis: connection refused")
}

func TestIndex_AddAndList(t *testing.T) {
	kv := NewMemoryKV()
	idx := NewIndex(kv, 0, nil)
	ctx := context.Background()

	assert.Equal(t, []string{}, idx.List(ctx, "device-1"))

	require.NoError(t, idx.Add(ctx, "device-1", "25164001"))
	require.NoError(t, idx.Add(ctx, "device-1", "25164002"))
	require.NoError(t, idx.Add(ctx, "device-1", "25164001"))

	assert.Equal(t, []string{"25164001", "25164002"}, idx.List(ctx, "device-1"))
	assert.Equal(t, []string{}, idx.List(ctx, "device-2"))

	raw, ok, _ := kv.Get(ctx, "guest_orders:device-1")
	require.True(t, ok)
	assert.JSONEq(t, `["25164001","25164002"]`, raw)
}

func TestIndex_ListNeverFails(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, "guest_orders:bad", "{not json", 0))
	require.NoError(t, kv.Set(ctx, "guest_orders:null", "null", 0))

	idx := NewIndex(kv, 0, nil)
	assert.Equal(t, []string{}, idx.List(ctx, "bad"))
	assert.Equal(t, []string{}, idx.List(ctx, "null"))
	assert.Equal(t, []string{}, idx.List(ctx, ""))

	assert.Equal(t, []string{}, NewIndex(brokenKV{}, 0, nil).List(ctx, "device-1"))
}

func TestIndex_AddErrors(t *testing.T) {
	ctx := context.Background()
	assert.Error(t, NewIndex(NewMemoryKV(), 0, nil).Add(ctx, " ", "1"))
	assert.ErrorContains(t, NewIndex(brokenKV{}, 0, nil).Add(ctx, "device-1", "1"), "connection refused")
}
