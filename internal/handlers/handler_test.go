package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-storefront-orderflow/internal/accounts"
	"github.com/imrishuroy/go-storefront-orderflow/internal/apperr"
	"github.com/imrishuroy/go-storefront-orderflow/internal/broadcast"
	"github.com/imrishuroy/go-storefront-orderflow/internal/dynamotest"
	"github.com/imrishuroy/go-storefront-orderflow/internal/guest"
	"github.com/imrishuroy/go-storefront-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-storefront-orderflow/internal/jobs"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
	"github.com/imrishuroy/go-storefront-orderflow/internal/sequence"
	"github.com/imrishuroy/go-storefront-orderflow/internal/status"
)

type recordingJobs struct {
	mu   sync.Mutex
	msgs []jobs.Message
}

func (r *recordingJobs) Enqueue(_ context.Context, msg jobs.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

type fakeBroadcaster struct {
	got []broadcast.Request
	res *broadcast.Result
	err error
}

func (f *fakeBroadcaster) Broadcast(_ context.Context, req broadcast.Request) (*broadcast.Result, error) {
	f.got = append(f.got, req)
	return f.res, f.err
}

type env struct {
	db     *dynamotest.Fake
	store  *orders.Store
	jobs   *recordingJobs
	bc     *fakeBroadcaster
	router *gin.Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := dynamotest.New()
	db.CreateTable("orders", "order_id")
	db.CreateTable("user_orders", "user_id", "order_id")
	db.CreateTable("users", "user_id")
	db.CreateTable("counters", "counter_date")
	db.CreateTable("idempotency", "idempotency_key")

	accts := accounts.NewStore(db, "users")
	store := orders.NewStore(orders.Config{
		Client:          db,
		OrdersTable:     "orders",
		UserOrdersTable: "user_orders",
		IDs:             sequence.NewGenerator(db, "counters"),
		Accounts:        accts,
		Guests:          guest.NewIndex(guest.NewMemoryKV(), 0, nil),
		Feed:            orders.NewFeed(),
	})

	e := &env{db: db, store: store, jobs: &recordingJobs{}, bc: &fakeBroadcaster{}}
	h := New(Config{
		Orders:      store,
		Players:     accts,
		Broadcaster: e.bc,
		Idempotency: idempotency.NewStore(db, "idempotency", 0),
		Jobs:        e.jobs,
		Feed:        store.Feed(),
		Heartbeat:   time.Hour,
	})
	e.router = NewRouter(h)
	return e
}

func (e *env) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) seedUser(t *testing.T, a accounts.Account) {
	t.Helper()
	item, err := attributevalue.MarshalMap(a)
	require.NoError(t, err)
	e.db.Seed("users", item)
}

const checkoutBody = `{
	"customerName": "Rahim",
	"phoneNumber": "01700000000",
	"address": "House 1, Road 2",
	"cartItems": [{"id": "serum-1", "qty": 2}],
	"subTotal": 1800,
	"deliveryFee": 60,
	"totalAmount": 1860
}`

func decodeOrder(t *testing.T, w *httptest.ResponseRecorder) orders.Order {
	t.Helper()
	var o orders.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &o))
	return o
}

func TestHealth(t *testing.T) {
	w := newEnv(t).do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestCreateOrder_GuestCheckout(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodPost, "/orders", checkoutBody, map[string]string{GuestTokenHeader: "device-1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	o := decodeOrder(t, w)
	assert.Equal(t, sequence.FormatOrderID(time.Now().UTC(), 1), o.OrderID)
	assert.Equal(t, status.Processing, o.Status)
	assert.Equal(t, orders.GuestUserID, o.UserID)
	assert.Equal(t, orders.NotAvailable, o.DeliveryNote)
	assert.Equal(t, "/orders/"+o.OrderID, w.Header().Get("Location"))
	assert.Equal(t, "device-1", w.Header().Get(GuestTokenHeader))

	require.Len(t, e.jobs.msgs, 1)
	assert.Equal(t, jobs.Message{Type: jobs.TypeOrderCreated, OrderID: o.OrderID}, e.jobs.msgs[0])

	w = e.do(http.MethodGet, "/guest/orders", "", map[string]string{GuestTokenHeader: "device-1"})
	require.Equal(t, http.StatusOK, w.Code)
	var got struct{ Orders []orders.Order }
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got.Orders, 1)
	assert.Equal(t, o.OrderID, got.Orders[0].OrderID)
}

func TestCreateOrder_MintsGuestToken(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodPost, "/orders", checkoutBody, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotEmpty(t, w.Header().Get(GuestTokenHeader))
}

func TestCreateOrder_ValidationFailure(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodPost, "/orders", `{"customerName":"Rahim","cartItems":[]}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_failed")
	assert.Zero(t, e.db.Len("orders"))
}

func TestCreateOrder_MissingContactFields(t *testing.T) {
	e := newEnv(t)
	body := `{"cartItems":[{"id":"serum-1","qty":1}],"subTotal":900,"deliveryFee":60,"totalAmount":960}`

	w := e.do(http.MethodPost, "/orders", body, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	o := decodeOrder(t, w)
	assert.Equal(t, orders.NotAvailable, o.CustomerName)
	assert.Equal(t, orders.NotAvailable, o.PhoneNumber)
	assert.Equal(t, orders.NotAvailable, o.Address)
	assert.Equal(t, 1, e.db.Len("orders"))
}

func TestCreateOrder_AdjustedTotal(t *testing.T) {
	e := newEnv(t)
	body := strings.Replace(checkoutBody, `"totalAmount": 1860`, `"totalAmount": 1700`, 1)

	w := e.do(http.MethodPost, "/orders", body, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, 1700.0, decodeOrder(t, w).TotalAmount)
}

func TestCreateOrder_IdempotentReplay(t *testing.T) {
	e := newEnv(t)
	headers := map[string]string{IdempotencyKeyHeader: "checkout-1", GuestTokenHeader: "device-1"}

	first := e.do(http.MethodPost, "/orders", checkoutBody, headers)
	require.Equal(t, http.StatusCreated, first.Code)

	second := e.do(http.MethodPost, "/orders", checkoutBody, headers)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, e.db.Len("orders"))
	assert.Len(t, e.jobs.msgs, 1)

	changed := strings.Replace(checkoutBody, `"Rahim"`, `"Karim"`, 1)
	third := e.do(http.MethodPost, "/orders", changed, headers)
	assert.Equal(t, http.StatusConflict, third.Code)
}

func TestCreateOrder_GuestReplayKeepsMintedToken(t *testing.T) {
	e := newEnv(t)
	headers := map[string]string{IdempotencyKeyHeader: "checkout-guest"}

	first := e.do(http.MethodPost, "/orders", checkoutBody, headers)
	require.Equal(t, http.StatusCreated, first.Code)
	token := first.Header().Get(GuestTokenHeader)
	require.NotEmpty(t, token)

	replay := e.do(http.MethodPost, "/orders", checkoutBody, headers)
	require.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, "true", replay.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, token, replay.Header().Get(GuestTokenHeader))
	assert.Equal(t, 1, e.db.Len("orders"))

	w := e.do(http.MethodGet, "/guest/orders", "", map[string]string{GuestTokenHeader: token})
	require.Equal(t, http.StatusOK, w.Code)
	var got struct{ Orders []orders.Order }
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got.Orders, 1)
	assert.Equal(t, decodeOrder(t, first).OrderID, got.Orders[0].OrderID)
}

func TestCreateOrder_InFlightDuplicate(t *testing.T) {
	e := newEnv(t)
	_, err := idempotency.NewStore(e.db, "idempotency", 0).Begin(context.Background(), "checkout-2", "")
	require.NoError(t, err)

	w := e.do(http.MethodPost, "/orders", checkoutBody, map[string]string{IdempotencyKeyHeader: "checkout-2"})
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Zero(t, e.db.Len("orders"))
}

func TestGetOrder(t *testing.T) {
	e := newEnv(t)
	created := decodeOrder(t, e.do(http.MethodPost, "/orders", checkoutBody, nil))

	w := e.do(http.MethodGet, "/orders/"+created.OrderID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, created.OrderID, decodeOrder(t, w).OrderID)

	w = e.do(http.MethodGet, "/orders/00000000", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), string(apperr.KindNotFound))
}

func TestGuestOrders_RequiresToken(t *testing.T) {
	w := newEnv(t).do(http.MethodGet, "/guest/orders", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUserOrdersAndPlayer(t *testing.T) {
	e := newEnv(t)
	e.seedUser(t, accounts.Account{UserID: "u-1", Email: "rahim@example.com", Name: "Rahim"})

	body := strings.Replace(checkoutBody, `"customerName"`, `"userId":"u-1","userEmail":"rahim@example.com","customerName"`, 1)
	created := decodeOrder(t, e.do(http.MethodPost, "/orders", body, nil))
	assert.Equal(t, "u-1", created.UserID)

	w := e.do(http.MethodGet, "/users/u-1/orders", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got struct{ Orders []orders.Order }
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got.Orders, 1)
	assert.Equal(t, created.OrderID, got.Orders[0].OrderID)

	w = e.do(http.MethodPut, "/users/u-1/player", `{"playerId":"p-1"}`, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(http.MethodPut, "/users/ghost/player", `{"playerId":"p-1"}`, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(http.MethodPut, "/users/u-1/player", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateStatus(t *testing.T) {
	e := newEnv(t)
	created := decodeOrder(t, e.do(http.MethodPost, "/orders", checkoutBody, nil))
	path := "/admin/orders/" + created.OrderID + "/status"

	w := e.do(http.MethodPatch, path, `{"status":"bogus"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodPatch, path, `{"status":"shipped"}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Order              orders.Order
		NotificationQueued bool
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, status.Shipped, resp.Order.Status)
	assert.NotEmpty(t, resp.Order.StatusUpdatedAt)
	assert.True(t, resp.NotificationQueued)

	require.Len(t, e.jobs.msgs, 2)
	assert.Equal(t, jobs.TypeStatusChanged, e.jobs.msgs[1].Type)

	got := decodeOrder(t, e.do(http.MethodGet, "/orders/"+created.OrderID, "", nil))
	assert.Equal(t, status.Shipped, got.Status)

	w = e.do(http.MethodPatch, "/admin/orders/missing/status", `{"status":"shipped"}`, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListOrders(t *testing.T) {
	e := newEnv(t)
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusCreated, e.do(http.MethodPost, "/orders", checkoutBody, nil).Code)
	}
	first := e.store.Feed().Snapshot()[0]
	_, err := e.store.UpdateStatus(context.Background(), first.OrderID, "confirmed")
	require.NoError(t, err)

	var got struct{ Orders []orders.Order }
	w := e.do(http.MethodGet, "/admin/orders?limit=2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Len(t, got.Orders, 2)

	w = e.do(http.MethodGet, "/admin/orders?status=confirmed", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got.Orders, 1)
	assert.Equal(t, first.OrderID, got.Orders[0].OrderID)

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/admin/orders?limit=zero", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/admin/orders?status=bogus", "", nil).Code)
}

func TestBroadcast(t *testing.T) {
	e := newEnv(t)
	e.bc.res = &broadcast.Result{NotificationID: "n-1", Recipients: 12}

	w := e.do(http.MethodPost, "/admin/broadcasts", `{"kind":"promotion","target":{"kind":"active"}}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"result":{"notificationId":"n-1","recipients":12}}`, w.Body.String())
	assert.Equal(t, broadcast.TargetActive, e.bc.got[0].Target.Kind)

	w = e.do(http.MethodPost, "/admin/broadcasts", `{"kind":"custom","target":{"kind":"all"}}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, e.bc.got, 1)
}

func TestBroadcast_ErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		res  *broadcast.Result
		err  error
		code int
	}{
		{"partial", &broadcast.Result{NotificationID: "n-2", Recipients: 3}, apperr.E(apperr.KindPartial, "broadcast.Broadcast", assert.AnError), http.StatusMultiStatus},
		{"no recipients", nil, apperr.E(apperr.KindValidation, "broadcast.audience", broadcast.ErrNoRecipients), http.StatusBadRequest},
		{"unavailable", nil, apperr.E(apperr.KindUnavailable, "broadcast.Broadcast", assert.AnError), http.StatusServiceUnavailable},
		{"rejected", nil, apperr.E(apperr.KindInternal, "broadcast.Broadcast", assert.AnError), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.bc.res, e.bc.err = tt.res, tt.err
			w := e.do(http.MethodPost, "/admin/broadcasts", `{"kind":"discount","target":{"kind":"users"}}`, nil)
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

// streamRecorder adds the CloseNotify gin's Stream expects.
type streamRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (r *streamRecorder) CloseNotify() <-chan bool { return r.closed }

func TestOrderEvents_StreamsFeed(t *testing.T) {
	e := newEnv(t)
	created := decodeOrder(t, e.do(http.MethodPost, "/orders", checkoutBody, nil))

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/admin/orders/events", nil).WithContext(ctx)
	w := &streamRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool, 1)}

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.router.ServeHTTP(w, req)
	}()

	require.Eventually(t, func() bool { return e.store.Feed().Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	_, err := e.store.UpdateStatus(context.Background(), created.OrderID, "packaging")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := w.Body.String()
	assert.Contains(t, body, "event:snapshot")
	assert.Contains(t, body, "event:status_changed")
	assert.Contains(t, body, `"status":"packaging"`)
	assert.Equal(t, 0, e.store.Feed().Subscribers())
}
