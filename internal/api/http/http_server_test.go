package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/olyamironova/order-execution-engine/internal/adapter/in_memory"
	"github.com/olyamironova/order-execution-engine/internal/api/dto"
	"github.com/olyamironova/order-execution-engine/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fixture struct {
	store  *in_memory.MemoryStore
	queue  *in_memory.Queue
	bus    *in_memory.Bus
	cache  *in_memory.Cache
	server *HTTPServer
}

func newFixture(t *testing.T) *fixture {
	gin.SetMode(gin.TestMode)
	f := &fixture{
		store: in_memory.NewMemoryStore(),
		queue: in_memory.NewQueue("orders"),
		bus:   in_memory.NewBus(16),
		cache: in_memory.NewCache(),
	}
	f.server = NewHTTPServer(f.store, f.queue, f.bus, f.cache, Options{
		JobOptions: domain.JobOptions{
			Attempts: 3,
			Backoff:  domain.BackoffPolicy{Type: domain.BackoffExponential, Base: 500 * time.Millisecond},
		},
	}, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = f.queue.Close() })
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func TestExecuteOrder(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, executePath, `{"tokenIn":"SOL","tokenOut":"USDC","amount":1.5}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp dto.ExecuteOrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.OrderID)
	assert.Equal(t, executePath+"?orderId="+resp.OrderID, resp.Websocket)

	o, err := f.store.GetOrder(context.Background(), resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.Pending, o.Status)
	assert.True(t, o.Amount.Equal(decimal.RequireFromString("1.5")))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	job, err := f.queue.Reserve(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.JobExecute, job.Type)
	assert.Equal(t, resp.OrderID, job.Payload.OrderID)
	assert.Equal(t, 3, job.MaxAttempts)
	assert.Equal(t, domain.BackoffExponential, job.Backoff.Type)
}

func TestExecuteOrderRejectsInvalidPayload(t *testing.T) {
	bodies := map[string]string{
		"not json":       `{`,
		"missing token":  `{"tokenOut":"USDC","amount":1}`,
		"zero amount":    `{"tokenIn":"SOL","tokenOut":"USDC","amount":0}`,
		"negative":       `{"tokenIn":"SOL","tokenOut":"USDC","amount":"-2"}`,
		"missing amount": `{"tokenIn":"SOL","tokenOut":"USDC"}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			w := f.do(http.MethodPost, executePath, body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			_, err := f.queue.Reserve(ctx)
			assert.ErrorIs(t, err, context.DeadlineExceeded, "nothing must be enqueued")
		})
	}
}

func TestExecuteOrderEnqueueFailure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.queue.Close())

	w := f.do(http.MethodPost, executePath, `{"tokenIn":"SOL","tokenOut":"USDC","amount":1}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestGetOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := domain.NewOrder("o1", "SOL", "USDC", decimal.NewFromInt(2))
	require.NoError(t, f.store.CreateOrder(ctx, o))

	t.Run("pending is not cached", func(t *testing.T) {
		w := f.do(http.MethodGet, "/api/orders/o1", "")
		require.Equal(t, http.StatusOK, w.Code)
		var resp dto.GetOrderResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "pending", resp.Order.Status)

		cached, err := f.cache.GetOrder(ctx, "o1")
		require.NoError(t, err)
		assert.Nil(t, cached)
	})

	t.Run("confirmed is cached", func(t *testing.T) {
		require.NoError(t, f.store.UpdateOrderStatus(ctx, "o1", domain.Confirmed,
			domain.OrderUpdate{Venue: domain.Meteora, TxHash: "tx", ExecutedPrice: 97.5}))
		w := f.do(http.MethodGet, "/api/orders/o1", "")
		require.Equal(t, http.StatusOK, w.Code)
		var resp dto.GetOrderResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "confirmed", resp.Order.Status)
		assert.Equal(t, "meteora", resp.Order.Venue)
		assert.Equal(t, "tx", resp.Order.TxHash)

		cached, err := f.cache.GetOrder(ctx, "o1")
		require.NoError(t, err)
		require.NotNil(t, cached)
	})

	t.Run("unknown", func(t *testing.T) {
		w := f.do(http.MethodGet, "/api/orders/nope", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	f.store.SetFailing(errors.New("db down"))
	w = f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp dto.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "db down", resp.Checks["store"])
	assert.Equal(t, "ok", resp.Checks["bus"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func dial(t *testing.T, srv *httptest.Server, query string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + executePath + query
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func TestStreamFinishedOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := domain.NewOrder("o1", "SOL", "USDC", decimal.NewFromInt(1))
	require.NoError(t, f.store.CreateOrder(ctx, o))
	require.NoError(t, f.store.UpdateOrderStatus(ctx, "o1", domain.Failed, domain.OrderUpdate{Error: "boom", Attempts: 3}))

	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()
	conn := dial(t, srv, "?orderId=o1", nil)

	msg := readJSON(t, conn)
	assert.Equal(t, "failed", msg["status"])
	assert.Equal(t, "boom", msg["error"])
	assert.Equal(t, float64(3), msg["attempts"])
}

func TestStreamOrderSubmittedOverSocket(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()
	conn := dial(t, srv, "", nil)

	require.NoError(t, conn.WriteJSON(map[string]any{"tokenIn": "SOL", "tokenOut": "USDC", "amount": 3}))
	ack := readJSON(t, conn)
	id, _ := ack["orderId"].(string)
	require.NotEmpty(t, id)

	f.bus.Publish(context.Background(), id, domain.PendingEvent{ID: id})
	f.bus.Publish(context.Background(), id, domain.ConfirmedEvent{ID: id, TxHash: "tx", ExecutedPrice: 100})

	first := readJSON(t, conn)
	assert.Equal(t, "pending", first["status"])
	second := readJSON(t, conn)
	assert.Equal(t, "confirmed", second["status"])
	assert.Equal(t, "tx", second["txHash"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"tokenIn":""}`)))
	bad := readJSON(t, conn)
	assert.Equal(t, "failed", bad["status"])
	assert.Equal(t, "invalid payload", bad["error"])
}

func TestStreamOrdersShareRateLimit(t *testing.T) {
	f := newFixture(t)
	f.server = NewHTTPServer(f.store, f.queue, f.bus, f.cache, Options{RateLimit: time.Hour}, zaptest.NewLogger(t))
	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()
	conn := dial(t, srv, "", http.Header{"X-Client-ID": {"c1"}})

	require.NoError(t, conn.WriteJSON(map[string]any{"tokenIn": "SOL", "tokenOut": "USDC", "amount": 1}))
	ack := readJSON(t, conn)
	require.NotEmpty(t, ack["orderId"])

	require.NoError(t, conn.WriteJSON(map[string]any{"tokenIn": "SOL", "tokenOut": "USDC", "amount": 2}))
	limited := readJSON(t, conn)
	assert.Equal(t, "failed", limited["status"])
	assert.Equal(t, "rate limit exceeded", limited["error"])

	req := httptest.NewRequest(http.MethodPost, executePath, strings.NewReader(`{"tokenIn":"SOL","tokenOut":"USDC","amount":1}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-ID", "c1")
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
