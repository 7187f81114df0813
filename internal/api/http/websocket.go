package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/olyamironova/order-execution-engine/internal/api/dto"
	"github.com/olyamironova/order-execution-engine/internal/domain"
	"github.com/olyamironova/order-execution-engine/internal/metrics"
	"github.com/olyamironova/order-execution-engine/internal/middleware"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// session is one websocket client. Only writeLoop writes to the connection.
type session struct {
	client string
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger
}

// streamOrder upgrades to a websocket. With ?orderId= it relays that order's
// events; a client may also send order payloads and follow each created order.
func (s *HTTPServer) streamOrder(c *gin.Context) {
	orderID := c.Query("orderId")
	client := middleware.ClientID(c)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	metrics.WebsocketClients.Inc()
	defer metrics.WebsocketClients.Dec()

	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		client: client,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		ctx:    ctx,
		cancel: cancel,
		log:    s.log.With(zap.String("remote", c.ClientIP())),
	}
	go sess.writeLoop()

	if orderID != "" {
		s.follow(sess, orderID)
	}
	sess.readLoop(func(msg []byte) { s.handleMessage(sess, msg) })
	cancel()
}

func (s *HTTPServer) handleMessage(sess *session, msg []byte) {
	var req dto.ExecuteOrderRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		sess.sendJSON(dto.StreamError{Status: string(domain.Failed), Error: "invalid payload"})
		return
	}
	o, err := newOrder(req)
	if err != nil {
		metrics.OrdersSubmitted.WithLabelValues("rejected").Inc()
		sess.sendJSON(dto.StreamError{Status: string(domain.Failed), Error: "invalid payload"})
		return
	}
	if !s.limiter.Allow(sess.client) {
		metrics.OrdersSubmitted.WithLabelValues("rejected").Inc()
		sess.sendJSON(dto.StreamError{Status: string(domain.Failed), Error: middleware.ErrRateLimited.Error()})
		return
	}
	// subscribe before queueing so the pending event is not missed
	s.follow(sess, o.ID)
	sess.sendJSON(dto.ExecuteOrderResponse{OrderID: o.ID})
	if err := s.placeOrder(sess.ctx, o); err != nil {
		sess.sendJSON(dto.StreamError{Status: string(domain.Failed), Error: err.Error()})
	}
}

// follow relays events for orderID until the order is final or the session ends.
// A client joining after the order finished gets its final state straight away.
func (s *HTTPServer) follow(sess *session, orderID string) {
	sub := s.bus.Subscribe(sess.ctx, orderID)

	if o, err := s.store.GetOrder(sess.ctx, orderID); err == nil && o.Status.IsTerminal() {
		sub.Close()
		if ev := finalEvent(o); ev != nil {
			sess.sendEvent(ev)
		}
		return
	} else if err != nil && !errors.Is(err, domain.ErrOrderNotFound) {
		sess.log.Warn("load order for stream", zap.String("order_id", orderID), zap.Error(err))
	}

	go func() {
		defer sub.Close()
		for ev := range sub.C {
			sess.sendEvent(ev)
			if ev.Status().IsTerminal() {
				return
			}
		}
	}()
}

func finalEvent(o *domain.Order) domain.StatusEvent {
	switch o.Status {
	case domain.Confirmed:
		return domain.ConfirmedEvent{ID: o.ID, TxHash: o.TxHash, ExecutedPrice: o.ExecutedPrice}
	case domain.Failed:
		return domain.FailedEvent{ID: o.ID, Error: o.Error, Attempts: o.Attempts}
	}
	return nil
}

func (sess *session) sendEvent(ev domain.StatusEvent) {
	b, err := domain.EncodeEvent(ev)
	if err != nil {
		sess.log.Error("encode event", zap.Error(err))
		return
	}
	sess.enqueue(b)
}

func (sess *session) sendJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		sess.log.Error("encode message", zap.Error(err))
		return
	}
	sess.enqueue(b)
}

// enqueue drops the message when the client is too slow to keep up.
func (sess *session) enqueue(b []byte) {
	select {
	case sess.send <- b:
	case <-sess.ctx.Done():
	default:
		metrics.EventsDropped.Inc()
	}
}

func (sess *session) readLoop(handle func([]byte)) {
	sess.conn.SetReadLimit(maxMessageSize)
	_ = sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, msg, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sess.log.Warn("websocket read", zap.Error(err))
			}
			return
		}
		handle(msg)
	}
}

func (sess *session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = sess.conn.Close()
	}()
	for {
		select {
		case <-sess.ctx.Done():
			_ = sess.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case msg := <-sess.send:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				sess.cancel()
				return
			}
		case <-ticker.C:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sess.cancel()
				return
			}
		}
	}
}
