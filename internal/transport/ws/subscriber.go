package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"keyrelay/internal/action"
	"keyrelay/internal/broadcast"
	"keyrelay/internal/observability"
)

// ErrSendTimeout is returned when a subscriber's queue stays full past the
// delivery deadline.
var ErrSendTimeout = errors.New("subscriber queue full")

const maxInboundMessage = 512

// subscriber adapts one WebSocket connection to broadcast.Subscriber.
// Actions are queued by Send and written by a single writer goroutine, so
// the connection sees them in the order they were queued.
type subscriber struct {
	id     string
	remote string
	conn   *websocket.Conn
	queue  chan action.Message

	writeTimeout time.Duration
	pingInterval time.Duration
	logger       *observability.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func newSubscriber(conn *websocket.Conn, cfg Config, logger *observability.Logger) *subscriber {
	id := uuid.NewString()
	return &subscriber{
		id:           id,
		remote:       conn.RemoteAddr().String(),
		conn:         conn,
		queue:        make(chan action.Message, cfg.QueueSize),
		writeTimeout: cfg.WriteTimeout,
		pingInterval: cfg.PingInterval,
		logger:       logger.With("subscriber_id", id),
		done:         make(chan struct{}),
	}
}

func (s *subscriber) ID() string { return s.id }

func (s *subscriber) Done() <-chan struct{} { return s.done }

// Send queues a for the writer. It blocks only while the queue is full.
func (s *subscriber) Send(ctx context.Context, a action.Action) error {
	select {
	case <-s.done:
		return broadcast.ErrSubscriberClosed
	default:
	}
	select {
	case s.queue <- a.Message():
		return nil
	case <-s.done:
		return broadcast.ErrSubscriberClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrSendTimeout, ctx.Err())
	}
}

// Close revokes the connection. Queued actions that were not yet written are lost.
func (s *subscriber) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		deadline := time.Now().Add(s.writeTimeout)
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = s.conn.Close()
	})
	return err
}

func (s *subscriber) writeLoop() {
	var tick <-chan time.Time
	if s.pingInterval > 0 {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-s.done:
			return
		case msg := <-s.queue:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := s.conn.WriteJSON(msg); err != nil {
				s.logger.Warn("write failed", "error", err)
				_ = s.Close()
				return
			}
		case <-tick:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout)); err != nil {
				s.logger.Debug("ping failed", "error", err)
				_ = s.Close()
				return
			}
		}
	}
}

// readLoop discards inbound frames and returns when the peer goes away.
// With keepalive enabled a peer that stops answering pings is dropped after
// two missed intervals.
func (s *subscriber) readLoop() {
	s.conn.SetReadLimit(maxInboundMessage)
	if s.pingInterval > 0 {
		wait := 2 * s.pingInterval
		_ = s.conn.SetReadDeadline(time.Now().Add(wait))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(wait))
		})
	}
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.logger.Debug("read ended", "error", err)
			}
			return
		}
	}
}
