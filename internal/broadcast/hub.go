// Package broadcast fans semantic actions out to every connected subscriber.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"keyrelay/internal/action"
	"keyrelay/internal/observability"
)

// DefaultSendTimeout bounds a single delivery attempt.
const DefaultSendTimeout = 2 * time.Second

var (
	// ErrSubscriberClosed is reported when a subscriber signalled closure
	// before or during delivery.
	ErrSubscriberClosed = errors.New("subscriber closed")
	errSendPanic        = errors.New("subscriber send panicked")
)

// Subscriber is a live consumer of the action stream.
//
// Send may block until ctx is done. Done is closed once the subscriber can
// no longer receive. Close must be safe to call more than once.
type Subscriber interface {
	ID() string
	Send(ctx context.Context, a action.Action) error
	Done() <-chan struct{}
	Close() error
}

// Recorder receives subscriber and delivery metrics.
type Recorder interface {
	SubscriberAdded()
	SubscriberRemoved()
	DeliveryResult(ok bool)
}

// Stats is a point-in-time view of hub activity.
type Stats struct {
	Active           int   `json:"active"`
	TotalConnections int64 `json:"total_connections"`
	Published        int64 `json:"published"`
	Delivered        int64 `json:"delivered"`
	Failed           int64 `json:"failed"`
	Dropped          int64 `json:"dropped"`
}

type hubStats struct {
	connections atomic.Int64
	published   atomic.Int64
	delivered   atomic.Int64
	failed      atomic.Int64
	dropped     atomic.Int64 // published with nobody listening
}

// Hub owns the subscriber registry. Register, Unregister and Publish are
// safe for concurrent use; no lock is held while sending.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]Subscriber
	closed bool

	sendTimeout time.Duration
	recorder    Recorder
	logger      *observability.Logger
	stats       hubStats
}

// Option configures a Hub.
type Option func(*Hub)

// WithSendTimeout bounds each delivery attempt. Non-positive values are ignored.
func WithSendTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.sendTimeout = d
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(h *Hub) {
		h.recorder = r
	}
}

// WithLogger sets the hub logger.
func WithLogger(logger *observability.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHub returns an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		subs:        make(map[string]Subscriber),
		sendTimeout: DefaultSendTimeout,
		logger:      observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds sub to the registry. Registering the same subscriber twice
// is a no-op. After Close the subscriber is closed immediately and false is
// returned.
func (h *Hub) Register(sub Subscriber) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = sub.Close()
		return false
	}
	if _, exists := h.subs[sub.ID()]; exists {
		h.mu.Unlock()
		return true
	}
	h.subs[sub.ID()] = sub
	count := len(h.subs)
	h.mu.Unlock()

	h.stats.connections.Add(1)
	if h.recorder != nil {
		h.recorder.SubscriberAdded()
	}
	h.logger.Info("subscriber registered", "subscriber_id", sub.ID(), "active", count)
	return true
}

// Unregister removes and closes sub. It is idempotent.
func (h *Hub) Unregister(sub Subscriber) {
	h.remove(sub, nil)
}

// Count returns the number of registered subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Stats returns a snapshot of hub counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Active:           h.Count(),
		TotalConnections: h.stats.connections.Load(),
		Published:        h.stats.published.Load(),
		Delivered:        h.stats.delivered.Load(),
		Failed:           h.stats.failed.Load(),
		Dropped:          h.stats.dropped.Load(),
	}
}

// Publish delivers a to every registered subscriber and returns how many
// accepted it. Deliveries run concurrently, each bounded by the send
// timeout. A subscriber that is closed, errors, or times out is removed;
// nothing is retried and no error reaches the caller. With no subscribers
// the action is dropped.
//
// Callers that need per-subscriber ordering must not call Publish
// concurrently.
func (h *Hub) Publish(ctx context.Context, a action.Action) int {
	h.stats.published.Add(1)
	subs := h.snapshot()
	if len(subs) == 0 {
		h.stats.dropped.Add(1)
		return 0
	}

	var delivered atomic.Int64
	var g errgroup.Group
	for _, sub := range subs {
		g.Go(func() error {
			err := h.deliver(ctx, sub, a)
			if h.recorder != nil {
				h.recorder.DeliveryResult(err == nil)
			}
			if err != nil {
				h.stats.failed.Add(1)
				h.remove(sub, err)
				return nil
			}
			h.stats.delivered.Add(1)
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(delivered.Load())
}

// Close unregisters and closes every subscriber. Later registrations are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[string]Subscriber)
	h.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
		if h.recorder != nil {
			h.recorder.SubscriberRemoved()
		}
	}
	h.logger.Info("hub closed", "closed_subscribers", len(subs))
}

func (h *Hub) snapshot() []Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		out = append(out, sub)
	}
	return out
}

func (h *Hub) deliver(ctx context.Context, sub Subscriber, a action.Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errSendPanic, r)
		}
	}()

	select {
	case <-sub.Done():
		return ErrSubscriberClosed
	default:
	}

	sendCtx, cancel := context.WithTimeout(ctx, h.sendTimeout)
	defer cancel()
	return sub.Send(sendCtx, a)
}

// remove deletes sub if it is still the registered entry for its ID, then
// closes it. reason is nil for an orderly disconnect.
func (h *Hub) remove(sub Subscriber, reason error) {
	h.mu.Lock()
	current, ok := h.subs[sub.ID()]
	if ok && current == sub {
		delete(h.subs, sub.ID())
	}
	count := len(h.subs)
	h.mu.Unlock()

	if !ok || current != sub {
		return
	}
	_ = sub.Close()
	if h.recorder != nil {
		h.recorder.SubscriberRemoved()
	}
	if reason != nil {
		h.logger.Warn("subscriber removed after failed delivery", "subscriber_id", sub.ID(), "error", reason, "active", count)
		return
	}
	h.logger.Info("subscriber unregistered", "subscriber_id", sub.ID(), "active", count)
}
