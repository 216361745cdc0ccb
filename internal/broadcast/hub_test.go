package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyrelay/internal/action"
)

type fakeSubscriber struct {
	id      string
	sendErr error
	block   bool
	panics  bool

	mu       sync.Mutex
	received []string

	closeOnce sync.Once
	closes    atomic.Int32
	done      chan struct{}
}

func newFake(id string) *fakeSubscriber {
	return &fakeSubscriber{id: id, done: make(chan struct{})}
}

func (f *fakeSubscriber) ID() string { return f.id }

func (f *fakeSubscriber) Send(ctx context.Context, a action.Action) error {
	if f.panics {
		panic("boom")
	}
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	f.received = append(f.received, a.Label)
	f.mu.Unlock()
	return nil
}

func (f *fakeSubscriber) Done() <-chan struct{} { return f.done }

func (f *fakeSubscriber) Close() error {
	f.closes.Add(1)
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

func (f *fakeSubscriber) labels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.received...)
}

type countingRecorder struct {
	added, removed, ok, failed atomic.Int32
}

func (r *countingRecorder) SubscriberAdded()   { r.added.Add(1) }
func (r *countingRecorder) SubscriberRemoved() { r.removed.Add(1) }
func (r *countingRecorder) DeliveryResult(ok bool) {
	if ok {
		r.ok.Add(1)
		return
	}
	r.failed.Add(1)
}

func TestRegisterUnregisterIsIdempotent(t *testing.T) {
	hub := NewHub()
	sub := newFake("a")

	assert.True(t, hub.Register(sub))
	assert.True(t, hub.Register(sub))
	assert.Equal(t, 1, hub.Count())

	hub.Unregister(sub)
	hub.Unregister(sub)
	assert.Equal(t, 0, hub.Count())
	assert.Equal(t, int32(1), sub.closes.Load())
}

func TestPublishWithoutSubscribersDrops(t *testing.T) {
	hub := NewHub()

	n := hub.Publish(context.Background(), action.Tap("KEY_1", nil))
	assert.Equal(t, 0, n)

	// A subscriber joining later sees nothing from before.
	late := newFake("late")
	hub.Register(late)
	hub.Publish(context.Background(), action.Tap("KEY_2", nil))
	assert.Equal(t, []string{"KEY_2"}, late.labels())

	stats := hub.Stats()
	assert.Equal(t, int64(2), stats.Published)
	assert.Equal(t, int64(1), stats.Dropped)
}

func TestFanOutIsolatesBrokenSubscriber(t *testing.T) {
	rec := &countingRecorder{}
	hub := NewHub(WithRecorder(rec))
	good1, good2 := newFake("good-1"), newFake("good-2")
	broken := newFake("broken")
	broken.sendErr = errors.New("connection reset")

	hub.Register(good1)
	hub.Register(broken)
	hub.Register(good2)

	n := hub.Publish(context.Background(), action.LongPressDown("KEY_3"))

	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"KEY_3_DOWN"}, good1.labels())
	assert.Equal(t, []string{"KEY_3_DOWN"}, good2.labels())
	assert.Equal(t, 2, hub.Count())
	assert.Equal(t, int32(1), broken.closes.Load())

	assert.Equal(t, int32(3), rec.added.Load())
	assert.Equal(t, int32(1), rec.removed.Load())
	assert.Equal(t, int32(2), rec.ok.Load())
	assert.Equal(t, int32(1), rec.failed.Load())
}

func TestSlowSubscriberTimesOutWithoutStallingOthers(t *testing.T) {
	hub := NewHub(WithSendTimeout(50 * time.Millisecond))
	slow := newFake("slow")
	slow.block = true
	fast := newFake("fast")
	hub.Register(slow)
	hub.Register(fast)

	start := time.Now()
	n := hub.Publish(context.Background(), action.Tap("KEY_1", nil))

	assert.Equal(t, 1, n)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, []string{"KEY_1"}, fast.labels())
	assert.Equal(t, 1, hub.Count())
}

func TestClosedSubscriberIsRemovedOnPublish(t *testing.T) {
	hub := NewHub()
	sub := newFake("gone")
	hub.Register(sub)
	sub.closeOnce.Do(func() { close(sub.done) })

	n := hub.Publish(context.Background(), action.Tap("KEY_1", nil))
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, hub.Count())
	assert.Empty(t, sub.labels())
}

func TestPanickingSubscriberIsRemoved(t *testing.T) {
	hub := NewHub()
	bad := newFake("bad")
	bad.panics = true
	good := newFake("good")
	hub.Register(bad)
	hub.Register(good)

	require.NotPanics(t, func() {
		hub.Publish(context.Background(), action.Tap("KEY_1", nil))
	})
	assert.Equal(t, 1, hub.Count())
	assert.Equal(t, []string{"KEY_1"}, good.labels())
}

func TestEachSubscriberSeesPublishOrder(t *testing.T) {
	hub := NewHub()
	subs := []*fakeSubscriber{newFake("a"), newFake("b"), newFake("c")}
	for _, s := range subs {
		hub.Register(s)
	}

	var want []string
	for i := 0; i < 50; i++ {
		label := fmt.Sprintf("KEY_%d", i)
		want = append(want, label)
		hub.Publish(context.Background(), action.Tap(label, nil))
	}
	for _, s := range subs {
		assert.Equal(t, want, s.labels(), s.id)
	}
}

func TestConcurrentRegisterAndPublish(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				hub.Publish(ctx, action.Tap("KEY_1", nil))
			}
		}
	}()

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				sub := newFake(fmt.Sprintf("sub-%d-%d", i, j))
				hub.Register(sub)
				hub.Unregister(sub)
			}
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()
	assert.Equal(t, 0, hub.Count())
}

func TestStaleHandleDoesNotEvictReplacement(t *testing.T) {
	hub := NewHub()
	first := newFake("same-id")
	hub.Register(first)
	hub.Unregister(first)

	second := newFake("same-id")
	hub.Register(second)
	hub.Unregister(first)

	assert.Equal(t, 1, hub.Count())
	assert.Equal(t, int32(0), second.closes.Load())
}

func TestCloseClosesAllAndRefusesNew(t *testing.T) {
	hub := NewHub()
	a, b := newFake("a"), newFake("b")
	hub.Register(a)
	hub.Register(b)

	hub.Close()
	hub.Close()
	assert.Equal(t, 0, hub.Count())
	assert.Equal(t, int32(1), a.closes.Load())
	assert.Equal(t, int32(1), b.closes.Load())

	late := newFake("late")
	assert.False(t, hub.Register(late))
	assert.Equal(t, int32(1), late.closes.Load())
}
