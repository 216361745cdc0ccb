package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyrelay/internal/action"
	"keyrelay/internal/broadcast"
	"keyrelay/internal/input"
	"keyrelay/internal/input/replay"
	"keyrelay/internal/observability"
)

type recordingPublisher struct {
	mu     sync.Mutex
	labels []string
}

func (r *recordingPublisher) Publish(_ context.Context, a action.Action) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.labels = append(r.labels, a.Label)
	return 1
}

func (r *recordingPublisher) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.labels...)
}

type errSource struct {
	err error
}

func (s errSource) Next() (input.RawEvent, error) { return input.RawEvent{}, s.err }
func (s errSource) Close() error                  { return nil }

const session = `{"code":"KEY_LEFTSHIFT","value":1,"time":0.000}
{"code":"KEY_M","value":1,"time":0.010}
{"code":"KEY_LEFTSHIFT","value":0,"time":0.050}
{"code":"KEY_M","value":0,"time":0.080}

{"code":"KEY_3","value":1,"time":1.000}
{"code":"KEY_3","value":2,"time":1.250}
{"code":"KEY_3","value":2,"time":1.400}
{"code":"KEY_3","value":2,"time":1.450}
{"code":"KEY_3","value":0,"time":1.500}
{"code":"KEY_7","value":0,"time":2.000}
`

func TestRunPublishesActionsInOrder(t *testing.T) {
	pub := &recordingPublisher{}
	p := New(replay.NewSource(strings.NewReader(session)), action.NewMachine(), pub)

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, []string{"LeftShift+KEY_M", "KEY_3_DOWN", "KEY_3_UP"}, pub.got())
}

func TestRunReturnsReadErrors(t *testing.T) {
	boom := errors.New("device unplugged")
	reg := prometheus.NewRegistry()
	p := New(errSource{err: boom}, action.NewMachine(), &recordingPublisher{},
		WithInputMetrics(observability.NewInputMetricsWithRegisterer(reg)))

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1.0, gaugeValue(t, reg, "keyrelay_input_source_errors_total"))
}

func TestRunReportsMalformedReplayLine(t *testing.T) {
	src := replay.NewSource(strings.NewReader("{\"code\":\"KEY_1\",\"value\":1}\nnot json\n"))
	err := New(src, action.NewMachine(), &recordingPublisher{}).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestCancelUnblocksPendingRead(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	p := New(replay.NewSource(pr), action.NewMachine(), &recordingPublisher{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestStepTracksHeldKeys(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := New(errSource{err: io.EOF}, action.NewMachine(), &recordingPublisher{},
		WithInputMetrics(observability.NewInputMetricsWithRegisterer(reg)))
	ctx := context.Background()

	_, ok := p.Step(ctx, input.RawEvent{Code: "KEY_LEFTCTRL", State: input.StatePress})
	assert.False(t, ok)
	_, ok = p.Step(ctx, input.RawEvent{Code: "KEY_A", State: input.StatePress, Time: time.Millisecond})
	assert.False(t, ok)
	assert.Equal(t, 1.0, gaugeValue(t, reg, "keyrelay_input_keys_held"))
	assert.Equal(t, 1.0, gaugeValue(t, reg, "keyrelay_input_modifiers_held"))

	a, ok := p.Step(ctx, input.RawEvent{Code: "KEY_A", State: input.StateRelease, Time: 20 * time.Millisecond})
	require.True(t, ok)
	assert.Equal(t, "LeftCtrl+KEY_A", a.Label)
	assert.Equal(t, 0.0, gaugeValue(t, reg, "keyrelay_input_keys_held"))
}

func TestPipelineThroughHub(t *testing.T) {
	hub := broadcast.NewHub()
	defer hub.Close()

	var lines strings.Builder
	enc := replay.NewEncoder(&lines)
	require.NoError(t, enc.Encode(input.RawEvent{Code: "KEY_1", State: input.StatePress, Time: time.Second}))
	require.NoError(t, enc.Encode(input.RawEvent{Code: "KEY_1", State: input.StateRelease, Time: time.Second + 40*time.Millisecond}))

	logger := observability.NewLogger(observability.LogConfig{Level: "debug", Format: "json", Output: io.Discard})
	p := New(replay.NewSource(strings.NewReader(lines.String())), action.NewMachine(), hub,
		WithLogger(logger), WithTracer(observability.NoopTracerProvider()))

	// No subscribers: the tap is dropped without error.
	require.NoError(t, p.Run(context.Background()))
	stats := hub.Stats()
	assert.Equal(t, int64(1), stats.Published)
	assert.Equal(t, int64(1), stats.Dropped)
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		require.NotEmpty(t, mf.GetMetric())
		m := mf.GetMetric()[0]
		if g := m.GetGauge(); g != nil {
			return g.GetValue()
		}
		return m.GetCounter().GetValue()
	}
	t.Fatalf("metric %s not found", name)
	return 0
}
