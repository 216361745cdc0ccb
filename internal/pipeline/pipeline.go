// Package pipeline drives raw input events through the action machine and
// publishes the resulting actions.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"keyrelay/internal/action"
	"keyrelay/internal/input"
	"keyrelay/internal/observability"
)

// Publisher receives every action in emission order and reports how many
// subscribers it reached.
type Publisher interface {
	Publish(ctx context.Context, a action.Action) int
}

// Pipeline is the single reader of a raw source. It owns the machine for its
// lifetime.
type Pipeline struct {
	src     input.Source
	machine *action.Machine
	pub     Publisher

	logger  *observability.Logger
	metrics *observability.MetricsCollector
	input   *observability.InputMetrics
	tracer  *observability.TracerProvider
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger for published actions and read failures.
func WithLogger(logger *observability.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics records raw events and published actions.
func WithMetrics(m *observability.MetricsCollector) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithInputMetrics records held key gauges after each event.
func WithInputMetrics(m *observability.InputMetrics) Option {
	return func(p *Pipeline) {
		p.input = m
	}
}

// WithTracer opens one span per published action.
func WithTracer(tp *observability.TracerProvider) Option {
	return func(p *Pipeline) {
		if tp != nil {
			p.tracer = tp
		}
	}
}

// New wires src through machine into pub.
func New(src input.Source, machine *action.Machine, pub Publisher, opts ...Option) *Pipeline {
	p := &Pipeline{
		src:     src,
		machine: machine,
		pub:     pub,
		logger:  observability.NopLogger(),
		tracer:  observability.NoopTracerProvider(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run reads until the source ends or ctx is cancelled. Cancellation closes
// the source to unblock a pending read; both that and io.EOF return nil. Any
// other read error is returned.
func (p *Pipeline) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		_ = p.src.Close()
	})
	defer stop()

	for {
		ev, err := p.src.Next()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			p.input.RecordSourceError()
			return fmt.Errorf("read input: %w", err)
		}
		p.Step(ctx, ev)
	}
}

// Step handles one raw event and publishes the action it produced, if any.
func (p *Pipeline) Step(ctx context.Context, ev input.RawEvent) (action.Action, bool) {
	p.metrics.RecordRawEvent(ctx, ev.State.String())

	a, ok := p.machine.Handle(ev)
	p.input.RecordState(p.machine.HeldCount(), p.machine.ModifierCount(), time.Now())
	if !ok {
		return action.Action{}, false
	}
	p.publish(ctx, ev, a)
	return a, true
}

func (p *Pipeline) publish(ctx context.Context, ev input.RawEvent, a action.Action) {
	attrs := append(observability.ActionAttrs(a.Label, a.Kind.String()),
		attribute.String(observability.AttrKeyCode, ev.Code))
	ctx, span := p.tracer.StartSpan(ctx, observability.SpanActionPublish, attrs...)
	defer span.End()

	start := time.Now()
	delivered := p.pub.Publish(ctx, a)
	latency := time.Since(start)

	span.SetAttributes(attribute.Int(observability.AttrDelivered, delivered))
	p.metrics.RecordAction(ctx, a.Kind.String(), latency)
	p.logger.Info("action published",
		"label", a.Label,
		"kind", a.Kind.String(),
		"delivered", delivered,
		"latency", latency,
	)
}
