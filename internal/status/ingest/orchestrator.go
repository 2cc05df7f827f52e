// Package ingest runs one consume loop per status source: subscribe, poll a batch, handle
// each record in order, commit, and on any failure unsubscribe, back off and resubscribe
// from the last committed offset.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"smregister/internal/platform/kafka/consumer"
	"smregister/internal/platform/lifecycle"
	"smregister/internal/platform/metrics"
)

const (
	defaultBackoff  = 10 * time.Second
	defaultIdleWait = 100 * time.Millisecond
)

// Source is a subscribable, manually committed record stream.
type Source interface {
	Name() string
	Subscribe(ctx context.Context) error
	Poll(ctx context.Context) ([]*consumer.Message, error)
	Commit(ctx context.Context, msgs []*consumer.Message) error
	Unsubscribe()
}

// Handler processes one record. A returned error aborts the batch; nothing in it is
// committed.
type Handler interface {
	Handle(ctx context.Context, msg *consumer.Message) error
}

// Binding pairs a source with the handler for its records.
type Binding struct {
	Source  Source
	Handler Handler
}

// Orchestrator drives every binding concurrently until the lifecycle state is no longer
// alive or the context ends.
type Orchestrator struct {
	bindings []Binding
	state    *lifecycle.State
	logger   *slog.Logger
	metrics  *metrics.Metrics
	backoff  time.Duration
	idleWait time.Duration
}

type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithBackoff sets the fixed wait between a failed batch and resubscribing.
func WithBackoff(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.backoff = d
		}
	}
}

// WithIdleWait sets the pause after an empty poll.
func WithIdleWait(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.idleWait = d
		}
	}
}

func New(state *lifecycle.State, bindings []Binding, opts ...Option) (*Orchestrator, error) {
	if state == nil {
		return nil, errors.New("lifecycle state is required")
	}
	for i, b := range bindings {
		if b.Source == nil || b.Handler == nil {
			return nil, fmt.Errorf("binding %d: source and handler are required", i)
		}
	}
	o := &Orchestrator{
		bindings: bindings,
		state:    state,
		logger:   slog.Default(),
		backoff:  defaultBackoff,
		idleWait: defaultIdleWait,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run blocks until every source loop has stopped. It returns an error only when a loop
// ended unexpectedly; that also flips the lifecycle state to not alive.
func (o *Orchestrator) Run(ctx context.Context) error {
	var g errgroup.Group
	for _, b := range o.bindings {
		g.Go(func() error {
			return o.runSource(ctx, b)
		})
	}
	return g.Wait()
}

func (o *Orchestrator) runSource(ctx context.Context, b Binding) (err error) {
	name := b.Source.Name()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("source %s stopped unexpectedly: %v", name, r)
		}
		b.Source.Unsubscribe()
		o.metrics.SetUp(name, false)
		if err != nil {
			o.logger.Error("status source loop died", "source", name, "error", err)
			o.state.Shutdown()
		}
	}()

	o.logger.InfoContext(ctx, "status source loop started", "source", name)
	for o.state.Alive() && ctx.Err() == nil {
		if !o.state.Ready() {
			sleep(ctx, o.idleWait)
			continue
		}
		if err := o.consume(ctx, b); err != nil {
			if ctx.Err() != nil {
				break
			}
			o.logger.ErrorContext(ctx, "status source failed, resubscribing after backoff",
				"source", name,
				"backoff", o.backoff,
				"error", err,
			)
			b.Source.Unsubscribe()
			o.metrics.SetUp(name, false)
			o.metrics.IncResubscribe(name)
			sleep(ctx, o.backoff)
		}
	}
	o.logger.InfoContext(ctx, "status source loop stopped", "source", name)
	return nil
}

// consume runs poll/handle/commit cycles until the state is no longer ready or a step
// fails.
func (o *Orchestrator) consume(ctx context.Context, b Binding) error {
	name := b.Source.Name()
	if err := b.Source.Subscribe(ctx); err != nil {
		o.metrics.IncLoopError(name, "subscribe")
		return fmt.Errorf("subscribe: %w", err)
	}
	o.metrics.SetUp(name, true)

	for o.state.Ready() && o.state.Alive() && ctx.Err() == nil {
		msgs, err := b.Source.Poll(ctx)
		if err != nil {
			o.metrics.IncLoopError(name, "poll")
			return fmt.Errorf("poll: %w", err)
		}
		if len(msgs) == 0 {
			sleep(ctx, o.idleWait)
			continue
		}
		o.metrics.AddPolled(name, len(msgs))

		// a polled batch is finished even when shutdown starts mid-way
		batchCtx := context.WithoutCancel(ctx)
		for _, msg := range msgs {
			if err := b.Handler.Handle(batchCtx, msg); err != nil {
				o.metrics.IncLoopError(name, "handle")
				return fmt.Errorf("handle %s[%d]@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
			}
		}
		if err := b.Source.Commit(batchCtx, msgs); err != nil {
			o.metrics.IncLoopError(name, "commit")
			return fmt.Errorf("commit: %w", err)
		}
		o.metrics.IncCommitted(name)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
