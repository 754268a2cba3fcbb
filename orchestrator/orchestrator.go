// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator drives measured rounds: it arms the completion signal,
// publishes the trigger, waits for the topology to complete and hands the
// result to a reporter.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/absmach/fluxbench/bench"
	"github.com/absmach/fluxbench/completion"
	"github.com/absmach/fluxbench/internal/payload"
	"github.com/absmach/fluxbench/topology"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrNoTests     = errors.New("orchestrator: test count must be positive")
	ErrNilStrategy = errors.New("orchestrator: strategy is required")
	ErrNilSignal   = errors.New("orchestrator: completion signal is required")
	ErrNilTrigger  = errors.New("orchestrator: trigger publisher is required")
)

// Publisher is the client that publishes round triggers.
type Publisher interface {
	ID() string
	Publish(ctx context.Context, topic string, payload []byte) error
}

// RoundReporter receives every finished round.
type RoundReporter interface {
	ReportRound(run bench.Run)
}

// Recorder receives round level measurements.
type Recorder interface {
	RecordRound(mode, status string, latency time.Duration)
	RecordPublishDuration(durationMs float64)
	RecordError(errorType string)
}

type nopRecorder struct{}

func (nopRecorder) RecordRound(string, string, time.Duration) {}
func (nopRecorder) RecordPublishDuration(float64)             {}
func (nopRecorder) RecordError(string)                        {}

type nopReporter struct{}

func (nopReporter) ReportRound(bench.Run) {}

// BreakerConfig trips the trigger path after consecutive publish failures.
// A zero FailureThreshold disables tripping.
type BreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
}

// Config holds the round parameters.
type Config struct {
	Tests   int
	QoS     byte
	Clients int
	// RoundTimeout bounds the wait for completion. Zero waits forever.
	RoundTimeout time.Duration
	// StartupGrace is slept once before the first round.
	StartupGrace time.Duration
	// RoundInterval is slept between rounds.
	RoundInterval time.Duration
	PayloadSize   int
	Breaker       BreakerConfig
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithReporter(r RoundReporter) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.reporter = r
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// Orchestrator runs rounds one at a time.
type Orchestrator struct {
	cfg      Config
	strategy topology.Strategy
	signal   *completion.Signal
	trigger  Publisher
	topic    string
	breaker  *gobreaker.CircuitBreaker
	reporter RoundReporter
	recorder Recorder
	tracer   trace.Tracer
	logger   *slog.Logger
	phase    atomic.Uint32
	now      func() time.Time
}

// New creates an orchestrator that publishes triggers through trigger.
func New(cfg Config, strategy topology.Strategy, signal *completion.Signal, trigger Publisher, opts ...Option) (*Orchestrator, error) {
	switch {
	case cfg.Tests <= 0:
		return nil, ErrNoTests
	case strategy == nil:
		return nil, ErrNilStrategy
	case signal == nil:
		return nil, ErrNilSignal
	case trigger == nil:
		return nil, ErrNilTrigger
	}

	_, topic := strategy.Trigger()
	o := &Orchestrator{
		cfg:      cfg,
		strategy: strategy,
		signal:   signal,
		trigger:  trigger,
		topic:    topic,
		reporter: nopReporter{},
		recorder: nopRecorder{},
		tracer:   otel.Tracer("fluxbench/orchestrator"),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.breaker = o.newBreaker()
	return o, nil
}

func (o *Orchestrator) newBreaker() *gobreaker.CircuitBreaker {
	threshold := o.cfg.Breaker.FailureThreshold
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "trigger",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     o.cfg.Breaker.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return threshold > 0 && counts.ConsecutiveFailures >= uint32(threshold)
		},
		IsSuccessful: func(err error) bool {
			// Cancellation says nothing about the broker.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			o.logger.Warn("trigger circuit breaker state changed",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
}

// Phase returns the current orchestrator phase.
func (o *Orchestrator) Phase() bench.Phase {
	return bench.Phase(o.phase.Load())
}

func (o *Orchestrator) setPhase(p bench.Phase) {
	o.phase.Store(uint32(p))
}

// Run executes the configured number of rounds. Timed out and failed rounds
// are recorded and the run continues. Cancellation of ctx stops the run; the
// summary of the rounds so far is returned together with ctx's error.
func (o *Orchestrator) Run(ctx context.Context) (bench.Summary, error) {
	defer o.setPhase(bench.PhaseFinished)

	sum := bench.Summary{
		RunID:       o.strategy.Topics().RunID,
		Mode:        o.strategy.Mode(),
		QoS:         o.cfg.QoS,
		Clients:     o.cfg.Clients,
		PayloadSize: o.cfg.PayloadSize,
		Total:       o.cfg.Tests,
		Started:     o.now(),
	}
	finish := func(err error) (bench.Summary, error) {
		sum.Finished = o.now()
		if err != nil {
			sum.Interrupted = true
		}
		return sum, err
	}

	if err := sleep(ctx, o.cfg.StartupGrace); err != nil {
		return finish(err)
	}

	for r := 1; r <= o.cfg.Tests; r++ {
		run := o.round(ctx, r)
		sum.Runs = append(sum.Runs, run)
		if run.Status == bench.StatusCancelled {
			return finish(ctx.Err())
		}

		o.reporter.ReportRound(run)
		o.recorder.RecordRound(sum.Mode.String(), run.Status.String(), run.Elapsed())
		o.setPhase(bench.PhaseRecorded)

		if r < o.cfg.Tests {
			if err := sleep(ctx, o.cfg.RoundInterval); err != nil {
				return finish(err)
			}
		}
	}

	return finish(nil)
}

func (o *Orchestrator) round(ctx context.Context, r int) bench.Run {
	target := o.strategy.Target()
	ctx, span := o.tracer.Start(ctx, "bench.round", trace.WithAttributes(
		attribute.Int("round", r),
		attribute.String("mode", o.strategy.Mode().String()),
		attribute.Int("target", target),
		attribute.String("topic", o.topic),
	))
	defer span.End()

	o.setPhase(bench.PhaseArmed)
	o.signal.Reset(r, target)
	msg := payload.Make(o.strategy.Topics().RunID, r, o.cfg.PayloadSize)

	run := bench.Run{Seq: r, Target: target, Status: bench.StatusRunning}
	run.Start = o.now()
	o.setPhase(bench.PhaseAwaitingCompletion)

	if err := o.publish(ctx, msg); err != nil {
		if ctx.Err() != nil {
			run.Status = bench.StatusCancelled
			run.Err = ctx.Err()
			return run
		}
		run.Status = bench.StatusFailed
		run.Err = &bench.RoundError{
			Round:    r,
			Topic:    o.topic,
			ClientID: o.trigger.ID(),
			Err:      fmt.Errorf("%w: %w", bench.ErrPublishFailure, err),
		}
		o.recorder.RecordError("trigger_publish")
		o.logger.Error("trigger publish failed",
			slog.Int("round", r),
			slog.String("client_id", o.trigger.ID()),
			slog.String("topic", o.topic),
			slog.String("error", err.Error()))
		span.RecordError(run.Err)
		span.SetStatus(codes.Error, "publish failed")
		return run
	}

	outcome, end := o.signal.Wait(ctx, o.cfg.RoundTimeout)
	snap := o.signal.Snapshot()
	run.Deliveries = snap.Count
	run.Duplicates = snap.Duplicates

	switch outcome {
	case completion.Completed:
		run.End = end
		run.Status = bench.StatusCompleted
		span.SetAttributes(attribute.Int64("latency_us", run.Elapsed().Microseconds()))
	case completion.TimedOut:
		run.Status = bench.StatusTimedOut
		run.Timeout = o.cfg.RoundTimeout
		run.Err = &bench.RoundError{
			Round: r,
			Topic: o.topic,
			Err: fmt.Errorf("%w after %v (%d/%d deliveries)",
				bench.ErrCompletionTimeout, o.cfg.RoundTimeout, snap.Count, target),
		}
		o.recorder.RecordError("round_timeout")
		o.logger.Warn("round timed out",
			slog.Int("round", r),
			slog.Int("deliveries", snap.Count),
			slog.Int("target", target))
		span.RecordError(run.Err)
		span.SetStatus(codes.Error, "timed out")
	case completion.Cancelled:
		run.Status = bench.StatusCancelled
		run.Err = ctx.Err()
	}

	if snap.Stale > 0 || snap.Duplicates > 0 {
		o.logger.Debug("ignored deliveries",
			slog.Int("round", r),
			slog.Int("stale", snap.Stale),
			slog.Int("duplicates", snap.Duplicates))
	}
	return run
}

func (o *Orchestrator) publish(ctx context.Context, msg []byte) error {
	start := time.Now()
	_, err := o.breaker.Execute(func() (any, error) {
		return nil, o.trigger.Publish(ctx, o.topic, msg)
	})
	o.recorder.RecordPublishDuration(float64(time.Since(start).Microseconds()) / 1000)
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
