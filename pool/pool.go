// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package pool owns the benchmark clients: it builds one handle per topology
// assignment, connects and subscribes them all before the first round and
// tears them down exactly once.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/fluxbench/bench"
	"github.com/absmach/fluxbench/client"
	"github.com/absmach/fluxbench/ratelimit"
	"github.com/absmach/fluxbench/topology"
	"golang.org/x/sync/errgroup"
)

// DefaultBuffer is the per-handle delivery buffer used when Config.Buffer is
// not set.
const DefaultBuffer = 256

var (
	ErrNilStrategy    = errors.New("pool: strategy is required")
	ErrNilSignal      = errors.New("pool: completion signal is required")
	ErrNilFactory     = errors.New("pool: client factory is required")
	ErrAlreadyStarted = errors.New("pool: already started")
	ErrStopped        = errors.New("pool: stopped")
)

// Recorder receives client level measurements.
type Recorder interface {
	RecordConnection(role string, d time.Duration)
	RecordDisconnection(reason string)
	RecordDelivery(role string, qos byte, sizeBytes int)
	RecordError(errorType string)
}

type nopRecorder struct{}

func (nopRecorder) RecordConnection(string, time.Duration) {}
func (nopRecorder) RecordDisconnection(string)             {}
func (nopRecorder) RecordDelivery(string, byte, int)       {}
func (nopRecorder) RecordError(string)                     {}

// Config holds the per-client settings shared by every handle.
type Config struct {
	// Options is the template each handle's client options are cloned from.
	// The client ID is overwritten per handle.
	Options *client.Options
	QoS     byte
	// Prefix starts every client ID.
	Prefix string
	// Buffer is the delivery channel capacity of each handle.
	Buffer int
	// PublishTimeout bounds a blocking Publish. It defaults to the client
	// ack timeout.
	PublishTimeout time.Duration
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithLimiter paces client connects.
func WithLimiter(l *ratelimit.ConnectLimiter) Option {
	return func(p *Pool) { p.limiter = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(p *Pool) {
		if r != nil {
			p.recorder = r
		}
	}
}

// Pool is the fixed set of client handles of one harness run.
type Pool struct {
	cfg      Config
	strategy topology.Strategy
	signal   topology.Signaler
	handles  []*Handle
	limiter  *ratelimit.ConnectLimiter
	logger   *slog.Logger
	recorder Recorder

	started  atomic.Bool
	ready    atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Stats aggregates the handle counters.
type Stats struct {
	Handles     int
	Connected   int
	Received    int64
	Dropped     int64
	Unexpected  int64
	RelayErrors int64
}

// New builds one handle per assignment of strategy. Clients are created but
// not connected.
func New(cfg Config, strategy topology.Strategy, signal topology.Signaler, factory client.Factory, opts ...Option) (*Pool, error) {
	switch {
	case strategy == nil:
		return nil, ErrNilStrategy
	case signal == nil:
		return nil, ErrNilSignal
	case factory == nil:
		return nil, ErrNilFactory
	}
	if !client.ValidQoS(cfg.QoS) {
		return nil, fmt.Errorf("%w: %d", client.ErrInvalidQoS, cfg.QoS)
	}
	if cfg.Options == nil {
		cfg.Options = client.NewOptions()
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = cfg.Options.AckTimeout
	}

	p := &Pool{
		cfg:      cfg,
		strategy: strategy,
		signal:   signal,
		logger:   slog.Default(),
		recorder: nopRecorder{},
	}
	for _, o := range opts {
		o(p)
	}

	runID := strategy.Topics().RunID
	for _, a := range strategy.Assignments() {
		h := &Handle{
			assign:     a,
			id:         ClientID(cfg.Prefix, runID, a.Index),
			qos:        cfg.QoS,
			pool:       p,
			deliveries: make(chan bench.Delivery, cfg.Buffer),
			done:       make(chan struct{}),
		}
		o := cfg.Options.Clone().
			SetClientID(h.id).
			SetOnConnectionLost(h.connectionLost)
		cli, err := factory(o)
		if err != nil {
			return nil, fmt.Errorf("create client %s: %w", h.id, err)
		}
		h.cli = cli
		p.handles = append(p.handles, h)
	}

	return p, nil
}

// ClientID names the client at index for a run.
func ClientID(prefix, runID string, index int) string {
	if prefix == "" {
		return fmt.Sprintf("%s-client%d", runID, index)
	}
	return fmt.Sprintf("%s-%s-client%d", prefix, runID, index)
}

// Start connects and subscribes every handle concurrently and returns once
// every subscription has been acknowledged. If any handle fails, the pool is
// stopped and the first error is returned.
func (p *Pool) Start(ctx context.Context) error {
	if p.stopped.Load() {
		return ErrStopped
	}
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	begin := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for _, h := range p.handles {
		g.Go(func() error {
			if err := p.limiter.Wait(gctx); err != nil {
				return fmt.Errorf("%w: %s: %w", bench.ErrConnectionFailure, h.id, err)
			}
			return h.start(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		p.logger.Error("pool startup failed", "error", err)
		p.Stop()
		return err
	}

	p.ready.Store(true)
	p.logger.Info("all clients connected and subscribed",
		"clients", len(p.handles),
		"duration", time.Since(begin))
	return nil
}

// Stop disconnects every connected handle and waits for the dispatchers to
// exit. It is safe to call more than once and after a failed Start.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.stopped.Store(true)
		p.ready.Store(false)
		for _, h := range p.handles {
			h.stop()
		}
		p.wg.Wait()
		p.logger.Debug("pool stopped", "clients", len(p.handles))
	})
}

// Handle returns the handle at pool position i, or nil.
func (p *Pool) Handle(i int) *Handle {
	if i < 0 || i >= len(p.handles) {
		return nil
	}
	return p.handles[i]
}

// Handles returns every handle in pool order.
func (p *Pool) Handles() []*Handle {
	return p.handles
}

// Trigger returns the handle that publishes round triggers and its topic.
func (p *Pool) Trigger() (*Handle, string) {
	pos, topic := p.strategy.Trigger()
	return p.Handle(pos), topic
}

// Ready reports whether Start completed and Stop has not been called.
func (p *Pool) Ready() bool {
	return p.ready.Load()
}

// Stats sums the handle counters.
func (p *Pool) Stats() Stats {
	s := Stats{Handles: len(p.handles)}
	for _, h := range p.handles {
		hs := h.Stats()
		if hs.State == StateConnected {
			s.Connected++
		}
		s.Received += hs.Received
		s.Dropped += hs.Dropped
		s.Unexpected += hs.Unexpected
		s.RelayErrors += hs.RelayErrors
	}
	return s
}
