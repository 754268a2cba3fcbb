// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/fluxbench/bench"
	"github.com/absmach/fluxbench/client"
	"github.com/absmach/fluxbench/topology"
)

// State is the lifecycle state of a handle.
type State uint32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var _ topology.Relayer = (*Handle)(nil)

// Handle is one benchmark client: its topology assignment, the broker client
// it owns exclusively and the goroutine that processes its deliveries.
type Handle struct {
	assign topology.Assignment
	id     string
	qos    byte
	cli    client.Client
	pool   *Pool

	deliveries chan bench.Delivery
	done       chan struct{}
	dispatch   sync.Once

	state atomic.Uint32

	received    atomic.Int64
	dropped     atomic.Int64
	unexpected  atomic.Int64
	relayErrors atomic.Int64
}

// HandleStats are the counters of one handle.
type HandleStats struct {
	ID          string
	State       State
	Received    int64
	Dropped     int64
	Unexpected  int64
	RelayErrors int64
}

func (h *Handle) Index() int                      { return h.assign.Index }
func (h *Handle) ID() string                      { return h.id }
func (h *Handle) Role() bench.Role                { return h.assign.Role }
func (h *Handle) Assignment() topology.Assignment { return h.assign }
func (h *Handle) State() State                    { return State(h.state.Load()) }

func (h *Handle) Stats() HandleStats {
	return HandleStats{
		ID:          h.id,
		State:       h.State(),
		Received:    h.received.Load(),
		Dropped:     h.dropped.Load(),
		Unexpected:  h.unexpected.Load(),
		RelayErrors: h.relayErrors.Load(),
	}
}

// Publish sends payload and waits for the broker to accept it.
func (h *Handle) Publish(ctx context.Context, topic string, payload []byte) error {
	if h.State() != StateConnected {
		return fmt.Errorf("%s: %w", h.id, client.ErrNotConnected)
	}
	tok := h.cli.Publish(topic, h.qos, payload)
	return client.AwaitTimeout(ctx, tok, h.pool.cfg.PublishTimeout)
}

// Relay forwards payload without waiting for the broker. Failures are
// counted and logged once the token completes.
func (h *Handle) Relay(topic string, payload []byte) {
	tok := h.cli.Publish(topic, h.qos, payload)
	select {
	case <-tok.Done():
		h.relayDone(topic, tok.Error())
		return
	default:
	}
	go func() {
		select {
		case <-tok.Done():
			h.relayDone(topic, tok.Error())
		case <-h.done:
		}
	}()
}

func (h *Handle) relayDone(topic string, err error) {
	if err == nil {
		return
	}
	h.relayErrors.Add(1)
	h.pool.recorder.RecordError("relay_publish")
	h.pool.logger.Warn("relay publish failed",
		"client_id", h.id,
		"topic", topic,
		"error", err)
}

// onMessage runs on the transport goroutine and never blocks.
func (h *Handle) onMessage(msg *client.Message) {
	d := bench.Delivery{
		Topic:     msg.Topic,
		Payload:   msg.Payload,
		QoS:       msg.QoS,
		Duplicate: msg.Duplicate,
		Received:  time.Now(),
	}
	select {
	case h.deliveries <- d:
	default:
		n := h.dropped.Add(1)
		h.pool.recorder.RecordError("delivery_dropped")
		h.pool.logger.Warn("delivery buffer full, dropping message",
			"client_id", h.id,
			"topic", msg.Topic,
			"dropped", n)
	}
}

func (h *Handle) startDispatcher() {
	h.dispatch.Do(func() {
		h.pool.wg.Add(1)
		go h.run()
	})
}

func (h *Handle) run() {
	defer h.pool.wg.Done()

	for {
		select {
		case <-h.done:
			return
		case d := <-h.deliveries:
			h.received.Add(1)
			h.pool.recorder.RecordDelivery(h.assign.Role.String(), d.QoS, len(d.Payload))
			if err := h.pool.strategy.OnDelivery(h.assign, d, h, h.pool.signal); err != nil {
				h.unexpected.Add(1)
				h.pool.recorder.RecordError("unexpected_delivery")
				h.pool.logger.Warn("ignoring delivery",
					"client_id", h.id,
					"error", err)
			}
		}
	}
}

func (h *Handle) start(ctx context.Context) error {
	if !h.state.CompareAndSwap(uint32(StateIdle), uint32(StateConnecting)) {
		return fmt.Errorf("%w: %s: handle is %s", bench.ErrConnectionFailure, h.id, h.State())
	}

	start := time.Now()
	if err := h.cli.Connect(ctx); err != nil {
		h.pool.recorder.RecordError("connect")
		return fmt.Errorf("%w: %s: %w", bench.ErrConnectionFailure, h.id, err)
	}
	if !h.state.CompareAndSwap(uint32(StateConnecting), uint32(StateConnected)) {
		// Stopped while connecting.
		h.cli.Disconnect()
		return fmt.Errorf("%w: %s: stopped during connect", bench.ErrConnectionFailure, h.id)
	}
	h.pool.recorder.RecordConnection(h.assign.Role.String(), time.Since(start))
	h.pool.logger.Info("client connected",
		"client_id", h.id,
		"role", h.assign.Role.String(),
		"duration", time.Since(start))

	h.startDispatcher()

	for _, topic := range h.assign.Subscribe {
		if err := h.cli.Subscribe(ctx, topic, h.qos, h.onMessage); err != nil {
			return fmt.Errorf("%w: %s: subscribe %q: %w", bench.ErrConnectionFailure, h.id, topic, err)
		}
		h.pool.logger.Debug("client subscribed",
			"client_id", h.id,
			"topic", topic,
			"qos", h.qos)
	}
	return nil
}

// stop disconnects the client if it is connected. Only the first call has
// any effect.
func (h *Handle) stop() {
	prev := State(h.state.Swap(uint32(StateStopped)))
	if prev == StateStopped {
		return
	}
	close(h.done)
	if prev == StateConnected {
		h.cli.Disconnect()
		h.pool.recorder.RecordDisconnection("stop")
	}
}

func (h *Handle) connectionLost(err error) {
	h.pool.recorder.RecordError("connection_lost")
	h.pool.logger.Warn("connection lost",
		"client_id", h.id,
		"error", err)
}
