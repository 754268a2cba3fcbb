// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/absmach/fluxbench/bench"
	"github.com/absmach/fluxbench/client"
	"github.com/absmach/fluxbench/completion"
	"github.com/absmach/fluxbench/internal/payload"
	"github.com/absmach/fluxbench/testutil"
	"github.com/absmach/fluxbench/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const runID = "r1"

func newPool(t *testing.T, fb *testutil.FakeBroker, mode bench.Mode, n int, sig *completion.Signal, opts ...Option) *Pool {
	t.Helper()
	strategy, err := topology.New(mode, n, topology.NewTopics("test", runID))
	require.NoError(t, err)
	p, err := New(Config{Prefix: "test", QoS: 1}, strategy, sig, fb.Factory(), opts...)
	require.NoError(t, err)
	t.Cleanup(p.Stop)
	return p
}

func TestNewValidates(t *testing.T) {
	fb := testutil.NewFakeBroker()
	strategy, err := topology.NewRing(2, topology.NewTopics("test", runID))
	require.NoError(t, err)
	sig := completion.New()

	cases := []struct {
		name     string
		cfg      Config
		strategy topology.Strategy
		signal   topology.Signaler
		factory  client.Factory
		err      error
	}{
		{"nil strategy", Config{}, nil, sig, fb.Factory(), ErrNilStrategy},
		{"nil signal", Config{}, strategy, nil, fb.Factory(), ErrNilSignal},
		{"nil factory", Config{}, strategy, sig, nil, ErrNilFactory},
		{"bad qos", Config{QoS: 3}, strategy, sig, fb.Factory(), client.ErrInvalidQoS},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.cfg, tc.strategy, tc.signal, tc.factory)
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestNewBuildsHandles(t *testing.T) {
	fb := testutil.NewFakeBroker()
	p := newPool(t, fb, bench.ModeFanOut, 3, completion.New())

	hs := p.Handles()
	require.Len(t, hs, 4)
	assert.Equal(t, "test-r1-client0", hs[0].ID())
	assert.Equal(t, bench.RolePublisher, hs[0].Role())
	assert.Equal(t, "test-r1-client3", hs[3].ID())
	assert.Equal(t, 3, hs[3].Index())
	assert.Equal(t, StateIdle, hs[1].State())
	assert.False(t, p.Ready())
	assert.Nil(t, p.Handle(4))
	assert.Nil(t, p.Handle(-1))
	assert.Len(t, fb.Clients(), 4)
}

func TestClientID(t *testing.T) {
	assert.Equal(t, "bench-abc-client2", ClientID("bench", "abc", 2))
	assert.Equal(t, "abc-client0", ClientID("", "abc", 0))
}

func TestStartAndStop(t *testing.T) {
	fb := testutil.NewFakeBroker()
	p := newPool(t, fb, bench.ModeRing, 4, completion.New())

	require.NoError(t, p.Start(context.Background()))
	assert.True(t, p.Ready())
	for _, h := range p.Handles() {
		assert.Equal(t, StateConnected, h.State())
	}
	assert.Equal(t, 4, p.Stats().Connected)

	assert.ErrorIs(t, p.Start(context.Background()), ErrAlreadyStarted)

	p.Stop()
	p.Stop()
	assert.False(t, p.Ready())
	for _, c := range fb.Clients() {
		assert.Equal(t, 1, c.Disconnects(), c.ID())
	}
	assert.ErrorIs(t, p.Start(context.Background()), ErrStopped)
}

func TestStartConnectFailure(t *testing.T) {
	fb := testutil.NewFakeBroker()
	refused := errors.New("refused")
	fb.FailConnect(func(id string) error {
		if strings.HasSuffix(id, "client3") {
			return refused
		}
		return nil
	})
	p := newPool(t, fb, bench.ModeRing, 5, completion.New())

	err := p.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, bench.ErrConnectionFailure)
	assert.ErrorIs(t, err, refused)
	assert.Contains(t, err.Error(), "test-r1-client3")
	assert.False(t, p.Ready())

	// Every client that connected was disconnected exactly once; the
	// refused one never was.
	for _, c := range fb.Clients() {
		if strings.HasSuffix(c.ID(), "client3") {
			assert.Zero(t, c.Disconnects())
			continue
		}
		assert.Equal(t, c.Connects(), c.Disconnects(), c.ID())
	}
}

func TestStartSubscribeFailure(t *testing.T) {
	fb := testutil.NewFakeBroker()
	rejected := errors.New("rejected")
	fb.FailSubscribe(func(id, _ string) error {
		if strings.HasSuffix(id, "client2") {
			return rejected
		}
		return nil
	})
	p := newPool(t, fb, bench.ModeFanOut, 3, completion.New())

	err := p.Start(context.Background())
	assert.ErrorIs(t, err, bench.ErrConnectionFailure)
	assert.ErrorIs(t, err, rejected)
	assert.Contains(t, err.Error(), "test-r1-client2")
	assert.Equal(t, 1, fb.Client("test-r1-client2").Disconnects())
}

func TestStartCancelled(t *testing.T) {
	fb := testutil.NewFakeBroker()
	p := newPool(t, fb, bench.ModeRing, 3, completion.New())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Start(ctx)
	assert.ErrorIs(t, err, bench.ErrConnectionFailure)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRingRoundThroughPool(t *testing.T) {
	fb := testutil.NewFakeBroker()
	sig := completion.New()
	p := newPool(t, fb, bench.ModeRing, 3, sig)
	require.NoError(t, p.Start(context.Background()))

	sig.Reset(1, 1)
	h, topic := p.Trigger()
	require.NoError(t, h.Publish(context.Background(), topic, payload.Make(runID, 1, 8)))

	outcome, _ := sig.Wait(context.Background(), 2*time.Second)
	require.Equal(t, completion.Completed, outcome)
	assert.Equal(t, 3, fb.TotalPublished())
	assert.Equal(t, 1, fb.Published("test/r1/end"))
}

func TestFanOutRoundWithDuplicates(t *testing.T) {
	fb := testutil.NewFakeBroker()
	fb.SetDuplicates(2)
	sig := completion.New()
	p := newPool(t, fb, bench.ModeFanOut, 5, sig)
	require.NoError(t, p.Start(context.Background()))

	sig.Reset(1, 5)
	h, topic := p.Trigger()
	require.NoError(t, h.Publish(context.Background(), topic, payload.Make(runID, 1, 0)))

	outcome, _ := sig.Wait(context.Background(), 2*time.Second)
	require.Equal(t, completion.Completed, outcome)
	assert.Equal(t, 5, sig.Count())
	assert.Eventually(t, func() bool {
		return p.Stats().Received == 15
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		return sig.Duplicates() == 10
	}, time.Second, 5*time.Millisecond)
}

func TestRelayErrorCounted(t *testing.T) {
	fb := testutil.NewFakeBroker()
	fb.FailPublish("test/r1/topic2", errors.New("boom"))
	sig := completion.New()
	p := newPool(t, fb, bench.ModeRing, 3, sig)
	require.NoError(t, p.Start(context.Background()))

	sig.Reset(1, 1)
	h, topic := p.Trigger()
	require.NoError(t, h.Publish(context.Background(), topic, payload.Make(runID, 1, 0)))

	outcome, _ := sig.Wait(context.Background(), 100*time.Millisecond)
	assert.Equal(t, completion.TimedOut, outcome)
	assert.Eventually(t, func() bool {
		return p.Stats().RelayErrors == 1
	}, time.Second, 5*time.Millisecond)
}

func TestUnexpectedDeliveryCounted(t *testing.T) {
	fb := testutil.NewFakeBroker()
	sig := completion.New()
	p := newPool(t, fb, bench.ModeFanOut, 2, sig)
	require.NoError(t, p.Start(context.Background()))

	h, topic := p.Trigger()
	require.NoError(t, h.Publish(context.Background(), topic, []byte("garbage")))
	assert.Eventually(t, func() bool {
		return p.Stats().Unexpected == 2
	}, time.Second, 5*time.Millisecond)
}

func TestDeliveryOverflowDropped(t *testing.T) {
	fb := testutil.NewFakeBroker()
	strategy, err := topology.NewFanOut(1, topology.NewTopics("test", runID))
	require.NoError(t, err)
	p, err := New(Config{Prefix: "test", Buffer: 1}, strategy, completion.New(), fb.Factory())
	require.NoError(t, err)
	t.Cleanup(p.Stop)

	sub := p.Handle(1)
	// Fill the buffer without a dispatcher draining it.
	for range 3 {
		sub.onMessage(&client.Message{Topic: "test/r1/fire", Payload: []byte("x")})
	}
	assert.Equal(t, int64(2), sub.Stats().Dropped)
}

func TestPublishRequiresConnection(t *testing.T) {
	fb := testutil.NewFakeBroker()
	p := newPool(t, fb, bench.ModeRing, 2, completion.New())

	h, topic := p.Trigger()
	err := h.Publish(context.Background(), topic, []byte("x"))
	assert.ErrorIs(t, err, client.ErrNotConnected)
}

func TestStartAfterStop(t *testing.T) {
	fb := testutil.NewFakeBroker()
	p := newPool(t, fb, bench.ModeRing, 2, completion.New())

	p.Stop()
	assert.ErrorIs(t, p.Start(context.Background()), ErrStopped)
	for _, c := range fb.Clients() {
		assert.Zero(t, c.Disconnects())
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestStartLogsEachConnection(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelInfo}))
	fb := testutil.NewFakeBroker()
	p := newPool(t, fb, bench.ModeRing, 3, completion.New(), WithLogger(logger))

	require.NoError(t, p.Start(context.Background()))

	out := logs.String()
	assert.Equal(t, 3, strings.Count(out, "msg=\"client connected\""))
	for _, h := range p.Handles() {
		assert.Contains(t, out, "client_id="+h.ID())
	}
}
