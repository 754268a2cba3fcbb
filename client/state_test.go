// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateLost, "lost"},
		{StateClosed, "closed"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		got := tt.state.String()
		if got != tt.want {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.want)
		}
	}
}

func TestLifecycleForwardOnly(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateConnecting, true},
		{StateConnecting, StateConnected, true},
		{StateConnected, StateLost, true},
		{StateConnecting, StateIdle, false},
		{StateConnected, StateConnecting, false},
		{StateLost, StateConnected, false},
		{StateClosed, StateIdle, false},
		{StateClosed, StateConnecting, false},
	}

	for _, tt := range tests {
		var l lifecycle
		l.state.Store(uint32(tt.from))
		if got := l.advance(tt.from, tt.to); got != tt.want {
			t.Errorf("advance(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestLifecycleAdvanceChecksCurrent(t *testing.T) {
	var l lifecycle
	if l.advance(StateConnecting, StateConnected) {
		t.Error("advance from a state other than the current one should fail")
	}
	if !l.advance(StateIdle, StateConnecting) {
		t.Error("Idle -> Connecting should succeed")
	}
	if l.isConnected() {
		t.Error("connecting client reported connected")
	}
}

func TestHoldsTransport(t *testing.T) {
	for _, s := range []State{StateConnecting, StateConnected} {
		if !s.holdsTransport() {
			t.Errorf("%s should hold the transport", s)
		}
	}
	for _, s := range []State{StateIdle, StateLost, StateClosed} {
		if s.holdsTransport() {
			t.Errorf("%s should not hold the transport", s)
		}
	}
}

// Teardown relies on exactly one closer seeing the live state.
func TestLifecycleCloseSingleWinner(t *testing.T) {
	var l lifecycle
	l.state.Store(uint32(StateConnected))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.close().holdsTransport() {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Errorf("expected exactly one winning close, got %d", got)
	}
	if l.get() != StateClosed {
		t.Errorf("state = %s, want closed", l.get())
	}
}
