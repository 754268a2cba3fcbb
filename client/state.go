// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import "sync/atomic"

// State is the lifecycle of one benchmark session. It only moves forward:
// a client whose connect was abandoned or whose session dropped is closed
// rather than reused, so every measurement runs on its first session.
type State uint32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateLost
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateLost:
		return "lost"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// holdsTransport reports whether the transport may still own a socket.
// A connecting session counts: the dial keeps running after the caller
// gives up on it.
func (s State) holdsTransport() bool {
	return s == StateConnecting || s == StateConnected
}

var transitions = map[State][]State{
	StateIdle:       {StateConnecting, StateClosed},
	StateConnecting: {StateConnected, StateClosed},
	StateConnected:  {StateLost, StateClosed},
	StateLost:       {StateClosed},
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type lifecycle struct {
	state atomic.Uint32
}

func (l *lifecycle) get() State {
	return State(l.state.Load())
}

// advance moves from to to if the transition is legal and the current state
// is still from.
func (l *lifecycle) advance(from, to State) bool {
	if !allowed(from, to) {
		return false
	}
	return l.state.CompareAndSwap(uint32(from), uint32(to))
}

// close moves any state to Closed and returns the state it replaced. Exactly
// one caller observes a non-Closed previous state.
func (l *lifecycle) close() State {
	return State(l.state.Swap(uint32(StateClosed)))
}

func (l *lifecycle) isConnected() bool {
	return l.get() == StateConnected
}
