// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package completion bridges broker delivery goroutines and the orchestrator.
//
// A Signal is armed once per round with Reset. Deliveries call Notify (ring) or
// Increment (fan-out) tagged with the round they belong to; the orchestrator
// blocks in Wait until the round completes, times out or is cancelled. Every
// piece of round state is guarded by one mutex and completion closes a
// per-round channel, so a waiter can never miss a wakeup.
package completion

import (
	"context"
	"sync"
	"time"
)

// Outcome is the result of waiting on a round.
type Outcome uint8

const (
	Completed Outcome = iota
	TimedOut
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Snapshot is a consistent copy of the signal state.
type Snapshot struct {
	Round      int
	Target     int
	Count      int
	Duplicates int
	Stale      int
	Fired      bool
	FiredAt    time.Time
}

// Signal is the per-round completion primitive.
type Signal struct {
	mu         sync.Mutex
	round      int
	target     int
	count      int
	duplicates int
	stale      int
	seen       map[int]struct{}
	done       chan struct{}
	fired      bool
	firedAt    time.Time
	now        func() time.Time
}

// New returns a signal that is not armed for any round.
func New() *Signal {
	return &Signal{
		seen: make(map[int]struct{}),
		done: make(chan struct{}),
		now:  time.Now,
	}
}

// Reset arms the signal for a new round. Deliveries tagged with any other
// round are ignored from now on.
func (s *Signal) Reset(round, target int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.round = round
	s.target = target
	s.count = 0
	s.duplicates = 0
	s.stale = 0
	clear(s.seen)
	s.done = make(chan struct{})
	s.fired = false
	s.firedAt = time.Time{}
}

// Notify completes the round in one step. It is used by the ring terminator.
// It returns false for stale rounds and repeated notifications.
func (s *Signal) Notify(round int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if round != s.round {
		s.stale++
		return false
	}
	if s.fired {
		s.duplicates++
		return false
	}
	s.count = s.target
	s.fire()
	return true
}

// Increment counts one delivery from subscriber id and completes the round
// once target distinct subscribers have reported. A subscriber is counted at
// most once per round; repeats are recorded as duplicates.
func (s *Signal) Increment(round, id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if round != s.round {
		s.stale++
		return false
	}
	if _, ok := s.seen[id]; ok {
		s.duplicates++
		return false
	}
	if s.count >= s.target {
		return false
	}
	s.seen[id] = struct{}{}
	s.count++
	if s.count == s.target {
		s.fire()
	}
	return true
}

// fire must be called with mu held.
func (s *Signal) fire() {
	s.fired = true
	s.firedAt = s.now()
	close(s.done)
}

// Wait blocks until the armed round completes, the timeout expires or ctx is
// done. A zero timeout waits without limit. On completion it returns the time
// the final delivery was observed.
func (s *Signal) Wait(ctx context.Context, timeout time.Duration) (Outcome, time.Time) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-done:
		return Completed, s.firedTime()
	case <-expired:
		select {
		case <-done:
			return Completed, s.firedTime()
		default:
		}
		return TimedOut, time.Time{}
	case <-ctx.Done():
		return Cancelled, time.Time{}
	}
}

func (s *Signal) firedTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firedAt
}

// Count returns the number of distinct deliveries counted this round.
func (s *Signal) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Duplicates returns the number of repeated deliveries ignored this round.
func (s *Signal) Duplicates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duplicates
}

// Snapshot returns the current round state.
func (s *Signal) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Round:      s.round,
		Target:     s.target,
		Count:      s.count,
		Duplicates: s.duplicates,
		Stale:      s.stale,
		Fired:      s.fired,
		FiredAt:    s.firedAt,
	}
}
