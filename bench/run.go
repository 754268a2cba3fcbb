// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package bench

import "time"

// Status is the lifecycle state of a single measured round.
type Status uint8

const (
	StatusPending Status = iota
	StatusRunning
	StatusCompleted
	StatusTimedOut
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusTimedOut:
		return "timed_out"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Phase is the orchestrator state between and within rounds.
type Phase uint32

const (
	PhaseIdle Phase = iota
	PhaseArmed
	PhaseAwaitingCompletion
	PhaseRecorded
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseArmed:
		return "armed"
	case PhaseAwaitingCompletion:
		return "awaiting_completion"
	case PhaseRecorded:
		return "recorded"
	case PhaseFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Delivery is one message handed to a client handle by the broker.
type Delivery struct {
	Topic     string
	Payload   []byte
	QoS       byte
	Duplicate bool
	Received  time.Time
}

// Run is one trigger-to-completion measurement.
type Run struct {
	Seq        int
	Start      time.Time
	End        time.Time
	Status     Status
	Target     int
	Deliveries int
	Duplicates int
	// Timeout is the wait that expired for a timed out run.
	Timeout time.Duration
	Err     error
}

// Elapsed returns End-Start for completed runs and zero otherwise.
func (r Run) Elapsed() time.Duration {
	if r.Status != StatusCompleted || r.End.IsZero() {
		return 0
	}
	return r.End.Sub(r.Start)
}

// Summary aggregates every round of a harness run.
type Summary struct {
	RunID       string
	Mode        Mode
	QoS         byte
	Clients     int
	PayloadSize int
	Total       int
	Runs        []Run
	Interrupted bool
	Started     time.Time
	Finished    time.Time
}

// Count returns the number of rounds in the given status.
func (s Summary) Count(st Status) int {
	n := 0
	for _, r := range s.Runs {
		if r.Status == st {
			n++
		}
	}
	return n
}

// Completed returns the number of rounds that completed.
func (s Summary) Completed() int {
	return s.Count(StatusCompleted)
}

// Latencies returns the elapsed times of completed rounds in round order.
func (s Summary) Latencies() []time.Duration {
	out := make([]time.Duration, 0, len(s.Runs))
	for _, r := range s.Runs {
		if r.Status == StatusCompleted {
			out = append(out, r.Elapsed())
		}
	}
	return out
}
