// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package topology decides which topics each benchmark client subscribes and
// publishes to, and what a client does when a message reaches it.
package topology

import (
	"fmt"
	"slices"

	"github.com/absmach/fluxbench/bench"
	"github.com/absmach/fluxbench/internal/payload"
)

// Assignment is the role and topic set of one client handle.
type Assignment struct {
	Index     int
	Role      bench.Role
	Subscribe []string
	Publish   string
}

// Subscribes reports whether topic is one of the assignment's subscriptions.
func (a Assignment) Subscribes(topic string) bool {
	return slices.Contains(a.Subscribe, topic)
}

// Relayer forwards a payload on behalf of the handle that received it.
// Implementations must not block.
type Relayer interface {
	Relay(topic string, payload []byte)
}

// Signaler receives completion events. *completion.Signal implements it.
type Signaler interface {
	Notify(round int) bool
	Increment(round, id int) bool
}

// Strategy is a delivery topology.
type Strategy interface {
	Mode() bench.Mode
	Topics() Topics
	// Assignments lists every handle in pool order.
	Assignments() []Assignment
	// Trigger returns the pool position of the handle that starts a round
	// and the topic it publishes to.
	Trigger() (pos int, topic string)
	// Target is the number of distinct completion events that end a round.
	Target() int
	// OnDelivery performs the handle's side effect for one delivery. It
	// returns an error wrapping bench.ErrUnexpectedDelivery for deliveries
	// the topology has no use for.
	OnDelivery(a Assignment, d bench.Delivery, relay Relayer, sig Signaler) error
}

// New builds the strategy for mode with n clients. For fan-out, n counts
// subscribers; the publisher is added on top.
func New(mode bench.Mode, n int, topics Topics) (Strategy, error) {
	switch mode {
	case bench.ModeRing:
		return NewRing(n, topics)
	case bench.ModeFanOut:
		return NewFanOut(n, topics)
	default:
		return nil, bench.ErrInvalidMode
	}
}

// roundOf reads the round tag of a delivery belonging to this run.
func roundOf(topics Topics, a Assignment, d bench.Delivery) (int, error) {
	runID, round, ok := payload.Parse(d.Payload)
	if !ok {
		return 0, unexpected(a, d, "malformed payload")
	}
	if runID != topics.RunID {
		return 0, unexpected(a, d, "payload from run "+runID)
	}
	return round, nil
}

func unexpected(a Assignment, d bench.Delivery, why string) error {
	return fmt.Errorf("%w: client%d (%s) topic %q: %s", bench.ErrUnexpectedDelivery, a.Index, a.Role, d.Topic, why)
}
