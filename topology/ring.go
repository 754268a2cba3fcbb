// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"fmt"
	"sync/atomic"

	"github.com/absmach/fluxbench/bench"
)

var _ Strategy = (*Ring)(nil)

// Ring relays the trigger through clients 1..N and back to client 1:
//
//	client1 -> topic1 -> client2 -> topic2 -> ... -> clientN -> end -> client1
//
// One round costs exactly N publishes.
type Ring struct {
	n       int
	topics  Topics
	assigns []Assignment
	// relayed[i] is the last round forwarded by the handle at position i.
	relayed []atomic.Int64
}

// NewRing builds a ring of n clients.
func NewRing(n int, topics Topics) (*Ring, error) {
	if n < bench.ModeRing.MinClients() {
		return nil, fmt.Errorf("ring needs at least %d clients, got %d", bench.ModeRing.MinClients(), n)
	}

	assigns := make([]Assignment, n)
	for i := 1; i <= n; i++ {
		a := Assignment{Index: i, Role: bench.RoleRelay}
		switch i {
		case 1:
			a.Role = bench.RoleTerminator
			a.Subscribe = []string{topics.Sentinel()}
			a.Publish = topics.Relay(1)
		case n:
			a.Subscribe = []string{topics.Relay(i - 1)}
			a.Publish = topics.Sentinel()
		default:
			a.Subscribe = []string{topics.Relay(i - 1)}
			a.Publish = topics.Relay(i)
		}
		assigns[i-1] = a
	}

	return &Ring{
		n:       n,
		topics:  topics,
		assigns: assigns,
		relayed: make([]atomic.Int64, n),
	}, nil
}

func (r *Ring) Mode() bench.Mode          { return bench.ModeRing }
func (r *Ring) Topics() Topics            { return r.topics }
func (r *Ring) Assignments() []Assignment { return r.assigns }
func (r *Ring) Target() int               { return 1 }

func (r *Ring) Trigger() (int, string) {
	return 0, r.assigns[0].Publish
}

// OnDelivery forwards relay deliveries verbatim and turns the sentinel
// delivery at the terminator into completion. A relay forwards each round at
// most once so that QoS 1 redeliveries cannot fork the chain.
func (r *Ring) OnDelivery(a Assignment, d bench.Delivery, relay Relayer, sig Signaler) error {
	if !a.Subscribes(d.Topic) {
		return unexpected(a, d, "not subscribed")
	}
	round, err := roundOf(r.topics, a, d)
	if err != nil {
		return err
	}

	switch a.Role {
	case bench.RoleTerminator:
		sig.Notify(round)
		return nil
	case bench.RoleRelay:
		if r.markRelayed(a.Index-1, round) {
			relay.Relay(a.Publish, d.Payload)
		}
		return nil
	default:
		return unexpected(a, d, "role does not consume deliveries")
	}
}

func (r *Ring) markRelayed(pos, round int) bool {
	if pos < 0 || pos >= len(r.relayed) {
		return false
	}
	for {
		last := r.relayed[pos].Load()
		if int64(round) <= last {
			return false
		}
		if r.relayed[pos].CompareAndSwap(last, int64(round)) {
			return true
		}
	}
}
