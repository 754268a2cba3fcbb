// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"fmt"

	"github.com/absmach/fluxbench/bench"
)

var _ Strategy = (*FanOut)(nil)

// FanOut broadcasts the trigger from client0 to subscribers client1..N. A
// round completes when every subscriber has seen the broadcast once.
type FanOut struct {
	n       int
	topics  Topics
	assigns []Assignment
}

// NewFanOut builds a fan-out of n subscribers plus one publisher.
func NewFanOut(n int, topics Topics) (*FanOut, error) {
	if n < bench.ModeFanOut.MinClients() {
		return nil, fmt.Errorf("fan-out needs at least %d subscriber, got %d", bench.ModeFanOut.MinClients(), n)
	}

	assigns := make([]Assignment, 0, n+1)
	assigns = append(assigns, Assignment{
		Index:   0,
		Role:    bench.RolePublisher,
		Publish: topics.Broadcast(),
	})
	for i := 1; i <= n; i++ {
		assigns = append(assigns, Assignment{
			Index:     i,
			Role:      bench.RoleSubscriber,
			Subscribe: []string{topics.Broadcast()},
		})
	}

	return &FanOut{n: n, topics: topics, assigns: assigns}, nil
}

func (f *FanOut) Mode() bench.Mode          { return bench.ModeFanOut }
func (f *FanOut) Topics() Topics            { return f.topics }
func (f *FanOut) Assignments() []Assignment { return f.assigns }
func (f *FanOut) Target() int               { return f.n }

func (f *FanOut) Trigger() (int, string) {
	return 0, f.topics.Broadcast()
}

// OnDelivery counts a broadcast delivery against the subscriber's index.
func (f *FanOut) OnDelivery(a Assignment, d bench.Delivery, _ Relayer, sig Signaler) error {
	if a.Role != bench.RoleSubscriber {
		return unexpected(a, d, "publisher does not subscribe")
	}
	if !a.Subscribes(d.Topic) {
		return unexpected(a, d, "not subscribed")
	}
	round, err := roundOf(f.topics, a, d)
	if err != nil {
		return err
	}
	sig.Increment(round, a.Index)
	return nil
}
