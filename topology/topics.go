// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topology

import "fmt"

// Topics names every topic used by one harness run. Topics are namespaced by
// run ID so that concurrent runs against one broker never see each other.
type Topics struct {
	Prefix string
	RunID  string
}

// NewTopics returns the topic namer for a run.
func NewTopics(prefix, runID string) Topics {
	return Topics{Prefix: prefix, RunID: runID}
}

func (t Topics) base() string {
	if t.Prefix == "" {
		return t.RunID
	}
	return t.Prefix + "/" + t.RunID
}

// Relay is the ring topic published by handle i and consumed by handle i+1.
func (t Topics) Relay(i int) string {
	return fmt.Sprintf("%s/topic%d", t.base(), i)
}

// Sentinel is the ring topic that closes the loop back to the first handle.
func (t Topics) Sentinel() string {
	return t.base() + "/end"
}

// Broadcast is the fan-out topic.
func (t Topics) Broadcast() string {
	return t.base() + "/fire"
}
