// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package bench

import "strings"

// Mode selects the delivery topology measured by a run.
type Mode uint8

const (
	// ModeRing relays one message through every client and back to the first.
	ModeRing Mode = iota
	// ModeFanOut broadcasts one message to every subscriber and counts arrivals.
	ModeFanOut
)

// ParseMode accepts "ring" and "fanout" (also "fan-out" and "spread").
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ring":
		return ModeRing, nil
	case "fanout", "fan-out", "spread":
		return ModeFanOut, nil
	default:
		return 0, ErrInvalidMode
	}
}

func (m Mode) String() string {
	switch m {
	case ModeRing:
		return "ring"
	case ModeFanOut:
		return "fanout"
	default:
		return "unknown"
	}
}

// MinClients returns the smallest client count the topology can run with.
func (m Mode) MinClients() int {
	if m == ModeRing {
		return 2
	}
	return 1
}

// Role is the part a client handle plays in a topology.
type Role uint8

const (
	RoleRelay Role = iota
	RoleTerminator
	RolePublisher
	RoleSubscriber
)

func (r Role) String() string {
	switch r {
	case RoleRelay:
		return "relay"
	case RoleTerminator:
		return "terminator"
	case RolePublisher:
		return "publisher"
	case RoleSubscriber:
		return "subscriber"
	default:
		return "unknown"
	}
}
