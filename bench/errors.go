// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package bench

import (
	"errors"
	"fmt"
)

// Harness errors.
var (
	// Startup errors. Fatal: a benchmark with a missing client measures nothing.
	ErrConnectionFailure = errors.New("connection failure")

	// Per-round errors. The round is reported and the run moves on.
	ErrPublishFailure    = errors.New("publish failure")
	ErrCompletionTimeout = errors.New("completion timeout")

	// Delivery errors. Logged and ignored.
	ErrUnexpectedDelivery = errors.New("unexpected delivery")

	ErrInvalidMode = errors.New("invalid mode (must be ring or fanout)")
)

// RoundError attaches the round, topic and client context to a harness error.
type RoundError struct {
	Round    int
	Topic    string
	ClientID string
	Err      error
}

func (e *RoundError) Error() string {
	msg := fmt.Sprintf("round %d", e.Round)
	if e.ClientID != "" {
		msg += " client " + e.ClientID
	}
	if e.Topic != "" {
		msg += fmt.Sprintf(" topic %q", e.Topic)
	}
	return msg + ": " + e.Err.Error()
}

func (e *RoundError) Unwrap() error {
	return e.Err
}
