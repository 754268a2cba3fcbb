// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package client defines the broker capability the harness drives and its
// Paho-backed implementation.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Message is one delivery received on a subscription.
type Message struct {
	Topic     string
	Payload   []byte
	QoS       byte
	Duplicate bool
	Retained  bool
}

// Handler receives deliveries. It is invoked on the transport's dispatch
// goroutine and must not block.
type Handler func(msg *Message)

// Token tracks an asynchronous operation. Paho tokens satisfy it.
type Token interface {
	Done() <-chan struct{}
	Error() error
}

// Client is the capability every benchmark handle owns exclusively.
type Client interface {
	ID() string
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, topic string, qos byte, h Handler) error
	Publish(topic string, qos byte, payload []byte) Token
	Disconnect()
	IsConnected() bool
}

// Factory creates a client from options. Connect is called separately.
type Factory func(opts *Options) (Client, error)

// Await blocks until tok completes or ctx is done.
func Await(ctx context.Context, tok Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AwaitTimeout is Await bounded by d. A zero d waits on ctx alone. Expiry of
// ctx is reported as ctx's error, expiry of d as ErrTimeout.
func AwaitTimeout(ctx context.Context, tok Token, d time.Duration) error {
	if d <= 0 {
		return Await(ctx, tok)
	}
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	err := Await(tctx, tok)
	if err != nil && ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %v", ErrTimeout, d)
	}
	return err
}

type doneToken struct {
	done chan struct{}
	err  error
}

// NewDoneToken returns an already completed token carrying err.
func NewDoneToken(err error) Token {
	ch := make(chan struct{})
	close(ch)
	return &doneToken{done: ch, err: err}
}

func (t *doneToken) Done() <-chan struct{} { return t.done }
func (t *doneToken) Error() error          { return t.err }
