// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides brokers for tests: an in-memory fake with fault
// injection and an embedded MQTT broker.
package testutil

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/absmach/fluxbench/client"
)

// FakeBroker routes publishes to exact-match subscribers in memory.
// Deliveries are made synchronously from Publish, after the broker lock is
// released.
type FakeBroker struct {
	mu           sync.RWMutex
	clients      map[string]*FakeClient
	subs         map[string][]*FakeClient
	published    map[string]int
	publishErr   map[string]error
	dropped      map[string]bool
	connectErr   func(clientID string) error
	subscribeErr func(clientID, topic string) error
	duplicates   int
}

// NewFakeBroker returns an empty broker.
func NewFakeBroker() *FakeBroker {
	return &FakeBroker{
		clients:    make(map[string]*FakeClient),
		subs:       make(map[string][]*FakeClient),
		published:  make(map[string]int),
		publishErr: make(map[string]error),
		dropped:    make(map[string]bool),
	}
}

// Factory returns a client.Factory creating clients attached to b.
func (b *FakeBroker) Factory() client.Factory {
	return func(opts *client.Options) (client.Client, error) {
		if err := opts.Validate(); err != nil {
			return nil, err
		}
		c := &FakeClient{
			broker:   b,
			id:       opts.ClientID,
			handlers: make(map[string]client.Handler),
		}
		b.mu.Lock()
		b.clients[c.id] = c
		b.mu.Unlock()
		return c, nil
	}
}

// SetDuplicates makes every delivery arrive 1+n times, repeats flagged as
// duplicates.
func (b *FakeBroker) SetDuplicates(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.duplicates = n
}

// Drop accepts publishes to topic without delivering them.
func (b *FakeBroker) Drop(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropped[topic] = true
}

// FailPublish makes publishes to topic fail with err.
func (b *FakeBroker) FailPublish(topic string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr[topic] = err
}

// FailConnect makes Connect return the error fn returns for a client ID.
func (b *FakeBroker) FailConnect(fn func(clientID string) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connectErr = fn
}

// FailSubscribe makes Subscribe return the error fn returns.
func (b *FakeBroker) FailSubscribe(fn func(clientID, topic string) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribeErr = fn
}

// Published returns the number of accepted publishes to topic.
func (b *FakeBroker) Published(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.published[topic]
}

// TotalPublished returns the number of accepted publishes to any topic.
func (b *FakeBroker) TotalPublished() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, c := range b.published {
		n += c
	}
	return n
}

// Client returns the client created with id, or nil.
func (b *FakeBroker) Client(id string) *FakeClient {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.clients[id]
}

// Clients returns every client created by the factory.
func (b *FakeBroker) Clients() []*FakeClient {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*FakeClient, 0, len(b.clients))
	for _, c := range b.clients {
		out = append(out, c)
	}
	return out
}

func (b *FakeBroker) publish(topic string, qos byte, payload []byte) error {
	b.mu.Lock()
	if err := b.publishErr[topic]; err != nil {
		b.mu.Unlock()
		return err
	}
	b.published[topic]++
	if b.dropped[topic] {
		b.mu.Unlock()
		return nil
	}
	subs := append([]*FakeClient(nil), b.subs[topic]...)
	dups := b.duplicates
	b.mu.Unlock()

	for _, s := range subs {
		for i := 0; i <= dups; i++ {
			s.deliver(&client.Message{
				Topic:     topic,
				Payload:   append([]byte(nil), payload...),
				QoS:       qos,
				Duplicate: i > 0,
			})
		}
	}
	return nil
}

func (b *FakeBroker) subscribe(c *FakeClient, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeErr != nil {
		if err := b.subscribeErr(c.id, topic); err != nil {
			return err
		}
	}
	b.subs[topic] = append(b.subs[topic], c)
	return nil
}

func (b *FakeBroker) unsubscribeAll(c *FakeClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, subs := range b.subs {
		kept := subs[:0]
		for _, s := range subs {
			if s != c {
				kept = append(kept, s)
			}
		}
		b.subs[topic] = kept
	}
}

var _ client.Client = (*FakeClient)(nil)

// FakeClient is a client.Client attached to a FakeBroker.
type FakeClient struct {
	broker      *FakeBroker
	id          string
	mu          sync.Mutex
	handlers    map[string]client.Handler
	connected   atomic.Bool
	connects    atomic.Int32
	disconnects atomic.Int32
}

func (c *FakeClient) ID() string { return c.id }

func (c *FakeClient) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.broker.mu.RLock()
	fail := c.broker.connectErr
	c.broker.mu.RUnlock()
	if fail != nil {
		if err := fail(c.id); err != nil {
			return err
		}
	}
	if !c.connected.CompareAndSwap(false, true) {
		return client.ErrAlreadyConnected
	}
	c.connects.Add(1)
	return nil
}

func (c *FakeClient) Subscribe(ctx context.Context, topic string, _ byte, h client.Handler) error {
	if !c.connected.Load() {
		return client.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.handlers[topic] = h
	c.mu.Unlock()
	return c.broker.subscribe(c, topic)
}

func (c *FakeClient) Publish(topic string, qos byte, payload []byte) client.Token {
	if !client.ValidQoS(qos) {
		return client.NewDoneToken(client.ErrInvalidQoS)
	}
	if !c.connected.Load() {
		return client.NewDoneToken(client.ErrNotConnected)
	}
	return client.NewDoneToken(c.broker.publish(topic, qos, payload))
}

func (c *FakeClient) Disconnect() {
	if c.connected.CompareAndSwap(true, false) {
		c.broker.unsubscribeAll(c)
	}
	c.disconnects.Add(1)
}

func (c *FakeClient) IsConnected() bool {
	return c.connected.Load()
}

// Connects returns how many times Connect succeeded.
func (c *FakeClient) Connects() int {
	return int(c.connects.Load())
}

// Disconnects returns how many times Disconnect was called.
func (c *FakeClient) Disconnects() int {
	return int(c.disconnects.Load())
}

func (c *FakeClient) deliver(msg *client.Message) {
	if !c.connected.Load() {
		return
	}
	c.mu.Lock()
	h := c.handlers[msg.Topic]
	c.mu.Unlock()
	if h != nil {
		h(msg)
	}
}
