// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// subscribeFailure is the SUBACK return code for a rejected filter.
const subscribeFailure = 0x80

var _ Client = (*Paho)(nil)

// Paho is a Client backed by the Eclipse Paho MQTT client.
type Paho struct {
	opts  *Options
	cli   mqtt.Client
	state lifecycle
}

// NewPaho builds a Paho client. Automatic reconnect is disabled: a benchmark
// client that silently reconnects would corrupt the measurement.
func NewPaho(opts *Options) (Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	p := &Paho{opts: opts}

	mo := mqtt.NewClientOptions().
		SetClientID(opts.ClientID).
		SetCleanSession(opts.CleanSession).
		SetProtocolVersion(uint(opts.ProtocolVersion)).
		SetKeepAlive(opts.KeepAlive).
		SetConnectTimeout(opts.ConnectTimeout).
		SetWriteTimeout(opts.WriteTimeout).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectionLostHandler(p.connectionLost)
	for _, s := range opts.Servers {
		mo.AddBroker(s)
	}
	if opts.Username != "" {
		mo.SetUsername(opts.Username)
		mo.SetPassword(opts.Password)
	}
	if opts.TLSConfig != nil {
		mo.SetTLSConfig(opts.TLSConfig)
	}

	p.cli = mqtt.NewClient(mo)
	return p, nil
}

// ID returns the client identifier.
func (p *Paho) ID() string {
	return p.opts.ClientID
}

// Connect opens the session and waits for CONNACK. A client is connected at
// most once: a failed or abandoned attempt closes it.
func (p *Paho) Connect(ctx context.Context) error {
	if !p.state.advance(StateIdle, StateConnecting) {
		if p.state.get() == StateClosed {
			return ErrClientClosed
		}
		return ErrAlreadyConnected
	}

	if err := AwaitTimeout(ctx, p.cli.Connect(), p.opts.ConnectTimeout); err != nil {
		// Paho keeps dialing after we stop waiting. Abort the attempt so the
		// socket is released once the handshake resolves.
		if p.state.close().holdsTransport() {
			p.cli.Disconnect(0)
		}
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	if !p.state.advance(StateConnecting, StateConnected) {
		// Disconnect ran while CONNACK was in flight.
		p.cli.Disconnect(0)
		return ErrClientClosed
	}
	return nil
}

// Subscribe registers h for topic and waits for SUBACK.
func (p *Paho) Subscribe(ctx context.Context, topic string, qos byte, h Handler) error {
	if !ValidQoS(qos) {
		return ErrInvalidQoS
	}
	if !p.state.isConnected() {
		return ErrNotConnected
	}

	tok := p.cli.Subscribe(topic, qos, func(_ mqtt.Client, m mqtt.Message) {
		h(&Message{
			Topic:     m.Topic(),
			Payload:   m.Payload(),
			QoS:       m.Qos(),
			Duplicate: m.Duplicate(),
			Retained:  m.Retained(),
		})
	})
	if err := AwaitTimeout(ctx, tok, p.opts.AckTimeout); err != nil {
		return fmt.Errorf("%w %q: %w", ErrSubscribeFailed, topic, err)
	}
	if st, ok := tok.(*mqtt.SubscribeToken); ok {
		if code, found := st.Result()[topic]; found && code == subscribeFailure {
			return fmt.Errorf("%w: %q", ErrSubscribeRejected, topic)
		}
	}
	return nil
}

// Publish sends payload to topic without waiting for the acknowledgement.
func (p *Paho) Publish(topic string, qos byte, payload []byte) Token {
	if !ValidQoS(qos) {
		return NewDoneToken(ErrInvalidQoS)
	}
	if !p.state.isConnected() {
		return NewDoneToken(ErrNotConnected)
	}
	return p.cli.Publish(topic, qos, false, payload)
}

// Disconnect closes the client. It releases the transport whether the
// session is up or a connect is still in flight; later calls are no-ops.
func (p *Paho) Disconnect() {
	if p.state.close().holdsTransport() {
		p.cli.Disconnect(uint(p.opts.DisconnectQuiesce.Milliseconds()))
	}
}

// State returns the lifecycle state.
func (p *Paho) State() State {
	return p.state.get()
}

// IsConnected reports whether the session is up.
func (p *Paho) IsConnected() bool {
	return p.state.isConnected() && p.cli.IsConnected()
}

func (p *Paho) connectionLost(_ mqtt.Client, err error) {
	p.state.advance(StateConnected, StateLost)
	if p.opts.OnConnectionLost != nil {
		p.opts.OnConnectionLost(err)
	}
}
