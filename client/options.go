// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Default values.
const (
	DefaultKeepAlive         = 60 * time.Second
	DefaultConnectTimeout    = 10 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultAckTimeout        = 10 * time.Second
	DefaultDisconnectQuiesce = 250 * time.Millisecond
	DefaultProtocolVersion   = 4
)

// Options configures a broker client.
type Options struct {
	// Connection
	Servers        []string      // Broker URLs (tcp://host:port, ssl://host:port, ws://host:port)
	ClientID       string        // Client identifier
	Username       string        // Optional username
	Password       string        // Optional password
	TLSConfig      *tls.Config   // TLS configuration (nil for plain TCP)
	ConnectTimeout time.Duration // Timeout for connection attempts
	WriteTimeout   time.Duration // Timeout for write operations
	KeepAlive      time.Duration // Keep-alive interval

	// Session
	CleanSession    bool
	ProtocolVersion byte // 3 for MQTT 3.1, 4 for MQTT 3.1.1

	// QoS
	AckTimeout time.Duration // Timeout waiting for CONNACK/SUBACK

	// Teardown
	DisconnectQuiesce time.Duration // Time allowed for in-flight work on disconnect

	// Callbacks
	OnConnectionLost func(error)
}

// NewOptions creates Options with sensible defaults.
func NewOptions() *Options {
	return &Options{
		Servers:           []string{"tcp://localhost:1883"},
		ProtocolVersion:   DefaultProtocolVersion,
		CleanSession:      true,
		KeepAlive:         DefaultKeepAlive,
		ConnectTimeout:    DefaultConnectTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		AckTimeout:        DefaultAckTimeout,
		DisconnectQuiesce: DefaultDisconnectQuiesce,
	}
}

// SetServers sets the broker URLs.
func (o *Options) SetServers(servers ...string) *Options {
	o.Servers = servers
	return o
}

// SetClientID sets the client identifier.
func (o *Options) SetClientID(id string) *Options {
	o.ClientID = id
	return o
}

// SetCredentials sets username and password.
func (o *Options) SetCredentials(username, password string) *Options {
	o.Username = username
	o.Password = password
	return o
}

// SetTLSConfig sets TLS configuration.
func (o *Options) SetTLSConfig(cfg *tls.Config) *Options {
	o.TLSConfig = cfg
	return o
}

// SetCleanSession sets the clean session flag.
func (o *Options) SetCleanSession(clean bool) *Options {
	o.CleanSession = clean
	return o
}

// SetKeepAlive sets the keep-alive interval.
func (o *Options) SetKeepAlive(d time.Duration) *Options {
	o.KeepAlive = d
	return o
}

// SetConnectTimeout sets the connection timeout.
func (o *Options) SetConnectTimeout(d time.Duration) *Options {
	o.ConnectTimeout = d
	return o
}

// SetAckTimeout sets the acknowledgment timeout.
func (o *Options) SetAckTimeout(d time.Duration) *Options {
	o.AckTimeout = d
	return o
}

// SetProtocolVersion sets MQTT protocol version (3 or 4).
func (o *Options) SetProtocolVersion(v byte) *Options {
	o.ProtocolVersion = v
	return o
}

// SetOnConnectionLost sets the connection lost callback.
func (o *Options) SetOnConnectionLost(fn func(error)) *Options {
	o.OnConnectionLost = fn
	return o
}

// Validate checks the options for errors.
func (o *Options) Validate() error {
	if len(o.Servers) == 0 {
		return ErrNoServers
	}
	if o.ClientID == "" {
		return ErrEmptyClientID
	}
	if o.ProtocolVersion != 3 && o.ProtocolVersion != 4 {
		return ErrInvalidProtocol
	}
	if o.AckTimeout <= 0 {
		o.AckTimeout = DefaultAckTimeout
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	return nil
}

// Clone returns a shallow copy so per-client fields can be set independently.
func (o *Options) Clone() *Options {
	c := *o
	c.Servers = append([]string(nil), o.Servers...)
	return &c
}

// BrokerURL joins scheme, host and port into a broker URL.
func BrokerURL(scheme, host string, port int) string {
	if scheme == "" {
		scheme = "tcp"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(host, strconv.Itoa(port)))
}

// ValidQoS reports whether q is an MQTT QoS level.
func ValidQoS(q byte) bool {
	return q <= 2
}
