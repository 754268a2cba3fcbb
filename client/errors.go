// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import "errors"

// Client errors.
var (
	// Configuration errors.
	ErrNoServers       = errors.New("no servers configured")
	ErrEmptyClientID   = errors.New("client ID cannot be empty")
	ErrInvalidProtocol = errors.New("invalid protocol version (must be 3 or 4)")
	ErrInvalidQoS      = errors.New("invalid QoS level (must be 0, 1, or 2)")

	// Connection errors.
	ErrNotConnected     = errors.New("client not connected")
	ErrAlreadyConnected = errors.New("client already connected")
	ErrConnectFailed    = errors.New("connection failed")
	ErrConnectTimeout   = errors.New("connection timeout")
	ErrClientClosed     = errors.New("client has been closed")

	// Operation errors.
	ErrTimeout           = errors.New("operation timed out")
	ErrSubscribeFailed   = errors.New("subscription failed")
	ErrSubscribeRejected = errors.New("subscription rejected by broker")
	ErrPublishFailed     = errors.New("publish failed")

	// TLS errors.
	errLoadCerts = errors.New("failed to load client certificate")
	errLoadCA    = errors.New("failed to load CA file")
	errAppendCA  = errors.New("failed to append CA certificates")
)
