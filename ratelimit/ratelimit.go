// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Config holds connection pacing settings.
type Config struct {
	Enabled bool    `yaml:"enabled"`
	Rate    float64 `yaml:"rate"`  // connection attempts per second
	Burst   int     `yaml:"burst"` // attempts allowed back to back
}

// ConnectLimiter paces connection attempts so that starting hundreds of
// clients does not trip the broker's own connection-rate protection.
// A nil *ConnectLimiter never blocks.
type ConnectLimiter struct {
	limiter *rate.Limiter
}

// NewConnectLimiter creates a limiter. It returns nil when pacing is disabled.
func NewConnectLimiter(cfg Config) *ConnectLimiter {
	if !cfg.Enabled || cfg.Rate <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &ConnectLimiter{limiter: rate.NewLimiter(rate.Limit(cfg.Rate), burst)}
}

// Wait blocks until a connection attempt is allowed or ctx is done.
func (l *ConnectLimiter) Wait(ctx context.Context) error {
	if l == nil {
		return ctx.Err()
	}
	return l.limiter.Wait(ctx)
}

// Allow reports whether an attempt may proceed right now without waiting.
func (l *ConnectLimiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}
