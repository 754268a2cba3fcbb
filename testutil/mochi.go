// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/require"
)

// Mochi is an embedded MQTT broker listening on a loopback port.
type Mochi struct {
	Server *mqtt.Server
	Host   string
	Port   int
}

// Addr returns host:port of the listener.
func (m *Mochi) Addr() string {
	return net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
}

// URL returns the tcp:// broker URL.
func (m *Mochi) URL() string {
	return "tcp://" + m.Addr()
}

// StartMochi starts an embedded broker that accepts every client and stops
// it when the test ends.
func StartMochi(t testing.TB) *Mochi {
	t.Helper()

	port := FreePort(t)
	srv := mqtt.New(&mqtt.Options{
		InlineClient: true,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, srv.AddHook(new(auth.AllowHook), nil))

	tcp := listeners.NewTCP(listeners.Config{
		ID:      fmt.Sprintf("t%d", port),
		Address: net.JoinHostPort("127.0.0.1", strconv.Itoa(port)),
	})
	require.NoError(t, srv.AddListener(tcp))

	go func() {
		_ = srv.Serve()
	}()
	t.Cleanup(func() {
		_ = srv.Close()
	})

	m := &Mochi{Server: srv, Host: "127.0.0.1", Port: port}
	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", m.Addr(), 100*time.Millisecond)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 5*time.Second, 20*time.Millisecond)

	return m
}

// FreePort returns a loopback TCP port that was free a moment ago.
func FreePort(t testing.TB) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
