// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Command fluxbench measures MQTT broker latency with many concurrent
// clients arranged in a ring or a fan-out.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/absmach/fluxbench/bench"
	"github.com/absmach/fluxbench/client"
	"github.com/absmach/fluxbench/completion"
	"github.com/absmach/fluxbench/config"
	"github.com/absmach/fluxbench/orchestrator"
	"github.com/absmach/fluxbench/pool"
	"github.com/absmach/fluxbench/ratelimit"
	"github.com/absmach/fluxbench/report"
	"github.com/absmach/fluxbench/server/health"
	"github.com/absmach/fluxbench/telemetry"
	"github.com/absmach/fluxbench/topology"
	"github.com/google/uuid"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

const usage = `Usage: fluxbench [flags] host port qos clientCount testCount

Positional arguments override the configuration file. They may be omitted
when -config names a file that sets them.

Flags:
`

var errUsage = errors.New("usage")

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr, client.NewPaho))
}

func run(parent context.Context, args []string, stdout, stderr io.Writer, factory client.Factory) int {
	cfg, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(stderr, "fluxbench: %v\n", err)
		}
		return exitUsage
	}

	logger := newLogger(cfg.Log, stderr)
	slog.SetDefault(logger)

	mode := cfg.Mode()
	if cfg.Bench.Clients > config.RecommendedMaxClients {
		logger.Warn("client count exceeds the recommended maximum; the broker or OS may refuse connections",
			"clients", cfg.Bench.Clients,
			"recommended_max", config.RecommendedMaxClients)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := newRunID()
	logger.Info("Starting benchmark",
		"run_id", runID,
		"mode", mode.String(),
		"broker", client.BrokerURL(cfg.Broker.Scheme, cfg.Broker.Host, cfg.Broker.Port),
		"qos", cfg.Bench.QoS,
		"clients", cfg.Bench.Clients,
		"tests", cfg.Bench.Tests,
		"round_timeout", cfg.Bench.RoundTimeout)

	shutdownTelemetry, err := telemetry.InitProvider(cfg.Telemetry, telemetry.RunInfo{
		ID:      runID,
		Mode:    mode.String(),
		QoS:     cfg.Bench.QoS,
		Clients: cfg.Bench.Clients,
		Tests:   cfg.Bench.Tests,
	})
	if err != nil {
		logger.Error("Failed to initialize telemetry", "error", err)
		return exitFailure
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("Telemetry shutdown error", "error", err)
		}
	}()

	metrics, err := telemetry.NewMetrics(nil)
	if err != nil {
		logger.Error("Failed to create metrics", "error", err)
		return exitFailure
	}

	opts, err := cfg.ClientOptions()
	if err != nil {
		logger.Error("Invalid broker options", "error", err)
		return exitFailure
	}

	strategy, err := topology.New(mode, cfg.Bench.Clients, topology.NewTopics(cfg.Bench.TopicPrefix, runID))
	if err != nil {
		logger.Error("Failed to build topology", "error", err)
		return exitFailure
	}
	sig := completion.New()

	p, err := pool.New(pool.Config{
		Options: opts,
		QoS:     cfg.Bench.QoS,
		Prefix:  cfg.Bench.TopicPrefix,
		Buffer:  cfg.Bench.DeliveryBuffer,
	}, strategy, sig, factory,
		pool.WithLogger(logger),
		pool.WithLimiter(ratelimit.NewConnectLimiter(cfg.Bench.ConnectRate)),
		pool.WithRecorder(metrics))
	if err != nil {
		logger.Error("Failed to create client pool", "error", err)
		return exitFailure
	}
	defer p.Stop()

	trigger, _ := p.Trigger()
	rep := report.New(stdout, mode)
	orch, err := orchestrator.New(orchestrator.Config{
		Tests:         cfg.Bench.Tests,
		QoS:           cfg.Bench.QoS,
		Clients:       cfg.Bench.Clients,
		RoundTimeout:  cfg.Bench.RoundTimeout,
		StartupGrace:  cfg.Bench.StartupGrace,
		RoundInterval: cfg.Bench.RoundInterval,
		PayloadSize:   cfg.Bench.PayloadSize,
		Breaker: orchestrator.BreakerConfig{
			FailureThreshold: cfg.Bench.Breaker.FailureThreshold,
			ResetTimeout:     cfg.Bench.Breaker.ResetTimeout,
		},
	}, strategy, sig, trigger,
		orchestrator.WithLogger(logger),
		orchestrator.WithReporter(rep),
		orchestrator.WithRecorder(metrics))
	if err != nil {
		logger.Error("Failed to create orchestrator", "error", err)
		return exitFailure
	}

	if cfg.Health.Enabled {
		srv := health.New(health.Config{Address: cfg.Health.Addr}, runID, p, orch, logger)
		if err := srv.Listen(); err != nil {
			logger.Error("Failed to start health server", "error", err)
			return exitFailure
		}
		healthCtx, cancelHealth := context.WithCancel(ctx)
		defer cancelHealth()
		go func() {
			if err := srv.Serve(healthCtx); err != nil {
				logger.Error("Health server error", "error", err)
			}
		}()
	}

	if err := p.Start(ctx); err != nil {
		if ctx.Err() != nil {
			rep.ReportExit()
			rep.ReportSummary(bench.Summary{
				RunID:       runID,
				Mode:        mode,
				QoS:         cfg.Bench.QoS,
				Clients:     cfg.Bench.Clients,
				PayloadSize: cfg.Bench.PayloadSize,
				Total:       cfg.Bench.Tests,
				Interrupted: true,
			})
			return exitOK
		}
		logger.Error("Failed to start clients", "error", err)
		return exitFailure
	}

	sum, err := orch.Run(ctx)
	p.Stop()
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("Benchmark failed", "error", err)
			return exitFailure
		}
		rep.ReportExit()
	}
	rep.ReportSummary(sum)

	if cfg.Output.JSONOut != "" {
		if err := report.WriteJSONLine(cfg.Output.JSONOut, sum); err != nil {
			logger.Error("Failed to write results", "error", err)
			return exitFailure
		}
	}

	st := p.Stats()
	logger.Info("Benchmark finished",
		"completed", sum.Completed(),
		"total", sum.Total,
		"deliveries", st.Received,
		"dropped", st.Dropped,
		"unexpected", st.Unexpected,
		"relay_errors", st.RelayErrors)
	return exitOK
}

// parseArgs builds the configuration from the config file, flags and
// positional arguments, in increasing precedence.
func parseArgs(args []string, stderr io.Writer) (*config.Config, error) {
	fs := flag.NewFlagSet("fluxbench", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}

	configFile := fs.String("config", "", "Path to configuration file")
	mode := fs.String("mode", "ring", "Topology: ring|fanout")
	timeout := fs.Duration("timeout", 30*time.Second, "Per-round completion timeout (0 waits forever)")
	grace := fs.Duration("grace", 0, "Delay after all clients subscribed before the first round")
	interval := fs.Duration("interval", 0, "Pause between rounds")
	payloadBytes := fs.Int("payload-bytes", 0, "Trigger payload size in bytes")
	topicPrefix := fs.String("topic-prefix", "fluxbench", "Prefix for topics and client IDs")
	jsonOut := fs.String("json-out", "", "Optional file to append one JSON line result")
	logLevel := fs.String("log-level", "info", "Log level: debug|info|warn|error")
	logFormat := fs.String("log-format", "text", "Log format: text|json")
	healthAddr := fs.String("health-addr", "", "Serve /health, /ready and /status on this address")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, errUsage
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.Bench.Mode = *mode
		case "timeout":
			cfg.Bench.RoundTimeout = *timeout
		case "grace":
			cfg.Bench.StartupGrace = *grace
		case "interval":
			cfg.Bench.RoundInterval = *interval
		case "payload-bytes":
			cfg.Bench.PayloadSize = *payloadBytes
		case "topic-prefix":
			cfg.Bench.TopicPrefix = *topicPrefix
		case "json-out":
			cfg.Output.JSONOut = *jsonOut
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-format":
			cfg.Log.Format = *logFormat
		case "health-addr":
			cfg.Health.Enabled = *healthAddr != ""
			cfg.Health.Addr = *healthAddr
		}
	})

	pos := fs.Args()
	switch {
	case len(pos) == 5:
		if err := applyPositional(cfg, pos); err != nil {
			fs.Usage()
			return nil, err
		}
	case len(pos) == 0 && *configFile != "":
	default:
		fs.Usage()
		return nil, errUsage
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyPositional(cfg *config.Config, pos []string) error {
	port, err := strconv.Atoi(pos[1])
	if err != nil {
		return fmt.Errorf("invalid port %q", pos[1])
	}
	qos, err := strconv.ParseUint(pos[2], 10, 8)
	if err != nil || !client.ValidQoS(byte(qos)) {
		return fmt.Errorf("invalid qos %q (must be 0, 1 or 2)", pos[2])
	}
	clients, err := strconv.Atoi(pos[3])
	if err != nil {
		return fmt.Errorf("invalid client count %q", pos[3])
	}
	tests, err := strconv.Atoi(pos[4])
	if err != nil {
		return fmt.Errorf("invalid test count %q", pos[4])
	}

	cfg.Broker.Host = pos[0]
	cfg.Broker.Port = port
	cfg.Bench.QoS = byte(qos)
	cfg.Bench.Clients = clients
	cfg.Bench.Tests = tests
	return nil
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	logLevel := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel})
	}
	return slog.New(handler)
}

// newRunID returns a short random identifier that namespaces topics and
// client IDs.
func newRunID() string {
	id, _, _ := strings.Cut(uuid.NewString(), "-")
	return id
}
