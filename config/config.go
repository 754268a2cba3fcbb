// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/absmach/fluxbench/bench"
	"github.com/absmach/fluxbench/client"
	"github.com/absmach/fluxbench/ratelimit"
	"gopkg.in/yaml.v3"
)

// RecommendedMaxClients is the client count above which a run is likely to
// hit broker or OS connection limits.
const RecommendedMaxClients = 250

// Config holds all configuration for a benchmark run.
type Config struct {
	Broker    BrokerConfig    `yaml:"broker"`
	Bench     BenchConfig     `yaml:"bench"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Health    HealthConfig    `yaml:"health"`
	Output    OutputConfig    `yaml:"output"`
}

// BrokerConfig describes how clients reach the broker under test.
type BrokerConfig struct {
	Host              string           `yaml:"host"`
	Port              int              `yaml:"port"`
	Scheme            string           `yaml:"scheme"` // tcp, ssl, tls, ws, wss, mqtt, mqtts
	Username          string           `yaml:"username"`
	Password          string           `yaml:"password"`
	ProtocolVersion   byte             `yaml:"protocol_version"` // 3 or 4
	KeepAlive         time.Duration    `yaml:"keepalive"`
	ConnectTimeout    time.Duration    `yaml:"connect_timeout"`
	AckTimeout        time.Duration    `yaml:"ack_timeout"`
	DisconnectQuiesce time.Duration    `yaml:"disconnect_quiesce"`
	TLS               client.TLSConfig `yaml:"tls"`
}

// BenchConfig holds the measurement parameters.
type BenchConfig struct {
	Mode           string               `yaml:"mode"` // ring, fanout
	QoS            byte                 `yaml:"qos"`
	Clients        int                  `yaml:"clients"`
	Tests          int                  `yaml:"tests"`
	RoundTimeout   time.Duration        `yaml:"round_timeout"` // 0 waits forever
	StartupGrace   time.Duration        `yaml:"startup_grace"`
	RoundInterval  time.Duration        `yaml:"round_interval"`
	PayloadSize    int                  `yaml:"payload_size"`
	TopicPrefix    string               `yaml:"topic_prefix"`
	DeliveryBuffer int                  `yaml:"delivery_buffer"`
	ConnectRate    ratelimit.Config     `yaml:"connect_rate"`
	Breaker        CircuitBreakerConfig `yaml:"breaker"`
}

// CircuitBreakerConfig holds trigger circuit breaker configuration.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"` // 0 disables
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// TelemetryConfig holds OpenTelemetry export configuration.
type TelemetryConfig struct {
	Endpoint        string  `yaml:"endpoint"` // OTLP gRPC endpoint
	ServiceName     string  `yaml:"service_name"`
	ServiceVersion  string  `yaml:"service_version"`
	MetricsEnabled  bool    `yaml:"metrics_enabled"`
	TracesEnabled   bool    `yaml:"traces_enabled"`
	TraceSampleRate float64 `yaml:"trace_sample_rate"` // 0.0 to 1.0
}

// HealthConfig holds the health endpoint configuration.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// OutputConfig holds result file configuration.
type OutputConfig struct {
	JSONOut string `yaml:"json_out"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			Host:              "localhost",
			Port:              1883,
			Scheme:            "tcp",
			ProtocolVersion:   client.DefaultProtocolVersion,
			KeepAlive:         client.DefaultKeepAlive,
			ConnectTimeout:    client.DefaultConnectTimeout,
			AckTimeout:        client.DefaultAckTimeout,
			DisconnectQuiesce: client.DefaultDisconnectQuiesce,
		},
		Bench: BenchConfig{
			Mode:           bench.ModeRing.String(),
			QoS:            0,
			Clients:        10,
			Tests:          10,
			RoundTimeout:   30 * time.Second,
			PayloadSize:    0,
			TopicPrefix:    "fluxbench",
			DeliveryBuffer: 256,
			ConnectRate: ratelimit.Config{
				Enabled: false,
				Rate:    100,
				Burst:   10,
			},
			Breaker: CircuitBreakerConfig{
				FailureThreshold: 0,
				ResetTimeout:     10 * time.Second,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			Endpoint:        "localhost:4317",
			ServiceName:     "fluxbench",
			ServiceVersion:  "1.0.0",
			MetricsEnabled:  false,
			TracesEnabled:   false,
			TraceSampleRate: 1.0,
		},
		Health: HealthConfig{
			Enabled: false,
			Addr:    ":8081",
		},
	}
}

// Load loads configuration from a YAML file.
// If the file doesn't exist, returns default configuration.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Broker.Host == "" {
		return fmt.Errorf("broker.host cannot be empty")
	}
	if c.Broker.Port < 1 || c.Broker.Port > 65535 {
		return fmt.Errorf("broker.port must be between 1 and 65535")
	}
	validSchemes := map[string]bool{"tcp": true, "ssl": true, "tls": true, "ws": true, "wss": true, "mqtt": true, "mqtts": true}
	if !validSchemes[c.Broker.Scheme] {
		return fmt.Errorf("broker.scheme must be one of: tcp, ssl, tls, ws, wss, mqtt, mqtts")
	}
	if c.Broker.ProtocolVersion != 3 && c.Broker.ProtocolVersion != 4 {
		return fmt.Errorf("broker.protocol_version must be 3 or 4")
	}
	if c.Broker.KeepAlive < time.Second {
		return fmt.Errorf("broker.keepalive must be at least 1 second")
	}
	if c.Broker.ConnectTimeout < 0 || c.Broker.AckTimeout < 0 || c.Broker.DisconnectQuiesce < 0 {
		return fmt.Errorf("broker timeouts cannot be negative")
	}
	if (c.Broker.TLS.CertFile == "") != (c.Broker.TLS.KeyFile == "") {
		return fmt.Errorf("broker.tls.cert_file and broker.tls.key_file must be set together")
	}

	mode, err := bench.ParseMode(c.Bench.Mode)
	if err != nil {
		return fmt.Errorf("bench.mode: %w", err)
	}
	if !client.ValidQoS(c.Bench.QoS) {
		return fmt.Errorf("bench.qos must be 0, 1 or 2")
	}
	if c.Bench.Clients < mode.MinClients() {
		return fmt.Errorf("bench.clients must be at least %d for %s mode", mode.MinClients(), mode)
	}
	if c.Bench.Tests < 1 {
		return fmt.Errorf("bench.tests must be at least 1")
	}
	if c.Bench.RoundTimeout < 0 || c.Bench.StartupGrace < 0 || c.Bench.RoundInterval < 0 {
		return fmt.Errorf("bench durations cannot be negative")
	}
	if c.Bench.PayloadSize < 0 {
		return fmt.Errorf("bench.payload_size cannot be negative")
	}
	if c.Bench.DeliveryBuffer < 0 {
		return fmt.Errorf("bench.delivery_buffer cannot be negative")
	}
	if c.Bench.ConnectRate.Enabled && c.Bench.ConnectRate.Rate <= 0 {
		return fmt.Errorf("bench.connect_rate.rate must be positive when enabled")
	}
	if c.Bench.Breaker.FailureThreshold < 0 {
		return fmt.Errorf("bench.breaker.failure_threshold cannot be negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	if c.Telemetry.MetricsEnabled || c.Telemetry.TracesEnabled {
		if c.Telemetry.Endpoint == "" {
			return fmt.Errorf("telemetry.endpoint cannot be empty when telemetry is enabled")
		}
		if c.Telemetry.ServiceName == "" {
			return fmt.Errorf("telemetry.service_name cannot be empty when telemetry is enabled")
		}
	}
	if c.Telemetry.TraceSampleRate < 0.0 || c.Telemetry.TraceSampleRate > 1.0 {
		return fmt.Errorf("telemetry.trace_sample_rate must be between 0.0 and 1.0")
	}

	if c.Health.Enabled && c.Health.Addr == "" {
		return fmt.Errorf("health.addr required when health is enabled")
	}

	return nil
}

// Mode returns the parsed benchmark mode. It assumes Validate passed.
func (c *Config) Mode() bench.Mode {
	m, _ := bench.ParseMode(c.Bench.Mode)
	return m
}

// ClientOptions builds the client option template shared by every handle.
func (c *Config) ClientOptions() (*client.Options, error) {
	tlsCfg, err := client.LoadTLSConfig(c.Broker.TLS)
	if err != nil {
		return nil, fmt.Errorf("failed to load broker TLS config: %w", err)
	}

	opts := client.NewOptions().
		SetServers(client.BrokerURL(c.Broker.Scheme, c.Broker.Host, c.Broker.Port)).
		SetProtocolVersion(c.Broker.ProtocolVersion).
		SetKeepAlive(c.Broker.KeepAlive).
		SetConnectTimeout(c.Broker.ConnectTimeout).
		SetAckTimeout(c.Broker.AckTimeout).
		SetCleanSession(true).
		SetTLSConfig(tlsCfg)
	if c.Broker.Username != "" {
		opts.SetCredentials(c.Broker.Username, c.Broker.Password)
	}
	if c.Broker.DisconnectQuiesce > 0 {
		opts.DisconnectQuiesce = c.Broker.DisconnectQuiesce
	}
	return opts, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
