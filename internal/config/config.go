// Package config loads the control plane's process-wide settings once
// at startup from flags and environment variables. Nothing in this
// package is reloaded after init; a changed shared secret or DSN
// requires a restart.
package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"
)

// Log holds the logging sink settings.
type Log struct {
	Level string
	Path  string
	Days  uint
}

// Queue holds the submission-to-dispatch queue and retry tunables,
// defaulted to the spec's constants but overridable for tests. The
// attempt bound is len(RetryBaseDelays), not a separate field.
type Queue struct {
	Capacity        int
	BreakerFailures uint32
	BreakerTimeout  time.Duration
	RespTimeout     time.Duration
	OfflineAfter    time.Duration
	TelemetryWindow int
	RetryBaseDelays []time.Duration
	RetryJitterMax  time.Duration
}

// Chaos holds the fault-injection knobs (§4.8).
type Chaos struct {
	LatencyMinMs int
	LatencyMaxMs int
	DropRate     float64
}

// Config is the fully resolved, immutable process configuration.
type Config struct {
	Listen      string
	APIKey      string
	DatabaseDSN string
	Log         Log
	Queue       Queue
	Chaos       Chaos
	SlackHook   string
}

// Load parses flags and environment variables into a Config. Flags
// take the value of their matching environment variable as a default,
// so either source works; flags win when both are set explicitly.
func Load() *Config {
	cfg := &Config{
		Queue: Queue{
			Capacity:        50,
			BreakerFailures: 5,
			BreakerTimeout:  10 * time.Second,
			RespTimeout:     10 * time.Second,
			OfflineAfter:    30 * time.Second,
			TelemetryWindow: 50,
			RetryBaseDelays: []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 700 * time.Millisecond},
			RetryJitterMax:  50 * time.Millisecond,
		},
	}

	flag.StringVar(&cfg.Listen, "listen", envOr("CONTROLPLANE_LISTEN", ":8080"), "listen address")
	flag.StringVar(&cfg.APIKey, "api-key", envOr("CONTROLPLANE_API_KEY", ""), "required, shared secret for X-Api-Key")
	flag.StringVar(&cfg.DatabaseDSN, "database-dsn", envOr("CONTROLPLANE_DSN", ""), "required, postgres DSN")
	flag.StringVar(&cfg.Log.Level, "log-level", envOr("CONTROLPLANE_LOG_LEVEL", "info"), "log level")
	flag.StringVar(&cfg.Log.Path, "log-path", envOr("CONTROLPLANE_LOG_PATH", "./logs"), "log file directory")
	flag.StringVar(&cfg.SlackHook, "slack-webhook", envOr("CONTROLPLANE_SLACK_WEBHOOK", ""), "optional slack webhook for device-offline notices")

	logDays := envUint("CONTROLPLANE_LOG_DAYS", 7)
	flag.UintVar(&cfg.Log.Days, "log-days", logDays, "log retention in days")

	latMin, latMax := envChaosLatencyMs("CHAOS_LATENCY", 0, 0)
	dropRate := envFloat("CHAOS_DROP_RATE", 0)
	flag.IntVar(&cfg.Chaos.LatencyMinMs, "chaos-latency-min-ms", latMin, "minimum injected dispatch latency")
	flag.IntVar(&cfg.Chaos.LatencyMaxMs, "chaos-latency-max-ms", latMax, "maximum injected dispatch latency")
	flag.Float64Var(&cfg.Chaos.DropRate, "chaos-drop-rate", dropRate, "probability [0,1] of a simulated dispatch failure")

	flag.Parse()
	return cfg
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envUint(key string, fallback uint) uint {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return fallback
	}
	return uint(n)
}

func envFloat(key string, fallback float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return n
}

// envChaosLatencyMs parses the spec's documented CHAOS_LATENCY env var,
// "<min>-<max>" in seconds (e.g. "1.0-2.0"), into millisecond bounds.
func envChaosLatencyMs(key string, fallbackMin, fallbackMax int) (int, int) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallbackMin, fallbackMax
	}
	parts := strings.SplitN(v, "-", 2)
	if len(parts) != 2 {
		return fallbackMin, fallbackMax
	}
	minSec, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return fallbackMin, fallbackMax
	}
	maxSec, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return fallbackMin, fallbackMax
	}
	return int(minSec * 1000), int(maxSec * 1000)
}
