package config

import (
	"os"
	"testing"
	"time"
)

var allEnvKeys = []string{
	"PORT", "LOG_LEVEL", "SEED", "ROUNDS", "AGENTS", "DECISION_WORKERS", "VERIFY",
	"INSTRUMENTS", "INITIAL_PRICE", "INITIAL_CASH", "INITIAL_SHARES",
	"LENDABLE_SHARES", "LENDABLE_CASH", "ALLOW_PARTIAL_BORROW", "ORDER_TTL_ROUNDS",
	"START_TIME", "ROUND_DURATION", "JOURNAL_DIR", "JOURNAL_SYNC",
	"KAFKA_BROKERS", "KAFKA_TOPIC", "SERVE",
	"READ_TIMEOUT", "WRITE_TIMEOUT", "IDLE_TIMEOUT", "SHUTDOWN_TIMEOUT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allEnvKeys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.Seed != 42 || cfg.Rounds != 100 || cfg.Agents != 12 || cfg.DecisionWorkers != 4 {
		t.Errorf("seed/rounds/agents/workers = %d/%d/%d/%d", cfg.Seed, cfg.Rounds, cfg.Agents, cfg.DecisionWorkers)
	}
	if len(cfg.Instruments) != 1 || cfg.Instruments["ACME"] != 5000 {
		t.Errorf("Instruments = %v, want ACME at 5000", cfg.Instruments)
	}
	if cfg.InitialCash != 10_000_000 {
		t.Errorf("InitialCash = %d, want 10000000", cfg.InitialCash)
	}
	if cfg.InitialShares != 1000 || cfg.LendableShares != 500 || cfg.LendableCash != 0 {
		t.Errorf("shares/lendable/cash = %d/%d/%d", cfg.InitialShares, cfg.LendableShares, cfg.LendableCash)
	}
	if cfg.AllowPartialBorrow || cfg.Serve || cfg.Verify || cfg.JournalSync {
		t.Error("boolean flags must default to false")
	}
	if cfg.RoundDuration != time.Minute {
		t.Errorf("RoundDuration = %v, want 1m", cfg.RoundDuration)
	}
	if !cfg.StartTime.Equal(time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)) {
		t.Errorf("StartTime = %v", cfg.StartTime)
	}
	if cfg.JournalDir != "" || len(cfg.KafkaBrokers) != 0 || cfg.KafkaTopic != "marketsim.trades" {
		t.Errorf("journal/brokers/topic = %q/%v/%q", cfg.JournalDir, cfg.KafkaBrokers, cfg.KafkaTopic)
	}
	if cfg.ReadTimeout != 5*time.Second {
		t.Errorf("ReadTimeout = %v, want 5s", cfg.ReadTimeout)
	}
	if cfg.WriteTimeout != 10*time.Second {
		t.Errorf("WriteTimeout = %v, want 10s", cfg.WriteTimeout)
	}
	if cfg.IdleTimeout != 60*time.Second {
		t.Errorf("IdleTimeout = %v, want 60s", cfg.IdleTimeout)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 10s", cfg.ShutdownTimeout)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SEED", "7")
	t.Setenv("INSTRUMENTS", "BOLT:12.50, ACME")
	t.Setenv("INITIAL_PRICE", "40")
	t.Setenv("LENDABLE_CASH", "2500.75")
	t.Setenv("ALLOW_PARTIAL_BORROW", "true")
	t.Setenv("START_TIME", "2025-06-01T14:00:00Z")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("SERVE", "1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 9090 || cfg.LogLevel != "debug" || cfg.Seed != 7 {
		t.Errorf("port/level/seed = %d/%q/%d", cfg.Port, cfg.LogLevel, cfg.Seed)
	}
	if cfg.Instruments["BOLT"] != 1250 || cfg.Instruments["ACME"] != 4000 {
		t.Errorf("Instruments = %v", cfg.Instruments)
	}
	if names := cfg.InstrumentNames(); len(names) != 2 || names[0] != "ACME" {
		t.Errorf("InstrumentNames = %v", names)
	}
	if cfg.LendableCash != 250_075 {
		t.Errorf("LendableCash = %d, want 250075", cfg.LendableCash)
	}
	if !cfg.AllowPartialBorrow || !cfg.Serve {
		t.Error("expected flags to be set")
	}
	if cfg.StartTime.Hour() != 14 {
		t.Errorf("StartTime = %v", cfg.StartTime)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"PORT", "not-a-number"},
		{"LOG_LEVEL", "verbose"},
		{"SEED", "-1"},
		{"ROUNDS", "0"},
		{"AGENTS", "x"},
		{"DECISION_WORKERS", "0"},
		{"VERIFY", "maybe"},
		{"INSTRUMENTS", ","},
		{"INSTRUMENTS", "ACME,ACME"},
		{"INSTRUMENTS", "ACME:0"},
		{"INSTRUMENTS", "ACME:1.005"},
		{"INITIAL_PRICE", "0"},
		{"INITIAL_CASH", "12.345"},
		{"INITIAL_CASH", "-5"},
		{"INITIAL_SHARES", "-1"},
		{"LENDABLE_SHARES", "lots"},
		{"ORDER_TTL_ROUNDS", "-2"},
		{"START_TIME", "yesterday"},
		{"ROUND_DURATION", "1x"},
		{"SERVE", "yes please"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	keys := []string{
		"ROUND_DURATION", "READ_TIMEOUT", "WRITE_TIMEOUT", "IDLE_TIMEOUT", "SHUTDOWN_TIMEOUT",
	}

	for _, key := range keys {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, "not-a-duration")

			_, err := Load()
			if err == nil {
				t.Fatalf("expected error for invalid %s", key)
			}
		})
	}
}
