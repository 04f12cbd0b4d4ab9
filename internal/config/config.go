package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/efreitasn/marketsim/internal/domain"
)

// Config holds all runtime configuration for a simulation run.
type Config struct {
	Port     int
	LogLevel string

	Seed            uint64
	Rounds          int
	Agents          int
	DecisionWorkers int
	Verify          bool

	// Instruments maps each instrument to its opening reference price in
	// cents.
	Instruments        map[string]int64
	InitialCash        int64 // cents per agent
	InitialShares      int64 // per agent and instrument
	LendableShares     int64 // per instrument
	LendableCash       int64 // cents, 0 disables leverage
	AllowPartialBorrow bool
	OrderTTLRounds     int

	StartTime     time.Time
	RoundDuration time.Duration

	JournalDir   string
	JournalSync  bool
	KafkaBrokers []string
	KafkaTopic   string

	Serve           bool
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// InstrumentNames returns the configured instruments in sorted order.
func (c *Config) InstrumentNames() []string {
	names := make([]string, 0, len(c.Instruments))
	for name := range c.Instruments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load reads configuration from environment variables, applies defaults,
// and validates values. It returns an error for any invalid value.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	if cfg.Port, err = getInt("PORT", 8080); err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	cfg.LogLevel = getStr("LOG_LEVEL", "info")
	if !isValidLogLevel(cfg.LogLevel) {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", cfg.LogLevel)
	}

	if cfg.Seed, err = getUint64("SEED", 42); err != nil {
		return nil, fmt.Errorf("invalid SEED: %w", err)
	}
	if cfg.Rounds, err = getPositive("ROUNDS", 100); err != nil {
		return nil, err
	}
	if cfg.Agents, err = getPositive("AGENTS", 12); err != nil {
		return nil, err
	}
	if cfg.DecisionWorkers, err = getPositive("DECISION_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.Verify, err = getBool("VERIFY", false); err != nil {
		return nil, fmt.Errorf("invalid VERIFY: %w", err)
	}

	initialPrice, err := getCents("INITIAL_PRICE", "50.00")
	if err != nil {
		return nil, fmt.Errorf("invalid INITIAL_PRICE: %w", err)
	}
	if initialPrice <= 0 {
		return nil, fmt.Errorf("invalid INITIAL_PRICE: must be positive")
	}
	if cfg.Instruments, err = parseInstruments(getStr("INSTRUMENTS", "ACME"), initialPrice); err != nil {
		return nil, fmt.Errorf("invalid INSTRUMENTS: %w", err)
	}

	if cfg.InitialCash, err = getCents("INITIAL_CASH", "100000.00"); err != nil {
		return nil, fmt.Errorf("invalid INITIAL_CASH: %w", err)
	}
	if cfg.LendableCash, err = getCents("LENDABLE_CASH", "0"); err != nil {
		return nil, fmt.Errorf("invalid LENDABLE_CASH: %w", err)
	}
	if cfg.InitialShares, err = getInt64("INITIAL_SHARES", 1000); err != nil {
		return nil, fmt.Errorf("invalid INITIAL_SHARES: %w", err)
	}
	if cfg.LendableShares, err = getInt64("LENDABLE_SHARES", 500); err != nil {
		return nil, fmt.Errorf("invalid LENDABLE_SHARES: %w", err)
	}
	for name, v := range map[string]int64{
		"INITIAL_CASH":    cfg.InitialCash,
		"LENDABLE_CASH":   cfg.LendableCash,
		"INITIAL_SHARES":  cfg.InitialShares,
		"LENDABLE_SHARES": cfg.LendableShares,
	} {
		if v < 0 {
			return nil, fmt.Errorf("invalid %s: must not be negative", name)
		}
	}
	if cfg.AllowPartialBorrow, err = getBool("ALLOW_PARTIAL_BORROW", false); err != nil {
		return nil, fmt.Errorf("invalid ALLOW_PARTIAL_BORROW: %w", err)
	}
	if cfg.OrderTTLRounds, err = getInt("ORDER_TTL_ROUNDS", 0); err != nil {
		return nil, fmt.Errorf("invalid ORDER_TTL_ROUNDS: %w", err)
	}
	if cfg.OrderTTLRounds < 0 {
		return nil, fmt.Errorf("invalid ORDER_TTL_ROUNDS: must not be negative")
	}

	if cfg.StartTime, err = getTime("START_TIME", time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)); err != nil {
		return nil, fmt.Errorf("invalid START_TIME: %w", err)
	}
	if cfg.RoundDuration, err = getDuration("ROUND_DURATION", time.Minute); err != nil {
		return nil, fmt.Errorf("invalid ROUND_DURATION: %w", err)
	}

	cfg.JournalDir = getStr("JOURNAL_DIR", "")
	if cfg.JournalSync, err = getBool("JOURNAL_SYNC", false); err != nil {
		return nil, fmt.Errorf("invalid JOURNAL_SYNC: %w", err)
	}
	cfg.KafkaBrokers = splitList(getStr("KAFKA_BROKERS", ""))
	cfg.KafkaTopic = getStr("KAFKA_TOPIC", "marketsim.trades")

	if cfg.Serve, err = getBool("SERVE", false); err != nil {
		return nil, fmt.Errorf("invalid SERVE: %w", err)
	}
	if cfg.ReadTimeout, err = getDuration("READ_TIMEOUT", 5*time.Second); err != nil {
		return nil, fmt.Errorf("invalid READ_TIMEOUT: %w", err)
	}
	if cfg.WriteTimeout, err = getDuration("WRITE_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("invalid WRITE_TIMEOUT: %w", err)
	}
	if cfg.IdleTimeout, err = getDuration("IDLE_TIMEOUT", 60*time.Second); err != nil {
		return nil, fmt.Errorf("invalid IDLE_TIMEOUT: %w", err)
	}
	if cfg.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// parseInstruments reads "ACME,BOLT:12.50". An instrument without a price
// opens at def.
func parseInstruments(s string, def int64) (map[string]int64, error) {
	out := make(map[string]int64)
	for _, item := range splitList(s) {
		name, price, hasPrice := strings.Cut(item, ":")
		p := def
		if hasPrice {
			var err error
			if p, err = domain.ParseCents(price); err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			if p <= 0 {
				return nil, fmt.Errorf("%s: price must be positive", name)
			}
		}
		if name == "" {
			return nil, fmt.Errorf("empty instrument name in %q", s)
		}
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("duplicate instrument %s", name)
		}
		out[name] = p
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one instrument is required")
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getPositive(key string, defaultVal int) (int, error) {
	n, err := getInt(key, defaultVal)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("invalid %s: must be at least 1", key)
	}
	return n, nil
}

func getInt64(key string, defaultVal int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

func getUint64(key string, defaultVal uint64) (uint64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.ParseUint(v, 10, 64)
}

func getBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.ParseBool(v)
}

func getCents(key, defaultVal string) (int64, error) {
	return domain.ParseCents(getStr(key, defaultVal))
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}

func getTime(key string, defaultVal time.Time) (time.Time, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.Parse(time.RFC3339, v)
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
