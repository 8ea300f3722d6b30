package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultInterval        = 60 * time.Second
	defaultMaxRequests     = 60
	defaultMinSpacing      = time.Second
	defaultEnergyThreshold = 90
	defaultNerveThreshold  = 30
)

// WatchSpec is one parsed market watch entry: ITEM_ID:BUY:SELL.
type WatchSpec struct {
	ItemID int64
	Buy    float64
	Sell   float64
}

type Config struct {
	APIKey            string
	UserID            string
	DBPath            string
	LogDir            string
	LogLevel          string
	MaxRequestsPerMin int
	MinSpacing        time.Duration
	Interval          time.Duration
	EnergyThreshold   int
	NerveThreshold    int
	DryRun            bool
	SimulateMoney     bool
	RedisAddr         string
	MetricsAddr       string
	MarketWatch       []WatchSpec
}

// LoadConfig resolves configuration from .env, the environment, and flags,
// in increasing precedence.
func LoadConfig(args []string) (Config, error) {
	// Missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, fmt.Errorf("failed to get cwd: %w", err)
	}

	dbPath := envOrDefault("TORN_DB_PATH", filepath.Join(cwd, "torn.db"))
	logDir := os.Getenv("TORN_LOG_DIR")
	logLevel := envOrDefault("TORN_LOG_LEVEL", "info")

	maxRequests, err := intFromEnv("TORN_MAX_REQUESTS_PER_MIN", defaultMaxRequests)
	if err != nil {
		return Config{}, err
	}
	minSpacing, err := durationFromEnv("TORN_SAFE_SPACING", defaultMinSpacing)
	if err != nil {
		return Config{}, err
	}
	interval, err := durationFromEnv("TORN_INTERVAL", defaultInterval)
	if err != nil {
		return Config{}, err
	}
	energyThreshold, err := intFromEnv("TORN_ENERGY_THRESHOLD", defaultEnergyThreshold)
	if err != nil {
		return Config{}, err
	}
	nerveThreshold, err := intFromEnv("TORN_NERVE_THRESHOLD", defaultNerveThreshold)
	if err != nil {
		return Config{}, err
	}

	flagSet := flag.NewFlagSet("torntrainer", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagDB := flagSet.String("db", dbPath, "path to SQLite database")
	flagLogDir := flagSet.String("log-dir", logDir, "log directory (empty disables the file sink)")
	flagLogLevel := flagSet.String("log-level", logLevel, "log level: debug|info|warn|error")
	flagMaxReq := flagSet.Int("max-requests", maxRequests, "API request budget per minute")
	flagSpacing := flagSet.String("min-spacing", minSpacing.String(), "minimum gap between API requests")
	flagInterval := flagSet.String("interval", interval.String(), "trainer poll interval")
	flagEnergy := flagSet.Int("energy-threshold", energyThreshold, "energy level that triggers a gym recommendation")
	flagNerve := flagSet.Int("nerve-threshold", nerveThreshold, "nerve level that triggers a crime recommendation")
	flagDryRun := flagSet.Bool("dry-run", envBool("TORN_DRY_RUN", true), "plan actions without marking them live")
	flagSimMoney := flagSet.Bool("simulate-money", envBool("TORN_SIMULATE_MONEY", false), "overlay synthetic on-hand money")
	flagRedis := flagSet.String("redis", os.Getenv("TORN_REDIS_ADDR"), "redis address for a shared rate limiter (empty = in-process)")
	flagMetrics := flagSet.String("metrics", os.Getenv("TORN_METRICS_ADDR"), "prometheus listen address (empty = disabled)")
	flagWatch := flagSet.String("market-watch", os.Getenv("TORN_MARKET_WATCH"),
		"comma-separated market watches, each ITEM_ID:BUY:SELL")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			flagSet.SetOutput(os.Stdout)
			flagSet.PrintDefaults()
		}
		return Config{}, err
	}

	spacingParsed, err := time.ParseDuration(*flagSpacing)
	if err != nil {
		return Config{}, fmt.Errorf("invalid min spacing: %w", err)
	}
	intervalParsed, err := time.ParseDuration(*flagInterval)
	if err != nil {
		return Config{}, fmt.Errorf("invalid interval: %w", err)
	}
	watches, err := parseWatchSpecs(*flagWatch)
	if err != nil {
		return Config{}, err
	}

	config := Config{
		APIKey:            os.Getenv("TORN_API_KEY"),
		UserID:            os.Getenv("TORN_USER_ID"),
		DBPath:            resolvePath(*flagDB, cwd),
		LogDir:            resolvePath(*flagLogDir, cwd),
		LogLevel:          strings.TrimSpace(*flagLogLevel),
		MaxRequestsPerMin: *flagMaxReq,
		MinSpacing:        spacingParsed,
		Interval:          intervalParsed,
		EnergyThreshold:   *flagEnergy,
		NerveThreshold:    *flagNerve,
		DryRun:            *flagDryRun,
		SimulateMoney:     *flagSimMoney,
		RedisAddr:         strings.TrimSpace(*flagRedis),
		MetricsAddr:       strings.TrimSpace(*flagMetrics),
		MarketWatch:       watches,
	}

	if config.Interval <= 0 {
		return Config{}, errors.New("interval must be positive")
	}
	return config, nil
}

// parseWatchSpecs parses "206:100:500,180::900" style lists. An empty buy
// or sell field disables that side of the watch.
func parseWatchSpecs(raw string) ([]WatchSpec, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var specs []WatchSpec
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid market watch %q: want ITEM_ID:BUY:SELL", entry)
		}
		itemID, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid market watch item id %q: %w", parts[0], err)
		}
		spec := WatchSpec{ItemID: itemID}
		if parts[1] != "" {
			if spec.Buy, err = strconv.ParseFloat(parts[1], 64); err != nil {
				return nil, fmt.Errorf("invalid buy threshold %q: %w", parts[1], err)
			}
		}
		if parts[2] != "" {
			if spec.Sell, err = strconv.ParseFloat(parts[2], 64); err != nil {
				return nil, fmt.Errorf("invalid sell threshold %q: %w", parts[2], err)
			}
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func intFromEnv(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func resolvePath(path, cwd string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(cwd, trimmed)
}
