package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tornwatch/torntrainer/pkg/logging"
	"github.com/tornwatch/torntrainer/pkg/ratelimit"
	"github.com/tornwatch/torntrainer/pkg/store"
	"github.com/tornwatch/torntrainer/pkg/torn"
	"github.com/tornwatch/torntrainer/pkg/trainer"
)

func usage() {
	fmt.Fprintln(os.Stderr, `torntrainer - rate-limited Torn City API poller

Usage:
  torntrainer [run]    poll on the configured interval (default)
  torntrainer once     run a single decision pass and exit
  torntrainer status   print the last snapshot and recent audit records
  torntrainer help     show flag documentation`)
}

func main() {
	os.Exit(realMain())
}

// realMain keeps deferred cleanup ahead of the process exit.
func realMain() int {
	args := os.Args[1:]
	command := "run"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command = args[0]
		args = args[1:]
	}

	if command == "help" {
		usage()
		LoadConfig([]string{"-h"})
		return 0
	}

	cfg, err := LoadConfig(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "torntrainer: %v\n", err)
		return 2
	}

	log, err := logging.New(logging.Config{Dir: cfg.LogDir, Level: cfg.LogLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "torntrainer: logger: %v\n", err)
		return 1
	}
	defer log.Sync()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Error("failed to open store", zap.String("path", cfg.DBPath), zap.Error(err))
		return 1
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, w := range cfg.MarketWatch {
		if err := st.UpsertMarketWatch(ctx, w.ItemID, w.Buy, w.Sell); err != nil {
			log.Error("failed to register market watch", zap.Int64("item_id", w.ItemID), zap.Error(err))
			return 1
		}
	}

	switch command {
	case "run", "once":
		return runCommand(ctx, cfg, st, log, command == "once")
	case "status":
		return statusCommand(ctx, st)
	default:
		usage()
		return 2
	}
}

func runCommand(ctx context.Context, cfg Config, st *store.Store, log *zap.Logger, once bool) int {
	if cfg.APIKey == "" {
		log.Error("TORN_API_KEY is required")
		return 2
	}
	if cfg.UserID == "" {
		log.Error("TORN_USER_ID is required")
		return 2
	}

	client, err := buildClient(cfg, st, log)
	if err != nil {
		log.Error("failed to build client", zap.Error(err))
		return 1
	}

	tr := trainer.New(client, st, log,
		trainer.WithThresholds(cfg.EnergyThreshold, cfg.NerveThreshold),
		trainer.WithDryRun(cfg.DryRun),
		trainer.WithSimulateMoney(cfg.SimulateMoney),
	)

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, log)
	}

	if once {
		defer client.Close()
		recs, err := tr.DecideAndRecommend(ctx)
		if err != nil {
			log.Error("decision pass failed", zap.Error(err))
			return 1
		}
		alerts, err := tr.WatchMarket(ctx)
		if err != nil {
			log.Error("market watch failed", zap.Error(err))
			return 1
		}
		printJSON(map[string]any{"recommendations": recs, "alerts": alerts})
		return 0
	}

	tr.Run(ctx, cfg.Interval)
	return 0
}

func statusCommand(ctx context.Context, st *store.Store) int {
	snap, err := st.LastSnapshot(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "torntrainer: %v\n", err)
		return 1
	}
	actions, err := st.RecentActions(ctx, 20)
	if err != nil {
		fmt.Fprintf(os.Stderr, "torntrainer: %v\n", err)
		return 1
	}
	printJSON(map[string]any{"snapshot": snap, "recent_actions": actions})
	return 0
}

// buildClient wires the API client, sharing the request budget through
// Redis when an address is configured.
func buildClient(cfg Config, st *store.Store, log *zap.Logger) (*torn.Client, error) {
	clientCfg := torn.Config{
		APIKey:            cfg.APIKey,
		UserID:            cfg.UserID,
		MaxRequestsPerMin: cfg.MaxRequestsPerMin,
		MinSpacing:        cfg.MinSpacing,
		Logger:            log,
	}
	if cfg.RedisAddr != "" {
		capacity := cfg.MaxRequestsPerMin
		if capacity < 1 {
			capacity = 1
		}
		if capacity > 100 {
			capacity = 100
		}
		bucket, err := ratelimit.NewRedisBucket(
			redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}),
			cfg.UserID, capacity, float64(capacity)/60.0, cfg.MinSpacing)
		if err != nil {
			return nil, err
		}
		clientCfg.Limiter = bucket
		log.Info("using shared redis rate limiter", zap.String("addr", cfg.RedisAddr))
	}
	return torn.New(clientCfg, st, st), nil
}

func serveMetrics(addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info("metrics listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server stopped", zap.Error(err))
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
