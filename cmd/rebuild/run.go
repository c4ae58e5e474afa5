package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bloodlink/allocator/internal/cache"
	"github.com/bloodlink/allocator/internal/config"
	"github.com/bloodlink/allocator/internal/db"
	"github.com/bloodlink/allocator/internal/ledger"
	"github.com/bloodlink/allocator/internal/stats"
	"github.com/bloodlink/allocator/pkg/db/models/dashboard"
	ledgermodels "github.com/bloodlink/allocator/pkg/db/models/ledger"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type env struct {
	aggregator *stats.Aggregator
	logger     *zap.Logger
	close      func()
}

// open wires the aggregator the same way the server does.
func open(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	level := zap.InfoLevel
	if globalFlags.debug {
		level = zap.DebugLevel
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("component", programName))

	store, err := db.OpenLedger(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, err
	}

	var client redis.UniversalClient
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opts)
	}

	cacheStore, err := cache.Open(cfg.CacheDriver, client, cfg.DashboardKeyPrefix)
	if err != nil {
		store.Close()
		return nil, err
	}

	concurrency := cfg.RebuildConcurrency
	if globalFlags.concurrency > 0 {
		concurrency = globalFlags.concurrency
	}

	return &env{
		aggregator: stats.New(store, cacheStore, logger, nil, stats.Config{Concurrency: concurrency}),
		logger:     logger,
		close:      closer(store, cacheStore, client, logger),
	}, nil
}

func closer(store ledger.Store, cacheStore cache.Store, client redis.UniversalClient, logger *zap.Logger) func() {
	return func() {
		_ = cacheStore.Close()
		if client != nil {
			_ = client.Close()
		}
		_ = store.Close()
		_ = logger.Sync()
	}
}

func hospitalCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hospital <hospital-id>...",
		Short: "Rebuild the dashboard of one or more hospitals",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			for _, id := range args {
				snap, err := e.aggregator.Rebuild(cmd.Context(), id)
				if err != nil {
					return err
				}
				printSnapshot(cmd.OutOrStdout(), snap)
			}
			return nil
		},
	}
}

func allCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Rebuild the dashboard of every hospital with ledger or inventory data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			res, err := e.aggregator.RebuildAll(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "rebuilt %d/%d hospitals in %s\n", res.Succeeded, res.Total, res.Duration.Round(time.Millisecond))
			for _, rerr := range res.Errors {
				fmt.Fprintf(out, "  failed: %v\n", rerr)
			}
			if res.Failed > 0 {
				return fmt.Errorf("%d of %d rebuilds failed", res.Failed, res.Total)
			}
			return nil
		},
	}
}

func printSnapshot(w io.Writer, snap dashboard.Snapshot) {
	fmt.Fprintf(w, "hospital %s\n", snap.HospitalID)
	for _, c := range dashboard.Counters {
		fmt.Fprintf(w, "  %-18s %d\n", c, snap.Get(c))
	}
	inv := make([]string, 0, len(ledgermodels.CanonicalBloodTypes))
	for _, bt := range ledgermodels.CanonicalBloodTypes {
		inv = append(inv, fmt.Sprintf("%s=%d", bt, snap.BloodInventory[bt]))
	}
	fmt.Fprintf(w, "  %-18s %s\n", "bloodInventory", strings.Join(inv, " "))
}
