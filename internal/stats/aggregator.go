// Package stats recomputes dashboard snapshots from the ledger. A rebuild is
// the only operation that guarantees the cache converges after any sequence
// of deltas.
package stats

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bloodlink/allocator/internal/cache"
	"github.com/bloodlink/allocator/internal/ledger"
	"github.com/bloodlink/allocator/internal/metrics"
	"github.com/bloodlink/allocator/pkg/db/models/dashboard"
	ledgermodels "github.com/bloodlink/allocator/pkg/db/models/ledger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Rebuild stages, reported in RebuildError.
const (
	StageRequests  = "requests"
	StageInventory = "inventory"
	StageDonors    = "donors"
	StageCache     = "cache"
	StageHospitals = "hospitals"
)

// RebuildError reports which collaborator a rebuild could not reach.
type RebuildError struct {
	HospitalID string
	Stage      string
	Err        error
}

func (e *RebuildError) Error() string {
	if e.HospitalID == "" {
		return fmt.Sprintf("rebuild %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("rebuild %s %s: %v", e.HospitalID, e.Stage, e.Err)
}

func (e *RebuildError) Unwrap() error { return e.Err }

// Config tunes the aggregator.
type Config struct {
	// Concurrency bounds RebuildAll fan-out.
	Concurrency int
}

// Aggregator rebuilds snapshots from a ledger source into a cache store.
type Aggregator struct {
	source      ledger.Source
	cache       cache.Store
	logger      *zap.Logger
	metrics     *metrics.Metrics
	concurrency int
	now         func() time.Time
}

// New creates an Aggregator. metrics may be nil.
func New(source ledger.Source, store cache.Store, logger *zap.Logger, m *metrics.Metrics, cfg Config) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Aggregator{
		source:      source,
		cache:       store,
		logger:      logger.With(zap.String("component", "stats")),
		metrics:     m,
		concurrency: cfg.Concurrency,
		now:         time.Now,
	}
}

// Rebuild recomputes the hospital's snapshot and overwrites the cached one.
// On a cache write failure the computed snapshot is still returned alongside
// a RebuildError with StageCache.
func (a *Aggregator) Rebuild(ctx context.Context, hospitalID string) (dashboard.Snapshot, error) {
	start := time.Now()
	now := a.now().UTC().Truncate(time.Millisecond)

	counts, err := a.source.HospitalCounts(ctx, hospitalID)
	if err != nil {
		return a.fail(hospitalID, StageRequests, err)
	}

	rows, err := a.source.Inventory(ctx, hospitalID, now)
	if err != nil {
		return a.fail(hospitalID, StageInventory, err)
	}

	donors, err := a.source.DonorCount(ctx, hospitalID)
	if err != nil {
		return a.fail(hospitalID, StageDonors, err)
	}

	snap := dashboard.Empty(hospitalID)
	snap.RegisteredDonors = donors
	snap.PendingRequests = counts.PendingRequests
	snap.UrgentRequests = counts.UrgentRequests
	snap.PendingTransfers = counts.PendingTransfers
	for _, row := range rows {
		snap.BloodInventory[row.BloodType] += row.VolumeML
		snap.TotalBloodUnits += row.Units
	}
	snap.LastUpdated = now
	snap.RebuiltAt = now

	if err := a.cache.Put(ctx, snap); err != nil {
		a.metrics.ObserveRebuild(false)
		return snap, &RebuildError{HospitalID: hospitalID, Stage: StageCache, Err: err}
	}

	a.metrics.ObserveRebuild(true)
	a.logger.Debug("dashboard rebuilt",
		zap.String("hospital_id", hospitalID),
		zap.Int64("pending_requests", snap.PendingRequests),
		zap.Int64("pending_transfers", snap.PendingTransfers),
		zap.Int64("total_blood_units", snap.TotalBloodUnits),
		zap.Duration("duration", time.Since(start)),
	)
	return snap, nil
}

func (a *Aggregator) fail(hospitalID, stage string, err error) (dashboard.Snapshot, error) {
	a.metrics.ObserveRebuild(false)
	return dashboard.Snapshot{}, &RebuildError{HospitalID: hospitalID, Stage: stage, Err: err}
}

// Snapshot serves the dashboard read path. Unless force is set a cached
// snapshot is returned as is; a miss or an unreadable cache falls through to
// a synchronous rebuild. cached reports which path answered.
func (a *Aggregator) Snapshot(ctx context.Context, hospitalID string, force bool) (snap dashboard.Snapshot, cached bool, err error) {
	if !force {
		snap, ok, err := a.cache.Get(ctx, hospitalID)
		if err != nil {
			a.logger.Warn("dashboard cache read failed, rebuilding",
				zap.String("hospital_id", hospitalID),
				zap.Error(err),
			)
		} else if ok {
			return snap, true, nil
		}
	}

	snap, err = a.Rebuild(ctx, hospitalID)
	var rerr *RebuildError
	if errors.As(err, &rerr) && rerr.Stage == StageCache {
		a.logger.Warn("dashboard rebuilt but not cached",
			zap.String("hospital_id", hospitalID),
			zap.Error(err),
		)
		return snap, false, nil
	}
	if err != nil {
		return dashboard.Snapshot{}, false, err
	}
	return snap, false, nil
}

// Result summarises a RebuildAll run.
type Result struct {
	Total     int
	Succeeded int
	Failed    int
	Duration  time.Duration
	Errors    []error
}

// RebuildAll rebuilds every hospital known to the ledger with bounded
// concurrency. Individual failures are collected, not fatal.
func (a *Aggregator) RebuildAll(ctx context.Context) (*Result, error) {
	start := time.Now()

	ids, err := a.source.HospitalIDs(ctx)
	if err != nil {
		return nil, &RebuildError{Stage: StageHospitals, Err: err}
	}

	result := &Result{Total: len(ids)}
	if len(ids) == 0 {
		a.logger.Info("no hospitals with data, nothing to rebuild")
		result.Duration = time.Since(start)
		return result, nil
	}

	var (
		errorsMu          sync.Mutex
		succeeded, failed atomic.Int64
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)

	for _, id := range ids {
		id := id
		g.Go(func() error {
			if _, err := a.Rebuild(gCtx, id); err != nil {
				failed.Add(1)
				errorsMu.Lock()
				result.Errors = append(result.Errors, err)
				errorsMu.Unlock()
				a.logger.Warn("hospital rebuild failed", zap.String("hospital_id", id), zap.Error(err))
				return nil
			}
			succeeded.Add(1)
			return nil
		})
	}

	_ = g.Wait()

	result.Succeeded = int(succeeded.Load())
	result.Failed = int(failed.Load())
	result.Duration = time.Since(start)

	a.logger.Info("rebuild all complete",
		zap.Int("total", result.Total),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", result.Duration),
	)

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// RunPeriodic rebuilds every hospital on each tick until ctx is cancelled.
func (a *Aggregator) RunPeriodic(ctx context.Context, interval time.Duration) error {
	a.logger.Info("starting periodic dashboard reconciliation", zap.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			res, err := a.RebuildAll(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				a.logger.Warn("periodic reconciliation failed", zap.Error(err))
				continue
			}
			if res.Failed > 0 {
				a.logger.Warn("periodic reconciliation incomplete",
					zap.Int("failed", res.Failed),
					zap.Int("total", res.Total),
				)
			}
		}
	}
}

// LowStock returns the blood types the hospital holds fewer than threshold
// available units of, scarcest first. Types with no stock at all are not
// listed.
func (a *Aggregator) LowStock(ctx context.Context, hospitalID string, threshold int64) ([]ledgermodels.InventoryRow, error) {
	rows, err := a.source.Inventory(ctx, hospitalID, a.now().UTC())
	if err != nil {
		return nil, &RebuildError{HospitalID: hospitalID, Stage: StageInventory, Err: err}
	}

	low := make([]ledgermodels.InventoryRow, 0, len(rows))
	for _, row := range rows {
		if row.Units < threshold {
			low = append(low, row)
		}
	}
	sort.SliceStable(low, func(i, j int) bool { return low[i].Units < low[j].Units })
	return low, nil
}
