package refresher

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Flip-Liquid/valorem-oracles/internal/model"
	"github.com/Flip-Liquid/valorem-oracles/internal/registry"
	"github.com/Flip-Liquid/valorem-oracles/internal/storage"
	"github.com/Flip-Liquid/valorem-oracles/internal/volatility"
)

// RunConfig holds runtime settings for the refresh job.
type RunConfig struct {
	ChainID      uint64
	Interval     time.Duration
	Lookback     uint32
	TargetWindow uint32
	HistoryPath  string
	HistoryDepth int
	MaxRetries   int
	RetryBackoff time.Duration
}

// Source provides pool snapshots for the refresh job.
type Source interface {
	FetchPoolMetadata(ctx context.Context, pool common.Address) (volatility.PoolMetadata, error)
	FetchPoolData(ctx context.Context, pool common.Address, lookback uint32) (volatility.PoolData, error)
	FetchFeeGrowthGlobals(ctx context.Context, pool common.Address) (volatility.FeeGrowthGlobals, error)
}

// Runner periodically recomputes implied volatility for every tracked pair
// and writes the results to storage.
type Runner struct {
	cfg       RunConfig
	source    Source
	registry  *registry.Registry
	storage   storage.Storage
	estimator *volatility.Estimator
	history   *History
	logger    *zap.Logger
}

// NewRunner builds a Runner with its dependencies.
func NewRunner(cfg RunConfig, source Source, reg *registry.Registry, storageSink storage.Storage, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:       cfg,
		source:    source,
		registry:  reg,
		storage:   storageSink,
		estimator: volatility.NewEstimator(nil),
		history:   NewHistory(cfg.HistoryPath, cfg.HistoryDepth),
		logger:    logger,
	}
}

// Run executes refresh cycles until the context is cancelled. The first
// cycle starts immediately; later cycles follow the configured interval.
func (r *Runner) Run(ctx context.Context) error {
	if r.source == nil {
		return fmt.Errorf("source is nil")
	}
	if r.registry == nil {
		return fmt.Errorf("registry is nil")
	}
	if r.storage == nil {
		return fmt.Errorf("storage is nil")
	}
	if r.cfg.Interval <= 0 {
		return fmt.Errorf("interval must be greater than zero")
	}
	if r.cfg.Lookback == 0 {
		return fmt.Errorf("lookback must be greater than zero")
	}
	if r.cfg.TargetWindow == 0 {
		return fmt.Errorf("target window must be greater than zero")
	}

	if err := r.history.Load(); err != nil {
		return err
	}

	if err := r.registry.Resolve(ctx); err != nil {
		return fmt.Errorf("resolve pairs: %w", err)
	}

	r.logger.Info("refresher start",
		zap.Duration("interval", r.cfg.Interval),
		zap.Uint32("lookback", r.cfg.Lookback),
		zap.Uint32("target_window", r.cfg.TargetWindow),
		zap.Int("pairs", len(r.registry.Tracked())),
	)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		r.RunCycle(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle refreshes every tracked pair once. One pair's failure does not
// abort the cycle; it is logged and the cycle moves on.
func (r *Runner) RunCycle(ctx context.Context) {
	tracked := r.registry.Tracked()
	records := make([]model.VolatilityRecord, 0, len(tracked))

	for _, pair := range tracked {
		select {
		case <-ctx.Done():
			return
		default:
		}

		record, err := r.refreshPool(ctx, pair)
		if err != nil {
			r.logger.Error("refresh failed", zap.String("pool", pair.Pool.Hex()), zap.Error(err))
			continue
		}
		if record == nil {
			continue
		}
		records = append(records, *record)
	}

	if len(records) > 0 {
		if err := r.storage.PutVolatilityBatch(ctx, records); err != nil {
			r.logger.Error("store volatility batch failed", zap.Error(err))
		}
	}

	if err := r.history.Save(); err != nil {
		r.logger.Error("save snapshot history failed", zap.Error(err))
	}

	r.logger.Info("cycle complete", zap.Int("pairs", len(tracked)), zap.Int("records", len(records)))
}

// refreshPool takes a fresh snapshot, pairs it with the stored snapshot
// closest to the target window, and computes the estimate. A nil record with
// nil error means there is no usable early snapshot yet.
func (r *Runner) refreshPool(ctx context.Context, pair registry.TrackedPair) (*model.VolatilityRecord, error) {
	poolKey := pair.Pool.Hex()

	meta, err := r.fetchMetadataWithRetry(ctx, pair.Pool)
	if err != nil {
		return nil, fmt.Errorf("pool metadata: %w", err)
	}

	late, err := r.fetchFeeGrowthWithRetry(ctx, pair.Pool)
	if err != nil {
		return nil, fmt.Errorf("fee growth globals: %w", err)
	}

	lookback := r.cfg.Lookback
	if meta.MaxSecondsAgo > 0 && lookback > meta.MaxSecondsAgo {
		lookback = meta.MaxSecondsAgo
	}
	if lookback == 0 {
		return nil, fmt.Errorf("pool oracle has no usable history")
	}

	data, err := r.fetchPoolDataWithRetry(ctx, pair.Pool, lookback)
	if err != nil {
		return nil, fmt.Errorf("pool data: %w", err)
	}

	early, ok := r.history.Select(poolKey, late.Timestamp, r.cfg.TargetWindow, r.cfg.maxSnapshotAge())
	r.history.Append(poolKey, late)
	if !ok {
		r.logger.Debug("no early snapshot yet", zap.String("pool", poolKey), zap.Uint32("late_ts", late.Timestamp))
		return nil, nil
	}

	estimate, err := r.estimator.Estimate24H(meta, data, early, late)
	if err != nil {
		return nil, fmt.Errorf("estimate: %w", err)
	}

	r.logger.Info("volatility refreshed",
		zap.String("pool", poolKey),
		zap.String("implied_vol_x18", estimate.Dec()),
		zap.Uint32("window_seconds", late.Timestamp-early.Timestamp),
	)

	return &model.VolatilityRecord{
		ChainID:       r.cfg.ChainID,
		PoolAddress:   poolKey,
		Token0:        pair.Token0.Hex(),
		Token1:        pair.Token1.Hex(),
		Fee:           pair.Fee,
		ImpliedVolX18: estimate.Dec(),
		WindowStartTS: early.Timestamp,
		WindowEndTS:   late.Timestamp,
		ComputedAt:    time.Now().UTC(),
	}, nil
}

// maxSnapshotAge bounds how stale an early snapshot may be: twice the target
// window. Anything older would normalize a window so wide the estimate stops
// being a 24-hour figure in any meaningful sense.
func (c RunConfig) maxSnapshotAge() uint32 {
	return 2 * c.TargetWindow
}

func (r *Runner) fetchMetadataWithRetry(ctx context.Context, pool common.Address) (volatility.PoolMetadata, error) {
	var meta volatility.PoolMetadata
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		meta, err = r.source.FetchPoolMetadata(ctx, pool)
		if err != nil {
			r.logger.Warn("pool metadata fetch failed", zap.String("pool", pool.Hex()), zap.Error(err))
		}
		return err
	})
	return meta, err
}

func (r *Runner) fetchPoolDataWithRetry(ctx context.Context, pool common.Address, lookback uint32) (volatility.PoolData, error) {
	var data volatility.PoolData
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		data, err = r.source.FetchPoolData(ctx, pool, lookback)
		if err != nil {
			r.logger.Warn("pool data fetch failed", zap.String("pool", pool.Hex()), zap.Error(err))
		}
		return err
	})
	return data, err
}

func (r *Runner) fetchFeeGrowthWithRetry(ctx context.Context, pool common.Address) (volatility.FeeGrowthGlobals, error) {
	var fg volatility.FeeGrowthGlobals
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		fg, err = r.source.FetchFeeGrowthGlobals(ctx, pool)
		if err != nil {
			r.logger.Warn("fee growth fetch failed", zap.String("pool", pool.Hex()), zap.Error(err))
		}
		return err
	})
	return fg, err
}
