package recon

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/paywatch/payhook-backend/internal/portal"
	"github.com/paywatch/payhook-backend/pkg/config"
	"github.com/paywatch/payhook-backend/pkg/enums"
	pkgerrors "github.com/paywatch/payhook-backend/pkg/errors"
	"github.com/paywatch/payhook-backend/pkg/logger"
	"github.com/paywatch/payhook-backend/pkg/metrics"
	"github.com/paywatch/payhook-backend/pkg/types"
)

// Scheduler fans one webhook delivery's transactions out to the engine.
// Small batches run fully parallel, medium batches run under an adaptive
// concurrency limit, and oversized batches degrade to strictly serialized
// chunks so a burst cannot flatten the downstream stores.
type Scheduler struct {
	engine  *Engine
	cfg     config.BatchConfig
	stats   *Tracker
	metrics *metrics.ReconMetrics
	logg    *logger.Logger
}

// SchedulerParams wires the batch scheduler dependencies.
type SchedulerParams struct {
	Engine  *Engine
	Config  config.BatchConfig
	Stats   *Tracker
	Metrics *metrics.ReconMetrics
	Logger  *logger.Logger
}

// NewScheduler validates dependencies and returns a batch scheduler.
func NewScheduler(params SchedulerParams) (*Scheduler, error) {
	if params.Engine == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "engine required")
	}
	cfg := params.Config
	if cfg.ParallelLimit <= 0 {
		cfg.ParallelLimit = 15
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 12
	}
	if cfg.SerialThreshold <= 0 {
		cfg.SerialThreshold = 100
	}
	if cfg.SerialChunkSize <= 0 {
		cfg.SerialChunkSize = 5
	}
	if cfg.InterChunkDelay <= 0 {
		cfg.InterChunkDelay = 100 * time.Millisecond
	}
	stats := params.Stats
	if stats == nil {
		stats = params.Engine.stats
	}
	return &Scheduler{
		engine:  params.Engine,
		cfg:     cfg,
		stats:   stats,
		metrics: params.Metrics,
		logg:    params.Logger,
	}, nil
}

// ProcessBatch reconciles every transaction from one delivery and reports
// each outcome independently; a failing transaction never aborts the rest.
func (s *Scheduler) ProcessBatch(ctx context.Context, p enums.Portal, txs []portal.NormalizedTransaction) []types.TransactionResult {
	if s.metrics != nil {
		s.metrics.ObserveBatchSize(p.String(), len(txs))
	}

	switch n := len(txs); {
	case n == 0:
		return nil
	case n == 1:
		return []types.TransactionResult{s.engine.Process(ctx, txs[0], false)}
	case n <= s.cfg.ParallelLimit:
		return s.parallel(ctx, txs, n)
	case n <= s.cfg.SerialThreshold:
		return s.parallel(ctx, txs, s.adaptiveLimit(p, n))
	default:
		return s.serialChunks(ctx, txs)
	}
}

// parallel runs all transactions under a concurrency limit. Engine results
// are positional; errors never escape the engine.
func (s *Scheduler) parallel(ctx context.Context, txs []portal.NormalizedTransaction, limit int) []types.TransactionResult {
	results := make([]types.TransactionResult, len(txs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, tx := range txs {
		i, tx := i, tx
		g.Go(func() error {
			results[i] = s.engine.Process(gctx, tx, true)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// serialChunks processes oversized batches in small strictly ordered chunks
// with a breather between chunks, trading latency for downstream headroom.
func (s *Scheduler) serialChunks(ctx context.Context, txs []portal.NormalizedTransaction) []types.TransactionResult {
	results := make([]types.TransactionResult, 0, len(txs))
	for start := 0; start < len(txs); start += s.cfg.SerialChunkSize {
		end := start + s.cfg.SerialChunkSize
		if end > len(txs) {
			end = len(txs)
		}
		for _, tx := range txs[start:end] {
			results = append(results, s.engine.Process(ctx, tx, true))
		}
		if end < len(txs) {
			select {
			case <-ctx.Done():
				for _, tx := range txs[end:] {
					amount := tx.AmountMinor
					results = append(results, types.TransactionResult{
						ID:      tx.PortalTransactionID,
						Status:  string(enums.ReconStatusFailed),
						Amount:  &amount,
						Message: "batch canceled before transaction was processed",
					})
				}
				return results
			case <-time.After(s.cfg.InterChunkDelay):
			}
		}
	}
	return results
}

// adaptiveLimit narrows the concurrency for bigger batches and for portals
// showing recent errors or slowness, and never drops below 2.
func (s *Scheduler) adaptiveLimit(p enums.Portal, batchSize int) int {
	limit := s.cfg.ChunkSize
	if batchSize > s.cfg.SerialThreshold/2 {
		limit = limit * 3 / 4
	}
	if s.stats != nil {
		if s.stats.ErrorRate(p) > 0.2 {
			limit /= 2
		}
		if s.stats.AvgLatency(p) > time.Second {
			limit /= 2
		}
	}
	if limit < 2 {
		limit = 2
	}
	return limit
}
