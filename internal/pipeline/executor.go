package pipeline

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadpipe/internal/adapter"
	"github.com/sells-group/leadpipe/internal/model"
	"github.com/sells-group/leadpipe/internal/resilience"
)

// ExecConfig tunes the per-item worker pool.
type ExecConfig struct {
	Vendor      string
	Op          string
	Concurrency int
	Retry       resilience.RetryConfig
}

// DefaultExecConfig returns the pool settings used when a stage does not
// override them.
func DefaultExecConfig(vendor, op string) ExecConfig {
	retry := resilience.DefaultRetryConfig()
	retry.ShouldRetry = adapter.IsRetryable
	retry.OnRetry = resilience.RetryLogger(vendor, op)
	return ExecConfig{
		Vendor:      vendor,
		Op:          op,
		Concurrency: 4,
		Retry:       retry,
	}
}

// retryPolicy carries an optional operator-supplied retry override. Stages
// embed it so the wiring layer can apply the pipeline config without each
// stage constructor growing a parameter.
type retryPolicy struct {
	retry *resilience.RetryConfig
}

// UseRetry replaces the stage's per-item retry settings. Zero fields fall
// back to the stock values when the retry loop applies its defaults.
func (p *retryPolicy) UseRetry(rc resilience.RetryConfig) {
	p.retry = &rc
}

// execConfig builds the stage's pool settings, keeping the stock retry
// classification and logging hooks even when the knobs are overridden.
func (p *retryPolicy) execConfig(vendor, op string) ExecConfig {
	cfg := DefaultExecConfig(vendor, op)
	if p.retry != nil {
		rc := *p.retry
		rc.ShouldRetry = cfg.Retry.ShouldRetry
		rc.OnRetry = cfg.Retry.OnRetry
		cfg.Retry = rc
	}
	return cfg
}

// forEach runs fn over items with bounded concurrency. Retryable failures
// are retried per item; a fatal (credential) failure cancels the remaining
// work and is returned as the stage error. Other failures are counted
// against the item and reported via onResult.
func forEach[T any](ctx context.Context, cfg ExecConfig, items []T, fn func(context.Context, T) error, onResult func(item T, err error)) (model.StageSummary, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	var succeeded, failed atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)

	for _, item := range items {
		item := item
		g.Go(func() error {
			err := resilience.Do(ctx, cfg.Retry, func(ctx context.Context) error {
				return fn(ctx, item)
			})
			if err != nil {
				if ctx.Err() != nil && !adapter.IsFatal(err) {
					// Another worker already cancelled the stage; this item
					// was never really attempted, so don't tally it.
					return nil
				}
				if adapter.IsFatal(err) {
					// Credential failure: no point hammering the vendor
					// with the rest of the batch.
					return err
				}
				failed.Add(1)
				zap.L().Warn("stage: item failed",
					zap.String("vendor", cfg.Vendor),
					zap.String("op", cfg.Op),
					zap.Error(err),
				)
				if onResult != nil {
					onResult(item, err)
				}
				return nil
			}
			succeeded.Add(1)
			if onResult != nil {
				onResult(item, nil)
			}
			return nil
		})
	}

	err := g.Wait()
	summary := model.StageSummary{
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
	}
	summary.Skipped = len(items) - summary.Succeeded - summary.Failed
	if summary.Skipped < 0 {
		summary.Skipped = 0
	}
	return summary, err
}

// chunk splits items into slices of at most size.
func chunk[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) == 0 {
		return nil
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
