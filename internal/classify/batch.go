package classify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRetriesExhausted indicates a classification call kept failing past the
// attempt ceiling; it escalates to job failure.
var ErrRetriesExhausted = errors.New("classification retries exhausted")

// BatchOptions configures a batch run.
type BatchOptions struct {
	// BatchSize is the number of pairs per sequential batch.
	BatchSize int
	// Concurrency bounds parallel calls inside one batch.
	Concurrency int
	// MaxAttempts is the ceiling for one pair's external call, including
	// the first try.
	MaxAttempts int
	// CallBudget caps external calls per run; every attempt counts,
	// including retries. Pairs whose budget runs out stay unclassified
	// instead of blocking completion. Cache hits are free.
	CallBudget int
	// Backoff is the initial retry delay; it doubles per attempt.
	Backoff time.Duration
}

func (o *BatchOptions) applyDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.CallBudget <= 0 {
		o.CallBudget = 50
	}
	if o.Backoff <= 0 {
		o.Backoff = 500 * time.Millisecond
	}
}

// BatchStats summarizes one batch run.
type BatchStats struct {
	CacheHits     int
	ExternalCalls int
	SkippedBudget int
	TokensIn      int
	TokensOut     int
}

// ClassifyBatch classifies pairs in fixed-size batches processed
// sequentially, fanning out inside each batch up to the concurrency limit.
// A persistent failure aborts the run; budget exhaustion does not.
func (c *Classifier) ClassifyBatch(ctx context.Context, pairs []Pair, opts BatchOptions) (map[string]Result, BatchStats, error) {
	opts.applyDefaults()

	results := make(map[string]Result, len(pairs))
	var stats BatchStats
	var mu sync.Mutex
	budget := opts.CallBudget

	for start := 0; start < len(pairs); start += opts.BatchSize {
		end := min(start+opts.BatchSize, len(pairs))
		batch := pairs[start:end]

		if err := c.runBatch(ctx, batch, opts, results, &stats, &budget, &mu); err != nil {
			return results, stats, err
		}

		c.logger.Debug("classification batch done",
			"from", start, "to", end,
			"cache_hits", stats.CacheHits, "calls", stats.ExternalCalls)
	}

	return results, stats, nil
}

func (c *Classifier) runBatch(
	ctx context.Context,
	batch []Pair,
	opts BatchOptions,
	results map[string]Result,
	stats *BatchStats,
	budget *int,
	mu *sync.Mutex,
) error {
	sem := make(chan struct{}, opts.Concurrency)
	errCh := make(chan error, len(batch))
	var wg sync.WaitGroup

	for _, pair := range batch {
		wg.Add(1)
		sem <- struct{}{}
		go func(pair Pair) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := c.classifyOne(ctx, pair, opts, results, stats, budget, mu); err != nil {
				errCh <- err
			}
		}(pair)
	}

	wg.Wait()
	close(errCh)
	return <-errCh
}

func (c *Classifier) classifyOne(
	ctx context.Context,
	pair Pair,
	opts BatchOptions,
	results map[string]Result,
	stats *BatchStats,
	budget *int,
	mu *sync.Mutex,
) error {
	cached, err := c.Lookup(ctx, pair)
	if err != nil {
		return fmt.Errorf("cache lookup for %s: %w", pair.PairKey, err)
	}
	if cached != nil {
		mu.Lock()
		results[pair.PairKey] = *cached
		stats.CacheHits++
		stats.TokensIn += cached.TokensIn
		stats.TokensOut += cached.TokensOut
		mu.Unlock()
		return nil
	}

	result, skipped, err := c.classifyWithRetry(ctx, pair, opts, stats, budget, mu)
	if err != nil {
		return err
	}
	if skipped {
		return nil
	}

	mu.Lock()
	results[pair.PairKey] = result
	stats.TokensIn += result.TokensIn
	stats.TokensOut += result.TokensOut
	mu.Unlock()
	return nil
}

// classifyWithRetry retries transient call failures with exponential backoff
// up to the attempt ceiling. Each attempt reserves one unit of budget before
// dialing out; when the budget runs dry the pair is reported skipped, even
// mid-retry, so the cap bounds actual calls rather than pairs.
func (c *Classifier) classifyWithRetry(
	ctx context.Context,
	pair Pair,
	opts BatchOptions,
	stats *BatchStats,
	budget *int,
	mu *sync.Mutex,
) (Result, bool, error) {
	delay := opts.Backoff
	var lastErr error

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		mu.Lock()
		if *budget <= 0 {
			stats.SkippedBudget++
			mu.Unlock()
			return Result{}, true, nil
		}
		*budget--
		stats.ExternalCalls++
		mu.Unlock()

		result, err := c.ClassifyFresh(ctx, pair)
		if err == nil {
			return result, false, nil
		}
		lastErr = err

		c.logger.Warn("classification attempt failed",
			"pair_key", pair.PairKey,
			"attempt", attempt,
			"max_attempts", opts.MaxAttempts,
			"error", err)

		if attempt < opts.MaxAttempts {
			select {
			case <-ctx.Done():
				return Result{}, false, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return Result{}, false, fmt.Errorf("%w: pair %s: %v", ErrRetriesExhausted, pair.PairKey, lastErr)
}
