// Package worker drives upload processing jobs end to end: claim, parse,
// merge, recompute, classify, render artifacts, complete.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clinrel/clinrel-go/internal/blob"
	"github.com/clinrel/clinrel-go/internal/classify"
	"github.com/clinrel/clinrel-go/internal/db"
	"github.com/clinrel/clinrel-go/internal/ingest"
	"github.com/clinrel/clinrel-go/internal/metrics"
	"github.com/clinrel/clinrel-go/internal/models"
	"github.com/clinrel/clinrel-go/internal/output"
	"github.com/clinrel/clinrel-go/internal/stats"
)

// JobStore is the job lifecycle surface the worker needs. *db.Client
// satisfies it.
type JobStore interface {
	NextQueuedJob(ctx context.Context) (*models.Job, error)
	ClaimJob(ctx context.Context, id string) (*models.Job, error)
	UpdateJobProgress(ctx context.Context, id string, rowsProcessed, rowsTotal, tokensIn, tokensOut int) error
	CompleteJob(ctx context.Context, id, outputKey, snapshotKey string, rowsTotal, rowsProcessed, tokensIn, tokensOut int) error
	FailJob(ctx context.Context, id, cause string) error
}

// RecordStore is the pair aggregate surface the worker needs. *db.Client
// satisfies it.
type RecordStore interface {
	MergeCounts(ctx context.Context, pairKey string, identity models.PairIdentity, delta models.PairCounts) (*models.PairRecord, error)
	UpdateStats(ctx context.Context, pairKey string, derived models.PairStats) error
	ApplyClassification(ctx context.Context, pairKey string, cls models.Classification) (bool, error)
	GetRecords(ctx context.Context, pairKeys []string) ([]models.PairRecord, error)
}

// Worker processes upload jobs.
type Worker struct {
	jobs       JobStore
	records    RecordStore
	blobs      blob.Store
	classifier *classify.Classifier
	batchOpts  classify.BatchOptions
	collector  *metrics.Collector
	logger     *slog.Logger
}

// New creates a worker. A nil collector disables metrics; a nil logger falls
// back to the default.
func New(jobs JobStore, records RecordStore, blobs blob.Store, classifier *classify.Classifier, batchOpts classify.BatchOptions, collector *metrics.Collector, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		jobs:       jobs,
		records:    records,
		blobs:      blobs,
		classifier: classifier,
		batchOpts:  batchOpts,
		collector:  collector,
		logger:     logger,
	}
}

// Process claims and runs one job. A lost claim race is a benign no-op.
// Any failure inside the run is recorded on the job itself; the returned
// error is for the caller's log only.
func (w *Worker) Process(ctx context.Context, jobID string) error {
	job, err := w.jobs.ClaimJob(ctx, jobID)
	if errors.Is(err, db.ErrAlreadyClaimed) {
		w.logger.Info("job already claimed, skipping", "job_id", jobID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim job %s: %w", jobID, err)
	}

	w.logger.Info("processing job", "job_id", jobID, "upload_key", job.UploadKey)

	if err := w.run(ctx, jobID, job); err != nil {
		w.logger.Error("job failed", "job_id", jobID, "error", err)
		if failErr := w.jobs.FailJob(ctx, jobID, err.Error()); failErr != nil {
			w.logger.Error("failed to record job failure", "job_id", jobID, "error", failErr)
		}
		w.recordOutcome(true)
		return err
	}

	w.recordOutcome(false)
	return nil
}

func (w *Worker) run(ctx context.Context, jobID string, job *models.Job) error {
	data, err := w.blobs.Get(ctx, job.UploadKey)
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}

	parseStart := time.Now()
	upload, err := ingest.ParseRows(string(data))
	if err != nil {
		return err
	}
	w.recordTiming(metrics.OpParse, time.Since(parseStart))

	deltas := ingest.Accumulate(upload.Rows)
	keys := ingest.SortedKeys(deltas)

	rowsTotal := len(upload.Rows)
	_ = w.jobs.UpdateJobProgress(ctx, jobID, 0, rowsTotal, 0, 0)

	// Merge each pair's delta into the durable totals, then recompute the
	// derived stats from what actually landed. Classification candidates
	// are collected from the merged state, never from the upload alone.
	var toClassify []classify.Pair
	rowsProcessed := 0
	mergeStart := time.Now()
	for _, key := range keys {
		delta := deltas[key]

		merged, err := w.records.MergeCounts(ctx, key, delta.Identity, delta.Counts)
		if err != nil {
			return fmt.Errorf("merge pair %s: %w", key, err)
		}

		derived := deriveStats(merged)
		if err := w.records.UpdateStats(ctx, key, derived); err != nil {
			return fmt.Errorf("recompute stats for %s: %w", key, err)
		}

		if !merged.Classified() {
			toClassify = append(toClassify, classify.Pair{
				PairKey:  key,
				Identity: merged.PairIdentity,
				Lift:     derived.Lift,
			})
		}

		rowsProcessed += delta.RowCount
		_ = w.jobs.UpdateJobProgress(ctx, jobID, rowsProcessed, rowsTotal, 0, 0)
	}
	w.recordTiming(metrics.OpMerge, time.Since(mergeStart))

	classifyStart := time.Now()
	results, batchStats, err := w.classifier.ClassifyBatch(ctx, toClassify, w.batchOpts)
	if err != nil {
		return fmt.Errorf("classify pairs: %w", err)
	}
	if w.collector != nil {
		w.collector.RecordClassifierUsage(time.Since(classifyStart),
			int64(batchStats.TokensIn), int64(batchStats.TokensOut))
	}
	w.logger.Info("classification done",
		"job_id", jobID,
		"pairs", len(toClassify),
		"cache_hits", batchStats.CacheHits,
		"external_calls", batchStats.ExternalCalls,
		"skipped_budget", batchStats.SkippedBudget)

	now := time.Now().UTC()
	for key, result := range results {
		applied, err := w.records.ApplyClassification(ctx, key, models.Classification{
			RelType:      result.RelType,
			RelLabel:     result.RelLabel,
			Rationale:    result.Rationale,
			Model:        w.classifier.Model(),
			ClassifiedAt: &now,
		})
		if err != nil {
			return fmt.Errorf("apply classification for %s: %w", key, err)
		}
		if !applied {
			w.logger.Debug("pair already classified, keeping existing", "pair_key", key)
		}
	}

	// Artifacts are rendered from the persisted records so they reflect the
	// merged, recomputed state rather than this upload's delta.
	artifactStart := time.Now()
	records, err := w.records.GetRecords(ctx, keys)
	if err != nil {
		return fmt.Errorf("load records for artifacts: %w", err)
	}
	byKey := make(map[string]models.PairRecord, len(records))
	for _, r := range records {
		byKey[r.PairKey] = r
	}

	enriched, err := output.EnrichRows(upload, byKey)
	if err != nil {
		return fmt.Errorf("render enriched output: %w", err)
	}
	snapshot, err := output.Snapshot(records)
	if err != nil {
		return fmt.Errorf("render snapshot: %w", err)
	}

	outputKey := "outputs/" + jobID + ".csv"
	snapshotKey := "snapshots/" + jobID + ".csv"
	if err := w.blobs.Put(ctx, outputKey, enriched); err != nil {
		return fmt.Errorf("store enriched output: %w", err)
	}
	if err := w.blobs.Put(ctx, snapshotKey, snapshot); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	w.recordTiming(metrics.OpArtifacts, time.Since(artifactStart))

	err = w.jobs.CompleteJob(ctx, jobID, outputKey, snapshotKey,
		rowsTotal, rowsProcessed, batchStats.TokensIn, batchStats.TokensOut)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}

	w.logger.Info("job completed",
		"job_id", jobID,
		"rows", rowsTotal,
		"pairs", len(keys),
		"tokens_in", batchStats.TokensIn,
		"tokens_out", batchStats.TokensOut)
	return nil
}

// Run polls for queued jobs until the context is cancelled, sleeping for
// pollInterval when the queue is empty.
func (w *Worker) Run(ctx context.Context, pollInterval time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	for {
		job, err := w.jobs.NextQueuedJob(ctx)
		switch {
		case errors.Is(err, db.ErrNotFound):
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollInterval):
			}
			continue
		case err != nil:
			return fmt.Errorf("poll queue: %w", err)
		}

		id := models.MustRecordIDString(job.ID)
		if err := w.Process(ctx, id); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// deriveStats recomputes the derived fields from a record's persisted,
// already-merged totals.
func deriveStats(r *models.PairRecord) models.PairStats {
	derived := stats.Compute(stats.Counts{
		CoocObs:      r.CoocObs,
		NA:           r.NA,
		NB:           r.NB,
		TotalPersons: r.TotalPersons,
		ABeforeB:     r.ABeforeB,
		BBeforeA:     r.BBeforeA,
	})
	return models.PairStats{
		ExpectedObs:         derived.ExpectedObs,
		Lift:                derived.Lift,
		LiftLower95:         derived.LiftLower95,
		LiftUpper95:         derived.LiftUpper95,
		ZScore:              derived.ZScore,
		OddsRatio:           derived.OddsRatio,
		OddsRatioLower95:    derived.OddsRatioLower95,
		OddsRatioUpper95:    derived.OddsRatioUpper95,
		DirectionalityRatio: derived.DirectionalityRatio,
		DirLower95:          derived.DirLower95,
		DirUpper95:          derived.DirUpper95,
		ConfidenceAToB:      derived.ConfidenceAToB,
		ConfidenceBToA:      derived.ConfidenceBToA,
	}
}

func (w *Worker) recordTiming(op string, d time.Duration) {
	if w.collector != nil {
		w.collector.RecordTiming(op, d)
	}
}

func (w *Worker) recordOutcome(failed bool) {
	if w.collector != nil {
		w.collector.RecordJobOutcome(failed)
	}
}
