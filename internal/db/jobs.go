package db

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/clinrel/clinrel-go/internal/models"
)

// failureCauseLimit caps the persisted failure cause in bytes.
const failureCauseLimit = 1000

// truncateCause trims a failure cause to the limit without splitting a
// multi-byte rune at the cut.
func truncateCause(cause string) string {
	if len(cause) <= failureCauseLimit {
		return cause
	}
	cut := failureCauseLimit
	for cut > 0 && !utf8.RuneStart(cause[cut]) {
		cut--
	}
	return cause[:cut]
}

// CreateJob persists a new queued job for an upload and returns it.
func (c *Client) CreateJob(ctx context.Context, ownerID, uploadKey, originalName string) (*models.Job, error) {
	results, err := surrealQuery[[]models.Job](ctx, c, `
		CREATE type::record("job", $id) SET
			owner_id = $owner_id,
			status = "queued",
			upload_key = $upload_key,
			original_name = $original_name
		RETURN AFTER
	`, map[string]any{
		"id":            uuid.NewString(),
		"owner_id":      ownerID,
		"upload_key":    uploadKey,
		"original_name": originalName,
	})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", wrapQueryError(err))
	}

	job, ok := firstResult(results)
	if !ok {
		return nil, fmt.Errorf("create job: no result returned")
	}
	return job, nil
}

// GetJob retrieves a job by ID. Returns ErrNotFound when absent.
func (c *Client) GetJob(ctx context.Context, id string) (*models.Job, error) {
	results, err := surrealQuery[[]models.Job](ctx, c, `
		SELECT * FROM type::record("job", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get job: %w", wrapQueryError(err))
	}

	job, ok := firstResult(results)
	if !ok {
		return nil, fmt.Errorf("get job %s: %w", id, ErrNotFound)
	}
	return job, nil
}

// ListJobs returns jobs for an owner ordered most recent first. An empty
// ownerID lists jobs across all owners.
func (c *Client) ListJobs(ctx context.Context, ownerID string, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 50
	}

	ownerClause := ""
	vars := map[string]any{"limit": limit}
	if ownerID != "" {
		ownerClause = "WHERE owner_id = $owner_id"
		vars["owner_id"] = ownerID
	}

	sql := fmt.Sprintf(`
		SELECT * FROM job %s ORDER BY created_at DESC LIMIT $limit
	`, ownerClause)

	results, err := surrealQuery[[]models.Job](ctx, c, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []models.Job{}, nil
	}
	return (*results)[0].Result, nil
}

// NextQueuedJob returns the oldest queued job, or ErrNotFound when the queue
// is empty. The job is not claimed; callers follow up with ClaimJob.
func (c *Client) NextQueuedJob(ctx context.Context) (*models.Job, error) {
	results, err := surrealQuery[[]models.Job](ctx, c, `
		SELECT * FROM job WHERE status = "queued" ORDER BY created_at ASC LIMIT 1
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("next queued job: %w", wrapQueryError(err))
	}

	job, ok := firstResult(results)
	if !ok {
		return nil, ErrNotFound
	}
	return job, nil
}

// ClaimJob atomically transitions a queued job to running. The status guard
// in the WHERE clause makes the claim conditional: when another worker got
// there first (or the job is terminal) no row matches and ErrAlreadyClaimed
// is returned, leaving the job untouched.
func (c *Client) ClaimJob(ctx context.Context, id string) (*models.Job, error) {
	results, err := surrealQuery[[]models.Job](ctx, c, `
		UPDATE type::record("job", $id) SET
			status = "running",
			started_at = time::now()
		WHERE status = "queued"
		RETURN AFTER
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", wrapQueryError(err))
	}

	job, ok := firstResult(results)
	if !ok {
		return nil, fmt.Errorf("claim job %s: %w", id, ErrAlreadyClaimed)
	}
	return job, nil
}

// UpdateJobProgress records row and token progress on a running job.
// Progress updates are best-effort; callers may ignore the error.
func (c *Client) UpdateJobProgress(ctx context.Context, id string, rowsProcessed, rowsTotal, tokensIn, tokensOut int) error {
	_, err := surrealQuery[any](ctx, c, `
		UPDATE type::record("job", $id) SET
			rows_processed = $rows_processed,
			rows_total = $rows_total,
			tokens_in = $tokens_in,
			tokens_out = $tokens_out
		WHERE status = "running"
	`, map[string]any{
		"id":             id,
		"rows_processed": rowsProcessed,
		"rows_total":     rowsTotal,
		"tokens_in":      tokensIn,
		"tokens_out":     tokensOut,
	})
	if err != nil {
		return fmt.Errorf("update job progress: %w", wrapQueryError(err))
	}
	return nil
}

// CompleteJob marks a running job completed and records the artifact keys
// and final counters.
func (c *Client) CompleteJob(ctx context.Context, id, outputKey, snapshotKey string, rowsTotal, rowsProcessed, tokensIn, tokensOut int) error {
	results, err := surrealQuery[[]models.Job](ctx, c, `
		UPDATE type::record("job", $id) SET
			status = "completed",
			output_key = $output_key,
			snapshot_key = $snapshot_key,
			rows_total = $rows_total,
			rows_processed = $rows_processed,
			tokens_in = $tokens_in,
			tokens_out = $tokens_out,
			error = NONE,
			finished_at = time::now()
		WHERE status = "running"
		RETURN AFTER
	`, map[string]any{
		"id":             id,
		"output_key":     outputKey,
		"snapshot_key":   snapshotKey,
		"rows_total":     rowsTotal,
		"rows_processed": rowsProcessed,
		"tokens_in":      tokensIn,
		"tokens_out":     tokensOut,
	})
	if err != nil {
		return fmt.Errorf("complete job: %w", wrapQueryError(err))
	}

	if _, ok := firstResult(results); !ok {
		return fmt.Errorf("complete job %s: %w", id, ErrNotFound)
	}
	return nil
}

// FailJob marks a job failed with a truncated cause. Failing an unknown job
// is a silent no-op so the outermost error boundary never masks the original
// failure with a bookkeeping error.
func (c *Client) FailJob(ctx context.Context, id, cause string) error {
	cause = truncateCause(cause)

	_, err := surrealQuery[any](ctx, c, `
		UPDATE type::record("job", $id) SET
			status = "failed",
			error = $cause,
			finished_at = time::now()
	`, map[string]any{"id": id, "cause": cause})
	if err != nil {
		return fmt.Errorf("fail job: %w", wrapQueryError(err))
	}
	return nil
}

// RequeueJob resets a job back to queued, clearing progress, artifacts and
// any recorded failure so the next run starts clean. Merged pair counts are
// durable, so a requeued job re-merges its rows on the next run.
func (c *Client) RequeueJob(ctx context.Context, id string) (*models.Job, error) {
	results, err := surrealQuery[[]models.Job](ctx, c, `
		UPDATE type::record("job", $id) SET
			status = "queued",
			rows_total = 0,
			rows_processed = 0,
			tokens_in = 0,
			tokens_out = 0,
			output_key = NONE,
			snapshot_key = NONE,
			error = NONE,
			started_at = NONE,
			finished_at = NONE
		RETURN AFTER
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("requeue job: %w", wrapQueryError(err))
	}

	job, ok := firstResult(results)
	if !ok {
		return nil, fmt.Errorf("requeue job %s: %w", id, ErrNotFound)
	}
	return job, nil
}
