// Package models defines data structures for the clinrel aggregation pipeline.
package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// JobStatus represents the state of an upload processing job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job represents a persisted upload processing job.
//
// Jobs are created queued by the submission layer; all other transitions
// belong to the worker, except requeue which resets a job back to queued.
type Job struct {
	ID           surrealmodels.RecordID `json:"id"`
	OwnerID      string                 `json:"owner_id"`
	Status       JobStatus              `json:"status"`
	UploadKey    string                 `json:"upload_key"`
	OriginalName string                 `json:"original_name"`

	RowsTotal     int `json:"rows_total"`
	RowsProcessed int `json:"rows_processed"`
	TokensIn      int `json:"tokens_in"`
	TokensOut     int `json:"tokens_out"`

	OutputKey   *string `json:"output_key,omitempty"`
	SnapshotKey *string `json:"snapshot_key,omitempty"`
	Error       *string `json:"error,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
