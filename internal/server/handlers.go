package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/clinrel/clinrel-go/internal/blob"
	"github.com/clinrel/clinrel-go/internal/db"
	"github.com/clinrel/clinrel-go/internal/models"
)

// maxUploadBytes caps accepted upload size at 64 MiB.
const maxUploadBytes = 64 << 20

// jobView is the API representation of a job.
type jobView struct {
	ID            string     `json:"id"`
	OwnerID       string     `json:"owner_id"`
	Status        string     `json:"status"`
	OriginalName  string     `json:"original_name"`
	RowsTotal     int        `json:"rows_total"`
	RowsProcessed int        `json:"rows_processed"`
	TokensIn      int        `json:"tokens_in"`
	TokensOut     int        `json:"tokens_out"`
	Error         *string    `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

func viewOf(job *models.Job) jobView {
	return jobView{
		ID:            models.MustRecordIDString(job.ID),
		OwnerID:       job.OwnerID,
		Status:        string(job.Status),
		OriginalName:  job.OriginalName,
		RowsTotal:     job.RowsTotal,
		RowsProcessed: job.RowsProcessed,
		TokensIn:      job.TokensIn,
		TokensOut:     job.TokensOut,
		Error:         job.Error,
		CreatedAt:     job.CreatedAt,
		StartedAt:     job.StartedAt,
		FinishedAt:    job.FinishedAt,
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if s.collector != nil {
		snap := s.collector.Snapshot()
		resp["uptime_seconds"] = snap.UptimeSeconds
		resp["jobs_completed"] = snap.JobsCompleted
		resp["jobs_failed"] = snap.JobsFailed
	}
	c.JSON(http.StatusOK, resp)
}

// handleUpload accepts a CSV upload, stores it and enqueues a job. The file
// content is not validated here: structural problems surface as a failed job
// so the submitter always gets a job to inspect.
func (s *Server) handleUpload(c *gin.Context) {
	ownerID := c.GetHeader("X-Owner-ID")
	if ownerID == "" {
		ownerID = "anonymous"
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read upload: " + err.Error()})
		return
	}
	if len(data) > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload exceeds size limit"})
		return
	}

	uploadKey := "uploads/" + uuid.NewString() + ".csv"
	if err := s.blobs.Put(c.Request.Context(), uploadKey, data); err != nil {
		s.logger.Error("failed to store upload", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store upload"})
		return
	}

	job, err := s.jobs.CreateJob(c.Request.Context(), ownerID, uploadKey, header.Filename)
	if err != nil {
		s.logger.Error("failed to create job", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create job"})
		return
	}

	s.logger.Info("upload accepted",
		"job_id", models.MustRecordIDString(job.ID),
		"owner_id", ownerID,
		"bytes", len(data))
	c.JSON(http.StatusAccepted, viewOf(job))
}

func (s *Server) handleListJobs(c *gin.Context) {
	jobs, err := s.jobs.ListJobs(c.Request.Context(), c.Query("owner"), 50)
	if err != nil {
		s.logger.Error("failed to list jobs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list jobs"})
		return
	}

	views := make([]jobView, 0, len(jobs))
	for i := range jobs {
		views = append(views, viewOf(&jobs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"jobs": views})
}

func (s *Server) handleGetJob(c *gin.Context) {
	job, err := s.jobs.GetJob(c.Request.Context(), c.Param("id"))
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		s.logger.Error("failed to get job", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get job"})
		return
	}
	c.JSON(http.StatusOK, viewOf(job))
}

// handleRequeue resets a job back to queued regardless of its current
// status, clearing prior progress and output. A job whose worker crashed
// mid-run stays in running forever; this route is the recovery path, so it
// must not refuse non-terminal jobs.
func (s *Server) handleRequeue(c *gin.Context) {
	id := c.Param("id")

	requeued, err := s.jobs.RequeueJob(c.Request.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		s.logger.Error("failed to requeue job", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "requeue job"})
		return
	}

	s.logger.Info("job requeued", "job_id", id)
	c.JSON(http.StatusOK, viewOf(requeued))
}

func (s *Server) handleDownloadOutput(c *gin.Context) {
	s.serveArtifact(c, func(job *models.Job) *string { return job.OutputKey }, "-enriched.csv")
}

func (s *Server) handleDownloadSnapshot(c *gin.Context) {
	s.serveArtifact(c, func(job *models.Job) *string { return job.SnapshotKey }, "-snapshot.csv")
}

func (s *Server) serveArtifact(c *gin.Context, keyOf func(*models.Job) *string, suffix string) {
	job, err := s.jobs.GetJob(c.Request.Context(), c.Param("id"))
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		s.logger.Error("failed to get job", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get job"})
		return
	}

	key := keyOf(job)
	if job.Status != models.JobStatusCompleted || key == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "job has no artifact yet"})
		return
	}

	data, err := s.blobs.Get(c.Request.Context(), *key)
	if errors.Is(err, blob.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "artifact not found"})
		return
	}
	if err != nil {
		s.logger.Error("failed to read artifact", "key", *key, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read artifact"})
		return
	}

	name := job.OriginalName
	if name == "" {
		name = models.MustRecordIDString(job.ID)
	}
	c.Header("Content-Disposition", `attachment; filename="`+name+suffix+`"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}
