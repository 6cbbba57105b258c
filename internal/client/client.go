// Package client provides an HTTP client for the clinrel server API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Client talks to the clinrel server API.
type Client struct {
	baseURL    string
	ownerID    string
	httpClient *http.Client
}

// New creates a client for the given base URL. If baseURL is empty, uses the
// CLINREL_SERVER_URL env var or defaults to localhost:8486. The request
// timeout can be set via CLINREL_CLIENT_TIMEOUT.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("CLINREL_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8486"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	timeout := 2 * time.Minute
	if t := os.Getenv("CLINREL_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL: baseURL,
		ownerID: os.Getenv("CLINREL_OWNER_ID"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Job is the API representation of an upload processing job.
type Job struct {
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

// Terminal reports whether the job has finished, successfully or not.
func (j *Job) Terminal() bool {
	return j.Status == "completed" || j.Status == "failed"
}

// apiError is the error payload the server returns for non-2xx responses.
type apiError struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.ownerID != "" {
		req.Header.Set("X-Owner-ID", c.ownerID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server error: %s - %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("server error: %s - %s", resp.Status, string(data))
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// Upload submits a CSV file and returns the queued job.
func (c *Client) Upload(ctx context.Context, path string) (*Job, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", file.Name())
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(fw, file); err != nil {
		return nil, fmt.Errorf("copy upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("finish multipart body: %w", err)
	}

	var job Job
	if err := c.do(ctx, http.MethodPost, "/api/uploads", &buf, mw.FormDataContentType(), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns jobs, optionally filtered by owner.
func (c *Client) ListJobs(ctx context.Context, owner string) ([]Job, error) {
	path := "/api/jobs"
	if owner != "" {
		path += "?owner=" + owner
	}

	var result struct {
		Jobs []Job `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, "", &result); err != nil {
		return nil, err
	}
	return result.Jobs, nil
}

// GetJob retrieves a job by ID.
func (c *Client) GetJob(ctx context.Context, id string) (*Job, error) {
	var job Job
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+id, nil, "", &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// RequeueJob resets a terminal job back to queued.
func (c *Client) RequeueJob(ctx context.Context, id string) (*Job, error) {
	var job Job
	if err := c.do(ctx, http.MethodPost, "/api/jobs/"+id+"/requeue", nil, "", &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// DownloadOutput writes the job's enriched CSV artifact to w.
func (c *Client) DownloadOutput(ctx context.Context, id string, w io.Writer) error {
	return c.download(ctx, "/api/jobs/"+id+"/output", w)
}

// DownloadSnapshot writes the job's pair snapshot CSV to w.
func (c *Client) DownloadSnapshot(ctx context.Context, id string, w io.Writer) error {
	return c.download(ctx, "/api/jobs/"+id+"/snapshot", w)
}

func (c *Client) download(ctx context.Context, path string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server error: %s - %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("server error: %s", resp.Status)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}

// WatchJob subscribes to the job's progress stream and invokes onUpdate for
// each frame. Returns when the job reaches a terminal status, the stream
// closes, or the context is cancelled. onUpdate may return an error to stop
// watching early.
func (c *Client) WatchJob(ctx context.Context, id string, onUpdate func(Job) error) error {
	wsURL := c.baseURL
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL += "/api/jobs/" + id + "/ws"

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("websocket connect: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var job Job
		if err := conn.ReadJSON(&job); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read progress frame: %w", err)
		}
		if err := onUpdate(job); err != nil {
			return err
		}
		if job.Terminal() {
			return nil
		}
	}
}
