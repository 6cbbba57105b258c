package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestSetupLoggerWithWriters_FansOutBothStreams(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Info("upload accepted", "job_id", "abc123")

	if !strings.Contains(stderr.String(), "upload accepted") {
		t.Errorf("stderr output missing message: %q", stderr.String())
	}

	var record map[string]any
	if err := json.Unmarshal(file.Bytes(), &record); err != nil {
		t.Fatalf("file output is not JSON: %v (%q)", err, file.String())
	}
	if record["msg"] != "upload accepted" || record["job_id"] != "abc123" {
		t.Errorf("file record = %v, want msg and attrs preserved", record)
	}
}

func TestSetupLoggerWithWriters_RespectsLevel(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelWarn)

	logger.Debug("poll tick")
	logger.Info("poll tick")

	if stderr.Len() != 0 || file.Len() != 0 {
		t.Errorf("records below the level must be dropped, got stderr=%q file=%q", stderr.String(), file.String())
	}
}
