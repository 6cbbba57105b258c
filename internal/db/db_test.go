// Package db provides integration tests for SurrealDB operations.
package db

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/clinrel/clinrel-go/internal/models"
	"github.com/clinrel/clinrel-go/internal/stats"
)

var testDB *Client
var testContainer testcontainers.Container

// TestMain sets up and tears down the SurrealDB container for all tests.
func TestMain(m *testing.M) {
	// Disable ryuk (cleanup container) as it can cause issues in some environments
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	var err error
	testContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start SurrealDB container: %v", err)
	}

	host, err := testContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	// Workaround: testcontainers may return "null" as host in some environments
	if host == "" || host == "null" {
		host = "localhost"
	}
	mappedPort, err := testContainer.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	testDB, err = NewClient(ctx, Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, mappedPort.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, nil)
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := testDB.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	code := m.Run()

	_ = testDB.Close(ctx)
	_ = testContainer.Terminate(ctx)

	os.Exit(code)
}

func testIdentity() models.PairIdentity {
	return models.PairIdentity{
		ConceptA: "Hypertension", CodeA: "I10", SystemA: "ICD10", TypeA: "condition",
		ConceptB: "Metformin", CodeB: "6809", SystemB: "RxNorm", TypeB: "drug",
	}
}

func testCounts() models.PairCounts {
	return models.PairCounts{
		CoocObs: 10, NA: 80, NB: 40, TotalPersons: 1000,
		CoocEventCount: 12, ABeforeB: 8, BBeforeA: 4,
	}
}

// =============================================================================
// JOB TESTS
// =============================================================================

func TestCreateAndGetJob(t *testing.T) {
	ctx := context.Background()

	job, err := testDB.CreateJob(ctx, "owner-1", "uploads/u1.csv", "cohort.csv")
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if job.Status != models.JobStatusQueued {
		t.Errorf("Expected status queued, got %q", job.Status)
	}
	if job.UploadKey != "uploads/u1.csv" {
		t.Errorf("Expected upload key 'uploads/u1.csv', got %q", job.UploadKey)
	}
	if job.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set on create")
	}

	fetched, err := testDB.GetJob(ctx, models.MustRecordIDString(job.ID))
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if fetched.OriginalName != "cohort.csv" {
		t.Errorf("Expected original name 'cohort.csv', got %q", fetched.OriginalName)
	}

	_, err = testDB.GetJob(ctx, "no-such-job")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetJob with unknown ID should return ErrNotFound, got %v", err)
	}
}

func TestClaimJob(t *testing.T) {
	ctx := context.Background()

	job, err := testDB.CreateJob(ctx, "owner-1", "uploads/claim.csv", "claim.csv")
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	id := models.MustRecordIDString(job.ID)

	claimed, err := testDB.ClaimJob(ctx, id)
	if err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}
	if claimed.Status != models.JobStatusRunning {
		t.Errorf("Expected status running, got %q", claimed.Status)
	}
	if claimed.StartedAt == nil {
		t.Error("StartedAt should be set on claim")
	}

	// Second claim must be rejected without modifying the job
	_, err = testDB.ClaimJob(ctx, id)
	if !errors.Is(err, ErrAlreadyClaimed) {
		t.Errorf("Second claim should return ErrAlreadyClaimed, got %v", err)
	}

	fetched, err := testDB.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob after double claim failed: %v", err)
	}
	if fetched.Status != models.JobStatusRunning {
		t.Errorf("Job should stay running after rejected claim, got %q", fetched.Status)
	}
}

func TestClaimJob_Concurrent(t *testing.T) {
	ctx := context.Background()

	job, err := testDB.CreateJob(ctx, "owner-1", "uploads/race.csv", "race.csv")
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	id := models.MustRecordIDString(job.ID)

	const workers = 8
	var wg sync.WaitGroup
	wins := make(chan struct{}, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := testDB.ClaimJob(ctx, id); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	if got := len(wins); got != 1 {
		t.Errorf("Exactly one worker should win the claim, got %d", got)
	}
}

func TestCompleteJob(t *testing.T) {
	ctx := context.Background()

	job, err := testDB.CreateJob(ctx, "owner-1", "uploads/done.csv", "done.csv")
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	id := models.MustRecordIDString(job.ID)

	if _, err := testDB.ClaimJob(ctx, id); err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}

	err = testDB.CompleteJob(ctx, id, "outputs/done.csv", "snapshots/done.csv", 100, 100, 1200, 340)
	if err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}

	fetched, err := testDB.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if fetched.Status != models.JobStatusCompleted {
		t.Errorf("Expected status completed, got %q", fetched.Status)
	}
	if fetched.OutputKey == nil || *fetched.OutputKey != "outputs/done.csv" {
		t.Errorf("OutputKey = %v, want outputs/done.csv", fetched.OutputKey)
	}
	if fetched.FinishedAt == nil {
		t.Error("FinishedAt should be set on completion")
	}
	if fetched.TokensIn != 1200 || fetched.TokensOut != 340 {
		t.Errorf("Token totals = (%d, %d), want (1200, 340)", fetched.TokensIn, fetched.TokensOut)
	}
}

func TestFailJob(t *testing.T) {
	ctx := context.Background()

	job, err := testDB.CreateJob(ctx, "owner-1", "uploads/fail.csv", "fail.csv")
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	id := models.MustRecordIDString(job.ID)

	if _, err := testDB.ClaimJob(ctx, id); err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}

	longCause := ""
	for range 200 {
		longCause += "0123456789"
	}
	if err := testDB.FailJob(ctx, id, longCause); err != nil {
		t.Fatalf("FailJob failed: %v", err)
	}

	fetched, err := testDB.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if fetched.Status != models.JobStatusFailed {
		t.Errorf("Expected status failed, got %q", fetched.Status)
	}
	if fetched.Error == nil || len(*fetched.Error) != failureCauseLimit {
		t.Errorf("Failure cause should be truncated to %d chars", failureCauseLimit)
	}

	// Failing an unknown job must not error
	if err := testDB.FailJob(ctx, "no-such-job", "whatever"); err != nil {
		t.Errorf("FailJob on unknown job should be a no-op, got %v", err)
	}
}

func TestTruncateCause_RuneBoundary(t *testing.T) {
	// 400 three-byte runes; the byte limit falls mid-rune and must back up.
	multibyte := strings.Repeat("日", 400)
	got := truncateCause(multibyte)
	if len(got) != 999 {
		t.Errorf("truncated length = %d bytes, want 999 (rune boundary below %d)", len(got), failureCauseLimit)
	}
	if !utf8.ValidString(got) {
		t.Error("truncated cause is not valid UTF-8")
	}

	ascii := strings.Repeat("x", failureCauseLimit)
	if truncateCause(ascii) != ascii {
		t.Error("cause at the limit must pass through untouched")
	}
}

func TestRequeueJob(t *testing.T) {
	ctx := context.Background()

	job, err := testDB.CreateJob(ctx, "owner-1", "uploads/requeue.csv", "requeue.csv")
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	id := models.MustRecordIDString(job.ID)

	if _, err := testDB.ClaimJob(ctx, id); err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}
	if err := testDB.FailJob(ctx, id, "transient upstream error"); err != nil {
		t.Fatalf("FailJob failed: %v", err)
	}

	requeued, err := testDB.RequeueJob(ctx, id)
	if err != nil {
		t.Fatalf("RequeueJob failed: %v", err)
	}
	if requeued.Status != models.JobStatusQueued {
		t.Errorf("Expected status queued, got %q", requeued.Status)
	}
	if requeued.Error != nil || requeued.StartedAt != nil || requeued.FinishedAt != nil {
		t.Error("Requeue should clear error and timestamps")
	}
	if requeued.RowsProcessed != 0 || requeued.TokensIn != 0 {
		t.Error("Requeue should reset progress counters")
	}

	// Requeued job is claimable again
	if _, err := testDB.ClaimJob(ctx, id); err != nil {
		t.Errorf("Requeued job should be claimable, got %v", err)
	}

	_, err = testDB.RequeueJob(ctx, "no-such-job")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("RequeueJob with unknown ID should return ErrNotFound, got %v", err)
	}
}

func TestNextQueuedJob(t *testing.T) {
	ctx := context.Background()

	if err := testDB.WipeData(ctx); err != nil {
		t.Fatalf("WipeData failed: %v", err)
	}

	if _, err := testDB.NextQueuedJob(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("Empty queue should return ErrNotFound, got %v", err)
	}

	first, err := testDB.CreateJob(ctx, "owner-1", "uploads/first.csv", "first.csv")
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if _, err := testDB.CreateJob(ctx, "owner-1", "uploads/second.csv", "second.csv"); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	next, err := testDB.NextQueuedJob(ctx)
	if err != nil {
		t.Fatalf("NextQueuedJob failed: %v", err)
	}
	if models.MustRecordIDString(next.ID) != models.MustRecordIDString(first.ID) {
		t.Error("NextQueuedJob should return the oldest queued job")
	}
}

// =============================================================================
// PAIR RECORD TESTS
// =============================================================================

func TestMergeCounts_CreateThenMerge(t *testing.T) {
	ctx := context.Background()
	key := "I10|ICD10__6809|RxNorm"

	created, err := testDB.MergeCounts(ctx, key, testIdentity(), testCounts())
	if err != nil {
		t.Fatalf("First MergeCounts failed: %v", err)
	}
	if created.CoocObs != 10 || created.TotalPersons != 1000 {
		t.Errorf("First merge counts = (%d, %d), want (10, 1000)", created.CoocObs, created.TotalPersons)
	}
	if created.SourceCount != 1 {
		t.Errorf("SourceCount = %d, want 1", created.SourceCount)
	}
	if created.ConceptA != "Hypertension" {
		t.Errorf("ConceptA = %q", created.ConceptA)
	}

	// Second merge increments counts and bumps source_count
	merged, err := testDB.MergeCounts(ctx, key, testIdentity(), models.PairCounts{
		CoocObs: 5, NA: 40, NB: 20, TotalPersons: 1000,
		CoocEventCount: 6, ABeforeB: 4, BBeforeA: 2,
	})
	if err != nil {
		t.Fatalf("Second MergeCounts failed: %v", err)
	}
	if merged.CoocObs != 15 || merged.NA != 120 || merged.TotalPersons != 2000 {
		t.Errorf("Merged counts = (%d, %d, %d), want (15, 120, 2000)",
			merged.CoocObs, merged.NA, merged.TotalPersons)
	}
	if merged.SourceCount != 2 {
		t.Errorf("SourceCount = %d, want 2", merged.SourceCount)
	}
}

func TestMergeCounts_IdentityKeepsFirstSeen(t *testing.T) {
	ctx := context.Background()
	key := "first-seen__identity"

	identity := testIdentity()
	identity.ConceptA = "Original Name"
	if _, err := testDB.MergeCounts(ctx, key, identity, testCounts()); err != nil {
		t.Fatalf("First MergeCounts failed: %v", err)
	}

	identity.ConceptA = "Renamed Concept"
	merged, err := testDB.MergeCounts(ctx, key, identity, testCounts())
	if err != nil {
		t.Fatalf("Second MergeCounts failed: %v", err)
	}
	if merged.ConceptA != "Original Name" {
		t.Errorf("ConceptA = %q, identity must keep first-seen values", merged.ConceptA)
	}
}

func TestUpdateStats(t *testing.T) {
	ctx := context.Background()
	key := "stats__pair"

	merged, err := testDB.MergeCounts(ctx, key, testIdentity(), testCounts())
	if err != nil {
		t.Fatalf("MergeCounts failed: %v", err)
	}

	computed := stats.Compute(stats.Counts{
		CoocObs:      merged.CoocObs,
		NA:           merged.NA,
		NB:           merged.NB,
		TotalPersons: merged.TotalPersons,
		ABeforeB:     merged.ABeforeB,
		BBeforeA:     merged.BBeforeA,
	})
	derived := models.PairStats{
		ExpectedObs:         computed.ExpectedObs,
		Lift:                computed.Lift,
		LiftLower95:         computed.LiftLower95,
		LiftUpper95:         computed.LiftUpper95,
		ZScore:              computed.ZScore,
		OddsRatio:           computed.OddsRatio,
		OddsRatioLower95:    computed.OddsRatioLower95,
		OddsRatioUpper95:    computed.OddsRatioUpper95,
		DirectionalityRatio: computed.DirectionalityRatio,
		DirLower95:          computed.DirLower95,
		DirUpper95:          computed.DirUpper95,
		ConfidenceAToB:      computed.ConfidenceAToB,
		ConfidenceBToA:      computed.ConfidenceBToA,
	}
	if err := testDB.UpdateStats(ctx, key, derived); err != nil {
		t.Fatalf("UpdateStats failed: %v", err)
	}

	fetched, err := testDB.GetRecord(ctx, key)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if fetched.Lift != derived.Lift {
		t.Errorf("Lift = %v, want %v", fetched.Lift, derived.Lift)
	}
	if fetched.ExpectedObs != derived.ExpectedObs {
		t.Errorf("ExpectedObs = %v, want %v", fetched.ExpectedObs, derived.ExpectedObs)
	}

	if err := testDB.UpdateStats(ctx, "no-such-pair", derived); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateStats on unknown pair should return ErrNotFound, got %v", err)
	}
}

func TestApplyClassification_WriteOnce(t *testing.T) {
	ctx := context.Background()
	key := "classify__once"

	if _, err := testDB.MergeCounts(ctx, key, testIdentity(), testCounts()); err != nil {
		t.Fatalf("MergeCounts failed: %v", err)
	}

	applied, err := testDB.ApplyClassification(ctx, key, models.Classification{
		RelType:   "comorbid_tx",
		RelLabel:  "Treatment for comorbidity",
		Rationale: "Common comorbidity treatment pattern.",
		Model:     "test-model",
	})
	if err != nil {
		t.Fatalf("ApplyClassification failed: %v", err)
	}
	if !applied {
		t.Error("First classification should apply")
	}

	// Second attempt is a no-op and preserves the original values
	applied, err = testDB.ApplyClassification(ctx, key, models.Classification{
		RelType:  "different",
		RelLabel: "Different label",
		Model:    "other-model",
	})
	if err != nil {
		t.Fatalf("Second ApplyClassification failed: %v", err)
	}
	if applied {
		t.Error("Second classification should be a no-op")
	}

	fetched, err := testDB.GetRecord(ctx, key)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if fetched.RelType != "comorbid_tx" {
		t.Errorf("RelType = %q, classification must be write-once", fetched.RelType)
	}
	if fetched.ClassifiedAt == nil {
		t.Error("ClassifiedAt should be set")
	}
}

func TestGetRecords_SortedByPairKey(t *testing.T) {
	ctx := context.Background()

	keys := []string{"zz__pair", "aa__pair", "mm__pair"}
	for _, key := range keys {
		if _, err := testDB.MergeCounts(ctx, key, testIdentity(), testCounts()); err != nil {
			t.Fatalf("MergeCounts for %s failed: %v", key, err)
		}
	}

	records, err := testDB.GetRecords(ctx, append(keys, "missing__pair"))
	if err != nil {
		t.Fatalf("GetRecords failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i-1].PairKey > records[i].PairKey {
			t.Errorf("Records not sorted: %q before %q", records[i-1].PairKey, records[i].PairKey)
		}
	}

	empty, err := testDB.GetRecords(ctx, nil)
	if err != nil {
		t.Fatalf("GetRecords with no keys failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Expected empty result, got %d", len(empty))
	}
}

// =============================================================================
// CLASSIFICATION CACHE TESTS
// =============================================================================

func TestCacheStore(t *testing.T) {
	ctx := context.Background()
	store := testDB.CacheStore()

	// Miss returns nil without error
	entry, err := store.Get(ctx, "deadbeef")
	if err != nil {
		t.Fatalf("Get on empty cache failed: %v", err)
	}
	if entry != nil {
		t.Error("Get on empty cache should return nil")
	}

	err = store.Put(ctx, models.CacheEntry{
		PromptKey: "deadbeef",
		Model:     "test-model",
		Result:    `{"rel_type":"comorbid_tx"}`,
		TokensIn:  100,
		TokensOut: 40,
	})
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	entry, err = store.Get(ctx, "deadbeef")
	if err != nil {
		t.Fatalf("Get after Put failed: %v", err)
	}
	if entry == nil {
		t.Fatal("Get after Put should return the entry")
	}
	if entry.Model != "test-model" || entry.TokensIn != 100 {
		t.Errorf("Entry = %+v", entry)
	}
	if entry.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}

	// Put on the same key upserts rather than failing the unique index
	if err := store.Put(ctx, models.CacheEntry{
		PromptKey: "deadbeef",
		Model:     "test-model",
		Result:    `{"rel_type":"replaced"}`,
	}); err != nil {
		t.Fatalf("Second Put failed: %v", err)
	}
}

func TestPruneCache(t *testing.T) {
	ctx := context.Background()
	store := testDB.CacheStore()

	if err := store.Put(ctx, models.CacheEntry{
		PromptKey: "prune-me",
		Model:     "test-model",
		Result:    "{}",
	}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Nothing is older than an hour yet
	pruned, err := testDB.PruneCache(ctx, time.Hour)
	if err != nil {
		t.Fatalf("PruneCache failed: %v", err)
	}
	if pruned != 0 {
		t.Errorf("Pruned %d entries, want 0", pruned)
	}

	// A zero max age prunes everything
	pruned, err = testDB.PruneCache(ctx, 0)
	if err != nil {
		t.Fatalf("PruneCache failed: %v", err)
	}
	if pruned == 0 {
		t.Error("Expected at least one pruned entry")
	}

	entry, err := store.Get(ctx, "prune-me")
	if err != nil {
		t.Fatalf("Get after prune failed: %v", err)
	}
	if entry != nil {
		t.Error("Entry should be gone after prune")
	}
}
