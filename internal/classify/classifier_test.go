package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/clinrel/clinrel-go/internal/llm"
	"github.com/clinrel/clinrel-go/internal/models"
)

// memCache is an in-memory Cache for tests.
type memCache struct {
	mu      sync.Mutex
	entries map[string]models.CacheEntry
	puts    int
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]models.CacheEntry)}
}

func (c *memCache) Get(_ context.Context, key string) (*models.CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (c *memCache) Put(_ context.Context, entry models.CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.PromptKey] = entry
	c.puts++
	return nil
}

// fakeGen is a scriptable Generator.
type fakeGen struct {
	mu       sync.Mutex
	calls    int
	failures int // number of leading calls that fail
	response string
}

func (g *fakeGen) Model() string { return "test-model" }

func (g *fakeGen) GenerateWithSystem(_ context.Context, _, _ string) (string, llm.Usage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.calls <= g.failures {
		return "", llm.Usage{}, errors.New("upstream timeout")
	}
	return g.response, llm.Usage{PromptTokens: 11, CompletionTokens: 7}, nil
}

func testPair(key string) Pair {
	return Pair{
		PairKey: key,
		Identity: models.PairIdentity{
			ConceptA: "Hypertension", CodeA: "I10", SystemA: "ICD10", TypeA: "condition",
			ConceptB: "Metformin", CodeB: "6809", SystemB: "RxNorm", TypeB: "drug",
		},
		Lift: 4.17,
	}
}

const goodResponse = `{"rel_type":"comorbid_tx","rel_label":"Treatment for comorbidity","rationale":"Metformin treats diabetes commonly comorbid with hypertension."}`

func TestPromptFor_Deterministic(t *testing.T) {
	p := testPair("a__b")
	if PromptFor(p) != PromptFor(p) {
		t.Fatal("PromptFor must be deterministic for identical inputs")
	}
	if !strings.Contains(PromptFor(p), "4.1700") {
		t.Errorf("prompt should embed lift evidence:\n%s", PromptFor(p))
	}

	noLift := p
	noLift.Lift = 0
	if strings.Contains(PromptFor(noLift), "lift") {
		t.Errorf("prompt should omit lift when unknown:\n%s", PromptFor(noLift))
	}
}

func TestCacheKey_DistinguishesModelAndPrompt(t *testing.T) {
	if CacheKey("m1", "p") == CacheKey("m2", "p") {
		t.Error("different models must produce different keys")
	}
	if CacheKey("m", "p1") == CacheKey("m", "p2") {
		t.Error("different prompts must produce different keys")
	}
	if len(CacheKey("m", "p")) != 64 {
		t.Error("cache key should be a sha256 hex digest")
	}
}

func TestClassify_SecondCallHitsCache(t *testing.T) {
	gen := &fakeGen{response: goodResponse}
	cache := newMemCache()
	c := NewClassifier(gen, cache, nil)
	ctx := context.Background()

	first, err := c.Classify(ctx, testPair("a__b"))
	if err != nil {
		t.Fatalf("first Classify() error = %v", err)
	}
	if first.FromCache {
		t.Error("first call should not come from cache")
	}
	if first.RelType != "comorbid_tx" {
		t.Errorf("RelType = %q", first.RelType)
	}

	second, err := c.Classify(ctx, testPair("a__b"))
	if err != nil {
		t.Fatalf("second Classify() error = %v", err)
	}
	if !second.FromCache {
		t.Error("second call should hit the cache")
	}
	if gen.calls != 1 {
		t.Errorf("external calls = %d, want 1", gen.calls)
	}
	if second.TokensIn != 11 || second.TokensOut != 7 {
		t.Errorf("cached usage = (%d, %d), want recorded usage", second.TokensIn, second.TokensOut)
	}
}

func TestClassify_UnparseableFallback(t *testing.T) {
	gen := &fakeGen{response: "I am not JSON at all"}
	c := NewClassifier(gen, newMemCache(), nil)

	result, err := c.Classify(context.Background(), testPair("a__b"))
	if err != nil {
		t.Fatalf("Classify() error = %v, unparseable must not be fatal", err)
	}
	if result.RelType != UnparseableRelType {
		t.Errorf("RelType = %q, want %q", result.RelType, UnparseableRelType)
	}
}

func TestClassify_CodeFencedJSON(t *testing.T) {
	gen := &fakeGen{response: "```json\n" + goodResponse + "\n```"}
	c := NewClassifier(gen, newMemCache(), nil)

	result, err := c.Classify(context.Background(), testPair("a__b"))
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if result.RelType != "comorbid_tx" {
		t.Errorf("RelType = %q, want fences stripped", result.RelType)
	}
}

func TestClassifyBatch_TransientFailureThenSuccess(t *testing.T) {
	gen := &fakeGen{response: goodResponse, failures: 2}
	cache := newMemCache()
	c := NewClassifier(gen, cache, nil)

	results, stats, err := c.ClassifyBatch(context.Background(), []Pair{testPair("a__b")}, BatchOptions{
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
	})
	if err != nil {
		t.Fatalf("ClassifyBatch() error = %v, want recovery on third attempt", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if cache.puts != 1 {
		t.Errorf("cache writes = %d, want exactly 1", cache.puts)
	}
	if stats.ExternalCalls != 3 {
		t.Errorf("ExternalCalls = %d, want 3 (every attempt dials out)", stats.ExternalCalls)
	}
}

func TestClassifyBatch_RetriesConsumeBudget(t *testing.T) {
	gen := &fakeGen{response: goodResponse, failures: 2}
	c := NewClassifier(gen, newMemCache(), nil)

	pairs := []Pair{testPair("a__b"), testPair("c__d")}
	pairs[1].Identity.ConceptA = "Asthma"
	pairs[1].Identity.CodeA = "J45"

	// Two failing attempts on the first pair drain the whole budget: its
	// third attempt and the second pair are both skipped, never erroring.
	results, stats, err := c.ClassifyBatch(context.Background(), pairs, BatchOptions{
		Concurrency: 1,
		MaxAttempts: 3,
		CallBudget:  2,
		Backoff:     time.Millisecond,
	})
	if err != nil {
		t.Fatalf("ClassifyBatch() error = %v, budget exhaustion must not fail", err)
	}
	if gen.calls != 2 {
		t.Errorf("generator calls = %d, want exactly the budget of 2", gen.calls)
	}
	if stats.ExternalCalls != 2 {
		t.Errorf("ExternalCalls = %d, want 2", stats.ExternalCalls)
	}
	if stats.SkippedBudget != 2 {
		t.Errorf("SkippedBudget = %d, want 2", stats.SkippedBudget)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0 (both pairs left unclassified)", len(results))
	}
}

func TestClassifyBatch_RetriesExhausted(t *testing.T) {
	gen := &fakeGen{response: goodResponse, failures: 10}
	c := NewClassifier(gen, newMemCache(), nil)

	_, _, err := c.ClassifyBatch(context.Background(), []Pair{testPair("a__b")}, BatchOptions{
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
	})
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("error = %v, want ErrRetriesExhausted", err)
	}
}

func TestClassifyBatch_BudgetCap(t *testing.T) {
	gen := &fakeGen{response: goodResponse}
	c := NewClassifier(gen, newMemCache(), nil)

	pairs := make([]Pair, 5)
	for i := range pairs {
		p := testPair(fmt.Sprintf("p%d__q%d", i, i))
		p.Identity.ConceptA = fmt.Sprintf("Concept%d", i)
		p.Identity.CodeA = fmt.Sprintf("C%d", i)
		pairs[i] = p
	}

	results, stats, err := c.ClassifyBatch(context.Background(), pairs, BatchOptions{
		BatchSize:   2,
		Concurrency: 1,
		CallBudget:  3,
		Backoff:     time.Millisecond,
	})
	if err != nil {
		t.Fatalf("ClassifyBatch() error = %v, budget exhaustion must not fail", err)
	}
	if stats.ExternalCalls != 3 {
		t.Errorf("ExternalCalls = %d, want 3", stats.ExternalCalls)
	}
	if stats.SkippedBudget != 2 {
		t.Errorf("SkippedBudget = %d, want 2", stats.SkippedBudget)
	}
	if len(results) != 3 {
		t.Errorf("got %d results, want 3 (skipped pairs stay unclassified)", len(results))
	}
}

func TestClassifyBatch_CacheHitsAreFree(t *testing.T) {
	gen := &fakeGen{response: goodResponse}
	cache := newMemCache()
	c := NewClassifier(gen, cache, nil)
	ctx := context.Background()

	pair := testPair("a__b")
	if _, err := c.Classify(ctx, pair); err != nil {
		t.Fatalf("prime cache: %v", err)
	}

	results, stats, err := c.ClassifyBatch(ctx, []Pair{pair}, BatchOptions{CallBudget: 1})
	if err != nil {
		t.Fatalf("ClassifyBatch() error = %v", err)
	}
	if stats.CacheHits != 1 || stats.ExternalCalls != 0 {
		t.Errorf("stats = %+v, want one cache hit and zero calls", stats)
	}
	if !results[pair.PairKey].FromCache {
		t.Error("result should be marked FromCache")
	}
}
