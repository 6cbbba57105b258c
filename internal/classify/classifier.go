package classify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/clinrel/clinrel-go/internal/llm"
	"github.com/clinrel/clinrel-go/internal/models"
)

// Field length caps applied to parsed classifier output.
const (
	maxRelType   = 32
	maxRelLabel  = 64
	maxRationale = 500
)

// Fallback classification for responses that cannot be parsed. Non-fatal:
// an unparseable response must never abort a job.
const (
	UnparseableRelType  = "unparseable"
	unparseableRelLabel = "Unparseable classifier response"
)

// Result is one classification outcome.
type Result struct {
	RelType   string
	RelLabel  string
	Rationale string
	TokensIn  int
	TokensOut int
	FromCache bool
}

// Cache is the content-addressed store for raw classifier results.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the entry for key, or nil when absent.
	Get(ctx context.Context, key string) (*models.CacheEntry, error)
	// Put stores an entry under its key; last write wins on races.
	Put(ctx context.Context, entry models.CacheEntry) error
}

// Generator produces classifier completions. *llm.Model satisfies it.
type Generator interface {
	Model() string
	GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, llm.Usage, error)
}

// Classifier performs cached relationship classification calls.
type Classifier struct {
	gen    Generator
	cache  Cache
	logger *slog.Logger
}

// NewClassifier creates a classifier backed by the given generator and cache.
func NewClassifier(gen Generator, cache Cache, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{gen: gen, cache: cache, logger: logger}
}

// Model returns the classifier's model identifier.
func (c *Classifier) Model() string {
	return c.gen.Model()
}

// Lookup checks the cache for a previously stored classification of the
// pair. Returns nil on a miss. A hit issues no external call.
func (c *Classifier) Lookup(ctx context.Context, pair Pair) (*Result, error) {
	key := CacheKey(c.gen.Model(), PromptFor(pair))
	entry, err := c.cache.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}

	result := parseResult(entry.Result)
	result.TokensIn = entry.TokensIn
	result.TokensOut = entry.TokensOut
	result.FromCache = true
	return &result, nil
}

// ClassifyFresh invokes the external classifier, persists the raw response
// under the cache key and returns the parsed result. The cache write is not
// transactional with the call: a duplicate call on a race is tolerated
// because output is deterministic per prompt at temperature zero.
func (c *Classifier) ClassifyFresh(ctx context.Context, pair Pair) (Result, error) {
	prompt := PromptFor(pair)
	key := CacheKey(c.gen.Model(), prompt)

	raw, usage, err := c.gen.GenerateWithSystem(ctx, systemPrompt, prompt)
	if err != nil {
		return Result{}, err
	}

	entry := models.CacheEntry{
		PromptKey: key,
		Model:     c.gen.Model(),
		Result:    raw,
		TokensIn:  usage.PromptTokens,
		TokensOut: usage.CompletionTokens,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.cache.Put(ctx, entry); err != nil {
		c.logger.Warn("failed to cache classification", "pair_key", pair.PairKey, "error", err)
	}

	result := parseResult(raw)
	result.TokensIn = usage.PromptTokens
	result.TokensOut = usage.CompletionTokens
	return result, nil
}

// Classify returns the cached result for the pair, or performs and caches a
// fresh classification on a miss.
func (c *Classifier) Classify(ctx context.Context, pair Pair) (Result, error) {
	if cached, err := c.Lookup(ctx, pair); err != nil {
		return Result{}, err
	} else if cached != nil {
		return *cached, nil
	}
	return c.ClassifyFresh(ctx, pair)
}

// resultPayload is the structured payload the classifier is asked to return.
type resultPayload struct {
	RelType   string `json:"rel_type"`
	RelLabel  string `json:"rel_label"`
	Rationale string `json:"rationale"`
}

// parseResult parses the raw classifier response, yielding the unparseable
// fallback rather than an error for anything that is not the expected JSON.
func parseResult(raw string) Result {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var payload resultPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil || (payload.RelType == "" && payload.RelLabel == "") {
		return Result{
			RelType:   UnparseableRelType,
			RelLabel:  unparseableRelLabel,
			Rationale: truncate(text, maxRationale),
		}
	}

	return Result{
		RelType:   truncate(payload.RelType, maxRelType),
		RelLabel:  truncate(payload.RelLabel, maxRelLabel),
		Rationale: truncate(payload.Rationale, maxRationale),
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
