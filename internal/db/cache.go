package db

import (
	"context"
	"fmt"
	"time"

	"github.com/clinrel/clinrel-go/internal/models"
)

// CacheStore adapts the client to the classifier's cache interface. The
// cache is content-addressed: the prompt hash is both the record ID and the
// unique prompt_key field, so concurrent writes for the same prompt collapse
// into a last-write-wins upsert.
type CacheStore struct {
	client *Client
}

// CacheStore returns the classifier cache view of this client.
func (c *Client) CacheStore() *CacheStore {
	return &CacheStore{client: c}
}

// Get returns the cached entry for a prompt key, or nil on a miss.
func (s *CacheStore) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	results, err := surrealQuery[[]models.CacheEntry](ctx, s.client, `
		SELECT * FROM type::record("llm_cache", $key)
	`, map[string]any{"key": key})
	if err != nil {
		return nil, fmt.Errorf("get cache entry: %w", wrapQueryError(err))
	}

	entry, ok := firstResult(results)
	if !ok {
		return nil, nil
	}
	return entry, nil
}

// Put stores a cache entry under its prompt key.
func (s *CacheStore) Put(ctx context.Context, entry models.CacheEntry) error {
	_, err := surrealQuery[any](ctx, s.client, `
		UPSERT type::record("llm_cache", $key) SET
			prompt_key = $key,
			model = $model,
			result = $result,
			tokens_in = $tokens_in,
			tokens_out = $tokens_out,
			created_at = IF created_at THEN created_at ELSE time::now() END
	`, map[string]any{
		"key":        entry.PromptKey,
		"model":      entry.Model,
		"result":     entry.Result,
		"tokens_in":  entry.TokensIn,
		"tokens_out": entry.TokensOut,
	})
	if err != nil {
		return fmt.Errorf("put cache entry: %w", wrapQueryError(err))
	}
	return nil
}

// PruneCache deletes cache entries older than maxAge and returns how many
// were removed.
func (c *Client) PruneCache(ctx context.Context, maxAge time.Duration) (int, error) {
	results, err := surrealQuery[[]models.CacheEntry](ctx, c, `
		DELETE llm_cache
		WHERE created_at < time::now() - duration::from::secs($secs)
		RETURN BEFORE
	`, map[string]any{"secs": int64(maxAge.Seconds())})
	if err != nil {
		return 0, fmt.Errorf("prune cache: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return 0, nil
	}
	return len((*results)[0].Result), nil
}
