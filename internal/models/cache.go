package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// CacheEntry is one cached classifier call, keyed by the hash of
// (model, rendered prompt). Lookups are exact-match only.
type CacheEntry struct {
	ID        surrealmodels.RecordID `json:"id"`
	PromptKey string                 `json:"prompt_key"`
	Model     string                 `json:"model"`
	Result    string                 `json:"result"`
	TokensIn  int                    `json:"tokens_in"`
	TokensOut int                    `json:"tokens_out"`
	CreatedAt time.Time              `json:"created_at"`
}
