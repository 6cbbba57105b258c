package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// PairIdentity holds the descriptive attributes of both sides of a concept
// pair. Sides are not interchangeable: (A,B) and (B,A) are distinct pairs.
type PairIdentity struct {
	ConceptA string `json:"concept_a"`
	CodeA    string `json:"code_a"`
	SystemA  string `json:"system_a"`
	TypeA    string `json:"type_a"`
	ConceptB string `json:"concept_b"`
	CodeB    string `json:"code_b"`
	SystemB  string `json:"system_b"`
	TypeB    string `json:"type_b"`
}

// PairCounts holds the monotonically non-decreasing count fields of a pair
// record. Merging an upload increments these; they are never overwritten.
type PairCounts struct {
	CoocObs        int64 `json:"cooc_obs"`
	NA             int64 `json:"n_a"`
	NB             int64 `json:"n_b"`
	TotalPersons   int64 `json:"total_persons"`
	CoocEventCount int64 `json:"cooc_event_count"`
	ABeforeB       int64 `json:"a_before_b"`
	BBeforeA       int64 `json:"b_before_a"`
}

// Add accumulates another set of counts into this one.
func (c *PairCounts) Add(d PairCounts) {
	c.CoocObs += d.CoocObs
	c.NA += d.NA
	c.NB += d.NB
	c.TotalPersons += d.TotalPersons
	c.CoocEventCount += d.CoocEventCount
	c.ABeforeB += d.ABeforeB
	c.BBeforeA += d.BBeforeA
}

// PairStats holds the derived statistical fields. These are a pure function
// of the persisted counts and are fully recomputed on every merge.
type PairStats struct {
	ExpectedObs         float64 `json:"expected_obs"`
	Lift                float64 `json:"lift"`
	LiftLower95         float64 `json:"lift_lower_95"`
	LiftUpper95         float64 `json:"lift_upper_95"`
	ZScore              float64 `json:"z_score"`
	OddsRatio           float64 `json:"odds_ratio"`
	OddsRatioLower95    float64 `json:"odds_ratio_lower_95"`
	OddsRatioUpper95    float64 `json:"odds_ratio_upper_95"`
	DirectionalityRatio float64 `json:"directionality_ratio"`
	DirLower95          float64 `json:"dir_lower_95"`
	DirUpper95          float64 `json:"dir_upper_95"`
	ConfidenceAToB      float64 `json:"confidence_a_to_b"`
	ConfidenceBToA      float64 `json:"confidence_b_to_a"`
}

// Classification holds the relationship classification of a pair.
// It is written once per pair; later uploads never re-classify.
type Classification struct {
	RelType      string     `json:"rel_type,omitempty"`
	RelLabel     string     `json:"rel_label,omitempty"`
	Rationale    string     `json:"rationale,omitempty"`
	Model        string     `json:"classifier_model,omitempty"`
	ClassifiedAt *time.Time `json:"classified_at,omitempty"`
}

// Classified reports whether a classification has been recorded.
func (c Classification) Classified() bool {
	return c.RelType != "" || c.RelLabel != ""
}

// PairRecord is the durable per-pair aggregate: identity, merged counts,
// recomputed statistics and the write-once classification.
type PairRecord struct {
	ID      surrealmodels.RecordID `json:"id"`
	PairKey string                 `json:"pair_key"`

	PairIdentity
	PairCounts
	PairStats
	Classification

	SourceCount int       `json:"source_count"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
