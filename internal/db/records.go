package db

import (
	"context"
	"fmt"
	"time"

	"github.com/clinrel/clinrel-go/internal/models"
)

// MergeCounts folds an upload's delta for one pair into its durable record,
// creating the record on first sight. The record ID is the pair key, so the
// whole merge is a single atomic UPSERT: counts only ever increase, identity
// fields keep their first-seen values, and concurrent merges for the same
// pair serialize inside the database.
func (c *Client) MergeCounts(ctx context.Context, pairKey string, identity models.PairIdentity, delta models.PairCounts) (*models.PairRecord, error) {
	results, err := surrealQuery[[]models.PairRecord](ctx, c, `
		UPSERT type::record("pair_record", $key) SET
			pair_key = $key,
			concept_a = IF concept_a THEN concept_a ELSE $concept_a END,
			code_a = IF code_a THEN code_a ELSE $code_a END,
			system_a = IF system_a THEN system_a ELSE $system_a END,
			type_a = IF type_a THEN type_a ELSE $type_a END,
			concept_b = IF concept_b THEN concept_b ELSE $concept_b END,
			code_b = IF code_b THEN code_b ELSE $code_b END,
			system_b = IF system_b THEN system_b ELSE $system_b END,
			type_b = IF type_b THEN type_b ELSE $type_b END,
			cooc_obs = (cooc_obs ?? 0) + $cooc_obs,
			n_a = (n_a ?? 0) + $n_a,
			n_b = (n_b ?? 0) + $n_b,
			total_persons = (total_persons ?? 0) + $total_persons,
			cooc_event_count = (cooc_event_count ?? 0) + $cooc_event_count,
			a_before_b = (a_before_b ?? 0) + $a_before_b,
			b_before_a = (b_before_a ?? 0) + $b_before_a,
			source_count = (source_count ?? 0) + 1,
			status = IF status THEN status ELSE "active" END,
			created_at = IF created_at THEN created_at ELSE time::now() END,
			updated_at = time::now()
		RETURN AFTER
	`, map[string]any{
		"key":              pairKey,
		"concept_a":        identity.ConceptA,
		"code_a":           identity.CodeA,
		"system_a":         identity.SystemA,
		"type_a":           identity.TypeA,
		"concept_b":        identity.ConceptB,
		"code_b":           identity.CodeB,
		"system_b":         identity.SystemB,
		"type_b":           identity.TypeB,
		"cooc_obs":         delta.CoocObs,
		"n_a":              delta.NA,
		"n_b":              delta.NB,
		"total_persons":    delta.TotalPersons,
		"cooc_event_count": delta.CoocEventCount,
		"a_before_b":       delta.ABeforeB,
		"b_before_a":       delta.BBeforeA,
	})
	if err != nil {
		return nil, fmt.Errorf("merge counts for %s: %w", pairKey, wrapQueryError(err))
	}

	record, ok := firstResult(results)
	if !ok {
		return nil, fmt.Errorf("merge counts for %s: no result returned", pairKey)
	}
	return record, nil
}

// UpdateStats overwrites the derived statistical fields of a pair record.
// Stats are always recomputed from the persisted merged totals, never from a
// single upload's numbers, so a wholesale overwrite is correct.
func (c *Client) UpdateStats(ctx context.Context, pairKey string, stats models.PairStats) error {
	results, err := surrealQuery[[]models.PairRecord](ctx, c, `
		UPDATE type::record("pair_record", $key) SET
			expected_obs = $expected_obs,
			lift = $lift,
			lift_lower_95 = $lift_lower_95,
			lift_upper_95 = $lift_upper_95,
			z_score = $z_score,
			odds_ratio = $odds_ratio,
			odds_ratio_lower_95 = $odds_ratio_lower_95,
			odds_ratio_upper_95 = $odds_ratio_upper_95,
			directionality_ratio = $directionality_ratio,
			dir_lower_95 = $dir_lower_95,
			dir_upper_95 = $dir_upper_95,
			confidence_a_to_b = $confidence_a_to_b,
			confidence_b_to_a = $confidence_b_to_a,
			updated_at = time::now()
		RETURN AFTER
	`, map[string]any{
		"key":                  pairKey,
		"expected_obs":         stats.ExpectedObs,
		"lift":                 stats.Lift,
		"lift_lower_95":        stats.LiftLower95,
		"lift_upper_95":        stats.LiftUpper95,
		"z_score":              stats.ZScore,
		"odds_ratio":           stats.OddsRatio,
		"odds_ratio_lower_95":  stats.OddsRatioLower95,
		"odds_ratio_upper_95":  stats.OddsRatioUpper95,
		"directionality_ratio": stats.DirectionalityRatio,
		"dir_lower_95":         stats.DirLower95,
		"dir_upper_95":         stats.DirUpper95,
		"confidence_a_to_b":    stats.ConfidenceAToB,
		"confidence_b_to_a":    stats.ConfidenceBToA,
	})
	if err != nil {
		return fmt.Errorf("update stats for %s: %w", pairKey, wrapQueryError(err))
	}

	if _, ok := firstResult(results); !ok {
		return fmt.Errorf("update stats for %s: %w", pairKey, ErrNotFound)
	}
	return nil
}

// ApplyClassification records a classification on a pair that has none yet.
// Classifications are write-once: the rel_type guard makes a second apply a
// no-op, reported via the returned flag rather than an error.
func (c *Client) ApplyClassification(ctx context.Context, pairKey string, cls models.Classification) (bool, error) {
	classifiedAt := time.Now().UTC()
	if cls.ClassifiedAt != nil {
		classifiedAt = *cls.ClassifiedAt
	}

	results, err := surrealQuery[[]models.PairRecord](ctx, c, `
		UPDATE type::record("pair_record", $key) SET
			rel_type = $rel_type,
			rel_label = $rel_label,
			rationale = $rationale,
			classifier_model = $model,
			classified_at = <datetime>$classified_at,
			updated_at = time::now()
		WHERE rel_type IS NONE
		RETURN AFTER
	`, map[string]any{
		"key":           pairKey,
		"rel_type":      cls.RelType,
		"rel_label":     cls.RelLabel,
		"rationale":     cls.Rationale,
		"model":         cls.Model,
		"classified_at": classifiedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return false, fmt.Errorf("apply classification for %s: %w", pairKey, wrapQueryError(err))
	}

	_, applied := firstResult(results)
	return applied, nil
}

// GetRecord retrieves a pair record by its pair key.
// Returns ErrNotFound when absent.
func (c *Client) GetRecord(ctx context.Context, pairKey string) (*models.PairRecord, error) {
	results, err := surrealQuery[[]models.PairRecord](ctx, c, `
		SELECT * FROM type::record("pair_record", $key)
	`, map[string]any{"key": pairKey})
	if err != nil {
		return nil, fmt.Errorf("get record: %w", wrapQueryError(err))
	}

	record, ok := firstResult(results)
	if !ok {
		return nil, fmt.Errorf("get record %s: %w", pairKey, ErrNotFound)
	}
	return record, nil
}

// GetRecords retrieves the full records for a set of pair keys in ascending
// pair key order. Keys with no record are silently absent from the result.
func (c *Client) GetRecords(ctx context.Context, pairKeys []string) ([]models.PairRecord, error) {
	if len(pairKeys) == 0 {
		return []models.PairRecord{}, nil
	}

	results, err := surrealQuery[[]models.PairRecord](ctx, c, `
		SELECT * FROM pair_record WHERE pair_key IN $keys ORDER BY pair_key ASC
	`, map[string]any{"keys": pairKeys})
	if err != nil {
		return nil, fmt.Errorf("get records: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []models.PairRecord{}, nil
	}
	return (*results)[0].Result, nil
}
