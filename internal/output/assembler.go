// Package output renders job artifacts: the enriched copy of an upload and
// the full pair-record snapshot, both as CSV.
package output

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"

	"github.com/clinrel/clinrel-go/internal/ingest"
	"github.com/clinrel/clinrel-go/internal/models"
)

// utf8BOM prefixes every artifact so spreadsheet tools detect the encoding.
const utf8BOM = "\uFEFF"

// EnrichmentColumns are appended to the original header in this order.
var EnrichmentColumns = []string{"rel_type", "rel_label", "rationale"}

// EnrichRows renders the upload back to CSV with the classification columns
// appended. The original column order is preserved, extra columns pass
// through verbatim, and rows whose pair has no classification get empty
// cells rather than being dropped.
func EnrichRows(upload *ingest.Upload, records map[string]models.PairRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(utf8BOM)
	w := csv.NewWriter(&buf)

	header := append(append([]string{}, upload.Header...), EnrichmentColumns...)
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	for i, row := range upload.Rows {
		out := make([]string, 0, len(header))
		for _, col := range upload.Header {
			out = append(out, rowField(row, col))
		}

		record, ok := records[ingest.PairKey(row.Identity)]
		if ok {
			out = append(out, record.RelType, record.RelLabel, record.Rationale)
		} else {
			out = append(out, "", "", "")
		}

		if err := w.Write(out); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush output: %w", err)
	}
	return buf.Bytes(), nil
}

// rowField renders one original cell from the typed row. Count cells reflect
// the parsed values, so non-numeric source cells come back as 0.
func rowField(row ingest.Row, col string) string {
	switch col {
	case "concept_a":
		return row.Identity.ConceptA
	case "code_a":
		return row.Identity.CodeA
	case "system_a":
		return row.Identity.SystemA
	case "type_a":
		return row.Identity.TypeA
	case "concept_b":
		return row.Identity.ConceptB
	case "code_b":
		return row.Identity.CodeB
	case "system_b":
		return row.Identity.SystemB
	case "type_b":
		return row.Identity.TypeB
	case "cooc_obs":
		return formatCount(row.Counts.CoocObs)
	case "nA":
		return formatCount(row.Counts.NA)
	case "nB":
		return formatCount(row.Counts.NB)
	case "total_persons":
		return formatCount(row.Counts.TotalPersons)
	case "cooc_event_count":
		return formatCount(row.Counts.CoocEventCount)
	case "a_before_b":
		return formatCount(row.Counts.ABeforeB)
	case "b_before_a":
		return formatCount(row.Counts.BBeforeA)
	default:
		return row.Extra[col]
	}
}

// snapshotHeader is the fixed column set of the pair-record snapshot.
var snapshotHeader = []string{
	"pair_key",
	"concept_a", "code_a", "system_a", "type_a",
	"concept_b", "code_b", "system_b", "type_b",
	"cooc_obs", "nA", "nB", "total_persons",
	"cooc_event_count", "a_before_b", "b_before_a",
	"expected_obs",
	"lift", "lift_lower_95", "lift_upper_95",
	"z_score",
	"odds_ratio", "odds_ratio_lower_95", "odds_ratio_upper_95",
	"directionality_ratio", "dir_lower_95", "dir_upper_95",
	"confidence_a_to_b", "confidence_b_to_a",
	"rel_type", "rel_label", "rationale", "classifier_model",
	"source_count",
}

// Snapshot renders the full state of the given pair records as CSV, sorted
// by ascending pair key regardless of input order.
func Snapshot(records []models.PairRecord) ([]byte, error) {
	sorted := make([]models.PairRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PairKey < sorted[j].PairKey })

	var buf bytes.Buffer
	buf.WriteString(utf8BOM)
	w := csv.NewWriter(&buf)

	if err := w.Write(snapshotHeader); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	for _, r := range sorted {
		out := []string{
			r.PairKey,
			r.ConceptA, r.CodeA, r.SystemA, r.TypeA,
			r.ConceptB, r.CodeB, r.SystemB, r.TypeB,
			formatCount(r.CoocObs), formatCount(r.NA), formatCount(r.NB), formatCount(r.TotalPersons),
			formatCount(r.CoocEventCount), formatCount(r.ABeforeB), formatCount(r.BBeforeA),
			formatFloat(r.ExpectedObs),
			formatFloat(r.Lift), formatFloat(r.LiftLower95), formatFloat(r.LiftUpper95),
			formatFloat(r.ZScore),
			formatFloat(r.OddsRatio), formatFloat(r.OddsRatioLower95), formatFloat(r.OddsRatioUpper95),
			formatFloat(r.DirectionalityRatio), formatFloat(r.DirLower95), formatFloat(r.DirUpper95),
			formatFloat(r.ConfidenceAToB), formatFloat(r.ConfidenceBToA),
			r.RelType, r.RelLabel, r.Rationale, r.Model,
			strconv.Itoa(r.SourceCount),
		}
		if err := w.Write(out); err != nil {
			return nil, fmt.Errorf("write record %s: %w", r.PairKey, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

func formatCount(v int64) string {
	return strconv.FormatInt(v, 10)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
