// Package ingest parses uploaded co-occurrence CSVs into typed rows and
// accumulates per-upload count deltas keyed by canonical pair key.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/clinrel/clinrel-go/internal/models"
)

// ErrMalformedInput indicates the upload is structurally unusable: missing
// required header columns or an unreadable record stream. Header problems
// abort the whole job; row-level value problems never do.
var ErrMalformedInput = errors.New("malformed input")

// RequiredColumns are the header columns every upload must carry.
var RequiredColumns = []string{
	"concept_a", "code_a", "system_a", "type_a",
	"concept_b", "code_b", "system_b", "type_b",
	"cooc_obs", "nA", "nB", "total_persons",
	"cooc_event_count", "a_before_b", "b_before_a",
}

// Row is one typed upload row. Columns outside the known schema are kept
// verbatim in Extra for pass-through into the enriched output.
type Row struct {
	Identity models.PairIdentity
	Counts   models.PairCounts
	Extra    map[string]string
}

// Upload is a fully parsed upload file.
type Upload struct {
	// Header preserves the original column order, including extra columns.
	Header []string
	Rows   []Row
}

// ParseRows parses CSV text into typed rows. The header is validated once;
// a missing required column fails with ErrMalformedInput before any row is
// processed. Quoted fields with embedded delimiters and doubled quotes are
// honored, and a leading UTF-8 BOM is stripped.
func ParseRows(text string) (*Upload, error) {
	text = strings.TrimPrefix(text, "\uFEFF")

	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty upload", ErrMalformedInput)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrMalformedInput, err)
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		header[i] = strings.TrimSpace(h)
		idx[header[i]] = i
	}
	for _, col := range RequiredColumns {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("%w: missing required column: %s", ErrMalformedInput, col)
		}
	}

	known := make(map[string]bool, len(RequiredColumns))
	for _, col := range RequiredColumns {
		known[col] = true
	}

	upload := &Upload{Header: header}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read record: %v", ErrMalformedInput, err)
		}

		// Pad short records so positional access is safe
		for len(record) < len(header) {
			record = append(record, "")
		}

		if blank(record) {
			continue
		}

		field := func(name string) string { return strings.TrimSpace(record[idx[name]]) }

		row := Row{
			Identity: models.PairIdentity{
				ConceptA: field("concept_a"),
				CodeA:    field("code_a"),
				SystemA:  field("system_a"),
				TypeA:    field("type_a"),
				ConceptB: field("concept_b"),
				CodeB:    field("code_b"),
				SystemB:  field("system_b"),
				TypeB:    field("type_b"),
			},
			Counts: models.PairCounts{
				CoocObs:        coerceCount(field("cooc_obs")),
				NA:             coerceCount(field("nA")),
				NB:             coerceCount(field("nB")),
				TotalPersons:   coerceCount(field("total_persons")),
				CoocEventCount: coerceCount(field("cooc_event_count")),
				ABeforeB:       coerceCount(field("a_before_b")),
				BBeforeA:       coerceCount(field("b_before_a")),
			},
		}

		for i, h := range header {
			if !known[h] && i < len(record) {
				if row.Extra == nil {
					row.Extra = make(map[string]string)
				}
				row.Extra[h] = record[i]
			}
		}

		upload.Rows = append(upload.Rows, row)
	}

	return upload, nil
}

// coerceCount parses an integer count, degrading to zero on anything
// non-numeric so a single bad cell never fails an upload.
func coerceCount(s string) int64 {
	if s == "" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	return 0
}

func blank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
