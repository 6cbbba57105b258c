package ingest

import (
	"errors"
	"strings"
	"testing"
)

const validHeader = "concept_a,code_a,system_a,type_a,concept_b,code_b,system_b,type_b,cooc_obs,nA,nB,total_persons,cooc_event_count,a_before_b,b_before_a"

func TestParseRows_Valid(t *testing.T) {
	text := validHeader + "\n" +
		"Hypertension,I10,ICD10,condition,Metformin,6809,RxNorm,drug,10,100,50,1000,12,9,3\n"

	upload, err := ParseRows(text)
	if err != nil {
		t.Fatalf("ParseRows() error = %v", err)
	}
	if len(upload.Rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(upload.Rows))
	}

	row := upload.Rows[0]
	if row.Identity.ConceptA != "Hypertension" || row.Identity.CodeB != "6809" {
		t.Errorf("identity = %+v", row.Identity)
	}
	if row.Counts.CoocObs != 10 || row.Counts.NA != 100 || row.Counts.BBeforeA != 3 {
		t.Errorf("counts = %+v", row.Counts)
	}
}

func TestParseRows_MissingRequiredColumn(t *testing.T) {
	// header without nB
	text := strings.Replace(validHeader, ",nB", "", 1) + "\n" +
		"A,1,ICD10,condition,B,2,ICD10,condition,1,2,4,1,1,0\n"

	_, err := ParseRows(text)
	if !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("ParseRows() error = %v, want ErrMalformedInput", err)
	}
	if !strings.Contains(err.Error(), "nB") {
		t.Errorf("error should name the missing column: %v", err)
	}
}

func TestParseRows_QuotedFields(t *testing.T) {
	text := validHeader + "\n" +
		`"Disease, chronic","I10","ICD10","condition","Drug ""X""",D1,RxNorm,drug,5,10,10,100,5,5,0` + "\n"

	upload, err := ParseRows(text)
	if err != nil {
		t.Fatalf("ParseRows() error = %v", err)
	}

	row := upload.Rows[0]
	if row.Identity.ConceptA != "Disease, chronic" {
		t.Errorf("ConceptA = %q, want embedded comma preserved", row.Identity.ConceptA)
	}
	if row.Identity.ConceptB != `Drug "X"` {
		t.Errorf("ConceptB = %q, want doubled quote unescaped", row.Identity.ConceptB)
	}
}

func TestParseRows_NumericCoercion(t *testing.T) {
	text := validHeader + "\n" +
		"A,1,ICD10,condition,B,2,ICD10,condition,abc,,10.7,100,5,5,0\n"

	upload, err := ParseRows(text)
	if err != nil {
		t.Fatalf("ParseRows() error = %v", err)
	}

	c := upload.Rows[0].Counts
	if c.CoocObs != 0 {
		t.Errorf("CoocObs = %d, want 0 for non-numeric", c.CoocObs)
	}
	if c.NA != 0 {
		t.Errorf("NA = %d, want 0 for empty", c.NA)
	}
	if c.NB != 10 {
		t.Errorf("NB = %d, want 10 for float truncation", c.NB)
	}
}

func TestParseRows_ExtraColumnsPreserved(t *testing.T) {
	text := validHeader + ",note\n" +
		"A,1,ICD10,condition,B,2,ICD10,condition,1,2,3,4,1,1,0,reviewed\n"

	upload, err := ParseRows(text)
	if err != nil {
		t.Fatalf("ParseRows() error = %v", err)
	}
	if upload.Header[len(upload.Header)-1] != "note" {
		t.Errorf("header should retain extra column, got %v", upload.Header)
	}
	if got := upload.Rows[0].Extra["note"]; got != "reviewed" {
		t.Errorf("Extra[note] = %q, want %q", got, "reviewed")
	}
}

func TestParseRows_BOMAndBlankLines(t *testing.T) {
	text := "\uFEFF" + validHeader + "\n\n" +
		"A,1,ICD10,condition,B,2,ICD10,condition,1,2,3,4,1,1,0\n,,,,,,,,,,,,,,\n"

	upload, err := ParseRows(text)
	if err != nil {
		t.Fatalf("ParseRows() error = %v", err)
	}
	if len(upload.Rows) != 1 {
		t.Errorf("got %d rows, want 1 (blank rows skipped)", len(upload.Rows))
	}
	if upload.Header[0] != "concept_a" {
		t.Errorf("BOM not stripped from first header cell: %q", upload.Header[0])
	}
}

func TestParseRows_EmptyUpload(t *testing.T) {
	_, err := ParseRows("")
	if !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("ParseRows(\"\") error = %v, want ErrMalformedInput", err)
	}
}
