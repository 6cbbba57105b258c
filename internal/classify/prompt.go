// Package classify wraps the external relationship classifier with a
// content-addressed cache, batching, retries and a per-job call budget.
package classify

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/clinrel/clinrel-go/internal/models"
)

// systemPrompt is sent with every classification call.
const systemPrompt = "You are a concise clinical reviewer. Return strict JSON only."

// Pair is one concept pair to classify, with the lift value carried as
// supporting evidence when known.
type Pair struct {
	PairKey  string
	Identity models.PairIdentity
	Lift     float64
}

// PromptFor renders the deterministic classification prompt for a pair.
// Identical inputs always produce the identical string: no timestamps, no
// map iteration, fixed float formatting.
func PromptFor(p Pair) string {
	var b strings.Builder
	b.WriteString("Given two clinical concepts, propose the relationship type and a concise rationale.\n\n")
	writeConcept(&b, "Concept A", p.Identity.ConceptA, p.Identity.TypeA, p.Identity.CodeA, p.Identity.SystemA)
	writeConcept(&b, "Concept B", p.Identity.ConceptB, p.Identity.TypeB, p.Identity.CodeB, p.Identity.SystemB)
	if p.Lift > 0 {
		fmt.Fprintf(&b, "\nObserved lift: %.4f (ratio of observed to expected co-occurrence).\n", p.Lift)
	}
	b.WriteString("\nReturn strict JSON with keys: rel_type (<=32 chars), rel_label (<=64 chars), rationale (<=500 chars).")
	return b.String()
}

func writeConcept(b *strings.Builder, label, name, typ, code, system string) {
	if typ == "" {
		typ = "?"
	}
	fmt.Fprintf(b, "%s: %s (type: %s", label, name, typ)
	if code != "" {
		fmt.Fprintf(b, ", code: %s [%s]", code, system)
	}
	b.WriteString(")\n")
}

// CacheKey derives the content-addressed cache key for a rendered prompt
// under a given model identifier.
func CacheKey(modelID, prompt string) string {
	sum := sha256.Sum256([]byte(modelID + "::" + prompt))
	return hex.EncodeToString(sum[:])
}
