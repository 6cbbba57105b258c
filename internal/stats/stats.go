// Package stats derives confidence-interval statistics from merged
// co-occurrence counts. All functions are pure: no I/O, no state.
//
// Callers must pass the persisted, already-merged totals of a pair, never a
// single upload's delta, so that the derived fields always reflect the full
// historical aggregate.
package stats

import "math"

const z95 = 1.96

// Counts are the six integer inputs of the engine.
type Counts struct {
	CoocObs      int64 // observed co-occurrence count (ab)
	NA           int64 // population size under concept A
	NB           int64 // population size under concept B
	TotalPersons int64 // total population (N)
	ABeforeB     int64 // co-occurrences where A temporally precedes B
	BBeforeA     int64 // co-occurrences where B temporally precedes A
}

// Result holds every derived statistical field, rounded for stable output:
// two decimals for count-derived magnitudes, four for ratios and
// probabilities.
type Result struct {
	ExpectedObs float64

	Lift        float64
	LiftLower95 float64
	LiftUpper95 float64

	ZScore float64

	OddsRatio        float64
	OddsRatioLower95 float64
	OddsRatioUpper95 float64

	DirectionalityRatio float64
	DirLower95          float64
	DirUpper95          float64

	ConfidenceAToB float64
	ConfidenceBToA float64
}

// Compute derives all statistics from the given counts.
func Compute(c Counts) Result {
	ab := float64(c.CoocObs)
	nA := float64(c.NA)
	nB := float64(c.NB)
	total := float64(c.TotalPersons)

	var r Result

	// Expected count under independence
	var expected float64
	if total > 0 {
		expected = nA * nB / total
	}
	r.ExpectedObs = Round2(expected)

	// Lift with log-normal 95% CI
	var lift float64
	if expected > 0 {
		lift = ab / expected
	}
	r.Lift = Round4(lift)
	if ab > 0 && expected > 0 {
		se := math.Sqrt(1/ab + 1/expected)
		r.LiftLower95 = Round4(math.Exp(math.Log(lift) - z95*se))
		r.LiftUpper95 = Round4(math.Exp(math.Log(lift) + z95*se))
	}

	// Poisson-approximation z-score
	if expected > 0 {
		r.ZScore = Round4((ab - expected) / math.Sqrt(expected))
	}

	// 2x2 contingency with Haldane-Anscombe correction (+0.5 per cell)
	aOnly := math.Max(nA-ab, 0)
	bOnly := math.Max(nB-ab, 0)
	neither := math.Max(total-nA-nB+ab, 0)
	or := (ab + 0.5) * (neither + 0.5) / ((aOnly + 0.5) * (bOnly + 0.5))
	r.OddsRatio = Round4(or)
	seLogOR := math.Sqrt(1/(ab+0.5) + 1/(aOnly+0.5) + 1/(bOnly+0.5) + 1/(neither+0.5))
	r.OddsRatioLower95 = Round4(math.Exp(math.Log(or) - z95*seLogOR))
	r.OddsRatioUpper95 = Round4(math.Exp(math.Log(or) + z95*seLogOR))

	// Directionality with Wilson 95% interval
	dirDen := float64(c.ABeforeB + c.BBeforeA)
	var dir float64
	if dirDen > 0 {
		dir = float64(c.ABeforeB) / dirDen
		lo, hi := Wilson95(dir, dirDen)
		r.DirLower95 = Round4(lo)
		r.DirUpper95 = Round4(hi)
	}
	r.DirectionalityRatio = Round4(dir)

	// Conditional confidences
	if nA > 0 {
		r.ConfidenceAToB = Round4(ab / nA)
	}
	if nB > 0 {
		r.ConfidenceBToA = Round4(ab / nB)
	}

	return r
}

// Wilson95 returns the 95% Wilson score interval for a proportion p observed
// over n trials. Both bounds are clamped to [0,1].
func Wilson95(p, n float64) (lo, hi float64) {
	z := z95
	denom := 1 + z*z/n
	center := (p + z*z/(2*n)) / denom
	half := z * math.Sqrt(p*(1-p)/n+z*z/(4*n*n)) / denom
	return clamp01(center - half), clamp01(center + half)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 { return round(v, 2) }

// Round4 rounds to four decimal places.
func Round4(v float64) float64 { return round(v, 4) }

func round(v float64, digits int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	p := math.Pow(10, float64(digits))
	return math.Round(v*p) / p
}
