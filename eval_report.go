package geolocate

import (
	"fmt"
	"io"
	"maps"
	"math"
	"slices"
)

// GroupReport summarizes the documents of one bucket.
type GroupReport struct {
	Documents     int
	Correct       int
	Credit        int
	BeyondHorizon int

	// AtOrAbove[r-1] is the number of documents whose true cell ranked r or
	// better.
	AtOrAbove []int

	Accuracy         float64 // Correct / Documents
	CreditFraction   float64 // Credit / (horizon * Documents)
	MeanErrorKm      float64
	MeanErrorDegrees float64
	MeanOracleKm     float64
	MeanOracleDeg    float64
}

// BucketReport is a GroupReport over the range [Lower, Upper).
type BucketReport struct {
	Lower float64
	Upper float64 // +Inf for the open-ended bucket
	GroupReport
}

// EvalReport is the outcome of an evaluation run.
type EvalReport struct {
	Horizon int
	Skipped int
	All     GroupReport

	// Distance buckets count in units of UnitKm or UnitDegrees.
	UnitKm      float64
	UnitDegrees float64

	ByTrueCellDocuments   []BucketReport
	ByTrueDistanceKm      []BucketReport // distance to the true centre
	ByTrueDistanceDegrees []BucketReport
	ByErrorDistanceKm     []BucketReport // distance to the predicted centre
	ByErrorDistanceDeg    []BucketReport
}

func ratio(n, d float64) float64 {
	if d == 0 {
		return 0
	}
	return n / d
}

func (s *RankStats) report() GroupReport {
	r := GroupReport{
		Documents:        s.Documents,
		Correct:          s.Correct,
		Credit:           s.Credit,
		BeyondHorizon:    s.BeyondHorizon,
		AtOrAbove:        make([]int, len(s.AtRank)),
		Accuracy:         ratio(float64(s.Correct), float64(s.Documents)),
		CreditFraction:   ratio(float64(s.Credit), float64(len(s.AtRank)*s.Documents)),
		MeanErrorKm:      ratio(s.SumErrorKm, float64(s.Predicted)),
		MeanErrorDegrees: ratio(s.SumErrorDeg, float64(s.Predicted)),
		MeanOracleKm:     ratio(s.SumOracleKm, float64(s.Documents)),
		MeanOracleDeg:    ratio(s.SumOracleDeg, float64(s.Documents)),
	}
	var running int
	for i, n := range s.AtRank {
		running += n
		r.AtOrAbove[i] = running
	}
	return r
}

// rangeBuckets reports buckets keyed by the lower bounds of bounds.
func rangeBuckets(m map[float64]*RankStats, bounds []float64) []BucketReport {
	out := make([]BucketReport, 0, len(m))
	for _, lower := range slices.Sorted(maps.Keys(m)) {
		upper := math.Inf(1)
		if i, found := slices.BinarySearch(bounds, lower); found && i+1 < len(bounds) {
			upper = bounds[i+1]
		} else if !found && len(bounds) > 0 {
			upper = bounds[0]
		}
		out = append(out, BucketReport{Lower: lower, Upper: upper, GroupReport: m[lower].report()})
	}
	return out
}

// stepBuckets reports buckets of a fixed width.
func stepBuckets(m map[float64]*RankStats, step float64) []BucketReport {
	out := make([]BucketReport, 0, len(m))
	for _, lower := range slices.Sorted(maps.Keys(m)) {
		out = append(out, BucketReport{Lower: lower, Upper: lower + step, GroupReport: m[lower].report()})
	}
	return out
}

// Report computes the evaluation report from the running totals.
func (a *EvaluationAccumulator) Report() *EvalReport {
	return &EvalReport{
		Horizon:               a.horizon,
		Skipped:               a.skipped,
		All:                   a.all.report(),
		UnitKm:                a.cellKm,
		UnitDegrees:           a.cellDeg,
		ByTrueCellDocuments:   rangeBuckets(a.byDocCount, DocCountRanges),
		ByTrueDistanceKm:      stepBuckets(a.byTrueKm, a.increment),
		ByTrueDistanceDegrees: stepBuckets(a.byTrueDeg, a.increment),
		ByErrorDistanceKm:     rangeBuckets(a.byErrKm, ErrorDistanceRanges),
		ByErrorDistanceDeg:    rangeBuckets(a.byErrDeg, ErrorDistanceRanges),
	}
}

// reportWriter remembers the first write error so the report can be
// written without checking every call.
type reportWriter struct {
	w   io.Writer
	err error
}

func (rw *reportWriter) printf(format string, args ...any) {
	if rw.err != nil {
		return
	}
	_, rw.err = fmt.Fprintf(rw.w, format, args...)
}

func (rw *reportWriter) fraction(indent, label string, n, d int) {
	if d == 0 {
		rw.printf("%s%s = %d/%d = indeterminate percent\n", indent, label, n, d)
		return
	}
	rw.printf("%s%s = %d/%d = %5.2f%%\n", indent, label, n, d, 100*float64(n)/float64(d))
}

func (rw *reportWriter) group(indent string, g GroupReport, horizon int) {
	rw.fraction(indent, "Percent correct", g.Correct, g.Documents)
	rw.fraction(indent, "Percent correct with partial credit", g.Credit, horizon*g.Documents)
	for r := 2; r <= horizon && r <= len(g.AtOrAbove); r++ {
		rw.fraction(indent+"  ", fmt.Sprintf("Correct is at or above rank %d", r), g.AtOrAbove[r-1], g.Documents)
	}
	rw.fraction(indent+"  ", fmt.Sprintf("Incorrect, with correct not in top %d", horizon), g.BeyondHorizon, g.Documents)
	rw.printf("%s  Mean true error distance = %.2f km\n", indent, g.MeanErrorKm)
	rw.printf("%s  Mean degree error distance = %.2f\n", indent, g.MeanErrorDegrees)
	rw.printf("%s  Mean oracle true distance = %.2f km\n", indent, g.MeanOracleKm)
	rw.printf("%s  Mean oracle degree distance = %.2f\n", indent, g.MeanOracleDeg)
}

func (rw *reportWriter) buckets(title string, bs []BucketReport, horizon int) {
	if len(bs) == 0 {
		return
	}
	rw.printf("\n%s:\n", title)
	for _, b := range bs {
		rw.printf("  [%g, %g):\n", b.Lower, b.Upper)
		rw.group("    ", b.GroupReport, horizon)
	}
}

// WriteText writes r in a human-readable form.
func (r *EvalReport) WriteText(w io.Writer) error {
	rw := &reportWriter{w: w}
	rw.printf("Results for all documents:\n")
	rw.group("", r.All, r.Horizon)
	if r.Skipped > 0 {
		rw.printf("Skipped documents = %d\n", r.Skipped)
	}
	rw.buckets("By number of documents in true cell", r.ByTrueCellDocuments, r.Horizon)
	km := fmt.Sprintf("in units of %.4g km (great circle)", r.UnitKm)
	deg := fmt.Sprintf("in units of %g degrees", r.UnitDegrees)
	rw.buckets("By distance to true cell centre, "+km, r.ByTrueDistanceKm, r.Horizon)
	rw.buckets("By distance to true cell centre, "+deg, r.ByTrueDistanceDegrees, r.Horizon)
	rw.buckets("By distance to predicted cell centre, "+km, r.ByErrorDistanceKm, r.Horizon)
	rw.buckets("By distance to predicted cell centre, "+deg, r.ByErrorDistanceDeg, r.Horizon)
	return rw.err
}
