// Package grading derives totals, letter grades and GPA from raw component
// scores, and normalizes the loosely formatted term/year values teachers enter.
// Everything here is pure and safe to call from display code.
package grading

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Nominal component ranges.
const (
	TestScoreMax         = 30.0
	ExamScoreMax         = 50.0
	SubtotalMax          = TestScoreMax + ExamScoreMax
	DefaultAdminScoreMax = 20.0
	FinalMax             = 100.0
)

// GradeResult is the display projection of a total score.
type GradeResult struct {
	Grade      string  `json:"grade"`
	GPA        float64 `json:"gpa"`
	Percentage float64 `json:"percentage"`
}

type band struct {
	min   float64
	grade string
	gpa   float64
}

// bands are evaluated top-down; lower bounds are inclusive.
var bands = []band{
	{90, "A+", 4.0},
	{80, "A", 3.7},
	{70, "B", 3.0},
	{60, "C", 2.0},
	{50, "D", 1.0},
}

// ComputeGrade maps total out of maxScore onto the letter/GPA scale.
// A non-positive or non-finite maxScore, or a non-finite total, yields F at 0%.
func ComputeGrade(total, maxScore float64) GradeResult {
	if maxScore <= 0 || !finite(maxScore) || !finite(total) {
		return GradeResult{Grade: "F", GPA: 0, Percentage: 0}
	}
	// Bands compare the exact ratio; only the reported percentage is rounded.
	raw := total * 100 / maxScore
	percentage := round2(raw)
	for _, b := range bands {
		if raw >= b.min {
			return GradeResult{Grade: b.grade, GPA: b.gpa, Percentage: percentage}
		}
	}
	return GradeResult{Grade: "F", GPA: 0, Percentage: percentage}
}

// RoundScore rounds a component score to the two decimals the store keeps.
func RoundScore(v float64) float64 {
	return round2(v)
}

// ComputeSubtotal returns test + exam, treating missing scores as 0.
func ComputeSubtotal(testScore, examScore *float64) float64 {
	return valueOrZero(testScore) + valueOrZero(examScore)
}

// ComputeFinalTotal returns the subtotal plus the admin score.
func ComputeFinalTotal(testScore, examScore, adminScore *float64) float64 {
	return ComputeSubtotal(testScore, examScore) + valueOrZero(adminScore)
}

// CoerceNonNegative is the permissive score policy for teacher input:
// missing, NaN, infinite and negative values all become 0.
func CoerceNonNegative(v *float64) float64 {
	if v == nil || !finite(*v) || *v < 0 {
		return 0
	}
	return *v
}

var (
	ordinalTerms = []struct {
		term    int
		pattern *regexp.Regexp
	}{
		{1, regexp.MustCompile(`(?i)\b(first|1st|one)\b`)},
		{2, regexp.MustCompile(`(?i)\b(second|2nd|two)\b`)},
		{3, regexp.MustCompile(`(?i)\b(third|3rd|three)\b`)},
	}
	termDigit    = regexp.MustCompile(`[1-3]`)
	yearPattern  = regexp.MustCompile(`(19|20)\d{2}`)
	leadingDigit = regexp.MustCompile(`^\d+`)
)

// NormalizeTerm resolves raw input such as "2", "Second Term" or "term 3" to 1..3.
// The boolean is false when no term can be recognised.
func NormalizeTerm(raw string) (int, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(trimmed); err == nil {
		if n >= 1 && n <= 3 {
			return n, true
		}
		return 0, false
	}
	for _, o := range ordinalTerms {
		if o.pattern.MatchString(trimmed) {
			return o.term, true
		}
	}
	if d := termDigit.FindString(trimmed); d != "" {
		return int(d[0] - '0'), true
	}
	return 0, false
}

// NormalizeYear extracts the academic year from input like "2024-2025".
func NormalizeYear(raw string) int {
	return NormalizeYearAt(raw, time.Now())
}

// NormalizeYearAt is NormalizeYear with an explicit clock for the fallback.
func NormalizeYearAt(raw string, now time.Time) int {
	trimmed := strings.TrimSpace(raw)
	if m := yearPattern.FindString(trimmed); m != "" {
		year, _ := strconv.Atoi(m)
		return year
	}
	if m := leadingDigit.FindString(trimmed); m != "" {
		if year, err := strconv.Atoi(m); err == nil {
			return year
		}
	}
	return now.Year()
}

func valueOrZero(v *float64) float64 {
	if v == nil || !finite(*v) {
		return 0
	}
	return *v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
