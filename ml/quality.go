package ml

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// QualityIssue is one finding about a training dataset. Row is the 0-based
// data row, or -1 when the issue concerns a whole column.
type QualityIssue struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	Row      int    `json:"row"`
	Column   string `json:"column,omitempty"`
	Message  string `json:"message"`
}

// QualityRule inspects a dataset without modifying it.
type QualityRule interface {
	Name() string
	Check(ds *Dataset) []QualityIssue
}

// QualityReport collects every issue found in one inspection.
type QualityReport struct {
	Rows   int            `json:"rows"`
	Issues []QualityIssue `json:"issues"`
	Counts map[string]int `json:"counts"`
}

// HasSeverity reports whether any issue is at least as severe as level.
func (r QualityReport) HasSeverity(level string) bool {
	for _, issue := range r.Issues {
		if severityRank(issue.Severity) >= severityRank(level) {
			return true
		}
	}
	return false
}

func severityRank(s string) int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// DataCleaner runs quality rules over a dataset.
type DataCleaner struct {
	rules []QualityRule
}

// NewDataCleaner uses DefaultQualityRules when no rules are given.
func NewDataCleaner(rules ...QualityRule) *DataCleaner {
	if len(rules) == 0 {
		rules = DefaultQualityRules()
	}
	return &DataCleaner{rules: rules}
}

// DefaultQualityRules checks missing values, clinical ranges, duplicates and outliers.
func DefaultQualityRules() []QualityRule {
	return []QualityRule{
		MissingValueRule{},
		NewRangeValidationRule(),
		DuplicateRowRule{},
		NewOutlierDetectionRule(),
	}
}

// Inspect runs every rule and tallies issues by rule name.
func (c *DataCleaner) Inspect(ds *Dataset) QualityReport {
	report := QualityReport{
		Rows:   len(ds.Features),
		Issues: make([]QualityIssue, 0),
		Counts: make(map[string]int),
	}
	for _, rule := range c.rules {
		issues := rule.Check(ds)
		report.Issues = append(report.Issues, issues...)
		if len(issues) > 0 {
			report.Counts[rule.Name()] += len(issues)
		}
	}
	return report
}

// MissingValueRule reports columns that needed median imputation.
type MissingValueRule struct{}

func (MissingValueRule) Name() string { return "missing_values" }

func (MissingValueRule) Check(ds *Dataset) []QualityIssue {
	var issues []QualityIssue
	for _, col := range ds.Columns {
		n := ds.Imputed[col]
		if n == 0 {
			continue
		}
		severity := SeverityLow
		if len(ds.Features) > 0 && float64(n)/float64(len(ds.Features)) > 0.2 {
			severity = SeverityMedium
		}
		issues = append(issues, QualityIssue{
			Rule:     "missing_values",
			Severity: severity,
			Row:      -1,
			Column:   col,
			Message:  fmt.Sprintf("%d missing cells filled with the column median", n),
		})
	}
	return issues
}

// RangeValidationRule flags values outside plausible clinical bounds.
// Columns absent from the dataset are skipped.
type RangeValidationRule struct {
	Bounds map[string][2]float64
}

func NewRangeValidationRule() *RangeValidationRule {
	return &RangeValidationRule{Bounds: map[string][2]float64{
		"age":      {1, 120},
		"trestbps": {50, 250},
		"chol":     {50, 700},
		"thalach":  {40, 250},
		"oldpeak":  {-5, 10},
	}}
}

func (r *RangeValidationRule) Name() string { return "range_validation" }

func (r *RangeValidationRule) Check(ds *Dataset) []QualityIssue {
	var issues []QualityIssue
	for col, name := range ds.Columns {
		bounds, ok := r.Bounds[name]
		if !ok {
			continue
		}
		for row, features := range ds.Features {
			v := features[col]
			if v < bounds[0] || v > bounds[1] {
				issues = append(issues, QualityIssue{
					Rule:     r.Name(),
					Severity: SeverityHigh,
					Row:      row,
					Column:   name,
					Message:  fmt.Sprintf("value %s outside [%s, %s]", formatCell(v), formatCell(bounds[0]), formatCell(bounds[1])),
				})
			}
		}
	}
	return issues
}

// DuplicateRowRule flags rows identical to an earlier row, label included.
type DuplicateRowRule struct{}

func (DuplicateRowRule) Name() string { return "duplicate_rows" }

func (DuplicateRowRule) Check(ds *Dataset) []QualityIssue {
	var issues []QualityIssue
	for row, first := range duplicateRows(ds) {
		issues = append(issues, QualityIssue{
			Rule:     "duplicate_rows",
			Severity: SeverityMedium,
			Row:      row,
			Message:  fmt.Sprintf("duplicate of row %d", first),
		})
	}
	slices.SortFunc(issues, func(a, b QualityIssue) int { return a.Row - b.Row })
	return issues
}

// duplicateRows maps each repeated row to the first row it repeats.
func duplicateRows(ds *Dataset) map[int]int {
	seen := make(map[string]int, len(ds.Features))
	dups := make(map[int]int)
	for row, features := range ds.Features {
		key := rowKey(features, ds.Labels[row])
		if first, ok := seen[key]; ok {
			dups[row] = first
			continue
		}
		seen[key] = row
	}
	return dups
}

func rowKey(features []float64, label int) string {
	var b strings.Builder
	for _, v := range features {
		b.WriteString(strconv.FormatUint(math.Float64bits(v), 16))
		b.WriteByte(',')
	}
	b.WriteString(strconv.Itoa(label))
	return b.String()
}

// DropDuplicates returns ds without repeated rows and the number removed.
func DropDuplicates(ds *Dataset) (*Dataset, int) {
	dups := duplicateRows(ds)
	if len(dups) == 0 {
		return ds, 0
	}
	keep := make([]int, 0, len(ds.Features)-len(dups))
	for row := range ds.Features {
		if _, dup := dups[row]; !dup {
			keep = append(keep, row)
		}
	}
	out := ds.subset(keep)
	out.Imputed = ds.Imputed
	return out, len(dups)
}

// OutlierDetectionRule flags values more than StdDevThreshold population
// standard deviations from their column mean. Binary columns are skipped.
type OutlierDetectionRule struct {
	StdDevThreshold float64
}

func NewOutlierDetectionRule() *OutlierDetectionRule {
	return &OutlierDetectionRule{StdDevThreshold: 3.0}
}

func (r *OutlierDetectionRule) Name() string { return "outlier_detection" }

func (r *OutlierDetectionRule) Check(ds *Dataset) []QualityIssue {
	if len(ds.Features) < 3 {
		return nil
	}
	var issues []QualityIssue
	for col, name := range ds.Columns {
		values := make([]float64, len(ds.Features))
		for i, features := range ds.Features {
			values[i] = features[col]
		}
		if isBinary(values) {
			continue
		}
		mean, std := meanStd(values)
		if std == 0 {
			continue
		}
		for row, v := range values {
			z := (v - mean) / std
			if math.Abs(z) > r.StdDevThreshold {
				issues = append(issues, QualityIssue{
					Rule:     r.Name(),
					Severity: SeverityLow,
					Row:      row,
					Column:   name,
					Message:  fmt.Sprintf("value %s is %.1f standard deviations from the mean", formatCell(v), z),
				})
			}
		}
	}
	return issues
}

func isBinary(values []float64) bool {
	for _, v := range values {
		if v != 0 && v != 1 {
			return false
		}
	}
	return true
}

func meanStd(values []float64) (float64, float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}

func formatCell(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
