package ml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func qualityDataset() *Dataset {
	ds := &Dataset{Columns: []string{"age", "sex", "chol"}, Imputed: map[string]int{"chol": 2}}
	for i := 0; i < 20; i++ {
		ds.Features = append(ds.Features, []float64{float64(40 + i), float64(i % 2), 200})
		ds.Labels = append(ds.Labels, i%2)
	}
	ds.Features = append(ds.Features, []float64{60, 0, 900}, []float64{40, 0, 200})
	ds.Labels = append(ds.Labels, 1, 0)
	return ds
}

func TestDataCleanerInspect(t *testing.T) {
	report := NewDataCleaner().Inspect(qualityDataset())

	assert.Equal(t, 22, report.Rows)
	assert.Equal(t, map[string]int{
		"missing_values":    1,
		"range_validation":  1,
		"duplicate_rows":    1,
		"outlier_detection": 1,
	}, report.Counts)
	assert.True(t, report.HasSeverity(SeverityHigh))

	byRule := map[string]QualityIssue{}
	for _, issue := range report.Issues {
		byRule[issue.Rule] = issue
	}
	assert.Equal(t, "chol", byRule["missing_values"].Column)
	assert.Equal(t, -1, byRule["missing_values"].Row)
	assert.Equal(t, 20, byRule["range_validation"].Row)
	assert.Equal(t, "value 900 outside [50, 700]", byRule["range_validation"].Message)
	assert.Equal(t, 21, byRule["duplicate_rows"].Row)
	assert.Equal(t, "duplicate of row 0", byRule["duplicate_rows"].Message)
	assert.Equal(t, 20, byRule["outlier_detection"].Row)
}

func TestDataCleanerCleanDataset(t *testing.T) {
	ds := &Dataset{
		Columns:  []string{"age", "chol"},
		Features: [][]float64{{63, 233}, {37, 250}, {41, 204}},
		Labels:   []int{1, 0, 1},
	}
	report := NewDataCleaner().Inspect(ds)
	assert.Empty(t, report.Issues)
	assert.Empty(t, report.Counts)
	assert.False(t, report.HasSeverity(SeverityLow))
}

func TestDataCleanerCustomRules(t *testing.T) {
	report := NewDataCleaner(DuplicateRowRule{}).Inspect(qualityDataset())
	assert.Equal(t, map[string]int{"duplicate_rows": 1}, report.Counts)
	assert.False(t, report.HasSeverity(SeverityHigh))
	assert.True(t, report.HasSeverity(SeverityMedium))
}

func TestDuplicateRowsNeedSameLabel(t *testing.T) {
	ds := &Dataset{
		Columns:  []string{"age"},
		Features: [][]float64{{50}, {50}},
		Labels:   []int{0, 1},
	}
	assert.Empty(t, DuplicateRowRule{}.Check(ds))
}

func TestDropDuplicates(t *testing.T) {
	ds := qualityDataset()
	out, removed := DropDuplicates(ds)
	require.Equal(t, 1, removed)
	assert.Len(t, out.Features, 21)
	assert.Len(t, out.Labels, 21)
	assert.Equal(t, ds.Columns, out.Columns)
	assert.Equal(t, ds.Imputed, out.Imputed)
	assert.Equal(t, []float64{60, 0, 900}, out.Features[20])

	same, removed := DropDuplicates(out)
	assert.Zero(t, removed)
	assert.Same(t, out, same)
}
