package ml

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDataset(t *testing.T) {
	csv := "\ufeffage,chol,thal,target\n" +
		"63,233,fixed,1\n" +
		"37,,normal,0\n" +
		"41,204,,1\n" +
		"56,236,normal,0\n"

	ds, err := LoadDataset(strings.NewReader(csv), "target")
	require.NoError(t, err)

	assert.Equal(t, []string{"age", "chol", "thal_fixed", "thal_normal"}, ds.Columns)
	assert.Equal(t, []int{1, 0, 1, 0}, ds.Labels)
	assert.Equal(t, []float64{63, 233, 1, 0}, ds.Features[0])
	// chol median of 233, 204, 236
	assert.Equal(t, []float64{37, 233, 0, 1}, ds.Features[1])
	assert.Equal(t, []float64{41, 204, 0, 0}, ds.Features[2])
	assert.Equal(t, map[string]int{"chol": 1}, ds.Imputed)
}

func TestLoadDatasetErrors(t *testing.T) {
	tests := []struct {
		name string
		csv  string
	}{
		{name: "no rows", csv: "age,target\n"},
		{name: "missing target column", csv: "age,chol\n1,2\n"},
		{name: "fractional target", csv: "age,target\n1,0.5\n"},
		{name: "empty target", csv: "age,target\n1,\n"},
		{name: "ragged", csv: "age,target\n1,0\n2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadDataset(strings.NewReader(tt.csv), DefaultTarget)
			assert.Error(t, err)
		})
	}
}

func TestDatasetSplit(t *testing.T) {
	features, labels := syntheticRows(101, 2, 3)
	ds := &Dataset{Columns: []string{"a", "b"}, Features: features, Labels: labels}

	train, test, err := ds.Split(0.2, 42)
	require.NoError(t, err)
	assert.Len(t, test.Features, 21)
	assert.Len(t, train.Features, 80)
	assert.Len(t, train.Labels, 80)

	again, _, err := ds.Split(0.2, 42)
	require.NoError(t, err)
	assert.Equal(t, train.Features, again.Features)

	_, _, err = ds.Split(1.5, 42)
	assert.Error(t, err)
}

func TestStandardScaler(t *testing.T) {
	s := &StandardScaler{}
	require.NoError(t, s.Fit([][]float64{{1, 5}, {3, 5}}))

	assert.Equal(t, []float64{2, 5}, s.Mean)
	assert.Equal(t, []float64{1, 1}, s.Scale)

	out, err := s.Transform([]float64{3, 7})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, out)

	_, err = s.Transform([]float64{1})
	assert.ErrorIs(t, err, ErrFeatureCount)
}
