package ml

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syntheticRows draws rows whose label depends on the first two columns.
func syntheticRows(n, width int, seed int64) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(seed))
	features := make([][]float64, n)
	labels := make([]int, n)
	for i := range features {
		row := make([]float64, width)
		for j := range row {
			row[j] = rng.NormFloat64()
		}
		if row[0]+0.5*row[1] > 0 {
			labels[i] = 1
		}
		features[i] = row
	}
	return features, labels
}

func TestTrainRandomForest(t *testing.T) {
	features, labels := syntheticRows(300, 4, 1)
	forest, err := TrainRandomForest(features, labels, ForestOptions{NEstimators: 15, MaxDepth: 6, Seed: 42})
	require.NoError(t, err)
	require.NoError(t, forest.validate())

	assert.Equal(t, []int{0, 1}, forest.Classes)
	assert.Equal(t, 4, forest.NumFeatures())
	assert.Len(t, forest.Trees, 15)

	correct := 0
	for i, row := range features {
		label, proba, err := forest.Predict(row)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, proba[0]+proba[1], 1e-9)
		if label == labels[i] {
			correct++
		}
	}
	assert.Greater(t, float64(correct)/float64(len(features)), 0.9)
}

func TestTrainRandomForestDeterministic(t *testing.T) {
	features, labels := syntheticRows(120, 3, 5)
	opts := ForestOptions{NEstimators: 5, Seed: 42}

	a, err := TrainRandomForest(features, labels, opts)
	require.NoError(t, err)
	b, err := TrainRandomForest(features, labels, opts)
	require.NoError(t, err)

	fa, err := a.Fingerprint()
	require.NoError(t, err)
	fb, err := b.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, fa, fb)
}

func TestTrainRandomForestErrors(t *testing.T) {
	tests := []struct {
		name     string
		features [][]float64
		labels   []int
	}{
		{name: "empty", features: nil, labels: nil},
		{name: "size mismatch", features: [][]float64{{1}, {2}}, labels: []int{0}},
		{name: "single class", features: [][]float64{{1}, {2}}, labels: []int{1, 1}},
		{name: "ragged rows", features: [][]float64{{1, 2}, {2}}, labels: []int{0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := TrainRandomForest(tt.features, tt.labels, DefaultForestOptions())
			assert.Error(t, err)
		})
	}
}

func TestRandomForestPredictProbaWidth(t *testing.T) {
	features, labels := syntheticRows(50, 3, 2)
	forest, err := TrainRandomForest(features, labels, ForestOptions{NEstimators: 2, Seed: 1})
	require.NoError(t, err)

	_, err = forest.PredictProba([]float64{1, 2})
	assert.ErrorIs(t, err, ErrFeatureCount)
}
