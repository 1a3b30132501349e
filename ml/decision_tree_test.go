package ml

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecisionTreeTrainPredict(t *testing.T) {
	features := [][]float64{
		{0.1, 0.2},
		{0.2, 0.1},
		{0.9, 0.8},
		{0.8, 0.9},
	}
	b := &treeBuilder{
		features:        features,
		labels:          []int{0, 0, 1, 1},
		nClasses:        2,
		minSamplesSplit: 2,
		maxFeatures:     2,
		rng:             rand.New(rand.NewSource(1)),
	}

	tree := &DecisionTree{}
	require.NoError(t, tree.fit(b, []int{0, 1, 2, 3}))
	require.NoError(t, tree.validate(2, 2))

	proba, err := tree.PredictProba([]float64{0.15, 0.15})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, proba)

	proba, err = tree.PredictProba([]float64{0.85, 0.85})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1}, proba)

	root := tree.Nodes[0]
	assert.False(t, root.IsLeaf)
	assert.Equal(t, 4.0, root.Cover)
	assert.Equal(t, []float64{0.5, 0.5}, root.Value)
	assert.InDelta(t, 0.5, root.Threshold, 1e-12)
}

func TestDecisionTreeMaxDepth(t *testing.T) {
	features := [][]float64{{1}, {2}, {3}, {4}, {5}, {6}}
	b := &treeBuilder{
		features:        features,
		labels:          []int{0, 1, 0, 1, 0, 1},
		nClasses:        2,
		maxDepth:        1,
		minSamplesSplit: 2,
		maxFeatures:     1,
		rng:             rand.New(rand.NewSource(7)),
	}
	tree := &DecisionTree{}
	require.NoError(t, tree.fit(b, []int{0, 1, 2, 3, 4, 5}))

	assert.Len(t, tree.Nodes, 3)
	assert.True(t, tree.Nodes[1].IsLeaf)
	assert.True(t, tree.Nodes[2].IsLeaf)
	assert.Equal(t, tree.Nodes[0].Cover, tree.Nodes[1].Cover+tree.Nodes[2].Cover)
}

func TestDecisionTreeUntrained(t *testing.T) {
	_, err := (&DecisionTree{}).PredictProba([]float64{1})
	assert.ErrorIs(t, err, ErrNotTrained)
}

func TestDecisionTreeValidateRejectsBackwardChildren(t *testing.T) {
	tree := &DecisionTree{Nodes: []TreeNode{
		{FeatureIdx: 0, LeftChild: 0, RightChild: 1, Value: []float64{0.5, 0.5}, Cover: 2},
		{FeatureIdx: -1, LeftChild: -1, RightChild: -1, Value: []float64{1, 0}, Cover: 1, IsLeaf: true},
	}}
	assert.Error(t, tree.validate(1, 2))
}
