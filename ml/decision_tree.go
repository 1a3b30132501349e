package ml

import (
	"errors"
	"fmt"
	"math/rand"
	"slices"
)

// DecisionTree is a CART classifier stored as a flat pre-order node list.
type DecisionTree struct {
	Nodes []TreeNode `json:"nodes"`
}

// TreeNode holds the class distribution and the training cover of every
// node, not only of leaves; the explainer needs both.
type TreeNode struct {
	FeatureIdx int       `json:"feature_idx"`
	Threshold  float64   `json:"threshold"`
	LeftChild  int       `json:"left_child"`
	RightChild int       `json:"right_child"`
	Value      []float64 `json:"value"`
	Cover      float64   `json:"cover"`
	IsLeaf     bool      `json:"is_leaf"`
}

type treeBuilder struct {
	features        [][]float64
	labels          []int
	nClasses        int
	maxDepth        int
	minSamplesSplit int
	maxFeatures     int
	rng             *rand.Rand
}

// fit grows the tree on the given rows. labels are class indices.
func (dt *DecisionTree) fit(b *treeBuilder, rows []int) error {
	if len(rows) == 0 {
		return errors.New("features or labels empty")
	}
	dt.Nodes = dt.Nodes[:0]
	dt.buildNode(b, rows, 0)
	return nil
}

func (dt *DecisionTree) buildNode(b *treeBuilder, rows []int, depth int) int {
	counts := b.classCounts(rows)
	idx := len(dt.Nodes)
	dt.Nodes = append(dt.Nodes, TreeNode{
		FeatureIdx: -1,
		LeftChild:  -1,
		RightChild: -1,
		Value:      distribution(counts, len(rows)),
		Cover:      float64(len(rows)),
		IsLeaf:     true,
	})

	if (b.maxDepth > 0 && depth >= b.maxDepth) || len(rows) < b.minSamplesSplit || isPure(counts) {
		return idx
	}

	feature, threshold, ok := b.findBestSplit(rows)
	if !ok {
		return idx
	}
	left, right := b.partition(rows, feature, threshold)
	if len(left) == 0 || len(right) == 0 {
		return idx
	}

	leftIdx := dt.buildNode(b, left, depth+1)
	rightIdx := dt.buildNode(b, right, depth+1)

	node := &dt.Nodes[idx]
	node.FeatureIdx = feature
	node.Threshold = threshold
	node.LeftChild = leftIdx
	node.RightChild = rightIdx
	node.IsLeaf = false
	return idx
}

// findBestSplit evaluates up to maxFeatures randomly drawn non-constant
// features and returns the midpoint threshold with the lowest weighted Gini.
func (b *treeBuilder) findBestSplit(rows []int) (int, float64, bool) {
	bestFeature := -1
	bestThreshold := 0.0
	bestImpurity := 0.0

	order := make([]int, len(rows))
	leftCounts := make([]int, b.nClasses)
	rightCounts := make([]int, b.nClasses)

	visited := 0
	for _, featureIdx := range b.rng.Perm(len(b.features[0])) {
		if visited >= b.maxFeatures {
			break
		}
		copy(order, rows)
		slices.SortStableFunc(order, func(a, c int) int {
			va, vc := b.features[a][featureIdx], b.features[c][featureIdx]
			switch {
			case va < vc:
				return -1
			case va > vc:
				return 1
			}
			return 0
		})
		lo := b.features[order[0]][featureIdx]
		hi := b.features[order[len(order)-1]][featureIdx]
		if lo == hi {
			continue
		}
		visited++

		clear(leftCounts)
		copy(rightCounts, b.classCounts(rows))
		for i := 0; i < len(order)-1; i++ {
			label := b.labels[order[i]]
			leftCounts[label]++
			rightCounts[label]--

			current := b.features[order[i]][featureIdx]
			next := b.features[order[i+1]][featureIdx]
			if current == next {
				continue
			}
			nLeft := i + 1
			impurity := weightedGini(leftCounts, nLeft, rightCounts, len(order)-nLeft)
			if bestFeature == -1 || impurity < bestImpurity {
				bestFeature = featureIdx
				bestImpurity = impurity
				bestThreshold = current/2 + next/2
				if bestThreshold == next {
					bestThreshold = current
				}
			}
		}
	}
	if bestFeature == -1 {
		return -1, 0, false
	}
	return bestFeature, bestThreshold, true
}

func (b *treeBuilder) partition(rows []int, featureIdx int, threshold float64) ([]int, []int) {
	left := make([]int, 0, len(rows))
	right := make([]int, 0, len(rows))
	for _, row := range rows {
		if b.features[row][featureIdx] <= threshold {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	return left, right
}

func (b *treeBuilder) classCounts(rows []int) []int {
	counts := make([]int, b.nClasses)
	for _, row := range rows {
		counts[b.labels[row]]++
	}
	return counts
}

// PredictProba returns the class distribution of the leaf x falls into.
func (dt *DecisionTree) PredictProba(x []float64) ([]float64, error) {
	idx, err := dt.leafIndex(x)
	if err != nil {
		return nil, err
	}
	return slices.Clone(dt.Nodes[idx].Value), nil
}

func (dt *DecisionTree) NumFeatures() int {
	highest := -1
	for _, node := range dt.Nodes {
		if !node.IsLeaf && node.FeatureIdx > highest {
			highest = node.FeatureIdx
		}
	}
	return highest + 1
}

func (dt *DecisionTree) NumClasses() int {
	if len(dt.Nodes) == 0 {
		return 0
	}
	return len(dt.Nodes[0].Value)
}

func (dt *DecisionTree) leafIndex(x []float64) (int, error) {
	if len(dt.Nodes) == 0 {
		return 0, ErrNotTrained
	}
	idx := 0
	for {
		node := dt.Nodes[idx]
		if node.IsLeaf {
			return idx, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(x) {
			return 0, errors.New("feature index out of range")
		}
		idx = node.next(x)
		if idx < 0 || idx >= len(dt.Nodes) {
			return 0, errors.New("invalid tree state")
		}
	}
}

func (n TreeNode) next(x []float64) int {
	if x[n.FeatureIdx] <= n.Threshold {
		return n.LeftChild
	}
	return n.RightChild
}

// validate checks a decoded tree: children must point forward and every node
// must carry a distribution over nClasses.
func (dt *DecisionTree) validate(nFeatures, nClasses int) error {
	if len(dt.Nodes) == 0 {
		return ErrNotTrained
	}
	for i, node := range dt.Nodes {
		if len(node.Value) != nClasses {
			return fmt.Errorf("node %d: expected %d class values, got %d", i, nClasses, len(node.Value))
		}
		if node.Cover <= 0 {
			return fmt.Errorf("node %d: non-positive cover %v", i, node.Cover)
		}
		if node.IsLeaf {
			continue
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= nFeatures {
			return fmt.Errorf("node %d: feature index %d out of range", i, node.FeatureIdx)
		}
		if node.LeftChild <= i || node.LeftChild >= len(dt.Nodes) || node.RightChild <= i || node.RightChild >= len(dt.Nodes) {
			return fmt.Errorf("node %d: invalid children %d/%d", i, node.LeftChild, node.RightChild)
		}
	}
	return nil
}

func weightedGini(leftCounts []int, nLeft int, rightCounts []int, nRight int) float64 {
	total := float64(nLeft + nRight)
	return (float64(nLeft)/total)*gini(leftCounts, nLeft) + (float64(nRight)/total)*gini(rightCounts, nRight)
}

func gini(counts []int, n int) float64 {
	if n == 0 {
		return 0
	}
	impurity := 1.0
	for _, count := range counts {
		prob := float64(count) / float64(n)
		impurity -= prob * prob
	}
	return impurity
}

func distribution(counts []int, n int) []float64 {
	value := make([]float64, len(counts))
	if n == 0 {
		return value
	}
	for i, c := range counts {
		value[i] = float64(c) / float64(n)
	}
	return value
}

func isPure(counts []int) bool {
	nonZero := 0
	for _, c := range counts {
		if c > 0 {
			nonZero++
		}
	}
	return nonZero <= 1
}

// argmax returns the first index holding the largest value.
func argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}
