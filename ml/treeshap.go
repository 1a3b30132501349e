package ml

import (
	"fmt"
)

// PathDependent is the only attribution algorithm persisted explainers use.
const PathDependent = "tree_path_dependent"

// TreeExplainer computes exact Shapley values for a RandomForest using the
// path-dependent Tree SHAP recursion, with node covers standing in for the
// background distribution.
type TreeExplainer struct {
	Algorithm        string    `json:"algorithm"`
	ModelFingerprint string    `json:"model_fingerprint"`
	ExpectedValue    []float64 `json:"expected_value"`

	forest *RandomForest
}

// NewTreeExplainer builds an explainer bound to forest.
func NewTreeExplainer(forest *RandomForest) (*TreeExplainer, error) {
	if err := forest.validate(); err != nil {
		return nil, err
	}
	fingerprint, err := forest.Fingerprint()
	if err != nil {
		return nil, err
	}
	expected := make([]float64, len(forest.Classes))
	for t := range forest.Trees {
		for c, v := range treeExpectedValue(&forest.Trees[t], len(forest.Classes)) {
			expected[c] += v
		}
	}
	for c := range expected {
		expected[c] /= float64(len(forest.Trees))
	}
	return &TreeExplainer{
		Algorithm:        PathDependent,
		ModelFingerprint: fingerprint,
		ExpectedValue:    expected,
		forest:           forest,
	}, nil
}

// Bind attaches a decoded explainer to the classifier it was built for.
func (e *TreeExplainer) Bind(forest *RandomForest) error {
	if e.Algorithm != PathDependent {
		return fmt.Errorf("%w: explainer algorithm %q", ErrUnsupportedModel, e.Algorithm)
	}
	fingerprint, err := forest.Fingerprint()
	if err != nil {
		return err
	}
	if fingerprint != e.ModelFingerprint {
		return ErrFingerprintMismatch
	}
	if len(e.ExpectedValue) != len(forest.Classes) {
		return fmt.Errorf("explainer has %d expected values for %d classes", len(e.ExpectedValue), len(forest.Classes))
	}
	e.forest = forest
	return nil
}

// ShapValues returns phi[feature][class] for x, which must already be in the
// classifier's input space.
func (e *TreeExplainer) ShapValues(x []float64) ([][]float64, error) {
	if e.forest == nil {
		return nil, ErrExplainerUnbound
	}
	if len(x) != e.forest.NFeatures {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrFeatureCount, e.forest.NFeatures, len(x))
	}
	nClasses := len(e.forest.Classes)
	phi := make([][]float64, len(x))
	for j := range phi {
		phi[j] = make([]float64, nClasses)
	}
	for t := range e.forest.Trees {
		treeShap(&e.forest.Trees[t], x, phi)
	}
	n := float64(len(e.forest.Trees))
	for j := range phi {
		for c := range phi[j] {
			phi[j][c] /= n
		}
	}
	return phi, nil
}

// AttributionsForPositiveClass returns one score per feature for the class at
// index 1.
func (e *TreeExplainer) AttributionsForPositiveClass(x []float64) ([]float64, error) {
	phi, err := e.ShapValues(x)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(phi))
	for j := range phi {
		out[j] = phi[j][1]
	}
	return out, nil
}

func (e *TreeExplainer) ExpectedValueForPositiveClass() float64 {
	if len(e.ExpectedValue) < 2 {
		return 0
	}
	return e.ExpectedValue[1]
}

// treeExpectedValue is the cover-weighted mean of the leaf distributions.
func treeExpectedValue(tree *DecisionTree, nClasses int) []float64 {
	out := make([]float64, nClasses)
	root := tree.Nodes[0].Cover
	for _, node := range tree.Nodes {
		if !node.IsLeaf {
			continue
		}
		w := node.Cover / root
		for c, v := range node.Value {
			out[c] += w * v
		}
	}
	return out
}

type pathElement struct {
	featureIndex int
	zeroFraction float64
	oneFraction  float64
	pweight      float64
}

func treeShap(tree *DecisionTree, x []float64, phi [][]float64) {
	treeShapRecursive(tree, x, phi, 0, 0, nil, 1, 1, -1)
}

func treeShapRecursive(tree *DecisionTree, x []float64, phi [][]float64, nodeIdx, uniqueDepth int,
	parentPath []pathElement, parentZero, parentOne float64, parentFeature int) {
	path := make([]pathElement, uniqueDepth+1, uniqueDepth+2)
	copy(path, parentPath)
	extendPath(path, uniqueDepth, parentZero, parentOne, parentFeature)

	node := tree.Nodes[nodeIdx]
	if node.IsLeaf {
		for i := 1; i <= uniqueDepth; i++ {
			w := unwoundPathSum(path, uniqueDepth, i)
			el := path[i]
			scale := w * (el.oneFraction - el.zeroFraction)
			for c, v := range node.Value {
				phi[el.featureIndex][c] += scale * v
			}
		}
		return
	}

	hot := node.next(x)
	cold := node.LeftChild
	if hot == node.LeftChild {
		cold = node.RightChild
	}
	hotZero := tree.Nodes[hot].Cover / node.Cover
	coldZero := tree.Nodes[cold].Cover / node.Cover
	incomingZero, incomingOne := 1.0, 1.0

	// A feature already on the path is unwound so it is counted once.
	pathIndex := 0
	for ; pathIndex <= uniqueDepth; pathIndex++ {
		if path[pathIndex].featureIndex == node.FeatureIdx {
			break
		}
	}
	if pathIndex != uniqueDepth+1 {
		incomingZero = path[pathIndex].zeroFraction
		incomingOne = path[pathIndex].oneFraction
		unwindPath(path, uniqueDepth, pathIndex)
		uniqueDepth--
		path = path[:uniqueDepth+1]
	}

	treeShapRecursive(tree, x, phi, hot, uniqueDepth+1, path, hotZero*incomingZero, incomingOne, node.FeatureIdx)
	treeShapRecursive(tree, x, phi, cold, uniqueDepth+1, path, coldZero*incomingZero, 0, node.FeatureIdx)
}

func extendPath(path []pathElement, uniqueDepth int, zeroFraction, oneFraction float64, featureIndex int) {
	path[uniqueDepth] = pathElement{
		featureIndex: featureIndex,
		zeroFraction: zeroFraction,
		oneFraction:  oneFraction,
	}
	if uniqueDepth == 0 {
		path[uniqueDepth].pweight = 1
	}
	d := float64(uniqueDepth + 1)
	for i := uniqueDepth - 1; i >= 0; i-- {
		path[i+1].pweight += oneFraction * path[i].pweight * float64(i+1) / d
		path[i].pweight = zeroFraction * path[i].pweight * float64(uniqueDepth-i) / d
	}
}

func unwindPath(path []pathElement, uniqueDepth, pathIndex int) {
	oneFraction := path[pathIndex].oneFraction
	zeroFraction := path[pathIndex].zeroFraction
	nextOnePortion := path[uniqueDepth].pweight
	d := float64(uniqueDepth + 1)

	for i := uniqueDepth - 1; i >= 0; i-- {
		if oneFraction != 0 {
			tmp := path[i].pweight
			path[i].pweight = nextOnePortion * d / (float64(i+1) * oneFraction)
			nextOnePortion = tmp - path[i].pweight*zeroFraction*float64(uniqueDepth-i)/d
		} else {
			path[i].pweight = path[i].pweight * d / (zeroFraction * float64(uniqueDepth-i))
		}
	}
	for i := pathIndex; i < uniqueDepth; i++ {
		path[i].featureIndex = path[i+1].featureIndex
		path[i].zeroFraction = path[i+1].zeroFraction
		path[i].oneFraction = path[i+1].oneFraction
	}
}

func unwoundPathSum(path []pathElement, uniqueDepth, pathIndex int) float64 {
	oneFraction := path[pathIndex].oneFraction
	zeroFraction := path[pathIndex].zeroFraction
	nextOnePortion := path[uniqueDepth].pweight
	total := 0.0

	if oneFraction != 0 {
		for i := uniqueDepth - 1; i >= 0; i-- {
			tmp := nextOnePortion / (float64(i+1) * oneFraction)
			total += tmp
			nextOnePortion = path[i].pweight - tmp*zeroFraction*float64(uniqueDepth-i)
		}
	} else {
		for i := uniqueDepth - 1; i >= 0; i-- {
			total += path[i].pweight / (zeroFraction * float64(uniqueDepth-i))
		}
	}
	return total * float64(uniqueDepth+1)
}
