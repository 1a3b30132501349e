package ml

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"
)

// ForestOptions mirrors the knobs the offline trainer exposes.
type ForestOptions struct {
	NEstimators     int
	MaxDepth        int
	MinSamplesSplit int
	Seed            int64
}

// DefaultForestOptions trains 100 unlimited-depth trees with seed 42.
func DefaultForestOptions() ForestOptions {
	return ForestOptions{
		NEstimators:     100,
		MaxDepth:        0,
		MinSamplesSplit: 2,
		Seed:            42,
	}
}

// RandomForest is a bagged ensemble of CART trees whose class probabilities
// are the mean of the per-tree leaf distributions.
type RandomForest struct {
	Classes   []int          `json:"classes"`
	NFeatures int            `json:"n_features"`
	Trees     []DecisionTree `json:"trees"`
}

// TrainRandomForest fits a forest on features/labels. Labels are the raw
// class values; they are sorted and stored in Classes.
func TrainRandomForest(features [][]float64, labels []int, opts ForestOptions) (*RandomForest, error) {
	if len(features) == 0 || len(labels) == 0 {
		return nil, errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return nil, errors.New("features and labels size mismatch")
	}
	width := len(features[0])
	for i, row := range features {
		if len(row) != width {
			return nil, fmt.Errorf("%w: row %d has %d values, expected %d", ErrFeatureCount, i, len(row), width)
		}
	}
	if opts.NEstimators <= 0 {
		opts.NEstimators = DefaultForestOptions().NEstimators
	}
	if opts.MinSamplesSplit < 2 {
		opts.MinSamplesSplit = 2
	}

	classes := slices.Clone(labels)
	slices.Sort(classes)
	classes = slices.Compact(classes)
	if len(classes) < 2 {
		return nil, fmt.Errorf("need at least 2 classes, got %d", len(classes))
	}
	indexed := make([]int, len(labels))
	for i, label := range labels {
		indexed[i], _ = slices.BinarySearch(classes, label)
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	builder := &treeBuilder{
		features:        features,
		labels:          indexed,
		nClasses:        len(classes),
		maxDepth:        opts.MaxDepth,
		minSamplesSplit: opts.MinSamplesSplit,
		maxFeatures:     max(1, int(math.Sqrt(float64(width)))),
		rng:             rng,
	}

	forest := &RandomForest{
		Classes:   classes,
		NFeatures: width,
		Trees:     make([]DecisionTree, opts.NEstimators),
	}
	n := len(features)
	for t := range forest.Trees {
		rows := make([]int, n)
		for i := range rows {
			rows[i] = rng.Intn(n)
		}
		if err := forest.Trees[t].fit(builder, rows); err != nil {
			return nil, fmt.Errorf("tree %d: %w", t, err)
		}
	}
	return forest, nil
}

// PredictProba averages the class distributions of every tree.
func (f *RandomForest) PredictProba(x []float64) ([]float64, error) {
	if len(f.Trees) == 0 {
		return nil, ErrNotTrained
	}
	if len(x) != f.NFeatures {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrFeatureCount, f.NFeatures, len(x))
	}
	proba := make([]float64, len(f.Classes))
	for t := range f.Trees {
		idx, err := f.Trees[t].leafIndex(x)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", t, err)
		}
		for c, v := range f.Trees[t].Nodes[idx].Value {
			proba[c] += v
		}
	}
	n := float64(len(f.Trees))
	for c := range proba {
		proba[c] /= n
	}
	return proba, nil
}

// Predict returns the class label with the highest mean probability together
// with the full distribution.
func (f *RandomForest) Predict(x []float64) (int, []float64, error) {
	proba, err := f.PredictProba(x)
	if err != nil {
		return 0, nil, err
	}
	return f.Classes[argmax(proba)], proba, nil
}

func (f *RandomForest) NumFeatures() int {
	return f.NFeatures
}

func (f *RandomForest) NumClasses() int {
	return len(f.Classes)
}

// Fingerprint identifies this exact set of trees. Explainers persist it so a
// pipeline and an explainer from different training runs cannot be paired.
func (f *RandomForest) Fingerprint() (string, error) {
	payload, err := json.Marshal(f)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

func (f *RandomForest) validate() error {
	if len(f.Trees) == 0 {
		return ErrNotTrained
	}
	if f.NFeatures <= 0 {
		return fmt.Errorf("invalid feature count %d", f.NFeatures)
	}
	if len(f.Classes) < 2 {
		return fmt.Errorf("need at least 2 classes, got %d", len(f.Classes))
	}
	for t := range f.Trees {
		if err := f.Trees[t].validate(f.NFeatures, len(f.Classes)); err != nil {
			return fmt.Errorf("tree %d: %w", t, err)
		}
	}
	return nil
}
