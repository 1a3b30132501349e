package ml

import (
	"fmt"
)

// Pipeline chains a StandardScaler and a classifier: raw vectors are scaled
// before they reach the trees.
type Pipeline struct {
	Scaler     *StandardScaler
	Classifier *RandomForest
}

func (p *Pipeline) NumFeatures() int {
	if p.Scaler == nil {
		return 0
	}
	return p.Scaler.Width()
}

// Scale applies the pipeline's scaling step only.
func (p *Pipeline) Scale(x []float64) ([]float64, error) {
	if p.Scaler == nil {
		return nil, ErrNotTrained
	}
	return p.Scaler.Transform(x)
}

// PredictClassAndProbability scales x, runs the classifier and returns the
// predicted label and the probability of the class at index 1.
func (p *Pipeline) PredictClassAndProbability(x []float64) (int, float64, error) {
	scaled, err := p.Scale(x)
	if err != nil {
		return 0, 0, err
	}
	if p.Classifier == nil {
		return 0, 0, ErrNotTrained
	}
	label, proba, err := p.Classifier.Predict(scaled)
	if err != nil {
		return 0, 0, err
	}
	return label, proba[1], nil
}

func (p *Pipeline) validate() error {
	if p.Scaler == nil || p.Classifier == nil {
		return ErrNotTrained
	}
	if err := p.Scaler.validate(); err != nil {
		return fmt.Errorf("scaler: %w", err)
	}
	if err := p.Classifier.validate(); err != nil {
		return fmt.Errorf("classifier: %w", err)
	}
	if p.Scaler.Width() != p.Classifier.NFeatures {
		return fmt.Errorf("%w: scaler has %d columns, classifier expects %d",
			ErrFeatureCount, p.Scaler.Width(), p.Classifier.NFeatures)
	}
	return nil
}
