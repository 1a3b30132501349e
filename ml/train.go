package ml

import (
	"fmt"
)

// TrainOptions controls the split and the forest.
type TrainOptions struct {
	TestRatio float64
	Forest    ForestOptions
}

// DefaultTrainOptions holds out 20% and uses DefaultForestOptions.
func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		TestRatio: 0.2,
		Forest:    DefaultForestOptions(),
	}
}

// Evaluation holds hold-out metrics; precision and recall treat class 1 as
// positive.
type Evaluation struct {
	Accuracy  float64
	Precision float64
	Recall    float64
}

// TrainResult is everything TrainPipeline produces.
type TrainResult struct {
	Pipeline   *Pipeline
	Explainer  *TreeExplainer
	Columns    []string
	Evaluation Evaluation
	TrainSize  int
	TestSize   int
}

// TrainPipeline splits ds, fits the scaler on the training rows only, fits
// the forest on the scaled rows, evaluates on the held-out rows and builds the
// explainer for the fitted forest.
func TrainPipeline(ds *Dataset, opts TrainOptions) (*TrainResult, error) {
	train, test, err := ds.Split(opts.TestRatio, opts.Forest.Seed)
	if err != nil {
		return nil, err
	}

	scaler := &StandardScaler{}
	if err := scaler.Fit(train.Features); err != nil {
		return nil, fmt.Errorf("fit scaler: %w", err)
	}
	trainScaled, err := scaler.TransformAll(train.Features)
	if err != nil {
		return nil, err
	}

	forest, err := TrainRandomForest(trainScaled, train.Labels, opts.Forest)
	if err != nil {
		return nil, fmt.Errorf("fit forest: %w", err)
	}
	pipeline := &Pipeline{Scaler: scaler, Classifier: forest}

	evaluation, err := evaluate(pipeline, test)
	if err != nil {
		return nil, err
	}

	explainer, err := NewTreeExplainer(forest)
	if err != nil {
		return nil, fmt.Errorf("build explainer: %w", err)
	}

	return &TrainResult{
		Pipeline:   pipeline,
		Explainer:  explainer,
		Columns:    ds.Columns,
		Evaluation: evaluation,
		TrainSize:  len(train.Features),
		TestSize:   len(test.Features),
	}, nil
}

func evaluate(pipeline *Pipeline, test *Dataset) (Evaluation, error) {
	if len(test.Features) == 0 {
		return Evaluation{}, nil
	}

	var correct int
	var truePositive int
	var predictedPositive int
	var actualPositive int

	for i, feature := range test.Features {
		label, _, err := pipeline.PredictClassAndProbability(feature)
		if err != nil {
			return Evaluation{}, err
		}
		if label == test.Labels[i] {
			correct++
		}
		if label == 1 {
			predictedPositive++
		}
		if test.Labels[i] == 1 {
			actualPositive++
			if label == 1 {
				truePositive++
			}
		}
	}

	var ev Evaluation
	ev.Accuracy = float64(correct) / float64(len(test.Features))
	if predictedPositive > 0 {
		ev.Precision = float64(truePositive) / float64(predictedPositive)
	}
	if actualPositive > 0 {
		ev.Recall = float64(truePositive) / float64(actualPositive)
	}
	return ev, nil
}
