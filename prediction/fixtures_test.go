package prediction

import (
	"encoding/json"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"

	"heartrisk/ml"
)

var heartColumns = []string{
	"age", "sex", "cp", "trestbps", "chol", "fbs", "restecg",
	"thalach", "exang", "oldpeak", "slope", "ca", "thal",
}

// fixturePipeline is an identity-scaled single tree:
//
//	age <= 50  -> [0.9, 0.1] (cover 40)
//	chol <= 240 -> [0.5, 0.5] (cover 20)
//	otherwise   -> [0.1, 0.9] (cover 40)
//
// Its expected positive-class value is 0.5.
func fixturePipeline() *ml.Pipeline {
	width := len(heartColumns)
	scaler := &ml.StandardScaler{Mean: make([]float64, width), Scale: make([]float64, width)}
	for i := range scaler.Scale {
		scaler.Scale[i] = 1
	}
	leaf := func(p0, p1, cover float64) ml.TreeNode {
		return ml.TreeNode{FeatureIdx: -1, LeftChild: -1, RightChild: -1, Value: []float64{p0, p1}, Cover: cover, IsLeaf: true}
	}
	forest := &ml.RandomForest{
		Classes:   []int{0, 1},
		NFeatures: width,
		Trees: []ml.DecisionTree{{Nodes: []ml.TreeNode{
			{FeatureIdx: 0, Threshold: 50, LeftChild: 1, RightChild: 2, Value: []float64{0.5, 0.5}, Cover: 100},
			leaf(0.9, 0.1, 40),
			{FeatureIdx: 4, Threshold: 240, LeftChild: 3, RightChild: 4, Value: []float64{14.0 / 60, 46.0 / 60}, Cover: 60},
			leaf(0.5, 0.5, 20),
			leaf(0.1, 0.9, 40),
		}}},
	}
	return &ml.Pipeline{Scaler: scaler, Classifier: forest}
}

func fixtureFS(t *testing.T) fstest.MapFS {
	t.Helper()
	pipeline := fixturePipeline()
	explainer, err := ml.NewTreeExplainer(pipeline.Classifier)
	require.NoError(t, err)

	pipelineBytes, err := ml.EncodePipeline(pipeline)
	require.NoError(t, err)
	explainerBytes, err := ml.EncodeExplainer(explainer)
	require.NoError(t, err)
	columnsBytes, err := json.Marshal(heartColumns)
	require.NoError(t, err)

	return fstest.MapFS{
		ml.PipelineFile:  {Data: pipelineBytes},
		ml.ColumnsFile:   {Data: columnsBytes},
		ml.ExplainerFile: {Data: explainerBytes},
	}
}

func loadedStore(t *testing.T) *ArtifactStore {
	t.Helper()
	store := NewArtifactStore(fixtureFS(t), nil)
	require.NoError(t, store.Load())
	return store
}

// classicRecord is the well-known sample patient from the UCI heart data.
func classicRecord() map[string]float64 {
	return map[string]float64{
		"age": 63, "sex": 1, "cp": 3, "trestbps": 145, "chol": 233, "fbs": 1, "restecg": 0,
		"thalach": 150, "exang": 0, "oldpeak": 2.3, "slope": 0, "ca": 0, "thal": 1,
	}
}
