package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Artifact file names inside the model directory.
const (
	PipelineFile  = "heart_disease_pipeline.json"
	ColumnsFile   = "model_columns.json"
	ExplainerFile = "shap_explainer.json"
)

const (
	formatVersion = 1

	ModelTypeRandomForest = "random_forest"
)

type pipelineFile struct {
	FormatVersion int             `json:"format_version"`
	Scaler        *StandardScaler `json:"scaler"`
	Classifier    classifierFile  `json:"classifier"`
}

type classifierFile struct {
	Type  string          `json:"type"`
	Model json.RawMessage `json:"model"`
}

type explainerFile struct {
	FormatVersion int `json:"format_version"`
	*TreeExplainer
}

// DecodePipeline parses and validates a persisted pipeline.
func DecodePipeline(data []byte) (*Pipeline, error) {
	var file pipelineFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode pipeline: %w", err)
	}
	if file.FormatVersion != formatVersion {
		return nil, fmt.Errorf("unsupported pipeline format version %d", file.FormatVersion)
	}
	classifier, err := loadClassifier(file.Classifier)
	if err != nil {
		return nil, err
	}
	pipeline := &Pipeline{Scaler: file.Scaler, Classifier: classifier}
	if err := pipeline.validate(); err != nil {
		return nil, err
	}
	return pipeline, nil
}

func loadClassifier(file classifierFile) (*RandomForest, error) {
	switch file.Type {
	case ModelTypeRandomForest:
		model := &RandomForest{}
		if err := json.Unmarshal(file.Model, model); err != nil {
			return nil, fmt.Errorf("decode %s: %w", file.Type, err)
		}
		return model, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedModel, file.Type)
	}
}

// DecodeColumns parses the ordered column list. Names must be non-empty and
// unique.
func DecodeColumns(data []byte) ([]string, error) {
	var columns []string
	if err := json.Unmarshal(data, &columns); err != nil {
		return nil, fmt.Errorf("decode columns: %w", err)
	}
	if len(columns) == 0 {
		return nil, errors.New("column list is empty")
	}
	seen := make(map[string]struct{}, len(columns))
	for i, name := range columns {
		if name == "" {
			return nil, fmt.Errorf("column %d has an empty name", i)
		}
		if _, ok := seen[name]; ok {
			return nil, fmt.Errorf("duplicate column %q", name)
		}
		seen[name] = struct{}{}
	}
	return columns, nil
}

// DecodeExplainer parses a persisted explainer. It must still be bound to the
// pipeline's classifier before use.
func DecodeExplainer(data []byte) (*TreeExplainer, error) {
	file := explainerFile{TreeExplainer: &TreeExplainer{}}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode explainer: %w", err)
	}
	if file.FormatVersion != formatVersion {
		return nil, fmt.Errorf("unsupported explainer format version %d", file.FormatVersion)
	}
	return file.TreeExplainer, nil
}

// EncodePipeline is the inverse of DecodePipeline.
func EncodePipeline(p *Pipeline) ([]byte, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	model, err := json.Marshal(p.Classifier)
	if err != nil {
		return nil, err
	}
	return json.Marshal(pipelineFile{
		FormatVersion: formatVersion,
		Scaler:        p.Scaler,
		Classifier:    classifierFile{Type: ModelTypeRandomForest, Model: model},
	})
}

// EncodeExplainer is the inverse of DecodeExplainer.
func EncodeExplainer(e *TreeExplainer) ([]byte, error) {
	return json.MarshalIndent(explainerFile{FormatVersion: formatVersion, TreeExplainer: e}, "", "  ")
}

// SaveArtifacts writes the pipeline, column list and explainer into dir.
func SaveArtifacts(dir string, pipeline *Pipeline, columns []string, explainer *TreeExplainer) error {
	if len(columns) != pipeline.NumFeatures() {
		return fmt.Errorf("%w: %d columns for %d features", ErrFeatureCount, len(columns), pipeline.NumFeatures())
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	pipelinePayload, err := EncodePipeline(pipeline)
	if err != nil {
		return fmt.Errorf("encode pipeline: %w", err)
	}
	columnsPayload, err := json.MarshalIndent(columns, "", "  ")
	if err != nil {
		return err
	}
	explainerPayload, err := EncodeExplainer(explainer)
	if err != nil {
		return fmt.Errorf("encode explainer: %w", err)
	}

	files := []struct {
		name    string
		payload []byte
	}{
		{PipelineFile, pipelinePayload},
		{ColumnsFile, columnsPayload},
		{ExplainerFile, explainerPayload},
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f.name), f.payload, 0o644); err != nil {
			return err
		}
	}
	return nil
}
