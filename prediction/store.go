package prediction

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"heartrisk/ml"
)

// Model is the classification capability the service needs from a trained
// pipeline.
type Model interface {
	NumFeatures() int
	Scale(x []float64) ([]float64, error)
	PredictClassAndProbability(x []float64) (int, float64, error)
}

// Explainer produces per-feature attributions for the positive class.
type Explainer interface {
	AttributionsForPositiveClass(scaled []float64) ([]float64, error)
	ExpectedValueForPositiveClass() float64
}

// Artifacts is an immutable snapshot of everything inference reads.
type Artifacts struct {
	Model      Model
	Columns    []string
	Explainer  Explainer
	Generation uint64
	LoadedAt   time.Time
}

// ArtifactStore owns the loaded artifacts. Readers take a snapshot without
// locking; Load and Install publish a complete new snapshot or nothing.
type ArtifactStore struct {
	fsys   fs.FS
	logger *zap.Logger

	mu         sync.Mutex
	generation uint64
	current    atomic.Pointer[Artifacts]
}

// NewArtifactStore reads artifacts from fsys. Nothing is loaded until Load or Install.
func NewArtifactStore(fsys fs.FS, logger *zap.Logger) *ArtifactStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArtifactStore{fsys: fsys, logger: logger}
}

// NewArtifactStoreFromDir reads artifacts from a directory on disk.
func NewArtifactStoreFromDir(dir string, logger *zap.Logger) *ArtifactStore {
	return NewArtifactStore(os.DirFS(dir), logger)
}

// Load reads, decodes and cross-checks the pipeline, column list and
// explainer. On any failure the previously published snapshot stays in place.
func (s *ArtifactStore) Load() error {
	if s.fsys == nil {
		return fmt.Errorf("%w: no artifact location configured", ErrArtifactMissing)
	}

	names := []string{ml.PipelineFile, ml.ColumnsFile, ml.ExplainerFile}
	payloads := make(map[string][]byte, len(names))
	var missing []string
	for _, name := range names {
		data, err := fs.ReadFile(s.fsys, name)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				s.logger.Warn("artifact unreadable", zap.String("file", name), zap.Error(err))
			}
			missing = append(missing, name)
			continue
		}
		payloads[name] = data
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrArtifactMissing, strings.Join(missing, ", "))
	}

	pipeline, err := ml.DecodePipeline(payloads[ml.PipelineFile])
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrArtifactInvalid, ml.PipelineFile, err)
	}
	columns, err := ml.DecodeColumns(payloads[ml.ColumnsFile])
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrArtifactInvalid, ml.ColumnsFile, err)
	}
	explainer, err := ml.DecodeExplainer(payloads[ml.ExplainerFile])
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrArtifactInvalid, ml.ExplainerFile, err)
	}
	if err := explainer.Bind(pipeline.Classifier); err != nil {
		if errors.Is(err, ml.ErrFingerprintMismatch) {
			return fmt.Errorf("%w: %v", ErrArtifactMismatch, err)
		}
		return fmt.Errorf("%w: %s: %v", ErrArtifactInvalid, ml.ExplainerFile, err)
	}

	return s.Install(pipeline, columns, explainer)
}

// Install publishes an already constructed model, column list and explainer.
// A nil explainer is accepted; Predict then fails with ErrExplainerNotLoaded.
func (s *ArtifactStore) Install(model Model, columns []string, explainer Explainer) error {
	if model == nil {
		return fmt.Errorf("%w: nil model", ErrArtifactInvalid)
	}
	if len(columns) != model.NumFeatures() {
		return fmt.Errorf("%w: %d columns for a model with %d features",
			ErrArtifactInvalid, len(columns), model.NumFeatures())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	snapshot := &Artifacts{
		Model:      model,
		Columns:    append([]string(nil), columns...),
		Explainer:  explainer,
		Generation: s.generation,
		LoadedAt:   time.Now(),
	}
	s.current.Store(snapshot)

	s.logger.Info("artifacts loaded",
		zap.Uint64("generation", snapshot.Generation),
		zap.Int("columns", len(snapshot.Columns)))
	return nil
}

// Ready reports whether a snapshot has ever been published. Once true it
// stays true.
func (s *ArtifactStore) Ready() bool {
	return s.current.Load() != nil
}

// Snapshot returns the artifacts currently serving, or ErrModelNotLoaded.
func (s *ArtifactStore) Snapshot() (*Artifacts, error) {
	snapshot := s.current.Load()
	if snapshot == nil {
		return nil, ErrModelNotLoaded
	}
	return snapshot, nil
}

// Generation returns the generation of the current snapshot, 0 before the
// first successful load.
func (s *ArtifactStore) Generation() uint64 {
	if snapshot := s.current.Load(); snapshot != nil {
		return snapshot.Generation
	}
	return 0
}
