package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"crucible/internal/model"
)

// ResultStore persists one artifact per pipeline run. Run artifacts are
// written once when a run finishes and read back by the report builder.
type ResultStore interface {
	// SaveArtifact writes the run's result document
	SaveArtifact(artifact *model.RunArtifact) error

	// LoadArtifact reads one run's result document
	LoadArtifact(runID string) (*model.RunArtifact, error)
}

type fileResultStore struct {
	dir string
}

// NewFileResultStore creates the results directory if needed
func NewFileResultStore(dir string) (ResultStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %w", err)
	}

	log.Info().Str("dir", dir).Msg("Result store initialized")
	return &fileResultStore{dir: dir}, nil
}

func (s *fileResultStore) path(runID string) string {
	return filepath.Join(s.dir, runID+".json")
}

func (s *fileResultStore) SaveArtifact(artifact *model.RunArtifact) error {
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run artifact %s: %w", artifact.RunID, err)
	}

	if err := os.WriteFile(s.path(artifact.RunID), data, 0o644); err != nil {
		return fmt.Errorf("failed to write run artifact %s: %w", artifact.RunID, err)
	}

	log.Debug().Str("runID", artifact.RunID).Msg("Saved run artifact")
	return nil
}

func (s *fileResultStore) LoadArtifact(runID string) (*model.RunArtifact, error) {
	data, err := os.ReadFile(s.path(runID))
	if err != nil {
		return nil, fmt.Errorf("failed to read run artifact %s: %w", runID, err)
	}

	var artifact model.RunArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("failed to parse run artifact %s: %w", runID, err)
	}

	return &artifact, nil
}
