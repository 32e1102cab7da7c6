package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"crucible/internal/model"
)

// JobStore persists one record per job. All concurrency control lives in the
// job manager; the store itself is single-caller.
type JobStore interface {
	// Save atomically overwrites the job's record
	Save(job *model.Job) error

	// LoadAll enumerates every record, skipping and logging corrupt ones
	LoadAll() ([]*model.Job, error)

	// Delete removes the job's record; missing records are not an error
	Delete(jobID string) error
}

// fileStore keeps one JSON document per job id under a jobs directory
type fileStore struct {
	dir string
}

// NewFileStore creates the jobs directory if needed and returns a store over it
func NewFileStore(dir string) (JobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create jobs directory: %w", err)
	}

	log.Info().Str("dir", dir).Msg("Job store initialized")
	return &fileStore{dir: dir}, nil
}

func (s *fileStore) path(jobID string) string {
	return filepath.Join(s.dir, jobID+".json")
}

// Save writes to a temp file and renames it over the record so readers never
// observe a partial write
func (s *fileStore) Save(job *model.Job) error {
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}

	tmp := s.path(job.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write job %s: %w", job.ID, err)
	}

	if err := os.Rename(tmp, s.path(job.ID)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to persist job %s: %w", job.ID, err)
	}

	log.Debug().Str("jobID", job.ID).Str("status", string(job.Status)).Msg("Saved job record")
	return nil
}

// LoadAll reads every job record in the directory. Unreadable or malformed
// records are logged and skipped rather than failing the whole load.
func (s *fileStore) LoadAll() ([]*model.Job, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read jobs directory: %w", err)
	}

	var jobs []*model.Job
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn().Err(err).Str("file", entry.Name()).Msg("Skipping unreadable job record")
			continue
		}

		var job model.Job
		if err := json.Unmarshal(data, &job); err != nil {
			log.Warn().Err(err).Str("file", entry.Name()).Msg("Skipping corrupt job record")
			continue
		}

		jobs = append(jobs, &job)
	}

	log.Info().Int("count", len(jobs)).Msg("Loaded job records")
	return jobs, nil
}

// Delete removes the record from disk
func (s *fileStore) Delete(jobID string) error {
	err := os.Remove(s.path(jobID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete job %s: %w", jobID, err)
	}

	log.Debug().Str("jobID", jobID).Msg("Deleted job record")
	return nil
}
