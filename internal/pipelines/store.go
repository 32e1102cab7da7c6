package pipelines

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"crucible/internal/cache"
)

// ErrNotFound is returned when no definition exists for an id
var ErrNotFound = errors.New("pipeline definition not found")

// BatchSpec marks a definition as a batch of nested pipeline files
type BatchSpec struct {
	Pipelines []string `yaml:"pipelines"`
}

// SourceSpec names the table a pipeline validates
type SourceSpec struct {
	Table  string `yaml:"table"`
	Schema string `yaml:"schema"`
}

// Definition is a pipeline definition resolved from disk. Raw carries the full
// YAML as handed to the execution service; only the fields needed for batch
// expansion and result attribution are parsed out.
type Definition struct {
	ID     string
	Name   string     `yaml:"name"`
	Source SourceSpec `yaml:"source"`
	Batch  *BatchSpec `yaml:"batch"`
	Path   string     `yaml:"-"`
	Raw    []byte     `yaml:"-"`
}

// IsBatch reports whether the definition expands into nested pipelines
func (d *Definition) IsBatch() bool {
	return d.Batch != nil && len(d.Batch.Pipelines) > 0
}

// Store resolves pipeline definitions by id, searching project-scoped storage
// before flat storage. Lookups are memoized in the cache when one is wired.
type Store struct {
	pipelinesDir string
	projectsDir  string
	cache        cache.Cache
	cacheTTL     time.Duration
}

// NewStore builds a definition store over the configured directories. cache
// may be nil, in which case every resolve hits the filesystem.
func NewStore(pipelinesDir, projectsDir string, c cache.Cache, cacheTTL time.Duration) *Store {
	return &Store{
		pipelinesDir: pipelinesDir,
		projectsDir:  projectsDir,
		cache:        c,
		cacheTTL:     cacheTTL,
	}
}

// Resolve finds the definition for an id, project-scoped storage first, then
// flat storage
func (s *Store) Resolve(ctx context.Context, id, project string) (*Definition, error) {
	cacheKey := fmt.Sprintf("pipeline:%s:%s", project, id)

	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, cacheKey); err == nil {
			def, err := decodeCachedDefinition(id, raw)
			if err == nil {
				return def, nil
			}
			log.Warn().Err(err).Str("pipelineID", id).Msg("Discarding unparseable cached definition")
		}
	}

	var candidates []string
	if project != "" {
		candidates = append(candidates,
			filepath.Join(s.projectsDir, project, "pipelines", id+".yaml"),
			filepath.Join(s.projectsDir, project, "pipelines", id+".yml"),
		)
	}
	candidates = append(candidates,
		filepath.Join(s.pipelinesDir, id+".yaml"),
		filepath.Join(s.pipelinesDir, id+".yml"),
	)

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read pipeline %s: %w", id, err)
		}

		def, err := parseDefinition(id, path, data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse pipeline %s: %w", id, err)
		}

		if s.cache != nil {
			entry, err := json.Marshal(cachedDefinition{Path: path, Data: data})
			if err == nil {
				err = s.cache.Set(ctx, cacheKey, entry, s.cacheTTL)
			}
			if err != nil {
				log.Warn().Err(err).Str("pipelineID", id).Msg("Failed to cache pipeline definition")
			}
		}

		log.Debug().Str("pipelineID", id).Str("path", path).Msg("Resolved pipeline definition")
		return def, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// ResolveNested loads a nested pipeline file referenced by a batch definition.
// Entries are resolved relative to the parent definition's directory.
func (s *Store) ResolveNested(parent *Definition, file string) (*Definition, error) {
	path := file
	if !filepath.IsAbs(path) && parent.Path != "" {
		path = filepath.Join(filepath.Dir(parent.Path), file)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read nested pipeline %s: %w", file, err)
	}

	id := file
	if ext := filepath.Ext(id); ext != "" {
		id = id[:len(id)-len(ext)]
	}

	def, err := parseDefinition(id, path, data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse nested pipeline %s: %w", file, err)
	}
	return def, nil
}

// cachedDefinition is the envelope stored in the cache. The resolved path has
// to survive the round trip so nested batch entries keep resolving relative to
// the parent file on cache hits.
type cachedDefinition struct {
	Path string `json:"path"`
	Data []byte `json:"data"`
}

func decodeCachedDefinition(id string, raw []byte) (*Definition, error) {
	var entry cachedDefinition
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, err
	}
	return parseDefinition(id, entry.Path, entry.Data)
}

func parseDefinition(id, path string, data []byte) (*Definition, error) {
	def := Definition{ID: id, Path: path, Raw: data}
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, err
	}
	if def.Name == "" {
		def.Name = id
	}
	return &def, nil
}
