package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"crucible/internal/model"
	"crucible/internal/store"
)

// ErrReportNotFound is returned when no consolidated report exists for a job
var ErrReportNotFound = errors.New("consolidated report not found")

// Archiver pushes a finished report to long-term storage. Archiving is
// best-effort; a failure never fails report generation.
type Archiver interface {
	Archive(report *model.ConsolidatedReport) error
}

// Builder merges the run artifacts of all operations in a finished job into
// one per-table summary document
type Builder struct {
	results  store.ResultStore
	dir      string
	archiver Archiver
}

// NewBuilder creates the reports directory if needed. archiver may be nil.
func NewBuilder(results store.ResultStore, dir string, archiver Archiver) (*Builder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create reports directory: %w", err)
	}

	return &Builder{results: results, dir: dir, archiver: archiver}, nil
}

// Generate builds and persists the consolidated report for a job from the
// run ids collected out of its operation results
func (b *Builder) Generate(job *model.Job) (*model.ConsolidatedReport, error) {
	runIDs := CollectRunIDs(job)
	if len(runIDs) == 0 {
		return nil, fmt.Errorf("job %s has no run ids to consolidate", job.ID)
	}

	type tableGroup struct {
		schema  string
		entries []model.ValidationEntry
	}
	groups := make(map[string]*tableGroup)
	loaded := 0

	for _, runID := range runIDs {
		artifact, err := b.results.LoadArtifact(runID)
		if err != nil {
			log.Warn().Err(err).Str("runID", runID).Msg("Skipping unreadable run artifact")
			continue
		}
		loaded++

		for _, entry := range artifact.Results {
			table := artifact.SourceTable
			if table == "" {
				table = entry.Table
			}
			if table == "" {
				table = "UNKNOWN"
			}

			group, ok := groups[table]
			if !ok {
				group = &tableGroup{schema: artifact.SourceSchema}
				groups[table] = group
			}
			if group.schema == "" {
				group.schema = entry.Schema
			}

			entry.Table = table
			if entry.Schema == "" {
				entry.Schema = group.schema
			}
			group.entries = append(group.entries, entry)
		}
	}

	if loaded == 0 {
		return nil, fmt.Errorf("no readable run artifacts for job %s", job.ID)
	}

	tableNames := make([]string, 0, len(groups))
	for name := range groups {
		tableNames = append(tableNames, name)
	}
	sort.Strings(tableNames)

	report := &model.ConsolidatedReport{
		RunID:            "consolidated-" + uuid.New().String(),
		BatchJobID:       job.ID,
		BatchJobName:     job.Name,
		Tables:           make([]model.TableSummary, 0, len(tableNames)),
		IndividualRunIDs: runIDs,
		GeneratedAt:      time.Now(),
	}

	for _, name := range tableNames {
		group := groups[name]
		summary := model.TableSummary{
			Table:            name,
			Schema:           group.schema,
			TotalValidations: len(group.entries),
		}

		for _, entry := range group.entries {
			if entry.Status == "PASS" {
				summary.Passed++
			} else {
				summary.Failed++
			}
		}

		report.Tables = append(report.Tables, summary)
		report.Results = append(report.Results, group.entries...)
		report.Summary.TotalValidations += summary.TotalValidations
		report.Summary.Passed += summary.Passed
		report.Summary.Failed += summary.Failed
	}

	if report.Summary.TotalValidations > 0 {
		rate := float64(report.Summary.Passed) / float64(report.Summary.TotalValidations) * 100
		report.Summary.PassRate = math.Round(rate*100) / 100
	}

	report.Status = "PASS"
	if report.Summary.Failed > 0 {
		report.Status = "FAIL"
	}

	if err := b.save(report); err != nil {
		return nil, err
	}

	log.Info().
		Str("jobID", job.ID).
		Str("reportRunID", report.RunID).
		Int("tables", len(report.Tables)).
		Int("validations", report.Summary.TotalValidations).
		Float64("passRate", report.Summary.PassRate).
		Msg("Consolidated report generated")

	if b.archiver != nil {
		if err := b.archiver.Archive(report); err != nil {
			log.Warn().Err(err).Str("jobID", job.ID).Msg("Failed to archive consolidated report")
		}
	}

	return report, nil
}

// Load reads the consolidated report for a batch job
func (b *Builder) Load(jobID string) (*model.ConsolidatedReport, error) {
	data, err := os.ReadFile(b.path(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrReportNotFound
		}
		return nil, fmt.Errorf("failed to read report for job %s: %w", jobID, err)
	}

	var report model.ConsolidatedReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to parse report for job %s: %w", jobID, err)
	}
	return &report, nil
}

// save keeps one report per batch job, overwritten when the job is retried
func (b *Builder) save(report *model.ConsolidatedReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	if err := os.WriteFile(b.path(report.BatchJobID), data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func (b *Builder) path(jobID string) string {
	return filepath.Join(b.dir, jobID+".json")
}

// CollectRunIDs walks every operation result, including nested batch
// summaries, and gathers the run identifiers in operation order
func CollectRunIDs(job *model.Job) []string {
	var runIDs []string
	seen := make(map[string]bool)

	var walk func(v interface{})
	walk = func(v interface{}) {
		m, ok := v.(map[string]interface{})
		if !ok {
			return
		}
		if runID, ok := m["run_id"].(string); ok && runID != "" && !seen[runID] {
			seen[runID] = true
			runIDs = append(runIDs, runID)
		}
		if nested, ok := m["results"].([]interface{}); ok {
			for _, item := range nested {
				walk(item)
			}
		}
	}

	for i := range job.Operations {
		op := &job.Operations[i]
		if op.Status != model.OpCompleted && op.Status != model.OpFailed {
			continue
		}
		if op.Result != nil {
			walk(map[string]interface{}(op.Result))
		}
	}

	return runIDs
}
