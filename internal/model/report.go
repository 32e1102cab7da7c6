package model

import "time"

// ValidationEntry is a single validation outcome recorded in a run artifact
type ValidationEntry struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // PASS or FAIL
	Table   string `json:"table,omitempty"`
	Schema  string `json:"schema,omitempty"`
	Details string `json:"details,omitempty"`
}

// RunArtifact is the stored result of one pipeline run, read back by the
// consolidated report builder
type RunArtifact struct {
	RunID        string            `json:"run_id"`
	PipelineName string            `json:"pipeline_name,omitempty"`
	SourceTable  string            `json:"source_table,omitempty"`
	SourceSchema string            `json:"source_schema,omitempty"`
	Status       string            `json:"status,omitempty"`
	Results      []ValidationEntry `json:"results"`
	CreatedAt    time.Time         `json:"created_at,omitempty"`
}

// ReportSummary aggregates pass/fail counts across every run in a batch
type ReportSummary struct {
	TotalValidations int     `json:"total_validations"`
	Passed           int     `json:"passed"`
	Failed           int     `json:"failed"`
	PassRate         float64 `json:"pass_rate"`
}

// TableSummary is the per-table rollup inside a consolidated report
type TableSummary struct {
	Table            string `json:"table"`
	Schema           string `json:"schema,omitempty"`
	TotalValidations int    `json:"total_validations"`
	Passed           int    `json:"passed"`
	Failed           int    `json:"failed"`
}

// ConsolidatedReport merges the run artifacts of every operation in one
// batch job into a single table-ordered summary document
type ConsolidatedReport struct {
	RunID            string            `json:"run_id"`
	BatchJobID       string            `json:"batch_job_id"`
	BatchJobName     string            `json:"batch_job_name"`
	Status           string            `json:"status"` // PASS or FAIL
	Summary          ReportSummary     `json:"summary"`
	Tables           []TableSummary    `json:"tables"`
	Results          []ValidationEntry `json:"results"`
	IndividualRunIDs []string          `json:"individual_run_ids"`
	GeneratedAt      time.Time         `json:"generated_at"`
}
