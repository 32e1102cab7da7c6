package model

import "time"

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobPending        JobStatus = "pending"
	JobQueued         JobStatus = "queued"
	JobRunning        JobStatus = "running"
	JobPaused         JobStatus = "paused"
	JobCompleted      JobStatus = "completed"
	JobFailed         JobStatus = "failed"
	JobCancelled      JobStatus = "cancelled"
	JobPartialSuccess JobStatus = "partial_success"
)

// IsTerminal reports whether the status can no longer change
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled, JobPartialSuccess:
		return true
	}
	return false
}

// JobKind identifies the family of work a job carries
type JobKind string

const (
	KindBulkPipelineExecution  JobKind = "bulk_pipeline_execution"
	KindBatchDataGeneration    JobKind = "batch_data_generation"
	KindMultiProjectValidation JobKind = "multi_project_validation"
	KindBulkMetadataExtraction JobKind = "bulk_metadata_extraction"
	KindBatchComparison        JobKind = "batch_comparison"
	KindCustom                 JobKind = "custom"
)

// OperationStatus represents the state of a single operation within a job
type OperationStatus string

const (
	OpPending   OperationStatus = "pending"
	OpRunning   OperationStatus = "running"
	OpCompleted OperationStatus = "completed"
	OpFailed    OperationStatus = "failed"
	OpSkipped   OperationStatus = "skipped"
)

// IsTerminal reports whether the operation has finished
func (s OperationStatus) IsTerminal() bool {
	return s == OpCompleted || s == OpFailed || s == OpSkipped
}

// OperationKind selects the handler that executes an operation
type OperationKind string

const (
	OpKindPipelineExecution      OperationKind = "pipeline_execution"
	OpKindDataGeneration         OperationKind = "data_generation"
	OpKindMetadataExtraction     OperationKind = "metadata_extraction"
	OpKindMultiProjectValidation OperationKind = "multi_project_validation"
	OpKindGeneric                OperationKind = "generic"
)

// Operation is one dispatchable unit of work inside a job.
// Operations are fixed at job creation time and only mutated in place.
type Operation struct {
	ID          string                 `json:"id"`
	Kind        OperationKind          `json:"kind"`
	Status      OperationStatus        `json:"status"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Duration    float64                `json:"duration_seconds,omitempty"`
	Result      map[string]interface{} `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Progress is a derived snapshot recomputed on every operation transition
type Progress struct {
	Total              int     `json:"total"`
	Completed          int     `json:"completed"`
	Failed             int     `json:"failed"`
	Skipped            int     `json:"skipped"`
	CurrentOperationID string  `json:"current_operation_id,omitempty"`
	PercentComplete    float64 `json:"percent_complete"`
	ETASeconds         float64 `json:"eta_seconds,omitempty"`
}

// ExecutionPolicy controls how the executor schedules a job's operations
type ExecutionPolicy struct {
	Parallel    bool `json:"parallel"`
	MaxParallel int  `json:"max_parallel"`
	StopOnError bool `json:"stop_on_error"`
	RetryFailed bool `json:"retry_failed"`
	MaxRetries  int  `json:"max_retries"`
}

// Job represents a batch of operations tracked, cancelled and reported on as a unit
type Job struct {
	ID            string                 `json:"id"`
	Kind          JobKind                `json:"kind"`
	Name          string                 `json:"name"`
	Status        JobStatus              `json:"status"`
	Operations    []Operation            `json:"operations"`
	Progress      *Progress              `json:"progress,omitempty"`
	Policy        ExecutionPolicy        `json:"policy"`
	CreatedAt     time.Time              `json:"created_at"`
	StartedAt     *time.Time             `json:"started_at,omitempty"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
	TotalDuration float64                `json:"total_duration_seconds,omitempty"`
	SuccessCount  int                    `json:"success_count"`
	FailureCount  int                    `json:"failure_count"`
	ProjectID     string                 `json:"project_id,omitempty"`
	Tags          []string               `json:"tags,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Operation returns a pointer to the operation with the given id, or nil
func (j *Job) Operation(opID string) *Operation {
	for i := range j.Operations {
		if j.Operations[i].ID == opID {
			return &j.Operations[i]
		}
	}
	return nil
}

// Clone returns a deep copy safe to hand outside the manager's mutex
func (j *Job) Clone() *Job {
	cp := *j
	cp.Operations = make([]Operation, len(j.Operations))
	copy(cp.Operations, j.Operations)
	for i := range cp.Operations {
		cp.Operations[i].Result = copyMap(j.Operations[i].Result)
		cp.Operations[i].Metadata = copyMap(j.Operations[i].Metadata)
	}
	if j.Progress != nil {
		p := *j.Progress
		cp.Progress = &p
	}
	if j.Tags != nil {
		cp.Tags = append([]string(nil), j.Tags...)
	}
	cp.Metadata = copyMap(j.Metadata)
	return &cp
}

// TerminalStatus derives the final job status from operation outcomes.
// Completed when nothing failed, Failed when nothing succeeded, otherwise
// PartialSuccess.
func TerminalStatus(successCount, failureCount int) JobStatus {
	switch {
	case failureCount == 0:
		return JobCompleted
	case successCount == 0:
		return JobFailed
	default:
		return JobPartialSuccess
	}
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
