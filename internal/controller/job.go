package controller

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"crucible/internal/config"
	"crucible/internal/manager"
	"crucible/internal/model"
	"crucible/internal/orchestrator"
	"crucible/internal/report"
)

var (
	// ErrJobNotFound is returned when the job id is unknown
	ErrJobNotFound = manager.ErrJobNotFound

	// ErrJobTerminal is returned for cancel requests against finished jobs
	ErrJobTerminal = errors.New("job is already in a terminal state")

	// ErrJobRunning is returned for delete requests against running jobs
	ErrJobRunning = errors.New("job is running")
)

// JobController is the boundary between the HTTP handlers and the
// orchestration core. It owns submission validation and the state checks the
// core deliberately leaves to its callers.
type JobController interface {
	// CreateJob persists a new job and dispatches it for execution
	CreateJob(kind model.JobKind, name string, operations []model.Operation,
		policy model.ExecutionPolicy, projectID string, tags []string) (*model.Job, error)

	// GetJob returns a snapshot of one job
	GetJob(id string) (*model.Job, error)

	// ListJobs filters and paginates, returning the page and total match count
	ListJobs(filter manager.ListFilter) ([]*model.Job, int)

	// CancelJob stops a non-terminal job
	CancelJob(id, reason string) error

	// RetryJob resets failed operations and re-dispatches the job
	RetryJob(id string) (*model.Job, error)

	// DeleteJob removes a non-running job
	DeleteJob(id string) error

	// GetReport loads the consolidated report for a job
	GetReport(jobID string) (*model.ConsolidatedReport, error)

	// AvailableOperationKinds lists the registered handler kinds
	AvailableOperationKinds() []model.OperationKind
}

type jobController struct {
	manager  *manager.Manager
	executor *orchestrator.Executor
	registry orchestrator.HandlerRegistry
	reports  *report.Builder
	jobsCfg  config.JobsConfig
}

// NewJobController wires the job controller
func NewJobController(mgr *manager.Manager, exec *orchestrator.Executor,
	registry orchestrator.HandlerRegistry, reports *report.Builder, jobsCfg config.JobsConfig) JobController {
	return &jobController{
		manager:  mgr,
		executor: exec,
		registry: registry,
		reports:  reports,
		jobsCfg:  jobsCfg,
	}
}

func (c *jobController) CreateJob(kind model.JobKind, name string, operations []model.Operation,
	policy model.ExecutionPolicy, projectID string, tags []string) (*model.Job, error) {

	if len(operations) == 0 {
		return nil, fmt.Errorf("job has no operations")
	}

	for i := range operations {
		if _, ok := c.registry.Get(operations[i].Kind); !ok {
			return nil, fmt.Errorf("unknown operation kind %q", operations[i].Kind)
		}
	}

	if policy.Parallel && policy.MaxParallel <= 0 {
		policy.MaxParallel = c.jobsCfg.DefaultMaxParallel
	}

	job, err := c.manager.CreateJob(kind, name, operations, policy, projectID, tags)
	if err != nil {
		return nil, err
	}

	c.executor.RunAsync(job.ID)

	log.Info().
		Str("jobID", job.ID).
		Str("kind", string(kind)).
		Msg("Job created and dispatched")

	return job, nil
}

func (c *jobController) GetJob(id string) (*model.Job, error) {
	return c.manager.GetJob(id)
}

func (c *jobController) ListJobs(filter manager.ListFilter) ([]*model.Job, int) {
	if filter.Limit <= 0 || filter.Limit > c.jobsCfg.MaxListLimit {
		filter.Limit = c.jobsCfg.MaxListLimit
	}
	return c.manager.ListJobs(filter)
}

func (c *jobController) CancelJob(id, reason string) error {
	cancelled, err := c.manager.CancelJob(id, reason)
	if err != nil {
		return err
	}
	if !cancelled {
		return ErrJobTerminal
	}
	return nil
}

func (c *jobController) RetryJob(id string) (*model.Job, error) {
	job, err := c.manager.ResetFailedOperations(id)
	if err != nil {
		return nil, err
	}

	c.executor.RunAsync(job.ID)

	log.Info().Str("jobID", id).Msg("Job re-dispatched for retry")
	return job, nil
}

func (c *jobController) DeleteJob(id string) error {
	job, err := c.manager.GetJob(id)
	if err != nil {
		return err
	}

	if job.Status == model.JobRunning || job.Status == model.JobQueued {
		return ErrJobRunning
	}

	deleted, err := c.manager.DeleteJob(id)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrJobNotFound
	}
	return nil
}

func (c *jobController) GetReport(jobID string) (*model.ConsolidatedReport, error) {
	if _, err := c.manager.GetJob(jobID); err != nil {
		return nil, err
	}
	return c.reports.Load(jobID)
}

func (c *jobController) AvailableOperationKinds() []model.OperationKind {
	return c.registry.AvailableKinds()
}
