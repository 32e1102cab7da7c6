package manager

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"crucible/internal/model"
	"crucible/internal/store"
)

var (
	// ErrJobNotFound is returned when a job id is unknown
	ErrJobNotFound = errors.New("job not found")

	// ErrOperationNotFound is returned when an operation id is not part of the job
	ErrOperationNotFound = errors.New("operation not found")
)

// Publisher receives a snapshot of a job after every persisted mutation.
// Broadcasting is best-effort; implementations must never block the caller
// beyond their own bounded handoff.
type Publisher interface {
	PublishJobUpdate(job *model.Job)
}

// ListFilter narrows and paginates ListJobs
type ListFilter struct {
	Status  model.JobStatus
	Kind    model.JobKind
	Project string
	Limit   int
	Offset  int
}

// Manager owns the job/operation state machine. It is the only component
// allowed to mutate job state; every mutating call is serialized by a single
// mutex covering the in-memory map and the store write.
type Manager struct {
	mu    sync.Mutex
	jobs  map[string]*model.Job
	store store.JobStore
	pub   Publisher
}

// New builds a manager and rebuilds the in-memory mirror from the store.
// Jobs left Running or Queued by a previous process are forced to Failed so
// they are never stuck in a non-terminal state nobody is executing.
func New(jobStore store.JobStore, pub Publisher) (*Manager, error) {
	m := &Manager{
		jobs:  make(map[string]*model.Job),
		store: jobStore,
		pub:   pub,
	}

	loaded, err := jobStore.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to load jobs: %w", err)
	}

	for _, job := range loaded {
		if job.Status == model.JobRunning || job.Status == model.JobQueued {
			log.Warn().Str("jobID", job.ID).Str("status", string(job.Status)).
				Msg("Recovering job interrupted by restart, marking failed")
			now := time.Now()
			job.Status = model.JobFailed
			job.CompletedAt = &now
			if job.StartedAt != nil {
				job.TotalDuration = now.Sub(*job.StartedAt).Seconds()
			}
			for i := range job.Operations {
				op := &job.Operations[i]
				if !op.Status.IsTerminal() {
					op.Status = model.OpSkipped
					op.Error = "interrupted by service restart"
				}
			}
			if err := jobStore.Save(job); err != nil {
				log.Error().Err(err).Str("jobID", job.ID).Msg("Failed to persist recovered job")
			}
		}
		m.jobs[job.ID] = job
	}

	return m, nil
}

// CreateJob allocates a new job with the given operations, persists it and
// publishes a creation event. Operations are fixed from this point on.
func (m *Manager) CreateJob(kind model.JobKind, name string, operations []model.Operation,
	policy model.ExecutionPolicy, projectID string, tags []string) (*model.Job, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	job := &model.Job{
		ID:         uuid.New().String(),
		Kind:       kind,
		Name:       name,
		Status:     model.JobPending,
		Operations: make([]model.Operation, len(operations)),
		Policy:     policy,
		CreatedAt:  now,
		ProjectID:  projectID,
		Tags:       tags,
		Progress: &model.Progress{
			Total: len(operations),
		},
	}

	copy(job.Operations, operations)
	for i := range job.Operations {
		if job.Operations[i].ID == "" {
			job.Operations[i].ID = fmt.Sprintf("op-%d", i+1)
		}
		job.Operations[i].Status = model.OpPending
	}

	if err := m.store.Save(job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	m.jobs[job.ID] = job

	log.Info().
		Str("jobID", job.ID).
		Str("kind", string(kind)).
		Int("operations", len(job.Operations)).
		Msg("Job created")

	m.publish(job)
	return job.Clone(), nil
}

// GetJob returns a snapshot of the job
func (m *Manager) GetJob(id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// ListJobs filters in memory, sorts by creation time descending and paginates.
// The second return value is the total match count before pagination.
func (m *Manager) ListJobs(filter ListFilter) ([]*model.Job, int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*model.Job
	for _, job := range m.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.Kind != "" && job.Kind != filter.Kind {
			continue
		}
		if filter.Project != "" && job.ProjectID != filter.Project {
			continue
		}
		matched = append(matched, job)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)

	offset := filter.Offset
	if offset > total {
		offset = total
	}
	end := total
	if filter.Limit > 0 && offset+filter.Limit < end {
		end = offset + filter.Limit
	}

	page := make([]*model.Job, 0, end-offset)
	for _, job := range matched[offset:end] {
		page = append(page, job.Clone())
	}

	return page, total
}

// UpdateJobStatus moves the job to a new status, stamping started/completed
// times on the first transition into Running or a terminal state
func (m *Manager) UpdateJobStatus(id string, status model.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}

	// Job status only moves forward once terminal, same as operations below.
	// A finalize racing a cancellation is dropped here.
	if job.Status.IsTerminal() {
		log.Debug().
			Str("jobID", id).
			Str("current", string(job.Status)).
			Str("requested", string(status)).
			Msg("Ignoring status update for terminal job")
		return nil
	}

	now := time.Now()
	job.Status = status

	if status == model.JobRunning && job.StartedAt == nil {
		job.StartedAt = &now
		if job.Progress == nil {
			job.Progress = &model.Progress{Total: len(job.Operations)}
		}
	}

	if status.IsTerminal() && job.CompletedAt == nil {
		job.CompletedAt = &now
		if job.StartedAt != nil {
			job.TotalDuration = now.Sub(*job.StartedAt).Seconds()
		}
	}

	if err := m.store.Save(job); err != nil {
		return err
	}

	log.Debug().Str("jobID", id).Str("status", string(status)).Msg("Updated job status")
	m.publish(job)
	return nil
}

// UpdateOperationStatus records an operation transition, recomputes progress
// over all operations of the job, persists and publishes
func (m *Manager) UpdateOperationStatus(jobID, opID string, status model.OperationStatus,
	result map[string]interface{}, errMsg string) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}

	op := job.Operation(opID)
	if op == nil {
		return ErrOperationNotFound
	}

	// Operation statuses only move forward. A late result for an operation
	// already skipped by cancellation is dropped here.
	if op.Status.IsTerminal() {
		log.Debug().
			Str("jobID", jobID).
			Str("operationID", opID).
			Str("current", string(op.Status)).
			Str("requested", string(status)).
			Msg("Ignoring status update for terminal operation")
		return nil
	}

	now := time.Now()
	op.Status = status

	if status == model.OpRunning && op.StartedAt == nil {
		op.StartedAt = &now
	}
	if status.IsTerminal() {
		op.CompletedAt = &now
		if op.StartedAt != nil {
			op.Duration = now.Sub(*op.StartedAt).Seconds()
		}
	}
	if result != nil {
		op.Result = result
	}
	if errMsg != "" {
		op.Error = errMsg
	}

	m.recomputeProgress(job)

	if err := m.store.Save(job); err != nil {
		return err
	}

	log.Debug().
		Str("jobID", jobID).
		Str("operationID", opID).
		Str("status", string(status)).
		Msg("Updated operation status")

	m.publish(job)
	return nil
}

// CancelJob transitions a non-terminal job to Cancelled and marks every
// Pending/Running operation Skipped, annotated with the reason. Returns false
// without touching state when the job is already terminal.
func (m *Manager) CancelJob(id, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return false, ErrJobNotFound
	}

	if job.Status.IsTerminal() {
		return false, nil
	}

	if reason == "" {
		reason = "cancelled by user"
	}

	now := time.Now()
	for i := range job.Operations {
		op := &job.Operations[i]
		if op.Status == model.OpPending || op.Status == model.OpRunning {
			op.Status = model.OpSkipped
			op.Error = reason
			if op.StartedAt != nil && op.CompletedAt == nil {
				op.CompletedAt = &now
				op.Duration = now.Sub(*op.StartedAt).Seconds()
			}
		}
	}

	job.Status = model.JobCancelled
	if job.CompletedAt == nil {
		job.CompletedAt = &now
		if job.StartedAt != nil {
			job.TotalDuration = now.Sub(*job.StartedAt).Seconds()
		}
	}

	m.recomputeProgress(job)

	if err := m.store.Save(job); err != nil {
		return false, err
	}

	log.Info().Str("jobID", id).Str("reason", reason).Msg("Job cancelled")
	m.publish(job)
	return true, nil
}

// DeleteJob removes the job from memory and storage. The boundary is
// responsible for refusing deletion of a Running job.
func (m *Manager) DeleteJob(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[id]; !ok {
		return false, nil
	}

	if err := m.store.Delete(id); err != nil {
		return false, err
	}
	delete(m.jobs, id)

	log.Info().Str("jobID", id).Msg("Job deleted")
	return true, nil
}

// ResetFailedOperations returns every Failed and Skipped operation to Pending
// and the job to Pending so the executor can re-dispatch it. The job must be
// terminal and not Cancelled.
func (m *Manager) ResetFailedOperations(id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}

	if !job.Status.IsTerminal() || job.Status == model.JobCancelled {
		return nil, fmt.Errorf("job %s is not retryable in status %s", id, job.Status)
	}

	for i := range job.Operations {
		op := &job.Operations[i]
		if op.Status == model.OpFailed || op.Status == model.OpSkipped {
			op.Status = model.OpPending
			op.StartedAt = nil
			op.CompletedAt = nil
			op.Duration = 0
			op.Result = nil
			op.Error = ""
		}
	}

	job.Status = model.JobPending
	job.CompletedAt = nil
	job.TotalDuration = 0

	m.recomputeProgress(job)

	if err := m.store.Save(job); err != nil {
		return nil, err
	}

	log.Info().Str("jobID", id).Msg("Job reset for retry")
	m.publish(job)
	return job.Clone(), nil
}

// recomputeProgress rebuilds the derived snapshot from scratch. Caller holds
// the mutex.
func (m *Manager) recomputeProgress(job *model.Job) {
	p := &model.Progress{Total: len(job.Operations)}

	for i := range job.Operations {
		switch job.Operations[i].Status {
		case model.OpCompleted:
			p.Completed++
		case model.OpFailed:
			p.Failed++
		case model.OpSkipped:
			p.Skipped++
		case model.OpRunning:
			if p.CurrentOperationID == "" {
				p.CurrentOperationID = job.Operations[i].ID
			}
		}
	}

	finished := p.Completed + p.Failed + p.Skipped
	if p.Total > 0 {
		p.PercentComplete = float64(finished) / float64(p.Total) * 100
	}

	if finished > 0 && finished < p.Total && job.StartedAt != nil {
		elapsed := time.Since(*job.StartedAt).Seconds()
		// Completed operations drive the extrapolation; failed and skipped
		// ones finish without doing the work they stand for.
		divisor := p.Completed
		if divisor == 0 {
			divisor = finished
		}
		p.ETASeconds = elapsed / float64(divisor) * float64(p.Total-finished)
	}

	job.Progress = p
	job.SuccessCount = p.Completed
	job.FailureCount = p.Failed
}

func (m *Manager) publish(job *model.Job) {
	if m.pub == nil {
		return
	}
	m.pub.PublishJobUpdate(job.Clone())
}
