package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"crucible/internal/manager"
	"crucible/internal/model"
)

// ReportGenerator builds the consolidated report for a finished job
type ReportGenerator interface {
	Generate(job *model.Job) (*model.ConsolidatedReport, error)
}

// Executor runs a job's operations on a dedicated background goroutine,
// sequentially or through a bounded worker pool. Every status change is
// reported through the job manager; the executor never mutates job state
// directly.
type Executor struct {
	manager  *manager.Manager
	registry HandlerRegistry
	reports  ReportGenerator
	baseCtx  context.Context
	wg       sync.WaitGroup
}

// NewExecutor wires the executor. reports may be nil, disabling consolidated
// report generation.
func NewExecutor(ctx context.Context, mgr *manager.Manager, registry HandlerRegistry, reports ReportGenerator) *Executor {
	return &Executor{
		manager:  mgr,
		registry: registry,
		reports:  reports,
		baseCtx:  ctx,
	}
}

// RunAsync launches the job on a new background worker and returns
// immediately. Errors surface as job state, never to the caller.
func (e *Executor) RunAsync(jobID string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(jobID)
	}()
}

// Wait blocks until every in-flight job worker has returned
func (e *Executor) Wait() {
	e.wg.Wait()
}

func (e *Executor) run(jobID string) {
	// A crashed worker must never leave the job stuck in Running
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("jobID", jobID).Interface("panic", r).Msg("Job worker panicked")
			if err := e.manager.UpdateJobStatus(jobID, model.JobFailed); err != nil {
				log.Error().Err(err).Str("jobID", jobID).Msg("Failed to mark crashed job failed")
			}
		}
	}()

	job, err := e.manager.GetJob(jobID)
	if err != nil {
		log.Error().Err(err).Str("jobID", jobID).Msg("Cannot execute unknown job")
		return
	}

	if job.Status.IsTerminal() {
		log.Warn().Str("jobID", jobID).Str("status", string(job.Status)).Msg("Refusing to execute terminal job")
		return
	}

	if err := e.manager.UpdateJobStatus(jobID, model.JobRunning); err != nil {
		log.Error().Err(err).Str("jobID", jobID).Msg("Failed to mark job running")
		return
	}

	log.Info().
		Str("jobID", jobID).
		Str("kind", string(job.Kind)).
		Bool("parallel", job.Policy.Parallel).
		Int("operations", len(job.Operations)).
		Msg("Job execution started")

	if job.Policy.Parallel && job.Policy.MaxParallel != 1 {
		e.runParallel(jobID)
	} else {
		e.runSequential(jobID)
	}

	e.finalize(jobID)
}

// runSequential iterates operations in list order, re-reading job status
// before each so cancellation takes effect at operation boundaries
func (e *Executor) runSequential(jobID string) {
	job, err := e.manager.GetJob(jobID)
	if err != nil {
		return
	}

	for i := range job.Operations {
		cur, err := e.manager.GetJob(jobID)
		if err != nil {
			return
		}
		if cur.Status == model.JobCancelled {
			log.Info().Str("jobID", jobID).Msg("Job cancelled, stopping sequential execution")
			return
		}

		op := cur.Operations[i]
		if op.Status != model.OpPending {
			continue
		}

		failed := e.executeOperation(cur, &op)
		if failed && cur.Policy.StopOnError {
			log.Info().
				Str("jobID", jobID).
				Str("operationID", op.ID).
				Msg("Stopping job after operation failure")
			return
		}
	}
}

// runParallel dispatches pending operations to a pool bounded by
// max_parallel. A sibling failure under stop_on_error only prevents
// not-yet-started operations from running; already-dispatched ones finish.
func (e *Executor) runParallel(jobID string) {
	job, err := e.manager.GetJob(jobID)
	if err != nil {
		return
	}

	var pending []int
	for i := range job.Operations {
		if job.Operations[i].Status == model.OpPending {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return
	}

	poolSize := job.Policy.MaxParallel
	if poolSize <= 0 || poolSize > len(pending) {
		poolSize = len(pending)
	}

	workCh := make(chan int)
	var failedFlag int32
	var wg sync.WaitGroup

	for w := 0; w < poolSize; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range workCh {
				cur, err := e.manager.GetJob(jobID)
				if err != nil {
					return
				}
				if cur.Status == model.JobCancelled {
					continue
				}
				if cur.Policy.StopOnError && atomic.LoadInt32(&failedFlag) == 1 {
					continue
				}

				op := cur.Operations[idx]
				if op.Status != model.OpPending {
					continue
				}

				if e.executeOperation(cur, &op) {
					atomic.StoreInt32(&failedFlag, 1)
				}
			}
		}()
	}

	for _, idx := range pending {
		workCh <- idx
	}
	close(workCh)
	wg.Wait()
}

// executeOperation marks the operation running, dispatches it to the
// registered handler with the policy's retry allowance, and records the
// terminal status. Returns true when the operation ultimately failed.
func (e *Executor) executeOperation(job *model.Job, op *model.Operation) bool {
	if err := e.manager.UpdateOperationStatus(job.ID, op.ID, model.OpRunning, nil, ""); err != nil {
		log.Error().Err(err).Str("jobID", job.ID).Str("operationID", op.ID).Msg("Failed to mark operation running")
		return true
	}

	h, ok := e.registry.Get(op.Kind)
	if !ok {
		errMsg := fmt.Sprintf("no handler registered for operation kind %q", op.Kind)
		e.recordResult(job.ID, op.ID, nil, fmt.Errorf("%s", errMsg))
		return true
	}

	attempts := 1
	if job.Policy.RetryFailed && job.Policy.MaxRetries > 0 {
		attempts += job.Policy.MaxRetries
	}

	var result map[string]interface{}
	var execErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		result, execErr = h.Execute(e.baseCtx, job, op)
		if execErr == nil {
			break
		}

		if attempt < attempts {
			cur, err := e.manager.GetJob(job.ID)
			if err != nil || cur.Status == model.JobCancelled {
				break
			}
			log.Warn().
				Err(execErr).
				Str("jobID", job.ID).
				Str("operationID", op.ID).
				Int("attempt", attempt).
				Msg("Operation failed, retrying")
		}
	}

	e.recordResult(job.ID, op.ID, result, execErr)
	return execErr != nil
}

func (e *Executor) recordResult(jobID, opID string, result map[string]interface{}, execErr error) {
	status := model.OpCompleted
	errMsg := ""
	if execErr != nil {
		status = model.OpFailed
		errMsg = execErr.Error()
	}

	if err := e.manager.UpdateOperationStatus(jobID, opID, status, result, errMsg); err != nil {
		log.Error().Err(err).Str("jobID", jobID).Str("operationID", opID).Msg("Failed to record operation result")
	}
}

// finalize derives the job's terminal status from operation outcomes and,
// for bulk pipeline jobs, builds the consolidated report. Report failures
// are logged and never change the job's already-computed status.
func (e *Executor) finalize(jobID string) {
	job, err := e.manager.GetJob(jobID)
	if err != nil {
		return
	}

	if job.Status == model.JobCancelled {
		log.Info().Str("jobID", jobID).Msg("Job finished after cancellation")
		return
	}

	final := model.TerminalStatus(job.SuccessCount, job.FailureCount)
	if err := e.manager.UpdateJobStatus(jobID, final); err != nil {
		log.Error().Err(err).Str("jobID", jobID).Msg("Failed to set final job status")
		return
	}

	log.Info().
		Str("jobID", jobID).
		Str("status", string(final)).
		Int("succeeded", job.SuccessCount).
		Int("failed", job.FailureCount).
		Msg("Job execution finished")

	if job.Kind != model.KindBulkPipelineExecution || e.reports == nil {
		return
	}

	finished, err := e.manager.GetJob(jobID)
	if err != nil {
		return
	}
	if _, err := e.reports.Generate(finished); err != nil {
		log.Warn().Err(err).Str("jobID", jobID).Msg("Consolidated report generation failed")
	}
}
