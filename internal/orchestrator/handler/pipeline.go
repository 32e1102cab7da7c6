package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"crucible/internal/model"
	"crucible/internal/pipelines"
	"crucible/internal/store"
	"crucible/pkg/qualitygate"
)

// PipelineHandler executes one validation pipeline: it resolves the
// definition, submits it to the execution service and polls the status
// endpoint until the run finishes or the deadline elapses. Batch definitions
// are expanded recursively and executed one nested pipeline at a time.
type PipelineHandler struct {
	gate         qualitygate.Client
	defs         *pipelines.Store
	results      store.ResultStore
	pollInterval time.Duration
	maxPollWait  time.Duration
}

// NewPipelineHandler wires the pipeline execution handler
func NewPipelineHandler(gate qualitygate.Client, defs *pipelines.Store, results store.ResultStore,
	pollInterval, maxPollWait time.Duration) *PipelineHandler {
	return &PipelineHandler{
		gate:         gate,
		defs:         defs,
		results:      results,
		pollInterval: pollInterval,
		maxPollWait:  maxPollWait,
	}
}

func (h *PipelineHandler) Kind() model.OperationKind { return model.OpKindPipelineExecution }
func (h *PipelineHandler) Name() string              { return "Pipeline Execution Handler" }

// Execute runs the pipeline named by the operation's pipeline_id input
func (h *PipelineHandler) Execute(ctx context.Context, job *model.Job, op *model.Operation) (map[string]interface{}, error) {
	pipelineID := metaString(op, "pipeline_id")
	if pipelineID == "" {
		return nil, fmt.Errorf("operation %s is missing pipeline_id", op.ID)
	}

	project := metaString(op, "project_id")
	if project == "" {
		project = job.ProjectID
	}

	def, err := h.defs.Resolve(ctx, pipelineID, project)
	if err != nil {
		return nil, err
	}

	if def.IsBatch() {
		return h.executeBatch(ctx, def)
	}

	return h.RunPipeline(ctx, def)
}

// executeBatch expands a batch definition and executes every nested
// pipeline, aggregating a successful/failed summary
func (h *PipelineHandler) executeBatch(ctx context.Context, def *pipelines.Definition) (map[string]interface{}, error) {
	log.Info().
		Str("pipeline", def.Name).
		Int("nested", len(def.Batch.Pipelines)).
		Msg("Expanding batch pipeline")

	successful := 0
	failed := 0
	results := make([]interface{}, 0, len(def.Batch.Pipelines))

	for _, file := range def.Batch.Pipelines {
		nested, err := h.defs.ResolveNested(def, file)
		if err != nil {
			failed++
			results = append(results, map[string]interface{}{
				"pipeline": file,
				"success":  false,
				"error":    err.Error(),
			})
			continue
		}

		// Nested batches expand recursively
		var res map[string]interface{}
		if nested.IsBatch() {
			res, err = h.executeBatch(ctx, nested)
		} else {
			res, err = h.RunPipeline(ctx, nested)
		}

		entry := map[string]interface{}{
			"pipeline": nested.Name,
			"success":  err == nil,
		}
		for k, v := range res {
			entry[k] = v
		}
		if err != nil {
			failed++
			entry["error"] = err.Error()
		} else {
			successful++
		}
		results = append(results, entry)
	}

	summary := map[string]interface{}{
		"successful": successful,
		"failed":     failed,
		"results":    results,
	}

	if failed > 0 && successful == 0 {
		return summary, fmt.Errorf("all %d nested pipelines of %s failed", failed, def.Name)
	}
	return summary, nil
}

// RunPipeline submits one definition to the execution service, polls its
// status and persists the run artifact for the report builder
func (h *PipelineHandler) RunPipeline(ctx context.Context, def *pipelines.Definition) (map[string]interface{}, error) {
	runID, err := h.gate.ExecutePipeline(ctx, string(def.Raw), def.Name)
	if err != nil {
		return nil, err
	}

	status, err := h.pollRun(ctx, runID)
	if err != nil {
		return map[string]interface{}{
			"run_id":   runID,
			"pipeline": def.Name,
		}, err
	}

	failedSteps := 0
	for _, step := range status.Results {
		if step.Status == qualitygate.StepFail {
			failedSteps++
		}
	}

	h.persistArtifact(def, runID, status)

	result := map[string]interface{}{
		"run_id":       runID,
		"pipeline":     def.Name,
		"failed_steps": failedSteps,
	}

	// A completed run only counts as a success when no validation step failed
	if status.Status != qualitygate.RunCompleted || failedSteps > 0 {
		result["status"] = qualitygate.StepFail
		return result, fmt.Errorf("pipeline %s finished with status %s and %d failed steps",
			def.Name, status.Status, failedSteps)
	}

	result["status"] = qualitygate.StepPass
	return result, nil
}

// pollRun waits for the run to reach a terminal state, checking every poll
// interval up to the configured maximum wait
func (h *PipelineHandler) pollRun(ctx context.Context, runID string) (*qualitygate.RunStatus, error) {
	deadline := time.Now().Add(h.maxPollWait)

	for {
		status, err := h.gate.GetRunStatus(ctx, runID)
		if err != nil {
			return nil, err
		}

		if status.Status != qualitygate.RunPending {
			return status, nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("run %s timed out after %s", runID, h.maxPollWait)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(h.pollInterval):
		}
	}
}

// persistArtifact stores the run's validation entries for later
// consolidation. Failures here are logged, not raised: the run outcome has
// already been determined.
func (h *PipelineHandler) persistArtifact(def *pipelines.Definition, runID string, status *qualitygate.RunStatus) {
	if h.results == nil {
		return
	}

	artifact := &model.RunArtifact{
		RunID:        runID,
		PipelineName: def.Name,
		SourceTable:  def.Source.Table,
		SourceSchema: def.Source.Schema,
		Status:       status.Status,
		Results:      make([]model.ValidationEntry, 0, len(status.Results)),
		CreatedAt:    time.Now(),
	}

	for _, step := range status.Results {
		artifact.Results = append(artifact.Results, model.ValidationEntry{
			Name:    step.Name,
			Status:  step.Status,
			Table:   def.Source.Table,
			Schema:  def.Source.Schema,
			Details: step.Details,
		})
	}

	if err := h.results.SaveArtifact(artifact); err != nil {
		log.Warn().Err(err).Str("runID", runID).Msg("Failed to persist run artifact")
	}
}
