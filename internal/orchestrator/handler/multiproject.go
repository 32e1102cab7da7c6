package handler

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"crucible/internal/model"
	"crucible/internal/pipelines"
)

// MultiProjectValidationHandler runs a list of pipelines against one project,
// aggregating success/failure counts. Individual pipeline failures are
// recorded in the aggregate rather than failing the operation outright.
type MultiProjectValidationHandler struct {
	defs     *pipelines.Store
	pipeline *PipelineHandler
}

// NewMultiProjectValidationHandler wires the multi-project handler on top of
// the pipeline execution handler
func NewMultiProjectValidationHandler(defs *pipelines.Store, pipeline *PipelineHandler) *MultiProjectValidationHandler {
	return &MultiProjectValidationHandler{defs: defs, pipeline: pipeline}
}

func (h *MultiProjectValidationHandler) Kind() model.OperationKind {
	return model.OpKindMultiProjectValidation
}
func (h *MultiProjectValidationHandler) Name() string { return "Multi-Project Validation Handler" }

func (h *MultiProjectValidationHandler) Execute(ctx context.Context, job *model.Job, op *model.Operation) (map[string]interface{}, error) {
	project := metaString(op, "project_id")
	if project == "" {
		project = job.ProjectID
	}
	if project == "" {
		return nil, fmt.Errorf("operation %s is missing project_id", op.ID)
	}

	pipelineIDs := metaStringSlice(op, "pipeline_ids")
	if len(pipelineIDs) == 0 {
		return nil, fmt.Errorf("operation %s has no pipeline_ids", op.ID)
	}

	successful := 0
	failed := 0
	results := make([]interface{}, 0, len(pipelineIDs))

	for _, id := range pipelineIDs {
		entry := map[string]interface{}{"pipeline_id": id}

		def, err := h.defs.Resolve(ctx, id, project)
		if err == nil {
			var res map[string]interface{}
			res, err = h.pipeline.RunPipeline(ctx, def)
			for k, v := range res {
				entry[k] = v
			}
		}

		if err != nil {
			failed++
			entry["success"] = false
			entry["error"] = err.Error()
			log.Warn().Err(err).Str("project", project).Str("pipelineID", id).
				Msg("Project pipeline failed")
		} else {
			successful++
			entry["success"] = true
		}
		results = append(results, entry)
	}

	summary := map[string]interface{}{
		"project_id": project,
		"successful": successful,
		"failed":     failed,
		"results":    results,
	}

	if failed > 0 && successful == 0 {
		return summary, fmt.Errorf("all %d pipelines failed for project %s", failed, project)
	}
	return summary, nil
}
