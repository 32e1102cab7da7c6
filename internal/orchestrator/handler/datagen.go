package handler

import (
	"context"
	"fmt"

	"crucible/internal/model"
	"crucible/pkg/qualitygate"
)

// DataGenerationHandler asks the external generation service for synthetic
// rows. The call itself is quick; the service does the work asynchronously
// under its own job id, which is echoed back in the result.
type DataGenerationHandler struct {
	gate qualitygate.Client
}

// NewDataGenerationHandler wires the data generation handler
func NewDataGenerationHandler(gate qualitygate.Client) *DataGenerationHandler {
	return &DataGenerationHandler{gate: gate}
}

func (h *DataGenerationHandler) Kind() model.OperationKind { return model.OpKindDataGeneration }
func (h *DataGenerationHandler) Name() string              { return "Data Generation Handler" }

func (h *DataGenerationHandler) Execute(ctx context.Context, job *model.Job, op *model.Operation) (map[string]interface{}, error) {
	schemaType := metaString(op, "schema_type")
	if schemaType == "" {
		return nil, fmt.Errorf("operation %s is missing schema_type", op.ID)
	}

	rowCount := metaInt(op, "row_count")
	if rowCount <= 0 {
		rowCount = 1000
	}

	result, err := h.gate.GenerateData(ctx, schemaType, rowCount)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"generation_job_id": result.JobID,
		"generation_status": result.Status,
		"schema_type":       schemaType,
		"row_count":         rowCount,
	}, nil
}
