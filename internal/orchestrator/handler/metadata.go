package handler

import (
	"context"
	"fmt"

	"crucible/internal/model"
	"crucible/pkg/qualitygate"
)

// MetadataExtractionHandler calls the external metadata service for a source
type MetadataExtractionHandler struct {
	gate qualitygate.Client
}

// NewMetadataExtractionHandler wires the metadata extraction handler
func NewMetadataExtractionHandler(gate qualitygate.Client) *MetadataExtractionHandler {
	return &MetadataExtractionHandler{gate: gate}
}

func (h *MetadataExtractionHandler) Kind() model.OperationKind {
	return model.OpKindMetadataExtraction
}
func (h *MetadataExtractionHandler) Name() string { return "Metadata Extraction Handler" }

func (h *MetadataExtractionHandler) Execute(ctx context.Context, job *model.Job, op *model.Operation) (map[string]interface{}, error) {
	source := metaString(op, "source")
	if source == "" {
		return nil, fmt.Errorf("operation %s is missing source", op.ID)
	}
	schema := metaString(op, "schema")

	result, err := h.gate.ExtractMetadata(ctx, source, schema)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"source":           source,
		"schema":           schema,
		"tables_extracted": len(result.Tables),
	}, nil
}
