package handler

import (
	"context"

	"crucible/internal/model"
)

// GenericHandler is the extensibility placeholder for custom operations.
// It succeeds without doing any work.
type GenericHandler struct{}

// NewGenericHandler wires the no-op handler
func NewGenericHandler() *GenericHandler { return &GenericHandler{} }

func (h *GenericHandler) Kind() model.OperationKind { return model.OpKindGeneric }
func (h *GenericHandler) Name() string              { return "Generic Handler" }

func (h *GenericHandler) Execute(ctx context.Context, job *model.Job, op *model.Operation) (map[string]interface{}, error) {
	return map[string]interface{}{
		"message": "no-op operation completed",
	}, nil
}
