package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"crucible/internal/model"
)

// CreatePipelineJobHandler builds a bulk pipeline execution job, one
// operation per pipeline id
func (s *Server) CreatePipelineJobHandler(c *gin.Context) {
	var req struct {
		Name        string                `json:"name"`
		ProjectID   string                `json:"project_id"`
		PipelineIDs []string              `json:"pipeline_ids" binding:"required"`
		Policy      model.ExecutionPolicy `json:"policy"`
		Tags        []string              `json:"tags"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Name == "" {
		req.Name = fmt.Sprintf("Bulk pipeline run (%d pipelines)", len(req.PipelineIDs))
	}

	operations := make([]model.Operation, 0, len(req.PipelineIDs))
	for _, id := range req.PipelineIDs {
		operations = append(operations, model.Operation{
			Kind: model.OpKindPipelineExecution,
			Metadata: map[string]interface{}{
				"pipeline_id": id,
			},
		})
	}

	s.submitJob(c, model.KindBulkPipelineExecution, req.Name, operations, req.Policy, req.ProjectID, req.Tags)
}

// CreateGenerationJobHandler builds a batch data generation job
func (s *Server) CreateGenerationJobHandler(c *gin.Context) {
	var req struct {
		Name     string `json:"name"`
		Datasets []struct {
			SchemaType string `json:"schema_type" binding:"required"`
			RowCount   int    `json:"row_count"`
		} `json:"datasets" binding:"required"`
		Policy model.ExecutionPolicy `json:"policy"`
		Tags   []string              `json:"tags"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Name == "" {
		req.Name = fmt.Sprintf("Batch data generation (%d datasets)", len(req.Datasets))
	}

	operations := make([]model.Operation, 0, len(req.Datasets))
	for _, ds := range req.Datasets {
		operations = append(operations, model.Operation{
			Kind: model.OpKindDataGeneration,
			Metadata: map[string]interface{}{
				"schema_type": ds.SchemaType,
				"row_count":   ds.RowCount,
			},
		})
	}

	s.submitJob(c, model.KindBatchDataGeneration, req.Name, operations, req.Policy, "", req.Tags)
}

// CreateMetadataJobHandler builds a bulk metadata extraction job
func (s *Server) CreateMetadataJobHandler(c *gin.Context) {
	var req struct {
		Name    string `json:"name"`
		Sources []struct {
			Source string `json:"source" binding:"required"`
			Schema string `json:"schema"`
		} `json:"sources" binding:"required"`
		Policy model.ExecutionPolicy `json:"policy"`
		Tags   []string              `json:"tags"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Name == "" {
		req.Name = fmt.Sprintf("Bulk metadata extraction (%d sources)", len(req.Sources))
	}

	operations := make([]model.Operation, 0, len(req.Sources))
	for _, src := range req.Sources {
		operations = append(operations, model.Operation{
			Kind: model.OpKindMetadataExtraction,
			Metadata: map[string]interface{}{
				"source": src.Source,
				"schema": src.Schema,
			},
		})
	}

	s.submitJob(c, model.KindBulkMetadataExtraction, req.Name, operations, req.Policy, "", req.Tags)
}

// CreateMultiProjectJobHandler builds a multi-project validation job, one
// operation per project
func (s *Server) CreateMultiProjectJobHandler(c *gin.Context) {
	var req struct {
		Name     string `json:"name"`
		Projects []struct {
			ProjectID   string   `json:"project_id" binding:"required"`
			PipelineIDs []string `json:"pipeline_ids" binding:"required"`
		} `json:"projects" binding:"required"`
		Policy model.ExecutionPolicy `json:"policy"`
		Tags   []string              `json:"tags"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Name == "" {
		req.Name = fmt.Sprintf("Multi-project validation (%d projects)", len(req.Projects))
	}

	operations := make([]model.Operation, 0, len(req.Projects))
	for _, p := range req.Projects {
		pipelineIDs := make([]interface{}, 0, len(p.PipelineIDs))
		for _, id := range p.PipelineIDs {
			pipelineIDs = append(pipelineIDs, id)
		}
		operations = append(operations, model.Operation{
			Kind: model.OpKindMultiProjectValidation,
			Metadata: map[string]interface{}{
				"project_id":   p.ProjectID,
				"pipeline_ids": pipelineIDs,
			},
		})
	}

	s.submitJob(c, model.KindMultiProjectValidation, req.Name, operations, req.Policy, "", req.Tags)
}
