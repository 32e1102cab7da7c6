package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"crucible/internal/controller"
	"crucible/internal/manager"
	"crucible/internal/model"
	"crucible/internal/report"
)

// OperationRequest is one operation in a generic job submission
type OperationRequest struct {
	Kind     model.OperationKind    `json:"kind" binding:"required"`
	Metadata map[string]interface{} `json:"metadata"`
}

// JobRequest is the generic job submission body
type JobRequest struct {
	Kind       model.JobKind         `json:"kind" binding:"required"`
	Name       string                `json:"name" binding:"required"`
	Operations []OperationRequest    `json:"operations" binding:"required"`
	Policy     model.ExecutionPolicy `json:"policy"`
	ProjectID  string                `json:"project_id"`
	Tags       []string              `json:"tags"`
}

// CreateJobResponse acknowledges a submission
type CreateJobResponse struct {
	JobID           string `json:"job_id"`
	Status          string `json:"status"`
	TotalOperations int    `json:"total_operations"`
}

// CreateJobHandler creates a job from an explicit operations list
func (s *Server) CreateJobHandler(c *gin.Context) {
	var req JobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	operations := make([]model.Operation, 0, len(req.Operations))
	for _, op := range req.Operations {
		operations = append(operations, model.Operation{
			Kind:     op.Kind,
			Metadata: op.Metadata,
		})
	}

	s.submitJob(c, req.Kind, req.Name, operations, req.Policy, req.ProjectID, req.Tags)
}

// submitJob hands the assembled job to the controller and writes the
// acknowledgement
func (s *Server) submitJob(c *gin.Context, kind model.JobKind, name string,
	operations []model.Operation, policy model.ExecutionPolicy, projectID string, tags []string) {

	job, err := s.jc.CreateJob(kind, name, operations, policy, projectID, tags)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to create job: " + err.Error()})
		return
	}

	c.JSON(http.StatusCreated, CreateJobResponse{
		JobID:           job.ID,
		Status:          string(job.Status),
		TotalOperations: len(job.Operations),
	})
}

// GetJobHandler returns the full job with its current progress
func (s *Server) GetJobHandler(c *gin.Context) {
	job, err := s.jc.GetJob(c.Param("id"))
	if err != nil {
		if errors.Is(err, controller.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get job: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, job)
}

// ListJobsHandler returns a filtered, paginated job list
func (s *Server) ListJobsHandler(c *gin.Context) {
	limit, offset := getPaginationParams(c)

	filter := manager.ListFilter{
		Status:  model.JobStatus(c.Query("status")),
		Kind:    model.JobKind(c.Query("kind")),
		Project: c.Query("project"),
		Limit:   limit,
		Offset:  offset,
	}

	jobs, total := s.jc.ListJobs(filter)
	c.JSON(http.StatusOK, gin.H{
		"jobs":   jobs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// CancelJobHandler cancels a non-terminal job
func (s *Server) CancelJobHandler(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	// Body is optional
	_ = c.ShouldBindJSON(&req)

	err := s.jc.CancelJob(c.Param("id"), req.Reason)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
	case errors.Is(err, controller.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
	case errors.Is(err, controller.ErrJobTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": "Job is already in a terminal state"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel job: " + err.Error()})
	}
}

// RetryJobHandler resets failed operations and re-dispatches the job
func (s *Server) RetryJobHandler(c *gin.Context) {
	job, err := s.jc.RetryJob(c.Param("id"))
	if err != nil {
		if errors.Is(err, controller.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, CreateJobResponse{
		JobID:           job.ID,
		Status:          string(job.Status),
		TotalOperations: len(job.Operations),
	})
}

// DeleteJobHandler removes a non-running job
func (s *Server) DeleteJobHandler(c *gin.Context) {
	err := s.jc.DeleteJob(c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "deleted"})
	case errors.Is(err, controller.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
	case errors.Is(err, controller.ErrJobRunning):
		c.JSON(http.StatusConflict, gin.H{"error": "Cannot delete a running job"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete job: " + err.Error()})
	}
}

// GetReportHandler returns the consolidated report for a job
func (s *Server) GetReportHandler(c *gin.Context) {
	rep := s.loadReport(c)
	if rep == nil {
		return
	}
	c.JSON(http.StatusOK, rep)
}

// DownloadReportHandler streams the consolidated report as an attachment
func (s *Server) DownloadReportHandler(c *gin.Context) {
	rep := s.loadReport(c)
	if rep == nil {
		return
	}

	c.Header("Content-Disposition",
		fmt.Sprintf("attachment; filename=consolidated-report-%s.json", rep.BatchJobID))
	c.JSON(http.StatusOK, rep)
}

func (s *Server) loadReport(c *gin.Context) *model.ConsolidatedReport {
	rep, err := s.jc.GetReport(c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, controller.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		case errors.Is(err, report.ErrReportNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "No consolidated report for this job"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load report: " + err.Error()})
		}
		return nil
	}
	return rep
}

// ListOperationKindsHandler lists the registered operation kinds
func (s *Server) ListOperationKindsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"kinds": s.jc.AvailableOperationKinds()})
}

// getPaginationParams extracts pagination parameters from the request
func getPaginationParams(c *gin.Context) (int, int) {
	limit := 20
	offset := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 {
			limit = parsedLimit
		}
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		if parsedOffset, err := strconv.Atoi(offsetStr); err == nil && parsedOffset >= 0 {
			offset = parsedOffset
		}
	}

	return limit, offset
}
