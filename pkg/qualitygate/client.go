// Package qualitygate is the HTTP client for the external validation
// services: pipeline execution, data generation and metadata extraction.
package qualitygate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Client defines the calls the operation handlers make against the
// validation services
type Client interface {
	// ExecutePipeline submits a pipeline for execution and returns its run id
	ExecutePipeline(ctx context.Context, pipelineYAML, pipelineName string) (string, error)

	// GetRunStatus polls the status of a previously submitted run
	GetRunStatus(ctx context.Context, runID string) (*RunStatus, error)

	// GenerateData asks the generation service for synthetic rows
	GenerateData(ctx context.Context, schemaType string, rowCount int) (*GenerateResult, error)

	// ExtractMetadata asks the metadata service to scan a source
	ExtractMetadata(ctx context.Context, source, schema string) (*ExtractResult, error)
}

const (
	// RunPending indicates the run has not finished yet
	RunPending = "pending"
	// RunCompleted indicates the run finished executing
	RunCompleted = "completed"
	// RunFailed indicates the run itself errored
	RunFailed = "failed"

	// StepPass and StepFail classify individual validation steps
	StepPass = "PASS"
	StepFail = "FAIL"
)

// StepResult is one validation step outcome inside a run
type StepResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Details string `json:"details,omitempty"`
}

// RunStatus is the pipeline service's view of a run
type RunStatus struct {
	Status  string       `json:"status"`
	Results []StepResult `json:"results"`
}

// HasFailedSteps reports whether any validation step failed
func (r *RunStatus) HasFailedSteps() bool {
	for _, step := range r.Results {
		if step.Status == StepFail {
			return true
		}
	}
	return false
}

// GenerateResult is the generation service's acknowledgement
type GenerateResult struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// ExtractResult is the metadata service's response
type ExtractResult struct {
	Tables []map[string]interface{} `json:"tables"`
}

type client struct {
	httpClient *http.Client
	baseURL    string
}

// New creates a quality-gate client against the given base URL
func New(baseURL string, timeout time.Duration) Client {
	log.Info().
		Str("base_url", baseURL).
		Dur("timeout", timeout).
		Msg("Initializing quality-gate client")

	return &client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}
}

func (c *client) ExecutePipeline(ctx context.Context, pipelineYAML, pipelineName string) (string, error) {
	payload := map[string]string{
		"pipeline_yaml": pipelineYAML,
		"pipeline_name": pipelineName,
	}

	var resp struct {
		RunID string `json:"run_id"`
	}
	if err := c.post(ctx, "/pipelines/execute", payload, &resp); err != nil {
		return "", fmt.Errorf("execute pipeline %s: %w", pipelineName, err)
	}

	log.Debug().Str("pipeline", pipelineName).Str("runID", resp.RunID).Msg("Pipeline submitted")
	return resp.RunID, nil
}

func (c *client) GetRunStatus(ctx context.Context, runID string) (*RunStatus, error) {
	var status RunStatus
	if err := c.get(ctx, "/pipelines/status/"+runID, &status); err != nil {
		return nil, fmt.Errorf("get run status %s: %w", runID, err)
	}
	return &status, nil
}

func (c *client) GenerateData(ctx context.Context, schemaType string, rowCount int) (*GenerateResult, error) {
	payload := map[string]interface{}{
		"schema_type": schemaType,
		"row_count":   rowCount,
	}

	var result GenerateResult
	if err := c.post(ctx, "/data/generate", payload, &result); err != nil {
		return nil, fmt.Errorf("generate data: %w", err)
	}
	return &result, nil
}

func (c *client) ExtractMetadata(ctx context.Context, source, schema string) (*ExtractResult, error) {
	payload := map[string]string{
		"source": source,
		"schema": schema,
	}

	var result ExtractResult
	if err := c.post(ctx, "/metadata/extract", payload, &result); err != nil {
		return nil, fmt.Errorf("extract metadata: %w", err)
	}
	return &result, nil
}

func (c *client) post(ctx context.Context, endpoint string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error marshalling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *client) get(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}

	return c.do(req, out)
}

func (c *client) do(req *http.Request, out interface{}) error {
	startTime := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error().
			Err(err).
			Str("url", req.URL.String()).
			Dur("duration", time.Since(startTime)).
			Msg("Request to quality-gate service failed")
		return fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response: %w", err)
	}

	log.Debug().
		Str("url", req.URL.String()).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(startTime)).
		Msg("Quality-gate request completed")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("error parsing response: %w", err)
	}
	return nil
}
