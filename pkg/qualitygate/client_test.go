package qualitygate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_ExecutePipeline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/pipelines/execute", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "name: Customer checks", payload["pipeline_yaml"])
		assert.Equal(t, "customer_checks", payload["pipeline_name"])

		json.NewEncoder(w).Encode(map[string]string{"run_id": "run-42"})
	}))
	defer server.Close()

	c := New(server.URL, 5*time.Second)

	runID, err := c.ExecutePipeline(context.Background(), "name: Customer checks", "customer_checks")
	require.NoError(t, err)
	assert.Equal(t, "run-42", runID)
}

func TestClient_GetRunStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/pipelines/status/run-42", r.URL.Path)

		json.NewEncoder(w).Encode(RunStatus{
			Status: RunCompleted,
			Results: []StepResult{
				{Name: "row_count", Status: StepPass},
				{Name: "sum_check", Status: StepFail, Details: "totals diverge"},
			},
		})
	}))
	defer server.Close()

	c := New(server.URL, 5*time.Second)

	status, err := c.GetRunStatus(context.Background(), "run-42")
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, status.Status)
	require.Len(t, status.Results, 2)
	assert.True(t, status.HasFailedSteps())
}

func TestClient_GenerateData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/generate", r.URL.Path)

		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "retail", payload["schema_type"])
		assert.Equal(t, float64(500), payload["row_count"])

		json.NewEncoder(w).Encode(GenerateResult{JobID: "gen-7", Status: "accepted"})
	}))
	defer server.Close()

	c := New(server.URL, 5*time.Second)

	result, err := c.GenerateData(context.Background(), "retail", 500)
	require.NoError(t, err)
	assert.Equal(t, "gen-7", result.JobID)
	assert.Equal(t, "accepted", result.Status)
}

func TestClient_ExtractMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/metadata/extract", r.URL.Path)

		json.NewEncoder(w).Encode(ExtractResult{
			Tables: []map[string]interface{}{
				{"name": "DIM.CUSTOMER"},
				{"name": "FACT.SALES"},
			},
		})
	}))
	defer server.Close()

	c := New(server.URL, 5*time.Second)

	result, err := c.ExtractMetadata(context.Background(), "warehouse", "DIM")
	require.NoError(t, err)
	assert.Len(t, result.Tables, 2)
}

func TestClient_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "pipeline service unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	c := New(server.URL, 5*time.Second)

	_, err := c.GetRunStatus(context.Background(), "run-42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 502")
}

func TestClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	c := New(server.URL, 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.GetRunStatus(ctx, "run-42")
	assert.Error(t, err)
}

func TestRunStatus_HasFailedSteps(t *testing.T) {
	passing := RunStatus{
		Status:  RunCompleted,
		Results: []StepResult{{Name: "row_count", Status: StepPass}},
	}
	assert.False(t, passing.HasFailedSteps())

	empty := RunStatus{Status: RunCompleted}
	assert.False(t, empty.HasFailedSteps())
}
