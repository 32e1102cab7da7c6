package report

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crucible/internal/model"
	"crucible/internal/store"
)

type recordingArchiver struct {
	archived []*model.ConsolidatedReport
	err      error
}

func (a *recordingArchiver) Archive(report *model.ConsolidatedReport) error {
	a.archived = append(a.archived, report)
	return a.err
}

func newBuilderFixture(t *testing.T, archiver Archiver) (*Builder, store.ResultStore) {
	t.Helper()
	results, err := store.NewFileResultStore(t.TempDir())
	require.NoError(t, err)

	b, err := NewBuilder(results, t.TempDir(), archiver)
	require.NoError(t, err)
	return b, results
}

func completedOp(id, runID string) model.Operation {
	return model.Operation{
		ID:     id,
		Kind:   model.OpKindPipelineExecution,
		Status: model.OpCompleted,
		Result: map[string]interface{}{"run_id": runID},
	}
}

func TestBuilder_GenerateGroupsByTable(t *testing.T) {
	archiver := &recordingArchiver{}
	b, results := newBuilderFixture(t, archiver)

	require.NoError(t, results.SaveArtifact(&model.RunArtifact{
		RunID:        "run-1",
		PipelineName: "customer_checks",
		SourceTable:  "DIM.CUSTOMER",
		SourceSchema: "DIM",
		Results: []model.ValidationEntry{
			{Name: "row_count", Status: "PASS"},
		},
		CreatedAt: time.Now(),
	}))
	require.NoError(t, results.SaveArtifact(&model.RunArtifact{
		RunID:        "run-2",
		PipelineName: "sales_checks",
		SourceTable:  "FACT.SALES",
		SourceSchema: "FACT",
		Results: []model.ValidationEntry{
			{Name: "null_check", Status: "PASS"},
			{Name: "sum_check", Status: "FAIL", Details: "totals diverge"},
		},
		CreatedAt: time.Now(),
	}))

	job := &model.Job{
		ID:     "job-1",
		Name:   "nightly batch",
		Kind:   model.KindBulkPipelineExecution,
		Status: model.JobPartialSuccess,
		Operations: []model.Operation{
			completedOp("op-1", "run-1"),
			completedOp("op-2", "run-2"),
		},
	}

	report, err := b.Generate(job)
	require.NoError(t, err)

	assert.Equal(t, "job-1", report.BatchJobID)
	assert.Equal(t, "nightly batch", report.BatchJobName)
	assert.Contains(t, report.RunID, "consolidated-")
	assert.Equal(t, []string{"run-1", "run-2"}, report.IndividualRunIDs)
	assert.False(t, report.GeneratedAt.IsZero())

	assert.Equal(t, 3, report.Summary.TotalValidations)
	assert.Equal(t, 2, report.Summary.Passed)
	assert.Equal(t, 1, report.Summary.Failed)
	assert.InDelta(t, 66.67, report.Summary.PassRate, 0.001)
	assert.Equal(t, "FAIL", report.Status)

	// Tables come out sorted by name
	require.Len(t, report.Tables, 2)
	assert.Equal(t, "DIM.CUSTOMER", report.Tables[0].Table)
	assert.Equal(t, "DIM", report.Tables[0].Schema)
	assert.Equal(t, 1, report.Tables[0].Passed)
	assert.Zero(t, report.Tables[0].Failed)
	assert.Equal(t, "FACT.SALES", report.Tables[1].Table)
	assert.Equal(t, 2, report.Tables[1].TotalValidations)
	assert.Equal(t, 1, report.Tables[1].Failed)

	require.Len(t, report.Results, 3)
	assert.Equal(t, "DIM.CUSTOMER", report.Results[0].Table)

	require.Len(t, archiver.archived, 1)
	assert.Equal(t, report.RunID, archiver.archived[0].RunID)

	// The report is persisted and loadable by job id
	loaded, err := b.Load("job-1")
	require.NoError(t, err)
	assert.Equal(t, report.RunID, loaded.RunID)
	assert.Equal(t, report.Summary, loaded.Summary)
}

func TestBuilder_GenerateAllPassing(t *testing.T) {
	b, results := newBuilderFixture(t, nil)

	require.NoError(t, results.SaveArtifact(&model.RunArtifact{
		RunID:       "run-1",
		SourceTable: "DIM.PRODUCT",
		Results: []model.ValidationEntry{
			{Name: "row_count", Status: "PASS"},
			{Name: "pk_unique", Status: "PASS"},
		},
	}))

	job := &model.Job{
		ID:         "job-2",
		Kind:       model.KindBulkPipelineExecution,
		Status:     model.JobCompleted,
		Operations: []model.Operation{completedOp("op-1", "run-1")},
	}

	report, err := b.Generate(job)
	require.NoError(t, err)
	assert.Equal(t, "PASS", report.Status)
	assert.InDelta(t, 100, report.Summary.PassRate, 0.001)
}

func TestBuilder_GenerateSkipsUnreadableArtifacts(t *testing.T) {
	b, results := newBuilderFixture(t, nil)

	require.NoError(t, results.SaveArtifact(&model.RunArtifact{
		RunID:       "run-2",
		SourceTable: "DIM.DATE",
		Results:     []model.ValidationEntry{{Name: "row_count", Status: "PASS"}},
	}))

	job := &model.Job{
		ID:     "job-3",
		Kind:   model.KindBulkPipelineExecution,
		Status: model.JobPartialSuccess,
		Operations: []model.Operation{
			completedOp("op-1", "run-missing"),
			completedOp("op-2", "run-2"),
		},
	}

	report, err := b.Generate(job)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Summary.TotalValidations)
	// Missing artifacts still count in the run id lineage
	assert.Equal(t, []string{"run-missing", "run-2"}, report.IndividualRunIDs)
}

func TestBuilder_GenerateNoRunIDs(t *testing.T) {
	b, _ := newBuilderFixture(t, nil)

	job := &model.Job{
		ID:     "job-4",
		Status: model.JobCompleted,
		Operations: []model.Operation{
			{ID: "op-1", Status: model.OpCompleted, Result: map[string]interface{}{"rows": 10.0}},
		},
	}

	_, err := b.Generate(job)
	assert.Error(t, err)
}

func TestBuilder_ArchiveFailureDoesNotFailGeneration(t *testing.T) {
	archiver := &recordingArchiver{err: errors.New("bucket unavailable")}
	b, results := newBuilderFixture(t, archiver)

	require.NoError(t, results.SaveArtifact(&model.RunArtifact{
		RunID:       "run-1",
		SourceTable: "DIM.CUSTOMER",
		Results:     []model.ValidationEntry{{Name: "row_count", Status: "PASS"}},
	}))

	job := &model.Job{
		ID:         "job-5",
		Status:     model.JobCompleted,
		Operations: []model.Operation{completedOp("op-1", "run-1")},
	}

	report, err := b.Generate(job)
	require.NoError(t, err)
	assert.NotNil(t, report)
	assert.Len(t, archiver.archived, 1)
}

func TestBuilder_LoadMissingReport(t *testing.T) {
	b, _ := newBuilderFixture(t, nil)

	_, err := b.Load("nope")
	assert.ErrorIs(t, err, ErrReportNotFound)
}

func TestCollectRunIDs(t *testing.T) {
	job := &model.Job{
		Operations: []model.Operation{
			{
				ID:     "op-1",
				Status: model.OpCompleted,
				Result: map[string]interface{}{"run_id": "run-1"},
			},
			{
				// Batch operations nest per-pipeline results
				ID:     "op-2",
				Status: model.OpFailed,
				Result: map[string]interface{}{
					"results": []interface{}{
						map[string]interface{}{"run_id": "run-2", "status": "PASS"},
						map[string]interface{}{"run_id": "run-3", "status": "FAIL"},
						map[string]interface{}{"pipeline": "no_run"},
					},
				},
			},
			{
				// Duplicate ids are collapsed
				ID:     "op-3",
				Status: model.OpCompleted,
				Result: map[string]interface{}{"run_id": "run-1"},
			},
			{
				// Skipped operations contribute nothing
				ID:     "op-4",
				Status: model.OpSkipped,
				Result: map[string]interface{}{"run_id": "run-9"},
			},
			{
				ID:     "op-5",
				Status: model.OpPending,
			},
		},
	}

	assert.Equal(t, []string{"run-1", "run-2", "run-3"}, CollectRunIDs(job))
}
