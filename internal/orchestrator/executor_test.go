package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crucible/internal/manager"
	"crucible/internal/model"
	"crucible/internal/store"
)

// stubHandler fails the operation ids listed in failOps and records the
// order operations were started in.
type stubHandler struct {
	kind     model.OperationKind
	delay    time.Duration
	failOps  map[string]bool
	mu       sync.Mutex
	started  []string
	attempts map[string]int
	block    chan struct{}
}

func newStubHandler(kind model.OperationKind) *stubHandler {
	return &stubHandler{
		kind:     kind,
		failOps:  make(map[string]bool),
		attempts: make(map[string]int),
	}
}

func (h *stubHandler) Kind() model.OperationKind { return h.kind }
func (h *stubHandler) Name() string              { return "stub" }

func (h *stubHandler) Execute(ctx context.Context, job *model.Job, op *model.Operation) (map[string]interface{}, error) {
	h.mu.Lock()
	h.started = append(h.started, op.ID)
	h.attempts[op.ID]++
	h.mu.Unlock()

	if h.block != nil {
		<-h.block
	}
	if h.delay > 0 {
		select {
		case <-time.After(h.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if h.failOps[op.ID] {
		return nil, errors.New("simulated failure")
	}
	return map[string]interface{}{"run_id": "run-" + op.ID}, nil
}

func (h *stubHandler) startedOrder() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.started))
	copy(out, h.started)
	return out
}

func (h *stubHandler) attemptCount(opID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempts[opID]
}

type countingReports struct {
	calls int32
}

func (r *countingReports) Generate(job *model.Job) (*model.ConsolidatedReport, error) {
	atomic.AddInt32(&r.calls, 1)
	return &model.ConsolidatedReport{BatchJobID: job.ID}, nil
}

func newExecutorFixture(t *testing.T, h Handler, reports ReportGenerator) (*Executor, *manager.Manager) {
	t.Helper()
	jobStore, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)

	mgr, err := manager.New(jobStore, nil)
	require.NoError(t, err)

	registry := NewRegistry(h)
	return NewExecutor(context.Background(), mgr, registry, reports), mgr
}

func genericOps(n int) []model.Operation {
	ops := make([]model.Operation, n)
	for i := range ops {
		ops[i] = model.Operation{Kind: model.OpKindGeneric}
	}
	return ops
}

func waitTerminal(t *testing.T, mgr *manager.Manager, jobID string) *model.Job {
	t.Helper()
	var job *model.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = mgr.GetJob(jobID)
		return err == nil && job.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestExecutor_SequentialRunsInOrder(t *testing.T) {
	h := newStubHandler(model.OpKindGeneric)
	exec, mgr := newExecutorFixture(t, h, nil)

	job, err := mgr.CreateJob(model.KindBatchDataGeneration, "seq", genericOps(3),
		model.ExecutionPolicy{}, "", nil)
	require.NoError(t, err)

	exec.RunAsync(job.ID)
	got := waitTerminal(t, mgr, job.ID)

	assert.Equal(t, model.JobCompleted, got.Status)
	assert.Equal(t, []string{"op-1", "op-2", "op-3"}, h.startedOrder())
	assert.Equal(t, 3, got.SuccessCount)
	assert.InDelta(t, 100, got.Progress.PercentComplete, 0.001)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
	for _, op := range got.Operations {
		assert.Equal(t, model.OpCompleted, op.Status)
		assert.Equal(t, "run-"+op.ID, op.Result["run_id"])
	}
}

func TestExecutor_SequentialStopOnError(t *testing.T) {
	h := newStubHandler(model.OpKindGeneric)
	h.failOps["op-1"] = true
	exec, mgr := newExecutorFixture(t, h, nil)

	job, err := mgr.CreateJob(model.KindBatchDataGeneration, "seq", genericOps(2),
		model.ExecutionPolicy{StopOnError: true}, "", nil)
	require.NoError(t, err)

	exec.RunAsync(job.ID)
	got := waitTerminal(t, mgr, job.ID)

	// The failed operation terminates the run; op-2 never starts
	assert.Equal(t, model.JobFailed, got.Status)
	assert.Equal(t, []string{"op-1"}, h.startedOrder())
	assert.Equal(t, model.OpFailed, got.Operations[0].Status)
	assert.Equal(t, "simulated failure", got.Operations[0].Error)
	assert.Equal(t, model.OpPending, got.Operations[1].Status)
}

func TestExecutor_SequentialContinuesWithoutStopOnError(t *testing.T) {
	h := newStubHandler(model.OpKindGeneric)
	h.failOps["op-2"] = true
	exec, mgr := newExecutorFixture(t, h, nil)

	job, err := mgr.CreateJob(model.KindBatchDataGeneration, "seq", genericOps(3),
		model.ExecutionPolicy{}, "", nil)
	require.NoError(t, err)

	exec.RunAsync(job.ID)
	got := waitTerminal(t, mgr, job.ID)

	assert.Equal(t, model.JobPartialSuccess, got.Status)
	assert.Equal(t, 2, got.SuccessCount)
	assert.Equal(t, 1, got.FailureCount)
	assert.Equal(t, []string{"op-1", "op-2", "op-3"}, h.startedOrder())
}

func TestExecutor_ParallelPartialSuccess(t *testing.T) {
	h := newStubHandler(model.OpKindGeneric)
	h.failOps["op-2"] = true
	exec, mgr := newExecutorFixture(t, h, nil)

	job, err := mgr.CreateJob(model.KindBatchDataGeneration, "par", genericOps(3),
		model.ExecutionPolicy{Parallel: true, MaxParallel: 2}, "", nil)
	require.NoError(t, err)

	exec.RunAsync(job.ID)
	got := waitTerminal(t, mgr, job.ID)

	assert.Equal(t, model.JobPartialSuccess, got.Status)
	assert.Equal(t, 2, got.SuccessCount)
	assert.Equal(t, 1, got.FailureCount)
	assert.InDelta(t, 100, got.Progress.PercentComplete, 0.001)
	assert.Len(t, h.startedOrder(), 3)
}

func TestExecutor_ParallelAllFail(t *testing.T) {
	h := newStubHandler(model.OpKindGeneric)
	h.failOps["op-1"] = true
	h.failOps["op-2"] = true
	exec, mgr := newExecutorFixture(t, h, nil)

	job, err := mgr.CreateJob(model.KindBatchDataGeneration, "par", genericOps(2),
		model.ExecutionPolicy{Parallel: true, MaxParallel: 2}, "", nil)
	require.NoError(t, err)

	exec.RunAsync(job.ID)
	got := waitTerminal(t, mgr, job.ID)

	assert.Equal(t, model.JobFailed, got.Status)
	assert.Equal(t, 2, got.FailureCount)
}

func TestExecutor_ParallelStopOnErrorSkipsUnstarted(t *testing.T) {
	h := newStubHandler(model.OpKindGeneric)
	h.failOps["op-1"] = true
	h.failOps["op-2"] = true
	h.block = make(chan struct{})
	exec, mgr := newExecutorFixture(t, h, nil)

	job, err := mgr.CreateJob(model.KindBatchDataGeneration, "par", genericOps(4),
		model.ExecutionPolicy{Parallel: true, MaxParallel: 2, StopOnError: true}, "", nil)
	require.NoError(t, err)

	exec.RunAsync(job.ID)

	// Both workers are holding a failing operation; release them together so
	// the failure flag is set before either worker picks up op-3 or op-4
	require.Eventually(t, func() bool {
		return len(h.startedOrder()) == 2
	}, 5*time.Second, 10*time.Millisecond)
	close(h.block)

	got := waitTerminal(t, mgr, job.ID)

	assert.Equal(t, model.JobFailed, got.Status)
	assert.Equal(t, model.OpFailed, got.Operations[0].Status)
	assert.Equal(t, model.OpFailed, got.Operations[1].Status)
	assert.Equal(t, model.OpPending, got.Operations[2].Status)
	assert.Equal(t, model.OpPending, got.Operations[3].Status)
	assert.ElementsMatch(t, []string{"op-1", "op-2"}, h.startedOrder())
}

func TestExecutor_RetryFailedOperations(t *testing.T) {
	h := newStubHandler(model.OpKindGeneric)
	h.failOps["op-1"] = true
	exec, mgr := newExecutorFixture(t, h, nil)

	job, err := mgr.CreateJob(model.KindBatchDataGeneration, "retry", genericOps(1),
		model.ExecutionPolicy{RetryFailed: true, MaxRetries: 2}, "", nil)
	require.NoError(t, err)

	exec.RunAsync(job.ID)
	got := waitTerminal(t, mgr, job.ID)

	assert.Equal(t, model.JobFailed, got.Status)
	// 1 initial attempt + 2 retries
	assert.Equal(t, 3, h.attemptCount("op-1"))
}

func TestExecutor_CancellationStopsSequentialRun(t *testing.T) {
	h := newStubHandler(model.OpKindGeneric)
	h.block = make(chan struct{})
	exec, mgr := newExecutorFixture(t, h, nil)

	job, err := mgr.CreateJob(model.KindBatchDataGeneration, "cancel", genericOps(3),
		model.ExecutionPolicy{}, "", nil)
	require.NoError(t, err)

	exec.RunAsync(job.ID)

	// Wait until op-1 is in flight, then cancel
	require.Eventually(t, func() bool {
		return len(h.startedOrder()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancelled, err := mgr.CancelJob(job.ID, "test cancel")
	require.NoError(t, err)
	require.True(t, cancelled)

	close(h.block)
	exec.Wait()

	got, err := mgr.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCancelled, got.Status)
	// op-1's late result is dropped; everything stays Skipped
	for _, op := range got.Operations {
		assert.Equal(t, model.OpSkipped, op.Status)
	}
	assert.Equal(t, []string{"op-1"}, h.startedOrder())
}

func TestExecutor_NoHandlerFailsOperation(t *testing.T) {
	h := newStubHandler(model.OpKindGeneric)
	exec, mgr := newExecutorFixture(t, h, nil)

	job, err := mgr.CreateJob(model.KindBatchDataGeneration, "nohandler",
		[]model.Operation{{Kind: model.OperationKind("unknown_kind")}},
		model.ExecutionPolicy{}, "", nil)
	require.NoError(t, err)

	exec.RunAsync(job.ID)
	got := waitTerminal(t, mgr, job.ID)

	assert.Equal(t, model.JobFailed, got.Status)
	assert.Equal(t, model.OpFailed, got.Operations[0].Status)
	assert.Contains(t, got.Operations[0].Error, "no handler registered")
}

func TestExecutor_GeneratesReportForBulkPipelineJobs(t *testing.T) {
	h := newStubHandler(model.OpKindPipelineExecution)
	reports := &countingReports{}
	exec, mgr := newExecutorFixture(t, h, reports)

	job, err := mgr.CreateJob(model.KindBulkPipelineExecution, "bulk",
		[]model.Operation{{Kind: model.OpKindPipelineExecution}},
		model.ExecutionPolicy{}, "", nil)
	require.NoError(t, err)

	exec.RunAsync(job.ID)
	waitTerminal(t, mgr, job.ID)
	exec.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&reports.calls))
}

func TestExecutor_SkipsReportForOtherKinds(t *testing.T) {
	h := newStubHandler(model.OpKindGeneric)
	reports := &countingReports{}
	exec, mgr := newExecutorFixture(t, h, reports)

	job, err := mgr.CreateJob(model.KindBatchDataGeneration, "gen", genericOps(1),
		model.ExecutionPolicy{}, "", nil)
	require.NoError(t, err)

	exec.RunAsync(job.ID)
	waitTerminal(t, mgr, job.ID)
	exec.Wait()

	assert.Zero(t, atomic.LoadInt32(&reports.calls))
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	h := newStubHandler(model.OpKindGeneric)
	registry := NewRegistry(h)

	got, ok := registry.Get(model.OpKindGeneric)
	require.True(t, ok)
	assert.Equal(t, h, got)

	_, ok = registry.Get(model.OpKindPipelineExecution)
	assert.False(t, ok)

	kinds := registry.AvailableKinds()
	assert.Equal(t, []model.OperationKind{model.OpKindGeneric}, kinds)
}
