package bulk

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/ffqueue/pkg/backend"
	"github.com/psantana5/ffqueue/pkg/logging"
	"github.com/psantana5/ffqueue/pkg/messages"
	"github.com/psantana5/ffqueue/pkg/models"
	"github.com/psantana5/ffqueue/pkg/queuesync"
)

type call struct {
	method string
	ids    []string
}

// fakeBackend records calls and answers every command with ok/err
type fakeBackend struct {
	mu      sync.Mutex
	calls   []call
	ok      bool
	err     error
	onCall  func()
	snap    *models.QueueSnapshot
	loadErr error
}

func (f *fakeBackend) record(method string, ids []string) (bool, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{method: method, ids: append([]string(nil), ids...)})
	ok, err, hook := f.ok, f.err, f.onCall
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return ok, err
}

func (f *fakeBackend) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeBackend) LoadQueueSnapshot(context.Context) (*models.QueueSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{method: "load"})
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.snap, nil
}

func (f *fakeBackend) EnqueueJob(_ context.Context, req models.EnqueueRequest) (*models.Job, error) {
	if _, err := f.record("enqueue", []string{req.InputPath}); err != nil {
		return nil, err
	}
	return &models.Job{ID: "new", InputPath: req.InputPath, Status: models.JobStatusQueued}, nil
}

func (f *fakeBackend) EnqueueJobs(_ context.Context, reqs []models.EnqueueRequest) ([]*models.Job, error) {
	paths := make([]string, len(reqs))
	jobs := make([]*models.Job, len(reqs))
	for i, r := range reqs {
		paths[i] = r.InputPath
		jobs[i] = &models.Job{ID: r.InputPath, Status: models.JobStatusQueued}
	}
	if _, err := f.record("enqueueMany", paths); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (f *fakeBackend) CancelJob(_ context.Context, id string) (bool, error) {
	return f.record("cancel", []string{id})
}
func (f *fakeBackend) WaitJob(_ context.Context, id string) (bool, error) {
	return f.record("wait", []string{id})
}
func (f *fakeBackend) ResumeJob(_ context.Context, id string) (bool, error) {
	return f.record("resume", []string{id})
}
func (f *fakeBackend) RestartJob(_ context.Context, id string) (bool, error) {
	return f.record("restart", []string{id})
}
func (f *fakeBackend) CancelJobsBulk(_ context.Context, ids []string) (bool, error) {
	return f.record("cancelBulk", ids)
}
func (f *fakeBackend) WaitJobsBulk(_ context.Context, ids []string) (bool, error) {
	return f.record("waitBulk", ids)
}
func (f *fakeBackend) ResumeJobsBulk(_ context.Context, ids []string) (bool, error) {
	return f.record("resumeBulk", ids)
}
func (f *fakeBackend) RestartJobsBulk(_ context.Context, ids []string) (bool, error) {
	return f.record("restartBulk", ids)
}
func (f *fakeBackend) DeleteJob(_ context.Context, id string) (bool, error) {
	return f.record("delete", []string{id})
}
func (f *fakeBackend) DeleteJobsBulk(_ context.Context, ids []string) (bool, error) {
	return f.record("deleteBulk", ids)
}
func (f *fakeBackend) DeleteBatch(_ context.Context, batchID string) (bool, error) {
	return f.record("deleteBatch", []string{batchID})
}
func (f *fakeBackend) ReorderQueue(_ context.Context, ids []string) (bool, error) {
	return f.record("reorder", ids)
}

func job(id string, st models.JobStatus) *models.Job {
	return &models.Job{ID: id, Filename: id + ".mkv", Status: st, StartTime: models.Int64(1000)}
}

func withOrder(j *models.Job, order int64) *models.Job {
	j.QueueOrder = models.Int64(order)
	return j
}

func seededSyncer(jobs ...*models.Job) *queuesync.Syncer {
	s := queuesync.New(queuesync.WithTranslator(messages.New("en")))
	s.ApplySnapshot(&models.QueueSnapshot{SnapshotRevision: 1, Jobs: jobs})
	return s
}

func statusOf(t *testing.T, s *queuesync.Syncer, id string) models.JobStatus {
	t.Helper()
	var st models.JobStatus
	s.Read(func(v queuesync.ReadView) {
		j, ok := v.Store.Get(id)
		require.True(t, ok, "job %s missing", id)
		st = j.Status
	})
	return st
}

func TestEligible(t *testing.T) {
	tests := []struct {
		action backend.Action
		status models.JobStatus
		want   bool
	}{
		{backend.ActionWait, models.JobStatusProcessing, true},
		{backend.ActionWait, models.JobStatusQueued, true},
		{backend.ActionWait, models.JobStatusWaiting, true},
		{backend.ActionWait, models.JobStatusPaused, false},
		{backend.ActionWait, models.JobStatusCompleted, false},
		{backend.ActionResume, models.JobStatusPaused, true},
		{backend.ActionResume, models.JobStatusQueued, false},
		{backend.ActionRestart, models.JobStatusCancelled, true},
		{backend.ActionRestart, models.JobStatusFailed, true},
		{backend.ActionRestart, models.JobStatusCompleted, false},
		{backend.ActionRestart, models.JobStatusSkipped, false},
		{backend.ActionCancel, models.JobStatusProcessing, true},
		{backend.ActionCancel, models.JobStatusPaused, true},
		{backend.ActionCancel, models.JobStatusCancelled, false},
		{backend.ActionCancel, models.JobStatusFailed, false},
		{backend.ActionDelete, models.JobStatusCompleted, true},
		{backend.ActionDelete, models.JobStatusFailed, true},
		{backend.ActionDelete, models.JobStatusSkipped, true},
		{backend.ActionDelete, models.JobStatusCancelled, true},
		{backend.ActionDelete, models.JobStatusProcessing, false},
		{backend.ActionDelete, models.JobStatusPaused, false},
		{backend.ActionDelete, models.JobStatusQueued, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.action)+"/"+string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, Eligible(tt.action, tt.status))
		})
	}
}

func TestWait_TransitionsOnlyEligibleJobsWithOneCall(t *testing.T) {
	s := seededSyncer(
		job("p", models.JobStatusProcessing),
		job("q", models.JobStatusQueued),
		job("c", models.JobStatusCompleted),
	)
	fb := &fakeBackend{ok: true}
	op := NewOperator(s, WithBackend(fb))

	res, err := op.Wait(context.Background(), []string{"p", "q", "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"p", "q"}, res.IDs)
	assert.Equal(t, []string{"c"}, res.Skipped)

	assert.Equal(t, []call{{method: "waitBulk", ids: []string{"p", "q"}}}, fb.Calls())
	assert.Equal(t, models.JobStatusPaused, statusOf(t, s, "p"))
	assert.Equal(t, models.JobStatusPaused, statusOf(t, s, "q"))
	assert.Equal(t, models.JobStatusCompleted, statusOf(t, s, "c"))
	s.Read(func(v queuesync.ReadView) {
		assert.True(t, v.PausePending("p"), "processing job pauses cooperatively")
		assert.False(t, v.PausePending("q"))
	})
}

func TestResume_OrdersByQueueOrderMissingLast(t *testing.T) {
	s := seededSyncer(
		withOrder(job("b", models.JobStatusPaused), 2),
		withOrder(job("a", models.JobStatusPaused), 1),
		job("x", models.JobStatusPaused),
	)
	fb := &fakeBackend{ok: true}
	op := NewOperator(s, WithBackend(fb))

	res, err := op.Resume(context.Background(), []string{"b", "a", "x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "x"}, res.IDs)
	require.Len(t, fb.Calls(), 1)
	assert.Equal(t, []string{"a", "b", "x"}, fb.Calls()[0].ids)
}

func TestRejection_RollsBackExactly(t *testing.T) {
	p := job("p", models.JobStatusProcessing)
	p.Progress = 40
	q := job("q", models.JobStatusQueued)
	r := job("r", models.JobStatusFailed)
	r.Progress = 70
	s := seededSyncer(p, q, r)
	fb := &fakeBackend{ok: false}
	op := NewOperator(s, WithBackend(fb))

	_, err := op.Wait(context.Background(), []string{"p", "q"})
	require.ErrorIs(t, err, backend.ErrRejected)

	assert.Equal(t, models.JobStatusProcessing, statusOf(t, s, "p"))
	assert.Equal(t, models.JobStatusQueued, statusOf(t, s, "q"))
	s.Read(func(v queuesync.ReadView) {
		j, _ := v.Store.Get("p")
		assert.False(t, j.WaitRequestPending)
		assert.Equal(t, 40.0, j.Progress)
		assert.False(t, v.PausePending("p"))
	})
	assert.Equal(t, "Failed to pause 2 job(s): the backend rejected the request", s.Error().Message)

	_, err = op.Restart(context.Background(), []string{"r"})
	require.Error(t, err)
	assert.Equal(t, models.JobStatusFailed, statusOf(t, s, "r"))
	s.Read(func(v queuesync.ReadView) {
		j, _ := v.Store.Get("r")
		assert.Equal(t, 70.0, j.Progress, "restart rollback restores progress")
	})
}

func TestTransportError_RollsBackAndKeepsError(t *testing.T) {
	s := seededSyncer(job("a", models.JobStatusQueued))
	fb := &fakeBackend{err: errors.New("connection reset")}
	op := NewOperator(s, WithBackend(fb))

	_, err := op.Cancel(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, backend.ErrRejected)
	assert.Equal(t, models.JobStatusQueued, statusOf(t, s, "a"))
	assert.Equal(t, "Failed to cancel 1 job(s): connection reset", s.Error().Message)
}

func TestNoEligibleJobs_NoCall(t *testing.T) {
	s := seededSyncer(job("c", models.JobStatusCompleted))
	fb := &fakeBackend{ok: true}
	op := NewOperator(s, WithBackend(fb))

	res, err := op.Cancel(context.Background(), []string{"c", "ghost"})
	require.NoError(t, err)
	assert.Empty(t, res.IDs)
	assert.Equal(t, []string{"c", "ghost"}, res.Skipped)
	assert.Empty(t, fb.Calls())
}

func TestWithoutBackend_AppliesLocally(t *testing.T) {
	s := seededSyncer(job("a", models.JobStatusPaused))
	op := NewOperator(s)

	res, err := op.Resume(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.True(t, res.Local)
	assert.Equal(t, models.JobStatusQueued, statusOf(t, s, "a"))
}

func TestApplyOne_UsesSingleJobCommand(t *testing.T) {
	s := seededSyncer(job("a", models.JobStatusPaused))
	fb := &fakeBackend{ok: true}
	op := NewOperator(s, WithBackend(fb))

	_, err := op.ApplyOne(context.Background(), backend.ActionResume, "a")
	require.NoError(t, err)
	assert.Equal(t, []call{{method: "resume", ids: []string{"a"}}}, fb.Calls())
}

func TestSuccess_WaitsForRevisionThenRefreshes(t *testing.T) {
	fb := &fakeBackend{ok: true}
	fb.snap = &models.QueueSnapshot{SnapshotRevision: 2, Jobs: []*models.Job{job("a", models.JobStatusCancelled)}}
	s := queuesync.New(queuesync.WithLoader(fb))
	s.ApplySnapshot(&models.QueueSnapshot{SnapshotRevision: 1, Jobs: []*models.Job{job("a", models.JobStatusQueued)}})

	tracker := NewRevisionTracker()
	tracker.Observe(1)
	fb.onCall = func() {
		go func() {
			time.Sleep(10 * time.Millisecond)
			tracker.Observe(2)
		}()
	}
	op := NewOperator(s, WithBackend(fb), WithRevisionTracker(tracker), WithRevisionWaitTimeout(5*time.Second))

	start := time.Now()
	_, err := op.Cancel(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second, "revision arrival ends the wait")

	calls := fb.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "load", calls[1].method)
	assert.Equal(t, uint64(2), s.Revisions().Snapshot)
}

func TestSuccess_RevisionTimeoutDegradesToRefresh(t *testing.T) {
	fb := &fakeBackend{ok: true, snap: &models.QueueSnapshot{Jobs: []*models.Job{job("a", models.JobStatusPaused)}}}
	s := queuesync.New(queuesync.WithLoader(fb))
	s.ApplySnapshot(&models.QueueSnapshot{Jobs: []*models.Job{job("a", models.JobStatusQueued)}})
	op := NewOperator(s, WithBackend(fb), WithRevisionTracker(NewRevisionTracker()), WithRevisionWaitTimeout(20*time.Millisecond))

	_, err := op.Wait(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Len(t, fb.Calls(), 2)
}

func TestSuccess_FailedFollowUpRefreshKeepsCleanState(t *testing.T) {
	fb := &fakeBackend{ok: true, loadErr: errors.New("timeout")}
	s := queuesync.New(queuesync.WithLoader(fb))
	s.ApplySnapshot(&models.QueueSnapshot{Jobs: []*models.Job{job("a", models.JobStatusQueued)}})
	seq := s.BeginOp()
	s.SetError(seq, "earlier failure", errors.New("boom"))

	var logs bytes.Buffer
	op := NewOperator(s, WithBackend(fb), WithLogger(logging.NewWriterLogger(&logs, logging.DEBUG, false)))
	_, err := op.Wait(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.False(t, s.Error().Active(), "the command's success is not clobbered by its failed refresh")
	assert.Contains(t, logs.String(), "refresh after command failed")
	assert.Contains(t, logs.String(), "timeout")
}

func storeIDs(s *queuesync.Syncer) []string {
	var out []string
	s.Read(func(v queuesync.ReadView) { out = v.Store.IDs() })
	return out
}

func TestDelete_RemovesOnlyFinishedJobs(t *testing.T) {
	s := seededSyncer(
		job("c", models.JobStatusCompleted),
		job("p", models.JobStatusProcessing),
		job("f", models.JobStatusFailed),
	)
	fb := &fakeBackend{ok: true}
	op := NewOperator(s, WithBackend(fb))

	res, err := op.Delete(context.Background(), []string{"c", "p", "f"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "f"}, res.IDs)
	assert.Equal(t, []string{"p"}, res.Skipped)
	assert.Equal(t, []call{{method: "deleteBulk", ids: []string{"c", "f"}}}, fb.Calls())
	assert.Equal(t, []string{"p"}, storeIDs(s))
}

func TestDelete_RejectionRestoresJobsInPlace(t *testing.T) {
	c := job("c", models.JobStatusCompleted)
	c.Progress = 100
	s := seededSyncer(job("a", models.JobStatusQueued), c, job("b", models.JobStatusQueued), job("f", models.JobStatusFailed))
	var slot *models.Job
	s.Read(func(v queuesync.ReadView) { slot, _ = v.Store.Get("c") })

	fb := &fakeBackend{ok: false}
	op := NewOperator(s, WithBackend(fb))

	_, err := op.ApplyOne(context.Background(), backend.ActionDelete, "c")
	require.ErrorIs(t, err, backend.ErrRejected)
	assert.Equal(t, []call{{method: "delete", ids: []string{"c"}}}, fb.Calls())
	assert.Equal(t, []string{"a", "c", "b", "f"}, storeIDs(s))
	s.Read(func(v queuesync.ReadView) {
		j, ok := v.Store.Get("c")
		require.True(t, ok)
		assert.Same(t, slot, j, "the original slot comes back")
		assert.Equal(t, 100.0, j.Progress)
	})
	assert.Equal(t, "Failed to delete 1 job(s): the backend rejected the request", s.Error().Message)
}

func TestDeleteBatch(t *testing.T) {
	batched := func(id string, st models.JobStatus) *models.Job {
		j := job(id, st)
		j.BatchID = "scan-1"
		return j
	}

	t.Run("all finished", func(t *testing.T) {
		s := seededSyncer(batched("b1", models.JobStatusCompleted), job("m", models.JobStatusQueued), batched("b2", models.JobStatusSkipped))
		fb := &fakeBackend{ok: true}
		op := NewOperator(s, WithBackend(fb))

		res, err := op.DeleteBatch(context.Background(), "scan-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"b1", "b2"}, res.IDs)
		assert.Equal(t, []call{{method: "deleteBatch", ids: []string{"scan-1"}}}, fb.Calls())
		assert.Equal(t, []string{"m"}, storeIDs(s))
	})

	t.Run("unfinished child blocks the batch", func(t *testing.T) {
		s := seededSyncer(batched("b1", models.JobStatusCompleted), batched("b2", models.JobStatusProcessing))
		fb := &fakeBackend{ok: true}
		op := NewOperator(s, WithBackend(fb))

		res, err := op.DeleteBatch(context.Background(), "scan-1")
		require.ErrorIs(t, err, ErrBatchUnfinished)
		assert.Equal(t, []string{"b2"}, res.Skipped)
		assert.Empty(t, fb.Calls())
		assert.Equal(t, []string{"b1", "b2"}, storeIDs(s))
		assert.Equal(t, "Batch scan-1 still has unfinished jobs", s.Error().Message)
	})

	t.Run("unknown batch", func(t *testing.T) {
		s := seededSyncer(job("m", models.JobStatusCompleted))
		op := NewOperator(s, WithBackend(&fakeBackend{ok: true}))

		_, err := op.DeleteBatch(context.Background(), "scan-9")
		require.ErrorIs(t, err, ErrUnknownBatch)
	})

	t.Run("transport error rolls back", func(t *testing.T) {
		s := seededSyncer(batched("b1", models.JobStatusCompleted), job("m", models.JobStatusQueued), batched("b2", models.JobStatusFailed))
		op := NewOperator(s, WithBackend(&fakeBackend{err: errors.New("connection reset")}))

		_, err := op.DeleteBatch(context.Background(), "scan-1")
		require.Error(t, err)
		assert.Equal(t, []string{"b1", "m", "b2"}, storeIDs(s))
		assert.Equal(t, "Failed to delete 2 job(s): connection reset", s.Error().Message)
	})
}
