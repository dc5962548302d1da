package queueview_test

import (
	"context"
	"fmt"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/ffqueue/internal/fakemaster"
	"github.com/psantana5/ffqueue/pkg/backend"
	"github.com/psantana5/ffqueue/pkg/bulk"
	"github.com/psantana5/ffqueue/pkg/comparator"
	"github.com/psantana5/ffqueue/pkg/filter"
	"github.com/psantana5/ffqueue/pkg/models"
	"github.com/psantana5/ffqueue/pkg/ordering"
	"github.com/psantana5/ffqueue/pkg/queueview"
	"github.com/psantana5/ffqueue/pkg/retry"
)

func job(id, name string, st models.JobStatus) *models.Job {
	return &models.Job{ID: id, Filename: name, Status: st, Source: models.JobSourceManual}
}

func ids(jobs []*models.Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}

var byName = comparator.SortConfig{Primary: comparator.FieldFilename, PrimaryDirection: comparator.Asc}

func localView(t *testing.T, cfg queueview.Config, jobs ...*models.Job) *queueview.View {
	t.Helper()
	v := queueview.New(cfg)
	t.Cleanup(v.Close)
	v.Syncer().ApplySnapshot(&models.QueueSnapshot{SnapshotRevision: 1, Jobs: jobs})
	return v
}

func syncConfig() queueview.Config {
	cfg := queueview.DefaultConfig()
	cfg.Sort = byName
	cfg.Ordering.Synchronous = true
	return cfg
}

func TestDisplayOrder_FilterAndSort(t *testing.T) {
	v := localView(t, syncConfig(),
		job("3", "charlie.mkv", models.JobStatusQueued),
		job("1", "alpha.mkv", models.JobStatusCompleted),
		job("2", "bravo.mp4", models.JobStatusProcessing),
	)

	assert.Equal(t, []string{"1", "2", "3"}, ids(v.DisplayOrderedJobs()))
	assert.Equal(t, []string{"3", "1", "2"}, ids(v.FilteredJobs()), "listing order is kept")

	v.SetQuery(filter.Query{Text: "mkv"})
	assert.True(t, v.HasActiveFilters())
	assert.Equal(t, []string{"1", "3"}, ids(v.DisplayOrderedJobs()))

	v.SetSort(comparator.SortConfig{Primary: comparator.FieldFilename, PrimaryDirection: comparator.Desc})
	assert.Equal(t, []string{"3", "1"}, ids(v.DisplayOrderedJobs()))

	v.SetQuery(filter.Query{})
	assert.False(t, v.HasActiveFilters())
	assert.Equal(t, []string{"3", "2", "1"}, ids(v.DisplayOrderedJobs()))
}

func TestDisplayOrder_ReturnsCopies(t *testing.T) {
	v := localView(t, syncConfig(), job("a", "a.mkv", models.JobStatusQueued))

	got := v.DisplayOrderedJobs()
	got[0].Status = models.JobStatusFailed

	assert.Equal(t, models.JobStatusQueued, v.FilteredJobs()[0].Status)
}

func TestProcessingJobs_IgnoreStatusFilter(t *testing.T) {
	v := localView(t, syncConfig(),
		job("q", "queued.mkv", models.JobStatusQueued),
		job("p", "running.mkv", models.JobStatusProcessing),
		job("x", "other.mp4", models.JobStatusProcessing),
	)
	v.SetQuery(filter.Query{Text: "mkv", Statuses: []models.JobStatus{models.JobStatusQueued}})

	assert.Equal(t, []string{"q"}, ids(v.FilteredJobs()))
	assert.Equal(t, []string{"p"}, ids(v.ProcessingJobs()), "text filter still applies")
}

func TestWaitingAndManualQueueJobs(t *testing.T) {
	b := job("b", "b.mkv", models.JobStatusQueued)
	b.QueueOrder = models.Int64(0)
	a := job("a", "a.mkv", models.JobStatusPaused)
	a.QueueOrder = models.Int64(1)
	batched := job("batch", "c.mkv", models.JobStatusQueued)
	batched.BatchID = "scan-1"

	v := localView(t, syncConfig(), a, b, batched, job("r", "r.mkv", models.JobStatusProcessing))

	assert.Equal(t, []string{"b", "a", "batch"}, ids(v.WaitingJobs()))
	assert.Equal(t, []string{"a", "b", "r"}, ids(v.ManualQueueJobs()))
	assert.Equal(t, []string{"b", "a"}, v.WaitingQueueIDs())

	v.SetQueueMode(true)
	assert.True(t, v.QueueMode())
	assert.Equal(t, "r", v.DisplayOrderedJobs()[0].ID, "processing jobs lead in queue mode")
}

func TestInvalidRegexKeepsLastValidPattern(t *testing.T) {
	v := localView(t, syncConfig(),
		job("a", "alpha.mkv", models.JobStatusQueued),
		job("b", "bravo.mkv", models.JobStatusQueued),
	)

	v.SetQuery(filter.Query{Text: "^al", RegexMode: true})
	assert.Empty(t, v.FilterWarning())
	assert.Equal(t, []string{"a"}, ids(v.FilteredJobs()))

	v.SetQuery(filter.Query{Text: "([", RegexMode: true})
	assert.Contains(t, v.FilterWarning(), "Invalid filter pattern")
	assert.Equal(t, []string{"a"}, ids(v.FilteredJobs()))
}

func TestVolatileDeltaReorders(t *testing.T) {
	cfg := syncConfig()
	cfg.Sort = comparator.SortConfig{Primary: comparator.FieldProgress, PrimaryDirection: comparator.Desc}
	a := job("a", "a.mkv", models.JobStatusProcessing)
	a.Progress = 50
	b := job("b", "b.mkv", models.JobStatusProcessing)
	b.Progress = 10
	v := localView(t, cfg, a, b)
	require.Equal(t, []string{"a", "b"}, ids(v.DisplayOrderedJobs()))

	_, err := v.Syncer().ApplyDelta(&models.QueueDelta{
		BaseSnapshotRevision: 1,
		DeltaRevision:        1,
		Patches:              []models.JobPatch{{ID: "b", Progress: models.Float64(90)}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "a"}, ids(v.DisplayOrderedJobs()))
	assert.Equal(t, ordering.StateIncrementallyPatched, v.SortState())
}

func TestProgressiveSort_ShowsEveryJob(t *testing.T) {
	cfg := queueview.DefaultConfig()
	cfg.Sort = byName
	cfg.Ordering.LargeQueueThreshold = 10
	cfg.Ordering.ChunkSize = 8
	cfg.Ordering.InitialBatchSize = 4
	cfg.Ordering.YieldEveryItems = 8

	var jobs []*models.Job
	for i := 99; i >= 0; i-- {
		jobs = append(jobs, job(fmt.Sprintf("j%02d", i), fmt.Sprintf("f%02d.mkv", i), models.JobStatusQueued))
	}
	v := localView(t, cfg, jobs...)

	var orderChanges atomic.Int32
	v.Subscribe(func(c queueview.Change) {
		if c.Has(queueview.ChangeOrder) {
			orderChanges.Add(1)
		}
	})

	first := v.DisplayOrderedJobs()
	assert.Len(t, first, 100, "unsorted tail is still listed")

	v.WaitForSort()
	got := ids(v.DisplayOrderedJobs())
	require.Len(t, got, 100)
	assert.Equal(t, "j00", got[0])
	assert.Equal(t, "j99", got[99])
	assert.Positive(t, orderChanges.Load())
}

func TestSelection(t *testing.T) {
	v := localView(t, syncConfig(),
		job("a", "a.mkv", models.JobStatusQueued),
		job("b", "b.mkv", models.JobStatusQueued),
		job("c", "c.mp4", models.JobStatusQueued),
	)

	var changes atomic.Int32
	v.Subscribe(func(c queueview.Change) {
		if c.Has(queueview.ChangeSelection) {
			changes.Add(1)
		}
	})

	assert.False(t, v.HasSelection())
	v.SetQuery(filter.Query{Text: "mkv"})
	v.SelectAllVisible()
	assert.Equal(t, []string{"a", "b"}, v.SelectedIDs())
	v.Toggle("c")
	v.Deselect("a")
	assert.Equal(t, []string{"b", "c"}, v.SelectedIDs())

	// jobs that vanish from the backend leave the selection
	v.Syncer().ApplySnapshot(&models.QueueSnapshot{SnapshotRevision: 2, Jobs: []*models.Job{
		job("a", "a.mkv", models.JobStatusQueued),
		job("c", "c.mp4", models.JobStatusQueued),
	}})
	assert.Equal(t, []string{"c"}, v.SelectedIDs())
	assert.GreaterOrEqual(t, changes.Load(), int32(4))

	v.ClearSelection()
	assert.False(t, v.HasSelection())
}

func TestLocalCommands(t *testing.T) {
	v := localView(t, syncConfig(),
		job("a", "a.mkv", models.JobStatusQueued),
		job("b", "b.mkv", models.JobStatusCompleted),
	)
	ctx := context.Background()

	v.Select("a", "b")
	res, err := v.WaitSelected(ctx)
	require.NoError(t, err)
	assert.True(t, res.Local)
	assert.Equal(t, []string{"a"}, res.IDs)
	assert.Equal(t, []string{"b"}, res.Skipped)

	res, err = v.ResumeSelected(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, res.IDs)

	_, err = v.ApplyTo(ctx, backend.ActionCancel, "a")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, v.FilteredJobs()[0].Status)

	_, err = v.Enqueue(ctx, models.EnqueueRequest{InputPath: "/x.mkv"})
	assert.Error(t, err)

	st := v.Stats()
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 2, st.Selected)
	assert.Equal(t, 1, st.ByStatus[string(models.JobStatusCancelled)])
}

func TestRun_AgainstFakeMaster(t *testing.T) {
	q := fakemaster.NewQueue()
	q.Seed(
		job("run", "run.mkv", models.JobStatusProcessing),
		job("a", "a.mkv", models.JobStatusQueued),
		job("b", "b.mkv", models.JobStatusQueued),
	)
	srv := fakemaster.NewServer(q)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(srv.Close)

	client := backend.NewClient(ts.URL, "",
		backend.WithRetry(retry.Config{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1}),
		backend.WithReconnectDelay(10*time.Millisecond),
	)

	var completed atomic.Int32
	cfg := syncConfig()
	cfg.RevisionWaitTimeout = 200 * time.Millisecond
	cfg.RefreshRate = 100
	v := queueview.New(cfg,
		queueview.WithBackend(client),
		queueview.WithSubscriber(client),
		queueview.WithCompletionHandler(func(*models.Job) { completed.Add(1) }),
	)
	t.Cleanup(v.Close)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- v.Run(ctx) }()

	require.Eventually(t, func() bool { return len(v.FilteredJobs()) == 3 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return srv.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	v.Select("b", "a")
	res, err := v.WaitSelected(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, res.IDs)
	remote, _ := q.Get("a")
	assert.Equal(t, models.JobStatusPaused, remote.Status)

	require.NoError(t, srv.PublishProgress("run", 42, 1000))
	require.Eventually(t, func() bool {
		p := v.ProcessingJobs()
		return len(p) == 1 && p[0].Progress == 42
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, srv.SetStatus("run", models.JobStatusCompleted))
	require.Eventually(t, func() bool { return completed.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, v.Stats().Completed)

	srv.Reject(true)
	_, err = v.ResumeSelected(ctx)
	require.Error(t, err)
	assert.Contains(t, v.Error(), "Failed to resume 2 job(s)")
	local := v.FilteredJobs()
	for _, j := range local {
		if j.ID == "a" || j.ID == "b" {
			assert.Equal(t, models.JobStatusPaused, j.Status, "rolled back")
		}
	}

	cancel()
	select {
	case err := <-runDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestDelete_AgainstFakeMaster(t *testing.T) {
	scan := func(id string, st models.JobStatus) *models.Job {
		j := job(id, id+".mkv", st)
		j.BatchID = "scan-1"
		return j
	}
	q := fakemaster.NewQueue()
	q.Seed(
		job("done", "done.mkv", models.JobStatusCompleted),
		job("next", "next.mkv", models.JobStatusQueued),
		scan("s1", models.JobStatusCompleted),
		scan("s2", models.JobStatusProcessing),
	)
	srv := fakemaster.NewServer(q)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(srv.Close)

	v := queueview.New(syncConfig(), queueview.WithBackend(backend.NewClient(ts.URL, "")))
	t.Cleanup(v.Close)
	ctx := context.Background()
	require.NoError(t, v.Refresh(ctx))

	v.Select("done", "next")
	res, err := v.DeleteSelected(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"done"}, res.IDs)
	assert.Equal(t, []string{"next"}, res.Skipped)
	assert.Equal(t, []string{"next"}, v.SelectedIDs())
	_, ok := q.Get("done")
	assert.False(t, ok, "master dropped the job")
	assert.Len(t, v.FilteredJobs(), 3)

	_, err = v.DeleteBatch(ctx, "scan-1")
	require.ErrorIs(t, err, bulk.ErrBatchUnfinished)
	assert.Len(t, v.FilteredJobs(), 3)

	require.NoError(t, q.SetStatus("s2", models.JobStatusFailed))
	require.NoError(t, v.Refresh(ctx))
	res, err = v.DeleteBatch(ctx, "scan-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, res.IDs)
	assert.Empty(t, v.Error())
	assert.Equal(t, []string{"next"}, ids(v.FilteredJobs()))
}
