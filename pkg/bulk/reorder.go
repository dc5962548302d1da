package bulk

import (
	"context"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"

	"github.com/psantana5/ffqueue/pkg/backend"
	"github.com/psantana5/ffqueue/pkg/comparator"
	"github.com/psantana5/ffqueue/pkg/messages"
	"github.com/psantana5/ffqueue/pkg/models"
	"github.com/psantana5/ffqueue/pkg/queuesync"
)

// WaitingQueueIDs returns the canonical order of the manual waiting queue:
// queued and paused jobs outside any batch, by queue order, then start
// time, then id
func WaitingQueueIDs(st *queuesync.Store) []string {
	var waiting []*models.Job
	for _, j := range st.Jobs() {
		if j.BatchID == "" && models.IsWaitingGroup(j.Status) {
			waiting = append(waiting, j)
		}
	}
	slices.SortFunc(waiting, comparator.TieBreak)
	ids := make([]string, len(waiting))
	for i, j := range waiting {
		ids[i] = j.ID
	}
	return ids
}

// BuildWaitingQueueIDs returns the canonical waiting queue order
func (o *Operator) BuildWaitingQueueIDs() []string {
	var ids []string
	o.syncer.Read(func(v queuesync.ReadView) { ids = WaitingQueueIDs(v.Store) })
	return ids
}

// ReorderWaitingQueue puts orderedIDs at the head of the waiting queue and
// keeps the rest in their previous relative order. With a backend the
// backend reorders and the queue is refreshed; without one the local
// queue order is rewritten.
func (o *Operator) ReorderWaitingQueue(ctx context.Context, orderedIDs []string) error {
	ctx, span := o.tracer.StartSpan(ctx, "bulk.reorder", attribute.Int("reorder.ids", len(orderedIDs)))
	defer span.End()
	seq := o.syncer.BeginOp()

	if o.backend == nil {
		o.syncer.Mutate(func(st *queuesync.Store) queuesync.Change {
			order := models.ReorderIDs(WaitingQueueIDs(st), orderedIDs)
			var c queuesync.Change
			for i, id := range order {
				j, _ := st.Get(id)
				if j.QueueOrder == nil || *j.QueueOrder != int64(i) {
					j.QueueOrder = models.Int64(int64(i))
					c = queuesync.ChangeStructural
				}
			}
			return c
		})
		o.syncer.ClearError(seq)
		o.metrics.CountBulk("reorder", "local")
		return nil
	}

	var before uint64
	if o.revisions != nil {
		before = o.revisions.Latest()
	}
	ok, err := o.backend.ReorderQueue(ctx, orderedIDs)
	if err == nil && !ok {
		err = backend.ErrRejected
	}
	if err != nil {
		o.syncer.SetError(seq, o.syncer.Translator().Sprintf(messages.ReorderFailed, o.describe(err)), err)
		o.logger.Warn("queue reorder failed", map[string]interface{}{"ids": orderedIDs, "error": err.Error()})
		o.metrics.CountBulk("reorder", "error")
		return fmt.Errorf("reorder queue: %w", err)
	}
	o.syncer.ClearError(seq)
	o.metrics.CountBulk("reorder", "ok")
	o.settle(ctx, before)
	return nil
}

// MoveToTop moves ids to the head of the waiting queue, keeping their
// current relative order
func (o *Operator) MoveToTop(ctx context.Context, ids []string) error {
	moved, rest := o.partition(ids)
	if len(moved) == 0 {
		return nil
	}
	return o.ReorderWaitingQueue(ctx, append(moved, rest...))
}

// MoveToBottom moves ids to the tail of the waiting queue
func (o *Operator) MoveToBottom(ctx context.Context, ids []string) error {
	moved, rest := o.partition(ids)
	if len(moved) == 0 {
		return nil
	}
	return o.ReorderWaitingQueue(ctx, append(rest, moved...))
}

// partition splits the waiting queue into the members of ids and the rest,
// both in queue order
func (o *Operator) partition(ids []string) (moved, rest []string) {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	for _, id := range o.BuildWaitingQueueIDs() {
		if _, ok := want[id]; ok {
			moved = append(moved, id)
		} else {
			rest = append(rest, id)
		}
	}
	return moved, rest
}

// Enqueue adds one job and refreshes
func (o *Operator) Enqueue(ctx context.Context, req models.EnqueueRequest) (*models.Job, error) {
	jobs, err := o.enqueue(ctx, []models.EnqueueRequest{req}, true)
	if err != nil {
		return nil, err
	}
	return jobs[0], nil
}

// EnqueueMany adds jobs in one request and refreshes
func (o *Operator) EnqueueMany(ctx context.Context, reqs []models.EnqueueRequest) ([]*models.Job, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	return o.enqueue(ctx, reqs, false)
}

func (o *Operator) enqueue(ctx context.Context, reqs []models.EnqueueRequest, single bool) ([]*models.Job, error) {
	if o.backend == nil {
		return nil, ErrNoBackend
	}
	ctx, span := o.tracer.StartSpan(ctx, "bulk.enqueue", attribute.Int("enqueue.jobs", len(reqs)))
	defer span.End()
	seq := o.syncer.BeginOp()

	var jobs []*models.Job
	var err error
	if single {
		var job *models.Job
		job, err = o.backend.EnqueueJob(ctx, reqs[0])
		jobs = []*models.Job{job}
	} else {
		jobs, err = o.backend.EnqueueJobs(ctx, reqs)
	}
	if err != nil {
		o.syncer.SetError(seq, o.syncer.Translator().Sprintf(messages.EnqueueFailed, len(reqs), err), err)
		o.logger.Error("enqueue failed", map[string]interface{}{"jobs": len(reqs), "error": err.Error()})
		o.metrics.CountBulk("enqueue", "error")
		return nil, err
	}
	o.syncer.ClearError(seq)
	o.metrics.CountBulk("enqueue", "ok")
	if o.syncer.HasLoader() {
		if err := o.syncer.Refresh(ctx, queuesync.RefreshOptions{PreserveError: true}); err != nil {
			o.logger.Debug("refresh after enqueue failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return jobs, nil
}
