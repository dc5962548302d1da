package bulk

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/psantana5/ffqueue/pkg/backend"
	"github.com/psantana5/ffqueue/pkg/messages"
	"github.com/psantana5/ffqueue/pkg/models"
	"github.com/psantana5/ffqueue/pkg/queuesync"
	"github.com/psantana5/ffqueue/pkg/tracing"
)

var (
	// ErrUnknownBatch is returned when no local job carries the batch id
	ErrUnknownBatch = errors.New("no jobs in batch")
	// ErrBatchUnfinished is returned while a batch still has running or
	// waiting jobs
	ErrBatchUnfinished = errors.New("batch has unfinished jobs")
)

// DeleteBatch removes every job of a batch scan with one backend call. The
// batch goes as a whole or not at all: while any child is unfinished nothing
// is sent and the unfinished ids are reported as skipped.
func (o *Operator) DeleteBatch(ctx context.Context, batchID string) (Result, error) {
	ctx, span := o.tracer.StartSpan(ctx, "bulk.delete_batch", attribute.String("bulk.batch", batchID))
	defer span.End()

	res := Result{Action: backend.ActionDelete, Local: o.backend == nil}
	seq := o.syncer.BeginOp()
	var before uint64
	if o.revisions != nil {
		before = o.revisions.Latest()
	}

	var priors []prior
	var order []string
	o.syncer.Mutate(func(st *queuesync.Store) queuesync.Change {
		var children []*models.Job
		for _, j := range st.Jobs() {
			if batchID == "" || j.BatchID != batchID {
				continue
			}
			if !models.IsTerminal(j.Status) {
				res.Skipped = append(res.Skipped, j.ID)
			}
			children = append(children, j)
		}
		if len(children) == 0 || len(res.Skipped) > 0 {
			return 0
		}

		order = st.IDs()
		for _, j := range children {
			priors = append(priors, prior{id: j.ID, status: j.Status, progress: j.Progress, removed: j})
			res.IDs = append(res.IDs, j.ID)
			st.Remove(j.ID)
		}
		return queuesync.ChangeStructural
	})

	switch {
	case len(res.Skipped) > 0:
		o.syncer.SetError(seq, o.syncer.Translator().Sprintf(messages.BatchNotDeletable, batchID), ErrBatchUnfinished)
		return res, fmt.Errorf("delete batch %s: %w", batchID, ErrBatchUnfinished)
	case len(res.IDs) == 0:
		return res, fmt.Errorf("delete batch %s: %w", batchID, ErrUnknownBatch)
	}
	span.SetAttributes(attribute.Int("bulk.eligible", len(res.IDs)))

	if o.backend == nil {
		o.syncer.ClearError(seq)
		o.metrics.CountBulk("delete_batch", "local")
		return res, nil
	}

	ok, err := o.backend.DeleteBatch(ctx, batchID)
	if err == nil && !ok {
		err = backend.ErrRejected
	}
	if err != nil {
		o.rollback(priors, nil, order)
		o.syncer.SetError(seq, o.syncer.Translator().Sprintf(messages.DeleteFailed, len(res.IDs), o.describe(err)), err)
		tracing.SetError(ctx, err)
		fields := map[string]interface{}{"batch": batchID, "jobs": len(res.IDs), "error": err.Error()}
		if errors.Is(err, backend.ErrRejected) {
			o.logger.Warn("backend rejected batch delete, rolled back", fields)
			o.metrics.CountBulk("delete_batch", "rejected")
		} else {
			o.logger.Error("batch delete failed, rolled back", fields)
			o.metrics.CountBulk("delete_batch", "error")
		}
		return res, fmt.Errorf("delete batch %s: %w", batchID, err)
	}

	o.syncer.ClearError(seq)
	o.metrics.CountBulk("delete_batch", "ok")
	o.settle(ctx, before)
	return res, nil
}
