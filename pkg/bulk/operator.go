package bulk

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/psantana5/ffqueue/pkg/backend"
	"github.com/psantana5/ffqueue/pkg/comparator"
	"github.com/psantana5/ffqueue/pkg/logging"
	"github.com/psantana5/ffqueue/pkg/messages"
	"github.com/psantana5/ffqueue/pkg/metrics"
	"github.com/psantana5/ffqueue/pkg/models"
	"github.com/psantana5/ffqueue/pkg/queuesync"
	"github.com/psantana5/ffqueue/pkg/tracing"
)

// ErrNoBackend is returned by operations that cannot run locally
var ErrNoBackend = errors.New("no backend connected")

// DefaultRevisionWaitTimeout bounds the wait for the backend to announce the
// state change caused by a command
const DefaultRevisionWaitTimeout = 1500 * time.Millisecond

var failureMessages = map[backend.Action]messages.Key{
	backend.ActionWait:    messages.WaitFailed,
	backend.ActionResume:  messages.ResumeFailed,
	backend.ActionRestart: messages.RestartFailed,
	backend.ActionCancel:  messages.CancelFailed,
	backend.ActionDelete:  messages.DeleteFailed,
}

// Eligible reports whether a job in status st can take action
func Eligible(action backend.Action, st models.JobStatus) bool {
	st = models.Normalize(st)
	switch action {
	case backend.ActionWait:
		return st == models.JobStatusProcessing || st == models.JobStatusQueued
	case backend.ActionResume:
		return st == models.JobStatusPaused
	case backend.ActionRestart:
		return st != models.JobStatusCompleted && st != models.JobStatusSkipped
	case backend.ActionCancel:
		return !models.IsTerminal(st)
	case backend.ActionDelete:
		return models.IsTerminal(st)
	}
	return false
}

// Result describes one command
type Result struct {
	Action backend.Action
	// IDs were eligible and sent to the backend, in call order
	IDs []string
	// Skipped were selected but not eligible (or unknown)
	Skipped []string
	// Local is true when no backend was involved
	Local bool
}

// prior is the state of a job before an optimistic transition
type prior struct {
	id          string
	status      models.JobStatus
	progress    float64
	waitPending bool
	// removed is the slot taken out of the store by a delete
	removed *models.Job
}

// Operator runs commands against a synced queue
type Operator struct {
	syncer      *queuesync.Syncer
	backend     backend.Backend
	revisions   *RevisionTracker
	waitTimeout time.Duration
	logger      *logging.Logger
	metrics     *metrics.Recorder
	tracer      *tracing.Provider
}

// Option configures an Operator
type Option func(*Operator)

// WithBackend sets the backend; without one commands only change local state
func WithBackend(b backend.Backend) Option {
	return func(o *Operator) { o.backend = b }
}

// WithRevisionTracker lets successful commands wait for the next backend
// revision before refreshing
func WithRevisionTracker(t *RevisionTracker) Option {
	return func(o *Operator) { o.revisions = t }
}

// WithRevisionWaitTimeout bounds the revision wait
func WithRevisionWaitTimeout(d time.Duration) Option {
	return func(o *Operator) { o.waitTimeout = d }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(o *Operator) { o.logger = l }
}

// WithMetrics sets the metrics recorder
func WithMetrics(r *metrics.Recorder) Option {
	return func(o *Operator) { o.metrics = r }
}

// WithTracer sets the tracing provider
func WithTracer(p *tracing.Provider) Option {
	return func(o *Operator) { o.tracer = p }
}

// NewOperator creates an operator over s
func NewOperator(s *queuesync.Syncer, opts ...Option) *Operator {
	o := &Operator{
		syncer:      s,
		waitTimeout: DefaultRevisionWaitTimeout,
		logger:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// HasBackend reports whether commands reach a backend
func (o *Operator) HasBackend() bool { return o.backend != nil }

// Wait pauses ids: queued jobs pause at once, processing jobs pause
// cooperatively and are tracked as pause-pending
func (o *Operator) Wait(ctx context.Context, ids []string) (Result, error) {
	return o.run(ctx, backend.ActionWait, ids, false)
}

// Resume requeues paused ids in queue order
func (o *Operator) Resume(ctx context.Context, ids []string) (Result, error) {
	return o.run(ctx, backend.ActionResume, ids, false)
}

// Restart requeues ids from scratch in queue order
func (o *Operator) Restart(ctx context.Context, ids []string) (Result, error) {
	return o.run(ctx, backend.ActionRestart, ids, false)
}

// Cancel cancels ids
func (o *Operator) Cancel(ctx context.Context, ids []string) (Result, error) {
	return o.run(ctx, backend.ActionCancel, ids, false)
}

// Delete removes finished ids from the queue for good
func (o *Operator) Delete(ctx context.Context, ids []string) (Result, error) {
	return o.run(ctx, backend.ActionDelete, ids, false)
}

// Apply runs action over ids with one bulk call
func (o *Operator) Apply(ctx context.Context, action backend.Action, ids []string) (Result, error) {
	return o.run(ctx, action, ids, false)
}

// ApplyOne runs action on a single job through the single-job command
func (o *Operator) ApplyOne(ctx context.Context, action backend.Action, id string) (Result, error) {
	return o.run(ctx, action, []string{id}, true)
}

func (o *Operator) run(ctx context.Context, action backend.Action, ids []string, single bool) (Result, error) {
	ctx, span := o.tracer.StartSpan(ctx, "bulk."+string(action),
		attribute.String("bulk.action", string(action)),
		attribute.Int("bulk.requested", len(ids)),
	)
	defer span.End()

	res := Result{Action: action, Local: o.backend == nil}
	seq := o.syncer.BeginOp()
	var before uint64
	if o.revisions != nil {
		before = o.revisions.Latest()
	}

	var priors []prior
	var pausing []string
	var order []string
	o.syncer.Mutate(func(st *queuesync.Store) queuesync.Change {
		var eligible []*models.Job
		seen := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			j, ok := st.Get(id)
			if !ok || !Eligible(action, j.Status) {
				res.Skipped = append(res.Skipped, id)
				continue
			}
			eligible = append(eligible, j)
			res.IDs = append(res.IDs, id)
		}
		if action == backend.ActionResume || action == backend.ActionRestart {
			slices.SortStableFunc(eligible, func(a, b *models.Job) int {
				return comparator.CompareKeys(
					comparator.ValueOf(a, comparator.FieldQueueOrder),
					comparator.ValueOf(b, comparator.FieldQueueOrder),
					comparator.Asc)
			})
			for i, j := range eligible {
				res.IDs[i] = j.ID
			}
		}

		if action == backend.ActionDelete && len(eligible) > 0 {
			order = st.IDs()
		}
		for _, j := range eligible {
			p := prior{id: j.ID, status: j.Status, progress: j.Progress, waitPending: j.WaitRequestPending}
			if action == backend.ActionWait && models.IsActive(j.Status) {
				pausing = append(pausing, j.ID)
			}
			if action == backend.ActionDelete {
				p.removed = j
				st.Remove(j.ID)
			} else {
				transition(action, j)
			}
			priors = append(priors, p)
		}
		if len(eligible) == 0 {
			return 0
		}
		return queuesync.ChangeStructural
	})
	span.SetAttributes(attribute.Int("bulk.eligible", len(res.IDs)))

	if len(res.IDs) == 0 {
		o.logger.Debug("no eligible jobs for action", map[string]interface{}{"action": string(action), "requested": len(ids)})
		return res, nil
	}
	o.syncer.MarkPausePending(pausing)

	if o.backend == nil {
		o.syncer.ClearError(seq)
		o.metrics.CountBulk(string(action), "local")
		return res, nil
	}

	var ok bool
	var err error
	if single {
		ok, err = backend.Single(ctx, o.backend, action, res.IDs[0])
	} else {
		ok, err = backend.Bulk(ctx, o.backend, action, res.IDs)
	}
	if err == nil && !ok {
		err = backend.ErrRejected
	}
	if err != nil {
		o.rollback(priors, pausing, order)
		o.syncer.SetError(seq, o.syncer.Translator().Sprintf(failureMessages[action], len(res.IDs), o.describe(err)), err)
		tracing.SetError(ctx, err)
		fields := map[string]interface{}{"action": string(action), "ids": res.IDs, "error": err.Error()}
		if errors.Is(err, backend.ErrRejected) {
			o.logger.Warn("backend rejected command, rolled back", fields)
			o.metrics.CountBulk(string(action), "rejected")
		} else {
			o.logger.Error("command failed, rolled back", fields)
			o.metrics.CountBulk(string(action), "error")
		}
		return res, fmt.Errorf("%s %d job(s): %w", action, len(res.IDs), err)
	}

	o.syncer.ClearError(seq)
	o.metrics.CountBulk(string(action), "ok")
	o.settle(ctx, before)
	return res, nil
}

// transition applies the optimistic local effect of action
func transition(action backend.Action, j *models.Job) {
	switch action {
	case backend.ActionWait:
		if models.IsActive(j.Status) {
			j.WaitRequestPending = true
		}
		j.Status = models.JobStatusPaused
	case backend.ActionResume:
		j.Status = models.JobStatusQueued
	case backend.ActionRestart:
		j.Status = models.JobStatusQueued
		j.Progress = 0
		j.WaitRequestPending = false
	case backend.ActionCancel:
		j.Status = models.JobStatusCancelled
		j.WaitRequestPending = false
	}
}

// rollback restores every job touched by the optimistic update. Jobs that
// disappeared meanwhile are left alone; deleted jobs go back to their old
// position when order is set.
func (o *Operator) rollback(priors []prior, pausing []string, order []string) {
	o.syncer.ClearPausePending(pausing)
	o.syncer.Mutate(func(st *queuesync.Store) queuesync.Change {
		var c queuesync.Change
		for _, p := range priors {
			if p.removed != nil {
				if st.Insert(p.removed) {
					c = queuesync.ChangeStructural
				}
				continue
			}
			j, ok := st.Get(p.id)
			if !ok {
				continue
			}
			j.Status = p.status
			j.Progress = p.progress
			j.WaitRequestPending = p.waitPending
			c = queuesync.ChangeStructural
		}
		if order != nil {
			st.SetOrder(order)
		}
		return c
	})
}

func (o *Operator) describe(err error) string {
	if errors.Is(err, backend.ErrRejected) {
		return o.syncer.Translator().Sprintf(messages.CommandRejected)
	}
	return err.Error()
}

// settle waits briefly for the backend to announce a newer revision, then
// refreshes without overwriting the command's own error state
func (o *Operator) settle(ctx context.Context, before uint64) {
	if o.revisions != nil && o.waitTimeout > 0 {
		wctx, cancel := context.WithTimeout(ctx, o.waitTimeout)
		if !o.revisions.Wait(wctx, before) {
			o.logger.Debug("no revision announced before timeout, refreshing anyway", map[string]interface{}{"after": before})
		}
		cancel()
	}
	if o.syncer.HasLoader() {
		if err := o.syncer.Refresh(ctx, queuesync.RefreshOptions{PreserveError: true}); err != nil {
			o.logger.Debug("refresh after command failed", map[string]interface{}{"error": err.Error()})
		}
	}
}
