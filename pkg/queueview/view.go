// Package queueview is the reactive front of the queue engine. A View owns
// the synced job store, the selection, the filter and the sort settings,
// and derives the filtered and ordered job lists from them on demand.
//
// Lock order: View.mu, then the syncer, then the orchestrator. Methods that
// reach the backend never hold View.mu while waiting on it.
package queueview

import (
	"context"
	"slices"
	"sync"

	"github.com/psantana5/ffqueue/pkg/backend"
	"github.com/psantana5/ffqueue/pkg/bulk"
	"github.com/psantana5/ffqueue/pkg/comparator"
	"github.com/psantana5/ffqueue/pkg/filter"
	"github.com/psantana5/ffqueue/pkg/logging"
	"github.com/psantana5/ffqueue/pkg/messages"
	"github.com/psantana5/ffqueue/pkg/metrics"
	"github.com/psantana5/ffqueue/pkg/models"
	"github.com/psantana5/ffqueue/pkg/ordering"
	"github.com/psantana5/ffqueue/pkg/queuesync"
	"github.com/psantana5/ffqueue/pkg/tracing"
)

// Change tells listeners which derived data may be stale
type Change uint8

const (
	ChangeJobs Change = 1 << iota
	ChangeOrder
	ChangeSelection
	ChangeFilter
)

// Has reports whether c includes other
func (c Change) Has(other Change) bool { return c&other != 0 }

// Stats aggregates the queue for status displays
type Stats struct {
	Total     int            `json:"total" yaml:"total"`
	Filtered  int            `json:"filtered" yaml:"filtered"`
	Selected  int            `json:"selected" yaml:"selected"`
	Completed int            `json:"completedSinceStart" yaml:"completedSinceStart"`
	ByStatus  map[string]int `json:"byStatus" yaml:"byStatus"`
	SortState string         `json:"sortState" yaml:"sortState"`
	Error     string         `json:"error,omitempty" yaml:"error,omitempty"`
}

// View is the queue as the user sees it
type View struct {
	syncer     *queuesync.Syncer
	op         *bulk.Operator
	orch       *ordering.Orchestrator
	revisions  *bulk.RevisionTracker
	subscriber backend.Subscriber
	cfg        Config
	logger     *logging.Logger
	metrics    *metrics.Recorder
	tracer     *tracing.Provider
	tr         *messages.Translator
	onComplete func(*models.Job)

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	selection     *bulk.Selection
	compiler      *filter.Compiler
	query         filter.Query
	pred          *filter.Predicate
	filterWarning string
	sortCfg       comparator.SortConfig
	queueMode     bool
	configGen     uint64
	completed     int
	listeners     []func(Change)

	// derived state, recomputed on read when its inputs moved
	filteredValid   bool
	filteredContent uint64
	filteredGen     uint64
	filtered        []*models.Job
	filteredIDs     map[string]struct{}

	orderRev       uint64
	seenStructural uint64
	seenGen        uint64
	haveOrder      bool
	seenVolatile   uint64
	haveVolatile   bool
	ordered        []*models.Job
	partial        []*models.Job
	sorting        bool
}

// New creates a view. Without a backend every command changes local state
// only; without a subscriber Run returns immediately after the first load.
func New(cfg Config, opts ...Option) *View {
	cfg.defaults()
	v := &View{
		cfg:       cfg,
		logger:    logging.Discard(),
		tr:        messages.New("en"),
		revisions: bulk.NewRevisionTracker(),
		selection: bulk.NewSelection(),
		compiler:  filter.NewCompiler(),
		sortCfg:   cfg.Sort,
		queueMode: cfg.QueueMode,
	}
	var b backend.Backend
	for _, opt := range opts {
		opt(v, &b)
	}
	v.ctx, v.cancel = context.WithCancel(context.Background())
	v.pred = v.compiler.Compile(v.query)

	syncOpts := []queuesync.Option{
		queuesync.WithLogger(v.logger),
		queuesync.WithMetrics(v.metrics),
		queuesync.WithTranslator(v.tr),
		queuesync.WithCompletionHandler(v.jobCompleted),
	}
	opOpts := []bulk.Option{
		bulk.WithLogger(v.logger),
		bulk.WithMetrics(v.metrics),
		bulk.WithTracer(v.tracer),
		bulk.WithRevisionWaitTimeout(cfg.RevisionWaitTimeout),
	}
	if b != nil {
		syncOpts = append(syncOpts, queuesync.WithLoader(b))
		opOpts = append(opOpts, bulk.WithBackend(b))
	}
	if v.subscriber != nil {
		opOpts = append(opOpts, bulk.WithRevisionTracker(v.revisions))
	}

	v.syncer = queuesync.New(syncOpts...)
	v.op = bulk.NewOperator(v.syncer, opOpts...)
	v.orch = ordering.New(cfg.Ordering,
		ordering.WithLogger(v.logger),
		ordering.WithMetrics(v.metrics),
		ordering.WithPartialHandler(v.sortProgress),
	)
	v.syncer.Subscribe(v.storeChanged)
	return v
}

// Close stops background sorting
func (v *View) Close() {
	v.cancel()
	v.orch.Close()
}

// Syncer exposes the underlying state sync, mainly for tests and tools
func (v *View) Syncer() *queuesync.Syncer { return v.syncer }

// Operator exposes the command runner
func (v *View) Operator() *bulk.Operator { return v.op }

// Subscribe registers fn for change notifications. fn runs on the goroutine
// that caused the change and must not block.
func (v *View) Subscribe(fn func(Change)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.listeners = append(v.listeners, fn)
}

func (v *View) emit(c Change) {
	v.mu.Lock()
	listeners := slices.Clone(v.listeners)
	v.mu.Unlock()
	for _, fn := range listeners {
		fn(c)
	}
}

func (v *View) jobCompleted(j *models.Job) {
	v.mu.Lock()
	v.completed++
	fn := v.onComplete
	v.mu.Unlock()
	if fn != nil {
		fn(j)
	}
}

// storeChanged prunes the selection of vanished jobs and fans the change out
func (v *View) storeChanged(ev queuesync.Event) {
	c := ChangeJobs
	if ev.Change.Has(queuesync.ChangeStructural) || ev.Change.Has(queuesync.ChangeVolatile) {
		c |= ChangeOrder
	}
	if ev.Change.Has(queuesync.ChangeStructural) {
		v.mu.Lock()
		removed := 0
		v.syncer.Read(func(rv queuesync.ReadView) {
			removed = v.selection.Retain(func(id string) bool {
				_, ok := rv.Store.Get(id)
				return ok
			})
		})
		v.mu.Unlock()
		if removed > 0 {
			c |= ChangeSelection
		}
		v.metrics.SetJobCounts(v.syncer.StatusCounts())
	}
	v.emit(c)
}

// sortProgress receives background sort results
func (v *View) sortProgress(res ordering.Result) {
	v.mu.Lock()
	if !v.orch.IsCurrent(res.Token) {
		v.mu.Unlock()
		return
	}
	if res.Done {
		v.ordered = res.Jobs
		v.partial = nil
		v.sorting = false
	} else {
		v.partial = res.Jobs
	}
	v.mu.Unlock()
	v.emit(ChangeOrder)
}

// refreshFilteredLocked recomputes the filtered set when the store or the
// filter moved
func (v *View) refreshFilteredLocked(rv queuesync.ReadView) {
	content := rv.Revisions.Content
	if v.filteredValid && v.filteredContent == content && v.filteredGen == v.configGen {
		return
	}
	jobs := rv.Store.Jobs()
	filtered := make([]*models.Job, 0, len(jobs))
	ids := make(map[string]struct{}, len(jobs))
	for _, j := range jobs {
		if v.pred.Match(j) {
			filtered = append(filtered, j)
			ids[j.ID] = struct{}{}
		}
	}
	v.filtered, v.filteredIDs = filtered, ids
	v.filteredValid, v.filteredContent, v.filteredGen = true, content, v.configGen
}

// refreshOrderLocked brings the ordering up to date through the
// orchestrator, which decides between skipping, an incremental patch and a
// full sort
func (v *View) refreshOrderLocked(rv queuesync.ReadView) {
	v.refreshFilteredLocked(rv)

	rev := rv.Revisions
	if !v.haveOrder || rev.Structural != v.seenStructural || v.configGen != v.seenGen {
		v.orderRev++
		v.haveOrder, v.seenStructural, v.seenGen = true, rev.Structural, v.configGen
	}

	var dirty []string
	if v.haveVolatile {
		for _, id := range rv.DirtySince(v.seenVolatile) {
			if _, ok := v.filteredIDs[id]; ok {
				dirty = append(dirty, id)
			}
		}
	}
	orderRev, volatile := v.orderRev, rev.Volatile
	res := v.orch.Update(v.ctx, ordering.Input{
		Jobs:               v.filtered,
		Sort:               v.sortCfg,
		QueueMode:          v.queueMode,
		StructuralRevision: &orderRev,
		VolatileRevision:   &volatile,
		DirtyIDs:           dirty,
	})
	v.seenVolatile, v.haveVolatile = volatile, true

	switch {
	case res.Done:
		v.ordered = res.Jobs
		v.partial = nil
		v.sorting = false
	case res.Strategy == ordering.StrategyProgressive:
		v.partial = nil
		v.sorting = true
	}
}

// displayLocked is the sorted prefix followed by the jobs the running sort
// has not placed yet
func (v *View) displayLocked() []*models.Job {
	if !v.sorting {
		return v.ordered
	}
	out := make([]*models.Job, 0, len(v.filtered))
	placed := make(map[string]struct{}, len(v.partial))
	for _, j := range v.partial {
		if _, ok := v.filteredIDs[j.ID]; ok {
			out = append(out, j)
			placed[j.ID] = struct{}{}
		}
	}
	for _, j := range v.filtered {
		if _, ok := placed[j.ID]; !ok {
			out = append(out, j)
		}
	}
	return out
}

func cloneAll(jobs []*models.Job) []*models.Job {
	out := make([]*models.Job, len(jobs))
	for i, j := range jobs {
		out[i] = j.Clone()
	}
	return out
}

// read runs fn with the view and syncer locks held and derived state fresh
func (v *View) read(order bool, fn func(rv queuesync.ReadView)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.syncer.Read(func(rv queuesync.ReadView) {
		if order {
			v.refreshOrderLocked(rv)
		} else {
			v.refreshFilteredLocked(rv)
		}
		fn(rv)
	})
}

// FilteredJobs returns copies of the jobs passing the filter, in backend
// listing order
func (v *View) FilteredJobs() []*models.Job {
	var out []*models.Job
	v.read(false, func(queuesync.ReadView) { out = cloneAll(v.filtered) })
	return out
}

// DisplayOrderedJobs returns copies of the filtered jobs in display order.
// While a large list is still being sorted the sorted prefix comes first.
func (v *View) DisplayOrderedJobs() []*models.Job {
	var out []*models.Job
	v.read(true, func(queuesync.ReadView) { out = cloneAll(v.displayLocked()) })
	return out
}

// ManualQueueJobs is the display order without jobs that belong to a batch
func (v *View) ManualQueueJobs() []*models.Job {
	var out []*models.Job
	v.read(true, func(queuesync.ReadView) {
		for _, j := range v.displayLocked() {
			if j.BatchID == "" {
				out = append(out, j.Clone())
			}
		}
	})
	return out
}

// ProcessingJobs returns running jobs that pass the filter with the status
// toggles ignored, so live work stays visible
func (v *View) ProcessingJobs() []*models.Job {
	var out []*models.Job
	v.read(false, func(rv queuesync.ReadView) {
		for _, j := range rv.Store.Jobs() {
			if models.IsActive(j.Status) && v.pred.MatchIgnoringStatus(j) {
				out = append(out, j)
			}
		}
		slices.SortFunc(out, comparator.Func(v.sortCfg))
		out = cloneAll(out)
	})
	return out
}

// WaitingJobs returns filtered queued and paused jobs, manual queue order
// first
func (v *View) WaitingJobs() []*models.Job {
	var out []*models.Job
	v.read(false, func(queuesync.ReadView) {
		for _, j := range v.filtered {
			if models.IsWaitingGroup(j.Status) {
				out = append(out, j)
			}
		}
		slices.SortFunc(out, comparator.WaitingGroupFunc(v.sortCfg))
		out = cloneAll(out)
	})
	return out
}

// SortState reports the orchestrator state
func (v *View) SortState() ordering.State {
	return v.orch.State()
}

// WaitForSort blocks until any background sort has published
func (v *View) WaitForSort() {
	v.orch.Wait()
}

// Stats returns aggregate counts
func (v *View) Stats() Stats {
	st := Stats{ByStatus: v.syncer.StatusCounts(), SortState: v.orch.State().String()}
	v.read(false, func(rv queuesync.ReadView) {
		st.Total = rv.Store.Len()
		st.Filtered = len(v.filtered)
		st.Selected = v.selection.Len()
		st.Completed = v.completed
	})
	st.Error = v.syncer.Error().Message
	return st
}

// Error returns the current user-visible error, empty when healthy
func (v *View) Error() string {
	return v.syncer.Error().Message
}
