// Package ordering decides how the visible job list is re-ordered when its
// inputs change: not at all, by a cheap incremental patch for volatile sort
// keys, by one synchronous sort, or progressively in the background for
// large queues.
package ordering

import (
	"context"
	"errors"
	"runtime"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/psantana5/ffqueue/pkg/comparator"
	"github.com/psantana5/ffqueue/pkg/logging"
	"github.com/psantana5/ffqueue/pkg/metrics"
	"github.com/psantana5/ffqueue/pkg/models"
	"github.com/psantana5/ffqueue/pkg/progressive"
)

// State of the orchestrator
type State int

const (
	StateIdle State = iota
	StateSorted
	StateProgressiveSorting
	StateIncrementallyPatched
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSorted:
		return "sorted"
	case StateProgressiveSorting:
		return "progressive-sorting"
	case StateIncrementallyPatched:
		return "incrementally-patched"
	default:
		return "unknown"
	}
}

// Strategy names how an Update was served
type Strategy string

const (
	StrategyIdle        Strategy = "idle"
	StrategySkipped     Strategy = "skipped"
	StrategySync        Strategy = "sync"
	StrategyProgressive Strategy = "progressive"
	StrategyIncremental Strategy = "incremental"
)

// Config tunes the orchestrator
type Config struct {
	LargeQueueThreshold int
	ChunkSize           int
	InitialBatchSize    int
	YieldEveryItems     int

	// Synchronous forces every full sort onto the calling goroutine
	Synchronous bool

	// Yield is handed to the progressive engine; defaults to runtime.Gosched
	Yield func(ctx context.Context) error
}

// DefaultConfig returns the production tuning
func DefaultConfig() Config {
	return Config{
		LargeQueueThreshold: 500,
		ChunkSize:           progressive.DefaultChunkSize,
		InitialBatchSize:    progressive.DefaultInitialBatchSize,
		YieldEveryItems:     progressive.DefaultYieldEveryItems,
	}
}

func gosched(ctx context.Context) error {
	runtime.Gosched()
	return ctx.Err()
}

// Input is everything an ordering depends on
type Input struct {
	// Jobs is the filtered set, in any order
	Jobs      []*models.Job
	Sort      comparator.SortConfig
	QueueMode bool

	// StructuralRevision is bumped by the caller on every non-volatile
	// change. When nil, an order-insensitive hash of the ids is used.
	StructuralRevision *uint64

	// VolatileRevision is bumped once per progress batch; DirtyIDs lists
	// the jobs whose volatile fields changed in that batch.
	VolatileRevision *uint64
	DirtyIDs         []string
}

// Result is one published ordering. Slices handed out are never modified
// afterwards.
type Result struct {
	Jobs     []*models.Job
	Done     bool
	Strategy Strategy
	Token    uint64
}

type triggerKey struct {
	sort      comparator.SortConfig
	queueMode bool

	hasStructural bool
	structural    uint64

	n     int
	idSum uint64
	idXor uint64
}

func makeKey(in Input) triggerKey {
	k := triggerKey{sort: in.Sort, queueMode: in.QueueMode}
	if in.StructuralRevision != nil {
		k.hasStructural = true
		k.structural = *in.StructuralRevision
		return k
	}
	k.n = len(in.Jobs)
	for _, j := range in.Jobs {
		h := xxhash.Sum64String(j.ID)
		k.idSum += h
		k.idXor ^= h
	}
	return k
}

// Orchestrator owns the last ordering and decides how to refresh it
type Orchestrator struct {
	cfg     Config
	logger  *logging.Logger
	metrics *metrics.Recorder

	// onPartial receives results produced in the background. It is called
	// without any orchestrator lock held; receivers should drop results
	// whose token is no longer current.
	onPartial func(Result)

	runToken atomic.Uint64
	wg       sync.WaitGroup

	mu           sync.Mutex
	state        State
	haveKey      bool
	lastKey      triggerKey
	haveVolatile bool
	lastVolatile uint64
	sorted       []*models.Job
	hints        map[string]int
	pendingDirty map[string]struct{}
	cancel       context.CancelFunc
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics sets the metrics recorder
func WithMetrics(r *metrics.Recorder) Option {
	return func(o *Orchestrator) { o.metrics = r }
}

// WithPartialHandler sets the callback for background results
func WithPartialHandler(fn func(Result)) Option {
	return func(o *Orchestrator) { o.onPartial = fn }
}

// New creates an idle orchestrator
func New(cfg Config, opts ...Option) *Orchestrator {
	if cfg.Yield == nil {
		cfg.Yield = gosched
	}
	o := &Orchestrator{
		cfg:          cfg,
		logger:       logging.Discard(),
		hints:        make(map[string]int),
		pendingDirty: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current state
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Sorted returns the last complete ordering
func (o *Orchestrator) Sorted() []*models.Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sorted
}

// IsCurrent reports whether token belongs to the most recent run
func (o *Orchestrator) IsCurrent(token uint64) bool {
	return o.runToken.Load() == token
}

// Wait blocks until no background sort is running
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close cancels any background sort and waits for it to stop
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.runToken.Add(1)
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.mu.Unlock()
	o.wg.Wait()
}

// Update recomputes the ordering for in. Synchronous strategies return the
// complete ordering; a progressive run returns Done=false and delivers its
// results through the partial handler.
func (o *Orchestrator) Update(ctx context.Context, in Input) Result {
	o.mu.Lock()
	defer o.mu.Unlock()

	start := time.Now()
	key := makeKey(in)
	volatileChanged := in.VolatileRevision != nil &&
		(!o.haveVolatile || *in.VolatileRevision != o.lastVolatile)

	if len(in.Jobs) == 0 {
		o.stopRunLocked()
		o.state = StateIdle
		o.sorted = nil
		o.hints = make(map[string]int)
		o.pendingDirty = make(map[string]struct{})
		o.remember(key, in)
		return Result{Jobs: []*models.Job{}, Done: true, Strategy: StrategyIdle, Token: o.runToken.Load()}
	}

	if o.haveKey && key == o.lastKey {
		// ticks parked during a finished progressive run are replayed even
		// when no new tick arrives
		replay := len(o.pendingDirty) > 0 && o.state != StateProgressiveSorting
		if (!volatileChanged && !replay) || !in.Sort.HasVolatileKey() {
			o.remember(key, in)
			return o.unchangedLocked()
		}

		if o.state == StateProgressiveSorting {
			// the running sort reads frozen values; catch up afterwards
			for _, id := range in.DirtyIDs {
				o.pendingDirty[id] = struct{}{}
			}
			o.remember(key, in)
			return o.unchangedLocked()
		}

		if res, ok := o.incrementalLocked(in); ok {
			o.remember(key, in)
			o.metrics.ObserveSort(string(StrategyIncremental), time.Since(start))
			return res
		}
		o.logger.Debug("incremental reorder not applicable, falling back to full sort", map[string]interface{}{
			"dirty": len(in.DirtyIDs),
			"jobs":  len(in.Jobs),
		})
	}

	o.remember(key, in)
	o.pendingDirty = make(map[string]struct{})

	if o.cfg.Synchronous || len(in.Jobs) <= o.cfg.LargeQueueThreshold {
		o.stopRunLocked()
		res := o.fullSortLocked(in)
		o.metrics.ObserveSort(string(StrategySync), time.Since(start))
		return res
	}
	return o.startProgressiveLocked(ctx, in)
}

func (o *Orchestrator) remember(key triggerKey, in Input) {
	o.haveKey = true
	o.lastKey = key
	if in.VolatileRevision != nil {
		o.haveVolatile = true
		o.lastVolatile = *in.VolatileRevision
	}
}

func (o *Orchestrator) unchangedLocked() Result {
	return Result{
		Jobs:     o.sorted,
		Done:     o.state != StateProgressiveSorting,
		Strategy: StrategySkipped,
		Token:    o.runToken.Load(),
	}
}

// stopRunLocked invalidates any in-flight progressive run
func (o *Orchestrator) stopRunLocked() uint64 {
	token := o.runToken.Add(1)
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	return token
}

func compareFunc(in Input) func(a, b *models.Job) int {
	if in.QueueMode {
		return comparator.QueueModeFunc(in.Sort)
	}
	return comparator.Func(in.Sort)
}

func (o *Orchestrator) fullSortLocked(in Input) Result {
	sorted := slices.Clone(in.Jobs)
	slices.SortFunc(sorted, compareFunc(in))

	o.sorted = sorted
	o.hints = make(map[string]int)
	o.state = StateSorted
	return Result{Jobs: sorted, Done: true, Strategy: StrategySync, Token: o.runToken.Load()}
}

// entry pairs a live job with a frozen copy the background sort compares
type entry struct {
	job    *models.Job
	frozen *models.Job
}

func unwrap(entries []entry) []*models.Job {
	out := make([]*models.Job, len(entries))
	for i, e := range entries {
		out[i] = e.job
	}
	return out
}

func (o *Orchestrator) startProgressiveLocked(ctx context.Context, in Input) Result {
	token := o.stopRunLocked()
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.state = StateProgressiveSorting

	entries := make([]entry, len(in.Jobs))
	for i, j := range in.Jobs {
		entries[i] = entry{job: j, frozen: j.Clone()}
	}
	compare := compareFunc(in)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		start := time.Now()

		_, err := progressive.Sort(runCtx, entries, progressive.Options[entry]{
			Compare:          func(a, b entry) int { return compare(a.frozen, b.frozen) },
			ChunkSize:        o.cfg.ChunkSize,
			InitialBatchSize: o.cfg.InitialBatchSize,
			YieldEveryItems:  o.cfg.YieldEveryItems,
			Yield:            o.cfg.Yield,
			IsCancelled:      func() bool { return !o.IsCurrent(token) },
			OnPartial: func(prefix []entry, done bool) {
				o.deliver(token, unwrap(prefix), done)
			},
		})
		if errors.Is(err, progressive.ErrCancelled) {
			o.logger.Debug("progressive sort superseded", map[string]interface{}{"token": token})
			return
		}
		if err != nil {
			o.logger.Error("progressive sort failed", map[string]interface{}{"error": err.Error()})
			return
		}
		o.metrics.ObserveSort(string(StrategyProgressive), time.Since(start))
	}()

	return Result{Done: false, Strategy: StrategyProgressive, Token: token}
}

func (o *Orchestrator) deliver(token uint64, jobs []*models.Job, done bool) {
	o.mu.Lock()
	if !o.IsCurrent(token) {
		o.mu.Unlock()
		return
	}
	if done {
		o.sorted = jobs
		o.hints = make(map[string]int)
		o.state = StateSorted
		o.cancel = nil
	}
	o.mu.Unlock()

	if o.onPartial != nil {
		o.onPartial(Result{Jobs: jobs, Done: done, Strategy: StrategyProgressive, Token: token})
	}
}

// incrementalLocked removes the dirty jobs from the last ordering, re-sorts
// them and binary-inserts them back. It refuses when the last ordering does
// not cover exactly the current input.
func (o *Orchestrator) incrementalLocked(in Input) (Result, bool) {
	dirty := make(map[string]struct{}, len(in.DirtyIDs)+len(o.pendingDirty))
	for id := range o.pendingDirty {
		dirty[id] = struct{}{}
	}
	for _, id := range in.DirtyIDs {
		dirty[id] = struct{}{}
	}
	if len(dirty) == 0 || o.sorted == nil || len(o.sorted) != len(in.Jobs) {
		return Result{}, false
	}

	removeAt := make(map[int]struct{}, len(dirty))
	for id := range dirty {
		idx, ok := o.locate(id)
		if !ok {
			return Result{}, false
		}
		removeAt[idx] = struct{}{}
	}

	remainder := make([]*models.Job, 0, len(o.sorted))
	moved := make([]*models.Job, 0, len(removeAt))
	for i, j := range o.sorted {
		if _, ok := removeAt[i]; ok {
			moved = append(moved, j)
			continue
		}
		remainder = append(remainder, j)
	}

	compare := compareFunc(in)
	slices.SortFunc(moved, compare)

	hints := make(map[string]int, len(moved))
	for _, j := range moved {
		idx := sort.Search(len(remainder), func(i int) bool {
			return compare(remainder[i], j) > 0
		})
		remainder = slices.Insert(remainder, idx, j)
		hints[j.ID] = idx
	}

	o.sorted = remainder
	o.hints = hints
	o.pendingDirty = make(map[string]struct{})
	o.state = StateIncrementallyPatched
	return Result{Jobs: remainder, Done: true, Strategy: StrategyIncremental, Token: o.runToken.Load()}, true
}

// locate finds id in the last ordering, trying the index hint first
func (o *Orchestrator) locate(id string) (int, bool) {
	if idx, ok := o.hints[id]; ok {
		for _, i := range []int{idx, idx - 1, idx + 1} {
			if i >= 0 && i < len(o.sorted) && o.sorted[i].ID == id {
				return i, true
			}
		}
	}
	for i, j := range o.sorted {
		if j.ID == id {
			return i, true
		}
	}
	return 0, false
}
