// Package queuesync merges authoritative backend snapshots and deltas into
// the local job collection while keeping job identity stable.
package queuesync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/psantana5/ffqueue/pkg/logging"
	"github.com/psantana5/ffqueue/pkg/messages"
	"github.com/psantana5/ffqueue/pkg/metrics"
	"github.com/psantana5/ffqueue/pkg/models"
)

var (
	// ErrStaleDelta is returned when a delta was built against a snapshot
	// other than the one last applied
	ErrStaleDelta = errors.New("delta does not apply to the current snapshot")

	// ErrNoLoader is returned by Refresh when no snapshot source is set
	ErrNoLoader = errors.New("no snapshot source configured")
)

// Loader fetches a full snapshot
type Loader interface {
	LoadQueueSnapshot(ctx context.Context) (*models.QueueSnapshot, error)
}

// Revisions are monotonic counters describing the collection
type Revisions struct {
	// Structural is bumped on membership, order, or any sortable or
	// filterable field change
	Structural uint64
	// Volatile is bumped once per batch of progress/elapsed changes
	Volatile uint64
	// Content is bumped on every change, cosmetic ones included
	Content uint64
	// Snapshot is the backend revision of the last applied snapshot
	Snapshot uint64
}

// ApplyResult describes one applied snapshot or delta
type ApplyResult struct {
	Ignored   bool
	Change    Change
	Added     int
	Removed   int
	Completed []string
}

// Event is delivered to listeners after every effective change
type Event struct {
	Change    Change
	Revisions Revisions
}

// ErrorState is the user-visible error flag of the queue view
type ErrorState struct {
	Message string
	Err     error
	seq     uint64
}

// Active reports whether an error is currently shown
func (e ErrorState) Active() bool { return e.Message != "" }

// ReadView is what Read callbacks may inspect
type ReadView struct {
	Store     *Store
	Revisions Revisions
	dirty     map[string]uint64
	pause     map[string]struct{}
}

// DirtySince lists the jobs whose volatile fields changed after rev. It is
// only meaningful while the structural revision is unchanged.
func (v ReadView) DirtySince(rev uint64) []string {
	var out []string
	for id, at := range v.dirty {
		if at > rev {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// PausePending reports whether a cooperative pause was requested locally
// for id and not yet observed in a snapshot
func (v ReadView) PausePending(id string) bool {
	_, ok := v.pause[id]
	return ok
}

// Syncer owns the store and serializes every mutation of it
type Syncer struct {
	loader      Loader
	logger      *logging.Logger
	metrics     *metrics.Recorder
	tr          *messages.Translator
	onCompleted func(*models.Job)

	mu                sync.RWMutex
	store             *Store
	rev               Revisions
	haveSnapshot      bool
	lastDeltaRevision uint64
	dirty             map[string]uint64
	pendingPause      map[string]struct{}
	errState          ErrorState
	opSeq             uint64
	listeners         []func(Event)
}

// Option configures a Syncer
type Option func(*Syncer)

// WithLoader sets the snapshot source used by Refresh
func WithLoader(l Loader) Option {
	return func(s *Syncer) { s.loader = l }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(s *Syncer) { s.logger = l }
}

// WithMetrics sets the metrics recorder
func WithMetrics(r *metrics.Recorder) Option {
	return func(s *Syncer) { s.metrics = r }
}

// WithTranslator sets the language of error messages
func WithTranslator(tr *messages.Translator) Option {
	return func(s *Syncer) { s.tr = tr }
}

// WithCompletionHandler is called once for every job that newly reaches
// completed. It receives a copy and runs without the lock held.
func WithCompletionHandler(fn func(*models.Job)) Option {
	return func(s *Syncer) { s.onCompleted = fn }
}

// New creates a syncer with an empty store
func New(opts ...Option) *Syncer {
	s := &Syncer{
		logger:       logging.Discard(),
		tr:           messages.New("en"),
		store:        NewStore(),
		dirty:        make(map[string]uint64),
		pendingPause: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Translator returns the message translator
func (s *Syncer) Translator() *messages.Translator {
	return s.tr
}

// HasLoader reports whether Refresh can reach a backend
func (s *Syncer) HasLoader() bool {
	return s.loader != nil
}

// Subscribe registers fn for change events. Events are delivered after the
// lock is released, in the goroutine that made the change.
func (s *Syncer) Subscribe(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Read runs fn under the read lock
func (s *Syncer) Read(fn func(v ReadView)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(ReadView{Store: s.store, Revisions: s.rev, dirty: s.dirty, pause: s.pendingPause})
}

// Revisions returns the current counters
func (s *Syncer) Revisions() Revisions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rev
}

// Mutate runs fn under the write lock. fn reports what it changed so the
// revisions and listeners follow.
func (s *Syncer) Mutate(fn func(st *Store) Change) Change {
	s.mu.Lock()
	c := fn(s.store)
	s.bumpLocked(c, nil)
	ev, listeners := s.eventLocked(c)
	s.mu.Unlock()

	s.notify(ev, listeners, nil)
	return c
}

// MarkPausePending records ids whose pause was requested while processing
func (s *Syncer) MarkPausePending(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.pendingPause[id] = struct{}{}
	}
}

// ClearPausePending forgets ids, used when a pause request is rolled back
func (s *Syncer) ClearPausePending(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.pendingPause, id)
	}
}

func (s *Syncer) bumpLocked(c Change, volatileIDs []string) {
	if c == 0 {
		return
	}
	s.rev.Content++
	if c.Has(ChangeStructural) {
		s.rev.Structural++
		s.dirty = make(map[string]uint64)
	}
	if c.Has(ChangeVolatile) {
		s.rev.Volatile++
		for _, id := range volatileIDs {
			s.dirty[id] = s.rev.Volatile
		}
	}
}

func (s *Syncer) eventLocked(c Change) (Event, []func(Event)) {
	if c == 0 {
		return Event{}, nil
	}
	return Event{Change: c, Revisions: s.rev}, slices.Clone(s.listeners)
}

func (s *Syncer) notify(ev Event, listeners []func(Event), completed []*models.Job) {
	if s.onCompleted != nil {
		for _, j := range completed {
			s.onCompleted(j)
		}
	}
	for _, fn := range listeners {
		fn(ev)
	}
}

func isCompleted(st models.JobStatus) bool {
	return models.Normalize(st) == models.JobStatusCompleted
}

func (s *Syncer) clearObservedPausesLocked() {
	for id := range s.pendingPause {
		j, ok := s.store.Get(id)
		if !ok || !models.IsActive(j.Status) {
			delete(s.pendingPause, id)
		}
	}
}

// ApplySnapshot merges snap into the collection. Known ids are patched in
// place, new ids inserted, and ids the backend no longer reports removed.
// Snapshots older than the last applied revision are ignored.
func (s *Syncer) ApplySnapshot(snap *models.QueueSnapshot) ApplyResult {
	if snap == nil {
		return ApplyResult{Ignored: true}
	}

	s.mu.Lock()
	if snap.SnapshotRevision != 0 && s.haveSnapshot && snap.SnapshotRevision < s.rev.Snapshot {
		current := s.rev.Snapshot
		s.mu.Unlock()
		s.logger.Debug("ignoring out-of-date snapshot", map[string]interface{}{
			"revision": snap.SnapshotRevision,
			"current":  current,
		})
		return ApplyResult{Ignored: true}
	}

	res := ApplyResult{}
	present := make(map[string]struct{}, len(snap.Jobs))
	order := make([]string, 0, len(snap.Jobs))
	var completed []*models.Job
	var volatileIDs []string

	for _, next := range snap.Jobs {
		if next == nil || next.ID == "" {
			continue
		}
		if _, dup := present[next.ID]; dup {
			continue
		}
		present[next.ID] = struct{}{}
		order = append(order, next.ID)

		prev, ok := s.store.Get(next.ID)
		newlyCompleted := isCompleted(next.Status) && (!ok || !isCompleted(prev.Status))

		if !ok {
			s.store.Insert(next)
			res.Change |= ChangeStructural
			res.Added++
			prev = next
		} else {
			c := PatchJob(prev, next)
			res.Change |= c
			if c.Has(ChangeVolatile) {
				volatileIDs = append(volatileIDs, prev.ID)
			}
		}
		if newlyCompleted {
			completed = append(completed, prev)
		}
	}

	if removed := s.store.Retain(present); removed > 0 {
		res.Removed = removed
		res.Change |= ChangeStructural
	}
	if !slices.Equal(s.store.order, order) {
		s.store.SetOrder(order)
		res.Change |= ChangeStructural
	}

	s.haveSnapshot = true
	s.rev.Snapshot = snap.SnapshotRevision
	s.lastDeltaRevision = 0
	s.clearObservedPausesLocked()
	s.bumpLocked(res.Change, volatileIDs)

	completedCopies := s.completedLocked(completed, &res)
	ev, listeners := s.eventLocked(res.Change)
	s.mu.Unlock()

	s.metrics.SetJobCounts(s.StatusCounts())
	s.notify(ev, listeners, completedCopies)
	return res
}

func (s *Syncer) completedLocked(completed []*models.Job, res *ApplyResult) []*models.Job {
	if len(completed) == 0 {
		return nil
	}
	copies := make([]*models.Job, len(completed))
	for i, j := range completed {
		res.Completed = append(res.Completed, j.ID)
		copies[i] = j.Clone()
		s.metrics.IncCompleted()
	}
	return copies
}

// ApplyDelta applies pushed patches in place. It fails with ErrStaleDelta
// unless the delta targets the last applied snapshot; callers then fall back
// to a full refresh.
func (s *Syncer) ApplyDelta(d *models.QueueDelta) (ApplyResult, error) {
	if d == nil {
		return ApplyResult{Ignored: true}, nil
	}

	s.mu.Lock()
	if !s.haveSnapshot || d.BaseSnapshotRevision != s.rev.Snapshot {
		current := s.rev.Snapshot
		s.mu.Unlock()
		s.metrics.CountDelta("stale")
		return ApplyResult{}, fmt.Errorf("%w: base %d, current %d", ErrStaleDelta, d.BaseSnapshotRevision, current)
	}
	if d.DeltaRevision != 0 && d.DeltaRevision <= s.lastDeltaRevision {
		s.mu.Unlock()
		s.metrics.CountDelta("duplicate")
		return ApplyResult{Ignored: true}, nil
	}

	res := ApplyResult{}
	var completed []*models.Job
	var volatileIDs []string
	for _, p := range d.Patches {
		job, ok := s.store.Get(p.ID)
		if !ok {
			continue
		}
		wasCompleted := isCompleted(job.Status)
		c := ApplyPatch(job, p)
		res.Change |= c
		if c.Has(ChangeVolatile) {
			volatileIDs = append(volatileIDs, job.ID)
		}
		if !wasCompleted && isCompleted(job.Status) {
			completed = append(completed, job)
		}
	}

	s.lastDeltaRevision = d.DeltaRevision
	if res.Change.Has(ChangeStructural) {
		s.clearObservedPausesLocked()
	}
	s.bumpLocked(res.Change, volatileIDs)

	completedCopies := s.completedLocked(completed, &res)
	ev, listeners := s.eventLocked(res.Change)
	s.mu.Unlock()

	s.metrics.CountDelta("applied")
	s.notify(ev, listeners, completedCopies)
	return res, nil
}

// RefreshOptions tunes Refresh
type RefreshOptions struct {
	// PreserveError keeps the current error state when the refresh fails,
	// used for follow-up refreshes after a successful command
	PreserveError bool
}

// Refresh fetches one snapshot and applies it. A failure leaves the local
// collection untouched and sets the error state; success clears it.
func (s *Syncer) Refresh(ctx context.Context, opts RefreshOptions) error {
	if s.loader == nil {
		return ErrNoLoader
	}
	seq := s.BeginOp()

	snap, err := s.loader.LoadQueueSnapshot(ctx)
	if err != nil {
		s.metrics.CountRefresh(false)
		s.logger.Error("queue refresh failed", map[string]interface{}{"error": err.Error()})
		if !opts.PreserveError {
			s.SetError(seq, s.tr.Sprintf(messages.RefreshFailed, err), err)
		}
		return fmt.Errorf("refresh queue: %w", err)
	}

	s.ApplySnapshot(snap)
	s.ClearError(seq)
	s.metrics.CountRefresh(true)
	return nil
}

// BeginOp returns the sequence number an operation uses to write the error
// state. Later operations win over earlier ones.
func (s *Syncer) BeginOp() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opSeq++
	return s.opSeq
}

// SetError records a user-visible error unless a later operation already
// wrote the error state.
func (s *Syncer) SetError(seq uint64, message string, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq < s.errState.seq {
		return false
	}
	s.errState = ErrorState{Message: message, Err: err, seq: seq}
	return true
}

// ClearError clears the error state under the same ordering rule as SetError
func (s *Syncer) ClearError(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq < s.errState.seq {
		return false
	}
	s.errState = ErrorState{seq: seq}
	return true
}

// Error returns the current error state
func (s *Syncer) Error() ErrorState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errState
}

// StatusCounts tallies jobs per canonical status
func (s *Syncer) StatusCounts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int, len(models.AllStatuses))
	for _, st := range models.AllStatuses {
		counts[string(st)] = 0
	}
	for _, j := range s.store.jobs {
		counts[string(models.Normalize(j.Status))]++
	}
	return counts
}
