// Package fakemaster is an in-memory queue backend speaking the master's
// HTTP and websocket API. It backs the client and view tests and the CLI's
// --demo mode.
package fakemaster

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/psantana5/ffqueue/pkg/models"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrIneligible  = errors.New("job not eligible for this action")
)

// Queue is the authoritative job state
type Queue struct {
	mu       sync.RWMutex
	jobs     map[string]*models.Job
	order    []string // every job, in listing order
	waiting  []string // waiting group, in queue order
	revision uint64
	nextID   int
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{jobs: make(map[string]*models.Job)}
}

// Seed adds jobs as-is; queued and paused jobs join the waiting queue in the
// given order unless they carry a queueOrder.
func (q *Queue) Seed(jobs ...*models.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range jobs {
		c := j.Clone()
		q.jobs[c.ID] = c
		q.order = append(q.order, c.ID)
		if models.IsWaitingGroup(c.Status) {
			q.waiting = append(q.waiting, c.ID)
		}
	}
	slices.SortStableFunc(q.waiting, func(a, b string) int {
		oa, ob := q.jobs[a].QueueOrder, q.jobs[b].QueueOrder
		switch {
		case oa == nil && ob == nil:
			return 0
		case oa == nil:
			return 1
		case ob == nil:
			return -1
		}
		return cmp.Compare(*oa, *ob)
	})
	q.renumberLocked()
	q.revision++
}

// Snapshot returns a deep copy of the queue
func (q *Queue) Snapshot() *models.QueueSnapshot {
	q.mu.RLock()
	defer q.mu.RUnlock()
	snap := &models.QueueSnapshot{SnapshotRevision: q.revision, Jobs: make([]*models.Job, 0, len(q.order))}
	for _, id := range q.order {
		snap.Jobs = append(snap.Jobs, q.jobs[id].Clone())
	}
	return snap
}

// Revision returns the current snapshot revision
func (q *Queue) Revision() uint64 {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.revision
}

// Get returns a copy of one job
func (q *Queue) Get(id string) (*models.Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	j, ok := q.jobs[id]
	if !ok {
		return nil, false
	}
	return j.Clone(), true
}

// renumberLocked assigns queueOrder from the waiting list and clears it for
// jobs outside the waiting group
func (q *Queue) renumberLocked() {
	kept := q.waiting[:0]
	for _, id := range q.waiting {
		if j, ok := q.jobs[id]; ok && models.IsWaitingGroup(j.Status) {
			kept = append(kept, id)
		}
	}
	q.waiting = kept

	for _, j := range q.jobs {
		j.QueueOrder = nil
	}
	for i, id := range q.waiting {
		q.jobs[id].QueueOrder = models.Int64(int64(i))
	}
}

func (q *Queue) enterWaitingLocked(id string) {
	for _, other := range q.waiting {
		if other == id {
			return
		}
	}
	q.waiting = append(q.waiting, id)
}

// Enqueue creates a queued job at the tail of the waiting queue
func (q *Queue) Enqueue(req models.EnqueueRequest, nowMs int64) *models.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextID++
	jobType := req.Type
	if jobType == "" {
		jobType = models.JobTypeVideo
	}
	source := req.Source
	if source == "" {
		source = models.JobSourceManual
	}
	job := &models.Job{
		ID:         fmt.Sprintf("job-%d", q.nextID),
		Filename:   req.InputPath,
		InputPath:  req.InputPath,
		OutputPath: req.OutputPath,
		PresetID:   req.PresetID,
		Type:       jobType,
		Source:     source,
		Status:     models.JobStatusQueued,
		StartTime:  models.Int64(nowMs),
	}
	q.jobs[job.ID] = job
	q.order = append(q.order, job.ID)
	q.waiting = append(q.waiting, job.ID)
	q.renumberLocked()
	q.revision++
	return job.Clone()
}

// eligible applies the backend's own transition rules
func eligible(action string, st models.JobStatus) bool {
	st = models.Normalize(st)
	switch action {
	case "wait":
		return st == models.JobStatusQueued || st == models.JobStatusProcessing
	case "resume":
		return st == models.JobStatusPaused
	case "restart":
		return st != models.JobStatusCompleted && st != models.JobStatusSkipped
	case "cancel":
		return !models.IsTerminal(st)
	case "delete":
		return models.IsTerminal(st)
	}
	return false
}

func (q *Queue) applyLocked(action string, j *models.Job) {
	switch action {
	case "wait":
		if models.IsActive(j.Status) {
			// a running transcode pauses cooperatively
			j.WaitRequestPending = true
			return
		}
		j.Status = models.JobStatusPaused
	case "resume":
		j.Status = models.JobStatusQueued
		q.enterWaitingLocked(j.ID)
	case "restart":
		j.Status = models.JobStatusQueued
		j.Progress = 0
		j.EndTime = nil
		j.ElapsedMs = nil
		j.ProcessingStartedMs = nil
		j.WaitRequestPending = false
		j.FailureReason = ""
		q.enterWaitingLocked(j.ID)
	case "cancel":
		j.Status = models.JobStatusCancelled
		j.WaitRequestPending = false
	case "delete":
		q.removeLocked(j.ID)
	}
}

// Transition applies action to one job
func (q *Queue) Transition(action, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if !eligible(action, j.Status) {
		return ErrIneligible
	}
	q.applyLocked(action, j)
	q.renumberLocked()
	q.revision++
	return nil
}

// TransitionMany applies action to every eligible id; the rest are ignored.
// It returns the ids that changed.
func (q *Queue) TransitionMany(action string, ids []string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var changed []string
	for _, id := range ids {
		j, ok := q.jobs[id]
		if !ok || !eligible(action, j.Status) {
			continue
		}
		q.applyLocked(action, j)
		changed = append(changed, id)
	}
	q.renumberLocked()
	q.revision++
	return changed
}

// Reorder rearranges the waiting queue: explicit ids first, the rest in
// their previous relative order
func (q *Queue) Reorder(orderedIDs []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.waiting = models.ReorderIDs(q.waiting, orderedIDs)
	q.renumberLocked()
	q.revision++
}

// SetStatus forces a status, simulating the worker
func (q *Queue) SetStatus(id string, st models.JobStatus) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	j.Status = st
	if models.IsWaitingGroup(st) {
		q.enterWaitingLocked(id)
	}
	if !models.IsActive(st) {
		j.WaitRequestPending = false
	}
	q.renumberLocked()
	q.revision++
	return nil
}

// SetProgress updates a running job and returns the matching delta patch
func (q *Queue) SetProgress(id string, progress float64, elapsedMs int64) (models.JobPatch, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return models.JobPatch{}, ErrJobNotFound
	}
	j.Progress = progress
	j.ElapsedMs = models.Int64(elapsedMs)
	return models.JobPatch{ID: id, Progress: models.Float64(progress), ElapsedMs: models.Int64(elapsedMs)}, nil
}

// Remove deletes a job, as when the backend forgets finished work
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.removeLocked(id) {
		return false
	}
	q.renumberLocked()
	q.revision++
	return true
}

func (q *Queue) removeLocked(id string) bool {
	if _, ok := q.jobs[id]; !ok {
		return false
	}
	delete(q.jobs, id)
	q.order = slices.DeleteFunc(q.order, func(other string) bool { return other == id })
	q.waiting = slices.DeleteFunc(q.waiting, func(other string) bool { return other == id })
	return true
}

// DeleteBatch removes every job of a batch scan. It refuses the whole batch
// while any child is still unfinished.
func (q *Queue) DeleteBatch(batchID string) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var children []string
	for _, id := range q.order {
		j := q.jobs[id]
		if j.BatchID != batchID {
			continue
		}
		if !models.IsTerminal(j.Status) {
			return nil, ErrIneligible
		}
		children = append(children, id)
	}
	if batchID == "" || len(children) == 0 {
		return nil, ErrJobNotFound
	}
	for _, id := range children {
		q.removeLocked(id)
	}
	q.renumberLocked()
	q.revision++
	return children, nil
}
