package fakemaster

import (
	"context"
	"time"

	"github.com/psantana5/ffqueue/pkg/models"
)

// Step advances the simulated worker by one tick: the running job gains
// progress (completing at 100), or the head of the waiting queue starts.
// It returns false when there is nothing to do.
func (s *Server) Step(increment float64, tick time.Duration) bool {
	running, next := s.queue.workerView()
	if running != nil {
		if running.WaitRequestPending {
			s.SetStatus(running.ID, models.JobStatusPaused)
			return true
		}
		progress := running.Progress + increment
		if progress >= 100 {
			s.queue.finish(running.ID, s.now())
			s.notifyRevision()
			return true
		}
		var elapsed int64
		if running.ElapsedMs != nil {
			elapsed = *running.ElapsedMs
		}
		s.PublishProgress(running.ID, progress, elapsed+tick.Milliseconds())
		return true
	}
	if next != "" {
		s.queue.start(next, s.now())
		s.notifyRevision()
		return true
	}
	return false
}

// Simulate runs Step every tick until ctx is done
func (s *Server) Simulate(ctx context.Context, tick time.Duration, increment float64) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Step(increment, tick)
		}
	}
}

// workerView returns a copy of the running job and the id at the head of
// the queued part of the waiting queue
func (q *Queue) workerView() (*models.Job, string) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var running *models.Job
	for _, id := range q.order {
		if j := q.jobs[id]; models.IsActive(j.Status) {
			running = j.Clone()
			break
		}
	}
	next := ""
	for _, id := range q.waiting {
		if models.Normalize(q.jobs[id].Status) == models.JobStatusQueued {
			next = id
			break
		}
	}
	return running, next
}

func (q *Queue) start(id string, nowMs int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return
	}
	j.Status = models.JobStatusProcessing
	j.ProcessingStartedMs = models.Int64(nowMs)
	j.ElapsedMs = models.Int64(0)
	q.renumberLocked()
	q.revision++
}

func (q *Queue) finish(id string, nowMs int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return
	}
	j.Status = models.JobStatusCompleted
	j.Progress = 100
	j.EndTime = models.Int64(nowMs)
	j.WaitRequestPending = false
	q.renumberLocked()
	q.revision++
}
