package queuesync

import (
	"github.com/psantana5/ffqueue/pkg/models"
)

// Store is the local job collection: one stable *models.Job slot per id,
// kept in backend order. It is not safe for concurrent use; Syncer guards it.
type Store struct {
	jobs  map[string]*models.Job
	order []string
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{jobs: make(map[string]*models.Job)}
}

// Get returns the slot for id
func (s *Store) Get(id string) (*models.Job, bool) {
	j, ok := s.jobs[id]
	return j, ok
}

// Len returns the number of jobs
func (s *Store) Len() int {
	return len(s.order)
}

// Jobs returns the slots in collection order
func (s *Store) Jobs() []*models.Job {
	out := make([]*models.Job, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.jobs[id])
	}
	return out
}

// IDs returns the ids in collection order
func (s *Store) IDs() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Insert adds a job at the end; an existing id is left untouched
func (s *Store) Insert(job *models.Job) bool {
	if _, ok := s.jobs[job.ID]; ok {
		return false
	}
	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)
	return true
}

// Remove drops id from the collection
func (s *Store) Remove(id string) bool {
	if _, ok := s.jobs[id]; !ok {
		return false
	}
	delete(s.jobs, id)
	for i, other := range s.order {
		if other == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// SetOrder replaces the collection order. Unknown ids are skipped and ids
// missing from order keep their relative position at the end.
func (s *Store) SetOrder(order []string) {
	seen := make(map[string]struct{}, len(order))
	next := make([]string, 0, len(s.order))
	for _, id := range order {
		if _, ok := s.jobs[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		next = append(next, id)
	}
	for _, id := range s.order {
		if _, ok := seen[id]; !ok {
			next = append(next, id)
		}
	}
	s.order = next
}

// Retain drops every job whose id is not in keep and returns how many were
// removed.
func (s *Store) Retain(keep map[string]struct{}) int {
	removed := 0
	next := s.order[:0]
	for _, id := range s.order {
		if _, ok := keep[id]; ok {
			next = append(next, id)
			continue
		}
		delete(s.jobs, id)
		removed++
	}
	s.order = next
	return removed
}
