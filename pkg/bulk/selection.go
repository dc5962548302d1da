// Package bulk applies state transitions to selected jobs: optimistic local
// update, one backend call, rollback on failure. It also owns the waiting
// queue ordering commands.
package bulk

// Selection is an ordered set of job ids. It is not safe for concurrent use;
// the owning view serializes access.
type Selection struct {
	ids   map[string]struct{}
	order []string
}

// NewSelection creates an empty selection
func NewSelection() *Selection {
	return &Selection{ids: make(map[string]struct{})}
}

// Select adds ids, keeping first-selection order
func (s *Selection) Select(ids ...string) {
	for _, id := range ids {
		if _, ok := s.ids[id]; ok {
			continue
		}
		s.ids[id] = struct{}{}
		s.order = append(s.order, id)
	}
}

// Deselect removes ids
func (s *Selection) Deselect(ids ...string) {
	changed := false
	for _, id := range ids {
		if _, ok := s.ids[id]; ok {
			delete(s.ids, id)
			changed = true
		}
	}
	if changed {
		s.compact()
	}
}

// Toggle flips one id and reports whether it is now selected
func (s *Selection) Toggle(id string) bool {
	if s.Has(id) {
		s.Deselect(id)
		return false
	}
	s.Select(id)
	return true
}

// Clear empties the selection
func (s *Selection) Clear() {
	s.ids = make(map[string]struct{})
	s.order = nil
}

// Has reports whether id is selected
func (s *Selection) Has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of selected ids
func (s *Selection) Len() int { return len(s.ids) }

// IDs returns the selected ids in selection order
func (s *Selection) IDs() []string {
	return append([]string(nil), s.order...)
}

// Retain drops ids for which exists returns false, as when the backend stops
// reporting a job. It returns the number removed.
func (s *Selection) Retain(exists func(id string) bool) int {
	removed := 0
	for id := range s.ids {
		if !exists(id) {
			delete(s.ids, id)
			removed++
		}
	}
	if removed > 0 {
		s.compact()
	}
	return removed
}

func (s *Selection) compact() {
	kept := s.order[:0]
	for _, id := range s.order {
		if _, ok := s.ids[id]; ok {
			kept = append(kept, id)
		}
	}
	s.order = kept
}
