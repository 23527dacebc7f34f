package usecase

import (
	"sort"
	"sync"
)

// Selection is the set of document ids the bulk verbs act on.
type Selection struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func NewSelection() *Selection {
	return &Selection{ids: make(map[string]struct{})}
}

// Toggle flips id and reports whether it is now selected.
func (s *Selection) Toggle(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		delete(s.ids, id)
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *Selection) Select(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if id != "" {
			s.ids[id] = struct{}{}
		}
	}
}

func (s *Selection) Deselect(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}

// SelectAll replaces the selection with the visible page only.
func (s *Selection) SelectAll(visible []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.ids)
	for _, id := range visible {
		s.ids[id] = struct{}{}
	}
}

func (s *Selection) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.ids)
}

func (s *Selection) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

func (s *Selection) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// IDs returns the selected ids in sorted order.
func (s *Selection) IDs() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}

// Prune drops ids for which keep returns false and reports how many were dropped.
func (s *Selection) Prune(keep func(id string) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := 0
	for id := range s.ids {
		if !keep(id) {
			delete(s.ids, id)
			dropped++
		}
	}
	return dropped
}
