package report

import "sync"

// Store keeps the most recent successful report.
type Store struct {
	mu     sync.RWMutex
	latest *Report
}

func NewStore() *Store {
	return &Store{}
}

// Update replaces the stored report.
func (s *Store) Update(r Report) {
	s.mu.Lock()
	s.latest = &r
	s.mu.Unlock()
}

// Latest returns the stored report, if any.
func (s *Store) Latest() (Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return Report{}, false
	}
	return *s.latest, true
}
