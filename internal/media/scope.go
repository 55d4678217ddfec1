package media

import "sync"

// Scope collects release functions for acquired resources and runs them once,
// newest first. An acquisition sequence releases its scope on error or
// cancellation; on success the scope moves into the session that now owns it.
type Scope struct {
	mu       sync.Mutex
	fns      []func()
	released bool
}

// Defer registers fn. If the scope is already released, fn runs immediately.
func (s *Scope) Defer(fn func()) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		fn()
		return
	}
	s.fns = append(s.fns, fn)
	s.mu.Unlock()
}

// Release runs every registered function exactly once.
func (s *Scope) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	fns := s.fns
	s.fns = nil
	s.mu.Unlock()

	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

func (s *Scope) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}
