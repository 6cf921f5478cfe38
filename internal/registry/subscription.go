package registry

import (
	"sort"
	"sync"
)

// Subscription coalesces change notifications. Any number of changes
// between two reads collapse into a single wake-up on C; Pending returns
// every run ID that changed since the previous call, so nothing is lost.
type Subscription struct {
	reg *Registry
	ch  chan struct{}

	mu      sync.Mutex
	pending map[string]struct{}
}

// Subscribe registers a new subscription. Call Close when done.
func (r *Registry) Subscribe() *Subscription {
	s := &Subscription{
		reg:     r,
		ch:      make(chan struct{}, 1),
		pending: make(map[string]struct{}),
	}
	r.subMu.Lock()
	r.subs[s] = struct{}{}
	r.subMu.Unlock()
	return s
}

// C is signalled whenever Pending has something new.
func (s *Subscription) C() <-chan struct{} { return s.ch }

// Pending drains and returns the changed run IDs in sorted order.
func (s *Subscription) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	clear(s.pending)
	sort.Strings(ids)
	return ids
}

func (s *Subscription) Close() {
	s.reg.subMu.Lock()
	delete(s.reg.subs, s)
	s.reg.subMu.Unlock()
}

func (s *Subscription) mark(id string) {
	s.mu.Lock()
	s.pending[id] = struct{}{}
	s.mu.Unlock()
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

func (r *Registry) publish(id string) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for s := range r.subs {
		s.mark(id)
	}
}
