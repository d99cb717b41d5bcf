package loader

import (
	"sort"
	"sync"
)

// Registry keeps one loader per venue.
type Registry struct {
	mu      sync.RWMutex
	loaders map[string]*Loader
}

func NewRegistry() *Registry {
	return &Registry{loaders: make(map[string]*Loader)}
}

// Put registers or replaces the loader for its venue.
func (r *Registry) Put(l *Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[l.Venue()] = l
}

func (r *Registry) Get(venue string) (*Loader, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.loaders[venue]
	return l, ok
}

// Venues lists venues with a loaded export, sorted.
func (r *Registry) Venues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.loaders))
	for v, l := range r.loaders {
		if l.Loaded() {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

type Summary struct {
	TotalVenues int     `json:"total_venues"`
	Venues      []Stats `json:"venues"`
}

func (r *Registry) Summary() Summary {
	var s Summary
	for _, v := range r.Venues() {
		l, _ := r.Get(v)
		s.Venues = append(s.Venues, l.Stats())
	}
	s.TotalVenues = len(s.Venues)
	return s
}
