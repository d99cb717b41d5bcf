// Package session keeps per-user sandbox state: balances, swap history
// and private copies of the global order books.
package session

import (
	"DeepReplay/internal/coordinator"
	"DeepReplay/internal/observability"
	"DeepReplay/internal/orderbook"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Executor runs swaps and mints against the shared engine. The
// coordinator satisfies it.
type Executor interface {
	ExecuteSingleHop(ctx context.Context, venue string, amount, fee uint64, dir orderbook.Direction) (*coordinator.SwapResult, error)
	ExecuteTwoHop(ctx context.Context, venueA, venueB string, amount, fee uint64) (*coordinator.TwoHopResult, error)
	MintReserve(ctx context.Context, asset string, amount uint64) (*coordinator.MintResult, error)
}

// Market is a served venue together with its materialized global book.
type Market struct {
	Venue coordinator.Venue
	Book  *orderbook.Book
}

// SwapHook observes every swap applied to a session.
type SwapHook func(SwapRecord)

type Option func(*Manager)

func WithSwapHook(h SwapHook) Option {
	return func(m *Manager) { m.hook = h }
}

// WithClock overrides the time source for session and swap timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager owns every live session and the global books new sessions are
// cloned from.
type Manager struct {
	exec    Executor
	logger  zerolog.Logger
	metrics *observability.Metrics
	hook    SwapHook
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session

	// markets is replaced wholesale and never mutated in place.
	marketsMu sync.RWMutex
	markets   map[string]Market
}

func NewManager(exec Executor, logger zerolog.Logger, metrics *observability.Metrics, opts ...Option) *Manager {
	m := &Manager{
		exec:     exec,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
		sessions: make(map[string]*Session),
		markets:  make(map[string]Market),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ReplaceGlobalBooks installs the books new sessions start from. Existing
// sessions keep their private copies until they are reset.
func (m *Manager) ReplaceGlobalBooks(markets []Market) {
	next := make(map[string]Market, len(markets))
	for _, mk := range markets {
		next[mk.Venue.ID] = Market{Venue: mk.Venue, Book: mk.Book.Clone()}
	}
	m.marketsMu.Lock()
	m.markets = next
	m.marketsMu.Unlock()
	m.logger.Info().Int("venues", len(next)).Msg("global books replaced")
}

// GlobalBooks returns copies of the global books keyed by venue.
func (m *Manager) GlobalBooks() map[string]*orderbook.Book {
	m.marketsMu.RLock()
	defer m.marketsMu.RUnlock()
	out := make(map[string]*orderbook.Book, len(m.markets))
	for id, mk := range m.markets {
		out[id] = mk.Book.Clone()
	}
	return out
}

// GlobalBook returns a copy of one venue's global book.
func (m *Manager) GlobalBook(venue string) (*orderbook.Book, bool) {
	m.marketsMu.RLock()
	defer m.marketsMu.RUnlock()
	mk, ok := m.markets[venue]
	if !ok {
		return nil, false
	}
	return mk.Book.Clone(), true
}

func (m *Manager) market(venue string) (Market, error) {
	m.marketsMu.RLock()
	defer m.marketsMu.RUnlock()
	mk, ok := m.markets[venue]
	if !ok {
		return Market{}, fmt.Errorf("%w: %s", ErrUnknownVenue, venue)
	}
	return mk, nil
}

// privateBooks clones every global book for one session.
func (m *Manager) privateBooks() map[string]*Book {
	m.marketsMu.RLock()
	defer m.marketsMu.RUnlock()
	out := make(map[string]*Book, len(m.markets))
	for id, mk := range m.markets {
		out[id] = NewBook(mk.Book)
	}
	return out
}

// Create starts an unfunded session with fresh copies of the global books.
func (m *Manager) Create() *Session {
	s := &Session{
		ID:        uuid.NewString(),
		CreatedAt: m.now().UTC(),
		manager:   m,
		books:     m.privateBooks(),
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	n := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SetSessions(n)
	m.logger.Debug().Str("session", s.ID).Msg("session created")
	return s
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	if _, ok := m.sessions[id]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SetSessions(n)
	return nil
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// IDs lists live session ids, sorted.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) notify(rec SwapRecord) {
	if m.hook != nil {
		m.hook(rec)
	}
}
