package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/bcnelson/ipauth-sync/internal/domain"
	"github.com/bcnelson/ipauth-sync/internal/storage"
)

// Store is an in-memory implementation of the storage interface. It backs
// tests and the DB_DRIVER=memory mode.
type Store struct {
	mu sync.RWMutex

	cycles map[string]*domain.CycleReport        // key: id
	events map[string][]*domain.AuthorizationEvent // key: cycle id
}

// Ensure Store implements storage.Storage.
var _ storage.Storage = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		cycles: make(map[string]*domain.CycleReport),
		events: make(map[string][]*domain.AuthorizationEvent),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return &Tx{store: s}, nil
}

// Tx is a no-op transaction for in-memory store.
type Tx struct {
	store *Store
}

func (t *Tx) Commit() error   { return nil }
func (t *Tx) Rollback() error { return nil }
func (t *Tx) Close() error    { return nil }
func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return nil, domain.ErrInvalidInput
}

// Forward all Tx methods to the underlying store
func (t *Tx) CreateCycle(ctx context.Context, c *domain.CycleReport) error {
	return t.store.CreateCycle(ctx, c)
}
func (t *Tx) GetCycle(ctx context.Context, id string) (*domain.CycleReport, error) {
	return t.store.GetCycle(ctx, id)
}
func (t *Tx) GetLatestCycle(ctx context.Context) (*domain.CycleReport, error) {
	return t.store.GetLatestCycle(ctx)
}
func (t *Tx) ListCycles(ctx context.Context, limit, offset int) ([]*domain.CycleReport, error) {
	return t.store.ListCycles(ctx, limit, offset)
}
func (t *Tx) CreateEvent(ctx context.Context, ev *domain.AuthorizationEvent) error {
	return t.store.CreateEvent(ctx, ev)
}
func (t *Tx) ListEvents(ctx context.Context, cycleID string) ([]*domain.AuthorizationEvent, error) {
	return t.store.ListEvents(ctx, cycleID)
}

// ============================================
// Cycles
// ============================================

// copyCycle returns a shallow copy without events; events are stored separately.
func copyCycle(c *domain.CycleReport) *domain.CycleReport {
	cp := *c
	cp.Events = nil
	return &cp
}

func (s *Store) CreateCycle(ctx context.Context, c *domain.CycleReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.cycles[c.ID]; exists {
		return domain.ErrAlreadyExists
	}
	s.cycles[c.ID] = copyCycle(c)
	return nil
}

func (s *Store) GetCycle(ctx context.Context, id string) (*domain.CycleReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cycles[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyCycle(c), nil
}

// sortedCycles returns cycles newest first. Caller must hold the lock.
func (s *Store) sortedCycles() []*domain.CycleReport {
	result := make([]*domain.CycleReport, 0, len(s.cycles))
	for _, c := range s.cycles {
		result = append(result, copyCycle(c))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	return result
}

func (s *Store) GetLatestCycle(ctx context.Context) (*domain.CycleReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cycles := s.sortedCycles()
	if len(cycles) == 0 {
		return nil, domain.ErrNotFound
	}
	return cycles[0], nil
}

func (s *Store) ListCycles(ctx context.Context, limit, offset int) ([]*domain.CycleReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cycles := s.sortedCycles()
	if offset >= len(cycles) {
		return []*domain.CycleReport{}, nil
	}
	end := offset + limit
	if end > len(cycles) {
		end = len(cycles)
	}
	return cycles[offset:end], nil
}

// ============================================
// Authorization events
// ============================================

func (s *Store) CreateEvent(ctx context.Context, ev *domain.AuthorizationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cycles[ev.CycleID]; !ok {
		return domain.ErrNotFound
	}
	cp := *ev
	s.events[ev.CycleID] = append(s.events[ev.CycleID], &cp)
	return nil
}

func (s *Store) ListEvents(ctx context.Context, cycleID string) ([]*domain.AuthorizationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*domain.AuthorizationEvent, 0, len(s.events[cycleID]))
	for _, ev := range s.events[cycleID] {
		cp := *ev
		result = append(result, &cp)
	}
	return result, nil
}
