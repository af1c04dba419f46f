package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strataline/callflow-backend/internal/domain/call"
	"github.com/strataline/callflow-backend/internal/domain/lead"
)

// MemoryCallRepository is an in-memory CallRepository used for tests and
// single-node development. Records are deep-copied on the way in and out so
// callers never share mutable state with the store.
type MemoryCallRepository struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]*call.Call
	byCorr  map[string]uuid.UUID
	failing bool
}

// NewMemoryCallRepository creates an empty in-memory call store.
func NewMemoryCallRepository() *MemoryCallRepository {
	return &MemoryCallRepository{
		byID:   make(map[uuid.UUID]*call.Call),
		byCorr: make(map[string]uuid.UUID),
	}
}

// FailWrites makes subsequent writes fail. Test hook for store-failure paths.
func (r *MemoryCallRepository) FailWrites(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failing = fail
}

func corrKey(provider, correlationID string) string {
	return provider + "/" + correlationID
}

func (r *MemoryCallRepository) Create(ctx context.Context, c *call.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failing {
		return errWriteFailed
	}
	key := corrKey(c.Provider, c.CorrelationID)
	if _, exists := r.byCorr[key]; exists {
		return errDuplicate
	}
	r.byID[c.ID] = c.Clone()
	r.byCorr[key] = c.ID
	return nil
}

func (r *MemoryCallRepository) GetByID(ctx context.Context, id uuid.UUID) (*call.Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

func (r *MemoryCallRepository) GetByCorrelationID(ctx context.Context, provider, correlationID string) (*call.Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byCorr[corrKey(provider, correlationID)]
	if !ok {
		return nil, ErrNotFound
	}
	return r.byID[id].Clone(), nil
}

func (r *MemoryCallRepository) Update(ctx context.Context, c *call.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failing {
		return errWriteFailed
	}
	if _, ok := r.byID[c.ID]; !ok {
		return ErrNotFound
	}
	r.byID[c.ID] = c.Clone()
	return nil
}

func (r *MemoryCallRepository) List(ctx context.Context) ([]*call.Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	calls := make([]*call.Call, 0, len(r.byID))
	for _, c := range r.byID {
		calls = append(calls, c.Clone())
	}
	sort.Slice(calls, func(i, j int) bool {
		return calls[i].CreatedAt.After(calls[j].CreatedAt)
	})
	return calls, nil
}

// MemoryLeadRepository is an in-memory LeadRepository.
type MemoryLeadRepository struct {
	mu      sync.RWMutex
	byPhone map[string]*lead.Lead
}

// NewMemoryLeadRepository creates an empty in-memory lead store.
func NewMemoryLeadRepository() *MemoryLeadRepository {
	return &MemoryLeadRepository{byPhone: make(map[string]*lead.Lead)}
}

// Add seeds a lead. Test and dev helper.
func (r *MemoryLeadRepository) Add(l *lead.Lead) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dup := *l
	r.byPhone[l.PhoneNumber] = &dup
}

func (r *MemoryLeadRepository) FindByPhone(ctx context.Context, number string) (*lead.Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.byPhone[number]
	if !ok {
		return nil, ErrNotFound
	}
	dup := *l
	return &dup, nil
}

func (r *MemoryLeadRepository) TouchLastContact(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, l := range r.byPhone {
		if l.ID == id {
			t := at
			l.LastContactedAt = &t
			l.UpdatedAt = at
			return nil
		}
	}
	return ErrNotFound
}
