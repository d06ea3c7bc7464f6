package store

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/obsidianex/darkpool/internal/model"
	"github.com/obsidianex/darkpool/pkg/errs"
)

// SettlementStore records settlements and their terminal outcomes. Owned
// exclusively by the settlement client; other components only read.
type SettlementStore struct {
	mu          sync.RWMutex
	db          *gorm.DB
	settlements map[uuid.UUID]*model.Settlement
}

// NewSettlementStore creates a settlement store backed by the same optional db
func NewSettlementStore(db *gorm.DB) *SettlementStore {
	return &SettlementStore{
		db:          db,
		settlements: make(map[uuid.UUID]*model.Settlement),
	}
}

// Create records a new settlement
func (s *SettlementStore) Create(st *model.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.settlements[st.ID]; exists {
		return errs.NewConflictError(fmt.Sprintf("settlement %s already exists", st.ID))
	}
	if s.db != nil {
		if err := s.db.Create(st).Error; err != nil {
			return fmt.Errorf("failed to persist settlement: %w", err)
		}
	}
	s.settlements[st.ID] = st
	return nil
}

// Update mutates a settlement under the store lock and persists the result
func (s *SettlementStore) Update(id uuid.UUID, mutate func(st *model.Settlement)) (*model.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.settlements[id]
	if !ok {
		return nil, errs.NewNotFoundError("settlement", id.String())
	}
	mutate(st)
	if s.db != nil {
		if err := s.db.Save(st).Error; err != nil {
			return nil, fmt.Errorf("failed to persist settlement update: %w", err)
		}
	}
	cp := *st
	return &cp, nil
}

// Get returns a copy of the settlement, or a NotFoundError
func (s *SettlementStore) Get(id uuid.UUID) (*model.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.settlements[id]
	if !ok {
		return nil, errs.NewNotFoundError("settlement", id.String())
	}
	cp := *st
	return &cp, nil
}
