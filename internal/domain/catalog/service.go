package catalog

import (
	"context"
	"fmt"
	"sync"
)

// Service serves procedure code lookups. The full charge master is loaded
// into memory once at startup; claim building does a lookup per line item,
// so reads must not hit the database. Admin upserts refresh the snapshot.
type Service struct {
	repo ProcedureCodeRepository

	mu    sync.RWMutex
	cache map[string]*ProcedureCode
}

func NewService(repo ProcedureCodeRepository) *Service {
	return &Service{repo: repo, cache: make(map[string]*ProcedureCode)}
}

// Load populates the in-memory snapshot from the database.
func (s *Service) Load(ctx context.Context) error {
	codes, err := s.repo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("load procedure catalog: %w", err)
	}

	cache := make(map[string]*ProcedureCode, len(codes))
	for _, pc := range codes {
		cache[pc.Code] = pc
	}

	s.mu.Lock()
	s.cache = cache
	s.mu.Unlock()
	return nil
}

// Lookup returns the catalog entry for a code, or nil if unknown.
func (s *Service) Lookup(code string) *ProcedureCode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache[code]
}

// Size returns the number of codes in the snapshot.
func (s *Service) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

func (s *Service) Upsert(ctx context.Context, pc *ProcedureCode) error {
	if pc.Code == "" {
		return fmt.Errorf("code is required")
	}
	if pc.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !ValidCategory(pc.Category) {
		return fmt.Errorf("invalid category: %s", pc.Category)
	}
	if pc.PriceCents <= 0 {
		return fmt.Errorf("price must be positive, got %d cents", pc.PriceCents)
	}
	if err := s.repo.Upsert(ctx, pc); err != nil {
		return err
	}

	s.mu.Lock()
	s.cache[pc.Code] = pc
	s.mu.Unlock()
	return nil
}

func (s *Service) Get(ctx context.Context, code string) (*ProcedureCode, error) {
	if pc := s.Lookup(code); pc != nil {
		return pc, nil
	}
	return s.repo.GetByCode(ctx, code)
}

func (s *Service) List(ctx context.Context, category string, limit, offset int) ([]*ProcedureCode, int, error) {
	return s.repo.List(ctx, category, limit, offset)
}
