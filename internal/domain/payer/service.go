package payer

import (
	"context"
	"fmt"
	"sync"
)

// Service serves payer policy lookups from an in-memory snapshot. Policies
// change through the admin endpoint only; claim adjudication never mutates
// them, so in-flight claims keep the rates they were built with.
type Service struct {
	repo PolicyRepository

	mu    sync.RWMutex
	cache map[string]*Policy
}

func NewService(repo PolicyRepository) *Service {
	return &Service{repo: repo, cache: make(map[string]*Policy)}
}

// Load populates the in-memory snapshot from the database.
func (s *Service) Load(ctx context.Context) error {
	policies, err := s.repo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("load payer policies: %w", err)
	}

	cache := make(map[string]*Policy, len(policies))
	for _, p := range policies {
		cache[p.Category] = p
	}

	s.mu.Lock()
	s.cache = cache
	s.mu.Unlock()
	return nil
}

// Lookup returns the policy for a payer category, or nil if unknown.
func (s *Service) Lookup(category string) *Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache[category]
}

func (s *Service) List(ctx context.Context) ([]*Policy, error) {
	return s.repo.ListAll(ctx)
}

func (s *Service) Upsert(ctx context.Context, p *Policy) error {
	if p.Category == "" {
		return fmt.Errorf("category is required")
	}
	if p.ContractualAdjustmentRate < 0 || p.ContractualAdjustmentRate > 1 {
		return fmt.Errorf("contractual adjustment rate must be in [0,1], got %v", p.ContractualAdjustmentRate)
	}
	if p.CoinsuranceRate < 0 || p.CoinsuranceRate > 1 {
		return fmt.Errorf("coinsurance rate must be in [0,1], got %v", p.CoinsuranceRate)
	}
	// Self-pay terms are fixed: no write-off, everything on the patient.
	if p.Category == CategorySelfPay && (p.ContractualAdjustmentRate != 0 || p.CoinsuranceRate != 1) {
		return fmt.Errorf("self-pay policy must have adjustment rate 0 and coinsurance rate 1")
	}
	if err := s.repo.Upsert(ctx, p); err != nil {
		return err
	}

	s.mu.Lock()
	s.cache[p.Category] = p
	s.mu.Unlock()
	return nil
}

// Seed inserts the default policy table for categories not yet present.
func (s *Service) Seed(ctx context.Context) error {
	for _, p := range DefaultPolicies() {
		if _, err := s.repo.GetByCategory(ctx, p.Category); err == nil {
			continue
		}
		if err := s.Upsert(ctx, p); err != nil {
			return fmt.Errorf("seed policy %s: %w", p.Category, err)
		}
	}
	return nil
}
