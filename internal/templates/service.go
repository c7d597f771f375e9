// Package templates provides checklist template lookup with caching.
package templates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sitewatch/kestrel/internal/domain"
	"github.com/sitewatch/kestrel/internal/repository"
)

// Service resolves checklist templates by category and property type.
// Lookups are cached because template catalogs change rarely and every
// checklist-bearing detection performs one. A stale hit can only cause
// a planning skip, never a wrong row.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
	ttl   time.Duration
}

// NewService creates a new template lookup service.
func NewService(repo domain.Repository, cache domain.Cache, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{
		repo:  repo,
		cache: cache,
		ttl:   ttl,
	}
}

// Find returns the first enabled template matching the category and
// property type. Returns repository.ErrNotFound when no template matches.
func (s *Service) Find(ctx context.Context, tenantID, category, propertyType string) (*domain.ChecklistTemplate, error) {
	if tenantID == "" || category == "" {
		return nil, fmt.Errorf("%w: tenantID and category are required", repository.ErrInvalidInput)
	}

	key := cacheKey(category, propertyType)

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, tenantID, key); err == nil && cached != nil {
			var t domain.ChecklistTemplate
			if err := json.Unmarshal(cached, &t); err == nil {
				return &t, nil
			}
		}
	}

	t, err := s.repo.FindTemplate(ctx, tenantID, category, propertyType)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(t); err == nil {
			s.cache.Set(ctx, tenantID, key, data, s.ttl)
		}
	}

	return t, nil
}

// Get returns a template by ID, bypassing the cache.
func (s *Service) Get(ctx context.Context, tenantID, templateID string) (*domain.ChecklistTemplate, error) {
	return s.repo.GetTemplate(ctx, tenantID, templateID)
}

// Save stores a template and invalidates the lookup cache entries its
// property type associations could have satisfied.
func (s *Service) Save(ctx context.Context, tenantID string, t *domain.ChecklistTemplate) error {
	if err := s.repo.SaveTemplate(ctx, tenantID, t); err != nil {
		return err
	}
	if s.cache != nil {
		for _, pt := range t.PropertyTypes {
			s.cache.Delete(ctx, tenantID, cacheKey(t.Category, pt))
		}
	}
	return nil
}

// Exists reports whether an enabled template matches.
func (s *Service) Exists(ctx context.Context, tenantID, category, propertyType string) (bool, error) {
	_, err := s.Find(ctx, tenantID, category, propertyType)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func cacheKey(category, propertyType string) string {
	return fmt.Sprintf("template:%s:%s", category, propertyType)
}
