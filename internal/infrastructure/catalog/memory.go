// Package catalog provides the read-only canonical product snapshot the
// matcher consumes. Catalog enrichment and persistence belong to the
// surrounding system; this source only mirrors what it was handed.
package catalog

import (
	"context"
	"sync"

	"github.com/pantrylens/backend/internal/domain"
)

// MemorySource is a thread-safe snapshot holder. Replace swaps the whole
// snapshot atomically; Snapshot returns a copy so no caller can observe a
// mid-receipt change.
type MemorySource struct {
	products []domain.CatalogProduct
	mutex    sync.RWMutex
}

// NewMemorySource creates a catalog source with an initial snapshot
func NewMemorySource(products []domain.CatalogProduct) *MemorySource {
	return &MemorySource{
		products: append([]domain.CatalogProduct(nil), products...),
	}
}

// Snapshot returns a copy of the current canonical product list
func (s *MemorySource) Snapshot(ctx context.Context) ([]domain.CatalogProduct, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]domain.CatalogProduct(nil), s.products...), nil
}

// Replace swaps in a new snapshot
func (s *MemorySource) Replace(products []domain.CatalogProduct) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.products = append([]domain.CatalogProduct(nil), products...)
}
