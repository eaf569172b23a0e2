// Package profilestore holds the store profile catalog. The surrounding
// system owns durable storage; this in-process catalog is the read-mostly
// working set the extraction core operates on.
package profilestore

import (
	"context"
	"sort"
	"sync"

	"github.com/pantrylens/backend/internal/domain"
)

// MemoryStore is a thread-safe in-memory profile catalog with optimistic
// concurrency: writers commit only if the stored sample count still matches
// what they read, so concurrent learning jobs never silently overwrite a
// confidence update. Profiles are never removed, only replaced.
type MemoryStore struct {
	profiles map[string]*domain.StoreProfile
	mutex    sync.RWMutex
}

// NewMemoryStore creates an empty profile store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string]*domain.StoreProfile),
	}
}

// GetByID retrieves one profile by id
func (s *MemoryStore) GetByID(ctx context.Context, id string) (*domain.StoreProfile, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	profile, exists := s.profiles[id]
	if !exists {
		return nil, domain.ErrProfileNotFound
	}
	return profile.Clone(), nil
}

// List returns all profiles in a stable order
func (s *MemoryStore) List(ctx context.Context) ([]*domain.StoreProfile, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	result := make([]*domain.StoreProfile, 0, len(s.profiles))
	for _, profile := range s.profiles {
		result = append(result, profile.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Create registers a new profile
func (s *MemoryStore) Create(ctx context.Context, profile *domain.StoreProfile) error {
	if profile == nil || profile.ID == "" {
		return domain.ErrInvalidRequest
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.profiles[profile.ID] = profile.Clone()
	return nil
}

// CompareAndUpdate commits the profile only if the stored sample count still
// equals expectedSampleCount. A conflicting concurrent write returns
// ErrVersionConflict and leaves the stored profile untouched.
func (s *MemoryStore) CompareAndUpdate(ctx context.Context, profile *domain.StoreProfile, expectedSampleCount int) error {
	if profile == nil || profile.ID == "" {
		return domain.ErrInvalidRequest
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	current, exists := s.profiles[profile.ID]
	if !exists {
		return domain.ErrProfileNotFound
	}
	if current.SampleCount != expectedSampleCount {
		return domain.ErrVersionConflict
	}

	s.profiles[profile.ID] = profile.Clone()
	return nil
}

// Size returns the number of registered profiles
func (s *MemoryStore) Size() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.profiles)
}
