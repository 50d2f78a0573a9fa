// Package cache provides the read-cache invalidation sink the replay
// processor signals after a successful run, so subsequently rendered views
// reflect the synced state.
package cache

import (
	"sync"

	"github.com/fieldsync/fieldsync/internal/models"
)

// Invalidator accepts invalidation requests keyed by organization and coarse
// entity class.
type Invalidator interface {
	Invalidate(organizationID string, classes []models.EntityClass)
}

// Func adapts a function to the Invalidator interface.
type Func func(organizationID string, classes []models.EntityClass)

// Invalidate implements Invalidator.
func (f Func) Invalidate(organizationID string, classes []models.EntityClass) {
	f(organizationID, classes)
}

// generationKey identifies one (organization, entity class) cache scope.
type generationKey struct {
	orgID string
	class models.EntityClass
}

// Registry tracks a monotonically increasing generation per
// (organization, entity class). Readers compare generations to decide
// whether their cached collection is still fresh.
type Registry struct {
	mu          sync.Mutex
	generations map[generationKey]int64
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{generations: make(map[generationKey]int64)}
}

// Invalidate implements Invalidator by bumping the generation of each
// affected scope.
func (r *Registry) Invalidate(organizationID string, classes []models.EntityClass) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, class := range classes {
		r.generations[generationKey{organizationID, class}]++
	}
}

// Generation returns the current generation for one scope.
func (r *Registry) Generation(organizationID string, class models.EntityClass) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generations[generationKey{organizationID, class}]
}
