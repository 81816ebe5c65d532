// Package collector holds the pure registration table mapping task ids to
// fetch functions (SPEC_FULL.md §4.3). The concrete HTTP clients for market
// data / macro / exchange providers are external collaborators per spec.md
// §1 and are not implemented here; Register accepts any domain.FetchFunc,
// including the in-repo synthetic ones used by tests.
package collector

import "github.com/sqryxz/mts-pipeline/internal/domain"

// Registry is a pure map from task_id to its registered Collector.
type Registry struct {
	byTaskID map[string]domain.Collector
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byTaskID: make(map[string]domain.Collector)}
}

// Register adds a Collector, keyed by its TaskID. Registering the same
// task_id twice replaces the previous registration (used by tests to stub
// fetch behavior).
func (r *Registry) Register(c domain.Collector) {
	r.byTaskID[c.TaskID] = c
}

// Get returns the Collector for a task_id, or ok=false if unregistered.
func (r *Registry) Get(taskID string) (domain.Collector, bool) {
	c, ok := r.byTaskID[taskID]
	return c, ok
}

// TaskIDs returns every registered task_id, order unspecified.
func (r *Registry) TaskIDs() []string {
	ids := make([]string, 0, len(r.byTaskID))
	for id := range r.byTaskID {
		ids = append(ids, id)
	}
	return ids
}
