package job

import (
	"fmt"
	"slices"
	"sync"
)

// Registry maps job names to implementations. It is an explicit value
// handed to the runner and the entry manager; there is no package-level
// registry.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]Job)}
}

// Register adds j under name. Returns an error if name is empty, j is nil,
// or the name is already taken.
func (r *Registry) Register(name string, j Job) error {
	if name == "" {
		return fmt.Errorf("job: empty job name")
	}
	if j == nil {
		return fmt.Errorf("job: nil implementation for %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[name]; exists {
		return fmt.Errorf("job: duplicate job name %q", name)
	}
	r.jobs[name] = j
	return nil
}

// RegisterProvider registers every job a Provider contributes.
func (r *Registry) RegisterProvider(p Provider) error {
	jobs := p.Jobs()
	names := make([]string, 0, len(jobs))
	for name := range jobs {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if err := r.Register(name, jobs[name]); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the job registered under name.
func (r *Registry) Lookup(name string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[name]
	return j, ok
}

// Names returns all registered job names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Len returns the number of registered jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
