package scm

import (
	"context"
	"slices"
	"sync"

	"dirtydiff/logger"
	"dirtydiff/metrics"
	"dirtydiff/types"
)

// Repository priorities, lower is asked first
const (
	PriorityGit  = 0
	PriorityDisk = 100
)

type registryEntry struct {
	repo     types.Repository
	priority int
	seq      int
}

// Registry is the process-wide ordered set of repositories. Repositories are
// queried by priority, then in registration order.
type Registry struct {
	mu      sync.Mutex
	entries []registryEntry
	seq     int

	added   types.Emitter[types.Repository]
	removed types.Emitter[types.Repository]
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers repo. Reports false if a repository with the same ID is
// already registered.
func (r *Registry) Add(repo types.Repository, priority int) bool {
	r.mu.Lock()
	for _, e := range r.entries {
		if e.repo.ID() == repo.ID() {
			r.mu.Unlock()
			return false
		}
	}
	r.seq++
	r.entries = append(r.entries, registryEntry{repo: repo, priority: priority, seq: r.seq})
	slices.SortStableFunc(r.entries, func(a, b registryEntry) int {
		if a.priority != b.priority {
			return a.priority - b.priority
		}
		return a.seq - b.seq
	})
	r.mu.Unlock()

	metrics.Repositories.Inc()
	logger.Info("scm: registered repository %s", repo.ID())
	r.added.Emit(repo)
	return true
}

// Remove unregisters repo. Reports whether it was registered.
func (r *Registry) Remove(repo types.Repository) bool {
	r.mu.Lock()
	idx := slices.IndexFunc(r.entries, func(e registryEntry) bool { return e.repo == repo })
	if idx < 0 {
		r.mu.Unlock()
		return false
	}
	r.entries = slices.Delete(r.entries, idx, idx+1)
	r.mu.Unlock()

	metrics.Repositories.Dec()
	logger.Info("scm: removed repository %s", repo.ID())
	r.removed.Emit(repo)
	return true
}

// Lookup returns the repository registered under id
func (r *Registry) Lookup(id string) (types.Repository, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.repo.ID() == id {
			return e.repo, true
		}
	}
	return nil, false
}

// Repositories implements types.RepositoryRegistry
func (r *Registry) Repositories() []types.Repository {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Repository, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.repo
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) OnDidAdd(fn func(types.Repository)) func() { return r.added.Subscribe(fn) }

func (r *Registry) OnDidRemove(fn func(types.Repository)) func() { return r.removed.Subscribe(fn) }

// Discover registers the git work tree containing dir, if any, and returns
// the registered repository for it
func (r *Registry) Discover(ctx context.Context, dir, ref string) (types.Repository, error) {
	root, err := gitOutput(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, ErrNotTracked
	}
	if repo, ok := r.Lookup(root); ok {
		return repo, nil
	}

	repo, err := OpenGitRepository(ctx, root, ref)
	if err != nil {
		return nil, err
	}
	if !r.Add(repo, PriorityGit) {
		// lost a race with another discovery
		existing, _ := r.Lookup(repo.ID())
		return existing, nil
	}
	return repo, nil
}
