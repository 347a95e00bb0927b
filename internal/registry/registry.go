package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

var (
	ErrNotFound      = errors.New("repository not registered")
	ErrAlreadyExists = errors.New("repository already registered")
)

// Dependency pins another registered repository at a ref.
type Dependency struct {
	Name string `json:"name"`
	Ref  string `json:"ref,omitempty"`
}

// Repository is one tracked repository. Invariants held by every mutation:
// the active branch is always one of the tracked branches, and last-synced
// commits are only recorded for tracked branches.
type Repository struct {
	Name            string            `json:"name"`
	URL             string            `json:"url,omitempty"`
	LocalPath       string            `json:"local_path,omitempty"`
	Remote          string            `json:"remote,omitempty"`
	DefaultBranch   string            `json:"default_branch"`
	TrackedBranches []string          `json:"tracked_branches"`
	ActiveBranch    string            `json:"active_branch"`
	LastSynced      map[string]string `json:"last_synced,omitempty"`
	TargetRef       string            `json:"target_ref,omitempty"`
	Dependencies    []Dependency      `json:"dependencies,omitempty"`
	Local           bool              `json:"local"`
	AddedAt         time.Time         `json:"added_at"`
}

// IsTracked reports whether branch is in the tracked set.
func (r *Repository) IsTracked(branch string) bool {
	for _, b := range r.TrackedBranches {
		if b == branch {
			return true
		}
	}
	return false
}

// Registry is the persisted set of repositories. One JSON document on disk,
// rewritten atomically on every mutation.
type Registry struct {
	mu     sync.RWMutex
	path   string
	repos  map[string]*Repository
	active string
}

type fileFormat struct {
	ActiveRepository string        `json:"active_repository,omitempty"`
	Repositories     []*Repository `json:"repositories"`
}

// Load reads the registry at path. A missing file yields an empty registry.
func Load(path string) (*Registry, error) {
	r := &Registry{path: path, repos: make(map[string]*Repository)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", path, err)
	}
	for _, repo := range f.Repositories {
		r.repos[repo.Name] = repo
	}
	if _, ok := r.repos[f.ActiveRepository]; ok {
		r.active = f.ActiveRepository
	}
	return r, nil
}

// ActiveRepository returns the name of the repository operations default to,
// or "" when none is set.
func (r *Registry) ActiveRepository() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// SetActiveRepository marks a registered repository as the default.
func (r *Registry) SetActiveRepository(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.repos[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	before := r.active
	r.active = name
	if err := r.saveLocked(); err != nil {
		r.active = before
		return err
	}
	return nil
}

// Add registers a repository. Exactly one of url or localPath must be set.
// Dependencies must name repositories that are already registered.
func (r *Registry) Add(name, url, localPath, branch, targetRef string, deps []Dependency) (*Repository, error) {
	if name == "" {
		return nil, errors.New("repository name is required")
	}
	if (url == "") == (localPath == "") {
		return nil, errors.New("exactly one of url or local path is required")
	}
	if branch == "" {
		branch = "main"
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.repos[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}
	for _, dep := range deps {
		if dep.Name == name {
			return nil, fmt.Errorf("repository %s cannot depend on itself", name)
		}
		if _, ok := r.repos[dep.Name]; !ok {
			return nil, fmt.Errorf("dependency %q: %w", dep.Name, ErrNotFound)
		}
	}

	repo := &Repository{
		Name:            name,
		URL:             url,
		LocalPath:       localPath,
		DefaultBranch:   branch,
		TrackedBranches: []string{branch},
		ActiveBranch:    branch,
		LastSynced:      make(map[string]string),
		TargetRef:       targetRef,
		Dependencies:    deps,
		Local:           localPath != "",
		AddedAt:         time.Now().UTC(),
	}
	r.repos[name] = repo
	beforeActive := r.active
	if r.active == "" {
		// The first registered repository becomes the default.
		r.active = name
	}
	if err := r.saveLocked(); err != nil {
		delete(r.repos, name)
		r.active = beforeActive
		return nil, err
	}
	return cloneRepo(repo), nil
}

// Remove drops a repository. Repositories that others depend on cannot be
// removed.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	repo, ok := r.repos[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	for _, other := range r.repos {
		for _, dep := range other.Dependencies {
			if dep.Name == name {
				return fmt.Errorf("repository %s is a dependency of %s", name, other.Name)
			}
		}
	}
	delete(r.repos, name)
	beforeActive := r.active
	if r.active == name {
		r.active = ""
	}
	if err := r.saveLocked(); err != nil {
		r.repos[name] = repo
		r.active = beforeActive
		return err
	}
	return nil
}

// Get returns a copy of the named repository.
func (r *Registry) Get(name string) (*Repository, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	repo, ok := r.repos[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return cloneRepo(repo), nil
}

// List returns copies of all repositories sorted by name.
func (r *Registry) List() []*Repository {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Repository, 0, len(r.repos))
	for _, repo := range r.repos {
		out = append(out, cloneRepo(repo))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// TrackBranch adds a branch to the tracked set. Tracking an already tracked
// branch is a no-op.
func (r *Registry) TrackBranch(name, branch string) error {
	return r.mutate(name, func(repo *Repository) error {
		if branch == "" {
			return errors.New("branch name is required")
		}
		if repo.IsTracked(branch) {
			return nil
		}
		repo.TrackedBranches = append(repo.TrackedBranches, branch)
		return nil
	})
}

// SetActive switches the active branch, tracking it first if needed.
func (r *Registry) SetActive(name, branch string) error {
	return r.mutate(name, func(repo *Repository) error {
		if branch == "" {
			return errors.New("branch name is required")
		}
		if !repo.IsTracked(branch) {
			repo.TrackedBranches = append(repo.TrackedBranches, branch)
		}
		repo.ActiveBranch = branch
		return nil
	})
}

// RecordSync stores the commit a branch was last synced to. The branch must
// be tracked.
func (r *Registry) RecordSync(name, branch, commit string) error {
	return r.mutate(name, func(repo *Repository) error {
		if !repo.IsTracked(branch) {
			return fmt.Errorf("branch %q of %s is not tracked", branch, name)
		}
		if repo.LastSynced == nil {
			repo.LastSynced = make(map[string]string)
		}
		repo.LastSynced[branch] = commit
		return nil
	})
}

// LastSynced returns the commit branch was last synced to, or "" when the
// branch has never been synced.
func (r *Registry) LastSynced(name, branch string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	repo, ok := r.repos[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return repo.LastSynced[branch], nil
}

// SetRemote names the git remote syncs fetch from. Empty means origin.
func (r *Registry) SetRemote(name, remote string) error {
	return r.mutate(name, func(repo *Repository) error {
		repo.Remote = remote
		return nil
	})
}

// SetTargetRef pins (or with "" unpins) the repository at a fixed ref.
func (r *Registry) SetTargetRef(name, ref string) error {
	return r.mutate(name, func(repo *Repository) error {
		repo.TargetRef = ref
		return nil
	})
}

func (r *Registry) mutate(name string, fn func(*Repository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	repo, ok := r.repos[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	before := cloneRepo(repo)
	if err := fn(repo); err != nil {
		return err
	}
	if err := r.saveLocked(); err != nil {
		r.repos[name] = before
		return err
	}
	return nil
}

// saveLocked writes the whole registry atomically. Callers hold mu.
func (r *Registry) saveLocked() error {
	repos := make([]*Repository, 0, len(r.repos))
	for _, repo := range r.repos {
		repos = append(repos, repo)
	}
	sort.Slice(repos, func(i, j int) bool { return repos[i].Name < repos[j].Name })

	data, err := json.MarshalIndent(fileFormat{ActiveRepository: r.active, Repositories: repos}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace registry: %w", err)
	}
	return nil
}

func cloneRepo(repo *Repository) *Repository {
	out := *repo
	out.TrackedBranches = append([]string(nil), repo.TrackedBranches...)
	out.Dependencies = append([]Dependency(nil), repo.Dependencies...)
	out.LastSynced = make(map[string]string, len(repo.LastSynced))
	for k, v := range repo.LastSynced {
		out.LastSynced[k] = v
	}
	return &out
}
