package gitx

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"
)

// DiffOptions restricts which paths Diff reports.
type DiffOptions struct {
	// IncludeExtensions, when non-empty, keeps only paths whose extension
	// is in the set. Entries match case-insensitively with or without the
	// leading dot, so "go" and ".Go" are equivalent.
	IncludeExtensions []string
}

func (o DiffOptions) includes(path string) bool {
	if len(o.IncludeExtensions) == 0 {
		return true
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	for _, e := range o.IncludeExtensions {
		if strings.ToLower(strings.TrimPrefix(e, ".")) == ext {
			return true
		}
	}
	return false
}

// Rename records a file moving between two commits.
type Rename struct {
	From string
	To   string
}

// ChangeSet lists the files that differ between two commits, grouped by the
// action the indexer has to take. Paths are sorted so processing order is
// stable run to run.
type ChangeSet struct {
	Added    []string
	Modified []string
	Deleted  []string
	Renamed  []Rename
}

// Empty reports whether the change set requires no work.
func (c ChangeSet) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Deleted) == 0 && len(c.Renamed) == 0
}

// Diff computes the changes between two commits. An empty fromHash means
// everything in toHash is new, which is how the first sync of a branch runs.
// Paths under .git are never reported, and opts can narrow the result to an
// extension set.
func (r *Repo) Diff(ctx context.Context, fromHash, toHash string, opts DiffOptions) (ChangeSet, error) {
	if fromHash == "" {
		paths, err := r.ListFiles(toHash)
		if err != nil {
			return ChangeSet{}, err
		}
		var cs ChangeSet
		for _, p := range paths {
			if isGitInternal(p) || !opts.includes(p) {
				continue
			}
			cs.Added = append(cs.Added, p)
		}
		sort.Strings(cs.Added)
		return cs, nil
	}

	oldTree, err := r.treeAt(fromHash)
	if err != nil {
		return ChangeSet{}, err
	}
	newTree, err := r.treeAt(toHash)
	if err != nil {
		return ChangeSet{}, err
	}

	changes, err := object.DiffTreeWithOptions(ctx, oldTree, newTree, &object.DiffTreeOptions{
		DetectRenames: true,
		RenameScore:   50,
	})
	if err != nil {
		return ChangeSet{}, fmt.Errorf("diff %s..%s: %w", fromHash, toHash, err)
	}

	var cs ChangeSet
	for _, change := range changes {
		action, err := change.Action()
		if err != nil {
			return ChangeSet{}, fmt.Errorf("change action: %w", err)
		}
		switch action {
		case merkletrie.Insert:
			if !isGitInternal(change.To.Name) && opts.includes(change.To.Name) {
				cs.Added = append(cs.Added, change.To.Name)
			}
		case merkletrie.Delete:
			if !isGitInternal(change.From.Name) && opts.includes(change.From.Name) {
				cs.Deleted = append(cs.Deleted, change.From.Name)
			}
		case merkletrie.Modify:
			if isGitInternal(change.From.Name) && isGitInternal(change.To.Name) {
				continue
			}
			if change.From.Name != change.To.Name {
				// A rename that crosses the extension boundary degrades to
				// the half that is still in scope.
				fromIn := opts.includes(change.From.Name)
				toIn := opts.includes(change.To.Name)
				switch {
				case fromIn && toIn:
					cs.Renamed = append(cs.Renamed, Rename{From: change.From.Name, To: change.To.Name})
				case toIn:
					cs.Added = append(cs.Added, change.To.Name)
				case fromIn:
					cs.Deleted = append(cs.Deleted, change.From.Name)
				}
			} else if opts.includes(change.To.Name) {
				cs.Modified = append(cs.Modified, change.To.Name)
			}
		}
	}

	sort.Strings(cs.Added)
	sort.Strings(cs.Modified)
	sort.Strings(cs.Deleted)
	sort.Slice(cs.Renamed, func(i, j int) bool { return cs.Renamed[i].To < cs.Renamed[j].To })
	return cs, nil
}

func isGitInternal(path string) bool {
	return path == ".git" || strings.HasPrefix(path, ".git/")
}
