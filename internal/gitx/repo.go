package gitx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Repo wraps a cloned repository on disk.
type Repo struct {
	repo   *git.Repository
	path   string
	logger *slog.Logger
}

// Open opens the clone at path, cloning from url first when the directory
// holds no repository yet. A bare url of "" opens an existing clone only.
func Open(ctx context.Context, path, url string, logger *slog.Logger) (*Repo, error) {
	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		if url == "" {
			return nil, fmt.Errorf("no repository at %s and no url to clone from", path)
		}
		logger.Info("cloning repository", "url", url, "path", path)
		repo, err = git.PlainCloneContext(ctx, path, false, &git.CloneOptions{
			URL: url,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", path, err)
	}
	return &Repo{repo: repo, path: path, logger: logger}, nil
}

// Path returns the on-disk location of the clone.
func (r *Repo) Path() string { return r.path }

// Fetch updates remote-tracking refs. An empty remote means origin; already
// up to date is success.
func (r *Repo) Fetch(ctx context.Context, remote string) error {
	if remote == "" {
		remote = "origin"
	}
	err := r.repo.FetchContext(ctx, &git.FetchOptions{RemoteName: remote})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	return nil
}

// ResolveBranch maps a branch name to the commit it points at, preferring
// the remote-tracking ref over the local one so a fetch is enough to pick up
// new upstream commits. An empty remote means origin.
func (r *Repo) ResolveBranch(branch, remote string) (string, error) {
	if remote == "" {
		remote = "origin"
	}
	for _, name := range []plumbing.ReferenceName{
		plumbing.NewRemoteReferenceName(remote, branch),
		plumbing.NewBranchReferenceName(branch),
	} {
		ref, err := r.repo.Reference(name, true)
		if err == nil {
			return ref.Hash().String(), nil
		}
	}
	hash, err := r.repo.ResolveRevision(plumbing.Revision(branch))
	if err != nil {
		return "", fmt.Errorf("resolve branch %q: %w", branch, err)
	}
	return hash.String(), nil
}

// ResolveRef resolves any revision expression (tag, hash, symbolic ref) to a
// full commit hash.
func (r *Repo) ResolveRef(ref string) (string, error) {
	hash, err := r.repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return "", fmt.Errorf("resolve ref %q: %w", ref, err)
	}
	return hash.String(), nil
}

// ReadFile returns the contents of path as of the given commit.
func (r *Repo) ReadFile(commitHash, path string) ([]byte, error) {
	tree, err := r.treeAt(commitHash)
	if err != nil {
		return nil, err
	}
	f, err := tree.File(path)
	if err != nil {
		return nil, fmt.Errorf("file %s at %s: %w", path, commitHash, err)
	}
	reader, err := f.Blob.Reader()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// ListFiles returns every path in the commit's tree.
func (r *Repo) ListFiles(commitHash string) ([]string, error) {
	tree, err := r.treeAt(commitHash)
	if err != nil {
		return nil, err
	}
	var paths []string
	err = tree.Files().ForEach(func(f *object.File) error {
		paths = append(paths, f.Name)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk tree at %s: %w", commitHash, err)
	}
	return paths, nil
}

func (r *Repo) treeAt(commitHash string) (*object.Tree, error) {
	commit, err := r.repo.CommitObject(plumbing.NewHash(commitHash))
	if err != nil {
		return nil, fmt.Errorf("commit %s: %w", commitHash, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("tree of %s: %w", commitHash, err)
	}
	return tree, nil
}

// IsLocalPath reports whether url names a directory on this machine rather
// than a remote. Local repositories are indexed in place and never fetched.
func IsLocalPath(url string) bool {
	if url == "" {
		return false
	}
	info, err := os.Stat(url)
	return err == nil && info.IsDir()
}
