package gitx

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testRepo struct {
	t    *testing.T
	dir  string
	repo *git.Repository
	wt   *git.Worktree
}

func initTestRepo(t *testing.T) *testRepo {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	return &testRepo{t: t, dir: dir, repo: repo, wt: wt}
}

func (r *testRepo) write(path, content string) {
	r.t.Helper()
	full := filepath.Join(r.dir, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		r.t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		r.t.Fatal(err)
	}
	if _, err := r.wt.Add(path); err != nil {
		r.t.Fatal(err)
	}
}

func (r *testRepo) remove(path string) {
	r.t.Helper()
	if _, err := r.wt.Remove(path); err != nil {
		r.t.Fatal(err)
	}
}

func (r *testRepo) commit(msg string) string {
	r.t.Helper()
	hash, err := r.wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	if err != nil {
		r.t.Fatal(err)
	}
	return hash.String()
}

func (r *testRepo) open() *Repo {
	r.t.Helper()
	repo, err := Open(context.Background(), r.dir, "", discardLogger())
	if err != nil {
		r.t.Fatal(err)
	}
	return repo
}

func TestOpen_MissingRepoWithoutURL(t *testing.T) {
	_, err := Open(context.Background(), t.TempDir(), "", discardLogger())
	if err == nil {
		t.Fatal("expected error opening an empty directory without a clone url")
	}
}

func TestResolveBranch_LocalBranch(t *testing.T) {
	tr := initTestRepo(t)
	tr.write("main.go", "package main\n")
	want := tr.commit("initial")

	repo := tr.open()
	got, err := repo.ResolveBranch("master", "")
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("ResolveBranch = %s, want %s", got, want)
	}
}

func TestResolveBranch_Unknown(t *testing.T) {
	tr := initTestRepo(t)
	tr.write("main.go", "package main\n")
	tr.commit("initial")

	repo := tr.open()
	if _, err := repo.ResolveBranch("no-such-branch", ""); err == nil {
		t.Fatal("expected error for unknown branch")
	}
}

func TestResolveRef_CommitHash(t *testing.T) {
	tr := initTestRepo(t)
	tr.write("main.go", "package main\n")
	want := tr.commit("initial")

	repo := tr.open()
	got, err := repo.ResolveRef(want)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("ResolveRef = %s, want %s", got, want)
	}
}

func TestReadFile_AtCommit(t *testing.T) {
	tr := initTestRepo(t)
	tr.write("a.go", "v1\n")
	first := tr.commit("v1")
	tr.write("a.go", "v2\n")
	second := tr.commit("v2")

	repo := tr.open()
	data, err := repo.ReadFile(first, "a.go")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "v1\n" {
		t.Errorf("at first commit got %q, want v1", data)
	}
	data, err = repo.ReadFile(second, "a.go")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "v2\n" {
		t.Errorf("at second commit got %q, want v2", data)
	}
}

func TestDiff_EmptyFromIsFullTree(t *testing.T) {
	tr := initTestRepo(t)
	tr.write("a.go", "package a\n")
	tr.write("sub/b.go", "package sub\n")
	head := tr.commit("initial")

	repo := tr.open()
	cs, err := repo.Diff(context.Background(), "", head, DiffOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(cs.Added) != 2 || cs.Added[0] != "a.go" || cs.Added[1] != "sub/b.go" {
		t.Errorf("Added = %v, want [a.go sub/b.go]", cs.Added)
	}
	if len(cs.Modified) != 0 || len(cs.Deleted) != 0 || len(cs.Renamed) != 0 {
		t.Errorf("unexpected non-add changes: %+v", cs)
	}
}

func TestDiff_ClassifiesChanges(t *testing.T) {
	tr := initTestRepo(t)
	tr.write("keep.go", "unchanged\n")
	tr.write("modify.go", "old content\n")
	tr.write("delete.go", "going away\n")
	tr.write("rename_src.go", "stable content that is long enough to match by similarity\n")
	from := tr.commit("base")

	tr.write("modify.go", "new content\n")
	tr.remove("delete.go")
	tr.remove("rename_src.go")
	tr.write("rename_dst.go", "stable content that is long enough to match by similarity\n")
	tr.write("added.go", "brand new\n")
	to := tr.commit("changes")

	repo := tr.open()
	cs, err := repo.Diff(context.Background(), from, to, DiffOptions{})
	if err != nil {
		t.Fatal(err)
	}

	if len(cs.Added) != 1 || cs.Added[0] != "added.go" {
		t.Errorf("Added = %v, want [added.go]", cs.Added)
	}
	if len(cs.Modified) != 1 || cs.Modified[0] != "modify.go" {
		t.Errorf("Modified = %v, want [modify.go]", cs.Modified)
	}
	if len(cs.Deleted) != 1 || cs.Deleted[0] != "delete.go" {
		t.Errorf("Deleted = %v, want [delete.go]", cs.Deleted)
	}
	if len(cs.Renamed) != 1 || cs.Renamed[0] != (Rename{From: "rename_src.go", To: "rename_dst.go"}) {
		t.Errorf("Renamed = %v, want rename_src.go -> rename_dst.go", cs.Renamed)
	}
}

func TestDiff_IncludeExtensions(t *testing.T) {
	tr := initTestRepo(t)
	tr.write("main.go", "package main\n")
	tr.write("readme.md", "# hi\n")
	tr.write("notes.txt", "scratch\n")
	head := tr.commit("initial")

	repo := tr.open()
	cs, err := repo.Diff(context.Background(), "", head, DiffOptions{IncludeExtensions: []string{"go", ".MD"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(cs.Added) != 2 || cs.Added[0] != "main.go" || cs.Added[1] != "readme.md" {
		t.Errorf("Added = %v, want [main.go readme.md]", cs.Added)
	}

	tr.write("main.go", "package main // changed\n")
	tr.remove("notes.txt")
	tr.remove("readme.md")
	tr.write("readme.rst", "hi\n")
	to := tr.commit("changes")

	cs, err = repo.Diff(context.Background(), head, to, DiffOptions{IncludeExtensions: []string{"go", "md"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(cs.Modified) != 1 || cs.Modified[0] != "main.go" {
		t.Errorf("Modified = %v, want [main.go]", cs.Modified)
	}
	// notes.txt was never in scope; the readme moved out of scope, so only
	// its deletion is visible.
	if len(cs.Deleted) != 1 || cs.Deleted[0] != "readme.md" {
		t.Errorf("Deleted = %v, want [readme.md]", cs.Deleted)
	}
	if len(cs.Added) != 0 || len(cs.Renamed) != 0 {
		t.Errorf("unexpected additions or renames: %+v", cs)
	}
}

func TestDiff_IdenticalCommitsEmpty(t *testing.T) {
	tr := initTestRepo(t)
	tr.write("a.go", "package a\n")
	head := tr.commit("initial")

	repo := tr.open()
	cs, err := repo.Diff(context.Background(), head, head, DiffOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !cs.Empty() {
		t.Errorf("diff of a commit with itself should be empty, got %+v", cs)
	}
}

func TestListFiles(t *testing.T) {
	tr := initTestRepo(t)
	tr.write("a.go", "package a\n")
	tr.write("docs/readme.md", "# hi\n")
	head := tr.commit("initial")

	repo := tr.open()
	files, err := repo.ListFiles(head)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Errorf("ListFiles = %v, want 2 entries", files)
	}
}

func TestIsLocalPath(t *testing.T) {
	if !IsLocalPath(t.TempDir()) {
		t.Error("existing directory should be local")
	}
	if IsLocalPath("https://example.com/repo.git") {
		t.Error("url should not be local")
	}
	if IsLocalPath("") {
		t.Error("empty url should not be local")
	}
}
