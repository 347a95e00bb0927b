package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/repovec/repovec/internal/chunk"
	"github.com/repovec/repovec/internal/config"
	"github.com/repovec/repovec/internal/embed"
	"github.com/repovec/repovec/internal/gitx"
	"github.com/repovec/repovec/internal/registry"
	"github.com/repovec/repovec/internal/sparse"
	"github.com/repovec/repovec/internal/vecstore"
	"github.com/repovec/repovec/internal/vocab"
)

// consecutiveUpsertFailureLimit aborts the sync when this many upserts in a
// row fail after retries. Isolated failures are recorded and tolerated.
const consecutiveUpsertFailureLimit = 3

// Stats summarizes one sync run.
type Stats struct {
	FilesIndexed  int
	FilesSkipped  int
	FilesFailed   int
	FilesDeleted  int
	ChunksIndexed int
	Batches       int
	Elapsed       time.Duration
}

// FilesPerSec is the average indexing throughput of the run.
func (s *Stats) FilesPerSec() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.FilesIndexed) / s.Elapsed.Seconds()
}

// flightLock is a non-blocking per-(repo, branch) lock. A second sync for
// the same key fails fast instead of queueing.
type flightLock struct {
	state atomic.Int32
}

func (l *flightLock) TryAcquire() bool { return l.state.CompareAndSwap(0, 1) }
func (l *flightLock) Release()         { l.state.Store(0) }

// Orchestrator drives repository syncs. One orchestrator is shared by all
// repositories; per-(repo, branch) single-flight is enforced internally.
type Orchestrator struct {
	cfg      *config.Config
	store    vecstore.Store
	provider embed.Provider
	reg      *registry.Registry
	builder  *sparse.Builder
	logger   *slog.Logger
	tracer   trace.Tracer

	mu      sync.Mutex
	flights map[string]*flightLock
}

func New(cfg *config.Config, store vecstore.Store, provider embed.Provider, reg *registry.Registry, builder *sparse.Builder, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		provider: provider,
		reg:      reg,
		builder:  builder,
		logger:   logger,
		tracer:   otel.Tracer("github.com/repovec/repovec"),
		flights:  make(map[string]*flightLock),
	}
}

func (o *Orchestrator) flight(key string) *flightLock {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.flights[key]
	if !ok {
		l = &flightLock{}
		o.flights[key] = l
	}
	return l
}

// Sync runs one repository's active branch through the full pipeline.
// Progress is published on reporter; the returned stats are valid even when
// err is non-nil.
func (o *Orchestrator) Sync(ctx context.Context, repoName string, force bool, reporter *Reporter) (*Stats, error) {
	stats := &Stats{}
	start := time.Now()
	defer func() { stats.Elapsed = time.Since(start) }()

	rec, err := o.reg.Get(repoName)
	if err != nil {
		reporter.Start(func() {})
		reporter.Finish(false, err.Error())
		return stats, newError(KindConfig, "repository lookup", err)
	}
	branch := rec.ActiveBranch

	lock := o.flight(repoName + "|" + branch)
	if !lock.TryAcquire() {
		reporter.Start(func() {})
		reporter.Finish(false, ErrSyncInProgress.Error())
		return stats, ErrSyncInProgress
	}
	defer lock.Release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	reporter.Start(cancel)

	ctx, span := o.tracer.Start(ctx, "sync",
		trace.WithAttributes(
			attribute.String("repo", repoName),
			attribute.String("branch", branch),
			attribute.Bool("force", force),
		))
	defer span.End()

	message, err := o.run(ctx, rec, branch, force, reporter, stats)
	if err != nil {
		err = o.classify(err, reporter)
		o.logger.Error("sync failed", "repo", repoName, "branch", branch, "error", err)
		reporter.Finish(false, err.Error())
		return stats, err
	}

	o.logger.Info("sync finished", "repo", repoName, "branch", branch,
		"indexed", stats.FilesIndexed, "skipped", stats.FilesSkipped,
		"failed", stats.FilesFailed, "deleted", stats.FilesDeleted)
	reporter.Finish(true, message)
	return stats, nil
}

// classify upgrades raw context errors to their sync meaning. A watchdog
// cancellation and a user cancellation look identical at the context level.
func (o *Orchestrator) classify(err error, reporter *Reporter) error {
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	if reporter.WatchdogFired() {
		return newError(KindWatchdog, "no progress within watchdog interval", err)
	}
	if errors.Is(err, context.Canceled) {
		return newError(KindCancelled, "sync cancelled", err)
	}
	return newError(KindTransient, "sync failed", err)
}

func (o *Orchestrator) run(ctx context.Context, rec *registry.Repository, branch string, force bool, reporter *Reporter, stats *Stats) (string, error) {
	repoPath := rec.LocalPath
	cloneURL := ""
	if !rec.Local {
		dir, err := o.cfg.CloneDir(rec.Name)
		if err != nil {
			return "", newError(KindConfig, "resolve clone directory", err)
		}
		repoPath = dir
		cloneURL = rec.URL
	}

	reporter.Emit(Event{Stage: StageIdle, Message: "starting sync"})
	reporter.Emit(Event{Stage: StageGitFetch, Message: "opening repository"})
	repo, err := gitx.Open(ctx, repoPath, cloneURL, o.logger)
	if err != nil {
		return "", newError(KindTransient, "open repository", err)
	}

	// Local clones are indexed in place and pinned repos never move, so
	// neither needs a fetch.
	if !rec.Local && rec.TargetRef == "" {
		remote := rec.Remote
		if remote == "" {
			remote = "origin"
		}
		reporter.Emit(Event{Stage: StageGitFetch, Message: "fetching " + remote})
		if err := o.withRetry(ctx, func() error { return repo.Fetch(ctx, rec.Remote) }); err != nil {
			return "", newError(KindTransient, "fetch", err)
		}
	}

	var target string
	if rec.TargetRef != "" {
		target, err = repo.ResolveRef(rec.TargetRef)
	} else {
		target, err = repo.ResolveBranch(branch, rec.Remote)
	}
	if err != nil {
		return "", newError(KindTransient, "resolve target", err)
	}

	collection := config.CollectionName(o.cfg.Performance.CollectionNamePrefix, rec.Name)
	vocabPath, err := o.cfg.VocabPath(collection)
	if err != nil {
		return "", newError(KindConfig, "resolve vocabulary path", err)
	}
	voc, err := vocab.Load(vocabPath)
	if err != nil {
		return "", newError(KindInvariant, "load vocabulary", err)
	}

	dim := o.provider.Dimension()
	if err := o.store.EnsureCollection(ctx, collection, dim); err != nil {
		if errors.Is(err, vecstore.ErrSchemaMismatch) {
			return "", newError(KindSchema, "collection schema", err)
		}
		return "", newError(KindTransient, "ensure collection", err)
	}

	reporter.Emit(Event{Stage: StageDiffCalculation, Message: "computing change set"})
	from, err := o.reg.LastSynced(rec.Name, branch)
	if err != nil {
		return "", newError(KindConfig, "last synced lookup", err)
	}
	if force {
		// Force reindexes the whole current tree; deterministic point
		// ids make this an in-place replace.
		from = ""
	}
	if from == target {
		return "already up-to-date", nil
	}
	cs, err := repo.Diff(ctx, from, target, gitx.DiffOptions{IncludeExtensions: o.cfg.Indexing.IncludeExtensions})
	if err != nil {
		return "", newError(KindTransient, "diff", err)
	}
	if cs.Empty() {
		if err := o.reg.RecordSync(rec.Name, branch, target); err != nil {
			return "", newError(KindConfig, "record sync", err)
		}
		return "already up-to-date", nil
	}

	toIndex := make([]string, 0, len(cs.Added)+len(cs.Modified)+len(cs.Renamed))
	toIndex = append(toIndex, cs.Added...)
	toIndex = append(toIndex, cs.Modified...)
	toDelete := append([]string(nil), cs.Deleted...)
	for _, rn := range cs.Renamed {
		toIndex = append(toIndex, rn.To)
		toDelete = append(toDelete, rn.From)
	}
	sort.Strings(toIndex)
	sort.Strings(toDelete)

	reporter.Emit(Event{
		Stage:   StageCollectFiles,
		Message: fmt.Sprintf("%d files to index, %d to delete", len(toIndex), len(toDelete)),
		Total:   len(toIndex),
	})
	reporter.Emit(Event{Stage: StageQueryLanguages, Message: languagesOf(toIndex)})

	if err := o.deleteOldPoints(ctx, collection, branch, toDelete, reporter, stats); err != nil {
		return "", err
	}
	if err := o.indexFiles(ctx, repo, collection, branch, target, toIndex, cs.Modified, force, voc, reporter, stats); err != nil {
		return "", err
	}

	reporter.Emit(Event{Stage: StageVerifyingCollection, Message: "verifying collection"})
	count, err := o.store.Count(ctx, collection)
	if err != nil {
		return "", newError(KindTransient, "count points", err)
	}
	if err := voc.Save(vocabPath); err != nil {
		return "", newError(KindTransient, "save vocabulary", err)
	}
	if err := o.reg.RecordSync(rec.Name, branch, target); err != nil {
		return "", newError(KindConfig, "record sync", err)
	}

	return fmt.Sprintf("synced %s@%s to %s (%d points)", rec.Name, branch, shortHash(target), count), nil
}

func (o *Orchestrator) deleteOldPoints(ctx context.Context, collection, branch string, paths []string, reporter *Reporter, stats *Stats) error {
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := o.withRetry(ctx, func() error {
			return o.store.DeleteByFile(ctx, collection, path, branch)
		})
		if err != nil {
			return newError(KindTransient, fmt.Sprintf("delete points for %s", path), err)
		}
		stats.FilesDeleted++
		reporter.Emit(Event{
			Stage:       StageDeleteFile,
			Message:     "deleting stale points",
			CurrentFile: path,
			Current:     i + 1,
			Total:       len(paths),
		})
	}
	return nil
}

// pendingChunk is a chunk waiting for batch assembly, bound to the file it
// came from.
type pendingChunk struct {
	content string
	meta    chunk.Metadata
}

func (o *Orchestrator) indexFiles(ctx context.Context, repo *gitx.Repo, collection, branch, commit string, paths, modified []string, force bool, voc *vocab.Vocabulary, reporter *Reporter, stats *Stats) error {
	ctx, span := o.tracer.Start(ctx, "index_files",
		trace.WithAttributes(attribute.Int("files", len(paths))))
	defer span.End()

	chunkCfg := chunk.DefaultConfig()
	chunkCfg.MaxFileSizeBytes = o.cfg.Performance.MaxFileSizeBytes
	batchSize := o.cfg.Performance.BatchSize

	// Replacing a file's points is only exact when line ranges are stable.
	// Modified files (and every file under force) get their old points
	// dropped before new ones are written so shrunken files leave nothing
	// behind.
	replace := make(map[string]bool, len(modified))
	for _, p := range modified {
		replace[p] = true
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Indexing.MaxConcurrentUpserts)
	var consecutiveFailures atomic.Int32

	var pending []pendingChunk
	seen := make(map[uint64]string)
	indexStart := time.Now()
	filesDone := 0

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		batch := pending
		pending = nil
		stats.Batches++

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.content
		}
		vectors, err := o.provider.Embed(gctx, texts)
		if err != nil {
			return newError(KindTransient, "embed batch", err)
		}

		points := make([]vecstore.Point, len(batch))
		for i, c := range batch {
			indices, values := o.builder.BuildIndex(c.content, voc)
			id := vecstore.PointID(c.meta.FilePath, c.meta.StartLine, c.meta.EndLine, c.meta.ElementType, branch)
			key := fmt.Sprintf("%s:%d-%d:%s", c.meta.FilePath, c.meta.StartLine, c.meta.EndLine, c.meta.ElementType)
			if prev, ok := seen[id]; ok && prev != key {
				return newError(KindInvariant, fmt.Sprintf("point id collision between %s and %s", prev, key), nil)
			}
			seen[id] = key
			points[i] = vecstore.Point{
				ID:            id,
				Dense:         vectors[i],
				SparseIndices: indices,
				SparseValues:  values,
				Payload: vecstore.Payload{
					FilePath:      c.meta.FilePath,
					StartLine:     c.meta.StartLine,
					EndLine:       c.meta.EndLine,
					Language:      c.meta.Language,
					FileExtension: c.meta.FileExtension,
					ElementType:   c.meta.ElementType,
					Branch:        branch,
					CommitHash:    commit,
					Content:       c.content,
				},
			}
			stats.ChunksIndexed++
		}

		g.Go(func() error {
			err := o.withRetry(gctx, func() error {
				return o.store.Upsert(gctx, collection, points)
			})
			if err != nil {
				if consecutiveFailures.Add(1) >= consecutiveUpsertFailureLimit {
					return newError(KindTransient, "repeated upsert failures", err)
				}
				o.logger.Warn("upsert failed, continuing", "error", err, "points", len(points))
				return nil
			}
			consecutiveFailures.Store(0)
			return nil
		})
		return nil
	}

	var indexErr error
fileLoop:
	for _, path := range paths {
		// Batch boundary is the cancellation point.
		if err := gctx.Err(); err != nil {
			break
		}

		data, err := repo.ReadFile(commit, path)
		if err != nil {
			o.logger.Warn("unreadable file skipped", "file", path, "error", err)
			stats.FilesFailed++
			filesDone++
			continue
		}

		res := chunk.File(path, data, chunkCfg)
		if res.Skipped {
			stats.FilesSkipped++
			filesDone++
			reporter.Emit(Event{
				Stage:       StageIndexFile,
				Message:     "skipped: " + res.SkipReason,
				CurrentFile: path,
				Current:     filesDone,
				Total:       len(paths),
			})
			continue
		}

		if replace[path] || force {
			err := o.withRetry(gctx, func() error {
				return o.store.DeleteByFile(gctx, collection, path, branch)
			})
			if err != nil {
				indexErr = newError(KindTransient, fmt.Sprintf("replace points for %s", path), err)
				break fileLoop
			}
		}

		for _, c := range res.Chunks {
			pending = append(pending, pendingChunk{content: c.Content, meta: c.Metadata})
			if len(pending) >= batchSize {
				if err := flush(); err != nil {
					indexErr = err
					break fileLoop
				}
			}
		}

		stats.FilesIndexed++
		filesDone++
		elapsed := time.Since(indexStart).Seconds()
		var rate float64
		if elapsed > 0 {
			rate = float64(filesDone) / elapsed
		}
		reporter.Emit(Event{
			Stage:       StageIndexFile,
			Message:     "indexing",
			CurrentFile: path,
			Current:     filesDone,
			Total:       len(paths),
			FilesPerSec: rate,
		})
	}

	if indexErr == nil {
		if err := flush(); err != nil {
			indexErr = err
		}
	}
	// In-flight upserts are awaited, never abandoned, even on cancellation.
	// Their error wins over a loop or trailing-flush error: when an upsert
	// cancels the group, the flush only sees the secondary context error.
	if err := g.Wait(); err != nil {
		return err
	}
	if indexErr != nil {
		return indexErr
	}
	return ctx.Err()
}

// withRetry runs op with bounded exponential backoff. Context errors are
// never retried.
func (o *Orchestrator) withRetry(ctx context.Context, op func() error) error {
	delay := 500 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt <= o.cfg.Indexing.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > 10*time.Second {
				delay = 10 * time.Second
			}
		}
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}

func languagesOf(paths []string) string {
	set := make(map[string]bool)
	for _, p := range paths {
		set[chunk.DetectLanguage(p)] = true
	}
	langs := make([]string, 0, len(set))
	for l := range set {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	return "languages: " + strings.Join(langs, ", ")
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
