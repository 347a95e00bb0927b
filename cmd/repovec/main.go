package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/repovec/repovec/internal/config"
	"github.com/repovec/repovec/internal/embed"
	"github.com/repovec/repovec/internal/observability"
	"github.com/repovec/repovec/internal/registry"
	"github.com/repovec/repovec/internal/runtime"
	"github.com/repovec/repovec/internal/search"
	"github.com/repovec/repovec/internal/secrets"
	"github.com/repovec/repovec/internal/sparse"
	"github.com/repovec/repovec/internal/syncer"
	"github.com/repovec/repovec/internal/tokenize"
	"github.com/repovec/repovec/internal/vecstore"
	"github.com/repovec/repovec/internal/vecstore/qdrant"
	"github.com/spf13/cobra"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "repovec",
		Short: "Git repository vector indexing and hybrid search",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path")

	var force bool
	syncCmd := &cobra.Command{
		Use:   "sync [repository]",
		Short: "Index a repository into the vector store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			return runSync(cmd.Context(), configPath, name, force)
		},
	}
	syncCmd.Flags().BoolVar(&force, "force", false, "Reindex every file regardless of sync state")

	var (
		queryRepo    string
		queryLimit   int
		queryBranch  string
		queryLang    string
		queryElement string
	)
	queryCmd := &cobra.Command{
		Use:   "query TEXT...",
		Short: "Run a hybrid search against an indexed repository",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.Context(), configPath, queryRepo, strings.Join(args, " "),
				queryLimit, queryBranch, queryLang, queryElement)
		},
	}
	queryCmd.Flags().StringVar(&queryRepo, "repo", "", "Repository to search (default: active repository)")
	queryCmd.Flags().IntVar(&queryLimit, "limit", 10, "Maximum number of results")
	queryCmd.Flags().StringVar(&queryBranch, "branch", "", "Restrict to a branch (default: active branch)")
	queryCmd.Flags().StringVar(&queryLang, "language", "", "Restrict to a language")
	queryCmd.Flags().StringVar(&queryElement, "element-type", "", "Restrict to an element type (function, class, ...)")

	repoCmd := &cobra.Command{
		Use:   "repo",
		Short: "Manage registered repositories",
	}

	var (
		addURL       string
		addLocalPath string
		addBranch    string
		addRemote    string
		addTargetRef string
		addDepends   []string
	)
	repoAddCmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Register a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := parseDependencies(addDepends)
			if err != nil {
				return err
			}
			reg, err := loadRegistry()
			if err != nil {
				return err
			}
			repo, err := reg.Add(args[0], addURL, addLocalPath, addBranch, addTargetRef, deps)
			if err != nil {
				return err
			}
			if addRemote != "" {
				if err := reg.SetRemote(repo.Name, addRemote); err != nil {
					return err
				}
			}
			fmt.Printf("registered %s (branch %s)\n", repo.Name, repo.DefaultBranch)
			return nil
		},
	}
	repoAddCmd.Flags().StringVar(&addURL, "url", "", "Remote clone URL")
	repoAddCmd.Flags().StringVar(&addLocalPath, "local-path", "", "Path to an existing local repository")
	repoAddCmd.Flags().StringVar(&addBranch, "branch", "main", "Default branch")
	repoAddCmd.Flags().StringVar(&addRemote, "remote", "", "Git remote to fetch from (default: origin)")
	repoAddCmd.Flags().StringVar(&addTargetRef, "target-ref", "", "Pin syncs to a fixed ref instead of the branch head")
	repoAddCmd.Flags().StringArrayVar(&addDepends, "depends", nil, "Dependency as name[@ref], repeatable")

	repoRemoveCmd := &cobra.Command{
		Use:   "remove NAME",
		Short: "Unregister a repository and drop its indexed data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepoRemove(cmd.Context(), configPath, args[0])
		},
	}

	repoListCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered repositories",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadRegistry()
			if err != nil {
				return err
			}
			printRepoList(reg)
			return nil
		},
	}

	repoUseCmd := &cobra.Command{
		Use:   "use NAME",
		Short: "Make a repository the default for sync and query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadRegistry()
			if err != nil {
				return err
			}
			if err := reg.SetActiveRepository(args[0]); err != nil {
				return err
			}
			fmt.Printf("active repository: %s\n", args[0])
			return nil
		},
	}

	repoCmd.AddCommand(repoAddCmd, repoRemoveCmd, repoListCmd, repoUseCmd)

	branchCmd := &cobra.Command{
		Use:   "branch",
		Short: "Manage tracked branches",
	}

	var branchRepo string
	branchUseCmd := &cobra.Command{
		Use:   "use BRANCH",
		Short: "Switch the active branch of a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadRegistry()
			if err != nil {
				return err
			}
			name, err := resolveRepoName(reg, branchRepo)
			if err != nil {
				return err
			}
			if err := reg.SetActive(name, args[0]); err != nil {
				return err
			}
			fmt.Printf("%s: active branch %s\n", name, args[0])
			return nil
		},
	}
	branchUseCmd.Flags().StringVar(&branchRepo, "repo", "", "Repository (default: active repository)")
	branchCmd.AddCommand(branchUseCmd)

	var historyLimit int
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent sync runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(historyLimit)
		},
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of runs to show")

	rootCmd.AddCommand(syncCmd, queryCmd, repoCmd, branchCmd, historyCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the wired services a sync or query needs.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	tracing  *observability.TracerProvider
	store    vecstore.Store
	pool     *embed.Pool
	reg      *registry.Registry
	builder  *sparse.Builder
	orch     *syncer.Orchestrator
	searcher *search.Searcher
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := buildLogger(cfg.Log)

	tracing, err := observability.InitTracing(ctx, tracingConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	store, err := qdrant.New(cfg.QdrantURL, logger)
	if err != nil {
		return nil, err
	}

	pool := embed.NewPool(providerFactory(cfg), cfg.Performance.VectorDimension, embed.PoolConfig{
		Size:           cfg.Embedding.PoolSize,
		BatchSize:      cfg.Embedding.EmbeddingBatchSize,
		SessionTimeout: time.Duration(cfg.Embedding.SessionTimeoutSeconds) * time.Second,
		EnableCleanup:  cfg.Embedding.EnableSessionCleanup,
	})

	reg, err := loadRegistry()
	if err != nil {
		return nil, err
	}

	builder := sparse.New(tokenize.DefaultConfig(), cfg.Search.FilenameBoost)
	searcher, err := search.New(cfg, store, pool, builder, logger)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		tracing:  tracing,
		store:    store,
		pool:     pool,
		reg:      reg,
		builder:  builder,
		orch:     syncer.New(cfg, store, pool, reg, builder, logger),
		searcher: searcher,
	}, nil
}

func (a *app) close(ctx context.Context) {
	if err := a.pool.Close(); err != nil {
		a.logger.Warn("closing embedder pool", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing vector store", "error", err)
	}
	if err := a.tracing.Shutdown(ctx); err != nil {
		a.logger.Warn("shutting down tracing", "error", err)
	}
}

func runSync(ctx context.Context, configPath, repoName string, force bool) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}

	name, err := resolveRepoName(a.reg, repoName)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	handler := runtime.NewShutdownHandler(&runtime.ShutdownConfig{
		Timeout: 30 * time.Second,
		Signals: runtime.DefaultShutdownConfig().Signals,
		Logger:  a.logger,
	})
	handler.RegisterHooks(
		runtime.SyncCancelHook(cancel),
		runtime.EmbedderPoolShutdownHook(a.pool.Close),
		runtime.TracingShutdownHook(a.tracing.Shutdown),
		runtime.VectorStoreShutdownHook(a.store.Close),
	)
	handler.Start()
	defer func() {
		handler.Shutdown()
		handler.WaitWithTimeout(30 * time.Second)
	}()

	reporter := syncer.NewReporter(
		time.Duration(a.cfg.Indexing.HeartbeatSeconds)*time.Second,
		time.Duration(a.cfg.Indexing.WatchdogSeconds)*time.Second,
	)
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		for ev := range reporter.Events() {
			printProgress(ev)
		}
	}()

	stats, err := a.orch.Sync(ctx, name, force, reporter)
	<-progressDone
	recordSyncHistory(a, name, force, stats, err)
	if err != nil {
		return err
	}

	fmt.Printf("indexed %d files (%d chunks, %d batches) in %s\n",
		stats.FilesIndexed, stats.ChunksIndexed, stats.Batches, stats.Elapsed.Round(time.Millisecond))
	if stats.FilesSkipped > 0 || stats.FilesFailed > 0 || stats.FilesDeleted > 0 {
		fmt.Printf("skipped %d, failed %d, deleted %d\n",
			stats.FilesSkipped, stats.FilesFailed, stats.FilesDeleted)
	}
	if rate := stats.FilesPerSec(); rate > 0 {
		fmt.Printf("throughput: %.1f files/sec\n", rate)
	}
	return nil
}

// recordSyncHistory appends the run outcome to the history log. Failures to
// record never fail the sync itself.
func recordSyncHistory(a *app, name string, force bool, stats *syncer.Stats, syncErr error) {
	path, err := config.HistoryPath()
	if err != nil {
		a.logger.Warn("resolving history path", "error", err)
		return
	}
	history, err := observability.NewHistoryLog(path)
	if err != nil {
		a.logger.Warn("opening history log", "error", err)
		return
	}

	rec := observability.SyncRecord{
		Repository:    name,
		Success:       syncErr == nil,
		FilesIndexed:  stats.FilesIndexed,
		FilesSkipped:  stats.FilesSkipped,
		FilesFailed:   stats.FilesFailed,
		FilesDeleted:  stats.FilesDeleted,
		ChunksIndexed: stats.ChunksIndexed,
		ElapsedMillis: stats.Elapsed.Milliseconds(),
		Forced:        force,
	}
	if syncErr != nil {
		rec.Message = syncErr.Error()
	}
	if repo, err := a.reg.Get(name); err == nil {
		rec.Branch = repo.ActiveBranch
		rec.Commit = repo.LastSynced[repo.ActiveBranch]
	}
	if err := history.Append(rec); err != nil {
		a.logger.Warn("appending sync history", "error", err)
	}
}

func runHistory(limit int) error {
	path, err := config.HistoryPath()
	if err != nil {
		return err
	}
	history, err := observability.NewHistoryLog(path)
	if err != nil {
		return err
	}
	records, err := history.Recent(limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no sync history")
		return nil
	}
	for _, rec := range records {
		outcome := "ok"
		if !rec.Success {
			outcome = "failed"
		}
		fmt.Printf("%s  %-6s %s@%s", rec.Timestamp.Local().Format("2006-01-02 15:04:05"), outcome, rec.Repository, rec.Branch)
		if rec.Commit != "" {
			fmt.Printf(" (%s)", shortHash(rec.Commit))
		}
		fmt.Printf("  %d files, %d chunks, %s\n",
			rec.FilesIndexed, rec.ChunksIndexed, (time.Duration(rec.ElapsedMillis) * time.Millisecond).Round(time.Millisecond))
		if !rec.Success && rec.Message != "" {
			fmt.Printf("    %s\n", rec.Message)
		}
	}
	return nil
}

func runQuery(ctx context.Context, configPath, repoName, query string, limit int, branch, language, elementType string) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	name, err := resolveRepoName(a.reg, repoName)
	if err != nil {
		return err
	}
	repo, err := a.reg.Get(name)
	if err != nil {
		return err
	}
	if branch == "" {
		branch = repo.ActiveBranch
	}

	results, err := a.searcher.Search(ctx, search.Request{
		Collection:  config.CollectionName(a.cfg.Performance.CollectionNamePrefix, name),
		Query:       query,
		Limit:       limit,
		Branch:      branch,
		Language:    language,
		ElementType: elementType,
	})
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("no results")
		return nil
	}
	for i, r := range results {
		p := r.Payload
		fmt.Printf("%2d. %.4f  %s:%d-%d", i+1, r.Score, p.FilePath, p.StartLine, p.EndLine)
		if p.ElementType != "" {
			fmt.Printf("  [%s]", p.ElementType)
		}
		fmt.Println()
		if snippet := firstLines(p.Content, 3); snippet != "" {
			fmt.Println(indent(snippet, "      "))
		}
	}
	return nil
}

func runRepoRemove(ctx context.Context, configPath, name string) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	if _, err := a.reg.Get(name); err != nil {
		return err
	}

	collection := config.CollectionName(a.cfg.Performance.CollectionNamePrefix, name)
	if err := a.store.DeleteCollection(ctx, collection); err != nil {
		a.logger.Warn("dropping collection", "collection", collection, "error", err)
	}
	if vocabPath, err := a.cfg.VocabPath(collection); err == nil {
		if err := os.Remove(vocabPath); err != nil && !os.IsNotExist(err) {
			a.logger.Warn("removing vocabulary", "path", vocabPath, "error", err)
		}
	}

	if err := a.reg.Remove(name); err != nil {
		return err
	}
	fmt.Printf("removed %s\n", name)
	return nil
}

func loadRegistry() (*registry.Registry, error) {
	path, err := config.RegistryPath()
	if err != nil {
		return nil, err
	}
	return registry.Load(path)
}

// resolveRepoName falls back to the active repository when name is empty.
func resolveRepoName(reg *registry.Registry, name string) (string, error) {
	if name != "" {
		return name, nil
	}
	if active := reg.ActiveRepository(); active != "" {
		return active, nil
	}
	return "", fmt.Errorf("no repository given and no active repository set (see 'repovec repo use')")
}

func parseDependencies(specs []string) ([]registry.Dependency, error) {
	var deps []registry.Dependency
	for _, spec := range specs {
		name, ref, _ := strings.Cut(spec, "@")
		if name == "" {
			return nil, fmt.Errorf("invalid dependency %q, expected name[@ref]", spec)
		}
		deps = append(deps, registry.Dependency{Name: name, Ref: ref})
	}
	return deps, nil
}

func printRepoList(reg *registry.Registry) {
	repos := reg.List()
	if len(repos) == 0 {
		fmt.Println("no repositories registered")
		return
	}
	active := reg.ActiveRepository()
	for _, repo := range repos {
		marker := " "
		if repo.Name == active {
			marker = "*"
		}
		source := repo.URL
		if repo.Local {
			source = repo.LocalPath
		}
		fmt.Printf("%s %s  %s\n", marker, repo.Name, source)
		for _, branch := range repo.TrackedBranches {
			state := "never synced"
			if commit := repo.LastSynced[branch]; commit != "" {
				state = "synced to " + shortHash(commit)
			}
			branchMarker := " "
			if branch == repo.ActiveBranch {
				branchMarker = "*"
			}
			fmt.Printf("  %s %-20s %s\n", branchMarker, branch, state)
		}
		if repo.TargetRef != "" {
			fmt.Printf("    pinned to %s\n", repo.TargetRef)
		}
	}
}

func printProgress(ev syncer.Event) {
	switch ev.Stage {
	case syncer.StageIndexFile, syncer.StageDeleteFile:
		if ev.Total > 0 {
			fmt.Fprintf(os.Stderr, "[%d/%d] %s %s", ev.Current, ev.Total, ev.Stage, ev.CurrentFile)
			if ev.FilesPerSec > 0 {
				fmt.Fprintf(os.Stderr, " (%.1f files/sec)", ev.FilesPerSec)
			}
			fmt.Fprintln(os.Stderr)
		}
	case syncer.StageHeartbeat:
		fmt.Fprintln(os.Stderr, "still working...")
	case syncer.StageCompleted:
		fmt.Fprintln(os.Stderr, ev.Message)
	case syncer.StageError:
		fmt.Fprintln(os.Stderr, "sync failed: "+ev.Message)
	default:
		if ev.Message != "" {
			fmt.Fprintln(os.Stderr, ev.Message)
		}
	}
}

// providerFactory returns the embedder constructor matching the configured
// backend. Exactly one backend is configured, enforced by config validation.
func providerFactory(cfg *config.Config) func() (embed.Provider, error) {
	dim := cfg.Performance.VectorDimension
	switch {
	case cfg.EmbedModel != "":
		return func() (embed.Provider, error) {
			sm, err := secrets.NewManager(nil)
			if err != nil {
				return nil, err
			}
			apiKey, err := sm.Get(context.Background(), secrets.EmbedAPIKey)
			if err != nil {
				return nil, fmt.Errorf("embed_model %q needs an API key: %w", cfg.EmbedModel, err)
			}
			client := embed.NewOpenAIClient(apiKey, cfg.EmbedModel, cfg.EmbedAPIBase, dim)
			return embed.NewRetryProvider(client, embed.DefaultRetryConfig()), nil
		}
	case cfg.OnnxModelPath != "":
		return func() (embed.Provider, error) {
			return embed.NewLocalProviderFromONNX(cfg.OnnxModelPath, cfg.OnnxTokenizerPath, dim)
		}
	default:
		return func() (embed.Provider, error) {
			return embed.NewLocalProvider(dim), nil
		}
	}
}

func tracingConfig(cfg *config.Config) *observability.TracingConfig {
	tc := observability.DefaultTracingConfig()
	tc.OTLPEndpoint = cfg.Tracing.OTLPEndpoint
	if cfg.Tracing.SampleRate > 0 {
		tc.SampleRate = cfg.Tracing.SampleRate
	}
	if cfg.Tracing.Environment != "" {
		tc.Environment = cfg.Tracing.Environment
	}
	return tc
}

func buildLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}

func firstLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
