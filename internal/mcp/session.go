package mcp

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/compounding-docs/cdocs/internal/config"
	"github.com/compounding-docs/cdocs/internal/docparse"
	"github.com/compounding-docs/cdocs/internal/doctype"
	"github.com/compounding-docs/cdocs/internal/embed"
	cdocserr "github.com/compounding-docs/cdocs/internal/errors"
	"github.com/compounding-docs/cdocs/internal/extdocs"
	"github.com/compounding-docs/cdocs/internal/health"
	"github.com/compounding-docs/cdocs/internal/indexer"
	"github.com/compounding-docs/cdocs/internal/linkgraph"
	"github.com/compounding-docs/cdocs/internal/queue"
	"github.com/compounding-docs/cdocs/internal/rag"
	"github.com/compounding-docs/cdocs/internal/search"
	"github.com/compounding-docs/cdocs/internal/store"
	"github.com/compounding-docs/cdocs/internal/tenant"
	"github.com/compounding-docs/cdocs/internal/watcher"
)

// Session is everything built for one activated project: config,
// tenant identity, stores, the index pipeline, and the background
// tasks keeping the index fresh.
type Session struct {
	Config   *config.Config
	Key      tenant.Key
	RootPath string
	DocsRoot string

	Store     *store.Store
	Graph     *linkgraph.Graph
	Registry  *doctype.Registry
	Indexer   *indexer.Indexer
	Search    *search.Service
	Retriever *rag.Retriever
	Generator *rag.Generator
	External  *extdocs.Collection

	Embedder embed.Client
	Monitor  *health.Monitor
	Deferred *queue.Deferred

	fsWatcher *watcher.FSWatcher
	cancel    context.CancelFunc
	logger    *slog.Logger
}

// newSession loads the project config, opens the stores, rebuilds the
// link graph, reconciles offline changes, and starts the watcher,
// dispatcher, and drainer.
func newSession(parent context.Context, rootPath string, logger *slog.Logger) (*Session, error) {
	cfg, err := config.Load(rootPath, logger)
	if err != nil {
		return nil, err
	}

	key, err := tenant.Resolve(rootPath, cfg.ProjectName)
	if err != nil {
		return nil, err
	}

	docsRoot := cfg.DocsDir
	if !filepath.IsAbs(docsRoot) {
		docsRoot = filepath.Join(rootPath, docsRoot)
	}
	if info, err := os.Stat(docsRoot); err != nil || !info.IsDir() {
		return nil, cdocserr.Newf(cdocserr.TagFileSystemError, "docs directory not found: %s", docsRoot).
			WithSuggestion("Create the docs directory or fix docs_dir in config.json.")
	}

	monitor := health.NewMonitor(logger)
	breaker := cdocserr.NewCircuitBreaker("embedding",
		cdocserr.WithTransitionFunc(monitor.OnTransition))
	monitor.Bind(breaker)

	var embedder embed.Client = embed.NewHTTPClient(embed.Options{
		Host:    cfg.Embedding.Host,
		Breaker: breaker,
		Logger:  logger,
	})
	if cfg.Embedding.CacheSize > 0 {
		cached, err := embed.NewCachedClient(embedder, cfg.Embedding.CacheSize)
		if err != nil {
			return nil, err
		}
		embedder = cached
	}

	indexDir := filepath.Join(config.StateDir(rootPath), "index")
	if err := os.MkdirAll(indexDir, 0o755); err != nil {
		return nil, cdocserr.Wrap(cdocserr.TagFileSystemError, "failed to create index directory", err)
	}
	st, err := store.Open(indexDir, store.Options{Logger: logger})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		Config:   cfg,
		Key:      key,
		RootPath: rootPath,
		DocsRoot: docsRoot,
		Store:    st,
		Graph:    linkgraph.New(logger),
		Registry: doctype.NewRegistry(cfg.CustomDocTypes),
		Embedder: embedder,
		Monitor:  monitor,
		Deferred: queue.NewDeferred(queue.Options{
			Capacity:    cfg.DeferredCapacity,
			MaxAttempts: cfg.MaxRetryAttempts,
			Logger:      logger,
		}),
		cancel: cancel,
		logger: logger,
	}

	if err := s.rebuildGraph(ctx); err != nil {
		s.Close()
		return nil, err
	}

	parser := docparse.NewParser(s.Registry, docparse.Options{
		Strict:         true,
		ChunkThreshold: cfg.ChunkThreshold,
		Logger:         logger,
	})
	s.Indexer = indexer.New(st, parser, embedder, s.Graph, key, docsRoot,
		indexer.Options{Concurrency: cfg.IndexConcurrency, Logger: logger})
	s.Search = search.New(st, embedder, logger)
	s.Retriever = rag.New(st, embedder, s.Graph, logger)
	if cfg.Generator != nil {
		s.Generator = rag.NewGenerator(rag.GeneratorOptions{
			Host:   cfg.Generator.Host,
			Model:  cfg.Generator.Model,
			Logger: logger,
		})
	}

	if cfg.ExternalDocs != nil {
		if err := s.openExternal(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}

	if err := s.start(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// rebuildGraph restores the link graph from stored documents.
func (s *Session) rebuildGraph(ctx context.Context) error {
	docs, err := s.Store.Documents(ctx, s.Key)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		s.Graph.ReplaceOutEdges(doc.RelativePath, doc.Links)
	}
	return nil
}

func (s *Session) openExternal(ctx context.Context) error {
	path := s.Config.ExternalDocs.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.RootPath, path)
	}

	extDir := filepath.Join(config.StateDir(s.RootPath), "external")
	if err := os.MkdirAll(extDir, 0o755); err != nil {
		return cdocserr.Wrap(cdocserr.TagFileSystemError, "failed to create external index directory", err)
	}

	ext, err := extdocs.Open(s.Key, s.Embedder, extdocs.Options{
		DocsPath:    path,
		IndexDir:    extDir,
		Concurrency: s.Config.IndexConcurrency,
		Logger:      s.logger,
	})
	if err != nil {
		return err
	}
	s.External = ext

	summary, err := ext.Sync(ctx)
	if err != nil {
		s.logger.Warn("external docs sync incomplete",
			slog.String("error", err.Error()))
		return nil
	}
	s.logger.Info("external docs synced",
		slog.Int("indexed", summary.Indexed),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed))
	return nil
}

// start reconciles offline changes and launches the watcher,
// dispatcher, and deferred-queue drainer.
func (s *Session) start(ctx context.Context) error {
	reconciler := watcher.NewReconciler(s.Store, s.Indexer, s.Key, s.DocsRoot,
		s.excludePatterns(), s.logger)
	if summary, err := reconciler.Reconcile(ctx); err != nil {
		s.logger.Warn("startup reconciliation incomplete",
			slog.String("error", err.Error()))
	} else if summary.Indexed+summary.Skipped+summary.Failed > 0 {
		s.logger.Info("startup reconciliation finished",
			slog.Int("indexed", summary.Indexed),
			slog.Int("skipped", summary.Skipped),
			slog.Int("failed", summary.Failed))
	}

	fw := watcher.NewFSWatcher(s.DocsRoot, watcher.Options{
		DebounceWindow:  s.Config.DebounceInterval(),
		ExcludePatterns: s.excludePatterns(),
	}, s.logger)
	if err := fw.Start(ctx); err != nil {
		return err
	}
	s.fsWatcher = fw

	dispatcher := watcher.NewDispatcher(s.Indexer, s.Deferred, s.Monitor.Available, s.logger)
	go dispatcher.Run(ctx, fw.Events())
	go s.logWatchErrors(ctx, fw.Errors())

	drainer := queue.NewDrainer(s.Deferred, dispatcher.HandleDeferred,
		s.Monitor.Available, queue.DrainerOptions{Logger: s.logger})
	go drainer.Run(ctx, s.recoverySignals(ctx))

	return nil
}

// excludePatterns always covers the state directory in addition to the
// configured globs.
func (s *Session) excludePatterns() []string {
	return append([]string{config.StateDirName + "/"}, s.Config.ExcludePatterns...)
}

// recoverySignals adapts health transitions into drain triggers.
func (s *Session) recoverySignals(ctx context.Context) <-chan struct{} {
	transitions := s.Monitor.Subscribe()
	recovered := make(chan struct{}, 1)
	go func() {
		defer close(recovered)
		for {
			select {
			case <-ctx.Done():
				return
			case t, ok := <-transitions:
				if !ok {
					return
				}
				if t.Recovered() {
					select {
					case recovered <- struct{}{}:
					default:
					}
				}
			}
		}
	}()
	return recovered
}

func (s *Session) logWatchErrors(ctx context.Context, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			s.logger.Warn("file watcher error", slog.String("error", err.Error()))
		}
	}
}

// Close stops background tasks and releases the stores.
func (s *Session) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.fsWatcher != nil {
		s.fsWatcher.Stop()
	}
	if s.External != nil {
		_ = s.External.Close()
	}
	if s.Store != nil {
		_ = s.Store.Close()
	}
}
