package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/hashicorp/go-multierror"

	"github.com/custodia-labs/kbase/internal/adapters/driven/ai"
	"github.com/custodia-labs/kbase/internal/adapters/driven/config/file"
	"github.com/custodia-labs/kbase/internal/adapters/driven/metrics"
	storagefile "github.com/custodia-labs/kbase/internal/adapters/driven/storage/file"
	"github.com/custodia-labs/kbase/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/kbase/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/kbase/internal/adapters/driven/tokenizer"
	"github.com/custodia-labs/kbase/internal/adapters/driving/cli"
	"github.com/custodia-labs/kbase/internal/concurrency"
	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
	"github.com/custodia-labs/kbase/internal/core/services"
	"github.com/custodia-labs/kbase/internal/logger"
	"github.com/custodia-labs/kbase/internal/normalisers"
	"github.com/custodia-labs/kbase/internal/postprocessors/chunker"
)

// tokenizerPoolSize is the number of tiktoken encoders kept for concurrent counting.
const tokenizerPoolSize = 4

// bootstrap wires adapters and services for one command invocation.
func bootstrap(ctx context.Context, opts cli.Options) (*cli.Services, error) {
	configStore, err := file.NewConfigStore(opts.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	settingsService := services.NewSettingsService(configStore, ai.ConfigValidator{})
	if opts.SettingsOnly {
		return &cli.Services{Settings: settingsService}, nil
	}

	settings, err := settingsService.Get()
	if err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	configDir := filepath.Dir(configStore.Path())
	dataDir := resolveDataDir(configDir, settings.Store.DataDir)
	settings.Store.DataDir = dataDir
	logger.Debug("bootstrap: config %s, data %s", configDir, dataDir)

	var closers closerList

	prom, err := metrics.New()
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	locks := concurrency.NewLockManager()
	writer := concurrency.NewAtomicWriter(locks, settings.Store.LockTimeout)
	store, err := services.NewKnowledgeStore(ctx,
		storagefile.NewKnowledgeFile(settings.Store.KnowledgePath(), writer),
		storagefile.NewStatusLedger(settings.Store.StatusPath(), writer),
		services.KnowledgeStoreConfig{
			LockTimeout: settings.Store.LockTimeout,
			Metrics:     prom,
		})
	if err != nil {
		return nil, fmt.Errorf("knowledge store: %w", err)
	}

	history := openHistory(dataDir, &closers)

	oracles := ai.Init(*settings)
	for _, w := range oracles.Warnings {
		logger.Warn("bootstrap: %s", w)
	}
	closers.add(func() error { oracles.Close(); return nil })

	prompts, err := file.NewPromptStore(filepath.Join(configDir, "prompts"))
	if err != nil {
		closers.close()
		return nil, fmt.Errorf("prompts: %w", err)
	}

	tok := tokenizer.NewOrApproximate("", tokenizerPoolSize)
	if c, ok := tok.(interface{ Close() }); ok {
		closers.add(func() error { c.Close(); return nil })
	}

	engine := services.NewMergeEngine(oracles.LLMService, services.MergeEngineConfig{
		Compaction: settings.Compaction,
		Embedder:   oracles.EmbeddingService,
		Tokenizer:  tok,
		Prompts:    prompts,
		Metrics:    prom,
	})
	scheduler := services.NewCompactionScheduler(settings.Scheduler, store, engine, history, prom)

	processor := services.NewTaskProcessor(settings.Tasks, history, prom)
	extractor := services.NewExtractor(oracles.LLMService, prompts, store, settings.Store.PersistOnAppend,
		services.WithNormaliser(normalisers.Default()),
		services.WithSplitter(chunker.New(
			chunker.WithChunkSize(settings.Extraction.ChunkSize),
			chunker.WithOverlap(settings.Extraction.ChunkOverlap),
		)))
	processor.Register(domain.TaskKindExtract, extractor.Handle)

	runtime := services.NewRuntime(store, scheduler, processor)
	runtime.Locks = locks

	return &cli.Services{
		Store:         store,
		KnowledgeBase: runtime,
		Scheduler:     scheduler,
		Processor:     processor,
		Settings:      settingsService,
		Runtime:       runtime,
		Metrics:       prom.Handler(),
		Close: func(ctx context.Context) error {
			var result *multierror.Error
			if err := store.Save(ctx); err != nil {
				result = multierror.Append(result, fmt.Errorf("save knowledge: %w", err))
			}
			if err := closers.close(); err != nil {
				result = multierror.Append(result, err)
			}
			return result.ErrorOrNil()
		},
	}, nil
}

// resolveDataDir anchors a relative data directory at the config directory.
func resolveDataDir(configDir, dataDir string) string {
	if dataDir == "" {
		dataDir = domain.DefaultAppSettings().Store.DataDir
	}
	if filepath.IsAbs(dataDir) {
		return dataDir
	}
	return filepath.Join(configDir, dataDir)
}

// openHistory opens the SQLite history database, falling back to an
// in-memory store when it cannot be opened.
func openHistory(dataDir string, closers *closerList) driven.HistoryStore {
	db, err := sqlite.NewStore(dataDir)
	if err != nil {
		logger.Warn("bootstrap: history database unavailable, keeping history in memory: %v", err)
		return memory.NewHistoryStore()
	}
	closers.add(db.Close)
	return db.HistoryStore()
}

// closerList releases resources in reverse order of acquisition.
type closerList struct {
	fns []func() error
}

func (c *closerList) add(fn func() error) {
	c.fns = append(c.fns, fn)
}

func (c *closerList) close() error {
	var result *multierror.Error
	for i := len(c.fns) - 1; i >= 0; i-- {
		if err := c.fns[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	c.fns = nil
	return result.ErrorOrNil()
}
