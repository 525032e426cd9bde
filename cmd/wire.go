package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/kasuboski/watchstate/internal/backend"
	"github.com/kasuboski/watchstate/internal/config"
	"github.com/kasuboski/watchstate/internal/export"
	"github.com/kasuboski/watchstate/internal/logger"
	"github.com/kasuboski/watchstate/internal/mapper"
	"github.com/kasuboski/watchstate/internal/queue"
	"github.com/kasuboski/watchstate/internal/scheduler"
	"github.com/kasuboski/watchstate/internal/storage"
)

// loadConfig reads and validates the configuration bound to the process's
// viper instance, failing the command on any validation error.
func loadConfig(log *zap.SugaredLogger) config.Config {
	cfg, err := config.New(viper.GetViper())
	if err != nil {
		log.Fatalw("failed to read configuration", zap.Error(err))
	}
	return cfg
}

// openStorage opens and initializes the Storage Adapter at cfg's configured path.
func openStorage(ctx context.Context, log *zap.SugaredLogger, cfg config.Config) *storage.Storage {
	store, err := storage.New(cfg.Storage.FilePath)
	if err != nil {
		log.Fatalw("failed to open storage", zap.Error(err))
	}
	if err := store.Init(ctx); err != nil {
		log.Fatalw("failed to init storage", zap.Error(err))
	}
	return store
}

// backendClients builds one backend.Client per configured, enabled backend.
// WatchState's own Plex/Jellyfin/Emby HTTP clients are external
// collaborators the top-level spec explicitly scopes out (spec.md §1); a
// deployment wires its concrete implementations in here by registering
// them against name/kind before Execute runs. Left empty, sync/export
// simply have nothing to talk to yet.
var backendClientFactories = map[backend.Kind]func(name string, b config.Backend) (backend.Client, error){}

func backendClientFor(cfg config.Config, name string) (backend.Client, config.Backend, error) {
	b, ok := cfg.Backends[name]
	if !ok {
		return nil, config.Backend{}, fmt.Errorf("no backend configured with name %q", name)
	}

	factory, ok := backendClientFactories[b.Kind]
	if !ok {
		return nil, config.Backend{}, fmt.Errorf("no client factory registered for backend kind %q (backend %q)", b.Kind, name)
	}

	client, err := factory(name, b)
	if err != nil {
		return nil, config.Backend{}, fmt.Errorf("failed to build client for backend %q: %w", name, err)
	}
	return client, b, nil
}

// enabledBackendNames returns the configured backend names matching the
// import/export gates, sorted for deterministic scheduling order.
func enabledBackendNames(cfg config.Config, requireImport, requireExport bool) []string {
	var names []string
	for name, b := range cfg.Backends {
		if !b.Enabled {
			continue
		}
		if requireImport && !b.ImportEnabled {
			continue
		}
		if requireExport && !b.ExportEnabled {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newMapper(store *storage.Storage, cfg config.Config) *mapper.Mapper {
	return mapper.New(store, mapper.Options{
		ImportMetadataOnly:   cfg.Mapper.ImportMetadataOnly,
		IgnoreDate:           cfg.Mapper.IgnoreDate,
		DryRun:               cfg.Mapper.DryRun,
		DebugTrace:           cfg.Mapper.DebugTrace,
		AlwaysUpdateMetadata: cfg.Mapper.AlwaysUpdateMetadata,
		DisableAutocommit:    cfg.Mapper.DisableAutocommit,
	})
}

func rootContext(log *zap.SugaredLogger) context.Context {
	return logger.WithCtx(context.Background(), log)
}

// runSync imports backendName's current library into the Storage Adapter
// through the Reconciliation Engine, committing on Close per spec.md §4.3.
func runSync(ctx context.Context, store *storage.Storage, cfg config.Config, backendName string) error {
	log := logger.FromCtx(ctx, "backend", backendName, "job", "sync")

	client, _, err := backendClientFor(cfg, backendName)
	if err != nil {
		return err
	}

	items, err := client.ListItems(ctx)
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}

	m := newMapper(store, cfg)
	for _, item := range items {
		entity := item.ToState(backendName)
		if err := entity.Validate(); err != nil {
			log.Debugw("skipping invalid item", zap.Error(err), "title", entity.Title)
			continue
		}
		if _, err := m.Add(ctx, entity, nil); err != nil {
			log.Errorw("add failed", zap.Error(err), "title", entity.Title)
		}
	}

	if err := m.Close(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	log.Infow("sync finished", "counters", m.Counters())
	return nil
}

// runExport runs the Export Planner against backendName's current client,
// converging it to the canonical working set via the outbound queue.
func runExport(ctx context.Context, store *storage.Storage, cfg config.Config, backendName string) error {
	log := logger.FromCtx(ctx, "backend", backendName, "job", "export")

	client, _, err := backendClientFor(cfg, backendName)
	if err != nil {
		return err
	}

	records, err := store.GetAll(ctx, nil)
	if err != nil {
		return fmt.Errorf("load records: %w", err)
	}

	q := queue.New([]backend.Client{client}, 4)
	defer q.Close()

	planner := export.New(q, export.Options{
		AllowedTimeDiff: cfg.Export.AllowedTimeDiff,
		IgnoreDate:      cfg.Export.IgnoreDate,
		DryRun:          cfg.Export.DryRun,
	})

	if err := planner.Plan(ctx, client, records); err != nil {
		return err
	}

	log.Infow("export finished", "counters", planner.Counters())
	return nil
}

// newScheduler wires a Sync/Export executor per enabled backend onto a
// scheduler.Scheduler driven by cfg.Jobs' intervals. A backend without
// ImportEnabled is skipped by Sync jobs, one without ExportEnabled by
// Export jobs.
func newScheduler(cfg config.Config, store *storage.Storage, log *zap.SugaredLogger) *scheduler.Scheduler {
	backends := enabledBackendNames(cfg, false, false)

	schedCfg := scheduler.Config{
		SyncInterval:   cfg.Jobs.Sync,
		ExportInterval: cfg.Jobs.Export,
		Tick:           cfg.Jobs.ScheduleTick,
	}

	executors := map[scheduler.JobType]scheduler.JobExecutor{
		scheduler.Sync: func(ctx context.Context, backendName string) error {
			if !cfg.Backends[backendName].ImportEnabled {
				return nil
			}
			return runSync(ctx, store, cfg, backendName)
		},
		scheduler.Export: func(ctx context.Context, backendName string) error {
			if !cfg.Backends[backendName].ExportEnabled {
				return nil
			}
			return runExport(ctx, store, cfg, backendName)
		},
	}

	return scheduler.New(schedCfg, backends, executors)
}
