package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/kartta/internal/account"
	"github.com/yairfalse/kartta/internal/config"
	"github.com/yairfalse/kartta/internal/cryptox"
	"github.com/yairfalse/kartta/internal/discovery"
	"github.com/yairfalse/kartta/internal/enrich"
	"github.com/yairfalse/kartta/internal/filter"
	"github.com/yairfalse/kartta/internal/journal"
	awsprov "github.com/yairfalse/kartta/internal/provider/aws"
	"github.com/yairfalse/kartta/internal/tagging"
	"github.com/yairfalse/kartta/internal/telemetry"
	"github.com/yairfalse/kartta/storage"
	"github.com/yairfalse/kartta/storage/postgres"
)

// app holds the wired components shared by every command.
type app struct {
	cfg         *config.Config
	store       storage.Store
	registry    *account.Registry
	coordinator *discovery.Coordinator
	journal     *journal.Journal
	telemetry   *telemetry.Provider
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	tp, err := telemetry.NewProvider(ctx, cfg.OTEL)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	a := &app{cfg: cfg, store: store, telemetry: tp}
	if err := a.wire(ctx); err != nil {
		_ = a.close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cipher, err := cryptox.New(a.cfg.Security.EncryptionKey)
	if err != nil {
		return fmt.Errorf("init cipher: %w", err)
	}

	factory := awsprov.NewFactory()
	a.registry = account.NewRegistry(a.store, awsprov.NewVerifier(factory), cipher)

	dc := a.cfg.Discovery
	f := filter.New(dc.ExcludeTypes, dc.IncludeTags, dc.ExcludeTags)
	if dc.PolicyFile != "" {
		if err := f.LoadPolicy(ctx, dc.PolicyFile); err != nil {
			return err
		}
	}

	engine := enrich.New(factory, enrich.Options{
		Concurrency: a.cfg.Enrichment.Concurrency,
		CallTimeout: a.cfg.Enrichment.CallTimeout,
	})

	tc := a.cfg.Tagging
	a.coordinator = discovery.NewCoordinator(a.registry, factory, engine, a.store, f, discovery.Options{
		AccountConcurrency: dc.AccountConcurrency,
		RegionConcurrency:  dc.RegionConcurrency,
		AccountTimeout:     dc.AccountTimeout,
		RegionTimeout:      dc.RegionTimeout,
		DefaultRegions:     dc.DefaultRegions,
		RequestsPerSecond:  tc.RequestsPerSecond,
		Burst:              tc.Burst,
		Tagging: tagging.Options{
			BatchSize:   tc.BatchSize,
			PageSize:    tc.PageSize,
			BatchDelay:  tc.BatchDelay,
			PageTimeout: tc.PageTimeout,
			MaxRetries:  tc.MaxRetries,
		},
	})

	metrics, err := discovery.NewMetricsWithProvider(a.telemetry.MeterProvider())
	if err != nil {
		return fmt.Errorf("init discovery metrics: %w", err)
	}
	taggingMetrics, err := tagging.NewMetrics()
	if err != nil {
		return fmt.Errorf("init tagging metrics: %w", err)
	}
	a.coordinator.WithMetrics(metrics, taggingMetrics)

	if dir := a.cfg.Storage.JournalDir; dir != "" {
		jc := journal.DefaultConfig(dir)
		jc.RetentionDays = a.cfg.Storage.JournalRetentionDays
		j, err := journal.Open(jc)
		if err != nil {
			return fmt.Errorf("open change journal: %w", err)
		}
		a.journal = j

		stats, err := j.Cleanup(time.Now())
		if err != nil {
			log.Warn().Err(err).Msg("change journal cleanup failed")
		} else if stats.FilesRemoved > 0 {
			log.Info().
				Int("files", stats.FilesRemoved).
				Int64("bytes", stats.BytesFreed).
				Msg("expired change journal files removed")
		}
		a.coordinator.WithJournal(j)
	}

	return nil
}

func openStore(ctx context.Context, c config.StorageConfig) (storage.Store, error) {
	switch c.Backend {
	case config.BackendPostgres:
		s, err := postgres.Open(ctx, c.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		log.Info().Str("backend", c.Backend).Msg("storage opened")
		return s, nil
	default:
		s, err := storage.OpenBolt(c.Path)
		if err != nil {
			return nil, fmt.Errorf("open bolt store %s: %w", c.Path, err)
		}
		log.Info().Str("backend", c.Backend).Str("path", c.Path).Msg("storage opened")
		return s, nil
	}
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.journal != nil {
		errs = append(errs, a.journal.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
