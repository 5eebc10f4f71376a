package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bcrosbie/quoteengine/internal/archive"
	"github.com/bcrosbie/quoteengine/internal/config"
	"github.com/bcrosbie/quoteengine/internal/extractor"
	"github.com/bcrosbie/quoteengine/internal/logger"
	"github.com/bcrosbie/quoteengine/internal/metrics"
	"github.com/bcrosbie/quoteengine/internal/pricing"
	"github.com/bcrosbie/quoteengine/internal/redact"
	"github.com/bcrosbie/quoteengine/internal/service"
	"github.com/bcrosbie/quoteengine/internal/store"
)

// engine is everything a command needs once config has been read.
type engine struct {
	cfg        config.Config
	log        *slog.Logger
	records    *store.RecordStore
	quotes     *service.QuoteService
	dataSource string
}

func loadEngine(ctx context.Context) (*engine, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	log := logger.Init(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	counters, err := metrics.New(nil)
	if err != nil {
		return nil, err
	}

	backend, dataSource, err := buildBackend(cfg)
	if err != nil {
		return nil, err
	}
	records := store.NewRecordStore(backend, store.Options{
		FlushDebounce: cfg.FlushDebounce,
		RecordTTL:     cfg.RecordTTL,
		Logger:        log,
		Metrics:       counters,
	})
	if err := records.Load(ctx); err != nil {
		_ = records.Close()
		return nil, fmt.Errorf("store initialization failed: %w", err)
	}

	archiver, err := buildArchiver(ctx, cfg)
	if err != nil {
		_ = records.Close()
		return nil, err
	}

	quotes := service.NewQuoteService(service.Dependencies{
		Store:       records,
		Model:       buildModel(cfg),
		Pricer:      pricing.New(pricing.Config{Validity: cfg.QuoteValidity, FiatRate: cfg.FiatRateUSD}),
		Archiver:    archiver,
		Metrics:     counters,
		StoreDriver: cfg.StoreDriver,
	})
	return &engine{cfg: cfg, log: log, records: records, quotes: quotes, dataSource: dataSource}, nil
}

func (e *engine) Close() {
	if err := e.records.Close(); err != nil {
		e.log.Warn("store close warning", "error", err)
	}
}

func buildBackend(cfg config.Config) (store.Backend, string, error) {
	switch cfg.StoreDriver {
	case "postgres":
		backend, err := store.NewPostgresBackend(cfg.DatabaseURL)
		if err != nil {
			return nil, "", err
		}
		return backend, "postgres", nil
	case "memory":
		return store.NewMemoryBackend(), "memory", nil
	case "", "file":
		return store.NewFileBackend(cfg.DataFile), cfg.DataFile, nil
	default:
		return nil, "", fmt.Errorf("unsupported STORE_DRIVER %q; expected memory|file|postgres", cfg.StoreDriver)
	}
}

func buildArchiver(ctx context.Context, cfg config.Config) (archive.Archiver, error) {
	if cfg.ArchiveDriver != "minio" {
		return archive.NopArchiver{}, nil
	}
	archiver, err := archive.NewMinioArchiver(archive.MinioConfig{
		Endpoint:  cfg.Minio.Endpoint,
		AccessKey: cfg.Minio.AccessKey,
		SecretKey: cfg.Minio.SecretKey,
		Bucket:    cfg.Minio.Bucket,
		UseSSL:    cfg.Minio.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	if err := archiver.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("archive bucket setup failed: %w", err)
	}
	return archiver, nil
}

func buildModel(cfg config.Config) extractor.Model {
	if cfg.ModelURL == "" {
		return extractor.NewHeuristicModel()
	}
	return extractor.NewHTTPModel(cfg.ModelURL, cfg.ModelTimeout, redact.New(cfg.Redact, nil))
}
