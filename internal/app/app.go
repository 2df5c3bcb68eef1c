// Package app wires configuration into the services used by every command.
package app

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/nickigann03/ai-secretary/internal/auth"
	"github.com/nickigann03/ai-secretary/internal/blob"
	"github.com/nickigann03/ai-secretary/internal/config"
	"github.com/nickigann03/ai-secretary/internal/events"
	"github.com/nickigann03/ai-secretary/internal/llm"
	"github.com/nickigann03/ai-secretary/internal/metrics"
	"github.com/nickigann03/ai-secretary/internal/redis"
	"github.com/nickigann03/ai-secretary/internal/service/agenda"
	"github.com/nickigann03/ai-secretary/internal/service/export"
	"github.com/nickigann03/ai-secretary/internal/service/intake"
	"github.com/nickigann03/ai-secretary/internal/service/meetings"
	"github.com/nickigann03/ai-secretary/internal/service/minutes"
	"github.com/nickigann03/ai-secretary/internal/service/pipeline"
	"github.com/nickigann03/ai-secretary/internal/service/probe"
	"github.com/nickigann03/ai-secretary/internal/service/transcription"
	"github.com/nickigann03/ai-secretary/internal/service/users"
	"github.com/nickigann03/ai-secretary/internal/speech"
	"github.com/nickigann03/ai-secretary/internal/storage"
	"github.com/nickigann03/ai-secretary/internal/worker"
)

type App struct {
	Config   *config.Config
	Log      zerolog.Logger
	DB       *sqlx.DB
	Redis    *redis.Client
	Bus      events.Bus
	Blobs    *blob.Store
	Meetings *meetings.Store
	Users    *users.Service
	Auth     *auth.Service
	Intake   *intake.Service
	Agenda   *agenda.Importer
	Exporter *export.Renderer
	Speech   *speech.Client
	LLM      *llm.Client
	Pipeline *pipeline.Pipeline
	Probe    *probe.Service
	Metrics  *metrics.Pipeline
}

// New opens the database, connects redis when configured and builds every
// service. The pipeline is created but not started.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	db, err := storage.Open(cfg.BasicConfig.DatabaseType, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.DB = db
	if err := storage.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	if cfg.Redis.Enabled() {
		rdb, err := redis.NewRedisClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("create redis client: %w", err)
		}
		a.Redis = rdb
		bus, err := events.NewRedisBus(ctx, rdb, log)
		if err != nil {
			return nil, fmt.Errorf("start redis bus: %w", err)
		}
		a.Bus = bus
	} else {
		a.Bus = events.NewMemoryBus()
	}

	blobs, err := blob.NewStore(cfg.BasicConfig.BlobDir, cfg.BasicConfig.PublicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	a.Blobs = blobs

	storeOpts := []meetings.Option{
		meetings.WithBus(a.Bus),
		meetings.WithBlobs(blobs),
		meetings.WithLogger(log),
	}
	if a.Redis != nil {
		storeOpts = append(storeOpts, meetings.WithCache(a.Redis))
	}
	a.Meetings = meetings.NewStore(db, storeOpts...)
	a.Users = users.NewService(db)
	a.Auth = auth.NewService(db, a.Redis, cfg.BasicConfig.TokenLifetime())
	a.Intake = intake.NewService(a.Meetings, blobs, log)

	a.Agenda, err = agenda.NewImporter(ctx, a.Meetings, "", log)
	if err != nil {
		return nil, err
	}
	a.Exporter = export.NewRenderer(cfg.BasicConfig.TemplatePath, log)

	a.Speech = speech.NewClient(cfg.Speech, nil)
	a.LLM, err = llm.New(ctx, cfg.MinutesProvider, cfg.MinutesProviderConfig())
	if err != nil {
		return nil, err
	}
	a.Probe = probe.NewService(a.Speech, a.LLM, 0)

	a.Metrics = metrics.New()
	a.Pipeline = pipeline.New(
		a.Meetings,
		a.Bus,
		transcription.NewService(a.Meetings, a.Speech, transcription.PolicyFromConfig(cfg.Speech), log),
		minutes.NewService(a.Meetings, a.LLM, log),
		pipeline.Config{
			Dispatcher: worker.DispatcherConfig{
				MinWorkers:        cfg.BasicConfig.MinWorkers,
				MaxWorkers:        cfg.BasicConfig.MaxWorkers,
				QueueSize:         cfg.BasicConfig.QueueSize,
				WorkerIdleTimeout: cfg.BasicConfig.IdleTimeout(),
			},
			SweepInterval: cfg.BasicConfig.SweepEvery(),
			StuckAfter:    cfg.BasicConfig.StuckThreshold(),
		},
		a.Metrics,
		log,
	)
	ok = true
	return a, nil
}

// Close releases resources in reverse construction order. Safe on a partially built App.
func (a *App) Close() {
	if a.Pipeline != nil {
		a.Pipeline.Close()
	}
	if a.Bus != nil {
		if err := a.Bus.Close(); err != nil {
			a.Log.Warn().Err(err).Msg("close event bus")
		}
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}
