// Package app wires config, storage, engine and notification sinks for the CLI
// and the HTTP server.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"brandline/internal/config"
	"brandline/internal/db"
	"brandline/internal/engine"
	"brandline/internal/events"
	"brandline/internal/filestore"
	"brandline/internal/migrate"
	"brandline/internal/repo"
)

type Options struct {
	Workspace string
	// Config overrides the workspace brandline.yml when set.
	Config *config.Config
	Logger *slog.Logger
}

// Runtime is an opened workspace. Close releases it.
type Runtime struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Engine    engine.Engine
	Bus       *events.Bus
	Files     filestore.Local
	Logger    *slog.Logger
}

// Open loads config, opens and migrates the database, and starts the
// notification bus. The bus lives until Close or until ctx ends.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.LoadOptional(opts.Workspace); err != nil {
			return nil, err
		}
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	rt, err := build(ctx, conn, cfg, opts.Workspace, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return rt, nil
}

func build(ctx context.Context, conn *sql.DB, cfg *config.Config, workspace string, logger *slog.Logger) (*Runtime, error) {
	version, err := migrate.Migrate(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Debug("schema ready", "version", version, "db", db.Path(workspace))

	e, err := engine.New(conn, cfg)
	if err != nil {
		return nil, err
	}
	e.Logger = logger

	dir := cfg.Files.Dir
	if dir == "" {
		dir = db.FilesDir(workspace)
	}
	files, err := filestore.NewLocal(dir)
	if err != nil {
		return nil, fmt.Errorf("file store: %w", err)
	}
	e.Files = files

	sinks, err := Sinks(cfg, e.Repo, logger)
	if err != nil {
		return nil, err
	}
	bus := events.NewBus(cfg.Notify.QueueSize, logger, sinks...)
	bus.Start(ctx)
	e.Notifier = bus

	return &Runtime{
		Workspace: workspace,
		Config:    cfg,
		DB:        conn,
		Engine:    e,
		Bus:       bus,
		Files:     files,
		Logger:    logger,
	}, nil
}

// Sinks builds the configured notification sinks. The log sink is always on.
func Sinks(cfg *config.Config, r repo.Repo, logger *slog.Logger) ([]events.Sink, error) {
	sinks := []events.Sink{events.LogSink{Logger: logger}}
	if hooks := events.NewWebhookSink(cfg.Notify.Webhooks, cfg.Notify.RatePerSecond); hooks != nil {
		sinks = append(sinks, hooks)
	}
	if cfg.Notify.Telegram.Enabled {
		tg, err := events.NewTelegramSink(cfg.Notify.Telegram, r)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, tg)
	}
	return sinks, nil
}

// Close drains pending notifications and closes the database.
func (rt *Runtime) Close() error {
	if rt == nil {
		return nil
	}
	busErr := rt.Bus.Close()
	if n := rt.Bus.Dropped(); n > 0 && rt.Logger != nil {
		rt.Logger.Warn("notifications dropped on a full queue", "count", n, "queue_size", rt.Config.Notify.QueueSize)
	}
	return errors.Join(busErr, rt.DB.Close())
}
