// Copyright (c) 2026 Roomware Labs
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package daemon owns the long-lived runtime lifecycle: the bus connection,
// the engine, the optional debug HTTP listener and the config watcher.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/roomware/stagehand/internal/bus"
	"github.com/roomware/stagehand/internal/config"
	"github.com/roomware/stagehand/internal/engine"
	"github.com/roomware/stagehand/internal/events"
	"github.com/roomware/stagehand/internal/log"
)

const connectTimeout = 30 * time.Second

// App wires the subsystems together and blocks in Run until shutdown.
type App struct {
	logger  zerolog.Logger
	boot    config.Bootstrap
	game    *config.Game
	version string
}

// New builds the daemon from loaded configuration.
func New(boot config.Bootstrap, game *config.Game, version string) *App {
	return &App{
		logger:  log.WithComponent("daemon"),
		boot:    boot,
		game:    game,
		version: version,
	}
}

// Run connects the bus, starts the engine and the auxiliary listeners, and
// blocks until the context ends or a subsystem fails fatally.
func (a *App) Run(ctx context.Context) error {
	client := bus.New(bus.Options{
		BrokerURL:      a.boot.BrokerURL,
		ClientID:       a.boot.ClientID,
		Username:       a.boot.Username,
		Password:       a.boot.Password,
		ConnectTimeout: connectTimeout,
	})
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("daemon: broker connect: %w", err)
	}
	defer client.Disconnect()

	// Warn-and-above log records surface on the warnings topic from here on.
	emitter := events.New(client, a.boot.GameTopic)
	log.SetWarningSink(func(level, message string) {
		emitter.Warn("log_"+level, message, nil)
	})
	defer log.SetWarningSink(nil)

	eng, err := engine.New(engine.Options{
		Bus:         client,
		Game:        a.game,
		GameTopic:   a.boot.GameTopic,
		Heartbeat:   a.boot.Heartbeat(),
		DefaultFade: a.boot.DefaultFade,
		MirrorUI:    a.boot.MirrorUI,
	})
	if err != nil {
		return err
	}

	a.logger.Info().
		Str("event", "daemon.start").
		Str("version", a.version).
		Str(log.FieldBroker, a.boot.BrokerURL).
		Str(log.FieldTopic, a.boot.GameTopic).
		Msg("stagehand up")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return eng.Run(ctx) })

	if a.boot.DebugListen != "" {
		g.Go(func() error { return a.serveDebug(ctx) })
	}

	// The config watcher is best-effort operator feedback; it must never
	// take the daemon down.
	if a.boot.GamePath != "" {
		g.Go(func() error {
			err := config.Watch(ctx, a.boot.GamePath, func(path string) {
				emitter.Warn("config_changed_on_disk",
					"game config changed on disk, effective after restart",
					map[string]any{"path": path})
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Warn().Err(err).Str("event", "config.watcher_failed").Msg("config watcher stopped")
			}
			return nil
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	a.logger.Info().Str("event", "daemon.stop").Msg("stagehand shutting down")
	return err
}
