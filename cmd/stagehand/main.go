// Copyright (c) 2026 Roomware Labs
// Licensed under the PolyForm Noncommercial License 1.0.0

// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/roomware/stagehand/internal/config"
	"github.com/roomware/stagehand/internal/daemon"
	"github.com/roomware/stagehand/internal/log"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to the bootstrap config (INI)")
	ednPath := flag.String("edn", "", "path to the game definition (EDN)")
	jsonPath := flag.String("json", "", "path to the game definition (JSON)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		return 0
	}

	boot, err := config.LoadBootstrap(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stagehand: %v\n", err)
		return 1
	}

	// Explicit game paths on the command line beat the bootstrap file.
	switch {
	case *ednPath != "":
		boot.GamePath = *ednPath
		boot.GameFormat = config.FormatEDN
	case *jsonPath != "":
		boot.GamePath = *jsonPath
		boot.GameFormat = config.FormatJSON
	}
	if boot.GamePath == "" {
		fmt.Fprintln(os.Stderr, "stagehand: no game definition given (--edn, --json or [game] config in the INI)")
		return 1
	}

	log.Configure(log.Config{
		Level:   boot.LogLevel,
		Service: "stagehand",
		Version: version,
	})
	logger := log.WithComponent("main")

	game, err := config.LoadGame(boot.GamePath, boot.GameFormat)
	if err != nil {
		logger.Error().Err(err).Str("event", "config.load_failed").Msg("game definition failed to load")
		return 1
	}

	report := config.Validate(game)
	for _, warning := range report.Warnings {
		logger.Warn().Str("event", "config.validation_warning").Msg(warning)
	}
	if err := report.Err(); err != nil {
		logger.Error().Err(err).Str("event", "config.validation_failed").Msg("game definition rejected")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := daemon.New(boot, game, version).Run(ctx); err != nil {
		logger.Error().Err(err).Str("event", "daemon.failed").Msg("daemon exited with error")
		return 1
	}
	return 0
}
