// Copyright (c) 2026 Roomware Labs
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config loads the engine's two configuration layers: the INI
// bootstrap (broker, topics, paths) and the game definition (zones, modes,
// sequences, cues, hints) in JSON, YAML or EDN. Precedence for bootstrap
// values is ENV > file > defaults. Everything is read once at startup and
// immutable afterwards.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/ini.v1"
)

// Bootstrap is the process-level configuration. It says where the broker
// is, which game topic the engine owns, and where the game definition lives.
type Bootstrap struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string

	GameTopic  string
	GamePath   string
	GameFormat string // "json", "yaml" or "edn"; inferred from GamePath when empty

	HeartbeatMs int
	DefaultFade int
	MirrorUI    bool

	DebugListen string // empty disables the debug HTTP listener

	LogLevel  string
	LogFormat string // "json" or "console"
}

// Heartbeat floor. Anything below this would saturate the bus with state
// republishes.
const minHeartbeatMs = 50

func defaults() Bootstrap {
	return Bootstrap{
		BrokerURL:   "tcp://localhost:1883",
		ClientID:    "stagehand",
		GameTopic:   "game",
		HeartbeatMs: 1000,
		DefaultFade: 2,
		LogLevel:    "info",
		LogFormat:   "json",
	}
}

// LoadBootstrap reads the INI file at path (optional, "" skips the file
// layer) and applies STAGEHAND_* environment overrides.
func LoadBootstrap(path string) (Bootstrap, error) {
	cfg := defaults()

	if path != "" {
		f, err := ini.Load(path)
		if err != nil {
			return Bootstrap{}, fmt.Errorf("bootstrap config %s: %w", path, err)
		}
		applyFile(&cfg, f)
	}
	applyEnv(&cfg)

	if cfg.HeartbeatMs < minHeartbeatMs {
		cfg.HeartbeatMs = minHeartbeatMs
	}
	if cfg.GameTopic == "" {
		return Bootstrap{}, fmt.Errorf("bootstrap config: game topic must not be empty")
	}
	return cfg, nil
}

// Heartbeat returns the heartbeat interval as a duration.
func (b Bootstrap) Heartbeat() time.Duration {
	return time.Duration(b.HeartbeatMs) * time.Millisecond
}

func applyFile(cfg *Bootstrap, f *ini.File) {
	mqtt := f.Section("mqtt")
	fileString(mqtt, "broker", &cfg.BrokerURL)
	fileString(mqtt, "client-id", &cfg.ClientID)
	fileString(mqtt, "username", &cfg.Username)
	fileString(mqtt, "password", &cfg.Password)

	game := f.Section("game")
	fileString(game, "topic", &cfg.GameTopic)
	fileString(game, "config", &cfg.GamePath)
	fileString(game, "format", &cfg.GameFormat)
	fileInt(game, "heartbeat-ms", &cfg.HeartbeatMs)

	clock := f.Section("clock")
	fileInt(clock, "default-fade", &cfg.DefaultFade)
	fileBool(clock, "mirror-ui", &cfg.MirrorUI)

	debug := f.Section("debug")
	fileString(debug, "listen", &cfg.DebugListen)

	logs := f.Section("log")
	fileString(logs, "level", &cfg.LogLevel)
	fileString(logs, "format", &cfg.LogFormat)
}

func fileString(sec *ini.Section, key string, dst *string) {
	if sec.HasKey(key) {
		*dst = sec.Key(key).String()
	}
}

func fileInt(sec *ini.Section, key string, dst *int) {
	if sec.HasKey(key) {
		if v, err := sec.Key(key).Int(); err == nil {
			*dst = v
		}
	}
}

func fileBool(sec *ini.Section, key string, dst *bool) {
	if sec.HasKey(key) {
		if v, err := sec.Key(key).Bool(); err == nil {
			*dst = v
		}
	}
}

func applyEnv(cfg *Bootstrap) {
	envString("STAGEHAND_BROKER", &cfg.BrokerURL)
	envString("STAGEHAND_CLIENT_ID", &cfg.ClientID)
	envString("STAGEHAND_MQTT_USERNAME", &cfg.Username)
	envString("STAGEHAND_MQTT_PASSWORD", &cfg.Password)
	envString("STAGEHAND_GAME_TOPIC", &cfg.GameTopic)
	envString("STAGEHAND_GAME_CONFIG", &cfg.GamePath)
	envString("STAGEHAND_GAME_FORMAT", &cfg.GameFormat)
	envInt("STAGEHAND_HEARTBEAT_MS", &cfg.HeartbeatMs)
	envInt("STAGEHAND_DEFAULT_FADE", &cfg.DefaultFade)
	envBool("STAGEHAND_MIRROR_UI", &cfg.MirrorUI)
	envString("STAGEHAND_DEBUG_LISTEN", &cfg.DebugListen)
	envString("STAGEHAND_LOG_LEVEL", &cfg.LogLevel)
	envString("STAGEHAND_LOG_FORMAT", &cfg.LogFormat)
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

func envBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*dst = parsed
		}
	}
}
