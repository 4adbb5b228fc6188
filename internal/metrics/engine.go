// Copyright (c) 2026 Roomware Labs
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package metrics defines the Prometheus instruments exposed on the debug
// listener. All instruments are registered at package init via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stagehand_commands_total",
		Help: "Total number of operator commands processed by command and outcome",
	}, []string{"command", "outcome"})

	PhaseTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stagehand_phase_transitions_total",
		Help: "Total number of phase transitions by target phase",
	}, []string{"to"})

	SequenceRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stagehand_sequence_runs_total",
		Help: "Total number of sequence executions by result",
	}, []string{"result"})

	SequenceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stagehand_sequence_duration_seconds",
		Help:    "Wall-clock duration of sequence executions",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	HintsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stagehand_hints_total",
		Help: "Total number of hints fired by type and source",
	}, []string{"type", "source"})

	HintsSuppressedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stagehand_hints_suppressed_total",
		Help: "Total number of scheduled hints squelched by the suppression set",
	})

	GameSecondsRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stagehand_game_seconds_remaining",
		Help: "Gameplay countdown in seconds as driven by the unified tick",
	})

	ZoneCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stagehand_zone_commands_total",
		Help: "Total number of zone command executions by zone type and outcome",
	}, []string{"type", "outcome"})
)
