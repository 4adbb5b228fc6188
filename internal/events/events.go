// Copyright (c) 2026 Roomware Labs
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package events publishes the engine's diagnostic records: lifecycle events
// on the events topic and structured warnings on the warnings topic.
package events

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/roomware/stagehand/internal/bus"
	"github.com/roomware/stagehand/internal/log"
)

// Event names emitted by the engine core.
const (
	PhaseTransition       = "phase_transition"
	GameEndTrigger        = "game_end_trigger"
	CommandProcessed      = "command_processed"
	CommandValidationFail = "command_validation_failed"

	SequenceStart         = "sequence_start"
	SequenceStepStart     = "sequence_step_start"
	SequenceStepComplete  = "sequence_step_complete"
	SequenceStepFailed    = "sequence_step_failed"
	SequenceComplete      = "sequence_complete"
	SequenceFailed        = "sequence_failed"
	SequenceMissing       = "sequence_missing"
	SequenceCycle         = "sequence_cycle_detected"
	SequenceDepthExceeded = "sequence_depth_exceeded"
	SequenceRejectedBusy  = "sequence_rejected_busy"

	HintExecuted   = "hint_executed"
	HintSuppressed = "hint_suppressed"
)

// Emitter writes to the game's events and warnings topics. The zero value is
// a no-op, which keeps leaf packages testable without wiring.
type Emitter struct {
	bus        bus.Bus
	eventTopic string
	warnTopic  string
	logger     zerolog.Logger
	now        func() time.Time
}

// New builds an emitter rooted at the game topic.
func New(b bus.Bus, gameTopic string) *Emitter {
	return &Emitter{
		bus:        b,
		eventTopic: gameTopic + "/events",
		warnTopic:  gameTopic + "/warnings",
		logger:     log.WithComponent("events"),
		now:        time.Now,
	}
}

// Emit publishes {event, t, data} on the events topic.
func (e *Emitter) Emit(event string, data map[string]any) {
	if e == nil || e.bus == nil {
		return
	}
	payload := map[string]any{
		"event": event,
		"t":     e.now().UTC().Format(time.RFC3339),
	}
	if len(data) > 0 {
		payload["data"] = data
	}
	if err := e.bus.Publish(e.eventTopic, payload); err != nil {
		e.logger.Debug().Err(err).Str(log.FieldEvent, event).Msg("event publish failed")
	}
}

// Warn publishes {warning, message, timestamp, ...extra} on the warnings
// topic and mirrors it to the log.
func (e *Emitter) Warn(warning, message string, extra map[string]any) {
	if e == nil || e.bus == nil {
		return
	}
	payload := map[string]any{
		"warning":   warning,
		"message":   message,
		"timestamp": e.now().UTC().Format(time.RFC3339),
	}
	for k, v := range extra {
		payload[k] = v
	}
	_ = e.bus.Publish(e.warnTopic, payload)
	// Info level keeps the log bridge from republishing this record.
	e.logger.Info().
		Str("event", "warning.published").
		Str("warning", warning).
		Msg(message)
}
