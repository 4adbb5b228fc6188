// Copyright (c) 2026 Roomware Labs
// Licensed under the PolyForm Noncommercial License 1.0.0

package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/roomware/stagehand/internal/bus"
	"github.com/roomware/stagehand/internal/events"
	"github.com/roomware/stagehand/internal/hint"
	"github.com/roomware/stagehand/internal/log"
	"github.com/roomware/stagehand/internal/metrics"
	"github.com/roomware/stagehand/internal/model"
)

// handleCommand returns the bus handler for the command topic.
func (e *Engine) handleCommand(ctx context.Context) bus.Handler {
	return func(_ string, value any) {
		body, ok := value.(map[string]any)
		if !ok {
			// The bus decoder falls back to a raw string for non-JSON
			// payloads.
			e.rejectCommand("", "malformed_command", "command payload is not a JSON object")
			return
		}
		name, _ := body["command"].(string)
		if name == "" {
			e.rejectCommand("", "invalid_command", "command field missing or not a string")
			return
		}
		e.dispatchCommand(ctx, name, body)
	}
}

func (e *Engine) rejectCommand(name, warning, message string) {
	e.emitter.Emit(events.CommandValidationFail, map[string]any{
		"command": name,
		"reason":  warning,
	})
	e.emitter.Warn(warning, message, map[string]any{"command": name})
	metrics.CommandsTotal.WithLabelValues(orUnknown(name), "rejected").Inc()
}

func orUnknown(name string) string {
	if name == "" {
		return "unknown"
	}
	return name
}

func (e *Engine) dispatchCommand(ctx context.Context, name string, body map[string]any) {
	correlationID := uuid.NewString()
	ctx = log.ContextWithCommandID(ctx, correlationID)
	logger := e.logger.With().
		Str(log.FieldCommandID, correlationID).
		Str("command", name).
		Logger()
	logger.Info().Str("event", "command.received").Msg("processing command")

	processed := func() {
		e.emitter.Emit(events.CommandProcessed, map[string]any{
			"command":       name,
			"correlationId": correlationID,
		})
		metrics.CommandsTotal.WithLabelValues(name, "ok").Inc()
	}

	if mode, ok := strings.CutPrefix(name, "start:"); ok {
		if e.cmdStart(ctx, "start", mode) {
			processed()
		}
		return
	}

	switch name {
	case "reset", "resetting":
		go e.doReset(ctx)

	case "start", "startMode":
		if !e.cmdStart(ctx, name, strField(body, "mode", "gameMode")) {
			return
		}

	case "solve", "win":
		e.TriggerEnd(ctx, OutcomeWin)

	case "fail":
		e.TriggerEnd(ctx, OutcomeFail)

	case "pause":
		go e.doPause(ctx)

	case "resume":
		go e.doResume(ctx)

	case "shutdown", "reboot", "halt", "sleep", "wake":
		go e.runLifecycle(ctx, name)

	case "machineShutdown":
		go e.runLifecycle(ctx, "machine-shutdown")

	case "adjustTime":
		if !e.cmdAdjustTime(body) {
			return
		}

	case "playHint", "executeHint":
		id := strField(body, "id", "hintId", "hint")
		if id == "" {
			e.rejectCommand(name, "invalid_command", "hint id missing")
			return
		}
		go e.fireManualHint(ctx, id, "")

	case "sendHint":
		text := strField(body, "text")
		if text == "" {
			e.rejectCommand(name, "invalid_command", "hint text missing")
			return
		}
		go e.fireManualHint(ctx, "", text)

	case "markAction":
		action := strField(body, "action")
		if action == "" {
			e.rejectCommand(name, "invalid_command", "action missing")
			return
		}
		e.mu.Lock()
		e.markedActions[action] = true
		e.mu.Unlock()

	case "pauseResetTimer":
		e.setResetPaused(true)

	case "resumeResetTimer":
		e.setResetPaused(false)

	case "getState":
		e.publishState()

	case "stopAll":
		go e.cmdStopAll(ctx)

	case "listModes":
		e.emitter.Emit("modes", map[string]any{"modes": e.game.ModeNames()})

	case "setGameMode":
		if !e.cmdSetGameMode(strField(body, "mode", "gameMode")) {
			return
		}

	case "debugLog":
		logger.Info().
			Str("event", "command.debug_log").
			Str("tag", strField(body, "tag")).
			Msg(strField(body, "message"))

	case "listHints", "getHints", "hints":
		e.publishHintsRegistry()

	case "getConfig", "config":
		e.publishConfig()

	default:
		e.rejectCommand(name, "unknown_command", "command not recognised")
		return
	}

	processed()
}

func (e *Engine) cmdStart(ctx context.Context, command, mode string) bool {
	if mode == "" {
		// A bare start works when exactly one mode exists.
		names := e.game.ModeNames()
		if len(names) != 1 {
			e.rejectCommand(command, "invalid_command", "start requires a mode")
			return false
		}
		mode = names[0]
	}
	if err := e.Start(ctx, mode); err != nil {
		e.rejectCommand(command, "invalid_command", err.Error())
		return false
	}
	return true
}

func (e *Engine) cmdAdjustTime(body map[string]any) bool {
	delta, ok := intField(body, "seconds", "delta")
	if !ok {
		e.rejectCommand("adjustTime", "invalid_command", "seconds missing")
		return false
	}
	e.mu.Lock()
	e.remaining += delta
	if e.remaining < 0 {
		e.remaining = 0
	}
	rem := e.remaining
	e.mu.Unlock()

	e.logger.Info().
		Str("event", "game.time_adjusted").
		Int("delta", delta).
		Int(log.FieldRemaining, rem).
		Msg("gameplay time adjusted")
	e.publishState()
	return true
}

func (e *Engine) fireManualHint(ctx context.Context, id, text string) {
	if err := e.hints.Fire(ctx, e.currentMode(), id, hint.SourceManual, text); err != nil {
		e.logger.Warn().Err(err).
			Str("event", "command.hint_failed").
			Str(log.FieldHint, id).
			Msg("manual hint failed")
	}
}

func (e *Engine) setResetPaused(paused bool) {
	e.mu.Lock()
	e.resetPaused = paused
	e.mu.Unlock()
	e.logger.Info().
		Str("event", "reset_timer.gate").
		Bool("paused", paused).
		Msg("reset timer gate changed")
}

func (e *Engine) cmdStopAll(ctx context.Context) {
	for _, name := range e.registry.ZonesByType(model.ZoneMedia) {
		if _, err := e.registry.Execute(ctx, name, "stopAll", nil); err != nil {
			e.logger.Warn().Err(err).
				Str("event", "command.stop_all_failed").
				Str(log.FieldZone, name).
				Msg("stopAll failed on zone")
		}
	}
}

func (e *Engine) cmdSetGameMode(mode string) bool {
	if mode == "" {
		e.rejectCommand("setGameMode", "invalid_command", "mode missing")
		return false
	}
	if _, ok := e.game.Mode(mode); !ok {
		e.rejectCommand("setGameMode", "invalid_command", "unknown mode "+mode)
		return false
	}
	e.mu.Lock()
	if e.phase != PhaseReady {
		phase := e.phase
		e.mu.Unlock()
		e.rejectCommand("setGameMode", "invalid_command", "mode can only change in ready, not "+phase)
		return false
	}
	e.mode = mode
	e.mu.Unlock()

	e.publishHintsRegistry()
	e.publishConfig()
	e.publishState()
	return true
}

// doReset cancels whatever is in flight and drives the engine back to
// ready. During a closing countdown this skips the remaining wait.
func (e *Engine) doReset(ctx context.Context) {
	e.runExclusive(ctx, "reset", func(runCtx context.Context) {
		e.mu.Lock()
		from := e.phase
		e.phase = PhaseResetting
		e.schedules = map[string][]model.ScheduleEntry{}
		e.mu.Unlock()

		e.logger.Info().
			Str("event", "game.reset").
			Str(log.FieldOldPhase, from).
			Msg("resetting")
		e.publishState()

		mode := e.currentMode()
		if e.seqs.Resolver().Known(mode, "reset-sequence") {
			if err := e.seqs.Run(runCtx, mode, "reset-sequence", nil); err != nil {
				e.logger.Warn().Err(err).Str("event", "reset.sequence_failed").Msg("reset sequence failed")
			}
		}
		e.settleReady()
	})
}

func (e *Engine) doPause(ctx context.Context) {
	e.runExclusive(ctx, "pause", func(runCtx context.Context) {
		e.mu.Lock()
		if e.phase != PhaseGameplay && e.phase != PhaseIntro {
			phase := e.phase
			e.mu.Unlock()
			e.rejectCommand("pause", "invalid_command", "cannot pause in phase "+phase)
			return
		}
		e.pausedFrom = e.phase
		e.phase = PhasePaused
		e.mu.Unlock()

		e.publishState()
		e.runLifecycleSequence(runCtx, "pause-sequence")
	})
}

func (e *Engine) doResume(ctx context.Context) {
	e.runExclusive(ctx, "resume", func(runCtx context.Context) {
		e.mu.Lock()
		if e.phase != PhasePaused {
			phase := e.phase
			e.mu.Unlock()
			e.rejectCommand("resume", "invalid_command", "cannot resume in phase "+phase)
			return
		}
		e.phase = e.pausedFrom
		if e.phase == "" {
			e.phase = PhaseGameplay
		}
		e.pausedFrom = ""
		e.mu.Unlock()

		e.runLifecycleSequence(runCtx, "resume-sequence")
		e.publishState()
	})
}

// runLifecycle handles the machine-level commands (shutdown, reboot, ...):
// the matching sequence runs when one is configured, and the event is
// always emitted so an external supervisor can act on it.
func (e *Engine) runLifecycle(ctx context.Context, name string) {
	e.runExclusive(ctx, name, func(runCtx context.Context) {
		e.runLifecycleSequence(runCtx, name+"-sequence")
		e.emitter.Emit("lifecycle_"+strings.ReplaceAll(name, "-", "_"), nil)
	})
}

func (e *Engine) runLifecycleSequence(ctx context.Context, name string) {
	mode := e.currentMode()
	if !e.seqs.Resolver().Known(mode, name) {
		return
	}
	if err := e.seqs.Run(ctx, mode, name, nil); err != nil {
		e.logger.Warn().Err(err).
			Str("event", "lifecycle.sequence_failed").
			Str(log.FieldSequence, name).
			Msg("lifecycle sequence failed")
	}
}

func strField(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func intField(m map[string]any, keys ...string) (int, bool) {
	for _, key := range keys {
		switch v := m[key].(type) {
		case float64:
			return int(v), true
		case int:
			return v, true
		}
	}
	return 0, false
}
