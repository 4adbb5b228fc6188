// Copyright (c) 2026 Roomware Labs
// Licensed under the PolyForm Noncommercial License 1.0.0

package engine

import (
	"context"
	"time"

	"github.com/roomware/stagehand/internal/events"
	"github.com/roomware/stagehand/internal/hint"
	"github.com/roomware/stagehand/internal/log"
	"github.com/roomware/stagehand/internal/metrics"
	"github.com/roomware/stagehand/internal/model"
)

// tickLoop is the unified 1 Hz scheduler. One ticker serves every phase;
// the body switches on the current phase.
func (e *Engine) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	e.mu.Lock()
	phase := e.phase

	switch phase {
	case PhaseIntro, PhaseGameplay:
		if e.remaining > 0 {
			e.remaining--
		}
		rem := e.remaining
		due := e.dueEntriesLocked(phase, rem)
		gameOver := phase == PhaseGameplay && rem == 0
		e.mu.Unlock()

		if phase == PhaseGameplay {
			metrics.GameSecondsRemaining.Set(float64(rem))
			e.publishState()
		}
		for i := range due {
			e.fireEntry(ctx, &due[i], false)
		}
		if gameOver {
			e.TriggerEnd(ctx, OutcomeFail)
		}

	case PhaseSolved, PhaseFailed:
		if e.resetPaused {
			e.mu.Unlock()
			return
		}
		if e.resetRemaining > 0 {
			e.resetRemaining--
		}
		rem := e.resetRemaining
		due := e.dueEntriesLocked(phase, rem)
		closingDone := rem == 0
		e.mu.Unlock()

		e.publishState()
		for i := range due {
			// Closing-phase entries bypass hint suppression.
			e.fireEntry(ctx, &due[i], true)
		}
		if closingDone {
			e.finishClosing(ctx)
		}

	case PhaseReady:
		if !e.game.Idle.Enabled {
			e.mu.Unlock()
			return
		}
		e.idleSeconds++
		fireIdle := e.idleSeconds >= e.game.Idle.Interval
		if fireIdle {
			e.idleSeconds = 0
		}
		e.mu.Unlock()

		if fireIdle {
			name := e.game.Idle.Name
			e.logger.Info().
				Str("event", "idle.fire").
				Str(log.FieldSequence, name).
				Msg("firing idle attract sequence")
			go func() {
				if err := e.seqs.Run(ctx, "", name, nil); err != nil {
					e.logger.Warn().Err(err).Str("event", "idle.failed").Msg("idle sequence failed")
				}
			}()
		}

	default:
		e.mu.Unlock()
	}
}

// dueEntriesLocked collects the entries of the phase whose at matches the
// remaining seconds, in registration order. Caller holds the lock.
func (e *Engine) dueEntriesLocked(phase string, remaining int) []model.ScheduleEntry {
	var due []model.ScheduleEntry
	for _, entry := range e.schedules[phase] {
		if entry.At == remaining {
			due = append(due, entry)
		}
	}
	return due
}

// registerSchedule attaches a phase-scoped schedule. Entries with
// at == duration fire synchronously right here; everything else waits for
// its tick. Entries beyond the duration can never fire and are dropped with
// a warning.
func (e *Engine) registerSchedule(ctx context.Context, phase string, entries []model.ScheduleEntry, duration int) {
	kept := make([]model.ScheduleEntry, 0, len(entries))
	var immediate []model.ScheduleEntry
	for _, entry := range entries {
		switch {
		case entry.At > duration:
			e.emitter.Warn("schedule_entry_unreachable",
				"schedule entry can never fire, at exceeds the phase duration",
				map[string]any{"phase": phase, "at": entry.At, "duration": duration})
		case entry.At == duration:
			immediate = append(immediate, entry)
		default:
			kept = append(kept, entry)
		}
	}

	e.mu.Lock()
	if e.phase == phase {
		e.schedules[phase] = append(e.schedules[phase], kept...)
	}
	e.mu.Unlock()

	for i := range immediate {
		e.fireEntry(ctx, &immediate[i], false)
	}
}

// fireEntry executes one schedule entry. Everything here is fire-and-forget;
// a schedule never blocks the tick.
func (e *Engine) fireEntry(ctx context.Context, entry *model.ScheduleEntry, bypassSuppression bool) {
	mode := e.currentMode()

	if entry.Log != "" {
		e.logger.Info().
			Str("event", "schedule.log").
			Int("at", entry.At).
			Msg(entry.Log)
	}

	switch {
	case entry.End != "":
		e.TriggerEnd(ctx, entry.End)

	case entry.Fire != "":
		go func(name string) {
			if err := e.fireByName(ctx, mode, name); err != nil {
				e.logger.Warn().Err(err).
					Str("event", "schedule.fire_failed").
					Str("target", name).
					Msg("schedule fire failed")
			}
		}(entry.Fire)

	case entry.FireCue != "":
		go func(name string) {
			if err := e.cues.FireByName(ctx, mode, name); err != nil {
				e.logger.Warn().Err(err).
					Str("event", "schedule.cue_failed").
					Str(log.FieldCue, name).
					Msg("schedule cue failed")
			}
		}(entry.FireCue)

	case entry.FireSeq != "":
		go func(name string) {
			if err := e.seqs.Run(ctx, mode, name, nil); err != nil {
				e.logger.Warn().Err(err).
					Str("event", "schedule.sequence_failed").
					Str(log.FieldSequence, name).
					Msg("schedule sequence failed")
			}
		}(entry.FireSeq)

	case entry.Hint != "" || entry.PlayHint != "":
		id := entry.Hint
		if id == "" {
			id = entry.PlayHint
		}
		e.fireScheduledHint(ctx, mode, id, entry.Text, bypassSuppression)

	case entry.Zone != "" && entry.Command != "":
		go func(entry model.ScheduleEntry) {
			if _, err := e.registry.Execute(ctx, entry.Zone, entry.Command, entry.Options); err != nil {
				e.logger.Warn().Err(err).
					Str("event", "schedule.command_failed").
					Str(log.FieldZone, entry.Zone).
					Str(log.FieldVerb, entry.Command).
					Msg("schedule command failed")
			}
		}(*entry)
	}
}

func (e *Engine) fireScheduledHint(ctx context.Context, mode, id, text string, bypassSuppression bool) {
	e.mu.Lock()
	marked := e.markedActions[id]
	e.mu.Unlock()
	if marked {
		e.emitter.Emit(events.HintSuppressed, map[string]any{"hint": id, "reason": "marked_action"})
		metrics.HintsSuppressedTotal.Inc()
		return
	}

	source := hint.SourceScheduled
	if bypassSuppression {
		source = hint.SourceManual
	}
	go func() {
		if err := e.hints.Fire(ctx, mode, id, source, text); err != nil {
			e.logger.Warn().Err(err).
				Str("event", "schedule.hint_failed").
				Str(log.FieldHint, id).
				Msg("scheduled hint failed")
		}
	}()
}

// fireByName is the schedule-level classifier: cue, then sequence, then
// hint. The sequence runner applies the same priority for its fire steps.
func (e *Engine) fireByName(ctx context.Context, mode, name string) error {
	if e.cues.Known(mode, name) {
		return e.cues.FireByName(ctx, mode, name)
	}
	if e.seqs.Resolver().Known(mode, name) {
		return e.seqs.Run(ctx, mode, name, nil)
	}
	return e.hints.Fire(ctx, mode, name, hint.SourceScheduled, "")
}

// heartbeatLoop republishes state and sweeps the hint suppression set.
func (e *Engine) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.publishState()
			e.hints.Sweep()
		}
	}
}
