// Copyright (c) 2026 Roomware Labs
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package cue resolves named cues and fans their actions out to the zone
// registry. Cues never block the caller: dispatch is fire-and-forget, with
// failures reported on the events topic instead of bubbling up.
package cue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/roomware/stagehand/internal/bus"
	"github.com/roomware/stagehand/internal/events"
	"github.com/roomware/stagehand/internal/log"
	"github.com/roomware/stagehand/internal/model"
	"github.com/roomware/stagehand/internal/timefmt"
	"github.com/roomware/stagehand/internal/zone"
)

// ErrUnknownCue reports a name that resolves in no cue namespace.
var ErrUnknownCue = errors.New("unknown cue")

// Library resolves cue names. Resolution order is per-mode cues, then global
// cues, then legacy actions; the configuration layer implements it.
type Library interface {
	CueByName(mode, name string) (*model.CueDef, bool)
}

// Dispatcher executes cues against the zone registry.
type Dispatcher struct {
	logger   zerolog.Logger
	registry *zone.Registry
	bus      bus.Bus
	lib      Library
	emitter  *events.Emitter

	// afterFunc schedules timeline entries; tests tighten it.
	afterFunc func(d time.Duration, f func()) *time.Timer
}

// New builds a dispatcher.
func New(registry *zone.Registry, b bus.Bus, lib Library, emitter *events.Emitter) *Dispatcher {
	return &Dispatcher{
		logger:    log.WithComponent("cue"),
		registry:  registry,
		bus:       b,
		lib:       lib,
		emitter:   emitter,
		afterFunc: time.AfterFunc,
	}
}

// Known reports whether the name resolves to a cue. Used by the fire-by-name
// classifier.
func (d *Dispatcher) Known(mode, name string) bool {
	_, ok := d.lib.CueByName(mode, name)
	return ok
}

// FireByName resolves and dispatches a cue without blocking the caller.
// Only resolution failures are returned; execution failures land on the
// events topic.
func (d *Dispatcher) FireByName(ctx context.Context, mode, name string) error {
	def, ok := d.lib.CueByName(mode, name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCue, name)
	}
	go func() {
		if err := d.run(ctx, mode, name, def); err != nil {
			d.emitter.Emit(events.SequenceStepFailed, map[string]any{
				"cue":   name,
				"error": err.Error(),
			})
		}
	}()
	return nil
}

// run executes a resolved cue definition synchronously. Exposed to the
// schedule path through FireByName's goroutine; tests call it directly.
func (d *Dispatcher) run(ctx context.Context, mode, name string, def *model.CueDef) error {
	switch {
	case def.Single != nil:
		return d.ExecuteAction(ctx, mode, def.Single)
	case def.List != nil:
		for i := range def.List {
			if err := d.ExecuteAction(ctx, mode, &def.List[i]); err != nil {
				return fmt.Errorf("cue %s action %d: %w", name, i, err)
			}
		}
		return nil
	case def.IsTimeline():
		return d.runTimeline(ctx, mode, name, def)
	case def.Legacy != nil:
		d.emitter.Warn("deprecated_cue_shape",
			fmt.Sprintf("cue %q uses the legacy commands/actions form", name), nil)
		for i := range def.Legacy {
			if err := d.ExecuteAction(ctx, mode, &def.Legacy[i]); err != nil {
				return fmt.Errorf("cue %s legacy action %d: %w", name, i, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("cue %q has no recognised shape", name)
	}
}

// runTimeline validates the countdown timeline and schedules every entry at
// delay (duration - at) seconds. At-start entries fire synchronously.
func (d *Dispatcher) runTimeline(ctx context.Context, mode, name string, def *model.CueDef) error {
	if def.Duration <= 0 {
		return fmt.Errorf("cue %q: timeline duration must be a positive integer", name)
	}
	var haveStart, haveEnd bool
	for _, entry := range def.Timeline {
		if entry.At < 0 || entry.At > def.Duration {
			return fmt.Errorf("cue %q: timeline at=%d outside [0, %d]", name, entry.At, def.Duration)
		}
		if entry.At == def.Duration {
			haveStart = true
		}
		if entry.At == 0 {
			haveEnd = true
		}
	}
	if !haveStart || !haveEnd {
		d.emitter.Warn("cue_timeline_gap",
			fmt.Sprintf("cue %q timeline has no entry at its start or end", name), nil)
	}

	// Descending at: start-of-countdown entries first.
	entries := make([]model.CueTimelineEntry, len(def.Timeline))
	copy(entries, def.Timeline)
	sort.Slice(entries, func(i, j int) bool { return entries[i].At > entries[j].At })

	for _, entry := range entries {
		entry := entry
		delay := time.Duration(def.Duration-entry.At) * time.Second
		runActions := func() {
			for i := range entry.Actions {
				if err := d.ExecuteAction(ctx, mode, &entry.Actions[i]); err != nil {
					d.logger.Warn().
						Err(err).
						Str("event", "cue.timeline_action_failed").
						Str(log.FieldCue, name).
						Int("at", entry.At).
						Msg("timeline action failed")
				}
			}
		}
		if delay == 0 {
			runActions()
			continue
		}
		d.afterFunc(delay, runActions)
	}
	return nil
}

// ExecuteAction performs a single action record. Per-zone failures are
// logged and folded into the returned error only when every target failed.
func (d *Dispatcher) ExecuteAction(ctx context.Context, mode string, a *model.Action) error {
	switch {
	case a.Publish != nil:
		return d.bus.Publish(a.Publish.Topic, a.Publish.Payload)
	case a.Play != nil:
		return d.executePlay(ctx, a)
	case a.Scene != "":
		return d.executeScene(ctx, a)
	case a.Command != "":
		return d.executeCommand(ctx, a)
	default:
		return fmt.Errorf("action has no publish, play, scene or command")
	}
}

// playVerbs maps play-shorthand keys to media verbs.
var playVerbs = map[string]string{
	"video":      "playVideo",
	"file":       "playVideo",
	"speech":     "playSpeech",
	"fx":         "playAudioFX",
	"background": "playBackground",
	"image":      "setImage",
}

func (d *Dispatcher) executePlay(ctx context.Context, a *model.Action) error {
	for key, verb := range playVerbs {
		file, ok := a.Play[key].(string)
		if !ok {
			continue
		}
		opts := map[string]any{"file": file}
		if loop, exists := a.Play["loop"]; exists {
			opts["loop"] = loop
		}
		for k, v := range a.Options {
			opts[k] = v
		}
		return d.fanOut(ctx, a.Targets(), verb, opts)
	}
	return fmt.Errorf("play action without a recognised media key")
}

func (d *Dispatcher) executeScene(ctx context.Context, a *model.Action) error {
	targets := a.Targets()
	if len(targets) == 0 {
		targets = d.registry.ZonesByType(model.ZoneLights)
	}
	return d.fanOut(ctx, targets, "scene", map[string]any{"scene": a.Scene})
}

func (d *Dispatcher) executeCommand(ctx context.Context, a *model.Action) error {
	verb := a.Command
	opts := make(map[string]any, len(a.Options))
	for k, v := range a.Options {
		opts[k] = v
	}
	timefmt.FoldTimeOptions(opts)

	// "scene" as a command verb is the lights shortcut.
	if verb == "scene" {
		if name, ok := opts["name"].(string); ok && opts["scene"] == nil {
			opts["scene"] = name
		}
	}
	return d.fanOut(ctx, a.Targets(), verb, opts)
}

// fanOut runs the verb on every target zone. A per-zone failure is logged
// and does not stop the remaining zones; the call fails only if no zone
// succeeded.
func (d *Dispatcher) fanOut(ctx context.Context, targets []string, verb string, opts map[string]any) error {
	if len(targets) == 0 {
		return fmt.Errorf("verb %q has no target zone", verb)
	}
	var lastErr error
	succeeded := 0
	for _, target := range targets {
		if _, err := d.registry.Execute(ctx, target, verb, opts); err != nil {
			lastErr = err
			d.logger.Warn().
				Err(err).
				Str("event", "cue.zone_failed").
				Str(log.FieldZone, target).
				Str(log.FieldVerb, verb).
				Msg("zone execution failed")
			continue
		}
		succeeded++
	}
	if succeeded == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}
