// Copyright (c) 2026 Roomware Labs
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package sequence executes named sequences: ordered step programs and
// fixed-duration timelines. A sequence blocks its caller; every suspension
// point honours the context. Depth and cycle guards bound nested invocation.
package sequence

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/roomware/stagehand/internal/bus"
	"github.com/roomware/stagehand/internal/cue"
	"github.com/roomware/stagehand/internal/events"
	"github.com/roomware/stagehand/internal/log"
	"github.com/roomware/stagehand/internal/metrics"
	"github.com/roomware/stagehand/internal/model"
	"github.com/roomware/stagehand/internal/zone"
)

// DefaultMaxDepth bounds nested sequence invocation unless a definition
// overrides it via meta.max-depth.
const DefaultMaxDepth = 3

// durationSlack is the tolerated gap between a declared meta.duration and
// the estimate summed from wait steps.
const durationSlack = 0.5

// HintFirer dispatches a hint by id. Wired by the engine to break the
// package cycle between sequences and the hint subsystem.
type HintFirer interface {
	Fire(ctx context.Context, mode, id, source, textOverride string) error
}

// Runner executes sequences against the zone registry and cue dispatcher.
type Runner struct {
	logger   zerolog.Logger
	registry *zone.Registry
	bus      bus.Bus
	cues     *cue.Dispatcher
	emitter  *events.Emitter
	resolver *Resolver

	hints HintFirer

	// sleep is the suspension primitive; tests tighten it.
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a runner. SetHintFirer must be called before any sequence that
// carries hint steps runs.
func New(registry *zone.Registry, b bus.Bus, cues *cue.Dispatcher, resolver *Resolver, emitter *events.Emitter) *Runner {
	return &Runner{
		logger:   log.WithComponent("sequence"),
		registry: registry,
		bus:      b,
		cues:     cues,
		emitter:  emitter,
		resolver: resolver,
		sleep:    sleepCtx,
	}
}

// SetHintFirer wires the hint subsystem in after construction.
func (r *Runner) SetHintFirer(h HintFirer) { r.hints = h }

// Resolver exposes the namespace resolver for the fire-by-name classifier.
func (r *Runner) Resolver() *Resolver { return r.resolver }

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Estimate returns the nominal duration of a definition in seconds: the
// meta override when present, otherwise the timeline duration or the sum of
// wait steps.
func Estimate(def *model.SequenceDef) float64 {
	if def == nil {
		return 0
	}
	if def.Meta.Duration > 0 {
		return def.Meta.Duration
	}
	if def.IsTimeline() {
		return float64(def.Duration)
	}
	return estimateSteps(def.Steps)
}

func estimateSteps(steps []model.Step) float64 {
	var total float64
	for i := range steps {
		step := &steps[i]
		if step.Wait == nil {
			continue
		}
		if step.Wait.Auto {
			total += float64(step.Duration)
			continue
		}
		total += float64(step.Wait.Seconds)
	}
	return total
}

// Run resolves and executes a sequence, blocking until it finishes.
func (r *Runner) Run(ctx context.Context, mode, name string, vars map[string]string) error {
	return r.run(ctx, mode, name, vars, nil)
}

// RunDef executes an inline definition (phase-embedded sequences have no
// name to resolve).
func (r *Runner) RunDef(ctx context.Context, mode, name string, def *model.SequenceDef, vars map[string]string) error {
	return r.runResolved(ctx, mode, name, def, vars, []string{name})
}

func (r *Runner) run(ctx context.Context, mode, name string, vars map[string]string, stack []string) error {
	def, resolved, ok := r.resolver.Resolve(mode, name)
	if !ok {
		r.emitter.Emit(events.SequenceMissing, map[string]any{"sequence": name})
		metrics.SequenceRunsTotal.WithLabelValues("missing").Inc()
		return &Error{Code: CodeMissing, Sequence: name}
	}

	for _, ancestor := range stack {
		if ancestor == resolved {
			r.emitter.Emit(events.SequenceCycle, map[string]any{
				"sequence": resolved,
				"stack":    strings.Join(stack, " > "),
			})
			metrics.SequenceRunsTotal.WithLabelValues("cycle").Inc()
			return &Error{Code: CodeCycle, Sequence: resolved}
		}
	}

	maxDepth := def.Meta.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if len(stack) >= maxDepth {
		r.emitter.Emit(events.SequenceDepthExceeded, map[string]any{
			"sequence": resolved,
			"depth":    len(stack),
		})
		metrics.SequenceRunsTotal.WithLabelValues("depth").Inc()
		return &Error{Code: CodeDepthExceeded, Sequence: resolved}
	}

	return r.runResolved(ctx, mode, resolved, def, vars, append(stack, resolved))
}

func (r *Runner) runResolved(ctx context.Context, mode, name string, def *model.SequenceDef, vars map[string]string, stack []string) error {
	start := time.Now()
	r.emitter.Emit(events.SequenceStart, map[string]any{"sequence": name})
	defer func() {
		metrics.SequenceDuration.Observe(time.Since(start).Seconds())
	}()

	var err error
	if def.IsTimeline() {
		err = r.runTimeline(ctx, mode, name, def)
	} else {
		err = r.runSteps(ctx, mode, name, def, vars, stack)
	}
	if err != nil {
		r.emitter.Emit(events.SequenceFailed, map[string]any{
			"sequence": name,
			"error":    err.Error(),
		})
		metrics.SequenceRunsTotal.WithLabelValues("failed").Inc()
		return err
	}
	r.emitter.Emit(events.SequenceComplete, map[string]any{"sequence": name})
	metrics.SequenceRunsTotal.WithLabelValues("ok").Inc()
	return nil
}

// runTimeline fires each entry after (duration - at) seconds from sequence
// start, blocking between entries.
func (r *Runner) runTimeline(ctx context.Context, mode, name string, def *model.SequenceDef) error {
	if def.Duration <= 0 {
		return &Error{Code: CodeStepFailed, Sequence: name, Detail: "timeline duration must be positive"}
	}
	entries := make([]model.SeqTimelineEntry, len(def.Timeline))
	copy(entries, def.Timeline)
	sort.Slice(entries, func(i, j int) bool { return entries[i].At > entries[j].At })

	elapsed := 0
	for i := range entries {
		entry := &entries[i]
		offset := def.Duration - entry.At
		if wait := offset - elapsed; wait > 0 {
			if err := r.sleep(ctx, time.Duration(wait)*time.Second); err != nil {
				return err
			}
			elapsed = offset
		}
		if err := r.cues.ExecuteAction(ctx, mode, &entry.Action); err != nil {
			r.logger.Warn().
				Err(err).
				Str("event", "sequence.timeline_action_failed").
				Str(log.FieldSequence, name).
				Int("at", entry.At).
				Msg("timeline action failed")
		}
	}
	return nil
}

func (r *Runner) runSteps(ctx context.Context, mode, name string, def *model.SequenceDef, vars map[string]string, stack []string) error {
	estimate := estimateSteps(def.Steps)
	budget := -1.0
	if def.Meta.Duration > 0 && abs(def.Meta.Duration-estimate) > durationSlack {
		r.emitter.Warn("sequence_duration_mismatch",
			fmt.Sprintf("sequence %q declares %.1fs but steps sum to %.1fs", name, def.Meta.Duration, estimate),
			map[string]any{"sequence": name})
		budget = def.Meta.Duration
	}

	spent := 0.0
	for i := range def.Steps {
		if budget >= 0 && spent >= budget {
			r.logger.Warn().
				Str("event", "sequence.truncated").
				Str(log.FieldSequence, name).
				Int("step", i).
				Msg("execution truncated at declared duration")
			break
		}

		step := substituteStep(&def.Steps[i], vars)
		r.emitter.Emit(events.SequenceStepStart, map[string]any{"sequence": name, "step": i})

		waited, err := r.runStep(ctx, mode, name, step, vars, stack)
		spent += waited
		if err != nil {
			r.emitter.Emit(events.SequenceStepFailed, map[string]any{
				"sequence": name,
				"step":     i,
				"error":    err.Error(),
			})
			if CodeOf(err) != "" {
				return err
			}
			return &Error{Code: CodeStepFailed, Sequence: name, Detail: err.Error()}
		}
		r.emitter.Emit(events.SequenceStepComplete, map[string]any{"sequence": name, "step": i})

		// Trailing wait: a step with a discriminator and a wait suspends
		// after its action; "wait: true" borrows the step's own duration.
		if step.Wait != nil && !step.IsPureWait() {
			secs := step.Wait.Seconds
			if step.Wait.Auto {
				secs = step.Duration
			}
			if err := r.sleep(ctx, time.Duration(secs)*time.Second); err != nil {
				return err
			}
			spent += float64(secs)
		}
	}
	return nil
}

// runStep executes one step and reports the seconds it deliberately spent
// suspended (for duration budgeting).
func (r *Runner) runStep(ctx context.Context, mode, name string, step *model.Step, vars map[string]string, stack []string) (float64, error) {
	switch {
	case step.IsPureWait():
		secs := step.Wait.Seconds
		if err := r.sleep(ctx, time.Duration(secs)*time.Second); err != nil {
			return 0, err
		}
		return float64(secs), nil

	case step.Hint != "":
		if r.hints == nil {
			return 0, fmt.Errorf("hint step without a hint subsystem")
		}
		// Hint failures never fail the containing sequence.
		if err := r.hints.Fire(ctx, mode, step.Hint, "sequence", step.Text); err != nil {
			r.logger.Warn().
				Err(err).
				Str("event", "sequence.hint_failed").
				Str(log.FieldHint, step.Hint).
				Msg("hint dispatch failed, continuing")
		}
		return 0, nil

	case step.Fire != "":
		return 0, r.fireByName(ctx, mode, step.Fire, vars, stack)

	case step.FireCue != "":
		if err := r.cues.FireByName(ctx, mode, step.FireCue); err != nil {
			r.logger.Warn().
				Err(err).
				Str("event", "sequence.cue_missing").
				Str(log.FieldCue, step.FireCue).
				Msg("fire-cue target not found")
		}
		return 0, nil

	case step.FireSeq != "":
		return 0, r.run(ctx, mode, step.FireSeq, vars, stack)

	case step.Publish != nil:
		return 0, r.bus.Publish(step.Publish.Topic, step.Publish.Payload)

	case step.VerifyBrowser != nil:
		return 0, r.runVerify(ctx, name, step, "verifyBrowser", map[string]any{
			"url":     step.VerifyBrowser.URL,
			"visible": step.VerifyBrowser.Visible,
			"timeout": step.VerifyBrowser.Timeout,
		})

	case step.VerifyImage != nil:
		return 0, r.runVerify(ctx, name, step, "verifyImage", map[string]any{
			"file":    step.VerifyImage.File,
			"timeout": step.VerifyImage.Timeout,
		})

	case step.Command != "":
		action := &model.Action{
			Zone:    step.Zone,
			Zones:   step.Zones,
			Command: step.Command,
			Options: step.Options,
		}
		// Per-zone failures are logged inside the dispatcher and do not
		// abort the sequence.
		if err := r.cues.ExecuteAction(ctx, mode, action); err != nil {
			r.logger.Warn().
				Err(err).
				Str("event", "sequence.command_failed").
				Str(log.FieldVerb, step.Command).
				Msg("command step failed on all zones, continuing")
		}
		return 0, nil

	default:
		return 0, fmt.Errorf("step has no recognised discriminator")
	}
}

// fireByName is the unified fire classifier: cue first, then sequence, then
// hint (deprecated path).
func (r *Runner) fireByName(ctx context.Context, mode, name string, vars map[string]string, stack []string) error {
	if r.cues.Known(mode, name) {
		return r.cues.FireByName(ctx, mode, name)
	}
	if r.resolver.Known(mode, name) {
		return r.run(ctx, mode, name, vars, stack)
	}
	if r.hints != nil {
		r.emitter.Warn("deprecated_fire_hint",
			fmt.Sprintf("firing hint %q through fire is deprecated, use hint or play-hint", name),
			nil)
		return r.hints.Fire(ctx, mode, name, "sequence", "")
	}
	return fmt.Errorf("fire target %q matches no cue, sequence or hint", name)
}

// runVerify fans a verification out to each target zone. Browser failures
// abort the sequence; image verification timeouts only warn (the adapter
// returns them as results, not errors).
func (r *Runner) runVerify(ctx context.Context, name string, step *model.Step, verb string, opts map[string]any) error {
	for _, target := range step.Targets() {
		if _, err := r.registry.Execute(ctx, target, verb, opts); err != nil {
			r.emitter.Warn("browser_verification_failed",
				fmt.Sprintf("%s failed on zone %s: %v", verb, target, err),
				map[string]any{"sequence": name, "zone": target})
			return fmt.Errorf("%s on %s: %w", verb, target, err)
		}
	}
	return nil
}

// substituteStep applies {{var}} placeholders to the step's string values,
// returning a copy.
func substituteStep(step *model.Step, vars map[string]string) *model.Step {
	if len(vars) == 0 {
		return step
	}
	out := *step
	out.Text = substitute(step.Text, vars)
	out.Log = substitute(step.Log, vars)
	if step.Publish != nil {
		pub := *step.Publish
		pub.Topic = substitute(pub.Topic, vars)
		if s, ok := pub.Payload.(string); ok {
			pub.Payload = substitute(s, vars)
		}
		out.Publish = &pub
	}
	if len(step.Options) > 0 {
		opts := make(map[string]any, len(step.Options))
		for k, v := range step.Options {
			if s, ok := v.(string); ok {
				opts[k] = substitute(s, vars)
			} else {
				opts[k] = v
			}
		}
		out.Options = opts
	}
	return &out
}

func substitute(s string, vars map[string]string) string {
	if s == "" || !strings.Contains(s, "{{") {
		return s
	}
	for k, v := range vars {
		s = strings.ReplaceAll(s, "{{"+k+"}}", v)
	}
	return s
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
