// Copyright (c) 2026 Roomware Labs
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/roomware/stagehand/internal/model"
	"github.com/roomware/stagehand/internal/sequence"
)

var knownZoneTypes = map[string]bool{
	model.ZoneMedia:  true,
	model.ZoneLights: true,
	model.ZoneClock:  true,
}

// Report is the outcome of startup validation. Errors are fatal; warnings
// are published on the warnings topic once the bus is up and the game runs
// anyway.
type Report struct {
	Errors   []string
	Warnings []string
}

func (r *Report) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Report) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Err folds the fatal findings into a single error, nil when clean.
func (r *Report) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, msg := range r.Errors {
		errs[i] = errors.New(msg)
	}
	return errors.Join(errs...)
}

// Validate runs the startup checks: zone sanity, phase structure, dangling
// sequence references and the attract-loop configuration.
func Validate(g *Game) *Report {
	r := &Report{}

	if len(g.Zones) == 0 {
		r.errorf("no zones defined")
	}
	for _, name := range sortedKeys(g.Zones) {
		z := g.Zones[name]
		if !knownZoneTypes[z.Type] {
			r.errorf("zone %q has unknown type %q", name, z.Type)
		}
		if z.Topic == "" {
			r.errorf("zone %q has no topic", name)
		}
	}

	if len(g.Modes) == 0 {
		r.errorf("no game modes defined")
	}
	for _, mode := range g.ModeNames() {
		validateMode(g, mode, r)
	}

	globalResolver := resolverFor(g)
	globalHints := map[string]bool{}
	for _, h := range g.Hints {
		globalHints[h.ID] = true
	}
	for _, name := range sortedKeys(g.Sequences) {
		def := g.Sequences[name]
		validateSteps(g, "", fmt.Sprintf("global sequence %q", name), def.Steps, globalResolver, globalHints, r)
	}

	if g.Idle.Enabled {
		resolver := globalResolver
		if g.Idle.Name == "" {
			r.errorf("sequences.idle enabled without a sequence name")
		} else if !resolver.Known("", g.Idle.Name) {
			r.errorf("sequences.idle references unknown sequence %q", g.Idle.Name)
		}
	}

	return r
}

func resolverFor(g *Game) *sequence.Resolver {
	return &sequence.Resolver{
		ModeLookup: g.ModeSequences,
		Global:     g.Sequences,
		System:     g.System,
	}
}

func validateMode(g *Game, mode string, r *Report) {
	m := g.Modes[mode]
	if len(m.Phases) == 0 {
		r.errorf("mode %q has no phases", mode)
		return
	}

	resolver := resolverFor(g)
	hintIDs := map[string]bool{}
	for _, h := range g.CombinedHints(mode) {
		hintIDs[h.ID] = true
	}

	for _, phase := range sortedKeys(m.Phases) {
		p := m.Phases[phase]
		where := fmt.Sprintf("mode %q phase %q", mode, phase)

		if p.Sequence != nil && len(p.Schedule) > 0 {
			r.warnf("%s declares both a sequence and a schedule; the sequence runs first", where)
		}
		if p.Sequence == nil && len(p.Schedule) == 0 && p.EffectiveDuration() == 0 {
			r.warnf("%s is a no-op: no duration, sequence or schedule", where)
		}

		if p.Sequence != nil && p.Sequence.Name != "" && !resolver.Known(mode, p.Sequence.Name) {
			r.errorf("%s references unknown sequence %q", where, p.Sequence.Name)
		}
		if p.Sequence != nil && p.Sequence.Inline != nil {
			validateSteps(g, mode, where, p.Sequence.Inline.Steps, resolver, hintIDs, r)
		}

		for i, entry := range p.Schedule {
			validateScheduleEntry(g, mode, fmt.Sprintf("%s schedule[%d]", where, i), entry, resolver, hintIDs, r)
		}
	}

	// Mode-local sequences get their step references checked too.
	for _, name := range sortedKeys(m.Sequences) {
		def := m.Sequences[name]
		validateSteps(g, mode, fmt.Sprintf("mode %q sequence %q", mode, name), def.Steps, resolver, hintIDs, r)
	}
}

func validateScheduleEntry(g *Game, mode, where string, e model.ScheduleEntry, resolver *sequence.Resolver, hintIDs map[string]bool, r *Report) {
	if e.At < 0 {
		r.errorf("%s has negative at", where)
	}

	discriminators := 0
	for _, set := range []bool{
		e.Fire != "", e.FireCue != "", e.FireSeq != "", e.Hint != "",
		e.PlayHint != "", e.Zone != "" && e.Command != "", e.End != "",
	} {
		if set {
			discriminators++
		}
	}
	if discriminators != 1 {
		r.errorf("%s must have exactly one action, has %d", where, discriminators)
		return
	}

	switch {
	case e.FireSeq != "":
		if !resolver.Known(mode, e.FireSeq) {
			r.errorf("%s references unknown sequence %q", where, e.FireSeq)
		}
	case e.FireCue != "":
		if _, ok := g.CueByName(mode, e.FireCue); !ok {
			r.warnf("%s references unknown cue %q", where, e.FireCue)
		}
	case e.Fire != "":
		if _, isCue := g.CueByName(mode, e.Fire); !isCue &&
			!resolver.Known(mode, e.Fire) && !hintIDs[e.Fire] {
			r.errorf("%s fire target %q matches no cue, sequence or hint", where, e.Fire)
		}
	case e.Hint != "":
		if !hintIDs[e.Hint] && e.Text == "" {
			r.warnf("%s references unknown hint %q", where, e.Hint)
		}
	case e.PlayHint != "":
		if !hintIDs[e.PlayHint] {
			r.warnf("%s references unknown hint %q", where, e.PlayHint)
		}
	case e.End != "":
		if e.End != "win" && e.End != "fail" {
			r.errorf("%s end must be win or fail, got %q", where, e.End)
		}
	case e.Zone != "":
		if _, ok := g.Zones[e.Zone]; !ok {
			r.errorf("%s references unknown zone %q", where, e.Zone)
		}
	}
}

func validateSteps(g *Game, mode, where string, steps []model.Step, resolver *sequence.Resolver, hintIDs map[string]bool, r *Report) {
	for i, step := range steps {
		at := fmt.Sprintf("%s step[%d]", where, i)
		switch {
		case step.FireSeq != "":
			if !resolver.Known(mode, step.FireSeq) {
				r.errorf("%s references unknown sequence %q", at, step.FireSeq)
			}
		case step.FireCue != "":
			if _, ok := g.CueByName(mode, step.FireCue); !ok {
				r.warnf("%s references unknown cue %q", at, step.FireCue)
			}
		case step.Hint != "":
			if !hintIDs[step.Hint] && step.Text == "" {
				r.warnf("%s references unknown hint %q", at, step.Hint)
			}
		case step.Zone != "" && step.Command != "":
			if _, ok := g.Zones[step.Zone]; !ok {
				r.errorf("%s references unknown zone %q", at, step.Zone)
			}
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
