// Copyright (c) 2026 Roomware Labs
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/roomware/stagehand/internal/model"
)

// Game is the full game definition. Read-only after load; the engine, the
// resolvers and the hint subsystem all consult it through the accessors
// below.
type Game struct {
	Zones     map[string]model.ZoneConfig
	Modes     map[string]model.Mode
	Sequences map[string]model.SequenceDef // global namespace
	System    map[string]model.SequenceDef // system namespace (hint-text-seq etc.)
	Cues      map[string]model.CueDef      // global cues
	Hints     []model.Hint                 // global hints
	Idle      model.IdleConfig
}

// idleKey is reserved inside the sequences map for the attract-loop
// configuration.
const idleKey = "idle"

func (g *Game) UnmarshalJSON(data []byte) error {
	var raw struct {
		Zones     map[string]model.ZoneConfig  `json:"zones"`
		Modes     map[string]model.Mode        `json:"modes"`
		Sequences map[string]json.RawMessage   `json:"sequences"`
		System    map[string]model.SequenceDef `json:"system-sequences"`
		Cues      map[string]model.CueDef      `json:"cues"`
		Hints     []model.Hint                 `json:"hints"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("game config: %w", err)
	}

	g.Zones = raw.Zones
	g.Modes = raw.Modes
	g.System = raw.System
	g.Cues = raw.Cues
	g.Hints = raw.Hints
	g.Sequences = make(map[string]model.SequenceDef, len(raw.Sequences))

	for name, body := range raw.Sequences {
		if name == idleKey {
			if err := json.Unmarshal(body, &g.Idle); err != nil {
				return fmt.Errorf("game config: sequences.idle: %w", err)
			}
			continue
		}
		var def model.SequenceDef
		if err := json.Unmarshal(body, &def); err != nil {
			return fmt.Errorf("game config: sequence %q: %w", name, err)
		}
		g.Sequences[name] = def
	}

	g.applyIdleDefaults()
	return nil
}

func (g *Game) applyIdleDefaults() {
	if !g.Idle.Enabled {
		return
	}
	if g.Idle.Interval <= 0 {
		g.Idle.Interval = 300
	}
	if g.Idle.Name == "" {
		g.Idle.Name = "idle-sequence"
	}
}

// Mode returns a mode by id.
func (g *Game) Mode(id string) (model.Mode, bool) {
	m, ok := g.Modes[id]
	return m, ok
}

// ModeNames returns the mode ids in sorted order.
func (g *Game) ModeNames() []string {
	names := make([]string, 0, len(g.Modes))
	for id := range g.Modes {
		names = append(names, id)
	}
	sort.Strings(names)
	return names
}

// ModeSequences is the per-mode namespace for the sequence resolver. A nil
// return means the mode contributes nothing.
func (g *Game) ModeSequences(mode string) map[string]model.SequenceDef {
	m, ok := g.Modes[mode]
	if !ok {
		return nil
	}
	return m.Sequences
}

// CueByName resolves a cue, mode cues shadowing global ones. Implements the
// cue dispatcher's library interface.
func (g *Game) CueByName(mode, name string) (*model.CueDef, bool) {
	if m, ok := g.Modes[mode]; ok {
		if def, ok := m.Cues[name]; ok {
			return &def, true
		}
	}
	if def, ok := g.Cues[name]; ok {
		return &def, true
	}
	return nil, false
}

// CombinedHints merges the mode's hint list with the global list, mode
// first, deduplicated by display text.
func (g *Game) CombinedHints(mode string) []model.Hint {
	var modeHints []model.Hint
	if m, ok := g.Modes[mode]; ok {
		modeHints = m.Hints
	}
	return model.CombineHints(modeHints, g.Hints)
}
