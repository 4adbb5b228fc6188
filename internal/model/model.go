// Copyright (c) 2026 Roomware Labs
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package model holds the configuration-level data model of the engine:
// zones, modes, phases, schedules, hints, cues and sequences. All types are
// read-only after configuration load. The polymorphic shapes (steps, actions,
// cue definitions) are recognised structurally during JSON decoding; loaders
// for other formats normalise to JSON first so there is exactly one decode
// path.
package model

import (
	"encoding/json"
	"fmt"
)

// Zone type tags. Unknown tags are fatal at registry construction.
const (
	ZoneMedia  = "media"
	ZoneLights = "lights"
	ZoneClock  = "clock"
)

// ZoneConfig describes one zone entry of the game configuration.
type ZoneConfig struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
}

// Hint is a single hint record. Type selects the dispatch path.
type Hint struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	File        string `json:"file,omitempty"`
	Zone        string `json:"zone,omitempty"`
	Duration    int    `json:"duration,omitempty"`
	Description string `json:"description,omitempty"`
}

// Hint types.
const (
	HintText   = "text"
	HintSpeech = "speech"
	HintAudio  = "audio"
	HintVideo  = "video"
	HintAction = "action"
)

// DisplayText returns the text a hint is deduplicated by when mode and
// global lists are combined.
func (h Hint) DisplayText() string {
	if h.Text != "" {
		return h.Text
	}
	return h.File
}

// PublishSpec is a raw bus publish embedded in a step or action.
type PublishSpec struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}

// BrowserCheck carries the parameters of a browser verification.
type BrowserCheck struct {
	URL     string `json:"url"`
	Visible bool   `json:"visible"`
	Timeout int    `json:"timeout,omitempty"` // milliseconds, 0 = default
}

// ImageCheck carries the parameters of an image verification.
type ImageCheck struct {
	File    string `json:"file"`
	Timeout int    `json:"timeout,omitempty"` // milliseconds, 0 = default
}

// WaitSpec is either a duration in seconds or the boolean form used for
// trailing waits ("wait: true" borrows the step's own duration).
type WaitSpec struct {
	Seconds int
	Auto    bool
}

// UnmarshalJSON accepts a number or a boolean.
func (w *WaitSpec) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		w.Auto = b
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("wait: expected number or bool: %w", err)
	}
	if n < 0 {
		return fmt.Errorf("wait: negative duration %v", n)
	}
	w.Seconds = int(n)
	return nil
}

// Action is a single cue action: exactly one of Play, Command, Scene or
// Publish, targeting Zone or Zones, with remaining fields collected into
// Options and passed through to the adapter.
type Action struct {
	Zone    string
	Zones   []string
	Command string
	Scene   string
	Play    map[string]any
	Publish *PublishSpec
	Options map[string]any
}

// Targets returns the zone fan-out list for the action.
func (a *Action) Targets() []string {
	if len(a.Zones) > 0 {
		return a.Zones
	}
	if a.Zone != "" {
		return []string{a.Zone}
	}
	return nil
}

func (a *Action) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	take := func(key string, dst any) error {
		v, ok := raw[key]
		if !ok {
			return nil
		}
		delete(raw, key)
		return json.Unmarshal(v, dst)
	}
	if err := take("zone", &a.Zone); err != nil {
		return fmt.Errorf("action zone: %w", err)
	}
	if err := take("zones", &a.Zones); err != nil {
		return fmt.Errorf("action zones: %w", err)
	}
	if err := take("command", &a.Command); err != nil {
		return fmt.Errorf("action command: %w", err)
	}
	if err := take("scene", &a.Scene); err != nil {
		return fmt.Errorf("action scene: %w", err)
	}
	if err := take("play", &a.Play); err != nil {
		return fmt.Errorf("action play: %w", err)
	}
	if err := take("publish", &a.Publish); err != nil {
		return fmt.Errorf("action publish: %w", err)
	}
	if len(raw) > 0 {
		a.Options = make(map[string]any, len(raw))
		for k, v := range raw {
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return fmt.Errorf("action option %q: %w", k, err)
			}
			a.Options[k] = val
		}
	}
	return nil
}

// CueTimelineEntry is one time-anchored bundle of a timeline cue.
type CueTimelineEntry struct {
	At      int      `json:"at"`
	Actions []Action `json:"actions"`
}

// CueDef is a named cue in one of its recognised shapes. Exactly one of the
// fields is populated after decoding.
type CueDef struct {
	Single   *Action
	List     []Action
	Duration int
	Timeline []CueTimelineEntry
	// Legacy {commands: [...]} / {actions: [...]} form. Emits a deprecation
	// warning at fire time.
	Legacy []Action
}

// IsTimeline reports whether the cue is the countdown-timeline shape.
func (c *CueDef) IsTimeline() bool { return len(c.Timeline) > 0 }

func (c *CueDef) UnmarshalJSON(data []byte) error {
	var list []Action
	if err := json.Unmarshal(data, &list); err == nil {
		c.List = list
		return nil
	}
	var probe struct {
		Duration int                `json:"duration"`
		Timeline []CueTimelineEntry `json:"timeline"`
		Commands []Action           `json:"commands"`
		Actions  []Action           `json:"actions"`
	}
	if err := json.Unmarshal(data, &probe); err == nil {
		switch {
		case len(probe.Timeline) > 0:
			c.Duration = probe.Duration
			c.Timeline = probe.Timeline
			return nil
		case len(probe.Commands) > 0:
			c.Legacy = probe.Commands
			return nil
		case len(probe.Actions) > 0:
			c.Legacy = probe.Actions
			return nil
		}
	}
	var single Action
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("cue: unrecognised shape: %w", err)
	}
	c.Single = &single
	return nil
}

// Step is one entry of an ordered sequence. Exactly one primary discriminator
// is set; Wait doubles as the trailing wait when a discriminator is present.
type Step struct {
	Wait          *WaitSpec
	Fire          string
	FireCue       string
	FireSeq       string
	Hint          string
	Text          string
	Command       string
	Zone          string
	Zones         []string
	Publish       *PublishSpec
	VerifyBrowser *BrowserCheck
	VerifyImage   *ImageCheck
	Duration      int
	Log           string
	Options       map[string]any
}

// IsPureWait reports whether the step is a bare suspension.
func (s *Step) IsPureWait() bool {
	return s.Wait != nil && s.Fire == "" && s.FireCue == "" && s.FireSeq == "" &&
		s.Hint == "" && s.Command == "" && s.Publish == nil &&
		s.VerifyBrowser == nil && s.VerifyImage == nil
}

// Targets returns the zone fan-out list for command and verify steps.
func (s *Step) Targets() []string {
	if len(s.Zones) > 0 {
		return s.Zones
	}
	if s.Zone != "" {
		return []string{s.Zone}
	}
	return nil
}

func (s *Step) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	take := func(key string, dst any) error {
		v, ok := raw[key]
		if !ok {
			return nil
		}
		delete(raw, key)
		if err := json.Unmarshal(v, dst); err != nil {
			return fmt.Errorf("step %s: %w", key, err)
		}
		return nil
	}
	for key, dst := range map[string]any{
		"wait":          &s.Wait,
		"fire":          &s.Fire,
		"fire-cue":      &s.FireCue,
		"fire-seq":      &s.FireSeq,
		"hint":          &s.Hint,
		"text":          &s.Text,
		"command":       &s.Command,
		"zone":          &s.Zone,
		"zones":         &s.Zones,
		"publish":       &s.Publish,
		"verifyBrowser": &s.VerifyBrowser,
		"verifyImage":   &s.VerifyImage,
		"duration":      &s.Duration,
		"log":           &s.Log,
	} {
		if err := take(key, dst); err != nil {
			return err
		}
	}
	if len(raw) > 0 {
		s.Options = make(map[string]any, len(raw))
		for k, v := range raw {
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return fmt.Errorf("step option %q: %w", k, err)
			}
			s.Options[k] = val
		}
	}
	return nil
}

// SeqTimelineEntry is one entry of a timeline sequence: an action with a
// seconds-remaining anchor.
type SeqTimelineEntry struct {
	At     int `json:"at"`
	Action Action
}

func (e *SeqTimelineEntry) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["at"]; ok {
		if err := json.Unmarshal(v, &e.At); err != nil {
			return fmt.Errorf("timeline at: %w", err)
		}
		delete(raw, "at")
	}
	rest, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(rest, &e.Action)
}

// SequenceMeta carries optional nominal duration and nesting cap.
type SequenceMeta struct {
	Duration float64 `json:"duration,omitempty"`
	MaxDepth int     `json:"max-depth,omitempty"`
}

// SequenceDef is a named sequence: either an ordered list of steps or a
// fixed-duration timeline.
type SequenceDef struct {
	Steps    []Step
	Duration int
	Timeline []SeqTimelineEntry
	Meta     SequenceMeta
}

// IsTimeline reports whether the definition is the timeline variant.
func (d *SequenceDef) IsTimeline() bool { return len(d.Timeline) > 0 }

func (d *SequenceDef) UnmarshalJSON(data []byte) error {
	var steps []Step
	if err := json.Unmarshal(data, &steps); err == nil {
		d.Steps = steps
		return nil
	}
	var obj struct {
		Duration int                `json:"duration"`
		Timeline []SeqTimelineEntry `json:"timeline"`
		Steps    []Step             `json:"steps"`
		Meta     SequenceMeta       `json:"meta"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("sequence: unrecognised shape: %w", err)
	}
	if len(obj.Timeline) == 0 && len(obj.Steps) == 0 {
		return fmt.Errorf("sequence: neither steps nor timeline present")
	}
	d.Duration = obj.Duration
	d.Timeline = obj.Timeline
	d.Steps = obj.Steps
	d.Meta = obj.Meta
	return nil
}

// SequenceRef is either the name of a sequence or an inline definition.
type SequenceRef struct {
	Name   string
	Inline *SequenceDef
}

func (r *SequenceRef) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		r.Name = name
		return nil
	}
	var def SequenceDef
	if err := json.Unmarshal(data, &def); err != nil {
		return fmt.Errorf("sequence ref: %w", err)
	}
	r.Inline = &def
	return nil
}

// ScheduleEntry is one time-anchored action of a phase schedule. At expresses
// seconds remaining. Exactly one primary action discriminator is set.
type ScheduleEntry struct {
	At       int            `json:"at"`
	Fire     string         `json:"fire,omitempty"`
	FireCue  string         `json:"fire-cue,omitempty"`
	FireSeq  string         `json:"fire-seq,omitempty"`
	Hint     string         `json:"hint,omitempty"`
	Text     string         `json:"text,omitempty"`
	PlayHint string         `json:"play-hint,omitempty"`
	Zone     string         `json:"zone,omitempty"`
	Command  string         `json:"command,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
	End      string         `json:"end,omitempty"` // "win" or "fail"
	Log      string         `json:"log,omitempty"`
}

// Phase is one stage of a game mode.
type Phase struct {
	Duration int             `json:"duration,omitempty"`
	Seconds  int             `json:"seconds,omitempty"` // legacy alias for duration
	Sequence *SequenceRef    `json:"sequence,omitempty"`
	Schedule []ScheduleEntry `json:"schedule,omitempty"`
}

// EffectiveDuration resolves the explicit duration with the legacy alias.
func (p *Phase) EffectiveDuration() int {
	if p.Duration > 0 {
		return p.Duration
	}
	return p.Seconds
}

// Mode is one selectable game configuration.
type Mode struct {
	ShortLabel  string                 `json:"shortLabel,omitempty"`
	GameLabel   string                 `json:"gameLabel,omitempty"`
	Description string                 `json:"description,omitempty"`
	Phases      map[string]Phase       `json:"phases"`
	Cues        map[string]CueDef      `json:"cues,omitempty"`
	Sequences   map[string]SequenceDef `json:"sequences,omitempty"`
	Hints       []Hint                 `json:"hints,omitempty"`
}

// IdleConfig gates the attract loop that runs while the engine sits in ready.
type IdleConfig struct {
	Enabled  bool   `json:"enabled"`
	Interval int    `json:"interval,omitempty"` // seconds between firings
	Name     string `json:"name,omitempty"`
}

// CombineHints merges a mode hint list with the global list, mode hints
// first, deduplicated by display text.
func CombineHints(mode, global []Hint) []Hint {
	out := make([]Hint, 0, len(mode)+len(global))
	seen := make(map[string]bool, len(mode)+len(global))
	for _, h := range append(append([]Hint{}, mode...), global...) {
		key := h.DisplayText()
		if key != "" && seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, h)
	}
	return out
}
