// Copyright (c) 2026 Roomware Labs
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package engine is the phase state machine and its unified scheduler. It
// owns the game lifecycle (ready, intro, gameplay, paused, solved, failed,
// reset), the countdown timers, phase-scoped schedules and the operator
// command surface.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/roomware/stagehand/internal/bus"
	"github.com/roomware/stagehand/internal/config"
	"github.com/roomware/stagehand/internal/cue"
	"github.com/roomware/stagehand/internal/events"
	"github.com/roomware/stagehand/internal/hint"
	"github.com/roomware/stagehand/internal/log"
	"github.com/roomware/stagehand/internal/metrics"
	"github.com/roomware/stagehand/internal/model"
	"github.com/roomware/stagehand/internal/sequence"
	"github.com/roomware/stagehand/internal/timefmt"
	"github.com/roomware/stagehand/internal/zone"
)

// Game phases.
const (
	PhaseResetting = "resetting"
	PhaseReady     = "ready"
	PhaseIntro     = "intro"
	PhaseGameplay  = "gameplay"
	PhasePaused    = "paused"
	PhaseSolved    = "solved"
	PhaseFailed    = "failed"
	PhaseReset     = "reset"
)

// End outcomes.
const (
	OutcomeWin  = "win"
	OutcomeFail = "fail"
)

// Options wires the engine to its collaborators.
type Options struct {
	Bus         bus.Bus
	Game        *config.Game
	GameTopic   string
	Heartbeat   time.Duration
	DefaultFade int
	MirrorUI    bool
}

// Engine drives one game at a time.
type Engine struct {
	logger    zerolog.Logger
	bus       bus.Bus
	game      *config.Game
	gameTopic string

	registry *zone.Registry
	cues     *cue.Dispatcher
	seqs     *sequence.Runner
	hints    *hint.Service
	emitter  *events.Emitter

	heartbeatInterval time.Duration
	tickInterval      time.Duration // 1 s in production, tightened by tests

	mu             sync.Mutex
	phase          string
	pausedFrom     string
	mode           string
	remaining      int
	resetRemaining int
	resetPaused    bool
	idleSeconds    int
	markedActions  map[string]bool
	runningSeq     string
	schedules      map[string][]model.ScheduleEntry
}

// New builds the engine and wires the execution tiers together.
func New(opts Options) (*Engine, error) {
	if opts.Bus == nil || opts.Game == nil {
		return nil, fmt.Errorf("engine: bus and game config are required")
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = time.Second
	}

	e := &Engine{
		logger:            log.WithComponent("engine"),
		bus:               opts.Bus,
		game:              opts.Game,
		gameTopic:         opts.GameTopic,
		heartbeatInterval: opts.Heartbeat,
		tickInterval:      time.Second,
		phase:             PhaseReady,
		markedActions:     map[string]bool{},
		schedules:         map[string][]model.ScheduleEntry{},
	}

	registry, err := zone.NewRegistry(opts.Bus, opts.Game.Zones, zone.Env{
		GameTopic:   opts.GameTopic,
		DefaultFade: opts.DefaultFade,
		MirrorUI:    opts.MirrorUI,
	})
	if err != nil {
		return nil, err
	}
	registry.SetStateProvider(e.stateSnapshot)
	e.registry = registry

	e.emitter = events.New(opts.Bus, opts.GameTopic)
	e.cues = cue.New(registry, opts.Bus, opts.Game, e.emitter)

	resolver := &sequence.Resolver{
		ModeLookup: opts.Game.ModeSequences,
		Global:     opts.Game.Sequences,
		System:     e.systemSequences(),
	}
	e.seqs = sequence.New(registry, opts.Bus, e.cues, resolver, e.emitter)

	e.hints = hint.New(registry, opts.Bus, opts.GameTopic, opts.Game.CombinedHints, e.emitter)
	e.seqs.SetHintFirer(e.hints)
	e.hints.SetSeqRunner(e.seqs.Run)

	return e, nil
}

// systemSequences builds the built-in namespace. The text hint sequence
// pushes the hint text at every clock zone; a config-supplied definition of
// the same name wins.
func (e *Engine) systemSequences() map[string]model.SequenceDef {
	system := make(map[string]model.SequenceDef, len(e.game.System)+1)
	for name, def := range e.game.System {
		system[name] = def
	}
	if _, ok := system[hint.TextSequence]; ok {
		return system
	}

	var steps []model.Step
	for name, z := range e.game.Zones {
		if z.Type != model.ZoneClock {
			continue
		}
		steps = append(steps, model.Step{
			Zone:    name,
			Command: "hint",
			Options: map[string]any{"text": "{{hintText}}"},
		})
	}
	if len(steps) > 0 {
		system[hint.TextSequence] = model.SequenceDef{Steps: steps}
	}
	return system
}

// stateSnapshot feeds the clock adapter's time derivation.
func (e *Engine) stateSnapshot() (string, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase == PhaseSolved || e.phase == PhaseFailed {
		return e.phase, e.resetRemaining
	}
	return e.phase, e.remaining
}

// Run subscribes the command surface and drives the tick and heartbeat
// loops until the context ends.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.bus.Subscribe(e.gameTopic+"/commands", e.handleCommand(ctx)); err != nil {
		return fmt.Errorf("engine: subscribe commands: %w", err)
	}

	e.hints.StartJanitor(ctx)
	e.publishHintsRegistry()
	e.publishConfig()
	e.publishState()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.tickLoop(ctx) })
	g.Go(func() error { return e.heartbeatLoop(ctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Phase returns the current phase.
func (e *Engine) Phase() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Start begins a game. Only legal from ready.
func (e *Engine) Start(ctx context.Context, mode string) error {
	e.mu.Lock()
	if e.phase != PhaseReady {
		phase := e.phase
		e.mu.Unlock()
		return fmt.Errorf("engine: start rejected in phase %s", phase)
	}
	if _, ok := e.game.Mode(mode); !ok {
		e.mu.Unlock()
		return fmt.Errorf("engine: unknown mode %q", mode)
	}
	e.mode = mode
	e.idleSeconds = 0
	e.mu.Unlock()

	e.logger.Info().
		Str("event", "game.start").
		Str(log.FieldMode, mode).
		Msg("starting game")

	e.publishHintsRegistry()
	e.publishConfig()

	if e.hasPhase(PhaseIntro) {
		e.transitionToPhase(ctx, PhaseIntro)
	} else {
		e.transitionToPhase(ctx, PhaseGameplay)
	}
	return nil
}

func (e *Engine) hasPhase(name string) bool {
	m, ok := e.game.Mode(e.currentMode())
	if !ok {
		return false
	}
	_, ok = m.Phases[name]
	return ok
}

func (e *Engine) currentMode() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

func (e *Engine) phaseDef(name string) (model.Phase, bool) {
	m, ok := e.game.Mode(e.currentMode())
	if !ok {
		return model.Phase{}, false
	}
	p, ok := m.Phases[name]
	return p, ok
}

// transitionToPhase is the single mutation path between phases: schedules
// are cleared before the new phase can register anything, state is
// published, and the phase body executes asynchronously.
func (e *Engine) transitionToPhase(ctx context.Context, name string) {
	def, _ := e.phaseDef(name)
	duration := def.EffectiveDuration()
	if duration == 0 && def.Sequence != nil {
		duration = int(e.estimateRef(def.Sequence))
	}

	e.mu.Lock()
	from := e.phase
	e.schedules = map[string][]model.ScheduleEntry{}
	e.phase = name
	switch name {
	case PhaseGameplay, PhaseIntro:
		e.remaining = duration
	case PhaseSolved, PhaseFailed:
		e.resetRemaining = duration
		e.resetPaused = false
	}
	e.mu.Unlock()

	e.logger.Info().
		Str("event", "phase.transition").
		Str(log.FieldOldPhase, from).
		Str(log.FieldNewPhase, name).
		Int("duration", duration).
		Msg("phase transition")
	metrics.PhaseTransitionsTotal.WithLabelValues(name).Inc()

	e.publishState()
	e.emitter.Emit(events.PhaseTransition, map[string]any{
		"from":     from,
		"to":       name,
		"duration": duration,
	})

	go e.executePhase(ctx, name, def, duration)
}

func (e *Engine) estimateRef(ref *model.SequenceRef) float64 {
	if ref.Inline != nil {
		return sequence.Estimate(ref.Inline)
	}
	def, _, ok := e.seqs.Resolver().Resolve(e.currentMode(), ref.Name)
	if !ok {
		return 0
	}
	return sequence.Estimate(def)
}

// executePhase runs the phase body: the phase sequence first (awaited), then
// the schedule. Post-conditions chain the next transition.
func (e *Engine) executePhase(ctx context.Context, name string, def model.Phase, duration int) {
	mode := e.currentMode()

	if def.Sequence != nil {
		e.runPhaseSequence(ctx, mode, name, def.Sequence)
	}
	if e.Phase() != name {
		// A command re-routed the game while the sequence ran.
		return
	}

	if len(def.Schedule) > 0 {
		e.registerSchedule(ctx, name, def.Schedule, duration)
	}

	switch name {
	case PhaseIntro:
		// Intro hands over to gameplay once its countdown is spent.
		e.awaitCountdown(ctx, name)
		if e.Phase() == name {
			e.transitionToPhase(ctx, PhaseGameplay)
		}
	case PhaseReset:
		if duration > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(duration) * e.tickInterval):
			}
		}
		if e.Phase() == name {
			e.settleReady()
		}
	}
}

func (e *Engine) runPhaseSequence(ctx context.Context, mode, phase string, ref *model.SequenceRef) {
	var err error
	if ref.Inline != nil {
		err = e.seqs.RunDef(ctx, mode, phase+"-phase-sequence", ref.Inline, nil)
	} else {
		err = e.seqs.Run(ctx, mode, ref.Name, nil)
	}
	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("event", "phase.sequence_failed").
			Str(log.FieldPhase, phase).
			Msg("phase sequence failed, continuing")
	}
}

// awaitCountdown blocks until the phase's countdown reaches zero or the
// phase changes. Phases with no countdown return immediately.
func (e *Engine) awaitCountdown(ctx context.Context, name string) {
	for {
		e.mu.Lock()
		current, rem := e.phase, e.remaining
		e.mu.Unlock()
		if current != name || rem <= 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.tickInterval / 4):
		}
	}
}

// TriggerEnd routes the game into its closing phase. Duplicate triggers in a
// closing phase are ignored.
func (e *Engine) TriggerEnd(ctx context.Context, outcome string) {
	e.mu.Lock()
	switch e.phase {
	case PhaseSolved, PhaseFailed, PhaseReset, PhaseResetting, PhaseReady:
		e.mu.Unlock()
		e.logger.Debug().
			Str("event", "game.end_duplicate").
			Str("outcome", outcome).
			Msg("end trigger ignored")
		return
	}
	e.mu.Unlock()

	e.emitter.Emit(events.GameEndTrigger, map[string]any{"outcome": outcome})
	if outcome == OutcomeWin {
		e.transitionToPhase(ctx, PhaseSolved)
	} else {
		e.transitionToPhase(ctx, PhaseFailed)
	}
}

// finishClosing runs when the closing countdown expires: a configured reset
// phase wins, otherwise the reset sequence runs directly and the engine
// settles in ready.
func (e *Engine) finishClosing(ctx context.Context) {
	if e.hasPhase(PhaseReset) {
		e.transitionToPhase(ctx, PhaseReset)
		return
	}
	e.runExclusive(ctx, "reset", func(runCtx context.Context) {
		if e.seqs.Resolver().Known(e.currentMode(), "reset-sequence") {
			if err := e.seqs.Run(runCtx, e.currentMode(), "reset-sequence", nil); err != nil {
				e.logger.Warn().Err(err).Str("event", "reset.sequence_failed").Msg("reset sequence failed")
			}
		}
		e.settleReady()
	})
}

// settleReady clears per-game state and returns to ready.
func (e *Engine) settleReady() {
	e.mu.Lock()
	e.phase = PhaseReady
	e.remaining = 0
	e.resetRemaining = 0
	e.resetPaused = false
	e.idleSeconds = 0
	e.markedActions = map[string]bool{}
	e.schedules = map[string][]model.ScheduleEntry{}
	e.mu.Unlock()

	metrics.PhaseTransitionsTotal.WithLabelValues(PhaseReady).Inc()
	metrics.GameSecondsRemaining.Set(0)
	e.publishState()
	e.emitter.Emit(events.PhaseTransition, map[string]any{"to": PhaseReady})
}

// runExclusive gates the mutually exclusive lifecycle sequences behind the
// running-sequence token.
func (e *Engine) runExclusive(ctx context.Context, name string, fn func(ctx context.Context)) {
	e.mu.Lock()
	if e.runningSeq != "" {
		holder := e.runningSeq
		e.mu.Unlock()
		e.emitter.Emit(events.SequenceRejectedBusy, map[string]any{
			"sequence": name,
			"running":  holder,
		})
		e.logger.Warn().
			Str("event", "sequence.rejected_busy").
			Str(log.FieldSequence, name).
			Str("running", holder).
			Msg("lifecycle sequence rejected")
		return
	}
	e.runningSeq = name
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.runningSeq = ""
		e.mu.Unlock()
	}()
	fn(ctx)
}

// publishState emits the state topic record.
func (e *Engine) publishState() {
	e.mu.Lock()
	phase, mode := e.phase, e.mode
	rem := e.remaining
	if phase == PhaseSolved || phase == PhaseFailed {
		rem = e.resetRemaining
	}
	e.mu.Unlock()

	gameType := mode
	if m, ok := e.game.Mode(mode); ok && m.GameLabel != "" {
		gameType = m.GameLabel
	}

	if err := e.bus.Publish(e.gameTopic+"/state", map[string]any{
		"gameState":       phase,
		"timeLeft":        timefmt.SecondsToMMSS(rem),
		"gameType":        gameType,
		"currentGameMode": mode,
	}); err != nil {
		e.logger.Debug().Err(err).Str("event", "state.publish_failed").Msg("state publish failed")
	}
}
