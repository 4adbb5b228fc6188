// Copyright (c) 2026 Roomware Labs
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package hint dispatches hints to their output zones and squelches scheduled
// duplicates of hints an operator already fired by hand.
package hint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/roomware/stagehand/internal/bus"
	"github.com/roomware/stagehand/internal/events"
	"github.com/roomware/stagehand/internal/log"
	"github.com/roomware/stagehand/internal/metrics"
	"github.com/roomware/stagehand/internal/model"
	"github.com/roomware/stagehand/internal/zone"
)

// Fire sources. Early and manual fires arm the suppression set; scheduled
// fires consult it.
const (
	SourceEarly     = "early"
	SourceManual    = "manual"
	SourceScheduled = "scheduled"
	SourceSequence  = "sequence"
)

// TextSequence is the internal sequence a text hint runs, with hintText
// bound to the hint body.
const TextSequence = "hint-text-seq"

const (
	suppressionTTL  = 2 * time.Second
	janitorInterval = 10 * time.Second
)

// Default output zones per hint type when the record names none.
var defaultZones = map[string]string{
	model.HintSpeech: "audio",
	model.HintAudio:  "audio",
	model.HintVideo:  "mirror",
}

// SeqRunner runs a named sequence with variables bound. Wired by the engine
// to the sequence runner; kept as a function to break the package cycle.
type SeqRunner func(ctx context.Context, mode, name string, vars map[string]string) error

// Lookup resolves the combined hint list for a mode.
type Lookup func(mode string) []model.Hint

// Service owns hint dispatch and the suppression set.
type Service struct {
	logger    zerolog.Logger
	registry  *zone.Registry
	bus       bus.Bus
	emitter   *events.Emitter
	hintTopic string
	lookup    Lookup
	runSeq    SeqRunner

	mu         sync.Mutex
	suppressed map[string]time.Time
	now        func() time.Time
}

// New builds the service. SetSeqRunner must be called before any text hint
// fires.
func New(registry *zone.Registry, b bus.Bus, gameTopic string, lookup Lookup, emitter *events.Emitter) *Service {
	return &Service{
		logger:     log.WithComponent("hint"),
		registry:   registry,
		bus:        b,
		emitter:    emitter,
		hintTopic:  gameTopic + "/hints",
		lookup:     lookup,
		suppressed: make(map[string]time.Time),
		now:        time.Now,
	}
}

// SetSeqRunner wires the sequence runner in after construction.
func (s *Service) SetSeqRunner(run SeqRunner) { s.runSeq = run }

// Lookup scans the active mode's combined hint list for an id.
func (s *Service) Lookup(mode, id string) (model.Hint, bool) {
	for _, h := range s.lookup(mode) {
		if h.ID == id {
			return h, true
		}
	}
	return model.Hint{}, false
}

// Fire dispatches a hint by id. An empty id with a text override is an
// ad-hoc text hint. Implements the runner's HintFirer.
func (s *Service) Fire(ctx context.Context, mode, id, source, textOverride string) error {
	if source == SourceEarly || source == SourceManual {
		s.markFired(id)
	}
	if source == SourceScheduled && s.isSuppressed(id) {
		s.emitter.Emit(events.HintSuppressed, map[string]any{"hint": id})
		metrics.HintsSuppressedTotal.Inc()
		s.logger.Info().
			Str("event", "hint.suppressed").
			Str(log.FieldHint, id).
			Msg("scheduled hint squelched, fired out of band moments ago")
		return nil
	}

	h, ok := model.Hint{}, false
	if id != "" {
		h, ok = s.Lookup(mode, id)
	}
	if !ok {
		if textOverride == "" {
			return fmt.Errorf("hint %q not found in mode %q", id, mode)
		}
		h = model.Hint{ID: id, Type: model.HintText, Text: textOverride}
	} else if textOverride != "" {
		h.Text = textOverride
	}

	if err := s.dispatch(ctx, mode, h); err != nil {
		return err
	}

	s.publishExecution(h)
	s.emitter.Emit(events.HintExecuted, map[string]any{
		"hint":   h.ID,
		"type":   h.Type,
		"source": source,
	})
	metrics.HintsTotal.WithLabelValues(h.Type, source).Inc()
	return nil
}

func (s *Service) dispatch(ctx context.Context, mode string, h model.Hint) error {
	switch h.Type {
	case model.HintText, "":
		if s.runSeq == nil {
			return fmt.Errorf("text hint without a sequence runner")
		}
		return s.runSeq(ctx, mode, TextSequence, map[string]string{"hintText": h.Text})

	case model.HintSpeech:
		return s.playMedia(ctx, h, "playSpeech")

	case model.HintAudio:
		return s.playMedia(ctx, h, "playAudioFX")

	case model.HintVideo:
		return s.playMedia(ctx, h, "playVideo")

	case model.HintAction:
		s.emitter.Warn("hint_action_unsupported",
			fmt.Sprintf("hint %q has type action, not yet implemented", h.ID),
			map[string]any{"hint": h.ID})
		return nil

	default:
		return fmt.Errorf("hint %q has unknown type %q", h.ID, h.Type)
	}
}

func (s *Service) playMedia(ctx context.Context, h model.Hint, verb string) error {
	target := h.Zone
	if target == "" {
		target = defaultZones[h.Type]
	}
	opts := map[string]any{"file": h.File}
	if h.Duration > 0 {
		opts["duration"] = h.Duration
	}
	_, err := s.registry.Execute(ctx, target, verb, opts)
	return err
}

// publishExecution notifies listeners on the hints topic. At least one of
// id and text is always present.
func (s *Service) publishExecution(h model.Hint) {
	payload := map[string]any{}
	if h.ID != "" {
		payload["id"] = h.ID
	}
	if h.Text != "" {
		payload["text"] = h.Text
	}
	if len(payload) == 0 {
		return
	}
	if err := s.bus.Publish(s.hintTopic, payload); err != nil {
		s.logger.Warn().Err(err).Str(log.FieldHint, h.ID).Msg("hint publish failed")
	}
}

// markFired stamps an id into the suppression set. An unexpired entry is not
// refreshed, the first fire wins its window.
func (s *Service) markFired(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if stamped, ok := s.suppressed[id]; ok && s.now().Sub(stamped) < suppressionTTL {
		return
	}
	s.suppressed[id] = s.now()
}

func (s *Service) isSuppressed(id string) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stamped, ok := s.suppressed[id]
	return ok && s.now().Sub(stamped) < suppressionTTL
}

// Sweep purges expired suppression entries. The engine heartbeat calls this
// every beat; the janitor is a fallback for idle periods.
func (s *Service) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, stamped := range s.suppressed {
		if now.Sub(stamped) >= suppressionTTL {
			delete(s.suppressed, id)
		}
	}
}

// StartJanitor sweeps the suppression set every 10 seconds until the context
// ends.
func (s *Service) StartJanitor(ctx context.Context) {
	ticker := time.NewTicker(janitorInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}
