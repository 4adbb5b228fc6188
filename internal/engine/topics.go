// Copyright (c) 2026 Roomware Labs
// Licensed under the PolyForm Noncommercial License 1.0.0

package engine

import (
	"time"
)

// publishHintsRegistry publishes the retained hint registry for the current
// mode so operator UIs can render the hint list without a round trip.
func (e *Engine) publishHintsRegistry() {
	mode := e.currentMode()
	hints := e.game.CombinedHints(mode)

	if err := e.bus.PublishRetained(e.gameTopic+"/hints/registry", map[string]any{
		"mode":    mode,
		"entries": len(hints),
		"hints":   hints,
		"ts":      time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		e.logger.Debug().Err(err).Str("event", "registry.publish_failed").Msg("hints registry publish failed")
	}
}

// publishConfig publishes the retained games catalogue.
func (e *Engine) publishConfig() {
	games := map[string]any{}
	for _, id := range e.game.ModeNames() {
		m, _ := e.game.Mode(id)
		games[id] = map[string]any{
			"shortLabel":    m.ShortLabel,
			"gameLabel":     m.GameLabel,
			"description":   m.Description,
			"hints":         m.Hints,
			"combinedHints": e.game.CombinedHints(id),
		}
	}

	if err := e.bus.PublishRetained(e.gameTopic+"/config", map[string]any{
		"games": games,
	}); err != nil {
		e.logger.Debug().Err(err).Str("event", "config.publish_failed").Msg("config publish failed")
	}
}
