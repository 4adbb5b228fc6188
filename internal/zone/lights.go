// Copyright (c) 2026 Roomware Labs
// Licensed under the PolyForm Noncommercial License 1.0.0

package zone

import (
	"context"
	"fmt"
	"sync"

	"github.com/roomware/stagehand/internal/log"
)

var lightsCapabilities = []string{"scene"}

// lights drives a lighting controller. Consecutive identical scene calls
// collapse to a single wire message.
type lights struct {
	name string
	base string
	env  *Env

	mu        sync.Mutex
	lastScene string
}

func newLights(name, base string, env *Env) *lights {
	return &lights{name: name, base: base, env: env}
}

func (l *lights) Capabilities() []string { return lightsCapabilities }

func (l *lights) Cleanup() {}

func (l *lights) Execute(ctx context.Context, verb string, opts map[string]any) (any, error) {
	if verb != "scene" {
		return nil, ErrUnknownVerb
	}

	scene, _ := opts["scene"].(string)
	if scene == "" {
		scene, _ = opts["name"].(string)
	}
	if scene == "" {
		return nil, fmt.Errorf("scene call without a scene name")
	}

	l.mu.Lock()
	duplicate := scene == l.lastScene
	l.lastScene = scene
	l.mu.Unlock()

	if duplicate {
		logger := log.WithContext(ctx, l.env.Logger)
		logger.Debug().
			Str("event", "lights.scene_deduplicated").
			Str(log.FieldZone, l.name).
			Str("scene", scene).
			Msg("scene already active, suppressing duplicate publish")
		return nil, nil
	}

	return nil, l.env.Bus.Publish(commandTopic(l.base), map[string]any{
		"command": "setColorScene",
		"scene":   scene,
	})
}
