// Copyright (c) 2026 Roomware Labs
// Licensed under the PolyForm Noncommercial License 1.0.0

package zone

import (
	"context"

	"github.com/roomware/stagehand/internal/timefmt"
)

var clockCapabilities = []string{
	"start", "pause", "resume", "fade-in", "fade-out", "set-time", "hint",
}

// wire command names for the hyphenated verbs.
var clockWireCommands = map[string]string{
	"fade-in":  "fadeIn",
	"fade-out": "fadeOut",
	"set-time": "setTime",
}

// clock drives a countdown clock zone. Missing time arguments are derived
// from the engine state provider. With MirrorUI enabled every action is
// duplicated onto the engine's UI topic so a watching UI can mirror the
// clock without its own subscription.
type clock struct {
	name string
	base string
	env  *Env
}

func newClock(name, base string, env *Env) *clock {
	return &clock{name: name, base: base, env: env}
}

func (c *clock) Capabilities() []string { return clockCapabilities }

func (c *clock) Cleanup() {}

func (c *clock) Execute(_ context.Context, verb string, opts map[string]any) (any, error) {
	if _, ok := capSet(clockCapabilities)[verb]; !ok {
		return nil, ErrUnknownVerb
	}

	command := verb
	if wire, ok := clockWireCommands[verb]; ok {
		command = wire
	}

	payload := map[string]any{"command": command}
	for k, v := range opts {
		payload[k] = v
	}

	switch verb {
	case "start", "resume", "set-time":
		if _, ok := payload["time"]; !ok && c.env.Provider != nil {
			_, remaining := c.env.Provider()
			payload["time"] = timefmt.SecondsToMMSS(remaining)
		}
	case "fade-in", "fade-out":
		if _, ok := payload["duration"]; !ok && c.env.DefaultFade > 0 {
			payload["duration"] = c.env.DefaultFade
		}
	}

	if err := c.env.Bus.Publish(commandTopic(c.base), payload); err != nil {
		return nil, err
	}
	if c.env.MirrorUI {
		_ = c.env.Bus.Publish(c.env.GameTopic+"/ui/clock", payload)
	}
	return nil, nil
}
