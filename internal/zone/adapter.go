// Copyright (c) 2026 Roomware Labs
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package zone owns the device fleet: the registry that routes typed command
// verbs to adapters, and the media, lights and clock adapters that translate
// verbs into wire payloads on each zone's base topic.
package zone

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/roomware/stagehand/internal/bus"
)

var (
	// ErrUnknownZone reports an execute call against an unconfigured zone.
	ErrUnknownZone = errors.New("unknown zone")
	// ErrUnknownZoneType is fatal at registry construction.
	ErrUnknownZoneType = errors.New("unknown zone type")
	// ErrUnknownVerb reports a verb outside the adapter's capability set.
	// The registry downgrades it to a warning; it never aborts a caller.
	ErrUnknownVerb = errors.New("unknown verb")
)

// StateProvider supplies the current game phase and seconds remaining so the
// clock adapter can derive a display time when the caller omits one.
type StateProvider func() (phase string, remaining int)

// Env is the context handed to adapters at execution time.
type Env struct {
	Logger      zerolog.Logger
	Bus         bus.Bus
	GameTopic   string
	Provider    StateProvider
	DefaultFade int
	MirrorUI    bool
}

// Adapter translates engine verbs into device wire payloads.
type Adapter interface {
	Execute(ctx context.Context, verb string, opts map[string]any) (any, error)
	Capabilities() []string
	Cleanup()
}

// ExecError wraps an adapter failure with its zone and verb.
type ExecError struct {
	Zone string
	Verb string
	Err  error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("zone %s: verb %s: %v", e.Zone, e.Verb, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Topic helpers shared by all adapters: every zone derives its wire topics
// from a single base.
func commandTopic(base string) string { return base + "/commands" }
func stateTopic(base string) string   { return base + "/state" }
func eventsTopic(base string) string  { return base + "/events" }
func warnTopic(base string) string    { return base + "/warnings" }

// capSet turns a capability list into a membership set.
func capSet(caps []string) map[string]struct{} {
	set := make(map[string]struct{}, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return set
}
