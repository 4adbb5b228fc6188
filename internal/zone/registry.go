// Copyright (c) 2026 Roomware Labs
// Licensed under the PolyForm Noncommercial License 1.0.0

package zone

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"

	"github.com/roomware/stagehand/internal/bus"
	"github.com/roomware/stagehand/internal/log"
	"github.com/roomware/stagehand/internal/metrics"
	"github.com/roomware/stagehand/internal/model"
)

// Zone is one configured device with its adapter. Zones live for the process
// lifetime and are never recreated mid-game.
type Zone struct {
	Name      string
	Type      string
	BaseTopic string
	adapter   Adapter
}

// Registry constructs adapters from zone configuration and routes
// (zone, verb, options) invocations to them.
type Registry struct {
	env   *Env
	zones map[string]*Zone
	corr  atomic.Uint64
}

// NewRegistry instantiates an adapter for every configured zone. An unknown
// zone type is fatal.
func NewRegistry(b bus.Bus, zones map[string]model.ZoneConfig, env Env) (*Registry, error) {
	env.Bus = b
	env.Logger = log.WithComponent("zone")
	r := &Registry{
		env:   &env,
		zones: make(map[string]*Zone, len(zones)),
	}
	for name, zc := range zones {
		var adapter Adapter
		switch zc.Type {
		case model.ZoneMedia:
			adapter = newMedia(name, zc.Topic, r.env)
		case model.ZoneLights:
			adapter = newLights(name, zc.Topic, r.env)
		case model.ZoneClock:
			adapter = newClock(name, zc.Topic, r.env)
		default:
			return nil, fmt.Errorf("zone %q: %w: %q", name, ErrUnknownZoneType, zc.Type)
		}
		r.zones[name] = &Zone{
			Name:      name,
			Type:      zc.Type,
			BaseTopic: zc.Topic,
			adapter:   adapter,
		}
	}
	return r, nil
}

// SetStateProvider installs the callback the clock adapter derives display
// times from. Wired by the engine after construction.
func (r *Registry) SetStateProvider(p StateProvider) {
	r.env.Provider = p
}

// Execute routes a verb to the zone's adapter. Unknown verbs downgrade to a
// warning; all other failures come back wrapped with zone and verb.
func (r *Registry) Execute(ctx context.Context, zoneName, verb string, opts map[string]any) (any, error) {
	z, ok := r.zones[zoneName]
	if !ok {
		return nil, &ExecError{Zone: zoneName, Verb: verb, Err: ErrUnknownZone}
	}

	corr := r.corr.Add(1)
	ctx = log.ContextWithCorrelationID(ctx, strconv.FormatUint(corr, 10))
	logger := log.WithContext(ctx, r.env.Logger)

	res, err := z.adapter.Execute(ctx, verb, opts)
	if errors.Is(err, ErrUnknownVerb) {
		logger.Warn().
			Str("event", "zone.unknown_verb").
			Str(log.FieldZone, zoneName).
			Str(log.FieldVerb, verb).
			Msg("verb outside adapter capability set, ignored")
		metrics.ZoneCommandsTotal.WithLabelValues(z.Type, "unknown_verb").Inc()
		return nil, nil
	}
	if err != nil {
		metrics.ZoneCommandsTotal.WithLabelValues(z.Type, "error").Inc()
		return nil, &ExecError{Zone: zoneName, Verb: verb, Err: err}
	}
	metrics.ZoneCommandsTotal.WithLabelValues(z.Type, "ok").Inc()
	return res, nil
}

// CanExecute consults the adapter's capability set.
func (r *Registry) CanExecute(zoneName, verb string) bool {
	z, ok := r.zones[zoneName]
	if !ok {
		return false
	}
	_, ok = capSet(z.adapter.Capabilities())[verb]
	return ok
}

// ZonesByType returns the names of all zones with the given type tag, sorted.
func (r *Registry) ZonesByType(zoneType string) []string {
	var out []string
	for name, z := range r.zones {
		if z.Type == zoneType {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// ZoneNames returns all configured zone names, sorted.
func (r *Registry) ZoneNames() []string {
	out := make([]string, 0, len(r.zones))
	for name := range r.zones {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// EventTopics returns the diagnostic event topics of every zone, sorted.
func (r *Registry) EventTopics() []string {
	out := make([]string, 0, len(r.zones))
	for _, z := range r.zones {
		out = append(out, eventsTopic(z.BaseTopic))
	}
	sort.Strings(out)
	return out
}

// Cleanup releases adapter resources. Called once at shutdown.
func (r *Registry) Cleanup() {
	for _, z := range r.zones {
		z.adapter.Cleanup()
	}
}
