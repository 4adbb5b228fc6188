// Copyright (c) 2026 Roomware Labs
// Licensed under the PolyForm Noncommercial License 1.0.0

package sequence

import (
	"strings"

	"github.com/roomware/stagehand/internal/model"
)

// legacyAliases maps retired sequence names to their replacements before
// resolution starts.
var legacyAliases = map[string]string{
	"start-sequence": "gameplay-start-sequence",
}

// Resolver searches sequence namespaces in priority order: per-mode
// overrides, global, system, command. Name variants are tried per namespace:
// the name as given, with a "-sequence" suffix, and with the suffix
// stripped.
type Resolver struct {
	ModeLookup func(mode string) map[string]model.SequenceDef
	Global     map[string]model.SequenceDef
	System     map[string]model.SequenceDef
	Command    map[string]model.SequenceDef
}

// Resolve returns the definition, the resolved canonical name and whether a
// definition was found.
func (r *Resolver) Resolve(mode, name string) (*model.SequenceDef, string, bool) {
	if alias, ok := legacyAliases[name]; ok {
		name = alias
	}

	namespaces := []map[string]model.SequenceDef{}
	if r.ModeLookup != nil {
		if m := r.ModeLookup(mode); m != nil {
			namespaces = append(namespaces, m)
		}
	}
	namespaces = append(namespaces, r.Global, r.System, r.Command)

	for _, ns := range namespaces {
		if ns == nil {
			continue
		}
		for _, variant := range nameVariants(name) {
			if def, ok := ns[variant]; ok {
				return &def, variant, true
			}
		}
	}
	return nil, "", false
}

// Known reports whether the name resolves. Used by the fire-by-name
// classifier.
func (r *Resolver) Known(mode, name string) bool {
	_, _, ok := r.Resolve(mode, name)
	return ok
}

func nameVariants(name string) []string {
	variants := []string{name}
	if !strings.HasSuffix(name, "-sequence") {
		variants = append(variants, name+"-sequence")
	} else {
		variants = append(variants, strings.TrimSuffix(name, "-sequence"))
	}
	return variants
}
