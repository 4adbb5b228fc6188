// Copyright (c) 2026 Roomware Labs
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
	"olympos.io/encoding/edn"
)

// Supported game config formats. Every format is normalised to JSON so the
// model has exactly one decode path.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatEDN  = "edn"
)

// LoadGame reads and decodes the game definition at path. An empty format is
// inferred from the file extension.
func LoadGame(path, format string) (*Game, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("game config %s: %w", path, err)
	}
	if format == "" {
		format = FormatFromPath(path)
	}
	return ParseGame(data, format)
}

// FormatFromPath infers the config format from a file extension, defaulting
// to JSON.
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".edn":
		return FormatEDN
	default:
		return FormatJSON
	}
}

// ParseGame decodes a game definition from raw bytes in the given format.
func ParseGame(data []byte, format string) (*Game, error) {
	jsonBytes, err := normalise(data, format)
	if err != nil {
		return nil, err
	}
	var g Game
	if err := json.Unmarshal(jsonBytes, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func normalise(data []byte, format string) ([]byte, error) {
	switch format {
	case FormatJSON:
		return data, nil

	case FormatYAML:
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("game config: yaml: %w", err)
		}
		return json.Marshal(doc)

	case FormatEDN:
		var doc any
		if err := edn.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("game config: edn: %w", err)
		}
		return json.Marshal(ednToJSON(doc))

	default:
		return nil, fmt.Errorf("game config: unknown format %q", format)
	}
}

// ednToJSON rewrites EDN decoder output into JSON-marshalable values:
// keyword and symbol keys become plain strings, generic maps become
// string-keyed maps.
func ednToJSON(v any) any {
	switch val := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[ednKey(k)] = ednToJSON(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = ednToJSON(item)
		}
		return out
	case edn.Keyword:
		return string(val)
	case edn.Symbol:
		return string(val)
	default:
		return val
	}
}

func ednKey(k any) string {
	switch key := k.(type) {
	case edn.Keyword:
		return string(key)
	case edn.Symbol:
		return string(key)
	case string:
		return key
	default:
		return fmt.Sprintf("%v", key)
	}
}
