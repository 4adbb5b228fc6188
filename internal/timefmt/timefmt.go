// Copyright (c) 2026 Roomware Labs
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package timefmt implements the MM:SS clock format used on the state topic
// and by the clock adapter, plus folding of the loose time options accepted
// on the wire.
package timefmt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrBadClock classifies unparseable MM:SS strings.
var ErrBadClock = errors.New("invalid clock value")

// SecondsToMMSS formats a non-negative second count as zero-padded MM:SS.
// Negative input clamps to 00:00.
func SecondsToMMSS(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// MMSSToSeconds parses an MM:SS string. Single-digit minute fields ("m:ss")
// are tolerated; seconds must be 0-59.
func MMSSToSeconds(clock string) (int, error) {
	parts := strings.Split(strings.TrimSpace(clock), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrBadClock, clock)
	}
	mins, err := strconv.Atoi(parts[0])
	if err != nil || mins < 0 {
		return 0, fmt.Errorf("%w: %q", ErrBadClock, clock)
	}
	secs, err := strconv.Atoi(parts[1])
	if err != nil || secs < 0 || secs > 59 {
		return 0, fmt.Errorf("%w: %q", ErrBadClock, clock)
	}
	return mins*60 + secs, nil
}

// FoldTimeOptions normalises loose time fields in a command option map:
// mm/ss pairs fold into a "time" MM:SS string, ms and seconds fold into
// "duration" (seconds). The input map is modified in place and returned.
func FoldTimeOptions(opts map[string]any) map[string]any {
	if opts == nil {
		return nil
	}
	mm, hasMM := asInt(opts["mm"])
	ss, hasSS := asInt(opts["ss"])
	if hasMM || hasSS {
		delete(opts, "mm")
		delete(opts, "ss")
		if _, ok := opts["time"]; !ok {
			opts["time"] = SecondsToMMSS(mm*60 + ss)
		}
	}
	if ms, ok := asInt(opts["ms"]); ok {
		delete(opts, "ms")
		if _, exists := opts["duration"]; !exists {
			opts["duration"] = ms / 1000
		}
	}
	if secs, ok := asInt(opts["seconds"]); ok {
		delete(opts, "seconds")
		if _, exists := opts["duration"]; !exists {
			opts["duration"] = secs
		}
	}
	return opts
}

// asInt coerces the numeric types JSON decoding produces.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// AsInt exposes the JSON-tolerant integer coercion to other packages.
func AsInt(v any) (int, bool) { return asInt(v) }
