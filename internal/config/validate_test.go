// SPDX-License-Identifier: MIT
package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, raw string) *Game {
	t.Helper()
	g, err := ParseGame([]byte(raw), FormatJSON)
	require.NoError(t, err)
	return g
}

func TestValidateCleanConfig(t *testing.T) {
	g := parse(t, `{
		"zones": {"mirror": {"type": "media", "topic": "room/mirror"}},
		"modes": {"demo": {"phases": {"gameplay": {"duration": 60, "schedule": [
			{"at": 30, "fire-seq": "midgame"},
			{"at": 0, "end": "fail"}
		]}}}},
		"sequences": {"midgame": [{"wait": 1}]}
	}`)

	r := Validate(g)
	require.NoError(t, r.Err())
	assert.Empty(t, r.Warnings)
}

func TestValidateUnknownZoneType(t *testing.T) {
	g := parse(t, `{
		"zones": {"fog": {"type": "smoke", "topic": "room/fog"}},
		"modes": {"demo": {"phases": {"gameplay": {"duration": 10}}}}
	}`)

	err := Validate(g).Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown type "smoke"`)
}

func TestValidateNoModes(t *testing.T) {
	g := parse(t, `{"zones": {"mirror": {"type": "media", "topic": "room/mirror"}}}`)
	require.Error(t, Validate(g).Err())
}

func TestValidateDanglingSequenceRef(t *testing.T) {
	g := parse(t, `{
		"zones": {"mirror": {"type": "media", "topic": "room/mirror"}},
		"modes": {"demo": {"phases": {"gameplay": {"duration": 10, "schedule": [
			{"at": 5, "fire-seq": "ghost"}
		]}}}}
	}`)

	err := Validate(g).Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown sequence "ghost"`)
}

func TestValidatePhaseSequenceRef(t *testing.T) {
	g := parse(t, `{
		"zones": {"mirror": {"type": "media", "topic": "room/mirror"}},
		"modes": {"demo": {"phases": {"intro": {"sequence": "nowhere"}}}}
	}`)

	err := Validate(g).Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown sequence "nowhere"`)
}

func TestValidateBothSequenceAndScheduleWarns(t *testing.T) {
	g := parse(t, `{
		"zones": {"mirror": {"type": "media", "topic": "room/mirror"}},
		"modes": {"demo": {"phases": {"gameplay": {
			"duration": 10,
			"sequence": [{"wait": 1}],
			"schedule": [{"at": 0, "end": "fail"}]
		}}}}
	}`)

	r := Validate(g)
	require.NoError(t, r.Err())
	require.NotEmpty(t, r.Warnings)
	assert.Contains(t, strings.Join(r.Warnings, "\n"), "both a sequence and a schedule")
}

func TestValidateScheduleEntryShape(t *testing.T) {
	g := parse(t, `{
		"zones": {"mirror": {"type": "media", "topic": "room/mirror"}},
		"modes": {"demo": {"phases": {"gameplay": {"duration": 10, "schedule": [
			{"at": 5}
		]}}}}
	}`)

	err := Validate(g).Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one action")
}

func TestValidateEndValue(t *testing.T) {
	g := parse(t, `{
		"zones": {"mirror": {"type": "media", "topic": "room/mirror"}},
		"modes": {"demo": {"phases": {"gameplay": {"duration": 10, "schedule": [
			{"at": 0, "end": "draw"}
		]}}}}
	}`)

	err := Validate(g).Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "end must be win or fail")
}

func TestValidateIdleNeedsKnownSequence(t *testing.T) {
	g := parse(t, `{
		"zones": {"mirror": {"type": "media", "topic": "room/mirror"}},
		"modes": {"demo": {"phases": {"gameplay": {"duration": 10}}}},
		"sequences": {"idle": {"enabled": true, "name": "attract"}}
	}`)

	err := Validate(g).Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown sequence "attract"`)

	g = parse(t, `{
		"zones": {"mirror": {"type": "media", "topic": "room/mirror"}},
		"modes": {"demo": {"phases": {"gameplay": {"duration": 10}}}},
		"sequences": {"idle": {"enabled": true, "name": "attract"}, "attract": [{"wait": 1}]}
	}`)
	require.NoError(t, Validate(g).Err())
}

func TestValidateUnknownFireTarget(t *testing.T) {
	g := parse(t, `{
		"zones": {"mirror": {"type": "media", "topic": "room/mirror"}},
		"modes": {"demo": {"phases": {"gameplay": {"duration": 10, "schedule": [
			{"at": 5, "fire": "mystery"}
		]}}}}
	}`)

	err := Validate(g).Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "matches no cue, sequence or hint")
}
