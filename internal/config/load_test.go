// SPDX-License-Identifier: MIT
package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomware/stagehand/internal/model"
)

const gameJSON = `{
	"zones": {
		"mirror": {"type": "media", "topic": "room/mirror"},
		"lights": {"type": "lights", "topic": "room/lights"}
	},
	"modes": {
		"hc-demo": {
			"shortLabel": "Demo",
			"phases": {
				"gameplay": {"duration": 3}
			},
			"hints": [{"id": "box1", "type": "text", "text": "look closer"}]
		}
	},
	"sequences": {
		"idle": {"enabled": true, "interval": 120},
		"opening": [{"wait": 1}]
	},
	"hints": [
		{"id": "door", "type": "speech", "file": "door.mp3"},
		{"id": "dup", "type": "text", "text": "look closer"}
	],
	"cues": {
		"fanfare": [{"zone": "lights", "command": "scene", "name": "red"}]
	}
}`

const gameYAML = `
zones:
  mirror: {type: media, topic: room/mirror}
  lights: {type: lights, topic: room/lights}
modes:
  hc-demo:
    shortLabel: Demo
    phases:
      gameplay: {duration: 3}
    hints:
      - {id: box1, type: text, text: look closer}
sequences:
  idle: {enabled: true, interval: 120}
  opening:
    - {wait: 1}
hints:
  - {id: door, type: speech, file: door.mp3}
  - {id: dup, type: text, text: look closer}
cues:
  fanfare:
    - {zone: lights, command: scene, name: red}
`

const gameEDN = `{:zones {:mirror {:type "media" :topic "room/mirror"}
         :lights {:type "lights" :topic "room/lights"}}
 :modes {:hc-demo {:shortLabel "Demo"
                   :phases {:gameplay {:duration 3}}
                   :hints [{:id "box1" :type "text" :text "look closer"}]}}
 :sequences {:idle {:enabled true :interval 120}
             :opening [{:wait 1}]}
 :hints [{:id "door" :type "speech" :file "door.mp3"}
         {:id "dup" :type "text" :text "look closer"}]
 :cues {:fanfare [{:zone "lights" :command "scene" :name "red"}]}}`

func assertDemoGame(t *testing.T, g *Game) {
	t.Helper()

	require.Len(t, g.Zones, 2)
	assert.Equal(t, model.ZoneMedia, g.Zones["mirror"].Type)
	assert.Equal(t, "room/mirror", g.Zones["mirror"].Topic)

	mode, ok := g.Mode("hc-demo")
	require.True(t, ok)
	gameplay := mode.Phases["gameplay"]
	assert.Equal(t, 3, gameplay.EffectiveDuration())

	// The idle key was lifted out of the sequences map.
	assert.NotContains(t, g.Sequences, "idle")
	require.Contains(t, g.Sequences, "opening")
	assert.True(t, g.Idle.Enabled)
	assert.Equal(t, 120, g.Idle.Interval)
	assert.Equal(t, "idle-sequence", g.Idle.Name)

	def, ok := g.CueByName("hc-demo", "fanfare")
	require.True(t, ok)
	require.Len(t, def.List, 1)

	hints := g.CombinedHints("hc-demo")
	require.Len(t, hints, 2) // dup collapses into box1 by display text
	assert.Equal(t, "box1", hints[0].ID)
	assert.Equal(t, "door", hints[1].ID)
}

func TestParseGameJSON(t *testing.T) {
	g, err := ParseGame([]byte(gameJSON), FormatJSON)
	require.NoError(t, err)
	assertDemoGame(t, g)
}

func TestParseGameYAML(t *testing.T) {
	g, err := ParseGame([]byte(gameYAML), FormatYAML)
	require.NoError(t, err)
	assertDemoGame(t, g)
}

func TestParseGameEDN(t *testing.T) {
	g, err := ParseGame([]byte(gameEDN), FormatEDN)
	require.NoError(t, err)
	assertDemoGame(t, g)
}

func TestFormatsParseIdentically(t *testing.T) {
	jg, err := ParseGame([]byte(gameJSON), FormatJSON)
	require.NoError(t, err)
	yg, err := ParseGame([]byte(gameYAML), FormatYAML)
	require.NoError(t, err)
	eg, err := ParseGame([]byte(gameEDN), FormatEDN)
	require.NoError(t, err)

	if diff := cmp.Diff(jg, yg); diff != "" {
		t.Errorf("YAML parse differs from JSON (-json +yaml):\n%s", diff)
	}
	if diff := cmp.Diff(jg, eg); diff != "" {
		t.Errorf("EDN parse differs from JSON (-json +edn):\n%s", diff)
	}
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, FormatEDN, FormatFromPath("/etc/stagehand/game.edn"))
	assert.Equal(t, FormatYAML, FormatFromPath("game.yml"))
	assert.Equal(t, FormatYAML, FormatFromPath("game.yaml"))
	assert.Equal(t, FormatJSON, FormatFromPath("game.json"))
	assert.Equal(t, FormatJSON, FormatFromPath("game.conf"))
}

func TestParseGameUnknownFormat(t *testing.T) {
	_, err := ParseGame([]byte("{}"), "toml")
	require.Error(t, err)
}

func TestLoadGameFromFile(t *testing.T) {
	path := writeFile(t, "game.json", gameJSON)
	g, err := LoadGame(path, "")
	require.NoError(t, err)
	assertDemoGame(t, g)
}
