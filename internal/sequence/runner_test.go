// SPDX-License-Identifier: MIT
package sequence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomware/stagehand/internal/bus"
	"github.com/roomware/stagehand/internal/cue"
	"github.com/roomware/stagehand/internal/events"
	"github.com/roomware/stagehand/internal/model"
	"github.com/roomware/stagehand/internal/zone"
)

type noCues struct{}

func (noCues) CueByName(string, string) (*model.CueDef, bool) { return nil, false }

type recordingHints struct {
	fired []string
}

func (h *recordingHints) Fire(_ context.Context, _, id, source, _ string) error {
	h.fired = append(h.fired, source+":"+id)
	return nil
}

func mustSeq(t *testing.T, raw string) model.SequenceDef {
	t.Helper()
	var def model.SequenceDef
	require.NoError(t, json.Unmarshal([]byte(raw), &def))
	return def
}

type harness struct {
	runner *Runner
	rec    *bus.Recorder
	hints  *recordingHints
	slept  []time.Duration
}

func newHarness(t *testing.T, global map[string]model.SequenceDef) *harness {
	t.Helper()
	rec := bus.NewRecorder()
	reg, err := zone.NewRegistry(rec, map[string]model.ZoneConfig{
		"mirror": {Type: model.ZoneMedia, Topic: "room/mirror"},
		"lights": {Type: model.ZoneLights, Topic: "room/lights"},
	}, zone.Env{GameTopic: "room/game"})
	require.NoError(t, err)

	emitter := events.New(rec, "room/game")
	dispatcher := cue.New(reg, rec, noCues{}, emitter)
	resolver := &Resolver{Global: global}
	h := &harness{rec: rec, hints: &recordingHints{}}
	h.runner = New(reg, rec, dispatcher, resolver, emitter)
	h.runner.SetHintFirer(h.hints)
	h.runner.sleep = func(_ context.Context, d time.Duration) error {
		h.slept = append(h.slept, d)
		return nil
	}
	return h
}

func eventNames(rec *bus.Recorder) []string {
	var out []string
	for _, r := range rec.TopicRecords("room/game/events") {
		out = append(out, r.Payload.(map[string]any)["event"].(string))
	}
	return out
}

func TestRunOrderedSequence(t *testing.T) {
	h := newHarness(t, map[string]model.SequenceDef{
		"opening": mustSeq(t, `[
			{"zone":"lights","command":"scene","name":"dim"},
			{"wait":2},
			{"zone":"mirror","command":"playVideo","file":"intro.mp4","wait":3,"duration":3},
			{"publish":{"topic":"room/fx","payload":"boom"}}
		]`),
	})

	require.NoError(t, h.runner.Run(context.Background(), "demo", "opening", nil))

	assert.Equal(t, []time.Duration{2 * time.Second, 3 * time.Second}, h.slept)
	assert.Len(t, h.rec.TopicRecords("room/lights/commands"), 1)
	assert.Len(t, h.rec.TopicRecords("room/mirror/commands"), 1)
	assert.Len(t, h.rec.TopicRecords("room/fx"), 1)
	assert.Contains(t, eventNames(h.rec), events.SequenceComplete)
}

func TestSequenceMissing(t *testing.T) {
	h := newHarness(t, nil)
	err := h.runner.Run(context.Background(), "demo", "ghost", nil)
	require.Error(t, err)
	assert.Equal(t, CodeMissing, CodeOf(err))
	assert.Contains(t, eventNames(h.rec), events.SequenceMissing)
}

func TestSequenceCycleGuard(t *testing.T) {
	h := newHarness(t, map[string]model.SequenceDef{
		"a": mustSeq(t, `[{"fire-seq":"a"}]`),
	})

	err := h.runner.Run(context.Background(), "demo", "a", nil)
	require.Error(t, err)
	assert.Equal(t, CodeCycle, CodeOf(err))

	// No wire traffic besides diagnostics.
	assert.Empty(t, h.rec.TopicRecords("room/lights/commands"))
	assert.Empty(t, h.rec.TopicRecords("room/mirror/commands"))
	assert.Contains(t, eventNames(h.rec), events.SequenceCycle)
}

func TestSequenceDepthGuard(t *testing.T) {
	h := newHarness(t, map[string]model.SequenceDef{
		"l1": mustSeq(t, `[{"fire-seq":"l2"}]`),
		"l2": mustSeq(t, `[{"fire-seq":"l3"}]`),
		"l3": mustSeq(t, `[{"fire-seq":"l4"}]`),
		"l4": mustSeq(t, `[{"wait":1}]`),
	})

	err := h.runner.Run(context.Background(), "demo", "l1", nil)
	require.Error(t, err)
	assert.Equal(t, CodeDepthExceeded, CodeOf(err))
	assert.Contains(t, eventNames(h.rec), events.SequenceDepthExceeded)
}

func TestVariableSubstitution(t *testing.T) {
	h := newHarness(t, map[string]model.SequenceDef{
		"hint-text-seq": mustSeq(t, `[
			{"publish":{"topic":"room/game/hints","payload":"{{hintText}}"}}
		]`),
	})

	vars := map[string]string{"hintText": "look under the rug"}
	require.NoError(t, h.runner.Run(context.Background(), "demo", "hint-text-seq", vars))

	recs := h.rec.TopicRecords("room/game/hints")
	require.Len(t, recs, 1)
	assert.Equal(t, "look under the rug", recs[0].Payload)
}

func TestHintStepDelegates(t *testing.T) {
	h := newHarness(t, map[string]model.SequenceDef{
		"nudge": mustSeq(t, `[{"hint":"box1"}]`),
	})

	require.NoError(t, h.runner.Run(context.Background(), "demo", "nudge", nil))
	assert.Equal(t, []string{"sequence:box1"}, h.hints.fired)
}

func TestModeOverridesGlobal(t *testing.T) {
	h := newHarness(t, map[string]model.SequenceDef{
		"open": mustSeq(t, `[{"zone":"lights","command":"scene","name":"global"}]`),
	})
	h.runner.resolver.ModeLookup = func(mode string) map[string]model.SequenceDef {
		if mode != "demo" {
			return nil
		}
		return map[string]model.SequenceDef{
			"open": mustSeq(t, `[{"zone":"lights","command":"scene","name":"mode"}]`),
		}
	}

	require.NoError(t, h.runner.Run(context.Background(), "demo", "open", nil))
	payload := h.rec.TopicRecords("room/lights/commands")[0].Payload.(map[string]any)
	assert.Equal(t, "mode", payload["scene"])
}

func TestLegacyAliasAndSuffixVariants(t *testing.T) {
	h := newHarness(t, map[string]model.SequenceDef{
		"gameplay-start-sequence": mustSeq(t, `[{"wait":1}]`),
		"closing-sequence":        mustSeq(t, `[{"wait":1}]`),
	})

	require.NoError(t, h.runner.Run(context.Background(), "demo", "start-sequence", nil))
	require.NoError(t, h.runner.Run(context.Background(), "demo", "closing", nil))
}

func TestDurationMismatchTruncates(t *testing.T) {
	h := newHarness(t, map[string]model.SequenceDef{
		"long": mustSeq(t, `{"steps":[
			{"wait":2},
			{"wait":2},
			{"wait":2}
		],"meta":{"duration":2}}`),
	})

	require.NoError(t, h.runner.Run(context.Background(), "demo", "long", nil))

	// Truncated after the declared two seconds were spent.
	assert.Equal(t, []time.Duration{2 * time.Second}, h.slept)

	var warned bool
	for _, r := range h.rec.TopicRecords("room/game/warnings") {
		if r.Payload.(map[string]any)["warning"] == "sequence_duration_mismatch" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestTimelineSequenceOrdering(t *testing.T) {
	h := newHarness(t, map[string]model.SequenceDef{
		"tl": mustSeq(t, `{"duration":10,"timeline":[
			{"at":0,"zone":"lights","scene":"green"},
			{"at":10,"zone":"mirror","play":{"video":"s.mp4"}},
			{"at":7,"publish":{"topic":"t/A","payload":"A"}}
		]}`),
	})

	require.NoError(t, h.runner.Run(context.Background(), "demo", "tl", nil))

	// Descending at order with cumulative sleeps of 3s then 7s.
	assert.Equal(t, []time.Duration{3 * time.Second, 7 * time.Second}, h.slept)

	recs := h.rec.Records()
	var order []string
	for _, r := range recs {
		switch r.Topic {
		case "room/mirror/commands", "room/lights/commands", "t/A":
			order = append(order, r.Topic)
		}
	}
	assert.Equal(t, []string{"room/mirror/commands", "t/A", "room/lights/commands"}, order)
}

func TestEstimate(t *testing.T) {
	def := mustSeq(t, `[{"wait":2},{"zone":"mirror","command":"stopAll","wait":3,"duration":3}]`)
	assert.InDelta(t, 5.0, Estimate(&def), 0.01)

	withMeta := mustSeq(t, `{"steps":[{"wait":2}],"meta":{"duration":9}}`)
	assert.InDelta(t, 9.0, Estimate(&withMeta), 0.01)

	tl := mustSeq(t, `{"duration":12,"timeline":[{"at":0,"zone":"lights","scene":"x"}]}`)
	assert.InDelta(t, 12.0, Estimate(&tl), 0.01)
}
