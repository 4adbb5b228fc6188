// SPDX-License-Identifier: MIT
package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roomware/stagehand/internal/bus"
	"github.com/roomware/stagehand/internal/config"
	"github.com/roomware/stagehand/internal/events"
	"github.com/roomware/stagehand/internal/hint"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestEngine(t *testing.T, gameJSON string) (*Engine, *bus.Recorder, context.Context) {
	t.Helper()
	rec := bus.NewRecorder()
	g, err := config.ParseGame([]byte(gameJSON), config.FormatJSON)
	require.NoError(t, err)

	e, err := New(Options{
		Bus:       rec,
		Game:      g,
		GameTopic: "room/game",
		Heartbeat: time.Hour, // keep heartbeat noise out of topic assertions
	})
	require.NoError(t, err)
	e.tickInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = e.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Run subscribes to the commands topic before its first state publish,
	// so a state record means Deliver calls will be seen.
	waitFor(t, func() bool {
		return len(rec.TopicRecords("room/game/state")) > 0
	}, "engine never published its initial state")

	return e, rec, ctx
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func engineEvents(rec *bus.Recorder) []string {
	var out []string
	for _, r := range rec.TopicRecords("room/game/events") {
		out = append(out, r.Payload.(map[string]any)["event"].(string))
	}
	return out
}

func warningNames(rec *bus.Recorder) []string {
	var out []string
	for _, r := range rec.TopicRecords("room/game/warnings") {
		out = append(out, r.Payload.(map[string]any)["warning"].(string))
	}
	return out
}

// timeLeftTrace returns the distinct consecutive timeLeft values seen on the
// state topic.
func timeLeftTrace(rec *bus.Recorder) []string {
	var out []string
	for _, r := range rec.TopicRecords("room/game/state") {
		v := r.Payload.(map[string]any)["timeLeft"].(string)
		if len(out) == 0 || out[len(out)-1] != v {
			out = append(out, v)
		}
	}
	return out
}

const demoGame = `{
	"zones": {"clock": {"type": "clock", "topic": "room/clock"}},
	"modes": {"hc-demo": {"phases": {"gameplay": {"duration": 3}}}}
}`

func TestStartTickFailOnZero(t *testing.T) {
	e, rec, _ := newTestEngine(t, demoGame)

	rec.Deliver("room/game/commands", map[string]any{"command": "start:hc-demo"})

	waitFor(t, func() bool { return e.Phase() == PhaseFailed }, "never reached failed")

	trace := timeLeftTrace(rec)
	assert.Subset(t, trace, []string{"00:03", "00:02", "00:01", "00:00"})

	var outcome string
	for _, r := range rec.TopicRecords("room/game/events") {
		body := r.Payload.(map[string]any)
		if body["event"] == events.GameEndTrigger {
			outcome = body["data"].(map[string]any)["outcome"].(string)
		}
	}
	assert.Equal(t, OutcomeFail, outcome)
}

func TestStartRejectedOutsideReady(t *testing.T) {
	e, rec, _ := newTestEngine(t, `{
		"zones": {"clock": {"type": "clock", "topic": "room/clock"}},
		"modes": {"long": {"phases": {"gameplay": {"duration": 1000}}}}
	}`)

	rec.Deliver("room/game/commands", map[string]any{"command": "start:long"})
	waitFor(t, func() bool { return e.Phase() == PhaseGameplay }, "never reached gameplay")

	rec.Deliver("room/game/commands", map[string]any{"command": "start:long"})
	assert.Contains(t, warningNames(rec), "invalid_command")
	assert.Equal(t, PhaseGameplay, e.Phase())
}

func TestWinTriggerAndDuplicateIgnored(t *testing.T) {
	e, rec, _ := newTestEngine(t, `{
		"zones": {"clock": {"type": "clock", "topic": "room/clock"}},
		"modes": {"m": {"phases": {"gameplay": {"duration": 1000}}}}
	}`)

	rec.Deliver("room/game/commands", map[string]any{"command": "start:m"})
	waitFor(t, func() bool { return e.Phase() == PhaseGameplay }, "never reached gameplay")

	rec.Deliver("room/game/commands", map[string]any{"command": "solve"})
	waitFor(t, func() bool { return e.Phase() == PhaseSolved }, "never reached solved")

	rec.Deliver("room/game/commands", map[string]any{"command": "fail"})
	assert.Equal(t, PhaseSolved, e.Phase())

	var triggers int
	for _, name := range engineEvents(rec) {
		if name == events.GameEndTrigger {
			triggers++
		}
	}
	assert.Equal(t, 1, triggers)
}

func TestClosingCountdownSettlesReady(t *testing.T) {
	e, rec, _ := newTestEngine(t, `{
		"zones": {"clock": {"type": "clock", "topic": "room/clock"}},
		"modes": {"m": {"phases": {
			"gameplay": {"duration": 1000},
			"failed": {"duration": 2}
		}}}
	}`)

	rec.Deliver("room/game/commands", map[string]any{"command": "start:m"})
	waitFor(t, func() bool { return e.Phase() == PhaseGameplay }, "never reached gameplay")

	rec.Deliver("room/game/commands", map[string]any{"command": "fail"})
	waitFor(t, func() bool { return e.Phase() == PhaseFailed }, "never reached failed")
	waitFor(t, func() bool { return e.Phase() == PhaseReady }, "never settled back in ready")
}

func TestPauseFreezesCountdown(t *testing.T) {
	e, rec, _ := newTestEngine(t, `{
		"zones": {"clock": {"type": "clock", "topic": "room/clock"}},
		"modes": {"m": {"phases": {"gameplay": {"duration": 1000}}}}
	}`)

	rec.Deliver("room/game/commands", map[string]any{"command": "start:m"})
	waitFor(t, func() bool { return e.Phase() == PhaseGameplay }, "never reached gameplay")

	rec.Deliver("room/game/commands", map[string]any{"command": "pause"})
	waitFor(t, func() bool { return e.Phase() == PhasePaused }, "never paused")

	_, r1 := e.stateSnapshot()
	time.Sleep(60 * time.Millisecond)
	_, r2 := e.stateSnapshot()
	assert.Equal(t, r1, r2)

	rec.Deliver("room/game/commands", map[string]any{"command": "resume"})
	waitFor(t, func() bool { return e.Phase() == PhaseGameplay }, "never resumed")
	waitFor(t, func() bool {
		_, r3 := e.stateSnapshot()
		return r3 < r2
	}, "countdown never resumed")
}

func TestAdjustTimeClampTriggersFail(t *testing.T) {
	e, rec, _ := newTestEngine(t, `{
		"zones": {"clock": {"type": "clock", "topic": "room/clock"}},
		"modes": {"m": {"phases": {"gameplay": {"duration": 1000}}}}
	}`)

	rec.Deliver("room/game/commands", map[string]any{"command": "start:m"})
	waitFor(t, func() bool { return e.Phase() == PhaseGameplay }, "never reached gameplay")

	rec.Deliver("room/game/commands", map[string]any{"command": "adjustTime", "seconds": float64(-5000)})
	waitFor(t, func() bool { return e.Phase() == PhaseFailed }, "clamped countdown never failed the game")
}

func TestScheduledHintSuppressedByEarlyFire(t *testing.T) {
	e, rec, ctx := newTestEngine(t, `{
		"zones": {"clock": {"type": "clock", "topic": "room/clock"}},
		"modes": {"m": {
			"phases": {"gameplay": {"duration": 7, "schedule": [
				{"at": 5, "play-hint": "box1"}
			]}},
			"hints": [{"id": "box1", "type": "text", "text": "look closer"}]
		}}
	}`)

	rec.Deliver("room/game/commands", map[string]any{"command": "start:m"})
	require.NoError(t, e.hints.Fire(ctx, "m", "box1", hint.SourceEarly, ""))

	waitFor(t, func() bool { return e.Phase() == PhaseFailed }, "game never finished")

	// Exactly one hint execution: the early one.
	assert.Len(t, rec.TopicRecords("room/game/hints"), 1)
	assert.Contains(t, engineEvents(rec), events.HintSuppressed)
}

func TestMarkedActionSuppressesScheduledHint(t *testing.T) {
	e, rec, _ := newTestEngine(t, `{
		"zones": {"clock": {"type": "clock", "topic": "room/clock"}},
		"modes": {"m": {
			"phases": {"gameplay": {"duration": 7, "schedule": [
				{"at": 5, "play-hint": "box1"}
			]}},
			"hints": [{"id": "box1", "type": "text", "text": "look closer"}]
		}}
	}`)

	rec.Deliver("room/game/commands", map[string]any{"command": "start:m"})
	rec.Deliver("room/game/commands", map[string]any{"command": "markAction", "action": "box1"})

	waitFor(t, func() bool { return e.Phase() == PhaseFailed }, "game never finished")

	assert.Empty(t, rec.TopicRecords("room/game/hints"))
	assert.Contains(t, engineEvents(rec), events.HintSuppressed)
}

func TestResetClearsSchedules(t *testing.T) {
	e, rec, _ := newTestEngine(t, `{
		"zones": {"clock": {"type": "clock", "topic": "room/clock"}},
		"modes": {"m": {"phases": {"gameplay": {"duration": 1000, "schedule": [
			{"at": 995, "zone": "clock", "command": "pause"}
		]}}}}
	}`)

	rec.Deliver("room/game/commands", map[string]any{"command": "start:m"})
	waitFor(t, func() bool { return e.Phase() == PhaseGameplay }, "never reached gameplay")

	rec.Deliver("room/game/commands", map[string]any{"command": "reset"})
	waitFor(t, func() bool { return e.Phase() == PhaseReady }, "never reached ready")

	// Give the cancelled schedule time to (not) fire.
	time.Sleep(200 * time.Millisecond)
	for _, r := range rec.TopicRecords("room/clock/commands") {
		assert.NotEqual(t, "pause", r.Payload.(map[string]any)["command"])
	}
}

func TestScheduleEntryAtDurationFiresAtRegistration(t *testing.T) {
	e, rec, _ := newTestEngine(t, `{
		"zones": {"clock": {"type": "clock", "topic": "room/clock"}},
		"modes": {"m": {"phases": {"gameplay": {"duration": 600, "schedule": [
			{"at": 600, "zone": "clock", "command": "start"}
		]}}}}
	}`)

	rec.Deliver("room/game/commands", map[string]any{"command": "start:m"})
	waitFor(t, func() bool { return e.Phase() == PhaseGameplay }, "never reached gameplay")
	waitFor(t, func() bool { return len(rec.TopicRecords("room/clock/commands")) > 0 }, "entry never fired")

	payload := rec.TopicRecords("room/clock/commands")[0].Payload.(map[string]any)
	assert.Equal(t, "start", payload["command"])
}

func TestCommandValidation(t *testing.T) {
	_, rec, _ := newTestEngine(t, demoGame)

	rec.Deliver("room/game/commands", "not json at all")
	rec.Deliver("room/game/commands", map[string]any{"foo": 1})
	rec.Deliver("room/game/commands", map[string]any{"command": "dance"})

	warnings := warningNames(rec)
	assert.Contains(t, warnings, "malformed_command")
	assert.Contains(t, warnings, "invalid_command")
	assert.Contains(t, warnings, "unknown_command")

	var fails int
	for _, name := range engineEvents(rec) {
		if name == events.CommandValidationFail {
			fails++
		}
	}
	assert.Equal(t, 3, fails)
}

func TestRetainedRegistryAndConfig(t *testing.T) {
	_, rec, _ := newTestEngine(t, `{
		"zones": {"clock": {"type": "clock", "topic": "room/clock"}},
		"modes": {"m": {
			"shortLabel": "M",
			"phases": {"gameplay": {"duration": 10}},
			"hints": [{"id": "box1", "type": "text", "text": "look"}]
		}}
	}`)

	registry := rec.TopicRecords("room/game/hints/registry")
	require.NotEmpty(t, registry)
	assert.True(t, registry[0].Retained)

	cfg := rec.TopicRecords("room/game/config")
	require.NotEmpty(t, cfg)
	assert.True(t, cfg[0].Retained)
	games := cfg[0].Payload.(map[string]any)["games"].(map[string]any)
	assert.Contains(t, games, "m")
}

func TestIdleSequenceFires(t *testing.T) {
	e, rec, _ := newTestEngine(t, `{
		"zones": {"clock": {"type": "clock", "topic": "room/clock"}},
		"modes": {"m": {"phases": {"gameplay": {"duration": 10}}}},
		"sequences": {
			"idle": {"enabled": true, "interval": 3, "name": "attract"},
			"attract": [{"zone": "clock", "command": "fade-out"}]
		}
	}`)

	require.Equal(t, PhaseReady, e.Phase())
	waitFor(t, func() bool { return len(rec.TopicRecords("room/clock/commands")) > 0 }, "idle sequence never fired")

	payload := rec.TopicRecords("room/clock/commands")[0].Payload.(map[string]any)
	assert.Equal(t, "fadeOut", payload["command"])
}

func TestListModesAndGetState(t *testing.T) {
	_, rec, _ := newTestEngine(t, demoGame)

	rec.Deliver("room/game/commands", map[string]any{"command": "listModes"})
	rec.Deliver("room/game/commands", map[string]any{"command": "getState"})

	var modes []string
	for _, r := range rec.TopicRecords("room/game/events") {
		body := r.Payload.(map[string]any)
		if body["event"] == "modes" {
			modes = body["data"].(map[string]any)["modes"].([]string)
		}
	}
	assert.Equal(t, []string{"hc-demo"}, modes)

	states := rec.TopicRecords("room/game/state")
	require.NotEmpty(t, states)
	last := states[len(states)-1].Payload.(map[string]any)
	assert.Equal(t, PhaseReady, last["gameState"])
	assert.Equal(t, "00:00", last["timeLeft"])
}
