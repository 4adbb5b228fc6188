// SPDX-License-Identifier: MIT
package zone

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomware/stagehand/internal/bus"
)

func newTestMedia(t *testing.T) (*media, *bus.Recorder) {
	t.Helper()
	rec := bus.NewRecorder()
	env := &Env{Bus: rec}
	m := newMedia("mirror", "room/mirror", env)
	m.browserPoll = 5 * time.Millisecond
	m.imagePoll = 5 * time.Millisecond
	return m, rec
}

func browserSnapshot(enabled bool, url string, visible bool) map[string]any {
	return map[string]any{
		"browser": map[string]any{"enabled": enabled, "url": url, "visible": visible},
	}
}

func TestVerifyBrowserEventualSuccess(t *testing.T) {
	m, rec := newTestMedia(t)

	// Device starts on the wrong URL; after the corrective command it takes
	// two polls to converge.
	m.onState("room/mirror/state", browserSnapshot(true, "http://old", true))
	polls := 0
	go func() {
		for polls < 2 {
			time.Sleep(8 * time.Millisecond)
			polls++
		}
		m.onState("room/mirror/state", browserSnapshot(true, "http://x", true))
	}()

	res, err := m.verifyBrowser(context.Background(), map[string]any{
		"url": "http://x", "visible": true, "timeout": 2000,
	})
	require.NoError(t, err)

	v := res.(*BrowserVerification)
	assert.True(t, v.Success)
	assert.True(t, v.URLChanged)
	assert.False(t, v.TimedOut)
	assert.False(t, v.Restarted)

	// The corrective setBrowserUrl went to the wire.
	var sawSetURL bool
	for _, r := range rec.TopicRecords("room/mirror/commands") {
		if r.Payload.(map[string]any)["command"] == "setBrowserUrl" {
			sawSetURL = true
		}
	}
	assert.True(t, sawSetURL)
}

func TestVerifyBrowserEnablesDisabledBrowser(t *testing.T) {
	m, rec := newTestMedia(t)
	m.onState("room/mirror/state", browserSnapshot(false, "", false))

	go func() {
		time.Sleep(15 * time.Millisecond)
		m.onState("room/mirror/state", browserSnapshot(true, "http://x", true))
	}()

	res, err := m.verifyBrowser(context.Background(), map[string]any{
		"url": "http://x", "visible": true, "timeout": 2000,
	})
	require.NoError(t, err)

	v := res.(*BrowserVerification)
	assert.True(t, v.Success)
	assert.True(t, v.Restarted)

	payload := rec.TopicRecords("room/mirror/commands")[0].Payload.(map[string]any)
	assert.Equal(t, "enableBrowser", payload["command"])
	assert.Equal(t, "http://x", payload["url"])
}

func TestVerifyBrowserTimeout(t *testing.T) {
	m, _ := newTestMedia(t)
	m.onState("room/mirror/state", browserSnapshot(true, "http://wrong", true))

	res, err := m.verifyBrowser(context.Background(), map[string]any{
		"url": "http://x", "visible": true, "timeout": 30,
	})
	require.Error(t, err)

	v := res.(*BrowserVerification)
	assert.False(t, v.Success)
	assert.True(t, v.TimedOut)
}

func TestVerifyImageSuccessAfterCorrection(t *testing.T) {
	m, rec := newTestMedia(t)
	m.onState("room/mirror/state", map[string]any{"media": map[string]any{"file": "other.png"}})

	go func() {
		time.Sleep(12 * time.Millisecond)
		m.onState("room/mirror/state", map[string]any{"media": map[string]any{"file": "key.png"}})
	}()

	res, err := m.verifyImage(context.Background(), map[string]any{"file": "key.png", "timeout": 2000})
	require.NoError(t, err)

	v := res.(*ImageVerification)
	assert.True(t, v.Success)
	assert.GreaterOrEqual(t, v.Attempts, 2)

	payload := rec.TopicRecords("room/mirror/commands")[0].Payload.(map[string]any)
	assert.Equal(t, "setImage", payload["command"])
	assert.Equal(t, "key.png", payload["file"])
}

func TestVerifyImageTimeoutWarnsButDoesNotError(t *testing.T) {
	m, rec := newTestMedia(t)
	m.onState("room/mirror/state", map[string]any{"media": map[string]any{"file": "wrong.png"}})

	res, err := m.verifyImage(context.Background(), map[string]any{"file": "key.png", "timeout": 20})
	require.NoError(t, err)

	v := res.(*ImageVerification)
	assert.False(t, v.Success)
	assert.True(t, v.TimedOut)
	assert.GreaterOrEqual(t, v.Attempts, 1)

	warnings := rec.TopicRecords("room/mirror/warnings")
	require.Len(t, warnings, 1)
	warning := warnings[0].Payload.(map[string]any)
	assert.Equal(t, "media_verification_error", warning["warning"])
	assert.NotEmpty(t, warning["timestamp"])
}
