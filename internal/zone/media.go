// Copyright (c) 2026 Roomware Labs
// Licensed under the PolyForm Noncommercial License 1.0.0

package zone

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roomware/stagehand/internal/log"
	"github.com/roomware/stagehand/internal/timefmt"
)

// Verification defaults. Per-call overrides come in through the options map.
const (
	browserVerifyTimeout = 20 * time.Second
	browserPollInterval  = 2 * time.Second
	imageVerifyTimeout   = 10 * time.Second
	imagePollInterval    = time.Second
)

var mediaCapabilities = []string{
	"playVideo", "playBackground", "playAudioFX", "playSpeech",
	"stopAll", "stopBackground", "stopSpeech", "stopAudio", "stopVideo",
	"setImage", "setVolume",
	"enableBrowser", "disableBrowser", "showBrowser", "hideBrowser",
	"sleepBrowser", "wakeBrowser", "setBrowserUrl",
	"setColor", "setColorScene",
	"shutdown", "reboot", "poweroff", "kill", "restart",
	"requestState", "verifyBrowser", "verifyImage",
}

// media drives a media player zone. It caches the latest retained state
// snapshot from the zone's state topic for the verification pollers.
type media struct {
	name string
	base string
	env  *Env

	mu    sync.RWMutex
	state map[string]any

	// Poll cadences are fields so tests can tighten them.
	browserPoll time.Duration
	imagePoll   time.Duration
}

func newMedia(name, base string, env *Env) *media {
	m := &media{
		name:        name,
		base:        base,
		env:         env,
		browserPoll: browserPollInterval,
		imagePoll:   imagePollInterval,
	}
	// Subscription failures are logged inside the bus; the adapter stays
	// usable with an empty snapshot.
	_ = env.Bus.Subscribe(stateTopic(base), m.onState)
	return m
}

func (m *media) onState(_ string, value any) {
	snapshot, ok := value.(map[string]any)
	if !ok {
		return
	}
	m.mu.Lock()
	m.state = snapshot
	m.mu.Unlock()
}

// Snapshot returns the last-observed device state.
func (m *media) Snapshot() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *media) Capabilities() []string { return mediaCapabilities }

func (m *media) Cleanup() {}

func (m *media) Execute(ctx context.Context, verb string, opts map[string]any) (any, error) {
	if _, ok := capSet(mediaCapabilities)[verb]; !ok {
		return nil, ErrUnknownVerb
	}

	switch verb {
	case "playBackground":
		// Background tracks loop unless explicitly disabled.
		if _, ok := opts["loop"]; !ok {
			opts = withOption(opts, "loop", true)
		}
	case "setVolume":
		// Explicit absolute volume beats a relative adjustment.
		if _, abs := opts["volume"]; abs {
			opts = withoutOption(opts, "volumeAdjust")
		}
	case "verifyBrowser":
		return m.verifyBrowser(ctx, opts)
	case "verifyImage":
		return m.verifyImage(ctx, opts)
	}

	return nil, m.publishCommand(verb, opts)
}

func (m *media) publishCommand(verb string, opts map[string]any) error {
	payload := map[string]any{"command": verb}
	for k, v := range opts {
		payload[k] = v
	}
	return m.env.Bus.Publish(commandTopic(m.base), payload)
}

// withOption copies the option map before adding a key, so shared
// configuration values are never mutated.
func withOption(opts map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(opts)+1)
	for k, v := range opts {
		out[k] = v
	}
	out[key] = value
	return out
}

// withoutOption copies the option map before dropping a key.
func withoutOption(opts map[string]any, key string) map[string]any {
	out := make(map[string]any, len(opts))
	for k, v := range opts {
		if k != key {
			out[k] = v
		}
	}
	return out
}

// BrowserVerification is the result of a verifyBrowser poll run.
type BrowserVerification struct {
	Success           bool  `json:"success"`
	TimeElapsed       int64 `json:"timeElapsed"`
	Restarted         bool  `json:"restarted"`
	URLChanged        bool  `json:"urlChanged"`
	VisibilityChanged bool  `json:"visibilityChanged"`
	TimedOut          bool  `json:"timedOut,omitempty"`
}

// browserState extracts the browser section of the snapshot.
func (m *media) browserState() (enabled bool, url string, visible bool, ok bool) {
	snapshot := m.Snapshot()
	if snapshot == nil {
		return false, "", false, false
	}
	browser, bok := snapshot["browser"].(map[string]any)
	if !bok {
		return false, "", false, false
	}
	enabled, _ = browser["enabled"].(bool)
	url, _ = browser["url"].(string)
	visible, _ = browser["visible"].(bool)
	return enabled, url, visible, true
}

// verifyBrowser polls the zone state and converges the device browser on the
// wanted url and visibility, issuing corrective commands as it goes.
func (m *media) verifyBrowser(ctx context.Context, opts map[string]any) (any, error) {
	wantURL, _ := opts["url"].(string)
	wantVisible := true
	if v, ok := opts["visible"].(bool); ok {
		wantVisible = v
	}
	timeout := browserVerifyTimeout
	if ms, ok := timefmt.AsInt(opts["timeout"]); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}

	logger := log.WithContext(ctx, m.env.Logger)
	start := time.Now()
	result := &BrowserVerification{}
	deadline := start.Add(timeout)

	for {
		enabled, url, visible, haveState := m.browserState()
		if haveState {
			switch {
			case !enabled:
				result.Restarted = true
				if err := m.publishCommand("enableBrowser", map[string]any{"url": wantURL}); err == nil {
					logger.Info().
						Str("event", "media.browser_enable").
						Str(log.FieldZone, m.name).
						Str("url", wantURL).
						Msg("browser disabled, enabling with target url")
				}
			case wantURL != "" && url != wantURL:
				result.URLChanged = true
				_ = m.publishCommand("setBrowserUrl", map[string]any{"url": wantURL})
			case visible != wantVisible:
				result.VisibilityChanged = true
				verb := "showBrowser"
				if !wantVisible {
					verb = "hideBrowser"
				}
				_ = m.publishCommand(verb, nil)
			default:
				result.Success = true
				result.TimeElapsed = time.Since(start).Milliseconds()
				return result, nil
			}
		}

		if time.Now().After(deadline) {
			result.TimedOut = true
			result.TimeElapsed = time.Since(start).Milliseconds()
			return result, fmt.Errorf("browser verification failed for zone %s after %v", m.name, timeout)
		}
		select {
		case <-ctx.Done():
			result.TimedOut = true
			result.TimeElapsed = time.Since(start).Milliseconds()
			return result, ctx.Err()
		case <-time.After(m.browserPoll):
		}
	}
}

// ImageVerification is the result of a verifyImage poll run.
type ImageVerification struct {
	Success  bool   `json:"success"`
	TimedOut bool   `json:"timedOut,omitempty"`
	Attempts int    `json:"attempts"`
	File     string `json:"file"`
}

// mediaFile extracts the currently displayed file from the snapshot.
func (m *media) mediaFile() string {
	snapshot := m.Snapshot()
	if snapshot == nil {
		return ""
	}
	if media, ok := snapshot["media"].(map[string]any); ok {
		if f, ok := media["file"].(string); ok {
			return f
		}
	}
	if f, ok := snapshot["file"].(string); ok {
		return f
	}
	return ""
}

// verifyImage polls until the zone shows the wanted file, re-issuing
// setImage on mismatch. Timeouts surface as a structured warning on the
// zone's warnings topic; the caller decides whether to carry on.
func (m *media) verifyImage(ctx context.Context, opts map[string]any) (any, error) {
	file, _ := opts["file"].(string)
	timeout := imageVerifyTimeout
	if ms, ok := timefmt.AsInt(opts["timeout"]); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}

	result := &ImageVerification{File: file}
	deadline := time.Now().Add(timeout)

	for {
		result.Attempts++
		if m.mediaFile() == file {
			result.Success = true
			return result, nil
		}
		_ = m.publishCommand("setImage", map[string]any{"file": file})

		if time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(m.imagePoll):
		}
	}

	result.TimedOut = true
	warning := map[string]any{
		"warning":   "media_verification_error",
		"message":   fmt.Sprintf("image %q not confirmed on zone %s", file, m.name),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"attempts":  result.Attempts,
	}
	_ = m.env.Bus.Publish(warnTopic(m.base), warning)
	return result, nil
}
