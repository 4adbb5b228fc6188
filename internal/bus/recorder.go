// Copyright (c) 2026 Roomware Labs
// Licensed under the PolyForm Noncommercial License 1.0.0

package bus

import (
	"strings"
	"sync"
)

// Record is one captured publish.
type Record struct {
	Topic    string
	Payload  any
	Retained bool
}

// Recorder is an in-memory Bus used by tests and by dry-run tooling. It
// captures publishes and routes them back to matching subscribers so
// adapter state loops can be exercised without a broker.
type Recorder struct {
	mu       sync.Mutex
	records  []Record
	handlers map[string]Handler
	// Loopback controls whether publishes are delivered to subscribers.
	Loopback bool
}

// NewRecorder builds an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{handlers: make(map[string]Handler)}
}

// Publish captures the payload and optionally loops it back.
func (r *Recorder) Publish(topic string, payload any) error {
	return r.record(topic, payload, false)
}

// PublishRetained captures the payload with the retained flag.
func (r *Recorder) PublishRetained(topic string, payload any) error {
	return r.record(topic, payload, true)
}

func (r *Recorder) record(topic string, payload any, retained bool) error {
	r.mu.Lock()
	r.records = append(r.records, Record{Topic: topic, Payload: payload, Retained: retained})
	var h Handler
	if r.Loopback {
		h = r.match(topic)
	}
	r.mu.Unlock()
	if h != nil {
		h(topic, payload)
	}
	return nil
}

// Subscribe registers a handler. Single-level trailing wildcards ("a/+",
// "a/#") are honoured for loopback delivery.
func (r *Recorder) Subscribe(topic string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[topic] = h
	return nil
}

func (r *Recorder) match(topic string) Handler {
	if h, ok := r.handlers[topic]; ok {
		return h
	}
	for pattern, h := range r.handlers {
		if strings.HasSuffix(pattern, "/#") && strings.HasPrefix(topic, strings.TrimSuffix(pattern, "/#")) {
			return h
		}
		if strings.HasSuffix(pattern, "/+") {
			prefix := strings.TrimSuffix(pattern, "+")
			if strings.HasPrefix(topic, prefix) && !strings.Contains(strings.TrimPrefix(topic, prefix), "/") {
				return h
			}
		}
	}
	return nil
}

// Deliver injects an inbound message to the matching subscriber, as if it
// arrived from the broker.
func (r *Recorder) Deliver(topic string, value any) {
	r.mu.Lock()
	h := r.match(topic)
	r.mu.Unlock()
	if h != nil {
		h(topic, value)
	}
}

// Records returns a snapshot of all captured publishes.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// TopicRecords returns captured publishes for one topic.
func (r *Recorder) TopicRecords(topic string) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, rec := range r.records {
		if rec.Topic == topic {
			out = append(out, rec)
		}
	}
	return out
}

// Reset drops all captured publishes.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
}
