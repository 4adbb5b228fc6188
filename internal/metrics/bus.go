// Copyright (c) 2026 Roomware Labs
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BusPublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stagehand_bus_publish_total",
		Help: "Total number of bus publishes by outcome",
	}, []string{"outcome"})

	BusMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stagehand_bus_messages_total",
		Help: "Total number of inbound bus messages by decode outcome",
	}, []string{"decode"})

	BusReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stagehand_bus_reconnects_total",
		Help: "Total number of broker reconnects with resubscription",
	})
)

// IncPublish records a bus publish outcome ("ok" or "error").
func IncPublish(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	BusPublishTotal.WithLabelValues(outcome).Inc()
}

// IncInbound records an inbound message decode outcome ("json" or "raw").
func IncInbound(decode string) {
	if decode == "" {
		decode = "unknown"
	}
	BusMessagesTotal.WithLabelValues(decode).Inc()
}
