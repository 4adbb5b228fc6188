// Copyright (c) 2026 Roomware Labs
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldCorrelationID = "correlation_id"
	FieldCommandID     = "command_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Game fields
	FieldMode     = "mode"
	FieldPhase    = "phase"
	FieldSequence = "sequence"
	FieldCue      = "cue"
	FieldHint     = "hint"
	FieldZone     = "zone"
	FieldVerb     = "verb"

	// State fields
	FieldOldPhase  = "old_phase"
	FieldNewPhase  = "new_phase"
	FieldRemaining = "remaining"

	// Transport fields
	FieldTopic  = "topic"
	FieldBroker = "broker"
)
