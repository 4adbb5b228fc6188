// Copyright (c) 2026 Roomware Labs
// Licensed under the PolyForm Noncommercial License 1.0.0

package sequence

import (
	"errors"
	"fmt"
)

// Failure codes carried by Error. They double as event names on the events
// topic.
const (
	CodeMissing       = "sequence_missing"
	CodeCycle         = "sequence_cycle"
	CodeDepthExceeded = "sequence_depth_exceeded"
	CodeStepFailed    = "sequence_step_failed"
)

// Error is a structured sequence failure.
type Error struct {
	Code     string
	Sequence string
	Detail   string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Sequence)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Sequence, e.Detail)
}

// CodeOf extracts the failure code from an error chain, or "" for
// non-sequence errors.
func CodeOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
