// Copyright 2025 The nearcar-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"encoding/json"
	"fmt"
	"time"
)

// OpKind tags a queued mutation with its replay semantics. Every kind maps to
// exactly one remote endpoint and declares whether a replay is safe after a
// false failure.
type OpKind string

const (
	// OpChecklistSave submits the full checklist for an inspection. The
	// payload is a complete overwrite, not a delta, so a duplicate replay
	// after a false failure is safe.
	OpChecklistSave OpKind = "checklist_save"

	// OpStatusUpdate moves an inspection to a new status. Idempotent for the
	// same target status; a replay is a no-op if the server already agrees.
	OpStatusUpdate OpKind = "status_update"

	// OpAssignmentAccept claims an open assignment. NOT safely idempotent:
	// another inspector may have claimed it in the meantime, and a conflict
	// response is terminal.
	OpAssignmentAccept OpKind = "assignment_accept"

	// OpAssignmentReject declines an assignment, optionally with a reason.
	// Same conflict semantics as accept.
	OpAssignmentReject OpKind = "assignment_reject"
)

// Valid reports whether k is one of the known operation kinds.
func (k OpKind) Valid() bool {
	switch k {
	case OpChecklistSave, OpStatusUpdate, OpAssignmentAccept, OpAssignmentReject:
		return true
	default:
		return false
	}
}

// RetrySafe reports the idempotency class of the kind: true means the
// operation may be replayed any number of times, false means a conflict
// response must abandon the operation instead of retrying it.
func (k OpKind) RetrySafe() bool {
	switch k {
	case OpChecklistSave, OpStatusUpdate:
		return true
	default:
		return false
	}
}

// QueuedOperation is a pending mutation not yet confirmed by the server. It
// lives in the store's pending queue from the moment the mutation is issued
// until the coordinator observes a success (removed) or a terminal rejection
// (moved to the abandoned list).
type QueuedOperation struct {
	ID           string // locally generated UUIDv4
	Kind         OpKind
	TargetID     string          // remote resource id (inspection id)
	Payload      json.RawMessage // request body, shape depends on Kind
	CreatedAt    time.Time
	AttemptCount int
	LastError    string // empty until the first failed sync attempt
}

// AbandonedOperation is a queued operation that received a terminal rejection
// and was removed from the pending queue. It is kept so the UI can surface
// the failure on next read instead of dropping it silently.
type AbandonedOperation struct {
	QueuedOperation
	Reason      string
	AbandonedAt time.Time
}

// statusUpdateBody is the payload shape for OpStatusUpdate.
type statusUpdateBody struct {
	Status string `json:"status"`
}

// rejectBody is the payload shape for OpAssignmentReject.
type rejectBody struct {
	Reason string `json:"reason,omitempty"`
}

// NewChecklistSave builds a queued full-checklist submission for the given
// inspection. The checklist payload must already be valid JSON.
func NewChecklistSave(inspectionID string, checklist json.RawMessage) *QueuedOperation {
	return &QueuedOperation{
		Kind:     OpChecklistSave,
		TargetID: inspectionID,
		Payload:  checklist,
	}
}

// NewStatusUpdate builds a queued status change for the given inspection.
func NewStatusUpdate(inspectionID, newStatus string) *QueuedOperation {
	payload, _ := json.Marshal(statusUpdateBody{Status: newStatus})
	return &QueuedOperation{
		Kind:     OpStatusUpdate,
		TargetID: inspectionID,
		Payload:  payload,
	}
}

// NewAssignmentAccept builds a queued claim of an open assignment.
func NewAssignmentAccept(inspectionID string) *QueuedOperation {
	return &QueuedOperation{
		Kind:     OpAssignmentAccept,
		TargetID: inspectionID,
	}
}

// NewAssignmentReject builds a queued rejection of an assignment. reason may
// be empty.
func NewAssignmentReject(inspectionID, reason string) *QueuedOperation {
	payload, _ := json.Marshal(rejectBody{Reason: reason})
	return &QueuedOperation{
		Kind:     OpAssignmentReject,
		TargetID: inspectionID,
		Payload:  payload,
	}
}

func (op *QueuedOperation) validate() error {
	if !op.Kind.Valid() {
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
	if op.TargetID == "" {
		return fmt.Errorf("operation kind %s requires a target id", op.Kind)
	}
	return nil
}
