package models

import "time"

// OperationType classifies a reconciliation outcome.
type OperationType string

const (
	OperationLinkedExisting    OperationType = "linked_existing"
	OperationCreatedNew        OperationType = "created_new"
	OperationDuplicateDetected OperationType = "duplicate_detected"
)

// ReconciliationOperation is an append-only audit entry.
type ReconciliationOperation struct {
	ID            string        `json:"id"`
	OperationType OperationType `json:"operation_type"`
	UserID        string        `json:"user_id"`
	SessionID     string        `json:"session_id"`
	Outcome       string        `json:"outcome"`
	Detail        *string       `json:"detail,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}
