package store

import (
	"context"

	"github.com/PortNumber53/saas-starter/internal/models"
	"github.com/google/uuid"
)

// RecordOperation appends an entry to the reconciliation audit trail.
func (s *Store) RecordOperation(ctx context.Context, op *models.ReconciliationOperation) error {
	if op == nil || op.OperationType == "" {
		return validationErr("operation type is required")
	}
	if op.ID == "" {
		op.ID = uuid.NewString()
	}

	const query = `
INSERT INTO reconciliation_operations (id, operation_type, user_id, session_id, outcome, detail)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING created_at
`

	err := s.db.QueryRowContext(ctx, query,
		op.ID,
		string(op.OperationType),
		op.UserID,
		op.SessionID,
		op.Outcome,
		op.Detail,
	).Scan(&op.CreatedAt)
	if err != nil {
		return storageErr(err, "record reconciliation operation")
	}
	return nil
}
