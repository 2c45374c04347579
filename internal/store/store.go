package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	ierr "github.com/PortNumber53/saas-starter/internal/errors"
	"github.com/lib/pq"
)

const pqUniqueViolation = "23505"

// ErrStorage marks failures of the database itself. They are propagated to
// the caller and never retried here.
var ErrStorage = ierr.Sentinel("storage_error", "storage unavailable")

// Store provides database-backed accessors for profiles, guest sessions,
// subscription snapshots and the reconciliation audit trail.
type Store struct {
	db *sql.DB
}

// New creates a Store using the provided sql.DB connection.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &Store{db: db}, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storageErr(err, "ping database")
	}
	return nil
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(err, "begin transaction")
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageErr(err, "commit transaction")
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation
}

func storageErr(err error, op string) error {
	return ierr.WithError(err).
		WithMessage(op).
		WithHint("Storage is temporarily unavailable").
		WithMark(ErrStorage).
		Mark(ierr.ErrDependency)
}

func validationErr(format string, args ...any) error {
	return ierr.NewErrorf(format, args...).
		WithHint(fmt.Sprintf(format, args...)).
		Mark(ierr.ErrValidation)
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func nullInt64Ptr(value sql.NullInt64) *int64 {
	if !value.Valid {
		return nil
	}
	return &value.Int64
}
