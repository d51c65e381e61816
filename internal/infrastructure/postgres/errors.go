package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/campusevents/registration-service/internal/domain"
)

// Postgres error codes that a fresh transaction attempt can resolve.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

// wrapTransient marks retry-worthy store failures so callers can run their
// bounded retry. Everything else passes through untouched.
func wrapTransient(op string, err error) error {
	if err == nil {
		return nil
	}
	var pge *pgconn.PgError
	if errors.As(err, &pge) {
		if pge.Code == codeSerializationFailure || pge.Code == codeDeadlockDetected {
			return &domain.TransientStoreError{Op: op, Err: err}
		}
		return err
	}
	if pgconn.SafeToRetry(err) {
		return &domain.TransientStoreError{Op: op, Err: err}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pge *pgconn.PgError
	return errors.As(err, &pge) && pge.Code == codeUniqueViolation
}

// uniqueConstraint returns the violated constraint name, or "" when err is not
// a unique violation.
func uniqueConstraint(err error) string {
	var pge *pgconn.PgError
	if errors.As(err, &pge) && pge.Code == codeUniqueViolation {
		return pge.ConstraintName
	}
	return ""
}
