package store

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wisbric/safeguard/internal/errs"
)

// Postgres SQLSTATE codes the classifier distinguishes.
const (
	sqlStateUniqueViolation     = "23505"
	sqlStateForeignKeyViolation = "23503"
	sqlStateCheckViolation      = "23514"
	sqlStateSerializationFail   = "40001"
	sqlStateConnectionFailure   = "08006"
)

// ClassifyError maps a raw pgx/pgconn error into the taxonomy engines
// reason about: not-found, constraint-violation sub-kinds,
// serialization-failure, and connection-lost. Anything unrecognized
// becomes DEPENDENCY, since it originated from the database layer.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	if e, ok := errs.As(err); ok {
		return e
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return errs.Wrap(errs.NotFound, "NotFound", "resource not found", err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateUniqueViolation:
			return errs.Wrap(errs.Conflict, "UniqueViolation", "a matching record already exists", err)
		case sqlStateForeignKeyViolation:
			return errs.Wrap(errs.Validation, "ForeignKeyViolation", "referenced record does not exist", err)
		case sqlStateCheckViolation:
			return errs.Wrap(errs.Validation, "CheckViolation", "value violates a database constraint", err)
		case sqlStateSerializationFail:
			return errs.Wrap(errs.Dependency, "SerializationFailure", "transaction could not be serialized, retry", err)
		case sqlStateConnectionFailure:
			return errs.Wrap(errs.Dependency, "ConnectionLost", "database connection lost", err)
		}
	}

	return errs.Wrap(errs.Dependency, "StoreError", "storage operation failed", err)
}

// IsSerializationFailure reports whether err is a retryable serialization
// failure, the one class VisitEngine retries on.
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == sqlStateSerializationFail
	}
	return false
}
