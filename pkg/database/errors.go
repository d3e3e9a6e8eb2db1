package database

import (
	"strings"

	"github.com/lib/pq"
	"github.com/vintrack/vintrack-backend/pkg/errors"
)

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error.
func MapPQError(err error) *errors.AppError {
	pqErr, ok := err.(*pq.Error)
	if !ok {
		return nil
	}

	switch pqErr.Code {
	// Check constraint violation (23514)
	case "23514":
		return mapCheckConstraint(pqErr)

	// Unique constraint violation (23505)
	case "23505":
		return errors.Conflict(formatConstraintMessage(pqErr))

	// Foreign key violation (23503)
	case "23503":
		return errors.BadRequest("referenced record does not exist")

	// Not null violation (23502)
	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	default:
		return nil
	}
}

// mapCheckConstraint maps CHECK constraint names on the stock tables to
// user-facing messages.
func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "qty_remaining_valid"):
		return errors.Validation(map[string]string{
			"qty_remaining": "must be between zero and the batch total",
		})

	case strings.Contains(constraint, "units_per_package_positive"):
		return errors.Validation(map[string]string{
			"units_per_package": "must be at least 1",
		})

	default:
		return errors.Validation(map[string]string{
			"constraint": constraint,
		})
	}
}

func formatConstraintMessage(pqErr *pq.Error) string {
	switch {
	case strings.Contains(pqErr.Constraint, "batch_code"):
		return "a batch with this code already exists"
	case strings.Contains(pqErr.Constraint, "products_name"):
		return "a product with this name already exists"
	default:
		return "a record with these values already exists"
	}
}
