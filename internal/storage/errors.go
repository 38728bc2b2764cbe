package storage

import (
	"errors"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrDuplicateTimestamp is returned when a snapshot with the same metric key and captured_at already exists
	ErrDuplicateTimestamp = errors.New("duplicate snapshot timestamp")

	// ErrOutOfOrder is returned when a snapshot is older than the newest stored snapshot for its key
	ErrOutOfOrder = errors.New("snapshot out of order")

	// ErrInvalidSnapshot is returned when a snapshot is missing its key or timestamp, or has a non-finite value
	ErrInvalidSnapshot = errors.New("invalid snapshot")

	// ErrDuplicateAlert is returned when an alert id is already stored
	ErrDuplicateAlert = errors.New("duplicate alert")

	// ErrUnsupportedDriver is returned for database drivers other than sqlite3 and postgres
	ErrUnsupportedDriver = errors.New("unsupported storage driver")
)

// isUniqueViolation reports whether err is a unique constraint failure from either driver
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint &&
			(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	return false
}
