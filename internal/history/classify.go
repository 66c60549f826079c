package history

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// foreignKeyViolation is the Postgres SQLSTATE for a rejected reference.
const foreignKeyViolation = "23503"

// Degradation classifies a failed history write.
type Degradation int

const (
	// DegradationNone means the write succeeded.
	DegradationNone Degradation = iota

	// DegradationOwnerMissing is the expected race where the identity row
	// has not been created yet.
	DegradationOwnerMissing

	// DegradationUnexpected is any other store failure.
	DegradationUnexpected
)

func (d Degradation) String() string {
	switch d {
	case DegradationNone:
		return "none"
	case DegradationOwnerMissing:
		return "owner_missing"
	default:
		return "unexpected"
	}
}

// Classify maps a store error onto a Degradation.
func Classify(err error) Degradation {
	if err == nil {
		return DegradationNone
	}
	if errors.Is(err, ErrOwnerNotMaterialized) {
		return DegradationOwnerMissing
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return DegradationOwnerMissing
	}
	return DegradationUnexpected
}
