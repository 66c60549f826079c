// Package history stores the outcome of every conversion per identity.
package history

import (
	"context"
	"errors"

	"github.com/telhawk-systems/tabula/internal/models"
)

// DefaultListLimit caps history listings.
const DefaultListLimit = 50

var (
	// ErrRecordNotFound means no record with that ID belongs to the owner.
	ErrRecordNotFound = errors.New("history record not found")

	// ErrOwnerNotMaterialized means the owner has no row in the identity
	// table yet. Stores that enforce ownership report this on insert.
	ErrOwnerNotMaterialized = errors.New("owner identity not materialized")

	// ErrInvalidRecord means a record violates the success/error payload rule.
	ErrInvalidRecord = errors.New("invalid history record")
)

// Repository persists conversion records. Every read and delete is scoped
// to ownerID by the store itself.
type Repository interface {
	Insert(ctx context.Context, rec *models.ConversionRecord) error

	// ListByOwner returns at most limit records, newest first, without payload.
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]models.ConversionRecord, error)

	// GetByOwner returns one record including its payload.
	GetByOwner(ctx context.Context, ownerID, id string) (*models.ConversionRecord, error)

	// DeleteByOwner removes every record of ownerID and returns the count.
	DeleteByOwner(ctx context.Context, ownerID string) (int64, error)

	// EnsureIdentity creates or refreshes the identity row.
	EnsureIdentity(ctx context.Context, id models.Identity) error

	// Probe touches the store with the cheapest possible read.
	Probe(ctx context.Context) error

	Close()
}

// Validate enforces that a success carries a payload and no error message,
// and an error carries a message and no payload.
func Validate(rec *models.ConversionRecord) error {
	switch rec.Status {
	case models.StatusSuccess:
		if len(rec.Payload) == 0 || rec.ErrorMessage != "" {
			return errors.Join(ErrInvalidRecord, errors.New("success requires a payload and no error message"))
		}
	case models.StatusError:
		if rec.ErrorMessage == "" || len(rec.Payload) != 0 {
			return errors.Join(ErrInvalidRecord, errors.New("error requires a message and no payload"))
		}
	default:
		return errors.Join(ErrInvalidRecord, errors.New("unknown status "+string(rec.Status)))
	}
	if rec.OwnerID == "" {
		return errors.Join(ErrInvalidRecord, errors.New("owner is required"))
	}
	return nil
}
