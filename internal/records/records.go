// Package records persists generation records and serializes their state
// transitions.
package records

import (
	"context"

	"github.com/vitchili/dynadoc-flow/internal/models"
)

// UpdateFunc receives the current committed record and returns the record to
// write. Returning a nil record, or an error, leaves the stored record as it was.
type UpdateFunc func(ctx context.Context, current *models.File) (*models.File, error)

// Store is the generation record store.
type Store interface {
	Create(ctx context.Context, file *models.File) error
	// Get returns models.ErrNotFound for an unknown id.
	Get(ctx context.Context, id string) (*models.File, error)
	// FindPending lists the PENDING records of a template, oldest first.
	FindPending(ctx context.Context, templateID string) ([]*models.File, error)
	Delete(ctx context.Context, id string) error
	// Transact runs fn with exclusive access to the record, so concurrent
	// transactions on the same id never observe each other's uncommitted
	// state and never both act on a PENDING record.
	Transact(ctx context.Context, id string, fn UpdateFunc) error
}
