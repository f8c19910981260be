package registry

import (
	"context"

	"proxy-provisioner/pkg/models"
)

// Store persists plan records keyed by plan id. Put and Delete must be atomic
// per record; the Registry serializes read-modify-write sequences on top.
type Store interface {
	// Get returns ErrNotFound when no record has planID.
	Get(ctx context.Context, planID string) (*models.PlanRecord, error)
	List(ctx context.Context) ([]models.PlanRecord, error)
	ListByClass(ctx context.Context, class models.PlanClass) ([]models.PlanRecord, error)
	// Put inserts or replaces the record with rec.PlanID.
	Put(ctx context.Context, rec *models.PlanRecord) error
	// Delete succeeds when the record is already absent.
	Delete(ctx context.Context, planID string) error
}
