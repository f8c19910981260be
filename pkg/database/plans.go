package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"proxy-provisioner/pkg/models"
	"proxy-provisioner/pkg/registry"

	"github.com/uptrace/bun/driver/pgdriver"
)

// PlanStore is the SQL implementation of registry.Store.
type PlanStore struct {
	db *DB
}

var _ registry.Store = (*PlanStore)(nil)

func (db *DB) Plans() *PlanStore {
	return &PlanStore{db: db}
}

func (s *PlanStore) Get(ctx context.Context, planID string) (*models.PlanRecord, error) {
	var rec models.PlanRecord
	err := s.db.NewSelect().
		Model(&rec).
		Where("plan_id = ?", planID).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", registry.ErrNotFound, planID)
		}
		return nil, fmt.Errorf("error querying plan record: %v", err)
	}

	return &rec, nil
}

func (s *PlanStore) List(ctx context.Context) ([]models.PlanRecord, error) {
	var recs []models.PlanRecord
	err := s.db.NewSelect().
		Model(&recs).
		Order("plan_id").
		Scan(ctx)

	if err != nil {
		return nil, fmt.Errorf("error getting plan records: %v", err)
	}

	return recs, nil
}

func (s *PlanStore) ListByClass(ctx context.Context, class models.PlanClass) ([]models.PlanRecord, error) {
	var recs []models.PlanRecord
	err := s.db.NewSelect().
		Model(&recs).
		Where("plan_class = ?", class).
		Order("local_port").
		Scan(ctx)

	if err != nil {
		return nil, fmt.Errorf("error getting %s plan records: %v", class, err)
	}

	return recs, nil
}

// Put upserts rec by plan_id. created_at is written only on insert.
func (s *PlanStore) Put(ctx context.Context, rec *models.PlanRecord) error {
	_, err := s.db.NewInsert().
		Model(rec).
		On("CONFLICT (plan_id) DO UPDATE").
		Set("provider = EXCLUDED.provider").
		Set("username = EXCLUDED.username").
		Set("password = EXCLUDED.password").
		Set("plan_class = EXCLUDED.plan_class").
		Set("subdomain = EXCLUDED.subdomain").
		Set("bandwidth_limit_mb = EXCLUDED.bandwidth_limit_mb").
		Set("duration_hours = EXCLUDED.duration_hours").
		Set("auth_host = EXCLUDED.auth_host").
		Set("auth_port = EXCLUDED.auth_port").
		Set("local_host = EXCLUDED.local_host").
		Set("local_port = EXCLUDED.local_port").
		Set("public_port = EXCLUDED.public_port").
		Set("expires_at = EXCLUDED.expires_at").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s port %d", registry.ErrPortConflict, rec.PlanClass, rec.LocalPort)
		}
		return fmt.Errorf("error upserting plan record: %v", err)
	}

	return nil
}

func (s *PlanStore) Delete(ctx context.Context, planID string) error {
	_, err := s.db.NewDelete().
		Model((*models.PlanRecord)(nil)).
		Where("plan_id = ?", planID).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("error removing plan record: %v", err)
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.IntegrityViolation()
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
