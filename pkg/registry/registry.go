// Package registry is the validated source of truth for plan routing metadata.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"proxy-provisioner/pkg/models"
	"proxy-provisioner/pkg/proxy"
)

// Registry is the only writer of plan records. Every mutation is validated
// against the class catalog before it reaches the store, and all
// read-modify-write sequences run under a single lock.
type Registry struct {
	mu         sync.Mutex
	store      Store
	catalog    models.Catalog
	baseDomain string
	logger     *slog.Logger
	now        func() time.Time
}

// Options tunes a Registry. The zero value uses the default catalog.
type Options struct {
	Catalog models.Catalog
	// BaseDomain suffixes the class subdomain to form local_host.
	BaseDomain string
	Logger     *slog.Logger
	Now        func() time.Time
}

// Patch is an explicit partial update. Nil fields are left unchanged.
type Patch struct {
	Username  *string
	Password  *string
	LocalHost *string
	ExpiresAt *time.Time
}

// PortUsage summarizes how much of a class's local port range is taken.
type PortUsage struct {
	Class models.PlanClass `json:"plan_class"`
	Start int              `json:"range_start"`
	End   int              `json:"range_end"`
	Used  int              `json:"used"`
	Total int              `json:"total"`
}

func New(store Store, opts Options) (*Registry, error) {
	if store == nil {
		return nil, errors.New("registry store is required")
	}
	catalog := opts.Catalog
	if catalog == nil {
		catalog = models.DefaultCatalog()
	}
	if err := catalog.Check(); err != nil {
		return nil, fmt.Errorf("invalid class catalog: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		store:      store,
		catalog:    catalog,
		baseDomain: opts.BaseDomain,
		logger:     logger,
		now:        now,
	}, nil
}

func (r *Registry) Catalog() models.Catalog {
	return r.catalog
}

// Upsert validates rec and writes it. created_at of an existing record is kept.
func (r *Registry) Upsert(ctx context.Context, rec *models.PlanRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upsertLocked(ctx, rec)
}

func (r *Registry) upsertLocked(ctx context.Context, rec *models.PlanRecord) error {
	if err := r.validate(rec); err != nil {
		return err
	}
	if err := r.checkPort(ctx, rec); err != nil {
		return err
	}

	now := r.now().UTC().Truncate(time.Second)
	existing, err := r.store.Get(ctx, rec.PlanID)
	switch {
	case err == nil:
		rec.CreatedAt = existing.CreatedAt
	case errors.Is(err, ErrNotFound):
	default:
		return fmt.Errorf("failed to load record %s: %w", rec.PlanID, err)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	if err := r.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("failed to store record %s: %w", rec.PlanID, err)
	}
	r.logger.Debug("record stored", "plan_id", rec.PlanID, "class", rec.PlanClass, "local_port", rec.LocalPort)
	return nil
}

// validate enforces the per-record invariants: class-derived fields equal
// the catalog, local_port inside the class range, the right limit field.
func (r *Registry) validate(rec *models.PlanRecord) error {
	if rec == nil || rec.PlanID == "" {
		return fmt.Errorf("%w: plan_id is required", ErrInvalidRecord)
	}
	if rec.Username == "" || rec.LocalHost == "" {
		return fmt.Errorf("%w: plan %s: username and local_host are required", ErrInvalidRecord, rec.PlanID)
	}
	spec, err := r.catalog.Spec(rec.PlanClass)
	if err != nil {
		return fmt.Errorf("%w: plan %s: %v", ErrInvalidClassMapping, rec.PlanID, err)
	}
	if rec.AuthHost != spec.AuthHost || rec.AuthPort != spec.AuthPort {
		return fmt.Errorf("%w: plan %s: auth endpoint %s:%d, %s requires %s:%d", ErrInvalidClassMapping,
			rec.PlanID, rec.AuthHost, rec.AuthPort, rec.PlanClass, spec.AuthHost, spec.AuthPort)
	}
	if rec.PublicPort != spec.PublicPort {
		return fmt.Errorf("%w: plan %s: public_port %d, %s requires %d", ErrInvalidClassMapping,
			rec.PlanID, rec.PublicPort, rec.PlanClass, spec.PublicPort)
	}
	if rec.Subdomain != spec.Subdomain {
		return fmt.Errorf("%w: plan %s: subdomain %q, %s requires %q", ErrInvalidClassMapping,
			rec.PlanID, rec.Subdomain, rec.PlanClass, spec.Subdomain)
	}
	if !spec.Ports.Contains(rec.LocalPort) {
		return fmt.Errorf("%w: plan %s: local_port %d outside %s range %d-%d", ErrInvalidClassMapping,
			rec.PlanID, rec.LocalPort, rec.PlanClass, spec.Ports.Start, spec.Ports.End)
	}
	if err := r.catalog.CheckLimit(rec.PlanClass, rec.BandwidthLimitMB, rec.DurationHours); err != nil {
		return fmt.Errorf("plan %s: %w", rec.PlanID, err)
	}
	return nil
}

func (r *Registry) checkPort(ctx context.Context, rec *models.PlanRecord) error {
	peers, err := r.store.ListByClass(ctx, rec.PlanClass)
	if err != nil {
		return fmt.Errorf("failed to list %s records: %w", rec.PlanClass, err)
	}
	for _, peer := range peers {
		if peer.PlanID != rec.PlanID && peer.LocalPort == rec.LocalPort {
			return fmt.Errorf("%w: %s port %d held by plan %s", ErrPortConflict, rec.PlanClass, rec.LocalPort, peer.PlanID)
		}
	}
	return nil
}

func (r *Registry) Get(ctx context.Context, planID string) (*models.PlanRecord, error) {
	return r.store.Get(ctx, planID)
}

func (r *Registry) List(ctx context.Context) ([]models.PlanRecord, error) {
	return r.store.List(ctx)
}

func (r *Registry) ListByClass(ctx context.Context, class models.PlanClass) ([]models.PlanRecord, error) {
	if _, err := r.catalog.Spec(class); err != nil {
		return nil, err
	}
	return r.store.ListByClass(ctx, class)
}

// Delete removes planID. Deleting a missing record is not an error.
func (r *Registry) Delete(ctx context.Context, planID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.Delete(ctx, planID); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", planID, err)
	}
	r.logger.Debug("record deleted", "plan_id", planID)
	return nil
}

// ReassignPort moves planID to the lowest local port of its class range not
// held by any other record. The current port counts as free.
func (r *Registry) ReassignPort(ctx context.Context, planID string) (*models.PlanRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.store.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	port, err := r.lowestFree(ctx, rec.PlanClass, planID)
	if err != nil {
		return nil, err
	}
	old := rec.LocalPort
	rec.LocalPort = port
	if err := r.upsertLocked(ctx, rec); err != nil {
		return nil, err
	}
	r.logger.Info("local port reassigned", "plan_id", planID, "from", old, "to", port)
	return rec, nil
}

func (r *Registry) lowestFree(ctx context.Context, class models.PlanClass, exclude string) (int, error) {
	spec, err := r.catalog.Spec(class)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidClassMapping, err)
	}
	peers, err := r.store.ListByClass(ctx, class)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s records: %w", class, err)
	}
	held := make(map[int]struct{}, len(peers))
	for _, peer := range peers {
		if peer.PlanID != exclude {
			held[peer.LocalPort] = struct{}{}
		}
	}
	for port := spec.Ports.Start; port <= spec.Ports.End; port++ {
		if _, taken := held[port]; !taken {
			return port, nil
		}
	}
	return 0, fmt.Errorf("%w: %s %d-%d", ErrRangeExhausted, class, spec.Ports.Start, spec.Ports.End)
}

// Register turns a freshly created upstream plan into a record: class-derived
// fields from the catalog, local_host from the base domain and the lowest free
// local port. An upstream auth endpoint that disagrees with the class is
// rejected, never corrected.
func (r *Registry) Register(ctx context.Context, plan *proxy.Plan) (*models.PlanRecord, error) {
	if plan == nil || plan.ID == "" {
		return nil, fmt.Errorf("%w: plan id is required", ErrInvalidRecord)
	}
	spec, err := r.catalog.Spec(plan.Class)
	if err != nil {
		return nil, fmt.Errorf("%w: plan %s: %v", ErrInvalidClassMapping, plan.ID, err)
	}
	if (plan.AuthHost != "" && plan.AuthHost != spec.AuthHost) || (plan.AuthPort != 0 && plan.AuthPort != spec.AuthPort) {
		return nil, fmt.Errorf("%w: plan %s: upstream reported %s:%d, %s requires %s:%d", ErrInvalidClassMapping,
			plan.ID, plan.AuthHost, plan.AuthPort, plan.Class, spec.AuthHost, spec.AuthPort)
	}

	rec := &models.PlanRecord{
		PlanID:           plan.ID,
		Provider:         plan.Provider,
		Username:         plan.Username,
		Password:         plan.Password,
		PlanClass:        plan.Class,
		BandwidthLimitMB: plan.BandwidthMB,
		DurationHours:    plan.DurationHours,
		ExpiresAt:        plan.ExpiresAt,
	}
	rec.ApplyClass(spec, r.baseDomain)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.store.Get(ctx, plan.ID); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, plan.ID)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to load record %s: %w", plan.ID, err)
	}

	port, err := r.lowestFree(ctx, plan.Class, plan.ID)
	if err != nil {
		return nil, err
	}
	rec.LocalPort = port
	if err := r.upsertLocked(ctx, rec); err != nil {
		return nil, err
	}
	r.logger.Info("plan registered", "plan_id", rec.PlanID, "class", rec.PlanClass, "local_port", rec.LocalPort)
	return rec, nil
}

// Update applies patch to planID after validation. plan_id and the
// class-derived fields cannot be patched.
func (r *Registry) Update(ctx context.Context, planID string, patch Patch) (*models.PlanRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.store.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	if patch.Username != nil {
		rec.Username = *patch.Username
	}
	if patch.Password != nil {
		rec.Password = *patch.Password
	}
	if patch.LocalHost != nil {
		rec.LocalHost = *patch.LocalHost
	}
	if patch.ExpiresAt != nil {
		rec.ExpiresAt = patch.ExpiresAt.UTC()
	}
	if err := r.upsertLocked(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// PortUsage reports used and total local ports for every class.
func (r *Registry) PortUsage(ctx context.Context) ([]PortUsage, error) {
	usage := make([]PortUsage, 0, len(r.catalog))
	for _, class := range r.catalog.Classes() {
		spec := r.catalog[class]
		recs, err := r.store.ListByClass(ctx, class)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s records: %w", class, err)
		}
		usage = append(usage, PortUsage{
			Class: class,
			Start: spec.Ports.Start,
			End:   spec.Ports.End,
			Used:  len(recs),
			Total: spec.Ports.Size(),
		})
	}
	return usage, nil
}

// Expire deletes every record whose expiry lies before now and returns them.
func (r *Registry) Expire(ctx context.Context, now time.Time) ([]models.PlanRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	recs, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	var expired []models.PlanRecord
	for _, rec := range recs {
		if !rec.Expired(now) {
			continue
		}
		if err := r.store.Delete(ctx, rec.PlanID); err != nil {
			return expired, fmt.Errorf("failed to delete expired record %s: %w", rec.PlanID, err)
		}
		expired = append(expired, rec)
	}
	if len(expired) > 0 {
		r.logger.Info("expired records removed", "count", len(expired))
	}
	return expired, nil
}
