package proxy

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"sync"
	"time"

	"proxy-provisioner/pkg/models"

	"github.com/google/uuid"
)

// NoneProvider is an offline upstream that keeps plans in memory. It backs dry
// runs and lets the control flow be exercised without a reseller account.
type NoneProvider struct {
	catalog models.Catalog
	logger  *slog.Logger

	mu    sync.Mutex
	plans map[string]Plan
	seq   []string
}

func newNoneProvider(logger *slog.Logger, catalog models.Catalog) *NoneProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoneProvider{
		catalog: catalog,
		logger:  logger,
		plans:   make(map[string]Plan),
	}
}

func (p *NoneProvider) Name() string {
	return string(SystemNone)
}

// CreatePlan stores a new plan under a random id. The auth endpoint reported is
// the class's canonical one.
func (p *NoneProvider) CreatePlan(ctx context.Context, class models.PlanClass, creds Credentials, limit Limit) (*Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.catalog.CheckLimit(class, limit.BandwidthMB, limit.DurationHours); err != nil {
		return nil, err
	}
	spec, err := p.catalog.Spec(class)
	if err != nil {
		return nil, err
	}

	username := creds.Username
	if username == "" {
		username = fmt.Sprintf("user_%d", time.Now().Unix())
	}

	plan := Plan{
		ID:            uuid.NewString(),
		Provider:      p.Name(),
		Class:         class,
		Username:      username,
		Password:      creds.Password,
		AuthHost:      spec.AuthHost,
		AuthPort:      spec.AuthPort,
		BandwidthMB:   limit.BandwidthMB,
		DurationHours: limit.DurationHours,
		Active:        true,
		Enabled:       true,
	}
	if limit.DurationHours > 0 {
		plan.ExpiresAt = time.Now().Add(time.Duration(limit.DurationHours) * time.Hour).UTC()
	}

	p.mu.Lock()
	p.plans[plan.ID] = plan
	p.seq = append(p.seq, plan.ID)
	p.mu.Unlock()

	p.logger.Debug("offline plan created", "plan_id", plan.ID, "class", class)
	out := plan
	return &out, nil
}

func (p *NoneProvider) GetPlan(ctx context.Context, planID string) (*Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	plan, ok := p.plans[planID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, planID)
	}
	return &plan, nil
}

func (p *NoneProvider) UpdatePlan(ctx context.Context, planID string, fields UpdateFields) (*Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fields.empty() {
		return nil, fmt.Errorf("no fields to update")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	plan, ok := p.plans[planID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, planID)
	}
	if fields.Password != nil {
		plan.Password = *fields.Password
	}
	if fields.Enabled != nil {
		plan.Enabled = *fields.Enabled
	}
	p.plans[planID] = plan
	return &plan, nil
}

func (p *NoneProvider) DeletePlan(ctx context.Context, planID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.plans, planID)
	return nil
}

func (p *NoneProvider) ListPlans(ctx context.Context) iter.Seq2[PlanSummary, error] {
	return func(yield func(PlanSummary, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(PlanSummary{}, err)
			return
		}

		p.mu.Lock()
		plans := make([]Plan, 0, len(p.plans))
		for _, id := range p.seq {
			if plan, ok := p.plans[id]; ok {
				plans = append(plans, plan)
			}
		}
		p.mu.Unlock()
		sort.SliceStable(plans, func(i, j int) bool { return plans[i].Class < plans[j].Class })

		for _, plan := range plans {
			summary := PlanSummary{
				ID:        plan.ID,
				Class:     plan.Class,
				Username:  plan.Username,
				Active:    plan.Active,
				Enabled:   plan.Enabled,
				ExpiresAt: plan.ExpiresAt,
			}
			if !yield(summary, nil) {
				return
			}
		}
	}
}
