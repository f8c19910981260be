package provisioning

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"proxy-provisioner/pkg/models"
	"proxy-provisioner/pkg/proxy"
	"proxy-provisioner/pkg/registry"
)

// compensateTimeout bounds the cleanup delete issued after a failed registration.
const compensateTimeout = 30 * time.Second

type Service struct {
	provider proxy.Provider
	registry *registry.Registry
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(provider proxy.Provider, reg *registry.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		provider: provider,
		registry: reg,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Service) Provider() proxy.Provider {
	return s.provider
}

func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// PlanStatus pairs the registry record with the live upstream view.
type PlanStatus struct {
	Record   *models.PlanRecord `json:"record"`
	Upstream *proxy.Plan        `json:"upstream,omitempty"`
	// MissingUpstream is set when the upstream no longer knows the plan.
	MissingUpstream bool `json:"missing_upstream,omitempty"`
}

// SyncReport lists what Sync did with each upstream plan.
type SyncReport struct {
	Adopted []string          `json:"adopted"`
	Known   int               `json:"known"`
	Skipped []string          `json:"skipped"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// Create provisions a plan upstream and registers it. CreatePlan is called
// exactly once; when registration fails the upstream plan is deleted again.
func (s *Service) Create(ctx context.Context, class models.PlanClass, creds proxy.Credentials, limit proxy.Limit) (*models.PlanRecord, error) {
	plan, err := s.provider.CreatePlan(ctx, class, creds, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s plan: %w", class, err)
	}

	if plan.Class == "" {
		plan.Class = class
	}
	if plan.Provider == "" {
		plan.Provider = s.provider.Name()
	}
	if plan.Username == "" {
		plan.Username = creds.Username
	}
	if plan.Password == "" {
		plan.Password = creds.Password
	}
	if plan.ExpiresAt.IsZero() && plan.DurationHours > 0 {
		plan.ExpiresAt = s.now().Add(time.Duration(plan.DurationHours) * time.Hour).UTC()
	}

	rec, err := s.registry.Register(ctx, plan)
	if err != nil {
		s.logger.Error("registration failed, deleting upstream plan", "plan_id", plan.ID, "error", err)
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
		defer cancel()
		if delErr := s.provider.DeletePlan(cctx, plan.ID); delErr != nil {
			s.logger.Error("upstream plan left orphaned", "plan_id", plan.ID, "error", delErr)
			return nil, errors.Join(
				fmt.Errorf("failed to register plan %s: %w", plan.ID, err),
				fmt.Errorf("failed to delete orphaned plan %s: %w", plan.ID, delErr),
			)
		}
		return nil, fmt.Errorf("failed to register plan %s: %w", plan.ID, err)
	}

	s.logger.Info("plan provisioned",
		"plan_id", rec.PlanID,
		"class", rec.PlanClass,
		"local", fmt.Sprintf("%s:%d", rec.LocalHost, rec.LocalPort))
	return rec, nil
}

// Get returns the registry record together with the upstream plan.
func (s *Service) Get(ctx context.Context, planID string) (*PlanStatus, error) {
	rec, err := s.registry.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	status := &PlanStatus{Record: rec}

	plan, err := s.provider.GetPlan(ctx, planID)
	switch {
	case err == nil:
		status.Upstream = plan
	case errors.Is(err, proxy.ErrNotFound):
		status.MissingUpstream = true
	default:
		return nil, fmt.Errorf("failed to get upstream plan %s: %w", planID, err)
	}
	return status, nil
}

// RotatePassword sets a new password upstream, then in the registry. An
// empty newPassword is replaced by a generated one.
func (s *Service) RotatePassword(ctx context.Context, planID, newPassword string) (*models.PlanRecord, error) {
	if _, err := s.registry.Get(ctx, planID); err != nil {
		return nil, err
	}
	if newPassword == "" {
		generated, err := GeneratePassword()
		if err != nil {
			return nil, err
		}
		newPassword = generated
	}

	if _, err := s.provider.UpdatePlan(ctx, planID, proxy.UpdateFields{Password: &newPassword}); err != nil {
		return nil, fmt.Errorf("failed to update upstream plan %s: %w", planID, err)
	}
	rec, err := s.registry.Update(ctx, planID, registry.Patch{Password: &newPassword})
	if err != nil {
		return nil, fmt.Errorf("upstream password changed but registry update failed for %s: %w", planID, err)
	}

	s.logger.Info("password rotated", "plan_id", planID)
	return rec, nil
}

// SetEnabled toggles the plan upstream. The registry keeps no enabled flag.
func (s *Service) SetEnabled(ctx context.Context, planID string, enabled bool) (*proxy.Plan, error) {
	plan, err := s.provider.UpdatePlan(ctx, planID, proxy.UpdateFields{Enabled: &enabled})
	if err != nil {
		return nil, fmt.Errorf("failed to update upstream plan %s: %w", planID, err)
	}
	return plan, nil
}

// Delete removes the plan upstream and from the registry. Both steps
// tolerate an already deleted plan.
func (s *Service) Delete(ctx context.Context, planID string) error {
	if err := s.provider.DeletePlan(ctx, planID); err != nil {
		return fmt.Errorf("failed to delete upstream plan %s: %w", planID, err)
	}
	if err := s.registry.Delete(ctx, planID); err != nil {
		return err
	}
	s.logger.Info("plan deleted", "plan_id", planID)
	return nil
}

// Sync adopts active, enabled upstream plans the registry does not know yet.
func (s *Service) Sync(ctx context.Context) (*SyncReport, error) {
	report := &SyncReport{Adopted: []string{}, Skipped: []string{}}

	for summary, err := range s.provider.ListPlans(ctx) {
		if err != nil {
			return report, fmt.Errorf("failed to list upstream plans: %w", err)
		}
		if !summary.Active || !summary.Enabled {
			report.Skipped = append(report.Skipped, summary.ID)
			continue
		}

		_, err := s.registry.Get(ctx, summary.ID)
		if err == nil {
			report.Known++
			continue
		}
		if !errors.Is(err, registry.ErrNotFound) {
			return report, err
		}

		if err := s.adopt(ctx, summary); err != nil {
			s.logger.Warn("could not adopt upstream plan", "plan_id", summary.ID, "error", err)
			if report.Failed == nil {
				report.Failed = make(map[string]string)
			}
			report.Failed[summary.ID] = err.Error()
			continue
		}
		report.Adopted = append(report.Adopted, summary.ID)
	}

	s.logger.Info("sync finished",
		"adopted", len(report.Adopted),
		"known", report.Known,
		"skipped", len(report.Skipped),
		"failed", len(report.Failed))
	return report, nil
}

func (s *Service) adopt(ctx context.Context, summary proxy.PlanSummary) error {
	plan, err := s.provider.GetPlan(ctx, summary.ID)
	if err != nil {
		return err
	}
	if plan.Class == "" {
		plan.Class = summary.Class
	}
	if plan.Provider == "" {
		plan.Provider = s.provider.Name()
	}
	_, err = s.registry.Register(ctx, plan)
	return err
}

// ExpireStale drops registry records whose expiry has passed.
func (s *Service) ExpireStale(ctx context.Context) ([]models.PlanRecord, error) {
	return s.registry.Expire(ctx, s.now())
}

// Endpoint is the proxy URL handed to the end user.
func Endpoint(rec *models.PlanRecord) string {
	return rec.Endpoint()
}

// GeneratePassword returns a random 16 character URL-safe password.
func GeneratePassword() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
