package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"proxy-provisioner/pkg/models"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// NettifyProvider talks to the nettify reseller API: JSON bodies, bearer auth,
// bandwidth in megabytes.
type NettifyProvider struct {
	api     *apiClient
	catalog models.Catalog
	classes map[models.PlanClass]bool
	logger  *slog.Logger
}

func newNettifyProvider(config Config, logger *slog.Logger, catalog models.Catalog) (*NettifyProvider, error) {
	if config.System != SystemNettify {
		return nil, fmt.Errorf("invalid system type for nettify provider: %s", config.System)
	}
	api, err := newAPIClient(config, logger, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+config.APIKey)
	})
	if err != nil {
		return nil, err
	}
	return &NettifyProvider{
		api:     api,
		catalog: catalog,
		classes: servedClasses(catalog, SystemNettify, config.AuthHosts),
		logger:  api.logger,
	}, nil
}

func (p *NettifyProvider) Name() string {
	return string(SystemNettify)
}

func (p *NettifyProvider) CreatePlan(ctx context.Context, class models.PlanClass, creds Credentials, limit Limit) (*Plan, error) {
	if err := p.catalog.CheckLimit(class, limit.BandwidthMB, limit.DurationHours); err != nil {
		return nil, err
	}
	if !p.classes[class] {
		return nil, fmt.Errorf("%w: %s plans do not authenticate against nettify", ErrUnsupportedClass, class)
	}
	if creds.Password == "" {
		return nil, fmt.Errorf("password is required")
	}

	username := creds.Username
	if username == "" {
		username = fmt.Sprintf("user_%d", time.Now().Unix())
	}

	payload := map[string]any{
		"username":  username,
		"password":  creds.Password,
		"plan_type": string(class),
	}
	if limit.DurationHours > 0 {
		payload["duration_hours"] = limit.DurationHours
	} else {
		payload["bandwidth_mb"] = limit.BandwidthMB
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode plan request: %w", err)
	}

	resp, err := p.api.do(ctx, http.MethodPost, "/plans/create", bytes.NewReader(body), "application/json")
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, p.api.rejected(resp)
	}

	planID := gjson.GetBytes(resp.Body, "plan_id").String()
	if planID == "" {
		return nil, fmt.Errorf("nettify: plan_id missing in create response")
	}

	// The create response may omit fields; fill them from the request rather than
	// issuing a follow-up call whose failure would hide that the plan exists.
	plan := p.decodePlan(resp.Body)
	plan.ID = planID
	if plan.Class == "" {
		plan.Class = class
	}
	if plan.Username == "" {
		plan.Username = username
	}
	if plan.Password == "" {
		plan.Password = creds.Password
	}
	if plan.BandwidthMB == 0 && plan.DurationHours == 0 {
		plan.BandwidthMB = limit.BandwidthMB
		plan.DurationHours = limit.DurationHours
	}

	p.logger.Info("plan created", "provider", p.Name(), "plan_id", plan.ID, "class", plan.Class)
	return plan, nil
}

func (p *NettifyProvider) GetPlan(ctx context.Context, planID string) (*Plan, error) {
	resp, err := p.api.do(ctx, http.MethodGet, "/plans/"+url.PathEscape(planID), nil, "")
	if err != nil {
		return nil, err
	}
	if resp.Status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, planID)
	}
	if !resp.ok() {
		return nil, p.api.rejected(resp)
	}

	plan := p.decodePlan(resp.Body)
	if plan.ID == "" {
		plan.ID = planID
	}
	return plan, nil
}

func (p *NettifyProvider) UpdatePlan(ctx context.Context, planID string, fields UpdateFields) (*Plan, error) {
	if fields.empty() {
		return nil, fmt.Errorf("no fields to update")
	}
	payload := map[string]any{}
	if fields.Password != nil {
		payload["password"] = *fields.Password
	}
	if fields.Enabled != nil {
		payload["enabled"] = *fields.Enabled
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode plan update: %w", err)
	}

	resp, err := p.api.do(ctx, http.MethodPut, "/plans/"+url.PathEscape(planID), bytes.NewReader(body), "application/json")
	if err != nil {
		return nil, err
	}
	if resp.Status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, planID)
	}
	if !resp.ok() {
		return nil, p.api.rejected(resp)
	}

	// The change is applied at this point; a follow-up read that failed would
	// misreport it, so the result comes from the response and the request.
	plan := p.decodePlan(resp.Body)
	plan.ID = planID
	fields.apply(plan)
	return plan, nil
}

func (p *NettifyProvider) DeletePlan(ctx context.Context, planID string) error {
	resp, err := p.api.do(ctx, http.MethodDelete, "/plans/"+url.PathEscape(planID), nil, "")
	if err != nil {
		return err
	}
	switch {
	case resp.ok(), resp.Status == http.StatusNotFound, resp.Status == http.StatusGone:
		return nil
	default:
		return p.api.rejected(resp)
	}
}

func (p *NettifyProvider) ListPlans(ctx context.Context) iter.Seq2[PlanSummary, error] {
	return func(yield func(PlanSummary, error) bool) {
		resp, err := p.api.do(ctx, http.MethodGet, "/plans", nil, "")
		if err != nil {
			yield(PlanSummary{}, err)
			return
		}
		if !resp.ok() {
			yield(PlanSummary{}, p.api.rejected(resp))
			return
		}

		list := gjson.ParseBytes(resp.Body)
		if !list.IsArray() {
			list = list.Get("plans")
		}
		for _, item := range list.Array() {
			plan := p.decodePlan([]byte(item.Raw))
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

func (p *NettifyProvider) Balance(ctx context.Context) (decimal.Decimal, error) {
	resp, err := p.api.do(ctx, http.MethodGet, "/balance", nil, "")
	if err != nil {
		return decimal.Zero, err
	}
	if !resp.ok() {
		return decimal.Zero, p.api.rejected(resp)
	}
	raw := gjson.GetBytes(resp.Body, "balance")
	if !raw.Exists() {
		return decimal.Zero, fmt.Errorf("nettify: balance missing in response")
	}
	// the raw token keeps the exact decimal digits the upstream sent
	balance, err := decimal.NewFromString(trimQuotes(raw.Raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("nettify: invalid balance %q: %w", raw.Raw, err)
	}
	return balance, nil
}

func (p *NettifyProvider) decodePlan(body []byte) *Plan {
	doc := gjson.ParseBytes(body)
	id := doc.Get("plan_id").String()
	if id == "" {
		id = doc.Get("id").String()
	}
	return &Plan{
		ID:            id,
		Provider:      p.Name(),
		Class:         models.PlanClass(doc.Get("plan_type").String()),
		Username:      doc.Get("username").String(),
		Password:      doc.Get("password").String(),
		AuthHost:      doc.Get("host").String(),
		AuthPort:      int(doc.Get("port").Int()),
		BandwidthMB:   doc.Get("bandwidth_mb").Int(),
		DurationHours: int(doc.Get("duration_hours").Int()),
		ExpiresAt:     parseTime(doc.Get("expires_at")),
		Active:        boolOr(doc.Get("active"), true),
		Enabled:       boolOr(doc.Get("enabled"), true),
	}
}

func trimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
