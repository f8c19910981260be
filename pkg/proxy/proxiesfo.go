package proxy

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"proxy-provisioner/pkg/models"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const (
	defaultValidityDays = 180
	defaultThreads      = 500
)

var mbPerGB = decimal.NewFromInt(1024)

// ProxiesFoProvider talks to the proxies.fo reseller API: form-encoded bodies,
// X-Api-Auth header, bandwidth in gigabytes, {Success, Error, Data} envelopes.
type ProxiesFoProvider struct {
	api          *apiClient
	catalog      models.Catalog
	resellers    map[models.PlanClass]string
	validityDays int
	threads      int
	logger       *slog.Logger
}

func newProxiesFoProvider(config Config, logger *slog.Logger, catalog models.Catalog) (*ProxiesFoProvider, error) {
	if config.System != SystemProxiesFo {
		return nil, fmt.Errorf("invalid system type for proxies.fo provider: %s", config.System)
	}
	api, err := newAPIClient(config, logger, func(req *http.Request) {
		req.Header.Set("X-Api-Auth", config.APIKey)
	})
	if err != nil {
		return nil, err
	}

	// a reseller is only usable for classes routed to a proxies.fo auth host
	served := servedClasses(catalog, SystemProxiesFo, config.AuthHosts)
	resellers := make(map[models.PlanClass]string, len(config.Resellers))
	for class, id := range config.Resellers {
		if id == "" {
			continue
		}
		if !served[class] {
			api.logger.Warn("ignoring proxies.fo reseller for class routed elsewhere", "class", class)
			continue
		}
		resellers[class] = id
	}
	if len(resellers) == 0 {
		return nil, fmt.Errorf("proxies.fo reseller ids are required")
	}

	validity := config.ValidityDays
	if validity <= 0 {
		validity = defaultValidityDays
	}
	threads := config.Threads
	if threads <= 0 {
		threads = defaultThreads
	}

	return &ProxiesFoProvider{
		api:          api,
		catalog:      catalog,
		resellers:    resellers,
		validityDays: validity,
		threads:      threads,
		logger:       api.logger,
	}, nil
}

func (p *ProxiesFoProvider) Name() string {
	return string(SystemProxiesFo)
}

// BandwidthGB converts the client contract's megabytes into the gigabyte
// figure proxies.fo expects.
func BandwidthGB(mb int64) string {
	return decimal.NewFromInt(mb).Div(mbPerGB).Round(3).String()
}

func (p *ProxiesFoProvider) CreatePlan(ctx context.Context, class models.PlanClass, creds Credentials, limit Limit) (*Plan, error) {
	if err := p.catalog.CheckLimit(class, limit.BandwidthMB, limit.DurationHours); err != nil {
		return nil, err
	}
	reseller, ok := p.resellers[class]
	if !ok {
		return nil, fmt.Errorf("%w: proxies.fo has no reseller for %s", ErrUnsupportedClass, class)
	}

	form := url.Values{}
	form.Set("reseller", reseller)
	form.Set("bandwidth", BandwidthGB(limit.BandwidthMB))
	form.Set("duration", strconv.Itoa(p.validityDays))
	if class == models.DatacenterClass {
		form.Set("threads", strconv.Itoa(p.threads))
	}

	resp, err := p.api.do(ctx, http.MethodPost, "/plans/new", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return nil, err
	}
	data, err := p.envelope(resp)
	if err != nil {
		return nil, err
	}

	plan := p.decodePlan(data)
	if plan.ID == "" {
		return nil, fmt.Errorf("proxies.fo: ID missing in create response")
	}
	// proxies.fo assigns its own credentials; the requested ones are ignored upstream
	plan.Class = class
	plan.BandwidthMB = limit.BandwidthMB

	p.logger.Info("plan created", "provider", p.Name(), "plan_id", plan.ID, "class", plan.Class)
	return plan, nil
}

func (p *ProxiesFoProvider) GetPlan(ctx context.Context, planID string) (*Plan, error) {
	resp, err := p.api.do(ctx, http.MethodGet, "/plans/"+url.PathEscape(planID), nil, "")
	if err != nil {
		return nil, err
	}
	if resp.Status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, planID)
	}
	data, err := p.envelope(resp)
	if err != nil {
		return nil, err
	}
	plan := p.decodePlan(data)
	if plan.ID == "" {
		plan.ID = planID
	}
	return plan, nil
}

func (p *ProxiesFoProvider) UpdatePlan(ctx context.Context, planID string, fields UpdateFields) (*Plan, error) {
	if fields.empty() {
		return nil, fmt.Errorf("no fields to update")
	}
	form := url.Values{}
	if fields.Password != nil {
		form.Set("password", *fields.Password)
	}
	if fields.Enabled != nil {
		form.Set("enabled", strconv.FormatBool(*fields.Enabled))
	}

	resp, err := p.api.do(ctx, http.MethodPut, "/plans/"+url.PathEscape(planID), strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return nil, err
	}
	if resp.Status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, planID)
	}
	data, err := p.envelope(resp)
	if err != nil {
		return nil, err
	}

	// applied upstream; build the result without a second call that could fail
	plan := p.decodePlan(data)
	plan.ID = planID
	fields.apply(plan)
	return plan, nil
}

func (p *ProxiesFoProvider) DeletePlan(ctx context.Context, planID string) error {
	resp, err := p.api.do(ctx, http.MethodDelete, "/plans/"+url.PathEscape(planID), nil, "")
	if err != nil {
		return err
	}
	if resp.Status == http.StatusNotFound || resp.Status == http.StatusGone {
		return nil
	}
	_, err = p.envelope(resp)
	return err
}

func (p *ProxiesFoProvider) ListPlans(ctx context.Context) iter.Seq2[PlanSummary, error] {
	return func(yield func(PlanSummary, error) bool) {
		resp, err := p.api.do(ctx, http.MethodGet, "/plans", nil, "")
		if err != nil {
			yield(PlanSummary{}, err)
			return
		}
		data, err := p.envelope(resp)
		if err != nil {
			yield(PlanSummary{}, err)
			return
		}
		for _, item := range data.Array() {
			plan := p.decodePlan(item)
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

// envelope unwraps {Success, Error, Data}, turning failures into UpstreamError.
func (p *ProxiesFoProvider) envelope(resp *response) (gjson.Result, error) {
	if !resp.ok() {
		return gjson.Result{}, p.api.rejected(resp)
	}
	if !gjson.ValidBytes(resp.Body) {
		return gjson.Result{}, fmt.Errorf("proxies.fo: response is not JSON")
	}
	doc := gjson.ParseBytes(resp.Body)
	success := doc.Get("Success")
	if !success.Exists() {
		return gjson.Result{}, fmt.Errorf("proxies.fo: unexpected response format: missing 'Success' field")
	}
	if !success.Bool() {
		msg := doc.Get("Error").String()
		if msg == "" {
			msg = "unknown error from proxies.fo"
		}
		return gjson.Result{}, &UpstreamError{Provider: p.Name(), Status: resp.Status, Message: msg}
	}
	return doc.Get("Data"), nil
}

func (p *ProxiesFoProvider) decodePlan(data gjson.Result) *Plan {
	plan := &Plan{
		ID:        data.Get("ID").String(),
		Provider:  p.Name(),
		Class:     p.classOf(data.Get("Reseller").String()),
		Username:  data.Get("AuthUsername").String(),
		Password:  data.Get("AuthPassword").String(),
		AuthHost:  data.Get("AuthHost").String(),
		AuthPort:  int(data.Get("AuthPort").Int()),
		ExpiresAt: parseTime(data.Get("EndsDate")),
		Active:    boolOr(data.Get("Active"), true),
		Enabled:   boolOr(data.Get("Enabled"), true),
	}
	if gb := data.Get("Bandwidth"); gb.Exists() {
		if d, err := decimal.NewFromString(trimQuotes(gb.Raw)); err == nil {
			plan.BandwidthMB = d.Mul(mbPerGB).IntPart()
		}
	}
	return plan
}

func (p *ProxiesFoProvider) classOf(reseller string) models.PlanClass {
	for class, id := range p.resellers {
		if id == reseller && reseller != "" {
			return class
		}
	}
	return ""
}
