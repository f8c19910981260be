package proxy

import (
	"context"
	"iter"
	"net/http"
	"time"

	"proxy-provisioner/pkg/models"

	"github.com/shopspring/decimal"
)

// System represents the upstream reseller system
type System string

const (
	SystemNettify   System = "nettify"
	SystemProxiesFo System = "proxiesfo"
	SystemNone      System = "none"
)

// DefaultTimeout bounds every upstream call unless Config.Timeout overrides it.
const DefaultTimeout = 30 * time.Second

// Config represents the configuration for a provisioning provider
type Config struct {
	System  System
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RateLimit is the sustained requests per second allowed against the
	// upstream API; zero disables client-side limiting.
	RateLimit float64
	Burst     int

	// AuthHosts are the upstream hosts plans of this provider authenticate
	// against. A class is offered only when its catalog auth host is listed.
	// Empty means the provider's defaults.
	AuthHosts []string

	Resellers    map[models.PlanClass]string // only used by proxies.fo
	ValidityDays int                         // only used by proxies.fo
	Threads      int                         // only used by proxies.fo datacenter plans

	HTTPClient *http.Client
}

var defaultAuthHosts = map[System][]string{
	SystemNettify:   {"proxy.nettify.xyz"},
	SystemProxiesFo: {"pr-us.proxies.fo", "pr-eu.proxies.fo", "dcp.proxies.fo"},
}

// servedClasses returns the catalog classes whose auth host is one of hosts,
// or of the system's default hosts when hosts is empty.
func servedClasses(catalog models.Catalog, system System, hosts []string) map[models.PlanClass]bool {
	if len(hosts) == 0 {
		hosts = defaultAuthHosts[system]
	}
	own := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		own[h] = true
	}
	served := make(map[models.PlanClass]bool)
	for class, spec := range catalog {
		if own[spec.AuthHost] {
			served[class] = true
		}
	}
	return served
}

// Credentials are the proxy username and password of a plan.
type Credentials struct {
	Username string
	Password string
}

// Limit carries the plan limit. Exactly one field is meaningful, selected
// by the plan class. Bandwidth is always megabytes.
type Limit struct {
	BandwidthMB   int64
	DurationHours int
}

// Plan is the upstream-side view of a proxy plan.
type Plan struct {
	ID            string           `json:"plan_id"`
	Provider      string           `json:"provider"`
	Class         models.PlanClass `json:"plan_class"`
	Username      string           `json:"username"`
	Password      string           `json:"password"`
	AuthHost      string           `json:"auth_host,omitempty"` // empty when the upstream does not report it
	AuthPort      int              `json:"auth_port,omitempty"` // zero when the upstream does not report it
	BandwidthMB   int64            `json:"bandwidth_mb,omitempty"`
	DurationHours int              `json:"duration_hours,omitempty"`
	ExpiresAt     time.Time        `json:"expires_at"`
	Active        bool             `json:"active"`
	Enabled       bool             `json:"enabled"`
}

// PlanSummary is one entry of a plan listing.
type PlanSummary struct {
	ID        string           `json:"plan_id"`
	Class     models.PlanClass `json:"plan_class"`
	Username  string           `json:"username"`
	Active    bool             `json:"active"`
	Enabled   bool             `json:"enabled"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// UpdateFields is a partial update; nil fields are left untouched.
type UpdateFields struct {
	Password *string
	Enabled  *bool
}

func (f UpdateFields) empty() bool {
	return f.Password == nil && f.Enabled == nil
}

func (f UpdateFields) apply(plan *Plan) {
	if f.Password != nil {
		plan.Password = *f.Password
	}
	if f.Enabled != nil {
		plan.Enabled = *f.Enabled
	}
}

// Provider defines the interface for upstream provisioning APIs
type Provider interface {
	Name() string
	CreatePlan(ctx context.Context, class models.PlanClass, creds Credentials, limit Limit) (*Plan, error)
	GetPlan(ctx context.Context, planID string) (*Plan, error)
	UpdatePlan(ctx context.Context, planID string, fields UpdateFields) (*Plan, error)
	DeletePlan(ctx context.Context, planID string) error
	// ListPlans issues the listing request each time the sequence is ranged over.
	ListPlans(ctx context.Context) iter.Seq2[PlanSummary, error]
}

// BalanceReporter is implemented by providers exposing the reseller account balance.
type BalanceReporter interface {
	Balance(ctx context.Context) (decimal.Decimal, error)
}
