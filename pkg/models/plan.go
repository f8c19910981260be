package models

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/uptrace/bun"
)

// PlanRecord is one provisioned proxy plan as seen by the forwarding process.
// JSON names follow the proxies.json layout the forwarding process already reads.
type PlanRecord struct {
	bun.BaseModel `bun:"table:plan_records,alias:pr"`

	PlanID           string    `bun:",pk" json:"plan_id"`
	Provider         string    `bun:",notnull" json:"provider"`
	Username         string    `bun:",notnull" json:"username"`
	Password         string    `bun:",notnull" json:"password"`
	PlanClass        PlanClass `bun:",notnull" json:"plan_class"`
	Subdomain        string    `bun:",notnull" json:"subdomain"`
	BandwidthLimitMB int64     `bun:",notnull,default:0" json:"bandwidth_limit_mb,omitempty"`
	DurationHours    int       `bun:",notnull,default:0" json:"duration_hours,omitempty"`
	AuthHost         string    `bun:",notnull" json:"auth_host"`
	AuthPort         int       `bun:",notnull" json:"auth_port"`
	LocalHost        string    `bun:",notnull" json:"local_host"`
	LocalPort        int       `bun:",notnull" json:"local_port"`
	PublicPort       int       `bun:",notnull" json:"public_port"`
	ExpiresAt        time.Time `bun:",nullzero" json:"expires_at,omitempty"`
	CreatedAt        time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt        time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// Expired reports whether the plan has an expiry that lies before now.
func (r *PlanRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && r.ExpiresAt.Before(now)
}

// Endpoint returns the client-facing proxy URL: the class's public port on the
// operator host, never the local forwarding port.
func (r *PlanRecord) Endpoint() string {
	u := url.URL{
		Scheme: "http",
		User:   url.UserPassword(r.Username, r.Password),
		Host:   net.JoinHostPort(r.LocalHost, strconv.Itoa(r.PublicPort)),
	}
	return u.String()
}

// ApplyClass overwrites the class-derived fields of r with the canonical values.
func (r *PlanRecord) ApplyClass(spec ClassSpec, baseDomain string) {
	r.Subdomain = spec.Subdomain
	r.AuthHost = spec.AuthHost
	r.AuthPort = spec.AuthPort
	r.PublicPort = spec.PublicPort
	if r.LocalHost == "" {
		r.LocalHost = LocalHostFor(spec, baseDomain)
	}
}

func LocalHostFor(spec ClassSpec, baseDomain string) string {
	if baseDomain == "" {
		return spec.Subdomain
	}
	return fmt.Sprintf("%s.%s", spec.Subdomain, baseDomain)
}
