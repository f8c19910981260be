package models

import (
	"errors"
	"fmt"
	"sort"
)

type PlanClass string

const (
	ResidentialClass PlanClass = "residential"
	DatacenterClass  PlanClass = "datacenter"
	ISPClass         PlanClass = "isp"
	MobileClass      PlanClass = "mobile"
	UnlimitedClass   PlanClass = "unlimited"
)

// LimitKind selects which limit field of a plan is meaningful.
type LimitKind string

const (
	BandwidthLimit LimitKind = "bandwidth"
	DurationLimit  LimitKind = "duration"
)

// ErrInvalidLimit is returned when a limit does not match the kind required by a plan class.
var ErrInvalidLimit = errors.New("invalid limit for plan class")

// ErrUnknownClass is returned for a class missing from the catalog.
var ErrUnknownClass = errors.New("unknown plan class")

// PortRange is an inclusive range of local ports.
type PortRange struct {
	Start int `mapstructure:"start" json:"start"`
	End   int `mapstructure:"end" json:"end"`
}

func (r PortRange) Contains(port int) bool {
	return port >= r.Start && port <= r.End
}

func (r PortRange) Size() int {
	return r.End - r.Start + 1
}

func (r PortRange) overlaps(o PortRange) bool {
	return r.Start <= o.End && o.Start <= r.End
}

// ClassSpec holds the canonical routing and auth values of a plan class.
// Records never carry these as free values; they are copied from here.
type ClassSpec struct {
	Subdomain  string    `mapstructure:"subdomain" json:"subdomain"`
	AuthHost   string    `mapstructure:"auth_host" json:"auth_host"`
	AuthPort   int       `mapstructure:"auth_port" json:"auth_port"`
	PublicPort int       `mapstructure:"public_port" json:"public_port"`
	Ports      PortRange `mapstructure:"ports" json:"ports"`
	Limit      LimitKind `mapstructure:"limit" json:"limit"`
}

// Catalog maps every plan class to its canonical metadata.
type Catalog map[PlanClass]ClassSpec

// DefaultCatalog returns the built-in class mapping.
func DefaultCatalog() Catalog {
	return Catalog{
		ResidentialClass: {
			Subdomain:  "alpha",
			AuthHost:   "proxy.nettify.xyz",
			AuthPort:   8080,
			PublicPort: 9876,
			Ports:      PortRange{Start: 30000, End: 39999},
			Limit:      BandwidthLimit,
		},
		DatacenterClass: {
			Subdomain:  "datacenter",
			AuthHost:   "dcp.proxies.fo",
			AuthPort:   10808,
			PublicPort: 1339,
			Ports:      PortRange{Start: 40000, End: 49999},
			Limit:      BandwidthLimit,
		},
		ISPClass: {
			Subdomain:  "usa",
			AuthHost:   "pr-us.proxies.fo",
			AuthPort:   13337,
			PublicPort: 1337,
			Ports:      PortRange{Start: 10000, End: 19999},
			Limit:      BandwidthLimit,
		},
		MobileClass: {
			Subdomain:  "mobile",
			AuthHost:   "proxy.nettify.xyz",
			AuthPort:   8080,
			PublicPort: 7654,
			Ports:      PortRange{Start: 50000, End: 59999},
			Limit:      BandwidthLimit,
		},
		UnlimitedClass: {
			Subdomain:  "unlim",
			AuthHost:   "proxy.nettify.xyz",
			AuthPort:   8080,
			PublicPort: 6543,
			Ports:      PortRange{Start: 60000, End: 64999},
			Limit:      DurationLimit,
		},
	}
}

// Spec returns the canonical metadata for class.
func (c Catalog) Spec(class PlanClass) (ClassSpec, error) {
	spec, ok := c[class]
	if !ok {
		return ClassSpec{}, fmt.Errorf("%w: %q", ErrUnknownClass, class)
	}
	return spec, nil
}

// ClassFor finds the class a record without a plan_class belongs to, by its
// subdomain first and then by the range holding localPort.
func (c Catalog) ClassFor(subdomain string, localPort int) (PlanClass, bool) {
	for class, spec := range c {
		if subdomain != "" && spec.Subdomain == subdomain {
			return class, true
		}
	}
	for class, spec := range c {
		if spec.Ports.Contains(localPort) {
			return class, true
		}
	}
	return "", false
}

// Classes returns the catalog's classes in a stable order.
func (c Catalog) Classes() []PlanClass {
	classes := make([]PlanClass, 0, len(c))
	for class := range c {
		classes = append(classes, class)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })
	return classes
}

// Check verifies the catalog itself is usable: every entry complete,
// port ranges valid and pairwise disjoint.
func (c Catalog) Check() error {
	if len(c) == 0 {
		return errors.New("catalog has no classes")
	}
	classes := c.Classes()
	for i, class := range classes {
		spec := c[class]
		if spec.Subdomain == "" || spec.AuthHost == "" {
			return fmt.Errorf("class %s: subdomain and auth_host are required", class)
		}
		if !validPort(spec.AuthPort) || !validPort(spec.PublicPort) {
			return fmt.Errorf("class %s: auth_port and public_port must be in 1-65535", class)
		}
		if !validPort(spec.Ports.Start) || !validPort(spec.Ports.End) || spec.Ports.Start > spec.Ports.End {
			return fmt.Errorf("class %s: invalid port range %d-%d", class, spec.Ports.Start, spec.Ports.End)
		}
		if spec.Limit != BandwidthLimit && spec.Limit != DurationLimit {
			return fmt.Errorf("class %s: limit must be %q or %q", class, BandwidthLimit, DurationLimit)
		}
		for _, other := range classes[i+1:] {
			if spec.Ports.overlaps(c[other].Ports) {
				return fmt.Errorf("class %s: port range overlaps class %s", class, other)
			}
		}
	}
	return nil
}

// CheckLimit reports whether exactly the limit field required by class is set.
func (c Catalog) CheckLimit(class PlanClass, bandwidthMB int64, durationHours int) error {
	spec, err := c.Spec(class)
	if err != nil {
		return err
	}
	switch spec.Limit {
	case BandwidthLimit:
		if bandwidthMB <= 0 || durationHours != 0 {
			return fmt.Errorf("%w: %s plans take bandwidth_mb only", ErrInvalidLimit, class)
		}
	case DurationLimit:
		if durationHours <= 0 || bandwidthMB != 0 {
			return fmt.Errorf("%w: %s plans take duration_hours only", ErrInvalidLimit, class)
		}
	}
	return nil
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}
