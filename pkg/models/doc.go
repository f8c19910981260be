/*
Package models defines the core data structures shared by the provisioning client,
the plan registry and its stores.

Core Types:

PlanClass is the closed set of plan categories:

	type PlanClass string
	const (
		ResidentialClass PlanClass = "residential"
		DatacenterClass  PlanClass = "datacenter"
		ISPClass         PlanClass = "isp"
		MobileClass      PlanClass = "mobile"
		UnlimitedClass   PlanClass = "unlimited"
	)

ClassSpec holds the canonical values of a class:

	type ClassSpec struct {
		Subdomain  string    // routing label, local_host is <subdomain>.<domain>
		AuthHost   string    // only valid upstream auth host for the class
		AuthPort   int       // only valid upstream auth port for the class
		PublicPort int       // advertised port shared by every plan of the class
		Ports      PortRange // reserved local_port range, inclusive
		Limit      LimitKind // bandwidth or duration
	}

Catalog maps each PlanClass to its ClassSpec. DefaultCatalog returns the built-in
mapping; a catalog loaded from configuration must pass Catalog.Check.

PlanRecord is one provisioned plan:

	type PlanRecord struct {
		PlanID           string    // upstream id, primary key, never changes
		Provider         string    // upstream system that owns the plan
		Username         string    // proxy credentials
		Password         string
		PlanClass        PlanClass
		Subdomain        string    // copied from the class
		BandwidthLimitMB int64     // metered classes
		DurationHours    int       // duration classes
		AuthHost         string    // copied from the class
		AuthPort         int       // copied from the class
		LocalHost        string    // operator forwarding host
		LocalPort        int       // unique within the class range
		PublicPort       int       // copied from the class
		ExpiresAt        time.Time // zero for plans without expiry
		CreatedAt        time.Time
		UpdatedAt        time.Time
	}

Units:

Bandwidth is always carried in megabytes. Conversions to vendor units happen in the
vendor codecs of package proxy, never here.

Validation:

The models package only describes the catalog. Record validation against the catalog
is done by package registry before anything is written to a store.
*/
package models
