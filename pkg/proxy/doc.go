/*
Package proxy provides an abstraction layer over the upstream reseller APIs that
sell proxy plans (currently nettify and proxies.fo), plus an offline provider.

The package implements a Provider interface that standardizes plan provisioning
across vendors, so the rest of the application creates, reads, updates, deletes and
lists plans the same way whatever upstream owns them.

Key Components:

  - Provider: Interface that defines the contract for provisioning providers
  - Config: Configuration structure for providers
  - System: Enum type representing supported upstream systems
  - Factory: Creates provider instances based on configuration

Provider Interface Methods:

	Name: Returns the provider's name
	CreatePlan: Creates a plan for a class, credentials and limit
	GetPlan: Returns the upstream-side plan metadata
	UpdatePlan: Applies a partial update (password rotation, enable/disable)
	DeletePlan: Deletes a plan; deleting a missing plan succeeds
	ListPlans: Lazily lists plans; every range re-issues the request

Supported Providers:

 1. nettify:
    - JSON bodies, Authorization: Bearer header
    - residential, datacenter, mobile and unlimited plans
    - bandwidth sent as bandwidth_mb
    - account balance through BalanceReporter

 2. proxies.fo:
    - form-encoded bodies, X-Api-Auth header
    - residential, isp and datacenter plans, one reseller id per class
    - bandwidth sent in gigabytes; the API assigns credentials itself

 3. none:
    - in-memory plans with random ids, for dry runs

Usage Example:

	config := proxy.Config{
		System:  proxy.SystemNettify,
		BaseURL: "https://api.nettify.xyz",
		APIKey:  os.Getenv("PROVIDERS_NETTIFY_API_KEY"),
	}

	provider, err := proxy.NewProvider(config, logger, models.DefaultCatalog())
	if err != nil {
		log.Fatal(err)
	}

	plan, err := provider.CreatePlan(ctx, models.ResidentialClass,
		proxy.Credentials{Username: "alice", Password: "s3cret"},
		proxy.Limit{BandwidthMB: 1024})

	for summary, err := range provider.ListPlans(ctx) {
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(summary.ID, summary.Class)
	}

Error Handling:

Upstream errors are never swallowed:
  - ErrInvalidLimit (package models) when the limit field does not fit the class
  - ErrUnsupportedClass when the vendor does not sell the class
  - ErrUpstreamRejected, as *UpstreamError, for non-success answers
  - ErrNotFound for unknown plan ids
  - ErrTimeout when the per-call bound (30s by default) is exceeded

CreatePlan is never retried here: the upstream APIs have no deduplication key and a
retry could create a second plan. GetPlan, DeletePlan and ListPlans are safe to retry.

Thread Safety:

Providers hold no mutable state besides the rate limiter (and the in-memory map of
the none provider, which is locked), so one instance can serve concurrent calls.
*/
package proxy
