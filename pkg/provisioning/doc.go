/*
Package provisioning ties the upstream provisioning client to the plan registry.
A plan is created upstream, normalized and written once into the registry; later
routing reads go to the registry, not back to the upstream API.

Key Components:

  - Service: Orchestrates the provider and the registry
  - PlanStatus: A registry record together with the live upstream view
  - SyncReport: Outcome of reconciling upstream plans with the registry

Service Methods:

	Create: Provisions a plan upstream and registers it
	Get: Returns the registry record plus upstream state
	RotatePassword: Changes the password upstream, then in the registry
	SetEnabled: Enables or disables a plan upstream
	Delete: Deletes upstream, then from the registry
	Sync: Adopts active, enabled upstream plans missing from the registry
	ExpireStale: Drops records whose expiry has passed

Usage Example:

	svc := provisioning.NewService(provider, reg, logger)

	rec, err := svc.Create(ctx, models.ResidentialClass,
		proxy.Credentials{Username: "alice", Password: "s3cret"},
		proxy.Limit{BandwidthMB: 1024})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(provisioning.Endpoint(rec))

Failure Handling:

Create never retries CreatePlan. If the registry refuses the new plan (range
exhausted, mismatched auth endpoint) the upstream plan is deleted again under a
fresh 30s bound so no unregistered plan keeps billing; if that delete fails too,
both errors are returned.
*/
package provisioning
