// Package registrytest holds checks shared by the registry store backends.
package registrytest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"proxy-provisioner/pkg/models"
	"proxy-provisioner/pkg/proxy"
	"proxy-provisioner/pkg/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ConcurrentAllocation registers and reassigns plans of one class from many
// goroutines over store, then checks every plan holds a distinct port inside
// the class range.
func ConcurrentAllocation(t *testing.T, store registry.Store, workers int) {
	t.Helper()
	catalog := models.DefaultCatalog()
	reg, err := registry.New(store, registry.Options{Catalog: catalog, BaseDomain: "oceanproxy.io"})
	require.NoError(t, err)
	ctx := context.Background()

	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("dc-%03d", i)
			_, err := reg.Register(ctx, &proxy.Plan{
				ID:          id,
				Provider:    "none",
				Class:       models.DatacenterClass,
				Username:    "u" + id,
				Password:    "pw",
				BandwidthMB: 1024,
			})
			if err != nil {
				errs <- fmt.Errorf("register %s: %w", id, err)
				return
			}
			if _, err := reg.ReassignPort(ctx, id); err != nil {
				errs <- fmt.Errorf("reassign %s: %w", id, err)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	recs, err := reg.ListByClass(ctx, models.DatacenterClass)
	require.NoError(t, err)
	require.Len(t, recs, workers)

	ports := catalog[models.DatacenterClass].Ports
	seen := make(map[int]string, len(recs))
	for _, rec := range recs {
		assert.True(t, ports.Contains(rec.LocalPort), "port %d of %s outside %v", rec.LocalPort, rec.PlanID, ports)
		other, dup := seen[rec.LocalPort]
		assert.False(t, dup, "port %d held by %s and %s", rec.LocalPort, other, rec.PlanID)
		seen[rec.LocalPort] = rec.PlanID
	}
}
