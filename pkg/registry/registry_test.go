package registry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"proxy-provisioner/pkg/models"
	"proxy-provisioner/pkg/proxy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRegistry(t *testing.T, catalog models.Catalog) (*Registry, *FileStore) {
	t.Helper()
	store, err := OpenFileStore(filepath.Join(t.TempDir(), "proxies.json"))
	require.NoError(t, err)
	reg, err := New(store, Options{
		Catalog:    catalog,
		BaseDomain: "oceanproxy.io",
		Now:        func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return reg, store
}

// datacenterRecord returns a record satisfying every datacenter invariant.
func datacenterRecord(id string, port int) *models.PlanRecord {
	return &models.PlanRecord{
		PlanID:           id,
		Provider:         "proxiesfo",
		Username:         "user_" + id,
		Password:         "pw",
		PlanClass:        models.DatacenterClass,
		Subdomain:        "datacenter",
		BandwidthLimitMB: 1024,
		AuthHost:         "dcp.proxies.fo",
		AuthPort:         10808,
		LocalHost:        "datacenter.oceanproxy.io",
		LocalPort:        port,
		PublicPort:       1339,
	}
}

func TestUpsertValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*models.PlanRecord)
		wantErr error
	}{
		{"valid", func(*models.PlanRecord) {}, nil},
		{"local port outside range", func(r *models.PlanRecord) { r.LocalPort = 1339 }, ErrInvalidClassMapping},
		{"wrong auth host", func(r *models.PlanRecord) { r.AuthHost = "pr-us.proxies.fo" }, ErrInvalidClassMapping},
		{"wrong auth port", func(r *models.PlanRecord) { r.AuthPort = 13337 }, ErrInvalidClassMapping},
		{"wrong public port", func(r *models.PlanRecord) { r.PublicPort = 1337 }, ErrInvalidClassMapping},
		{"wrong subdomain", func(r *models.PlanRecord) { r.Subdomain = "usa" }, ErrInvalidClassMapping},
		{"unknown class", func(r *models.PlanRecord) { r.PlanClass = "satellite" }, ErrInvalidClassMapping},
		{"duration on metered class", func(r *models.PlanRecord) { r.DurationHours = 24 }, models.ErrInvalidLimit},
		{"missing plan id", func(r *models.PlanRecord) { r.PlanID = "" }, ErrInvalidRecord},
		{"missing username", func(r *models.PlanRecord) { r.Username = "" }, ErrInvalidRecord},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, store := newTestRegistry(t, nil)
			rec := datacenterRecord("dc-1", 40000)
			tt.mutate(rec)

			err := reg.Upsert(context.Background(), rec)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)

			all, err := store.List(context.Background())
			require.NoError(t, err)
			assert.Empty(t, all, "rejected record must not be stored")
		})
	}
}

func TestUpsertPortConflict(t *testing.T) {
	reg, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	require.NoError(t, reg.Upsert(ctx, datacenterRecord("dc-1", 40000)))
	err := reg.Upsert(ctx, datacenterRecord("dc-2", 40000))
	assert.True(t, errors.Is(err, ErrPortConflict), "got %v", err)

	// the same record may be rewritten on its own port
	require.NoError(t, reg.Upsert(ctx, datacenterRecord("dc-1", 40000)))

	_, err = reg.Get(ctx, "dc-2")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUpsertSamePortAcrossClassesIsAllowed(t *testing.T) {
	catalog := models.DefaultCatalog()
	reg, _ := newTestRegistry(t, catalog)
	ctx := context.Background()

	require.NoError(t, reg.Upsert(ctx, datacenterRecord("dc-1", 40000)))
	res := &models.PlanRecord{
		PlanID:           "res-1",
		Username:         "u",
		PlanClass:        models.ResidentialClass,
		BandwidthLimitMB: 1024,
		LocalPort:        30000,
	}
	res.ApplyClass(catalog[models.ResidentialClass], "oceanproxy.io")
	require.NoError(t, reg.Upsert(ctx, res))
}

func TestUpsertKeepsCreatedAt(t *testing.T) {
	store, err := OpenFileStore(filepath.Join(t.TempDir(), "proxies.json"))
	require.NoError(t, err)
	now := fixedNow
	reg, err := New(store, Options{Now: func() time.Time { return now }})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, reg.Upsert(ctx, datacenterRecord("dc-1", 40000)))
	now = now.Add(time.Hour)
	require.NoError(t, reg.Upsert(ctx, datacenterRecord("dc-1", 40001)))

	rec, err := reg.Get(ctx, "dc-1")
	require.NoError(t, err)
	assert.Equal(t, fixedNow, rec.CreatedAt)
	assert.Equal(t, fixedNow.Add(time.Hour), rec.UpdatedAt)
	assert.Equal(t, 40001, rec.LocalPort)
}

func TestDeleteIsIdempotent(t *testing.T) {
	reg, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	require.NoError(t, reg.Upsert(ctx, datacenterRecord("dc-1", 40000)))
	require.NoError(t, reg.Delete(ctx, "dc-1"))
	require.NoError(t, reg.Delete(ctx, "dc-1"))
	require.NoError(t, reg.Delete(ctx, "never-existed"))

	_, err := reg.Get(ctx, "dc-1")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestReassignPortPicksLowestFree(t *testing.T) {
	reg, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	require.NoError(t, reg.Upsert(ctx, datacenterRecord("dc-a", 40000)))
	require.NoError(t, reg.Upsert(ctx, datacenterRecord("dc-b", 40002)))
	require.NoError(t, reg.Upsert(ctx, datacenterRecord("dc-c", 40005)))

	rec, err := reg.ReassignPort(ctx, "dc-c")
	require.NoError(t, err)
	assert.Equal(t, 40001, rec.LocalPort)

	rec, err = reg.ReassignPort(ctx, "dc-a")
	require.NoError(t, err)
	assert.Equal(t, 40000, rec.LocalPort, "own port counts as free")

	recs, err := reg.ListByClass(ctx, models.DatacenterClass)
	require.NoError(t, err)
	seen := map[int]string{}
	for _, r := range recs {
		other, dup := seen[r.LocalPort]
		assert.False(t, dup, "port %d held by %s and %s", r.LocalPort, other, r.PlanID)
		seen[r.LocalPort] = r.PlanID
	}

	_, err = reg.ReassignPort(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func tinyCatalog() models.Catalog {
	catalog := models.DefaultCatalog()
	spec := catalog[models.DatacenterClass]
	spec.Ports = models.PortRange{Start: 40000, End: 40001}
	catalog[models.DatacenterClass] = spec
	return catalog
}

func TestRegisterRangeExhausted(t *testing.T) {
	reg, _ := newTestRegistry(t, tinyCatalog())
	ctx := context.Background()

	plan := func(id string) *proxy.Plan {
		return &proxy.Plan{ID: id, Provider: "none", Class: models.DatacenterClass, Username: "u", Password: "p", BandwidthMB: 1024}
	}

	first, err := reg.Register(ctx, plan("a"))
	require.NoError(t, err)
	second, err := reg.Register(ctx, plan("b"))
	require.NoError(t, err)
	assert.Equal(t, 40000, first.LocalPort)
	assert.Equal(t, 40001, second.LocalPort)

	_, err = reg.Register(ctx, plan("c"))
	assert.True(t, errors.Is(err, ErrRangeExhausted), "got %v", err)

	// a full range still lets a record keep its own port
	rec, err := reg.ReassignPort(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 40001, rec.LocalPort)
}

func TestRegisterNormalizesPlan(t *testing.T) {
	reg, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	rec, err := reg.Register(ctx, &proxy.Plan{
		ID:          "pl-1",
		Provider:    "nettify",
		Class:       models.ResidentialClass,
		Username:    "alice",
		Password:    "s3cret",
		BandwidthMB: 1024,
	})
	require.NoError(t, err)
	assert.Equal(t, "proxy.nettify.xyz", rec.AuthHost)
	assert.Equal(t, 8080, rec.AuthPort)
	assert.Equal(t, 9876, rec.PublicPort)
	assert.Equal(t, "alpha", rec.Subdomain)
	assert.Equal(t, "alpha.oceanproxy.io", rec.LocalHost)
	assert.Equal(t, 30000, rec.LocalPort)
	assert.Equal(t, fixedNow, rec.CreatedAt)

	_, err = reg.Register(ctx, &proxy.Plan{ID: "pl-1", Class: models.ResidentialClass, Username: "alice", BandwidthMB: 1024})
	assert.True(t, errors.Is(err, ErrAlreadyRegistered))
}

func TestRegisterRejectsMismatchedUpstreamEndpoint(t *testing.T) {
	reg, store := newTestRegistry(t, nil)

	_, err := reg.Register(context.Background(), &proxy.Plan{
		ID:          "fo-1",
		Class:       models.DatacenterClass,
		Username:    "u",
		AuthHost:    "pr-us.proxies.fo",
		AuthPort:    13337,
		BandwidthMB: 1024,
	})
	assert.True(t, errors.Is(err, ErrInvalidClassMapping), "got %v", err)

	all, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestUpdatePatch(t *testing.T) {
	reg, _ := newTestRegistry(t, nil)
	ctx := context.Background()
	require.NoError(t, reg.Upsert(ctx, datacenterRecord("dc-1", 40000)))

	pw := "rotated"
	expires := fixedNow.Add(48 * time.Hour)
	rec, err := reg.Update(ctx, "dc-1", Patch{Password: &pw, ExpiresAt: &expires})
	require.NoError(t, err)
	assert.Equal(t, "rotated", rec.Password)
	assert.Equal(t, expires, rec.ExpiresAt)
	assert.Equal(t, "dc-1", rec.PlanID)

	empty := ""
	_, err = reg.Update(ctx, "dc-1", Patch{LocalHost: &empty})
	assert.True(t, errors.Is(err, ErrInvalidRecord))

	stored, err := reg.Get(ctx, "dc-1")
	require.NoError(t, err)
	assert.Equal(t, "datacenter.oceanproxy.io", stored.LocalHost)

	_, err = reg.Update(ctx, "missing", Patch{Password: &pw})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPortUsage(t *testing.T) {
	reg, _ := newTestRegistry(t, nil)
	ctx := context.Background()
	require.NoError(t, reg.Upsert(ctx, datacenterRecord("dc-1", 40000)))
	require.NoError(t, reg.Upsert(ctx, datacenterRecord("dc-2", 40001)))

	usage, err := reg.PortUsage(ctx)
	require.NoError(t, err)
	require.Len(t, usage, 5)

	byClass := map[models.PlanClass]PortUsage{}
	for _, u := range usage {
		byClass[u.Class] = u
	}
	assert.Equal(t, 2, byClass[models.DatacenterClass].Used)
	assert.Equal(t, 10000, byClass[models.DatacenterClass].Total)
	assert.Equal(t, 0, byClass[models.UnlimitedClass].Used)
	assert.Equal(t, 5000, byClass[models.UnlimitedClass].Total)
}

func TestExpire(t *testing.T) {
	reg, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	stale := datacenterRecord("old", 40000)
	stale.ExpiresAt = fixedNow.Add(-time.Hour)
	fresh := datacenterRecord("new", 40001)
	fresh.ExpiresAt = fixedNow.Add(time.Hour)
	forever := datacenterRecord("metered", 40002)

	for _, rec := range []*models.PlanRecord{stale, fresh, forever} {
		require.NoError(t, reg.Upsert(ctx, rec))
	}

	expired, err := reg.Expire(ctx, fixedNow)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "old", expired[0].PlanID)

	remaining, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}

func TestListByClassUnknown(t *testing.T) {
	reg, _ := newTestRegistry(t, nil)
	_, err := reg.ListByClass(context.Background(), "satellite")
	assert.True(t, errors.Is(err, models.ErrUnknownClass))
}

func TestNewRejectsBrokenCatalog(t *testing.T) {
	store, err := OpenFileStore(filepath.Join(t.TempDir(), "proxies.json"))
	require.NoError(t, err)

	catalog := models.DefaultCatalog()
	spec := catalog[models.MobileClass]
	spec.Ports = models.PortRange{Start: 39000, End: 41000}
	catalog[models.MobileClass] = spec

	_, err = New(store, Options{Catalog: catalog})
	assert.Error(t, err)
}
