package proxy

import (
	"context"
	"errors"
	"testing"

	"proxy-provisioner/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoneProviderLifecycle(t *testing.T) {
	p := newNoneProvider(nil, models.DefaultCatalog())
	ctx := context.Background()

	plan, err := p.CreatePlan(ctx, models.UnlimitedClass, Credentials{Username: "u", Password: "p"}, Limit{DurationHours: 24})
	require.NoError(t, err)
	assert.NotEmpty(t, plan.ID)
	assert.Equal(t, "proxy.nettify.xyz", plan.AuthHost)
	assert.Equal(t, 8080, plan.AuthPort)
	assert.False(t, plan.ExpiresAt.IsZero())

	enabled := false
	updated, err := p.UpdatePlan(ctx, plan.ID, UpdateFields{Enabled: &enabled})
	require.NoError(t, err)
	assert.False(t, updated.Enabled)
	assert.Equal(t, "p", updated.Password)

	require.NoError(t, p.DeletePlan(ctx, plan.ID))
	require.NoError(t, p.DeletePlan(ctx, plan.ID))

	_, err = p.GetPlan(ctx, plan.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestNoneProviderListPlansOrderedByClass(t *testing.T) {
	p := newNoneProvider(nil, models.DefaultCatalog())
	ctx := context.Background()

	_, err := p.CreatePlan(ctx, models.ResidentialClass, Credentials{Password: "p"}, Limit{BandwidthMB: 1})
	require.NoError(t, err)
	_, err = p.CreatePlan(ctx, models.DatacenterClass, Credentials{Password: "p"}, Limit{BandwidthMB: 1})
	require.NoError(t, err)

	var classes []models.PlanClass
	for summary, err := range p.ListPlans(ctx) {
		require.NoError(t, err)
		classes = append(classes, summary.Class)
	}
	assert.Equal(t, []models.PlanClass{models.DatacenterClass, models.ResidentialClass}, classes)
}

func TestNoneProviderHonoursContext(t *testing.T) {
	p := newNoneProvider(nil, models.DefaultCatalog())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.CreatePlan(ctx, models.ResidentialClass, Credentials{Password: "p"}, Limit{BandwidthMB: 1})
	assert.ErrorIs(t, err, context.Canceled)

	for _, err := range p.ListPlans(ctx) {
		assert.ErrorIs(t, err, context.Canceled)
	}
}
