package registry

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"proxy-provisioner/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStorePersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "proxies.json")
	ctx := context.Background()

	store, err := OpenFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, datacenterRecord("dc-2", 40001)))
	require.NoError(t, store.Put(ctx, datacenterRecord("dc-1", 40000)))

	reopened, err := OpenFileStore(path)
	require.NoError(t, err)
	recs, err := reopened.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "dc-1", recs[0].PlanID)
	assert.Equal(t, 40001, recs[1].LocalPort)

	require.NoError(t, reopened.Delete(ctx, "dc-1"))
	require.NoError(t, reopened.Delete(ctx, "dc-1"))

	again, err := OpenFileStore(path)
	require.NoError(t, err)
	_, err = again.Get(ctx, "dc-1")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFileStoreWritesLegacyLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxies.json")
	store, err := OpenFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), datacenterRecord("dc-1", 40000)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw []map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw, 1)
	for _, key := range []string{"plan_id", "username", "password", "auth_host", "auth_port", "local_host", "local_port", "public_port", "subdomain"} {
		assert.Contains(t, raw[0], key)
	}
	assert.Equal(t, "dcp.proxies.fo", raw[0]["auth_host"])

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

const legacyProxiesJSON = `[
  {
    "plan_id": "7f3c",
    "username": "alice",
    "password": "s3cret",
    "auth_host": "proxy.nettify.xyz",
    "local_host": "alpha.oceanproxy.io",
    "auth_port": 8080,
    "local_port": 30001,
    "public_port": 9876,
    "subdomain": "alpha",
    "expires_at": 0,
    "created_at": 1720000000
  },
  {
    "plan_id": "9a1d",
    "username": "bob",
    "password": "pw",
    "auth_host": "proxy.nettify.xyz",
    "local_host": "unlim.oceanproxy.io",
    "auth_port": 8080,
    "local_port": 60000,
    "public_port": 6543,
    "subdomain": "unlim",
    "expires_at": 1720086400,
    "created_at": 1720000000
  }
]`

func TestFileStoreReadsLegacyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxies.json")
	require.NoError(t, os.WriteFile(path, []byte(legacyProxiesJSON), 0o600))
	ctx := context.Background()

	store, err := OpenFileStore(path)
	require.NoError(t, err)

	rec, err := store.Get(ctx, "7f3c")
	require.NoError(t, err)
	assert.Equal(t, models.ResidentialClass, rec.PlanClass)
	assert.True(t, rec.ExpiresAt.IsZero())
	assert.Equal(t, time.Unix(1720000000, 0).UTC(), rec.CreatedAt)

	unlim, err := store.Get(ctx, "9a1d")
	require.NoError(t, err)
	assert.Equal(t, models.UnlimitedClass, unlim.PlanClass)
	assert.Equal(t, time.Unix(1720086400, 0).UTC(), unlim.ExpiresAt)

	// a write must keep the file readable by the forwarding process
	require.NoError(t, store.Put(ctx, rec))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var written []struct {
		PlanID    string `json:"plan_id"`
		LocalPort int    `json:"local_port"`
		ExpiresAt int64  `json:"expires_at"`
		CreatedAt int64  `json:"created_at"`
	}
	require.NoError(t, json.Unmarshal(data, &written))
	require.Len(t, written, 2)
	assert.Equal(t, "7f3c", written[0].PlanID)
	assert.Equal(t, 30001, written[0].LocalPort)
	assert.Equal(t, int64(0), written[0].ExpiresAt)
	assert.Equal(t, int64(1720000000), written[0].CreatedAt)
	assert.Equal(t, int64(1720086400), written[1].ExpiresAt)

	reopened, err := OpenFileStore(path)
	require.NoError(t, err)
	again, err := reopened.Get(ctx, "9a1d")
	require.NoError(t, err)
	assert.Equal(t, unlim, again)
}

func TestOpenFileStoreRejectsBadFiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "{"},
		{"missing plan id", `[{"username": "u"}]`},
		{"duplicate plan id", `[{"plan_id": "a"}, {"plan_id": "a"}]`},
		{"rfc3339 times", `[{"plan_id": "a", "created_at": "2025-03-01T12:00:00Z"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "proxies.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))
			_, err := OpenFileStore(path)
			assert.Error(t, err)
		})
	}
}

func TestFileStoreListByClass(t *testing.T) {
	store, err := OpenFileStore(filepath.Join(t.TempDir(), "proxies.json"))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, datacenterRecord("dc-1", 40000)))
	require.NoError(t, store.Put(ctx, &models.PlanRecord{PlanID: "m-1", PlanClass: models.MobileClass}))

	recs, err := store.ListByClass(ctx, models.MobileClass)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "m-1", recs[0].PlanID)
}
