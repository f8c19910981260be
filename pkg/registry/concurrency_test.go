package registry_test

import (
	"path/filepath"
	"testing"

	"proxy-provisioner/pkg/registry"
	"proxy-provisioner/pkg/registry/registrytest"

	"github.com/stretchr/testify/require"
)

func TestConcurrentAllocationOverFileStore(t *testing.T) {
	store, err := registry.OpenFileStore(filepath.Join(t.TempDir(), "proxies.json"))
	require.NoError(t, err)
	registrytest.ConcurrentAllocation(t, store, 32)
}
