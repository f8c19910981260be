package proxy

import (
	"fmt"
	"log/slog"

	"proxy-provisioner/pkg/models"
)

// NewProvider creates a new provisioning provider based on the config
func NewProvider(config Config, logger *slog.Logger, catalog models.Catalog) (Provider, error) {
	if catalog == nil {
		catalog = models.DefaultCatalog()
	}
	switch config.System {
	case SystemNettify:
		return newNettifyProvider(config, logger, catalog)
	case SystemProxiesFo:
		return newProxiesFoProvider(config, logger, catalog)
	case SystemNone:
		return newNoneProvider(logger, catalog), nil
	default:
		return nil, fmt.Errorf("unsupported provider system: %s", config.System)
	}
}
