// File: main.go

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"proxy-provisioner/pkg/config"
	"proxy-provisioner/pkg/database"
	"proxy-provisioner/pkg/provisioning"
	"proxy-provisioner/pkg/proxy"
	"proxy-provisioner/pkg/registry"
)

var (
	debugFlag    bool
	configFile   string
	providerFlag string
	logger       *slog.Logger
	cfg          *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "proxy-provisioner",
	Short: "Provision upstream proxy plans and keep the plan registry in sync",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Set up logging based on the debug flag
		var logLevel slog.Level
		if debugFlag {
			logLevel = slog.LevelDebug
		} else {
			logLevel = slog.LevelInfo
		}

		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
		slog.SetDefault(logger)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default: config.yaml in ., $HOME/.proxy-provisioner or /etc/proxy-provisioner)")
	rootCmd.PersistentFlags().StringVarP(&providerFlag, "provider", "p", "", "Upstream provider: nettify, proxiesfo or none (default from config)")

	rootCmd.AddCommand(createPlanCmd, getPlanCmd, updatePlanCmd, deletePlanCmd, listPlansCmd, balanceCmd)
	rootCmd.AddCommand(registryCmd, syncCmd, checkPlansCmd, serveCmd, payLinkCmd)
}

func initConfig() {
	v := viper.GetViper()
	if err := config.Init(v, configFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		os.Exit(1)
	}

	loaded, err := config.Load(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	cfg = loaded
}

// initProvider builds the upstream client for --provider or the configured default.
func initProvider() (proxy.Provider, error) {
	catalog, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}
	providerConfig, err := cfg.ProxyConfig(providerFlag)
	if err != nil {
		return nil, err
	}
	logger.Debug("Initializing provider",
		"system", providerConfig.System,
		"baseURL", providerConfig.BaseURL,
		"apiKey", config.MaskString(providerConfig.APIKey))

	return proxy.NewProvider(providerConfig, logger, catalog)
}

// initRegistry opens the configured store. The returned close function is never nil.
func initRegistry(ctx context.Context) (*registry.Registry, func(), error) {
	catalog, err := cfg.Catalog()
	if err != nil {
		return nil, nil, err
	}

	var (
		store   registry.Store
		closeFn = func() {}
	)
	switch cfg.Registry.Store {
	case config.StoreFile:
		fs, err := registry.OpenFileStore(cfg.Registry.Path)
		if err != nil {
			return nil, nil, err
		}
		store = fs
	case config.StoreSQLite, config.StorePostgres:
		var db *database.DB
		if cfg.Registry.Store == config.StoreSQLite {
			db, err = database.OpenSQLite(cfg.Registry.SQLitePath)
		} else {
			db, err = database.NewDB()
		}
		if err != nil {
			return nil, nil, fmt.Errorf("error connecting to database: %w", err)
		}
		if err := db.InitPlanSchema(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("error initializing database schema: %w", err)
		}
		store = db.Plans()
		closeFn = func() { db.Close() }
	}
	logger.Debug("Opened plan registry", "store", cfg.Registry.Store)

	reg, err := registry.New(store, registry.Options{
		Catalog:    catalog,
		BaseDomain: cfg.BaseDomain,
		Logger:     logger,
	})
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return reg, closeFn, nil
}

func initService(ctx context.Context) (*provisioning.Service, func(), error) {
	provider, err := initProvider()
	if err != nil {
		return nil, nil, err
	}
	reg, closeFn, err := initRegistry(ctx)
	if err != nil {
		return nil, nil, err
	}
	return provisioning.NewService(provider, reg, logger), closeFn, nil
}

// mustService is the common prologue of commands touching both sides.
func mustService(ctx context.Context) (*provisioning.Service, func()) {
	svc, closeFn, err := initService(ctx)
	if err != nil {
		logger.Error("Error initializing provisioning", "error", err)
		os.Exit(1)
	}
	return svc, closeFn
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		logger.Error("Error writing output", "error", err)
		os.Exit(1)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
