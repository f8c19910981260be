// Package config loads the application configuration from config.yaml, a
// .env file and the environment. Secrets such as API keys and the server
// token are expected from the environment, e.g. PROVIDERS_NETTIFY_API_KEY.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"proxy-provisioner/pkg/models"
	"proxy-provisioner/pkg/proxy"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

type Config struct {
	// Provider selects the active upstream: nettify, proxiesfo or none.
	Provider   string                      `mapstructure:"provider"`
	BaseDomain string                      `mapstructure:"base_domain"`
	Providers  ProvidersConfig             `mapstructure:"providers"`
	Registry   RegistryConfig              `mapstructure:"registry"`
	Server     ServerConfig                `mapstructure:"server"`
	Heleket    HeleketConfig               `mapstructure:"heleket"`
	Tester     TesterConfig                `mapstructure:"tester"`
	Classes    map[string]models.ClassSpec `mapstructure:"classes"`
}

type ProvidersConfig struct {
	Nettify   ProviderConfig `mapstructure:"nettify"`
	ProxiesFo ProviderConfig `mapstructure:"proxiesfo"`
}

type ProviderConfig struct {
	BaseURL      string            `mapstructure:"base_url"`
	APIKey       string            `mapstructure:"api_key"`
	Timeout      time.Duration     `mapstructure:"timeout"`
	RateLimit    float64           `mapstructure:"rate_limit"`
	Burst        int               `mapstructure:"burst"`
	Resellers    map[string]string `mapstructure:"resellers"`
	ValidityDays int               `mapstructure:"validity_days"`
	Threads      int               `mapstructure:"threads"`
	// AuthHosts replaces the hosts whose catalog classes the provider sells.
	AuthHosts []string `mapstructure:"auth_hosts"`
}

type RegistryConfig struct {
	// Store is file, sqlite or postgres (postgres reads the database.* keys).
	Store      string `mapstructure:"store"`
	Path       string `mapstructure:"path"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

type ServerConfig struct {
	Addr  string `mapstructure:"addr"`
	Token string `mapstructure:"token"`
}

type HeleketConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	MerchantID  string `mapstructure:"merchant_id"`
	CallbackURL string `mapstructure:"callback_url"`
}

type TesterConfig struct {
	Target      string        `mapstructure:"target"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Workers     int           `mapstructure:"workers"`
	LookupIP    bool          `mapstructure:"lookup_ip"`
	IPInfoToken string        `mapstructure:"ipinfo_token"`
}

// SetDefaults registers every key so that environment variables can
// override keys absent from config.yaml.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("provider", string(proxy.SystemNettify))
	v.SetDefault("base_domain", "oceanproxy.io")

	v.SetDefault("providers.nettify.base_url", "https://api.nettify.xyz")
	v.SetDefault("providers.nettify.api_key", "")
	v.SetDefault("providers.nettify.timeout", proxy.DefaultTimeout)
	v.SetDefault("providers.nettify.rate_limit", 5)
	v.SetDefault("providers.nettify.burst", 5)

	v.SetDefault("providers.proxiesfo.base_url", "https://app.proxies.fo/api")
	v.SetDefault("providers.proxiesfo.api_key", "")
	v.SetDefault("providers.proxiesfo.timeout", proxy.DefaultTimeout)
	v.SetDefault("providers.proxiesfo.rate_limit", 2)
	v.SetDefault("providers.proxiesfo.burst", 2)
	v.SetDefault("providers.proxiesfo.validity_days", 180)
	v.SetDefault("providers.proxiesfo.threads", 500)
	v.SetDefault("providers.proxiesfo.resellers.isp", "")
	v.SetDefault("providers.proxiesfo.resellers.datacenter", "")

	v.SetDefault("registry.store", StoreFile)
	v.SetDefault("registry.path", "proxies.json")
	v.SetDefault("registry.sqlite_path", "registry.sqlite")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "proxy_provisioner")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("server.addr", ":9090")
	v.SetDefault("server.token", "")

	v.SetDefault("heleket.base_url", "https://heleket.com/pay")
	v.SetDefault("heleket.merchant_id", "")
	v.SetDefault("heleket.callback_url", "")

	v.SetDefault("tester.target", "https://ipinfo.io/json")
	v.SetDefault("tester.timeout", 30*time.Second)
	v.SetDefault("tester.workers", 4)
	v.SetDefault("tester.lookup_ip", true)
	v.SetDefault("tester.ipinfo_token", "")
}

// Init prepares v: defaults, .env, environment binding and config.yaml. A
// missing config file is not an error; configFile, when set, must exist.
func Init(v *viper.Viper, configFile string) error {
	SetDefaults(v)
	if err := LoadDotEnv(".env"); err != nil {
		return err
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.proxy-provisioner")
		v.AddConfigPath("/etc/proxy-provisioner/")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// LoadDotEnv loads variables from path into the process environment without
// overriding variables already set. A missing file is ignored.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load decodes v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	switch cfg.Registry.Store {
	case StoreFile, StoreSQLite, StorePostgres:
	default:
		return nil, fmt.Errorf("registry.store must be %s, %s or %s, got %q", StoreFile, StoreSQLite, StorePostgres, cfg.Registry.Store)
	}
	if _, err := cfg.Catalog(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Catalog returns the default catalog with the classes section applied.
// Each configured class replaces the built-in entry as a whole.
func (c *Config) Catalog() (models.Catalog, error) {
	catalog := models.DefaultCatalog()
	for name, spec := range c.Classes {
		class := models.PlanClass(strings.ToLower(name))
		if _, ok := catalog[class]; !ok {
			return nil, fmt.Errorf("invalid classes config: %w: %q", models.ErrUnknownClass, name)
		}
		catalog[class] = spec
	}
	if err := catalog.Check(); err != nil {
		return nil, fmt.Errorf("invalid classes config: %w", err)
	}
	return catalog, nil
}

// ProxyConfig builds the client configuration for system, or for the
// configured provider when system is empty.
func (c *Config) ProxyConfig(system string) (proxy.Config, error) {
	if system == "" {
		system = c.Provider
	}
	var p ProviderConfig
	switch proxy.System(system) {
	case proxy.SystemNone:
		return proxy.Config{System: proxy.SystemNone}, nil
	case proxy.SystemNettify:
		p = c.Providers.Nettify
	case proxy.SystemProxiesFo:
		p = c.Providers.ProxiesFo
	default:
		return proxy.Config{}, fmt.Errorf("unsupported provider system: %s", system)
	}

	cfg := proxy.Config{
		System:       proxy.System(system),
		BaseURL:      p.BaseURL,
		APIKey:       p.APIKey,
		Timeout:      p.Timeout,
		RateLimit:    p.RateLimit,
		Burst:        p.Burst,
		ValidityDays: p.ValidityDays,
		Threads:      p.Threads,
		AuthHosts:    p.AuthHosts,
	}
	for class, id := range p.Resellers {
		if id == "" {
			continue
		}
		if cfg.Resellers == nil {
			cfg.Resellers = make(map[models.PlanClass]string)
		}
		cfg.Resellers[models.PlanClass(class)] = id
	}
	return cfg, nil
}

// MaskString hides all but the first and last two characters of a secret.
func MaskString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 6 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
