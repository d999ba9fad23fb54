package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Backend names.
const (
	BackendAWS       = "aws"
	BackendKube      = "kube"
	BackendInventory = "inventory"
)

// Config captures the runtime settings for the agent.
type Config struct {
	ListenAddr             string             `yaml:"listenAddr" validate:"required"`
	LogLevel               string             `yaml:"logLevel" validate:"oneof=debug info warn warning error"`
	Backend                string             `yaml:"backend" validate:"oneof=aws kube inventory"`
	RefreshIntervalSeconds int                `yaml:"refreshIntervalSeconds"`
	ReportWindowHours      int                `yaml:"reportWindowHours" validate:"gte=1"`
	Detailed               bool               `yaml:"detailed"`
	Sources                SourcesConfig      `yaml:"sources"`
	AWS                    AWSConfig          `yaml:"aws"`
	Kube                   KubeConfig         `yaml:"kube"`
	Inventory              InventoryConfig    `yaml:"inventory"`
	Rates                  map[string]float64 `yaml:"rates" validate:"dive,gte=0"`
}

// SourcesConfig toggles each resource type and names its metric prefix.
type SourcesConfig struct {
	Compute SourceConfig `yaml:"compute"`
	Image   SourceConfig `yaml:"image"`
	Volume  SourceConfig `yaml:"volume"`
}

// SourceConfig is the per-source toggle.
type SourceConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Prefix  string `yaml:"prefix" validate:"required"`
}

// IsEnabled defaults to true when the toggle is unset.
func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// AWSConfig selects the account and the tag that identifies tenants.
type AWSConfig struct {
	Region      string   `yaml:"region"`
	Profile     string   `yaml:"profile"`
	TenantTag   string   `yaml:"tenantTag"`
	ImageOwners []string `yaml:"imageOwners"`
}

// KubeConfig configures the cluster backend. Namespaces are tenants.
type KubeConfig struct {
	KubeconfigPath string `yaml:"kubeconfig"`
	ResyncSeconds  int    `yaml:"resyncSeconds" validate:"gte=0"`
}

// InventoryConfig points at a static YAML inventory.
type InventoryConfig struct {
	Path string `yaml:"path"`
}

// DefaultConfig returns sane defaults for the agent.
func DefaultConfig() Config {
	return Config{
		ListenAddr:             ":8080",
		LogLevel:               "info",
		Backend:                BackendAWS,
		RefreshIntervalSeconds: 300,
		ReportWindowHours:      24,
		Sources: SourcesConfig{
			Compute: SourceConfig{Prefix: "nova"},
			Image:   SourceConfig{Prefix: "glance"},
			Volume:  SourceConfig{Prefix: "cinder"},
		},
		AWS: AWSConfig{
			Region:      "us-east-1",
			TenantTag:   "tenant",
			ImageOwners: []string{"self"},
		},
	}
}

// RefreshInterval returns the configured interval in duration units.
func (c Config) RefreshInterval() time.Duration {
	if c.RefreshIntervalSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.RefreshIntervalSeconds) * time.Second
}

// ReportWindow is the trailing window of the periodic report.
func (c Config) ReportWindow() time.Duration {
	return time.Duration(c.ReportWindowHours) * time.Hour
}

// Load builds the configuration from the process arguments.
func Load() (Config, error) {
	return LoadArgs("tenant-usage-agent", os.Args[1:], nil)
}

// LoadArgs merges defaults, file, environment, and flags, in that order of
// increasing precedence. extra may register additional flags on the same set.
func LoadArgs(name string, args []string, extra func(fs *flag.FlagSet)) (Config, error) {
	cfg := DefaultConfig()

	configFile := envOrDefault("USAGE_CONFIG_FILE", "")
	flagged := DefaultConfig()

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&configFile, "config", configFile, "Path to YAML config file")
	fs.StringVar(&flagged.ListenAddr, "listen-addr", flagged.ListenAddr, "HTTP listen address")
	fs.StringVar(&flagged.LogLevel, "log-level", flagged.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&flagged.Backend, "backend", flagged.Backend, "Inventory backend (aws, kube, inventory)")
	fs.IntVar(&flagged.RefreshIntervalSeconds, "refresh-interval", flagged.RefreshIntervalSeconds, "Periodic report interval in seconds")
	fs.IntVar(&flagged.ReportWindowHours, "report-window", flagged.ReportWindowHours, "Trailing window of the periodic report in hours")
	fs.StringVar(&flagged.AWS.Region, "aws-region", flagged.AWS.Region, "AWS region")
	fs.StringVar(&flagged.AWS.Profile, "aws-profile", flagged.AWS.Profile, "AWS shared config profile")
	fs.StringVar(&flagged.AWS.TenantTag, "tenant-tag", flagged.AWS.TenantTag, "Tag key holding the tenant id")
	fs.StringVar(&flagged.Kube.KubeconfigPath, "kubeconfig", flagged.Kube.KubeconfigPath, "Path to kubeconfig (optional)")
	fs.StringVar(&flagged.Inventory.Path, "inventory", flagged.Inventory.Path, "Path to a YAML inventory file")
	if extra != nil {
		extra(fs)
	}

	if err := fs.Parse(args); err != nil { // flag set already prints errors
		return Config{}, err
	}

	if configFile != "" {
		if err := loadFromFile(configFile, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		applyFlag(&cfg, flagged, f.Name)
	})

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints and backend requirements.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Backend == BackendInventory && c.Inventory.Path == "" {
		return errors.New("invalid config: inventory backend requires inventory.path")
	}
	if c.Backend == BackendAWS && c.AWS.TenantTag == "" {
		return errors.New("invalid config: aws backend requires aws.tenantTag")
	}
	prefixes := map[string]struct{}{}
	for _, p := range []string{c.Sources.Compute.Prefix, c.Sources.Image.Prefix, c.Sources.Volume.Prefix} {
		if _, dup := prefixes[p]; dup {
			return fmt.Errorf("invalid config: metric prefix %q used twice", p)
		}
		prefixes[p] = struct{}{}
	}
	return nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path) // #nosec G304 -- path provided by the operator
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	type fileConfig Config
	var fileCfg fileConfig
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	mergeConfigs(cfg, Config(fileCfg))
	return nil
}

func mergeConfigs(base *Config, override Config) {
	if override.ListenAddr != "" {
		base.ListenAddr = override.ListenAddr
	}
	if override.LogLevel != "" {
		base.LogLevel = override.LogLevel
	}
	if override.Backend != "" {
		base.Backend = override.Backend
	}
	if override.RefreshIntervalSeconds != 0 {
		base.RefreshIntervalSeconds = override.RefreshIntervalSeconds
	}
	if override.ReportWindowHours != 0 {
		base.ReportWindowHours = override.ReportWindowHours
	}
	if override.Detailed {
		base.Detailed = true
	}
	mergeSource(&base.Sources.Compute, override.Sources.Compute)
	mergeSource(&base.Sources.Image, override.Sources.Image)
	mergeSource(&base.Sources.Volume, override.Sources.Volume)
	if override.AWS.Region != "" {
		base.AWS.Region = override.AWS.Region
	}
	if override.AWS.Profile != "" {
		base.AWS.Profile = override.AWS.Profile
	}
	if override.AWS.TenantTag != "" {
		base.AWS.TenantTag = override.AWS.TenantTag
	}
	if len(override.AWS.ImageOwners) > 0 {
		base.AWS.ImageOwners = append([]string{}, override.AWS.ImageOwners...)
	}
	if override.Kube.KubeconfigPath != "" {
		base.Kube.KubeconfigPath = override.Kube.KubeconfigPath
	}
	if override.Kube.ResyncSeconds != 0 {
		base.Kube.ResyncSeconds = override.Kube.ResyncSeconds
	}
	if override.Inventory.Path != "" {
		base.Inventory.Path = override.Inventory.Path
	}
	if override.Rates != nil {
		if base.Rates == nil {
			base.Rates = map[string]float64{}
		}
		for k, v := range override.Rates {
			base.Rates[k] = v
		}
	}
}

func mergeSource(base *SourceConfig, override SourceConfig) {
	if override.Enabled != nil {
		enabled := *override.Enabled
		base.Enabled = &enabled
	}
	if override.Prefix != "" {
		base.Prefix = override.Prefix
	}
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("USAGE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("USAGE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("USAGE_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("USAGE_REFRESH_INTERVAL"); v != "" {
		if iv, err := strconv.Atoi(v); err == nil {
			cfg.RefreshIntervalSeconds = iv
		}
	}
	if v := os.Getenv("USAGE_REPORT_WINDOW_HOURS"); v != "" {
		if iv, err := strconv.Atoi(v); err == nil {
			cfg.ReportWindowHours = iv
		}
	}
	if v := os.Getenv("USAGE_AWS_REGION"); v != "" {
		cfg.AWS.Region = v
	}
	if v := os.Getenv("USAGE_AWS_PROFILE"); v != "" {
		cfg.AWS.Profile = v
	}
	if v := os.Getenv("USAGE_TENANT_TAG"); v != "" {
		cfg.AWS.TenantTag = v
	}
	if v := os.Getenv("USAGE_KUBECONFIG"); v != "" {
		cfg.Kube.KubeconfigPath = v
	}
	if v := os.Getenv("USAGE_INVENTORY_PATH"); v != "" {
		cfg.Inventory.Path = v
	}
	if v := os.Getenv("USAGE_DISABLED_SOURCES"); v != "" {
		for _, name := range strings.Split(v, ",") {
			disabled := false
			switch strings.TrimSpace(name) {
			case "compute":
				cfg.Sources.Compute.Enabled = &disabled
			case "image":
				cfg.Sources.Image.Enabled = &disabled
			case "volume":
				cfg.Sources.Volume.Enabled = &disabled
			case "":
			default:
				return fmt.Errorf("parse USAGE_DISABLED_SOURCES: unknown source %q", strings.TrimSpace(name))
			}
		}
	}
	if v := os.Getenv("USAGE_RATES"); v != "" {
		rates, err := parseRates(v)
		if err != nil {
			return fmt.Errorf("parse USAGE_RATES: %w", err)
		}
		cfg.Rates = rates
	}
	return nil
}

func applyFlag(cfg *Config, flagged Config, name string) {
	switch name {
	case "listen-addr":
		cfg.ListenAddr = flagged.ListenAddr
	case "log-level":
		cfg.LogLevel = flagged.LogLevel
	case "backend":
		cfg.Backend = flagged.Backend
	case "refresh-interval":
		cfg.RefreshIntervalSeconds = flagged.RefreshIntervalSeconds
	case "report-window":
		cfg.ReportWindowHours = flagged.ReportWindowHours
	case "aws-region":
		cfg.AWS.Region = flagged.AWS.Region
	case "aws-profile":
		cfg.AWS.Profile = flagged.AWS.Profile
	case "tenant-tag":
		cfg.AWS.TenantTag = flagged.AWS.TenantTag
	case "kubeconfig":
		cfg.Kube.KubeconfigPath = flagged.Kube.KubeconfigPath
	case "inventory":
		cfg.Inventory.Path = flagged.Inventory.Path
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseRates(raw string) (map[string]float64, error) {
	var parsed map[string]float64
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}
