// Package config loads the workspace daemon configuration.
package config

import (
	"cmp"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bayleafwalker/bindery-workspace/internal/lifecycle"
)

// FileName is looked up in the workspace root when no path is given.
const FileName = "bindery-workspace.yaml"

const (
	EnvRoot          = "BINDERY_WS_ROOT"
	EnvCoalesceDelay = "BINDERY_WS_COALESCE_DELAY"
	EnvSnapshot      = "BINDERY_WS_SNAPSHOT"
	EnvNATSURL       = "BINDERY_WS_NATS_URL"
	EnvRepository    = "BINDERY_WS_REPOSITORY"
)

type Config struct {
	// Root is the workspace directory scanned for descriptors.
	Root string `yaml:"root"`
	// Descriptors are doublestar patterns relative to Root.
	Descriptors []string `yaml:"descriptors"`
	Exclude     []string `yaml:"exclude"`
	// MetadataFiles are tracked per module, relative to its directory.
	MetadataFiles []string `yaml:"metadataFiles"`
	// Repository is the local artifact repository directory.
	Repository    string        `yaml:"repository"`
	CoalesceDelay time.Duration `yaml:"coalesceDelay"`
	// Snapshot is the SQLite file used to persist the workspace. Empty
	// disables persistence.
	Snapshot  string            `yaml:"snapshot"`
	Lifecycle []LifecycleConfig `yaml:"lifecycle"`
	NATS      NATSConfig        `yaml:"nats"`
	Server    ServerConfig      `yaml:"server"`
}

// LifecycleConfig maps a packaging to build participants.
type LifecycleConfig struct {
	Packaging string   `yaml:"packaging,omitempty"`
	ID        string   `yaml:"id,omitempty"`
	Steps     []string `yaml:"steps,omitempty"`
}

type NATSConfig struct {
	// URL enables event publishing when set.
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type ServerConfig struct {
	MetricsAddr string `yaml:"metricsAddr"`
	ProbeAddr   string `yaml:"probeAddr"`
	GRPCAddr    string `yaml:"grpcAddr"`
}

func DefaultConfig() *Config {
	return &Config{
		Root:          ".",
		Descriptors:   []string{"**/module.yaml"},
		Exclude:       []string{"**/.git/**", "**/target/**", "**/node_modules/**"},
		MetadataFiles: []string{".bindery/settings.yaml"},
		Repository:    filepath.Join(".bindery", "repository"),
		CoalesceDelay: 500 * time.Millisecond,
		Snapshot:      filepath.Join(".bindery", "workspace.db"),
		Lifecycle: []LifecycleConfig{
			{Packaging: "jar", ID: "java", Steps: []string{"resources", "compile", "test-resources", "test-compile"}},
			{Packaging: "pom", ID: "noop"},
		},
		NATS: NATSConfig{Subject: "bindery.workspace.modules"},
		Server: ServerConfig{
			MetricsAddr: ":8080",
			ProbeAddr:   ":8081",
			GRPCAddr:    ":50051",
		},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv(EnvRoot); v != "" {
		c.Root = v
	}
	if v := os.Getenv(EnvCoalesceDelay); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvCoalesceDelay, err)
		}
		c.CoalesceDelay = d
	}
	if v, ok := os.LookupEnv(EnvSnapshot); ok {
		c.Snapshot = v
	}
	if v := os.Getenv(EnvNATSURL); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv(EnvRepository); v != "" {
		c.Repository = v
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("workspace root not configured (set root or %s)", EnvRoot)
	}
	if len(c.Descriptors) == 0 {
		return fmt.Errorf("no descriptor patterns configured")
	}
	if c.CoalesceDelay < 0 {
		return fmt.Errorf("coalesceDelay must not be negative: %s", c.CoalesceDelay)
	}
	for _, l := range c.Lifecycle {
		if l.Packaging == "" && l.ID == "" {
			return fmt.Errorf("lifecycle mapping needs a packaging or an id")
		}
	}
	return nil
}

// Resolve returns p relative to Root unless it is absolute.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}

// LifecycleRegistry builds the strategy registry for the configured
// mappings. Mappings without steps register the no-op strategy.
func (c *Config) LifecycleRegistry() *lifecycle.Registry {
	r := lifecycle.NewRegistry()
	for _, l := range c.Lifecycle {
		var s lifecycle.Strategy = lifecycle.Noop{}
		if len(l.Steps) > 0 {
			s = lifecycle.Mapping{Name: cmp.Or(l.ID, l.Packaging), Steps: l.Steps}
		}
		if l.Packaging == "" {
			r.RegisterID(s)
			continue
		}
		r.Register(l.Packaging, s)
	}
	return r
}
