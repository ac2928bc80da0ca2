// Package config loads the gateway's process configuration from layered
// sources with precedence defaults < env < YAML file < CLI flags,
// following the teacher's config.Source / Initialize(ctx, nil, sources...)
// pattern.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/accesspoint/gateway/internal/obslog"
	"github.com/accesspoint/gateway/internal/registry"
	"github.com/goccy/go-yaml"
)

// Config is the fully-resolved process configuration. Resource fields are
// keyed by each resource's own ID for O(1) lookup throughout the rest of
// the gateway (ApplyShorthand, ToSnapshot); the on-disk YAML file shapes
// them as ID-carrying sequences instead (see configFile), so yamlSource
// converts between the two at load time rather than unmarshaling directly
// into Config.
type Config struct {
	Port        int
	TLSPort     int // 0 disables the TLS listener; SSL resources still feed the admin plane either way
	LogLevel    obslog.LogLevel
	LogJSON     bool
	AdminAPIKey string
	Upstreams   map[string]*registry.Upstream
	Services    map[string]*registry.Service
	Routes      map[string]*registry.Route
	GlobalRules map[string]*registry.GlobalRule
	SSLs        map[string]*registry.SSL
	McpServices map[string]*registry.McpService
}

func defaultConfig() *Config {
	return &Config{
		Port:        4000,
		LogLevel:    obslog.InfoLevel,
		LogJSON:     false,
		Upstreams:   map[string]*registry.Upstream{},
		Services:    map[string]*registry.Service{},
		Routes:      map[string]*registry.Route{},
		GlobalRules: map[string]*registry.GlobalRule{},
		SSLs:        map[string]*registry.SSL{},
		McpServices: map[string]*registry.McpService{},
	}
}

// Source mutates a Config in place, returning an error if its input is
// malformed. Sources are applied in increasing-precedence order.
type Source interface {
	Apply(cfg *Config) error
}

type defaultSource struct{}

func NewDefaultProvider() Source { return defaultSource{} }

func (defaultSource) Apply(cfg *Config) error { return nil } // cfg already starts from defaultConfig()

type envSource struct{}

func NewEnvProvider() Source { return envSource{} }

func (envSource) Apply(cfg *Config) error {
	if v := os.Getenv("GATEWAY_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GATEWAY_PORT: %w", err)
		}
		cfg.Port = p
	}
	if v := os.Getenv("GATEWAY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = obslog.LogLevel(v)
	}
	if v := os.Getenv("GATEWAY_ADMIN_API_KEY"); v != "" {
		cfg.AdminAPIKey = v
	}
	return nil
}

// configFile mirrors the on-disk YAML shape: each resource collection is a
// sequence of entries self-identifying via their own "id" field, not an
// id-keyed mapping. A sequence cannot unmarshal into Config's maps
// directly, so yamlSource decodes into this shape first and folds each
// entry into Config's maps by ID afterward.
type configFile struct {
	Port        int                    `yaml:"port"`
	TLSPort     int                    `yaml:"tls_port"`
	LogLevel    string                 `yaml:"log_level"`
	LogJSON     bool                   `yaml:"log_json"`
	AdminAPIKey string                 `yaml:"admin_api_key"`
	Upstreams   []*registry.Upstream   `yaml:"upstreams"`
	Services    []*registry.Service    `yaml:"services"`
	Routes      []*registry.Route      `yaml:"routes"`
	GlobalRules []*registry.GlobalRule `yaml:"global_rules"`
	SSLs        []*registry.SSL        `yaml:"ssls"`
	McpServices []*registry.McpService `yaml:"mcps"`
}

type yamlSource struct {
	path string
}

func NewYAMLProvider(path string) Source { return yamlSource{path: path} }

func (s yamlSource) Apply(cfg *Config) error {
	if s.path == "" {
		return nil
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", s.path, err)
	}
	var doc configFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parsing config file %s: %w", s.path, err)
	}

	if doc.Port != 0 {
		cfg.Port = doc.Port
	}
	if doc.TLSPort != 0 {
		cfg.TLSPort = doc.TLSPort
	}
	if doc.LogLevel != "" {
		cfg.LogLevel = obslog.LogLevel(doc.LogLevel)
	}
	cfg.LogJSON = cfg.LogJSON || doc.LogJSON
	if doc.AdminAPIKey != "" {
		cfg.AdminAPIKey = doc.AdminAPIKey
	}
	for _, u := range doc.Upstreams {
		cfg.Upstreams[u.ID] = u
	}
	for _, svc := range doc.Services {
		cfg.Services[svc.ID] = svc
	}
	for _, r := range doc.Routes {
		cfg.Routes[r.ID] = r
	}
	for _, g := range doc.GlobalRules {
		cfg.GlobalRules[g.ID] = g
	}
	for _, ssl := range doc.SSLs {
		cfg.SSLs[ssl.ID] = ssl
	}
	for _, m := range doc.McpServices {
		cfg.McpServices[m.ID] = m
	}
	return nil
}

// CLIFlags holds the subset of cobra flags that can override config.
type CLIFlags struct {
	Port     int
	HasPort  bool
	LogLevel string
}

type cliSource struct {
	flags CLIFlags
}

func NewCLIProvider(flags CLIFlags) Source { return cliSource{flags: flags} }

func (s cliSource) Apply(cfg *Config) error {
	if s.flags.HasPort {
		cfg.Port = s.flags.Port
	}
	if s.flags.LogLevel != "" {
		cfg.LogLevel = obslog.LogLevel(s.flags.LogLevel)
	}
	return nil
}

// Initialize builds a Config by applying sources in order over the
// built-in defaults, mirroring the teacher's
// config.Initialize(ctx, nil, sources...) call shape.
func Initialize(ctx context.Context, base *Config, sources ...Source) (*Config, error) {
	cfg := base
	if cfg == nil {
		cfg = defaultConfig()
	}
	for _, src := range sources {
		if err := src.Apply(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// ToSnapshot converts the resolved Config's resource maps into a registry
// snapshot suitable for Registry.LoadSnapshot at bootstrap.
func (c *Config) ToSnapshot() *registry.Snapshot {
	return &registry.Snapshot{
		Upstreams:   c.Upstreams,
		Services:    c.Services,
		Routes:      c.Routes,
		GlobalRules: c.GlobalRules,
		SSLs:        c.SSLs,
		McpServices: c.McpServices,
	}
}
