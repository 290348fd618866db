// Package gatewayproxy implements the gateway's reverse-proxy core: YAML
// route configuration, prefix/exact route matching, a health-aware load
// balancer, a per-upstream circuit breaker, CORS, and atomic metrics.
package gatewayproxy

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the top-level gateway routing configuration, loaded from YAML.
type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Upstreams map[string]UpstreamConfig `yaml:"upstreams"`
	Routes    []RouteConfig             `yaml:"routes"`
}

// ServerConfig holds gateway-wide HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// UpstreamConfig is a named pool of backend servers sharing a load-balancing
// policy and optional health checker.
type UpstreamConfig struct {
	Servers       []string           `yaml:"servers"`
	LoadBalancing string             `yaml:"load_balancing"` // round_robin (default), random, least_connections, weighted_round_robin
	Weights       map[string]int     `yaml:"weights"`        // server -> weight, only used by weighted_round_robin
	HealthCheck   *HealthCheckConfig `yaml:"health_check"`
}

// HealthCheckConfig configures a background health checker for an upstream.
type HealthCheckConfig struct {
	Interval           time.Duration `yaml:"interval"`
	Timeout            time.Duration `yaml:"timeout"`
	Path               string        `yaml:"path"`
	ExpectedStatus     []int         `yaml:"expected_status"`
	HealthyThreshold   int           `yaml:"healthy_threshold"`
	UnhealthyThreshold int           `yaml:"unhealthy_threshold"`
}

// RouteConfig matches an incoming request to an upstream.
type RouteConfig struct {
	Path        string   `yaml:"path"`
	Methods     []string `yaml:"methods"`
	Upstream    string   `yaml:"upstream"`
	StripPrefix string   `yaml:"strip_prefix"`
	CORSEnabled *bool    `yaml:"cors_enabled"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// CORSEnabledOrDefault reports whether CORS is enabled for the route,
// defaulting to true for /api/* routes when unset.
func (r RouteConfig) CORSEnabledOrDefault() bool {
	if r.CORSEnabled != nil {
		return *r.CORSEnabled
	}
	return len(r.Path) >= 5 && r.Path[:5] == "/api/"
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(name); ok {
			return []byte(val)
		}
		return match
	})
}

// configSearchPaths returns the ordered list of candidate config file
// locations: an explicit GATEWAY_CONFIG env var, then common container
// paths, then the current working directory, then the directory the
// running binary lives in.
func configSearchPaths() []string {
	var paths []string
	if p := os.Getenv("GATEWAY_CONFIG"); p != "" {
		paths = append(paths, p)
	}
	paths = append(paths,
		"/etc/fechatter/gateway.yaml",
		"/config/gateway.yaml",
		"gateway.yaml",
		"./gateway.yaml",
	)
	if exe, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(exe), "gateway.yaml"))
	}
	return paths
}

// Load finds the first existing config file in the search order and parses
// it, expanding ${VAR} references against the process environment.
func Load() (*Config, error) {
	for _, path := range configSearchPaths() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return LoadFile(path)
	}
	return nil, fmt.Errorf("gatewayproxy: no config file found in search path")
}

// LoadFile parses the YAML config at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gateway config: %w", err)
	}
	data = expandEnv(data)

	cfg := &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse gateway config: %w", err)
	}
	return cfg, nil
}
