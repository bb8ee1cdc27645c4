// Copyright 2026 The Anteroom Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "60s" or "2h".
type Duration time.Duration

// UnmarshalYAML accepts Go duration strings and bare integers
// (seconds).
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err == nil {
		parsed, err := time.ParseDuration(text)
		if err != nil {
			return fmt.Errorf("gateway: invalid duration %q: %w", text, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var seconds int64
	if err := value.Decode(&seconds); err != nil {
		return fmt.Errorf("gateway: invalid duration node")
	}
	*d = Duration(time.Duration(seconds) * time.Second)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// FileConfig is the operator-facing YAML configuration. Secrets are
// deliberately absent: they come from the environment only, so a
// config file checked into version control can never leak them.
type FileConfig struct {
	// Listen is the gateway's bind address. Default ":8080".
	Listen string `yaml:"listen"`

	// HealthPath is the liveness endpoint path. Default "/healthz".
	HealthPath string `yaml:"health_path"`

	// Backend configures the per-tenant worker process.
	Backend BackendConfig `yaml:"backend"`

	// ActivityDB is the path of the SQLite activity database. Empty
	// disables activity recording.
	ActivityDB string `yaml:"activity_db"`

	// DevTenant pins every proxied request to a fixed tenant identity
	// for local iteration. Auth endpoints stay truthful regardless.
	DevTenant string `yaml:"dev_tenant"`

	// DebugRoutes enables the operator debug endpoints.
	DebugRoutes bool `yaml:"debug_routes"`

	// SandboxRoot is the directory local sandboxes live under.
	SandboxRoot string `yaml:"sandbox_root"`
}

// BackendConfig describes the tenant backend process.
type BackendConfig struct {
	// Command is the service invocation. Default
	// "anteroom-backend serve --port 3001".
	Command string `yaml:"command"`

	// Port is the backend's fixed internal port. Default 3001.
	Port int `yaml:"port"`

	// StartupTimeout bounds cold-start readiness waits. Default 60s.
	StartupTimeout Duration `yaml:"startup_timeout"`

	// IdleTimeout is how long a tenant may be unseen before its
	// sandbox is considered safe to hibernate. Informational: surfaced
	// through the activity store, not enforced by the gateway.
	IdleTimeout Duration `yaml:"idle_timeout"`
}

// Secrets holds the operator-managed secrets, environment-only.
type Secrets struct {
	// SigningSecret signs session tokens. Required for login.
	SigningSecret string

	// EncryptionSecret encrypts stored tenant credentials. Required
	// for login.
	EncryptionSecret string

	// GatewayToken is the internal token injected into backend
	// traffic. Optional.
	GatewayToken string

	// APIBase overrides the identity validation endpoint. Optional.
	APIBase string
}

// SecretsFromEnv reads the secret surface from the environment.
// Missing required secrets are not an error here: the gateway starts
// and serves everything except login, which degrades to a 500
// configuration error.
func SecretsFromEnv() Secrets {
	return Secrets{
		SigningSecret:    os.Getenv("ANTEROOM_SESSION_SECRET"),
		EncryptionSecret: os.Getenv("ANTEROOM_ENCRYPTION_SECRET"),
		GatewayToken:     os.Getenv("ANTEROOM_GATEWAY_TOKEN"),
		APIBase:          os.Getenv("ANTEROOM_API_BASE"),
	}
}

// LoadFileConfig reads and validates a YAML config file. An empty path
// returns defaults.
func LoadFileConfig(path string) (*FileConfig, error) {
	config := &FileConfig{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("gateway: reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("gateway: parsing config %s: %w", path, err)
		}
	}
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *FileConfig) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.HealthPath == "" {
		c.HealthPath = "/healthz"
	}
	if c.Backend.Command == "" {
		c.Backend.Command = "anteroom-backend serve --port 3001"
	}
	if c.Backend.Port == 0 {
		c.Backend.Port = 3001
	}
	if c.Backend.StartupTimeout == 0 {
		c.Backend.StartupTimeout = Duration(60 * time.Second)
	}
	if c.SandboxRoot == "" {
		c.SandboxRoot = "/var/lib/anteroom/sandboxes"
	}
}

func (c *FileConfig) validate() error {
	if c.Backend.Port < 1 || c.Backend.Port > 65535 {
		return fmt.Errorf("gateway: backend port %d out of range", c.Backend.Port)
	}
	if c.Backend.StartupTimeout < 0 {
		return fmt.Errorf("gateway: negative startup timeout")
	}
	if c.HealthPath[0] != '/' {
		return fmt.Errorf("gateway: health path %q must start with /", c.HealthPath)
	}
	return nil
}
