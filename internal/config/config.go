// internal/config/config.go
//
// This package handles configuration and the .crucible directory structure.
// Every project that uses Crucible gets a .crucible/ folder created in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// CrucibleDir is the name of the directory we create in each project
	CrucibleDir = ".crucible"

	defaultProvider = "anthropic"
	defaultAutonomy = "supervised"
)

const defaultProjectConfigYAML = `# crucible project configuration
version: 1

project:
  id: 1
  name: ""

# Worker pool tuning. Capacity is the hard ceiling on concurrent workers.
pool:
  capacity: 10
  retire_after_minutes: 10
  retry_budget: 3
  provider: anthropic
  autonomy: supervised

# HTTP bridge for observers and external collaborators.
bridge:
  enabled: true
  host: 127.0.0.1
  port: 8765
`

// ProjectRef identifies the project this configuration governs.
type ProjectRef struct {
	ID   int64  `yaml:"id"`
	Name string `yaml:"name,omitempty"`
}

// PoolConfig tunes the worker pool coordinator.
type PoolConfig struct {
	Capacity           int    `yaml:"capacity"`
	RetireAfterMinutes int    `yaml:"retire_after_minutes"`
	RetryBudget        int    `yaml:"retry_budget"`
	Provider           string `yaml:"provider,omitempty"`
	Autonomy           string `yaml:"autonomy,omitempty"`
}

// BridgeConfig captures the HTTP bridge listener preferences.
type BridgeConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Host    string `yaml:"host,omitempty"`
	Port    int    `yaml:"port,omitempty"`
}

// ProjectConfig models .crucible/config.yaml.
type ProjectConfig struct {
	Version int           `yaml:"version"`
	Project ProjectRef    `yaml:"project"`
	Pool    PoolConfig    `yaml:"pool"`
	Bridge  BridgeConfig  `yaml:"bridge"`
}

// Config holds the runtime configuration for Crucible.
type Config struct {
	// ProjectDir is the directory where the user ran `crucible` from
	ProjectDir string

	// CrucibleProjectDir is ProjectDir/.crucible
	CrucibleProjectDir string

	Project ProjectConfig
}

// InitCrucibleDir creates the .crucible directory structure in the given
// project directory.
//
// Structure created:
// .crucible/
// ├── logs/     <- Structured logs
// ├── journal/  <- Durable event journal
// └── state/    <- Persisted state between runs
func InitCrucibleDir(projectDir string) error {
	crucibleDir := filepath.Join(projectDir, CrucibleDir)

	dirs := []string{
		filepath.Join(crucibleDir, "logs"),
		filepath.Join(crucibleDir, "journal"),
		filepath.Join(crucibleDir, "state"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return ensureProjectConfig(filepath.Join(crucibleDir, "config.yaml"))
}

// NewConfig creates a new Config instance populated with project settings.
func NewConfig(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir:         projectDir,
		CrucibleProjectDir: filepath.Join(projectDir, CrucibleDir),
		Project:            defaultProjectConfig(),
	}

	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.CrucibleProjectDir, "logs")
}

// JournalDir returns the path to the event journal directory
func (c *Config) JournalDir() string {
	return filepath.Join(c.CrucibleProjectDir, "journal")
}

// StateDir returns the path to the state directory
func (c *Config) StateDir() string {
	return filepath.Join(c.CrucibleProjectDir, "state")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.CrucibleProjectDir, "config.yaml")
}

// ProjectID returns the configured project identifier.
func (c *Config) ProjectID() int64 {
	return c.Project.Project.ID
}

// PoolCapacity returns the worker pool ceiling.
func (c *Config) PoolCapacity() int {
	return c.Project.Pool.Capacity
}

// RetireAfter returns how long a worker may sit idle before retirement.
func (c *Config) RetireAfter() time.Duration {
	return time.Duration(c.Project.Pool.RetireAfterMinutes) * time.Minute
}

// RetryBudget returns the per-task failure budget.
func (c *Config) RetryBudget() int {
	return c.Project.Pool.RetryBudget
}

// Provider returns the model provider assigned to new workers.
func (c *Config) Provider() string {
	return c.Project.Pool.Provider
}

// Autonomy returns the autonomy level assigned to new workers.
func (c *Config) Autonomy() string {
	return c.Project.Pool.Autonomy
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version: 1,
		Project: ProjectRef{ID: 1},
		Pool: PoolConfig{
			Capacity:           10,
			RetireAfterMinutes: 10,
			RetryBudget:        3,
			Provider:           defaultProvider,
			Autonomy:           defaultAutonomy,
		},
	}
}

func (pc *ProjectConfig) applyDefaults() {
	defaults := defaultProjectConfig()
	if pc.Version == 0 {
		pc.Version = defaults.Version
	}
	if pc.Project.ID == 0 {
		pc.Project.ID = defaults.Project.ID
	}
	if pc.Pool.Capacity == 0 {
		pc.Pool.Capacity = defaults.Pool.Capacity
	}
	if pc.Pool.RetireAfterMinutes == 0 {
		pc.Pool.RetireAfterMinutes = defaults.Pool.RetireAfterMinutes
	}
	if pc.Pool.RetryBudget == 0 {
		pc.Pool.RetryBudget = defaults.Pool.RetryBudget
	}
	if strings.TrimSpace(pc.Pool.Provider) == "" {
		pc.Pool.Provider = defaults.Pool.Provider
	}
	if strings.TrimSpace(pc.Pool.Autonomy) == "" {
		pc.Pool.Autonomy = defaults.Pool.Autonomy
	}
}

func (pc *ProjectConfig) normalize() {
	pc.Project.Name = strings.TrimSpace(pc.Project.Name)
	pc.Pool.Provider = strings.ToLower(strings.TrimSpace(pc.Pool.Provider))
	pc.Pool.Autonomy = strings.ToLower(strings.TrimSpace(pc.Pool.Autonomy))
	pc.Bridge.Host = strings.TrimSpace(pc.Bridge.Host)
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if pc.Project.ID < 1 {
		return fmt.Errorf("project.id must be >= 1")
	}
	if pc.Pool.Capacity < 1 {
		return fmt.Errorf("pool.capacity must be >= 1")
	}
	if pc.Pool.RetireAfterMinutes < 1 {
		return fmt.Errorf("pool.retire_after_minutes must be >= 1")
	}
	if pc.Pool.RetryBudget < 1 {
		return fmt.Errorf("pool.retry_budget must be >= 1")
	}
	if pc.Bridge.Port != 0 && (pc.Bridge.Port < 1 || pc.Bridge.Port > 65535) {
		return fmt.Errorf("bridge.port must be between 1 and 65535")
	}
	return nil
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0644)
}

// Save persists the configuration back to .crucible/config.yaml.
func (c *Config) Save() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	c.Project.applyDefaults()
	c.Project.normalize()
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(c.CrucibleProjectDir, 0o755); err != nil {
		return fmt.Errorf("config: ensure crucible dir: %w", err)
	}
	data, err := yaml.Marshal(c.Project)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.ProjectConfigPath(), data, 0644); err != nil {
		return fmt.Errorf("config: write project config: %w", err)
	}
	return nil
}
