// Package pipeline runs the CI stages declared in a pipeline file in order,
// reporting each one to GitHub.
package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the pipeline file
type Config struct {
	Project string        `yaml:"project"`
	WorkDir string        `yaml:"workdir"`
	GitHub  GitHubConfig  `yaml:"github"`
	Stages  []Stage       `yaml:"stages"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// GitHubConfig controls status reporting
type GitHubConfig struct {
	Owner string `yaml:"owner"`
	Repo  string `yaml:"repo"`
	// StatusPrefix is prepended to each stage's status context
	StatusPrefix string `yaml:"status_prefix"`
}

// MetricsConfig controls the optional Pushgateway push
type MetricsConfig struct {
	Pushgateway string `yaml:"pushgateway"`
	Job         string `yaml:"job"`
}

// Stage is one step of the pipeline. Either Builtin or Command is set.
type Stage struct {
	Name         string            `yaml:"name"`
	Builtin      string            `yaml:"builtin"`
	Command      []string          `yaml:"command"`
	Dir          string            `yaml:"dir"`
	Env          map[string]string `yaml:"env"`
	Status       string            `yaml:"status"`
	AllowFailure bool              `yaml:"allow_failure"`
	Retries      int               `yaml:"retries"`
	Timeout      time.Duration     `yaml:"timeout"`
}

// LoadConfig reads and validates a pipeline file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("invalid pipeline file %s: %w", path, err)
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Dir(path)
	}
	return cfg, nil
}

// ParseConfig decodes and validates pipeline YAML
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if cfg.GitHub.StatusPrefix == "" {
		cfg.GitHub.StatusPrefix = "ci/jenkins"
	}
	if cfg.Metrics.Job == "" {
		cfg.Metrics.Job = "ci_pipeline"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks stage definitions
func (c *Config) Validate() error {
	if len(c.Stages) == 0 {
		return errors.New("no stages defined")
	}
	if (c.GitHub.Owner == "") != (c.GitHub.Repo == "") {
		return errors.New("github.owner and github.repo must be set together")
	}
	seen := map[string]bool{}
	for i, s := range c.Stages {
		if s.Name == "" {
			return fmt.Errorf("stage %d has no name", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate stage %q", s.Name)
		}
		seen[s.Name] = true

		switch {
		case s.Builtin != "" && len(s.Command) > 0:
			return fmt.Errorf("stage %q sets both builtin and command", s.Name)
		case s.Builtin == "" && len(s.Command) == 0:
			return fmt.Errorf("stage %q needs a builtin or a command", s.Name)
		case s.Builtin != "":
			if _, ok := builtinScripts[s.Builtin]; !ok && s.Builtin != BuiltinInstall {
				return fmt.Errorf("stage %q: unknown builtin %q (known: %v)", s.Name, s.Builtin, BuiltinNames())
			}
		}
		if s.Retries < 0 {
			return fmt.Errorf("stage %q: retries cannot be negative", s.Name)
		}
	}
	return nil
}

// StatusContext returns the GitHub status context for s
func (c *Config) StatusContext(s Stage) string {
	name := s.Status
	if name == "" {
		name = s.Name
	}
	return c.GitHub.StatusPrefix + "/" + name
}

// BuiltinNames lists the built-in stage names
func BuiltinNames() []string {
	names := []string{BuiltinInstall}
	for n := range builtinScripts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
