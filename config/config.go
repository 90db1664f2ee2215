// Package config provides a way to parse a YAML scenario file describing instances and the steps run against them.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/plamorg/tangovim/health"
	"github.com/plamorg/tangovim/logging"
	"github.com/plamorg/tangovim/registry"
	"github.com/plamorg/tangovim/vim"
)

var (
	errInvalidConfig      = fmt.Errorf("invalid config")
	errMustHaveOneKind    = fmt.Errorf("must have exactly one of image, source or existing")
	errDuplicateInstance  = fmt.Errorf("duplicate instance name")
	errNoInstanceWithName = fmt.Errorf("no instance with name")
	errMissingExec        = fmt.Errorf("step must have an exec command")
	errNegativeDuration   = fmt.Errorf("duration must not be negative")
)

// DockerConfig configures the connection to the Docker engine.
// The engine address itself is read from the environment (DOCKER_HOST and friends).
type DockerConfig struct {
	// Timeout bounds every engine request. No timeout when zero.
	Timeout time.Duration `yaml:"timeout"`
	// Progress prints pull and build output.
	Progress bool `yaml:"progress"`
}

// Instance describes one VNF instance.
type Instance struct {
	Name string `yaml:"name"`

	Image    string `yaml:"image"`
	Source   string `yaml:"source"`
	Existing bool   `yaml:"existing"`

	vim.SourceOptions `yaml:",inline"`

	Health *health.Info `yaml:"health"`
}

// kinds are the mutually exclusive ways of providing an instance.
type kinds struct {
	Image    string
	Source   string
	Existing bool
}

func (i *Instance) validate() error {
	if err := vim.ValidateName(i.Name); err != nil {
		return err
	}
	v := reflect.ValueOf(kinds{Image: i.Image, Source: i.Source, Existing: i.Existing})
	count := 0
	for j := 0; j < v.NumField(); j++ {
		if !v.Field(j).IsZero() {
			count++
		}
	}
	if count != 1 {
		return fmt.Errorf("%s: %w", i.Name, errMustHaveOneKind)
	}
	if i.Health != nil && (i.Health.Interval < 0 || i.Health.Timeout < 0) {
		return fmt.Errorf("%s: health: %w", i.Name, errNegativeDuration)
	}
	return nil
}

// Step is a command run inside an instance, with its expected outcome.
type Step struct {
	Name     string `yaml:"name"`
	Instance string `yaml:"instance"`
	Exec     string `yaml:"exec"`

	// ExpectExitCode defaults to 0.
	ExpectExitCode *int `yaml:"expectExitCode"`
	// ExpectOutput must be contained in the combined output when set.
	ExpectOutput string        `yaml:"expectOutput"`
	Timeout      time.Duration `yaml:"timeout"`
}

// ExitCode returns the expected exit code of the step.
func (s *Step) ExitCode() int {
	if s.ExpectExitCode == nil {
		return 0
	}
	return *s.ExpectExitCode
}

// Config represents a scenario run against a Docker VIM.
type Config struct {
	Log      logging.Config  `yaml:"log"`
	Docker   DockerConfig    `yaml:"docker"`
	Registry registry.Config `yaml:"registry"`

	Instances []Instance `yaml:"instances"`
	Steps     []Step     `yaml:"steps"`
}

func (c *Config) validate() error {
	if c.Docker.Timeout < 0 {
		return fmt.Errorf("docker timeout: %w", errNegativeDuration)
	}
	names := make(map[string]bool)
	for i := range c.Instances {
		instance := &c.Instances[i]
		if err := instance.validate(); err != nil {
			return err
		}
		if names[instance.Name] {
			return fmt.Errorf("%w: %s", errDuplicateInstance, instance.Name)
		}
		names[instance.Name] = true
	}
	for i, step := range c.Steps {
		if !names[step.Instance] {
			return fmt.Errorf("step %d: %w: %q", i+1, errNoInstanceWithName, step.Instance)
		}
		if step.Exec == "" {
			return fmt.Errorf("step %d: %w", i+1, errMissingExec)
		}
		if step.Timeout < 0 {
			return fmt.Errorf("step %d: timeout: %w", i+1, errNegativeDuration)
		}
	}
	return nil
}

// Parse parses data as YAML to return a Config.
func Parse(data []byte) (*Config, error) {
	var config Config
	decoder := yaml.NewDecoder(bytes.NewBuffer(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidConfig, err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidConfig, err)
	}

	return &config, nil
}

// Load reads and parses the scenario at path.
// Relative instance sources are resolved against the directory of path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	config, err := Parse(data)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	for i := range config.Instances {
		source := config.Instances[i].Source
		if source != "" && !filepath.IsAbs(source) {
			config.Instances[i].Source = filepath.Join(dir, source)
		}
	}
	return config, nil
}
