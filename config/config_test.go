package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/plamorg/tangovim/health"
	"github.com/plamorg/tangovim/logging"
	"github.com/plamorg/tangovim/registry"
	"github.com/plamorg/tangovim/vim"
)

func intPtr(i int) *int { return &i }

func TestParseInvalidSyntax(t *testing.T) {
	data := []byte(`
instances:
    - 123
    - "abc"`)
	_, err := Parse(data)

	if err == nil {
		t.Errorf("expected error, got nil")
	}
}

func TestParse(t *testing.T) {
	tests := map[string]struct {
		config         string
		expectedConfig *Config
		err            error
	}{
		"empty config": {
			config:         "",
			expectedConfig: nil,
			err:            errInvalidConfig,
		},
		"no instances": {
			config:         "instances:",
			expectedConfig: &Config{},
			err:            nil,
		},
		"image instance": {
			config: `
instances:
  - name: vnf1
    image: ubuntu:22.04
    command: sleep infinity
    env: ["MODE=fw"]
    networks: [mgmt, data]`,
			expectedConfig: &Config{
				Instances: []Instance{
					{
						Name:  "vnf1",
						Image: "ubuntu:22.04",
						SourceOptions: vim.SourceOptions{
							Run: vim.RunOptions{
								Command:  "sleep infinity",
								Env:      []string{"MODE=fw"},
								Networks: []string{"mgmt", "data"},
							},
						},
					},
				},
			},
			err: nil,
		},
		"source instance with health": {
			config: `
instances:
  - name: vnf2
    source: ./vnf2
    imageName: vnfs/vnf2:dev
    noCache: true
    buildArgs:
      VERSION: "1.2"
    health:
      command: test -f /ready
      interval: 500ms
      retries: 5`,
			expectedConfig: &Config{
				Instances: []Instance{
					{
						Name:   "vnf2",
						Source: "./vnf2",
						SourceOptions: vim.SourceOptions{
							ImageName: "vnfs/vnf2:dev",
							NoCache:   true,
							BuildArgs: map[string]*string{"VERSION": func() *string { s := "1.2"; return &s }()},
						},
						Health: &health.Info{
							Command:  "test -f /ready",
							Interval: 500 * time.Millisecond,
							Retries:  5,
						},
					},
				},
			},
			err: nil,
		},
		"steps": {
			config: `
instances:
  - name: vnf1
    existing: true
steps:
  - name: reachable
    instance: vnf1
    exec: ping -c 1 10.0.0.1
  - instance: vnf1
    exec: "false"
    expectExitCode: 1
    expectOutput: ""
    timeout: 5s`,
			expectedConfig: &Config{
				Instances: []Instance{{Name: "vnf1", Existing: true}},
				Steps: []Step{
					{Name: "reachable", Instance: "vnf1", Exec: "ping -c 1 10.0.0.1"},
					{Instance: "vnf1", Exec: "false", ExpectExitCode: intPtr(1), Timeout: 5 * time.Second},
				},
			},
			err: nil,
		},
		"log, docker and registry configuration": {
			config: `
log:
  level: "warn"
  handler: "json"
docker:
  timeout: 10m
  progress: true
registry:
  defaultRegistry: registry.example.com
  insecure: true`,
			expectedConfig: &Config{
				Log:      logging.Config{Level: "warn", Handler: "json"},
				Docker:   DockerConfig{Timeout: 10 * time.Minute, Progress: true},
				Registry: registry.Config{DefaultRegistry: "registry.example.com", Insecure: true},
			},
			err: nil,
		},
		"unknown field": {
			config: `
instances:
  - name: vnf1
    image: ubuntu
    thisFieldDoesNotExist: true`,
			expectedConfig: nil,
			err:            errInvalidConfig,
		},
		"instance with image and source": {
			config: `
instances:
  - name: vnf1
    image: ubuntu
    source: ./vnf1`,
			expectedConfig: nil,
			err:            errMustHaveOneKind,
		},
		"instance with neither image nor source": {
			config: `
instances:
  - name: vnf1`,
			expectedConfig: nil,
			err:            errMustHaveOneKind,
		},
		"duplicate instance": {
			config: `
instances:
  - name: vnf1
    image: ubuntu
  - name: vnf1
    image: alpine`,
			expectedConfig: nil,
			err:            errDuplicateInstance,
		},
		"invalid instance name": {
			config: `
instances:
  - name: "vnf/1"
    image: ubuntu`,
			expectedConfig: nil,
			err:            errInvalidConfig,
		},
		"step with unknown instance": {
			config: `
instances:
  - name: vnf1
    image: ubuntu
steps:
  - instance: vnf2
    exec: "true"`,
			expectedConfig: nil,
			err:            errNoInstanceWithName,
		},
		"step without exec": {
			config: `
instances:
  - name: vnf1
    image: ubuntu
steps:
  - instance: vnf1`,
			expectedConfig: nil,
			err:            errMissingExec,
		},
		"negative timeout": {
			config: `
docker:
  timeout: -1s`,
			expectedConfig: nil,
			err:            errNegativeDuration,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			config, err := Parse([]byte(test.config))
			if !errors.Is(err, test.err) {
				t.Fatalf("expected error %v got error %v", test.err, err)
			}
			if !reflect.DeepEqual(test.expectedConfig, config) {
				t.Errorf("expected config %+v got config %+v", test.expectedConfig, config)
			}
		})
	}
}

func TestStepExitCode(t *testing.T) {
	if code := (&Step{}).ExitCode(); code != 0 {
		t.Errorf("expected default exit code 0, got %d", code)
	}
	if code := (&Step{ExpectExitCode: intPtr(2)}).ExitCode(); code != 2 {
		t.Errorf("expected exit code 2, got %d", code)
	}
}

func TestLoadResolvesSources(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.yml")
	data := []byte(`
instances:
  - name: relative
    source: ./vnf
  - name: absolute
    source: /opt/vnf
  - name: image
    image: ubuntu`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	config, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}

	expected := []string{filepath.Join(dir, "vnf"), "/opt/vnf", ""}
	for i, instance := range config.Instances {
		if instance.Source != expected[i] {
			t.Errorf("expected source %q got %q", expected[i], instance.Source)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected error %v got %v", os.ErrNotExist, err)
	}
}
