package vim

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/distribution/reference"
	"github.com/google/shlex"
)

// DefaultCommand keeps an instance alive: bash waits on the allocated TTY.
const DefaultCommand = "/bin/bash"

// SourceImagePrefix is prepended to the instance name to tag images built from source.
const SourceImagePrefix = "tangotest"

var (
	errInvalidName    = fmt.Errorf("invalid instance name")
	errInvalidImage   = fmt.Errorf("invalid image reference")
	errInvalidCommand = fmt.Errorf("invalid command")

	// Docker's own constraint on container names.
	validName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]+$`)
)

// RunOptions customise how an instance container is run.
type RunOptions struct {
	// Command is split like a shell would. DefaultCommand when empty.
	Command    string            `yaml:"command"`
	Env        []string          `yaml:"env"`
	Labels     map[string]string `yaml:"labels"`
	Ports      []string          `yaml:"ports"`
	Volumes    []string          `yaml:"volumes"`
	Networks   []string          `yaml:"networks"`
	Privileged bool              `yaml:"privileged"`
}

// SourceOptions customise how an instance image is built.
type SourceOptions struct {
	// ImageName tags the built image. SourceImagePrefix followed by the instance name when empty.
	ImageName string             `yaml:"imageName"`
	BuildArgs map[string]*string `yaml:"buildArgs"`
	NoCache   bool               `yaml:"noCache"`
	Pull      bool               `yaml:"pull"`

	Run RunOptions `yaml:",inline"`
}

// ValidateName reports whether name can be used as an instance and container name.
func ValidateName(name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("%w: %q", errInvalidName, name)
	}
	return nil
}

func splitCommand(command string) ([]string, error) {
	if command == "" {
		command = DefaultCommand
	}
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidCommand, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: %q", errInvalidCommand, command)
	}
	return args, nil
}

// normalizeImage returns image in its familiar form with the latest tag added when no tag or digest is given.
func normalizeImage(image string) (string, error) {
	named, err := reference.ParseNormalizedNamed(image)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errInvalidImage, err)
	}
	return reference.FamiliarString(reference.TagNameOnly(named)), nil
}

func sourceImageName(name string, opts SourceOptions) (string, error) {
	tag := opts.ImageName
	if tag == "" {
		tag = SourceImagePrefix + strings.ToLower(name)
	}
	if _, err := reference.ParseNormalizedNamed(tag); err != nil {
		return "", fmt.Errorf("%w: %w", errInvalidImage, err)
	}
	return tag, nil
}
