// Package integration provides an interface to write integration tests for scenarios.
// Instances run against a mock Docker engine and an in-memory registry.
package integration

import (
	"context"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/registry"
	"github.com/google/go-containerregistry/pkg/v1/random"
	"github.com/google/go-containerregistry/pkg/v1/remote"

	"github.com/plamorg/tangovim/config"
	"github.com/plamorg/tangovim/dockerapi"
	"github.com/plamorg/tangovim/harness"
	tvregistry "github.com/plamorg/tangovim/registry"
	"github.com/plamorg/tangovim/vim"
)

// Instance is a test environment for running scenarios.
type Instance struct {
	Docker *dockerapi.Mock
	// Registry is the host:port of the in-memory registry.
	Registry string

	t *testing.T
}

// NewInstance creates a test environment whose engine already holds the given local images.
func NewInstance(t *testing.T, images ...string) *Instance {
	server := httptest.NewServer(registry.New(registry.Logger(log.New(io.Discard, "", 0))))
	t.Cleanup(server.Close)

	return &Instance{
		Docker:   dockerapi.NewMock(images...),
		Registry: strings.TrimPrefix(server.URL, "http://"),
		t:        t,
	}
}

// Push uploads a random image to the registry as repository:tag and returns its full reference.
// The engine can then pull the image.
func (i *Instance) Push(repositoryTag string) string {
	ref := i.Registry + "/" + repositoryTag
	tag, err := name.NewTag(ref, name.Insecure)
	if err != nil {
		i.t.Fatal(err)
	}
	img, err := random.Image(128, 1)
	if err != nil {
		i.t.Fatal(err)
	}
	if err := remote.Write(tag, img); err != nil {
		i.t.Fatal(err)
	}
	i.Docker.AddRemote(ref)
	return ref
}

// VIM returns a Docker VIM bound to the mock engine and the in-memory registry.
func (i *Instance) VIM() *vim.DockerVIM {
	return i.newVIM(tvregistry.Config{})
}

// newVIM always allows plain HTTP since the in-memory registry does not serve TLS.
func (i *Instance) newVIM(conf tvregistry.Config) *vim.DockerVIM {
	conf.Insecure = true
	return vim.NewDockerVIM(i.Docker, &tvregistry.Checker{Config: conf})
}

// Run parses confData and runs it as a scenario, honouring its registry section.
func (i *Instance) Run(confData []byte) (*harness.Report, error) {
	conf, err := config.Parse(confData)
	if err != nil {
		i.t.Fatal(err)
	}
	return harness.New(conf, i.newVIM(conf.Registry)).Run(context.Background())
}
