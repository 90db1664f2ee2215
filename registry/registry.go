// Package registry checks whether image tags exist in a remote container registry.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
)

var errInvalidReference = fmt.Errorf("invalid image reference")

// Config describes how remote registries are reached.
type Config struct {
	// DefaultRegistry is used for references without a registry host. Docker Hub when empty.
	DefaultRegistry string `yaml:"defaultRegistry"`
	// Insecure allows plain HTTP registries.
	Insecure bool `yaml:"insecure"`
}

// Checker resolves image manifests against a registry without downloading them.
type Checker struct {
	Config

	// Keychain provides registry credentials. Anonymous access when nil.
	Keychain authn.Keychain
	// Transport overrides the HTTP transport.
	Transport http.RoundTripper
	// RetryStatusCodes are the response statuses retried before giving up.
	// The go-containerregistry defaults apply when nil.
	RetryStatusCodes []int
}

// New returns a Checker that uses the local Docker credential store.
func New(conf Config) *Checker {
	return &Checker{Config: conf, Keychain: authn.DefaultKeychain}
}

func (c *Checker) nameOptions() []name.Option {
	var opts []name.Option
	if c.DefaultRegistry != "" {
		opts = append(opts, name.WithDefaultRegistry(c.DefaultRegistry))
	}
	if c.Insecure {
		opts = append(opts, name.Insecure)
	}
	return opts
}

func (c *Checker) remoteOptions(ctx context.Context) []remote.Option {
	opts := []remote.Option{remote.WithContext(ctx)}
	if c.Keychain != nil {
		opts = append(opts, remote.WithAuthFromKeychain(c.Keychain))
	}
	if c.Transport != nil {
		opts = append(opts, remote.WithTransport(c.Transport))
	}
	if c.RetryStatusCodes != nil {
		opts = append(opts, remote.WithRetryStatusCodes(c.RetryStatusCodes...))
	}
	return opts
}

// TagExists reports whether repository:tag resolves to a manifest.
func (c *Checker) TagExists(ctx context.Context, repository string, tag string) (bool, error) {
	return c.Exists(ctx, repository+":"+tag)
}

// Exists reports whether the tag or digest reference resolves to a manifest.
func (c *Checker) Exists(ctx context.Context, image string) (bool, error) {
	_, exists, err := c.Resolve(ctx, image)
	return exists, err
}

// Resolve qualifies image with its registry host and reports whether it resolves to a manifest.
// A registry answering 404, 401 or 403 means the image does not exist.
// Any other error status, and transport failures, are returned as errors.
func (c *Checker) Resolve(ctx context.Context, image string) (string, bool, error) {
	ref, err := name.ParseReference(image, c.nameOptions()...)
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", errInvalidReference, err)
	}

	desc, err := remote.Head(ref, c.remoteOptions(ctx)...)
	if err != nil {
		var terr *transport.Error
		if errors.As(err, &terr) && absent(terr.StatusCode) {
			slog.Debug("Registry rejected manifest request",
				slog.String("ref", ref.Name()),
				slog.Int("status", terr.StatusCode))
			return ref.Name(), false, nil
		}
		return ref.Name(), false, err
	}
	slog.Debug("Found image in registry", slog.String("ref", ref.Name()), slog.String("digest", desc.Digest.String()))
	return ref.Name(), true, nil
}

func absent(status int) bool {
	switch status {
	case http.StatusNotFound, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}
