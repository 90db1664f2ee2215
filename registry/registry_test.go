package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/registry"
	"github.com/google/go-containerregistry/pkg/v1/random"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) string {
	t.Helper()
	server := httptest.NewServer(registry.New())
	t.Cleanup(server.Close)
	return strings.TrimPrefix(server.URL, "http://")
}

func pushRandomImage(t *testing.T, ref string) {
	t.Helper()
	tag, err := name.NewTag(ref, name.Insecure)
	require.NoError(t, err)
	img, err := random.Image(256, 1)
	require.NoError(t, err)
	require.NoError(t, remote.Write(tag, img))
}

func TestTagExists(t *testing.T) {
	host := newTestRegistry(t)
	pushRandomImage(t, host+"/vnf/firewall:1.0")

	checker := &Checker{Config: Config{Insecure: true}}
	ctx := context.Background()

	tests := map[string]struct {
		repository string
		tag        string
		expected   bool
	}{
		"pushed tag":        {host + "/vnf/firewall", "1.0", true},
		"missing tag":       {host + "/vnf/firewall", "2.0", false},
		"missing repo":      {host + "/vnf/router", "latest", false},
		"missing namespace": {host + "/other/firewall", "1.0", false},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			exists, err := checker.TagExists(ctx, test.repository, test.tag)
			require.NoError(t, err)
			assert.Equal(t, test.expected, exists)
		})
	}
}

func TestTagExistsDefaultRegistry(t *testing.T) {
	host := newTestRegistry(t)
	pushRandomImage(t, host+"/library/ubuntu:22.04")

	checker := &Checker{Config: Config{DefaultRegistry: host, Insecure: true}}

	exists, err := checker.TagExists(context.Background(), "library/ubuntu", "22.04")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestTagExistsInvalidReference(t *testing.T) {
	checker := &Checker{}

	_, err := checker.TagExists(context.Background(), "UPPER/case", "latest")
	assert.True(t, errors.Is(err, errInvalidReference), "got %v", err)
}

func TestTagExistsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	host := strings.TrimPrefix(server.URL, "http://")
	server.Close()

	checker := &Checker{Config: Config{Insecure: true}}

	_, err := checker.TagExists(context.Background(), host+"/vnf/firewall", "1.0")
	assert.Error(t, err)
}

func TestExistsDigest(t *testing.T) {
	host := newTestRegistry(t)
	tag, err := name.NewTag(host+"/vnf/lb:1", name.Insecure)
	require.NoError(t, err)
	img, err := random.Image(128, 1)
	require.NoError(t, err)
	require.NoError(t, remote.Write(tag, img))
	digest, err := img.Digest()
	require.NoError(t, err)

	checker := &Checker{Config: Config{Insecure: true}}

	exists, err := checker.Exists(context.Background(), host+"/vnf/lb@"+digest.String())
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestExistsStatus(t *testing.T) {
	tests := map[string]struct {
		status      int
		expectError bool
	}{
		"not found":         {http.StatusNotFound, false},
		"unauthorized":      {http.StatusUnauthorized, false},
		"forbidden":         {http.StatusForbidden, false},
		"too many requests": {http.StatusTooManyRequests, true},
		"server error":      {http.StatusInternalServerError, true},
		"bad gateway":       {http.StatusBadGateway, true},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/v2/" {
					w.WriteHeader(http.StatusOK)
					return
				}
				w.WriteHeader(test.status)
			}))
			t.Cleanup(server.Close)
			host := strings.TrimPrefix(server.URL, "http://")

			checker := &Checker{Config: Config{Insecure: true}, RetryStatusCodes: []int{}}

			exists, err := checker.TagExists(context.Background(), host+"/vnf/firewall", "1.0")
			assert.False(t, exists)
			if test.expectError {
				var terr *transport.Error
				require.True(t, errors.As(err, &terr), "got %v", err)
				assert.Equal(t, test.status, terr.StatusCode)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	host := newTestRegistry(t)
	pushRandomImage(t, host+"/vnfs/firewall:2.1")

	checker := &Checker{Config: Config{DefaultRegistry: host, Insecure: true}}

	resolved, exists, err := checker.Resolve(context.Background(), "vnfs/firewall:2.1")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, host+"/vnfs/firewall:2.1", resolved)

	resolved, exists, err = checker.Resolve(context.Background(), "vnfs/firewall:9.9")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, host+"/vnfs/firewall:9.9", resolved)
}
