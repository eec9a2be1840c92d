package sandbox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/wassette/internal/policy"
	"github.com/microsoft/wassette/internal/wassetteerr"
)

func TestHTTPGuard_DeniesUnlistedHost(t *testing.T) {
	tmpl := &policy.Template{
		Network:      policy.NetworkPermissions{TCP: true},
		AllowedHosts: map[string]struct{}{"allowed.example.com": {}},
	}
	guard := NewHTTPGuard(tmpl, http.DefaultClient)

	req, err := http.NewRequest(http.MethodGet, "http://evil.example.com/x", nil)
	require.NoError(t, err)

	_, err = guard.RoundTrip(context.Background(), req)
	require.Error(t, err)
	kind, ok := wassetteerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, wassetteerr.PolicyViolation, kind)
	assert.Contains(t, err.Error(), "HttpRequestDenied")
}

func TestHTTPGuard_AllowsListedHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	tmpl := &policy.Template{
		Network:      policy.NetworkPermissions{TCP: true},
		AllowedHosts: map[string]struct{}{u.Hostname(): {}},
	}
	guard := NewHTTPGuard(tmpl, srv.Client())

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := guard.RoundTrip(context.Background(), req)
	require.NoError(t, err)
	body, err := Drain(resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
}
