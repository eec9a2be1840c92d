package sandbox

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/microsoft/wassette/internal/policy"
	"github.com/microsoft/wassette/internal/wassetteerr"
)

// HTTPGuard intercepts outbound HTTP requests issued by a guest's WASI-HTTP
// host-function bridge and denies any request whose authority is not in
// the sandbox template's allowed-host set. This is the host-API surface
// SPEC_FULL.md §4.4 step 2 describes; a real WASI-HTTP binding calls
// RoundTrip for every guest-initiated request instead of dialing directly.
type HTTPGuard struct {
	tmpl   *policy.Template
	client *http.Client
}

// NewHTTPGuard constructs a guard bound to tmpl's allowed hosts.
func NewHTTPGuard(tmpl *policy.Template, client *http.Client) *HTTPGuard {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPGuard{tmpl: tmpl, client: client}
}

// RoundTrip denies the request with HttpRequestDenied (a PolicyViolation)
// unless the template's network permissions are enabled and the request's
// host is present in allowed_hosts.
func (g *HTTPGuard) RoundTrip(ctx context.Context, req *http.Request) (*http.Response, error) {
	if !g.tmpl.Network.TCP || !policy.MatchesAllowedHost(g.tmpl.AllowedHosts, req.URL.Host) {
		return nil, wassetteerr.New(wassetteerr.PolicyViolation,
			fmt.Sprintf("HttpRequestDenied: host %q is not in the component's network allow-list", req.URL.Host))
	}
	req = req.WithContext(ctx)
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, wassetteerr.Wrap(wassetteerr.IoError, "outbound request failed", err)
	}
	return resp, nil
}

// Drain fully reads and closes resp.Body, used by callers that only need
// the response bytes rather than a streaming body.
func Drain(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}
