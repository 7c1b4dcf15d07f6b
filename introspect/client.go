package introspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

// HTTPClient introspects tokens against an RFC 7662 endpoint. The
// resource server authenticates to the endpoint with client
// credentials (HTTP basic). Constraint evaluation (required scopes and
// subject) happens locally against the returned claims so any
// standards-compliant authorization server can back it.
type HTTPClient struct {
	endpoint     string
	httpClient   *http.Client
	clientID     string
	clientSecret string
}

var _ Client = (*HTTPClient)(nil)

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient overrides the transport used for introspection calls.
// Timeouts belong to this client; the introspection layer imposes none
// of its own.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.httpClient = hc }
}

// WithClientCredentials sets the resource server's credentials for the
// introspection endpoint.
func WithClientCredentials(id, secret string) HTTPOption {
	return func(c *HTTPClient) { c.clientID, c.clientSecret = id, secret }
}

// NewHTTPClient returns a client for an explicitly configured
// introspection endpoint URL.
func NewHTTPClient(endpoint string, opts ...HTTPOption) (*HTTPClient, error) {
	if endpoint == "" {
		return nil, errors.New("introspect: endpoint is required")
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("introspect: invalid endpoint: %w", err)
	}
	c := &HTTPClient{endpoint: endpoint, httpClient: http.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewHTTPClientFromDiscovery resolves the introspection endpoint from
// the issuer's OAuth/OIDC discovery document
// (introspection_endpoint) and returns a client for it.
func NewHTTPClientFromDiscovery(ctx context.Context, issuer string, opts ...HTTPOption) (*HTTPClient, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("introspect: oidc discovery failed: %w", err)
	}
	var meta struct {
		IntrospectionEndpoint string `json:"introspection_endpoint"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("introspect: invalid discovery metadata: %w", err)
	}
	if meta.IntrospectionEndpoint == "" {
		return nil, errors.New("introspect: discovery metadata lacks introspection_endpoint")
	}
	return NewHTTPClient(meta.IntrospectionEndpoint, opts...)
}

// wireResponse is the RFC 7662 introspection response document.
type wireResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope"`
	ClientID  string `json:"client_id"`
	Sub       string `json:"sub"`
	TokenType string `json:"token_type"`
	Exp       int64  `json:"exp"`
}

// Introspect implements Client.
func (c *HTTPClient) Introspect(ctx context.Context, req Request) (*Result, error) {
	form := url.Values{}
	form.Set("token", req.Token)
	form.Set("token_type_hint", "access_token")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	if c.clientID != "" {
		httpReq.SetBasicAuth(url.QueryEscape(c.clientID), url.QueryEscape(c.clientSecret))
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Every non-200 answer, including auth failures of our own
		// client credentials, is an infrastructure problem from the
		// caller's point of view. Drain a little for connection reuse.
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		return nil, fmt.Errorf("%w: introspection endpoint returned %d", ErrUnavailable, resp.StatusCode)
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("%w: malformed introspection response: %v", ErrUnavailable, err)
	}

	res := &Result{
		Active:    wire.Active,
		Subject:   wire.Sub,
		Scope:     splitScope(wire.Scope),
		ClientID:  wire.ClientID,
		TokenType: wire.TokenType,
	}
	if wire.Exp > 0 {
		res.ExpiresAt = time.Unix(wire.Exp, 0)
	}

	if !wire.Active {
		res.Denial = DenyInactive("")
		return res, nil
	}
	res.Denial = Evaluate(req, res.Subject, res.Scope)
	return res, nil
}
