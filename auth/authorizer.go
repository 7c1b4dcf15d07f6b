package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/oidcware/resource-server-go/introspect"
)

// Authorizer validates extracted tokens by delegating to an external
// introspection capability. It holds no per-request state; one instance
// serves all requests concurrently.
type Authorizer struct {
	client introspect.Client
	realm  string
}

// AuthorizerOption configures an Authorizer.
type AuthorizerOption func(*Authorizer)

// WithRealm sets the authentication realm echoed in WWW-Authenticate
// challenges. If empty (default) the realm attribute is omitted
// entirely per RFC 6750, keeping challenges concise.
func WithRealm(realm string) AuthorizerOption {
	return func(a *Authorizer) { a.realm = realm }
}

// NewAuthorizer returns an Authorizer backed by client.
func NewAuthorizer(client introspect.Client, opts ...AuthorizerOption) *Authorizer {
	a := &Authorizer{client: client}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authorize produces exactly one Verdict for token under the given
// constraints. An empty token means no credential was presented. The
// single side effect is one introspection call; failures of that call
// are surfaced as a 5xx-class verdict and never retried here.
//
// Denial descriptors supplied by introspection pass through unmodified:
// the authorizer renders them into a Challenge but does not reinterpret
// their status, code or description.
func (a *Authorizer) Authorize(ctx context.Context, token string, c Constraints) Verdict {
	if token == "" {
		return NewDeniedVerdict(noCredentialChallenge(a.realm), ErrNoToken)
	}

	res, err := a.client.Introspect(ctx, introspect.Request{
		Token:   token,
		Scopes:  c.Scopes,
		Subject: c.Subject,
	})
	if err != nil {
		return NewDeniedVerdict(Challenge{
			Status: http.StatusServiceUnavailable,
		}, errors.Join(ErrIntrospectionUnavailable, err))
	}

	if d := res.Denial; d != nil {
		params := map[string]string{}
		if d.Code != "" {
			params["error"] = d.Code
		}
		if d.Description != "" {
			params["error_description"] = d.Description
		}
		return NewDeniedVerdict(Challenge{
			Status:          d.Status,
			WWWAuthenticate: bearerChallenge(a.realm, params),
			Code:            d.Code,
			Description:     d.Description,
		}, classify(d.Reason))
	}

	return Verdict{
		subject:   res.Subject,
		scopes:    append([]string(nil), res.Scope...),
		clientID:  res.ClientID,
		expiresAt: res.ExpiresAt,
	}
}

func classify(r introspect.Reason) error {
	switch r {
	case introspect.ReasonScopeShortfall:
		return ErrInsufficientScope
	case introspect.ReasonSubjectMismatch:
		return ErrSubjectMismatch
	default:
		return ErrInvalidToken
	}
}
