package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Sentinel classifications for Invalid verdicts.
var (
	// ErrNoToken indicates no credential was presented by any RFC 6750
	// mechanism.
	ErrNoToken = errors.New("auth: no access token presented")
	// ErrInvalidToken indicates introspection marked the token
	// inactive, expired or malformed.
	ErrInvalidToken = errors.New("auth: invalid access token")
	// ErrInsufficientScope indicates an active token that does not
	// cover a required scope.
	ErrInsufficientScope = errors.New("auth: insufficient scope")
	// ErrSubjectMismatch indicates an active token associated with a
	// different subject than required.
	ErrSubjectMismatch = errors.New("auth: subject mismatch")
	// ErrIntrospectionUnavailable indicates the introspection
	// capability could not be reached. Surfaced as a 5xx without
	// client-visible detail.
	ErrIntrospectionUnavailable = errors.New("auth: introspection unavailable")
)

// Constraints are the optional endpoint-specific requirements an access
// token must satisfy beyond being active. Zero value means
// unconstrained.
type Constraints struct {
	// Scopes must all be covered by the token's granted scopes.
	Scopes []string
	// Subject, when non-empty, must exactly match the token's subject.
	Subject string
}

// Challenge describes the HTTP error response an Invalid verdict
// dictates: status code, WWW-Authenticate header value, and the
// optional RFC 6750 error attributes for the response body.
type Challenge struct {
	Status          int
	WWWAuthenticate string
	Code            string
	Description     string
}

// Verdict is the immutable outcome of one authorization attempt. It is
// created exactly once per Authorize call and consumed by the transport
// to decide control flow: Valid carries the token's subject and granted
// scopes, Invalid carries the Challenge to render verbatim.
type Verdict struct {
	subject   string
	scopes    []string
	clientID  string
	expiresAt time.Time

	challenge *Challenge
	err       error
}

// Valid reports whether access is granted.
func (v Verdict) Valid() bool { return v.challenge == nil && v.err == nil }

// Subject returns the token's subject. Empty on Invalid verdicts.
func (v Verdict) Subject() string { return v.subject }

// Scopes returns the token's granted scopes.
func (v Verdict) Scopes() []string { return append([]string(nil), v.scopes...) }

// ClientID returns the client the token was issued to, when known.
func (v Verdict) ClientID() string { return v.clientID }

// ExpiresAt returns the token's expiry, when known.
func (v Verdict) ExpiresAt() time.Time { return v.expiresAt }

// Challenge returns the error response descriptor. Nil iff Valid.
func (v Verdict) Challenge() *Challenge { return v.challenge }

// Err returns the sentinel classification of an Invalid verdict, nil
// otherwise. Match with errors.Is.
func (v Verdict) Err() error { return v.err }

// NewGrantedVerdict builds a Valid verdict. Intended for tests and fake
// authorizers; production verdicts come from Authorizer.Authorize.
func NewGrantedVerdict(subject string, scopes []string) Verdict {
	return Verdict{subject: subject, scopes: append([]string(nil), scopes...)}
}

// NewDeniedVerdict builds an Invalid verdict from a challenge and its
// sentinel classification.
func NewDeniedVerdict(ch Challenge, err error) Verdict {
	return Verdict{challenge: &ch, err: err}
}

// bearerChallenge renders a WWW-Authenticate value. Attribute order is
// fixed (realm, error, error_description, scope) so responses are
// deterministic.
func bearerChallenge(realm string, params map[string]string) string {
	esc := func(v string) string {
		return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v)
	}
	pieces := make([]string, 0, 1+len(params))
	if realm != "" {
		pieces = append(pieces, fmt.Sprintf(`realm="%s"`, esc(realm)))
	}
	for _, k := range []string{"error", "error_description", "scope"} {
		if v, ok := params[k]; ok {
			pieces = append(pieces, fmt.Sprintf(`%s="%s"`, k, esc(v)))
		}
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}

// noCredentialChallenge is the bare challenge for a request that
// presented no token. RFC 6750 section 3.1: the resource server SHOULD
// NOT include an error code in this case.
func noCredentialChallenge(realm string) Challenge {
	return Challenge{
		Status:          http.StatusUnauthorized,
		WWWAuthenticate: bearerChallenge(realm, nil),
	}
}
