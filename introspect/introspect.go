// Package introspect defines the token introspection boundary the
// authorization layer delegates to, plus two interchangeable
// implementations: an RFC 7662 HTTP client and a network-free JWT
// validator. Both produce the same Result shape so callers stay
// agnostic to the deployment's validation strategy.
package introspect

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrUnavailable indicates the introspection capability could not be
// reached or answered with an infrastructure failure. It is distinct
// from a structurally negative introspection result. No retry happens
// at this layer; retry policy, if any, belongs to the HTTP transport.
var ErrUnavailable = errors.New("introspect: service unavailable")

// Request identifies one introspection attempt. Scopes and Subject are
// optional constraints: when set, all scopes must be covered by the
// token and the subject must match exactly.
type Request struct {
	Token   string
	Scopes  []string
	Subject string
}

// Reason classifies a Denial for internal consumers (logging, tests).
// The wire-facing descriptor lives in the Denial's Code/Description.
type Reason string

const (
	ReasonInactive        Reason = "inactive"
	ReasonScopeShortfall  Reason = "insufficient_scope"
	ReasonSubjectMismatch Reason = "subject_mismatch"
)

// Denial is a ready-made RFC 6750 error descriptor. Consumers must
// surface it unmodified; the introspection layer owns the error
// semantics.
type Denial struct {
	Status      int
	Code        string
	Description string
	Reason      Reason
}

// RFC 6750 section 3.1 error codes.
const (
	CodeInvalidToken      = "invalid_token"
	CodeInsufficientScope = "insufficient_scope"
)

// Result is the outcome of an introspection attempt. Denial is non-nil
// exactly when the token must be rejected; Active alone is not
// sufficient because an active token can still fail a constraint.
type Result struct {
	Active    bool
	Subject   string
	Scope     []string
	ClientID  string
	TokenType string
	ExpiresAt time.Time
	Denial    *Denial
}

// Client is the external introspection capability. Implementations
// return a non-nil error only for infrastructure failures (wrapping
// ErrUnavailable); negative verdicts are expressed via Result.Denial.
type Client interface {
	Introspect(ctx context.Context, req Request) (*Result, error)
}

// DenyInactive builds the descriptor for a token the authorization
// server does not recognize as active. The default description is
// deliberately generic so nothing about the token leaks.
func DenyInactive(description string) *Denial {
	if description == "" {
		description = "The access token is invalid or expired"
	}
	return &Denial{
		Status:      http.StatusUnauthorized,
		Code:        CodeInvalidToken,
		Description: description,
		Reason:      ReasonInactive,
	}
}

// Evaluate applies the request's constraints to an active token's
// subject and scopes, returning nil when all constraints hold. It is
// exported for Client implementations, including test fakes.
func Evaluate(req Request, subject string, granted []string) *Denial {
	if req.Subject != "" && req.Subject != subject {
		return &Denial{
			Status:      http.StatusUnauthorized,
			Code:        CodeInvalidToken,
			Description: "The access token is not associated with the required subject",
			Reason:      ReasonSubjectMismatch,
		}
	}
	if missing := missingScopes(req.Scopes, granted); len(missing) > 0 {
		return &Denial{
			Status:      http.StatusForbidden,
			Code:        CodeInsufficientScope,
			Description: fmt.Sprintf("The access token does not cover the required scopes: %s", strings.Join(missing, " ")),
			Reason:      ReasonScopeShortfall,
		}
	}
	return nil
}

func missingScopes(required, granted []string) []string {
	if len(required) == 0 {
		return nil
	}
	have := make(map[string]struct{}, len(granted))
	for _, s := range granted {
		have[s] = struct{}{}
	}
	var missing []string
	for _, s := range required {
		if _, ok := have[s]; !ok {
			missing = append(missing, s)
		}
	}
	return missing
}

// splitScope splits a space-delimited scope string per RFC 6749
// section 3.3, tolerating repeated separators.
func splitScope(s string) []string {
	return strings.Fields(s)
}
