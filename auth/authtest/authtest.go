// Package authtest provides canned introspection clients for tests and
// development environments that have no authorization server to call.
package authtest

import (
	"context"
	"fmt"

	"github.com/oidcware/resource-server-go/introspect"
)

// Token describes one canned active token.
type Token struct {
	Subject  string
	Scopes   []string
	ClientID string
}

// StaticClient is an introspect.Client backed by a fixed token table.
// Tokens not in the table introspect as inactive. Constraints are
// evaluated with the same semantics as the production clients.
type StaticClient struct {
	Tokens map[string]Token
}

var _ introspect.Client = (*StaticClient)(nil)

// NewStaticClient builds a StaticClient from token/descriptor pairs.
func NewStaticClient(tokens map[string]Token) *StaticClient {
	return &StaticClient{Tokens: tokens}
}

// Introspect implements introspect.Client.
func (c *StaticClient) Introspect(ctx context.Context, req Request) (*introspect.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", introspect.ErrUnavailable, err)
	}
	info, ok := c.Tokens[req.Token]
	if !ok {
		return &introspect.Result{Denial: introspect.DenyInactive("")}, nil
	}
	res := &introspect.Result{
		Active:    true,
		Subject:   info.Subject,
		Scope:     append([]string(nil), info.Scopes...),
		ClientID:  info.ClientID,
		TokenType: "Bearer",
	}
	res.Denial = introspect.Evaluate(req, res.Subject, res.Scope)
	return res, nil
}

// Request aliases introspect.Request so table-driven tests can build
// requests without importing both packages.
type Request = introspect.Request

// UnavailableClient is an introspect.Client whose calls always fail
// with introspect.ErrUnavailable, for exercising the 5xx path.
type UnavailableClient struct{}

var _ introspect.Client = UnavailableClient{}

// Introspect implements introspect.Client.
func (UnavailableClient) Introspect(ctx context.Context, req Request) (*introspect.Result, error) {
	return nil, fmt.Errorf("%w: canned failure", introspect.ErrUnavailable)
}
