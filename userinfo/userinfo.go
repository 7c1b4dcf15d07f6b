// Package userinfo resolves identity claims for an authorized subject.
//
// The package separates the claim resolution capability (ClaimSource)
// from the assembly of a claim-set document. Deployments with different
// user stores substitute their own ClaimSource without touching request
// handling.
package userinfo

import (
	"context"
	"errors"

	"github.com/oidcware/resource-server-go/store"
)

// ClaimSource maps (subject, claim name, language tag) to an optional
// claim value. A nil value with a nil error means the claim is not
// available for the subject; that is a valid empty result, not an
// error. A non-nil error indicates an infrastructure failure.
type ClaimSource interface {
	ClaimValue(ctx context.Context, subject, claimName, languageTag string) (any, error)
}

// StoreResolver is a ClaimSource backed by a store.UserStore. It is
// scoped to a single resolution session: the first claim query performs
// exactly one store lookup and the result, including "not found", is
// memoized for the lifetime of the instance. Create a fresh resolver
// per request and discard it afterwards; instances are not safe for
// concurrent use and must never be shared across requests.
type StoreResolver struct {
	users store.UserStore

	looked bool
	user   *store.UserRecord // nil after lookup means subject unknown
}

var _ ClaimSource = (*StoreResolver)(nil)

// NewStoreResolver returns a resolver for one resolution session.
func NewStoreResolver(users store.UserStore) *StoreResolver {
	return &StoreResolver{users: users}
}

// ClaimValue implements ClaimSource.
func (r *StoreResolver) ClaimValue(ctx context.Context, subject, claimName, languageTag string) (any, error) {
	u, err := r.lookup(ctx, subject)
	if err != nil {
		return nil, err
	}
	if u == nil {
		// Unknown subject: every claim resolves to absence.
		return nil, nil
	}
	return u.ClaimValue(claimName, languageTag), nil
}

func (r *StoreResolver) lookup(ctx context.Context, subject string) (*store.UserRecord, error) {
	if r.looked {
		return r.user, nil
	}
	u, err := r.users.FindBySubject(ctx, subject)
	if err != nil && !errors.Is(err, store.ErrUserNotFound) {
		// Do not memoize infrastructure failures; a canceled request is
		// discarded along with this instance anyway.
		return nil, err
	}
	r.user = u // nil when not found
	r.looked = true
	return r.user, nil
}

// Assemble builds a claim-set document for subject by querying src once
// per claim name. Absent claims are omitted from the document. When
// claimNames is empty, store.StandardClaims is used. The "sub" member
// is always present so the document identifies its owner even when the
// subject is unknown to the store.
func Assemble(ctx context.Context, src ClaimSource, subject string, claimNames []string, languageTag string) (map[string]any, error) {
	if len(claimNames) == 0 {
		claimNames = store.StandardClaims
	}
	doc := map[string]any{store.ClaimSubject: subject}
	for _, name := range claimNames {
		if name == store.ClaimSubject {
			continue
		}
		v, err := src.ClaimValue(ctx, subject, name, languageTag)
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		doc[name] = v
	}
	return doc, nil
}
