// Package store defines the user-record boundary consumed by claim
// resolution. Implementations own persistence; callers only read.
package store

import (
	"context"
	"errors"
	"maps"
)

// ErrUserNotFound indicates no record exists for the requested subject.
var ErrUserNotFound = errors.New("store: user not found")

// Standard claim names understood by UserRecord.ClaimValue. They follow
// OpenID Connect Core 1.0, section 5.1.
const (
	ClaimSubject       = "sub"
	ClaimName          = "name"
	ClaimGivenName     = "given_name"
	ClaimFamilyName    = "family_name"
	ClaimEmail         = "email"
	ClaimEmailVerified = "email_verified"
	ClaimPhoneNumber   = "phone_number"
	ClaimAddress       = "address"
)

// StandardClaims lists the claim names a resolver should query by
// default when the caller did not name specific claims.
var StandardClaims = []string{
	ClaimSubject,
	ClaimName,
	ClaimGivenName,
	ClaimFamilyName,
	ClaimEmail,
	ClaimEmailVerified,
	ClaimPhoneNumber,
	ClaimAddress,
}

// Address is the postal address of a resource owner. Country is the
// minimum populated field in practice.
type Address struct {
	Formatted     string `json:"formatted,omitempty"`
	StreetAddress string `json:"street_address,omitempty"`
	Locality      string `json:"locality,omitempty"`
	Region        string `json:"region,omitempty"`
	PostalCode    string `json:"postal_code,omitempty"`
	Country       string `json:"country,omitempty"`
}

func (a Address) isZero() bool {
	return a == Address{}
}

// claimMap renders the address as the OIDC address claim object.
func (a Address) claimMap() map[string]any {
	m := map[string]any{}
	if a.Formatted != "" {
		m["formatted"] = a.Formatted
	}
	if a.StreetAddress != "" {
		m["street_address"] = a.StreetAddress
	}
	if a.Locality != "" {
		m["locality"] = a.Locality
	}
	if a.Region != "" {
		m["region"] = a.Region
	}
	if a.PostalCode != "" {
		m["postal_code"] = a.PostalCode
	}
	if a.Country != "" {
		m["country"] = a.Country
	}
	return m
}

// UserRecord identifies a resource owner. Subject is the unique key.
// Extra carries deployment-specific claims reachable by name. Localized
// carries language-tagged variants keyed by claim name then BCP 47 tag;
// a missing tag falls back to the record's default-language value.
type UserRecord struct {
	Subject       string                       `json:"subject"`
	Name          string                       `json:"name,omitempty"`
	GivenName     string                       `json:"given_name,omitempty"`
	FamilyName    string                       `json:"family_name,omitempty"`
	Email         string                       `json:"email,omitempty"`
	EmailVerified bool                         `json:"email_verified,omitempty"`
	PhoneNumber   string                       `json:"phone_number,omitempty"`
	Address       Address                      `json:"address,omitempty"`
	Extra         map[string]any               `json:"extra,omitempty"`
	Localized     map[string]map[string]string `json:"localized,omitempty"`
}

// ClaimValue dispatches a claim name (optionally language-tagged)
// against the record. A nil return means the record does not carry the
// claim; that is a valid empty result, not an error.
func (u *UserRecord) ClaimValue(name string, languageTag string) any {
	if languageTag != "" {
		if byLang, ok := u.Localized[name]; ok {
			if v, ok := byLang[languageTag]; ok {
				return v
			}
		}
	}

	switch name {
	case ClaimSubject:
		return u.Subject
	case ClaimName:
		return stringClaim(u.Name)
	case ClaimGivenName:
		return stringClaim(u.GivenName)
	case ClaimFamilyName:
		return stringClaim(u.FamilyName)
	case ClaimEmail:
		return stringClaim(u.Email)
	case ClaimEmailVerified:
		if u.Email == "" {
			return nil
		}
		return u.EmailVerified
	case ClaimPhoneNumber:
		return stringClaim(u.PhoneNumber)
	case ClaimAddress:
		if u.Address.isZero() {
			return nil
		}
		return u.Address.claimMap()
	}

	if v, ok := u.Extra[name]; ok {
		return v
	}
	return nil
}

func stringClaim(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Clone copies the record including its Extra and Localized maps, so
// stores can hand out records without sharing mutable state.
func (u *UserRecord) Clone() *UserRecord {
	cp := *u
	cp.Extra = maps.Clone(u.Extra)
	if u.Localized != nil {
		cp.Localized = make(map[string]map[string]string, len(u.Localized))
		for name, byLang := range u.Localized {
			cp.Localized[name] = maps.Clone(byLang)
		}
	}
	return &cp
}

// UserStore is the external user-record lookup capability. FindBySubject
// returns ErrUserNotFound when no record exists; any other error is an
// infrastructure failure. This core performs no writes.
type UserStore interface {
	FindBySubject(ctx context.Context, subject string) (*UserRecord, error)
}
