package auth

import (
	"net/http"
	"regexp"

	"github.com/elnormous/contenttype"
)

// TokenQueryParam and TokenFormParam name the parameter that carries a
// bearer token outside the Authorization header (RFC 6750 sections 2.2
// and 2.3).
const (
	TokenQueryParam = "access_token"
	TokenFormParam  = "access_token"
)

// bearerPattern matches "Bearer {token}" with a case-insensitive scheme
// and tolerance for surrounding spaces (RFC 6750 section 2.1).
var bearerPattern = regexp.MustCompile(`(?i)^Bearer *([^ ]+) *$`)

var formMediaType = contenttype.NewMediaType("application/x-www-form-urlencoded")

// ExtractToken locates a candidate bearer token in r using the three
// delivery mechanisms of RFC 6750, evaluated in this fixed order and
// short-circuiting on the first match:
//
//  1. the Authorization request header (section 2.1),
//  2. the access_token form body parameter for POST requests carrying
//     a form-encoded body (section 2.2),
//  3. the access_token URI query parameter for all other methods
//     (section 2.3).
//
// An Authorization header that is present but does not match the Bearer
// pattern is ignored and extraction falls through to the method-selected
// mechanism; it is not a hard failure. The form body and the query
// string are mutually exclusive branches chosen purely by HTTP method.
//
// The empty string means no credential was presented. The function is a
// pure inspection of the request (the form body is parsed at most once,
// via the request's own cache) and never logs the token.
func ExtractToken(r *http.Request) string {
	if authorization := r.Header.Get("Authorization"); authorization != "" {
		if m := bearerPattern.FindStringSubmatch(authorization); m != nil {
			return m[1]
		}
		// Non-Bearer or malformed header: fall through.
	}

	if r.Method == http.MethodPost {
		if mt, err := contenttype.GetMediaType(r); err != nil ||
			mt.Type != formMediaType.Type || mt.Subtype != formMediaType.Subtype {
			return ""
		}
		return r.PostFormValue(TokenFormParam)
	}
	return r.URL.Query().Get(TokenQueryParam)
}
