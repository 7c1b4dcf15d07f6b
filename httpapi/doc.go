// Package httpapi exposes the protected resource endpoints over HTTP.
//
// Every request runs the same pipeline: extract a bearer token per
// RFC 6750, obtain a verdict from the authorizer, then either render
// the verdict's error response verbatim or invoke the endpoint's
// resource action. The claims endpoint resolves identity claims through
// a request-scoped resolver so the user store is consulted at most once
// per request.
//
// Two illustrative endpoints are served, mirroring a minimal resource
// server deployment: /api/time returns the current UTC time and
// /api/userinfo returns the claim set of the token's subject. The
// RFC 9728 protected resource metadata document is published under
// /.well-known/oauth-protected-resource.
package httpapi
