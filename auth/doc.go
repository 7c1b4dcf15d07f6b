// Package auth implements the request-time authorization pipeline for
// bearer-token protected resources: RFC 6750 token extraction from an
// inbound HTTP request, delegation to an external token introspection
// capability, and a tagged verdict that either grants access or carries
// a ready-to-send RFC 6750 error response.
//
// The public surface intentionally stays small. ExtractToken locates a
// candidate token using the three delivery mechanisms of RFC 6750
// section 2 with fixed precedence. An Authorizer turns the extracted
// token (or its absence) plus optional Constraints into exactly one
// Verdict per call by consulting an introspect.Client. Transports
// render Invalid verdicts verbatim via the attached Challenge and never
// substitute their own error semantics.
//
// # Errors
//
// Verdict.Err carries a sentinel classification so callers and tests
// can tell apart the failure families without parsing challenge text:
// ErrNoToken, ErrInvalidToken, ErrInsufficientScope, ErrSubjectMismatch
// and ErrIntrospectionUnavailable. Only the last one maps to a 5xx
// response; the rest are RFC 6750-shaped client errors.
package auth
