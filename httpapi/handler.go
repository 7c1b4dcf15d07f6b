package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oidcware/resource-server-go/auth"
	"github.com/oidcware/resource-server-go/internal/logctx"
	"github.com/oidcware/resource-server-go/internal/wellknown"
	"github.com/oidcware/resource-server-go/store"
	"github.com/oidcware/resource-server-go/userinfo"
)

var _ http.Handler = (*Handler)(nil)

const (
	wwwAuthenticateHeader = "WWW-Authenticate"
	jsonContentType       = "application/json; charset=utf-8"
)

// Option configures the Handler.
type Option func(*newConfig)

type newConfig struct {
	logger          *slog.Logger
	serverName      string
	authServers     []string
	scopesSupported []string
	timeScopes      []string
	userinfoScopes  []string
}

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(log *slog.Logger) Option {
	return func(c *newConfig) { c.logger = log }
}

// WithServerName sets a human-readable resource name surfaced in the
// protected resource metadata document.
func WithServerName(name string) Option {
	return func(c *newConfig) { c.serverName = name }
}

// WithAuthorizationServers lists the issuer URLs advertised in the
// protected resource metadata document.
func WithAuthorizationServers(issuers ...string) Option {
	return func(c *newConfig) { c.authServers = append([]string(nil), issuers...) }
}

// WithScopesSupported lists the scopes advertised in the protected
// resource metadata document.
func WithScopesSupported(scopes ...string) Option {
	return func(c *newConfig) { c.scopesSupported = append([]string(nil), scopes...) }
}

// WithTimeScopes requires the given scopes for the time endpoint. By
// default any valid token suffices.
func WithTimeScopes(scopes ...string) Option {
	return func(c *newConfig) { c.timeScopes = append([]string(nil), scopes...) }
}

// WithUserinfoScopes requires the given scopes for the userinfo
// endpoint. By default any valid token suffices.
func WithUserinfoScopes(scopes ...string) Option {
	return func(c *newConfig) { c.userinfoScopes = append([]string(nil), scopes...) }
}

// Handler serves the protected resource endpoints. One instance handles
// all requests concurrently; per-request state (the claim resolver) is
// created inside each handler invocation and discarded with it.
type Handler struct {
	mux   *http.ServeMux
	log   *slog.Logger
	authz *auth.Authorizer
	users store.UserStore

	prm wellknown.ProtectedResourceMetadata

	timeConstraints     auth.Constraints
	userinfoConstraints auth.Constraints
}

// New builds a Handler for the resource hosted at publicURL. The
// authorizer decides token validity; users backs claim resolution for
// the userinfo endpoint.
func New(publicURL string, authz *auth.Authorizer, users store.UserStore, opts ...Option) (*Handler, error) {
	u, err := url.Parse(publicURL)
	if err != nil {
		return nil, fmt.Errorf("httpapi: invalid public URL: %w", err)
	}
	if !u.IsAbs() {
		return nil, errors.New("httpapi: public URL must be absolute")
	}
	if authz == nil {
		return nil, errors.New("httpapi: authorizer is required")
	}
	if users == nil {
		return nil, errors.New("httpapi: user store is required")
	}

	cfg := &newConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	log := cfg.logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	h := &Handler{
		mux:                 http.NewServeMux(),
		log:                 log,
		authz:               authz,
		users:               users,
		timeConstraints:     auth.Constraints{Scopes: cfg.timeScopes},
		userinfoConstraints: auth.Constraints{Scopes: cfg.userinfoScopes},
		prm: wellknown.ProtectedResourceMetadata{
			Resource:             u.String(),
			AuthorizationServers: cfg.authServers,
			ScopesSupported:      cfg.scopesSupported,
			// Tokens are accepted via all three RFC 6750 mechanisms.
			BearerMethodsSupported: []string{"header", "body", "query"},
			ResourceName:           cfg.serverName,
		},
	}

	h.mux.HandleFunc("GET /.well-known/oauth-protected-resource", h.handleMetadata)
	h.mux.HandleFunc("GET /api/time", h.handleTime)
	h.mux.HandleFunc("POST /api/time", h.handleTime)
	h.mux.HandleFunc("GET /api/userinfo", h.handleUserinfo)
	h.mux.HandleFunc("POST /api/userinfo", h.handleUserinfo)

	return h, nil
}

// ServeHTTP implements http.Handler. It tags the request context for
// log enrichment and dispatches to the route table.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})
	h.mux.ServeHTTP(w, r.WithContext(ctx))
}

// authorize runs extraction and authorization for r. On an Invalid
// verdict it writes the verdict's error response and returns ok=false;
// the caller must not touch the ResponseWriter afterwards.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, c auth.Constraints) (auth.Verdict, bool) {
	token := auth.ExtractToken(r)
	v := h.authz.Authorize(r.Context(), token, c)
	if v.Valid() {
		return v, true
	}

	ctx := r.Context()
	verdictErr := v.Err()
	ch := v.Challenge()

	if errors.Is(verdictErr, auth.ErrIntrospectionUnavailable) {
		// Internal detail stays in the logs; the client sees a constant
		// 5xx body.
		h.log.ErrorContext(ctx, "token validation unavailable", slog.String("err", verdictErr.Error()))
		writeJSONError(w, ch.Status, "temporarily unable to validate access tokens")
		return v, false
	}

	h.log.InfoContext(ctx, "request rejected",
		slog.Int("status", ch.Status),
		slog.String("err", verdictErr.Error()),
	)
	if ch.WWWAuthenticate != "" {
		w.Header().Add(wwwAuthenticateHeader, ch.WWWAuthenticate)
	}
	if ch.Code == "" {
		w.WriteHeader(ch.Status)
		return v, false
	}
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(ch.Status)
	body := map[string]string{"error": ch.Code}
	if ch.Description != "" {
		body["error_description"] = ch.Description
	}
	_ = json.NewEncoder(w).Encode(body)
	return v, false
}

// timePayload is the time endpoint's response document.
type timePayload struct {
	Year        int `json:"year"`
	Month       int `json:"month"`
	Day         int `json:"day"`
	Hour        int `json:"hour"`
	Minute      int `json:"minute"`
	Second      int `json:"second"`
	Millisecond int `json:"millisecond"`
}

func (h *Handler) handleTime(w http.ResponseWriter, r *http.Request) {
	v, ok := h.authorize(w, r, h.timeConstraints)
	if !ok {
		return
	}

	ctx := logctx.WithAuthData(r.Context(), &logctx.AuthData{Subject: v.Subject(), ClientID: v.ClientID()})
	h.log.DebugContext(ctx, "time resource served")

	now := time.Now().UTC()
	writeJSON(w, http.StatusOK, timePayload{
		Year:        now.Year(),
		Month:       int(now.Month()),
		Day:         now.Day(),
		Hour:        now.Hour(),
		Minute:      now.Minute(),
		Second:      now.Second(),
		Millisecond: now.Nanosecond() / int(time.Millisecond),
	})
}

func (h *Handler) handleUserinfo(w http.ResponseWriter, r *http.Request) {
	v, ok := h.authorize(w, r, h.userinfoConstraints)
	if !ok {
		return
	}

	ctx := logctx.WithAuthData(r.Context(), &logctx.AuthData{Subject: v.Subject(), ClientID: v.ClientID()})

	// Fresh resolver per request: its single-lookup memoization must not
	// outlive this resolution session.
	resolver := userinfo.NewStoreResolver(h.users)
	claims, err := userinfo.Assemble(ctx, resolver, v.Subject(), nil, claimsLocale(r))
	if err != nil {
		h.log.ErrorContext(ctx, "claim resolution failed", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "unable to resolve claims")
		return
	}

	h.log.DebugContext(ctx, "userinfo served", slog.Int("claims", len(claims)))
	writeJSON(w, http.StatusOK, claims)
}

func (h *Handler) handleMetadata(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.prm)
}

// claimsLocale returns the caller's preferred claims language, the
// first entry of the OIDC claims_locales parameter.
func claimsLocale(r *http.Request) string {
	fields := strings.Fields(r.FormValue("claims_locales"))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeJSONError emits a minimal JSON body for rejections that carry no
// RFC 6750 descriptor. Shape: {"error":{"code":<status>,"message":"..."}}
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}
