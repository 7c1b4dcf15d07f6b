package introspect

import (
	"context"
	"errors"
	"fmt"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// LocalConfig controls the network-free JWT introspector.
type LocalConfig struct {
	Issuer string
	// Audiences the token must intersect. The first entry is the
	// resource's canonical identifier.
	Audiences   []string
	AllowedAlgs []string      // default ["RS256"]; "none" is never allowed
	Leeway      time.Duration // clock skew tolerance, default 60s
	JWKSURL     string        // required for NewLocal; filled by discovery otherwise
}

func (c *LocalConfig) normalize() {
	if len(c.AllowedAlgs) == 0 {
		c.AllowedAlgs = []string{"RS256"}
	}
	if c.Leeway == 0 {
		c.Leeway = 60 * time.Second
	}
}

// Local validates RFC 9068 JWT access tokens against the issuer's JWKS
// without calling out per request. Deployments whose authorization
// server issues structured access tokens use this instead of HTTPClient
// to keep the hot path free of a network dependency; the JWKS cache
// refreshes itself in the background.
type Local struct {
	cfg     LocalConfig
	keyfunc jwt.Keyfunc
}

var _ Client = (*Local)(nil)

// NewLocal builds a Local introspector from an explicit JWKS URL.
func NewLocal(ctx context.Context, cfg LocalConfig) (*Local, error) {
	cfg.normalize()
	if cfg.Issuer == "" {
		return nil, errors.New("introspect: issuer is required")
	}
	if len(cfg.Audiences) == 0 {
		return nil, errors.New("introspect: at least one audience is required")
	}
	if cfg.JWKSURL == "" {
		return nil, errors.New("introspect: JWKS URL is required")
	}
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{cfg.JWKSURL})
	if err != nil {
		return nil, fmt.Errorf("introspect: jwks init failed: %w", err)
	}
	return &Local{cfg: cfg, keyfunc: kf.Keyfunc}, nil
}

// NewLocalFromDiscovery resolves jwks_uri from the issuer's discovery
// document and builds a Local introspector.
func NewLocalFromDiscovery(ctx context.Context, cfg LocalConfig) (*Local, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("introspect: issuer is required")
	}
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("introspect: oidc discovery failed: %w", err)
	}
	var meta struct {
		JwksURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("introspect: invalid discovery metadata: %w", err)
	}
	if meta.JwksURI == "" {
		return nil, errors.New("introspect: discovery metadata lacks jwks_uri")
	}
	cfg.JWKSURL = meta.JwksURI
	return NewLocal(ctx, cfg)
}

// Introspect implements Client. A token that fails validation yields an
// inactive Result, never an error: only JWKS/transport breakage counts
// as infrastructure failure, and that surfaces at construction or key
// refresh, not here.
func (l *Local) Introspect(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(l.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(l.cfg.Issuer),
		jwt.WithLeeway(l.cfg.Leeway),
	}
	if len(l.cfg.Audiences) == 1 {
		opts = append(opts, jwt.WithAudience(l.cfg.Audiences[0]))
	}
	parser := jwt.NewParser(opts...)

	parsed, err := parser.Parse(req.Token, l.keyfunc)
	if err != nil {
		return &Result{Denial: DenyInactive("")}, nil
	}

	// RFC 9068 requires the at+jwt typ header for access tokens.
	if typ, _ := parsed.Header["typ"].(string); typ != "at+jwt" && typ != "application/at+jwt" {
		return &Result{Denial: DenyInactive("The token is not an access token")}, nil
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return &Result{Denial: DenyInactive("")}, nil
	}

	if len(l.cfg.Audiences) > 1 {
		aud, _ := claims.GetAudience()
		if !intersects(aud, l.cfg.Audiences) {
			return &Result{Denial: DenyInactive("")}, nil
		}
	}

	res := &Result{
		Active:    true,
		TokenType: "Bearer",
	}
	if sub, err := claims.GetSubject(); err == nil {
		res.Subject = sub
	}
	if scope, _ := claims["scope"].(string); scope != "" {
		res.Scope = splitScope(scope)
	}
	if cid, _ := claims["client_id"].(string); cid != "" {
		res.ClientID = cid
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		res.ExpiresAt = exp.Time
	}

	res.Denial = Evaluate(req, res.Subject, res.Scope)
	return res, nil
}

func intersects(a jwt.ClaimStrings, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
