// Command resource-server runs the OAuth 2.0 protected resource server.
// All configuration comes from the environment; see Config.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/oidcware/resource-server-go/auth"
	"github.com/oidcware/resource-server-go/httpapi"
	"github.com/oidcware/resource-server-go/internal/logctx"
	"github.com/oidcware/resource-server-go/introspect"
	"github.com/oidcware/resource-server-go/store"
	filestore "github.com/oidcware/resource-server-go/store/file"
	memorystore "github.com/oidcware/resource-server-go/store/memory"
	redisstore "github.com/oidcware/resource-server-go/store/redis"
)

// Config is populated from the environment via envdecode.
type Config struct {
	ListenAddr string `env:"LISTEN_ADDR,default=:5001"`
	PublicURL  string `env:"PUBLIC_URL,default=http://localhost:5001"`
	ServerName string `env:"SERVER_NAME,default=resource-server"`
	Realm      string `env:"AUTH_REALM"`

	// Issuer is the authorization server. Required unless an explicit
	// introspection endpoint is configured.
	Issuer string `env:"OAUTH_ISSUER"`

	// TokenValidation selects how tokens are checked: "introspection"
	// calls the issuer's RFC 7662 endpoint; "jwt" validates RFC 9068
	// access tokens locally against the issuer's JWKS.
	TokenValidation string `env:"TOKEN_VALIDATION,default=introspection"`

	IntrospectionEndpoint     string `env:"INTROSPECTION_ENDPOINT"`
	IntrospectionClientID     string `env:"INTROSPECTION_CLIENT_ID"`
	IntrospectionClientSecret string `env:"INTROSPECTION_CLIENT_SECRET"`

	// TokenAudience is the audience enforced in jwt mode. Defaults to
	// PublicURL.
	TokenAudience string `env:"TOKEN_AUDIENCE"`

	// UserStore selects the userinfo backend: memory, file or redis.
	UserStore string `env:"USER_STORE,default=memory"`
	UsersFile string `env:"USERS_FILE"`

	// UserinfoScopes space-delimits scopes required by the userinfo
	// endpoint (e.g. "openid profile").
	UserinfoScopes string `env:"USERINFO_SCOPES"`

	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("config: %w", err)
	}

	log := newLogger(cfg.LogLevel)

	client, err := newIntrospectionClient(ctx, cfg)
	if err != nil {
		return err
	}
	authz := auth.NewAuthorizer(client, auth.WithRealm(cfg.Realm))

	users, cleanup, err := newUserStore(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	opts := []httpapi.Option{
		httpapi.WithLogger(log),
		httpapi.WithServerName(cfg.ServerName),
	}
	if cfg.Issuer != "" {
		opts = append(opts, httpapi.WithAuthorizationServers(cfg.Issuer))
	}
	if scopes := strings.Fields(cfg.UserinfoScopes); len(scopes) > 0 {
		opts = append(opts, httpapi.WithUserinfoScopes(scopes...))
	}
	h, err := httpapi.New(cfg.PublicURL, authz, users, opts...)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", slog.String("addr", cfg.ListenAddr), slog.String("public_url", cfg.PublicURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logctx.Handler{Handler: inner})
}

func newIntrospectionClient(ctx context.Context, cfg Config) (introspect.Client, error) {
	switch cfg.TokenValidation {
	case "jwt":
		if cfg.Issuer == "" {
			return nil, errors.New("config: OAUTH_ISSUER is required in jwt mode")
		}
		audience := cfg.TokenAudience
		if audience == "" {
			audience = cfg.PublicURL
		}
		return introspect.NewLocalFromDiscovery(ctx, introspect.LocalConfig{
			Issuer:    cfg.Issuer,
			Audiences: []string{audience},
		})
	case "introspection":
		opts := []introspect.HTTPOption{
			introspect.WithClientCredentials(cfg.IntrospectionClientID, cfg.IntrospectionClientSecret),
		}
		if cfg.IntrospectionEndpoint != "" {
			return introspect.NewHTTPClient(cfg.IntrospectionEndpoint, opts...)
		}
		if cfg.Issuer == "" {
			return nil, errors.New("config: OAUTH_ISSUER or INTROSPECTION_ENDPOINT is required")
		}
		return introspect.NewHTTPClientFromDiscovery(ctx, cfg.Issuer, opts...)
	default:
		return nil, fmt.Errorf("config: unknown TOKEN_VALIDATION %q", cfg.TokenValidation)
	}
}

func newUserStore(cfg Config, log *slog.Logger) (store.UserStore, func(), error) {
	switch cfg.UserStore {
	case "memory":
		return memorystore.NewSeeded(), func() {}, nil
	case "file":
		if cfg.UsersFile == "" {
			return nil, nil, errors.New("config: USERS_FILE is required with USER_STORE=file")
		}
		s, err := filestore.New(cfg.UsersFile, filestore.WithLogger(log))
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "redis":
		s, err := redisstore.NewFromEnv()
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("config: unknown USER_STORE %q", cfg.UserStore)
	}
}
