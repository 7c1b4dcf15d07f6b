package logctx

import (
	"context"
	"log/slog"
)

// Handler wraps a slog.Handler and enriches every record with request
// and authorization attributes carried in the context.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		r.AddAttrs(slog.Group("req",
			slog.String("id", rd.RequestID),
			slog.String("method", rd.Method),
			slog.String("user_agent", rd.UserAgent),
			slog.String("remote_addr", rd.RemoteAddr),
			slog.String("path", rd.Path),
		))
	}

	if ad, ok := ctx.Value(authDataKey{}).(*AuthData); ok {
		r.AddAttrs(slog.Group("auth",
			slog.String("subject", ad.Subject),
			slog.String("client_id", ad.ClientID),
		))
	}

	return h.Handler.Handle(ctx, r)
}

type requestDataKey struct{}

type RequestData struct {
	RequestID  string
	Method     string
	UserAgent  string
	RemoteAddr string
	Path       string
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}

type authDataKey struct{}

// AuthData identifies the authorized principal. It is attached only
// after a Valid verdict exists; tokens themselves are never logged.
type AuthData struct {
	Subject  string
	ClientID string
}

func WithAuthData(ctx context.Context, data *AuthData) context.Context {
	return context.WithValue(ctx, authDataKey{}, data)
}
