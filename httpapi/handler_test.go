package httpapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oidcware/resource-server-go/auth"
	"github.com/oidcware/resource-server-go/auth/authtest"
	"github.com/oidcware/resource-server-go/httpapi"
	"github.com/oidcware/resource-server-go/introspect"
	"github.com/oidcware/resource-server-go/store"
	"github.com/oidcware/resource-server-go/store/memory"
)

const (
	tokenFull    = "tok-full"    // subject 1001, openid+profile
	tokenMinimal = "tok-minimal" // subject 1002, no scopes
	tokenGhost   = "tok-ghost"   // subject with no user record
)

type countingStore struct {
	inner   store.UserStore
	lookups atomic.Int64
}

func (c *countingStore) FindBySubject(ctx context.Context, subject string) (*store.UserRecord, error) {
	c.lookups.Add(1)
	return c.inner.FindBySubject(ctx, subject)
}

func newTestHandler(t *testing.T, opts ...httpapi.Option) (*httpapi.Handler, *countingStore) {
	t.Helper()
	return newTestHandlerWithClient(t, authtest.NewStaticClient(map[string]authtest.Token{
		tokenFull:    {Subject: "1001", Scopes: []string{"openid", "profile"}, ClientID: "client-one"},
		tokenMinimal: {Subject: "1002", ClientID: "client-two"},
		tokenGhost:   {Subject: "9999", Scopes: []string{"openid", "profile"}, ClientID: "client-one"},
	}), opts...)
}

func newTestHandlerWithClient(t *testing.T, client introspect.Client, opts ...httpapi.Option) (*httpapi.Handler, *countingStore) {
	t.Helper()
	users := &countingStore{inner: memory.NewSeeded()}
	h, err := httpapi.New("https://rs.example.com", auth.NewAuthorizer(client), users, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h, users
}

func doRequest(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("Content-Type = %q", ct)
	}
	var doc map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&doc); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return doc
}

func TestTimeWithoutCredential(t *testing.T) {
	h, users := newTestHandler(t)

	rec := doRequest(h, httptest.NewRequest("GET", "/api/time", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	// No credential at all gets the bare scheme challenge, no error attr.
	if got := rec.Header().Get("WWW-Authenticate"); got != "Bearer" {
		t.Fatalf("WWW-Authenticate = %q, want %q", got, "Bearer")
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("body = %q, want empty", rec.Body.String())
	}
	if users.lookups.Load() != 0 {
		t.Fatal("rejected request reached the user store")
	}
}

func TestTimeWithUnknownToken(t *testing.T) {
	h, _ := newTestHandler(t)

	r := httptest.NewRequest("GET", "/api/time", nil)
	r.Header.Set("Authorization", "Bearer no-such-token")
	rec := doRequest(h, r)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	ch := rec.Header().Get("WWW-Authenticate")
	if !strings.HasPrefix(ch, "Bearer ") || !strings.Contains(ch, `error="invalid_token"`) {
		t.Fatalf("WWW-Authenticate = %q", ch)
	}
	doc := decodeJSON(t, rec)
	if doc["error"] != "invalid_token" {
		t.Fatalf("body = %v", doc)
	}
}

func TestTimePayload(t *testing.T) {
	h, _ := newTestHandler(t)

	before := time.Now().UTC()
	r := httptest.NewRequest("GET", "/api/time", nil)
	r.Header.Set("Authorization", "Bearer "+tokenFull)
	rec := doRequest(h, r)
	after := time.Now().UTC()

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	doc := decodeJSON(t, rec)

	want := []string{"year", "month", "day", "hour", "minute", "second", "millisecond"}
	if len(doc) != len(want) {
		t.Fatalf("payload members = %v", doc)
	}
	for _, k := range want {
		if _, ok := doc[k]; !ok {
			t.Fatalf("payload missing %q: %v", k, doc)
		}
	}

	year := int(doc["year"].(float64))
	if year < before.Year() || year > after.Year() {
		t.Fatalf("year = %d outside [%d, %d]", year, before.Year(), after.Year())
	}
	month := int(doc["month"].(float64))
	if month < 1 || month > 12 {
		t.Fatalf("month = %d", month)
	}
	ms := int(doc["millisecond"].(float64))
	if ms < 0 || ms > 999 {
		t.Fatalf("millisecond = %d", ms)
	}
}

func TestHeaderTakesPrecedenceOverQuery(t *testing.T) {
	h, _ := newTestHandler(t)

	r := httptest.NewRequest("GET", "/api/time?access_token=no-such-token", nil)
	r.Header.Set("Authorization", "Bearer "+tokenFull)
	rec := doRequest(h, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 via header token", rec.Code)
	}
}

func TestMalformedHeaderFallsThroughToQuery(t *testing.T) {
	h, _ := newTestHandler(t)

	r := httptest.NewRequest("GET", "/api/time?access_token="+tokenFull, nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := doRequest(h, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 via query token", rec.Code)
	}
}

func TestPostReadsFormBodyOnly(t *testing.T) {
	h, _ := newTestHandler(t)

	form := url.Values{"access_token": {tokenFull}}
	r := httptest.NewRequest("POST", "/api/time", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if rec := doRequest(h, r); rec.Code != http.StatusOK {
		t.Fatalf("form token: status = %d", rec.Code)
	}

	// A POST body with the wrong media type is not consulted.
	r = httptest.NewRequest("POST", "/api/time", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "text/plain")
	if rec := doRequest(h, r); rec.Code != http.StatusUnauthorized {
		t.Fatalf("non-form body: status = %d, want 401", rec.Code)
	}

	// POST never falls back to the query component.
	r = httptest.NewRequest("POST", "/api/time?access_token="+tokenFull, nil)
	if rec := doRequest(h, r); rec.Code != http.StatusUnauthorized {
		t.Fatalf("query token on POST: status = %d, want 401", rec.Code)
	}
}

func TestUserinfoKnownSubject(t *testing.T) {
	h, users := newTestHandler(t)

	r := httptest.NewRequest("GET", "/api/userinfo", nil)
	r.Header.Set("Authorization", "Bearer "+tokenFull)
	rec := doRequest(h, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	doc := decodeJSON(t, rec)

	if doc["sub"] != "1001" || doc["name"] != "John Smith" || doc["email"] != "john@example.com" {
		t.Fatalf("doc = %v", doc)
	}
	if doc["phone_number"] != "+1 (425) 555-1212" {
		t.Fatalf("phone_number = %v", doc["phone_number"])
	}
	addr, ok := doc["address"].(map[string]any)
	if !ok || addr["country"] != "USA" {
		t.Fatalf("address = %v", doc["address"])
	}

	// The whole claim set resolves from one store lookup.
	if got := users.lookups.Load(); got != 1 {
		t.Fatalf("store lookups = %d, want 1", got)
	}
}

func TestUserinfoUnknownSubject(t *testing.T) {
	h, _ := newTestHandler(t)

	r := httptest.NewRequest("GET", "/api/userinfo", nil)
	r.Header.Set("Authorization", "Bearer "+tokenGhost)
	rec := doRequest(h, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	doc := decodeJSON(t, rec)
	if len(doc) != 1 || doc["sub"] != "9999" {
		t.Fatalf("doc = %v, want only the sub member", doc)
	}
}

func TestUserinfoScopeShortfall(t *testing.T) {
	h, users := newTestHandler(t, httpapi.WithUserinfoScopes("profile"))

	r := httptest.NewRequest("GET", "/api/userinfo", nil)
	r.Header.Set("Authorization", "Bearer "+tokenMinimal)
	rec := doRequest(h, r)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	ch := rec.Header().Get("WWW-Authenticate")
	if !strings.Contains(ch, `error="insufficient_scope"`) {
		t.Fatalf("WWW-Authenticate = %q", ch)
	}
	if users.lookups.Load() != 0 {
		t.Fatal("scope-rejected request reached the user store")
	}

	// The same handler still serves a sufficiently scoped token.
	r = httptest.NewRequest("GET", "/api/userinfo", nil)
	r.Header.Set("Authorization", "Bearer "+tokenFull)
	if rec := doRequest(h, r); rec.Code != http.StatusOK {
		t.Fatalf("scoped token: status = %d", rec.Code)
	}
}

func TestIntrospectionUnavailable(t *testing.T) {
	h, _ := newTestHandlerWithClient(t, authtest.UnavailableClient{})

	r := httptest.NewRequest("GET", "/api/time", nil)
	r.Header.Set("Authorization", "Bearer "+tokenFull)
	rec := doRequest(h, r)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	// A backend failure is not a bearer challenge.
	if got := rec.Header().Get("WWW-Authenticate"); got != "" {
		t.Fatalf("WWW-Authenticate = %q, want none", got)
	}
	doc := decodeJSON(t, rec)
	errObj, ok := doc["error"].(map[string]any)
	if !ok || errObj["message"] != "temporarily unable to validate access tokens" {
		t.Fatalf("body = %v", doc)
	}
}

func TestProtectedResourceMetadata(t *testing.T) {
	h, _ := newTestHandler(t,
		httpapi.WithServerName("Example Resource Server"),
		httpapi.WithAuthorizationServers("https://issuer.example.com"),
		httpapi.WithScopesSupported("openid", "profile"),
	)

	rec := doRequest(h, httptest.NewRequest("GET", "/.well-known/oauth-protected-resource", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	doc := decodeJSON(t, rec)
	if doc["resource"] != "https://rs.example.com" {
		t.Fatalf("resource = %v", doc["resource"])
	}
	if doc["resource_name"] != "Example Resource Server" {
		t.Fatalf("resource_name = %v", doc["resource_name"])
	}
	servers, _ := doc["authorization_servers"].([]any)
	if len(servers) != 1 || servers[0] != "https://issuer.example.com" {
		t.Fatalf("authorization_servers = %v", doc["authorization_servers"])
	}
}

func TestUserinfoClaimsLocale(t *testing.T) {
	users := &countingStore{inner: localizedStore(t)}
	client := authtest.NewStaticClient(map[string]authtest.Token{
		"tok-local": {Subject: "2001", Scopes: []string{"openid"}, ClientID: "client-one"},
	})
	h, err := httpapi.New("https://rs.example.com", auth.NewAuthorizer(client), users)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	r := httptest.NewRequest("GET", "/api/userinfo?claims_locales=ja+en", nil)
	r.Header.Set("Authorization", "Bearer tok-local")
	rec := doRequest(h, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	doc := decodeJSON(t, rec)
	if doc["name"] != "山田太郎" {
		t.Fatalf("name = %v, want localized value", doc["name"])
	}
}

func TestUserinfoBlankClaimsLocale(t *testing.T) {
	h, _ := newTestHandler(t)

	// "+" form-decodes to a lone space; the parameter is present but
	// names no locale.
	for _, target := range []string{
		"/api/userinfo?claims_locales=+",
		"/api/userinfo?claims_locales=",
	} {
		r := httptest.NewRequest("GET", target, nil)
		r.Header.Set("Authorization", "Bearer "+tokenFull)
		rec := doRequest(h, r)

		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, want 200", target, rec.Code)
		}
		doc := decodeJSON(t, rec)
		if doc["name"] != "John Smith" {
			t.Fatalf("%s: doc = %v, want default-language claims", target, doc)
		}
	}
}

func localizedStore(t *testing.T) store.UserStore {
	t.Helper()
	s := memory.New()
	s.Put(&store.UserRecord{
		Subject: "2001",
		Name:    "Taro Yamada",
		Localized: map[string]map[string]string{
			"name": {"ja": "山田太郎"},
		},
	})
	return s
}
