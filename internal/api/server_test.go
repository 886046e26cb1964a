package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/thaeryn/httpgateway/internal/audit"
	"github.com/thaeryn/httpgateway/internal/auth"
	"github.com/thaeryn/httpgateway/internal/host"
	"github.com/thaeryn/httpgateway/internal/infrastructure/config"
	"github.com/thaeryn/httpgateway/internal/infrastructure/database"
	"github.com/thaeryn/httpgateway/internal/infrastructure/logging"
	"github.com/thaeryn/httpgateway/migrations"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var (
	adminIdentity  = auth.Identity{UserID: "76561190000000001", UserName: "Owner", RoleID: "admin"}
	playerIdentity = auth.Identity{UserID: "76561190000000002", UserName: "Player", RoleID: "player"}
)

// fakeHost is a host.Adapter with a fixed snapshot that records announcements.
type fakeHost struct {
	mu        sync.Mutex
	snapshot  any
	err       error
	announced []string
}

func (f *fakeHost) Name() string { return "fake" }
func (f *fakeHost) Start(context.Context, host.Sink) error { return nil }
func (f *fakeHost) Close() error { return nil }
func (f *fakeHost) Snapshot(context.Context) (any, error) { return f.snapshot, f.err }
func (f *fakeHost) Announce(_ context.Context, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.announced = append(f.announced, msg)
	return nil
}

func (f *fakeHost) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.announced...)
}

// testDeps returns dependencies for a server with a local host adapter.
func testDeps(t *testing.T) Deps {
	t.Helper()

	tokens, err := auth.NewTokenService([]byte(testSecret), auth.TokenConfig{
		Issuer:   "http://localhost",
		Audience: "http://localhost",
	})
	if err != nil {
		t.Fatalf("NewTokenService() error: %v", err)
	}

	return Deps{
		Config: config.GatewayConfig{
			Host: "127.0.0.1",
			Timeouts: config.GatewayTimeoutConfig{
				Read:     5,
				Write:    5,
				Idle:     5,
				Shutdown: 2,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    10,
			SendBuffer:     16,
		},
		Security: config.SecurityConfig{
			Bootstrap: config.IdentityConfig{
				UserID:   adminIdentity.UserID,
				UserName: adminIdentity.UserName,
				RoleID:   adminIdentity.RoleID,
			},
			AdminRoles: []string{"admin"},
		},
		Logger:   logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test"),
		Registry: auth.NewRegistry(auth.RegistryConfig{SingleUse: true}),
		Tokens:   tokens,
		Host:     host.NewLocal("test", nil),
		Version:  "test",
	}
}

func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv
}

// testServer creates a Server with default dependencies.
func testServer(t *testing.T) *Server {
	t.Helper()
	return newTestServer(t, testDeps(t))
}

// do sends a request through the router and returns the recorder.
func do(t *testing.T, h http.Handler, method, target string, body io.Reader, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// tokenFor issues a bearer token for id.
func tokenFor(t *testing.T, srv *Server, id auth.Identity) string {
	t.Helper()
	token, err := srv.tokens.Issue(id)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	return token
}

// wantBody fails unless w is a 200 carrying exactly want.
func wantBody(t *testing.T, w *httptest.ResponseRecorder, want string) {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Body.String(); got != want {
		t.Errorf("body = %s, want %s", got, want)
	}
}

// ─── Health and Middleware ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/health", nil, nil)

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
	if resp["host"] != "local" {
		t.Errorf("host = %v, want local", resp["host"])
	}
}

func TestRequestID_Generated(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/health", nil, nil)

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/health", nil,
		map[string]string{"X-Request-ID": "client-123"})

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv.buildRouter(), http.MethodOptions, "/api/login", nil,
		map[string]string{
			"Origin":                        "http://localhost:3000",
			"Access-Control-Request-Method": "POST",
		})

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
	if got := w.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, "_auth") {
		t.Errorf("Access-Control-Allow-Headers = %q, want it to include _auth", got)
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	deps := testDeps(t)
	deps.Config.CORS.AllowedOrigins = []string{"https://panel.example"}
	srv := newTestServer(t, deps)

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/health", nil,
		map[string]string{"Origin": "https://evil.example"})

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("ACAO = %q, want empty for disallowed origin", got)
	}
}

func TestWriteJSON_Unserialisable(t *testing.T) {
	srv := testServer(t)
	w := httptest.NewRecorder()

	srv.writeJSON(w, map[string]any{"ch": make(chan int)})

	wantBody(t, w, "{}")
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		want   string
	}{
		{"none", nil, ""},
		{"auth header", map[string]string{"_auth": "abc"}, "abc"},
		{"auth header with bearer", map[string]string{"_auth": "Bearer abc"}, "abc"},
		{"authorization fallback", map[string]string{"Authorization": "Bearer abc"}, "abc"},
		{"lowercase bearer", map[string]string{"Authorization": "bearer abc"}, "abc"},
		{"auth header wins", map[string]string{"_auth": "one", "Authorization": "Bearer two"}, "one"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/server", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			if got := tokenFromRequest(req); got != tt.want {
				t.Errorf("tokenFromRequest() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ─── Login ─────────────────────────────────────────────────────────

func TestLogin_Success(t *testing.T) {
	srv := testServer(t)
	code, err := srv.registry.Generate(playerIdentity)
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	w := do(t, srv.buildRouter(), http.MethodPost, "/api/login?code="+code, nil, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, want 200", w.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	token := resp["_auth"]
	if token == "" {
		t.Fatalf("login response %s has no _auth token", w.Body.String())
	}

	claims, err := srv.tokens.Parse(token)
	if err != nil {
		t.Fatalf("issued token does not parse: %v", err)
	}
	if got := claims.Identity(); got != playerIdentity {
		t.Errorf("token identity = %+v, want %+v", got, playerIdentity)
	}
}

func TestLogin_Denied(t *testing.T) {
	srv := testServer(t)
	router := srv.buildRouter()

	tests := []struct {
		name   string
		method string
		target string
		want   string
	}{
		{"unknown code", http.MethodPost, "/api/login?code=ZZZZZZ", `{"error":"Unauthorized","code":2}`},
		{"missing code", http.MethodPost, "/api/login", `{"error":"Unauthorized","code":2}`},
		{"malformed code", http.MethodPost, "/api/login?code=abc", `{"error":"Unauthorized","code":2}`},
		{"GET", http.MethodGet, "/api/login?code=ABCDEF", `{"error":"Unauthorized","code":4}`},
		{"PUT", http.MethodPut, "/api/login?code=ABCDEF", `{"error":"Unauthorized","code":4}`},
		{"OPTIONS without preflight", http.MethodOptions, "/api/login?code=ABCDEF", `{"error":"Unauthorized","code":4}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, tt.method, tt.target, nil, nil)
			wantBody(t, w, tt.want)
		})
	}
}

func TestLogin_WrongMethodKeepsCode(t *testing.T) {
	srv := testServer(t)
	router := srv.buildRouter()
	code, _ := srv.registry.Generate(playerIdentity)

	wantBody(t, do(t, router, http.MethodGet, "/api/login?code="+code, nil, nil),
		`{"error":"Unauthorized","code":4}`)

	w := do(t, router, http.MethodPost, "/api/login?code="+code, nil, nil)
	if !strings.Contains(w.Body.String(), `"_auth"`) {
		t.Errorf("POST after GET = %s, want a token", w.Body.String())
	}
}

func TestLogin_SingleUse(t *testing.T) {
	srv := testServer(t)
	router := srv.buildRouter()
	code, _ := srv.registry.Generate(playerIdentity)

	first := do(t, router, http.MethodPost, "/api/login?code="+code, nil, nil)
	if !strings.Contains(first.Body.String(), `"_auth"`) {
		t.Fatalf("first redemption = %s, want a token", first.Body.String())
	}

	second := do(t, router, http.MethodPost, "/api/login?code="+code, nil, nil)
	wantBody(t, second, `{"error":"Unauthorized","code":2}`)
}

func TestLogin_Reusable(t *testing.T) {
	deps := testDeps(t)
	deps.Registry = auth.NewRegistry(auth.RegistryConfig{SingleUse: false})
	srv := newTestServer(t, deps)
	router := srv.buildRouter()
	code, _ := srv.registry.Generate(playerIdentity)

	for i := range 3 {
		w := do(t, router, http.MethodPost, "/api/login?code="+code, nil, nil)
		if !strings.Contains(w.Body.String(), `"_auth"`) {
			t.Fatalf("redemption %d = %s, want a token", i+1, w.Body.String())
		}
	}
}

func TestLogin_Throttled(t *testing.T) {
	deps := testDeps(t)
	deps.Security.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 2}
	srv := newTestServer(t, deps)
	router := srv.buildRouter()

	login := func(remote, code string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/login?code="+code, nil)
		req.RemoteAddr = remote
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	// Burst of two wrong guesses uses up the bucket.
	for range 2 {
		wantBody(t, login("192.0.2.1:5000", "ZZZZZZ"), `{"error":"Unauthorized","code":2}`)
	}

	code, _ := srv.registry.Generate(playerIdentity)
	wantBody(t, login("192.0.2.1:5001", code), `{"error":"Unauthorized","code":2}`)

	// Throttling did not consume the code, and other clients are unaffected.
	w := login("192.0.2.2:5000", code)
	if !strings.Contains(w.Body.String(), `"_auth"`) {
		t.Errorf("other client login = %s, want a token", w.Body.String())
	}
}

// ─── Server Snapshot ───────────────────────────────────────────────

func TestServerSnapshot_Denied(t *testing.T) {
	srv := testServer(t)
	router := srv.buildRouter()

	other, err := auth.NewTokenService([]byte("another-secret-another-secret-xx"), auth.TokenConfig{
		Issuer:   "http://localhost",
		Audience: "http://localhost",
	})
	if err != nil {
		t.Fatalf("NewTokenService() error: %v", err)
	}
	foreign, _ := other.Issue(playerIdentity)

	wrongAudience, _ := auth.NewTokenService([]byte(testSecret), auth.TokenConfig{
		Issuer:   "http://localhost",
		Audience: "http://elsewhere",
	})
	misaddressed, _ := wrongAudience.Issue(playerIdentity)

	tests := []struct {
		name   string
		header map[string]string
	}{
		{"no token", nil},
		{"garbage", map[string]string{TokenHeader: "not-a-token"}},
		{"other secret", map[string]string{TokenHeader: foreign}},
		{"wrong audience", map[string]string{TokenHeader: misaddressed}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, http.MethodGet, "/api/server", nil, tt.header)
			wantBody(t, w, `{"error":"Unauthorized","code":3}`)
		})
	}
}

func TestServerSnapshot_Authorized(t *testing.T) {
	srv := testServer(t)
	router := srv.buildRouter()
	token := tokenFor(t, srv, playerIdentity)

	headers := []map[string]string{
		{TokenHeader: token},
		{TokenHeader: "Bearer " + token},
		{"Authorization": "Bearer " + token},
	}

	for _, h := range headers {
		w := do(t, router, http.MethodGet, "/api/server", nil, h)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}

		var snap host.LocalSnapshot
		if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if snap.Host != "local" {
			t.Errorf("snapshot host = %q, want local", snap.Host)
		}
		if snap.Version != "test" {
			t.Errorf("snapshot version = %q, want test", snap.Version)
		}
	}
}

func TestServerSnapshot_Unavailable(t *testing.T) {
	deps := testDeps(t)
	deps.Host = &fakeHost{err: errors.New("host offline")}
	srv := newTestServer(t, deps)

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/server", nil,
		map[string]string{TokenHeader: tokenFor(t, srv, playerIdentity)})

	wantBody(t, w, "{}")
}

// ─── Code Issuance ─────────────────────────────────────────────────

func TestIssueCode_ForCaller(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv.buildRouter(), http.MethodPost, "/api/codes", nil,
		map[string]string{TokenHeader: tokenFor(t, srv, adminIdentity)})

	var resp codeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !auth.IsCodeFormat(resp.Code) {
		t.Fatalf("code = %q, want %d alphanumeric characters", resp.Code, auth.CodeLength)
	}

	id, err := srv.registry.Redeem(resp.Code)
	if err != nil {
		t.Fatalf("Redeem() error: %v", err)
	}
	if id != adminIdentity {
		t.Errorf("redeemed identity = %+v, want %+v", id, adminIdentity)
	}
}

func TestIssueCode_ForOtherIdentity(t *testing.T) {
	srv := testServer(t)
	body, _ := json.Marshal(playerIdentity)

	w := do(t, srv.buildRouter(), http.MethodPost, "/api/codes", strings.NewReader(string(body)),
		map[string]string{TokenHeader: tokenFor(t, srv, adminIdentity)})

	var resp codeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	id, err := srv.registry.Redeem(resp.Code)
	if err != nil {
		t.Fatalf("Redeem(%q) error: %v", resp.Code, err)
	}
	if id != playerIdentity {
		t.Errorf("redeemed identity = %+v, want %+v", id, playerIdentity)
	}
}

func TestIssueCode_Denied(t *testing.T) {
	srv := testServer(t)
	router := srv.buildRouter()
	admin := tokenFor(t, srv, adminIdentity)

	tests := []struct {
		name   string
		body   string
		header map[string]string
		want   string
	}{
		{"no token", "", nil, `{"error":"Unauthorized","code":3}`},
		{"non-admin", "", map[string]string{TokenHeader: tokenFor(t, srv, playerIdentity)}, `{"error":"Forbidden","code":5}`},
		{"invalid json", "{", map[string]string{TokenHeader: admin}, `{"error":"BadRequest","code":6}`},
		{"missing user id", `{"user_name":"x"}`, map[string]string{TokenHeader: admin}, `{"error":"BadRequest","code":6}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, http.MethodPost, "/api/codes", strings.NewReader(tt.body), tt.header)
			wantBody(t, w, tt.want)
		})
	}

	if n := srv.registry.Len(); n != 0 {
		t.Errorf("registry holds %d codes after denied requests, want 0", n)
	}
}

func TestBootstrap_AnnouncesCode(t *testing.T) {
	deps := testDeps(t)
	fake := &fakeHost{}
	deps.Host = fake
	srv := newTestServer(t, deps)

	if err := srv.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error: %v", err)
	}

	msgs := fake.messages()
	if len(msgs) != 1 {
		t.Fatalf("announced %d messages, want 1", len(msgs))
	}
	code, ok := strings.CutPrefix(msgs[0], host.CodeReplyPrefix)
	if !ok {
		t.Fatalf("announcement %q lacks prefix %q", msgs[0], host.CodeReplyPrefix)
	}

	id, err := srv.registry.Redeem(code)
	if err != nil {
		t.Fatalf("Redeem(bootstrap code) error: %v", err)
	}
	if id != adminIdentity {
		t.Errorf("bootstrap identity = %+v, want %+v", id, adminIdentity)
	}
}

// ─── Audit ─────────────────────────────────────────────────────────

func TestAudit_Unavailable(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/audit", nil,
		map[string]string{TokenHeader: tokenFor(t, srv, adminIdentity)})

	wantBody(t, w, `{"error":"Unavailable","code":7}`)
}

func TestAudit_RecordsLogins(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}

	deps := testDeps(t)
	deps.AuditRepo = audit.NewSQLiteRepository(db.DB)
	srv := newTestServer(t, deps)
	router := srv.buildRouter()

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.drainAuditLog(ctx)
	}()

	code, err := srv.IssueCode(ctx, playerIdentity, audit.SourceAPI)
	if err != nil {
		t.Fatalf("IssueCode() error: %v", err)
	}
	do(t, router, http.MethodPost, "/api/login?code="+code, nil, nil)
	do(t, router, http.MethodPost, "/api/login?code=ZZZZZZ", nil, nil)

	// Flush the queue before reading it back.
	cancel()
	<-done

	admin := map[string]string{TokenHeader: tokenFor(t, srv, adminIdentity)}

	tests := []struct {
		query string
		want  int
	}{
		{"", 3},
		{"?action=login", 2},
		{"?action=login&result=failure", 1},
		{"?action=code_issued&user_id=" + playerIdentity.UserID, 1},
		{"?limit=1", 1},
	}

	for _, tt := range tests {
		t.Run("query"+tt.query, func(t *testing.T) {
			w := do(t, router, http.MethodGet, "/api/audit"+tt.query, nil, admin)

			var result audit.ListResult
			if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
				t.Fatalf("unmarshal %s: %v", w.Body.String(), err)
			}
			if len(result.Logs) != tt.want {
				t.Errorf("got %d entries, want %d", len(result.Logs), tt.want)
			}
		})
	}

	w := do(t, router, http.MethodGet, "/api/audit", nil, admin)
	if strings.Contains(w.Body.String(), code) {
		t.Error("audit trail contains the enrollment code")
	}
}

// ─── Metrics ───────────────────────────────────────────────────────

func TestMetricsEndpoint(t *testing.T) {
	deps := testDeps(t)
	deps.Metrics = config.MetricsConfig{Enabled: true, Path: "/metrics"}
	srv := newTestServer(t, deps)
	router := srv.buildRouter()

	do(t, router, http.MethodPost, "/api/login?code=ZZZZZZ", nil, nil)

	w := do(t, router, http.MethodGet, "/metrics", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", w.Code)
	}

	body := w.Body.String()
	for _, want := range []string{
		`httpgateway_logins_total{result="failure"} 1`,
		`httpgateway_http_requests_total{method="POST",route="/api/login",status="200"} 1`,
		"httpgateway_websocket_sessions_active 0",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

// ─── Lifecycle ─────────────────────────────────────────────────────

func TestServer_StartAndClose(t *testing.T) {
	srv := testServer(t)

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start = nil, want error")
	}

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	addr := srv.Addr()
	if addr == "" {
		t.Fatal("Addr() is empty after Start")
	}
	if err := srv.Start(context.Background()); err == nil {
		t.Error("second Start() = nil, want error")
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() while running = %v", err)
	}

	resp, err := http.Get("http://" + addr + "/api/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}

	select {
	case <-srv.Hub().Done():
	case <-time.After(2 * time.Second):
		t.Error("hub still running after Close")
	}

	if _, err := http.Get("http://" + addr + "/api/health"); err == nil {
		t.Error("server still responding after Close()")
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Deps)
	}{
		{"logger", func(d *Deps) { d.Logger = nil }},
		{"registry", func(d *Deps) { d.Registry = nil }},
		{"tokens", func(d *Deps) { d.Tokens = nil }},
		{"host", func(d *Deps) { d.Host = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := testDeps(t)
			tt.mutate(&deps)
			if _, err := New(deps); err == nil {
				t.Errorf("New() without %s = nil error", tt.name)
			}
		})
	}
}
