package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/tenantdesk/internal/guard"
	"github.com/hitoshi/tenantdesk/internal/middleware"
	"github.com/hitoshi/tenantdesk/internal/model"
	"github.com/hitoshi/tenantdesk/internal/session"
	"github.com/hitoshi/tenantdesk/internal/token"
)

// --- ルーターテスト用モック ---

type stubAuthenticator struct{}

func (stubAuthenticator) Authenticate(ctx context.Context, tokenString string) (*session.Result, error) {
	if tokenString != "valid-token" {
		return nil, model.ErrUnauthenticated
	}
	return &session.Result{
		Claims:  &token.Claims{SubjectID: "1", TokenID: "session-1"},
		Session: &model.Session{ID: "session-1", UserID: 1, Token: tokenString},
	}, nil
}

func (stubAuthenticator) TTL() time.Duration { return 24 * time.Hour }

type stubLoader struct{}

func (stubLoader) LoadPrincipal(ctx context.Context, s *model.Session) (*model.Principal, error) {
	return testPrincipal(), nil
}

type stubPinger struct {
	err error
}

func (p stubPinger) PingContext(ctx context.Context) error { return p.err }

var (
	_ middleware.Authenticator   = stubAuthenticator{}
	_ middleware.PrincipalLoader = stubLoader{}
	_ HealthChecker              = stubPinger{}
)

func newTestRouter(t *testing.T, deps *RouterDeps) http.Handler {
	t.Helper()
	g := guard.New(guard.DefaultConfig())
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	deps.SessionGuard = middleware.NewSessionGuard(stubAuthenticator{}, stubLoader{}, g, middleware.CookieConfig{}, nil)
	deps.RateLimiter = rl
	deps.CORSAllowedOrigin = "http://localhost:3000"
	deps.Guard = g
	deps.Cipher = newTestCipher(t)
	if deps.AuthService == nil {
		deps.AuthService = &mockAuthService{}
	}
	if deps.RoleService == nil {
		deps.RoleService = &mockRoleService{}
	}
	if deps.UserService == nil {
		deps.UserService = &mockUserService{}
	}
	return NewRouter(deps)
}

// authedRequest はセッションCookieとCSRFトークンを付けたリクエストを返す。
func authedRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.AddCookie(&http.Cookie{Name: middleware.AccessTokenCookie, Value: "valid-token"})
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "csrf-abc"})
	req.Header.Set("X-CSRF-Token", "csrf-abc")
	return req
}

func TestRouter_Health(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		wantStatus int
	}{
		{name: "DB接続あり", wantStatus: http.StatusOK},
		{name: "DB接続なし", pingErr: errors.New("connection refused"), wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, &RouterDeps{HealthChecker: stubPinger{err: tt.pingErr}})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
				t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
			}
		})
	}
}

func TestRouter_MetricsRoute(t *testing.T) {
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tenantdesk_login_total 1\n"))
	})
	router := newTestRouter(t, &RouterDeps{MetricsHandler: metricsHandler})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "tenantdesk_login_total") {
		t.Errorf("body = %q, want metrics output", w.Body.String())
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	router := newTestRouter(t, &RouterDeps{})

	req := httptest.NewRequest(http.MethodOptions, "/api/roles", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestRouter_ProtectedAPI(t *testing.T) {
	tests := []struct {
		name       string
		req        func() *http.Request
		wantStatus int
	}{
		{
			name:       "Cookieなしは401",
			req:        func() *http.Request { return httptest.NewRequest(http.MethodGet, "/api/roles", nil) },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "不正なトークンは401",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodGet, "/api/navigation", nil)
				r.AddCookie(&http.Cookie{Name: middleware.AccessTokenCookie, Value: "forged"})
				return r
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "ロール一覧はread権限で許可",
			req:        func() *http.Request { return authedRequest(http.MethodGet, "/api/roles", "") },
			wantStatus: http.StatusOK,
		},
		{
			name:       "ロール作成はadd権限で許可",
			req:        func() *http.Request { return authedRequest(http.MethodPost, "/api/roles", `{"name":"clerk"}`) },
			wantStatus: http.StatusCreated,
		},
		{
			name: "CSRFトークンなしは403",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodPost, "/api/roles", strings.NewReader(`{"name":"clerk"}`))
				r.AddCookie(&http.Cookie{Name: middleware.AccessTokenCookie, Value: "valid-token"})
				return r
			},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "ユーザー設定の権限がなければ403",
			req:        func() *http.Request { return authedRequest(http.MethodPut, "/api/users/user-2/role", `{"role":"viewer"}`) },
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "自分のプロフィールは権限設定によらず更新できる",
			req:        func() *http.Request { return authedRequest(http.MethodPatch, "/api/users/me", `{"name":"A"}`) },
			wantStatus: http.StatusOK,
		},
		{
			name:       "ナビゲーション取得",
			req:        func() *http.Request { return authedRequest(http.MethodGet, "/api/navigation", "") },
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, &RouterDeps{})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, tt.req())

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestRouter_LoginIsRateLimitedPerIP(t *testing.T) {
	router := newTestRouter(t, &RouterDeps{})

	var last int
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":"a@example.com","password":"x"}`))
		req.RemoteAddr = "203.0.113.7:5555"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		last = w.Code
		if last == http.StatusTooManyRequests {
			break
		}
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("last status = %d, want %d after repeated logins", last, http.StatusTooManyRequests)
	}
}

func TestRouter_LoginRateLimit_IgnoresForwardedHeadersByDefault(t *testing.T) {
	tests := []struct {
		name        string
		trustProxy  bool
		wantLimited bool
	}{
		{name: "既定ではX-Forwarded-Forを信頼しない", trustProxy: false, wantLimited: true},
		{name: "信頼設定時は転送元IPごとに数える", trustProxy: true, wantLimited: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, &RouterDeps{TrustProxyHeaders: tt.trustProxy})

			limited := 0
			for i := 0; i < 30; i++ {
				req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":"a@example.com","password":"x"}`))
				req.RemoteAddr = "203.0.113.7:5555"
				req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+1))
				w := httptest.NewRecorder()
				router.ServeHTTP(w, req)
				if w.Code == http.StatusTooManyRequests {
					limited++
				}
			}

			if got := limited > 0; got != tt.wantLimited {
				t.Errorf("rate limited %d of 30 requests, want limited = %v", limited, tt.wantLimited)
			}
		})
	}
}

func TestRouter_UnknownAPIRoute_Returns404(t *testing.T) {
	router := newTestRouter(t, &RouterDeps{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/unknown", nil))

	if w.Code != http.StatusNotFound && w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 404 or 405", w.Code)
	}
}
