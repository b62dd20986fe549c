package middleware

import (
	"context"
	"time"

	"github.com/hitoshi/tenantdesk/internal/model"
	"github.com/hitoshi/tenantdesk/internal/permission"
	"github.com/hitoshi/tenantdesk/internal/session"
	"github.com/hitoshi/tenantdesk/internal/token"
)

// --- モック定義 ---

type mockAuthenticator struct {
	authenticateFn func(ctx context.Context, tokenString string) (*session.Result, error)
	ttl            time.Duration
}

func (m *mockAuthenticator) Authenticate(ctx context.Context, tokenString string) (*session.Result, error) {
	if m.authenticateFn != nil {
		return m.authenticateFn(ctx, tokenString)
	}
	return nil, model.ErrUnauthenticated
}

func (m *mockAuthenticator) TTL() time.Duration {
	if m.ttl == 0 {
		return 24 * time.Hour
	}
	return m.ttl
}

type mockPrincipalLoader struct {
	loadPrincipalFn func(ctx context.Context, s *model.Session) (*model.Principal, error)
}

func (m *mockPrincipalLoader) LoadPrincipal(ctx context.Context, s *model.Session) (*model.Principal, error) {
	if m.loadPrincipalFn != nil {
		return m.loadPrincipalFn(ctx, s)
	}
	return testPrincipal("user-123"), nil
}

type mockAuthMetrics struct {
	latencies  int
	extensions int
}

func (m *mockAuthMetrics) RecordAuthenticateLatency(time.Duration) { m.latencies++ }
func (m *mockAuthMetrics) RecordSessionExtended()                  { m.extensions++ }

// compile-time interface check
var (
	_ Authenticator   = (*mockAuthenticator)(nil)
	_ PrincipalLoader = (*mockPrincipalLoader)(nil)
	_ AuthMetrics     = (*mockAuthMetrics)(nil)
)

// testNavigation はダッシュボードとレポート（読み取りのみ）、ロール設定（全権限）を持つツリー。
func testNavigation() permission.Tree {
	return permission.Tree{
		{Title: "Main", Items: []permission.Item{
			{Title: "Dashboard", URL: "/dashboard", Permissions: permission.Permissions{Read: true}},
			{Title: "Reports", URL: "/reports", Permissions: permission.Permissions{Read: true}},
		}},
		{Title: "Settings", Items: []permission.Item{
			{Title: "Roles", URL: "/settings/roles", Permissions: permission.Full},
			{Title: "Billing", URL: "/billing", Permissions: permission.None},
		}},
	}
}

func testPrincipal(userUUID string) *model.Principal {
	return &model.Principal{
		User:       &model.User{ID: 1, UUID: userUUID, TenantUUID: "tenant-1", Role: "admin"},
		Session:    &model.Session{ID: "session-1", UserID: 1, Token: "valid-token"},
		Navigation: testNavigation(),
	}
}

// authenticatedAs は指定トークンのみ認証に成功するAuthenticatorを返す。
func authenticatedAs(validToken string, extended bool) *mockAuthenticator {
	return &mockAuthenticator{
		authenticateFn: func(ctx context.Context, tokenString string) (*session.Result, error) {
			if tokenString != validToken {
				return nil, model.ErrUnauthenticated
			}
			return &session.Result{
				Claims:   &token.Claims{SubjectID: "1", TokenID: "session-1"},
				Session:  &model.Session{ID: "session-1", UserID: 1, Token: tokenString},
				Extended: extended,
			}, nil
		},
	}
}
