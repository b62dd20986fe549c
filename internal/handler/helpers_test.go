package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/tenantdesk/internal/auth"
	"github.com/hitoshi/tenantdesk/internal/cipher"
	"github.com/hitoshi/tenantdesk/internal/middleware"
	"github.com/hitoshi/tenantdesk/internal/model"
	"github.com/hitoshi/tenantdesk/internal/permission"
	"github.com/hitoshi/tenantdesk/internal/role"
	"github.com/hitoshi/tenantdesk/internal/user"
)

const testPayloadSecret = "payload-secret-for-handler-tests-0123456789"

// --- モック定義 ---

type mockAuthService struct {
	loginFn        func(ctx context.Context, email, password string) (*model.Session, error)
	signupFn       func(ctx context.Context, in auth.SignupInput) (*model.Session, error)
	logoutFn       func(ctx context.Context, token string) error
	switchBranchFn func(ctx context.Context, p *model.Principal, branchUUID string) (*model.Principal, error)
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*model.Session, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, model.ErrInvalidCredentials
}

func (m *mockAuthService) Signup(ctx context.Context, in auth.SignupInput) (*model.Session, error) {
	if m.signupFn != nil {
		return m.signupFn(ctx, in)
	}
	return nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, token string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, token)
	}
	return nil
}

func (m *mockAuthService) SwitchBranch(ctx context.Context, p *model.Principal, branchUUID string) (*model.Principal, error) {
	if m.switchBranchFn != nil {
		return m.switchBranchFn(ctx, p, branchUUID)
	}
	return p, nil
}

type mockResolver struct {
	resolveFn func(w http.ResponseWriter, r *http.Request) (*model.Principal, error)
}

func (m *mockResolver) Resolve(w http.ResponseWriter, r *http.Request) (*model.Principal, error) {
	if m.resolveFn != nil {
		return m.resolveFn(w, r)
	}
	return nil, model.ErrUnauthenticated
}

type mockLoginRecorder struct {
	results []string
}

func (m *mockLoginRecorder) RecordLogin(result string) {
	m.results = append(m.results, result)
}

type mockRoleService struct {
	listFn   func(ctx context.Context, tenantUUID string) ([]*model.Role, error)
	getFn    func(ctx context.Context, tenantUUID, id string) (*model.Role, error)
	createFn func(ctx context.Context, tenantUUID string, in role.Input) (*model.Role, error)
	updateFn func(ctx context.Context, tenantUUID, id string, in role.Input) (*model.Role, error)
	deleteFn func(ctx context.Context, tenantUUID, id string) error
}

func (m *mockRoleService) List(ctx context.Context, tenantUUID string) ([]*model.Role, error) {
	if m.listFn != nil {
		return m.listFn(ctx, tenantUUID)
	}
	return []*model.Role{}, nil
}

func (m *mockRoleService) Get(ctx context.Context, tenantUUID, id string) (*model.Role, error) {
	if m.getFn != nil {
		return m.getFn(ctx, tenantUUID, id)
	}
	return nil, model.NewRoleNotFoundError(id)
}

func (m *mockRoleService) Create(ctx context.Context, tenantUUID string, in role.Input) (*model.Role, error) {
	if m.createFn != nil {
		return m.createFn(ctx, tenantUUID, in)
	}
	return &model.Role{ID: "role-new", TenantUUID: tenantUUID, Name: in.Name}, nil
}

func (m *mockRoleService) Update(ctx context.Context, tenantUUID, id string, in role.Input) (*model.Role, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, tenantUUID, id, in)
	}
	return &model.Role{ID: id, TenantUUID: tenantUUID, Name: in.Name}, nil
}

func (m *mockRoleService) Delete(ctx context.Context, tenantUUID, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, tenantUUID, id)
	}
	return nil
}

type mockUserService struct {
	updateProfileFn func(ctx context.Context, tenantUUID, userUUID string, in user.ProfileInput) (*model.User, error)
	assignRoleFn    func(ctx context.Context, tenantUUID, userUUID, roleName string) error
}

func (m *mockUserService) UpdateProfile(ctx context.Context, tenantUUID, userUUID string, in user.ProfileInput) (*model.User, error) {
	if m.updateProfileFn != nil {
		return m.updateProfileFn(ctx, tenantUUID, userUUID, in)
	}
	return &model.User{UUID: userUUID, TenantUUID: tenantUUID}, nil
}

func (m *mockUserService) AssignRole(ctx context.Context, tenantUUID, userUUID, roleName string) error {
	if m.assignRoleFn != nil {
		return m.assignRoleFn(ctx, tenantUUID, userUUID, roleName)
	}
	return nil
}

// compile-time interface check
var (
	_ AuthServiceInterface = (*mockAuthService)(nil)
	_ PrincipalResolver    = (*mockResolver)(nil)
	_ LoginRecorder        = (*mockLoginRecorder)(nil)
	_ RoleServiceInterface = (*mockRoleService)(nil)
	_ UserServiceInterface = (*mockUserService)(nil)
	_ PayloadCipher        = (*cipher.Cipher)(nil)
)

// --- テスト用データ ---

// testNavigation はダッシュボード（読み取り）、在庫（読み取り・追加）、
// ロール設定（全権限）、請求（権限なし）を持つツリー。
func testNavigation() permission.Tree {
	return permission.Tree{
		{Title: "Main", Items: []permission.Item{
			{Title: "Dashboard", URL: "/dashboard", Permissions: permission.Permissions{Read: true}},
			{Title: "Inventory", URL: "/inventory", Permissions: permission.Permissions{Read: true, Add: true}},
		}},
		{Title: "Settings", Items: []permission.Item{
			{Title: "Roles", URL: "/settings/roles", Permissions: permission.Full},
			{Title: "Billing", URL: "/billing", Permissions: permission.None},
		}},
	}
}

func testPrincipal() *model.Principal {
	return &model.Principal{
		User: &model.User{
			ID: 1, UUID: "user-1", TenantUUID: "tenant-1",
			Name: "Alice", Email: "alice@example.com", Role: "admin",
		},
		Session:    &model.Session{ID: "session-1", UserID: 1, Token: "valid-token"},
		Navigation: testNavigation(),
		Modules:    []string{"inventory"},
	}
}

func newTestCipher(t *testing.T) *cipher.Cipher {
	t.Helper()
	c, err := cipher.New(testPayloadSecret)
	if err != nil {
		t.Fatalf("cipher.New returned error: %v", err)
	}
	return c
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	return bytes.NewReader(b)
}

// withPrincipal はRequireSession通過後と同じコンテキストのリクエストを返す。
func withPrincipal(r *http.Request, p *model.Principal) *http.Request {
	return r.WithContext(middleware.ContextWithPrincipal(r.Context(), p))
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}
