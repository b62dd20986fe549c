package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/tenantdesk/internal/middleware"
	"github.com/hitoshi/tenantdesk/internal/model"
	"github.com/hitoshi/tenantdesk/internal/permission"
	"github.com/hitoshi/tenantdesk/internal/role"
)

// RoleServiceInterface はロールハンドラーが必要とするサービスインターフェース。
type RoleServiceInterface interface {
	List(ctx context.Context, tenantUUID string) ([]*model.Role, error)
	Get(ctx context.Context, tenantUUID, id string) (*model.Role, error)
	Create(ctx context.Context, tenantUUID string, in role.Input) (*model.Role, error)
	Update(ctx context.Context, tenantUUID, id string, in role.Input) (*model.Role, error)
	Delete(ctx context.Context, tenantUUID, id string) error
}

// RoleHandler はロール（ナビゲーション・権限設定）管理のHTTPハンドラー。
type RoleHandler struct {
	service RoleServiceInterface
}

// NewRoleHandler はRoleHandlerを生成する。
func NewRoleHandler(service RoleServiceInterface) *RoleHandler {
	return &RoleHandler{service: service}
}

// roleRequest はロール作成・更新のボディ。
// permissionsはSection/Item/SubItem形式のナビゲーションツリー。
type roleRequest struct {
	Name        string          `json:"name"`
	BranchUUID  string          `json:"branchUuid"`
	Permissions json.RawMessage `json:"permissions"`
	RoleModules []string        `json:"roleModules"`
}

type roleResponse struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	BranchUUID  string          `json:"branchUuid,omitempty"`
	Permissions permission.Tree `json:"permissions"`
	RoleModules []string        `json:"roleModules"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// List はテナントのロール一覧を返す。
// GET /api/roles
func (h *RoleHandler) List(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	roles, err := h.service.List(r.Context(), principal.User.TenantUUID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]roleResponse, 0, len(roles))
	for _, rl := range roles {
		resp = append(resp, toRoleResponse(rl))
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// Get はロールを1件返す。
// GET /api/roles/{id}
func (h *RoleHandler) Get(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	rl, err := h.service.Get(r.Context(), principal.User.TenantUUID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toRoleResponse(rl))
}

// Create はロールを作成する。
// POST /api/roles
func (h *RoleHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req roleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rl, err := h.service.Create(r.Context(), principal.User.TenantUUID, req.input())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, toRoleResponse(rl))
}

// Update はロールを更新する。
// PUT /api/roles/{id}
func (h *RoleHandler) Update(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req roleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rl, err := h.service.Update(r.Context(), principal.User.TenantUUID, chi.URLParam(r, "id"), req.input())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toRoleResponse(rl))
}

// Delete はロールを削除する。
// DELETE /api/roles/{id}
func (h *RoleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), principal.User.TenantUUID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (req roleRequest) input() role.Input {
	return role.Input{
		Name:       req.Name,
		BranchUUID: req.BranchUUID,
		Navigation: req.Permissions,
		Modules:    req.RoleModules,
	}
}

func toRoleResponse(rl *model.Role) roleResponse {
	modules := rl.Modules
	if modules == nil {
		modules = []string{}
	}
	tree := rl.Navigation
	if tree == nil {
		tree = permission.Tree{}
	}
	return roleResponse{
		ID:          rl.ID,
		Name:        rl.Name,
		BranchUUID:  rl.BranchUUID,
		Permissions: tree,
		RoleModules: modules,
		CreatedAt:   rl.CreatedAt,
		UpdatedAt:   rl.UpdatedAt,
	}
}

// requirePrincipal はコンテキストのプリンシパルを返す。
// 存在しない場合は401を書き込んでfalseを返す。
func requirePrincipal(w http.ResponseWriter, r *http.Request) (*model.Principal, bool) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return nil, false
	}
	return principal, true
}

// decodeJSON はJSONボディをデコードする。失敗時は400を書き込んでfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, newInvalidRequestError())
		return false
	}
	return true
}
