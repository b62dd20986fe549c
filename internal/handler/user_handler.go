package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/tenantdesk/internal/middleware"
	"github.com/hitoshi/tenantdesk/internal/model"
	"github.com/hitoshi/tenantdesk/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// UpdateProfile はユーザー自身のプロフィールを更新する。
	UpdateProfile(ctx context.Context, tenantUUID, userUUID string, in user.ProfileInput) (*model.User, error)
	// AssignRole はテナント内のユーザーにロールを割り当てる。
	AssignRole(ctx context.Context, tenantUUID, userUUID, roleName string) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

// profileRequest はプロフィール更新のボディ。省略した項目は変更しない。
type profileRequest struct {
	Name         *string `json:"name"`
	Contact      *string `json:"contact"`
	ProfileImage *string `json:"profile"`
}

type assignRoleRequest struct {
	Role string `json:"role"`
}

type userResponse struct {
	UserUUID     string    `json:"userUuid"`
	TenantUUID   string    `json:"tentUuid"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	Contact      string    `json:"contact"`
	ProfileImage string    `json:"profile"`
	CreatedAt    time.Time `json:"createdAt"`
}

// UpdateProfile はログインユーザーのプロフィールを更新する。
// PATCH /api/users/me
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req profileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	updated, err := h.service.UpdateProfile(r.Context(), principal.User.TenantUUID, principal.User.UUID, user.ProfileInput{
		Name:         req.Name,
		Contact:      req.Contact,
		ProfileImage: req.ProfileImage,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, userResponse{
		UserUUID:     updated.UUID,
		TenantUUID:   updated.TenantUUID,
		Name:         updated.Name,
		Email:        updated.Email,
		Role:         updated.Role,
		Contact:      updated.Contact,
		ProfileImage: updated.ProfileImage,
		CreatedAt:    updated.CreatedAt,
	})
}

// AssignRole はユーザーのロールを変更する。
// PUT /api/users/{uuid}/role
func (h *UserHandler) AssignRole(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req assignRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Role == "" {
		handleServiceError(w, model.NewValidationError("ロール名が空です"))
		return
	}

	if err := h.service.AssignRole(r.Context(), principal.User.TenantUUID, chi.URLParam(r, "uuid"), req.Role); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
