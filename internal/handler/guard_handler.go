package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/tenantdesk/internal/guard"
	"github.com/hitoshi/tenantdesk/internal/middleware"
	"github.com/hitoshi/tenantdesk/internal/model"
	"github.com/hitoshi/tenantdesk/internal/permission"
)

// GuardHandler はクライアント側のルートガードとメニュー表示に使うAPI。
type GuardHandler struct {
	guard    *guard.Guard
	resolver PrincipalResolver
}

// NewGuardHandler はGuardHandlerを生成する。
func NewGuardHandler(g *guard.Guard, resolver PrincipalResolver) *GuardHandler {
	return &GuardHandler{guard: g, resolver: resolver}
}

type guardCheckRequest struct {
	Pathname string `json:"pathname"`
}

// navigationResponse はメニュー描画用のナビゲーション。
type navigationResponse struct {
	Navigation     permission.Tree `json:"navigation"`
	AccessibleURLs []string        `json:"accessibleUrls"`
	Modules        []string        `json:"allowedModule"`
	BranchUUID     string          `json:"branchUuid,omitempty"`
}

// Check はクライアント側の画面遷移1回分のガード判定を返す。
// POST /api/guard/check
// 未認証でも401にはせず、RedirectLoginの判定として返す。
func (h *GuardHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req guardCheckRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, newInvalidRequestError())
		return
	}
	if !strings.HasPrefix(req.Pathname, "/") || strings.HasPrefix(req.Pathname, "//") {
		handleServiceError(w, model.NewValidationError("pathnameは / で始まるパスを指定してください"))
		return
	}

	greq := guard.Request{Pathname: req.Pathname}
	if !h.guard.IsPublic(req.Pathname) {
		principal, err := h.resolver.Resolve(w, r)
		switch {
		case err == nil:
			greq.Authenticated = true
			greq.Navigation = principal.Navigation
		case errors.Is(err, model.ErrUnauthenticated):
		default:
			// ストア障害はログアウト扱いにしない
			slog.Error("failed to resolve principal for guard check",
				slog.String("pathname", req.Pathname),
				slog.String("error", err.Error()),
			)
			middleware.WriteInternalServerError(w)
			return
		}
	}

	middleware.WriteJSON(w, http.StatusOK, h.guard.Evaluate(greq))
}

// Navigation はユーザーが閲覧できるメニューとURL一覧を返す。
// GET /api/navigation
func (h *GuardHandler) Navigation(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	modules := principal.Modules
	if modules == nil {
		modules = []string{}
	}
	middleware.WriteJSON(w, http.StatusOK, navigationResponse{
		Navigation:     permission.FilterByPermissions(principal.Navigation),
		AccessibleURLs: permission.AccessibleURLs(principal.Navigation),
		Modules:        modules,
		BranchUUID:     principal.BranchUUID,
	})
}
