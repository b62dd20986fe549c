package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/tenantdesk/internal/auth"
	"github.com/hitoshi/tenantdesk/internal/cipher"
	"github.com/hitoshi/tenantdesk/internal/guard"
	"github.com/hitoshi/tenantdesk/internal/metrics"
	"github.com/hitoshi/tenantdesk/internal/middleware"
	"github.com/hitoshi/tenantdesk/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, email, password string) (*model.Session, error)
	Signup(ctx context.Context, in auth.SignupInput) (*model.Session, error)
	Logout(ctx context.Context, token string) error
	SwitchBranch(ctx context.Context, principal *model.Principal, branchUUID string) (*model.Principal, error)
}

// PayloadCipher はリクエスト・レスポンスのペイロード暗号化を行う。
type PayloadCipher interface {
	Open(raw []byte, v any) error
	Seal(v any) (cipher.Envelope, error)
}

// PrincipalResolver はCookieからプリンシパルを解決する。
// 未認証の場合はmodel.ErrUnauthenticatedを返す。
type PrincipalResolver interface {
	Resolve(w http.ResponseWriter, r *http.Request) (*model.Principal, error)
}

// LoginRecorder はログイン結果の記録先。
type LoginRecorder interface {
	RecordLogin(result string)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	Cookie middleware.CookieConfig
	// SessionTTL はaccessToken Cookieの有効期間。
	SessionTTL time.Duration
}

// AuthHandler はログイン・サインアップ・セッション関連のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	cipher   PayloadCipher
	resolver PrincipalResolver
	guard    *guard.Guard
	recorder LoginRecorder
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。recorderはnilでもよい。
func NewAuthHandler(
	service AuthServiceInterface,
	c PayloadCipher,
	resolver PrincipalResolver,
	g *guard.Guard,
	recorder LoginRecorder,
	config AuthHandlerConfig,
) *AuthHandler {
	return &AuthHandler{
		service:  service,
		cipher:   c,
		resolver: resolver,
		guard:    g,
		recorder: recorder,
		config:   config,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signupRequest struct {
	TenantName string `json:"tenantName"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

type branchRequest struct {
	BranchUUID string `json:"branchUuid"`
	Pathname   string `json:"pathname"`
}

// branchResponse は拠点切替の結果。
// sessionは切替後のプロフィールを暗号化したもの。
type branchResponse struct {
	Decision guard.Decision  `json:"decision"`
	Session  cipher.Envelope `json:"session"`
}

// Login はメールアドレスとパスワードでログインする。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}

	session, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		var apiErr *model.APIError
		switch {
		case errors.Is(err, model.ErrInvalidCredentials):
			h.recordLogin(metrics.LoginInvalidCredentials)
			middleware.WriteJSON(w, http.StatusUnauthorized, errorBody{Error: "Invalid credentials"})
		case errors.As(err, &apiErr):
			h.recordLogin(metrics.LoginInvalidCredentials)
			handleServiceError(w, err)
		default:
			h.recordLogin(metrics.LoginError)
			handleServiceError(w, err)
		}
		return
	}

	h.recordLogin(metrics.LoginSuccess)
	middleware.SetAccessTokenCookie(w, session.Token, h.config.SessionTTL, h.config.Cookie)
	middleware.WriteJSON(w, http.StatusOK, statusBody{Status: true, Message: "Login successful"})
}

// Signup はテナントと管理者ユーザーを作成してログインする。
// POST /api/auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !h.decode(w, r, &req) {
		return
	}

	session, err := h.service.Signup(r.Context(), auth.SignupInput{
		TenantName: req.TenantName,
		Name:       req.Name,
		Email:      req.Email,
		Password:   req.Password,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.SetAccessTokenCookie(w, session.Token, h.config.SessionTTL, h.config.Cookie)
	middleware.WriteJSON(w, http.StatusCreated, statusBody{Status: true, Message: "Signup successful"})
}

// Logout はセッションを失効させる。
// POST /api/auth/logout
// 既にログアウト済みでも200を返し、Cookieは常に削除する。
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := middleware.AccessTokenFromRequest(r); token != "" {
		if err := h.service.Logout(r.Context(), token); err != nil {
			slog.Error("failed to logout", slog.String("error", err.Error()))
		}
	}

	middleware.ClearAccessTokenCookie(w, h.config.Cookie)
	middleware.WriteJSON(w, http.StatusOK, statusBody{Status: true, Message: "Logout successful"})
}

// Session は現在のセッションのプロフィールを暗号化して返す。
// GET /api/auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	principal, err := h.resolver.Resolve(w, r)
	if err != nil {
		if errors.Is(err, model.ErrUnauthenticated) {
			middleware.WriteJSON(w, http.StatusUnauthorized, errorBody{Error: "Unauthorized"})
			return
		}
		slog.Error("failed to resolve session", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	envelope, err := h.cipher.Seal(auth.NewProfile(principal))
	if err != nil {
		slog.Error("failed to seal profile", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, envelope)
}

// SwitchBranch はアクティブな拠点を切り替え、現在のパスを新しい権限で再評価する。
// POST /api/auth/branch
// 現在のパスが新しい拠点で許可されない場合、最初にアクセス可能なURLへの遷移を返す。
func (h *AuthHandler) SwitchBranch(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req branchRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Pathname == "" {
		req.Pathname = "/"
	}
	if !strings.HasPrefix(req.Pathname, "/") {
		handleServiceError(w, model.NewValidationError("pathnameは / で始まる必要があります"))
		return
	}

	next, err := h.service.SwitchBranch(r.Context(), principal, req.BranchUUID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	decision := h.guard.EvaluateContextSwitch(guard.Request{
		Pathname:      req.Pathname,
		Authenticated: true,
		Navigation:    next.Navigation,
	})

	envelope, err := h.cipher.Seal(auth.NewProfile(next))
	if err != nil {
		slog.Error("failed to seal profile", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, branchResponse{Decision: decision, Session: envelope})
}

// decode はボディを平文または暗号化封筒としてデコードする。
// 失敗した場合はエラーレスポンスを書き込んでfalseを返す。
func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, newInvalidRequestError())
		return false
	}

	if err := h.cipher.Open(raw, v); err != nil {
		if errors.Is(err, cipher.ErrDecryption) {
			slog.Warn("failed to decrypt request body",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewDecryptionFailedError())
			return false
		}
		middleware.WriteErrorResponse(w, http.StatusBadRequest, newInvalidRequestError())
		return false
	}
	return true
}

func (h *AuthHandler) recordLogin(result string) {
	if h.recorder != nil {
		h.recorder.RecordLogin(result)
	}
}
