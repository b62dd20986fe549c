// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/tenantdesk/internal/guard"
	"github.com/hitoshi/tenantdesk/internal/model"
	"github.com/hitoshi/tenantdesk/internal/session"
)

// AccessTokenCookie はセッショントークンを保持するCookieの名前。
const AccessTokenCookie = "accessToken"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// principalContextKey はリクエストコンテキストに認証済みプリンシパルを格納するためのキー。
var principalContextKey = contextKey("principal")

// Authenticator はトークンからセッションを認証する。
// session.Validatorの部分集合として定義する。
type Authenticator interface {
	Authenticate(ctx context.Context, tokenString string) (*session.Result, error)
	TTL() time.Duration
}

// PrincipalLoader はセッションからユーザーとナビゲーションツリーを読み込む。
type PrincipalLoader interface {
	LoadPrincipal(ctx context.Context, s *model.Session) (*model.Principal, error)
}

// AuthMetrics は認証処理のメトリクス記録先。
type AuthMetrics interface {
	RecordAuthenticateLatency(duration time.Duration)
	RecordSessionExtended()
}

// CookieConfig はaccessToken Cookieの属性。
type CookieConfig struct {
	Secure bool
	Domain string
}

// SessionGuard はCookieのトークンを認証し、ルートガードを適用するミドルウェア群。
type SessionGuard struct {
	auth    Authenticator
	loader  PrincipalLoader
	guard   *guard.Guard
	cookie  CookieConfig
	metrics AuthMetrics
}

// NewSessionGuard は新しいSessionGuardを生成する。metricsはnilでもよい。
func NewSessionGuard(auth Authenticator, loader PrincipalLoader, g *guard.Guard, cookie CookieConfig, metrics AuthMetrics) *SessionGuard {
	return &SessionGuard{
		auth:    auth,
		loader:  loader,
		guard:   g,
		cookie:  cookie,
		metrics: metrics,
	}
}

// RequireSession はAPI向けの認証ミドルウェアを返す。
// 未認証リクエストには401、ストア障害には500をJSONで返す。
// 認証済みプリンシパルをリクエストコンテキストに注入する。
func (sg *SessionGuard) RequireSession() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := sg.authenticate(w, r)
			if err != nil {
				if errors.Is(err, model.ErrUnauthenticated) {
					WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
					return
				}
				slog.Error("failed to authenticate request",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

// GuardPages は画面遷移向けのルートガードミドルウェアを返す。
// 公開ルートはそのまま通し、それ以外はガードの判定に従って
// ログイン画面または権限エラー画面へ302でリダイレクトする。
func (sg *SessionGuard) GuardPages() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sg.guard.IsPublic(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			principal, err := sg.authenticate(w, r)
			if err != nil && !errors.Is(err, model.ErrUnauthenticated) {
				slog.Error("failed to authenticate page request",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			req := guard.Request{
				Pathname:      r.URL.RequestURI(),
				Authenticated: principal != nil,
			}
			if principal != nil {
				req.Navigation = principal.Navigation
			}

			decision := sg.guard.Evaluate(req)
			switch decision.State {
			case guard.Allowed:
				ctx := r.Context()
				if principal != nil {
					ctx = ContextWithPrincipal(ctx, principal)
				}
				next.ServeHTTP(w, r.WithContext(ctx))
			default:
				http.Redirect(w, r, decision.RedirectTo, http.StatusFound)
			}
		})
	}
}

// Resolve はリクエストのCookieからプリンシパルを解決する。
// ミドルウェアを通さずに認証状態を判定したいハンドラー向け。
// 未認証の場合はmodel.ErrUnauthenticatedを返す。
func (sg *SessionGuard) Resolve(w http.ResponseWriter, r *http.Request) (*model.Principal, error) {
	return sg.authenticate(w, r)
}

// authenticate はCookieのトークンを認証してプリンシパルを返す。
// 未認証の場合はmodel.ErrUnauthenticatedを返し、無効なCookieを削除する。
// 有効期限が延長された場合のみCookieを再発行する。
func (sg *SessionGuard) authenticate(w http.ResponseWriter, r *http.Request) (*model.Principal, error) {
	cookie, err := r.Cookie(AccessTokenCookie)
	if err != nil || cookie.Value == "" {
		return nil, model.ErrUnauthenticated
	}

	start := time.Now()
	result, err := sg.auth.Authenticate(r.Context(), cookie.Value)
	if sg.metrics != nil {
		sg.metrics.RecordAuthenticateLatency(time.Since(start))
	}
	if err != nil {
		if errors.Is(err, model.ErrUnauthenticated) {
			ClearAccessTokenCookie(w, sg.cookie)
		}
		return nil, err
	}

	principal, err := sg.loader.LoadPrincipal(r.Context(), result.Session)
	if err != nil {
		if errors.Is(err, model.ErrUnauthenticated) {
			ClearAccessTokenCookie(w, sg.cookie)
		}
		return nil, err
	}

	annotateAccessLog(r.Context(), principal.User.UUID)

	if result.Extended {
		SetAccessTokenCookie(w, cookie.Value, sg.auth.TTL(), sg.cookie)
		if sg.metrics != nil {
			sg.metrics.RecordSessionExtended()
		}
	}

	return principal, nil
}

// SetAccessTokenCookie はaccessToken Cookieを設定する。
func SetAccessTokenCookie(w http.ResponseWriter, tokenString string, maxAge time.Duration, config CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     AccessTokenCookie,
		Value:    tokenString,
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearAccessTokenCookie はaccessToken Cookieを削除する。
func ClearAccessTokenCookie(w http.ResponseWriter, config CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     AccessTokenCookie,
		Value:    "",
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// AccessTokenFromRequest はCookieからトークンを取得する。存在しない場合は空文字を返す。
func AccessTokenFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(AccessTokenCookie)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// PrincipalFromContext はリクエストコンテキストからプリンシパルを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func PrincipalFromContext(ctx context.Context) (*model.Principal, error) {
	principal, ok := ctx.Value(principalContextKey).(*model.Principal)
	if !ok || principal == nil || principal.User == nil {
		return nil, fmt.Errorf("principal not found in context")
	}
	return principal, nil
}

// ContextWithPrincipal はコンテキストにプリンシパルを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithPrincipal(ctx context.Context, principal *model.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}

// UserIDFromContext は認証済みユーザーの外部ID（user_uuid）を取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	principal, err := PrincipalFromContext(ctx)
	if err != nil {
		return "", err
	}
	if principal.User.UUID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return principal.User.UUID, nil
}
