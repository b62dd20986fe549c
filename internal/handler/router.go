package handler

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/tenantdesk/internal/guard"
	"github.com/hitoshi/tenantdesk/internal/middleware"
)

// HealthChecker はヘルスチェックでDB接続を確認する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionGuard      *middleware.SessionGuard
	RateLimiter       *middleware.RateLimiter
	CORSAllowedOrigin string
	CSRF              middleware.CSRFConfig
	HSTS              bool
	// TrustProxyHeaders がtrueの場合のみX-Forwarded-For等からクライアントIPを復元する。
	// 信頼できるリバースプロキシの背後で動かすときだけ有効にする。
	TrustProxyHeaders bool
	Logger            *slog.Logger
	StatusRecorder    middleware.StatusRecorder

	// 公開エンドポイント
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// ルートガード
	Guard  *guard.Guard
	Cipher PayloadCipher

	// 認証
	AuthService   AuthServiceInterface
	AuthConfig    AuthHandlerConfig
	LoginRecorder LoginRecorder

	// ロール・ユーザー
	RoleService RoleServiceInterface
	UserService UserServiceInterface

	// StaticDir はダッシュボードのビルド済みファイル。空の場合は配信しない。
	StaticDir string
}

// 権限チェックの対象モジュール
const (
	rolesModuleURL = "/settings/roles"
	usersModuleURL = "/settings/users"
)

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	[RealIP] → Recovery → SecurityHeaders → CORS → Logging → Metrics
//
// RealIPはTrustProxyHeadersが有効なときだけ入れる。無効な場合、ログインのIP単位の
// レート制限は接続元アドレスで数える。
//
// 認証が必要なAPIには RequireSession → RateLimit(General) → CSRF を追加し、
// 画面（静的ファイル）には GuardPages を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	if deps.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.Cipher, deps.SessionGuard, deps.Guard, deps.LoginRecorder, deps.AuthConfig)
	guardHandler := NewGuardHandler(deps.Guard, deps.SessionGuard)
	roleHandler := NewRoleHandler(deps.RoleService)
	userHandler := NewUserHandler(deps.UserService)

	// --- 認証不要のルート ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

	r.Route("/api/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.LoginMiddleware())
			r.Post("/login", authHandler.Login)
			r.Post("/signup", authHandler.Signup)
		})
		r.Post("/logout", authHandler.Logout)
		r.Get("/session", authHandler.Session)

		r.Group(func(r chi.Router) {
			r.Use(deps.SessionGuard.RequireSession())
			r.Use(deps.RateLimiter.GeneralMiddleware())
			r.Use(middleware.NewCSRFMiddleware(deps.CSRF))
			r.Post("/branch", authHandler.SwitchBranch)
		})
	})

	// 未認証でも判定を返すため、セッション必須にはしない
	r.Post("/api/guard/check", guardHandler.Check)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(deps.SessionGuard.RequireSession())
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		r.Get("/api/navigation", guardHandler.Navigation)

		r.Route("/api/roles", func(r chi.Router) {
			r.Use(middleware.RequirePermission(rolesModuleURL))
			r.Get("/", roleHandler.List)
			r.Post("/", roleHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", roleHandler.Get)
				r.Put("/", roleHandler.Update)
				r.Delete("/", roleHandler.Delete)
			})
		})

		r.Route("/api/users", func(r chi.Router) {
			r.Patch("/me", userHandler.UpdateProfile)
			r.With(middleware.RequirePermission(usersModuleURL)).Put("/{uuid}/role", userHandler.AssignRole)
		})
	})

	// --- 画面 ---
	if deps.StaticDir != "" {
		r.Group(func(r chi.Router) {
			r.Use(deps.SessionGuard.GuardPages())
			r.Handle("/*", spaHandler(deps.StaticDir))
		})
	}

	return r
}

// healthHandler はDB接続を確認するヘルスチェックハンドラーを返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// spaHandler はビルド済みのフロントエンドを配信する。
// 存在しないパスはクライアント側ルーティングのためindex.htmlを返す。
func spaHandler(dir string) http.Handler {
	files := http.FileServer(http.Dir(dir))
	index := filepath.Join(dir, "index.html")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := filepath.Join(dir, filepath.FromSlash(path.Clean("/"+r.URL.Path)))
		if info, err := os.Stat(name); err != nil || info.IsDir() {
			http.ServeFile(w, r, index)
			return
		}
		files.ServeHTTP(w, r)
	})
}
