package middleware

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/tenantdesk/internal/model"
	"github.com/hitoshi/tenantdesk/internal/permission"
)

// RequirePermission はモジュールURLに対する権限をHTTPメソッドに応じて検査するミドルウェアを返す。
// GET/HEADはread、POSTはadd、PUT/PATCHはupdate、DELETEはdeleteを要求する。
// RequireSessionの後に配置する。
func RequirePermission(moduleURL string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := PrincipalFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			perms := permission.ResolveForPath(principal.Navigation, moduleURL)
			if !permission.Allows(perms, r.Method) {
				slog.Warn("permission denied",
					slog.String("user_id", principal.User.UUID),
					slog.String("module", moduleURL),
					slog.String("method", r.Method),
				)
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError(moduleURL))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
