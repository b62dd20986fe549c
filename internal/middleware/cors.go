package middleware

import (
	"net/http"

	"github.com/hitoshi/tenantdesk/internal/model"
)

// NewCORSMiddleware はダッシュボードのオリジンだけにCookie付きのクロスオリジン呼び出しを許可する。
// Originヘッダーが別オリジンの場合はCORSヘッダーを付けず、プリフライトは403で拒否する。
// Originなし（同一オリジン・サーバー間）のリクエストはそのまま通す。
func NewCORSMiddleware(allowedOrigin string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")

			origin := r.Header.Get("Origin")
			if origin != "" && origin != allowedOrigin {
				if r.Method == http.MethodOptions {
					WriteErrorResponse(w, http.StatusForbidden, &model.APIError{
						Code:     "ORIGIN_NOT_ALLOWED",
						Message:  "このオリジンからのアクセスは許可されていません。",
						Category: "permission",
						Action:   "ダッシュボードのURLからアクセスしてください。",
					})
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			h.Set("Access-Control-Allow-Origin", allowedOrigin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			// セッションCookieは自動送信されるので、状態変更にはCSRFヘッダーを必須にしている
			h.Set("Access-Control-Allow-Headers", "Content-Type, "+csrfHeaderName)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
