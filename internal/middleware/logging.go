package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// statusRecorder はhttp.ResponseWriterをラップし、ステータスコードを記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// WriteHeader はステータスコードを記録してから委譲する。
func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

// Write はデータを書き込む。WriteHeaderが未呼び出しの場合は200を記録する。
func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// accessLogFields は内側のミドルウェアがアクセスログに追記する値。
// 認証は内側で行われるため、ポインタ経由で外側のロギングミドルウェアへ渡す。
type accessLogFields struct {
	userUUID string
}

var accessLogContextKey = contextKey("access_log")

// annotateAccessLog はアクセスログに認証済みユーザーを記録する。
// ロギングミドルウェアの外で呼ばれた場合は何もしない。
func annotateAccessLog(ctx context.Context, userUUID string) {
	if fields, ok := ctx.Value(accessLogContextKey).(*accessLogFields); ok {
		fields.userUUID = userUUID
	}
}

// withAccessLogFields はリクエストに紐づくaccessLogFieldsを返す。
// 外側のミドルウェアがすでに設定していればそれを共有する。
func withAccessLogFields(r *http.Request) (*accessLogFields, *http.Request) {
	if fields, ok := r.Context().Value(accessLogContextKey).(*accessLogFields); ok {
		return fields, r
	}
	fields := &accessLogFields{}
	return fields, r.WithContext(context.WithValue(r.Context(), accessLogContextKey, fields))
}

// NewLoggingMiddleware はリクエストのJSON構造化ログを出力するミドルウェアを返す。
// ログにはmethod、path、status、duration_ms、user_uuid（認証済みの場合）を含む。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			fields, req := withAccessLogFields(r)

			next.ServeHTTP(rec, req)

			duration := time.Since(start)
			durationMs := float64(duration.Nanoseconds()) / float64(time.Millisecond)

			args := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Float64("duration_ms", durationMs),
			}

			userUUID := fields.userUUID
			if userUUID == "" {
				userUUID, _ = UserIDFromContext(r.Context())
			}
			if userUUID != "" {
				args = append(args, slog.String("user_uuid", userUUID))
			}

			level := slog.LevelInfo
			if rec.statusCode >= 500 {
				level = slog.LevelError
			} else if rec.statusCode >= 400 {
				level = slog.LevelWarn
			}

			logger.Log(r.Context(), level, "http_request", args...)
		})
	}
}
