package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newAccessLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})), &buf
}

func parseAccessLog(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, buf.String())
	}
	return entry
}

func TestLoggingMiddleware_RequestFields(t *testing.T) {
	logger, buf := newAccessLogger()
	handler := NewLoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// WriteHeaderを呼ばずにWriteすると暗黙的に200になる
		w.Write([]byte(`{"sections":[]}`))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/navigation?x=1", nil))

	entry := parseAccessLog(t, buf)
	if entry["msg"] != "http_request" {
		t.Errorf("msg = %v, want http_request", entry["msg"])
	}
	if entry["method"] != "GET" || entry["path"] != "/api/navigation" {
		t.Errorf("method/path = %v %v", entry["method"], entry["path"])
	}
	if status, _ := entry["status"].(float64); status != 200 {
		t.Errorf("status = %v, want 200", entry["status"])
	}
	if d, ok := entry["duration_ms"].(float64); !ok || d < 0 {
		t.Errorf("duration_ms = %v, want >= 0", entry["duration_ms"])
	}
	if _, ok := entry["user_uuid"]; ok {
		t.Errorf("user_uuid should be omitted for anonymous requests, got %v", entry["user_uuid"])
	}
}

// 認証失敗・CSRF失敗・内部エラーがそれぞれのレベルで記録されること
func TestLoggingMiddleware_LevelFollowsOutcome(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.Handler
		req        func() *http.Request
		wantStatus int
		wantLevel  string
		wantUser   string
	}{
		{
			name:       "セッションあり",
			handler:    newTestSessionGuard(authenticatedAs("valid-token", false), nil, nil).RequireSession()(okHandler()),
			req:        func() *http.Request { return sessionRequest(http.MethodGet, "valid-token") },
			wantStatus: http.StatusOK,
			wantLevel:  "INFO",
			wantUser:   "user-123",
		},
		{
			name:       "セッション切れ",
			handler:    newTestSessionGuard(authenticatedAs("valid-token", false), nil, nil).RequireSession()(okHandler()),
			req:        func() *http.Request { return sessionRequest(http.MethodGet, "expired-token") },
			wantStatus: http.StatusUnauthorized,
			wantLevel:  "WARN",
		},
		{
			name:       "CSRFヘッダーなし",
			handler:    NewCSRFMiddleware(CSRFConfig{})(okHandler()),
			req:        func() *http.Request { return sessionRequest(http.MethodPost, "valid-token") },
			wantStatus: http.StatusForbidden,
			wantLevel:  "WARN",
		},
		{
			name: "内部エラー",
			handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				WriteInternalServerError(w)
			}),
			req:        func() *http.Request { return sessionRequest(http.MethodGet, "valid-token") },
			wantStatus: http.StatusInternalServerError,
			wantLevel:  "ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := newAccessLogger()
			w := httptest.NewRecorder()
			NewLoggingMiddleware(logger)(tt.handler).ServeHTTP(w, tt.req())

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			entry := parseAccessLog(t, buf)
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", entry["level"], tt.wantLevel)
			}
			if status, _ := entry["status"].(float64); int(status) != tt.wantStatus {
				t.Errorf("logged status = %v, want %d", entry["status"], tt.wantStatus)
			}
			got, _ := entry["user_uuid"].(string)
			if got != tt.wantUser {
				t.Errorf("user_uuid = %q, want %q", got, tt.wantUser)
			}
		})
	}
}

func TestLoggingMiddleware_PrincipalAlreadyInContext(t *testing.T) {
	logger, buf := newAccessLogger()
	handler := NewLoggingMiddleware(logger)(okHandler())

	req := requestAs(http.MethodGet, "/api/navigation", "user-from-context")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if entry := parseAccessLog(t, buf); entry["user_uuid"] != "user-from-context" {
		t.Errorf("user_uuid = %v, want user-from-context", entry["user_uuid"])
	}
}

// Recoveryとロギングは同じaccessLogFieldsを共有する
func TestWithAccessLogFields_SharedAcrossMiddleware(t *testing.T) {
	outer, req := withAccessLogFields(httptest.NewRequest(http.MethodGet, "/", nil))
	inner, _ := withAccessLogFields(req)

	annotateAccessLog(req.Context(), "user-shared")

	if outer != inner {
		t.Fatal("nested calls should share the same fields")
	}
	if outer.userUUID != "user-shared" {
		t.Errorf("userUUID = %q, want user-shared", outer.userUUID)
	}
}

func sessionRequest(method, token string) *http.Request {
	req := httptest.NewRequest(method, "/api/roles", strings.NewReader(`{}`))
	req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: token})
	return req
}
