package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const dashboardOrigin = "http://localhost:3000"

func corsRequest(method, origin string) *http.Request {
	req := httptest.NewRequest(method, "/api/roles", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	return req
}

func TestCORSMiddleware_DashboardOrigin(t *testing.T) {
	handler := NewCORSMiddleware(dashboardOrigin)(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, corsRequest(http.MethodGet, dashboardOrigin))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	h := w.Header()
	if got := h.Get("Access-Control-Allow-Origin"); got != dashboardOrigin {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, dashboardOrigin)
	}
	if got := h.Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Access-Control-Allow-Credentials = %q, want true", got)
	}
	// 状態変更リクエストでCSRFヘッダーを送れること
	if got := h.Get("Access-Control-Allow-Headers"); !strings.Contains(got, csrfHeaderName) {
		t.Errorf("Access-Control-Allow-Headers = %q, want to include %s", got, csrfHeaderName)
	}
	if got := h.Get("Vary"); got != "Origin" {
		t.Errorf("Vary = %q, want Origin", got)
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	tests := []struct {
		name        string
		origin      string
		wantStatus  int
		wantAllowed bool
	}{
		{name: "ダッシュボードからのプリフライト", origin: dashboardOrigin, wantStatus: http.StatusNoContent, wantAllowed: true},
		{name: "別オリジンからのプリフライト", origin: "https://evil.example.com", wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewCORSMiddleware(dashboardOrigin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("next handler should not be called for OPTIONS preflight")
			}))

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, corsRequest(http.MethodOptions, tt.origin))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			allowed := w.Header().Get("Access-Control-Allow-Origin") != ""
			if allowed != tt.wantAllowed {
				t.Errorf("Access-Control-Allow-Origin set = %v, want %v", allowed, tt.wantAllowed)
			}
			if !tt.wantAllowed {
				if body := decodeErrorBody(t, w); body.Code != "ORIGIN_NOT_ALLOWED" {
					t.Errorf("code = %q, want ORIGIN_NOT_ALLOWED", body.Code)
				}
			}
		})
	}
}

// 別オリジンのPOSTはCORSヘッダーを得られず、CSRFトークンもないので403になる
func TestCORSMiddleware_ForeignOriginPostStopsAtCSRF(t *testing.T) {
	var chain http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})
	chain = NewCSRFMiddleware(CSRFConfig{})(chain)
	chain = NewCORSMiddleware(dashboardOrigin)(chain)

	req := corsRequest(http.MethodPost, "https://evil.example.com")
	req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: "valid-token"})
	w := httptest.NewRecorder()
	chain.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
	}
	if body := decodeErrorBody(t, w); body.Code != "CSRF_TOKEN_INVALID" {
		t.Errorf("code = %q, want CSRF_TOKEN_INVALID", body.Code)
	}
}

// Originなしは同一オリジンとして扱う
func TestCORSMiddleware_NoOrigin_PassesThrough(t *testing.T) {
	called := false
	handler := NewCORSMiddleware(dashboardOrigin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusCreated)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, corsRequest(http.MethodPost, ""))

	if !called {
		t.Error("next handler should be called")
	}
	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", w.Code, http.StatusCreated)
	}
}
