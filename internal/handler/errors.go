// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/tenantdesk/internal/middleware"
	"github.com/hitoshi/tenantdesk/internal/model"
)

// maxBodyBytes はリクエストボディの上限。
const maxBodyBytes = 1 << 20

// errorBody はセッション・ログインAPIが返す簡易エラー形式。
type errorBody struct {
	Error string `json:"error"`
}

// statusBody はログイン・ログアウト成功時のレスポンス。
type statusBody struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
}

func newInvalidRequestError() *model.APIError {
	return &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	if errors.Is(err, model.ErrUnauthenticated) {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeValidation, model.ErrCodeInvalidURL, model.ErrCodeDecryptionFailed, "INVALID_REQUEST":
		return http.StatusBadRequest
	case model.ErrCodeInvalidNavigation:
		return http.StatusUnprocessableEntity
	case model.ErrCodeEmailTaken, model.ErrCodeRoleConflict:
		return http.StatusConflict
	case model.ErrCodeRoleNotFound, model.ErrCodeUserNotFound, model.ErrCodeBranchNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
