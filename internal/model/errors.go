// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// 認可コアで使う番兵エラー。errors.Isで判定する。
var (
	// ErrUnauthenticated はトークン欠落・不正・期限切れ、またはセッション失効。
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden は認証済みだが対象パスの権限がない。
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidCredentials はメールアドレスまたはパスワードの不一致。
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailTaken はメールアドレスが登録済み。
	ErrEmailTaken = errors.New("email already registered")
	// ErrNotFound は対象のリソースが存在しない（他テナントのリソースを含む）。
	ErrNotFound = errors.New("not found")
	// ErrRoleConflict は同一スコープに同名のロールが存在する。
	ErrRoleConflict = errors.New("role already exists")
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, permission, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeEmailTaken        = "EMAIL_TAKEN"
	ErrCodeDecryptionFailed  = "DECRYPTION_FAILED"
	ErrCodeInvalidNavigation = "INVALID_NAVIGATION"
	ErrCodeRoleNotFound      = "ROLE_NOT_FOUND"
	ErrCodeRoleConflict      = "ROLE_CONFLICT"
	ErrCodeUserNotFound      = "USER_NOT_FOUND"
	ErrCodeBranchNotFound    = "BRANCH_NOT_FOUND"
	ErrCodeInvalidURL        = "INVALID_URL"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError(path string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("この操作を行う権限がありません: %s", path),
		Category: "permission",
		Action:   "管理者にロールの権限設定を確認してもらってください。",
	}
}

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力内容が正しくありません: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewEmailTakenError はメールアドレス重複エラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "validation",
		Action:   "別のメールアドレスを使用するか、ログインしてください。",
	}
}

// NewDecryptionFailedError は暗号化ペイロードの復号失敗エラーを生成する。
func NewDecryptionFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeDecryptionFailed,
		Message:  "リクエストの復号に失敗しました。",
		Category: "validation",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewInvalidNavigationError はロールのナビゲーション設定が不正な場合のエラーを生成する。
func NewInvalidNavigationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidNavigation,
		Message:  fmt.Sprintf("ナビゲーション設定が不正です: %s", reason),
		Category: "validation",
		Action:   "各項目のURLが / で始まっているか、権限の値が真偽値かを確認してください。",
	}
}

// NewRoleNotFoundError はロール未検出エラーを生成する。
func NewRoleNotFoundError(roleID string) *APIError {
	return &APIError{
		Code:     ErrCodeRoleNotFound,
		Message:  fmt.Sprintf("指定されたロールが見つかりません: %s", roleID),
		Category: "permission",
		Action:   "ロールIDを確認してください。",
	}
}

// NewRoleConflictError は同名ロール重複エラーを生成する。
func NewRoleConflictError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeRoleConflict,
		Message:  fmt.Sprintf("同じ名前のロールが既に存在します: %s", name),
		Category: "validation",
		Action:   "別のロール名を指定してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewBranchNotFoundError はブランチ未検出エラーを生成する。
func NewBranchNotFoundError(branchUUID string) *APIError {
	return &APIError{
		Code:     ErrCodeBranchNotFound,
		Message:  fmt.Sprintf("指定されたブランチが見つかりません: %s", branchUUID),
		Category: "validation",
		Action:   "切り替え先のブランチを確認してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}
