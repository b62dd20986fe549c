// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/tenantdesk/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は内部IDでユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを取得する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByUUID はテナント内のユーザーを外部IDで取得する。見つからない場合はnilを返す。
	FindByUUID(ctx context.Context, tenantUUID, userUUID string) (*model.User, error)

	// CreateWithTenant はテナント・管理者ロール・ユーザーを同一トランザクションで作成する。
	// 作成後、user.IDに採番された内部IDを設定する。
	// メールアドレスが登録済みの場合はmodel.ErrEmailTakenを返す。
	CreateWithTenant(ctx context.Context, tenant *model.Tenant, role *model.Role, user *model.User) error

	// UpdateProfile は氏名・連絡先・プロフィール画像を更新する。
	UpdateProfile(ctx context.Context, user *model.User) error

	// UpdateRole はユーザーのロール名を更新する。
	// 対象がテナント内に存在しない場合はmodel.ErrNotFoundを返す。
	UpdateRole(ctx context.Context, tenantUUID, userUUID, role string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByToken はトークンでセッションを取得する。失効・期限切れの行も返す。
	// 見つからない場合はnilを返す。
	FindByToken(ctx context.Context, token string) (*model.Session, error)
	// ExtendExpiry は失効していないセッションのexpires_atを引き上げる。短縮はしない。
	ExtendExpiry(ctx context.Context, token string, expiresAt time.Time) (bool, error)
	// Revoke はセッションを失効させる。冪等。
	Revoke(ctx context.Context, token string) error
	// SetBranch はアクティブな拠点を設定する。空文字はテナント全体のスコープ。
	SetBranch(ctx context.Context, token, branchUUID string) error
}

// RoleRepository はロール（ナビゲーション・権限設定）の永続化インターフェース。
type RoleRepository interface {
	// ListByTenant はテナントの全ロールを拠点別・名前順で返す。
	ListByTenant(ctx context.Context, tenantUUID string) ([]*model.Role, error)

	// FindByID はテナント内のロールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, tenantUUID, id string) (*model.Role, error)

	// FindForScope はロール名に対応する設定を取得する。
	// 拠点別の行がテナント全体の行より優先される。見つからない場合はnilを返す。
	FindForScope(ctx context.Context, tenantUUID, branchUUID, name string) (*model.Role, error)

	// Create はロールを作成する。同一スコープに同名がある場合はmodel.ErrRoleConflictを返す。
	Create(ctx context.Context, role *model.Role) error

	// Update はロール名・ナビゲーション・モジュール一覧を更新する。
	// 見つからない場合はmodel.ErrNotFoundを返す。
	Update(ctx context.Context, role *model.Role) error

	// Delete はロールを削除する。見つからない場合はmodel.ErrNotFoundを返す。
	Delete(ctx context.Context, tenantUUID, id string) error
}

// BranchRepository は拠点の参照インターフェース。
type BranchRepository interface {
	// FindByUUID はテナント内の拠点を取得する。見つからない場合はnilを返す。
	FindByUUID(ctx context.Context, tenantUUID, branchUUID string) (*model.Branch, error)

	// ListByTenant はテナントの拠点一覧を名前順で返す。
	ListByTenant(ctx context.Context, tenantUUID string) ([]*model.Branch, error)
}
