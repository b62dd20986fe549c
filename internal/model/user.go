package model

import (
	"time"

	"github.com/hitoshi/tenantdesk/internal/permission"
)

// Tenant は独立した顧客組織を表す。データと設定はすべてテナント単位で分離される。
type Tenant struct {
	UUID      string
	Name      string
	CreatedAt time.Time
}

// Branch はテナント内の拠点。拠点ごとに異なるナビゲーション設定を持てる。
type Branch struct {
	UUID       string
	TenantUUID string
	Name       string
	CreatedAt  time.Time
}

// User はダッシュボードの利用ユーザーを表す。
// IDは内部ID（トークンのsubject）、UUIDは外部公開用の識別子。
type User struct {
	ID           int64
	UUID         string
	TenantUUID   string
	Name         string
	Email        string
	PasswordHash string
	Role         string
	Contact      string
	ProfileImage string
	CreatedAt    time.Time
}

// Session はユーザーのログインセッションを表す。
// 同一ユーザーの複数セッションを許容する。
type Session struct {
	ID     string
	UserID int64
	Token  string
	// BranchUUID はアクティブな拠点。空文字はテナント全体のスコープ。
	BranchUUID string
	ExpiresAt  time.Time
	Revoked    bool
	CreatedAt  time.Time
}

// Valid はセッションが有効かを返す（revoked == false かつ now < expires_at）。
func (s *Session) Valid(now time.Time) bool {
	return s != nil && !s.Revoked && now.Before(s.ExpiresAt)
}

// Role はテナント（または拠点）単位の権限設定。
// Navigationがパスごとの権限マップを兼ねる。
type Role struct {
	ID         string
	TenantUUID string
	// BranchUUID が空の場合はテナント全体に適用される。
	BranchUUID string
	Name       string
	Navigation permission.Tree
	Modules    []string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Principal はガードミドルウェアがコンテキストに格納するリクエストの主体。
type Principal struct {
	User       *User
	Session    *Session
	BranchUUID string
	Navigation permission.Tree
	Modules    []string
}
