// Package auth はログイン・サインアップ・ログアウトと、
// 認証済みリクエストの主体（Principal）の組み立てを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/tenantdesk/internal/model"
	"github.com/hitoshi/tenantdesk/internal/navigation"
	"github.com/hitoshi/tenantdesk/internal/permission"
	"github.com/hitoshi/tenantdesk/internal/repository"
)

// AdminRole はサインアップ時に作成される管理者ロール名。
const AdminRole = "admin"

// MinPasswordLength はサインアップ時のパスワードの最小長。
const MinPasswordLength = 8

// DefaultStoreTimeout はユーザー・拠点ストア呼び出し1回あたりの既定の上限時間。
const DefaultStoreTimeout = 3 * time.Second

// dummyHash は未登録メールアドレスでもbcryptの比較を1回行うためのハッシュ。
// 応答時間からアカウントの有無を推測されないようにする。
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("tenantdesk-dummy-password"), bcrypt.DefaultCost)

// SessionManager はセッションの発行・失効・拠点切り替えを行う。
// session.Validatorが実装する。
type SessionManager interface {
	CreateSession(ctx context.Context, userID int64) (*model.Session, error)
	Revoke(ctx context.Context, token string) error
	SwitchBranch(ctx context.Context, token, branchUUID string) error
}

// NavigationProvider はスコープに対応するナビゲーションを返す。
type NavigationProvider interface {
	AccessFor(ctx context.Context, scope navigation.Scope) (*navigation.Access, error)
}

// SignupInput はサインアップの入力。
type SignupInput struct {
	TenantName string
	Name       string
	Email      string
	Password   string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	users      repository.UserRepository
	branches   repository.BranchRepository
	sessions   SessionManager
	navigation NavigationProvider
	bcryptCost int
	now        func() time.Time

	// StoreTimeout はストア呼び出し1回あたりの上限時間。
	StoreTimeout time.Duration
}

// NewService はServiceを生成する。
func NewService(
	users repository.UserRepository,
	branches repository.BranchRepository,
	sessions SessionManager,
	nav NavigationProvider,
) *Service {
	return &Service{
		users:      users,
		branches:   branches,
		sessions:   sessions,
		navigation: nav,
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,

		StoreTimeout: DefaultStoreTimeout,
	}
}

// ValidateCredentials はログイン入力の形式を検証する。
func ValidateCredentials(email, password string) error {
	if password == "" {
		return model.NewValidationError("パスワードが空です")
	}
	if !validEmail(email) {
		return model.NewValidationError("メールアドレスの形式が正しくありません")
	}
	return nil
}

// Login はメールアドレスとパスワードを照合し、新しいセッションを発行する。
// 一致しない場合はmodel.ErrInvalidCredentialsを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*model.Session, error) {
	if err := ValidateCredentials(email, password); err != nil {
		return nil, err
	}

	storeCtx, cancel := s.storeContext(ctx)
	user, err := s.users.FindByEmail(storeCtx, strings.TrimSpace(email))
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	hash := dummyHash
	if user != nil {
		hash = []byte(user.PasswordHash)
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil || user == nil {
		return nil, model.ErrInvalidCredentials
	}

	session, err := s.sessions.CreateSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("user logged in",
		slog.String("user_uuid", user.UUID),
		slog.String("session_id", session.ID),
	)
	return session, nil
}

// Signup はテナント・管理者ロール・ユーザーを作成し、セッションを発行する。
// 管理者ロールには既定のナビゲーションツリーを全権限で設定する。
func (s *Service) Signup(ctx context.Context, in SignupInput) (*model.Session, error) {
	in.TenantName = strings.TrimSpace(in.TenantName)
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)

	switch {
	case in.TenantName == "":
		return nil, model.NewValidationError("組織名が空です")
	case in.Name == "":
		return nil, model.NewValidationError("氏名が空です")
	case !validEmail(in.Email):
		return nil, model.NewValidationError("メールアドレスの形式が正しくありません")
	case len(in.Password) < MinPasswordLength:
		return nil, model.NewValidationError(fmt.Sprintf("パスワードは%d文字以上にしてください", MinPasswordLength))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now().UTC()
	tenant := &model.Tenant{UUID: uuid.New().String(), Name: in.TenantName, CreatedAt: now}
	role := &model.Role{
		ID:         uuid.New().String(),
		TenantUUID: tenant.UUID,
		Name:       AdminRole,
		Navigation: permission.DefaultTree(),
		Modules:    []string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	user := &model.User{
		UUID:         uuid.New().String(),
		TenantUUID:   tenant.UUID,
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: string(hash),
		Role:         AdminRole,
		CreatedAt:    now,
	}

	storeCtx, cancel := s.storeContext(ctx)
	err = s.users.CreateWithTenant(storeCtx, tenant, role, user)
	cancel()
	if err != nil {
		if errors.Is(err, model.ErrEmailTaken) {
			return nil, model.NewEmailTakenError()
		}
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}

	session, err := s.sessions.CreateSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("tenant signed up",
		slog.String("tenant_uuid", tenant.UUID),
		slog.String("user_uuid", user.UUID),
	)
	return session, nil
}

// Logout はトークンに対応するセッションを失効させる。
// 未知のトークンや失効済みのセッションもエラーにしない。
func (s *Service) Logout(ctx context.Context, token string) error {
	if err := s.sessions.Revoke(ctx, token); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// LoadPrincipal はセッションからユーザーと、アクティブな拠点のナビゲーションを読み込む。
// ユーザーが削除されている場合はmodel.ErrUnauthenticatedを返す。
func (s *Service) LoadPrincipal(ctx context.Context, session *model.Session) (*model.Principal, error) {
	storeCtx, cancel := s.storeContext(ctx)
	user, err := s.users.FindByID(storeCtx, session.UserID)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user %d no longer exists", model.ErrUnauthenticated, session.UserID)
	}

	access, err := s.navigation.AccessFor(ctx, navigation.Scope{
		TenantUUID: user.TenantUUID,
		BranchUUID: session.BranchUUID,
		Role:       user.Role,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load navigation: %w", err)
	}

	return &model.Principal{
		User:       user,
		Session:    session,
		BranchUUID: session.BranchUUID,
		Navigation: access.Navigation,
		Modules:    access.Modules,
	}, nil
}

// SwitchBranch はセッションのアクティブな拠点を切り替え、新しい拠点のPrincipalを返す。
// 空文字はテナント全体のスコープに戻す。拠点はユーザーのテナントに属していなければならない。
func (s *Service) SwitchBranch(ctx context.Context, principal *model.Principal, branchUUID string) (*model.Principal, error) {
	if branchUUID != "" {
		storeCtx, cancel := s.storeContext(ctx)
		branch, err := s.branches.FindByUUID(storeCtx, principal.User.TenantUUID, branchUUID)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("failed to find branch: %w", err)
		}
		if branch == nil {
			return nil, model.NewBranchNotFoundError(branchUUID)
		}
	}

	if err := s.sessions.SwitchBranch(ctx, principal.Session.Token, branchUUID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("%w: session is no longer active", model.ErrUnauthenticated)
		}
		return nil, err
	}

	switched := *principal.Session
	switched.BranchUUID = branchUUID
	next, err := s.LoadPrincipal(ctx, &switched)
	if err != nil {
		return nil, err
	}

	slog.Info("branch switched",
		slog.String("user_uuid", principal.User.UUID),
		slog.String("from", principal.BranchUUID),
		slog.String("to", branchUUID),
	)
	return next, nil
}

// storeContext はストア呼び出し用にStoreTimeoutで打ち切るコンテキストを返す。
func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.StoreTimeout
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func validEmail(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email && strings.Contains(email[strings.LastIndex(email, "@")+1:], ".")
}
