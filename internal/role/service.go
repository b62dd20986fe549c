// Package role はロール（ナビゲーション・権限設定）の管理ロジックを提供する。
package role

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/tenantdesk/internal/model"
	"github.com/hitoshi/tenantdesk/internal/permission"
	"github.com/hitoshi/tenantdesk/internal/repository"
	"github.com/hitoshi/tenantdesk/internal/security"
)

// CacheInvalidator はテナントのナビゲーションキャッシュを無効化する。
type CacheInvalidator interface {
	Invalidate(ctx context.Context, tenantUUID string) error
}

// Input はロールの作成・更新の入力。
type Input struct {
	Name string
	// BranchUUID は作成時のみ使う。空の場合はテナント全体のロール。
	BranchUUID string
	// Navigation はJSONのナビゲーション設定。保存前にpermission.ParseTreeで検証する。
	Navigation []byte
	Modules    []string
}

// Service はロール管理のサービス層。
// 変更のたびにテナントのナビゲーションキャッシュを無効化する。
type Service struct {
	roles     repository.RoleRepository
	branches  repository.BranchRepository
	cache     CacheInvalidator
	sanitizer security.TextSanitizer
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	roles repository.RoleRepository,
	branches repository.BranchRepository,
	cache CacheInvalidator,
	sanitizer security.TextSanitizer,
) *Service {
	return &Service{
		roles:     roles,
		branches:  branches,
		cache:     cache,
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// List はテナントのロール一覧を返す。
func (s *Service) List(ctx context.Context, tenantUUID string) ([]*model.Role, error) {
	roles, err := s.roles.ListByTenant(ctx, tenantUUID)
	if err != nil {
		return nil, fmt.Errorf("ロール一覧の取得に失敗しました: %w", err)
	}
	return roles, nil
}

// Get はテナント内のロールを返す。
func (s *Service) Get(ctx context.Context, tenantUUID, id string) (*model.Role, error) {
	role, err := s.roles.FindByID(ctx, tenantUUID, id)
	if err != nil {
		return nil, fmt.Errorf("ロールの取得に失敗しました: %w", err)
	}
	if role == nil {
		return nil, model.NewRoleNotFoundError(id)
	}
	return role, nil
}

// Create はロールを作成する。
func (s *Service) Create(ctx context.Context, tenantUUID string, in Input) (*model.Role, error) {
	name, tree, modules, err := s.normalize(in)
	if err != nil {
		return nil, err
	}

	if in.BranchUUID != "" {
		branch, err := s.branches.FindByUUID(ctx, tenantUUID, in.BranchUUID)
		if err != nil {
			return nil, fmt.Errorf("拠点の取得に失敗しました: %w", err)
		}
		if branch == nil {
			return nil, model.NewBranchNotFoundError(in.BranchUUID)
		}
	}

	now := s.now().UTC()
	role := &model.Role{
		ID:         uuid.New().String(),
		TenantUUID: tenantUUID,
		BranchUUID: in.BranchUUID,
		Name:       name,
		Navigation: tree,
		Modules:    modules,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.roles.Create(ctx, role); err != nil {
		if errors.Is(err, model.ErrRoleConflict) {
			return nil, model.NewRoleConflictError(name)
		}
		return nil, fmt.Errorf("ロールの作成に失敗しました: %w", err)
	}

	s.invalidate(ctx, tenantUUID)
	slog.Info("ロールを作成しました",
		slog.String("tenant_uuid", tenantUUID),
		slog.String("role_id", role.ID),
		slog.String("branch_uuid", role.BranchUUID),
	)
	return role, nil
}

// Update はロール名・ナビゲーション・モジュール一覧を置き換える。拠点スコープは変更しない。
func (s *Service) Update(ctx context.Context, tenantUUID, id string, in Input) (*model.Role, error) {
	name, tree, modules, err := s.normalize(in)
	if err != nil {
		return nil, err
	}

	role, err := s.Get(ctx, tenantUUID, id)
	if err != nil {
		return nil, err
	}
	role.Name = name
	role.Navigation = tree
	role.Modules = modules
	role.UpdatedAt = s.now().UTC()

	if err := s.roles.Update(ctx, role); err != nil {
		switch {
		case errors.Is(err, model.ErrRoleConflict):
			return nil, model.NewRoleConflictError(name)
		case errors.Is(err, model.ErrNotFound):
			return nil, model.NewRoleNotFoundError(id)
		}
		return nil, fmt.Errorf("ロールの更新に失敗しました: %w", err)
	}

	s.invalidate(ctx, tenantUUID)
	slog.Info("ロールを更新しました",
		slog.String("tenant_uuid", tenantUUID),
		slog.String("role_id", id),
	)
	return role, nil
}

// Delete はロールを削除する。
func (s *Service) Delete(ctx context.Context, tenantUUID, id string) error {
	if err := s.roles.Delete(ctx, tenantUUID, id); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.NewRoleNotFoundError(id)
		}
		return fmt.Errorf("ロールの削除に失敗しました: %w", err)
	}

	s.invalidate(ctx, tenantUUID)
	slog.Info("ロールを削除しました",
		slog.String("tenant_uuid", tenantUUID),
		slog.String("role_id", id),
	)
	return nil
}

// normalize は入力を検証し、保存する値に整える。
func (s *Service) normalize(in Input) (string, permission.Tree, []string, error) {
	name := s.sanitizer.SanitizeText(in.Name)
	if name == "" {
		return "", nil, nil, model.NewValidationError("ロール名が空です")
	}

	tree, err := permission.ParseTree(in.Navigation)
	if err != nil {
		return "", nil, nil, model.NewInvalidNavigationError(err.Error())
	}

	return name, s.sanitizeTree(tree), s.sanitizeModules(in.Modules), nil
}

// sanitizeTree は見出しとアイコン名からマークアップを除去したコピーを返す。
func (s *Service) sanitizeTree(tree permission.Tree) permission.Tree {
	out := make(permission.Tree, len(tree))
	for i, section := range tree {
		items := make([]permission.Item, len(section.Items))
		for j, item := range section.Items {
			item.Title = s.sanitizer.SanitizeText(item.Title)
			item.Icon = s.sanitizer.SanitizeText(item.Icon)
			subs := make([]permission.SubItem, len(item.SubItems))
			for k, sub := range item.SubItems {
				sub.Title = s.sanitizer.SanitizeText(sub.Title)
				subs[k] = sub
			}
			item.SubItems = subs
			items[j] = item
		}
		out[i] = permission.Section{Title: s.sanitizer.SanitizeText(section.Title), Items: items}
	}
	return out
}

// sanitizeModules は空要素と重複を除いたモジュール一覧を返す。
func (s *Service) sanitizeModules(modules []string) []string {
	out := make([]string, 0, len(modules))
	seen := make(map[string]bool, len(modules))
	for _, m := range modules {
		m = s.sanitizer.SanitizeText(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// invalidate はキャッシュを無効化する。失敗してもロールの変更は確定済みのため、
// ログに残してキャッシュのTTL経過を待つ。
func (s *Service) invalidate(ctx context.Context, tenantUUID string) {
	if err := s.cache.Invalidate(ctx, tenantUUID); err != nil {
		slog.Error("ナビゲーションキャッシュの無効化に失敗しました",
			slog.String("tenant_uuid", tenantUUID),
			slog.String("error", err.Error()),
		)
	}
}
