// Package navigation はロール設定からテナント・拠点ごとのナビゲーションツリーを提供する。
package navigation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/tenantdesk/internal/model"
	"github.com/hitoshi/tenantdesk/internal/navcache"
	"github.com/hitoshi/tenantdesk/internal/permission"
)

// DefaultTTL はキャッシュの既定の有効期間。
const DefaultTTL = 10 * time.Minute

// DefaultStoreTimeout はロールストア・キャッシュ呼び出し1回あたりの既定の上限時間。
const DefaultStoreTimeout = 3 * time.Second

// RoleFinder はスコープに対応するロール設定を取得する。
// repository.RoleRepositoryの部分集合として定義する。
type RoleFinder interface {
	FindForScope(ctx context.Context, tenantUUID, branchUUID, name string) (*model.Role, error)
}

// Scope はナビゲーションツリーを解決する単位。
type Scope struct {
	TenantUUID string
	// BranchUUID が空の場合はテナント全体のロール設定を使う。
	BranchUUID string
	Role       string
}

// Access はスコープで許可されたナビゲーションとモジュール。
type Access = navcache.Entry

// Service はナビゲーションツリーの取得とキャッシュ無効化を行う。
type Service struct {
	roles  RoleFinder
	cache  navcache.Cache
	ttl    time.Duration
	logger *slog.Logger

	// StoreTimeout はストア・キャッシュ呼び出し1回あたりの上限時間。
	StoreTimeout time.Duration
}

// NewService はServiceを生成する。ttlが0以下の場合はDefaultTTLを使う。
func NewService(roles RoleFinder, cache navcache.Cache, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		roles:  roles,
		cache:  cache,
		ttl:    ttl,
		logger: logger,

		StoreTimeout: DefaultStoreTimeout,
	}
}

// AccessFor はスコープのナビゲーションツリーとモジュール一覧を返す。
// ロール設定が存在しない場合は空のツリーを返す（すべてのパスが拒否される）。
// キャッシュの障害はログに記録してストアから読み直す。
func (s *Service) AccessFor(ctx context.Context, scope Scope) (*Access, error) {
	if scope.TenantUUID == "" || scope.Role == "" {
		return emptyAccess(), nil
	}

	key, cacheable := s.cacheKey(ctx, scope)
	if cacheable {
		cacheCtx, cancel := s.storeContext(ctx)
		entry, ok, err := s.cache.Get(cacheCtx, key)
		cancel()
		if err != nil {
			s.logger.Warn("navigation cache read failed",
				slog.String("tenant_uuid", scope.TenantUUID),
				slog.String("error", err.Error()),
			)
		}
		if ok {
			return entry, nil
		}
	}

	storeCtx, cancel := s.storeContext(ctx)
	role, err := s.roles.FindForScope(storeCtx, scope.TenantUUID, scope.BranchUUID, scope.Role)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to load role %q: %w", scope.Role, err)
	}

	access := emptyAccess()
	if role != nil {
		access.Navigation = role.Navigation
		if role.Modules != nil {
			access.Modules = role.Modules
		}
	} else {
		s.logger.Warn("no role configuration for scope",
			slog.String("tenant_uuid", scope.TenantUUID),
			slog.String("branch_uuid", scope.BranchUUID),
			slog.String("role", scope.Role),
		)
	}

	if cacheable {
		cacheCtx, cancel := s.storeContext(ctx)
		err := s.cache.Set(cacheCtx, key, access, s.ttl)
		cancel()
		if err != nil {
			s.logger.Warn("navigation cache write failed",
				slog.String("tenant_uuid", scope.TenantUUID),
				slog.String("error", err.Error()),
			)
		}
	}
	return access, nil
}

// TreeFor はスコープのナビゲーションツリーを返す。
func (s *Service) TreeFor(ctx context.Context, scope Scope) (permission.Tree, error) {
	access, err := s.AccessFor(ctx, scope)
	if err != nil {
		return nil, err
	}
	return access.Navigation, nil
}

// Invalidate はテナントのキャッシュ済みツリーをすべて無効化する。
// ロール設定の変更後に呼び出す。
func (s *Service) Invalidate(ctx context.Context, tenantUUID string) error {
	cacheCtx, cancel := s.storeContext(ctx)
	defer cancel()
	if err := s.cache.Bump(cacheCtx, tenantUUID); err != nil {
		return fmt.Errorf("failed to invalidate navigation cache: %w", err)
	}
	s.logger.Info("navigation cache invalidated", slog.String("tenant_uuid", tenantUUID))
	return nil
}

// cacheKey は世代番号を含むキーを返す。世代番号を取得できない場合はキャッシュを使わない。
func (s *Service) cacheKey(ctx context.Context, scope Scope) (string, bool) {
	cacheCtx, cancel := s.storeContext(ctx)
	defer cancel()
	gen, err := s.cache.Generation(cacheCtx, scope.TenantUUID)
	if err != nil {
		s.logger.Warn("navigation cache generation lookup failed",
			slog.String("tenant_uuid", scope.TenantUUID),
			slog.String("error", err.Error()),
		)
		return "", false
	}
	return fmt.Sprintf("%s:%d:%s:%s", scope.TenantUUID, gen, scope.BranchUUID, scope.Role), true
}

func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.StoreTimeout
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func emptyAccess() *Access {
	return &Access{Navigation: permission.Tree{}, Modules: []string{}}
}
