// Package user はテナント内のユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/tenantdesk/internal/model"
	"github.com/hitoshi/tenantdesk/internal/repository"
	"github.com/hitoshi/tenantdesk/internal/security"
)

// 入力の最大文字数
const (
	MaxNameLength    = 100
	MaxContactLength = 50
)

// RoleLister はテナントのロール一覧を取得する。
type RoleLister interface {
	ListByTenant(ctx context.Context, tenantUUID string) ([]*model.Role, error)
}

// ProfileInput はプロフィール更新の入力。nilの項目は変更しない。
type ProfileInput struct {
	Name         *string
	Contact      *string
	ProfileImage *string
}

// Service はユーザー管理のサービス層。
type Service struct {
	users     repository.UserRepository
	roles     RoleLister
	sanitizer security.TextSanitizer
	urls      security.URLGuard
	// prober がnilの場合は画像URLの到達確認を行わない。
	prober security.ImageProber
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	users repository.UserRepository,
	roles RoleLister,
	sanitizer security.TextSanitizer,
	urls security.URLGuard,
	prober security.ImageProber,
) *Service {
	return &Service{
		users:     users,
		roles:     roles,
		sanitizer: sanitizer,
		urls:      urls,
		prober:    prober,
	}
}

// UpdateProfile はユーザー自身の氏名・連絡先・プロフィール画像を更新する。
// プロフィール画像に空文字を指定すると画像を削除する。
func (s *Service) UpdateProfile(ctx context.Context, tenantUUID, userUUID string, in ProfileInput) (*model.User, error) {
	user, err := s.users.FindByUUID(ctx, tenantUUID, userUUID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	if in.Name != nil {
		name := s.sanitizer.SanitizeText(*in.Name)
		if name == "" {
			return nil, model.NewValidationError("氏名が空です")
		}
		if utf8.RuneCountInString(name) > MaxNameLength {
			return nil, model.NewValidationError(fmt.Sprintf("氏名は%d文字以内にしてください", MaxNameLength))
		}
		user.Name = name
	}

	if in.Contact != nil {
		contact := s.sanitizer.SanitizeText(*in.Contact)
		if utf8.RuneCountInString(contact) > MaxContactLength {
			return nil, model.NewValidationError(fmt.Sprintf("連絡先は%d文字以内にしてください", MaxContactLength))
		}
		user.Contact = contact
	}

	if in.ProfileImage != nil {
		image := strings.TrimSpace(*in.ProfileImage)
		if image != "" {
			if err := s.urls.ValidateURL(image); err != nil {
				return nil, model.NewInvalidURLError(err.Error())
			}
			if s.prober != nil {
				if err := s.prober.ProbeImage(ctx, image); err != nil {
					return nil, model.NewInvalidURLError(err.Error())
				}
			}
		}
		user.ProfileImage = image
	}

	if err := s.users.UpdateProfile(ctx, user); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, model.NewUserNotFoundError()
		}
		return nil, fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}

	slog.Info("プロフィールを更新しました",
		slog.String("user_uuid", userUUID),
	)
	return user, nil
}

// AssignRole はテナント内のユーザーにロールを割り当てる。
// ロール名はテナントのいずれかのスコープで定義されていなければならない。
func (s *Service) AssignRole(ctx context.Context, tenantUUID, userUUID, roleName string) error {
	roleName = s.sanitizer.SanitizeText(roleName)
	if roleName == "" {
		return model.NewValidationError("ロール名が空です")
	}

	roles, err := s.roles.ListByTenant(ctx, tenantUUID)
	if err != nil {
		return fmt.Errorf("ロール一覧の取得に失敗しました: %w", err)
	}
	if !containsRole(roles, roleName) {
		return model.NewRoleNotFoundError(roleName)
	}

	if err := s.users.UpdateRole(ctx, tenantUUID, userUUID, roleName); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.NewUserNotFoundError()
		}
		return fmt.Errorf("ロールの割り当てに失敗しました: %w", err)
	}

	slog.Info("ロールを割り当てました",
		slog.String("tenant_uuid", tenantUUID),
		slog.String("user_uuid", userUUID),
		slog.String("role", roleName),
	)
	return nil
}

func containsRole(roles []*model.Role, name string) bool {
	for _, r := range roles {
		if r.Name == name {
			return true
		}
	}
	return false
}
