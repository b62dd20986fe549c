package auth

import (
	"time"

	"github.com/hitoshi/tenantdesk/internal/model"
	"github.com/hitoshi/tenantdesk/internal/permission"
)

// Profile はセッション確認エンドポイントが暗号化して返すユーザー情報。
type Profile struct {
	UserUUID      string          `json:"userUuid"`
	TenantUUID    string          `json:"tentUuid"`
	Name          string          `json:"name"`
	Email         string          `json:"email"`
	Role          string          `json:"role"`
	Contact       string          `json:"contact"`
	CreatedAt     time.Time       `json:"createdAt"`
	ProfileImage  string          `json:"profile"`
	BranchUUID    string          `json:"branchUuid,omitempty"`
	Permissions   permission.Tree `json:"permissions"`
	AllowedModule []string        `json:"allowedModule"`
}

// NewProfile はPrincipalからProfileを組み立てる。
// permissionsは読み取り可能な項目だけに絞ったツリーになる。
func NewProfile(p *model.Principal) Profile {
	modules := p.Modules
	if modules == nil {
		modules = []string{}
	}
	return Profile{
		UserUUID:      p.User.UUID,
		TenantUUID:    p.User.TenantUUID,
		Name:          p.User.Name,
		Email:         p.User.Email,
		Role:          p.User.Role,
		Contact:       p.User.Contact,
		CreatedAt:     p.User.CreatedAt,
		ProfileImage:  p.User.ProfileImage,
		BranchUUID:    p.BranchUUID,
		Permissions:   permission.FilterByPermissions(p.Navigation),
		AllowedModule: modules,
	}
}
