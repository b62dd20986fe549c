package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/tenantdesk/internal/model"
)

// PostgresBranchRepo はPostgreSQLを使用した拠点リポジトリ。
type PostgresBranchRepo struct {
	db *sql.DB
}

// NewPostgresBranchRepo はPostgresBranchRepoを生成する。
func NewPostgresBranchRepo(db *sql.DB) *PostgresBranchRepo {
	return &PostgresBranchRepo{db: db}
}

// FindByUUID はテナント内の拠点を取得する。他テナントの拠点はnilになる。
func (r *PostgresBranchRepo) FindByUUID(ctx context.Context, tenantUUID, branchUUID string) (*model.Branch, error) {
	branch := &model.Branch{}
	err := r.db.QueryRowContext(ctx,
		`SELECT branch_uuid, tenant_uuid, name, created_at
		 FROM branches
		 WHERE tenant_uuid = $1 AND branch_uuid = $2`,
		tenantUUID, branchUUID,
	).Scan(&branch.UUID, &branch.TenantUUID, &branch.Name, &branch.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find branch: %w", err)
	}
	return branch, nil
}

// ListByTenant はテナントの拠点一覧を名前順で返す。
func (r *PostgresBranchRepo) ListByTenant(ctx context.Context, tenantUUID string) ([]*model.Branch, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT branch_uuid, tenant_uuid, name, created_at
		 FROM branches
		 WHERE tenant_uuid = $1
		 ORDER BY name`,
		tenantUUID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}
	defer rows.Close()

	branches := make([]*model.Branch, 0)
	for rows.Next() {
		b := &model.Branch{}
		if err := rows.Scan(&b.UUID, &b.TenantUUID, &b.Name, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan branch: %w", err)
		}
		branches = append(branches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate branches: %w", err)
	}
	return branches, nil
}

// compile-time interface check
var _ BranchRepository = (*PostgresBranchRepo)(nil)
