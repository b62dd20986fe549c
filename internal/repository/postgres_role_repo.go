package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/tenantdesk/internal/model"
	"github.com/hitoshi/tenantdesk/internal/permission"
)

// PostgresRoleRepo はPostgreSQLを使用したロールリポジトリ。
// permissionsとrole_modulesはJSONBで保存し、読み出し時にスキーマ検証する。
type PostgresRoleRepo struct {
	db *sql.DB
}

// NewPostgresRoleRepo はPostgresRoleRepoを生成する。
func NewPostgresRoleRepo(db *sql.DB) *PostgresRoleRepo {
	return &PostgresRoleRepo{db: db}
}

const roleColumns = `id, tenant_uuid, branch_uuid, name, permissions, role_modules, created_at, updated_at`

func scanRole(row interface{ Scan(...any) error }) (*model.Role, error) {
	role := &model.Role{}
	var branchUUID sql.NullString
	var navigation, modules []byte
	err := row.Scan(&role.ID, &role.TenantUUID, &branchUUID, &role.Name,
		&navigation, &modules, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return nil, err
	}
	role.BranchUUID = branchUUID.String

	// 保存済みの設定が壊れている場合は黙って空にせずエラーにする
	role.Navigation, err = permission.ParseTree(navigation)
	if err != nil {
		return nil, fmt.Errorf("role %s: %w", role.ID, err)
	}
	role.Modules, err = parseModules(modules)
	if err != nil {
		return nil, fmt.Errorf("role %s: %w", role.ID, err)
	}
	return role, nil
}

// ListByTenant はテナントの全ロールを返す。
func (r *PostgresRoleRepo) ListByTenant(ctx context.Context, tenantUUID string) ([]*model.Role, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+roleColumns+` FROM roles
		 WHERE tenant_uuid = $1
		 ORDER BY branch_uuid NULLS FIRST, name`,
		tenantUUID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	roles := make([]*model.Role, 0)
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate roles: %w", err)
	}
	return roles, nil
}

// FindByID はテナント内のロールを取得する。見つからない場合はnilを返す。
func (r *PostgresRoleRepo) FindByID(ctx context.Context, tenantUUID, id string) (*model.Role, error) {
	role, err := scanRole(r.db.QueryRowContext(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE tenant_uuid = $1 AND id = $2`,
		tenantUUID, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find role: %w", err)
	}
	return role, nil
}

// FindForScope はロール名に対応する設定を取得する。
// branchUUIDが指定された場合、その拠点の行をテナント全体の行より優先する。
func (r *PostgresRoleRepo) FindForScope(ctx context.Context, tenantUUID, branchUUID, name string) (*model.Role, error) {
	role, err := scanRole(r.db.QueryRowContext(ctx,
		`SELECT `+roleColumns+` FROM roles
		 WHERE tenant_uuid = $1 AND name = $3
		   AND (branch_uuid IS NULL OR branch_uuid = $2)
		 ORDER BY branch_uuid NULLS LAST
		 LIMIT 1`,
		tenantUUID, nullableUUID(branchUUID), name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find role for scope: %w", err)
	}
	return role, nil
}

// Create はロールを作成する。
func (r *PostgresRoleRepo) Create(ctx context.Context, role *model.Role) error {
	navigation, err := json.Marshal(role.Navigation)
	if err != nil {
		return fmt.Errorf("failed to marshal navigation: %w", err)
	}
	modules, err := marshalModules(role.Modules)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO roles (id, tenant_uuid, branch_uuid, name, permissions, role_modules, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		role.ID, role.TenantUUID, nullableUUID(role.BranchUUID), role.Name,
		navigation, modules, role.CreatedAt, role.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ErrRoleConflict
		}
		return fmt.Errorf("failed to create role: %w", err)
	}
	return nil
}

// Update はロール名・ナビゲーション・モジュール一覧を更新する。
func (r *PostgresRoleRepo) Update(ctx context.Context, role *model.Role) error {
	navigation, err := json.Marshal(role.Navigation)
	if err != nil {
		return fmt.Errorf("failed to marshal navigation: %w", err)
	}
	modules, err := marshalModules(role.Modules)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE roles SET name = $3, permissions = $4, role_modules = $5, updated_at = $6
		 WHERE tenant_uuid = $1 AND id = $2`,
		role.TenantUUID, role.ID, role.Name, navigation, modules, role.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ErrRoleConflict
		}
		return fmt.Errorf("failed to update role: %w", err)
	}
	return expectAffected(result)
}

// Delete はロールを削除する。
func (r *PostgresRoleRepo) Delete(ctx context.Context, tenantUUID, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM roles WHERE tenant_uuid = $1 AND id = $2`,
		tenantUUID, id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return expectAffected(result)
}

// parseModules はrole_modulesのJSONを文字列スライスにする。
// NULLや空の場合は空スライスを返す。
func parseModules(data []byte) ([]string, error) {
	modules := make([]string, 0)
	if len(data) == 0 || string(data) == "null" {
		return modules, nil
	}
	if err := json.Unmarshal(data, &modules); err != nil {
		return nil, fmt.Errorf("%w: role_modules must be an array of strings: %v", permission.ErrInvalidTree, err)
	}
	if modules == nil {
		modules = make([]string, 0)
	}
	return modules, nil
}

func marshalModules(modules []string) ([]byte, error) {
	if modules == nil {
		modules = []string{}
	}
	data, err := json.Marshal(modules)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal role modules: %w", err)
	}
	return data, nil
}

// compile-time interface check
var _ RoleRepository = (*PostgresRoleRepo)(nil)
