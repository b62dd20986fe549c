package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/tenantdesk/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const uniqueViolation = "23505"

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, user_uuid, tenant_uuid, name, email, password_hash, role, contact, profile_image, created_at`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	user := &model.User{}
	err := row.Scan(&user.ID, &user.UUID, &user.TenantUUID, &user.Name, &user.Email,
		&user.PasswordHash, &user.Role, &user.Contact, &user.ProfileImage, &user.CreatedAt)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// FindByID は内部IDでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// FindByUUID はテナント内のユーザーを外部IDで取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByUUID(ctx context.Context, tenantUUID, userUUID string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE tenant_uuid = $1 AND user_uuid = $2`,
		tenantUUID, userUUID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by UUID: %w", err)
	}
	return user, nil
}

// CreateWithTenant はテナント・管理者ロール・ユーザーを同一トランザクションで作成する。
func (r *PostgresUserRepo) CreateWithTenant(ctx context.Context, tenant *model.Tenant, role *model.Role, user *model.User) error {
	navigation, err := json.Marshal(role.Navigation)
	if err != nil {
		return fmt.Errorf("failed to marshal navigation: %w", err)
	}
	modules, err := marshalModules(role.Modules)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// テナントを作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO tenants (tenant_uuid, name, created_at) VALUES ($1, $2, $3)`,
		tenant.UUID, tenant.Name, tenant.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert tenant: %w", err)
	}

	// 管理者ロールを作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO roles (id, tenant_uuid, branch_uuid, name, permissions, role_modules, created_at, updated_at)
		 VALUES ($1, $2, NULL, $3, $4, $5, $6, $6)`,
		role.ID, tenant.UUID, role.Name, navigation, modules, role.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert role: %w", err)
	}

	// ユーザーを作成
	err = tx.QueryRowContext(ctx,
		`INSERT INTO users (user_uuid, tenant_uuid, name, email, password_hash, role, contact, profile_image, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		user.UUID, tenant.UUID, user.Name, user.Email, user.PasswordHash, user.Role,
		user.Contact, user.ProfileImage, user.CreatedAt,
	).Scan(&user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ErrEmailTaken
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	user.TenantUUID = tenant.UUID
	return nil
}

// UpdateProfile は氏名・連絡先・プロフィール画像を更新する。
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, user *model.User) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET name = $3, contact = $4, profile_image = $5
		 WHERE tenant_uuid = $1 AND user_uuid = $2`,
		user.TenantUUID, user.UUID, user.Name, user.Contact, user.ProfileImage,
	)
	if err != nil {
		return fmt.Errorf("failed to update user profile: %w", err)
	}
	return expectAffected(result)
}

// UpdateRole はユーザーのロール名を更新する。
func (r *PostgresUserRepo) UpdateRole(ctx context.Context, tenantUUID, userUUID, role string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET role = $3 WHERE tenant_uuid = $1 AND user_uuid = $2`,
		tenantUUID, userUUID, role,
	)
	if err != nil {
		return fmt.Errorf("failed to update user role: %w", err)
	}
	return expectAffected(result)
}

// expectAffected は更新件数が0件の場合にmodel.ErrNotFoundを返す。
func expectAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
