package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/tenantdesk/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
// 各操作は単一行の読み書きで、トランザクションを必要としない。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// Create はセッションを作成する。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, token, branch_uuid, expires_at, revoked, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		session.ID, session.UserID, session.Token, nullableUUID(session.BranchUUID),
		session.ExpiresAt, session.Revoked, session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByToken はトークンでセッションを取得する。
// 有効性の判定は呼び出し側（model.Session.Valid）で行うため、失効済みの行も返す。
func (r *PostgresSessionRepo) FindByToken(ctx context.Context, token string) (*model.Session, error) {
	session := &model.Session{}
	var branchUUID sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, token, branch_uuid, expires_at, revoked, created_at
		 FROM sessions
		 WHERE token = $1`,
		token,
	).Scan(&session.ID, &session.UserID, &session.Token, &branchUUID,
		&session.ExpiresAt, &session.Revoked, &session.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	session.BranchUUID = branchUUID.String
	return session, nil
}

// ExtendExpiry はexpires_atを引き上げる。
// GREATESTで既存値より短くならないようにし、失効済みの行は更新しない。
// 並行リクエストによる更新は後勝ちだが、期限が短縮されることはない。
func (r *PostgresSessionRepo) ExtendExpiry(ctx context.Context, token string, expiresAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions
		 SET expires_at = GREATEST(expires_at, $2)
		 WHERE token = $1 AND revoked = false AND expires_at < $2`,
		token, expiresAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to extend session: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Revoke はセッションを失効させる。該当行がない場合や失効済みの場合も成功とする。
func (r *PostgresSessionRepo) Revoke(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET revoked = true, revoked_at = now()
		 WHERE token = $1 AND revoked = false`,
		token,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// SetBranch はセッションのアクティブな拠点を設定する。
func (r *PostgresSessionRepo) SetBranch(ctx context.Context, token, branchUUID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET branch_uuid = $2 WHERE token = $1 AND revoked = false`,
		token, nullableUUID(branchUUID),
	)
	if err != nil {
		return fmt.Errorf("failed to set session branch: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.ErrNotFound
	}
	return nil
}

// nullableUUID は空文字をNULLとして扱う。
func nullableUUID(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
