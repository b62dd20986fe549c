// Package session はトークン検証とセッションストアを組み合わせて
// リクエストの認証とスライディング有効期限を扱う。
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/tenantdesk/internal/model"
	"github.com/hitoshi/tenantdesk/internal/token"
)

// 既定値
const (
	DefaultTTL             = 24 * time.Hour
	DefaultExtendThreshold = 15 * time.Minute
	DefaultStoreTimeout    = 3 * time.Second
)

// Store はセッションの永続化を抽象化する。
type Store interface {
	Create(ctx context.Context, s *model.Session) error
	// FindByToken は該当行がない場合 nil, nil を返す。
	FindByToken(ctx context.Context, tokenString string) (*model.Session, error)
	// ExtendExpiry は失効していない行のexpires_atを引き上げる。短縮はしない。
	// 更新した場合にtrueを返す。
	ExtendExpiry(ctx context.Context, tokenString string, expiresAt time.Time) (bool, error)
	// Revoke はrevoked=trueにする。該当行がなくてもエラーにしない。
	Revoke(ctx context.Context, tokenString string) error
	SetBranch(ctx context.Context, tokenString, branchUUID string) error
}

// TokenCodec はトークンの署名・検証を抽象化する。
type TokenCodec interface {
	Sign(claims token.Claims) (string, error)
	Verify(tokenString string, maxAge time.Duration) (*token.Claims, error)
}

// Config はValidatorの設定。
type Config struct {
	// TTL はセッションの有効期間。トークンの最大有効期間も兼ねる。
	TTL time.Duration
	// ExtendThreshold は残り時間がこれを下回ったら延長する閾値。
	ExtendThreshold time.Duration
	// StoreTimeout はストア呼び出し1回あたりの上限時間。
	StoreTimeout time.Duration
}

// Result は認証に成功したリクエストの情報。
type Result struct {
	Claims  *token.Claims
	Session *model.Session
	// Extended はこのリクエストで有効期限が延長されたかどうか。
	Extended bool
}

// Validator はトークン検証とセッションストアを組み合わせて認証を行う。
type Validator struct {
	codec  TokenCodec
	store  Store
	config Config
	logger *slog.Logger
	now    func() time.Time
}

// NewValidator は新しいValidatorを生成する。0値の設定項目には既定値を使う。
func NewValidator(codec TokenCodec, store Store, cfg Config, logger *slog.Logger) *Validator {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.ExtendThreshold <= 0 {
		cfg.ExtendThreshold = DefaultExtendThreshold
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		codec:  codec,
		store:  store,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// TTL はセッションの有効期間を返す（Cookieのmax-ageに使う）。
func (v *Validator) TTL() time.Duration {
	return v.config.TTL
}

// CreateSession は新しいセッションを作成し、署名済みトークンを持つセッションを返す。
// 副作用はセッション行1件の挿入のみ。
func (v *Validator) CreateSession(ctx context.Context, userID int64) (*model.Session, error) {
	now := v.now()
	sessionID := uuid.New().String()

	signed, err := v.codec.Sign(token.Claims{
		SubjectID: strconv.FormatInt(userID, 10),
		TokenID:   sessionID,
		IssuedAt:  now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	s := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		Token:     signed,
		ExpiresAt: now.Add(v.config.TTL),
		Revoked:   false,
		CreatedAt: now,
	}

	storeCtx, cancel := v.storeContext(ctx)
	defer cancel()
	if err := v.store.Create(storeCtx, s); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return s, nil
}

// IsActive はトークンに対応するセッション行が有効かを返す。
// 署名の正当性には依存しない。
func (v *Validator) IsActive(ctx context.Context, tokenString string) (bool, error) {
	s, err := v.find(ctx, tokenString)
	if err != nil {
		return false, err
	}
	return s.Valid(v.now()), nil
}

// ExtendIfNearExpiry は残り時間が閾値を下回っている場合に限り、
// 有効期限を now + TTL に延長する。延長した場合にtrueを返す。
// 閾値の外に押し出した後の呼び出しは何もしない。
func (v *Validator) ExtendIfNearExpiry(ctx context.Context, tokenString string) (bool, error) {
	s, err := v.find(ctx, tokenString)
	if err != nil {
		return false, err
	}
	return v.extend(ctx, s)
}

// Revoke はセッションを失効させる。冪等で、未知のトークンもエラーにしない。
func (v *Validator) Revoke(ctx context.Context, tokenString string) error {
	if tokenString == "" {
		return nil
	}
	storeCtx, cancel := v.storeContext(ctx)
	defer cancel()
	if err := v.store.Revoke(storeCtx, tokenString); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// Authenticate は保護されたリクエストごとの認証を行う。
// verify → isActive → extendIfNearExpiry の順に評価し、
// 認証できない場合はmodel.ErrUnauthenticatedを返す。
// ストア障害（タイムアウトを含む）はErrUnauthenticatedに変換せずそのまま返す。
func (v *Validator) Authenticate(ctx context.Context, tokenString string) (*Result, error) {
	claims, err := v.codec.Verify(tokenString, token.DefaultMaxAge)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrUnauthenticated, err)
	}

	s, err := v.find(ctx, tokenString)
	if err != nil {
		return nil, err
	}
	if !s.Valid(v.now()) {
		return nil, fmt.Errorf("%w: session is revoked or expired", model.ErrUnauthenticated)
	}
	if claims.SubjectID != strconv.FormatInt(s.UserID, 10) {
		return nil, fmt.Errorf("%w: token subject does not match session", model.ErrUnauthenticated)
	}

	extended, err := v.extend(ctx, s)
	if err != nil {
		return nil, err
	}

	return &Result{Claims: claims, Session: s, Extended: extended}, nil
}

// SwitchBranch はセッションのアクティブな拠点を切り替える。
func (v *Validator) SwitchBranch(ctx context.Context, tokenString, branchUUID string) error {
	storeCtx, cancel := v.storeContext(ctx)
	defer cancel()
	if err := v.store.SetBranch(storeCtx, tokenString, branchUUID); err != nil {
		return fmt.Errorf("failed to switch branch: %w", err)
	}
	return nil
}

// find はセッション行を取得する。存在しない場合はnilセッション（無効）を返す。
func (v *Validator) find(ctx context.Context, tokenString string) (*model.Session, error) {
	if tokenString == "" {
		return nil, nil
	}
	storeCtx, cancel := v.storeContext(ctx)
	defer cancel()

	s, err := v.store.FindByToken(storeCtx, tokenString)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return s, nil
}

func (v *Validator) extend(ctx context.Context, s *model.Session) (bool, error) {
	now := v.now()
	if !s.Valid(now) {
		return false, nil
	}
	if s.ExpiresAt.Sub(now) >= v.config.ExtendThreshold {
		return false, nil
	}

	newExpiry := now.Add(v.config.TTL)
	storeCtx, cancel := v.storeContext(ctx)
	defer cancel()

	updated, err := v.store.ExtendExpiry(storeCtx, s.Token, newExpiry)
	if err != nil {
		return false, fmt.Errorf("failed to extend session: %w", err)
	}
	if !updated {
		return false, nil
	}

	s.ExpiresAt = newExpiry
	v.logger.Info("session extended",
		slog.String("session_id", s.ID),
		slog.Time("expires_at", newExpiry),
	)
	return true, nil
}

func (v *Validator) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, v.config.StoreTimeout)
}

// IsStoreFailure は認証失敗ではなくストア障害によるエラーかを判定する。
func IsStoreFailure(err error) bool {
	return err != nil && !errors.Is(err, model.ErrUnauthenticated)
}
