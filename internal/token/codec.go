// Package token は認証トークン（HS256署名のJWT）の発行と検証を提供する。
//
// トークンはステートレスなクレーム（subject、発行時刻、トークンID）だけを持ち、
// セッションの有効性はセッションストア側で別途判定する。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultMaxAge はトークンの有効期間（発行から24時間）。
const DefaultMaxAge = 24 * time.Hour

// ErrInvalidToken はトークンが不正・改ざん・期限切れの場合のエラー。
var ErrInvalidToken = errors.New("invalid token")

// Claims はトークンに埋め込まれるクレーム。
type Claims struct {
	// SubjectID はユーザーの内部ID（10進文字列）。
	SubjectID string
	// TokenID はセッションID。同一秒内に発行されたトークンも一意になる。
	TokenID  string
	IssuedAt time.Time
}

// Codec はサーバー側の秘密鍵でトークンに署名・検証する。
type Codec struct {
	secret []byte
	now    func() time.Time
}

// Option はCodecの設定を変更する。
type Option func(*Codec)

// WithClock は発行時刻と経過時間の判定に使う時計を差し替える。
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// NewCodec は新しいCodecを生成する。
func NewCodec(secret string, opts ...Option) *Codec {
	c := &Codec{
		secret: []byte(secret),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sign はクレームに署名したトークン文字列を返す。
// IssuedAtが未設定の場合は現在時刻を使う。発行時刻は秒単位に切り捨てられる。
func (c *Codec) Sign(claims Claims) (string, error) {
	if claims.SubjectID == "" {
		return "", errors.New("token subject is required")
	}
	issuedAt := claims.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = c.now()
	}

	registered := jwt.RegisteredClaims{
		Subject:  claims.SubjectID,
		ID:       claims.TokenID,
		IssuedAt: jwt.NewNumericDate(issuedAt),
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, registered)
	signed, err := t.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify は署名と発行時刻を検証し、クレームを返す。
// 不正な形式、HS256以外のアルゴリズム、署名不一致、発行時刻の欠落・未来日時、
// now - iat > maxAge の場合はErrInvalidTokenをラップしたエラーを返す。
// maxAgeが0以下の場合はDefaultMaxAgeを使う。
func (c *Codec) Verify(tokenString string, maxAge time.Duration) (*Claims, error) {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)

	var registered jwt.RegisteredClaims
	t, err := parser.ParseWithClaims(tokenString, &registered, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !t.Valid {
		return nil, ErrInvalidToken
	}

	if registered.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if registered.IssuedAt == nil {
		return nil, fmt.Errorf("%w: missing issued-at", ErrInvalidToken)
	}

	issuedAt := registered.IssuedAt.Time
	if c.now().Sub(issuedAt) > maxAge {
		return nil, fmt.Errorf("%w: token is older than %s", ErrInvalidToken, maxAge)
	}

	return &Claims{
		SubjectID: registered.Subject,
		TokenID:   registered.ID,
		IssuedAt:  issuedAt,
	}, nil
}
