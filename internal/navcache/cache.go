// Package navcache はロールごとのナビゲーションツリーのキャッシュを提供する。
//
// テナント単位の世代番号をキーに含めることで、ロール設定の変更時は
// 世代番号を1つ進めるだけでそのテナントの全エントリを無効化する。
package navcache

import (
	"context"
	"time"

	"github.com/hitoshi/tenantdesk/internal/permission"
)

// Entry はロール1件分のキャッシュ値。
type Entry struct {
	Navigation permission.Tree `json:"navigation"`
	Modules    []string        `json:"modules"`
}

// Cache はナビゲーションツリーのキャッシュ。
type Cache interface {
	// Get はキャッシュ済みのエントリを返す。存在しない場合は ok=false。
	Get(ctx context.Context, key string) (entry *Entry, ok bool, err error)
	Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error
	// Generation はテナントの現在の世代番号を返す。未設定なら0。
	Generation(ctx context.Context, tenantUUID string) (int64, error)
	// Bump はテナントの世代番号を進め、既存エントリを参照されなくする。
	Bump(ctx context.Context, tenantUUID string) error
}
