package navcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/tenantdesk/internal/permission"
)

// RedisClient はRedisCacheが使うコマンドの部分集合。*redis.Clientが満たす。
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
}

// DefaultPrefix はキーの既定プレフィックス。
const DefaultPrefix = "tenantdesk:nav:"

// RedisCache はRedisを使用したキャッシュ。値はJSONで保存する。
type RedisCache struct {
	client RedisClient
	prefix string
}

// NewRedisCache はRedisCacheを生成する。prefixが空の場合はDefaultPrefixを使う。
func NewRedisCache(client RedisClient, prefix string) *RedisCache {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisCache{client: client, prefix: prefix}
}

// NewRedisClient はREDIS_URLからクライアントを生成する。
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Get はキャッシュ済みのエントリを返す。
// 保存値が壊れている場合はスキーマ検証エラーを返す。
func (c *RedisCache) Get(ctx context.Context, key string) (*Entry, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get navigation cache: %w", err)
	}

	entry, err := decodeEntry(data)
	if err != nil {
		return nil, false, fmt.Errorf("cached navigation for %s: %w", key, err)
	}
	return entry, true, nil
}

// Set はエントリをJSONで保存する。
func (c *RedisCache) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal navigation: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set navigation cache: %w", err)
	}
	return nil
}

// Generation はテナントの世代番号を返す。
func (c *RedisCache) Generation(ctx context.Context, tenantUUID string) (int64, error) {
	gen, err := c.client.Get(ctx, c.generationKey(tenantUUID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get navigation generation: %w", err)
	}
	return gen, nil
}

// Bump はINCRで世代番号を進める。複数インスタンスから同時に呼ばれても番号は重複しない。
func (c *RedisCache) Bump(ctx context.Context, tenantUUID string) error {
	if err := c.client.Incr(ctx, c.generationKey(tenantUUID)).Err(); err != nil {
		return fmt.Errorf("failed to bump navigation generation: %w", err)
	}
	return nil
}

// decodeEntry はキャッシュ値を読み込み、ナビゲーションツリーをスキーマ検証する。
func decodeEntry(data []byte) (*Entry, error) {
	var raw struct {
		Navigation json.RawMessage `json:"navigation"`
		Modules    []string        `json:"modules"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", permission.ErrInvalidTree, err)
	}
	tree, err := permission.ParseTree(raw.Navigation)
	if err != nil {
		return nil, err
	}
	if raw.Modules == nil {
		raw.Modules = []string{}
	}
	return &Entry{Navigation: tree, Modules: raw.Modules}, nil
}

func (c *RedisCache) generationKey(tenantUUID string) string {
	return c.prefix + "gen:" + tenantUUID
}

// compile-time interface check
var (
	_ Cache       = (*RedisCache)(nil)
	_ RedisClient = (*redis.Client)(nil)
)
