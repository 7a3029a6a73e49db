package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/valkey-io/valkey-go"
)

// Cache は応答キャッシュのインターフェース。
type Cache interface {
	// Get はキーに対応する値を返す。存在しない場合はokがfalse。
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// CachedClient は同一プロンプトへの応答をキャッシュするChatClient。
// キャッシュの障害は呼び出しを失敗させず、ログに残してnextへフォールバックする。
type CachedClient struct {
	next      ChatClient
	cache     Cache
	namespace string
	ttl       time.Duration
	logger    *slog.Logger
}

// NewCachedClient はCachedClientを生成する。namespaceにはモデル名などを渡し、モデル間でキーが衝突しないようにする。
func NewCachedClient(next ChatClient, cache Cache, namespace string, ttl time.Duration, logger *slog.Logger) *CachedClient {
	return &CachedClient{next: next, cache: cache, namespace: namespace, ttl: ttl, logger: logger}
}

// Complete はキャッシュを参照し、なければnextを呼び出して結果を保存する。
func (c *CachedClient) Complete(ctx context.Context, messages []Message) (string, error) {
	key := CacheKey(c.namespace, messages)

	if v, ok, err := c.cache.Get(ctx, key); err != nil {
		c.logger.Warn("LLMキャッシュの参照に失敗しました", slog.String("error", err.Error()))
	} else if ok {
		return v, nil
	}

	out, err := c.next.Complete(ctx, messages)
	if err != nil {
		return "", err
	}
	if err := c.cache.Set(ctx, key, out, c.ttl); err != nil {
		c.logger.Warn("LLMキャッシュの保存に失敗しました", slog.String("error", err.Error()))
	}
	return out, nil
}

// CacheKey はnamespaceとメッセージ列から決定的なキャッシュキーを生成する。
func CacheKey(namespace string, messages []Message) string {
	b, _ := json.Marshal(messages)
	sum := sha256.Sum256(append([]byte(namespace+"\x00"), b...))
	return "threadscope:llm:" + hex.EncodeToString(sum[:])
}

// ValkeyCache はValkeyを使用したCache実装。
type ValkeyCache struct {
	client valkey.Client
}

// NewValkeyCache はValkeyに接続し、PINGで疎通を確認する。
func NewValkeyCache(ctx context.Context, address, password string) (*ValkeyCache, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:      []string{address},
		Password:         password,
		ConnWriteTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping valkey: %w", err)
	}
	return &ValkeyCache{client: client}, nil
}

// Get はキーの値を取得する。
func (c *ValkeyCache) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.client.Do(ctx, c.client.B().Get().Key(key).Build()).ToString()
	if valkey.IsValkeyNil(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Set はTTL付きで値を保存する。
// ttlが1秒未満の場合は期限なしで保存する。
func (c *ValkeyCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < time.Second {
		return c.client.Do(ctx, c.client.B().Set().Key(key).Value(value).Build()).Error()
	}
	return c.client.Do(ctx, c.client.B().Set().Key(key).Value(value).ExSeconds(int64(ttl.Seconds())).Build()).Error()
}

// Close は接続を閉じる。
func (c *ValkeyCache) Close() {
	c.client.Close()
}
