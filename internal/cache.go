package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"blogplatform/internal/config"
)

const (
	defaultRedisURL = "redis://localhost:6379"
	scanCount       = 100
	deleteBatch     = 500
	resubscribeWait = time.Second

	// GenerationKey は DeleteMatching のたびに増える世代番号。パターン削除の対象にはしない。
	GenerationKey = "cache:generation"
)

var ErrNotReady = errors.New("cache: redis is not connected")

// Client は Redis とプロセス内 LRU の 2 段キャッシュ。
// Connect が成功するまで読み書きはすべて ErrNotReady を返す。
type Client struct {
	rdb     *redis.Client
	local   *expirable.LRU[string, []byte]
	channel string
	logger  *log.Entry

	// localGen は L1 をパージするたびに増える。古い読み込みで L1 を埋め戻さないために使う。
	mu       sync.Mutex
	localGen uint64

	ready     chan struct{}
	readyOnce sync.Once
}

func NewClient(cfg config.Config, logger *log.Entry) (*Client, error) {
	url := cfg.RedisURL
	if url == "" {
		url = defaultRedisURL
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	return NewFromRedis(redis.NewClient(opts), cfg.Cache, logger), nil
}

func NewFromRedis(rdb *redis.Client, cfg config.CacheConfig, logger *log.Entry) *Client {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	c := &Client{
		rdb:     rdb,
		channel: cfg.Channel,
		logger:  logger.WithField("component", "cache"),
		ready:   make(chan struct{}),
	}
	if cfg.LocalSize > 0 {
		c.local = expirable.NewLRU[string, []byte](cfg.LocalSize, nil, cfg.LocalTTL)
	}
	return c
}

// Connect は PING で接続を確認する。失敗してもログを出すだけでリトライはしない。
func (c *Client) Connect(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		c.logger.WithError(err).Error("failed to connect to redis")
		return fmt.Errorf("redis ping: %w", err)
	}
	c.readyOnce.Do(func() { close(c.ready) })
	c.logger.Info("Connected to redis")
	return nil
}

func (c *Client) Ready() <-chan struct{} {
	return c.ready
}

func (c *Client) IsReady() bool {
	select {
	case <-c.ready:
		return true
	default:
		return false
	}
}

// WaitReady は接続完了か ctx のキャンセルまで待つ
func (c *Client) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// GetJSON は key の値を dst にデコードする。キーが無ければ false を返す。
func (c *Client) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	if !c.IsReady() {
		return false, ErrNotReady
	}
	if c.local != nil {
		if b, ok := c.local.Get(key); ok {
			return true, json.Unmarshal(b, dst)
		}
	}

	gen := c.localGeneration()
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	c.addLocal(key, b, gen)
	return true, nil
}

func (c *Client) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	if !c.IsReady() {
		return ErrNotReady
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	gen := c.localGeneration()
	if err := c.rdb.Set(ctx, key, b, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	c.addLocal(key, b, gen)
	return nil
}

// Generation は現在の世代番号を返す。一度も無効化されていなければ 0。
func (c *Client) Generation(ctx context.Context) (int64, error) {
	if !c.IsReady() {
		return 0, ErrNotReady
	}
	return generation(ctx, c.rdb)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func generation(ctx context.Context, g getter) (int64, error) {
	n, err := g.Get(ctx, GenerationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get %s: %w", GenerationKey, err)
	}
	return n, nil
}

var errStale = errors.New("cache: generation changed")

// SetJSONIfGeneration は世代番号が gen のままのときだけ書き込む。
// 読み込み中に無効化が走った場合は何もせず false を返す。
func (c *Client) SetJSONIfGeneration(ctx context.Context, key string, v any, ttl time.Duration, gen int64) (bool, error) {
	if !c.IsReady() {
		return false, ErrNotReady
	}
	b, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("encode %s: %w", key, err)
	}

	localGen := c.localGeneration()
	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := generation(ctx, tx)
		if err != nil {
			return err
		}
		if cur != gen {
			return errStale
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, b, ttl)
			return nil
		})
		return err
	}, GenerationKey)
	if errors.Is(err, errStale) || errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis set %s: %w", key, err)
	}
	c.addLocal(key, b, localGen)
	return true, nil
}

// DeleteMatching は glob パターンに一致するキーを SCAN で集めて削除し、削除件数を返す。
// 先に世代番号を進めるので、削除前に読んだ値が後から書き戻されることはない。
// ローカル LRU は丸ごとパージし、他のレプリカにもパージを通知する。
func (c *Client) DeleteMatching(ctx context.Context, pattern string) (int, error) {
	if !c.IsReady() {
		return 0, ErrNotReady
	}

	if err := c.rdb.Incr(ctx, GenerationKey).Err(); err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", GenerationKey, err)
	}

	var keys []string
	iter := c.rdb.Scan(ctx, 0, pattern, scanCount).Iterator()
	for iter.Next(ctx) {
		if k := iter.Val(); k != GenerationKey {
			keys = append(keys, k)
		}
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan %s: %w", pattern, err)
	}

	deleted := 0
	for start := 0; start < len(keys); start += deleteBatch {
		end := min(start+deleteBatch, len(keys))
		n, err := c.rdb.Del(ctx, keys[start:end]...).Result()
		if err != nil {
			c.purgeLocal()
			return deleted, fmt.Errorf("redis del: %w", err)
		}
		deleted += int(n)
	}

	c.purgeLocal()
	if c.channel != "" {
		if err := c.rdb.Publish(ctx, c.channel, pattern).Err(); err != nil {
			c.logger.WithError(err).Warn("failed to broadcast local cache purge")
		}
	}
	return deleted, nil
}

// ListenInvalidations は他のレプリカからのパージ通知を購読し、受け取るたびに L1 を空にする。
// 接続完了を待ってから購読を始め、ctx がキャンセルされるまで戻らない。
func (c *Client) ListenInvalidations(ctx context.Context) {
	if c.local == nil || c.channel == "" {
		return
	}
	if err := c.WaitReady(ctx); err != nil {
		return
	}
	for {
		err := c.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		// 購読が切れている間の通知は失われるので L1 を捨てる
		c.purgeLocal()
		c.logger.WithError(err).Warn("local cache purge subscription lost, resubscribing")

		t := time.NewTimer(resubscribeWait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (c *Client) listen(ctx context.Context) error {
	ps := c.rdb.Subscribe(ctx, c.channel)
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", c.channel, err)
	}
	// 購読確定前に届いた通知の分
	c.purgeLocal()
	c.logger.WithField("channel", c.channel).Info("subscribed to local cache purges")

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("subscription closed")
			}
			c.purgeLocal()
			c.logger.WithField("pattern", msg.Payload).Debug("purged local cache")
		}
	}
}

func (c *Client) localGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localGen
}

func (c *Client) addLocal(key string, b []byte, gen uint64) {
	if c.local == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.localGen == gen {
		c.local.Add(key, b)
	}
}

func (c *Client) purgeLocal() {
	if c.local == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.localGen++
	c.local.Purge()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
