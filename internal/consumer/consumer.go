package consumer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	cache "blogplatform/internal"
	"blogplatform/internal/config"
	"blogplatform/internal/model"
)

const readCount = 10

var errMissingPayload = errors.New("message has no payload field")

// Rebuilder は無効化後に既定の一覧キャッシュを作り直す
type Rebuilder interface {
	RebuildDefault(ctx context.Context) error
}

// Consumer はキャッシュ無効化ストリームをコンシューマグループで読み、
// 一致するキーを削除してキャッシュを再構築する。
// 処理に失敗したメッセージは ACK せずに残し、バックオフ後に再処理する。
type Consumer struct {
	cache     *cache.Client
	rebuilder Rebuilder
	stream    string
	group     string
	name      string
	block     time.Duration
	claimIdle time.Duration
	backOff   backoff.BackOff
	logger    *log.Entry

	started atomic.Bool
	done    chan struct{}
}

func New(c *cache.Client, rebuilder Rebuilder, cfg config.CacheConfig, logger *log.Entry) *Consumer {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	name := cfg.Consumer
	if name == "" {
		host, _ := os.Hostname()
		name = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = time.Minute
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	return &Consumer{
		cache:     c,
		rebuilder: rebuilder,
		stream:    cfg.Stream,
		group:     cfg.Group,
		name:      name,
		block:     block,
		claimIdle: claimIdle,
		backOff:   bo,
		logger:    logger.WithFields(log.Fields{"component": "cache_consumer", "consumer": name}),
		done:      make(chan struct{}),
	}
}

// Start は読み込みループを一度だけ起動する。Redis の接続完了を待ってから読み始める。
func (c *Consumer) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	c.logger.WithFields(log.Fields{"stream": c.stream, "group": c.group}).Info("cache consumer started")
	go c.run(ctx)
}

// Wait はループの終了を待つ。Start されていなければすぐ戻る。
func (c *Consumer) Wait() {
	if !c.started.Load() {
		return
	}
	<-c.done
}

func (c *Consumer) run(ctx context.Context) {
	defer close(c.done)

	if err := c.cache.WaitReady(ctx); err != nil {
		c.logger.Info("cache consumer stopped before redis became ready")
		return
	}

	for {
		err := c.ensureGroup(ctx)
		if err == nil {
			break
		}
		c.logger.WithError(err).Error("failed to create consumer group")
		if !c.sleep(ctx) {
			return
		}
	}
	c.backOff.Reset()

	// 起動直後は自分の未ACKメッセージから処理する
	pending := true
	for ctx.Err() == nil {
		if !pending {
			claimed, err := c.reclaim(ctx)
			if err != nil {
				if ctx.Err() != nil {
					break
				}
				c.logger.WithError(err).Error("failed to reclaim idle cache invalidation messages")
				if !c.sleep(ctx) {
					break
				}
				continue
			}
			if len(claimed) > 0 {
				c.logger.WithField("count", len(claimed)).Info("reclaimed idle cache invalidation messages")
				if !c.handle(ctx, claimed, true) {
					pending = true
					if !c.sleep(ctx) {
						break
					}
				}
				continue
			}
		}

		id, block := ">", c.block
		if pending {
			id, block = "0", -1
		}

		streams, err := c.cache.Redis().XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.name,
			Streams:  []string{c.stream, id},
			Count:    readCount,
			Block:    block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			pending = false
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.logger.WithError(err).Error("failed to read cache invalidation stream")
			if !c.sleep(ctx) {
				break
			}
			continue
		}

		var msgs []redis.XMessage
		for _, s := range streams {
			msgs = append(msgs, s.Messages...)
		}
		if pending && len(msgs) == 0 {
			pending = false
			continue
		}

		if !c.handle(ctx, msgs, pending) {
			pending = true
			if !c.sleep(ctx) {
				break
			}
		}
	}
	c.logger.Info("cache consumer stopped")
}

// handle はメッセージを順に処理し、すべて成功したら true を返す
func (c *Consumer) handle(ctx context.Context, msgs []redis.XMessage, redelivered bool) bool {
	ok := true
	for _, msg := range msgs {
		if err := c.process(ctx, msg, redelivered); err != nil {
			ok = false
		}
	}
	if ok {
		c.backOff.Reset()
	}
	return ok
}

// reclaim は ACK されないまま claimIdle 以上経ったエントリを自分に付け替えて返す。
// 処理中に落ちたプロセスのエントリはこれで拾い直す。
func (c *Consumer) reclaim(ctx context.Context) ([]redis.XMessage, error) {
	msgs, _, err := c.cache.Redis().XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.name,
		MinIdle:  c.claimIdle,
		Start:    "0-0",
		Count:    readCount,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return msgs, err
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.cache.Redis().XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (c *Consumer) sleep(ctx context.Context) bool {
	d := c.backOff.NextBackOff()
	if d == backoff.Stop {
		d = time.Second
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// process は 1 件のメッセージを処理する。
// 壊れたメッセージや未知の action は ACK して捨てる。エラーを返した場合は ACK していない。
func (c *Consumer) process(ctx context.Context, msg redis.XMessage, redelivered bool) error {
	ctx, span := otel.Tracer("consumer").Start(ctx, "CacheConsumer.process")
	defer span.End()
	span.SetAttributes(attribute.String("message.id", msg.ID), attribute.Bool("message.redelivered", redelivered))

	entry := c.logger.WithField("message_id", msg.ID)

	m, err := decode(msg)
	if err != nil {
		entry.WithError(err).Error("dropping malformed cache invalidation message")
		return c.ack(ctx, msg.ID)
	}
	entry = entry.WithFields(log.Fields{"action": m.Action, "keys": m.Keys})
	entry.Info("received cache invalidation message")

	if m.Action != model.ActionInvalidateCache {
		entry.Warn("ignoring message with unknown action")
		return c.ack(ctx, msg.ID)
	}

	if err := c.invalidate(ctx, m.Keys, redelivered); err != nil {
		span.RecordError(err)
		entry.WithError(err).Error("error processing cache invalidation, will retry")
		return err
	}
	return c.ack(ctx, msg.ID)
}

// invalidate はパターンごとにキーを削除し、何か消えていれば一覧を再構築する。
// 再配信時は前回の試行で削除済みのことがあるので必ず再構築する。
func (c *Consumer) invalidate(ctx context.Context, patterns []string, forceRebuild bool) error {
	deleted := 0
	for _, pattern := range lo.Uniq(lo.Compact(patterns)) {
		n, err := c.cache.DeleteMatching(ctx, pattern)
		if err != nil {
			return fmt.Errorf("invalidate %s: %w", pattern, err)
		}
		if n > 0 {
			c.logger.WithFields(log.Fields{"pattern": pattern, "count": n}).Info("invalidated cache keys")
		}
		deleted += n
	}

	if deleted == 0 && !forceRebuild {
		return nil
	}
	if err := c.rebuilder.RebuildDefault(ctx); err != nil {
		return fmt.Errorf("rebuild cache: %w", err)
	}
	return nil
}

func (c *Consumer) ack(ctx context.Context, id string) error {
	if err := c.cache.Redis().XAck(ctx, c.stream, c.group, id).Err(); err != nil {
		c.logger.WithError(err).WithField("message_id", id).Error("failed to ack message")
		return err
	}
	return nil
}

func decode(msg redis.XMessage) (model.InvalidationMessage, error) {
	var m model.InvalidationMessage
	raw, ok := msg.Values[payloadField].(string)
	if !ok {
		return m, errMissingPayload
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return m, err
	}
	return m, m.Validate()
}
