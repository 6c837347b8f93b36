package consumer

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"

	"blogplatform/internal/model"
)

const (
	payloadField  = "payload"
	defaultMaxLen = 10000
)

// Publisher はキャッシュ無効化メッセージをストリームへ送る側
type Publisher struct {
	rdb    redis.Cmdable
	stream string
	maxLen int64
}

func NewPublisher(rdb redis.Cmdable, stream string) *Publisher {
	return &Publisher{rdb: rdb, stream: stream, maxLen: defaultMaxLen}
}

// InvalidateCache は keys (glob パターン) の無効化を依頼し、メッセージIDを返す
func (p *Publisher) InvalidateCache(ctx context.Context, keys ...string) (string, error) {
	msg := model.NewInvalidationMessage(lo.Uniq(lo.Compact(keys))...)
	if err := msg.Validate(); err != nil {
		return "", err
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	id, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{payloadField: string(b)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publish invalidation: %w", err)
	}
	return id, nil
}
