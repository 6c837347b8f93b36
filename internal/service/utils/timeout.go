package utils

import (
	"context"
	"time"
)

const DefaultTimeout = 5 * time.Second

// WithTimeout は fn を DefaultTimeout 付きの ctx で実行する。
// 親 ctx にもっと短い期限があればそちらが優先される。
func WithTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	return fn(ctx)
}
