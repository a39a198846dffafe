package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// WindowCounter — счётчик для лимитов без естественной backing-записи
// (анонимные/IP-ключи). INCR по ключу + TTL при первом инкременте.
type WindowCounter struct {
	c *redis.Client
}

func NewWindowCounter(addr string) *WindowCounter {
	return &WindowCounter{
		c: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

// Incr увеличивает счётчик окна и возвращает (count, ttl остатка окна).
// Окно само сбрасывается по TTL.
func (w *WindowCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	pipe := w.c.TxPipeline()
	incr := pipe.Incr(ctx, key)
	// NX: TTL выставляем только при создании ключа, иначе окно "ездит".
	pipe.ExpireNX(ctx, key, window)
	ttl := pipe.TTL(ctx, key)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return 0, 0, errors.Wrap(err, "redis window counter")
	}
	left := ttl.Val()
	if left < 0 {
		left = window
	}
	return incr.Val(), left, nil
}
