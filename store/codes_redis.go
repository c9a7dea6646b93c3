package store

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"food-delivery/dispatch/models"
)

// Codes outlive their expiry by codeGrace so a late attempt is told the code
// expired instead of that none was issued.
const codeGrace = time.Hour

var consumeScript = redis.NewScript(`
local h = redis.call('HMGET', KEYS[1], 'code', 'expires_at')
if not h[1] then return 'not_found' end
if tonumber(h[2]) <= tonumber(ARGV[2]) then
  redis.call('DEL', KEYS[1])
  return 'expired'
end
if h[1] ~= ARGV[1] then return 'invalid' end
redis.call('DEL', KEYS[1])
return 'ok'
`)

type RedisCodes struct {
	rdb *redis.Client
}

func NewRedisCodes(rdb *redis.Client) *RedisCodes {
	return &RedisCodes{rdb: rdb}
}

func (c *RedisCodes) Put(ctx context.Context, code models.DeliveryCode) error {
	key := codeKey(code.OrderID, code.ShopOrderID)
	ttl := time.Until(code.ExpiresAt) + codeGrace
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, "code", code.Code, "expires_at", code.ExpiresAt.UnixMilli())
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store delivery code: %w", err)
	}
	return nil
}

func (c *RedisCodes) Consume(ctx context.Context, orderID, shopOrderID, code string, now time.Time) error {
	res, err := consumeScript.Run(ctx, c.rdb,
		[]string{codeKey(orderID, shopOrderID)}, code, now.UnixMilli(),
	).Text()
	if err != nil {
		return fmt.Errorf("consume delivery code: %w", err)
	}
	return scriptResult(res)
}

var _ Codes = (*RedisCodes)(nil)
