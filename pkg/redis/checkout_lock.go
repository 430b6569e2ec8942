package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaReleaseLockIfMatch 仅当锁值匹配 token 时才删除，避免误删新请求的锁。
const luaReleaseLockIfMatch = `
local lockKey = KEYS[1]
local token = ARGV[1]
if redis.call('GET', lockKey) == token then
  return redis.call('DEL', lockKey)
end
return 0
`

// AcquireCheckoutLock 占位：同一幂等键同时只允许一个下单在处理。
func AcquireCheckoutLock(ctx context.Context, rdb *rd.Client, userID, idemKey, token string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, CheckoutLockKey(userID, idemKey), token, ttl).Result()
}

// ReleaseCheckoutLockIfMatch 安全释放占位锁。
func ReleaseCheckoutLockIfMatch(ctx context.Context, rdb *rd.Client, userID, idemKey, token string) error {
	_, err := rdb.Eval(ctx, luaReleaseLockIfMatch, []string{CheckoutLockKey(userID, idemKey)}, token).Int()
	return err
}
