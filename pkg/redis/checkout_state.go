package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

const (
	// CheckoutPending 表示下单正在处理。
	CheckoutPending = "pending"
	// CheckoutDone 表示已有最终结果，重放时直接返回。
	CheckoutDone = "done"
)

// CheckoutState 对应 Redis 内的幂等下单状态。
type CheckoutState struct {
	IdemKey string
	Status  string
	Result  string // 首次提交结果的 JSON
}

// GetCheckoutState 查询幂等键当前状态。found=false 表示 key 不存在。
func GetCheckoutState(ctx context.Context, rdb *rd.Client, userID, idemKey string) (CheckoutState, bool, error) {
	m, err := rdb.HGetAll(ctx, CheckoutStateKey(userID, idemKey)).Result()
	if err != nil {
		return CheckoutState{}, false, err
	}
	if len(m) == 0 {
		return CheckoutState{}, false, nil
	}
	out := CheckoutState{
		IdemKey: idemKey,
		Status:  m["status"],
		Result:  m["result"],
	}
	if out.Status == "" {
		out.Status = CheckoutPending
	}
	return out, true, nil
}

// PutCheckoutState 写入状态与结果，并刷新 key TTL。
func PutCheckoutState(ctx context.Context, rdb *rd.Client, userID, idemKey, status, result string, ttl time.Duration) error {
	key := CheckoutStateKey(userID, idemKey)
	pipe := rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"idem_key", idemKey,
		"status", status,
		"result", result,
	)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}
