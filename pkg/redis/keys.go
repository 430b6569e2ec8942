package redis

import "fmt"

// CheckoutStateKey 存储某次幂等下单的状态与结果。
func CheckoutStateKey(userID, idemKey string) string {
	return fmt.Sprintf("group_buy:checkout:state:%s:%s", userID, idemKey)
}

// CheckoutLockKey 标记同一幂等键的下单正在进行。
func CheckoutLockKey(userID, idemKey string) string {
	return fmt.Sprintf("group_buy:checkout:lock:%s:%s", userID, idemKey)
}

// RateLimitUserKey 按用户限流。
func RateLimitUserKey(userID string) string {
	return fmt.Sprintf("rate_limit:group_buy:user:%s", userID)
}

// RateLimitIPKey 取不到用户时按 IP 限流。
func RateLimitIPKey(ip string) string {
	return fmt.Sprintf("rate_limit:group_buy:ip:%s", ip)
}
