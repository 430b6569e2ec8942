package middleware

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pkgerrors "group_buy/pkg/errors"
	pkgredis "group_buy/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/tidwall/gjson"
)

// UserIDHeader 上游身份服务注入的用户 id。
const UserIDHeader = "X-User-ID"

// luaRateLimit：Redis 滑动窗口限流 Lua 脚本（原子操作）
// KEYS[1]=限流key，ARGV[1]=当前时间戳(ms)，ARGV[2]=窗口开始时间戳(ms)，ARGV[3]=窗口秒数，ARGV[4]=成员，ARGV[5]=上限
// 返回：当前窗口内的请求数（超限返回 -1）
const luaRateLimit = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowStart = tonumber(ARGV[2])
local windowSec = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '0', windowStart)

local count = redis.call('ZCARD', key)

if count < tonumber(ARGV[5]) then
  redis.call('ZADD', key, now, member)
  redis.call('EXPIRE', key, windowSec)
  return count + 1
else
  return -1
end
`

// RedisRateLimit 下单限流：按用户计数，取不到用户时按 IP。Redis 出错时放行。
func RedisRateLimit(rdb *rd.Client, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rdb == nil || limit <= 0 {
			c.Next()
			return
		}
		key := pkgredis.RateLimitIPKey(c.ClientIP())
		if userID := extractUserID(c); userID != "" {
			key = pkgredis.RateLimitUserKey(userID)
		}

		now := time.Now()
		windowSec := int64(window.Seconds())
		if windowSec <= 0 {
			windowSec = 1
		}
		nowMs := now.UnixMilli()
		windowStart := nowMs - windowSec*1000
		member := fmt.Sprintf("%d-%d", nowMs, now.UnixNano())

		res, err := rdb.Eval(c.Request.Context(), luaRateLimit, []string{key},
			nowMs, windowStart, windowSec, member, limit).Int()
		if err != nil {
			c.Next()
			return
		}
		if res < 0 {
			meta := pkgerrors.MetadataFor(pkgerrors.CodeRateLimit)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code": pkgerrors.CodeRateLimit,
				"msg":  meta.PublicMessage,
			})
			return
		}
		c.Next()
	}
}

// extractUserID 优先取请求头，其次从 body 的 userId 字段读取（body 会被还原，后续 handler 可继续读）。
func extractUserID(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader(UserIDHeader)); id != "" {
		return id
	}
	if c.Request.Body == nil {
		return ""
	}
	bodyBytes, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return ""
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
	return strings.TrimSpace(gjson.GetBytes(bodyBytes, "userId").String())
}
