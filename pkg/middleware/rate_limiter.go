package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/ticketing-core/pkg/logger"
	"github.com/prohmpiriya/ticketing-core/pkg/response"
	"github.com/prohmpiriya/ticketing-core/pkg/telemetry"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const tokenBucketScriptName = "token_bucket"

// tokenBucketScript refills at ARGV[1] tokens/sec up to ARGV[2] and takes one.
const tokenBucketScript = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3]) / 1000

local data = redis.call("HMGET", key, "tokens", "last_update")
local tokens = tonumber(data[1]) or burst
local last_update = tonumber(data[2]) or now

tokens = math.min(burst, tokens + math.max(0, now - last_update) * rate)

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HSET", key, "tokens", tokens, "last_update", now)
redis.call("EXPIRE", key, math.ceil(burst / rate) + 1)
return {allowed, math.floor(tokens)}
`

// ScriptRunner is satisfied by *pkgredis.Client
type ScriptRunner interface {
	EvalWithFallback(ctx context.Context, name, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RateLimitConfig holds a per-user token bucket
type RateLimitConfig struct {
	Redis     ScriptRunner
	PerMinute int
	BurstSize int
	KeyPrefix string
	Now       func() time.Time
}

// RedisRateLimiter is a distributed token bucket shared by all replicas
type RedisRateLimiter struct {
	config RateLimitConfig
}

// NewRedisRateLimiter creates a new Redis rate limiter
func NewRedisRateLimiter(config RateLimitConfig) *RedisRateLimiter {
	if config.PerMinute <= 0 {
		config.PerMinute = 10
	}
	if config.BurstSize <= 0 {
		config.BurstSize = config.PerMinute
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "ratelimit:purchase:"
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &RedisRateLimiter{config: config}
}

// Allow takes a token for key and reports the tokens left
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, int64, error) {
	rate := strconv.FormatFloat(float64(rl.config.PerMinute)/60, 'f', -1, 64)
	values, err := rl.config.Redis.EvalWithFallback(ctx, tokenBucketScriptName, tokenBucketScript,
		[]string{rl.config.KeyPrefix + key},
		rate, rl.config.BurstSize, rl.config.Now().UnixMilli(),
	).Int64Slice()
	if err != nil {
		return false, 0, err
	}
	if len(values) != 2 {
		return false, 0, fmt.Errorf("unexpected token bucket reply length: %d", len(values))
	}
	return values[0] == 1, values[1], nil
}

// Middleware limits requests per authenticated user. Redis failures let the
// request through; inventory correctness never depends on this limiter.
func (rl *RedisRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := telemetry.StartSpan(c.Request.Context(), "middleware.rate_limiter")
		defer span.End()

		key, ok := GetUserID(c)
		if !ok {
			key = "ip:" + c.ClientIP()
		}
		span.SetAttributes(attribute.String("ratelimit.key", key))

		allowed, remaining, err := rl.Allow(ctx, key)
		if err != nil {
			logger.Get().Warn("Rate limiter unavailable, allowing request", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.config.BurstSize))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		span.SetAttributes(attribute.Bool("ratelimit.allowed", allowed))

		if !allowed {
			c.Header("Retry-After", strconv.Itoa(max(1, 60/rl.config.PerMinute)))
			response.Abort(c, http.StatusTooManyRequests, "RATE_LIMITED", "Too many purchase attempts, please slow down")
			return
		}
		c.Next()
	}
}
