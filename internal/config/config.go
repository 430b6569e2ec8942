package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 镜像投递方式。
const (
	MirrorTransportHTTP  = "http"
	MirrorTransportKafka = "kafka"
	MirrorTransportNone  = "none"
)

// AppConfig 聚合运行时配置，尽量通过环境变量注入，避免硬编码。
type AppConfig struct {
	ServiceName string
	HTTPAddr    string
	LogLevel    string
	LogFormat   string

	// DBDriver 取值 sqlite / postgres
	DBDriver string
	DBDSN    string

	RedisAddr string
	RedisDB   int

	// Kafka 集群地址（逗号分隔）、镜像 Topic、转发消费者组
	KafkaBrokers  []string
	MirrorTopic   string
	MirrorGroupID string

	// 外部镜像（试算表服务）：写入尽力而为，读取作为降级数据源
	MirrorTransport string
	MirrorURL       string
	MirrorTimeout   time.Duration
	MirrorWorkers   int
	MirrorQueueSize int

	// 下单乐观并发重试上限、限流与幂等缓存
	CheckoutMaxAttempts int
	CheckoutRateLimit   int
	CheckoutRateWindow  time.Duration
	IdempotencyTTL      time.Duration

	// 实时视图推送
	FeedBuffer       int
	FeedChannel      string
	FeedPollInterval time.Duration

	// 管理接口的简单令牌（demo 级别保护）
	AdminToken string
}

// Load 读取并校验配置，缺失时使用默认值。存在 .env 时先加载。
func Load() (AppConfig, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return AppConfig{}, fmt.Errorf("load .env: %w", err)
		}
	}

	cfg := AppConfig{
		ServiceName:     getEnv("SERVICE_NAME", "group-buy"),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "json"),
		DBDriver:        strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DBDSN:           getEnv("DB_DSN", "group_buy.db"),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:         0,
		KafkaBrokers:    splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
		MirrorTopic:     getEnv("MIRROR_TOPIC", "group-buy-mirror-events"),
		MirrorGroupID:   getEnv("MIRROR_GROUP_ID", "group-buy-mirror-forwarder"),
		MirrorTransport: strings.ToLower(getEnv("MIRROR_TRANSPORT", MirrorTransportHTTP)),
		MirrorURL:       getEnv("MIRROR_URL", ""),
		AdminToken:      getEnv("ADMIN_TOKEN", "dev-admin-token"),
		FeedChannel:     getEnv("FEED_CHANNEL", "group_buy:feed"),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	if cfg.MirrorTimeout, err = getEnvDuration("MIRROR_TIMEOUT_MS", time.Millisecond, 5*time.Second); err != nil {
		return AppConfig{}, fmt.Errorf("invalid MIRROR_TIMEOUT_MS: %w", err)
	}
	if cfg.MirrorWorkers, err = getEnvPositive("MIRROR_WORKERS", 4); err != nil {
		return AppConfig{}, err
	}
	if cfg.MirrorQueueSize, err = getEnvPositive("MIRROR_QUEUE_SIZE", 256); err != nil {
		return AppConfig{}, err
	}
	if cfg.CheckoutMaxAttempts, err = getEnvPositive("CHECKOUT_MAX_ATTEMPTS", 8); err != nil {
		return AppConfig{}, err
	}
	if cfg.CheckoutRateLimit, err = getEnvPositive("CHECKOUT_RATE_LIMIT", 20); err != nil {
		return AppConfig{}, err
	}
	if cfg.CheckoutRateWindow, err = getEnvDuration("CHECKOUT_RATE_WINDOW_SEC", time.Second, 10*time.Second); err != nil {
		return AppConfig{}, fmt.Errorf("invalid CHECKOUT_RATE_WINDOW_SEC: %w", err)
	}
	if cfg.IdempotencyTTL, err = getEnvDuration("IDEMPOTENCY_TTL_HOUR", time.Hour, 24*time.Hour); err != nil {
		return AppConfig{}, fmt.Errorf("invalid IDEMPOTENCY_TTL_HOUR: %w", err)
	}
	if cfg.FeedBuffer, err = getEnvPositive("FEED_BUFFER", 64); err != nil {
		return AppConfig{}, err
	}
	if cfg.FeedPollInterval, err = getEnvDuration("FEED_POLL_SEC", time.Second, 30*time.Second); err != nil {
		return AppConfig{}, fmt.Errorf("invalid FEED_POLL_SEC: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c AppConfig) validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("DB_DSN must not be empty")
	}
	if c.MirrorTimeout <= 0 {
		return fmt.Errorf("MIRROR_TIMEOUT_MS must be > 0")
	}
	if c.CheckoutRateWindow <= 0 {
		return fmt.Errorf("CHECKOUT_RATE_WINDOW_SEC must be > 0")
	}
	if c.IdempotencyTTL <= 0 {
		return fmt.Errorf("IDEMPOTENCY_TTL_HOUR must be > 0")
	}
	if c.FeedPollInterval <= 0 {
		return fmt.Errorf("FEED_POLL_SEC must be > 0")
	}
	switch c.MirrorTransport {
	case MirrorTransportNone:
	case MirrorTransportHTTP:
		// 未配置 URL 时镜像写入与降级读取都关闭，与原先“没有 GAS 地址就跳过同步”一致
	case MirrorTransportKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS must not be empty")
		}
		if c.MirrorTopic == "" {
			return fmt.Errorf("MIRROR_TOPIC must not be empty")
		}
	default:
		return fmt.Errorf("MIRROR_TRANSPORT must be http, kafka or none, got %q", c.MirrorTransport)
	}
	if c.FeedChannel == "" {
		return fmt.Errorf("FEED_CHANNEL must not be empty")
	}
	return nil
}

// MirrorEnabled 表示是否配置了外部镜像地址。
func (c AppConfig) MirrorEnabled() bool {
	return c.MirrorURL != ""
}

// getEnv 读取字符串环境变量，若为空则返回默认值。
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt 读取整数环境变量，若为空则返回默认值。
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

// getEnvPositive 读取必须大于 0 的整数。
func getEnvPositive(key string, fallback int) (int, error) {
	n, err := getEnvInt(key, fallback)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return n, nil
}

// getEnvDuration 以 unit 为单位读取时长，例如 *_SEC 用 time.Second。
func getEnvDuration(key string, unit, fallback time.Duration) (time.Duration, error) {
	n, err := getEnvInt(key, int(fallback/unit))
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * unit, nil
}

// splitCSV 将逗号分隔字符串解析为字符串切片。
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
