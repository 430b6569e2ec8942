package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"group_buy/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var (
	// ErrNotFound 记录不存在。
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict 条件写入时版本号已变化，调用方应重新读取后重试。
	ErrVersionConflict = errors.New("version conflict")
)

// Notifier 接收已提交的变更，供实时视图推送。
type Notifier interface {
	Publish(change model.Change)
}

// Store 是权威数据源：活动聚合的条件读改写、订单与会员的简单读写。
type Store struct {
	db       *gorm.DB
	notifier Notifier
	now      func() time.Time
}

type Option func(*Store)

// WithNotifier 设置变更订阅出口。
func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// WithClock 替换时间源，测试使用。
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Open 按驱动打开数据库并自动建表。
// sqlite 只允许一个连接：写事务天然串行，避免 database is locked。
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("db handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate 自动建表。
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.Campaign{}, &model.Order{}, &model.Member{}); err != nil {
		return fmt.Errorf("db migrate: %w", err)
	}
	return nil
}

// Ping 健康检查。
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) publish(changes ...model.Change) {
	if s.notifier == nil {
		return
	}
	for _, c := range changes {
		if c.At.IsZero() {
			c.At = s.now()
		}
		s.notifier.Publish(c)
	}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
