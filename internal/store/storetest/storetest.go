// Package storetest 提供基于内存 sqlite 的测试存储。
package storetest

import (
	"testing"

	"group_buy/internal/store"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OpenDB 打开独立的内存库并建表。
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := "file:groupbuy_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := store.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// New 返回挂在内存库上的 Store。
func New(t testing.TB, opts ...store.Option) *store.Store {
	t.Helper()
	return store.New(OpenDB(t), opts...)
}
