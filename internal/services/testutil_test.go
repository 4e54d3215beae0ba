package services

import (
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/glucolog/backend/internal/store"
	"github.com/glucolog/backend/pkg/logger"
	"gorm.io/gorm"
)

var testLoggerOnce sync.Once

func setupStore(t *testing.T) store.Store {
	t.Helper()

	testLoggerOnce.Do(logger.Init)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	st, err := store.NewGormStore(db)
	if err != nil {
		t.Fatalf("failed creating gorm store: %v", err)
	}
	return st
}
