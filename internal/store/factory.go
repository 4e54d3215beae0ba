package store

import (
	"context"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/glucolog/backend/internal/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// New selects and opens the configured backend. The choice is made once at
// startup from typed config, never per-call.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Store.Backend {
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
		)
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			return nil, err
		}
		return NewGormStore(db)

	case "sqlite":
		db, err := gorm.Open(sqlite.Open(cfg.Store.SQLitePath), &gorm.Config{})
		if err != nil {
			return nil, err
		}
		return NewGormStore(db)

	case "redis":
		return NewRedisStore(ctx, cfg.Redis)

	case "minio":
		return NewMinioStore(ctx, cfg.MinIO)

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
