package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"credledger/internal/config"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var errDBUnavailable = errors.New("db unavailable")

type Store struct {
	DB *gorm.DB
}

func NewStore(cfg config.Config) (*Store, error) {
	if cfg.PostgresDSN == "" {
		slog.Info("POSTGRES_DSN not set; snapshot store disabled")
		return &Store{DB: nil}, nil
	}

	gdb, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	return &Store{DB: gdb}, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errDBUnavailable
	}
	return s.DB.WithContext(ctx).AutoMigrate(
		&IssuerModel{},
		&SubjectModel{},
		&CredentialModel{},
		&BlockModel{},
		&PendingBlockModel{},
	)
}

func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
