package blockdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"credledger/internal/config"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS block_journal (
	height        INTEGER PRIMARY KEY,
	hash          BYTEA NOT NULL UNIQUE,
	previous_hash BYTEA NOT NULL,
	signer_id     TEXT NOT NULL,
	block_time    TIMESTAMPTZ NOT NULL,
	issuances     INTEGER NOT NULL,
	revocations   INTEGER NOT NULL,
	block_json    JSONB NOT NULL,
	recorded_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`

type Store struct {
	Pool *pgxpool.Pool
}

func NewStore(cfg config.Config) (*Store, error) {
	if strings.TrimSpace(cfg.BlockJournalDSN) == "" {
		return nil, fmt.Errorf("BLOCK_JOURNAL_DSN is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, cfg.BlockJournalDSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.Pool == nil {
		return fmt.Errorf("db not configured")
	}
	_, err := s.Pool.Exec(ctx, schema)
	return err
}

func (s *Store) Close() {
	if s == nil || s.Pool == nil {
		return
	}
	s.Pool.Close()
}
