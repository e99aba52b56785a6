//go:build integration
// +build integration

package blockdb

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"credledger/internal/config"
	"credledger/internal/domain"
)

func setupJournal(t *testing.T) *Journal {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("POSTGRES_DSN_TEST"))
	if dsn == "" {
		t.Skip("POSTGRES_DSN_TEST not set")
	}
	store, err := NewStore(config.Config{BlockJournalDSN: dsn})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	ctx := context.Background()
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if _, err := store.Pool.Exec(ctx, `TRUNCATE block_journal`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return NewJournal(store.Pool)
}

func TestJournal_AppendIsIdempotentAndAppendOnly(t *testing.T) {
	journal := setupJournal(t)
	ctx := context.Background()
	block := domain.Block{
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		SignerID:  "issuer-1",
		Signature: []byte{1, 2, 3},
	}
	block.Hash[0] = 0xaa

	if err := journal.AppendBlock(ctx, 0, block); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := journal.AppendBlock(ctx, 0, block); err != nil {
		t.Fatalf("replay: %v", err)
	}
	other := block.Clone()
	other.Hash[0] = 0xbb
	if err := journal.AppendBlock(ctx, 0, other); !errors.Is(err, domain.ErrChainLinkMismatch) {
		t.Fatalf("expected mismatch for divergent block, got %v", err)
	}

	blocks, err := journal.Blocks(ctx)
	if err != nil {
		t.Fatalf("blocks: %v", err)
	}
	if len(blocks) != 1 || blocks[0].Hash != block.Hash {
		t.Fatalf("unexpected journal contents: %+v", blocks)
	}
}

func TestJournal_SyncAppendsMissingTail(t *testing.T) {
	journal := setupJournal(t)
	ctx := context.Background()
	chain := make([]domain.Block, 3)
	for i := range chain {
		chain[i] = domain.Block{Timestamp: time.Date(2026, 1, 1+i, 0, 0, 0, 0, time.UTC), SignerID: "issuer-1"}
		chain[i].Hash[0] = byte(i + 1)
		if i > 0 {
			chain[i].PreviousHash = chain[i-1].Hash
		}
	}
	if err := journal.AppendBlock(ctx, 0, chain[0]); err != nil {
		t.Fatalf("append: %v", err)
	}
	written, err := journal.Sync(ctx, chain)
	if err != nil || written != 2 {
		t.Fatalf("expected 2 blocks written, got %d (%v)", written, err)
	}
	if written, err := journal.Sync(ctx, chain); err != nil || written != 0 {
		t.Fatalf("expected resync to be a no-op, got %d (%v)", written, err)
	}
	if _, err := journal.Sync(ctx, chain[:1]); !errors.Is(err, domain.ErrChainLinkMismatch) {
		t.Fatalf("expected mismatch for a shorter chain, got %v", err)
	}
}
