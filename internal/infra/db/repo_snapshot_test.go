//go:build integration
// +build integration

package db

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"credledger/internal/domain"
	"credledger/internal/infra/crypto"
	"credledger/internal/infra/keys/soft"
	"credledger/internal/usecase"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("POSTGRES_DSN_TEST"))
	if dsn == "" {
		t.Skip("POSTGRES_DSN_TEST not set")
	}
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	store := &Store{DB: gdb}
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := gdb.Exec(`TRUNCATE issuers, subjects, credentials, blocks, pending_block`).Error; err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return gdb
}

func TestSnapshotRepository_RoundTrip(t *testing.T) {
	gdb := setupTestDB(t)
	repo := NewSnapshotRepository(gdb)
	ctx := context.Background()

	if _, err := repo.Load(ctx); err != domain.ErrNotFound {
		t.Fatalf("expected not found on empty db, got %v", err)
	}

	ledger, err := usecase.NewLedger(usecase.LedgerDeps{Crypto: crypto.NewService(), Keys: soft.NewManager(nil)})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	issuer, _ := ledger.RegisterIssuer(ctx, "Gov")
	subject, _ := ledger.RegisterSubject(ctx, "Alice", "Smith")
	cred, err := ledger.IssueCredential(ctx, usecase.IssueRequest{
		IssuerID:  issuer.ID,
		SubjectID: subject.ID,
		Attribute: domain.Attribute{Name: "age_over_18", Value: "true"},
		ValidFrom: time.Now().Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := ledger.OpenBlock(issuer.ID); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := ledger.StageIssuance(cred.UUID()); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if _, err := ledger.FinalizeBlock(ctx); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	snap, err := ledger.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if err := repo.Save(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Saving the same snapshot again is a no-op.
	if err := repo.Save(ctx, snap); err != nil {
		t.Fatalf("save again: %v", err)
	}

	loaded, err := repo.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	restored, err := usecase.NewLedger(usecase.LedgerDeps{Crypto: crypto.NewService(), Keys: soft.NewManager(nil)})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	if err := restored.Restore(ctx, loaded); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !restored.ValidateChain() {
		t.Fatalf("expected restored chain to validate: %v", restored.Validate())
	}
	result, err := restored.VerifyCredential(cred.UUID())
	if err != nil || result.Status != domain.VerificationValid {
		t.Fatalf("expected valid credential after reload, got %+v (%v)", result, err)
	}

	diverged := snap
	diverged.Blocks = []domain.Block{snap.Blocks[0].Clone()}
	diverged.Blocks[0].Hash[0] ^= 0x01
	if err := repo.Save(ctx, diverged); err == nil {
		t.Fatal("expected divergent chain to be rejected")
	}
}
