package filestore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"credledger/internal/domain"
	"credledger/internal/infra/crypto"
	"credledger/internal/infra/keys/soft"
	"credledger/internal/usecase"
)

func newLedger(t *testing.T) *usecase.Ledger {
	t.Helper()
	ledger, err := usecase.NewLedger(usecase.LedgerDeps{
		Crypto: crypto.NewService(),
		Keys:   soft.NewManager(nil),
	})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	return ledger
}

func TestStore_InitCreatesOriginalLayout(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	if err := store.Init(context.Background(), false); err != nil {
		t.Fatalf("init: %v", err)
	}
	for _, name := range []string{BlockchainFile, PendingFile, CredentialsFile, IssuersFile, SubjectsFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s to exist: %v", name, err)
		}
	}
	raw, err := os.ReadFile(filepath.Join(dir, PendingFile))
	if err != nil {
		t.Fatalf("read pending: %v", err)
	}
	if string(raw) != "null\n" {
		t.Fatalf("expected empty pending block, got %q", raw)
	}
	if err := store.Init(context.Background(), false); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected already initialized, got %v", err)
	}
	if err := store.Init(context.Background(), true); err != nil {
		t.Fatalf("forced init: %v", err)
	}
}

func TestStore_LoadMissingDirectory(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "missing"))
	if _, err := store.Load(context.Background()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStore_RoundTripValidates(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)
	issuer, err := ledger.RegisterIssuer(ctx, "Gov")
	if err != nil {
		t.Fatalf("register issuer: %v", err)
	}
	subject, err := ledger.RegisterSubject(ctx, "Alice", "Smith")
	if err != nil {
		t.Fatalf("register subject: %v", err)
	}
	from := time.Now().UTC().Add(-time.Hour)
	cred, err := ledger.IssueCredential(ctx, usecase.IssueRequest{
		IssuerID:  issuer.ID,
		SubjectID: subject.ID,
		Attribute: domain.Attribute{Name: "age_over_18", Value: "true"},
		ValidFrom: from,
		ValidTo:   from.Add(365 * 24 * time.Hour),
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
	if _, err := ledger.RevokeCredential(ctx, cred.UUID(), "lost"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	snap, err := ledger.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	store := NewStore(t.TempDir())
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Keys) != 1 || loaded.Keys[0].OwnerID != issuer.ID {
		t.Fatalf("expected issuer key to round trip, got %+v", loaded.Keys)
	}

	restored := newLedger(t)
	if err := restored.Restore(ctx, loaded); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !restored.ValidateChain() {
		t.Fatalf("expected restored chain to validate: %v", restored.Validate())
	}
	result, err := restored.VerifyCredential(cred.UUID())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Status != domain.VerificationRevoked || result.Reason != "lost" {
		t.Fatalf("unexpected result after reload: %+v", result)
	}

	other, err := restored.RegisterIssuer(ctx, "Registrar")
	if err != nil {
		t.Fatalf("register after reload: %v", err)
	}
	if err := restored.OpenBlock(other.ID); err != nil {
		t.Fatalf("open after reload: %v", err)
	}
}

func TestStore_LoadRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	if err := store.Init(context.Background(), false); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, CredentialsFile), []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := store.Load(context.Background()); err == nil {
		t.Fatal("expected parse error")
	}
}
