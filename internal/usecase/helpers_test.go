package usecase

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"credledger/internal/domain"
	"credledger/internal/infra/crypto"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeKeys struct {
	mu   sync.Mutex
	keys map[string]ed25519.PrivateKey
}

func newFakeKeys() *fakeKeys {
	return &fakeKeys{keys: make(map[string]ed25519.PrivateKey)}
}

func (f *fakeKeys) Generate(_ context.Context, ownerID string) (ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[ownerID] = priv
	return pub, nil
}

func (f *fakeKeys) Sign(_ context.Context, ownerID string, digest domain.Hash) ([]byte, error) {
	f.mu.Lock()
	key, ok := f.keys[ownerID]
	f.mu.Unlock()
	if !ok {
		return nil, errors.New("missing key")
	}
	return crypto.Sign(key, digest)
}

func (f *fakeKeys) Export(_ context.Context) ([]KeyMaterial, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]KeyMaterial, 0, len(f.keys))
	for owner, key := range f.keys {
		out = append(out, KeyMaterial{
			OwnerID:    owner,
			PrivateKey: key.Seed(),
			PublicKey:  key.Public().(ed25519.PublicKey),
			Alg:        crypto.Alg,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OwnerID < out[j].OwnerID })
	return out, nil
}

func (f *fakeKeys) Import(_ context.Context, materials []KeyMaterial) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range materials {
		f.keys[m.OwnerID] = ed25519.NewKeyFromSeed(m.PrivateKey)
	}
	return nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fixture struct {
	ledger  *Ledger
	keys    *fakeKeys
	clock   *testClock
	issuer  domain.Issuer
	subject domain.Subject
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &testClock{now: t0.Add(time.Hour)}
	keys := newFakeKeys()
	ledger, err := NewLedger(LedgerDeps{
		Crypto: crypto.NewService(),
		Keys:   keys,
		Clock:  clock.Now,
	})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	ctx := context.Background()
	issuer, err := ledger.RegisterIssuer(ctx, "Gov")
	if err != nil {
		t.Fatalf("register issuer: %v", err)
	}
	subject, err := ledger.RegisterSubject(ctx, "Alice", "Smith")
	if err != nil {
		t.Fatalf("register subject: %v", err)
	}
	return &fixture{ledger: ledger, keys: keys, clock: clock, issuer: issuer, subject: subject}
}

func (f *fixture) issue(t *testing.T, name, value string) domain.SignedCredential {
	t.Helper()
	signed, err := f.ledger.IssueCredential(context.Background(), IssueRequest{
		IssuerID:  f.issuer.ID,
		SubjectID: f.subject.ID,
		Attribute: domain.Attribute{Name: name, Value: value},
		ValidFrom: t0,
		ValidTo:   t0.Add(365 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("issue credential: %v", err)
	}
	return signed
}

// commit stages the given credentials into a block signed by the fixture
// issuer and finalizes it.
func (f *fixture) commit(t *testing.T, creds ...domain.SignedCredential) domain.Block {
	t.Helper()
	if err := f.ledger.OpenBlock(f.issuer.ID); err != nil {
		t.Fatalf("open block: %v", err)
	}
	for _, sc := range creds {
		if err := f.ledger.StageIssuance(sc.UUID()); err != nil {
			t.Fatalf("stage issuance: %v", err)
		}
	}
	block, err := f.ledger.FinalizeBlock(context.Background())
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return block
}

// seal builds a correctly hashed and signed block outside the assembler.
func (f *fixture) seal(t *testing.T, signerID string, prev domain.Hash, issuances []domain.SignedCredential, revocations []domain.Revocation) domain.Block {
	t.Helper()
	block := domain.Block{
		Issuances:    issuances,
		Revocations:  revocations,
		Timestamp:    f.clock.Now(),
		PreviousHash: prev,
		SignerID:     signerID,
	}
	digest, err := crypto.BlockDigest(block)
	if err != nil {
		t.Fatalf("block digest: %v", err)
	}
	block.Hash = digest
	sig, err := f.keys.Sign(context.Background(), signerID, digest)
	if err != nil {
		t.Fatalf("sign block: %v", err)
	}
	block.Signature = sig
	return block
}
