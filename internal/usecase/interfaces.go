package usecase

import (
	"context"
	"crypto/ed25519"
	"time"

	"credledger/internal/domain"
)

type Clock func() time.Time

type CryptoService interface {
	CredentialDigest(cred domain.Credential) (domain.Hash, error)
	RevocationDigest(rev domain.Revocation) (domain.Hash, error)
	BlockDigest(block domain.Block) (domain.Hash, error)
	Verify(pubKey []byte, digest domain.Hash, sig []byte) bool
	KeyID(pubKey []byte) string
}

// KeyManager holds issuer private keys. Private material never leaves it
// except through KeyMaterialStore.
type KeyManager interface {
	Generate(ctx context.Context, ownerID string) (ed25519.PublicKey, error)
	Sign(ctx context.Context, ownerID string, digest domain.Hash) ([]byte, error)
}

type KeyMaterialStore interface {
	Export(ctx context.Context) ([]KeyMaterial, error)
	Import(ctx context.Context, materials []KeyMaterial) error
}

type KeyMaterial struct {
	OwnerID    string    `json:"owner_id"`
	PrivateKey []byte    `json:"private_key"`
	PublicKey  []byte    `json:"public_key"`
	Alg        string    `json:"alg"`
	CreatedAt  time.Time `json:"created_at"`
}

type IssuerDirectory interface {
	PublicKey(issuerID string) ([]byte, bool)
}

type IssuancePolicy interface {
	Evaluate(ctx context.Context, input domain.IssuancePolicyInput) (domain.PolicyEvaluation, error)
}

// BlockJournal receives every finalized block at its chain height.
type BlockJournal interface {
	AppendBlock(ctx context.Context, height int, block domain.Block) error
}

// SnapshotStore persists whole-ledger snapshots. Load returns
// domain.ErrNotFound when nothing has been saved yet.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context) (Snapshot, error)
}

type Snapshot struct {
	Issuers     []domain.Issuer           `json:"issuers"`
	Subjects    []domain.Subject          `json:"subjects"`
	Keys        []KeyMaterial             `json:"keys"`
	Credentials []domain.SignedCredential `json:"credentials"`
	Pending     *domain.PendingBlock      `json:"pending,omitempty"`
	Blocks      []domain.Block            `json:"blocks"`
}
