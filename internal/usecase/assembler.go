package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"credledger/internal/domain"
)

// Assembler stages issuances and revocations into the single pending block
// and finalizes it onto the chain.
type Assembler struct {
	mu      sync.Mutex
	pending *domain.PendingBlock
	chain   *Chain
	crypto  CryptoService
	issuers IssuerDirectory
	keys    KeyManager
	clock   Clock
}

func NewAssembler(chain *Chain, cs CryptoService, issuers IssuerDirectory, keys KeyManager, clock Clock) *Assembler {
	if clock == nil {
		clock = time.Now
	}
	return &Assembler{
		chain:   chain,
		crypto:  cs,
		issuers: issuers,
		keys:    keys,
		clock:   clock,
	}
}

func (a *Assembler) StartBlock(signerID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending != nil {
		return fmt.Errorf("%w: signer %s", domain.ErrBlockAlreadyOpen, a.pending.SignerID)
	}
	if _, ok := a.issuers.PublicKey(signerID); !ok {
		return fmt.Errorf("block signer %s: %w", signerID, domain.ErrNotFound)
	}
	a.pending = &domain.PendingBlock{
		SignerID: signerID,
		OpenedAt: normalizeTime(a.clock()),
	}
	return nil
}

func (a *Assembler) AddNew(sc domain.SignedCredential) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending == nil {
		return domain.ErrNoOpenBlock
	}
	uuid := sc.Credential.UUID
	for _, staged := range a.pending.Issuances {
		if staged.Credential.UUID == uuid {
			return fmt.Errorf("%w: %s is already staged", domain.ErrDuplicateCredential, uuid)
		}
	}
	if _, height, ok := a.chain.FindIssuance(uuid); ok {
		return fmt.Errorf("%w: %s was issued in block %d", domain.ErrDuplicateCredential, uuid, height)
	}
	if err := checkIssuance(a.crypto, a.issuers, sc); err != nil {
		return fmt.Errorf("%w: credential %s: %v", domain.ErrUnauthorized, uuid, err)
	}
	sc.Signature = append([]byte(nil), sc.Signature...)
	a.pending.Issuances = append(a.pending.Issuances, sc)
	return nil
}

func (a *Assembler) AddRevocation(rev domain.Revocation) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending == nil {
		return domain.ErrNoOpenBlock
	}
	uuid := rev.CredentialUUID
	issued, _, ok := a.chain.FindIssuance(uuid)
	if !ok {
		return fmt.Errorf("%w: %s has not been issued on the chain", domain.ErrUnknownCredential, uuid)
	}
	if height, revoked := a.chain.IsRevoked(uuid); revoked {
		return fmt.Errorf("%w: %s was revoked in block %d", domain.ErrAlreadyRevoked, uuid, height)
	}
	for _, staged := range a.pending.Revocations {
		if staged.CredentialUUID == uuid {
			return fmt.Errorf("%w: %s is already staged for revocation", domain.ErrAlreadyRevoked, uuid)
		}
	}
	if err := checkRevocation(a.crypto, a.issuers, rev, issued); err != nil {
		return fmt.Errorf("%w: revocation of %s: %v", domain.ErrUnauthorized, uuid, err)
	}
	rev.Signature = append([]byte(nil), rev.Signature...)
	a.pending.Revocations = append(a.pending.Revocations, rev)
	return nil
}

// Finalize seals the pending block and appends it to the chain. The pending
// block is cleared only when the append succeeds.
func (a *Assembler) Finalize(ctx context.Context) (domain.Block, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending == nil {
		return domain.Block{}, domain.ErrNoOpenBlock
	}
	if a.pending.Empty() {
		return domain.Block{}, domain.ErrEmptyBlock
	}
	if a.keys == nil {
		return domain.Block{}, errors.New("key manager is required")
	}

	pending := clonePending(*a.pending)
	block := domain.Block{
		Issuances:    pending.Issuances,
		Revocations:  pending.Revocations,
		Timestamp:    normalizeTime(a.clock()),
		PreviousHash: a.chain.Head(),
		SignerID:     pending.SignerID,
	}
	digest, err := a.crypto.BlockDigest(block)
	if err != nil {
		return domain.Block{}, err
	}
	block.Hash = digest
	sig, err := a.keys.Sign(ctx, block.SignerID, digest)
	if err != nil {
		return domain.Block{}, fmt.Errorf("sign block: %w", err)
	}
	block.Signature = sig
	if err := a.chain.Append(block); err != nil {
		return domain.Block{}, err
	}
	a.pending = nil
	return block.Clone(), nil
}

// Pending returns a copy of the open block, if any.
func (a *Assembler) Pending() (domain.PendingBlock, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending == nil {
		return domain.PendingBlock{}, false
	}
	return clonePending(*a.pending), true
}

func clonePending(p domain.PendingBlock) domain.PendingBlock {
	out := p
	out.Issuances = make([]domain.SignedCredential, len(p.Issuances))
	for i, sc := range p.Issuances {
		sc.Signature = append([]byte(nil), sc.Signature...)
		out.Issuances[i] = sc
	}
	out.Revocations = make([]domain.Revocation, len(p.Revocations))
	for i, rev := range p.Revocations {
		rev.Signature = append([]byte(nil), rev.Signature...)
		out.Revocations[i] = rev
	}
	return out
}

// resume reopens a persisted pending block, re-checking every staged record.
func (a *Assembler) resume(p domain.PendingBlock) error {
	if err := a.StartBlock(p.SignerID); err != nil {
		return err
	}
	for _, sc := range p.Issuances {
		if err := a.AddNew(sc); err != nil {
			return err
		}
	}
	for _, rev := range p.Revocations {
		if err := a.AddRevocation(rev); err != nil {
			return err
		}
	}
	if !p.OpenedAt.IsZero() {
		a.mu.Lock()
		a.pending.OpenedAt = normalizeTime(p.OpenedAt)
		a.mu.Unlock()
	}
	return nil
}

func (a *Assembler) discard() {
	a.mu.Lock()
	a.pending = nil
	a.mu.Unlock()
}
