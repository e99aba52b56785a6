package usecase

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"credledger/internal/domain"
)

// Chain is the append-only sequence of finalized blocks. Every block is
// fully validated before it becomes visible to readers.
type Chain struct {
	mu      sync.RWMutex
	blocks  []domain.Block
	index   *chainIndex
	crypto  CryptoService
	issuers IssuerDirectory
	clock   Clock
}

type issuance struct {
	height int
	record domain.SignedCredential
}

type chainIndex struct {
	issued  map[string]issuance
	revoked map[string]int
}

func newChainIndex() *chainIndex {
	return &chainIndex{
		issued:  make(map[string]issuance),
		revoked: make(map[string]int),
	}
}

func (idx *chainIndex) add(height int, block domain.Block) {
	for _, sc := range block.Issuances {
		idx.issued[sc.Credential.UUID] = issuance{height: height, record: sc}
	}
	for _, rev := range block.Revocations {
		idx.revoked[rev.CredentialUUID] = height
	}
}

func NewChain(cs CryptoService, issuers IssuerDirectory, clock Clock) *Chain {
	if clock == nil {
		clock = time.Now
	}
	return &Chain{
		index:   newChainIndex(),
		crypto:  cs,
		issuers: issuers,
		clock:   clock,
	}
}

func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blocks)
}

// Head returns the hash of the last block, or the genesis sentinel.
func (c *Chain) Head() domain.Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.headLocked()
}

func (c *Chain) headLocked() domain.Hash {
	if len(c.blocks) == 0 {
		return domain.GenesisHash
	}
	return c.blocks[len(c.blocks)-1].Hash
}

func (c *Chain) Blocks() []domain.Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Block, len(c.blocks))
	for i, block := range c.blocks {
		out[i] = block.Clone()
	}
	return out
}

// FindIssuance returns the issuance of uuid and the height of its block.
func (c *Chain) FindIssuance(uuid string) (domain.SignedCredential, int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.index.issued[uuid]
	if !ok {
		return domain.SignedCredential{}, -1, false
	}
	return entry.record, entry.height, true
}

// IsRevoked reports whether uuid is revoked as of the head, and where.
func (c *Chain) IsRevoked(uuid string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	height, ok := c.index.revoked[uuid]
	if !ok {
		return -1, false
	}
	return height, true
}

// Append validates block against the current head and, on success, adds it.
// A rejected block leaves the chain unchanged.
func (c *Chain) Append(block domain.Block) error {
	if c.crypto == nil || c.issuers == nil {
		return errors.New("chain requires crypto service and issuer directory")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	height := len(c.blocks)
	if err := c.checkBlock(height, c.headLocked(), block, c.index); err != nil {
		return err
	}
	stored := block.Clone()
	c.blocks = append(c.blocks, stored)
	c.index.add(height, stored)
	return nil
}

// Load replaces an empty chain with persisted blocks, appending each one in
// order so loading is validation.
func (c *Chain) Load(blocks []domain.Block) error {
	c.mu.Lock()
	empty := len(c.blocks) == 0
	c.mu.Unlock()
	if !empty {
		return errors.New("chain already has blocks")
	}
	for _, block := range blocks {
		if err := c.Append(block); err != nil {
			c.mu.Lock()
			c.blocks = nil
			c.index = newChainIndex()
			c.mu.Unlock()
			return err
		}
	}
	return nil
}

// Validate walks the whole chain and reports the first integrity failure.
func (c *Chain) Validate() error {
	if c.crypto == nil || c.issuers == nil {
		return errors.New("chain requires crypto service and issuer directory")
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx := newChainIndex()
	prev := domain.GenesisHash
	for height, block := range c.blocks {
		if err := c.checkBlock(height, prev, block, idx); err != nil {
			return err
		}
		idx.add(height, block)
		prev = block.Hash
	}
	return nil
}

func (c *Chain) ValidateChain() bool {
	return c.Validate() == nil
}

// Verify derives the status of uuid at the current time.
func (c *Chain) Verify(uuid string) (domain.VerificationResult, error) {
	return c.VerifyAt(uuid, c.clock())
}

// VerifyAt scans the chain in order. The first issuance of uuid is
// re-verified; a failed check yields a tampered result with
// domain.ErrTamperedRecord.
func (c *Chain) VerifyAt(uuid string, at time.Time) (domain.VerificationResult, error) {
	result := domain.VerificationResult{
		CredentialUUID: uuid,
		Status:         domain.VerificationNotFound,
		IssuedInBlock:  -1,
		RevokedInBlock: -1,
		CheckedAt:      normalizeTime(at),
	}
	if c.crypto == nil || c.issuers == nil {
		return result, errors.New("chain requires crypto service and issuer directory")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var issued domain.SignedCredential
	for height, block := range c.blocks {
		if sc, ok := block.FindIssuance(uuid); ok {
			issued = sc
			result.IssuedInBlock = height
			break
		}
	}
	if result.IssuedInBlock < 0 {
		return result, nil
	}
	validFrom := issued.Credential.ValidFrom
	result.ValidFrom = &validFrom
	if !issued.Credential.Indefinite() {
		validTo := issued.Credential.ValidTo
		result.ValidTo = &validTo
	}

	if err := checkIssuance(c.crypto, c.issuers, issued); err != nil {
		result.Status = domain.VerificationTampered
		return result, fmt.Errorf("%w: credential %s in block %d: %v", domain.ErrTamperedRecord, uuid, result.IssuedInBlock, err)
	}

	for height := result.IssuedInBlock; height < len(c.blocks); height++ {
		rev, ok := c.blocks[height].FindRevocation(uuid)
		if !ok {
			continue
		}
		if err := checkRevocation(c.crypto, c.issuers, rev, issued); err != nil {
			result.Status = domain.VerificationTampered
			return result, fmt.Errorf("%w: revocation of %s in block %d: %v", domain.ErrTamperedRecord, uuid, height, err)
		}
		result.Status = domain.VerificationRevoked
		result.RevokedInBlock = height
		result.Reason = rev.Reason
		return result, nil
	}

	if !issued.Credential.ActiveAt(at) {
		result.Status = domain.VerificationExpired
		return result, nil
	}
	result.Status = domain.VerificationValid
	return result, nil
}

// checkBlock applies every append rule to block at height, given the hash
// it must link to and the records already on the chain.
func (c *Chain) checkBlock(height int, prev domain.Hash, block domain.Block, idx *chainIndex) error {
	if block.PreviousHash != prev {
		return fmt.Errorf("%w: block %d links to %s, head is %s", domain.ErrChainLinkMismatch, height, block.PreviousHash, prev)
	}
	digest, err := c.crypto.BlockDigest(block)
	if err != nil {
		return fmt.Errorf("%w: block %d: %v", domain.ErrInvalidBlockHash, height, err)
	}
	if digest != block.Hash {
		return fmt.Errorf("%w: block %d", domain.ErrInvalidBlockHash, height)
	}
	pubKey, ok := c.issuers.PublicKey(block.SignerID)
	if !ok {
		return fmt.Errorf("%w: block %d signer %s is not registered", domain.ErrInvalidBlockSignature, height, block.SignerID)
	}
	if !c.crypto.Verify(pubKey, block.Hash, block.Signature) {
		return fmt.Errorf("%w: block %d", domain.ErrInvalidBlockSignature, height)
	}
	if len(block.Issuances) == 0 && len(block.Revocations) == 0 {
		return fmt.Errorf("%w: block %d", domain.ErrEmptyBlock, height)
	}

	staged := make(map[string]domain.SignedCredential, len(block.Issuances))
	for _, sc := range block.Issuances {
		uuid := sc.Credential.UUID
		if _, exists := idx.issued[uuid]; exists {
			return fmt.Errorf("%w: block %d credential %s", domain.ErrDuplicateCredential, height, uuid)
		}
		if _, exists := staged[uuid]; exists {
			return fmt.Errorf("%w: block %d credential %s", domain.ErrDuplicateCredential, height, uuid)
		}
		if err := checkIssuance(c.crypto, c.issuers, sc); err != nil {
			return fmt.Errorf("%w: block %d credential %s: %v", domain.ErrTamperedRecord, height, uuid, err)
		}
		staged[uuid] = sc
	}

	revoked := make(map[string]struct{}, len(block.Revocations))
	for _, rev := range block.Revocations {
		uuid := rev.CredentialUUID
		issued, ok := staged[uuid]
		if entry, onChain := idx.issued[uuid]; onChain {
			issued, ok = entry.record, true
		}
		if !ok {
			return fmt.Errorf("%w: block %d revokes %s", domain.ErrUnknownCredential, height, uuid)
		}
		if _, done := idx.revoked[uuid]; done {
			return fmt.Errorf("%w: block %d revokes %s", domain.ErrAlreadyRevoked, height, uuid)
		}
		if _, done := revoked[uuid]; done {
			return fmt.Errorf("%w: block %d revokes %s", domain.ErrAlreadyRevoked, height, uuid)
		}
		if err := checkRevocation(c.crypto, c.issuers, rev, issued); err != nil {
			return fmt.Errorf("%w: block %d revocation of %s: %v", domain.ErrTamperedRecord, height, uuid, err)
		}
		revoked[uuid] = struct{}{}
	}
	return nil
}
