package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"credledger/internal/domain"
)

type LedgerDeps struct {
	Crypto CryptoService
	Keys   KeyManager
	// Policy is consulted before every issuance when set.
	Policy IssuancePolicy
	Clock  Clock
}

// IssueRequest names the parties by id. A zero ValidTo issues an open-ended
// credential.
type IssueRequest struct {
	IssuerID  string
	SubjectID string
	Attribute domain.Attribute
	ValidFrom time.Time
	ValidTo   time.Time
}

// Ledger is the context object owning one registry, one chain and its
// pending block. Independent ledgers share nothing.
type Ledger struct {
	mu sync.Mutex

	crypto CryptoService
	keys   KeyManager
	policy IssuancePolicy
	clock  Clock

	registry        *Registry
	chain           *Chain
	assembler       *Assembler
	credentials     map[string]domain.SignedCredential
	credentialOrder []string
}

func NewLedger(deps LedgerDeps) (*Ledger, error) {
	if deps.Crypto == nil {
		return nil, errors.New("crypto service is required")
	}
	if deps.Keys == nil {
		return nil, errors.New("key manager is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	l := &Ledger{
		crypto: deps.Crypto,
		keys:   deps.Keys,
		policy: deps.Policy,
		clock:  clock,
	}
	l.reset()
	return l, nil
}

func (l *Ledger) reset() {
	l.registry = NewRegistry()
	l.chain = NewChain(l.crypto, l.registry, l.clock)
	l.assembler = NewAssembler(l.chain, l.crypto, l.registry, l.keys, l.clock)
	l.credentials = make(map[string]domain.SignedCredential)
	l.credentialOrder = nil
}

func (l *Ledger) now() time.Time {
	return normalizeTime(l.clock())
}

func (l *Ledger) RegisterIssuer(ctx context.Context, name string) (domain.Issuer, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Issuer{}, errors.New("issuer name is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	id := uuid.NewString()
	pubKey, err := l.keys.Generate(ctx, id)
	if err != nil {
		return domain.Issuer{}, fmt.Errorf("generate issuer key: %w", err)
	}
	issuer := domain.Issuer{
		ID:        id,
		Name:      name,
		PublicKey: pubKey,
		KeyID:     l.crypto.KeyID(pubKey),
		CreatedAt: l.now(),
	}
	if err := l.registry.AddIssuer(issuer); err != nil {
		return domain.Issuer{}, err
	}
	return issuer, nil
}

func (l *Ledger) RegisterSubject(_ context.Context, name, surname string) (domain.Subject, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Subject{}, errors.New("subject name is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	subject := domain.Subject{
		ID:        uuid.NewString(),
		Name:      name,
		Surname:   strings.TrimSpace(surname),
		CreatedAt: l.now(),
	}
	if err := l.registry.AddSubject(subject); err != nil {
		return domain.Subject{}, err
	}
	return subject, nil
}

// IssueCredential creates and signs a credential. The result is held by the
// ledger until staged into a block; its uuid is the handle for later calls.
func (l *Ledger) IssueCredential(ctx context.Context, req IssueRequest) (domain.SignedCredential, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	issuer, err := l.registry.Issuer(req.IssuerID)
	if err != nil {
		return domain.SignedCredential{}, err
	}
	subject, err := l.registry.Subject(req.SubjectID)
	if err != nil {
		return domain.SignedCredential{}, err
	}
	cred, err := CreateCredential(req.Attribute, issuer.ID, subject.ID, req.ValidFrom, req.ValidTo)
	if err != nil {
		return domain.SignedCredential{}, err
	}
	if err := l.checkPolicy(ctx, issuer, subject, cred); err != nil {
		return domain.SignedCredential{}, err
	}
	signed, err := SignCredential(ctx, l.crypto, l.keys, cred, issuer)
	if err != nil {
		return domain.SignedCredential{}, err
	}
	l.credentials[cred.UUID] = signed
	l.credentialOrder = append(l.credentialOrder, cred.UUID)
	return signed, nil
}

func (l *Ledger) checkPolicy(ctx context.Context, issuer domain.Issuer, subject domain.Subject, cred domain.Credential) error {
	if l.policy == nil {
		return nil
	}
	input := domain.IssuancePolicyInput{
		Issuer:    domain.PolicyParty{ID: issuer.ID, Name: issuer.Name},
		Subject:   domain.PolicyParty{ID: subject.ID, Name: subject.FullName()},
		Attribute: cred.Attribute,
		ValidFrom: cred.ValidFrom.Format(time.RFC3339),
	}
	if !cred.Indefinite() {
		input.ValidTo = cred.ValidTo.Format(time.RFC3339)
	}
	eval, err := l.policy.Evaluate(ctx, input)
	if err != nil {
		return fmt.Errorf("evaluate issuance policy: %w", err)
	}
	if eval.Result.Allow {
		return nil
	}
	codes := make([]string, 0, len(eval.Result.Deny))
	for _, deny := range eval.Result.Deny {
		codes = append(codes, deny.Code)
	}
	if len(codes) == 0 {
		return domain.ErrPolicyDenied
	}
	return fmt.Errorf("%w: %s", domain.ErrPolicyDenied, strings.Join(codes, ","))
}

func (l *Ledger) OpenBlock(signerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.assembler.StartBlock(signerID)
}

func (l *Ledger) StageIssuance(credentialUUID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	signed, ok := l.credentials[credentialUUID]
	if !ok {
		return fmt.Errorf("credential %s: %w", credentialUUID, domain.ErrNotFound)
	}
	return l.assembler.AddNew(signed)
}

func (l *Ledger) StageRevocation(ctx context.Context, credentialUUID, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stageRevocationLocked(ctx, credentialUUID, reason)
}

func (l *Ledger) stageRevocationLocked(ctx context.Context, credentialUUID, reason string) error {
	if _, open := l.assembler.Pending(); !open {
		return domain.ErrNoOpenBlock
	}
	issued, _, ok := l.chain.FindIssuance(credentialUUID)
	if !ok {
		return fmt.Errorf("%w: %s has not been issued on the chain", domain.ErrUnknownCredential, credentialUUID)
	}
	if height, revoked := l.chain.IsRevoked(credentialUUID); revoked {
		return fmt.Errorf("%w: %s was revoked in block %d", domain.ErrAlreadyRevoked, credentialUUID, height)
	}
	issuer, err := l.registry.Issuer(issued.Credential.IssuerID)
	if err != nil {
		return err
	}
	rev, err := SignRevocation(ctx, l.crypto, l.keys, issued, issuer, strings.TrimSpace(reason))
	if err != nil {
		return err
	}
	return l.assembler.AddRevocation(rev)
}

func (l *Ledger) FinalizeBlock(ctx context.Context) (domain.Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.assembler.Finalize(ctx)
}

func (l *Ledger) VerifyCredential(credentialUUID string) (domain.VerificationResult, error) {
	return l.chain.Verify(credentialUUID)
}

func (l *Ledger) VerifyCredentialAt(credentialUUID string, at time.Time) (domain.VerificationResult, error) {
	return l.chain.VerifyAt(credentialUUID, at)
}

// RevokeCredential stages the revocation into the open block, opening one
// signed by the credential's issuer when none is open, and finalizes it.
func (l *Ledger) RevokeCredential(ctx context.Context, credentialUUID, reason string) (domain.Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	issued, _, ok := l.chain.FindIssuance(credentialUUID)
	if !ok {
		return domain.Block{}, fmt.Errorf("%w: %s has not been issued on the chain", domain.ErrUnknownCredential, credentialUUID)
	}
	opened := false
	if _, open := l.assembler.Pending(); !open {
		if err := l.assembler.StartBlock(issued.Credential.IssuerID); err != nil {
			return domain.Block{}, err
		}
		opened = true
	}
	if err := l.stageRevocationLocked(ctx, credentialUUID, reason); err != nil {
		if opened {
			l.assembler.discard()
		}
		return domain.Block{}, err
	}
	return l.assembler.Finalize(ctx)
}

func (l *Ledger) ValidateChain() bool {
	return l.chain.ValidateChain()
}

func (l *Ledger) Validate() error {
	return l.chain.Validate()
}

func (l *Ledger) Issuers() []domain.Issuer {
	return l.registry.Issuers()
}

func (l *Ledger) Subjects() []domain.Subject {
	return l.registry.Subjects()
}

func (l *Ledger) Issuer(id string) (domain.Issuer, error) {
	return l.registry.Issuer(id)
}

func (l *Ledger) Subject(id string) (domain.Subject, error) {
	return l.registry.Subject(id)
}

// Credentials lists every credential issued through this ledger, in issuance
// order, whether or not it has reached the chain.
func (l *Ledger) Credentials() []domain.SignedCredential {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.SignedCredential, 0, len(l.credentialOrder))
	for _, id := range l.credentialOrder {
		sc := l.credentials[id]
		sc.Signature = append([]byte(nil), sc.Signature...)
		out = append(out, sc)
	}
	return out
}

func (l *Ledger) Credential(credentialUUID string) (domain.SignedCredential, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sc, ok := l.credentials[credentialUUID]
	if !ok {
		return domain.SignedCredential{}, fmt.Errorf("credential %s: %w", credentialUUID, domain.ErrNotFound)
	}
	sc.Signature = append([]byte(nil), sc.Signature...)
	return sc, nil
}

func (l *Ledger) PendingBlock() (domain.PendingBlock, bool) {
	return l.assembler.Pending()
}

func (l *Ledger) Blocks() []domain.Block {
	return l.chain.Blocks()
}

func (l *Ledger) ChainLength() int {
	return l.chain.Len()
}

func (l *Ledger) Head() domain.Hash {
	return l.chain.Head()
}

// Snapshot captures the full ledger state. Key material is included when the
// key manager can export it.
func (l *Ledger) Snapshot(ctx context.Context) (Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	snap := Snapshot{
		Issuers:     l.registry.Issuers(),
		Subjects:    l.registry.Subjects(),
		Credentials: make([]domain.SignedCredential, 0, len(l.credentialOrder)),
		Blocks:      l.chain.Blocks(),
	}
	for _, id := range l.credentialOrder {
		snap.Credentials = append(snap.Credentials, l.credentials[id])
	}
	if pending, ok := l.assembler.Pending(); ok {
		snap.Pending = &pending
	}
	if exporter, ok := l.keys.(KeyMaterialStore); ok {
		keys, err := exporter.Export(ctx)
		if err != nil {
			return Snapshot{}, fmt.Errorf("export keys: %w", err)
		}
		snap.Keys = keys
	}
	return snap, nil
}

// Restore loads a snapshot into an empty ledger. Blocks are re-appended and
// staged records re-checked, so a restored ledger always validates. On error
// the ledger is left empty.
func (l *Ledger) Restore(ctx context.Context, snap Snapshot) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.chain.Len() > 0 || len(l.registry.Issuers()) > 0 || len(l.credentials) > 0 {
		return errors.New("restore requires an empty ledger")
	}
	if len(snap.Keys) > 0 {
		importer, ok := l.keys.(KeyMaterialStore)
		if !ok {
			return errors.New("key manager cannot import key material")
		}
		if err := importer.Import(ctx, snap.Keys); err != nil {
			return fmt.Errorf("import keys: %w", err)
		}
	}
	if err := l.restoreLocked(snap); err != nil {
		l.reset()
		return err
	}
	return nil
}

func (l *Ledger) restoreLocked(snap Snapshot) error {
	for _, issuer := range snap.Issuers {
		if err := l.registry.AddIssuer(issuer); err != nil {
			return err
		}
	}
	for _, subject := range snap.Subjects {
		if err := l.registry.AddSubject(subject); err != nil {
			return err
		}
	}
	for _, sc := range snap.Credentials {
		if err := checkIssuance(l.crypto, l.registry, sc); err != nil {
			return fmt.Errorf("%w: credential %s: %v", domain.ErrTamperedRecord, sc.Credential.UUID, err)
		}
		if _, exists := l.credentials[sc.Credential.UUID]; exists {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateCredential, sc.Credential.UUID)
		}
		l.credentials[sc.Credential.UUID] = sc
		l.credentialOrder = append(l.credentialOrder, sc.Credential.UUID)
	}
	if err := l.chain.Load(snap.Blocks); err != nil {
		return fmt.Errorf("load chain: %w", err)
	}
	// Issuances on the chain that never passed through this ledger.
	for _, block := range snap.Blocks {
		for _, sc := range block.Issuances {
			if _, exists := l.credentials[sc.Credential.UUID]; exists {
				continue
			}
			l.credentials[sc.Credential.UUID] = sc
			l.credentialOrder = append(l.credentialOrder, sc.Credential.UUID)
		}
	}
	if snap.Pending != nil {
		if err := l.assembler.resume(*snap.Pending); err != nil {
			return fmt.Errorf("resume pending block: %w", err)
		}
	}
	return nil
}
