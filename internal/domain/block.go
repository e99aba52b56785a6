package domain

import "time"

type Block struct {
	Issuances    []SignedCredential `json:"issuances"`
	Revocations  []Revocation       `json:"revocations"`
	Timestamp    time.Time          `json:"timestamp"`
	PreviousHash Hash               `json:"previous_hash"`
	Hash         Hash               `json:"hash"`
	SignerID     string             `json:"signer_id"`
	Signature    []byte             `json:"signature"`
}

func (b Block) FindIssuance(uuid string) (SignedCredential, bool) {
	for _, sc := range b.Issuances {
		if sc.Credential.UUID == uuid {
			return sc, true
		}
	}
	return SignedCredential{}, false
}

func (b Block) FindRevocation(uuid string) (Revocation, bool) {
	for _, rev := range b.Revocations {
		if rev.CredentialUUID == uuid {
			return rev, true
		}
	}
	return Revocation{}, false
}

// Clone returns a deep copy so callers can never alias chain state.
func (b Block) Clone() Block {
	out := b
	out.Issuances = make([]SignedCredential, len(b.Issuances))
	for i, sc := range b.Issuances {
		sc.Signature = cloneBytes(sc.Signature)
		out.Issuances[i] = sc
	}
	out.Revocations = make([]Revocation, len(b.Revocations))
	for i, rev := range b.Revocations {
		rev.Signature = cloneBytes(rev.Signature)
		out.Revocations[i] = rev
	}
	out.Signature = cloneBytes(b.Signature)
	return out
}

// PendingBlock is the unfinalized batch held by the block assembler.
type PendingBlock struct {
	SignerID    string             `json:"signer_id"`
	OpenedAt    time.Time          `json:"opened_at"`
	Issuances   []SignedCredential `json:"issuances"`
	Revocations []Revocation       `json:"revocations"`
}

func (p PendingBlock) Empty() bool {
	return len(p.Issuances) == 0 && len(p.Revocations) == 0
}

func cloneBytes(in []byte) []byte {
	if in == nil {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
