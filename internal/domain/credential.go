package domain

import "time"

type Attribute struct {
	Name        string `json:"name"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

// Credential binds an attribute to a subject on behalf of an issuer for a
// validity window. A zero ValidTo means the credential does not expire.
type Credential struct {
	UUID      string    `json:"uuid"`
	Attribute Attribute `json:"attribute"`
	IssuerID  string    `json:"issuer_id"`
	SubjectID string    `json:"subject_id"`
	ValidFrom time.Time `json:"valid_from"`
	ValidTo   time.Time `json:"valid_to,omitempty"`
}

func (c Credential) Indefinite() bool {
	return c.ValidTo.IsZero()
}

// ActiveAt reports whether t falls inside [ValidFrom, ValidTo].
func (c Credential) ActiveAt(t time.Time) bool {
	if t.Before(c.ValidFrom) {
		return false
	}
	return c.Indefinite() || !t.After(c.ValidTo)
}

// SignedCredential carries the issuer's signature over the canonical
// credential digest.
type SignedCredential struct {
	Credential Credential `json:"credential"`
	SignerID   string     `json:"signer_id"`
	Signature  []byte     `json:"signature"`
}

func (s SignedCredential) UUID() string {
	return s.Credential.UUID
}

// Revocation withdraws a previously issued credential. It references the
// issuance by uuid and credential digest and is signed by the same issuer.
type Revocation struct {
	CredentialUUID string `json:"credential_uuid"`
	CredentialHash Hash   `json:"credential_hash"`
	SignerID       string `json:"signer_id"`
	Reason         string `json:"reason,omitempty"`
	Signature      []byte `json:"signature"`
}
