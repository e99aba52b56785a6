package domain

import (
	"time"

	"github.com/mr-tron/base58"
)

// Issuer is a party trusted to attest attributes. The private half of its
// keypair never leaves the key manager; only the public key is recorded here.
type Issuer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	PublicKey []byte    `json:"public_key"`
	KeyID     string    `json:"key_id"`
	CreatedAt time.Time `json:"created_at"`
}

// PublicKeyMultibase renders the public key as a base58btc multibase string.
func (i Issuer) PublicKeyMultibase() string {
	if len(i.PublicKey) == 0 {
		return ""
	}
	return "z" + base58.Encode(i.PublicKey)
}

type Subject struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Surname   string    `json:"surname"`
	CreatedAt time.Time `json:"created_at"`
}

func (s Subject) FullName() string {
	if s.Surname == "" {
		return s.Name
	}
	return s.Name + " " + s.Surname
}
