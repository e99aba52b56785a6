package crypto

import (
	"encoding/hex"
	"fmt"
	"time"
	"unicode/utf8"

	"credledger/internal/domain"
)

const (
	CredentialPayloadVersion = "credential_v1"
	RevocationPayloadVersion = "revocation_v1"
	BlockPayloadVersion      = "block_v1"
)

type attributePayload struct {
	Name        string `json:"name"`
	Value       string `json:"value"`
	Description string `json:"description"`
}

type credentialPayload struct {
	Version   string           `json:"v"`
	UUID      string           `json:"uuid"`
	Attribute attributePayload `json:"attribute"`
	IssuerID  string           `json:"issuer_id"`
	SubjectID string           `json:"subject_id"`
	ValidFrom string           `json:"valid_from"`
	ValidTo   string           `json:"valid_to"`
}

type revocationPayload struct {
	Version        string `json:"v"`
	CredentialUUID string `json:"credential_uuid"`
	CredentialHash string `json:"credential_hash"`
	SignerID       string `json:"signer_id"`
	Reason         string `json:"reason"`
}

type blockIssuancePayload struct {
	CredentialHash string `json:"credential_hash"`
	SignerID       string `json:"signer_id"`
	Signature      string `json:"signature"`
}

type blockRevocationPayload struct {
	RevocationHash string `json:"revocation_hash"`
	Signature      string `json:"signature"`
}

type blockPayload struct {
	Version      string                   `json:"v"`
	Timestamp    string                   `json:"timestamp"`
	PreviousHash string                   `json:"previous_hash"`
	SignerID     string                   `json:"signer_id"`
	Issuances    []blockIssuancePayload   `json:"issuances"`
	Revocations  []blockRevocationPayload `json:"revocations"`
}

// CredentialDigest is the hash every issuer signature covers.
func CredentialDigest(c domain.Credential) (domain.Hash, error) {
	if err := requireUTF8(c.UUID, c.Attribute.Name, c.Attribute.Value, c.Attribute.Description, c.IssuerID, c.SubjectID); err != nil {
		return domain.Hash{}, err
	}
	payload := credentialPayload{
		Version: CredentialPayloadVersion,
		UUID:    c.UUID,
		Attribute: attributePayload{
			Name:        c.Attribute.Name,
			Value:       c.Attribute.Value,
			Description: c.Attribute.Description,
		},
		IssuerID:  c.IssuerID,
		SubjectID: c.SubjectID,
		ValidFrom: formatTime(c.ValidFrom),
		ValidTo:   formatTime(c.ValidTo),
	}
	return hashPayload(payload)
}

// RevocationDigest covers every revocation field except the signature.
func RevocationDigest(rev domain.Revocation) (domain.Hash, error) {
	if err := requireUTF8(rev.CredentialUUID, rev.SignerID, rev.Reason); err != nil {
		return domain.Hash{}, err
	}
	payload := revocationPayload{
		Version:        RevocationPayloadVersion,
		CredentialUUID: rev.CredentialUUID,
		CredentialHash: rev.CredentialHash.Hex(),
		SignerID:       rev.SignerID,
		Reason:         rev.Reason,
	}
	return hashPayload(payload)
}

// BlockDigest recomputes a block hash from its content. Credential and
// revocation digests are recomputed from the stored records, so any change to
// a record changes the block hash.
func BlockDigest(b domain.Block) (domain.Hash, error) {
	if err := requireUTF8(b.SignerID); err != nil {
		return domain.Hash{}, err
	}
	payload := blockPayload{
		Version:      BlockPayloadVersion,
		Timestamp:    formatTime(b.Timestamp),
		PreviousHash: b.PreviousHash.Hex(),
		SignerID:     b.SignerID,
		Issuances:    make([]blockIssuancePayload, 0, len(b.Issuances)),
		Revocations:  make([]blockRevocationPayload, 0, len(b.Revocations)),
	}
	for _, sc := range b.Issuances {
		digest, err := CredentialDigest(sc.Credential)
		if err != nil {
			return domain.Hash{}, err
		}
		payload.Issuances = append(payload.Issuances, blockIssuancePayload{
			CredentialHash: digest.Hex(),
			SignerID:       sc.SignerID,
			Signature:      hex.EncodeToString(sc.Signature),
		})
	}
	for _, rev := range b.Revocations {
		digest, err := RevocationDigest(rev)
		if err != nil {
			return domain.Hash{}, err
		}
		payload.Revocations = append(payload.Revocations, blockRevocationPayload{
			RevocationHash: digest.Hex(),
			Signature:      hex.EncodeToString(rev.Signature),
		})
	}
	return hashPayload(payload)
}

// requireUTF8 rejects text that encoding/json would rewrite before hashing.
func requireUTF8(fields ...string) error {
	for _, f := range fields {
		if !utf8.ValidString(f) {
			return fmt.Errorf("%w: %q", domain.ErrInvalidEncoding, f)
		}
	}
	return nil
}

func hashPayload(payload any) (domain.Hash, error) {
	canonical, err := CanonicalizeAny(payload)
	if err != nil {
		return domain.Hash{}, err
	}
	return Hash(canonical), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
