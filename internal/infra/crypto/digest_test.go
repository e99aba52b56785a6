package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"credledger/internal/domain"
)

func sampleCredential() domain.Credential {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return domain.Credential{
		UUID:      "6f1c2d4e-8b2a-4c3e-9f10-2a3b4c5d6e7f",
		Attribute: domain.Attribute{Name: "age_over_18", Value: "true"},
		IssuerID:  "issuer-gov",
		SubjectID: "subject-alice",
		ValidFrom: from,
		ValidTo:   from.Add(365 * 24 * time.Hour),
	}
}

func TestCredentialDigest_Deterministic(t *testing.T) {
	cred := sampleCredential()
	first, err := CredentialDigest(cred)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	second, err := CredentialDigest(cred)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if first != second {
		t.Fatal("expected identical digests for identical credentials")
	}

	// Same instant expressed in another zone.
	shifted := cred
	shifted.ValidFrom = cred.ValidFrom.In(time.FixedZone("CET", 3600))
	third, err := CredentialDigest(shifted)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if third != first {
		t.Fatal("expected zone-independent digest")
	}
}

func TestCredentialDigest_SensitiveToEveryField(t *testing.T) {
	base := sampleCredential()
	baseDigest, err := CredentialDigest(base)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *domain.Credential)
	}{
		{name: "uuid", mutate: func(c *domain.Credential) { c.UUID = "other" }},
		{name: "attribute name", mutate: func(c *domain.Credential) { c.Attribute.Name = "age_over_21" }},
		{name: "attribute value", mutate: func(c *domain.Credential) { c.Attribute.Value = "false" }},
		{name: "attribute description", mutate: func(c *domain.Credential) { c.Attribute.Description = "x" }},
		{name: "issuer", mutate: func(c *domain.Credential) { c.IssuerID = "issuer-other" }},
		{name: "subject", mutate: func(c *domain.Credential) { c.SubjectID = "subject-bob" }},
		{name: "valid from", mutate: func(c *domain.Credential) { c.ValidFrom = c.ValidFrom.Add(time.Microsecond) }},
		{name: "valid to", mutate: func(c *domain.Credential) { c.ValidTo = time.Time{} }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cred := base
			tc.mutate(&cred)
			digest, err := CredentialDigest(cred)
			if err != nil {
				t.Fatalf("digest: %v", err)
			}
			if digest == baseDigest {
				t.Fatalf("expected digest change after mutating %s", tc.name)
			}
		})
	}
}

func TestDigests_RejectInvalidUTF8(t *testing.T) {
	first := sampleCredential()
	first.Attribute.Value = "\xff"
	second := sampleCredential()
	second.Attribute.Value = "\xfe"
	for _, cred := range []domain.Credential{first, second} {
		if _, err := CredentialDigest(cred); !errors.Is(err, domain.ErrInvalidEncoding) {
			t.Fatalf("expected invalid encoding for %q, got %v", cred.Attribute.Value, err)
		}
	}

	// The replacement character itself is valid text and hashes normally.
	replaced := sampleCredential()
	replaced.Attribute.Value = "\uFFFD"
	if _, err := CredentialDigest(replaced); err != nil {
		t.Fatalf("digest: %v", err)
	}

	rev := domain.Revocation{CredentialUUID: first.UUID, SignerID: "issuer-gov", Reason: "\xff"}
	if _, err := RevocationDigest(rev); !errors.Is(err, domain.ErrInvalidEncoding) {
		t.Fatalf("expected invalid encoding for reason, got %v", err)
	}
	rev.Reason = ""
	rev.SignerID = "\xfe"
	if _, err := RevocationDigest(rev); !errors.Is(err, domain.ErrInvalidEncoding) {
		t.Fatalf("expected invalid encoding for signer, got %v", err)
	}
	if _, err := BlockDigest(domain.Block{SignerID: "\xff"}); !errors.Is(err, domain.ErrInvalidEncoding) {
		t.Fatalf("expected invalid encoding for block signer, got %v", err)
	}
}

func TestBlockDigest_BindsRecordsAndLink(t *testing.T) {
	cred := sampleCredential()
	block := domain.Block{
		Issuances: []domain.SignedCredential{{
			Credential: cred,
			SignerID:   cred.IssuerID,
			Signature:  []byte{1, 2, 3},
		}},
		Revocations: []domain.Revocation{{
			CredentialUUID: "older",
			SignerID:       cred.IssuerID,
			Signature:      []byte{4, 5, 6},
		}},
		Timestamp: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC),
		SignerID:  cred.IssuerID,
	}
	base, err := BlockDigest(block)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}

	mutations := map[string]func(b *domain.Block){
		"previous hash":     func(b *domain.Block) { b.PreviousHash[0] ^= 0x01 },
		"timestamp":         func(b *domain.Block) { b.Timestamp = b.Timestamp.Add(time.Second) },
		"signer":            func(b *domain.Block) { b.SignerID = "someone-else" },
		"credential value":  func(b *domain.Block) { b.Issuances[0].Credential.Attribute.Value = "false" },
		"credential sig":    func(b *domain.Block) { b.Issuances[0].Signature[0] ^= 0x01 },
		"revocation reason": func(b *domain.Block) { b.Revocations[0].Reason = "lost" },
		"revocation sig":    func(b *domain.Block) { b.Revocations[0].Signature[0] ^= 0x01 },
		"dropped issuance":  func(b *domain.Block) { b.Issuances = nil },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			mutated := block.Clone()
			mutate(&mutated)
			digest, err := BlockDigest(mutated)
			if err != nil {
				t.Fatalf("digest: %v", err)
			}
			if digest == base {
				t.Fatalf("expected block digest change after mutating %s", name)
			}
		})
	}
}

func TestVerify_RejectsWithoutPanicking(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	otherPub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	digest := Hash([]byte("payload"))
	sig, err := Sign(priv, digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !Verify(pub, digest, sig) {
		t.Fatal("expected genuine signature to verify")
	}

	corrupted := append([]byte(nil), sig...)
	corrupted[10] ^= 0xff
	otherDigest := Hash([]byte("payload!"))

	tests := []struct {
		name   string
		pub    []byte
		digest domain.Hash
		sig    []byte
	}{
		{name: "wrong key", pub: otherPub, digest: digest, sig: sig},
		{name: "wrong digest", pub: pub, digest: otherDigest, sig: sig},
		{name: "corrupted signature", pub: pub, digest: digest, sig: corrupted},
		{name: "truncated signature", pub: pub, digest: digest, sig: sig[:32]},
		{name: "empty signature", pub: pub, digest: digest, sig: nil},
		{name: "empty key", pub: nil, digest: digest, sig: sig},
		{name: "short key", pub: pub[:16], digest: digest, sig: sig},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if Verify(tc.pub, tc.digest, tc.sig) {
				t.Fatal("expected verification failure")
			}
		})
	}
}

func TestSign_RejectsMalformedKey(t *testing.T) {
	if _, err := Sign(ed25519.PrivateKey([]byte{1, 2, 3}), Hash(nil)); err == nil {
		t.Fatal("expected error for malformed private key")
	}
}
