package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"credledger/internal/domain"
)

// Timestamps are kept at microsecond precision so every persisted form
// reproduces the signed bytes.
const timePrecision = time.Microsecond

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC().Truncate(timePrecision)
}

// Years outside 1..9999 have no RFC 3339 form.
const (
	minYear = 1
	maxYear = 9999
)

func checkYear(field string, t time.Time) error {
	if t.IsZero() {
		return nil
	}
	if y := t.Year(); y < minYear || y > maxYear {
		return fmt.Errorf("%w: %s year %d is outside %d..%d", domain.ErrInvalidRange, field, y, minYear, maxYear)
	}
	return nil
}

func checkText(fields map[string]string) error {
	for name, value := range fields {
		if !utf8.ValidString(value) {
			return fmt.Errorf("%w: %s", domain.ErrInvalidEncoding, name)
		}
	}
	return nil
}

// CreateCredential builds an unsigned credential with a fresh uuid. A zero
// validTo leaves the credential open-ended.
func CreateCredential(attr domain.Attribute, issuerID, subjectID string, validFrom, validTo time.Time) (domain.Credential, error) {
	if attr.Name == "" {
		return domain.Credential{}, errors.New("attribute name is required")
	}
	if issuerID == "" {
		return domain.Credential{}, errors.New("issuer id is required")
	}
	if subjectID == "" {
		return domain.Credential{}, errors.New("subject id is required")
	}
	if validFrom.IsZero() {
		return domain.Credential{}, fmt.Errorf("%w: valid_from is required", domain.ErrInvalidRange)
	}
	if err := checkText(map[string]string{
		"attribute name":        attr.Name,
		"attribute value":       attr.Value,
		"attribute description": attr.Description,
		"issuer id":             issuerID,
		"subject id":            subjectID,
	}); err != nil {
		return domain.Credential{}, err
	}
	from := normalizeTime(validFrom)
	to := normalizeTime(validTo)
	if err := checkYear("valid_from", from); err != nil {
		return domain.Credential{}, err
	}
	if err := checkYear("valid_to", to); err != nil {
		return domain.Credential{}, err
	}
	if !to.IsZero() && from.After(to) {
		return domain.Credential{}, fmt.Errorf("%w: valid_from %s is after valid_to %s", domain.ErrInvalidRange,
			from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return domain.Credential{
		UUID:      uuid.NewString(),
		Attribute: attr,
		IssuerID:  issuerID,
		SubjectID: subjectID,
		ValidFrom: from,
		ValidTo:   to,
	}, nil
}

// SignCredential signs the canonical credential digest with the issuer's key.
// Only the issuer named on the credential may sign it.
func SignCredential(ctx context.Context, cs CryptoService, keys KeyManager, cred domain.Credential, issuer domain.Issuer) (domain.SignedCredential, error) {
	if cs == nil || keys == nil {
		return domain.SignedCredential{}, errors.New("crypto service and key manager are required")
	}
	if cred.IssuerID != issuer.ID {
		return domain.SignedCredential{}, fmt.Errorf("%w: credential issued by %s cannot be signed by %s",
			domain.ErrUnauthorized, cred.IssuerID, issuer.ID)
	}
	digest, err := cs.CredentialDigest(cred)
	if err != nil {
		return domain.SignedCredential{}, err
	}
	sig, err := keys.Sign(ctx, issuer.ID, digest)
	if err != nil {
		return domain.SignedCredential{}, fmt.Errorf("sign credential: %w", err)
	}
	if !cs.Verify(issuer.PublicKey, digest, sig) {
		return domain.SignedCredential{}, fmt.Errorf("%w: key manager signature does not match issuer %s",
			domain.ErrUnauthorized, issuer.ID)
	}
	return domain.SignedCredential{
		Credential: cred,
		SignerID:   issuer.ID,
		Signature:  sig,
	}, nil
}

// SignRevocation produces the issuer-signed event withdrawing signed.
func SignRevocation(ctx context.Context, cs CryptoService, keys KeyManager, signed domain.SignedCredential, issuer domain.Issuer, reason string) (domain.Revocation, error) {
	if cs == nil || keys == nil {
		return domain.Revocation{}, errors.New("crypto service and key manager are required")
	}
	if signed.Credential.IssuerID != issuer.ID {
		return domain.Revocation{}, fmt.Errorf("%w: credential issued by %s cannot be revoked by %s",
			domain.ErrUnauthorized, signed.Credential.IssuerID, issuer.ID)
	}
	if !utf8.ValidString(reason) {
		return domain.Revocation{}, fmt.Errorf("%w: revocation reason", domain.ErrInvalidEncoding)
	}
	credHash, err := cs.CredentialDigest(signed.Credential)
	if err != nil {
		return domain.Revocation{}, err
	}
	rev := domain.Revocation{
		CredentialUUID: signed.Credential.UUID,
		CredentialHash: credHash,
		SignerID:       issuer.ID,
		Reason:         reason,
	}
	digest, err := cs.RevocationDigest(rev)
	if err != nil {
		return domain.Revocation{}, err
	}
	sig, err := keys.Sign(ctx, issuer.ID, digest)
	if err != nil {
		return domain.Revocation{}, fmt.Errorf("sign revocation: %w", err)
	}
	rev.Signature = sig
	return rev, nil
}

// checkIssuance re-verifies a stored issuance against the issuer's
// registered key.
func checkIssuance(cs CryptoService, issuers IssuerDirectory, sc domain.SignedCredential) error {
	if sc.SignerID != sc.Credential.IssuerID {
		return fmt.Errorf("signer %s is not issuer %s", sc.SignerID, sc.Credential.IssuerID)
	}
	if len(sc.Signature) == 0 {
		return errors.New("credential is unsigned")
	}
	pubKey, ok := issuers.PublicKey(sc.SignerID)
	if !ok {
		return fmt.Errorf("issuer %s is not registered", sc.SignerID)
	}
	digest, err := cs.CredentialDigest(sc.Credential)
	if err != nil {
		return err
	}
	if !cs.Verify(pubKey, digest, sc.Signature) {
		return errors.New("credential signature verification failed")
	}
	return nil
}

// checkRevocation verifies rev against the issuance it withdraws.
func checkRevocation(cs CryptoService, issuers IssuerDirectory, rev domain.Revocation, issued domain.SignedCredential) error {
	if len(rev.Signature) == 0 {
		return errors.New("revocation is unsigned")
	}
	if rev.SignerID != issued.Credential.IssuerID {
		return fmt.Errorf("revocation signer %s is not issuer %s", rev.SignerID, issued.Credential.IssuerID)
	}
	credHash, err := cs.CredentialDigest(issued.Credential)
	if err != nil {
		return err
	}
	if rev.CredentialHash != credHash {
		return errors.New("revocation references a different credential digest")
	}
	pubKey, ok := issuers.PublicKey(rev.SignerID)
	if !ok {
		return fmt.Errorf("issuer %s is not registered", rev.SignerID)
	}
	digest, err := cs.RevocationDigest(rev)
	if err != nil {
		return err
	}
	if !cs.Verify(pubKey, digest, rev.Signature) {
		return errors.New("revocation signature verification failed")
	}
	return nil
}
