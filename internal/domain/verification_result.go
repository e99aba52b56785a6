package domain

import "time"

type VerificationStatus string

const (
	VerificationValid    VerificationStatus = "valid"
	VerificationRevoked  VerificationStatus = "revoked"
	VerificationNotFound VerificationStatus = "not_found"
	VerificationExpired  VerificationStatus = "expired"
	VerificationTampered VerificationStatus = "tampered"
)

// VerificationResult describes a credential's status as derived from chain
// history at CheckedAt. Block indexes are -1 when not applicable.
type VerificationResult struct {
	CredentialUUID string             `json:"credential_uuid"`
	Status         VerificationStatus `json:"status"`
	IssuedInBlock  int                `json:"issued_in_block"`
	RevokedInBlock int                `json:"revoked_in_block"`
	Reason         string             `json:"reason,omitempty"`
	ValidFrom      *time.Time         `json:"valid_from,omitempty"`
	ValidTo        *time.Time         `json:"valid_to,omitempty"`
	CheckedAt      time.Time          `json:"checked_at"`
}
