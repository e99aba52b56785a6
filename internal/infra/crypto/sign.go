package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"credledger/internal/domain"
)

const Alg = "ed25519"

func Hash(input []byte) domain.Hash {
	return domain.Hash(sha256.Sum256(input))
}

func Sign(key ed25519.PrivateKey, digest domain.Hash) ([]byte, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid ed25519 private key length")
	}
	return ed25519.Sign(key, digest[:]), nil
}

// Verify reports whether sig is pubKey's signature over digest. Malformed
// keys and signatures yield false.
func Verify(pubKey []byte, digest domain.Hash, sig []byte) bool {
	if len(pubKey) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), digest[:], sig)
}

// KeyID derives a stable identifier for a public key.
func KeyID(pubKey []byte) string {
	sum := sha256.Sum256(pubKey)
	return hex.EncodeToString(sum[:])
}
