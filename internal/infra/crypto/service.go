package crypto

import "credledger/internal/domain"

// Service exposes the package's digest and signature helpers behind the
// usecase.CryptoService interface.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

func (s *Service) CredentialDigest(cred domain.Credential) (domain.Hash, error) {
	return CredentialDigest(cred)
}

func (s *Service) RevocationDigest(rev domain.Revocation) (domain.Hash, error) {
	return RevocationDigest(rev)
}

func (s *Service) BlockDigest(block domain.Block) (domain.Hash, error) {
	return BlockDigest(block)
}

func (s *Service) Verify(pubKey []byte, digest domain.Hash, sig []byte) bool {
	return Verify(pubKey, digest, sig)
}

func (s *Service) KeyID(pubKey []byte) string {
	return KeyID(pubKey)
}
