package soft

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sort"
	"sync"
	"time"

	"credledger/internal/domain"
	"credledger/internal/infra/crypto"
	"credledger/internal/usecase"
)

// Manager keeps issuer private keys in process memory, indexed by issuer id.
type Manager struct {
	mu      sync.RWMutex
	keys    map[string]ed25519.PrivateKey
	created map[string]time.Time
	clock   usecase.Clock
}

func NewManager(keys map[string]ed25519.PrivateKey) *Manager {
	keyMap := make(map[string]ed25519.PrivateKey, len(keys))
	created := make(map[string]time.Time, len(keys))
	now := time.Now().UTC()
	for owner, key := range keys {
		keyMap[owner] = append(ed25519.PrivateKey(nil), key...)
		created[owner] = now
	}
	return &Manager{keys: keyMap, created: created, clock: time.Now}
}

func (m *Manager) Generate(_ context.Context, ownerID string) (ed25519.PublicKey, error) {
	if ownerID == "" {
		return nil, errors.New("owner id is required")
	}
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = make(map[string]ed25519.PrivateKey)
		m.created = make(map[string]time.Time)
	}
	if _, exists := m.keys[ownerID]; exists {
		return nil, errors.New("key already exists for owner")
	}
	m.keys[ownerID] = privKey
	m.created[ownerID] = m.now()
	return pubKey, nil
}

func (m *Manager) Sign(_ context.Context, ownerID string, digest domain.Hash) ([]byte, error) {
	key := m.lookupKey(ownerID)
	if key == nil {
		return nil, errors.New("private key not found")
	}
	return crypto.Sign(key, digest)
}

// Export returns the seed of every held key, ordered by owner id.
func (m *Manager) Export(_ context.Context) ([]usecase.KeyMaterial, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]usecase.KeyMaterial, 0, len(m.keys))
	for owner, key := range m.keys {
		out = append(out, usecase.KeyMaterial{
			OwnerID:    owner,
			PrivateKey: append([]byte(nil), key.Seed()...),
			PublicKey:  append([]byte(nil), key.Public().(ed25519.PublicKey)...),
			Alg:        crypto.Alg,
			CreatedAt:  m.created[owner],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OwnerID < out[j].OwnerID })
	return out, nil
}

// Import loads persisted key material. Entries whose public key does not
// match the private half are rejected.
func (m *Manager) Import(_ context.Context, materials []usecase.KeyMaterial) error {
	parsed := make(map[string]ed25519.PrivateKey, len(materials))
	for _, material := range materials {
		if material.OwnerID == "" {
			return errors.New("owner id is required")
		}
		if material.Alg != "" && material.Alg != crypto.Alg {
			return errors.New("unsupported key algorithm")
		}
		key, err := parsePrivateKey(material.PrivateKey)
		if err != nil {
			return err
		}
		if len(material.PublicKey) > 0 && !key.Public().(ed25519.PublicKey).Equal(ed25519.PublicKey(material.PublicKey)) {
			return errors.New("public key does not match private key")
		}
		parsed[material.OwnerID] = key
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = make(map[string]ed25519.PrivateKey)
		m.created = make(map[string]time.Time)
	}
	for _, material := range materials {
		m.keys[material.OwnerID] = parsed[material.OwnerID]
		created := material.CreatedAt
		if created.IsZero() {
			created = m.now()
		}
		m.created[material.OwnerID] = created
	}
	return nil
}

func (m *Manager) lookupKey(ownerID string) ed25519.PrivateKey {
	if m == nil || ownerID == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keys[ownerID]
}

func (m *Manager) now() time.Time {
	if m.clock == nil {
		return time.Now().UTC()
	}
	return m.clock().UTC()
}

func parsePrivateKey(raw []byte) (ed25519.PrivateKey, error) {
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return append(ed25519.PrivateKey(nil), raw...), nil
	default:
		return nil, errors.New("invalid ed25519 private key length")
	}
}
