package filestore

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"credledger/internal/domain"
	"credledger/internal/infra/crypto"
	"credledger/internal/usecase"
)

const (
	BlockchainFile  = "blockchain.json"
	PendingFile     = "block.json"
	CredentialsFile = "credentials.json"
	IssuersFile     = "issuers.json"
	SubjectsFile    = "subjects.json"
)

var ErrAlreadyInitialized = errors.New("ledger directory already initialized")

// Store keeps a ledger snapshot as a set of JSON files in one directory.
// Issuer private keys are stored as hex seeds next to the issuer record.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	if dir == "" {
		dir = "."
	}
	return &Store{dir: dir}
}

func (s *Store) Dir() string {
	return s.dir
}

type blockchainFile struct {
	Blocks []domain.Block `json:"blocks"`
}

type issuerEntry struct {
	Issuer     domain.Issuer `json:"issuer"`
	PrivateKey string        `json:"private_key"`
	KeyCreated time.Time     `json:"key_created_at,omitempty"`
}

// Init writes an empty ledger. It refuses to overwrite an existing chain
// unless force is set.
func (s *Store) Init(ctx context.Context, force bool) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	if !force {
		if _, err := os.Stat(s.path(BlockchainFile)); err == nil {
			return ErrAlreadyInitialized
		}
	}
	return s.Save(ctx, usecase.Snapshot{})
}

func (s *Store) Save(_ context.Context, snap usecase.Snapshot) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	keys := make(map[string]usecase.KeyMaterial, len(snap.Keys))
	for _, material := range snap.Keys {
		keys[material.OwnerID] = material
	}
	issuers := make([]issuerEntry, 0, len(snap.Issuers))
	for _, issuer := range snap.Issuers {
		entry := issuerEntry{Issuer: issuer}
		if material, ok := keys[issuer.ID]; ok {
			entry.PrivateKey = hex.EncodeToString(material.PrivateKey)
			entry.KeyCreated = material.CreatedAt
		}
		issuers = append(issuers, entry)
	}

	blocks := snap.Blocks
	if blocks == nil {
		blocks = []domain.Block{}
	}
	credentials := snap.Credentials
	if credentials == nil {
		credentials = []domain.SignedCredential{}
	}
	subjects := snap.Subjects
	if subjects == nil {
		subjects = []domain.Subject{}
	}

	files := []struct {
		name  string
		value any
	}{
		{name: IssuersFile, value: issuers},
		{name: SubjectsFile, value: subjects},
		{name: CredentialsFile, value: credentials},
		{name: PendingFile, value: snap.Pending},
		{name: BlockchainFile, value: blockchainFile{Blocks: blocks}},
	}
	for _, file := range files {
		if err := s.writeJSON(file.name, file.value); err != nil {
			return err
		}
	}
	return nil
}

// Load reads every file back. It returns domain.ErrNotFound when the
// directory has not been initialized.
func (s *Store) Load(_ context.Context) (usecase.Snapshot, error) {
	var chain blockchainFile
	if err := s.readJSON(BlockchainFile, &chain); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return usecase.Snapshot{}, fmt.Errorf("%s: %w", s.path(BlockchainFile), domain.ErrNotFound)
		}
		return usecase.Snapshot{}, err
	}
	snap := usecase.Snapshot{Blocks: chain.Blocks}

	var issuers []issuerEntry
	if err := s.readOptional(IssuersFile, &issuers); err != nil {
		return usecase.Snapshot{}, err
	}
	for _, entry := range issuers {
		snap.Issuers = append(snap.Issuers, entry.Issuer)
		if entry.PrivateKey == "" {
			continue
		}
		seed, err := hex.DecodeString(entry.PrivateKey)
		if err != nil {
			return usecase.Snapshot{}, fmt.Errorf("issuer %s: invalid private key encoding: %w", entry.Issuer.ID, err)
		}
		snap.Keys = append(snap.Keys, usecase.KeyMaterial{
			OwnerID:    entry.Issuer.ID,
			PrivateKey: seed,
			PublicKey:  entry.Issuer.PublicKey,
			Alg:        crypto.Alg,
			CreatedAt:  entry.KeyCreated,
		})
	}
	if err := s.readOptional(SubjectsFile, &snap.Subjects); err != nil {
		return usecase.Snapshot{}, err
	}
	if err := s.readOptional(CredentialsFile, &snap.Credentials); err != nil {
		return usecase.Snapshot{}, err
	}
	if err := s.readOptional(PendingFile, &snap.Pending); err != nil {
		return usecase.Snapshot{}, err
	}
	return snap, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *Store) readJSON(name string, out any) error {
	raw, err := os.ReadFile(s.path(name))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

func (s *Store) readOptional(name string, out any) error {
	err := s.readJSON(name, out)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// writeJSON replaces name atomically through a temporary file.
func (s *Store) writeJSON(name string, value any) error {
	raw, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(raw, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path(name))
}
