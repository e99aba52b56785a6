package db

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"credledger/internal/domain"
	"credledger/internal/usecase"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SnapshotRepository stores ledger snapshots in postgres. Blocks are written
// append-only: a stored height is never rewritten with a different hash.
type SnapshotRepository struct {
	db *gorm.DB
}

func NewSnapshotRepository(db *gorm.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

func (r *SnapshotRepository) Save(ctx context.Context, snap usecase.Snapshot) error {
	if r.db == nil {
		return errDBUnavailable
	}
	keys := make(map[string]usecase.KeyMaterial, len(snap.Keys))
	for _, material := range snap.Keys {
		keys[material.OwnerID] = material
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, issuer := range snap.Issuers {
			model := IssuerModel{
				ID:        issuer.ID,
				Position:  i,
				Name:      issuer.Name,
				PublicKey: copyBytes(issuer.PublicKey),
				KeyID:     issuer.KeyID,
				CreatedAt: issuer.CreatedAt,
				KeyAlg:    "ed25519",
			}
			if material, ok := keys[issuer.ID]; ok {
				model.PrivateKey = copyBytes(material.PrivateKey)
				if material.Alg != "" {
					model.KeyAlg = material.Alg
				}
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error; err != nil {
				return fmt.Errorf("save issuer %s: %w", issuer.ID, err)
			}
		}
		for i, subject := range snap.Subjects {
			model := SubjectModel{
				ID:        subject.ID,
				Position:  i,
				Name:      subject.Name,
				Surname:   subject.Surname,
				CreatedAt: subject.CreatedAt,
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error; err != nil {
				return fmt.Errorf("save subject %s: %w", subject.ID, err)
			}
		}
		for i, sc := range snap.Credentials {
			record, err := json.Marshal(sc)
			if err != nil {
				return err
			}
			model := CredentialModel{
				UUID:      sc.Credential.UUID,
				Position:  i,
				IssuerID:  sc.Credential.IssuerID,
				SubjectID: sc.Credential.SubjectID,
				Record:    record,
				ValidFrom: sc.Credential.ValidFrom,
			}
			if !sc.Credential.Indefinite() {
				validTo := sc.Credential.ValidTo
				model.ValidTo = &validTo
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error; err != nil {
				return fmt.Errorf("save credential %s: %w", sc.Credential.UUID, err)
			}
		}
		if err := saveBlocks(tx, snap.Blocks); err != nil {
			return err
		}
		return savePending(tx, snap.Pending)
	})
}

func saveBlocks(tx *gorm.DB, blocks []domain.Block) error {
	var stored []BlockModel
	if err := tx.Select("height", "hash").Order("height asc").Find(&stored).Error; err != nil {
		return err
	}
	if len(stored) > len(blocks) {
		return fmt.Errorf("stored chain has %d blocks, snapshot has %d", len(stored), len(blocks))
	}
	for _, model := range stored {
		block := blocks[model.Height]
		if !bytes.Equal(model.Hash, block.Hash[:]) {
			return fmt.Errorf("%w: stored block %d differs from snapshot", domain.ErrChainLinkMismatch, model.Height)
		}
	}
	for height := len(stored); height < len(blocks); height++ {
		block := blocks[height]
		record, err := json.Marshal(block)
		if err != nil {
			return err
		}
		model := BlockModel{
			Height:       height,
			Hash:         copyBytes(block.Hash[:]),
			PreviousHash: copyBytes(block.PreviousHash[:]),
			SignerID:     block.SignerID,
			Timestamp:    block.Timestamp,
			Record:       record,
		}
		if err := tx.Create(&model).Error; err != nil {
			return fmt.Errorf("save block %d: %w", height, err)
		}
	}
	return nil
}

func savePending(tx *gorm.DB, pending *domain.PendingBlock) error {
	if pending == nil {
		return tx.Where("id = ?", pendingBlockRowID).Delete(&PendingBlockModel{}).Error
	}
	record, err := json.Marshal(pending)
	if err != nil {
		return err
	}
	model := PendingBlockModel{
		ID:       pendingBlockRowID,
		SignerID: pending.SignerID,
		OpenedAt: pending.OpenedAt,
		Record:   record,
	}
	return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&model).Error
}

func (r *SnapshotRepository) Load(ctx context.Context) (usecase.Snapshot, error) {
	if r.db == nil {
		return usecase.Snapshot{}, errDBUnavailable
	}
	db := r.db.WithContext(ctx)

	var issuers []IssuerModel
	if err := db.Order("position asc").Find(&issuers).Error; err != nil {
		return usecase.Snapshot{}, err
	}
	var subjects []SubjectModel
	if err := db.Order("position asc").Find(&subjects).Error; err != nil {
		return usecase.Snapshot{}, err
	}
	var credentials []CredentialModel
	if err := db.Order("position asc").Find(&credentials).Error; err != nil {
		return usecase.Snapshot{}, err
	}
	var blocks []BlockModel
	if err := db.Order("height asc").Find(&blocks).Error; err != nil {
		return usecase.Snapshot{}, err
	}
	var pending []PendingBlockModel
	if err := db.Where("id = ?", pendingBlockRowID).Limit(1).Find(&pending).Error; err != nil {
		return usecase.Snapshot{}, err
	}
	if len(issuers) == 0 && len(subjects) == 0 && len(blocks) == 0 && len(pending) == 0 {
		return usecase.Snapshot{}, domain.ErrNotFound
	}

	snap := usecase.Snapshot{}
	for _, model := range issuers {
		snap.Issuers = append(snap.Issuers, domain.Issuer{
			ID:        model.ID,
			Name:      model.Name,
			PublicKey: copyBytes(model.PublicKey),
			KeyID:     model.KeyID,
			CreatedAt: model.CreatedAt.UTC(),
		})
		if len(model.PrivateKey) > 0 {
			snap.Keys = append(snap.Keys, usecase.KeyMaterial{
				OwnerID:    model.ID,
				PrivateKey: copyBytes(model.PrivateKey),
				PublicKey:  copyBytes(model.PublicKey),
				Alg:        model.KeyAlg,
				CreatedAt:  model.CreatedAt.UTC(),
			})
		}
	}
	for _, model := range subjects {
		snap.Subjects = append(snap.Subjects, domain.Subject{
			ID:        model.ID,
			Name:      model.Name,
			Surname:   model.Surname,
			CreatedAt: model.CreatedAt.UTC(),
		})
	}
	for _, model := range credentials {
		var sc domain.SignedCredential
		if err := json.Unmarshal(model.Record, &sc); err != nil {
			return usecase.Snapshot{}, fmt.Errorf("decode credential %s: %w", model.UUID, err)
		}
		snap.Credentials = append(snap.Credentials, sc)
	}
	for _, model := range blocks {
		var block domain.Block
		if err := json.Unmarshal(model.Record, &block); err != nil {
			return usecase.Snapshot{}, fmt.Errorf("decode block %d: %w", model.Height, err)
		}
		snap.Blocks = append(snap.Blocks, block)
	}
	if len(pending) == 1 {
		var block domain.PendingBlock
		if err := json.Unmarshal(pending[0].Record, &block); err != nil {
			return usecase.Snapshot{}, fmt.Errorf("decode pending block: %w", err)
		}
		snap.Pending = &block
	}
	return snap, nil
}

func copyBytes(in []byte) []byte {
	if in == nil {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
