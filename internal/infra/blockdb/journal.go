package blockdb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"credledger/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Journal is an append-only record of finalized blocks keyed by height.
type Journal struct {
	Pool *pgxpool.Pool
}

func NewJournal(pool *pgxpool.Pool) *Journal {
	return &Journal{Pool: pool}
}

// AppendBlock records block at height. Replaying the same block is a no-op;
// a different block at a recorded height is rejected.
func (j *Journal) AppendBlock(ctx context.Context, height int, block domain.Block) error {
	if j == nil || j.Pool == nil {
		return fmt.Errorf("db not configured")
	}
	payload, err := json.Marshal(block)
	if err != nil {
		return err
	}
	query := `
INSERT INTO block_journal (height, hash, previous_hash, signer_id, block_time, issuances, revocations, block_json)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (height) DO NOTHING
RETURNING height`
	row := j.Pool.QueryRow(ctx, query,
		height,
		block.Hash[:],
		block.PreviousHash[:],
		block.SignerID,
		block.Timestamp,
		len(block.Issuances),
		len(block.Revocations),
		payload,
	)
	var inserted int
	if err := row.Scan(&inserted); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		var existing []byte
		if err := j.Pool.QueryRow(ctx, `SELECT hash FROM block_journal WHERE height = $1`, height).Scan(&existing); err != nil {
			return err
		}
		if !bytes.Equal(existing, block.Hash[:]) {
			return fmt.Errorf("%w: journal already holds a different block at height %d", domain.ErrChainLinkMismatch, height)
		}
	}
	return nil
}

// Blocks returns every journaled block in height order.
func (j *Journal) Blocks(ctx context.Context) ([]domain.Block, error) {
	if j == nil || j.Pool == nil {
		return nil, fmt.Errorf("db not configured")
	}
	rows, err := j.Pool.Query(ctx, `SELECT height, block_json FROM block_journal ORDER BY height ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Block
	for rows.Next() {
		var height int
		var payload []byte
		if err := rows.Scan(&height, &payload); err != nil {
			return nil, err
		}
		if height != len(out) {
			return nil, fmt.Errorf("journal gap at height %d", len(out))
		}
		var block domain.Block
		if err := json.Unmarshal(payload, &block); err != nil {
			return nil, fmt.Errorf("decode block %d: %w", height, err)
		}
		out = append(out, block)
	}
	return out, rows.Err()
}

// Sync brings the journal up to chain. Journaled blocks must be a prefix of
// chain; the missing tail is appended. It returns the number of blocks
// written.
func (j *Journal) Sync(ctx context.Context, chain []domain.Block) (int, error) {
	journaled, err := j.Blocks(ctx)
	if err != nil {
		return 0, err
	}
	from, err := missingFrom(journaled, chain)
	if err != nil {
		return 0, err
	}
	for h := from; h < len(chain); h++ {
		if err := j.AppendBlock(ctx, h, chain[h]); err != nil {
			return h - from, err
		}
	}
	return len(chain) - from, nil
}

// missingFrom returns the first chain height absent from journaled.
func missingFrom(journaled, chain []domain.Block) (int, error) {
	if len(journaled) > len(chain) {
		return 0, fmt.Errorf("%w: journal holds %d blocks, chain %d", domain.ErrChainLinkMismatch, len(journaled), len(chain))
	}
	for h, block := range journaled {
		if block.Hash != chain[h].Hash {
			return 0, fmt.Errorf("%w: journal diverges from chain at height %d", domain.ErrChainLinkMismatch, h)
		}
	}
	return len(journaled), nil
}
