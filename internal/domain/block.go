package domain

import (
	"context"
	"time"
)

// GenesisHash is the prev_hash sentinel of the first block and the
// prestate root of the first batch: 32 zero bytes, hex encoded.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Block is an immutable, hash-linked container of events. CanonicalPayload
// is the exact serialized body the hash was computed over; verification
// recomputes SHA-256 of it rather than re-serializing.
type Block struct {
	ID               string
	Index            int64
	PrevHash         string
	Hash             string
	CanonicalPayload []byte
	MerkleRoot       string
	EventIDs         []string
	CreatedAt        time.Time
}

type BlockRepository interface {
	// CreateWithEvents persists the block and assigns the block to its
	// events in one transaction.
	CreateWithEvents(ctx context.Context, block Block) (Block, error)
	Latest(ctx context.Context) (*Block, error)
	// Page returns blocks ordered by index ascending, starting at the
	// given index (inclusive), at most limit rows.
	Page(ctx context.Context, fromIndex int64, limit int) ([]Block, error)
	Count(ctx context.Context) (int64, error)
}

// ChainReport is the outcome of a full-chain verification scan. Integrity
// violations are data, not errors: the scan never fails on findings.
type ChainReport struct {
	Valid  bool     `json:"valid"`
	Count  int64    `json:"count"`
	Errors []string `json:"errors"`
}
