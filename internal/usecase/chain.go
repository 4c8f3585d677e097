package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"veriledger/internal/domain"
	cryptoinfra "veriledger/internal/infra/crypto"
	"veriledger/internal/infra/merkle"
	"veriledger/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultBlockSize  = 10
	defaultPageSize   = 100
	maxReportedErrors = 100
	truncationMarker  = "additional errors truncated"
)

// ChainBuilder groups unblocked events into hash-linked blocks and scans
// the chain for integrity violations. Blocks are immutable once committed.
type ChainBuilder struct {
	Events    domain.EventRepository
	Blocks    domain.BlockRepository
	BlockSize int
	PageSize  int
	Metrics   *metrics.Metrics
	Log       zerolog.Logger
	Now       func() time.Time
}

// BuildBlock commits one block over the oldest unblocked events. With no
// eligible events it is a no-op and returns nil, nil.
func (b *ChainBuilder) BuildBlock(ctx context.Context) (*domain.Block, error) {
	size := b.BlockSize
	if size <= 0 {
		size = defaultBlockSize
	}
	events, err := b.Events.ListUnblocked(ctx, size)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	leaves := make([]string, 0, len(events))
	eventIDs := make([]string, 0, len(events))
	for _, ev := range events {
		leaf := ev.LeafHash
		if leaf == "" {
			leaf, err = cryptoinfra.EventLeafHash(ev.Type, ev.Payload, ev.Signer, ev.Signature)
			if err != nil {
				return nil, err
			}
		}
		leaves = append(leaves, leaf)
		eventIDs = append(eventIDs, ev.ID)
	}
	tree, err := merkle.New(leaves)
	if err != nil {
		return nil, err
	}

	latest, err := b.Blocks.Latest(ctx)
	if err != nil {
		return nil, err
	}
	index := int64(1)
	prevHash := domain.GenesisHash
	if latest != nil {
		index = latest.Index + 1
		prevHash = latest.Hash
	}

	now := b.now().UTC()
	payload, err := cryptoinfra.Serialize(map[string]any{
		"index":       index,
		"prev_hash":   prevHash,
		"timestamp":   now.UnixMilli(),
		"event_ids":   eventIDs,
		"merkle_root": tree.Root(),
	})
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(payload)

	block := domain.Block{
		ID:               uuid.NewString(),
		Index:            index,
		PrevHash:         prevHash,
		Hash:             hex.EncodeToString(sum[:]),
		CanonicalPayload: payload,
		MerkleRoot:       tree.Root(),
		EventIDs:         eventIDs,
		CreatedAt:        now,
	}
	created, err := b.Blocks.CreateWithEvents(ctx, block)
	if err != nil {
		return nil, err
	}
	if b.Metrics != nil {
		b.Metrics.BlocksBuilt.Inc()
	}
	b.Log.Info().Int64("index", created.Index).Int("events", len(eventIDs)).Msg("block committed")
	return &created, nil
}

// VerifyChain streams the whole chain page by page, recomputing each
// block's payload hash and checking the previous-hash link and index
// contiguity. Findings are collected as messages, capped at 100 plus a
// truncation marker; they never abort the scan.
func (b *ChainBuilder) VerifyChain(ctx context.Context) (domain.ChainReport, error) {
	pageSize := b.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	report := domain.ChainReport{Valid: true, Errors: []string{}}
	truncated := false
	addError := func(msg string) {
		report.Valid = false
		if truncated {
			return
		}
		if len(report.Errors) >= maxReportedErrors {
			report.Errors = append(report.Errors, truncationMarker)
			truncated = true
			return
		}
		report.Errors = append(report.Errors, msg)
	}

	var (
		prevHash  string
		prevIndex int64
		fromIndex int64 = 1
	)
	for {
		blocks, err := b.Blocks.Page(ctx, fromIndex, pageSize)
		if err != nil {
			return domain.ChainReport{}, err
		}
		if len(blocks) == 0 {
			break
		}
		for _, block := range blocks {
			report.Count++

			sum := sha256.Sum256(block.CanonicalPayload)
			if hex.EncodeToString(sum[:]) != block.Hash {
				addError(fmt.Sprintf("block %d: stored hash does not match canonical payload", block.Index))
			}
			if report.Count == 1 {
				if block.Index != 1 {
					addError(fmt.Sprintf("block %d: chain does not start at index 1", block.Index))
				}
				if block.PrevHash != domain.GenesisHash {
					addError(fmt.Sprintf("block %d: genesis prev_hash is not the zero sentinel", block.Index))
				}
			} else {
				if block.Index != prevIndex+1 {
					addError(fmt.Sprintf("block %d: index not contiguous after %d", block.Index, prevIndex))
				}
				if block.PrevHash != prevHash {
					addError(fmt.Sprintf("block %d: prev_hash does not match hash of block %d", block.Index, prevIndex))
				}
			}
			prevHash = block.Hash
			prevIndex = block.Index
		}
		if len(blocks) < pageSize {
			break
		}
		fromIndex = prevIndex + 1
	}
	return report, nil
}

func (b *ChainBuilder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}
