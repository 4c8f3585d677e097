package usecase

import (
	"context"
	"fmt"
	"time"

	"veriledger/internal/domain"
	cryptoinfra "veriledger/internal/infra/crypto"
	"veriledger/internal/infra/merkle"
	"veriledger/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventSignatureVerifier validates the HMAC signature on a submission.
type EventSignatureVerifier interface {
	Verify(eventType string, payload map[string]any, signer, signature string) error
}

// Ledger ingests signed events and serves lookups and inclusion proofs.
type Ledger struct {
	Events   domain.EventRepository
	Batches  domain.BatchRepository
	Verifier EventSignatureVerifier
	Metrics  *metrics.Metrics
	Log      zerolog.Logger
	Now      func() time.Time
}

type SubmitEventRequest struct {
	Type        string
	Payload     map[string]any
	Commitments []string
	Nullifiers  []string
	Signer      string
	Signature   string
}

func (l *Ledger) Submit(ctx context.Context, req SubmitEventRequest) (domain.Event, error) {
	if req.Type == "" || req.Signer == "" || req.Signature == "" {
		return domain.Event{}, fmt.Errorf("%w: type, signer and signature are required", domain.ErrSignatureInvalid)
	}
	if err := l.Verifier.Verify(req.Type, req.Payload, req.Signer, req.Signature); err != nil {
		l.count(func(m *metrics.Metrics) { m.EventsRejected.WithLabelValues("signature").Inc() })
		return domain.Event{}, fmt.Errorf("%w: %v", domain.ErrSignatureInvalid, err)
	}

	// The leaf hash is computed exactly once, here. Every Merkle commitment
	// downstream reuses the stored value.
	leafHash, err := cryptoinfra.EventLeafHash(req.Type, req.Payload, req.Signer, req.Signature)
	if err != nil {
		return domain.Event{}, err
	}

	event := domain.Event{
		ID:          uuid.NewString(),
		Type:        req.Type,
		Payload:     req.Payload,
		Commitments: req.Commitments,
		Nullifiers:  req.Nullifiers,
		Signer:      req.Signer,
		Signature:   req.Signature,
		LeafHash:    leafHash,
		ProofStatus: domain.ProofStatusNone,
		CreatedAt:   l.now().UTC(),
	}
	created, err := l.Events.Create(ctx, event)
	if err != nil {
		return domain.Event{}, err
	}
	l.count(func(m *metrics.Metrics) { m.EventsIngested.Inc() })
	l.Log.Info().Str("event_id", created.ID).Str("type", created.Type).Msg("event ingested")
	return created, nil
}

func (l *Ledger) Get(ctx context.Context, id string) (*domain.Event, error) {
	return l.Events.GetByID(ctx, id)
}

func (l *Ledger) List(ctx context.Context, filter domain.EventFilter) ([]domain.Event, error) {
	return l.Events.List(ctx, filter)
}

// InclusionProofResult is pending until a batch includes the event.
type InclusionProofResult struct {
	Status     string      `json:"status"`
	Reason     string      `json:"reason,omitempty"`
	BatchID    string      `json:"batch_id,omitempty"`
	BatchRoot  string      `json:"batch_root,omitempty"`
	MerklePath *MerklePath `json:"merkle_path,omitempty"`
	EventIndex int         `json:"event_index,omitempty"`
	LeafHash   string      `json:"leaf_hash,omitempty"`
}

type MerklePath struct {
	LeafIndex int              `json:"leaf_index"`
	Siblings  []merkle.Sibling `json:"siblings"`
}

const (
	ProofStatusIncluded = "included"
	ProofStatusPending  = "pending"
)

// InclusionProof rebuilds the event's batch tree and returns the path for
// its leaf. Leaf order is the batch's event selection order.
func (l *Ledger) InclusionProof(ctx context.Context, eventID string) (*InclusionProofResult, error) {
	event, err := l.Events.GetByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	batch, err := l.Batches.FindByEventID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return &InclusionProofResult{
			Status: ProofStatusPending,
			Reason: "event not yet included in a batch",
		}, nil
	}

	leaves, err := l.batchLeaves(ctx, batch)
	if err != nil {
		return nil, err
	}
	index := -1
	for i, id := range batch.EventIDs {
		if id == eventID {
			index = i
			break
		}
	}
	if index < 0 {
		return nil, fmt.Errorf("batch %s does not list event %s", batch.ID, eventID)
	}

	tree, err := merkle.New(leaves)
	if err != nil {
		return nil, err
	}
	path, err := tree.Path(index)
	if err != nil {
		return nil, err
	}
	if path == nil {
		path = []merkle.Sibling{}
	}
	return &InclusionProofResult{
		Status:     ProofStatusIncluded,
		BatchID:    batch.ID,
		BatchRoot:  batch.PoststateRoot,
		MerklePath: &MerklePath{LeafIndex: index, Siblings: path},
		EventIndex: index,
		LeafHash:   event.LeafHash,
	}, nil
}

// batchLeaves rebuilds the ordered leaf set for a batch, preferring stored
// leaf hashes and recomputing only for legacy rows predating ingestion-time
// hashing.
func (l *Ledger) batchLeaves(ctx context.Context, batch *domain.Batch) ([]string, error) {
	events, err := l.Events.GetByIDs(ctx, batch.EventIDs)
	if err != nil {
		return nil, err
	}
	leaves := make([]string, 0, len(events))
	for _, ev := range events {
		leaf := ev.LeafHash
		if leaf == "" {
			leaf, err = cryptoinfra.EventLeafHash(ev.Type, ev.Payload, ev.Signer, ev.Signature)
			if err != nil {
				return nil, err
			}
		}
		leaves = append(leaves, leaf)
	}
	return leaves, nil
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l *Ledger) count(fn func(*metrics.Metrics)) {
	if l.Metrics != nil {
		fn(l.Metrics)
	}
}
