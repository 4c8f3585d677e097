package domain

import (
	"context"
	"time"
)

// BatchStatus advances monotonically except for proof_fetch_failed, which
// parks the batch until an operator retries it.
type BatchStatus string

const (
	BatchStatusPending          BatchStatus = "pending"
	BatchStatusProving          BatchStatus = "proving"
	BatchStatusAnchored         BatchStatus = "anchored"
	BatchStatusProofFetchFailed BatchStatus = "proof_fetch_failed"
)

// Batch is a rollup unit: an ordered set of events committed to a single
// Merkle root, awaiting or holding a proof. Leaf order is exactly the
// selection order of EventIDs.
type Batch struct {
	ID            string
	EventIDs      []string
	PrestateRoot  string
	PoststateRoot string
	Status        BatchStatus
	ProofJobID    *string
	AnchorTx      *string
	CreatedAt     time.Time
}

type BatchRepository interface {
	Create(ctx context.Context, batch Batch) (Batch, error)
	GetByID(ctx context.Context, id string) (*Batch, error)
	// FindByEventID returns the batch whose event_ids contain the given
	// event id, or nil when the event is not yet batched.
	FindByEventID(ctx context.Context, eventID string) (*Batch, error)
	// LatestAnchored returns the most recently anchored batch, or nil.
	LatestAnchored(ctx context.Context) (*Batch, error)
	// ListPending returns batches still awaiting a proof job,
	// creation-time ascending.
	ListPending(ctx context.Context) ([]Batch, error)
	// ListProving returns batches in proving, creation-time ascending.
	ListProving(ctx context.Context) ([]Batch, error)
	SetStatus(ctx context.Context, id string, status BatchStatus) error
	SetProving(ctx context.Context, id string, jobID string) error
	SetAnchored(ctx context.Context, id string, anchorTx string) error
}
