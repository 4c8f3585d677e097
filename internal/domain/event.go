package domain

import (
	"context"
	"time"
)

// ProofStatus tracks how far an event has progressed through the rollup
// pipeline. Transitions are forward-only: none -> pending -> verified,
// with failed reachable from pending.
type ProofStatus string

const (
	ProofStatusNone     ProofStatus = "none"
	ProofStatusPending  ProofStatus = "pending"
	ProofStatusVerified ProofStatus = "verified"
	ProofStatusFailed   ProofStatus = "failed"
)

// Event is an accepted, signature-validated ledger entry. LeafHash is
// computed once at ingestion and never recomputed; all Merkle commitments
// downstream reuse the stored value.
type Event struct {
	ID          string
	Type        string
	Payload     map[string]any
	Commitments []string
	Nullifiers  []string
	Signer      string
	Signature   string
	LeafHash    string
	ProofStatus ProofStatus
	BlockID     *string
	CreatedAt   time.Time
}

// EventFilter carries the allow-listed listing filters. Field names and
// payload keys outside the allow list are rejected before any query runs.
type EventFilter struct {
	Type        string
	Signer      string
	ProofStatus ProofStatus
	Payload     map[string]string
	Limit       int
}

type EventRepository interface {
	Create(ctx context.Context, event Event) (Event, error)
	GetByID(ctx context.Context, id string) (*Event, error)
	GetByIDs(ctx context.Context, ids []string) ([]Event, error)
	List(ctx context.Context, filter EventFilter) ([]Event, error)
	// ListUnblocked returns events with no block assignment, creation-time
	// ascending, at most limit rows.
	ListUnblocked(ctx context.Context, limit int) ([]Event, error)
	// ListUnbatched returns events with proof_status=none, creation-time
	// ascending, at most limit rows.
	ListUnbatched(ctx context.Context, limit int) ([]Event, error)
	SetProofStatus(ctx context.Context, ids []string, status ProofStatus) error
}
