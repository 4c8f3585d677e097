package domain

import (
	"context"
	"time"
)

type CredentialStatus string

const (
	CredentialStatusActive  CredentialStatus = "active"
	CredentialStatusRevoked CredentialStatus = "revoked"
)

// CredentialIssuance commits a set of holders to a Merkle root. Leaves are
// canonical hashes of (holder, salt) in holder order; that order defines
// inclusion-proof indices. Revoked issuances are excluded from the next
// full rebuild and their membership proofs are rejected.
type CredentialIssuance struct {
	ID          string
	Root        string
	Holders     []string
	Leaves      []string
	Salt        string
	Status      CredentialStatus
	EventID     *string
	ProofStatus ProofStatus
	CreatedAt   time.Time
}

type CredentialRepository interface {
	Create(ctx context.Context, issuance CredentialIssuance) (CredentialIssuance, error)
	GetByID(ctx context.Context, id string) (*CredentialIssuance, error)
	ListActive(ctx context.Context) ([]CredentialIssuance, error)
	SetStatus(ctx context.Context, id string, status CredentialStatus) error
	// MarkVerifiedByEventIDs flags issuances whose backing event is among
	// the given ids. Used by the anchoring cascade.
	MarkVerifiedByEventIDs(ctx context.Context, eventIDs []string) error
}
