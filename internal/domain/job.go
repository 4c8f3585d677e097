package domain

import (
	"context"
	"time"
)

type JobTargetType string

const (
	JobTargetEvent               JobTargetType = "event"
	JobTargetBatch               JobTargetType = "batch"
	JobTargetVerificationRequest JobTargetType = "verification_request"
)

// JobStatus: pending and verified/failed are set by the worker pool;
// cancelled is operator-set. failed and cancelled are the terminal states
// the coordinator's dedup rule looks through.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusVerified  JobStatus = "verified"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// ProverJob is a unit of proof-generation work. At most one non-terminal
// job may exist per (target_id, circuit) pair.
type ProverJob struct {
	ID          string
	TargetType  JobTargetType
	TargetID    string
	Circuit     string
	WitnessData map[string]any
	Status      JobStatus
	Priority    int
	RetryCount  int
	ProofRef    string
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type ProverJobRepository interface {
	Create(ctx context.Context, job ProverJob) (ProverJob, error)
	GetByID(ctx context.Context, id string) (*ProverJob, error)
	// FindActive returns the non-terminal (not failed, not cancelled) job
	// for the given target and circuit, or nil.
	FindActive(ctx context.Context, targetID, circuit string) (*ProverJob, error)
	ListPending(ctx context.Context) ([]ProverJob, error)
	// MarkVerified records the proof artifact reference produced by the
	// worker and moves the job to verified.
	MarkVerified(ctx context.Context, id string, proofRef string) error
	MarkFailed(ctx context.Context, id string, reason string) error
	// ResetForRetry moves a failed job back to pending and increments its
	// retry count.
	ResetForRetry(ctx context.Context, id string) (*ProverJob, error)
}
