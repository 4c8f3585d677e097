package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"veriledger/internal/domain"
	"veriledger/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// JobQueue is the durable queue the coordinator feeds. Implemented by the
// Redis Streams queue.
type JobQueue interface {
	Add(ctx context.Context, payload []byte) (string, error)
}

// Coordinator validates proof-job targets, deduplicates requests, and
// re-enqueues stuck jobs.
type Coordinator struct {
	Jobs    domain.ProverJobRepository
	Events  domain.EventRepository
	Batches domain.BatchRepository
	Queue   JobQueue
	Metrics *metrics.Metrics
	Log     zerolog.Logger
}

type CreateJobRequest struct {
	TargetType domain.JobTargetType
	TargetID   string
	Circuit    string
	Witness    map[string]any
	Priority   int
}

// queuedJob is the wire payload placed on the stream.
type queuedJob struct {
	JobID      string `json:"job_id"`
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`
	Circuit    string `json:"circuit"`
	Priority   int    `json:"priority"`
}

// CreateJob inserts and enqueues a pending job for the target, unless a
// non-terminal job for the same (target_id, circuit) already exists, in
// which case that job is returned as-is. A still-pending duplicate is
// defensively re-enqueued to cover queue-backend restarts.
func (c *Coordinator) CreateJob(ctx context.Context, req CreateJobRequest) (domain.ProverJob, error) {
	if req.TargetID == "" || req.Circuit == "" {
		return domain.ProverJob{}, fmt.Errorf("%w: target id and circuit are required", domain.ErrTargetUnknown)
	}
	if err := c.validateTarget(ctx, req.TargetType, req.TargetID); err != nil {
		return domain.ProverJob{}, err
	}

	existing, err := c.Jobs.FindActive(ctx, req.TargetID, req.Circuit)
	if err != nil {
		return domain.ProverJob{}, err
	}
	if existing != nil {
		if c.Metrics != nil {
			c.Metrics.JobsDeduped.Inc()
		}
		if existing.Status == domain.JobStatusPending {
			if err := c.enqueue(ctx, *existing); err != nil {
				// The job row survives; the next request or a bulk
				// requeue re-enqueues it.
				c.Log.Warn().Err(err).Str("job_id", existing.ID).Msg("re-enqueue of pending duplicate failed")
				return *existing, err
			}
		}
		return *existing, nil
	}

	job := domain.ProverJob{
		ID:          uuid.NewString(),
		TargetType:  req.TargetType,
		TargetID:    req.TargetID,
		Circuit:     req.Circuit,
		WitnessData: req.Witness,
		Status:      domain.JobStatusPending,
		Priority:    req.Priority,
	}
	created, err := c.Jobs.Create(ctx, job)
	if err != nil {
		return domain.ProverJob{}, err
	}
	if err := c.enqueue(ctx, created); err != nil {
		// Row exists in pending: recovery happens via the dedup
		// re-enqueue above or RequeuePending.
		return created, err
	}
	c.Log.Info().Str("job_id", created.ID).Str("circuit", created.Circuit).Msg("prover job created")
	return created, nil
}

// validateTarget confirms the target row exists. verification_request
// targets have no backing row and skip the check. An unknown target is a
// terminal input error, never retried.
func (c *Coordinator) validateTarget(ctx context.Context, targetType domain.JobTargetType, targetID string) error {
	switch targetType {
	case domain.JobTargetVerificationRequest:
		return nil
	case domain.JobTargetEvent:
		_, err := c.Events.GetByID(ctx, targetID)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: event %s", domain.ErrTargetUnknown, targetID)
		}
		return err
	case domain.JobTargetBatch:
		_, err := c.Batches.GetByID(ctx, targetID)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: batch %s", domain.ErrTargetUnknown, targetID)
		}
		return err
	default:
		return fmt.Errorf("%w: unsupported target type %q", domain.ErrTargetUnknown, targetType)
	}
}

// RequeuePending re-enqueues every pending job. Operational recovery after
// a queue-backend loss.
func (c *Coordinator) RequeuePending(ctx context.Context) (int, error) {
	jobs, err := c.Jobs.ListPending(ctx)
	if err != nil {
		return 0, err
	}
	requeued := 0
	for _, job := range jobs {
		if err := c.enqueue(ctx, job); err != nil {
			return requeued, err
		}
		requeued++
	}
	c.Log.Info().Int("count", requeued).Msg("pending jobs requeued")
	return requeued, nil
}

// RetryFailed resets one failed job to pending, increments its retry
// count, and re-enqueues it.
func (c *Coordinator) RetryFailed(ctx context.Context, jobID string) (domain.ProverJob, error) {
	job, err := c.Jobs.GetByID(ctx, jobID)
	if err != nil {
		return domain.ProverJob{}, err
	}
	if job.Status != domain.JobStatusFailed {
		return domain.ProverJob{}, fmt.Errorf("job %s is %s, only failed jobs can be retried", jobID, job.Status)
	}
	reset, err := c.Jobs.ResetForRetry(ctx, jobID)
	if err != nil {
		return domain.ProverJob{}, err
	}
	if err := c.enqueue(ctx, *reset); err != nil {
		return *reset, err
	}
	c.Log.Info().Str("job_id", jobID).Int("retry_count", reset.RetryCount).Msg("failed job retried")
	return *reset, nil
}

func (c *Coordinator) enqueue(ctx context.Context, job domain.ProverJob) error {
	payload, err := json.Marshal(queuedJob{
		JobID:      job.ID,
		TargetType: string(job.TargetType),
		TargetID:   job.TargetID,
		Circuit:    job.Circuit,
		Priority:   job.Priority,
	})
	if err != nil {
		return err
	}
	if _, err := c.Queue.Add(ctx, payload); err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	if c.Metrics != nil {
		c.Metrics.JobsEnqueued.Inc()
	}
	return nil
}
