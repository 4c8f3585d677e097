package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"veriledger/internal/domain"
	"veriledger/internal/infra/metrics"
	"veriledger/internal/infra/prover"
	"veriledger/internal/infra/queue"
	"veriledger/internal/infra/storage"

	"github.com/rs/zerolog"
)

// WorkerQueue is the queue surface the worker consumes from.
type WorkerQueue interface {
	Process(ctx context.Context, consumer string, handler queue.Handler) (int, error)
	DeadLetter(ctx context.Context, entry queue.Entry, reason string) error
}

// Worker consumes proof jobs from the queue, runs the prover, uploads the
// artifact, and marks the job verified. Each worker claims entries under
// its own consumer name; a crashed worker's unacked claims are picked up
// by another consumer after the idle threshold.
type Worker struct {
	Consumer string
	Jobs     domain.ProverJobRepository
	Queue    WorkerQueue
	Prover   prover.Prover
	Storage  storage.ObjectStore
	Metrics  *metrics.Metrics
	Log      zerolog.Logger
}

// Tick claims and handles one batch of queue entries.
func (w *Worker) Tick(ctx context.Context) error {
	handled, err := w.Queue.Process(ctx, w.Consumer, w.handle)
	if handled > 0 {
		w.Log.Debug().Int("handled", handled).Msg("worker tick")
	}
	return err
}

// handle processes a single queue entry. Returning nil acks the entry;
// anything terminal is dead-lettered first so the stream never wedges on
// a poison message.
func (w *Worker) handle(ctx context.Context, entry queue.Entry) error {
	var payload queuedJob
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		w.deadLetter(ctx, entry, fmt.Sprintf("malformed payload: %v", err))
		return nil
	}
	job, err := w.Jobs.GetByID(ctx, payload.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			w.deadLetter(ctx, entry, fmt.Sprintf("job %s not found", payload.JobID))
			return nil
		}
		// Transient store error: leave the entry unacked for redelivery.
		return err
	}
	if job.Status != domain.JobStatusPending {
		// Already handled by another consumer or cancelled; ack and move on.
		w.Log.Debug().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("skipping non-pending job")
		return nil
	}

	result, err := w.Prover.Prove(ctx, job.Circuit, job.WitnessData)
	if err != nil {
		if markErr := w.Jobs.MarkFailed(ctx, job.ID, err.Error()); markErr != nil {
			return markErr
		}
		w.deadLetter(ctx, entry, fmt.Sprintf("prover: %v", err))
		w.Log.Error().Err(err).Str("job_id", job.ID).Str("circuit", job.Circuit).Msg("proof generation failed")
		return nil
	}

	artifact, err := json.Marshal(result)
	if err != nil {
		return err
	}
	proofRef, err := w.Storage.Put(ctx, "proofs/"+job.ID+".json", artifact)
	if err != nil {
		// Upload is retryable: the proof is recomputed on redelivery.
		return fmt.Errorf("store proof for job %s: %w", job.ID, err)
	}
	if err := w.Jobs.MarkVerified(ctx, job.ID, proofRef); err != nil {
		return err
	}
	w.Log.Info().Str("job_id", job.ID).Str("proof_ref", proofRef).Msg("proof job verified")
	return nil
}

func (w *Worker) deadLetter(ctx context.Context, entry queue.Entry, reason string) {
	if err := w.Queue.DeadLetter(ctx, entry, reason); err != nil {
		w.Log.Error().Err(err).Str("entry_id", entry.ID).Msg("dead-letter failed")
		return
	}
	if w.Metrics != nil {
		w.Metrics.JobsDeadLettered.Inc()
	}
}
