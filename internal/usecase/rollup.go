package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"veriledger/internal/domain"
	"veriledger/internal/infra/alert"
	"veriledger/internal/infra/anchor"
	cryptoinfra "veriledger/internal/infra/crypto"
	"veriledger/internal/infra/merkle"
	"veriledger/internal/infra/metrics"
	"veriledger/internal/infra/storage"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RollupCircuit is the circuit requested for batch proofs.
const RollupCircuit = "rollup-circuit"

// JobRequester is the coordinator surface the aggregator needs.
type JobRequester interface {
	CreateJob(ctx context.Context, req CreateJobRequest) (domain.ProverJob, error)
}

// Aggregator periodically folds unproven events into batches, requests
// proofs for them, and anchors verified batches externally. Its two
// operations run on independent loops; each loop is individually guarded
// against overlapping ticks by the scheduler.
type Aggregator struct {
	Events      domain.EventRepository
	Batches     domain.BatchRepository
	Jobs        domain.ProverJobRepository
	Credentials domain.CredentialRepository
	Coordinator JobRequester
	Anchor      anchor.Client
	Storage     storage.ObjectStore
	Alerts      alert.Notifier

	BatchSize     int
	FetchAttempts int
	FetchBackoff  time.Duration

	Metrics *metrics.Metrics
	Log     zerolog.Logger
}

const defaultBatchSize = 25

// FormBatch selects unproven events, commits them to a new batch, and
// requests a proof job. A job-request failure leaves the batch pending;
// each tick re-requests jobs for pending batches before forming a new
// one, and coordinator dedup makes the re-request idempotent.
func (a *Aggregator) FormBatch(ctx context.Context) (*domain.Batch, error) {
	if err := a.resumePending(ctx); err != nil {
		return nil, err
	}
	size := a.BatchSize
	if size <= 0 {
		size = defaultBatchSize
	}
	events, err := a.Events.ListUnbatched(ctx, size)
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

	prestate := domain.GenesisHash
	latest, err := a.Batches.LatestAnchored(ctx)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		prestate = latest.PoststateRoot
	}

	batch, err := a.Batches.Create(ctx, domain.Batch{
		ID:            uuid.NewString(),
		EventIDs:      eventIDs,
		PrestateRoot:  prestate,
		PoststateRoot: tree.Root(),
		Status:        domain.BatchStatusPending,
	})
	if err != nil {
		return nil, err
	}
	if err := a.Events.SetProofStatus(ctx, eventIDs, domain.ProofStatusPending); err != nil {
		return nil, err
	}
	if a.Metrics != nil {
		a.Metrics.BatchesFormed.Inc()
	}
	a.Log.Info().Str("batch_id", batch.ID).Int("events", len(eventIDs)).Str("root", batch.PoststateRoot).Msg("batch formed")

	job, err := a.Coordinator.CreateJob(ctx, CreateJobRequest{
		TargetType: domain.JobTargetBatch,
		TargetID:   batch.ID,
		Circuit:    RollupCircuit,
		Witness: map[string]any{
			"prestate_root":  batch.PrestateRoot,
			"poststate_root": batch.PoststateRoot,
			"leaf_hashes":    leaves,
		},
	})
	if err != nil {
		a.Log.Warn().Err(err).Str("batch_id", batch.ID).Msg("proof job request failed, batch stays pending")
		return &batch, nil
	}
	if err := a.Batches.SetProving(ctx, batch.ID, job.ID); err != nil {
		return nil, err
	}
	batch.Status = domain.BatchStatusProving
	batch.ProofJobID = &job.ID
	return &batch, nil
}

// resumePending re-requests proof jobs for batches whose earlier request
// failed. The witness is rebuilt from the committed batch so the leaves
// match the poststate root already recorded.
func (a *Aggregator) resumePending(ctx context.Context) error {
	pending, err := a.Batches.ListPending(ctx)
	if err != nil {
		return err
	}
	for i := range pending {
		batch := pending[i]
		events, err := a.Events.GetByIDs(ctx, batch.EventIDs)
		if err != nil {
			return err
		}
		leafByID := make(map[string]string, len(events))
		for _, ev := range events {
			leafByID[ev.ID] = ev.LeafHash
		}
		leaves := make([]string, 0, len(batch.EventIDs))
		for _, id := range batch.EventIDs {
			leaves = append(leaves, leafByID[id])
		}
		job, err := a.Coordinator.CreateJob(ctx, CreateJobRequest{
			TargetType: domain.JobTargetBatch,
			TargetID:   batch.ID,
			Circuit:    RollupCircuit,
			Witness: map[string]any{
				"prestate_root":  batch.PrestateRoot,
				"poststate_root": batch.PoststateRoot,
				"leaf_hashes":    leaves,
			},
		})
		if err != nil {
			a.Log.Warn().Err(err).Str("batch_id", batch.ID).Msg("proof job re-request failed, batch stays pending")
			continue
		}
		if err := a.Batches.SetProving(ctx, batch.ID, job.ID); err != nil {
			return err
		}
		a.Log.Info().Str("batch_id", batch.ID).Str("job_id", job.ID).Msg("pending batch resumed")
	}
	return nil
}

// AnchorBatches advances at most one proving batch whose proof job has
// verified: fetch the artifact (when anchoring is configured), submit the
// anchor transaction, and cascade verified status to the batch's events
// and any credential issuances backed by them. Proving batches whose jobs
// are not yet verified are skipped, so a failed job awaiting an operator
// retry never blocks a younger verified batch.
func (a *Aggregator) AnchorBatches(ctx context.Context) error {
	batches, err := a.Batches.ListProving(ctx)
	if err != nil {
		return err
	}
	for i := range batches {
		batch := &batches[i]
		if batch.ProofJobID == nil {
			return fmt.Errorf("batch %s is proving without a proof job", batch.ID)
		}
		job, err := a.Jobs.GetByID(ctx, *batch.ProofJobID)
		if err != nil {
			return err
		}
		if job.Status != domain.JobStatusVerified {
			// Still proving, or failed and awaiting an operator retry.
			continue
		}
		return a.anchorBatch(ctx, batch, job)
	}
	return nil
}

func (a *Aggregator) anchorBatch(ctx context.Context, batch *domain.Batch, job *domain.ProverJob) error {
	anchorTx := ""
	var err error
	if a.Anchor != nil && a.Anchor.IsEnabled() {
		// The artifact must be retrievable before we commit an anchor
		// transaction that references it.
		if _, err := a.fetchProof(ctx, job.ProofRef); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				// Shutdown mid-fetch, not exhaustion: the batch stays
				// proving for the next tick.
				return err
			}
			a.parkBatch(ctx, batch, job, err)
			return nil
		}
		anchorTx, err = a.Anchor.Submit(ctx, anchor.Submission{
			BatchID:       batch.ID,
			PrestateRoot:  batch.PrestateRoot,
			PoststateRoot: batch.PoststateRoot,
			EventCount:    len(batch.EventIDs),
			ProofRef:      job.ProofRef,
		})
		if err != nil {
			// Transient: the batch stays proving and the next tick
			// retries the submission.
			return fmt.Errorf("anchor batch %s: %w", batch.ID, err)
		}
	}

	if err := a.Batches.SetAnchored(ctx, batch.ID, anchorTx); err != nil {
		return err
	}
	if err := a.Events.SetProofStatus(ctx, batch.EventIDs, domain.ProofStatusVerified); err != nil {
		return err
	}
	if a.Credentials != nil {
		if err := a.Credentials.MarkVerifiedByEventIDs(ctx, batch.EventIDs); err != nil {
			return err
		}
	}
	if a.Metrics != nil {
		a.Metrics.BatchesAnchored.Inc()
	}
	a.Log.Info().Str("batch_id", batch.ID).Str("anchor_tx", anchorTx).Msg("batch anchored")
	return nil
}

// fetchProof pulls the proof artifact with bounded exponential backoff.
func (a *Aggregator) fetchProof(ctx context.Context, proofRef string) ([]byte, error) {
	if proofRef == "" {
		return nil, fmt.Errorf("verified job has no proof reference")
	}
	bo := newBackoff(a.FetchAttempts, a.FetchBackoff)
	var lastErr error
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		delay, ok := bo.next()
		if !ok {
			return nil, fmt.Errorf("proof fetch exhausted after %d attempts: %w", bo.attempts(), lastErr)
		}
		if delay > 0 {
			if a.Metrics != nil {
				a.Metrics.ProofFetchRetry.Inc()
			}
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
		artifact, err := a.Storage.Get(ctx, proofRef)
		if err == nil {
			return artifact, nil
		}
		lastErr = err
		a.Log.Warn().Err(err).Str("proof_ref", proofRef).Int("attempt", bo.attempts()).Msg("proof fetch failed")
	}
}

// parkBatch moves a batch to proof_fetch_failed and escalates. The state
// is terminal until an operator retries the batch.
func (a *Aggregator) parkBatch(ctx context.Context, batch *domain.Batch, job *domain.ProverJob, cause error) {
	if err := a.Batches.SetStatus(ctx, batch.ID, domain.BatchStatusProofFetchFailed); err != nil {
		a.Log.Error().Err(err).Str("batch_id", batch.ID).Msg("park batch")
		return
	}
	if a.Metrics != nil {
		a.Metrics.BatchesParked.Inc()
	}
	if a.Alerts != nil {
		a.Alerts.Notify(ctx, alert.Alert{
			Severity: alert.SeverityCritical,
			Title:    "proof artifact fetch exhausted",
			Message:  cause.Error(),
			Fields: map[string]any{
				"batch_id":  batch.ID,
				"job_id":    job.ID,
				"proof_ref": job.ProofRef,
			},
		})
	}
	a.Log.Error().Err(cause).Str("batch_id", batch.ID).Msg("batch parked in proof_fetch_failed")
}

// RetryParkedBatch returns a parked batch to proving so the anchor loop
// attempts the fetch again.
func (a *Aggregator) RetryParkedBatch(ctx context.Context, batchID string) error {
	batch, err := a.Batches.GetByID(ctx, batchID)
	if err != nil {
		return err
	}
	if batch.Status != domain.BatchStatusProofFetchFailed {
		return fmt.Errorf("batch %s is %s, only proof_fetch_failed batches can be retried", batchID, batch.Status)
	}
	return a.Batches.SetStatus(ctx, batchID, domain.BatchStatusProving)
}
