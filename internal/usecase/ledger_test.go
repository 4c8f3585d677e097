package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"veriledger/internal/domain"
	cryptoinfra "veriledger/internal/infra/crypto"
	"veriledger/internal/infra/merkle"

	"github.com/rs/zerolog"
)

func newTestLedger(events *memEvents, batches *memBatches, verifier EventSignatureVerifier) *Ledger {
	return &Ledger{
		Events:   events,
		Batches:  batches,
		Verifier: verifier,
		Log:      zerolog.Nop(),
		Now:      func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func submitTestEvent(t *testing.T, ledger *Ledger, eventType string, payload map[string]any) domain.Event {
	t.Helper()
	event, err := ledger.Submit(context.Background(), SubmitEventRequest{
		Type:      eventType,
		Payload:   payload,
		Signer:    "issuer-1",
		Signature: "deadbeef:1700000000000",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return event
}

func TestSubmitStoresLeafHashComputedOnce(t *testing.T) {
	events := &memEvents{}
	ledger := newTestLedger(events, &memBatches{}, stubVerifier{})

	payload := map[string]any{"amount": float64(10), "asset": "usd"}
	event := submitTestEvent(t, ledger, "transfer", payload)

	if event.ID == "" {
		t.Fatal("event id not assigned")
	}
	want, err := cryptoinfra.EventLeafHash("transfer", payload, "issuer-1", "deadbeef:1700000000000")
	if err != nil {
		t.Fatalf("leaf hash: %v", err)
	}
	if event.LeafHash != want {
		t.Fatalf("leaf hash = %s, want %s", event.LeafHash, want)
	}
	if event.ProofStatus != domain.ProofStatusNone {
		t.Fatalf("proof status = %s, want none", event.ProofStatus)
	}

	stored, err := events.GetByID(context.Background(), event.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.LeafHash != want {
		t.Fatal("stored leaf hash differs from returned")
	}
}

func TestSubmitRejectsBadSignature(t *testing.T) {
	events := &memEvents{}
	ledger := newTestLedger(events, &memBatches{}, stubVerifier{err: errors.New("mac mismatch")})

	_, err := ledger.Submit(context.Background(), SubmitEventRequest{
		Type:      "transfer",
		Signer:    "issuer-1",
		Signature: "bad",
	})
	if !errors.Is(err, domain.ErrSignatureInvalid) {
		t.Fatalf("err = %v, want ErrSignatureInvalid", err)
	}
	if len(events.events) != 0 {
		t.Fatal("rejected event was persisted")
	}
}

func TestSubmitRejectsMissingFields(t *testing.T) {
	ledger := newTestLedger(&memEvents{}, &memBatches{}, stubVerifier{})
	_, err := ledger.Submit(context.Background(), SubmitEventRequest{Type: "transfer"})
	if !errors.Is(err, domain.ErrSignatureInvalid) {
		t.Fatalf("err = %v, want ErrSignatureInvalid", err)
	}
}

func TestInclusionProofPendingBeforeBatch(t *testing.T) {
	events := &memEvents{}
	ledger := newTestLedger(events, &memBatches{}, stubVerifier{})
	event := submitTestEvent(t, ledger, "transfer", nil)

	result, err := ledger.InclusionProof(context.Background(), event.ID)
	if err != nil {
		t.Fatalf("proof: %v", err)
	}
	if result.Status != ProofStatusPending {
		t.Fatalf("status = %s, want pending", result.Status)
	}
	if result.Reason == "" {
		t.Fatal("pending result carries no reason")
	}
}

func TestInclusionProofVerifiesAgainstBatchRoot(t *testing.T) {
	events := &memEvents{}
	batches := &memBatches{}
	ledger := newTestLedger(events, batches, stubVerifier{})

	var ids, leaves []string
	for _, payload := range []map[string]any{
		{"amount": float64(1)},
		{"amount": float64(2)},
		{"amount": float64(3)},
	} {
		ev := submitTestEvent(t, ledger, "transfer", payload)
		ids = append(ids, ev.ID)
		leaves = append(leaves, ev.LeafHash)
	}
	tree, err := merkle.New(leaves)
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	_, err = batches.Create(context.Background(), domain.Batch{
		ID:            "batch-1",
		EventIDs:      ids,
		PrestateRoot:  domain.GenesisHash,
		PoststateRoot: tree.Root(),
		Status:        domain.BatchStatusProving,
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}

	for i, id := range ids {
		result, err := ledger.InclusionProof(context.Background(), id)
		if err != nil {
			t.Fatalf("proof for event %d: %v", i, err)
		}
		if result.Status != ProofStatusIncluded {
			t.Fatalf("status = %s, want included", result.Status)
		}
		if result.BatchID != "batch-1" || result.BatchRoot != tree.Root() {
			t.Fatalf("wrong batch binding: %s %s", result.BatchID, result.BatchRoot)
		}
		if result.EventIndex != i || result.MerklePath.LeafIndex != i {
			t.Fatalf("leaf index = %d/%d, want %d", result.EventIndex, result.MerklePath.LeafIndex, i)
		}
		ok, err := merkle.Verify(result.LeafHash, result.MerklePath.Siblings, result.BatchRoot)
		if err != nil || !ok {
			t.Fatalf("proof does not verify: %v %v", ok, err)
		}
	}
}

func TestInclusionProofUnknownEvent(t *testing.T) {
	ledger := newTestLedger(&memEvents{}, &memBatches{}, stubVerifier{})
	_, err := ledger.InclusionProof(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
