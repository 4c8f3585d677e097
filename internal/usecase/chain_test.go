package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"veriledger/internal/domain"

	"github.com/rs/zerolog"
)

func newTestChain(events *memEvents, blocks *memBlocks, size int) *ChainBuilder {
	return &ChainBuilder{
		Events:    events,
		Blocks:    blocks,
		BlockSize: size,
		Log:       zerolog.Nop(),
		Now:       func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func seedEvents(t *testing.T, events *memEvents, n int) []string {
	t.Helper()
	ledger := newTestLedger(events, &memBatches{}, stubVerifier{})
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ev := submitTestEvent(t, ledger, "transfer", map[string]any{"amount": float64(i)})
		ids = append(ids, ev.ID)
	}
	return ids
}

func TestBuildBlockNoEventsIsNoop(t *testing.T) {
	chain := newTestChain(&memEvents{}, &memBlocks{}, 10)
	block, err := chain.BuildBlock(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if block != nil {
		t.Fatal("expected nil block with no eligible events")
	}
}

func TestBuildBlockLinksFromGenesis(t *testing.T) {
	events := &memEvents{}
	blocks := &memBlocks{events: events}
	ids := seedEvents(t, events, 3)
	chain := newTestChain(events, blocks, 10)

	block, err := chain.BuildBlock(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if block.Index != 1 {
		t.Fatalf("index = %d, want 1", block.Index)
	}
	if block.PrevHash != domain.GenesisHash {
		t.Fatalf("prev_hash = %s, want genesis sentinel", block.PrevHash)
	}
	if len(block.EventIDs) != len(ids) {
		t.Fatalf("block holds %d events, want %d", len(block.EventIDs), len(ids))
	}
	sum := sha256.Sum256(block.CanonicalPayload)
	if hex.EncodeToString(sum[:]) != block.Hash {
		t.Fatal("block hash is not the hash of its canonical payload")
	}
	for _, id := range ids {
		ev, err := events.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if ev.BlockID == nil || *ev.BlockID != block.ID {
			t.Fatalf("event %s not assigned to block", id)
		}
	}
}

func TestBuildBlockChainsAndRespectsSizeCap(t *testing.T) {
	events := &memEvents{}
	blocks := &memBlocks{events: events}
	seedEvents(t, events, 5)
	chain := newTestChain(events, blocks, 2)

	first, err := chain.BuildBlock(context.Background())
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := chain.BuildBlock(context.Background())
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if len(first.EventIDs) != 2 || len(second.EventIDs) != 2 {
		t.Fatalf("block sizes = %d, %d, want 2, 2", len(first.EventIDs), len(second.EventIDs))
	}
	if second.Index != first.Index+1 {
		t.Fatalf("second index = %d, want %d", second.Index, first.Index+1)
	}
	if second.PrevHash != first.Hash {
		t.Fatal("second block does not link to first block's hash")
	}
}

func TestVerifyChainCleanChain(t *testing.T) {
	events := &memEvents{}
	blocks := &memBlocks{events: events}
	seedEvents(t, events, 7)
	chain := newTestChain(events, blocks, 2)
	for {
		block, err := chain.BuildBlock(context.Background())
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if block == nil {
			break
		}
	}

	report, err := chain.VerifyChain(context.Background())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !report.Valid {
		t.Fatalf("clean chain reported invalid: %v", report.Errors)
	}
	if report.Count != 4 {
		t.Fatalf("count = %d, want 4", report.Count)
	}
}

func TestVerifyChainDetectsTamperedPayload(t *testing.T) {
	events := &memEvents{}
	blocks := &memBlocks{events: events}
	seedEvents(t, events, 4)
	chain := newTestChain(events, blocks, 2)
	for range []int{0, 1} {
		if _, err := chain.BuildBlock(context.Background()); err != nil {
			t.Fatalf("build: %v", err)
		}
	}

	// Corrupt the first block's stored payload.
	blocks.blocks[0].CanonicalPayload = []byte(`{"forged":true}`)

	report, err := chain.VerifyChain(context.Background())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.Valid {
		t.Fatal("tampered chain reported valid")
	}
	found := false
	for _, msg := range report.Errors {
		if strings.Contains(msg, "stored hash does not match") {
			found = true
		}
	}
	if !found {
		t.Fatalf("no hash-mismatch finding in %v", report.Errors)
	}
}

func TestVerifyChainDetectsBrokenLinkWithoutMaskingLaterBlocks(t *testing.T) {
	events := &memEvents{}
	blocks := &memBlocks{events: events}
	seedEvents(t, events, 6)
	chain := newTestChain(events, blocks, 2)
	for range []int{0, 1, 2} {
		if _, err := chain.BuildBlock(context.Background()); err != nil {
			t.Fatalf("build: %v", err)
		}
	}

	// Rewrite block 2's prev link. Block 3 still links to block 2's stored
	// hash, so only one finding is expected.
	blocks.blocks[1].PrevHash = strings.Repeat("ab", 32)

	report, err := chain.VerifyChain(context.Background())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.Valid {
		t.Fatal("broken link reported valid")
	}
	linkFindings := 0
	for _, msg := range report.Errors {
		if strings.Contains(msg, "prev_hash does not match") {
			linkFindings++
		}
	}
	if linkFindings != 1 {
		t.Fatalf("link findings = %d, want exactly 1: %v", linkFindings, report.Errors)
	}
}

func TestVerifyChainTruncatesFindings(t *testing.T) {
	events := &memEvents{}
	blocks := &memBlocks{events: events}
	seedEvents(t, events, 1)
	chain := newTestChain(events, blocks, 1)
	if _, err := chain.BuildBlock(context.Background()); err != nil {
		t.Fatalf("build: %v", err)
	}
	template := blocks.blocks[0]
	for i := int64(2); i <= 150; i++ {
		forged := template
		forged.Index = i
		forged.Hash = strings.Repeat("00", 32) // wrong on purpose
		blocks.blocks = append(blocks.blocks, forged)
	}

	report, err := chain.VerifyChain(context.Background())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.Valid {
		t.Fatal("forged chain reported valid")
	}
	if len(report.Errors) != maxReportedErrors+1 {
		t.Fatalf("errors = %d, want %d plus marker", len(report.Errors), maxReportedErrors)
	}
	if report.Errors[len(report.Errors)-1] != truncationMarker {
		t.Fatal("last finding is not the truncation marker")
	}
	if report.Count != 150 {
		t.Fatalf("count = %d, want 150 (scan must not abort)", report.Count)
	}
}
