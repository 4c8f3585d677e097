package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"veriledger/internal/domain"
	"veriledger/internal/infra/cachemem"
	"veriledger/internal/infra/merkle"

	"github.com/rs/zerolog"
)

func newTestRegistry() (*CredentialRegistry, *memCredentials) {
	credentials := &memCredentials{}
	registry := &CredentialRegistry{
		Credentials: credentials,
		Cache:       cachemem.NewLeafCache(time.Minute),
		Log:         zerolog.Nop(),
	}
	return registry, credentials
}

func TestIssueCommitsHoldersInOrder(t *testing.T) {
	registry, _ := newTestRegistry()
	holders := []string{"alice", "bob", "carol"}

	issuance, err := registry.Issue(context.Background(), holders)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if issuance.Status != domain.CredentialStatusActive {
		t.Fatalf("status = %s, want active", issuance.Status)
	}
	if len(issuance.Leaves) != len(holders) {
		t.Fatalf("leaves = %d, want %d", len(issuance.Leaves), len(holders))
	}
	tree, err := merkle.New(issuance.Leaves)
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	if issuance.Root != tree.Root() {
		t.Fatal("root is not the merkle root of the leaves")
	}
	if issuance.Salt == "" {
		t.Fatal("issuance has no salt")
	}
}

func TestIssueSaltsLeavesPerIssuance(t *testing.T) {
	registry, _ := newTestRegistry()
	holders := []string{"alice", "bob"}

	first, err := registry.Issue(context.Background(), holders)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := registry.Issue(context.Background(), holders)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.Root == second.Root {
		t.Fatal("identical holder sets produced the same root across issuances")
	}
}

func TestIssueRejectsEmptyAndDuplicateHolders(t *testing.T) {
	registry, _ := newTestRegistry()
	if _, err := registry.Issue(context.Background(), nil); err == nil {
		t.Fatal("empty holder set accepted")
	}
	if _, err := registry.Issue(context.Background(), []string{"alice", "alice"}); err == nil {
		t.Fatal("duplicate holder accepted")
	}
}

func TestMembershipProofVerifies(t *testing.T) {
	registry, _ := newTestRegistry()
	holders := []string{"alice", "bob", "carol", "dave", "erin"}
	issuance, err := registry.Issue(context.Background(), holders)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	for i, holder := range holders {
		proof, err := registry.MembershipProof(context.Background(), issuance.ID, holder)
		if err != nil {
			t.Fatalf("proof for %s: %v", holder, err)
		}
		if proof.LeafIndex != i {
			t.Fatalf("leaf index = %d, want %d", proof.LeafIndex, i)
		}
		ok, err := registry.VerifyMembership(context.Background(), issuance.ID, *proof)
		if err != nil || !ok {
			t.Fatalf("verify = %v, %v, want true, nil", ok, err)
		}
		ok, err = merkle.Verify(proof.LeafHash, proof.Siblings, issuance.Root)
		if err != nil || !ok {
			t.Fatalf("raw verify = %v, %v, want true, nil", ok, err)
		}
	}
}

func TestMembershipProofRejectsExcludedHolder(t *testing.T) {
	registry, _ := newTestRegistry()
	issuance, err := registry.Issue(context.Background(), []string{"alice", "bob"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	_, err = registry.MembershipProof(context.Background(), issuance.ID, "mallory")
	if !errors.Is(err, domain.ErrHolderNotIncluded) {
		t.Fatalf("err = %v, want ErrHolderNotIncluded", err)
	}
}

func TestRevokeRejectsProofsAndChangesRegistryRoot(t *testing.T) {
	registry, _ := newTestRegistry()
	first, err := registry.Issue(context.Background(), []string{"alice", "bob"})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := registry.Issue(context.Background(), []string{"carol"})
	if err != nil {
		t.Fatalf("second: %v", err)
	}

	proof, err := registry.MembershipProof(context.Background(), first.ID, "alice")
	if err != nil {
		t.Fatalf("proof: %v", err)
	}
	rootBefore, err := registry.RegistryRoot(context.Background())
	if err != nil {
		t.Fatalf("root: %v", err)
	}

	if err := registry.Revoke(context.Background(), first.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	if _, err := registry.MembershipProof(context.Background(), first.ID, "alice"); !errors.Is(err, domain.ErrIssuanceRevoked) {
		t.Fatalf("proof err = %v, want ErrIssuanceRevoked", err)
	}
	if _, err := registry.VerifyMembership(context.Background(), first.ID, *proof); !errors.Is(err, domain.ErrIssuanceRevoked) {
		t.Fatalf("verify err = %v, want ErrIssuanceRevoked", err)
	}

	rootAfter, err := registry.RegistryRoot(context.Background())
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if rootAfter == rootBefore {
		t.Fatal("registry root unchanged after revocation shrank the active set")
	}

	// The surviving issuance still proves.
	ok, err := func() (bool, error) {
		p, err := registry.MembershipProof(context.Background(), second.ID, "carol")
		if err != nil {
			return false, err
		}
		return registry.VerifyMembership(context.Background(), second.ID, *p)
	}()
	if err != nil || !ok {
		t.Fatalf("surviving issuance proof = %v, %v, want true, nil", ok, err)
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	registry, _ := newTestRegistry()
	issuance, err := registry.Issue(context.Background(), []string{"alice"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := registry.Revoke(context.Background(), issuance.ID); err != nil {
		t.Fatalf("first revoke: %v", err)
	}
	if err := registry.Revoke(context.Background(), issuance.ID); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
}

func TestRegistryRootEmptyActiveSet(t *testing.T) {
	registry, _ := newTestRegistry()
	root, err := registry.RegistryRoot(context.Background())
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if root != domain.GenesisHash {
		t.Fatalf("empty registry root = %s, want zero sentinel", root)
	}
}

func TestMembershipProofSurvivesCacheDrop(t *testing.T) {
	registry, _ := newTestRegistry()
	issuance, err := registry.Issue(context.Background(), []string{"alice", "bob", "carol"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	registry.Cache.Clear()

	proof, err := registry.MembershipProof(context.Background(), issuance.ID, "bob")
	if err != nil {
		t.Fatalf("proof after cache drop: %v", err)
	}
	ok, err := registry.VerifyMembership(context.Background(), issuance.ID, *proof)
	if err != nil || !ok {
		t.Fatalf("verify = %v, %v, want true, nil", ok, err)
	}
}
