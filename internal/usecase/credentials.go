package usecase

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"veriledger/internal/domain"
	"veriledger/internal/infra/cachemem"
	cryptoinfra "veriledger/internal/infra/crypto"
	"veriledger/internal/infra/merkle"
	"veriledger/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CredentialRegistry issues and revokes Merkle-committed holder sets.
// Each issuance commits its holders to one root; the registry root
// aggregates every active issuance's leaves and changes whenever the
// active set changes.
type CredentialRegistry struct {
	Credentials domain.CredentialRepository
	Cache       *cachemem.LeafCache
	Metrics     *metrics.Metrics
	Log         zerolog.Logger
}

// MembershipProofResult is the inclusion proof of a holder within a
// single issuance's committed set.
type MembershipProofResult struct {
	IssuanceID string           `json:"issuance_id"`
	Root       string           `json:"root"`
	LeafHash   string           `json:"leaf_hash"`
	LeafIndex  int              `json:"leaf_index"`
	Siblings   []merkle.Sibling `json:"siblings"`
}

// Issue commits the holders to a fresh issuance. Leaves are canonical
// hashes of {holder, salt} in holder order; that order fixes proof
// indices for the issuance's lifetime.
func (r *CredentialRegistry) Issue(ctx context.Context, holders []string) (domain.CredentialIssuance, error) {
	if len(holders) == 0 {
		return domain.CredentialIssuance{}, fmt.Errorf("issuance requires at least one holder")
	}
	seen := make(map[string]struct{}, len(holders))
	for _, h := range holders {
		if h == "" {
			return domain.CredentialIssuance{}, fmt.Errorf("holder must not be empty")
		}
		if _, dup := seen[h]; dup {
			return domain.CredentialIssuance{}, fmt.Errorf("duplicate holder %q", h)
		}
		seen[h] = struct{}{}
	}

	salt, err := newSalt()
	if err != nil {
		return domain.CredentialIssuance{}, err
	}
	leaves, err := holderLeaves(holders, salt)
	if err != nil {
		return domain.CredentialIssuance{}, err
	}
	tree, err := merkle.New(leaves)
	if err != nil {
		return domain.CredentialIssuance{}, err
	}

	issuance, err := r.Credentials.Create(ctx, domain.CredentialIssuance{
		ID:          uuid.NewString(),
		Root:        tree.Root(),
		Holders:     holders,
		Leaves:      leaves,
		Salt:        salt,
		Status:      domain.CredentialStatusActive,
		ProofStatus: domain.ProofStatusNone,
	})
	if err != nil {
		return domain.CredentialIssuance{}, err
	}
	r.Cache.Invalidate(issuance.ID) // drops the now-stale registry root
	r.Cache.Put(issuance.ID, leaves)
	r.Log.Info().Str("issuance_id", issuance.ID).Int("holders", len(holders)).Str("root", issuance.Root).Msg("credential issued")
	return issuance, nil
}

// Revoke marks an issuance revoked and invalidates the cached leaves, so
// the next registry root rebuild excludes it and membership proofs against
// it are rejected.
func (r *CredentialRegistry) Revoke(ctx context.Context, issuanceID string) error {
	issuance, err := r.Credentials.GetByID(ctx, issuanceID)
	if err != nil {
		return err
	}
	if issuance.Status == domain.CredentialStatusRevoked {
		return nil
	}
	if err := r.Credentials.SetStatus(ctx, issuanceID, domain.CredentialStatusRevoked); err != nil {
		return err
	}
	r.Cache.Invalidate(issuanceID)
	r.Log.Info().Str("issuance_id", issuanceID).Msg("credential revoked")
	return nil
}

// MembershipProof returns a holder's inclusion proof within an issuance.
// Revoked issuances reject proofs outright.
func (r *CredentialRegistry) MembershipProof(ctx context.Context, issuanceID, holder string) (*MembershipProofResult, error) {
	issuance, err := r.Credentials.GetByID(ctx, issuanceID)
	if err != nil {
		return nil, err
	}
	if issuance.Status == domain.CredentialStatusRevoked {
		return nil, domain.ErrIssuanceRevoked
	}

	idx := -1
	for i, h := range issuance.Holders {
		if h == holder {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, domain.ErrHolderNotIncluded
	}

	leaves, ok := r.Cache.Get(issuanceID)
	if !ok {
		leaves = issuance.Leaves
		r.Cache.Put(issuanceID, leaves)
	}
	tree, err := merkle.New(leaves)
	if err != nil {
		return nil, err
	}
	siblings, err := tree.Path(idx)
	if err != nil {
		return nil, err
	}
	return &MembershipProofResult{
		IssuanceID: issuanceID,
		Root:       issuance.Root,
		LeafHash:   leaves[idx],
		LeafIndex:  idx,
		Siblings:   siblings,
	}, nil
}

// VerifyMembership checks a previously issued proof. The issuance must
// still be active; a revoked issuance invalidates its proofs.
func (r *CredentialRegistry) VerifyMembership(ctx context.Context, issuanceID string, proof MembershipProofResult) (bool, error) {
	issuance, err := r.Credentials.GetByID(ctx, issuanceID)
	if err != nil {
		return false, err
	}
	if issuance.Status == domain.CredentialStatusRevoked {
		return false, domain.ErrIssuanceRevoked
	}
	if proof.Root != issuance.Root {
		return false, nil
	}
	return merkle.Verify(proof.LeafHash, proof.Siblings, issuance.Root)
}

// RegistryRoot computes the Merkle root over every active issuance's
// leaves, in issuance creation order. Revoking an issuance changes this
// root whenever the active set actually changes.
func (r *CredentialRegistry) RegistryRoot(ctx context.Context) (string, error) {
	if root, ok := r.Cache.Root(); ok {
		return root, nil
	}
	active, err := r.Credentials.ListActive(ctx)
	if err != nil {
		return "", err
	}
	if len(active) == 0 {
		return domain.GenesisHash, nil
	}
	var leaves []string
	for _, issuance := range active {
		leaves = append(leaves, issuance.Leaves...)
	}
	tree, err := merkle.New(leaves)
	if err != nil {
		return "", err
	}
	root := tree.Root()
	r.Cache.PutRoot(root)
	return root, nil
}

func holderLeaves(holders []string, salt string) ([]string, error) {
	leaves := make([]string, 0, len(holders))
	for _, h := range holders {
		leaf, err := cryptoinfra.Hash(map[string]any{
			"holder": h,
			"salt":   salt,
		})
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, leaf)
	}
	return leaves, nil
}

func newSalt() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
