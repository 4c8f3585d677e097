// Package merkle builds SHA-256 Merkle trees over hex-encoded leaf hashes
// and generates/verifies inclusion paths. Odd levels are padded by
// duplicating the last node; this matches the roots committed by existing
// batches and blocks and must not change, even though the duplication rule
// has known second-preimage caveats for adversarial leaf sets.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"veriledger/internal/domain"
)

const (
	PositionLeft  = "left"
	PositionRight = "right"
)

// Sibling is one step of an inclusion path: the sibling node's hash and
// which side of the running hash it sits on.
type Sibling struct {
	Hash     string `json:"hash"`
	Position string `json:"position"`
}

// Tree holds every level of a built tree, leaves first.
type Tree struct {
	levels [][]string
}

var ErrEmptyLeaves = errors.New("merkle: leaf set is empty")

// New builds a tree over the ordered leaf hashes. Leaf order is
// significant: it defines inclusion-proof indices.
func New(leaves []string) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyLeaves
	}
	for i, leaf := range leaves {
		if _, err := hex.DecodeString(leaf); err != nil {
			return nil, fmt.Errorf("merkle: leaf %d is not hex: %w", i, err)
		}
	}

	levels := [][]string{append([]string(nil), leaves...)}
	current := levels[0]
	for len(current) > 1 {
		if len(current)%2 == 1 {
			current = append(current, current[len(current)-1])
		}
		next := make([]string, 0, len(current)/2)
		for i := 0; i < len(current); i += 2 {
			parent, err := hashPair(current[i], current[i+1])
			if err != nil {
				return nil, err
			}
			next = append(next, parent)
		}
		levels = append(levels, next)
		current = next
	}
	return &Tree{levels: levels}, nil
}

// Root returns the tree's root hash.
func (t *Tree) Root() string {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// LeafCount returns the number of original leaves.
func (t *Tree) LeafCount() int {
	return len(t.levels[0])
}

// Path returns the inclusion path for the leaf at index i. Siblings are
// ordered leaf level first. The duplication-padding rule guarantees a
// sibling exists at every level.
func (t *Tree) Path(i int) ([]Sibling, error) {
	if i < 0 || i >= len(t.levels[0]) {
		return nil, fmt.Errorf("merkle: leaf index %d out of range [0,%d)", i, len(t.levels[0]))
	}
	var path []Sibling
	index := i
	for _, level := range t.levels[:len(t.levels)-1] {
		padded := level
		if len(padded)%2 == 1 {
			padded = append(append([]string(nil), padded...), padded[len(padded)-1])
		}
		if index%2 == 0 {
			path = append(path, Sibling{Hash: padded[index+1], Position: PositionRight})
		} else {
			path = append(path, Sibling{Hash: padded[index-1], Position: PositionLeft})
		}
		index /= 2
	}
	return path, nil
}

// Verify replays the siblings against the candidate leaf and compares the
// result to the claimed root by exact string equality.
func Verify(leaf string, path []Sibling, root string) (bool, error) {
	if path == nil {
		return false, fmt.Errorf("merkle: %w: missing siblings", domain.ErrProofInvalid)
	}
	if _, err := hex.DecodeString(leaf); err != nil {
		return false, fmt.Errorf("merkle: %w: leaf is not hex", domain.ErrProofInvalid)
	}
	current := leaf
	for i, sib := range path {
		if _, err := hex.DecodeString(sib.Hash); err != nil {
			return false, fmt.Errorf("merkle: %w: sibling %d is not hex", domain.ErrProofInvalid, i)
		}
		var (
			parent string
			err    error
		)
		switch sib.Position {
		case PositionLeft:
			parent, err = hashPair(sib.Hash, current)
		case PositionRight:
			parent, err = hashPair(current, sib.Hash)
		default:
			return false, fmt.Errorf("merkle: %w: sibling %d has position %q", domain.ErrProofInvalid, i, sib.Position)
		}
		if err != nil {
			return false, err
		}
		current = parent
	}
	return current == root, nil
}

// hashPair hashes the raw byte concatenation of two hex-decoded hashes.
func hashPair(left, right string) (string, error) {
	lb, err := hex.DecodeString(left)
	if err != nil {
		return "", fmt.Errorf("merkle: node is not hex: %w", err)
	}
	rb, err := hex.DecodeString(right)
	if err != nil {
		return "", fmt.Errorf("merkle: node is not hex: %w", err)
	}
	sum := sha256.Sum256(append(lb, rb...))
	return hex.EncodeToString(sum[:]), nil
}
