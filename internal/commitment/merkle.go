package commitment

import (
	"crypto/sha256"

	dErrors "veil/pkg/domain-errors"
)

// Leaf and interior nodes are hashed with distinct domain prefixes so an
// interior node can never be replayed as a leaf (second-preimage hardening).
const (
	leafPrefix = 0x00
	nodePrefix = 0x01
)

// PathElement is one sibling hash on an inclusion path, with the side the
// sibling sits on when recombining toward the root.
type PathElement struct {
	Sibling PayloadHash `json:"sibling"`
	// Left is true when the sibling is the left input of the parent hash.
	Left bool `json:"left"`
}

// Tree is an in-memory Merkle tree over an ordered list of payload hashes.
// Levels[0] is the leaf level; the last level holds the single root.
type Tree struct {
	levels [][]PayloadHash
}

// BuildTree constructs a Merkle tree. Odd nodes at any level are promoted
// unchanged to the next level rather than duplicated, so a leaf's inclusion
// path length may vary but the root is unambiguous for a given leaf list.
func BuildTree(leaves []PayloadHash) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, dErrors.New(dErrors.CodeMalformedInput, "merkle tree requires at least one leaf")
	}

	level := make([]PayloadHash, len(leaves))
	for i, leaf := range leaves {
		level[i] = hashLeaf(leaf)
	}

	levels := [][]PayloadHash{level}
	for len(level) > 1 {
		next := make([]PayloadHash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashNode(level[i], level[i+1]))
			} else {
				next = append(next, level[i])
			}
		}
		levels = append(levels, next)
		level = next
	}
	return &Tree{levels: levels}, nil
}

// Root returns the tree's root hash.
func (t *Tree) Root() PayloadHash {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// LeafCount returns the number of leaves the tree was built over.
func (t *Tree) LeafCount() int { return len(t.levels[0]) }

// Path returns the inclusion path for the leaf at index i.
func (t *Tree) Path(i int) ([]PathElement, error) {
	if i < 0 || i >= len(t.levels[0]) {
		return nil, dErrors.New(dErrors.CodeMalformedInput, "leaf index out of range")
	}
	var path []PathElement
	idx := i
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := idx ^ 1
		if sibling < len(level) {
			path = append(path, PathElement{
				Sibling: level[sibling],
				Left:    sibling < idx,
			})
		}
		// Promoted odd nodes contribute no sibling at this level.
		idx /= 2
	}
	return path, nil
}

// VerifyInclusion recomputes the path from leaf to root and compares against
// the expected root. Callers can run this without contacting the engine.
func VerifyInclusion(root PayloadHash, leaf PayloadHash, path []PathElement) bool {
	current := hashLeaf(leaf)
	for _, elem := range path {
		if elem.Left {
			current = hashNode(elem.Sibling, current)
		} else {
			current = hashNode(current, elem.Sibling)
		}
	}
	return current.Equal(root)
}

func hashLeaf(leaf PayloadHash) PayloadHash {
	h := sha256.New()
	h.Write([]byte{leafPrefix})
	h.Write(leaf[:])
	var out PayloadHash
	copy(out[:], h.Sum(nil))
	return out
}

func hashNode(left, right PayloadHash) PayloadHash {
	h := sha256.New()
	h.Write([]byte{nodePrefix})
	h.Write(left[:])
	h.Write(right[:])
	var out PayloadHash
	copy(out[:], h.Sum(nil))
	return out
}
