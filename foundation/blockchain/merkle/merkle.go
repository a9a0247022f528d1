// Package merkle provides an implementation of a merkle tree for validation
// support for the blockchain.
package merkle

import (
	"bytes"
	"errors"
	"fmt"
	"hash"

	"github.com/ethereum/go-ethereum/crypto"
)

// Tree holds every level of the tree, the leaves first and the root last.
type Tree struct {
	levels       [][][]byte
	hashStrategy func() hash.Hash
}

// WithHashStrategy allows configuration of a different
// hash strategy than the default keccak256 strategy.
func WithHashStrategy(hashStrategy func() hash.Hash) func(t *Tree) {
	return func(t *Tree) {
		t.hashStrategy = hashStrategy
	}
}

// NewTree creates a new Merkle Tree over the leaf hashes. A level with an
// odd number of nodes pairs its last node with itself.
func NewTree(leaves [][]byte, options ...func(t *Tree)) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, errors.New("cannot construct tree with no content")
	}

	t := Tree{
		hashStrategy: func() hash.Hash { return crypto.NewKeccakState() },
	}

	for _, option := range options {
		option(&t)
	}

	level := make([][]byte, len(leaves))
	copy(level, leaves)
	t.levels = append(t.levels, level)

	for len(level) > 1 {
		var next [][]byte
		for i := 0; i < len(level); i += 2 {
			right := level[i]
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, t.hashPair(level[i], right))
		}
		t.levels = append(t.levels, next)
		level = next
	}

	return &t, nil
}

// Root returns the merkle root.
func (t *Tree) Root() []byte {
	return t.levels[len(t.levels)-1][0]
}

// Proof returns the sibling hashes from the leaf to the root, and for each
// one if it sits on the right (1) or left (0) of the path.
func (t *Tree) Proof(index int) ([][]byte, []int64, error) {
	if index < 0 || index >= len(t.levels[0]) {
		return nil, nil, fmt.Errorf("leaf %d out of range", index)
	}

	var path [][]byte
	var order []int64

	for _, level := range t.levels[:len(t.levels)-1] {
		switch {
		case index%2 == 0 && index+1 < len(level):
			path = append(path, level[index+1])
			order = append(order, 1)
		case index%2 == 0:
			path = append(path, level[index])
			order = append(order, 1)
		default:
			path = append(path, level[index-1])
			order = append(order, 0)
		}
		index /= 2
	}

	return path, order, nil
}

// Verify validates the leaf belongs to the tree with the specified root
// using the proof returned by Proof.
func (t *Tree) Verify(leaf []byte, path [][]byte, order []int64) bool {
	if len(path) != len(order) {
		return false
	}

	sum := leaf
	for i, sibling := range path {
		if order[i] == 1 {
			sum = t.hashPair(sum, sibling)
			continue
		}
		sum = t.hashPair(sibling, sum)
	}

	return bytes.Equal(sum, t.Root())
}

func (t *Tree) hashPair(left, right []byte) []byte {
	h := t.hashStrategy()
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}
