package merkle_test

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamwoolhether/chainsync/foundation/blockchain/merkle"
)

func leaves(values ...string) [][]byte {
	var out [][]byte
	for _, v := range values {
		out = append(out, crypto.Keccak256([]byte(v)))
	}
	return out
}

func TestRoot(t *testing.T) {
	one, err := merkle.NewTree(leaves("a"))
	require.NoError(t, err)
	assert.Equal(t, leaves("a")[0], one.Root())

	ls := leaves("a", "b", "c")
	three, err := merkle.NewTree(ls)
	require.NoError(t, err)

	ab := crypto.Keccak256(ls[0], ls[1])
	cc := crypto.Keccak256(ls[2], ls[2])
	assert.Equal(t, crypto.Keccak256(ab, cc), three.Root())

	_, err = merkle.NewTree(nil)
	assert.Error(t, err)
}

func TestHashStrategy(t *testing.T) {
	ls := leaves("a", "b")

	tree, err := merkle.NewTree(ls, merkle.WithHashStrategy(sha256.New))
	require.NoError(t, err)

	exp := sha256.Sum256(append(append([]byte{}, ls[0]...), ls[1]...))
	assert.Equal(t, exp[:], tree.Root())
}

func TestProof(t *testing.T) {
	ls := leaves("a", "b", "c", "d", "e")

	tree, err := merkle.NewTree(ls)
	require.NoError(t, err)

	for i, leaf := range ls {
		path, order, err := tree.Proof(i)
		require.NoError(t, err)
		assert.True(t, tree.Verify(leaf, path, order), "leaf %d", i)

		assert.False(t, tree.Verify(crypto.Keccak256([]byte("x")), path, order), "leaf %d", i)
	}

	_, _, err = tree.Proof(len(ls))
	assert.Error(t, err)

	// Changing the content changes the root.
	other, err := merkle.NewTree(leaves("a", "b", "c", "d", "f"))
	require.NoError(t, err)
	assert.False(t, bytes.Equal(tree.Root(), other.Root()))
}
