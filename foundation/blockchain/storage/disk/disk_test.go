package disk_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamwoolhether/chainsync/foundation/blockchain/database"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/storage/disk"
)

func chain(n int) []database.Block {
	epoch := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var parent database.Block
	blocks := make([]database.Block, 0, n)
	for i := 0; i < n; i++ {
		block := database.NewBlock("forger", parent, uint64(epoch.Add(time.Duration(i)*10*time.Second).Unix()), nil)
		blocks = append(blocks, block)
		parent = block
	}

	return blocks
}

func TestSaveAndRead(t *testing.T) {
	dir := t.TempDir()

	d, err := disk.New(dir, 3)
	require.NoError(t, err)

	blocks := chain(5)
	require.NoError(t, d.SaveBlocks(blocks))
	assert.Equal(t, uint64(5), d.Height())

	last, err := d.LastBlock()
	require.NoError(t, err)
	assert.Equal(t, blocks[4].Hash(), last.Hash())

	got, err := d.GetBlocks(2, 10)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, blocks[1].Hash(), got[0].Hash())

	_, err = d.GetBlock(9)
	assert.ErrorIs(t, err, disk.ErrNotFound)

	// A new value finds the chain already on disk.
	reopened, err := disk.New(dir, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), reopened.Height())
}

func TestDelete(t *testing.T) {
	d, err := disk.New(t.TempDir(), 3)
	require.NoError(t, err)

	blocks := chain(7)
	require.NoError(t, d.SaveBlocks(blocks))

	require.NoError(t, d.DeleteAfter(5))
	assert.Equal(t, uint64(5), d.Height())

	round, err := d.Round(3)
	require.NoError(t, err)
	assert.Empty(t, round.Blocks)

	require.Error(t, d.RevertBlock(4))
	require.NoError(t, d.RevertBlock(5))
	assert.Equal(t, uint64(4), d.Height())

	require.NoError(t, d.DeleteTop(10))
	assert.Equal(t, uint64(1), d.Height())

	_, err = d.GetBlock(1)
	assert.NoError(t, err)
}

func TestRounds(t *testing.T) {
	d, err := disk.New(t.TempDir(), 3)
	require.NoError(t, err)

	blocks := chain(7)
	require.NoError(t, d.SaveBlocks(blocks))

	round, err := d.Round(2)
	require.NoError(t, err)
	require.Len(t, round.Blocks, 3)
	assert.Equal(t, uint64(4), round.Blocks[0].Height)

	require.NoError(t, d.DeleteRoundsAfter(4))

	round, err = d.Round(2)
	require.NoError(t, err)
	require.Len(t, round.Blocks, 1)
	assert.Equal(t, blocks[3].Hash(), round.Blocks[0].Hash)

	round, err = d.Round(3)
	require.NoError(t, err)
	assert.Empty(t, round.Blocks)

	assert.Equal(t, uint64(0), disk.RoundOf(0, 3))
	assert.Equal(t, uint64(1), disk.RoundOf(3, 3))
	assert.Equal(t, uint64(2), disk.RoundOf(4, 3))
}
