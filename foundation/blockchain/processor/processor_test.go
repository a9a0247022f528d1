package processor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamwoolhether/chainsync/foundation/blockchain/database"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/genesis"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/mempool"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/processor"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/rounds"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/signal"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/slots"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/state"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/storage/disk"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type roundStore struct{}

func (roundStore) Round(num uint64) (disk.Round, error) {
	return disk.Round{Number: num}, nil
}

type fixture struct {
	gen     genesis.Genesis
	genesis database.Block
	ledger  *database.Database
	pool    *mempool.Mempool
	state   *state.State
	proc    *processor.Processor
}

func newFixture(t *testing.T) fixture {
	gen := genesis.Genesis{
		Date:            epoch,
		ChainID:         1,
		ActiveDelegates: 3,
		Generator:       "forger",
		Milestones:      []genesis.Milestone{{Height: 1, BlockTime: 10, MaxTxPerBlock: 2}},
		Balances:        map[string]uint64{"alice": 100},
	}
	require.NoError(t, gen.Validate())

	genesisBlock := database.GenesisBlock(gen)

	st, err := state.New(state.Config{GenesisBlock: genesisBlock})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clock := slots.New(epoch, gen.BlockTime, slots.WithNow(func() time.Time { return epoch.Add(time.Hour) }))
	ledger := database.New(gen)
	pool := mempool.New()

	proc := processor.New(processor.Config{
		Genesis: gen,
		Clock:   clock,
		Ledger:  ledger,
		Mempool: pool,
		State:   st,
		Rounds:  rounds.New(gen.ActiveDelegates, roundStore{}, signal.NewHub()),
	})

	return fixture{
		gen:     gen,
		genesis: genesisBlock,
		ledger:  ledger,
		pool:    pool,
		state:   st,
		proc:    proc,
	}
}

func at(slot int) uint64 {
	return uint64(epoch.Add(time.Duration(slot) * 10 * time.Second).Unix())
}

func balance(t *testing.T, db *database.Database, id string) uint64 {
	acct, err := db.Query(database.AccountID(id))
	if err != nil {
		return 0
	}
	return acct.Balance
}

// =============================================================================

func TestProcessAccepted(t *testing.T) {
	f := newFixture(t)

	tx := database.Tx{From: "alice", To: "bob", Amount: 10, Fee: 1, Nonce: 1}
	f.pool.Upsert(tx)

	block := database.NewBlock("forger", f.genesis, at(2), []database.Tx{tx})

	verdict, err := f.proc.Process(context.Background(), block)
	require.NoError(t, err)
	assert.Equal(t, processor.Accepted, verdict)

	assert.Equal(t, block.Hash(), f.state.LastBlock().Hash())
	assert.Equal(t, uint64(89), balance(t, f.ledger, "alice"))
	assert.Equal(t, uint64(10), balance(t, f.ledger, "bob"))
	assert.Equal(t, uint64(1), balance(t, f.ledger, "forger"))
	assert.Equal(t, 0, f.pool.Count())
}

func TestProcessVerdicts(t *testing.T) {
	tt := []struct {
		name    string
		block   func(f fixture) database.Block
		verdict processor.Verdict
		err     error
	}{
		{
			name: "fork",
			block: func(f fixture) database.Block {
				other := database.NewBlock("someone", database.Block{}, at(1), nil)
				return database.NewBlock("forger", other, at(2), nil)
			},
			verdict: processor.Rollback,
			err:     processor.ErrForked,
		},
		{
			name: "gap",
			block: func(f fixture) database.Block {
				b2 := database.NewBlock("forger", f.genesis, at(2), nil)
				return database.NewBlock("forger", b2, at(3), nil)
			},
			verdict: processor.Rejected,
			err:     processor.ErrNotChained,
		},
		{
			name: "future slot",
			block: func(f fixture) database.Block {
				return database.NewBlock("forger", f.genesis, at(1000), nil)
			},
			verdict: processor.Rejected,
			err:     processor.ErrSlot,
		},
		{
			name: "same slot as head",
			block: func(f fixture) database.Block {
				return database.NewBlock("forger", f.genesis, at(0), nil)
			},
			verdict: processor.Rejected,
			err:     processor.ErrSlot,
		},
		{
			name: "too many txs",
			block: func(f fixture) database.Block {
				txs := []database.Tx{
					{From: "alice", To: "bob", Amount: 1, Nonce: 1},
					{From: "alice", To: "bob", Amount: 1, Nonce: 2},
					{From: "alice", To: "bob", Amount: 1, Nonce: 3},
				}
				return database.NewBlock("forger", f.genesis, at(2), txs)
			},
			verdict: processor.Rejected,
			err:     processor.ErrInvalidPayload,
		},
		{
			name: "duplicate tx",
			block: func(f fixture) database.Block {
				tx := database.Tx{From: "alice", To: "bob", Amount: 1, Nonce: 1}
				return database.NewBlock("forger", f.genesis, at(2), []database.Tx{tx, tx})
			},
			verdict: processor.Rejected,
			err:     processor.ErrInvalidPayload,
		},
		{
			name: "declared count mismatch",
			block: func(f fixture) database.Block {
				block := database.NewBlock("forger", f.genesis, at(2), nil)
				block.Header.NumTxs = 1
				return block
			},
			verdict: processor.Rejected,
			err:     processor.ErrInvalidPayload,
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)

			verdict, err := f.proc.Process(context.Background(), tc.block(f))
			assert.Equal(t, tc.verdict, verdict)
			assert.ErrorIs(t, err, tc.err)
			assert.Equal(t, f.genesis.Hash(), f.state.LastBlock().Hash(), "head should not move")
		})
	}
}

func TestProcessSameHeight(t *testing.T) {
	f := newFixture(t)

	b2 := database.NewBlock("forger", f.genesis, at(2), nil)
	verdict, err := f.proc.Process(context.Background(), b2)
	require.NoError(t, err)
	require.Equal(t, processor.Accepted, verdict)

	competing := database.NewBlock("other", f.genesis, at(3), nil)
	verdict, err = f.proc.Process(context.Background(), competing)
	assert.Equal(t, processor.DiscardedButBroadcastable, verdict)
	assert.ErrorIs(t, err, processor.ErrSameHeight)
}

func TestProcessUndoOnFailedTx(t *testing.T) {
	f := newFixture(t)

	txs := []database.Tx{
		{From: "alice", To: "bob", Amount: 50, Fee: 1, Nonce: 1},
		{From: "alice", To: "bob", Amount: 500, Fee: 1, Nonce: 2},
	}
	block := database.NewBlock("forger", f.genesis, at(2), txs)

	verdict, err := f.proc.Process(context.Background(), block)
	assert.Equal(t, processor.Rejected, verdict)
	assert.Error(t, err)

	assert.Equal(t, uint64(100), balance(t, f.ledger, "alice"))
	assert.Equal(t, uint64(0), balance(t, f.ledger, "bob"))
	assert.Equal(t, f.genesis.Hash(), f.state.LastBlock().Hash())
}

func TestRevert(t *testing.T) {
	f := newFixture(t)

	tx := database.Tx{From: "alice", To: "bob", Amount: 10, Fee: 1, Nonce: 1}
	block := database.NewBlock("forger", f.genesis, at(2), []database.Tx{tx})

	verdict, err := f.proc.Process(context.Background(), block)
	require.NoError(t, err)
	require.Equal(t, processor.Accepted, verdict)

	verdict, err = f.proc.Revert(context.Background(), block, f.genesis)
	require.NoError(t, err)
	assert.Equal(t, processor.Accepted, verdict)

	assert.Equal(t, f.genesis.Hash(), f.state.LastBlock().Hash())
	assert.Equal(t, uint64(100), balance(t, f.ledger, "alice"))
	assert.Equal(t, uint64(0), balance(t, f.ledger, "bob"))

	verdict, err = f.proc.Revert(context.Background(), block, f.genesis)
	assert.Equal(t, processor.Corrupted, verdict, "only the head can be reverted")
	assert.Error(t, err)
}

func TestIsChained(t *testing.T) {
	f := newFixture(t)

	next := database.NewBlock("forger", f.genesis, at(1), nil)
	assert.True(t, f.proc.IsChained(f.genesis, next))

	skip := database.NewBlock("forger", next, at(2), nil)
	assert.False(t, f.proc.IsChained(f.genesis, skip))

	early := database.NewBlock("forger", next, at(0), nil)
	assert.False(t, f.proc.IsChained(next, early))
}
