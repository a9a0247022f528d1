// Package processor applies blocks to the chain state and reverts them. Every
// block is run through a set of validators before it is applied.
package processor

import (
	"context"
	"fmt"

	"github.com/adamwoolhether/chainsync/foundation/blockchain/database"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/genesis"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/mempool"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/rounds"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/slots"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/state"
)

// EventHandler defines a function that is called when events
// occur in the processing of blocks.
type EventHandler func(v string, args ...any)

// Config represents the configuration required to construct a processor.
type Config struct {
	Genesis    genesis.Genesis
	Clock      *slots.Clock
	Ledger     *database.Database
	Mempool    *mempool.Mempool
	State      *state.State
	Rounds     *rounds.Rounds
	Validators []Validator
	EvHandler  EventHandler
}

// Processor applies and reverts blocks against the chain state.
type Processor struct {
	genesis    genesis.Genesis
	clock      *slots.Clock
	ledger     *database.Database
	mempool    *mempool.Mempool
	state      *state.State
	rounds     *rounds.Rounds
	validators []Validator
	evHandler  EventHandler
}

// New constructs a processor. The default validators are used when none
// are provided.
func New(cfg Config) *Processor {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	validators := cfg.Validators
	if len(validators) == 0 {
		validators = DefaultValidators()
	}

	return &Processor{
		genesis:    cfg.Genesis,
		clock:      cfg.Clock,
		ledger:     cfg.Ledger,
		mempool:    cfg.Mempool,
		state:      cfg.State,
		rounds:     cfg.Rounds,
		validators: validators,
		evHandler:  ev,
	}
}

// IsChained reports if the block extends the head: it is the next height,
// points at the head and is not forged before the head's slot.
func (p *Processor) IsChained(head database.Block, block database.Block) bool {
	if block.Height() != head.Height()+1 {
		return false
	}

	if block.Header.PrevBlockHash != head.Hash() {
		return false
	}

	return p.clock.Slot(block.Time(), block.Height()) >= p.clock.Slot(head.Time(), head.Height())
}

// Process validates the block against the current head and applies it. The
// error explains any verdict other than Accepted.
func (p *Processor) Process(ctx context.Context, block database.Block) (Verdict, error) {
	p.evHandler("processor: process: started: blk[%d]: id[%s]", block.Height(), block.Hash())
	defer p.evHandler("processor: process: completed: blk[%d]", block.Height())

	head := p.state.LastBlock()

	for _, validate := range p.validators {
		verdict, err := validate(p, head, block)
		if verdict != Accepted {
			p.evHandler("processor: process: blk[%d]: %s: %s", block.Height(), verdict, err)
			return verdict, err
		}
	}

	if err := ctx.Err(); err != nil {
		return Rejected, err
	}

	generator := database.AccountID(block.Header.Generator)

	for i, tx := range block.Transactions {
		if err := p.ledger.ApplyTx(generator, tx); err != nil {
			p.evHandler("processor: process: blk[%d]: tx[%s]: ERROR: %s", block.Height(), tx, err)

			// Undo the transactions already applied from this block.
			for j := i - 1; j >= 0; j-- {
				if rerr := p.ledger.RevertTx(generator, block.Transactions[j]); rerr != nil {
					return Corrupted, fmt.Errorf("undo tx %s in block %d: %w", block.Transactions[j], block.Height(), rerr)
				}
			}

			return Rejected, fmt.Errorf("apply tx %s in block %d: %w", tx, block.Height(), err)
		}
	}

	for _, tx := range block.Transactions {
		p.mempool.Delete(tx)
	}

	p.state.SetLastBlock(block)
	p.rounds.Apply(block)

	return Accepted, nil
}

// Revert undoes the block, which must be the current head, and makes the
// parent the head. Any failure leaves the chain state unknown and is
// reported as Corrupted.
func (p *Processor) Revert(ctx context.Context, block database.Block, parent database.Block) (Verdict, error) {
	p.evHandler("processor: revert: started: blk[%d]: id[%s]", block.Height(), block.Hash())
	defer p.evHandler("processor: revert: completed: blk[%d]", block.Height())

	head := p.state.LastBlock()
	if head.Hash() != block.Hash() {
		return Corrupted, fmt.Errorf("revert block %d: id %s is not the head %s", block.Height(), block.Hash(), head.Hash())
	}

	if block.Height() <= 1 {
		return Corrupted, fmt.Errorf("revert block %d: genesis block can't be reverted", block.Height())
	}

	if parent.Height()+1 != block.Height() || parent.Hash() != block.Header.PrevBlockHash {
		return Corrupted, fmt.Errorf("revert block %d: parent %d id %s does not match prev %s", block.Height(), parent.Height(), parent.Hash(), block.Header.PrevBlockHash)
	}

	generator := database.AccountID(block.Header.Generator)

	for i := len(block.Transactions) - 1; i >= 0; i-- {
		if err := p.ledger.RevertTx(generator, block.Transactions[i]); err != nil {
			return Corrupted, fmt.Errorf("revert tx %s in block %d: %w", block.Transactions[i], block.Height(), err)
		}
	}

	p.state.SetLastBlock(parent)

	return Accepted, nil
}
