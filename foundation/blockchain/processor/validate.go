package processor

import (
	"errors"
	"fmt"

	"github.com/adamwoolhether/chainsync/foundation/blockchain/database"
)

// Set of errors describing why a block was not accepted.
var (
	ErrInvalidHeader  = errors.New("invalid block header")
	ErrNotChained     = errors.New("block is not chained to the head")
	ErrForked         = errors.New("block forks the chain")
	ErrSameHeight     = errors.New("block competes with the head")
	ErrSlot           = errors.New("block slot is invalid")
	ErrInvalidPayload = errors.New("invalid block payload")
)

// Validator checks the block against the current head. A verdict other than
// Accepted stops processing with the returned error as the reason.
type Validator func(p *Processor, head database.Block, block database.Block) (Verdict, error)

// DefaultValidators returns the validators run for every block, in order.
func DefaultValidators() []Validator {
	return []Validator{
		validateHeader,
		validateLinkage,
		validateSlot,
		validatePayload,
	}
}

// =============================================================================

func validateHeader(p *Processor, head database.Block, block database.Block) (Verdict, error) {
	if block.Height() == 0 {
		return Rejected, fmt.Errorf("%w: height is zero", ErrInvalidHeader)
	}

	if block.Header.Generator == "" {
		return Rejected, fmt.Errorf("%w: block %d has no generator", ErrInvalidHeader, block.Height())
	}

	if block.Header.PrevBlockHash == "" {
		return Rejected, fmt.Errorf("%w: block %d has no previous block", ErrInvalidHeader, block.Height())
	}

	return Accepted, nil
}

func validateLinkage(p *Processor, head database.Block, block database.Block) (Verdict, error) {
	switch {
	case block.Height() == head.Height()+1:
		if block.Header.PrevBlockHash != head.Hash() {
			return Rollback, fmt.Errorf("%w: block %d prev %s, head %s", ErrForked, block.Height(), block.Header.PrevBlockHash, head.Hash())
		}
		return Accepted, nil

	case block.Height() == head.Height() && block.Hash() != head.Hash() && block.Header.PrevBlockHash == head.Header.PrevBlockHash:
		return DiscardedButBroadcastable, fmt.Errorf("%w: block %d id %s, head id %s", ErrSameHeight, block.Height(), block.Hash(), head.Hash())
	}

	return Rejected, fmt.Errorf("%w: block %d, head %d", ErrNotChained, block.Height(), head.Height())
}

func validateSlot(p *Processor, head database.Block, block database.Block) (Verdict, error) {
	blockSlot := p.clock.Slot(block.Time(), block.Height())

	if now := p.clock.Slot(p.clock.Now(), block.Height()); blockSlot > now {
		return Rejected, fmt.Errorf("%w: block %d slot %d is in the future, current %d", ErrSlot, block.Height(), blockSlot, now)
	}

	if head.IsZero() {
		return Accepted, nil
	}

	if headSlot := p.clock.Slot(head.Time(), head.Height()); blockSlot <= headSlot {
		return Rejected, fmt.Errorf("%w: block %d slot %d, head slot %d", ErrSlot, block.Height(), blockSlot, headSlot)
	}

	return Accepted, nil
}

func validatePayload(p *Processor, head database.Block, block database.Block) (Verdict, error) {
	if len(block.Transactions) != block.Header.NumTxs {
		return Rejected, fmt.Errorf("%w: block %d declares %d txs, has %d", ErrInvalidPayload, block.Height(), block.Header.NumTxs, len(block.Transactions))
	}

	if limit := p.genesis.MaxTxPerBlock(block.Height()); block.Header.NumTxs > limit {
		return Rejected, fmt.Errorf("%w: block %d has %d txs, max %d", ErrInvalidPayload, block.Height(), block.Header.NumTxs, limit)
	}

	if hash := database.PayloadHash(block.Transactions); hash != block.Header.PayloadHash {
		return Rejected, fmt.Errorf("%w: block %d payload hash %s, exp %s", ErrInvalidPayload, block.Height(), block.Header.PayloadHash, hash)
	}

	seen := make(map[string]struct{}, len(block.Transactions))
	for _, tx := range block.Transactions {
		hash := tx.Hash()
		if _, exists := seen[hash]; exists {
			return Rejected, fmt.Errorf("%w: block %d has duplicate tx %s", ErrInvalidPayload, block.Height(), tx)
		}
		seen[hash] = struct{}{}
	}

	return Accepted, nil
}
