// Package genesis maintains access to the genesis file.
package genesis

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"
)

// Milestone represents a height at which the protocol rules change.
type Milestone struct {
	Height        uint64 `json:"height"`           // First height the rules apply to.
	BlockTime     uint64 `json:"block_time"`       // Seconds per slot.
	MaxTxPerBlock int    `json:"max_tx_per_block"` // Upper bound on transactions in a block.
}

// Genesis represents the genesis file.
type Genesis struct {
	Date            time.Time         `json:"date"`             // Epoch used to compute slots.
	ChainID         uint16            `json:"chain_id"`         // The chain id represents an unique id for this running instance.
	ActiveDelegates uint64            `json:"active_delegates"` // Number of forgers in a round.
	Generator       string            `json:"generator"`        // Account credited with the genesis block.
	Milestones      []Milestone       `json:"milestones"`
	Balances        map[string]uint64 `json:"balances"`
}

// Load opens and consumes the genesis file.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	var genesis Genesis
	if err := json.Unmarshal(content, &genesis); err != nil {
		return Genesis{}, err
	}

	if err := genesis.Validate(); err != nil {
		return Genesis{}, fmt.Errorf("genesis %s: %w", path, err)
	}

	return genesis, nil
}

// Validate checks the genesis values are usable and sorts the milestones.
func (g *Genesis) Validate() error {
	if g.ActiveDelegates == 0 {
		return errors.New("active delegates must be greater than zero")
	}

	if len(g.Milestones) == 0 {
		return errors.New("at least one milestone is required")
	}

	sort.Slice(g.Milestones, func(i, j int) bool {
		return g.Milestones[i].Height < g.Milestones[j].Height
	})

	if g.Milestones[0].Height > 1 {
		return errors.New("first milestone must start at height 1")
	}

	for _, ms := range g.Milestones {
		if ms.BlockTime == 0 {
			return fmt.Errorf("milestone at height %d has a zero block time", ms.Height)
		}
	}

	return nil
}

// milestone returns the milestone in force at the specified height.
func (g Genesis) milestone(height uint64) Milestone {
	current := g.Milestones[0]
	for _, ms := range g.Milestones {
		if ms.Height > height {
			break
		}
		current = ms
	}

	return current
}

// BlockTime returns the slot interval in force at the specified height.
func (g Genesis) BlockTime(height uint64) time.Duration {
	return time.Duration(g.milestone(height).BlockTime) * time.Second
}

// MaxTxPerBlock returns the transaction limit in force at the specified height.
func (g Genesis) MaxTxPerBlock(height uint64) int {
	return g.milestone(height).MaxTxPerBlock
}

// MilestoneHeights returns the heights, above genesis, where rules change.
func (g Genesis) MilestoneHeights() []uint64 {
	var heights []uint64
	for _, ms := range g.Milestones {
		if ms.Height > 1 {
			heights = append(heights, ms.Height)
		}
	}

	return heights
}
