package disk

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strconv"

	"github.com/adamwoolhether/chainsync/foundation/blockchain/database"
)

// RoundBlock is the part of a block a round summary remembers.
type RoundBlock struct {
	Height    uint64 `json:"height"`
	Hash      string `json:"hash"`
	Generator string `json:"generator"`
}

// Round is the summary of the blocks applied within a single round.
type Round struct {
	Number uint64       `json:"round"`
	Blocks []RoundBlock `json:"blocks"`
}

// RoundOf calculates the round the specified height belongs to.
func RoundOf(height, activeDelegates uint64) uint64 {
	if height == 0 {
		return 0
	}

	return (height-1)/activeDelegates + 1
}

// Round returns the summary for the specified round. An empty summary is
// returned when nothing has been recorded for it.
func (d *Disk) Round(num uint64) (Round, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.readRound(num)
}

// DeleteRoundsAfter forgets every round summary above the round the height
// belongs to, and trims that round back to the height.
func (d *Disk) DeleteRoundsAfter(height uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	current := RoundOf(height, d.activeDelegates)

	entries, err := os.ReadDir(d.roundsPath())
	if err != nil {
		return err
	}

	for _, entry := range entries {
		num, err := strconv.ParseUint(trimExt(entry.Name()), 10, 64)
		if err != nil {
			continue
		}
		if num > current {
			if err := os.Remove(d.roundPath(num)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
		}
	}

	round, err := d.readRound(current)
	if err != nil {
		return err
	}

	var kept []RoundBlock
	for _, rb := range round.Blocks {
		if rb.Height <= height {
			kept = append(kept, rb)
		}
	}
	round.Blocks = kept

	return d.writeRound(round)
}

// =============================================================================

func (d *Disk) appendRound(block database.Block) error {
	round, err := d.readRound(RoundOf(block.Height(), d.activeDelegates))
	if err != nil {
		return err
	}

	rb := RoundBlock{
		Height:    block.Height(),
		Hash:      block.Hash(),
		Generator: block.Header.Generator,
	}

	// Replace an entry for the same height, a re-written block wins.
	for i := range round.Blocks {
		if round.Blocks[i].Height == rb.Height {
			round.Blocks[i] = rb
			return d.writeRound(round)
		}
	}
	round.Blocks = append(round.Blocks, rb)

	return d.writeRound(round)
}

func (d *Disk) trimRound(height uint64) error {
	round, err := d.readRound(RoundOf(height, d.activeDelegates))
	if err != nil {
		return err
	}

	var kept []RoundBlock
	for _, rb := range round.Blocks {
		if rb.Height != height {
			kept = append(kept, rb)
		}
	}
	round.Blocks = kept

	return d.writeRound(round)
}

func (d *Disk) readRound(num uint64) (Round, error) {
	data, err := os.ReadFile(d.roundPath(num))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Round{Number: num}, nil
		}
		return Round{}, err
	}

	var round Round
	if err := json.Unmarshal(data, &round); err != nil {
		return Round{}, fmt.Errorf("decode round %d: %w", num, err)
	}

	return round, nil
}

func (d *Disk) writeRound(round Round) error {
	if len(round.Blocks) == 0 {
		if err := os.Remove(d.roundPath(round.Number)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}

	data, err := json.MarshalIndent(round, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(d.roundPath(round.Number), data, 0600)
}

func (d *Disk) roundsPath() string {
	return path.Join(d.dbPath, "rounds")
}

func (d *Disk) roundPath(num uint64) string {
	return path.Join(d.roundsPath(), fmt.Sprintf("%d.json", num))
}

func trimExt(name string) string {
	return name[:len(name)-len(path.Ext(name))]
}
