// Package disk implements the ability to read and write blocks to disk
// using a json file per block.
package disk

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strconv"
	"sync"

	"github.com/adamwoolhether/chainsync/foundation/blockchain/database"
)

// ErrNotFound is returned when the requested block is not on disk.
var ErrNotFound = errors.New("block not found")

// Disk represents the storage implementation for reading and storing blocks
// in their own separate files on disk. Round summaries are kept next to the
// blocks so round bookkeeping can be rolled back with the chain.
type Disk struct {
	mu              sync.RWMutex
	dbPath          string
	activeDelegates uint64
	last            uint64
}

// New constructs a Disk value for use and locates the last stored block.
func New(dbPath string, activeDelegates uint64) (*Disk, error) {
	if activeDelegates == 0 {
		return nil, errors.New("active delegates must be greater than zero")
	}

	d := Disk{
		dbPath:          dbPath,
		activeDelegates: activeDelegates,
	}

	if err := d.mkdirs(); err != nil {
		return nil, err
	}

	iter := d.ForEach()
	for _, err := iter.Next(); !iter.Done(); _, err = iter.Next() {
		if err != nil {
			return nil, err
		}
		d.last = iter.current
	}

	return &d, nil
}

// Close in this implementation has nothing to do since a new file is
// written to disk for each new block and then immediately closed.
func (d *Disk) Close() error {
	return nil
}

// Height returns the height of the last block on disk.
func (d *Disk) Height() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.last
}

// SaveBlocks writes the specified blocks to disk in order and records them
// in their round summaries.
func (d *Disk) SaveBlocks(blocks []database.Block) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, block := range blocks {
		if err := d.write(block); err != nil {
			return fmt.Errorf("save block %d: %w", block.Height(), err)
		}

		if err := d.appendRound(block); err != nil {
			return fmt.Errorf("save round for block %d: %w", block.Height(), err)
		}

		if block.Height() > d.last {
			d.last = block.Height()
		}
	}

	return nil
}

// GetBlock searches the blockchain on disk to locate and return the
// contents of the specified block by number.
func (d *Disk) GetBlock(num uint64) (database.Block, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.read(num)
}

// GetBlocks returns the blocks in the inclusive range. The range is cut
// short at the last block on disk.
func (d *Disk) GetBlocks(from, to uint64) ([]database.Block, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if to > d.last {
		to = d.last
	}

	var blocks []database.Block
	for num := from; num <= to && num > 0; num++ {
		block, err := d.read(num)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}

	return blocks, nil
}

// LastBlock returns the block with the highest number on disk.
func (d *Disk) LastBlock() (database.Block, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.last == 0 {
		return database.Block{}, ErrNotFound
	}

	return d.read(d.last)
}

// DeleteAfter removes every block above the specified height.
func (d *Disk) DeleteAfter(height uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for num := d.last; num > height; num-- {
		if err := d.remove(num); err != nil {
			return err
		}
	}

	return nil
}

// DeleteTop physically removes the top n blocks. The genesis block is
// never removed.
func (d *Disk) DeleteTop(n uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := uint64(0); i < n && d.last > 1; i++ {
		if err := d.remove(d.last); err != nil {
			return err
		}
	}

	return nil
}

// RevertBlock removes the block at the specified height, which must be the
// last block on disk.
func (d *Disk) RevertBlock(height uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if height != d.last {
		return fmt.Errorf("revert block %d: last block on disk is %d", height, d.last)
	}

	return d.remove(height)
}

// ForEach returns an iterator to walk through all
// the blocks starting with block number 1.
func (d *Disk) ForEach() *Iterator {
	return &Iterator{storage: d}
}

// Reset will clear out the blockchain on disk.
func (d *Disk) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.RemoveAll(d.dbPath); err != nil {
		return err
	}
	d.last = 0

	return d.mkdirs()
}

// =============================================================================

func (d *Disk) mkdirs() error {
	if err := os.MkdirAll(d.dbPath, 0755); err != nil {
		return err
	}

	return os.MkdirAll(d.roundsPath(), 0755)
}

// write stores the block in a file labeled with the block number.
func (d *Disk) write(block database.Block) error {

	// Marshal the block for writing to disk in a more human readable format.
	data, err := json.MarshalIndent(database.NewBlockData(block), "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(d.getPath(block.Height()), data, 0600)
}

// read loads and decodes the block file for the specified number.
func (d *Disk) read(num uint64) (database.Block, error) {
	f, err := os.Open(d.getPath(num))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return database.Block{}, fmt.Errorf("block %d: %w", num, ErrNotFound)
		}
		return database.Block{}, err
	}
	defer f.Close()

	var blockData database.BlockData
	if err := json.NewDecoder(f).Decode(&blockData); err != nil {
		return database.Block{}, err
	}

	return database.ToBlock(blockData)
}

// remove deletes the block file and trims it from its round summary.
// Only the last block may be removed so the chain stays gapless.
func (d *Disk) remove(num uint64) error {
	if err := os.Remove(d.getPath(num)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if err := d.trimRound(num); err != nil {
		return err
	}

	if num == d.last {
		d.last = num - 1
	}

	return nil
}

// getPath forms the path to the specified block.
func (d *Disk) getPath(blockNum uint64) string {
	name := strconv.FormatUint(blockNum, 10)
	return path.Join(d.dbPath, fmt.Sprintf("%s.json", name))
}

// =============================================================================

// Iterator represents the iteration implementation for walking
// through and reading blocks on disk.
type Iterator struct {
	storage *Disk  // Access to the Disk storage API.
	current uint64 // Current block number being iterated over.
	eoc     bool   // Represents the iterator is at the end of the chain.
}

// Next retrieves the next block from disk.
func (it *Iterator) Next() (database.Block, error) {
	if it.eoc {
		return database.Block{}, errors.New("end of chain")
	}

	block, err := it.storage.read(it.current + 1)
	if errors.Is(err, ErrNotFound) {
		it.eoc = true
		return database.Block{}, nil
	}
	if err == nil {
		it.current++
	}

	return block, err
}

// Done returns the end of chain value.
func (it *Iterator) Done() bool {
	return it.eoc
}
