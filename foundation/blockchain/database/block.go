package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/adamwoolhether/chainsync/foundation/blockchain/genesis"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/merkle"
)

// ZeroHash represents a hash code of zeros.
const ZeroHash string = "0x0000000000000000000000000000000000000000000000000000000000000000"

// ErrHashMismatch is returned by the block factory when the provided hash does
// not match the content of the block.
var ErrHashMismatch = errors.New("block hash does not match content")

// BlockHeader represents common information required for each block.
type BlockHeader struct {
	Number        uint64 `json:"number" validate:"required"`          // Height of the block in the chain, genesis is 1.
	PrevBlockHash string `json:"prev_block_hash" validate:"required"` // Hash of the previous block in the chain.
	TimeStamp     uint64 `json:"time_stamp"`                          // Unix seconds the block was forged.
	Generator     string `json:"generator" validate:"required"`       // Account of the forger.
	NumTxs        int    `json:"num_txs" validate:"gte=0"`            // Declared number of transactions.
	PayloadHash   string `json:"payload_hash"`                        // Hash over the transaction hashes.
}

// BlockData represents the block as it travels between nodes and is
// written to disk.
type BlockData struct {
	Hash   string      `json:"hash" validate:"required"`
	Header BlockHeader `json:"header" validate:"required"`
	Txs    []Tx        `json:"txs" validate:"dive"`
}

// Block represents a group of transactions batched together.
type Block struct {
	Header       BlockHeader
	Transactions []Tx
	hash         string
}

// NewBlock constructs a block on top of the parent with the specified
// transactions. Used by the genesis builder and local forgers.
func NewBlock(generator string, parent Block, timeStamp uint64, txs []Tx) Block {
	prevHash := ZeroHash
	number := uint64(1)
	if parent.Header.Number > 0 {
		prevHash = parent.Hash()
		number = parent.Header.Number + 1
	}

	block := Block{
		Header: BlockHeader{
			Number:        number,
			PrevBlockHash: prevHash,
			TimeStamp:     timeStamp,
			Generator:     generator,
			NumTxs:        len(txs),
			PayloadHash:   PayloadHash(txs),
		},
		Transactions: txs,
	}
	block.hash = hashHeader(block.Header)

	return block
}

// GenesisBlock builds the block at height 1 from the genesis information.
func GenesisBlock(gen genesis.Genesis) Block {
	return NewBlock(gen.Generator, Block{}, uint64(gen.Date.Unix()), nil)
}

// ToBlock is the block factory. It converts the data received from the
// network or disk into a block, validating the hash matches the content.
func ToBlock(data BlockData) (Block, error) {
	block := Block{
		Header:       data.Header,
		Transactions: data.Txs,
		hash:         hashHeader(data.Header),
	}

	if data.Hash != "" && data.Hash != block.hash {
		return Block{}, fmt.Errorf("block %d: %w: got %s, exp %s", data.Header.Number, ErrHashMismatch, data.Hash, block.hash)
	}

	return block, nil
}

// NewBlockData constructs the data that is sent over the wire and to disk.
func NewBlockData(block Block) BlockData {
	return BlockData{
		Hash:   block.Hash(),
		Header: block.Header,
		Txs:    block.Transactions,
	}
}

// Hash returns the unique hash for the block.
func (b Block) Hash() string {
	if b.Header.Number == 0 {
		return ZeroHash
	}

	if b.hash == "" {
		return hashHeader(b.Header)
	}

	return b.hash
}

// Height returns the height of the block.
func (b Block) Height() uint64 {
	return b.Header.Number
}

// Time returns the time the block was forged.
func (b Block) Time() time.Time {
	return time.Unix(int64(b.Header.TimeStamp), 0)
}

// IsZero reports if the block has not been set.
func (b Block) IsZero() bool {
	return b.Header.Number == 0
}

// =============================================================================

// PayloadHash returns the merkle root over the transaction hashes.
func PayloadHash(txs []Tx) string {
	if len(txs) == 0 {
		return ZeroHash
	}

	leaves := make([][]byte, len(txs))
	for i, tx := range txs {
		leaves[i] = tx.hashBytes()
	}

	tree, err := merkle.NewTree(leaves)
	if err != nil {
		return ZeroHash
	}

	return hexutil.Encode(tree.Root())
}

// hashHeader returns the identity of a block. Only the header is hashed since
// the header commits to the transactions through the payload hash.
func hashHeader(header BlockHeader) string {
	data, err := json.Marshal(header)
	if err != nil {
		return ZeroHash
	}

	return crypto.Keccak256Hash(data).Hex()
}
