package database

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// AccountID represents an account on the blockchain.
type AccountID string

// Account represents information stored in the database for an individual account.
type Account struct {
	AccountID AccountID `json:"account"`
	Nonce     uint64    `json:"nonce"`
	Balance   uint64    `json:"balance"`
}

// Tx is the transactional information between two parties.
type Tx struct {
	From   AccountID `json:"from" validate:"required"` // Account sending the transfer.
	To     AccountID `json:"to" validate:"required"`   // Account receiving the transfer.
	Amount uint64    `json:"amount"`                   // Monetary value received from this transaction.
	Fee    uint64    `json:"fee"`                      // Fee paid to the block generator.
	Nonce  uint64    `json:"nonce" validate:"gt=0"`    // Unique id for the transaction supplied by the sender.
}

// Hash returns the unique hash for the transaction.
func (tx Tx) Hash() string {
	return crypto.Keccak256Hash(tx.encode()).Hex()
}

// String implements the fmt.Stringer interface for logging.
func (tx Tx) String() string {
	return fmt.Sprintf("%s:%d", tx.From, tx.Nonce)
}

func (tx Tx) hashBytes() []byte {
	return crypto.Keccak256(tx.encode())
}

func (tx Tx) encode() []byte {
	data, err := json.Marshal(tx)
	if err != nil {
		return nil
	}

	return data
}
