// Package database maintains account balances and the block model for the
// blockchain.
package database

import (
	"fmt"
	"sync"

	"github.com/adamwoolhether/chainsync/foundation/blockchain/genesis"
)

// Database manages data related to accounts who have transacted on the blockchain.
type Database struct {
	mu       sync.RWMutex
	genesis  genesis.Genesis
	accounts map[AccountID]Account
}

// New constructs a new database and applies the genesis balances.
func New(gen genesis.Genesis) *Database {
	db := Database{
		genesis: gen,
	}
	db.Reset()

	return &db
}

// Reset re-initializes the database back to the genesis state.
func (db *Database) Reset() {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.accounts = make(map[AccountID]Account)
	for accountStr, balance := range db.genesis.Balances {
		accountID := AccountID(accountStr)
		db.accounts[accountID] = Account{AccountID: accountID, Balance: balance}
	}
}

// Query returns a copy of the account from the database.
func (db *Database) Query(accountID AccountID) (Account, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	account, exists := db.accounts[accountID]
	if !exists {
		return Account{}, fmt.Errorf("account %s does not exist", accountID)
	}

	return account, nil
}

// Copy makes a copy of the current database for all accounts.
func (db *Database) Copy() map[AccountID]Account {
	db.mu.RLock()
	defer db.mu.RUnlock()

	accounts := make(map[AccountID]Account)
	for accountID, info := range db.accounts {
		accounts[accountID] = info
	}

	return accounts
}

// ApplyTx performs the business logic for applying a transaction to the
// database. Nothing is changed when an error is returned.
func (db *Database) ApplyTx(generator AccountID, tx Tx) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	// Capture the accounts involved. The generator may also be the sender
	// or the recipient so all changes are made against the same copies.
	accts := db.capture(tx.From, tx.To, generator)

	// Perform basic accounting checks.
	{
		from := accts[tx.From]

		if tx.From == tx.To {
			return fmt.Errorf("transaction invalid, sending money to yourself, from %s, to %s", tx.From, tx.To)
		}

		if tx.Nonce != from.Nonce+1 {
			return fmt.Errorf("transaction invalid, wrong nonce, current %d, provided %d", from.Nonce, tx.Nonce)
		}

		if from.Balance < tx.Amount+tx.Fee {
			return fmt.Errorf("transaction invalid, insufficient funds, bal %d, needed %d", from.Balance, tx.Amount+tx.Fee)
		}
	}

	accts.update(tx.From, func(a *Account) {
		a.Balance -= tx.Amount + tx.Fee
		a.Nonce = tx.Nonce
	})
	accts.update(tx.To, func(a *Account) { a.Balance += tx.Amount })
	accts.update(generator, func(a *Account) { a.Balance += tx.Fee })

	db.commit(accts)

	return nil
}

// RevertTx undoes a previously applied transaction. An error means the
// database does not hold the state the transaction left behind and nothing
// is changed.
func (db *Database) RevertTx(generator AccountID, tx Tx) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	accts := db.capture(tx.From, tx.To, generator)

	if accts[tx.From].Nonce != tx.Nonce {
		return fmt.Errorf("revert invalid, nonce mismatch for %s, current %d, provided %d", tx.From, accts[tx.From].Nonce, tx.Nonce)
	}

	if accts[tx.To].Balance < tx.Amount {
		return fmt.Errorf("revert invalid, insufficient funds for %s, bal %d, needed %d", tx.To, accts[tx.To].Balance, tx.Amount)
	}
	accts.update(tx.To, func(a *Account) { a.Balance -= tx.Amount })

	if accts[generator].Balance < tx.Fee {
		return fmt.Errorf("revert invalid, insufficient fee funds for %s, bal %d, needed %d", generator, accts[generator].Balance, tx.Fee)
	}
	accts.update(generator, func(a *Account) { a.Balance -= tx.Fee })

	accts.update(tx.From, func(a *Account) {
		a.Balance += tx.Amount + tx.Fee
		a.Nonce = tx.Nonce - 1
	})

	db.commit(accts)

	return nil
}

// =============================================================================

// accounts is a working set of accounts touched by a single transaction.
type accounts map[AccountID]Account

func (a accounts) update(id AccountID, fn func(*Account)) {
	acct := a[id]
	fn(&acct)
	a[id] = acct
}

// capture copies the specified accounts out of the database. The caller
// must hold the lock.
func (db *Database) capture(ids ...AccountID) accounts {
	accts := make(accounts, len(ids))
	for _, id := range ids {
		acct := db.accounts[id]
		acct.AccountID = id
		accts[id] = acct
	}

	return accts
}

// commit writes the working set back. The caller must hold the lock.
func (db *Database) commit(accts accounts) {
	for id, acct := range accts {
		db.accounts[id] = acct
	}
}
