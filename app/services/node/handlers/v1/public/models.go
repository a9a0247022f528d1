package public

import (
	"github.com/adamwoolhether/chainsync/foundation/blockchain/database"
)

type acct struct {
	Account database.AccountID `json:"account"`
	Balance uint64             `json:"balance"`
	Nonce   uint64             `json:"nonce"`
}

type acctInfo struct {
	LatestBlock string `json:"latest_block"`
	Height      uint64 `json:"height"`
	Uncommitted int    `json:"uncommitted"`
	Accounts    []acct `json:"accounts"`
}
