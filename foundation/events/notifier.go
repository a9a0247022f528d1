package events

import (
	"encoding/json"

	"github.com/adamwoolhether/chainsync/foundation/blockchain/database"
)

// Notification is the message sent to the receivers when a block arrives
// at the node.
type Notification struct {
	Kind   string `json:"kind"`
	Height uint64 `json:"height"`
	Hash   string `json:"hash"`
	Reason string `json:"reason,omitempty"`
}

// Notification kinds.
const (
	KindBlockReceived    = "blockReceived"
	KindBlockDisregarded = "blockDisregarded"
)

// Notifier turns the blocks the node hears about into JSON messages sent to
// the registered receivers.
type Notifier struct {
	evts *Events
}

// NewNotifier constructs a notifier on top of the events.
func NewNotifier(evts *Events) Notifier {
	return Notifier{evts: evts}
}

// BlockReceived announces a block was accepted for processing.
func (n Notifier) BlockReceived(block database.Block) {
	n.send(Notification{
		Kind:   KindBlockReceived,
		Height: block.Height(),
		Hash:   block.Hash(),
	})
}

// BlockDisregarded announces a block was turned away.
func (n Notifier) BlockDisregarded(block database.Block, reason string) {
	n.send(Notification{
		Kind:   KindBlockDisregarded,
		Height: block.Height(),
		Hash:   block.Hash(),
		Reason: reason,
	})
}

func (n Notifier) send(msg Notification) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	n.evts.Send(string(data))
}
