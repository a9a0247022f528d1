package events_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamwoolhether/chainsync/foundation/blockchain/database"
	"github.com/adamwoolhether/chainsync/foundation/events"
)

func TestNotifier(t *testing.T) {
	evts := events.New()
	defer evts.Shutdown()

	ch := evts.Acquire("viewer")
	n := events.NewNotifier(evts)

	block := database.NewBlock("forger", database.NewBlock("forger", database.Block{}, 1, nil), 11, nil)

	n.BlockReceived(block)
	n.BlockDisregarded(block, "too late")

	var got events.Notification
	require.NoError(t, json.Unmarshal([]byte(<-ch), &got))
	assert.Equal(t, events.Notification{Kind: events.KindBlockReceived, Height: 2, Hash: block.Hash()}, got)

	got = events.Notification{}
	require.NoError(t, json.Unmarshal([]byte(<-ch), &got))
	assert.Equal(t, events.KindBlockDisregarded, got.Kind)
	assert.Equal(t, "too late", got.Reason)
}

func TestRelease(t *testing.T) {
	evts := events.New()

	ch := evts.Acquire("a")
	assert.Equal(t, 1, evts.Len())

	require.NoError(t, evts.Release("a"))
	_, open := <-ch
	assert.False(t, open)

	assert.Error(t, evts.Release("a"))

	// Sending with nobody registered must not block.
	evts.Send("nobody")
}
