package fsm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamwoolhether/chainsync/foundation/blockchain/fsm"
)

func TestTransition(t *testing.T) {
	tt := []struct {
		name string
		from fsm.State
		ev   fsm.Event
		to   fsm.State
		ok   bool
	}{
		{"start", fsm.Uninitialized, fsm.Start, fsm.Init, true},
		{"init synced", fsm.Init, fsm.Synced, fsm.Idle, true},
		{"init test", fsm.Init, fsm.Test, fsm.Idle, true},
		{"init not synced", fsm.Init, fsm.NotSynced, fsm.SyncingDownload, true},
		{"download finished", fsm.SyncingDownload, fsm.ProcessFinished, fsm.SyncingVerification, true},
		{"download again", fsm.SyncingDownload, fsm.NotSynced, fsm.SyncingDownload, true},
		{"verification synced", fsm.SyncingVerification, fsm.Synced, fsm.Idle, true},
		{"verification paused", fsm.SyncingVerification, fsm.PausedEv, fsm.Paused, true},
		{"verification halted", fsm.SyncingVerification, fsm.NetworkHaltedEv, fsm.NetworkHalted, true},
		{"idle new block", fsm.Idle, fsm.NewBlockEv, fsm.NewBlock, true},
		{"idle wake up", fsm.Idle, fsm.WakeUp, fsm.SyncingVerification, true},
		{"new block finished", fsm.NewBlock, fsm.ProcessFinished, fsm.Idle, true},
		{"new block fork", fsm.NewBlock, fsm.ForkEv, fsm.Fork, true},
		{"fork finished", fsm.Fork, fsm.ProcessFinished, fsm.SyncingVerification, true},
		{"paused wake up", fsm.Paused, fsm.WakeUp, fsm.SyncingVerification, true},
		{"halted wake up", fsm.NetworkHalted, fsm.WakeUp, fsm.SyncingVerification, true},
		{"halted new block", fsm.NetworkHalted, fsm.NewBlockEv, fsm.NewBlock, true},
		{"stop from idle", fsm.Idle, fsm.Stop, fsm.Exit, true},
		{"stop from uninitialized", fsm.Uninitialized, fsm.Stop, fsm.Exit, true},

		{"exit is terminal", fsm.Exit, fsm.Start, fsm.Exit, false},
		{"exit ignores stop", fsm.Exit, fsm.Stop, fsm.Exit, false},
		{"uninitialized ignores new block", fsm.Uninitialized, fsm.NewBlockEv, fsm.Uninitialized, false},
		{"download ignores new block", fsm.SyncingDownload, fsm.NewBlockEv, fsm.SyncingDownload, false},
		{"idle ignores synced", fsm.Idle, fsm.Synced, fsm.Idle, false},
		{"fork ignores new block", fsm.Fork, fsm.NewBlockEv, fsm.Fork, false},
		{"unknown event", fsm.Idle, fsm.Event(99), fsm.Idle, false},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			to, ok := fsm.Transition(tc.from, tc.ev)
			assert.Equal(t, tc.to, to)
			assert.Equal(t, tc.ok, ok)
		})
	}
}

func TestMachineDispatch(t *testing.T) {
	m := fsm.New()
	require.Equal(t, fsm.Uninitialized, m.Current())

	var entered []fsm.State
	var transitions int

	m.OnTransition(func(from, to fsm.State, ev fsm.Event) {
		transitions++
	})
	m.OnEnter(fsm.Init, func(from fsm.State, ev fsm.Event) {
		entered = append(entered, fsm.Init)

		// Enter actions may dispatch since the state is already updated.
		m.Dispatch(fsm.NotSynced)
	})
	m.OnEnter(fsm.SyncingDownload, func(from fsm.State, ev fsm.Event) {
		entered = append(entered, fsm.SyncingDownload)
	})

	state, ok := m.Dispatch(fsm.Start)
	require.True(t, ok)
	assert.Equal(t, fsm.Init, state)
	assert.Equal(t, fsm.SyncingDownload, m.Current())
	assert.Equal(t, []fsm.State{fsm.Init, fsm.SyncingDownload}, entered)
	assert.Equal(t, 2, transitions)

	_, ok = m.Dispatch(fsm.NewBlockEv)
	assert.False(t, ok)
	assert.True(t, m.Is(fsm.SyncingDownload))
	assert.Equal(t, 2, transitions)
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "syncingVerification", fsm.SyncingVerification.String())
	assert.Equal(t, "NETWORKHALTED", fsm.NetworkHaltedEv.String())
	assert.Equal(t, "unknown", fsm.State(42).String())
}
