// Package fsm implements the sync state machine. The transition table is a
// total function over the closed sets of states and events: a pair without a
// transition leaves the state unchanged.
package fsm

import "sync"

// State represents a sync state.
type State int

// Set of sync states.
const (
	Uninitialized State = iota
	Init
	SyncingDownload
	SyncingVerification
	Idle
	NewBlock
	Fork
	Paused
	NetworkHalted
	Exit
)

// String implements the fmt.Stringer interface.
func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Init:
		return "init"
	case SyncingDownload:
		return "syncingDownload"
	case SyncingVerification:
		return "syncingVerification"
	case Idle:
		return "idle"
	case NewBlock:
		return "newBlock"
	case Fork:
		return "fork"
	case Paused:
		return "paused"
	case NetworkHalted:
		return "networkHalted"
	case Exit:
		return "exit"
	default:
		return "unknown"
	}
}

// Event represents the input to the state machine.
type Event int

// Set of events.
const (
	Start Event = iota + 1
	Stop
	WakeUp
	NewBlockEv
	ProcessFinished
	Synced
	NotSynced
	Test
	PausedEv
	ForkEv
	NetworkHaltedEv
)

// String implements the fmt.Stringer interface.
func (e Event) String() string {
	switch e {
	case Start:
		return "START"
	case Stop:
		return "STOP"
	case WakeUp:
		return "WAKEUP"
	case NewBlockEv:
		return "NEWBLOCK"
	case ProcessFinished:
		return "PROCESSFINISHED"
	case Synced:
		return "SYNCED"
	case NotSynced:
		return "NOTSYNCED"
	case Test:
		return "TEST"
	case PausedEv:
		return "PAUSED"
	case ForkEv:
		return "FORK"
	case NetworkHaltedEv:
		return "NETWORKHALTED"
	default:
		return "UNKNOWN"
	}
}

// Transition returns the state the machine moves to when the event is
// received in the specified state. When no transition is defined the same
// state is returned and ok is false.
func Transition(from State, ev Event) (to State, ok bool) {
	if ev == Stop && from != Exit {
		return Exit, true
	}

	switch from {
	case Uninitialized:
		switch ev {
		case Start:
			return Init, true
		}

	case Init:
		switch ev {
		case Synced, Test:
			return Idle, true
		case NotSynced:
			return SyncingDownload, true
		case PausedEv:
			return Paused, true
		case ForkEv:
			return Fork, true
		case NetworkHaltedEv:
			return NetworkHalted, true
		case NewBlockEv:
			return NewBlock, true
		}

	case SyncingDownload:
		switch ev {
		case ProcessFinished:
			return SyncingVerification, true
		case Synced:
			return Idle, true
		case NotSynced:
			return SyncingDownload, true
		case PausedEv:
			return Paused, true
		case ForkEv:
			return Fork, true
		case NetworkHaltedEv:
			return NetworkHalted, true
		}

	case SyncingVerification:
		switch ev {
		case Synced, Test:
			return Idle, true
		case NotSynced:
			return SyncingDownload, true
		case PausedEv:
			return Paused, true
		case ForkEv:
			return Fork, true
		case NetworkHaltedEv:
			return NetworkHalted, true
		}

	case Idle:
		switch ev {
		case NewBlockEv:
			return NewBlock, true
		case WakeUp:
			return SyncingVerification, true
		case NotSynced:
			return SyncingDownload, true
		case ForkEv:
			return Fork, true
		case PausedEv:
			return Paused, true
		}

	case NewBlock:
		switch ev {
		case NewBlockEv:
			return NewBlock, true
		case ProcessFinished:
			return Idle, true
		case WakeUp:
			return SyncingVerification, true
		case ForkEv:
			return Fork, true
		}

	case Fork:
		switch ev {
		case ProcessFinished:
			return SyncingVerification, true
		}

	case Paused:
		switch ev {
		case WakeUp:
			return SyncingVerification, true
		case ForkEv:
			return Fork, true
		}

	case NetworkHalted:
		switch ev {
		case WakeUp:
			return SyncingVerification, true
		case ForkEv:
			return Fork, true
		case NewBlockEv:
			return NewBlock, true
		}
	}

	return from, false
}

// =============================================================================

// EnterFunc is called after the machine enters a state.
type EnterFunc func(from State, ev Event)

// TransitionFunc is called after every defined transition.
type TransitionFunc func(from State, to State, ev Event)

// Machine holds the current state and runs the enter actions registered
// for each state.
type Machine struct {
	mu           sync.RWMutex
	state        State
	enter        map[State]EnterFunc
	onTransition TransitionFunc
}

// New constructs a machine in the uninitialized state.
func New() *Machine {
	return &Machine{
		state: Uninitialized,
		enter: make(map[State]EnterFunc),
	}
}

// OnEnter registers the action run every time the state is entered,
// including transitions from the state to itself.
func (m *Machine) OnEnter(s State, fn EnterFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.enter[s] = fn
}

// OnTransition registers a function called after every defined transition.
func (m *Machine) OnTransition(fn TransitionFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.onTransition = fn
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.state
}

// Is reports if the machine is in the specified state.
func (m *Machine) Is(s State) bool {
	return m.Current() == s
}

// Dispatch moves the machine with the event. The state is updated before
// the enter action runs, so an action may dispatch further events. It
// reports if a transition was defined.
func (m *Machine) Dispatch(ev Event) (State, bool) {
	m.mu.Lock()
	from := m.state
	to, ok := Transition(from, ev)
	if !ok {
		m.mu.Unlock()
		return from, false
	}
	m.state = to
	enter := m.enter[to]
	onTransition := m.onTransition
	m.mu.Unlock()

	if onTransition != nil {
		onTransition(from, to, ev)
	}

	if enter != nil {
		enter(from, ev)
	}

	return to, true
}
