// Package signal provides the closed set of chain signals other parts of the
// node can listen for.
package signal

import "sync"

// Kind identifies a chain signal.
type Kind int

// Set of chain signals.
const (
	ForgingMissed Kind = iota + 1 // A slot passed without a block being forged.
	RoundApplied                  // The last block of a round was applied.
)

// String implements the fmt.Stringer interface.
func (k Kind) String() string {
	switch k {
	case ForgingMissed:
		return "forgingMissed"
	case RoundApplied:
		return "roundApplied"
	default:
		return "unknown"
	}
}

// Hub delivers emitted signals to the registered listeners.
type Hub struct {
	mu        sync.RWMutex
	listeners map[Kind][]func()
}

// NewHub constructs a hub with no listeners.
func NewHub() *Hub {
	return &Hub{
		listeners: make(map[Kind][]func()),
	}
}

// Listen registers fn to be called every time the signal is emitted.
func (h *Hub) Listen(kind Kind, fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.listeners[kind] = append(h.listeners[kind], fn)
}

// Emit calls every listener registered for the signal, in registration order.
func (h *Hub) Emit(kind Kind) {
	h.mu.RLock()
	fns := make([]func(), len(h.listeners[kind]))
	copy(fns, h.listeners[kind])
	h.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}
