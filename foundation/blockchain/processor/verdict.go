package processor

// Verdict represents the outcome of processing or reverting a block.
type Verdict int

// Set of verdicts.
const (
	Accepted                  Verdict = iota + 1 // The block was applied.
	Rejected                                     // The block is invalid for the current chain.
	Rollback                                     // The block forks the chain below the head.
	Corrupted                                    // Chain state can no longer be trusted.
	DiscardedButBroadcastable                    // The block lost a same height race but is valid.
)

// String implements the fmt.Stringer interface.
func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case Rollback:
		return "rollback"
	case Corrupted:
		return "corrupted"
	case DiscardedButBroadcastable:
		return "discardedButBroadcastable"
	default:
		return "unknown"
	}
}
