package syncer

import "fmt"

// FatalError is reported when the chain state can no longer be trusted.
// The embedding application is expected to terminate.
type FatalError struct {
	Op     string
	Height uint64
	ID     string
	Err    error
}

// Error implements the error interface.
func (fe *FatalError) Error() string {
	return fmt.Sprintf("fatal: %s: blk[%d]: id[%s]: %v", fe.Op, fe.Height, fe.ID, fe.Err)
}

// Unwrap returns the underlying error.
func (fe *FatalError) Unwrap() error {
	return fe.Err
}

// Fatal returns the channel a fatal error is delivered on. At most one error
// is ever delivered.
func (s *Syncer) Fatal() <-chan error {
	return s.fatal
}

// fail logs the fatal error, stops the queue from taking more work and
// delivers the error.
func (s *Syncer) fail(fe *FatalError) {
	s.log.Errorw("FATAL", "op", fe.Op, "height", fe.Height, "id", fe.ID, "ERROR", fe.Err)

	s.mu.Lock()
	s.failed = true
	s.mu.Unlock()

	s.queue.Pause()
	s.queue.Clear()

	s.fatalOnce.Do(func() {
		s.fatal <- fe
	})
}

// hasFailed reports if a fatal error was reported.
func (s *Syncer) hasFailed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.failed
}
