package transfer

import (
	"sync"
)

// Signal is a level-triggered shutdown flag shared by a session's loops.
// Once triggered it stays triggered; the first cause wins.
type Signal struct {
	once  sync.Once
	done  chan struct{}
	mu    sync.Mutex
	cause error
	hooks []func(cause error)
}

// NewSignal returns an untriggered signal.
func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// OnTrigger registers fn to run once, in the triggering goroutine, when the
// signal fires. Hooks registered after the signal fired never run.
func (s *Signal) OnTrigger(fn func(cause error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Trigger sets the signal. Calls after the first are no-ops.
func (s *Signal) Trigger(cause error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.cause = cause
		hooks := s.hooks
		s.hooks = nil
		s.mu.Unlock()

		close(s.done)
		for _, fn := range hooks {
			fn(cause)
		}
	})
}

// IsSet reports whether the signal has been triggered.
func (s *Signal) IsSet() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Done is closed when the signal is triggered.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Cause returns the error passed to the first Trigger call.
func (s *Signal) Cause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}
