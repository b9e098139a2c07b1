package jobs

import (
	"sync"
	"sync/atomic"
)

// CancelToken is a one-shot cooperative cancellation signal. Workers poll
// Requested at checkpoints or select on Done.
type CancelToken struct {
	requested atomic.Bool
	once      sync.Once
	done      chan struct{}
}

// NewCancelToken returns an unset token.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel sets the signal. It reports true for the call that set it.
func (t *CancelToken) Cancel() bool {
	set := false
	t.once.Do(func() {
		t.requested.Store(true)
		close(t.done)
		set = true
	})
	return set
}

// Requested reports whether Cancel has been called.
func (t *CancelToken) Requested() bool {
	return t.requested.Load()
}

// Done is closed once Cancel is called.
func (t *CancelToken) Done() <-chan struct{} {
	return t.done
}
