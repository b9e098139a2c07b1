package joblog

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"
)

// ErrClosed is returned by Publish once the end sentinel has been emitted.
var ErrClosed = errors.New("log channel closed")

// Kind distinguishes ordinary entries from the end sentinel.
type Kind string

const (
	KindEntry Kind = "entry"
	KindEnd   Kind = "end"
)

// Message is one element of a job's log stream.
type Message struct {
	Seq       uint64            `json:"seq"`
	Time      time.Time         `json:"ts"`
	Kind      Kind              `json:"kind"`
	Level     string            `json:"level,omitempty"`
	Component string            `json:"component,omitempty"`
	Stage     string            `json:"stage,omitempty"`
	Text      string            `json:"msg,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// IsEnd reports whether the message is the end-of-stream sentinel.
func (m Message) IsEnd() bool { return m.Kind == KindEnd }

// Policy selects what happens when the buffer is full.
type Policy string

const (
	// PolicyDropOldest evicts the oldest retained message.
	PolicyDropOldest Policy = "drop_oldest"
	// PolicyBlock waits up to BlockTimeout for a reader to consume, then
	// evicts the oldest message.
	PolicyBlock Policy = "block"
)

const defaultCapacity = 1024

// Options configures a Channel.
type Options struct {
	Capacity     int
	Policy       Policy
	BlockTimeout time.Duration
	// Replay keeps delivered messages so every subscriber can read from the
	// oldest retained one. Without replay, Fetch consumes what it returns.
	Replay bool
}

// Validate rejects option combinations that cannot make progress.
func (o Options) Validate() error {
	switch o.Policy {
	case "", PolicyDropOldest:
	case PolicyBlock:
		if o.BlockTimeout <= 0 {
			return errors.New("block policy requires a positive block timeout")
		}
		if o.Replay {
			return errors.New("block policy cannot be combined with replay: readers never free space")
		}
	default:
		return fmt.Errorf("unknown back-pressure policy %q", o.Policy)
	}
	if o.Capacity < 0 {
		return errors.New("capacity must not be negative")
	}
	return nil
}

func (o Options) normalized() Options {
	if o.Capacity <= 0 {
		o.Capacity = defaultCapacity
	}
	if o.Validate() != nil {
		o.Policy = PolicyDropOldest
	}
	if o.Policy == "" {
		o.Policy = PolicyDropOldest
	}
	return o
}

// Channel is a bounded, ordered log stream for one job.
type Channel struct {
	mu      sync.Mutex
	cond    *sync.Cond
	opts    Options
	buffer  []Message
	nextSeq uint64
	dropped uint64
	closed  bool
	now     func() time.Time
}

// New constructs a channel. Invalid options fall back to drop-oldest.
func New(opts Options) *Channel {
	c := &Channel{opts: opts.normalized(), now: time.Now}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Options reports the effective options.
func (c *Channel) Options() Options {
	return c.opts
}

// Publish appends an entry. It never blocks longer than the block timeout.
func (c *Channel) Publish(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if len(c.buffer) >= c.opts.Capacity {
		c.waitForSpaceLocked()
		if c.closed {
			return ErrClosed
		}
	}
	msg.Kind = KindEntry
	c.appendLocked(msg)
	return nil
}

// Close emits the end sentinel. It reports false when the channel was
// already closed, so the sentinel appears exactly once.
func (c *Channel) Close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.appendLocked(Message{Kind: KindEnd})
	c.closed = true
	return true
}

// Closed reports whether the sentinel has been emitted.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Dropped counts messages evicted because the buffer was full.
func (c *Channel) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Len reports the number of retained messages.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

func (c *Channel) appendLocked(msg Message) {
	if len(c.buffer) >= c.opts.Capacity {
		c.buffer = slices.Delete(c.buffer, 0, 1)
		c.dropped++
	}
	c.nextSeq++
	msg.Seq = c.nextSeq
	if msg.Time.IsZero() {
		msg.Time = c.now().UTC()
	}
	c.buffer = append(c.buffer, msg)
	c.cond.Broadcast()
}

func (c *Channel) waitForSpaceLocked() {
	if c.opts.Policy != PolicyBlock {
		return
	}
	deadline := c.now().Add(c.opts.BlockTimeout)
	timer := time.AfterFunc(c.opts.BlockTimeout, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer timer.Stop()
	for len(c.buffer) >= c.opts.Capacity && !c.closed && c.now().Before(deadline) {
		c.cond.Wait()
	}
}

// Fetch returns up to limit messages with sequence greater than since and the
// sequence to pass on the next call. When wait is true, Fetch blocks until at
// least one message is available or ctx ends. Without replay the returned
// messages are consumed.
func (c *Channel) Fetch(ctx context.Context, since uint64, limit int, wait bool) ([]Message, uint64, error) {
	if limit <= 0 || limit > c.opts.Capacity {
		limit = c.opts.Capacity
	}

	stopWait := make(chan struct{})
	if wait && ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				c.mu.Lock()
				c.cond.Broadcast()
				c.mu.Unlock()
			case <-stopWait:
			}
		}()
	}
	defer close(stopWait)

	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		out := c.snapshotLocked(since, limit)
		if len(out) > 0 {
			next := out[len(out)-1].Seq
			if !c.opts.Replay {
				c.consumeLocked(next)
			}
			return out, next, nil
		}
		if !wait {
			return nil, since, contextError(ctx)
		}
		if err := contextError(ctx); err != nil {
			return nil, since, err
		}
		c.cond.Wait()
	}
}

func (c *Channel) snapshotLocked(since uint64, limit int) []Message {
	start, _ := slices.BinarySearchFunc(c.buffer, since+1, func(m Message, seq uint64) int {
		switch {
		case m.Seq < seq:
			return -1
		case m.Seq > seq:
			return 1
		default:
			return 0
		}
	})
	if start >= len(c.buffer) {
		return nil
	}
	end := min(start+limit, len(c.buffer))
	return slices.Clone(c.buffer[start:end])
}

func (c *Channel) consumeLocked(through uint64) {
	n := 0
	for n < len(c.buffer) && c.buffer[n].Seq <= through {
		n++
	}
	if n == 0 {
		return
	}
	c.buffer = slices.Delete(c.buffer, 0, n)
	c.cond.Broadcast()
}

// Subscribe returns a lazy, ordered sequence of messages after since. It ends
// after yielding the end sentinel, when ctx ends, or when the consumer stops.
func (c *Channel) Subscribe(ctx context.Context, since uint64) iter.Seq[Message] {
	return func(yield func(Message) bool) {
		cursor := since
		for {
			batch, next, err := c.Fetch(ctx, cursor, 0, true)
			if err != nil {
				return
			}
			for _, msg := range batch {
				if !yield(msg) || msg.IsEnd() {
					return
				}
			}
			cursor = next
		}
	}
}

// Messages subscribes from the oldest retained message.
func (c *Channel) Messages(ctx context.Context) iter.Seq[Message] {
	return c.Subscribe(ctx, 0)
}

func contextError(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
