package buffer

import (
	"sync"
	"time"
)

// Monitor is the lock guarding a Buffer's ring state plus the factory for the
// conditions bound to that lock. The engine is written against this interface
// only; WithMonitor swaps the implementation.
type Monitor interface {
	sync.Locker
	// NewCond returns a condition bound to this monitor's lock.
	NewCond() Cond
}

// Cond is a condition signal bound to a Monitor. All methods are called with
// the monitor held.
type Cond interface {
	// WaitUntil releases the lock, blocks until Signal or Broadcast wakes the
	// caller, the deadline passes, or done is closed, then reacquires the lock.
	// A zero deadline waits without bound; a nil done is never closed.
	// It returns false when the wait ended without a wake.
	WaitUntil(deadline time.Time, done <-chan struct{}) bool
	// Signal wakes the longest waiting caller, if any.
	Signal()
	// Broadcast wakes every waiting caller.
	Broadcast()
}

// NewMonitor returns the default Monitor: a sync.Mutex with FIFO conditions
// built from per-waiter channels, which gives sync.Cond semantics plus a
// deadline.
func NewMonitor() Monitor {
	return &chanMonitor{}
}

type chanMonitor struct {
	sync.Mutex
}

func (m *chanMonitor) NewCond() Cond {
	return &chanCond{l: m}
}

type chanCond struct {
	l       sync.Locker
	waiters []chan struct{}
}

func (c *chanCond) WaitUntil(deadline time.Time, done <-chan struct{}) bool {
	var timeout <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			return false
		}
		t := time.NewTimer(d)
		defer t.Stop()
		timeout = t.C
	}

	ch := make(chan struct{}, 1)
	c.waiters = append(c.waiters, ch)
	c.l.Unlock()

	woken := true
	select {
	case <-ch:
	case <-timeout:
		woken = false
	case <-done:
		woken = false
	}

	c.l.Lock()
	if !woken && !c.remove(ch) {
		// A signal was delivered between the timeout and relocking. This
		// waiter consumes it, so another waiter on the same cond is not
		// woken by it. The buffer allows one waiter per side, and the
		// caller rechecks its predicate either way, so nothing is lost.
		woken = true
	}
	return woken
}

// remove drops ch from the wait list. It reports false when a signaller has
// already taken it off the list.
func (c *chanCond) remove(ch chan struct{}) bool {
	for i, w := range c.waiters {
		if w == ch {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return true
		}
	}
	return false
}

func (c *chanCond) Signal() {
	if len(c.waiters) == 0 {
		return
	}
	ch := c.waiters[0]
	c.waiters[0] = nil
	c.waiters = c.waiters[1:]
	ch <- struct{}{}
}

func (c *chanCond) Broadcast() {
	for _, ch := range c.waiters {
		ch <- struct{}{}
	}
	c.waiters = nil
}
