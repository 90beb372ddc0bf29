package authtests

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"
)

// Correlator is a reusable counting barrier for asynchronous notifications.
//
// Records are appended by OnEvent, normally from notification dispatch goroutines. Once an
// expectation has been set with SetCount, the Correlator signals completion the first time
// the number of records equals it; Wait blocks until that signal or a timeout. Each cycle
// fires at most once. Clear starts a new cycle, and must be called before re-arming if
// records from the previous cycle should not count.
//
// An expectation of zero, like no expectation at all, never fires: Wait then always times
// out, which is how a test checks that nothing arrives within a period.
type Correlator[T any] struct {
	expected ldvalue.OptionalInt
	records  []T
	done     chan struct{}
	fired    bool
	lock     sync.Mutex
}

// NewCorrelator creates a Correlator with no expectation.
func NewCorrelator[T any]() *Correlator[T] {
	return &Correlator[T]{done: make(chan struct{})}
}

// SetCount arms the Correlator. If exactly n records have already arrived in this cycle, it
// fires immediately.
func (c *Correlator[T]) SetCount(n int) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.expected = ldvalue.NewOptionalInt(n)
	c.checkLocked()
}

// OnEvent appends a record and fires if the expectation has just been reached.
func (c *Correlator[T]) OnEvent(record T) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.records = append(c.records, record)
	c.checkLocked()
}

func (c *Correlator[T]) checkLocked() {
	if c.fired || !c.expected.IsDefined() {
		return
	}
	if n := c.expected.IntValue(); n > 0 && len(c.records) == n {
		c.fired = true
		close(c.done)
	}
}

// Wait blocks until the Correlator fires or the timeout elapses. On success it returns a copy
// of the records; otherwise the error wraps ErrTimeout. Neither outcome clears or disarms the
// Correlator.
func (c *Correlator[T]) Wait(timeout time.Duration) ([]T, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	return c.wait(deadline.C, nil, timeout.String())
}

// WaitContext is like Wait, but the deadline comes from ctx.
func (c *Correlator[T]) WaitContext(ctx context.Context) ([]T, error) {
	return c.wait(nil, ctx.Done(), "context done")
}

func (c *Correlator[T]) wait(timer <-chan time.Time, ctxDone <-chan struct{}, limit string) ([]T, error) {
	c.lock.Lock()
	done := c.done
	c.lock.Unlock()

	select {
	case <-done:
		return c.Records(), nil
	case <-timer:
	case <-ctxDone:
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	expected := "no expectation"
	if c.expected.IsDefined() {
		expected = fmt.Sprintf("expected %d", c.expected.IntValue())
	}
	return nil, fmt.Errorf("%w (%s): received %d, %s", ErrTimeout, limit, len(c.records), expected)
}

// Clear discards all records and the expectation, and starts a new cycle.
func (c *Correlator[T]) Clear() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.records = nil
	c.expected = ldvalue.OptionalInt{}
	c.fired = false
	c.done = make(chan struct{})
}

// Records returns a copy of the records received in this cycle.
func (c *Correlator[T]) Records() []T {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]T(nil), c.records...)
}

// Len returns the number of records received in this cycle.
func (c *Correlator[T]) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.records)
}

// Collect returns a NotificationHandler that feeds every notification of type T into c and
// ignores the rest.
func Collect[T Notification](c *Correlator[T]) NotificationHandler {
	return func(n Notification) {
		if v, ok := n.(T); ok {
			c.OnEvent(v)
		}
	}
}
