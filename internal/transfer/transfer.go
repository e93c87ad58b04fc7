// Package transfer implements the demand-gated, single-producer/
// single-consumer backpressure primitive described in spec §4.A. It
// underlies lazy request body delivery (internal/pipeline's RequestBody);
// response bodies are written without it.
package transfer

import "sync/atomic"

// Unbounded is the demand sentinel meaning "deliver without limit."
// Once demand saturates at Unbounded it is never decremented again.
const Unbounded int64 = 1<<63 - 1

// finishedMark is the demand-cell sentinel meaning the service has been
// finished; distinct from any legal demand value (demand is never
// negative).
const finishedMark int64 = -1

// Producer yields the next item, or ok=false if none is currently
// available (not necessarily permanently — the next TryTransfer or
// IncreaseDemand may find one).
type Producer[T any] func() (item T, ok bool)

// Consumer receives one item per invocation.
type Consumer[T any] func(item T)

// Transfer moves items from a Producer to a Consumer, strictly serially,
// only when both a pulled item and outstanding demand exist. See spec
// §4.A for the full contract.
type Transfer[T any] struct {
	pull     Producer[T]
	push     Consumer[T]
	demand   atomic.Int64
	running  atomic.Bool
	runAgain atomic.Bool

	beforeFirst atomic.Pointer[func()]
	afterFinish atomic.Pointer[func()]
}

// New creates a Transfer with zero initial demand. Call IncreaseDemand to
// authorize deliveries.
func New[T any](pull Producer[T], push Consumer[T]) *Transfer[T] {
	return &Transfer[T]{pull: pull, push: push}
}

// OnBeforeFirstDelivery registers a callback invoked exactly once,
// immediately before the first item is ever delivered to the consumer.
// Must be called before the first TryTransfer/IncreaseDemand to be
// guaranteed to observe it; safe to call at most once.
func (t *Transfer[T]) OnBeforeFirstDelivery(cb func()) {
	t.beforeFirst.Store(&cb)
}

// IncreaseDemand authorizes n additional deliveries (n must be >= 1) and
// immediately attempts a transfer. Demand saturates at Unbounded; once
// saturated, further increases are no-ops (aside from still attempting a
// transfer, which is harmless).
func (t *Transfer[T]) IncreaseDemand(n int64) {
	if n < 1 {
		panic("transfer: IncreaseDemand requires n >= 1")
	}
	for {
		cur := t.demand.Load()
		if cur == finishedMark {
			return
		}
		if cur == Unbounded {
			break
		}
		next := cur + n
		if next < cur || next >= Unbounded { // overflow or saturation
			next = Unbounded
		}
		if t.demand.CompareAndSwap(cur, next) {
			break
		}
	}
	t.TryTransfer()
}

// TryTransfer initiates a delivery attempt. If a transfer is already in
// progress (on this or another goroutine) it schedules one to follow and
// returns immediately without blocking.
func (t *Transfer[T]) TryTransfer() {
	if !t.running.CompareAndSwap(false, true) {
		t.runAgain.Store(true)
		return
	}
	for {
		t.drainWhileDemanded()

		if t.runAgain.CompareAndSwap(true, false) {
			continue
		}
		t.running.Store(false)
		// Re-check: a concurrent caller may have set runAgain after our
		// CAS above but before we cleared running.
		if t.runAgain.Load() && t.running.CompareAndSwap(false, true) {
			continue
		}
		return
	}
}

// drainWhileDemanded repeatedly pulls and pushes items while demand and
// producer supply both allow it (§4.A steps i–v in a loop).
func (t *Transfer[T]) drainWhileDemanded() {
	for {
		d := t.demand.Load()
		if d == finishedMark {
			if cb := t.afterFinish.Swap(nil); cb != nil {
				(*cb)()
			}
			return
		}
		if d <= 0 {
			return
		}

		item, ok := t.pull()
		if !ok {
			return
		}

		if cb := t.beforeFirst.Swap(nil); cb != nil {
			(*cb)()
		}

		t.push(item) // a panic here propagates to the TryTransfer caller.

		for {
			cur := t.demand.Load()
			if cur == finishedMark || cur == Unbounded {
				break
			}
			if t.demand.CompareAndSwap(cur, cur-1) {
				break
			}
		}
	}
}

// Finish atomically stops future transfers. cb runs exactly once: either
// immediately (if the service is idle) or appended to the transfer
// currently in progress. Finish returns false if the service was already
// finished, in which case cb does not run.
func (t *Transfer[T]) Finish(cb func()) bool {
	for {
		cur := t.demand.Load()
		if cur == finishedMark {
			return false
		}
		if t.demand.CompareAndSwap(cur, finishedMark) {
			break
		}
	}
	t.afterFinish.Store(&cb)
	t.TryTransfer()
	return true
}

// Finished reports whether Finish has already taken effect.
func (t *Transfer[T]) Finished() bool {
	return t.demand.Load() == finishedMark
}

// Demand returns the current outstanding demand. It returns -1 once
// finished and Unbounded once saturated; intended for tests/diagnostics.
func (t *Transfer[T]) Demand() int64 {
	return t.demand.Load()
}
