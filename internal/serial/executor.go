// Package serial implements a FIFO, non-overlapping action executor
// (spec §4.B). It replaces the source's custom "serial runnable"
// primitive (spec §9) with a single mutex-guarded queue and a trampoline
// drain loop. In safe mode follow-up work is queued and drained by the
// loop, so the stack does not grow however deep a chain of resubmissions
// goes; recursive mode runs follow-up work inline, so each nested
// resubmission adds a stack frame.
package serial

import "sync"

// Token is handed to an Action while it executes on the executor. Passing
// it back into SubmitAs lets the action resubmit follow-up work using the
// same logical "already on the executor" identity the spec's recursion
// mode requires; Submit (no token) always treats the caller as external.
type Token struct{}

// Action is a unit of work submitted to an Executor. The Token it
// receives identifies the current run and is only useful for a same-call
// recursive SubmitAs.
type Action func(tok *Token)

// Executor runs submitted actions one at a time, in submission order,
// never overlapping two actions from the executor's own perspective —
// whether they originate from the same goroutine or different ones.
type Executor struct {
	mu        sync.Mutex
	queue     []Action
	running   bool
	token     *Token
	recursive bool
}

// New creates an Executor. When recursive is true, an action that calls
// SubmitAs with the Token it was given executes its follow-up action
// immediately and inline instead of being queued; when false ("safe
// mode"), every resubmission — recursive or not — is queued and drained
// by the trampoline loop, making a StackOverflow impossible.
func New(recursive bool) *Executor {
	return &Executor{recursive: recursive}
}

// Submit enqueues action for FIFO execution, or runs it immediately (and
// drains anything queued meanwhile) if the executor is currently idle.
// Submit never treats its caller as already holding the executor — use
// SubmitAs from inside a running Action for the recursive fast path.
func (e *Executor) Submit(action Action) {
	e.submit(nil, action)
}

// SubmitAs resubmits action using tok, the Token an in-flight Action was
// given. If the executor permits recursion and tok is the token of the
// run currently executing, action runs immediately, inline, on the
// calling goroutine. Otherwise it is queued like any other Submit.
func (e *Executor) SubmitAs(tok *Token, action Action) {
	e.submit(tok, action)
}

func (e *Executor) submit(tok *Token, action Action) {
	e.mu.Lock()
	if e.running {
		if e.recursive && tok != nil && tok == e.token {
			e.mu.Unlock()
			action(tok)
			return
		}
		e.queue = append(e.queue, action)
		e.mu.Unlock()
		return
	}
	e.running = true
	myToken := &Token{}
	e.token = myToken
	e.mu.Unlock()

	e.drain(myToken, action)
}

// drain runs action and then, FIFO, anything queued while it (or a later
// queued action) was running. It is a loop, not recursion: arbitrarily
// many resubmissions never grow the call stack.
func (e *Executor) drain(tok *Token, first Action) {
	next := first
	for {
		next(tok)

		e.mu.Lock()
		if len(e.queue) == 0 {
			e.running = false
			e.token = nil
			e.mu.Unlock()
			return
		}
		next = e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()
	}
}

// Idle reports whether the executor currently has no action running and
// nothing queued. Intended for tests/diagnostics, not for coordination —
// the result can be stale the instant it's returned.
func (e *Executor) Idle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.running && len(e.queue) == 0
}
