// Package pipeline implements the per-connection response write pipeline
// (spec §4.G): serialized writes over internal/serial, a
// Idle/StreamingInterim/StreamingFinal/Closed state machine, and
// rejection/timeout classification into the internal/kind taxonomy.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/martinanderssondotcom/nomagichttp/internal/httpx"
	"github.com/martinanderssondotcom/nomagichttp/internal/kind"
	"github.com/martinanderssondotcom/nomagichttp/internal/message"
	"github.com/martinanderssondotcom/nomagichttp/internal/serial"
)

// State is the pipeline's position in its write lifecycle.
type State int

const (
	Idle State = iota
	StreamingInterim
	StreamingFinal
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case StreamingInterim:
		return "StreamingInterim"
	case StreamingFinal:
		return "StreamingFinal"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

type deadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Pipeline serializes all response writes for a single connection.
// Exactly one Pipeline exists per connection, reused and reset across
// successive exchanges via Reset.
type Pipeline struct {
	w            io.Writer
	dl           deadliner
	exec         *serial.Executor
	writeTimeout time.Duration

	mu         sync.Mutex
	state      State
	protoMajor int
	protoMinor int
	attempted  bool
	onComplete func(err error)
}

// New creates a Pipeline writing to w, optionally enforcing writeTimeout
// via dl's write deadline.
func New(w io.Writer, dl deadliner, writeTimeout time.Duration) *Pipeline {
	return &Pipeline{w: w, dl: dl, exec: serial.New(false), writeTimeout: writeTimeout}
}

// Reset prepares the pipeline for a new exchange: protoMajor/protoMinor
// govern whether interim responses are permitted (spec §4.G,
// "PROTOCOL_NOT_SUPPORTED" applies below HTTP/1.1), and onComplete is
// invoked at most once: when the final response finishes writing, when
// any write (interim or final) fails (with that non-nil error), or when
// CloseNow closes the pipeline first (with a nil error).
func (p *Pipeline) Reset(protoMajor, protoMinor int, onComplete func(err error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = Idle
	p.protoMajor = protoMajor
	p.protoMinor = protoMinor
	p.attempted = false
	p.onComplete = onComplete
}

// Attempted reports whether Write has been called since the last Reset
// and passed validation (regardless of whether the wire write itself
// later succeeded). The exchange orchestrator uses this to detect the
// "no response was ever produced" outcomes in spec §4.I's default table
// (EndOfStream, an ignored rejected interim with nothing following it)
// and force the connection closed rather than waiting on a completion
// signal that nothing will ever fire.
func (p *Pipeline) Attempted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempted
}

// State reports the pipeline's current state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Write implements contract.ResponseChannel. It serializes the actual
// wire write via internal/serial so concurrent/async handler goroutines
// never interleave bytes on the connection.
func (p *Pipeline) Write(ctx context.Context, resp *message.Response) error {
	p.mu.Lock()
	switch p.state {
	case Closed:
		p.mu.Unlock()
		return kind.New(kind.ResponseRejected, nil, "pipeline is closed").WithReason(kind.ChannelClosed).WithFault(kind.FaultApplication)
	case StreamingFinal:
		p.mu.Unlock()
		return kind.New(kind.ResponseRejected, nil, "a final response has already been written").WithReason(kind.AlreadyFinal).WithFault(kind.FaultApplication)
	}

	interim := resp.IsInterim()
	if interim && !p.supportsInterimLocked() {
		p.mu.Unlock()
		return kind.New(kind.ResponseRejected, nil, "HTTP/%d.%d does not support interim responses", p.protoMajor, p.protoMinor).
			WithReason(kind.ProtocolNotSupported).WithFault(kind.FaultApplication)
	}
	if interim {
		p.state = StreamingInterim
	} else {
		p.state = StreamingFinal
	}
	p.attempted = true
	p.mu.Unlock()

	errCh := make(chan error, 1)
	p.exec.Submit(func(*serial.Token) {
		errCh <- p.writeWire(ctx, resp)
	})
	err := <-errCh

	if err != nil {
		p.complete(Closed, err)
		return err
	}
	if interim {
		p.mu.Lock()
		p.state = Idle
		p.mu.Unlock()
		return nil
	}
	if resp.MustClose() {
		p.complete(Closed, nil)
	} else {
		p.complete(Idle, nil)
	}
	return nil
}

// CloseNow forces the pipeline into Closed, for use by the exchange
// orchestrator when request-side factors (protocol defaults, an inbound
// Connection: close) demand closing the connection even though the
// pipeline's own view of the response did not. Idempotent.
func (p *Pipeline) CloseNow() {
	p.mu.Lock()
	alreadyClosed := p.state == Closed
	p.state = Closed
	cb := p.onComplete
	p.onComplete = nil
	p.mu.Unlock()
	if !alreadyClosed && cb != nil {
		cb(nil)
	}
}

// supportsInterimLocked reports whether the negotiated protocol version
// permits 1xx responses. Must be called with p.mu held.
func (p *Pipeline) supportsInterimLocked() bool {
	return p.protoMajor > 1 || (p.protoMajor == 1 && p.protoMinor >= 1)
}

// complete transitions to next (Idle to allow connection reuse, or
// Closed) after a final response write settles, and fires onComplete
// exactly once.
func (p *Pipeline) complete(next State, err error) {
	p.mu.Lock()
	p.state = next
	cb := p.onComplete
	p.onComplete = nil
	p.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

// writeWire performs the actual serialization onto the connection,
// enforcing the response write timeout and classifying failures.
func (p *Pipeline) writeWire(ctx context.Context, resp *message.Response) error {
	if p.writeTimeout > 0 && p.dl != nil {
		_ = p.dl.SetWriteDeadline(time.Now().Add(p.writeTimeout))
		defer func() { _ = p.dl.SetWriteDeadline(time.Time{}) }()
	}

	var body io.Reader
	if bw := resp.Body(); bw != nil {
		body = &bodyToReader{bw: bw}
	}

	hr := &httpx.Response{
		Proto:      fmt.Sprintf("HTTP/%d.%d", p.protoMajor, p.protoMinor),
		StatusCode: resp.StatusCode(),
		Status:     resp.Reason(),
		Header:     resp.Header(),
		Body:       body,
	}

	err := httpx.WriteResponse(ctx, p.w, hr)
	if err == nil {
		return nil
	}
	if isWriteTimeout(err) {
		return kind.New(kind.ResponseTimeout, err, "no byte of the response advanced within the write deadline")
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		// body producer yielded fewer bytes than Content-Length declared
		// (io.CopyN reports this as io.EOF). The status line and headers
		// are already on the wire by then; the write fails with an
		// application-fault Internal error.
		return kind.New(kind.Internal, err, "response body shorter than declared Content-Length").WithFault(kind.FaultApplication)
	}
	var ke *kind.Error
	if errors.As(err, &ke) {
		// httpx already classified this one (e.g. a malformed
		// Content-Length header set by the handler): don't re-attribute it.
		return ke
	}
	return kind.New(kind.Internal, err, "failed writing response").WithFault(kind.FaultClient)
}

func isWriteTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// bodyToReader adapts a message.BodyWriter (chunk-pull) into an
// io.Reader for httpx.WriteResponse's Content-Length/chunked/until-close
// body strategies.
type bodyToReader struct {
	bw  message.BodyWriter
	buf []byte
}

func (a *bodyToReader) Read(p []byte) (int, error) {
	for len(a.buf) == 0 {
		chunk, ok := a.bw.Next()
		if !ok {
			return 0, io.EOF
		}
		a.buf = chunk
	}
	n := copy(p, a.buf)
	a.buf = a.buf[n:]
	return n, nil
}
