package pipeline

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/martinanderssondotcom/nomagichttp/internal/kind"
	"github.com/martinanderssondotcom/nomagichttp/internal/transfer"
)

// readDeadliner is the read-side half of deadliner, kept separate since a
// request body and a response write share a connection but enforce
// independent timeouts (spec §5 "Body timeout").
type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// RequestBody implements message.BodyReader over internal/transfer: each
// Read pulls exactly one item of demand, so the underlying connection
// read only ever happens when a consumer is actually waiting for bytes
// (spec §4.A backing "every lazy body transfer").
type RequestBody struct {
	t   *transfer.Transfer[[]byte]
	src io.ReadCloser

	mu      sync.Mutex
	pending [][]byte
	buf     []byte
	err     error
	done    bool
}

// NewRequestBody wraps src (the framed body reader produced by
// httpx.NewBodyReader) as a message.BodyReader, enforcing timeout as an
// idle-read deadline via dl when timeout > 0.
func NewRequestBody(src io.ReadCloser, dl readDeadliner, timeout time.Duration) *RequestBody {
	b := &RequestBody{src: src}

	pull := func() ([]byte, bool) {
		if timeout > 0 && dl != nil {
			_ = dl.SetReadDeadline(time.Now().Add(timeout))
			defer func() { _ = dl.SetReadDeadline(time.Time{}) }()
		}
		chunk := make([]byte, 32*1024)
		n, rerr := src.Read(chunk)
		if n > 0 {
			return chunk[:n], true
		}
		if rerr != nil && rerr != io.EOF {
			b.mu.Lock()
			if isReadTimeout(rerr) {
				b.err = kind.New(kind.BodyTimeout, rerr, "no body chunk received within the body timeout")
			} else {
				b.err = kind.New(kind.Internal, rerr, "failed reading request body").WithFault(kind.FaultClient)
			}
			b.mu.Unlock()
		}
		return nil, false
	}
	push := func(chunk []byte) {
		b.mu.Lock()
		b.pending = append(b.pending, chunk)
		b.mu.Unlock()
	}
	b.t = transfer.New(pull, push)
	return b
}

// Read implements message.BodyReader.
func (b *RequestBody) Read(p []byte) (int, error) {
	for {
		b.mu.Lock()
		if len(b.buf) == 0 && len(b.pending) > 0 {
			b.buf = b.pending[0]
			b.pending = b.pending[1:]
		}
		if len(b.buf) > 0 {
			n := copy(p, b.buf)
			b.buf = b.buf[n:]
			b.mu.Unlock()
			return n, nil
		}
		if b.err != nil {
			err := b.err
			b.mu.Unlock()
			return 0, err
		}
		if b.done {
			b.mu.Unlock()
			return 0, io.EOF
		}
		b.mu.Unlock()

		b.t.IncreaseDemand(1)

		b.mu.Lock()
		gotData := len(b.pending) > 0 || len(b.buf) > 0
		hasErr := b.err != nil
		b.mu.Unlock()
		if !gotData && !hasErr {
			b.mu.Lock()
			b.done = true
			b.mu.Unlock()
		}
	}
}

// Close marks the body exhausted and releases the underlying reader,
// used both by normal callers and by prepare-for-new-exchange discarding
// an unconsumed body (spec §4.H).
func (b *RequestBody) Close() error {
	b.mu.Lock()
	alreadyDone := b.done
	b.done = true
	b.mu.Unlock()
	if alreadyDone {
		return nil
	}
	return b.src.Close()
}

func isReadTimeout(err error) bool {
	var ne net.Error
	return netErrorAs(err, &ne) && ne.Timeout()
}

// netErrorAs avoids importing errors twice across files for a one-line
// check; kept local since body.go otherwise has no other use for errors.As.
func netErrorAs(err error, target *net.Error) bool {
	for err != nil {
		if ne, ok := err.(net.Error); ok {
			*target = ne
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// ErrorBody is a message.BodyReader that immediately fails every Read
// with a fixed error — used when the body framing itself (malformed
// Content-Length, etc.) could not be established.
type ErrorBody struct{ Err error }

// NewErrorBody wraps err as a BodyReader that never yields bytes.
func NewErrorBody(err error) *ErrorBody { return &ErrorBody{Err: err} }

func (e *ErrorBody) Read([]byte) (int, error) { return 0, e.Err }
func (e *ErrorBody) Close() error             { return nil }
