package message

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/martinanderssondotcom/nomagichttp/internal/httpx"
)

// BodyWriter is the lazy, possibly-unbounded sequence of bytes a Response
// streams out. nil means no body.
type BodyWriter interface {
	// Next pulls the next chunk, or ok=false when the body is exhausted.
	Next() (chunk []byte, ok bool)
}

// StaticBody wraps a fixed byte slice as a one-shot BodyWriter.
type StaticBody struct {
	b    []byte
	sent bool
}

// NewStaticBody wraps b as a BodyWriter that yields it exactly once.
func NewStaticBody(b []byte) *StaticBody { return &StaticBody{b: b} }

func (s *StaticBody) Next() ([]byte, bool) {
	if s.sent || len(s.b) == 0 {
		return nil, false
	}
	s.sent = true
	return s.b, true
}

// Response is an immutable, build-time-validated HTTP response (spec §3,
// §4.F). Construction enforces:
//   - at most one Content-Length header value
//   - 1xx (interim) responses carry no body, no Connection: close, and
//     imply no Content-Length
type Response struct {
	statusCode int
	reason     string
	protoMajor int
	protoMinor int
	header     httpx.Header
	body       BodyWriter
	mustClose  bool
}

// NewResponse validates and builds a Response. statusCode must be in
// [100, 599]; reason may be empty (a default is supplied by the caller's
// status table, not here).
func NewResponse(statusCode int, reason string, header httpx.Header, body BodyWriter) (*Response, error) {
	if statusCode < 100 || statusCode > 599 {
		return nil, fmt.Errorf("message: status code %d out of range", statusCode)
	}
	h := header.Clone()

	if n := len(h.Values("Content-Length")); n > 1 {
		return nil, fmt.Errorf("message: at most one Content-Length header is allowed, got %d", n)
	}

	interim := statusCode >= 100 && statusCode < 200
	closeWanted := hasConnectionClose(h)

	if interim {
		if body != nil {
			return nil, fmt.Errorf("message: 1xx response %d must not carry a body", statusCode)
		}
		if closeWanted {
			return nil, fmt.Errorf("message: 1xx response %d must not set Connection: close", statusCode)
		}
		if h.Get("Content-Length") != "" {
			return nil, fmt.Errorf("message: 1xx response %d must not set Content-Length", statusCode)
		}
	}

	return &Response{
		statusCode: statusCode,
		reason:     reason,
		protoMajor: 1,
		protoMinor: 1,
		header:     h,
		body:       body,
		mustClose:  closeWanted,
	}, nil
}

func hasConnectionClose(h httpx.Header) bool {
	for _, v := range h.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(tok), "close") {
				return true
			}
		}
	}
	return false
}

func (r *Response) StatusCode() int      { return r.statusCode }
func (r *Response) Reason() string       { return r.reason }
func (r *Response) Header() httpx.Header { return r.header }
func (r *Response) Body() BodyWriter     { return r.body }
func (r *Response) IsInterim() bool      { return r.statusCode >= 100 && r.statusCode < 200 }
func (r *Response) MustClose() bool      { return r.mustClose }

// ContentLength returns the declared length and whether one was set.
func (r *Response) ContentLength() (int64, bool) {
	v := r.header.Get("Content-Length")
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// WithHeader returns a derived Response with name set to value,
// replacing any prior values — a copy, never a mutation of r.
func (r *Response) WithHeader(name, value string) (*Response, error) {
	h := r.header.Clone()
	h.Set(name, value)
	return NewResponse(r.statusCode, r.reason, h, r.body)
}

// WithStatus returns a derived Response with a different status code.
func (r *Response) WithStatus(code int, reason string) (*Response, error) {
	return NewResponse(code, reason, r.header, r.body)
}
