// Package exchange implements the per-connection exchange orchestrator
// (spec §4.H): it drives the Accept → ReadingHead → Routing → Dispatching
// → ProducingResponse → Completing state machine, wiring the head parser,
// route registry, handler selector, request/response model, response
// pipeline, and error handler chain around one connection at a time.
package exchange

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/martinanderssondotcom/nomagichttp/internal/contract"
	"github.com/martinanderssondotcom/nomagichttp/internal/head"
	"github.com/martinanderssondotcom/nomagichttp/internal/httpx"
	"github.com/martinanderssondotcom/nomagichttp/internal/kind"
	"github.com/martinanderssondotcom/nomagichttp/internal/message"
	"github.com/martinanderssondotcom/nomagichttp/internal/pipeline"
	"github.com/martinanderssondotcom/nomagichttp/internal/recovery"
	"github.com/martinanderssondotcom/nomagichttp/internal/router"
)

// Conn is the subset of net.Conn an exchange Loop needs: byte source/sink
// plus independent read/write deadlines (spec §6 "byte source/sink"
// collaborator contract).
type Conn interface {
	io.Reader
	io.Writer
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Config bundles the per-connection policy knobs spec §6 enumerates that
// govern a single exchange loop; pool sizing and the recovery attempt cap
// live one level up, in the server and recovery packages respectively.
type Config struct {
	MaxRequestHeadSize int
	RejectHTTP10       bool
	HeadTimeout        time.Duration
	BodyTimeout        time.Duration
	ResponseTimeout    time.Duration
}

// Loop drives repeated request/response exchanges on a single connection
// until a non-persistent outcome, a clean close, or an unrecoverable
// error ends it.
type Loop struct {
	conn     Conn
	registry *router.Registry
	recovery *recovery.Chain
	cfg      Config

	headParser *head.Parser
	pipe       *pipeline.Pipeline
}

// New creates a Loop for conn, matching requests against registry and
// funnelling unrecovered errors through rec.
func New(conn Conn, registry *router.Registry, rec *recovery.Chain, cfg Config) *Loop {
	return &Loop{
		conn:       conn,
		registry:   registry,
		recovery:   rec,
		cfg:        cfg,
		headParser: head.New(conn, conn, head.Limits{MaxBytes: cfg.MaxRequestHeadSize}, cfg.HeadTimeout),
		pipe:       pipeline.New(conn, conn, cfg.ResponseTimeout),
	}
}

// Run drives exchanges until the connection stops being persistent
// (either party signalled close, or an unrecoverable error occurred),
// then closes conn. ctx is checked between exchanges (a cancelled ctx
// ends the loop before the next head is read) and is passed to body
// reads and handlers; it does not interrupt a read or write blocked on
// conn, which only closing conn does (spec §4.H "Cancellation"). Callers
// pass a context tied to the connection's lifetime, typically cancelled
// by the server's stop_now.
func (l *Loop) Run(ctx context.Context) {
	defer func() { _ = l.conn.Close() }()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !l.runOne(ctx) {
			return
		}
	}
}

// runOne runs a single exchange to completion and reports whether the
// connection should remain open for another one.
func (l *Loop) runOne(ctx context.Context) bool {
	h, err := l.headParser.Parse()
	if err != nil {
		if errors.Is(err, head.ErrConnectionClosed) {
			return false
		}
		l.finalizeWithoutRequest(ctx, kind.Of(err), 1, 1)
		return false
	}

	if ke := checkVersion(h, l.cfg.RejectHTTP10); ke != nil {
		l.finalizeWithoutRequest(ctx, ke, h.ProtoMajor, h.ProtoMinor)
		return false
	}

	completeCh := make(chan error, 1)
	l.pipe.Reset(h.ProtoMajor, h.ProtoMinor, func(err error) { completeCh <- err })

	req, match, asmErr := l.assemble(ctx, h)
	ch := contract.ResponseChannel(&methodGuardChannel{next: l.pipe, method: h.Method})

	dispatchErr := asmErr
	if dispatchErr == nil {
		dispatchErr = l.dispatch(ctx, req, match, ch)
	}
	if dispatchErr != nil {
		_ = l.recovery.Handle(ctx, kind.Of(dispatchErr), req, ch)
	}

	if !l.pipe.Attempted() {
		// Nothing was ever written for this exchange (spec §4.I
		// EndOfStream, or an ignored rejected interim with no
		// subsequent write) — there is no well-defined way to resume
		// reading the next request, so the connection closes.
		l.pipe.CloseNow()
	}
	finalErr := <-completeCh

	// The pipeline only sees the final response's own close flag; an
	// inbound Connection: close (or an HTTP/1.0 request without
	// keep-alive) is a request-side factor it has no visibility into
	// (spec §4.G), so the orchestrator forces it here. Harmless once
	// the pipeline already closed on its own.
	if requestWantsClose(h) {
		l.pipe.CloseNow()
	}

	l.prepareForNewExchange(req)

	return finalErr == nil && l.pipe.State() == pipeline.Idle
}

// requestWantsClose reports whether the request itself demands the
// connection close after this exchange: an explicit Connection: close,
// or HTTP/1.0 without an explicit Connection: keep-alive.
func requestWantsClose(h *head.Head) bool {
	hasToken := func(name string) bool {
		for _, v := range h.Header.Values("Connection") {
			for _, tok := range strings.Split(v, ",") {
				if strings.EqualFold(strings.TrimSpace(tok), name) {
					return true
				}
			}
		}
		return false
	}
	if hasToken("close") {
		return true
	}
	if h.ProtoMajor == 1 && h.ProtoMinor == 0 {
		return !hasToken("keep-alive")
	}
	return false
}

// finalizeWithoutRequest runs the recovery chain for a failure that
// occurred before a Request could be assembled (head parse itself
// failed, or the negotiated version is rejected).
func (l *Loop) finalizeWithoutRequest(ctx context.Context, ke *kind.Error, major, minor int) {
	completeCh := make(chan error, 1)
	l.pipe.Reset(major, minor, func(err error) { completeCh <- err })
	_ = l.recovery.Handle(ctx, ke, nil, l.pipe)
	if !l.pipe.Attempted() {
		l.pipe.CloseNow()
	}
	<-completeCh
}

// assemble builds the immutable Request facade before handler lookup
// happens, so that an error handler for a routing failure still
// receives a non-null request (spec §4.H "Request assembly precedes
// handler lookup"). It returns the route match (nil if routing failed)
// alongside the error that should short-circuit dispatch, if any.
func (l *Loop) assemble(ctx context.Context, h *head.Head) (*message.Request, *router.Match, error) {
	path, rawQuery := splitTarget(h.Target)
	match, matchErr := l.registry.Lookup(path)

	var params []message.ParamBinding
	if match != nil {
		for _, p := range match.Params {
			params = append(params, message.ParamBinding{Name: p.Name, Raw: p.Raw, Decoded: p.Decoded})
		}
	}

	body := l.newBody(ctx, h)
	req := message.NewRequest(uuid.New(), h.Method, h.Target, h.ProtoMajor, h.ProtoMinor, h.Header, params, rawQuery, body)
	req = req.WithContext(ctx)

	if ke := checkIllegalRequestBody(h); ke != nil {
		return req, match, ke
	}
	if matchErr != nil {
		return req, match, matchErr
	}
	return req, match, nil
}

// dispatch selects a handler for the matched route by method and
// content negotiation, then invokes it.
func (l *Loop) dispatch(ctx context.Context, req *message.Request, match *router.Match, ch contract.ResponseChannel) error {
	var contentType *router.MediaType
	if raw := req.Header().Get("Content-Type"); raw != "" {
		ct, perr := router.ParseContentType(raw)
		if perr != nil {
			return kind.New(kind.MediaTypeParse, perr, "malformed Content-Type header").WithFault(kind.FaultClient)
		}
		contentType = &ct
	}

	var accept []router.MediaType
	if raw := req.Header().Get("Accept"); raw != "" {
		a, perr := router.ParseAccept(raw)
		if perr != nil {
			return kind.New(kind.MediaTypeParse, perr, "malformed Accept header").WithFault(kind.FaultClient)
		}
		accept = a
	}

	handler, err := router.Select(match.Handlers, req.Method(), contentType, accept)
	if err != nil {
		return err
	}
	return handler.Call(ctx, req, ch)
}

// prepareForNewExchange discards any unconsumed request body (only if
// nothing ever subscribed to it) so the connection can be reused for
// the next exchange (spec §4.H "After final response").
func (l *Loop) prepareForNewExchange(req *message.Request) {
	if req == nil {
		return
	}
	if body := req.Body(); body != nil {
		_ = body.Close()
	}
}

// newBody frames the request body per its headers (Content-Length,
// Transfer-Encoding, or read-until-close) and wraps it as a
// message.BodyReader driven by the transfer engine (spec §4.A).
func (l *Loop) newBody(ctx context.Context, h *head.Head) message.BodyReader {
	// Body bytes may already sit in the head parser's internal buffer
	// (it reads ahead of the blank line), so framing must continue from
	// there, not from a fresh read of the raw connection.
	r, _, err := httpx.NewBodyReader(ctx, h.Header, l.headParser.BodyReader(), 0)
	if err != nil {
		return pipeline.NewErrorBody(kind.Of(err))
	}
	return pipeline.NewRequestBody(r, l.conn, l.cfg.BodyTimeout)
}

// checkVersion implements spec §4.H's post-head-parse version policy.
func checkVersion(h *head.Head, rejectHTTP10 bool) *kind.Error {
	switch {
	case h.ProtoMajor < 1:
		return kind.New(kind.HTTPVersionTooOld, nil, "HTTP/%d.%d is not supported", h.ProtoMajor, h.ProtoMinor).WithUpgrade("HTTP/1.1")
	case h.ProtoMajor > 1:
		return kind.New(kind.HTTPVersionTooNew, nil, "HTTP/%d.%d is not supported", h.ProtoMajor, h.ProtoMinor)
	case h.ProtoMajor == 1 && h.ProtoMinor == 0 && rejectHTTP10:
		return kind.New(kind.HTTPVersionTooOld, nil, "HTTP/1.0 is rejected by configuration").WithUpgrade("HTTP/1.1")
	default:
		return nil
	}
}

// checkIllegalRequestBody enforces the one request-side IllegalBody rule
// from spec §4.H: a TRACE request must not carry a body.
func checkIllegalRequestBody(h *head.Head) *kind.Error {
	if h.Method != "TRACE" {
		return nil
	}
	if h.Header.Get("Content-Length") == "" && !strings.EqualFold(h.Header.Get("Transfer-Encoding"), "chunked") {
		return nil
	}
	return kind.New(kind.IllegalBody, nil, "TRACE requests must not carry a body").WithFault(kind.FaultClient)
}

// splitTarget separates a request-target into its path and raw query
// components, without doing any percent-decoding (router.Normalize and
// message.parseQuery each decode their own half independently).
func splitTarget(target string) (path, rawQuery string) {
	if i := strings.IndexByte(target, '?'); i >= 0 {
		return target[:i], target[i+1:]
	}
	return target, ""
}

// methodGuardChannel enforces the response-side IllegalBody rule from
// spec §4.H: a HEAD or CONNECT response must not carry a body.
type methodGuardChannel struct {
	next   contract.ResponseChannel
	method string
}

func (c *methodGuardChannel) Write(ctx context.Context, resp *message.Response) error {
	if !resp.IsInterim() && resp.Body() != nil && (c.method == "HEAD" || c.method == "CONNECT") {
		return kind.New(kind.IllegalBody, nil, "%s responses must not carry a body", c.method).WithFault(kind.FaultApplication)
	}
	return c.next.Write(ctx, resp)
}
