// Package recovery implements the ordered application error-handler
// chain and its default handler (spec §4.I): each caught error is
// offered to handlers in registration order until one returns normally
// (a handler opts out by re-throwing the exact same error) or the attempt
// cap is reached, at which point the default handler's status-code table
// applies.
package recovery

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/martinanderssondotcom/nomagichttp/internal/contract"
	"github.com/martinanderssondotcom/nomagichttp/internal/httpx"
	"github.com/martinanderssondotcom/nomagichttp/internal/kind"
	"github.com/martinanderssondotcom/nomagichttp/internal/message"
)

// Handler is an application error handler. It receives the error, the
// request that was in flight (possibly nil if the failure occurred
// before a request could be assembled), and a channel to write a
// recovery response through. Returning nil "handles" the error,
// terminating the chain. Returning the exact same error instance
// (identity) opts out, passing to the next handler. Returning a
// different error restarts the chain with that error.
type Handler func(ctx context.Context, err *kind.Error, req *message.Request, ch contract.ResponseChannel) error

// Config controls chain behavior.
type Config struct {
	// MaxAttempts caps how many handler invocations (across restarts) are
	// made before the default handler takes over unconditionally.
	MaxAttempts int
	// IgnoreRejectedInterim silently drops (without logging or
	// responding) a ResponseRejected{PROTOCOL_NOT_SUPPORTED} error raised
	// while writing an interim response on a pre-1.1 connection.
	IgnoreRejectedInterim bool
}

// Chain is the ordered list of application handlers plus the default
// handler, bound to a single exchange's request/channel.
type Chain struct {
	handlers []Handler
	cfg      Config
	log      func(kindName string, err error)
}

// New creates a Chain. log receives a short description for every error
// the default handler classifies as "logged" in spec §4.I's table; pass
// nil to discard.
func New(cfg Config, log func(kindName string, err error), handlers ...Handler) *Chain {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if log == nil {
		log = func(string, error) {}
	}
	return &Chain{handlers: handlers, cfg: cfg, log: log}
}

// Handle runs err through the application handler chain, falling back to
// the default handler. If both produce no response (EndOfStream-style
// "close with no response" outcomes, or an ignored rejected interim), ch
// receives no write and Handle returns nil.
func (c *Chain) Handle(ctx context.Context, err error, req *message.Request, ch contract.ResponseChannel) error {
	ke := kind.Of(err)
	attempts := 0

	for {
		if attempts >= c.cfg.MaxAttempts {
			return c.defaultHandle(ctx, ke, ch)
		}
		if len(c.handlers) == 0 {
			return c.defaultHandle(ctx, ke, ch)
		}

		handled := false
		for _, h := range c.handlers {
			if attempts >= c.cfg.MaxAttempts {
				return c.defaultHandle(ctx, ke, ch)
			}
			attempts++
			next := h(ctx, ke, req, ch)
			if next == nil {
				handled = true
				break
			}
			if next == error(ke) {
				// opted out (same instance) — offer to the next handler
				continue
			}
			// a different error: restart the cycle with it
			ke = kind.Suppress(kind.Of(next), ke)
			goto restart
		}
		if handled {
			ke.HasBeenHandled = true
			return nil
		}
		// every handler opted out
		return c.defaultHandle(ctx, ke, ch)
	restart:
		if attempts >= c.cfg.MaxAttempts {
			return c.defaultHandle(ctx, ke, ch)
		}
	}
}

// defaultHandle applies spec §4.I's exhaustive status-code table.
func (c *Chain) defaultHandle(ctx context.Context, ke *kind.Error, ch contract.ResponseChannel) error {
	switch ke.K {
	case kind.HeadParse, kind.VersionParse, kind.BadHeader:
		return c.respond(ctx, ch, 400, "Bad Request", nil)

	case kind.HTTPVersionTooOld:
		h := httpx.Header{}
		if ke.Upgrade != "" {
			h.Set("Upgrade", ke.Upgrade)
		}
		h.Set("Connection", "Upgrade")
		return c.respond(ctx, ch, 426, "Upgrade Required", h)

	case kind.HTTPVersionTooNew:
		return c.respond(ctx, ch, 505, "HTTP Version Not Supported", nil)

	case kind.NoRouteFound:
		c.log("NoRouteFound", ke)
		return c.respond(ctx, ch, 404, "Not Found", nil)

	case kind.HeadTooLarge:
		c.log("HeadTooLarge", ke)
		return c.respond(ctx, ch, 413, "Request Header Fields Too Large", nil)

	case kind.NoHandlerFound, kind.AmbiguousHandler:
		c.log(ke.K.String(), ke)
		return c.respond(ctx, ch, 501, "Not Implemented", nil)

	case kind.MediaTypeParse, kind.IllegalBody:
		if ke.Fault == kind.FaultApplication {
			c.log(ke.K.String(), ke)
			return c.respond(ctx, ch, 500, "Internal Server Error", nil)
		}
		return c.respond(ctx, ch, 400, "Bad Request", nil)

	case kind.EndOfStream:
		return nil // close connection, no response

	case kind.ResponseRejected:
		if ke.Reason == kind.ProtocolNotSupported && c.cfg.IgnoreRejectedInterim {
			return nil
		}
		c.log("ResponseRejected", ke)
		return c.respond(ctx, ch, 500, "Internal Server Error", nil)

	case kind.HeadTimeout, kind.BodyTimeout:
		return c.respond(ctx, ch, 408, "Request Timeout", nil)

	case kind.ResponseTimeout:
		c.log("ResponseTimeout", ke)
		h := httpx.Header{}
		h.Set("Connection", "close")
		return c.respond(ctx, ch, 503, "Service Unavailable", h)

	default:
		c.log(ke.K.String(), ke)
		return c.respond(ctx, ch, 500, "Internal Server Error", nil)
	}
}

func (c *Chain) respond(ctx context.Context, ch contract.ResponseChannel, status int, reason string, h httpx.Header) error {
	if h == nil {
		h = httpx.Header{}
	}
	body := []byte(fmt.Sprintf("%d %s\n", status, reason))
	h.Set("Content-Length", fmt.Sprintf("%d", len(body)))
	h.Set("Content-Type", "text/plain; charset=utf-8")
	resp, err := message.NewResponse(status, reason, h, message.NewStaticBody(body))
	if err != nil {
		return errors.Wrap(err, "recovery: building default response")
	}
	return ch.Write(ctx, resp)
}
