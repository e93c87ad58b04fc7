// Package contract defines the narrow interfaces that let the route
// registry (internal/router), the response pipeline (internal/pipeline),
// and the exchange orchestrator (internal/exchange) refer to a handler
// invocation and a response write channel without importing each other.
package contract

import (
	"context"

	"github.com/martinanderssondotcom/nomagichttp/internal/message"
)

// ResponseChannel is the write handle a handler uses to emit a response.
// A handler may write any number of interim (1xx) responses followed by
// a final response. A write is rejected (spec §4.G "ResponseRejected")
// while a final response is still being written, and after a final
// response that closes the connection; once a final response on a
// persistent connection has finished, the channel accepts writes again.
type ResponseChannel interface {
	Write(ctx context.Context, resp *message.Response) error
}

// HandlerFunc is the application-supplied callable attached to a route
// (spec §3 "Handler"). A synchronous handler writes its final response
// and returns nil before returning; an asynchronous handler may return
// before the final response has been written, continuing to write via ch
// from another goroutine — the orchestrator waits on the pipeline's
// completion signal, not on this function returning.
type HandlerFunc func(ctx context.Context, req *message.Request, ch ResponseChannel) error
