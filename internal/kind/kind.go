// Package kind defines the closed taxonomy of error kinds the exchange
// orchestrator and error handler chain dispatch on (spec §7).
package kind

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies the category of failure that interrupted an exchange.
// It is never a Go type hierarchy on purpose: a single comparable value
// keeps the default handler's table (§4.I) a flat switch.
type Kind int

const (
	Unknown Kind = iota
	HeadParse
	BadHeader
	HeadTooLarge
	HeadTimeout
	VersionParse
	HTTPVersionTooOld
	HTTPVersionTooNew
	NoRouteFound
	NoHandlerFound
	AmbiguousHandler
	MediaTypeParse
	IllegalBody
	BodyTimeout
	EndOfStream
	ResponseTimeout
	ResponseRejected
	ClientAborted
	Internal
)

func (k Kind) String() string {
	switch k {
	case HeadParse:
		return "HeadParse"
	case BadHeader:
		return "BadHeader"
	case HeadTooLarge:
		return "HeadTooLarge"
	case HeadTimeout:
		return "HeadTimeout"
	case VersionParse:
		return "VersionParse"
	case HTTPVersionTooOld:
		return "HttpVersionTooOld"
	case HTTPVersionTooNew:
		return "HttpVersionTooNew"
	case NoRouteFound:
		return "NoRouteFound"
	case NoHandlerFound:
		return "NoHandlerFound"
	case AmbiguousHandler:
		return "AmbiguousHandler"
	case MediaTypeParse:
		return "MediaTypeParse"
	case IllegalBody:
		return "IllegalBody"
	case BodyTimeout:
		return "BodyTimeout"
	case EndOfStream:
		return "EndOfStream"
	case ResponseTimeout:
		return "ResponseTimeout"
	case ResponseRejected:
		return "ResponseRejected"
	case ClientAborted:
		return "ClientAborted"
	case Internal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// RejectionReason refines a ResponseRejected error (§4.G "Rejections").
type RejectionReason int

const (
	_ RejectionReason = iota
	AlreadyFinal
	ChannelClosed
	ProtocolNotSupported
)

func (r RejectionReason) String() string {
	switch r {
	case AlreadyFinal:
		return "ALREADY_FINAL"
	case ChannelClosed:
		return "CHANNEL_CLOSED"
	case ProtocolNotSupported:
		return "PROTOCOL_NOT_SUPPORTED"
	default:
		return "UNKNOWN"
	}
}

// Fault distinguishes a client-caused failure from an application-caused
// one. The default handler table (§4.I) logs and status-codes these
// differently for MediaTypeParse/IllegalBody.
type Fault int

const (
	// FaultUnspecified leaves attribution to the Kind alone.
	FaultUnspecified Fault = iota
	FaultClient
	FaultApplication
)

// Error is the concrete error value threaded through the exchange
// orchestrator and the recovery chain. It wraps an underlying cause with
// github.com/pkg/errors so the chain can walk Cause() while exposing a
// stable, switchable Kind to callers.
type Error struct {
	K        Kind
	Reason   RejectionReason // only meaningful when K == ResponseRejected
	Fault    Fault           // only meaningful when K == MediaTypeParse or IllegalBody
	Upgrade  string          // only meaningful when K == HTTPVersionTooOld
	HasBeenHandled bool      // set true once an application handler has handled it (returned nil)

	cause           error
	suppressedTrail []*Error
}

// Suppressed returns the trail of errors this one superseded during
// recovery, oldest first (§7 "Chained suppression").
func (e *Error) Suppressed() []*Error { return e.suppressedTrail }

// New creates a Error of kind k wrapping cause. cause may be nil.
func New(k Kind, cause error, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	var wrapped error
	if cause != nil {
		wrapped = errors.Wrap(cause, msg)
	} else {
		wrapped = errors.New(msg)
	}
	return &Error{K: k, cause: wrapped}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s", e.K, e.cause.Error())
	}
	return e.K.String()
}

// Unwrap exposes the pkg/errors cause chain to errors.Is/As/Unwrap.
func (e *Error) Unwrap() error { return e.cause }

// Cause returns the deepest pkg/errors cause, mirroring errors.Cause.
func (e *Error) Cause() error {
	if e.cause == nil {
		return nil
	}
	return errors.Cause(e.cause)
}

// WithReason sets the RejectionReason and returns e for chaining.
func (e *Error) WithReason(r RejectionReason) *Error {
	e.Reason = r
	return e
}

// WithFault sets the Fault attribution and returns e for chaining.
func (e *Error) WithFault(f Fault) *Error {
	e.Fault = f
	return e
}

// WithUpgrade sets the Upgrade target protocol and returns e for chaining.
func (e *Error) WithUpgrade(proto string) *Error {
	e.Upgrade = proto
	return e
}

// Of extracts the *Error from err, unwrapping completion-style wrappers
// (spec §9 "unwrap_cause") until a *Error or the bottom of the chain is
// reached. If err is not a *Error anywhere in its chain, a fresh
// Internal-kind Error wrapping err is returned, so callers can always
// treat the result as a Kind-bearing value.
func Of(err error) *Error {
	if err == nil {
		return nil
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if ke, ok := e.(*Error); ok {
			return ke
		}
	}
	return New(Internal, err, "unclassified error")
}

// Suppress appends prior onto next's suppressed trail and returns next.
func Suppress(next *Error, prior *Error) *Error {
	if next == nil || prior == nil || next == prior {
		return next
	}
	next.suppressedTrail = append(append([]*Error{}, prior.suppressedTrail...), prior)
	return next
}
