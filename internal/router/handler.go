package router

import (
	"fmt"

	"github.com/martinanderssondotcom/nomagichttp/internal/contract"
)

// Handler is a (method, accepts, produces, callable) tuple attached to a
// route (spec §3 "Handler"). Accepts is the set of content-types this
// handler is willing to consume; an empty set means "no requirement" —
// it accepts a request with no body/Content-Type too. Produces is the
// set of media types the handler can emit, used to rank it against a
// request's Accept header; an empty set means "negotiation does not
// apply" and the handler ranks as an exact match with q=1, so it ties
// with any other handler at that top rank (an AmbiguousHandler error).
type Handler struct {
	Method   string
	Accepts  []MediaType
	Produces []MediaType
	Call     contract.HandlerFunc
}

func (h *Handler) signature() string {
	return fmt.Sprintf("%s|%s|%s", h.Method, mediaSetKey(h.Accepts), mediaSetKey(h.Produces))
}

func mediaSetKey(s []MediaType) string {
	out := ""
	for _, m := range s {
		out += m.String() + ","
	}
	return out
}

// coversContentType reports whether accepts covers a request whose
// content-type is ct (nil meaning the request carries no body/no
// Content-Type).
func coversContentType(accepts []MediaType, ct *MediaType) bool {
	if len(accepts) == 0 {
		return true
	}
	if ct == nil {
		return false
	}
	for _, a := range accepts {
		if compatible(a, *ct) {
			return true
		}
	}
	return false
}
