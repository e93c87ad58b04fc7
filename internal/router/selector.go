package router

import (
	"github.com/martinanderssondotcom/nomagichttp/internal/kind"
)

// Select picks the single handler among candidates that best matches
// method, the request's content-type (nil if no body), and the client's
// ranked Accept media ranges (spec §4.E):
//  1. filter by method
//  2. filter by content-type coverage
//  3. rank survivors by the specificity/q of the best Accept entry each
//     can satisfy via its Produces set
//
// No survivors after (1)/(2) yields NoHandlerFound. A tie for the best
// rank after (3) yields AmbiguousHandler.
func Select(candidates []*Handler, method string, contentType *MediaType, accept []MediaType) (*Handler, error) {
	var byMethod []*Handler
	for _, h := range candidates {
		if h.Method == method {
			byMethod = append(byMethod, h)
		}
	}
	if len(byMethod) == 0 {
		return nil, kind.New(kind.NoHandlerFound, nil, "no handler registered for method %s", method)
	}

	var byContentType []*Handler
	for _, h := range byMethod {
		if coversContentType(h.Accepts, contentType) {
			byContentType = append(byContentType, h)
		}
	}
	if len(byContentType) == 0 {
		return nil, kind.New(kind.NoHandlerFound, nil, "no handler for method %s accepts the request content-type", method)
	}

	if len(byContentType) == 1 {
		return byContentType[0], nil
	}

	effectiveAccept := accept
	if len(effectiveAccept) == 0 {
		effectiveAccept = []MediaType{{Type: "*", Subtype: "*", Q: 1}}
	}

	var best *Handler
	var bestRank matchRank
	ambiguous := false

	for _, h := range byContentType {
		rank, ok := handlerRank(h, effectiveAccept)
		if !ok {
			continue
		}
		switch {
		case best == nil || better(rank, bestRank):
			best = h
			bestRank = rank
			ambiguous = false
		case rank == bestRank:
			ambiguous = true
		}
	}

	if best == nil {
		return nil, kind.New(kind.NoHandlerFound, nil, "no handler for method %s produces an acceptable media type", method)
	}
	if ambiguous {
		return nil, kind.New(kind.AmbiguousHandler, nil, "multiple handlers for method %s tie on content negotiation", method)
	}
	return best, nil
}

// handlerRank returns the best (specificity, q) a handler can achieve
// against accept, across its Produces set. A handler with an empty
// Produces set always matches at the top tier (it does not participate
// in negotiation).
func handlerRank(h *Handler, accept []MediaType) (matchRank, bool) {
	if len(h.Produces) == 0 {
		return matchRank{tier: 3, q: 1}, true
	}
	var best matchRank
	found := false
	for _, p := range h.Produces {
		r, ok := bestMatch(p, accept)
		if ok && (!found || better(r, best)) {
			best = r
			found = true
		}
	}
	return best, found
}
