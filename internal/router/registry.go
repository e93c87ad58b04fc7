// Package router implements the route registry and handler selector
// (spec §4.D, §4.E): a segmented trie keyed by static/named/catch-all
// path segments, and content-negotiation-based handler selection within
// a matched route.
package router

import (
	"errors"
	"strings"
	"sync"

	"github.com/martinanderssondotcom/nomagichttp/internal/kind"
)

// ErrRouteCollision is returned by Add when pattern's segment signature
// (sequence of static/named/catch-all shapes, with static literals
// compared by value) already occupies a tree position. Parameter names
// are not part of the signature — only position and shape are.
var ErrRouteCollision = errors.New("router: route collision")

// ErrHandlerCollision is returned by Add when two handlers within the
// same Add call share an identical (method, accepts, produces) key.
var ErrHandlerCollision = errors.New("router: handler collision")

// ErrCatchAllConflict is returned when a pattern would place a
// static/named segment alongside an existing catch-all child, or a
// catch-all alongside existing siblings, at the same tree position — a
// catch-all must be the sole child at its position (spec §4.D).
var ErrCatchAllConflict = errors.New("router: catch-all must be the only child at its position")

type registeredRoute struct {
	pattern  string
	segments []segment
	handlers []*Handler
}

// RouteID identifies a specific registered route value, for
// identity-based removal. It compares equal only to itself or a copy of
// itself — registering the same pattern again yields a different RouteID.
type RouteID struct {
	route *registeredRoute
}

type node struct {
	static   map[string]*node
	param    *node
	catchAll *node
	route    *registeredRoute
}

func newNode() *node { return &node{static: map[string]*node{}} }

// Registry is the concurrent-safe route trie. Lookups take a read lock;
// Add/Remove take a write lock. Per spec §4.D this biases toward cheap,
// non-blocking lookups under concurrent readers, accepting that a writer
// may briefly stall new lookups while it holds the lock.
type Registry struct {
	mu   sync.RWMutex
	root *node
}

// NewRegistry creates an empty route registry.
func NewRegistry() *Registry {
	return &Registry{root: newNode()}
}

// Add registers pattern with the given handlers as a single route. It
// fails with ErrHandlerCollision if two of the provided handlers share a
// (method, accepts, produces) key, with ErrRouteCollision if the
// pattern's segment signature is already occupied, or with
// ErrCatchAllConflict if the pattern's shape would violate the
// catch-all-is-sole-child invariant.
func (r *Registry) Add(pattern string, handlers ...*Handler) (RouteID, error) {
	segs, err := parsePattern(pattern)
	if err != nil {
		return RouteID{}, err
	}
	if err := checkHandlerCollisions(handlers); err != nil {
		return RouteID{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.root
	for _, s := range segs {
		switch s.kind {
		case segStatic:
			if n.catchAll != nil {
				return RouteID{}, ErrCatchAllConflict
			}
			child, ok := n.static[s.literal]
			if !ok {
				child = newNode()
				n.static[s.literal] = child
			}
			n = child
		case segNamed:
			if n.catchAll != nil {
				return RouteID{}, ErrCatchAllConflict
			}
			if n.param == nil {
				n.param = newNode()
			}
			n = n.param
		case segCatchAll:
			if len(n.static) > 0 || n.param != nil {
				return RouteID{}, ErrCatchAllConflict
			}
			if n.catchAll == nil {
				n.catchAll = newNode()
			}
			n = n.catchAll
		}
	}

	if n.route != nil {
		return RouteID{}, ErrRouteCollision
	}

	rr := &registeredRoute{
		pattern:  pattern,
		segments: segs,
		handlers: append([]*Handler{}, handlers...),
	}
	n.route = rr
	return RouteID{route: rr}, nil
}

func checkHandlerCollisions(handlers []*Handler) error {
	seen := map[string]bool{}
	for _, h := range handlers {
		sig := h.signature()
		if seen[sig] {
			return ErrHandlerCollision
		}
		seen[sig] = true
	}
	return nil
}

// RemoveByPattern removes whatever route currently occupies pattern's
// position, regardless of which Add call created it. Reports whether a
// route was removed.
func (r *Registry) RemoveByPattern(pattern string) bool {
	segs, err := parsePattern(pattern)
	if err != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.walk(segs)
	if n == nil || n.route == nil {
		return false
	}
	n.route = nil
	return true
}

// RemoveByIdentity removes id's route only if it still occupies its
// original tree position — i.e. it has not since been replaced or
// already removed. Idempotent: a second call with the same id returns
// false.
func (r *Registry) RemoveByIdentity(id RouteID) bool {
	if id.route == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.walk(id.route.segments)
	if n == nil || n.route != id.route {
		return false
	}
	n.route = nil
	return true
}

func (r *Registry) walk(segs []segment) *node {
	n := r.root
	for _, s := range segs {
		switch s.kind {
		case segStatic:
			child, ok := n.static[s.literal]
			if !ok {
				return nil
			}
			n = child
		case segNamed:
			if n.param == nil {
				return nil
			}
			n = n.param
		case segCatchAll:
			if n.catchAll == nil {
				return nil
			}
			n = n.catchAll
		}
	}
	return n
}

// Match is a successful route lookup: the matched route's handlers, and
// the path parameters bound along the way.
type Match struct {
	Handlers []*Handler
	Params   []paramBinding
}

type paramBinding struct {
	Name    string
	Raw     string
	Decoded string
}

// Lookup normalizes rawPath and walks the trie, matching static segments
// first, then a named-parameter child, then a catch-all child (spec
// §4.D matching precedence). Returns kind.NoRouteFound if nothing
// matches.
func (r *Registry) Lookup(rawPath string) (*Match, error) {
	decoded, raw, normalized, err := Normalize(rawPath)
	if err != nil {
		return nil, kind.New(kind.HeadParse, err, "malformed request-target path %q", rawPath)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.root
	catchAllFrom := -1
	i := 0
	for ; i < len(decoded); i++ {
		if child, ok := n.static[decoded[i]]; ok {
			n = child
			continue
		}
		if n.param != nil {
			n = n.param
			continue
		}
		if n.catchAll != nil {
			catchAllFrom = i
			n = n.catchAll
			break
		}
		return nil, kind.New(kind.NoRouteFound, nil, "no route matches %s", normalized)
	}

	if n.route == nil {
		return nil, kind.New(kind.NoRouteFound, nil, "no route matches %s", normalized)
	}

	params := bindParams(n.route.segments, decoded, raw, catchAllFrom)
	return &Match{Handlers: n.route.handlers, Params: params}, nil
}

func bindParams(segs []segment, decoded, raw []string, catchAllFrom int) []paramBinding {
	var out []paramBinding
	for i, s := range segs {
		switch s.kind {
		case segNamed:
			out = append(out, paramBinding{Name: s.name, Raw: raw[i], Decoded: decoded[i]})
		case segCatchAll:
			start := i
			if catchAllFrom >= 0 {
				start = catchAllFrom
			}
			out = append(out, paramBinding{
				Name:    s.name,
				Raw:     strings.Join(raw[start:], "/"),
				Decoded: strings.Join(decoded[start:], "/"),
			})
		}
	}
	return out
}
