package router

import (
	"fmt"
	"strings"
)

type segKind int

const (
	segStatic segKind = iota
	segNamed
	segCatchAll
)

type segment struct {
	kind    segKind
	literal string // segStatic: the literal path segment
	name    string // segNamed / segCatchAll: the capture name
}

// parsePattern splits a route pattern such as "/users/:id/files/*rest"
// into its ordered segments. A catch-all segment, if present, must be
// the last one (spec §3 "Route").
func parsePattern(pattern string) ([]segment, error) {
	trimmed := strings.Trim(pattern, "/")
	if trimmed == "" {
		return nil, nil
	}
	parts := strings.Split(trimmed, "/")
	segs := make([]segment, 0, len(parts))
	for i, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("router: empty segment in pattern %q", pattern)
		}
		switch p[0] {
		case ':':
			name := p[1:]
			if name == "" {
				return nil, fmt.Errorf("router: named parameter missing a name in pattern %q", pattern)
			}
			segs = append(segs, segment{kind: segNamed, name: name})
		case '*':
			name := p[1:]
			if name == "" {
				return nil, fmt.Errorf("router: catch-all missing a name in pattern %q", pattern)
			}
			if i != len(parts)-1 {
				return nil, fmt.Errorf("router: catch-all must be the last segment in pattern %q", pattern)
			}
			segs = append(segs, segment{kind: segCatchAll, name: name})
		default:
			segs = append(segs, segment{kind: segStatic, literal: p})
		}
	}
	return segs, nil
}
