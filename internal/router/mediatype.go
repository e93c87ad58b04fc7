package router

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MediaType is a parsed "type/subtype[;param=value...]" media range, with
// an optional quality value used only for Accept header entries (spec
// §4.E content negotiation).
type MediaType struct {
	Type    string
	Subtype string
	Params  map[string]string
	Q       float64
}

// String renders the canonical "type/subtype" form, ignoring Q and
// params — used for produces-set matching, not wire serialization.
func (m MediaType) String() string {
	return m.Type + "/" + m.Subtype
}

// ParseContentType parses a single "type/subtype[;k=v...]" value, as
// found in a request's Content-Type header. Wildcards are not legal here
// (a concrete content-type names exactly one type).
func ParseContentType(raw string) (MediaType, error) {
	mt, _, err := parseOne(raw)
	if err != nil {
		return MediaType{}, err
	}
	if mt.Type == "*" || mt.Subtype == "*" {
		return MediaType{}, fmt.Errorf("router: Content-Type must not contain a wildcard: %q", raw)
	}
	return mt, nil
}

// ParseAccept parses a comma-separated Accept header value into its
// constituent media ranges, each with its q parameter extracted (default
// q=1.0 when absent).
func ParseAccept(raw string) ([]MediaType, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []MediaType
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		mt, q, err := parseOne(part)
		if err != nil {
			return nil, err
		}
		mt.Q = q
		out = append(out, mt)
	}
	return out, nil
}

func parseOne(raw string) (MediaType, float64, error) {
	fields := strings.Split(raw, ";")
	typeSub := strings.TrimSpace(fields[0])
	slash := strings.IndexByte(typeSub, '/')
	if slash <= 0 || slash == len(typeSub)-1 {
		return MediaType{}, 0, fmt.Errorf("router: malformed media type %q", raw)
	}
	mt := MediaType{
		Type:    strings.ToLower(typeSub[:slash]),
		Subtype: strings.ToLower(typeSub[slash+1:]),
		Params:  map[string]string{},
		Q:       1.0,
	}
	q := 1.0
	for _, p := range fields[1:] {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		eq := strings.IndexByte(p, '=')
		if eq <= 0 {
			return MediaType{}, 0, fmt.Errorf("router: malformed media type parameter %q", p)
		}
		k := strings.ToLower(strings.TrimSpace(p[:eq]))
		v := strings.Trim(strings.TrimSpace(p[eq+1:]), `"`)
		if k == "q" {
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return MediaType{}, 0, fmt.Errorf("router: malformed q value %q", v)
			}
			q = parsed
			continue
		}
		mt.Params[k] = v
	}
	return mt, q, nil
}

// specificity ranks an Accept media range per spec §4.E: an exact match
// ranks above a subtype wildcard ("type/*"), which ranks above a type
// wildcard ("*/subtype"), which ranks above the universal "*/*".
func specificity(accept MediaType) int {
	switch {
	case accept.Type != "*" && accept.Subtype != "*":
		return 3
	case accept.Type != "*" && accept.Subtype == "*":
		return 2
	case accept.Type == "*" && accept.Subtype != "*":
		return 1
	default:
		return 0
	}
}

// compatible reports whether produce (a concrete media type, no
// wildcards) satisfies accept (possibly containing wildcards).
func compatible(accept, produce MediaType) bool {
	if accept.Type != "*" && accept.Type != produce.Type {
		return false
	}
	if accept.Subtype != "*" && accept.Subtype != produce.Subtype {
		return false
	}
	return true
}

// bestMatch finds, among accept, the entry compatible with produce that
// ranks highest by (specificity, q). ok is false if none match.
func bestMatch(produce MediaType, accept []MediaType) (rank matchRank, ok bool) {
	var best matchRank
	found := false
	for _, a := range accept {
		if a.Q <= 0 {
			continue // q=0 means explicitly unacceptable
		}
		if !compatible(a, produce) {
			continue
		}
		r := matchRank{specificity(a), a.Q}
		if !found || better(r, best) {
			best = r
			found = true
		}
	}
	return best, found
}

type matchRank struct {
	tier int
	q    float64
}

func better(a, b matchRank) bool {
	if a.tier != b.tier {
		return a.tier > b.tier
	}
	return a.q > b.q
}

// sortedAcceptForLog returns accept sorted by rank, most preferred first.
// Nothing in the package calls it; Select's error messages do not list
// the Accept ranges.
func sortedAcceptForLog(accept []MediaType) []MediaType {
	out := append([]MediaType{}, accept...)
	sort.SliceStable(out, func(i, j int) bool {
		return better(matchRank{specificity(out[i]), out[i].Q}, matchRank{specificity(out[j]), out[j].Q})
	})
	return out
}
