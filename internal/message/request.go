// Package message implements the immutable Request/Response model (spec
// §3, §4.F): builders return derived copies, never mutate in place, and
// Response construction validates the invariants from §3 at build time.
package message

import (
	"context"
	"net/url"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/martinanderssondotcom/nomagichttp/internal/httpx"
)

// ParamBinding is one path-parameter capture: the raw (still
// percent-encoded, for catch-all this may contain internal slashes) and
// decoded values bound to a name.
type ParamBinding struct {
	Name    string
	Raw     string
	Decoded string
}

// QueryValues is an ordered multi-value mapping of a single query key to
// its raw and percent-decoded values, preserving encounter order.
type QueryValues struct {
	Key     string
	Raw     []string
	Decoded []string
}

// Request is an immutable, per-exchange view built by the orchestrator
// after a successful head parse, whether or not a route then matches
// (spec §3 "Request"). It is never mutated after construction; WithX
// methods return a shallow-copied derivative.
type Request struct {
	id            uuid.UUID
	method        string
	target        string
	protoMajor    int
	protoMinor    int
	header        httpx.Header
	pathParams    []ParamBinding
	query         []QueryValues
	body          BodyReader
	ctx           context.Context
}

// BodyReader is the lazy byte-chunk sequence backing a request body. The
// concrete implementation lives in internal/pipeline, wired over the
// transfer engine; message only needs the narrow surface the request
// facade exposes to handlers.
type BodyReader interface {
	// Read pulls up to len(p) bytes. Semantics mirror io.Reader.
	Read(p []byte) (int, error)
	// Close releases any resources and cancels the underlying publisher
	// if it has not completed.
	Close() error
}

// NewRequest builds the immutable Request facade. params and query are
// copied defensively so later mutation of caller-owned slices can't leak
// through.
func NewRequest(id uuid.UUID, method, target string, major, minor int, header httpx.Header, params []ParamBinding, rawQuery string, body BodyReader) *Request {
	r := &Request{
		id:         id,
		method:     method,
		target:     target,
		protoMajor: major,
		protoMinor: minor,
		header:     header,
		pathParams: append([]ParamBinding{}, params...),
		query:      parseQuery(rawQuery),
		body:       body,
		ctx:        context.Background(),
	}
	return r
}

// ID returns the correlation id assigned to this exchange.
func (r *Request) ID() uuid.UUID { return r.id }

// Method returns the request method verbatim (case-sensitive, spec §3).
func (r *Request) Method() string { return r.method }

// Target returns the unparsed request-target.
func (r *Request) Target() string { return r.target }

// ProtoMajor and ProtoMinor return the parsed HTTP version.
func (r *Request) ProtoMajor() int { return r.protoMajor }
func (r *Request) ProtoMinor() int { return r.protoMinor }

// Header returns the multi-valued, case-insensitively-keyed request
// headers; values of one name keep their order, the order across names
// is not kept. The returned value must not be mutated by callers.
func (r *Request) Header() httpx.Header { return r.header }

// PathParam returns the decoded value of a path parameter, and whether it
// was present.
func (r *Request) PathParam(name string) (string, bool) {
	for _, p := range r.pathParams {
		if p.Name == name {
			return p.Decoded, true
		}
	}
	return "", false
}

// PathParamRaw returns the raw (still percent-encoded) value of a path
// parameter, and whether it was present.
func (r *Request) PathParamRaw(name string) (string, bool) {
	for _, p := range r.pathParams {
		if p.Name == name {
			return p.Raw, true
		}
	}
	return "", false
}

// PathParams returns every bound path parameter, in declaration order.
func (r *Request) PathParams() []ParamBinding {
	return append([]ParamBinding{}, r.pathParams...)
}

// Query returns the decoded values for key, in encounter order.
func (r *Request) Query(key string) []string {
	for _, q := range r.query {
		if q.Key == key {
			return append([]string{}, q.Decoded...)
		}
	}
	return nil
}

// QueryRaw returns the raw (percent-encoded) values for key.
func (r *Request) QueryRaw(key string) []string {
	for _, q := range r.query {
		if q.Key == key {
			return append([]string{}, q.Raw...)
		}
	}
	return nil
}

// Body returns the lazy body handle. It is observable by at most one
// subscriber per spec §3; callers that never read it leave it for
// prepare-for-new-exchange to discard.
func (r *Request) Body() BodyReader { return r.body }

// Context returns the request's context, defaulting to Background.
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// WithContext returns a shallow copy of r with its context replaced.
func (r *Request) WithContext(ctx context.Context) *Request {
	cp := *r
	cp.ctx = ctx
	return &cp
}

// parseQuery decodes a raw query string into ordered multi-valued
// key/value pairs, preserving first-seen key order (spec §3 "query
// parameters ... ordered multi-mapping").
func parseQuery(raw string) []QueryValues {
	if raw == "" {
		return nil
	}
	order := []string{}
	index := map[string]int{}
	var out []QueryValues

	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		var rawKey, rawVal string
		if eq := strings.IndexByte(pair, '='); eq >= 0 {
			rawKey, rawVal = pair[:eq], pair[eq+1:]
		} else {
			rawKey = pair
		}
		decKey, err := url.QueryUnescape(rawKey)
		if err != nil {
			decKey = rawKey
		}
		decVal, err := url.QueryUnescape(rawVal)
		if err != nil {
			decVal = rawVal
		}

		i, ok := index[decKey]
		if !ok {
			i = len(out)
			index[decKey] = i
			order = append(order, decKey)
			out = append(out, QueryValues{Key: decKey})
		}
		out[i].Raw = append(out[i].Raw, rawVal)
		out[i].Decoded = append(out[i].Decoded, decVal)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return indexOf(order, out[i].Key) < indexOf(order, out[j].Key)
	})
	return out
}

func indexOf(s []string, v string) int {
	for i, e := range s {
		if e == v {
			return i
		}
	}
	return -1
}
