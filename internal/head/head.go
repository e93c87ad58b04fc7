// Package head implements the incremental request-head parser (spec
// §4.C): method, request target, HTTP version, and headers, up to a
// blank line, bounded by a byte cap and a read deadline.
package head

import (
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/martinanderssondotcom/nomagichttp/internal/httpx"
	"github.com/martinanderssondotcom/nomagichttp/internal/kind"
	"github.com/martinanderssondotcom/nomagichttp/internal/netx"
)

// Head is the parsed request-line plus headers.
type Head struct {
	Method     string
	Target     string
	ProtoMajor int
	ProtoMinor int
	Header     httpx.Header
}

// Limits bounds the parser.
type Limits struct {
	// MaxBytes caps the total bytes (request line + headers, including
	// line terminators) parsed before the blank line is found.
	MaxBytes int
}

// ErrConnectionClosed is returned when the peer closed the connection
// before sending any bytes of a new request — the orchestrator treats
// this as the end of the connection (no response, close the connection)
// rather than a parse failure.
var ErrConnectionClosed = errors.New("head: connection closed before request")

// deadliner is the subset of net.Conn the parser needs to enforce
// HeadTimeout (spec §4.C, §5 "Head timeout").
type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// Parser incrementally parses request heads off a single connection. It
// is restartable: calling Parse again after a successful parse begins
// reading the next request head from wherever the underlying reader left
// off, which is what makes persistent (keep-alive) connections work.
type Parser struct {
	r       *netx.CRLFFastReader
	dl      deadliner
	limits  Limits
	timeout time.Duration
}

// New creates a Parser reading from r (wrapped with a CRLF line reader)
// and enforcing timeout as an idle-read deadline via dl, when timeout > 0.
func New(r io.Reader, dl deadliner, limits Limits, timeout time.Duration) *Parser {
	return &Parser{r: netx.NewCRLFFastReader(r), dl: dl, limits: limits, timeout: timeout}
}

// BodyReader exposes the stream positioned immediately after the last
// parsed head, for framing and reading the request body: the parser's
// internal buffer may already hold body bytes read ahead of the blank
// line, so body reads must continue from here rather than from the raw
// connection directly.
func (p *Parser) BodyReader() io.Reader { return p.r.Reader() }

// Parse reads one request head. See spec §4.C for the error taxonomy.
func (p *Parser) Parse() (*Head, error) {
	if p.timeout > 0 && p.dl != nil {
		_ = p.dl.SetReadDeadline(time.Now().Add(p.timeout))
		defer func() { _ = p.dl.SetReadDeadline(time.Time{}) }()
	}

	total := 0
	max := p.limits.MaxBytes
	if max <= 0 {
		max = 1 << 30 // effectively unbounded if misconfigured; caller should always set a real cap
	}

	line, firstLine, err := p.readLine(max)
	if err != nil {
		if firstLine && errors.Is(err, io.EOF) {
			return nil, ErrConnectionClosed
		}
		return nil, err
	}
	total += len(line) + 2
	if total > max {
		return nil, kind.New(kind.HeadTooLarge, nil, "request head exceeds %d bytes", max)
	}
	if len(line) == 0 {
		return nil, kind.New(kind.HeadParse, nil, "empty request line")
	}

	method, target, major, minor, err := parseRequestLine(string(line))
	if err != nil {
		return nil, kind.New(kind.HeadParse, err, "malformed request line")
	}

	hdr := httpx.Header{}
	for {
		hline, _, err := p.readLine(max)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, kind.New(kind.HeadParse, err, "connection closed before the end of the request head")
			}
			return nil, err
		}
		total += len(hline) + 2
		if total > max {
			return nil, kind.New(kind.HeadTooLarge, nil, "request head exceeds %d bytes", max)
		}
		if len(hline) == 0 {
			break
		}
		name, value, err := parseHeaderLine(string(hline))
		if err != nil {
			return nil, kind.New(kind.BadHeader, err, "malformed header line")
		}
		hdr.Add(name, value)
	}

	if err := httpx.ValidateHeader(hdr, httpx.HeaderLimits{}); err != nil {
		return nil, err
	}

	return &Head{Method: method, Target: target, ProtoMajor: major, ProtoMinor: minor, Header: hdr}, nil
}

// readLine wraps netx's reader, classifying its errors into the kind
// taxonomy. The firstLine result is true only when the stream ended
// cleanly at a line boundary (io.EOF with no partial line); a close in the
// middle of a line is already reported as HeadParse. Parse turns a clean
// EOF on the request line into ErrConnectionClosed and one on a header
// line into HeadParse.
func (p *Parser) readLine(max int) (line []byte, firstLine bool, err error) {
	// netx enforces its own internal buffer bound via ErrPeekBeyondCap on
	// Peek, but ReadLine enforces the max we pass directly.
	b, _, rerr := p.r.ReadLine(max)
	if rerr == nil {
		return b, false, nil
	}
	switch {
	case errors.Is(rerr, netx.ErrLineTooLong):
		return nil, false, kind.New(kind.HeadTooLarge, nil, "request head exceeds %d bytes", max)
	case isTimeout(rerr):
		return nil, false, kind.New(kind.HeadTimeout, rerr, "no byte received within head timeout")
	case errors.Is(rerr, io.EOF):
		if len(b) == 0 {
			return nil, true, io.EOF
		}
		return nil, false, kind.New(kind.HeadParse, rerr, "connection closed mid-line")
	default:
		return nil, false, kind.New(kind.HeadParse, rerr, "failed reading request head")
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// parseRequestLine parses "METHOD SP Request-URI SP HTTP/major.minor".
func parseRequestLine(line string) (method, target string, major, minor int, err error) {
	parts := strings.Fields(line)
	if len(parts) != 3 {
		return "", "", 0, 0, errors.New("expected 3 space-separated fields")
	}
	method, target, proto := parts[0], parts[1], parts[2]

	if method == "" {
		return "", "", 0, 0, errors.New("empty method")
	}
	for i := 0; i < len(method); i++ {
		c := method[i]
		if c < 'A' || c > 'Z' {
			return "", "", 0, 0, errors.New("method must be uppercase token characters")
		}
	}

	if !strings.HasPrefix(proto, "HTTP/") {
		return "", "", 0, 0, errors.New("missing HTTP/ prefix")
	}
	ver := strings.TrimPrefix(proto, "HTTP/")
	dot := strings.IndexByte(ver, '.')
	if dot < 0 {
		return "", "", 0, 0, errors.New("missing version minor")
	}
	maj, majErr := strconv.Atoi(ver[:dot])
	min, minErr := strconv.Atoi(ver[dot+1:])
	if majErr != nil || minErr != nil || maj < 0 || min < 0 {
		return "", "", 0, 0, errors.New("invalid version numbers")
	}
	return method, target, maj, min, nil
}

// parseHeaderLine parses "Name: value", rejecting whitespace between the
// field name and the colon (RFC 7230 §3.2.4) and obsolete line folding.
func parseHeaderLine(line string) (name, value string, err error) {
	if line[0] == ' ' || line[0] == '\t' {
		return "", "", errors.New("obsolete line folding is not supported")
	}
	i := strings.IndexByte(line, ':')
	if i <= 0 {
		return "", "", errors.New("missing ':' in header line")
	}
	name = line[:i]
	if strings.ContainsAny(name, " \t") {
		return "", "", errors.New("whitespace between field-name and colon")
	}
	value = strings.TrimSpace(line[i+1:])
	return name, value, nil
}
