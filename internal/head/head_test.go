package head_test

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinanderssondotcom/nomagichttp/internal/head"
	"github.com/martinanderssondotcom/nomagichttp/internal/kind"
)

type noopDeadliner struct{}

func (noopDeadliner) SetReadDeadline(time.Time) error { return nil }

func TestParseSimpleHead(t *testing.T) {
	raw := "GET /hello HTTP/1.1\r\nHost: x\r\nAccept: text/plain\r\n\r\n"
	p := head.New(bytes.NewBufferString(raw), noopDeadliner{}, head.Limits{MaxBytes: 8000}, 0)

	h, err := p.Parse()
	require.NoError(t, err)
	assert.Equal(t, "GET", h.Method)
	assert.Equal(t, "/hello", h.Target)
	assert.Equal(t, 1, h.ProtoMajor)
	assert.Equal(t, 1, h.ProtoMinor)
	assert.Equal(t, "x", h.Header.Get("Host"))
	assert.Equal(t, "text/plain", h.Header.Get("Accept"))
}

func TestParseRestartableAcrossExchanges(t *testing.T) {
	raw := "GET /a HTTP/1.1\r\n\r\nGET /b HTTP/1.1\r\n\r\n"
	p := head.New(bytes.NewBufferString(raw), noopDeadliner{}, head.Limits{MaxBytes: 8000}, 0)

	h1, err := p.Parse()
	require.NoError(t, err)
	assert.Equal(t, "/a", h1.Target)

	h2, err := p.Parse()
	require.NoError(t, err)
	assert.Equal(t, "/b", h2.Target)
}

func TestHeadExactlyAtCapSucceeds(t *testing.T) {
	line := "GET / HTTP/1.1\r\n\r\n" // 18 bytes total
	p := head.New(bytes.NewBufferString(line), noopDeadliner{}, head.Limits{MaxBytes: len(line)}, 0)
	_, err := p.Parse()
	require.NoError(t, err)
}

func TestHeadOverCapFails(t *testing.T) {
	p := head.New(bytes.NewBufferString("AB"), noopDeadliner{}, head.Limits{MaxBytes: 1}, 0)
	_, err := p.Parse()
	require.Error(t, err)
	assert.Equal(t, kind.HeadTooLarge, kind.Of(err).K)
}

func TestMalformedRequestLine(t *testing.T) {
	p := head.New(bytes.NewBufferString("GET /only/two/fields\r\n\r\n"), noopDeadliner{}, head.Limits{MaxBytes: 8000}, 0)
	_, err := p.Parse()
	require.Error(t, err)
	assert.Equal(t, kind.HeadParse, kind.Of(err).K)
}

func TestBadHeaderWhitespaceBeforeColon(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nBad Name : v\r\n\r\n"
	p := head.New(bytes.NewBufferString(raw), noopDeadliner{}, head.Limits{MaxBytes: 8000}, 0)
	_, err := p.Parse()
	require.Error(t, err)
	assert.Equal(t, kind.BadHeader, kind.Of(err).K)
}

func TestConnectionClosedBeforeAnyBytes(t *testing.T) {
	p := head.New(bytes.NewBufferString(""), noopDeadliner{}, head.Limits{MaxBytes: 8000}, 0)
	_, err := p.Parse()
	require.ErrorIs(t, err, head.ErrConnectionClosed)
}

func TestHeadTimeout(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	p := head.New(server, server, head.Limits{MaxBytes: 8000}, 10*time.Millisecond)
	_, err := p.Parse()
	require.Error(t, err)
	assert.Equal(t, kind.HeadTimeout, kind.Of(err).K)
}
