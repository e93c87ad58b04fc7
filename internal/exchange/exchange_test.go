package exchange_test

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinanderssondotcom/nomagichttp/internal/contract"
	"github.com/martinanderssondotcom/nomagichttp/internal/exchange"
	"github.com/martinanderssondotcom/nomagichttp/internal/httpx"
	"github.com/martinanderssondotcom/nomagichttp/internal/message"
	"github.com/martinanderssondotcom/nomagichttp/internal/recovery"
	"github.com/martinanderssondotcom/nomagichttp/internal/router"
)

func newTestRegistry(t *testing.T) *router.Registry {
	t.Helper()
	reg := router.NewRegistry()
	_, err := reg.Add("/hello", &router.Handler{
		Method: "GET",
		Call: func(ctx context.Context, req *message.Request, ch contract.ResponseChannel) error {
			h := httpx.Header{}
			h.Set("Content-Length", "2")
			resp, err := message.NewResponse(200, "OK", h, message.NewStaticBody([]byte("hi")))
			if err != nil {
				return err
			}
			return ch.Write(ctx, resp)
		},
	})
	require.NoError(t, err)

	_, err = reg.Add("/echo", &router.Handler{
		Method: "POST",
		Call: func(ctx context.Context, req *message.Request, ch contract.ResponseChannel) error {
			body, err := readAllBody(req)
			if err != nil {
				return err
			}
			h := httpx.Header{}
			resp, err := message.NewResponse(200, "OK", h, message.NewStaticBody(body))
			if err != nil {
				return err
			}
			return ch.Write(ctx, resp)
		},
	})
	require.NoError(t, err)
	return reg
}

func readAllBody(req *message.Request) ([]byte, error) {
	var out []byte
	buf := make([]byte, 64)
	for {
		n, err := req.Body().Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, err
		}
	}
}

func runExchange(t *testing.T, registry *router.Registry, raw string) (response string, closed bool) {
	t.Helper()
	server, client := net.Pipe()
	rec := recovery.New(recovery.Config{}, nil)
	loop := exchange.New(server, registry, rec, exchange.Config{MaxRequestHeadSize: 8000})

	done := make(chan struct{})
	go func() {
		loop.Run(context.Background())
		close(done)
	}()

	go func() {
		_, _ = client.Write([]byte(raw))
	}()

	reader := bufio.NewReader(client)
	buf := make([]byte, 4096)
	var total []byte
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		n, err := reader.Read(buf)
		total = append(total, buf[:n]...)
		if err != nil {
			break
		}
	}
	_ = client.Close()

	select {
	case <-done:
		closed = true
	case <-time.After(2 * time.Second):
		closed = false
	}
	return string(total), closed
}

func TestSimpleGetReturnsResponseAndCloses(t *testing.T) {
	reg := newTestRegistry(t)
	resp, closed := runExchange(t, reg, "GET /hello HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
	assert.Contains(t, resp, "200 OK")
	assert.Contains(t, resp, "hi")
	assert.True(t, closed)
}

func TestUnknownRouteReturns404(t *testing.T) {
	reg := newTestRegistry(t)
	resp, _ := runExchange(t, reg, "GET /nope HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
	assert.Contains(t, resp, "404")
}

func TestPostEchoesBody(t *testing.T) {
	reg := newTestRegistry(t)
	raw := "POST /echo HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\nConnection: close\r\n\r\nhello"
	resp, _ := runExchange(t, reg, raw)
	assert.Contains(t, resp, "200 OK")
	assert.Contains(t, resp, "hello")
}

func TestTraceWithBodyIsRejectedAsBadRequest(t *testing.T) {
	reg := newTestRegistry(t)
	raw := "TRACE /hello HTTP/1.1\r\nHost: x\r\nContent-Length: 3\r\nConnection: close\r\n\r\nabc"
	resp, _ := runExchange(t, reg, raw)
	assert.Contains(t, resp, "400")
}

func TestHttpVersionTooNewMaps505(t *testing.T) {
	reg := newTestRegistry(t)
	raw := "GET /hello HTTP/2.0\r\nHost: x\r\n\r\n"
	resp, _ := runExchange(t, reg, raw)
	assert.Contains(t, resp, "505")
}
