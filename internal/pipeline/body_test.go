package pipeline_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinanderssondotcom/nomagichttp/internal/kind"
	"github.com/martinanderssondotcom/nomagichttp/internal/pipeline"
)

type fakeReadCloser struct {
	chunks [][]byte
	closed bool
}

func (f *fakeReadCloser) Read(p []byte) (int, error) {
	if len(f.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, f.chunks[0])
	f.chunks[0] = f.chunks[0][n:]
	if len(f.chunks[0]) == 0 {
		f.chunks = f.chunks[1:]
	}
	return n, nil
}

func (f *fakeReadCloser) Close() error { f.closed = true; return nil }

func TestRequestBodyYieldsAllChunksThenEOF(t *testing.T) {
	src := &fakeReadCloser{chunks: [][]byte{[]byte("hello "), []byte("world")}}
	b := pipeline.NewRequestBody(src, nil, 0)

	got, err := io.ReadAll(b)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
}

func TestRequestBodyCloseIsIdempotentAndClosesSource(t *testing.T) {
	src := &fakeReadCloser{chunks: [][]byte{[]byte("x")}}
	b := pipeline.NewRequestBody(src, nil, 0)

	require.NoError(t, b.Close())
	assert.True(t, src.closed)
	require.NoError(t, b.Close())

	n, err := b.Read(make([]byte, 4))
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestErrorBodyAlwaysFails(t *testing.T) {
	sentinel := kind.New(kind.Internal, nil, "boom")
	b := pipeline.NewErrorBody(sentinel)
	_, err := b.Read(make([]byte, 1))
	assert.Same(t, sentinel, err)
	assert.NoError(t, b.Close())
}
