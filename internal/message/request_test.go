package message_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinanderssondotcom/nomagichttp/internal/httpx"
	"github.com/martinanderssondotcom/nomagichttp/internal/message"
)

func TestRequestPathParamLookup(t *testing.T) {
	params := []message.ParamBinding{{Name: "id", Raw: "a%2Fb", Decoded: "a/b"}}
	r := message.NewRequest(uuid.New(), "GET", "/x/a%2Fb", 1, 1, httpx.Header{}, params, "", nil)

	v, ok := r.PathParam("id")
	require.True(t, ok)
	assert.Equal(t, "a/b", v)

	raw, ok := r.PathParamRaw("id")
	require.True(t, ok)
	assert.Equal(t, "a%2Fb", raw)

	_, ok = r.PathParam("missing")
	assert.False(t, ok)
}

func TestRequestQueryPreservesOrderAndMultiValues(t *testing.T) {
	r := message.NewRequest(uuid.New(), "GET", "/x", 1, 1, httpx.Header{}, nil, "b=2&a=1&b=3", nil)

	assert.Equal(t, []string{"2", "3"}, r.Query("b"))
	assert.Equal(t, []string{"1"}, r.Query("a"))
	assert.Nil(t, r.Query("missing"))
}

func TestRequestQueryDecodesPercentEncoding(t *testing.T) {
	r := message.NewRequest(uuid.New(), "GET", "/x", 1, 1, httpx.Header{}, nil, "q=a%20b", nil)
	assert.Equal(t, []string{"a b"}, r.Query("q"))
	assert.Equal(t, []string{"a%20b"}, r.QueryRaw("q"))
}

type ctxKey struct{}

func TestWithContextReturnsDerivedCopy(t *testing.T) {
	r := message.NewRequest(uuid.New(), "GET", "/x", 1, 1, httpx.Header{}, nil, "", nil)
	ctx := context.WithValue(r.Context(), ctxKey{}, "v")
	r2 := r.WithContext(ctx)

	assert.NotSame(t, r, r2)
	assert.Equal(t, "v", r2.Context().Value(ctxKey{}))
	assert.Nil(t, r.Context().Value(ctxKey{}))
}
