package kind_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinanderssondotcom/nomagichttp/internal/kind"
)

func TestOfUnwrapsToNearestKindError(t *testing.T) {
	root := kind.New(kind.NoRouteFound, nil, "no route for /x")
	wrapped := fmt.Errorf("completion failed: %w", root) // simulates a completion-style carrier

	got := kind.Of(wrapped)
	require.NotNil(t, got)
	assert.Equal(t, kind.NoRouteFound, got.K)
}

func TestOfOnPlainErrorBecomesInternal(t *testing.T) {
	got := kind.Of(errors.New("boom"))
	require.NotNil(t, got)
	assert.Equal(t, kind.Internal, got.K)
}

func TestOfOnNilReturnsNil(t *testing.T) {
	assert.Nil(t, kind.Of(nil))
}

func TestSuppressAppendsTrailAndIgnoresSelf(t *testing.T) {
	a := kind.New(kind.HeadParse, nil, "a")
	b := kind.New(kind.HeadParse, nil, "b")

	got := kind.Suppress(b, a)
	require.Same(t, b, got)
	require.Len(t, got.Suppressed(), 1)
	assert.Same(t, a, got.Suppressed()[0])

	// suppressing with itself is a no-op
	got2 := kind.Suppress(b, b)
	assert.Len(t, got2.Suppressed(), 1)
}

func TestWithHelpersChain(t *testing.T) {
	e := kind.New(kind.ResponseRejected, nil, "rejected").
		WithReason(kind.AlreadyFinal).
		WithFault(kind.FaultApplication)
	assert.Equal(t, kind.AlreadyFinal, e.Reason)
	assert.Equal(t, kind.FaultApplication, e.Fault)
}

func TestKindStringTable(t *testing.T) {
	cases := map[kind.Kind]string{
		kind.HeadParse:         "HeadParse",
		kind.HTTPVersionTooOld: "HttpVersionTooOld",
		kind.NoHandlerFound:    "NoHandlerFound",
		kind.Internal:          "Internal",
	}
	for k, want := range cases {
		assert.Equal(t, want, k.String())
	}
}
