package recovery_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinanderssondotcom/nomagichttp/internal/contract"
	"github.com/martinanderssondotcom/nomagichttp/internal/kind"
	"github.com/martinanderssondotcom/nomagichttp/internal/message"
	"github.com/martinanderssondotcom/nomagichttp/internal/recovery"
)

type fakeChannel struct {
	writes []*message.Response
}

func (f *fakeChannel) Write(_ context.Context, resp *message.Response) error {
	f.writes = append(f.writes, resp)
	return nil
}

func TestDefaultHandlerMapsNoRouteFoundTo404(t *testing.T) {
	ch := &fakeChannel{}
	c := recovery.New(recovery.Config{}, nil)
	err := c.Handle(context.Background(), kind.New(kind.NoRouteFound, nil, "x"), nil, ch)
	require.NoError(t, err)
	require.Len(t, ch.writes, 1)
	assert.Equal(t, 404, ch.writes[0].StatusCode())
}

func TestEndOfStreamProducesNoResponse(t *testing.T) {
	ch := &fakeChannel{}
	c := recovery.New(recovery.Config{}, nil)
	err := c.Handle(context.Background(), kind.New(kind.EndOfStream, nil, "x"), nil, ch)
	require.NoError(t, err)
	assert.Empty(t, ch.writes)
}

func TestFirstHandlerToReturnNilTerminatesChain(t *testing.T) {
	ch := &fakeChannel{}
	called := 0
	handler := func(ctx context.Context, err *kind.Error, req *message.Request, rc contract.ResponseChannel) error {
		called++
		return nil
	}
	c := recovery.New(recovery.Config{}, nil, handler)
	err := c.Handle(context.Background(), kind.New(kind.NoRouteFound, nil, "x"), nil, ch)
	require.NoError(t, err)
	assert.Equal(t, 1, called)
	assert.Empty(t, ch.writes, "application handler wrote nothing, so default never ran")
}

func TestHandlerOptOutByIdentityFallsThroughToDefault(t *testing.T) {
	ch := &fakeChannel{}
	var seen *kind.Error
	optOut := func(ctx context.Context, err *kind.Error, req *message.Request, rc contract.ResponseChannel) error {
		seen = err
		return err // re-throw same instance: opt out
	}
	c := recovery.New(recovery.Config{}, nil, optOut)
	src := kind.New(kind.NoRouteFound, nil, "x")
	err := c.Handle(context.Background(), src, nil, ch)
	require.NoError(t, err)
	assert.Same(t, src, seen)
	require.Len(t, ch.writes, 1)
	assert.Equal(t, 404, ch.writes[0].StatusCode())
}

func TestHandlerReturningDifferentErrorRestartsCycle(t *testing.T) {
	ch := &fakeChannel{}
	replacement := errors.New("boom")
	restarted := false

	first := func(ctx context.Context, err *kind.Error, req *message.Request, rc contract.ResponseChannel) error {
		if err.K == kind.NoRouteFound {
			return replacement
		}
		restarted = true
		return nil
	}
	c := recovery.New(recovery.Config{}, nil, first)
	err := c.Handle(context.Background(), kind.New(kind.NoRouteFound, nil, "x"), nil, ch)
	require.NoError(t, err)
	assert.True(t, restarted)
}

func TestAttemptCapFallsBackToDefault(t *testing.T) {
	ch := &fakeChannel{}
	calls := 0
	loopy := func(ctx context.Context, err *kind.Error, req *message.Request, rc contract.ResponseChannel) error {
		calls++
		return errors.New("keep going")
	}
	c := recovery.New(recovery.Config{MaxAttempts: 3}, nil, loopy)
	err := c.Handle(context.Background(), kind.New(kind.Internal, nil, "x"), nil, ch)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	require.Len(t, ch.writes, 1)
	assert.Equal(t, 500, ch.writes[0].StatusCode())
}

func TestIgnoreRejectedInterimSuppressesResponse(t *testing.T) {
	ch := &fakeChannel{}
	c := recovery.New(recovery.Config{IgnoreRejectedInterim: true}, nil)
	e := kind.New(kind.ResponseRejected, nil, "x").WithReason(kind.ProtocolNotSupported)
	err := c.Handle(context.Background(), e, nil, ch)
	require.NoError(t, err)
	assert.Empty(t, ch.writes)
}

func TestHeadTooLargeLogsAndMapsTo413(t *testing.T) {
	ch := &fakeChannel{}
	var logged string
	c := recovery.New(recovery.Config{}, func(k string, _ error) { logged = k })
	err := c.Handle(context.Background(), kind.New(kind.HeadTooLarge, nil, "x"), nil, ch)
	require.NoError(t, err)
	require.Len(t, ch.writes, 1)
	assert.Equal(t, 413, ch.writes[0].StatusCode())
	assert.Equal(t, "HeadTooLarge", logged)
}
