package workerpool_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinanderssondotcom/nomagichttp/internal/workerpool"
)

func TestGoBoundsConcurrency(t *testing.T) {
	p := workerpool.New(2)
	var active, maxActive int32
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		err := p.Go(context.Background(), func() {
			defer wg.Done()
			n := atomic.AddInt32(&active, 1)
			mu.Lock()
			if n > maxActive {
				maxActive = n
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		})
		require.NoError(t, err)
	}
	wg.Wait()
	assert.LessOrEqual(t, maxActive, int32(2))
}

func TestGoRespectsContextCancellation(t *testing.T) {
	p := workerpool.New(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Hold the only slot so Go must block on Acquire and observe ctx.Done.
	release := make(chan struct{})
	require.NoError(t, p.Go(context.Background(), func() { <-release }))

	err := p.Go(ctx, func() {})
	assert.Error(t, err)
	close(release)
}

func TestGroupCollectsFirstError(t *testing.T) {
	p := workerpool.New(4)
	eg, ctx := p.Group(context.Background())

	p.GoInGroup(eg, ctx, func() error { return nil })
	p.GoInGroup(eg, ctx, func() error { return assertErr })

	err := eg.Wait()
	assert.ErrorIs(t, err, assertErr)
}

var assertErr = errAssert("boom")

type errAssert string

func (e errAssert) Error() string { return string(e) }
