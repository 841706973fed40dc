package backend

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStdioTransportOutlivesStartContext(t *testing.T) {
	transport := NewStdioTransport("cat", "cat", nil, nil)

	var closed atomic.Bool
	transport.SetHandlers(Handlers{
		OnClose: func(error) { closed.Store(true) },
	})

	// Startup contexts are short lived; cancelling one must not kill the
	// running subprocess.
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, transport.Start(ctx))
	cancel()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, closed.Load())

	require.NoError(t, transport.Close())
	require.Eventually(t, func() bool { return closed.Load() }, time.Second, time.Millisecond)
}

func TestStdioTransportStartTwice(t *testing.T) {
	transport := NewStdioTransport("cat", "cat", nil, nil)
	transport.SetHandlers(Handlers{})

	require.NoError(t, transport.Start(context.Background()))
	defer transport.Close()

	assert.Error(t, transport.Start(context.Background()))
}
