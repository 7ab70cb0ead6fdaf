package api

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlguard/internal/clock/system"
)

func TestListenBindsEphemeralPort(t *testing.T) {
	t.Parallel()

	ln, err := Listen(context.Background(), "127.0.0.1:0", time.Millisecond, system.New(), zap.NewNop())
	require.NoError(t, err)
	defer ln.Close()
	require.NotNil(t, ln.Addr())
}

func TestListenSharesPortAcrossListeners(t *testing.T) {
	t.Parallel()

	first, err := Listen(context.Background(), "127.0.0.1:0", time.Millisecond, system.New(), zap.NewNop())
	require.NoError(t, err)
	defer first.Close()

	port := first.Addr().(*net.TCPAddr).Port
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	// SO_REUSEPORT lets a second listener bind the exact same address.
	second, err := Listen(context.Background(), addr, time.Millisecond, system.New(), zap.NewNop())
	require.NoError(t, err)
	defer second.Close()
	require.Equal(t, addr, second.Addr().String())
}

func TestListenStopsWhenContextCanceled(t *testing.T) {
	t.Parallel()

	// Occupy a port without SO_REUSEPORT so rebinding keeps failing.
	plain, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer plain.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = Listen(ctx, plain.Addr().String(), time.Millisecond, system.New(), zap.NewNop())
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
