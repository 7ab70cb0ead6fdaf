package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/JakeFAU/crawlguard/internal/clock"
)

// Listen opens a TCP listener with SO_REUSEPORT set so every worker in the
// pool can bind the same port and let the kernel spread connections across
// them. A bind that fails because the address is in use is retried forever at
// a fixed interval: during a rolling restart the previous holder will release
// the port eventually. Other errors return immediately.
func Listen(ctx context.Context, addr string, retryDelay time.Duration, clk clock.Clock, logger *zap.Logger) (net.Listener, error) {
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	lc := net.ListenConfig{Control: reusePort}
	for {
		ln, err := lc.Listen(ctx, "tcp", addr)
		if err == nil {
			logger.Info("listening", zap.String("addr", addr))
			return ln, nil
		}
		if !errors.Is(err, unix.EADDRINUSE) {
			return nil, fmt.Errorf("listen on %s: %w", addr, err)
		}
		logger.Warn("port in use, retrying",
			zap.String("addr", addr),
			zap.Duration("retry_delay", retryDelay),
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("listen on %s: %w", addr, ctx.Err())
		case <-clk.After(retryDelay):
		}
	}
}

func reusePort(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return fmt.Errorf("control socket: %w", err)
	}
	if sockErr != nil {
		return fmt.Errorf("set SO_REUSEPORT: %w", sockErr)
	}
	return nil
}
