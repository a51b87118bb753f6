package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"

	"github.com/0xReLogic/recettes/internal/logging"
)

// ErrNoFreePort is returned when every port of the retry range is taken
var ErrNoFreePort = errors.New("no free port")

// Listen binds host:port. While the port is in use it moves on to the next
// one, trying at most attempts ports in total. Other bind errors are returned
// as they are.
func Listen(ctx context.Context, host string, port, attempts int) (net.Listener, error) {
	if attempts < 1 {
		attempts = 1
	}

	var lc net.ListenConfig
	var lastErr error
	for i := 0; i < attempts; i++ {
		p := port + i
		if p > 65535 {
			break
		}
		addr := net.JoinHostPort(host, strconv.Itoa(p))
		ln, err := lc.Listen(ctx, "tcp", addr)
		if err == nil {
			return ln, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("listen on %s: %w", addr, err)
		}
		lastErr = err
		logging.L().Warn().Int("port", p).Int("next_port", p+1).Msg("port in use, trying next port")
	}
	if lastErr == nil {
		return nil, fmt.Errorf("%w: port %d out of range", ErrNoFreePort, port)
	}
	return nil, fmt.Errorf("%w in %d..%d: %w", ErrNoFreePort, port, port+attempts-1, lastErr)
}
