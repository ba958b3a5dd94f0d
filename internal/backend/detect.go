package backend

import (
	"context"
	"net"
	"runtime"
	"strconv"
	"sync"
	"time"
)

// readyMarker is the server log line that announces readiness.
const readyMarker = "database system is ready to accept connections"

// pollInterval is how often the TCP-connect poller retries.
const pollInterval = 200 * time.Millisecond

// postConnectSettle is how long to wait after a successful TCP connect
// before declaring readiness, on platforms where a successful connect can
// precede wire-protocol readiness (spec.md §4.2 "Startup detection").
const postConnectSettle = 2 * time.Second

// needsPostConnectSettle reports whether this platform's TCP stack can
// accept a connection before the PostgreSQL protocol handler is actually
// listening on it.
func needsPostConnectSettle() bool {
	return runtime.GOOS == "darwin"
}

// waitReady blocks until the backend at host:port is accepting connections,
// detected by whichever of two concurrent mechanisms fires first: polling a
// TCP connect, or observing readyMarker in the captured boot output. It
// returns a *StartupError on timeout.
func waitReady(ctx context.Context, host string, port int, boot *ringBuffer, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan struct{})
	var once sync.Once
	signalReady := func() { once.Do(func() { close(done) }) }

	go pollTCPConnect(ctx, host, port, signalReady)
	go scanLogForReady(ctx, boot, signalReady)

	select {
	case <-done:
		if needsPostConnectSettle() {
			time.Sleep(postConnectSettle)
		}
		return nil
	case <-ctx.Done():
		return &StartupError{Timeout: timeout, LogTail: string(boot.Tail())}
	}
}

func pollTCPConnect(ctx context.Context, host string, port int, ready func()) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn, err := net.DialTimeout("tcp", addr, pollInterval)
			if err == nil {
				conn.Close()
				ready()
				return
			}
		}
	}
}

func scanLogForReady(ctx context.Context, boot *ringBuffer, ready func()) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if boot.Contains(readyMarker) {
				ready()
				return
			}
		}
	}
}
