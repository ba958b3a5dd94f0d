// Package session implements the Proxy Session (spec.md §4.5): setup
// (provisioning + backend dial + StartupMessage replay) and the
// steady-state bidirectional splice between a client socket and a backend
// socket.
package session

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"

	"pgfrontdoor/pkg/logger"
)

// Provisioner ensures a database exists before a session is allowed to
// proceed. *provision.Provisioner satisfies this.
type Provisioner interface {
	Ensure(ctx context.Context, name string) error
}

// BackendDialer resolves and dials the backend a session should connect to.
// internal/frontdoor's backendDialer adapts *backend.Supervisor to it.
type BackendDialer interface {
	Dial(ctx context.Context) (net.Conn, error)
}

// Session owns one proxied client connection for its entire lifetime: setup,
// splice, and cleanup.
type Session struct {
	client   net.Conn
	dialer   BackendDialer
	provider Provisioner

	database string
	raw      []byte // the original StartupMessage bytes, replayed unmodified
}

// New constructs a Session for an already-decoded StandardStartup. database
// and raw come from pgwire.Descriptor.
func New(client net.Conn, dialer BackendDialer, provider Provisioner, database string, raw []byte) *Session {
	return &Session{client: client, dialer: dialer, provider: provider, database: database, raw: raw}
}

// Run executes setup then splices until either side closes. It always closes
// the client connection before returning. The returned error, if any, is one
// of ProvisionError, DialError, or PeerError; callers log and discard it.
func (s *Session) Run(ctx context.Context) error {
	defer s.client.Close()

	if err := s.provider.Ensure(ctx, s.database); err != nil {
		return &ProvisionError{Database: s.database, Err: err}
	}

	backendConn, err := s.dialer.Dial(ctx)
	if err != nil {
		return &DialError{Addr: s.database, Err: err}
	}
	defer backendConn.Close()

	if _, err := backendConn.Write(s.raw); err != nil {
		return &DialError{Addr: s.database, Err: err}
	}

	return s.splice(backendConn)
}

// splice runs the two directions concurrently and returns the first
// non-benign error observed, if any (spec.md §4.5 "Steady-state splicing").
//
// Each direction is a blocking io.Copy: net.Conn.Write does not return until
// the full slice is written (or an error occurs), so a short write on the
// peer transitively blocks the reader on the source side. That is the
// "pending buffer + pause" behavior spec.md §9 describes, realized for free
// by blocking sockets instead of a manual buffer/epoll state machine.
func (s *Session) splice(backendConn net.Conn) error {
	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := io.Copy(backendConn, s.client)
		closeWrite(backendConn)
		errs <- wrapPeerErr(s.database, "client->backend", err)
	}()
	go func() {
		defer wg.Done()
		_, err := io.Copy(s.client, backendConn)
		closeWrite(s.client)
		errs <- wrapPeerErr(s.database, "backend->client", err)
	}()

	wg.Wait()
	close(errs)

	var first error
	for err := range errs {
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}

// closeWrite half-closes conn's write side, if it supports it, so the peer
// observes EOF on its read without tearing down the other direction, which
// may still be draining.
func closeWrite(conn net.Conn) {
	type writeCloser interface {
		CloseWrite() error
	}
	if wc, ok := conn.(writeCloser); ok {
		_ = wc.CloseWrite()
	}
}

// wrapPeerErr turns a non-benign io.Copy error into a *PeerError (spec.md §7),
// treating EOF and peer close/reset as benign and reporting nil for them.
func wrapPeerErr(database, direction string, err error) error {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection reset by peer") || strings.Contains(msg, "broken pipe") {
		return nil
	}
	return &PeerError{Database: database, Direction: direction, Err: err}
}

// LogOutcome logs a session's terminal error, if any, at error level with the
// database name, per spec.md §7.
func LogOutcome(database string, err error) {
	if err == nil {
		return
	}
	logger.Error("session[%s]: %v", database, err)
}
